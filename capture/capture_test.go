package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/ardnew/carlink/config"
	"github.com/ardnew/carlink/dongle"
	"github.com/ardnew/carlink/pkg"
	"github.com/ardnew/carlink/protocol"
	"github.com/ardnew/carlink/usb"
)

// frame builds a header and body pair of IN records.
func frame(at time.Duration, t protocol.MessageType, body []byte) []Record {
	recs := []Record{{Direction: In, Elapsed: at, Data: protocol.BuildHeader(t, len(body))}}
	if len(body) > 0 {
		recs = append(recs, Record{Direction: In, Elapsed: at, Data: body})
	}
	return recs
}

// writeCapture encodes recs with their recorded timestamps.
func writeCapture(t *testing.T, recs []Record) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Unix(0, 0)
	w.start = base
	for _, rec := range recs {
		w.now = func() time.Time { return base.Add(rec.Elapsed) }
		if err := w.Write(rec.Direction, rec.Data); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// =============================================================================
// Writer and Reader Tests
// =============================================================================

func TestCapture_RoundTrip(t *testing.T) {
	var recs []Record
	recs = append(recs, Record{Direction: Out, Elapsed: 0, Data: protocol.Marshal(protocol.SendHeartBeat{})})
	recs = append(recs, frame(5*time.Millisecond, protocol.TypePlugged, []byte{3, 0, 0, 0})...)
	recs = append(recs, frame(9*time.Millisecond, protocol.TypeUnplugged, nil)...)

	got, err := ReadAll(bytes.NewReader(writeCapture(t, recs)))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(recs) {
		t.Fatalf("len = %d, want %d", len(got), len(recs))
	}
	for i := range recs {
		if got[i].Direction != recs[i].Direction || got[i].Elapsed != recs[i].Elapsed ||
			!bytes.Equal(got[i].Data, recs[i].Data) {
			t.Errorf("record %d = %+v, want %+v", i, got[i], recs[i])
		}
	}
}

func TestReader_Errors(t *testing.T) {
	if _, err := NewReader(bytes.NewReader([]byte("plain text"))); err == nil {
		t.Error("NewReader() accepted uncompressed data")
	}

	var buf bytes.Buffer
	enc, _ := zstd.NewWriter(&buf)
	enc.Write([]byte("NOTACAPTURE"))
	enc.Close()
	if _, err := NewReader(bytes.NewReader(buf.Bytes())); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("bad signature: error = %v", err)
	}

	buf.Reset()
	enc, _ = zstd.NewWriter(&buf)
	enc.Write([]byte(Signature))
	enc.Write([]byte{7, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	enc.Close()
	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.Next(); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("bad direction: error = %v", err)
	}
}

func TestReader_Truncated(t *testing.T) {
	var buf bytes.Buffer
	enc, _ := zstd.NewWriter(&buf)
	enc.Write([]byte(Signature))
	enc.Write([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 10, 0, 0, 0, 1, 2})
	enc.Close()

	recs, err := ReadAll(bytes.NewReader(buf.Bytes()))
	if err == nil || errors.Is(err, io.EOF) {
		t.Errorf("ReadAll() error = %v, want a truncation error", err)
	}
	if len(recs) != 0 {
		t.Errorf("records = %d", len(recs))
	}
}

// =============================================================================
// Frame Reassembly Tests
// =============================================================================

func TestFrames(t *testing.T) {
	var recs []Record
	recs = append(recs, frame(0, protocol.TypeSoftwareVersion, []byte("2024.02.02"))...)
	recs = append(recs, Record{Direction: Out, Data: []byte{1}})
	recs = append(recs, Record{Direction: In, Data: []byte{0xde, 0xad}})
	recs = append(recs, frame(0, 0x77, []byte{1})...)
	recs = append(recs, Record{Direction: In, Data: protocol.BuildHeader(protocol.TypeVideoData, 40)})

	frames := Frames(recs)
	if len(frames) != 4 {
		t.Fatalf("len = %d, want 4", len(frames))
	}
	if v, ok := frames[0].Message.(*protocol.SoftwareVersion); !ok || v.Version != "2024.02.02" {
		t.Errorf("frame 0 = %+v", frames[0])
	}
	if !errors.Is(frames[1].Err, pkg.ErrFraming) {
		t.Errorf("frame 1 error = %v", frames[1].Err)
	}
	if frames[2].Message != nil || frames[2].Err != nil || frames[2].Header.Type != 0x77 {
		t.Errorf("frame 2 = %+v", frames[2])
	}
	if !errors.Is(frames[3].Err, pkg.ErrShortTransfer) {
		t.Errorf("frame 3 error = %v", frames[3].Err)
	}
}

// =============================================================================
// Tap Tests
// =============================================================================

func TestTap(t *testing.T) {
	var src []Record
	src = append(src, frame(0, protocol.TypePhase, []byte{8, 0, 0, 0})...)
	replay := NewReplay(src)

	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	tap := NewTap(replay, w)
	var _ usb.Device = tap

	ctx := context.Background()
	if _, err := tap.BulkIn(ctx, ReplayEndpointIn, protocol.HeaderSize); err != nil {
		t.Fatal(err)
	}
	if _, err := tap.BulkIn(ctx, ReplayEndpointIn, 4); err != nil {
		t.Fatal(err)
	}
	if _, err := tap.BulkIn(ctx, ReplayEndpointIn, protocol.HeaderSize); !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("exhausted BulkIn error = %v", err)
	}
	out := protocol.Marshal(protocol.SendCommand{Value: protocol.CommandFrame})
	if st, err := tap.BulkOut(ctx, ReplayEndpointOut, out); err != nil || st != pkg.TransferStatusSuccess {
		t.Fatalf("BulkOut() = %v, %v", st, err)
	}
	if w.Records() != 3 {
		t.Errorf("Records() = %d, want 3", w.Records())
	}
	w.Close()

	got, err := ReadAll(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[2].Direction != Out || !bytes.Equal(got[2].Data, out) {
		t.Errorf("records = %+v", got)
	}
	frames := Frames(got)
	if len(frames) != 1 || frames[0].Message.(*protocol.Phase).Value != 8 {
		t.Errorf("frames = %+v", frames)
	}
}

// =============================================================================
// Replay Tests
// =============================================================================

func TestReplay_Device(t *testing.T) {
	r := NewReplay(frame(0, protocol.TypeUnplugged, nil))
	cfg, err := r.Configuration()
	if err != nil {
		t.Fatal(err)
	}
	in, out := usb.BulkEndpoints(&cfg.Interfaces[0])
	if in.EndpointAddress != ReplayEndpointIn || out.EndpointAddress != ReplayEndpointOut {
		t.Errorf("endpoints = %v, %v", in, out)
	}
	if _, err := r.BulkOut(context.Background(), 0x02, nil); !errors.Is(err, pkg.ErrInvalidEndpoint) {
		t.Errorf("wrong endpoint error = %v", err)
	}
	if r.Remaining() != 1 {
		t.Errorf("Remaining() = %d", r.Remaining())
	}
	r.Close()
	r.Close()
	if r.IsOpen() {
		t.Error("IsOpen() after Close")
	}
	if _, err := r.BulkIn(context.Background(), ReplayEndpointIn, 16); !errors.Is(err, pkg.ErrDeviceClosed) {
		t.Errorf("BulkIn() after Close error = %v", err)
	}
}

func TestReplay_Realtime(t *testing.T) {
	var recs []Record
	recs = append(recs, frame(0, protocol.TypeUnplugged, nil)...)
	recs = append(recs, frame(40*time.Millisecond, protocol.TypeUnplugged, nil)...)
	r := NewReplay(recs, WithRealtime())

	begin := time.Now()
	for range 2 {
		if _, err := r.BulkIn(context.Background(), ReplayEndpointIn, 16); err != nil {
			t.Fatal(err)
		}
	}
	if d := time.Since(begin); d < 40*time.Millisecond {
		t.Errorf("paced replay took %v, want >= 40ms", d)
	}

	r = NewReplay(append(frame(0, protocol.TypeUnplugged, nil), frame(time.Hour, protocol.TypeUnplugged, nil)...), WithRealtime())
	r.BulkIn(context.Background(), ReplayEndpointIn, 16)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := r.BulkIn(ctx, ReplayEndpointIn, 16); !errors.Is(err, pkg.ErrCancelled) {
		t.Errorf("cancelled BulkIn error = %v", err)
	}
}

func TestReplay_Session(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the handshake settle delay")
	}

	var recs []Record
	recs = append(recs, frame(0, protocol.TypePlugged, []byte{5, 0, 0, 0, 1, 0, 0, 0})...)
	recs = append(recs, frame(0, protocol.TypeMediaData, append([]byte{1, 0, 0, 0}, `{"MediaSongName":"x"}`...))...)
	recs = append(recs, frame(0, protocol.TypeUnplugged, nil)...)
	replay := NewReplay(recs)

	events := make(chan dongle.Event, 16)
	s := dongle.NewSession(dongle.WithHandler(dongle.HandlerFunc(func(ev dongle.Event) { events <- ev })))
	defer s.Close()
	if err := s.Initialise(context.Background(), replay); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background(), config.Default()); err != nil {
		t.Fatal(err)
	}

	var types []protocol.MessageType
	timeout := time.After(3 * time.Second)
	for done := false; !done; {
		select {
		case ev := <-events:
			switch ev.Kind {
			case dongle.EventMessage:
				types = append(types, ev.Message.MessageType())
			case dongle.EventDisconnected:
				done = true
			}
		case <-timeout:
			t.Fatal("replay did not end the session")
		}
	}
	want := []protocol.MessageType{protocol.TypePlugged, protocol.TypeMediaData, protocol.TypeUnplugged}
	if len(types) != len(want) {
		t.Fatalf("messages = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("message %d = %v, want %v", i, types[i], want[i])
		}
	}
	if replay.Writes() < 12 {
		t.Errorf("Writes() = %d, want the handshake", replay.Writes())
	}
}
