package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/ardnew/carlink/pkg"
	"github.com/ardnew/carlink/protocol"
)

// maxRecordSize bounds a single record payload.
const maxRecordSize = 64 << 20

// Reader reads records from a compressed capture.
type Reader struct {
	dec *zstd.Decoder
	hdr [recordHeaderSize]byte
}

// NewReader opens a capture and checks its signature.
func NewReader(r io.Reader) (*Reader, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	sig := make([]byte, len(Signature))
	if _, err := io.ReadFull(dec, sig); err != nil {
		dec.Close()
		return nil, fmt.Errorf("%w: read signature: %w", pkg.ErrInvalidParameter, err)
	}
	if string(sig) != Signature {
		dec.Close()
		return nil, fmt.Errorf("%w: not a capture (signature %q)", pkg.ErrInvalidParameter, sig)
	}
	return &Reader{dec: dec}, nil
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (Record, error) {
	if _, err := io.ReadFull(r.dec, r.hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("read record header: %w", err)
	}
	dir := Direction(r.hdr[0])
	if dir != In && dir != Out {
		return Record{}, fmt.Errorf("%w: record direction %d", pkg.ErrInvalidParameter, r.hdr[0])
	}
	n := binary.LittleEndian.Uint32(r.hdr[9:13])
	if n > maxRecordSize {
		return Record{}, fmt.Errorf("%w: record of %d bytes", pkg.ErrInvalidParameter, n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r.dec, data); err != nil {
		return Record{}, fmt.Errorf("read record payload: %w", err)
	}
	return Record{
		Direction: dir,
		Elapsed:   time.Duration(binary.LittleEndian.Uint64(r.hdr[1:9])),
		Data:      data,
	}, nil
}

// Close releases the decoder.
func (r *Reader) Close() {
	r.dec.Close()
}

// ReadAll returns every record of a capture.
func ReadAll(r io.Reader) ([]Record, error) {
	cr, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	defer cr.Close()

	var recs []Record
	for {
		rec, err := cr.Next()
		if errors.Is(err, io.EOF) {
			return recs, nil
		}
		if err != nil {
			return recs, err
		}
		recs = append(recs, rec)
	}
}

// Frame is one inbound message reassembled from IN records.
type Frame struct {
	Elapsed time.Duration
	Header  protocol.Header
	Body    []byte

	// Message is nil for unknown types and when Err is set.
	Message protocol.Readable
	Err     error
}

// Frames reassembles the IN records of a capture into frames, the way the
// receive loop reads them: a header record followed by a body record when
// the header declares one. A record that is not a valid header yields a
// frame with Err set and is skipped.
func Frames(recs []Record) []Frame {
	var in []Record
	for _, rec := range recs {
		if rec.Direction == In {
			in = append(in, rec)
		}
	}

	var frames []Frame
	for i := 0; i < len(in); i++ {
		f := Frame{Elapsed: in[i].Elapsed}
		f.Header, f.Err = protocol.ParseHeader(in[i].Data)
		if f.Err != nil {
			frames = append(frames, f)
			continue
		}
		if f.Header.Length > 0 {
			if i+1 >= len(in) {
				f.Err = fmt.Errorf("%w: capture ends before body of %s", pkg.ErrShortTransfer, f.Header)
				frames = append(frames, f)
				break
			}
			i++
			f.Body = in[i].Data
		}
		f.Message, f.Err = protocol.Decode(f.Header, f.Body)
		frames = append(frames, f)
	}
	return frames
}
