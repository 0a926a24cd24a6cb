package protocol

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/ardnew/carlink/pkg"
)

func words(vs ...uint32) []byte {
	var b []byte
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	return b
}

func hdr(t MessageType, body []byte) Header {
	return Header{Type: t, Length: uint32(len(body))}
}

// =============================================================================
// Dispatch Tests
// =============================================================================

func TestDecode_UnknownType(t *testing.T) {
	for _, typ := range []MessageType{0x00, 0x42, TypeTouch, TypeHeartBeat, TypeSendFile} {
		msg, err := Decode(Header{Type: typ, Length: 3}, []byte{1, 2, 3})
		if msg != nil || err != nil {
			t.Errorf("Decode(%v) = %v, %v; want nil, nil", typ, msg, err)
		}
	}
}

func TestDecode_ShortBodies(t *testing.T) {
	tests := []struct {
		typ MessageType
		min int
	}{
		{TypeCommand, 4},
		{TypeManufacturerInfo, 8},
		{TypeAudioData, 12},
		{TypeVideoData, 20},
		{TypeMediaData, 4},
		{TypeOpen, 28},
		{TypePhase, 4},
	}

	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			body := make([]byte, tt.min-1)
			_, err := Decode(hdr(tt.typ, body), body)
			if !errors.Is(err, pkg.ErrDecode) {
				t.Errorf("Decode() error = %v, want ErrDecode", err)
			}
		})
	}
}

func TestDecode_Strings(t *testing.T) {
	body := []byte("2023.10.12\x00\x00")
	msg, err := Decode(hdr(TypeSoftwareVersion, body), body)
	if err != nil {
		t.Fatal(err)
	}
	if v := msg.(*SoftwareVersion).Version; v != "2023.10.12" {
		t.Errorf("Version = %q", v)
	}

	body = []byte("00:11:22:33:44:55")
	msg, _ = Decode(hdr(TypeBluetoothAddress, body), body)
	if a := msg.(*BluetoothAddress).Address; a != "00:11:22:33:44:55" {
		t.Errorf("Address = %q", a)
	}

	msg, _ = Decode(hdr(TypeWifiDeviceName, nil), nil)
	if n := msg.(*WifiDeviceName).Name; n != "" {
		t.Errorf("Name = %q", n)
	}

	for _, body := range [][]byte{[]byte("caf\xc3\xa9"), {'a', 0xff, 0}} {
		if _, err := Decode(hdr(TypeBluetoothDeviceName, body), body); !errors.Is(err, pkg.ErrDecode) {
			t.Errorf("Decode(%q) error = %v, want ErrDecode", body, err)
		}
	}
}

func TestDecode_Command(t *testing.T) {
	body := words(uint32(CommandRequestHostUI), 0xdead)
	msg, err := Decode(hdr(TypeCommand, body), body)
	if err != nil {
		t.Fatal(err)
	}
	if c := msg.(*Command); c.Value != CommandRequestHostUI {
		t.Errorf("Value = %v", c.Value)
	}
}

// =============================================================================
// Plugged Tests
// =============================================================================

func TestDecode_Plugged(t *testing.T) {
	tests := []struct {
		name    string
		body    []byte
		want    *Plugged
		wantErr bool
	}{
		{"wired", words(uint32(PhoneCarPlay)), &Plugged{Phone: PhoneCarPlay}, false},
		{"wifi", words(uint32(PhoneAndroidAuto), 1), &Plugged{Phone: PhoneAndroidAuto, Wifi: 1, HasWifi: true}, false},
		{"empty", nil, nil, true},
		{"three", []byte{3, 0, 0}, nil, true},
		{"six", make([]byte, 6), nil, true},
		{"twelve", make([]byte, 12), nil, true},
		{"zero phone", words(0), nil, true},
		{"unknown phone", words(2, 1), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode(hdr(TypePlugged, tt.body), tt.body)
			if tt.wantErr {
				if !errors.Is(err, pkg.ErrDecode) {
					t.Errorf("Decode() error = %v, want ErrDecode", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got := msg.(*Plugged); *got != *tt.want {
				t.Errorf("Decode() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// AudioData Tests
// =============================================================================

func TestDecode_AudioData(t *testing.T) {
	prefix := words(4, math.Float32bits(0.5), 1)

	t.Run("command", func(t *testing.T) {
		body := append(append([]byte{}, prefix...), byte(AudioNaviStart))
		msg, err := Decode(hdr(TypeAudioData, body), body)
		if err != nil {
			t.Fatal(err)
		}
		a := msg.(*AudioData)
		if a.Payload != AudioPayloadCommand || a.Command != AudioNaviStart {
			t.Errorf("got %+v", a)
		}
		if a.DecodeType != 4 || a.Volume != 0.5 || a.AudioType != 1 {
			t.Errorf("sub-header = %d %v %d", a.DecodeType, a.Volume, a.AudioType)
		}
	})

	t.Run("volume", func(t *testing.T) {
		body := append(append([]byte{}, prefix...), words(math.Float32bits(1.25))...)
		msg, _ := Decode(hdr(TypeAudioData, body), body)
		a := msg.(*AudioData)
		if a.Payload != AudioPayloadVolume || a.VolumeDuration != 1.25 {
			t.Errorf("got %+v", a)
		}
	})

	for _, n := range []int{0, 2, 3, 5, 960} {
		body := append(append([]byte{}, prefix...), make([]byte, n)...)
		msg, err := Decode(hdr(TypeAudioData, body), body)
		if err != nil {
			t.Fatalf("pcm %d: %v", n, err)
		}
		a := msg.(*AudioData)
		if a.Payload != AudioPayloadPCM || len(a.Data) != n {
			t.Errorf("pcm %d: payload %v, data %d bytes", n, a.Payload, len(a.Data))
		}
		if len(a.Samples()) != n/2 {
			t.Errorf("pcm %d: %d samples", n, len(a.Samples()))
		}
	}
}

// =============================================================================
// VideoData Tests
// =============================================================================

func TestDecode_VideoData(t *testing.T) {
	frame := []byte{0, 0, 0, 1, 0x67}
	body := append(words(800, 640, 1, uint32(len(frame)), 0), frame...)
	msg, err := Decode(hdr(TypeVideoData, body), body)
	if err != nil {
		t.Fatal(err)
	}
	v := msg.(*VideoData)
	if v.Width != 800 || v.Height != 640 || !v.Keyframe() {
		t.Errorf("got %+v", v)
	}
	if string(v.Data) != string(frame) {
		t.Errorf("Data = % x", v.Data)
	}

	// Trailing bytes beyond the declared length are retained.
	body = append(words(800, 640, 0, 1, 0), 1, 2, 3)
	msg, _ = Decode(hdr(TypeVideoData, body), body)
	if v := msg.(*VideoData); len(v.Data) != 3 || v.Keyframe() {
		t.Errorf("got %+v", v)
	}
}

// =============================================================================
// MediaData Tests
// =============================================================================

func TestDecode_MediaData(t *testing.T) {
	body := append(words(uint32(MediaTypeData)), []byte(`{"MediaSongName":"Song"}`+"\x00")...)
	msg, err := Decode(hdr(TypeMediaData, body), body)
	if err != nil {
		t.Fatal(err)
	}
	if m := msg.(*MediaData); m.Media["MediaSongName"] != "Song" {
		t.Errorf("Media = %v", m.Media)
	}

	body = append(words(uint32(MediaTypeAlbumCover)), 0xff, 0xd8, 0xff)
	msg, err = Decode(hdr(TypeMediaData, body), body)
	if err != nil {
		t.Fatal(err)
	}
	if m := msg.(*MediaData); m.Base64Image() != "/9j/" {
		t.Errorf("Base64Image() = %q", m.Base64Image())
	}

	for name, body := range map[string][]byte{
		"unknown tag": words(2, 0),
		"bad json":    append(words(uint32(MediaTypeData)), []byte("{\x00")...),
		"no json":     words(uint32(MediaTypeData)),
	} {
		if _, err := Decode(hdr(TypeMediaData, body), body); !errors.Is(err, pkg.ErrDecode) {
			t.Errorf("%s: error = %v, want ErrDecode", name, err)
		}
	}
}

// =============================================================================
// Remaining Variants
// =============================================================================

func TestDecode_Opened(t *testing.T) {
	body := words(800, 640, 20, 5, 49152, 2, 2)
	msg, err := Decode(hdr(TypeOpen, body), body)
	if err != nil {
		t.Fatal(err)
	}
	want := Opened{800, 640, 20, 5, 49152, 2, 2}
	if got := msg.(*Opened); *got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestDecode_Misc(t *testing.T) {
	body := words(7, 9)
	msg, _ := Decode(hdr(TypeManufacturerInfo, body), body)
	if m := msg.(*ManufacturerInfo); m.A != 7 || m.B != 9 {
		t.Errorf("ManufacturerInfo = %+v", m)
	}

	body = words(8)
	msg, _ = Decode(hdr(TypePhase, body), body)
	if p := msg.(*Phase); p.Value != 8 {
		t.Errorf("Phase = %+v", p)
	}

	msg, err := Decode(hdr(TypeUnplugged, nil), nil)
	if _, ok := msg.(*Unplugged); !ok || err != nil {
		t.Errorf("Unplugged = %v, %v", msg, err)
	}

	body = []byte("not json")
	if _, err := Decode(hdr(TypeBoxSettings, body), body); !errors.Is(err, pkg.ErrDecode) {
		t.Errorf("BoxInfo error = %v, want ErrDecode", err)
	}
}

func TestDecodable(t *testing.T) {
	if !Decodable(TypeVideoData) || Decodable(TypeHeartBeat) {
		t.Error("Decodable() mismatch")
	}
}
