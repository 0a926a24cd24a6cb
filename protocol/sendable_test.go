package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func splitFrame(t *testing.T, frame []byte) (Header, []byte) {
	t.Helper()
	if len(frame) < HeaderSize {
		t.Fatalf("frame is %d bytes", len(frame))
	}
	h, err := ParseHeader(frame[:HeaderSize])
	if err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	body := frame[HeaderSize:]
	if int(h.Length) != len(body) {
		t.Fatalf("header length %d, body %d", h.Length, len(body))
	}
	return h, body
}

// =============================================================================
// Marshal Tests
// =============================================================================

func TestMarshal_HeaderOnly(t *testing.T) {
	for _, m := range []Sendable{SendHeartBeat{}, SendCloseDongle{}, SendDisconnectPhone{}} {
		t.Run(m.MessageType().String(), func(t *testing.T) {
			h, body := splitFrame(t, Marshal(m))
			if h.Type != m.MessageType() {
				t.Errorf("type = %v, want %v", h.Type, m.MessageType())
			}
			if len(body) != 0 {
				t.Errorf("body = % x, want empty", body)
			}
		})
	}
}

func TestMarshal_Command(t *testing.T) {
	h, body := splitFrame(t, Marshal(SendCommand{Value: CommandWifiConnect}))
	if h.Type != TypeCommand {
		t.Errorf("type = %v", h.Type)
	}
	if got := binary.LittleEndian.Uint32(body); got != 1002 {
		t.Errorf("command = %d, want 1002", got)
	}
}

func TestMarshal_Open(t *testing.T) {
	m := SendOpen{Width: 800, Height: 640, FPS: 20, Format: 5, PacketMax: 49152, BoxVersion: 2, PhoneWorkMode: 2}
	h, body := splitFrame(t, Marshal(m))
	if h.Type != TypeOpen || len(body) != 28 {
		t.Fatalf("header = %+v", h)
	}
	want := []uint32{800, 640, 20, 5, 49152, 2, 2}
	for i, w := range want {
		if got := binary.LittleEndian.Uint32(body[4*i:]); got != w {
			t.Errorf("word %d = %d, want %d", i, got, w)
		}
	}
}

// =============================================================================
// Touch Tests
// =============================================================================

func TestTouchCoordinate(t *testing.T) {
	tests := []struct {
		in   float64
		want uint32
	}{
		{0, 0},
		{0.5, 5000},
		{1, 10000},
		{-0.25, 0},
		{-1000, 0},
		{1.0001, 10000},
		{42, 10000},
		{math.Inf(1), 10000},
		{math.Inf(-1), 0},
		{math.NaN(), 0},
	}

	for _, tt := range tests {
		if got := TouchCoordinate(tt.in); got != tt.want {
			t.Errorf("TouchCoordinate(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestMarshal_Touch(t *testing.T) {
	h, body := splitFrame(t, Marshal(SendTouch{X: 1.5, Y: -0.2, Action: TouchDown}))
	if h.Type != TypeTouch || len(body) != 16 {
		t.Fatalf("header = %+v", h)
	}
	want := []uint32{uint32(TouchDown), 10000, 0, 0}
	for i, w := range want {
		if got := binary.LittleEndian.Uint32(body[4*i:]); got != w {
			t.Errorf("word %d = %d, want %d", i, got, w)
		}
	}
}

func TestMarshal_MultiTouch(t *testing.T) {
	m := SendMultiTouch{Points: []TouchPoint{
		{X: 0.25, Y: 0.75, Action: MultiTouchDown, ID: 0},
		{X: 0.5, Y: 0.5, Action: MultiTouchMove, ID: 1},
	}}
	_, body := splitFrame(t, Marshal(m))
	if len(body) != 32 {
		t.Fatalf("body length = %d, want 32", len(body))
	}
	if x := math.Float32frombits(binary.LittleEndian.Uint32(body[0:])); x != 0.25 {
		t.Errorf("x0 = %v", x)
	}
	if a := binary.LittleEndian.Uint32(body[24:]); a != uint32(MultiTouchMove) {
		t.Errorf("action1 = %d", a)
	}
	if id := binary.LittleEndian.Uint32(body[28:]); id != 1 {
		t.Errorf("id1 = %d", id)
	}
}

// =============================================================================
// Audio Tests
// =============================================================================

func TestMarshal_Audio(t *testing.T) {
	h, body := splitFrame(t, Marshal(SendAudio{Samples: []int16{1, -1, 0x1234}}))
	if h.Type != TypeAudioData {
		t.Errorf("type = %v", h.Type)
	}
	want := []byte{
		5, 0, 0, 0,
		0, 0, 0, 0,
		3, 0, 0, 0,
		0x01, 0x00, 0xFF, 0xFF, 0x34, 0x12,
	}
	if !bytes.Equal(body, want) {
		t.Errorf("body = % x, want % x", body, want)
	}

	// The outbound layout decodes as inbound PCM.
	msg, err := Decode(h, body)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	a := msg.(*AudioData)
	if got := a.Samples(); len(got) != 3 || got[1] != -1 || got[2] != 0x1234 {
		t.Errorf("Samples() = %v", got)
	}
}

// =============================================================================
// File Tests
// =============================================================================

func TestMarshal_Files(t *testing.T) {
	tests := []struct {
		name    string
		msg     Sendable
		file    FileAddress
		content []byte
	}{
		{"file", SendFile{Name: FileOEMIcon, Content: []byte{0x89, 'P'}}, FileOEMIcon, []byte{0x89, 'P'}},
		{"number", SendNumber{File: FileDPI, Value: 160}, FileDPI, []byte{160, 0, 0, 0}},
		{"true", SendBoolean{File: FileChargeMode, Value: true}, FileChargeMode, []byte{1, 0, 0, 0}},
		{"false", SendBoolean{File: FileNightMode}, FileNightMode, []byte{0, 0, 0, 0}},
		{"string", SendString{File: FileBoxName, Value: "carlink"}, FileBoxName, []byte("carlink")},
		{"empty", SendString{File: FileBoxName}, FileBoxName, []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, body := splitFrame(t, Marshal(tt.msg))
			if h.Type != TypeSendFile {
				t.Fatalf("type = %v", h.Type)
			}
			nameLen := int(binary.LittleEndian.Uint32(body))
			if nameLen != len(tt.file)+1 {
				t.Fatalf("name length = %d, want %d", nameLen, len(tt.file)+1)
			}
			name := body[4 : 4+nameLen]
			if string(name[:nameLen-1]) != string(tt.file) || name[nameLen-1] != 0 {
				t.Errorf("name = %q", name)
			}
			rest := body[4+nameLen:]
			contentLen := int(binary.LittleEndian.Uint32(rest))
			if contentLen != len(tt.content) || !bytes.Equal(rest[4:], tt.content) {
				t.Errorf("content = % x (len %d), want % x", rest[4:], contentLen, tt.content)
			}
		})
	}
}

func TestSendIconConfig_Text(t *testing.T) {
	text := SendIconConfig{Label: "Car"}.Text()
	for _, line := range []string{
		"oemIconVisible = 1",
		"name = AutoBox",
		"model = Magic-Car-Link-1.00",
		"oemIconPath = /etc/oem_icon.png",
		"oemIconLabel = Car",
	} {
		if !strings.Contains(text, line+"\n") {
			t.Errorf("Text() missing %q:\n%s", line, text)
		}
	}
	if !bytes.Contains(Payload(SendIconConfig{}), []byte(FileAirplayConfig)) {
		t.Error("payload does not target the airplay config file")
	}
}

// =============================================================================
// BoxSettings Tests
// =============================================================================

func TestBoxSettings_RoundTrip(t *testing.T) {
	in := BoxSettings{MediaDelay: 300, SyncTime: 1700000000, Width: 800, Height: 640}
	h, body := splitFrame(t, Marshal(SendBoxSettings{Settings: in}))
	if h.Type != TypeBoxSettings {
		t.Fatalf("type = %v", h.Type)
	}

	var out BoxSettings
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}

	var keys map[string]any
	_ = json.Unmarshal(body, &keys)
	for _, k := range []string{"mediaDelay", "syncTime", "androidAutoSizeW", "androidAutoSizeH"} {
		if _, ok := keys[k]; !ok {
			t.Errorf("missing key %q in %s", k, body)
		}
	}

	// The same bytes arrive back from the dongle as BoxInfo.
	msg, err := Decode(h, body)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	info := msg.(*BoxInfo)
	if info.Settings["mediaDelay"] != float64(300) || info.Settings["androidAutoSizeW"] != float64(800) {
		t.Errorf("BoxInfo.Settings = %v", info.Settings)
	}
}
