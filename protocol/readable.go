package protocol

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"math"
)

// Readable is a decoded inbound message. The set of implementations is
// closed to this package; consumers switch on the concrete type.
type Readable interface {
	// MessageType returns the header tag the message was decoded from.
	MessageType() MessageType

	readable()
}

// Command is a command code reported by the dongle. Codes outside the known
// table are kept; check [CommandMapping.Known].
type Command struct {
	Value CommandMapping
}

// ManufacturerInfo carries two opaque manufacturer words.
type ManufacturerInfo struct {
	A, B uint32
}

// SoftwareVersion is the dongle firmware version string.
type SoftwareVersion struct {
	Version string
}

// BluetoothAddress is the dongle's Bluetooth MAC address.
type BluetoothAddress struct {
	Address string
}

// BluetoothPIN is the pairing PIN.
type BluetoothPIN struct {
	PIN string
}

// BluetoothDeviceName is the advertised Bluetooth name.
type BluetoothDeviceName struct {
	Name string
}

// WifiDeviceName is the advertised Wi-Fi name.
type WifiDeviceName struct {
	Name string
}

// HiCarLink is the HiCar pairing link.
type HiCarLink struct {
	Link string
}

// BluetoothPairedList is the raw list of paired phones.
type BluetoothPairedList struct {
	List string
}

// Plugged reports that a phone connected. HasWifi is set only when the body
// carried the wifi word.
type Plugged struct {
	Phone   PhoneType
	Wifi    uint32
	HasWifi bool
}

// Unplugged reports that the phone disconnected.
type Unplugged struct{}

// AudioPayload discriminates the tail of an inbound [AudioData] body.
type AudioPayload int

// Audio payload kinds.
const (
	AudioPayloadPCM AudioPayload = iota
	AudioPayloadCommand
	AudioPayloadVolume
)

// AudioData is a decoded audio frame. Exactly one of Command,
// VolumeDuration, or Data is meaningful, as selected by Payload.
type AudioData struct {
	DecodeType     uint32
	Volume         float32
	AudioType      uint32
	Payload        AudioPayload
	Command        AudioCommand
	VolumeDuration float32
	Data           []byte
}

// Format returns the PCM format for the frame's decode type.
func (m *AudioData) Format() (AudioFormat, bool) {
	return LookupAudioFormat(m.DecodeType)
}

// Samples returns Data interpreted as little-endian int16 PCM. A trailing
// odd byte is ignored.
func (m *AudioData) Samples() []int16 {
	out := make([]int16, len(m.Data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(m.Data[2*i:]))
	}
	return out
}

// VideoData is one encoded video frame.
type VideoData struct {
	Width    uint32
	Height   uint32
	Flags    uint32
	Length   uint32
	Reserved uint32
	Data     []byte
}

// Keyframe reports whether the frame is a keyframe.
func (m *VideoData) Keyframe() bool {
	return m.Flags&1 != 0
}

// MediaData carries either now-playing metadata or album art.
type MediaData struct {
	Type  MediaType
	Media map[string]any
	Image []byte
}

// Base64Image returns the album art encoded as standard base64.
func (m *MediaData) Base64Image() string {
	return base64.StdEncoding.EncodeToString(m.Image)
}

// Opened echoes the negotiated session geometry.
type Opened struct {
	Width         uint32
	Height        uint32
	FPS           uint32
	Format        uint32
	PacketMax     uint32
	BoxVersion    uint32
	PhoneWorkMode uint32
}

// BoxInfo is the dongle's JSON settings document.
type BoxInfo struct {
	Raw      json.RawMessage
	Settings map[string]any
}

// Phase is a session phase code.
type Phase struct {
	Value uint32
}

func (*Command) MessageType() MessageType             { return TypeCommand }
func (*ManufacturerInfo) MessageType() MessageType    { return TypeManufacturerInfo }
func (*SoftwareVersion) MessageType() MessageType     { return TypeSoftwareVersion }
func (*BluetoothAddress) MessageType() MessageType    { return TypeBluetoothAddress }
func (*BluetoothPIN) MessageType() MessageType        { return TypeBluetoothPIN }
func (*BluetoothDeviceName) MessageType() MessageType { return TypeBluetoothDeviceName }
func (*WifiDeviceName) MessageType() MessageType      { return TypeWifiDeviceName }
func (*HiCarLink) MessageType() MessageType           { return TypeHiCarLink }
func (*BluetoothPairedList) MessageType() MessageType { return TypeBluetoothPairedList }
func (*Plugged) MessageType() MessageType             { return TypePlugged }
func (*Unplugged) MessageType() MessageType           { return TypeUnplugged }
func (*AudioData) MessageType() MessageType           { return TypeAudioData }
func (*VideoData) MessageType() MessageType           { return TypeVideoData }
func (*MediaData) MessageType() MessageType           { return TypeMediaData }
func (*Opened) MessageType() MessageType              { return TypeOpen }
func (*BoxInfo) MessageType() MessageType             { return TypeBoxSettings }
func (*Phase) MessageType() MessageType               { return TypePhase }

func (*Command) readable()             {}
func (*ManufacturerInfo) readable()    {}
func (*SoftwareVersion) readable()     {}
func (*BluetoothAddress) readable()    {}
func (*BluetoothPIN) readable()        {}
func (*BluetoothDeviceName) readable() {}
func (*WifiDeviceName) readable()      {}
func (*HiCarLink) readable()           {}
func (*BluetoothPairedList) readable() {}
func (*Plugged) readable()             {}
func (*Unplugged) readable()           {}
func (*AudioData) readable()           {}
func (*VideoData) readable()           {}
func (*MediaData) readable()           {}
func (*Opened) readable()              {}
func (*BoxInfo) readable()             {}
func (*Phase) readable()               {}

func u32(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off:])
}

func f32(b []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
}
