package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Sendable is an outbound message. The set of implementations is closed to
// this package; use [Marshal] to obtain the wire bytes.
type Sendable interface {
	// MessageType returns the header tag of the message.
	MessageType() MessageType

	appendPayload(dst []byte) []byte
}

// Marshal serialises m as a header followed by its payload.
func Marshal(m Sendable) []byte {
	buf := make([]byte, HeaderSize, HeaderSize+64)
	buf = m.appendPayload(buf)
	AppendHeader(buf[:0], m.MessageType(), len(buf)-HeaderSize)
	return buf
}

// Payload returns only the body bytes of m.
func Payload(m Sendable) []byte {
	return m.appendPayload(nil)
}

func appendU32(dst []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, v)
}

func appendF32(dst []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
}

// SendCommand carries a single command code.
type SendCommand struct {
	Value CommandMapping
}

func (SendCommand) MessageType() MessageType { return TypeCommand }

func (m SendCommand) appendPayload(dst []byte) []byte {
	return appendU32(dst, uint32(m.Value))
}

// SendTouch is a single-pointer touch event with coordinates normalized to
// [0,1]. Out-of-range coordinates are clamped when encoded.
type SendTouch struct {
	X, Y   float64
	Action TouchAction
}

func (SendTouch) MessageType() MessageType { return TypeTouch }

func (m SendTouch) appendPayload(dst []byte) []byte {
	dst = appendU32(dst, uint32(m.Action))
	dst = appendU32(dst, TouchCoordinate(m.X))
	dst = appendU32(dst, TouchCoordinate(m.Y))
	return appendU32(dst, 0)
}

// TouchCoordinate converts a normalized coordinate to the fixed-point wire
// value, clamped to [0, 10000]. NaN encodes as 0.
func TouchCoordinate(v float64) uint32 {
	scaled := v * 10000
	switch {
	case math.IsNaN(scaled), scaled <= 0:
		return 0
	case scaled >= 10000:
		return 10000
	}
	return uint32(scaled)
}

// TouchPoint is one pointer record of a [SendMultiTouch] message.
type TouchPoint struct {
	X, Y   float32
	Action MultiTouchAction
	ID     uint32
}

// SendMultiTouch carries one record per active pointer.
type SendMultiTouch struct {
	Points []TouchPoint
}

func (SendMultiTouch) MessageType() MessageType { return TypeMultiTouch }

func (m SendMultiTouch) appendPayload(dst []byte) []byte {
	for _, p := range m.Points {
		dst = appendF32(dst, p.X)
		dst = appendF32(dst, p.Y)
		dst = appendU32(dst, uint32(p.Action))
		dst = appendU32(dst, p.ID)
	}
	return dst
}

// Outbound microphone audio sub-header values.
const (
	micDecodeType = 5
	micAudioType  = 3
)

// SendAudio carries 16-bit PCM microphone samples to the dongle.
type SendAudio struct {
	Samples []int16
}

func (SendAudio) MessageType() MessageType { return TypeAudioData }

func (m SendAudio) appendPayload(dst []byte) []byte {
	dst = appendU32(dst, micDecodeType)
	dst = appendF32(dst, 0)
	dst = appendU32(dst, micAudioType)
	for _, s := range m.Samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}

// SendFile writes content to a virtual file on the dongle.
type SendFile struct {
	Name    FileAddress
	Content []byte
}

func (SendFile) MessageType() MessageType { return TypeSendFile }

func (m SendFile) appendPayload(dst []byte) []byte {
	return appendFile(dst, m.Name, m.Content)
}

func appendFile(dst []byte, name FileAddress, content []byte) []byte {
	dst = appendU32(dst, uint32(len(name)+1))
	dst = append(dst, name...)
	dst = append(dst, 0)
	dst = appendU32(dst, uint32(len(content)))
	return append(dst, content...)
}

// SendNumber writes a little-endian uint32 to a virtual file.
type SendNumber struct {
	File  FileAddress
	Value uint32
}

func (SendNumber) MessageType() MessageType { return TypeSendFile }

func (m SendNumber) appendPayload(dst []byte) []byte {
	return appendFile(dst, m.File, appendU32(nil, m.Value))
}

// SendBoolean writes 1 or 0 to a virtual file.
type SendBoolean struct {
	File  FileAddress
	Value bool
}

func (SendBoolean) MessageType() MessageType { return TypeSendFile }

func (m SendBoolean) appendPayload(dst []byte) []byte {
	var v uint32
	if m.Value {
		v = 1
	}
	return SendNumber{File: m.File, Value: v}.appendPayload(dst)
}

// SendString writes ASCII text to a virtual file.
type SendString struct {
	File  FileAddress
	Value string
}

func (SendString) MessageType() MessageType { return TypeSendFile }

func (m SendString) appendPayload(dst []byte) []byte {
	return appendFile(dst, m.File, []byte(m.Value))
}

// SendOpen announces the session geometry.
type SendOpen struct {
	Width         uint32
	Height        uint32
	FPS           uint32
	Format        uint32
	PacketMax     uint32
	BoxVersion    uint32
	PhoneWorkMode uint32
}

func (SendOpen) MessageType() MessageType { return TypeOpen }

func (m SendOpen) appendPayload(dst []byte) []byte {
	for _, v := range [...]uint32{m.Width, m.Height, m.FPS, m.Format, m.PacketMax, m.BoxVersion, m.PhoneWorkMode} {
		dst = appendU32(dst, v)
	}
	return dst
}

// BoxSettings is the JSON document carried by [SendBoxSettings] and
// returned by the dongle in [BoxInfo].
type BoxSettings struct {
	MediaDelay int   `json:"mediaDelay"`
	SyncTime   int64 `json:"syncTime"`
	Width      int   `json:"androidAutoSizeW"`
	Height     int   `json:"androidAutoSizeH"`
}

// SendBoxSettings pushes the JSON box settings document.
type SendBoxSettings struct {
	Settings BoxSettings
}

func (SendBoxSettings) MessageType() MessageType { return TypeBoxSettings }

func (m SendBoxSettings) appendPayload(dst []byte) []byte {
	// BoxSettings holds only integers, so encoding cannot fail.
	b, _ := json.Marshal(m.Settings)
	return append(dst, b...)
}

// SendHeartBeat is the empty keep-alive.
type SendHeartBeat struct{}

func (SendHeartBeat) MessageType() MessageType { return TypeHeartBeat }

func (SendHeartBeat) appendPayload(dst []byte) []byte { return dst }

// LogoType selects the logo shown by the dongle.
type LogoType uint32

// Logo types.
const (
	LogoHomeButton LogoType = 1
	LogoSiri       LogoType = 2
)

// SendLogoType selects the dongle logo.
type SendLogoType struct {
	Logo LogoType
}

func (SendLogoType) MessageType() MessageType { return TypeLogoType }

func (m SendLogoType) appendPayload(dst []byte) []byte {
	return appendU32(dst, uint32(m.Logo))
}

// Defaults for [SendIconConfig].
const (
	DefaultIconName  = "AutoBox"
	DefaultIconModel = "Magic-Car-Link-1.00"
)

// SendIconConfig writes the OEM icon configuration to the airplay config
// file.
type SendIconConfig struct {
	Label string
	Name  string
	Model string
}

func (SendIconConfig) MessageType() MessageType { return TypeSendFile }

func (m SendIconConfig) appendPayload(dst []byte) []byte {
	return appendFile(dst, FileAirplayConfig, []byte(m.Text()))
}

// Text renders the INI body written to the airplay config file.
func (m SendIconConfig) Text() string {
	name, model := m.Name, m.Model
	if name == "" {
		name = DefaultIconName
	}
	if model == "" {
		model = DefaultIconModel
	}
	var b strings.Builder
	fmt.Fprintf(&b, "oemIconVisible = 1\n")
	fmt.Fprintf(&b, "name = %s\n", name)
	fmt.Fprintf(&b, "model = %s\n", model)
	fmt.Fprintf(&b, "oemIconPath = %s\n", FileOEMIcon)
	fmt.Fprintf(&b, "oemIconLabel = %s\n", m.Label)
	return b.String()
}

// SendCloseDongle asks the dongle to end its session.
type SendCloseDongle struct{}

func (SendCloseDongle) MessageType() MessageType { return TypeCloseDongle }

func (SendCloseDongle) appendPayload(dst []byte) []byte { return dst }

// SendDisconnectPhone asks the dongle to drop the connected phone.
type SendDisconnectPhone struct{}

func (SendDisconnectPhone) MessageType() MessageType { return TypeDisconnectPhone }

func (SendDisconnectPhone) appendPayload(dst []byte) []byte { return dst }
