package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/ardnew/carlink/pkg"
)

type decoder func(body []byte) (Readable, error)

// decoders maps every inbound message type to its body decoder. Types not
// present here decode to nil.
var decoders = map[MessageType]decoder{
	TypeCommand:             decodeCommand,
	TypeManufacturerInfo:    decodeManufacturerInfo,
	TypeSoftwareVersion:     decodeString(func(s string) Readable { return &SoftwareVersion{Version: s} }),
	TypeBluetoothAddress:    decodeString(func(s string) Readable { return &BluetoothAddress{Address: s} }),
	TypeBluetoothPIN:        decodeString(func(s string) Readable { return &BluetoothPIN{PIN: s} }),
	TypeBluetoothDeviceName: decodeString(func(s string) Readable { return &BluetoothDeviceName{Name: s} }),
	TypeWifiDeviceName:      decodeString(func(s string) Readable { return &WifiDeviceName{Name: s} }),
	TypeHiCarLink:           decodeString(func(s string) Readable { return &HiCarLink{Link: s} }),
	TypeBluetoothPairedList: decodeString(func(s string) Readable { return &BluetoothPairedList{List: s} }),
	TypePlugged:             decodePlugged,
	TypeUnplugged:           func([]byte) (Readable, error) { return &Unplugged{}, nil },
	TypeAudioData:           decodeAudioData,
	TypeVideoData:           decodeVideoData,
	TypeMediaData:           decodeMediaData,
	TypeOpen:                decodeOpened,
	TypeBoxSettings:         decodeBoxInfo,
	TypePhase:               decodePhase,
}

// Decode converts a frame body into a typed message according to h.Type.
//
// An unrecognized message type yields (nil, nil) so that the caller can log
// and discard it. A known type whose body is too short or otherwise
// malformed returns an error wrapping [pkg.ErrDecode]. Variable-length tails
// alias body rather than copying it.
func Decode(h Header, body []byte) (Readable, error) {
	dec, ok := decoders[h.Type]
	if !ok {
		return nil, nil
	}
	msg, err := dec(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", h.Type, err)
	}
	return msg, nil
}

// Decodable reports whether Decode has a decoder for t.
func Decodable(t MessageType) bool {
	_, ok := decoders[t]
	return ok
}

func needLen(body []byte, n int) error {
	if len(body) < n {
		return fmt.Errorf("%w: body is %d bytes, need at least %d", pkg.ErrDecode, len(body), n)
	}
	return nil
}

func decodeCommand(body []byte) (Readable, error) {
	if err := needLen(body, 4); err != nil {
		return nil, err
	}
	return &Command{Value: CommandMapping(u32(body, 0))}, nil
}

func decodeManufacturerInfo(body []byte) (Readable, error) {
	if err := needLen(body, 8); err != nil {
		return nil, err
	}
	return &ManufacturerInfo{A: u32(body, 0), B: u32(body, 4)}, nil
}

// decodeString builds a decoder for the ASCII string messages. The dongle
// pads some strings with NUL bytes, which are dropped.
func decodeString(wrap func(string) Readable) decoder {
	return func(body []byte) (Readable, error) {
		body = bytes.TrimRight(body, "\x00")
		for i, c := range body {
			if c >= utf8.RuneSelf {
				return nil, fmt.Errorf("%w: non-ASCII byte %#02x at offset %d", pkg.ErrDecode, c, i)
			}
		}
		return wrap(string(body)), nil
	}
}

func decodePlugged(body []byte) (Readable, error) {
	if len(body) != 4 && len(body) != 8 {
		return nil, fmt.Errorf("%w: plugged body is %d bytes, want 4 or 8", pkg.ErrDecode, len(body))
	}
	m := &Plugged{Phone: PhoneType(u32(body, 0))}
	if !m.Phone.Known() {
		return nil, fmt.Errorf("%w: plugged phone type %d", pkg.ErrDecode, uint32(m.Phone))
	}
	if len(body) == 8 {
		m.Wifi, m.HasWifi = u32(body, 4), true
	}
	return m, nil
}

func decodeAudioData(body []byte) (Readable, error) {
	if err := needLen(body, 12); err != nil {
		return nil, err
	}
	m := &AudioData{
		DecodeType: u32(body, 0),
		Volume:     f32(body, 4),
		AudioType:  u32(body, 8),
	}
	rest := body[12:]
	switch len(rest) {
	case 1:
		m.Payload = AudioPayloadCommand
		m.Command = AudioCommand(int8(rest[0]))
	case 4:
		m.Payload = AudioPayloadVolume
		m.VolumeDuration = f32(rest, 0)
	default:
		m.Payload = AudioPayloadPCM
		m.Data = rest
	}
	return m, nil
}

func decodeVideoData(body []byte) (Readable, error) {
	if err := needLen(body, 20); err != nil {
		return nil, err
	}
	return &VideoData{
		Width:    u32(body, 0),
		Height:   u32(body, 4),
		Flags:    u32(body, 8),
		Length:   u32(body, 12),
		Reserved: u32(body, 16),
		Data:     body[20:],
	}, nil
}

func decodeMediaData(body []byte) (Readable, error) {
	if err := needLen(body, 4); err != nil {
		return nil, err
	}
	m := &MediaData{Type: MediaType(u32(body, 0))}
	switch m.Type {
	case MediaTypeAlbumCover:
		m.Image = body[4:]
	case MediaTypeData:
		// JSON document followed by a single NUL terminator.
		if err := needLen(body, 5); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(body[4:len(body)-1], &m.Media); err != nil {
			return nil, fmt.Errorf("%w: media json: %v", pkg.ErrDecode, err)
		}
	default:
		return nil, fmt.Errorf("%w: unexpected media type %d", pkg.ErrDecode, m.Type)
	}
	return m, nil
}

func decodeOpened(body []byte) (Readable, error) {
	if err := needLen(body, 28); err != nil {
		return nil, err
	}
	return &Opened{
		Width:         u32(body, 0),
		Height:        u32(body, 4),
		FPS:           u32(body, 8),
		Format:        u32(body, 12),
		PacketMax:     u32(body, 16),
		BoxVersion:    u32(body, 20),
		PhoneWorkMode: u32(body, 24),
	}, nil
}

func decodeBoxInfo(body []byte) (Readable, error) {
	raw := bytes.TrimRight(body, "\x00")
	m := &BoxInfo{Raw: json.RawMessage(raw)}
	if err := json.Unmarshal(raw, &m.Settings); err != nil {
		return nil, fmt.Errorf("%w: box info json: %v", pkg.ErrDecode, err)
	}
	return m, nil
}

func decodePhase(body []byte) (Readable, error) {
	if err := needLen(body, 4); err != nil {
		return nil, err
	}
	return &Phase{Value: u32(body, 0)}, nil
}
