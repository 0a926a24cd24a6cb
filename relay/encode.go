package relay

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ardnew/carlink/dongle"
	"github.com/ardnew/carlink/pkg"
	"github.com/ardnew/carlink/protocol"
)

// Binary message kinds.
const (
	// BinaryVideo is followed by width, height, flags, and the encoded
	// frame.
	BinaryVideo byte = 0x01

	// BinaryAudio is followed by the decode type, the audio type, and PCM
	// samples.
	BinaryAudio byte = 0x02
)

// EventMessage is the JSON form of a dongle event.
type EventMessage struct {
	Kind  string `json:"kind"`
	Type  string `json:"type,omitempty"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// encodeEvent returns the WebSocket message type and payload for ev.
func encodeEvent(ev dongle.Event) (binaryMsg bool, data []byte, err error) {
	switch m := ev.Message.(type) {
	case *protocol.VideoData:
		buf := make([]byte, 0, 13+len(m.Data))
		buf = append(buf, BinaryVideo)
		buf = binary.LittleEndian.AppendUint32(buf, m.Width)
		buf = binary.LittleEndian.AppendUint32(buf, m.Height)
		buf = binary.LittleEndian.AppendUint32(buf, m.Flags)
		return true, append(buf, m.Data...), nil
	case *protocol.AudioData:
		if m.Payload == protocol.AudioPayloadPCM {
			buf := make([]byte, 0, 9+len(m.Data))
			buf = append(buf, BinaryAudio)
			buf = binary.LittleEndian.AppendUint32(buf, m.DecodeType)
			buf = binary.LittleEndian.AppendUint32(buf, m.AudioType)
			return true, append(buf, m.Data...), nil
		}
	}

	msg := EventMessage{Kind: ev.Kind.String()}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	if ev.Message != nil {
		msg.Type = ev.Message.MessageType().String()
		msg.Data = ev.Message
	}
	data, err = json.Marshal(msg)
	if err != nil {
		return false, nil, fmt.Errorf("encode %s: %w", ev, err)
	}
	return false, data, nil
}

// Control is a client input message.
type Control struct {
	// Type is "touch", "multitouch", "command", or "viewport".
	Type string `json:"type"`

	// X, Y and Action describe a touch; Action is "down", "move" or "up".
	// X and Y are display pixels inside the client's viewport. Until the
	// client sends a viewport they are taken as video coordinates in [0,1].
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Action string  `json:"action"`

	// Points describe a multitouch in video coordinates.
	Points []ControlPoint `json:"points"`

	// Command is a command name such as "home" or "siri".
	Command string `json:"command"`

	// Width and Height are the client's canvas size in display pixels.
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ControlPoint is one pointer of a multitouch control.
type ControlPoint struct {
	ID     uint32  `json:"id"`
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Action string  `json:"action"`
}

// unitViewport maps video coordinates to themselves.
var unitViewport = dongle.Viewport{Width: 1, Height: 1}

// Message converts the control to the message sent to the dongle. Touches
// are mapped through t, and a viewport control refits t to a video of
// size w by h. Msg is nil when there is nothing to send.
func (c Control) Message(t *dongle.Touch, w, h int) (msg protocol.Sendable, err error) {
	switch c.Type {
	case "touch":
		var (
			touch protocol.SendTouch
			ok    bool
		)
		switch strings.ToLower(c.Action) {
		case "down":
			touch, ok = t.Down(c.X, c.Y)
		case "move":
			touch, ok = t.Move(c.X, c.Y)
		case "up":
			touch, ok = t.Up(c.X, c.Y)
		default:
			return nil, fmt.Errorf("%w: touch action %q", pkg.ErrInvalidParameter, c.Action)
		}
		if !ok {
			return nil, nil
		}
		return touch, nil

	case "multitouch":
		if len(c.Points) == 0 {
			return nil, fmt.Errorf("%w: multitouch without points", pkg.ErrInvalidParameter)
		}
		points := make([]protocol.TouchPoint, len(c.Points))
		for i, p := range c.Points {
			var action protocol.MultiTouchAction
			switch strings.ToLower(p.Action) {
			case "down":
				action = protocol.MultiTouchDown
			case "move":
				action = protocol.MultiTouchMove
			case "up":
				action = protocol.MultiTouchUp
			default:
				return nil, fmt.Errorf("%w: multitouch action %q", pkg.ErrInvalidParameter, p.Action)
			}
			points[i] = protocol.TouchPoint{X: p.X, Y: p.Y, Action: action, ID: p.ID}
		}
		return protocol.SendMultiTouch{Points: points}, nil

	case "command":
		cmd, ok := protocol.CommandByName(c.Command)
		if !ok {
			return nil, fmt.Errorf("%w: command %q", pkg.ErrInvalidParameter, c.Command)
		}
		return protocol.SendCommand{Value: cmd}, nil

	case "viewport":
		if c.Width <= 0 || c.Height <= 0 {
			return nil, fmt.Errorf("%w: viewport %dx%d", pkg.ErrInvalidParameter, c.Width, c.Height)
		}
		if w <= 0 || h <= 0 {
			return nil, fmt.Errorf("%w: video size unknown", pkg.ErrInvalidState)
		}
		t.SetViewport(dongle.Fit(w, h, c.Width, c.Height))
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: control type %q", pkg.ErrInvalidParameter, c.Type)
	}
}
