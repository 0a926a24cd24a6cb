package dongle

import (
	"time"

	"github.com/ardnew/carlink/config"
	"github.com/ardnew/carlink/protocol"
)

// Handshake returns the configuration burst sent when a session starts.
// The dongle treats each message as an independent file write, so the
// messages may be sent in any order.
func Handshake(cfg config.Device, now time.Time) []protocol.Sendable {
	wifi := protocol.CommandWifi5G
	if cfg.Wifi == config.Wifi24GHz {
		wifi = protocol.CommandWifi24G
	}
	mic := protocol.CommandMic
	if cfg.Mic == config.MicBox {
		mic = protocol.CommandBoxMic
	}
	audio := protocol.CommandAudioTransferOff
	if cfg.AudioTransferMode {
		audio = protocol.CommandAudioTransferOn
	}

	msgs := []protocol.Sendable{
		protocol.SendNumber{File: protocol.FileDPI, Value: uint32(cfg.DPI)},
		protocol.SendOpen{
			Width:         uint32(cfg.Width),
			Height:        uint32(cfg.Height),
			FPS:           uint32(cfg.FPS),
			Format:        uint32(cfg.Format),
			PacketMax:     uint32(cfg.PacketMax),
			BoxVersion:    uint32(cfg.BoxVersion),
			PhoneWorkMode: uint32(cfg.PhoneWorkMode),
		},
		protocol.SendBoolean{File: protocol.FileNightMode, Value: cfg.NightMode},
		protocol.SendNumber{File: protocol.FileHandDriveMode, Value: uint32(cfg.Hand)},
		protocol.SendBoolean{File: protocol.FileChargeMode, Value: true},
		protocol.SendString{File: protocol.FileBoxName, Value: cfg.BoxName},
		protocol.SendBoxSettings{Settings: protocol.BoxSettings{
			MediaDelay: cfg.MediaDelay,
			SyncTime:   now.Unix(),
			Width:      cfg.Width,
			Height:     cfg.Height,
		}},
		protocol.SendCommand{Value: protocol.CommandWifiEnable},
		protocol.SendCommand{Value: wifi},
		protocol.SendCommand{Value: mic},
		protocol.SendCommand{Value: audio},
	}
	if cfg.AndroidWorkMode {
		msgs = append(msgs, protocol.SendBoolean{File: protocol.FileAndroidWorkMode, Value: true})
	}
	return msgs
}
