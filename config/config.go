// Package config holds the dongle session configuration and loads it from
// YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ardnew/carlink/pkg"
	"github.com/ardnew/carlink/protocol"
)

// WifiBand is the Wi-Fi band the dongle uses for wireless projection.
type WifiBand string

// Wi-Fi bands.
const (
	Wifi24GHz WifiBand = "2.4ghz"
	Wifi5GHz  WifiBand = "5ghz"
)

// MicSource selects whether the dongle or the host captures audio.
type MicSource string

// Microphone sources.
const (
	MicBox MicSource = "box"
	MicOS  MicSource = "os"
)

// HandDrive is the vehicle's driving side.
type HandDrive uint32

// Driving sides.
const (
	HandLeft  HandDrive = 0
	HandRight HandDrive = 1
)

// PhoneConfig holds per-projection-protocol hints.
type PhoneConfig struct {
	// FrameInterval is how often, in milliseconds, a keyframe is requested
	// while a phone of this type is plugged. Zero disables requests.
	FrameInterval int `yaml:"frameInterval"`
}

// Device is the configuration pushed to the dongle when a session starts.
// It is not mutated once a session holds it; starting a new session is the
// only way to change it.
type Device struct {
	Width         int    `yaml:"width"`
	Height        int    `yaml:"height"`
	FPS           int    `yaml:"fps"`
	DPI           int    `yaml:"dpi"`
	Format        int    `yaml:"format"`
	BoxVersion    int    `yaml:"boxVersion"`
	PhoneWorkMode int    `yaml:"phoneWorkMode"`
	PacketMax     int    `yaml:"packetMax"`
	BoxName       string `yaml:"boxName"`

	NightMode         bool      `yaml:"nightMode"`
	Hand              HandDrive `yaml:"hand"`
	MediaDelay        int       `yaml:"mediaDelay"`
	AudioTransferMode bool      `yaml:"audioTransferMode"`
	Wifi              WifiBand  `yaml:"wifiType"`
	Mic               MicSource `yaml:"micType"`
	AndroidWorkMode   bool      `yaml:"androidWorkMode"`

	// PhoneConfig is keyed by phone type name, e.g. "CarPlay".
	PhoneConfig map[string]PhoneConfig `yaml:"phoneConfig"`
}

// Default returns the stock configuration.
func Default() Device {
	return Device{
		Width:         800,
		Height:        640,
		FPS:           20,
		DPI:           160,
		Format:        5,
		BoxVersion:    2,
		PhoneWorkMode: 2,
		PacketMax:     49152,
		BoxName:       "carlink",
		Hand:          HandLeft,
		MediaDelay:    300,
		Wifi:          Wifi5GHz,
		Mic:           MicOS,
		PhoneConfig: map[string]PhoneConfig{
			protocol.PhoneCarPlay.String():     {FrameInterval: 5000},
			protocol.PhoneAndroidAuto.String(): {},
		},
	}
}

// Load reads a YAML file over [Default].
func Load(path string) (Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Device{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over [Default] and validates the result.
func Parse(data []byte) (Device, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Device{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Device{}, err
	}
	return cfg, nil
}

// Marshal encodes the configuration as YAML.
func (d Device) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

// Validate rejects values that cannot be encoded on the wire. Other odd
// values are passed to the dongle unchanged.
func (d Device) Validate() error {
	var errs []error
	for _, f := range []struct {
		name  string
		value int
	}{
		{"width", d.Width}, {"height", d.Height}, {"fps", d.FPS}, {"dpi", d.DPI},
		{"format", d.Format}, {"boxVersion", d.BoxVersion}, {"phoneWorkMode", d.PhoneWorkMode},
		{"packetMax", d.PacketMax}, {"mediaDelay", d.MediaDelay},
	} {
		if f.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", f.name))
		}
	}
	switch d.Wifi {
	case Wifi24GHz, Wifi5GHz:
	default:
		errs = append(errs, fmt.Errorf("wifiType %q is not %q or %q", d.Wifi, Wifi24GHz, Wifi5GHz))
	}
	switch d.Mic {
	case MicBox, MicOS:
	default:
		errs = append(errs, fmt.Errorf("micType %q is not %q or %q", d.Mic, MicBox, MicOS))
	}
	if d.Hand != HandLeft && d.Hand != HandRight {
		errs = append(errs, fmt.Errorf("hand %d is not 0 (left) or 1 (right)", d.Hand))
	}
	for name, pc := range d.PhoneConfig {
		if _, ok := phoneTypeByName(name); !ok {
			errs = append(errs, fmt.Errorf("phoneConfig: unknown phone type %q", name))
		}
		if pc.FrameInterval < 0 {
			errs = append(errs, fmt.Errorf("phoneConfig.%s.frameInterval must not be negative", name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", pkg.ErrInvalidParameter, err)
	}
	return nil
}

// FrameInterval returns the keyframe request period for a phone type.
func (d Device) FrameInterval(phone protocol.PhoneType) (time.Duration, bool) {
	pc, ok := d.PhoneConfig[phone.String()]
	if !ok || pc.FrameInterval <= 0 {
		return 0, false
	}
	return time.Duration(pc.FrameInterval) * time.Millisecond, true
}

var phoneTypes = []protocol.PhoneType{
	protocol.PhoneAndroidMirror,
	protocol.PhoneCarPlay,
	protocol.PhoneIPhoneMirror,
	protocol.PhoneAndroidAuto,
	protocol.PhoneHiCar,
}

func phoneTypeByName(name string) (protocol.PhoneType, bool) {
	for _, p := range phoneTypes {
		if p.String() == name {
			return p, true
		}
	}
	return 0, false
}
