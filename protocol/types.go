package protocol

import "fmt"

// MessageType is the integer tag carried in every frame header.
type MessageType uint32

// Message type tags.
const (
	TypeOpen                MessageType = 0x01
	TypePlugged             MessageType = 0x02
	TypePhase               MessageType = 0x03
	TypeUnplugged           MessageType = 0x04
	TypeTouch               MessageType = 0x05
	TypeVideoData           MessageType = 0x06
	TypeAudioData           MessageType = 0x07
	TypeCommand             MessageType = 0x08
	TypeLogoType            MessageType = 0x09
	TypeBluetoothAddress    MessageType = 0x0A
	TypeBluetoothPIN        MessageType = 0x0C
	TypeBluetoothDeviceName MessageType = 0x0D
	TypeWifiDeviceName      MessageType = 0x0E
	TypeDisconnectPhone     MessageType = 0x0F
	TypeBluetoothPairedList MessageType = 0x12
	TypeManufacturerInfo    MessageType = 0x14
	TypeCloseDongle         MessageType = 0x15
	TypeMultiTouch          MessageType = 0x17
	TypeHiCarLink           MessageType = 0x18
	TypeBoxSettings         MessageType = 0x19
	TypeMediaData           MessageType = 0x2A
	TypeSendFile            MessageType = 0x99
	TypeHeartBeat           MessageType = 0xAA
	TypeSoftwareVersion     MessageType = 0xCC
)

var messageTypeNames = map[MessageType]string{
	TypeOpen:                "Open",
	TypePlugged:             "Plugged",
	TypePhase:               "Phase",
	TypeUnplugged:           "Unplugged",
	TypeTouch:               "Touch",
	TypeVideoData:           "VideoData",
	TypeAudioData:           "AudioData",
	TypeCommand:             "Command",
	TypeLogoType:            "LogoType",
	TypeBluetoothAddress:    "BluetoothAddress",
	TypeBluetoothPIN:        "BluetoothPIN",
	TypeBluetoothDeviceName: "BluetoothDeviceName",
	TypeWifiDeviceName:      "WifiDeviceName",
	TypeDisconnectPhone:     "DisconnectPhone",
	TypeBluetoothPairedList: "BluetoothPairedList",
	TypeManufacturerInfo:    "ManufacturerInfo",
	TypeCloseDongle:         "CloseDongle",
	TypeMultiTouch:          "MultiTouch",
	TypeHiCarLink:           "HiCarLink",
	TypeBoxSettings:         "BoxSettings",
	TypeMediaData:           "MediaData",
	TypeSendFile:            "SendFile",
	TypeHeartBeat:           "HeartBeat",
	TypeSoftwareVersion:     "SoftwareVersion",
}

// String returns the message type name, or its hex tag if unknown.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%02x)", uint32(t))
}

// Known reports whether t is a tag this package recognizes.
func (t MessageType) Known() bool {
	_, ok := messageTypeNames[t]
	return ok
}

// CommandMapping is the integer code carried by Command messages in both
// directions.
type CommandMapping uint32

// Command codes.
const (
	CommandInvalid             CommandMapping = 0
	CommandStartRecordAudio    CommandMapping = 1
	CommandStopRecordAudio     CommandMapping = 2
	CommandRequestHostUI       CommandMapping = 3
	CommandSiri                CommandMapping = 5
	CommandMic                 CommandMapping = 7
	CommandFrame               CommandMapping = 12
	CommandBoxMic              CommandMapping = 15
	CommandEnableNightMode     CommandMapping = 16
	CommandDisableNightMode    CommandMapping = 17
	CommandAudioTransferOn     CommandMapping = 22
	CommandAudioTransferOff    CommandMapping = 23
	CommandWifi24G             CommandMapping = 24
	CommandWifi5G              CommandMapping = 25
	CommandLeft                CommandMapping = 100
	CommandRight               CommandMapping = 101
	CommandSelectDown          CommandMapping = 104
	CommandSelectUp            CommandMapping = 105
	CommandBack                CommandMapping = 106
	CommandUp                  CommandMapping = 113
	CommandDown                CommandMapping = 114
	CommandHome                CommandMapping = 200
	CommandPlay                CommandMapping = 201
	CommandPause               CommandMapping = 202
	CommandPlayOrPause         CommandMapping = 203
	CommandNext                CommandMapping = 204
	CommandPrev                CommandMapping = 205
	CommandAcceptPhone         CommandMapping = 300
	CommandRejectPhone         CommandMapping = 301
	CommandRequestVideoFocus   CommandMapping = 500
	CommandReleaseVideoFocus   CommandMapping = 501
	CommandWifiEnable          CommandMapping = 1000
	CommandAutoConnectEnable   CommandMapping = 1001
	CommandWifiConnect         CommandMapping = 1002
	CommandScanningDevice      CommandMapping = 1003
	CommandDeviceFound         CommandMapping = 1004
	CommandDeviceNotFound      CommandMapping = 1005
	CommandConnectDeviceFailed CommandMapping = 1006
	CommandBtConnected         CommandMapping = 1007
	CommandBtDisconnected      CommandMapping = 1008
	CommandWifiConnected       CommandMapping = 1009
	CommandWifiDisconnected    CommandMapping = 1010
	CommandBtPairStart         CommandMapping = 1011
	CommandWifiPair            CommandMapping = 1012
)

var commandNames = map[CommandMapping]string{
	CommandInvalid:             "invalid",
	CommandStartRecordAudio:    "startRecordAudio",
	CommandStopRecordAudio:     "stopRecordAudio",
	CommandRequestHostUI:       "requestHostUI",
	CommandSiri:                "siri",
	CommandMic:                 "mic",
	CommandFrame:               "frame",
	CommandBoxMic:              "boxMic",
	CommandEnableNightMode:     "enableNightMode",
	CommandDisableNightMode:    "disableNightMode",
	CommandAudioTransferOn:     "audioTransferOn",
	CommandAudioTransferOff:    "audioTransferOff",
	CommandWifi24G:             "wifi24g",
	CommandWifi5G:              "wifi5g",
	CommandLeft:                "left",
	CommandRight:               "right",
	CommandSelectDown:          "selectDown",
	CommandSelectUp:            "selectUp",
	CommandBack:                "back",
	CommandUp:                  "up",
	CommandDown:                "down",
	CommandHome:                "home",
	CommandPlay:                "play",
	CommandPause:               "pause",
	CommandPlayOrPause:         "playOrPause",
	CommandNext:                "next",
	CommandPrev:                "prev",
	CommandAcceptPhone:         "acceptPhone",
	CommandRejectPhone:         "rejectPhone",
	CommandRequestVideoFocus:   "requestVideoFocus",
	CommandReleaseVideoFocus:   "releaseVideoFocus",
	CommandWifiEnable:          "wifiEnable",
	CommandAutoConnectEnable:   "autoConnectEnable",
	CommandWifiConnect:         "wifiConnect",
	CommandScanningDevice:      "scanningDevice",
	CommandDeviceFound:         "deviceFound",
	CommandDeviceNotFound:      "deviceNotFound",
	CommandConnectDeviceFailed: "connectDeviceFailed",
	CommandBtConnected:         "btConnected",
	CommandBtDisconnected:      "btDisconnected",
	CommandWifiConnected:       "wifiConnected",
	CommandWifiDisconnected:    "wifiDisconnected",
	CommandBtPairStart:         "btPairStart",
	CommandWifiPair:            "wifiPair",
}

// String returns the command name, or its decimal code if unknown.
func (c CommandMapping) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint32(c))
}

// Known reports whether c is a command code this package recognizes.
func (c CommandMapping) Known() bool {
	_, ok := commandNames[c]
	return ok
}

// CommandByName returns the command with the given name.
func CommandByName(name string) (CommandMapping, bool) {
	for c, n := range commandNames {
		if n == name {
			return c, true
		}
	}
	return CommandInvalid, false
}

// PhoneType identifies the projection protocol of a plugged phone.
type PhoneType uint32

// Phone types.
const (
	PhoneAndroidMirror PhoneType = 1
	PhoneCarPlay       PhoneType = 3
	PhoneIPhoneMirror  PhoneType = 4
	PhoneAndroidAuto   PhoneType = 5
	PhoneHiCar         PhoneType = 6
)

// Known reports whether p is one of the defined phone types.
func (p PhoneType) Known() bool {
	switch p {
	case PhoneAndroidMirror, PhoneCarPlay, PhoneIPhoneMirror, PhoneAndroidAuto, PhoneHiCar:
		return true
	}
	return false
}

// String returns the phone type name.
func (p PhoneType) String() string {
	switch p {
	case PhoneAndroidMirror:
		return "AndroidMirror"
	case PhoneCarPlay:
		return "CarPlay"
	case PhoneIPhoneMirror:
		return "iPhoneMirror"
	case PhoneAndroidAuto:
		return "AndroidAuto"
	case PhoneHiCar:
		return "HiCar"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(p))
	}
}

// AudioCommand is the single-byte control value carried by some inbound
// AudioData messages.
type AudioCommand int8

// Audio commands.
const (
	AudioOutputStart    AudioCommand = 1
	AudioOutputStop     AudioCommand = 2
	AudioInputConfig    AudioCommand = 3
	AudioPhonecallStart AudioCommand = 4
	AudioPhonecallStop  AudioCommand = 5
	AudioNaviStart      AudioCommand = 6
	AudioNaviStop       AudioCommand = 7
	AudioSiriStart      AudioCommand = 8
	AudioSiriStop       AudioCommand = 9
	AudioMediaStart     AudioCommand = 10
	AudioMediaStop      AudioCommand = 11
	AudioAlertStart     AudioCommand = 12
	AudioAlertStop      AudioCommand = 13
)

var audioCommandNames = [...]string{
	AudioOutputStart:    "AudioOutputStart",
	AudioOutputStop:     "AudioOutputStop",
	AudioInputConfig:    "AudioInputConfig",
	AudioPhonecallStart: "AudioPhonecallStart",
	AudioPhonecallStop:  "AudioPhonecallStop",
	AudioNaviStart:      "AudioNaviStart",
	AudioNaviStop:       "AudioNaviStop",
	AudioSiriStart:      "AudioSiriStart",
	AudioSiriStop:       "AudioSiriStop",
	AudioMediaStart:     "AudioMediaStart",
	AudioMediaStop:      "AudioMediaStop",
	AudioAlertStart:     "AudioAlertStart",
	AudioAlertStop:      "AudioAlertStop",
}

// String returns the audio command name.
func (c AudioCommand) String() string {
	if c > 0 && int(c) < len(audioCommandNames) {
		return audioCommandNames[c]
	}
	return fmt.Sprintf("Unknown(%d)", int8(c))
}

// MediaType discriminates the body of an inbound MediaData message.
type MediaType uint32

// Media types.
const (
	MediaTypeData       MediaType = 1
	MediaTypeAlbumCover MediaType = 3
)

// TouchAction is the action code of a single-pointer Touch message.
type TouchAction uint32

// Touch actions.
const (
	TouchDown TouchAction = 14
	TouchMove TouchAction = 15
	TouchUp   TouchAction = 16
)

// MultiTouchAction is the action code of one MultiTouch pointer record.
type MultiTouchAction uint32

// Multi-touch actions.
const (
	MultiTouchUp   MultiTouchAction = 0
	MultiTouchDown MultiTouchAction = 1
	MultiTouchMove MultiTouchAction = 2
)

// FileAddress is the path of a virtual file in the dongle's filesystem
// abstraction.
type FileAddress string

// Virtual file paths.
const (
	FileDPI             FileAddress = "/tmp/screen_dpi"
	FileNightMode       FileAddress = "/tmp/night_mode"
	FileHandDriveMode   FileAddress = "/tmp/hand_drive_mode"
	FileChargeMode      FileAddress = "/tmp/charge_mode"
	FileBoxName         FileAddress = "/etc/box_name"
	FileOEMIcon         FileAddress = "/etc/oem_icon.png"
	FileAirplayConfig   FileAddress = "/etc/airplay.conf"
	FileIcon120         FileAddress = "/etc/icon_120x120.png"
	FileIcon180         FileAddress = "/etc/icon_180x180.png"
	FileIcon250         FileAddress = "/etc/icon_256x256.png"
	FileAndroidWorkMode FileAddress = "/etc/android_work_mode"
)

// AudioFormat describes the PCM layout selected by an AudioData decode type.
type AudioFormat struct {
	Frequency int
	Channels  int
	BitDepth  int
}

var decodeTypes = map[uint32]AudioFormat{
	1: {44100, 2, 16},
	2: {44100, 2, 16},
	3: {8000, 1, 16},
	4: {48000, 2, 16},
	5: {16000, 1, 16},
	6: {24000, 1, 16},
	7: {16000, 2, 16},
}

// LookupAudioFormat returns the PCM format for an AudioData decode type.
func LookupAudioFormat(decodeType uint32) (AudioFormat, bool) {
	f, ok := decodeTypes[decodeType]
	return f, ok
}

// MimeType returns the raw PCM MIME type for the format.
func (f AudioFormat) MimeType() string {
	return fmt.Sprintf("audio/L%d; rate=%d; channels=%d", f.BitDepth, f.Frequency, f.Channels)
}
