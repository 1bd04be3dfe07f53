package vehicle

import (
	"github.com/danmuck/osdkctl/internal/protocol/session"
)

const (
	DefaultBaudRate        = 921600
	DefaultACMBaudRate     = 230400
	DefaultStatusPackage   = 4
	DefaultStatusFrequency = 50
)

// Options carries credentials, devices and timing for one vehicle.
type Options struct {
	AppID  uint32
	EncKey string

	Device    string
	DeviceACM string
	BaudRate  int

	AdvancedSensing bool

	Timing session.Config

	// StatusPackage is the package index monitored actions reserve for status telemetry.
	StatusPackage   uint8
	StatusFrequency uint16
}

func (o Options) WithDefaults() Options {
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.StatusPackage == 0 {
		o.StatusPackage = DefaultStatusPackage
	}
	if o.StatusFrequency == 0 {
		o.StatusFrequency = DefaultStatusFrequency
	}
	o.Timing = o.Timing.WithDefaults()
	return o
}
