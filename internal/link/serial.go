package link

import (
	"fmt"

	"github.com/danmuck/osdkctl/internal/protocol/frame"
	"go.bug.st/serial"
)

// SerialConfig selects the UART the flight controller is attached to.
type SerialConfig struct {
	Device   string
	BaudRate int
}

// OpenSerial opens the UART and starts framing on it.
func OpenSerial(cfg SerialConfig) (*StreamLink, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %q: %w", cfg.Device, err)
	}
	_ = p.ResetInputBuffer()
	_ = p.ResetOutputBuffer()
	return NewStreamLink(cfg.Device, p, frame.DefaultLimits()), nil
}

// SerialPorts lists candidate devices for diagnostics.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
