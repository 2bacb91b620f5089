package autosampler

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

const serialReadTimeout = 20 * time.Millisecond

// SerialOpener opens a real tty with the controller's 8N1 framing and no
// flow control.
func SerialOpener(name string, baud int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	return port, nil
}

// ListPorts returns the serial ports known to the OS.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
