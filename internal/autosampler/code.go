package autosampler

import (
	"fmt"

	"nmrauto/internal/services"
)

// Code is the controller status. Values below zero are host-side states.
type Code int

const (
	ConnectionLost   Code = -2
	NeverConnected   Code = -1
	Ready            Code = 0
	Busy             Code = 1
	MechanicalFault  Code = 2
	SampleSeated     Code = 3
	PusherOpenFault  Code = 4
	PusherCloseFault Code = 5
	TubePresent      Code = 6
	NoSampleOnReturn Code = 7
	NoSampleOnStart  Code = 8
	HostRaised       Code = 9
)

var descriptions = map[Code]string{
	ConnectionLost:   "connection to autosampler lost",
	NeverConnected:   "could not connect to autosampler",
	Ready:            "autosampler is ready",
	Busy:             "autosampler is at work",
	MechanicalFault:  "mechanical error, check whether a tube is stuck inside",
	SampleSeated:     "sample seated, measurement may run",
	PusherOpenFault:  "pusher did not open, check whether a tube is stuck in the device",
	PusherCloseFault: "pusher did not close, check whether a tube is stuck in the device",
	TubePresent:      "a tube was found in the spectrometer before start, remove it from holder 32",
	NoSampleOnReturn: "no sample detected in the spectrometer while returning",
	NoSampleOnStart:  "no sample detected in the requested holder",
	HostRaised:       "error raised by the host",
}

// Description returns the operator facing meaning of the code.
func (c Code) Description() string {
	if desc, ok := descriptions[c]; ok {
		return desc
	}
	return fmt.Sprintf("unknown status %d", int(c))
}

func (c Code) String() string {
	return fmt.Sprintf("%d [%s]", int(c), c.Description())
}

// IsError reports whether the controller is in a fault state.
func (c Code) IsError() bool {
	return c == MechanicalFault || c > SampleSeated
}

// ParseCode converts a status digit from the wire.
func ParseCode(b byte) (Code, bool) {
	if b < '0' || b > '9' {
		return 0, false
	}
	return Code(b - '0'), true
}

// FaultError reports that the controller entered a fault state while a
// command was awaiting its outcome.
type FaultError struct {
	Operation string
	Holder    int
	Code      Code
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("autosampler %s holder %d: %s", e.Operation, e.Holder, e.Code)
}

func (e *FaultError) Unwrap() error {
	return services.ErrDeviceFault
}
