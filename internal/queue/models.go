package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a sample.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

var allStatuses = []Status{
	StatusQueued,
	StatusRunning,
	StatusFinished,
	StatusFailed,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// Kind distinguishes ordinary measurements from shim jobs.
type Kind string

const (
	KindSample    Kind = "Sample"
	KindCheckShim Kind = "CheckShim"
	KindQuickShim Kind = "QuickShim"
	KindPowerShim Kind = "PowerShim"
)

// ParseKind accepts the kind names case-insensitively. An empty value is an
// ordinary sample.
func ParseKind(value string) (Kind, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return KindSample, true
	}
	for _, kind := range []Kind{KindSample, KindCheckShim, KindQuickShim, KindPowerShim} {
		if strings.EqualFold(string(kind), trimmed) {
			return kind, true
		}
	}
	return "", false
}

// IsShim reports whether the kind is one of the shim jobs.
func (k Kind) IsShim() bool {
	switch k {
	case KindCheckShim, KindQuickShim, KindPowerShim:
		return true
	default:
		return false
	}
}

// HolderCount is the number of carousel positions.
const HolderCount = 32

// Sample is a queued job persisted in SQLite.
type Sample struct {
	ID           int64
	Name         string
	Holder       int
	Kind         Kind
	Protocol     string
	Scans        int
	RepTime      float64
	Solvent      string
	MethodID     int64
	Comment      string
	Status       Status
	Progress     int
	Result       string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewSample carries the operator supplied fields of a sample.
type NewSample struct {
	Name     string
	Holder   int
	Kind     Kind
	Protocol string
	Scans    int
	RepTime  float64
	Solvent  string
	MethodID int64
	Comment  string
}

// ShimPhase tracks the shim cascade. The numeric values are what the
// dashboard reads from the store.
type ShimPhase int

const (
	ShimIdle           ShimPhase = 0
	ShimCheckRequested ShimPhase = 1
	ShimQuickPass1     ShimPhase = 2
	ShimQuickPass2     ShimPhase = 3
	ShimQuickPass3     ShimPhase = 4
	ShimGivingUp       ShimPhase = 5
)

func (p ShimPhase) String() string {
	switch p {
	case ShimIdle:
		return "idle"
	case ShimCheckRequested:
		return "checkshim"
	case ShimQuickPass1:
		return "quickshim pass 1"
	case ShimQuickPass2:
		return "quickshim pass 2"
	case ShimQuickPass3:
		return "quickshim pass 3"
	case ShimGivingUp:
		return "giving up"
	default:
		return "unknown"
	}
}

// Valid reports whether the phase is one of the known values.
func (p ShimPhase) Valid() bool {
	return p >= ShimIdle && p <= ShimGivingUp
}

// ShimState is the shimming singleton.
type ShimState struct {
	Phase ShimPhase
	// LastShim is zero when the magnet was never shimmed.
	LastShim time.Time
	Progress int
}

// QueueControl is the queue run flag singleton.
type QueueControl struct {
	Running   bool
	Reason    string
	UpdatedAt time.Time
}

// AutosamplerStatus mirrors the driver status. Code is the wire value.
type AutosamplerStatus struct {
	Code        int
	LastContact time.Time
	UpdatedAt   time.Time
}

// DeviceConfig holds the live device settings operators may edit.
type DeviceConfig struct {
	AutosamplerPort  string
	SpectrometerHost string
	SpectrometerPort int
	DataFolder       string
	EvalToolFolder   string
	UpdatedAt        time.Time
}

// CommandStatus tracks an operator command through the inbox.
type CommandStatus string

const (
	CommandPending CommandStatus = "pending"
	CommandDone    CommandStatus = "done"
	CommandFailed  CommandStatus = "failed"
)

// Command is an operator request for a device or the queue.
type Command struct {
	ID          int64
	CommandID   string
	Device      string
	Action      string
	Argument    string
	Status      CommandStatus
	Result      string
	CreatedAt   time.Time
	CompletedAt *time.Time
}
