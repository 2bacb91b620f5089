package daemon

import (
	"context"
	"os"
	"time"

	"nmrauto/internal/queue"
)

// AutosamplerView is the autosampler part of the status payload.
type AutosamplerView struct {
	Connected   bool      `json:"connected"`
	Port        string    `json:"port"`
	Code        int       `json:"errorcode"`
	Meaning     string    `json:"meaning"`
	IsError     bool      `json:"is_error"`
	LastContact time.Time `json:"last_contact,omitzero"`
}

// SpectrometerView is the spectrometer part of the status payload.
type SpectrometerView struct {
	Connected        bool      `json:"connected"`
	Address          string    `json:"address"`
	DataFolder       string    `json:"data_folder"`
	State            string    `json:"state"`
	Progress         int       `json:"progress"`
	SecondsRemaining int       `json:"seconds_remaining"`
	LastContact      time.Time `json:"last_contact,omitzero"`
}

// QueueView is the queue control and shim state.
type QueueView struct {
	Running    bool           `json:"running"`
	Reason     string         `json:"reason,omitempty"`
	ShimPhase  int            `json:"shim_phase"`
	ShimName   string         `json:"shim_phase_name"`
	ShimProg   int            `json:"shim_progress"`
	LastShim   time.Time      `json:"last_shim,omitzero"`
	Counts     map[string]int `json:"counts"`
	Evaluating bool           `json:"evaluating"`
}

// Status is the payload of GET /api/status.
type Status struct {
	Running      bool             `json:"running"`
	PID          int              `json:"pid"`
	StartedAt    time.Time        `json:"started_at,omitzero"`
	DatabasePath string           `json:"database_path"`
	LockPath     string           `json:"lock_path"`
	Autosampler  AutosamplerView  `json:"autosampler"`
	Spectrometer SpectrometerView `json:"spectrometer"`
	Queue        QueueView        `json:"queue"`
}

// Status returns a snapshot of the devices and the queue. Store read errors
// leave the affected fields at their zero values.
func (d *Daemon) Status(ctx context.Context) Status {
	sampler := d.sampler.Status()
	spectro := d.spectro.Status()

	status := Status{
		Running:      d.Running(),
		PID:          os.Getpid(),
		StartedAt:    d.startedAt,
		DatabasePath: d.store.Path(),
		LockPath:     d.lockPath,
		Autosampler: AutosamplerView{
			Connected:   sampler.Connected,
			Port:        sampler.Port,
			Code:        int(sampler.Code),
			Meaning:     sampler.Code.Description(),
			IsError:     sampler.Code.IsError(),
			LastContact: sampler.LastContact,
		},
		Spectrometer: SpectrometerView{
			Connected:        spectro.Connected,
			Address:          spectro.Address,
			DataFolder:       d.spectro.DataFolder(),
			State:            spectro.State.String(),
			Progress:         spectro.Progress,
			SecondsRemaining: spectro.SecondsRemaining,
			LastContact:      spectro.LastContact,
		},
		Queue: QueueView{
			Counts:     map[string]int{},
			Evaluating: d.evaluator.Busy(),
		},
	}
	if control, err := d.store.QueueControl(ctx); err == nil {
		status.Queue.Running = control.Running
		status.Queue.Reason = control.Reason
	}
	if shim, err := d.store.ShimState(ctx); err == nil {
		status.Queue.ShimPhase = int(shim.Phase)
		status.Queue.ShimName = shim.Phase.String()
		status.Queue.ShimProg = shim.Progress
		status.Queue.LastShim = shim.LastShim
	}
	if stats, err := d.store.Stats(ctx); err == nil {
		for _, s := range queue.AllStatuses() {
			status.Queue.Counts[string(s)] = stats[s]
		}
	}
	return status
}
