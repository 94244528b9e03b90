package fuzz

import (
	"codeguard/internal/proc"
	"codeguard/pkg/telemetry"
)

// EngineHandle is one launched (or attempted) engine instance: its process
// and the output directory it owns.
type EngineHandle struct {
	ID        string
	Engine    string
	OutputDir string

	Started     bool
	StartErr    error // why the instance never started
	ExitedEarly bool  // exited before the Supervisor asked it to stop
	ExitErr     error

	spec   InstanceSpec
	proc   *proc.Process
	tracer telemetry.Tracer
}

// Started returns the handles whose process actually ran, in launch order.
func Started(handles []*EngineHandle) []*EngineHandle {
	started := make([]*EngineHandle, 0, len(handles))
	for _, h := range handles {
		if h.Started {
			started = append(started, h)
		}
	}
	return started
}
