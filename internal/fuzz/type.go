package fuzz

import (
	"os/exec"
	"time"

	"codeguard/internal/corpus"
	"codeguard/pkg/telemetry"
)

// Target is the engine-facing build of the analyzed source.
type Target struct {
	Binary     string
	StdinInput bool   // target reads its input from stdin rather than a file argument
	DictPath   string // optional AFL++ dictionary
}

// InstanceSpec is one engine process the Supervisor should launch.
type InstanceSpec struct {
	ID       string // engine id, also the name of its directory under the sync root
	Engine   string // engine family, e.g. "aflpp"
	SpanName string
	Cmd      *exec.Cmd

	// Stats, when set, is called after the process exited to attach engine
	// statistics to its span.
	Stats func() (*telemetry.SpanAttributes, error)
}

// Engine plans the processes of one fuzzing engine. Engines never share
// memory with each other; the sync directory is their only channel.
type Engine interface {
	Name() string
	// Plan returns the instances to launch, in launch order. The commands
	// must not be started.
	Plan(layout corpus.Layout, target Target, budget time.Duration) ([]InstanceSpec, error)
}
