package types

import "time"

// CrashMessage is emitted while engines are still running, as soon as a
// crash file shows up in one of the watched crash folders.
type CrashMessage struct {
	CrashFile string    // path to the crash file on local filesystem
	Engine    string    // id of the engine instance that wrote it
	SeenAt    time.Time // when the file system event was observed
}

// Progress is one triage notification, emitted once per attempted pair.
type Progress struct {
	Sanitizer SanitizerKind
	InputID   string
	Attempted int
	Total     int
	Err       error
}
