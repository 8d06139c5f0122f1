package riglog

import (
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// RecordFields is the metadata stamped onto every record.
type RecordFields struct {
	Project     string
	ComponentID *string
	RigName     string
	Version     *string
	RunID       string
}

// Enrichment is a zerolog hook that adds RecordFields to every event. The
// field set is swapped atomically by Install, so records created before an
// Install keep the values they were built with.
type Enrichment struct {
	fields atomic.Pointer[RecordFields]
	runID  string
}

func NewEnrichment() *Enrichment {
	return &Enrichment{runID: uuid.NewString()}
}

// Install replaces the field set. An empty project falls back to the base
// name of the working directory. The last call wins.
func (en *Enrichment) Install(project string) *RecordFields {
	if project == emptyString {
		project = defaultProjectName()
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	f := &RecordFields{
		Project: project,
		RigName: host,
		RunID:   en.runID,
	}
	if v, ok := os.LookupEnv(ComponentIDEnv); ok {
		f.ComponentID = &v
	}
	en.fields.Store(f)
	return f
}

// Fields returns the current field set, or nil before the first Install.
func (en *Enrichment) Fields() *RecordFields {
	return en.fields.Load()
}

// Run implements zerolog.Hook.
func (en *Enrichment) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	f := en.fields.Load()
	if f == nil {
		return
	}
	e.Str("project", f.Project)
	if f.ComponentID != nil {
		e.Str("component_id", *f.ComponentID)
	} else {
		e.Interface("component_id", nil)
	}
	e.Str("rig_name", f.RigName)
	e.Str("hostname", f.RigName)
	if f.Version != nil {
		e.Str("version", *f.Version)
	} else {
		e.Interface("version", nil)
	}
	e.Str("run_id", f.RunID)
}
