// Package chrome models events of the Chrome Trace Event format and their
// JSON wire representation.
package chrome

import (
	"encoding/json"
	"time"
)

// Phase is the single-character event type of the trace event format.
type Phase string

const (
	PhaseBegin             Phase = "B"
	PhaseEnd               Phase = "E"
	PhaseComplete          Phase = "X"
	PhaseInstant           Phase = "I"
	PhaseCounter           Phase = "C"
	PhaseAsyncStart        Phase = "b"
	PhaseAsyncInstant      Phase = "n"
	PhaseAsyncEnd          Phase = "e"
	PhaseFlowStart         Phase = "s"
	PhaseFlowStep          Phase = "t"
	PhaseFlowEnd           Phase = "f"
	PhaseSample            Phase = "P"
	PhaseObjectCreated     Phase = "N"
	PhaseObjectSnapshot    Phase = "O"
	PhaseObjectDestroyed   Phase = "D"
	PhaseMetadata          Phase = "M"
	PhaseMemoryDumpGlobal  Phase = "V"
	PhaseMemoryDumpProcess Phase = "v"
	PhaseMark              Phase = "R"
	PhaseClockSync         Phase = "c"
	PhaseContext           Phase = ","
)

// Async reports whether the phase belongs to the nestable async family,
// which requires an id.
func (p Phase) Async() bool {
	return p == PhaseAsyncStart || p == PhaseAsyncInstant || p == PhaseAsyncEnd
}

// Scope is the optional "s" field of instant and async events.
type Scope string

const (
	ScopeNone    Scope = ""
	ScopeGlobal  Scope = "g"
	ScopeProcess Scope = "p"
	ScopeThread  Scope = "t"
)

// Event is one trace event.
//
// Timestamp and Duration are kept as time.Duration so sub-microsecond
// values survive until serialization. Duration is only written for
// PhaseComplete.
type Event struct {
	Name      string
	Category  string
	Phase     Phase
	Timestamp time.Duration
	Duration  time.Duration
	PID       int
	TID       int
	Scope     Scope
	ID        string
	Args      map[string]string
}

// SetArg stores a string argument, allocating the map on first use.
func (e *Event) SetArg(key, value string) {
	if e.Args == nil {
		e.Args = make(map[string]string, 1)
	}
	e.Args[key] = value
}

type jsonEvent struct {
	Name     string            `json:"name"`
	Category string            `json:"cat"`
	Phase    Phase             `json:"ph"`
	TS       json.Number       `json:"ts"`
	Dur      json.Number       `json:"dur,omitempty"`
	PID      int               `json:"pid"`
	TID      int               `json:"tid"`
	Scope    Scope             `json:"s,omitempty"`
	ID       string            `json:"id,omitempty"`
	Args     map[string]string `json:"args,omitempty"`
}

// MarshalJSON renders the event with the field names trace viewers expect.
func (e Event) MarshalJSON() ([]byte, error) {
	j := jsonEvent{
		Name:     e.Name,
		Category: e.Category,
		Phase:    e.Phase,
		TS:       Micros(e.Timestamp),
		PID:      e.PID,
		TID:      e.TID,
		Scope:    e.Scope,
		ID:       e.ID,
		Args:     e.Args,
	}
	if e.Phase == PhaseComplete {
		j.Dur = Micros(e.Duration)
	}
	return json.Marshal(j)
}

// ThreadName returns the metadata event that labels a thread in viewers.
func ThreadName(pid, tid int, name string) Event {
	return Event{
		Name:  "thread_name",
		Phase: PhaseMetadata,
		PID:   pid,
		TID:   tid,
		Args:  map[string]string{"name": name},
	}
}

// ProcessName returns the metadata event that labels a process in viewers.
func ProcessName(pid int, name string) Event {
	return Event{
		Name:  "process_name",
		Phase: PhaseMetadata,
		PID:   pid,
		Args:  map[string]string{"name": name},
	}
}
