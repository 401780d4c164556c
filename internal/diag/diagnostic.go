package diag

import (
	"fmt"
)

// Location points into one input buffer. Line is set for text input,
// Offset for binary; Offset < 0 means the whole buffer.
type Location struct {
	Buffer string
	Offset int
	Line   int
}

func (l Location) String() string {
	switch {
	case l.Line > 0:
		return fmt.Sprintf("%s:%d", l.Buffer, l.Line)
	case l.Offset >= 0:
		return fmt.Sprintf("%s@%d", l.Buffer, l.Offset)
	}
	return l.Buffer
}

type Diagnostic struct {
	Severity Severity
	Code     Code
	Message  string
	Location Location
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s %s: %s: %s", d.Severity, d.Code.ID(), d.Location, d.Message)
}
