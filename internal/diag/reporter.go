package diag

import (
	"go.uber.org/zap"
)

// Reporter receives diagnostics from the conversion stages.
type Reporter interface {
	Report(d Diagnostic)
}

// MultiReporter fans a diagnostic out to several reporters.
type MultiReporter []Reporter

func (m MultiReporter) Report(d Diagnostic) {
	for _, r := range m {
		if r != nil {
			r.Report(d)
		}
	}
}

// LogReporter writes diagnostics to a zap logger at a level matching
// their severity.
type LogReporter struct{ Log *zap.Logger }

func (r LogReporter) Report(d Diagnostic) {
	if r.Log == nil {
		return
	}
	fields := []zap.Field{
		zap.String("code", d.Code.ID()),
		zap.String("buffer", d.Location.Buffer),
	}
	if d.Location.Line > 0 {
		fields = append(fields, zap.Int("line", d.Location.Line))
	} else if d.Location.Offset >= 0 {
		fields = append(fields, zap.Int("offset", d.Location.Offset))
	}
	switch d.Severity {
	case SevError:
		r.Log.Error(d.Message, fields...)
	case SevWarning:
		r.Log.Warn(d.Message, fields...)
	default:
		r.Log.Info(d.Message, fields...)
	}
}
