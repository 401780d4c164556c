package selftrace

import (
	"go.uber.org/zap"
)

// LogTracer reports span ends and points as zap debug entries.
type LogTracer struct {
	log   *zap.Logger
	level Level
}

// NewLogTracer returns a tracer writing through log.
func NewLogTracer(log *zap.Logger, level Level) *LogTracer {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogTracer{log: log.Named("trace"), level: level}
}

// Emit logs ev. Begin events are skipped; the end carries the duration.
func (t *LogTracer) Emit(ev *Event) {
	if ev.Kind == KindSpanBegin {
		return
	}
	if !t.level.ShouldEmit(ev.Scope) && ev.Kind != KindHeartbeat {
		return
	}
	fields := make([]zap.Field, 0, 4+len(ev.Extra))
	fields = append(fields,
		zap.String("kind", ev.Kind.String()),
		zap.String("scope", ev.Scope.String()),
	)
	if ev.SpanID != 0 {
		fields = append(fields, zap.Uint64("span", ev.SpanID))
	}
	if ev.Detail != "" {
		fields = append(fields, zap.String("detail", ev.Detail))
	}
	for k, v := range ev.Extra {
		fields = append(fields, zap.String(k, v))
	}
	t.log.Debug(ev.Name, fields...)
}

func (t *LogTracer) Flush() error {
	// zap reports EINVAL/ENOTTY when syncing a console.
	_ = t.log.Sync()
	return nil
}

func (t *LogTracer) Close() error  { return t.Flush() }
func (t *LogTracer) Level() Level  { return t.level }
func (t *LogTracer) Enabled() bool { return t.level > LevelOff }
