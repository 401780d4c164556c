// Package decode turns per-thread function-call instrumentation captures
// into Chrome trace events.
//
// A capture is a sequence of records. Each record starts with a header word
// holding a flag class in its top bits and a microsecond delta in the rest;
// the flag selects the payload. Enter/exit records are paired through an
// explicit per-call stack, so nesting depth bounds memory and an exit with
// nothing open is reported instead of panicking.
package decode

import (
	"fmt"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"

	"x2trace/internal/chrome"
)

// MinVisibleDuration replaces zero-length spans; viewers do not draw them.
const MinVisibleDuration = 200 * time.Nanosecond

// Event categories written by the decoder.
const (
	CategoryCall    = "call"
	CategoryAsync   = "async"
	CategoryInstant = "instant"
)

// ArgVirtualDuration marks events whose duration was synthesized.
const ArgVirtualDuration = "virtual_duration"

// Options configures one Decode call.
type Options struct {
	Epoch    Epoch
	Width    Width
	PID      int
	TID      int
	Leftover LeftoverPolicy
	// Buffer names the input in errors.
	Buffer string
	// NormalizeNames applies Unicode NFC to names read from text blobs.
	NormalizeNames bool
}

func (o Options) validate() error {
	if o.Epoch != EpochCurrent && o.Epoch != EpochLegacy {
		return fmt.Errorf("decode: unsupported wire epoch %d", o.Epoch)
	}
	if !o.Width.Valid() {
		return fmt.Errorf("decode: unsupported address width %d", o.Width)
	}
	return nil
}

// Result is what one decode produced. On a fatal error it holds everything
// decoded before the failing record.
type Result struct {
	Events   []chrome.Event
	Warnings []Warning
	// Offset is where decoding stopped: len(buf) on success, otherwise the
	// failing or truncating record.
	Offset int
}

type state uint8

const (
	stateReading state = iota
	stateAwaitingPayload
	stateDone
	stateError
)

// machine is the per-call decoder state. Nothing outlives the call.
type machine struct {
	opts  Options
	cur   cursor
	rd    recordReader
	stack []chrome.Event
	res   *Result
	state state
	hdr   header
	err   *Error
}

// Decode reconstructs call events from one thread's capture.
//
// Both a partial Result and an *Error are returned when a record cannot be
// decoded. A zero header or calls left open at the end are warnings only.
func Decode(buf []byte, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	m := &machine{
		opts: opts,
		cur:  cursor{buf: buf, width: opts.Width},
		rd:   newRecordReader(opts.Epoch, opts.Width),
		res:  &Result{},
	}
	if err := m.run(); err != nil {
		return m.res, err
	}
	return m.res, nil
}

func (m *machine) run() error {
	for {
		switch m.state {
		case stateReading:
			m.read()
		case stateAwaitingPayload:
			m.decodePayload()
		case stateDone:
			return nil
		case stateError:
			m.err.Buffer = m.opts.Buffer
			m.res.Offset = m.err.Offset
			return m.err
		}
	}
}

func (m *machine) read() {
	if m.cur.atEnd() {
		m.res.Offset = m.cur.off
		m.finish()
		return
	}
	m.cur.mark = m.cur.off
	h, err := m.rd.header(&m.cur)
	if err != nil {
		m.fail(err)
		return
	}
	if h.zero {
		m.res.Warnings = append(m.res.Warnings, Warning{
			Kind:   WarnTruncatedBuffer,
			Offset: m.cur.mark,
			TID:    m.opts.TID,
		})
		m.res.Offset = m.cur.mark
		m.finish()
		return
	}
	if err := m.cur.advance(h.delta); err != nil {
		m.fail(err)
		return
	}
	m.hdr = h
	m.state = stateAwaitingPayload
}

func (m *machine) decodePayload() {
	rec, err := m.rd.payload(&m.cur, m.hdr)
	if err != nil {
		m.fail(err)
		return
	}
	if err := m.apply(rec); err != nil {
		m.fail(err)
		return
	}
	m.state = stateReading
}

func (m *machine) fail(err error) {
	e, ok := err.(*Error)
	if !ok {
		e = m.cur.fail(KindMalformedRecord, 0)
	}
	m.err = e
	m.state = stateError
}

// finish drains the stack per the leftover policy and ends the call.
func (m *machine) finish() {
	if n := len(m.stack); n > 0 {
		m.res.Warnings = append(m.res.Warnings, Warning{
			Kind:   WarnLeftoverStack,
			Offset: m.res.Offset,
			Count:  n,
			TID:    m.opts.TID,
		})
		if m.opts.Leftover == LeftoverFlush {
			m.res.Events = append(m.res.Events, m.stack...)
		}
		m.stack = nil
	}
	m.state = stateDone
}

func (m *machine) base(name, category string, phase chrome.Phase) chrome.Event {
	return chrome.Event{
		Name:      name,
		Category:  category,
		Phase:     phase,
		Timestamp: m.cur.ts,
		PID:       m.opts.PID,
		TID:       m.opts.TID,
	}
}

func (m *machine) name(s string) string {
	if m.opts.NormalizeNames {
		return norm.NFC.String(s)
	}
	return s
}

func (m *machine) apply(rec record) error {
	switch rec.kind {
	case recEnter:
		m.push(AddressName(rec.addr))
		return nil
	case recExit:
		return m.pop("")
	case recExtEnter:
		switch rec.sub {
		case subDuration:
			m.push(AddressName(rec.addr))
		case subAsync:
			m.emitAsync(chrome.PhaseAsyncStart, rec.text)
		case subInstant:
			ev := m.base(m.name(rec.text), CategoryInstant, chrome.PhaseInstant)
			ev.Scope = chrome.ScopeThread
			m.res.Events = append(m.res.Events, ev)
		}
		return nil
	case recExtExit:
		switch rec.sub {
		case subDuration:
			return m.pop(m.name(rec.text))
		case subAsync:
			m.emitAsync(chrome.PhaseAsyncEnd, rec.text)
		case subInstant:
			m.emitAsync(chrome.PhaseAsyncInstant, rec.text)
		}
		return nil
	}
	return m.cur.fail(KindMalformedRecord, uint64(rec.kind))
}

func (m *machine) push(name string) {
	m.stack = append(m.stack, m.base(name, CategoryCall, chrome.PhaseBegin))
}

// pop closes the innermost open call. A non-empty name replaces the
// placeholder the call was opened with.
func (m *machine) pop(name string) error {
	n := len(m.stack)
	if n == 0 {
		return m.cur.fail(KindStackUnderflow, 0)
	}
	ev := m.stack[n-1]
	m.stack = m.stack[:n-1]
	if name != "" {
		ev.Name = name
	}
	m.res.Events = append(m.res.Events, complete(ev, m.cur.ts))
	return nil
}

// The thread id is the async scope discriminator, so the scope is "t".
func (m *machine) emitAsync(phase chrome.Phase, text string) {
	name := m.name(text)
	ev := m.base(name, CategoryAsync, phase)
	ev.ID = name
	ev.Scope = chrome.ScopeThread
	m.res.Events = append(m.res.Events, ev)
}

// complete turns an open Begin event into a Complete event ending at end.
func complete(ev chrome.Event, end time.Duration) chrome.Event {
	ev.Phase = chrome.PhaseComplete
	ev.Duration = end - ev.Timestamp
	if ev.Duration == 0 {
		ev.Duration = MinVisibleDuration
		ev.SetArg(ArgVirtualDuration, "true")
	}
	return ev
}

// AddressName is the placeholder name of a call until it is symbolized.
func AddressName(addr uint64) string {
	return "0x" + strconv.FormatUint(addr, 16)
}
