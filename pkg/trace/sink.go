package trace

import (
	"fmt"
	"io"
	"sync"

	"github.com/tliron/commonlog"
)

// Sink receives the events of instrumented code. Implementations must be
// safe for use by concurrently running threads.
type Sink interface {
	MethodEnter(MethodEnter)
	MethodExit(MethodExit)
	ObjectCreated(ObjectCreated)
	FieldLoad(FieldLoad)
	FieldStore(FieldStore)
	ArrayLoad(ArrayLoad)
	ArrayStore(ArrayStore)
	VarLoad(VarLoad)
	VarStore(VarStore)
}

// Deliver hands ev to the matching method of s.
func Deliver(s Sink, ev Event) {
	switch e := ev.(type) {
	case MethodEnter:
		s.MethodEnter(e)
	case MethodExit:
		s.MethodExit(e)
	case ObjectCreated:
		s.ObjectCreated(e)
	case FieldLoad:
		s.FieldLoad(e)
	case FieldStore:
		s.FieldStore(e)
	case ArrayLoad:
		s.ArrayLoad(e)
	case ArrayStore:
		s.ArrayStore(e)
	case VarLoad:
		s.VarLoad(e)
	case VarStore:
		s.VarStore(e)
	}
}

// funcSink adapts a single callback to Sink.
type funcSink func(Event)

// SinkFunc returns a Sink that passes every event to fn.
func SinkFunc(fn func(Event)) Sink { return funcSink(fn) }

func (f funcSink) MethodEnter(e MethodEnter)     { f(e) }
func (f funcSink) MethodExit(e MethodExit)       { f(e) }
func (f funcSink) ObjectCreated(e ObjectCreated) { f(e) }
func (f funcSink) FieldLoad(e FieldLoad)         { f(e) }
func (f funcSink) FieldStore(e FieldStore)       { f(e) }
func (f funcSink) ArrayLoad(e ArrayLoad)         { f(e) }
func (f funcSink) ArrayStore(e ArrayStore)       { f(e) }
func (f funcSink) VarLoad(e VarLoad)             { f(e) }
func (f funcSink) VarStore(e VarStore)           { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans events out to several sinks in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(ev Event) {
		for _, s := range sinks {
			Deliver(s, ev)
		}
	})
}

// Recorder keeps every event in arrival order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) MethodEnter(e MethodEnter)     { r.record(e) }
func (r *Recorder) MethodExit(e MethodExit)       { r.record(e) }
func (r *Recorder) ObjectCreated(e ObjectCreated) { r.record(e) }
func (r *Recorder) FieldLoad(e FieldLoad)         { r.record(e) }
func (r *Recorder) FieldStore(e FieldStore)       { r.record(e) }
func (r *Recorder) ArrayLoad(e ArrayLoad)         { r.record(e) }
func (r *Recorder) ArrayStore(e ArrayStore)       { r.record(e) }
func (r *Recorder) VarLoad(e VarLoad)             { r.record(e) }
func (r *Recorder) VarStore(e VarStore)           { r.record(e) }

// Events returns a snapshot of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Reset discards all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Validate checks kind exclusivity on every recorded event.
func (r *Recorder) Validate() error {
	for _, ev := range r.Events() {
		if err := Validate(ev); err != nil {
			return err
		}
	}
	return nil
}

// Balanced checks that method entries and exits nest properly: every
// MethodExit closes the innermost open MethodEnter of the same method and
// nothing is left open. It assumes a single thread of execution.
func (r *Recorder) Balanced() error {
	type frame struct{ unit, name string }
	var open []frame
	for i, ev := range r.Events() {
		switch e := ev.(type) {
		case MethodEnter:
			open = append(open, frame{e.Unit, e.Name})
		case MethodExit:
			if len(open) == 0 {
				return fmt.Errorf("trace: event %d: exit %s.%s without entry", i, e.Unit, e.Name)
			}
			top := open[len(open)-1]
			if top.unit != e.Unit || top.name != e.Name {
				return fmt.Errorf("trace: event %d: exit %s.%s while %s.%s is innermost", i, e.Unit, e.Name, top.unit, top.name)
			}
			open = open[:len(open)-1]
		}
	}
	if len(open) > 0 {
		top := open[len(open)-1]
		return fmt.Errorf("trace: %d entries never exited, innermost %s.%s", len(open), top.unit, top.name)
	}
	return nil
}

// Printer writes one line per event.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
	Sink
}

// NewPrinter creates a sink that prints events to w.
func NewPrinter(w io.Writer) *Printer {
	p := &Printer{w: w}
	p.Sink = SinkFunc(func(ev Event) {
		p.mu.Lock()
		defer p.mu.Unlock()
		fmt.Fprintln(p.w, ev.String())
	})
	return p
}

// NewLogSink creates a sink that logs every event at debug level.
func NewLogSink(log commonlog.Logger) Sink {
	return SinkFunc(func(ev Event) {
		log.Debug(ev.String())
	})
}
