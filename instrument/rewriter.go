// Package instrument rewrites the methods of a unit so that they call the
// trace sink on method entry and exit, object creation, field and array
// accesses and reference variable accesses. Units whose rewrite fails are
// returned unchanged.
package instrument

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/weave/config"
	"github.com/chazu/weave/pkg/bytecode"
	"github.com/chazu/weave/pkg/flow"
)

var log = commonlog.GetLogger("weave.instrument")

// Codec converts between serialized units and their in-memory form.
type Codec interface {
	Decode(data []byte) (*bytecode.Unit, error)
	Encode(u *bytecode.Unit) ([]byte, error)
}

// Status is the outcome of rewriting one unit.
type Status int

const (
	// StatusRewritten means the output carries instrumentation.
	StatusRewritten Status = iota
	// StatusSkipped means the unit was excluded or the session is
	// disabled. The output is the input.
	StatusSkipped
	// StatusFallback means rewriting failed and the original unit was
	// returned.
	StatusFallback
	// StatusFailed means the input could not be decoded or the output
	// could not be encoded.
	StatusFailed
)

var statusNames = [...]string{"rewritten", "skipped", "fallback", "failed"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if name == s {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

// Stats counts the probes injected into a unit.
type Stats struct {
	Methods          int // methods rewritten
	MethodEnters     int
	MethodExits      int
	ExceptionalExits int
	CoalescedExits   int // returns left without an exit probe
	ObjectsCreated   int
	ArraysCreated    int
	FieldLoads       int
	FieldStores      int
	ArrayLoads       int
	ArrayStores      int
	VarLoads         int
	VarStores        int
	SkippedAccesses  int // accesses left uninstrumented
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Methods += o.Methods
	s.MethodEnters += o.MethodEnters
	s.MethodExits += o.MethodExits
	s.ExceptionalExits += o.ExceptionalExits
	s.CoalescedExits += o.CoalescedExits
	s.ObjectsCreated += o.ObjectsCreated
	s.ArraysCreated += o.ArraysCreated
	s.FieldLoads += o.FieldLoads
	s.FieldStores += o.FieldStores
	s.ArrayLoads += o.ArrayLoads
	s.ArrayStores += o.ArrayStores
	s.VarLoads += o.VarLoads
	s.VarStores += o.VarStores
	s.SkippedAccesses += o.SkippedAccesses
}

// Probes returns the number of sink calls injected. An array allocation
// is reported with three.
func (s Stats) Probes() int {
	return s.MethodEnters + s.MethodExits + s.ExceptionalExits +
		s.ObjectsCreated + 3*s.ArraysCreated +
		s.FieldLoads + s.FieldStores + s.ArrayLoads + s.ArrayStores +
		s.VarLoads + s.VarStores
}

// Result describes the rewrite of one unit.
type Result struct {
	Unit   string
	Status Status
	Reason string // why the unit was skipped or fell back
	Stats  Stats
}

// Failure is a recorded rewrite error.
type Failure struct {
	Unit string
	Err  error
}

// FailureLog collects rewrite errors. It is safe for concurrent use.
type FailureLog struct {
	mu       sync.Mutex
	failures []Failure
}

// Record appends a failure.
func (l *FailureLog) Record(unit string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = append(l.failures, Failure{Unit: unit, Err: err})
}

// Failures returns a copy of the recorded failures.
func (l *FailureLog) Failures() []Failure {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Failure, len(l.failures))
	copy(out, l.failures)
	return out
}

// Len returns the number of recorded failures.
func (l *FailureLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.failures)
}

// Rewriter rewrites units under one session configuration. It holds no
// per-unit state and may be used from several goroutines.
type Rewriter struct {
	cfg      *config.Config
	filter   Filter
	codec    Codec
	failures *FailureLog
	stages   []stage
	opts     options
}

// Option configures a Rewriter.
type Option func(*Rewriter)

// WithFilter replaces the default blacklist filter.
func WithFilter(f Filter) Option {
	return func(r *Rewriter) { r.filter = f }
}

// WithCodec replaces the default unit codec.
func WithCodec(c Codec) Option {
	return func(r *Rewriter) { r.codec = c }
}

// WithFailureLog records failures into l instead of a private log.
func WithFailureLog(l *FailureLog) Option {
	return func(r *Rewriter) { r.failures = l }
}

// New returns a rewriter for cfg. A nil cfg means config.Default().
func New(cfg *config.Config, opts ...Option) *Rewriter {
	if cfg == nil {
		cfg = config.Default()
	}
	r := &Rewriter{
		cfg:      cfg,
		filter:   NewBlacklistFilter(cfg.Exclude...),
		codec:    bytecode.WireCodec{},
		failures: &FailureLog{},
		opts:     options{coalesceExits: cfg.CoalesceExits, verify: cfg.Verify},
	}
	for _, o := range opts {
		o(r)
	}
	if cfg.Fields {
		r.stages = append(r.stages, fieldStage)
	}
	if cfg.Variables {
		r.stages = append(r.stages, varStage)
	}
	if cfg.Methods {
		r.stages = append(r.stages, allocStage, boundaryStage)
	}
	return r
}

// Config returns the session configuration.
func (r *Rewriter) Config() *config.Config { return r.cfg }

// Failures returns the log rewrite errors are recorded into.
func (r *Rewriter) Failures() *FailureLog { return r.failures }

// RewriteUnit returns an instrumented copy of u. Excluded units and
// disabled sessions return u itself. A *RewriteError means nothing was
// produced; u is never modified.
func (r *Rewriter) RewriteUnit(u *bytecode.Unit) (*bytecode.Unit, error) {
	out, _, err := r.rewriteUnit(u)
	return out, err
}

func (r *Rewriter) rewriteUnit(u *bytecode.Unit) (*bytecode.Unit, Result, error) {
	res := Result{Unit: u.Name, Status: StatusSkipped}
	switch {
	case r.cfg.Disabled():
		res.Reason = "instrumentation disabled"
		return u, res, nil
	case r.filter != nil && r.filter.IsExcluded(u.Name):
		res.Reason = "excluded by filter"
		return u, res, nil
	}

	out := u.Clone()
	for _, m := range out.Methods {
		if !m.HasCode() || m.IsSynthetic() {
			continue
		}
		var stats Stats
		for _, s := range r.stages {
			if err := applyStage(out, m, s, r.opts, &stats); err != nil {
				return nil, res, err
			}
		}
		if err := flow.ComputeMaxs(out.Name, m); err != nil {
			return nil, res, verifyError(out.Name, m, "computing frame sizes", err)
		}
		stats.Methods++
		res.Stats.Add(stats)
	}
	res.Status = StatusRewritten
	return out, res, nil
}

// Transform decodes data, rewrites the unit and encodes the result. A
// rewrite error is logged and recorded, and data is returned unchanged
// with StatusFallback. Only codec failures are returned as errors.
func (r *Rewriter) Transform(data []byte) ([]byte, Result, error) {
	u, err := r.codec.Decode(data)
	if err != nil {
		return nil, Result{Status: StatusFailed, Reason: err.Error()}, fmt.Errorf("decode: %w", err)
	}

	out, res, err := r.rewriteUnit(u)
	if err != nil {
		log.Warningf("falling back to original %s: %v", u.Name, err)
		r.failures.Record(u.Name, err)
		return data, Result{Unit: u.Name, Status: StatusFallback, Reason: err.Error()}, nil
	}
	if res.Status == StatusSkipped {
		log.Debugf("%s: %s", u.Name, res.Reason)
		return data, res, nil
	}

	encoded, err := r.codec.Encode(out)
	if err != nil {
		return nil, Result{Unit: u.Name, Status: StatusFailed, Reason: err.Error()}, fmt.Errorf("encode %s: %w", u.Name, err)
	}
	if r.cfg.Trace {
		if err := r.writeTrace(out); err != nil {
			log.Warningf("trace %s: %v", u.Name, err)
		}
	}
	log.Debugf("%s: %d methods, %d probes", u.Name, res.Stats.Methods, res.Stats.Probes())
	return encoded, res, nil
}

// TracePath returns where the disassembly of the unit named name is written.
func (r *Rewriter) TracePath(name string) string {
	return filepath.Join(r.cfg.TraceDir, bytecode.RelPath(name)+".bytecode")
}

func (r *Rewriter) writeTrace(u *bytecode.Unit) error {
	path := r.TracePath(u.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(u.Disassemble()), 0o644)
}
