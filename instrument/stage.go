package instrument

import (
	"fmt"

	"github.com/chazu/weave/pkg/bytecode"
	"github.com/chazu/weave/pkg/flow"
	"github.com/chazu/weave/pkg/trace"
)

// A stage rewrites the code of one method into a new instruction stream.
// Stages run in a fixed order, each on the output of the previous one,
// and each gets frames computed for its own input.
type stage struct {
	name string
	run  func(rw *rewrite) error
}

// rewrite is the state of one stage over one method.
type rewrite struct {
	unit   *bytecode.Unit
	method *bytecode.Method
	frames *flow.Result
	b      *bytecode.Builder
	stats  *Stats
	opts   options

	index  int   // instruction of the input being rewritten
	starts []int // output position where each input instruction begins
}

// options carries the session settings stages consult.
type options struct {
	coalesceExits bool
	verify        bool
}

// applyStage analyzes m, runs s over it and replaces m's code.
func applyStage(u *bytecode.Unit, m *bytecode.Method, s stage, opts options, stats *Stats) error {
	frames, err := flow.Analyze(u.Name, m)
	if err != nil {
		return verifyError(u.Name, m, "input of "+s.name, err)
	}
	rw := newRewrite(u, m, frames, opts, stats)
	if err := s.run(rw); err != nil {
		return err
	}
	m.Code = rw.b.Take()
	log.Debugf("%s.%s: %s stage, %d instructions", u.Name, m, s.name, len(m.Code))
	if !opts.verify {
		return nil
	}

	after, err := flow.Analyze(u.Name, m)
	if err == nil {
		err = checkNeutral(frames, after, rw.starts)
	}
	if err != nil {
		return verifyError(u.Name, m, "output of "+s.name, err)
	}
	return nil
}

func newRewrite(u *bytecode.Unit, m *bytecode.Method, frames *flow.Result, opts options, stats *Stats) *rewrite {
	return &rewrite{
		unit:   u,
		method: m,
		frames: frames,
		b:      bytecode.NewBuilder(m),
		stats:  stats,
		opts:   opts,
		starts: make([]int, len(m.Code)),
	}
}

// begin records that input instruction i starts at the current output
// position.
func (rw *rewrite) begin(i int) {
	rw.index = i
	rw.starts[i] = rw.b.Len()
}

// checkNeutral compares the operand stack before every reachable input
// instruction with the stack at the start of its rewritten form. Injected
// code must leave no trace on either.
func checkNeutral(before, after *flow.Result, starts []int) error {
	for i, at := range starts {
		want := before.At(i)
		if want == nil {
			continue
		}
		got := after.At(at)
		if got == nil {
			return fmt.Errorf("instruction %d became unreachable", i)
		}
		if !sameStack(want.Stack, got.Stack) {
			return fmt.Errorf("instruction %d: stack %v, was %v", i, got.Stack, want.Stack)
		}
	}
	return nil
}

// sameStack compares two stacks slot by slot. Uninitialized values are
// compared by class only since their NEW moves in the output.
func sameStack(a, b []flow.Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.Kind == flow.Uninitialized && y.Kind == flow.Uninitialized {
			x.Site, y.Site = 0, 0
		}
		if x != y {
			return false
		}
	}
	return true
}

// eachInsn builds a stage body that visits the input instructions in order.
func eachInsn(fn func(rw *rewrite, insn bytecode.Insn) error) func(*rewrite) error {
	return func(rw *rewrite) error {
		for i, insn := range rw.method.Code {
			rw.begin(i)
			if err := fn(rw, insn); err != nil {
				return err
			}
		}
		return nil
	}
}

// frame returns the frame before the current instruction, nil if it is
// unreachable.
func (rw *rewrite) frame() *flow.Frame {
	return rw.frames.At(rw.index)
}

// keep copies the current instruction to the output.
func (rw *rewrite) keep(insn bytecode.Insn) {
	rw.b.EmitInsn(insn)
}

func (rw *rewrite) errorf(kind error, format string, args ...any) *RewriteError {
	return &RewriteError{
		Unit:   rw.unit.Name,
		Method: rw.method.String(),
		Index:  rw.index,
		Kind:   kind,
		Detail: fmt.Sprintf(format, args...),
	}
}

// caller pushes the identity of the executing method's receiver.
func (rw *rewrite) caller() {
	ClassifyCaller(rw.method, rw.frame()).Emit(rw.b)
}

// text pushes string constants.
func (rw *rewrite) text(values ...string) {
	for _, v := range values {
		rw.b.EmitString(v)
	}
}

func (rw *rewrite) call(sig trace.Signature) {
	callSink(rw.b, sig)
}
