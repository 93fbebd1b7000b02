package vm

import (
	"context"
	"fmt"

	"github.com/chazu/flux/compiler"
)

// ---------------------------------------------------------------------------
// Lane: one goroutine running the shared program
// ---------------------------------------------------------------------------

type lane struct {
	id    int
	run   *run
	stack *Stack
	ip    int
	steps int
}

// laneError describes a fatal error at the current instruction. The stack
// is captured as it was before the instruction ran.
func (l *lane) laneError(kind ErrorKind, w compiler.Word) *LaneError {
	return &LaneError{
		Kind:  kind,
		Lane:  l.id,
		IP:    l.ip,
		Word:  w,
		Stack: l.stack.Snapshot(),
	}
}

// fault fails the run with a lane error.
func (l *lane) fault(kind ErrorKind, w compiler.Word) error {
	err := l.laneError(kind, w)
	log.Debugf("lane %d: %s", l.id, err)
	l.run.fail(err)
	return err
}

// rendezvous waits at the barrier. Barrier actions run with the barrier
// locked, so they report errors by return and the run fails here.
func (l *lane) rendezvous(ctx context.Context, action func() error) error {
	if err := l.run.barrier.Wait(ctx, action); err != nil {
		l.run.fail(err)
		return err
	}
	return nil
}

// loop executes instructions until the lane halts or the run fails.
func (l *lane) loop(ctx context.Context) error {
	r := l.run
	code := r.prog.Code
	main := r.prog.Main
	log.Debugf("lane %d: start", l.id)

	for {
		if r.failed.Load() {
			return r.err()
		}
		// The jump stack only changes inside a barrier action, so every
		// lane sees the same depth here.
		if l.ip == main && r.jumps.Len() == 0 {
			log.Debugf("lane %d: halt after %d steps", l.id, l.steps)
			return nil
		}
		if l.ip < 0 || l.ip >= len(code) {
			return l.fault(OutOfBounds, 0)
		}

		in := code[l.ip]
		if r.cfg.OnStep != nil {
			r.cfg.OnStep(l.id, l.ip, in.Word)
		}
		l.steps++

		if in.IsCall() {
			if err := l.call(ctx, in); err != nil {
				return err
			}
			continue
		}
		if err := l.step(ctx, in.Word); err != nil {
			return err
		}
	}
}

// step executes one non-call instruction and advances the cursor.
func (l *lane) step(ctx context.Context, w compiler.Word) error {
	s := l.stack
	op := w.Op()

	switch op {
	case compiler.OpPush:
		if err := s.need(0, 1); err != nil {
			return l.fault(err.(ErrorKind), w)
		}
		v, _ := w.Numeric()
		s.push(int32(v))

	case compiler.OpAdd, compiler.OpSub, compiler.OpMul, compiler.OpDiv, compiler.OpRem:
		if err := s.need(2, 1); err != nil {
			return l.fault(err.(ErrorKind), w)
		}
		x, y := s.peek(0), s.peek(1)
		if (op == compiler.OpDiv || op == compiler.OpRem) && y == 0 {
			return l.fault(DivideByZero, w)
		}
		s.drop(2)
		s.push(arith(op, x, y))

	case compiler.OpStore:
		if err := s.need(3, 0); err != nil {
			return l.fault(err.(ErrorKind), w)
		}
		v, elem, buf := s.peek(0), s.peek(1), s.peek(2)
		if err := l.run.pool.Store(buf, elem, v); err != nil {
			return l.fault(OutOfBounds, w)
		}
		s.drop(3)

	case compiler.OpLoad:
		if err := s.need(2, 1); err != nil {
			return l.fault(err.(ErrorKind), w)
		}
		elem, buf := s.peek(0), s.peek(1)
		v, err := l.run.pool.Load(buf, elem)
		if err != nil {
			return l.fault(OutOfBounds, w)
		}
		s.drop(2)
		s.push(v)

	case compiler.OpSync:
		if err := l.rendezvous(ctx, nil); err != nil {
			return err
		}

	case compiler.OpReturn:
		return l.ret(ctx, w)

	case compiler.OpPrint:
		if err := s.need(1, 0); err != nil {
			return l.fault(err.(ErrorKind), w)
		}
		l.print(s.pop())

	case compiler.OpLane:
		if err := s.need(0, 1); err != nil {
			return l.fault(err.(ErrorKind), w)
		}
		s.push(int32(l.id))

	default:
		return l.fault(MalformedWord, w)
	}

	l.ip++
	return nil
}

// arith applies a binary operator with x, the top of stack, as the left
// operand. Division by zero is checked by the caller.
func arith(op compiler.Op, x, y int32) int32 {
	switch op {
	case compiler.OpAdd:
		return x + y
	case compiler.OpSub:
		return x - y
	case compiler.OpMul:
		return x * y
	case compiler.OpDiv:
		return x / y
	default:
		return x % y
	}
}

// call is a collective call: the last lane to arrive pushes the return
// address once, then every lane jumps to the callee.
func (l *lane) call(ctx context.Context, in compiler.Instr) error {
	r := l.run
	ret := l.ip + 1
	err := l.rendezvous(ctx, func() error {
		if err := r.jumps.push(ret); err != nil {
			return l.laneError(err.(ErrorKind), in.Word)
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.ip = int(in.Target)
	return nil
}

// ret is a collective return: the last lane to arrive pops the return
// address once, then every lane continues there.
func (l *lane) ret(ctx context.Context, w compiler.Word) error {
	r := l.run
	err := l.rendezvous(ctx, func() error {
		addr, err := r.jumps.pop()
		if err != nil {
			return l.laneError(err.(ErrorKind), w)
		}
		r.landing = addr
		return nil
	})
	if err != nil {
		return err
	}
	l.ip = r.landing
	return nil
}

func (l *lane) print(v int32) {
	out := l.run.cfg.Output
	if out == nil {
		return
	}
	l.run.outMu.Lock()
	defer l.run.outMu.Unlock()
	fmt.Fprintf(out, "lane %d: %d\n", l.id, v)
}
