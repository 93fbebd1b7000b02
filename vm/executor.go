package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/flux/compiler"
)

var log = commonlog.GetLogger("flux.vm")

// Default executor limits.
const (
	DefaultStackDepth = 256
	DefaultJumpDepth  = 64
)

// Config holds the construction parameters of an executor.
type Config struct {
	Lanes      int
	StackDepth int   // per-lane data stack capacity
	JumpDepth  int   // shared jump stack capacity
	Buffers    []int // element count of each pool buffer
	Primary    int   // lane whose top of stack is the result

	// Output receives the lines written by the print word. Nil discards
	// them.
	Output io.Writer

	// OnStep, if set, is called by each lane before every instruction.
	// It runs on the lane's goroutine and must be safe for concurrent use.
	OnStep func(lane, ip int, w compiler.Word)
}

// DefaultConfig returns a single-lane configuration with no buffers.
func DefaultConfig() Config {
	return Config{
		Lanes:      1,
		StackDepth: DefaultStackDepth,
		JumpDepth:  DefaultJumpDepth,
	}
}

// Validate reports a configuration the executor cannot run.
func (c Config) Validate() error {
	switch {
	case c.Lanes < 1:
		return fmt.Errorf("lane count must be positive, got %d", c.Lanes)
	case c.StackDepth < 1:
		return fmt.Errorf("stack depth must be positive, got %d", c.StackDepth)
	case c.JumpDepth < 0:
		return fmt.Errorf("jump depth must not be negative, got %d", c.JumpDepth)
	case c.Primary < 0 || c.Primary >= c.Lanes:
		return fmt.Errorf("primary lane %d out of range [0, %d)", c.Primary, c.Lanes)
	}
	for i, n := range c.Buffers {
		if n < 0 {
			return fmt.Errorf("buffer %d has negative size %d", i, n)
		}
	}
	return nil
}

// LaneReport describes one lane after a successful run.
type LaneReport struct {
	Lane  int
	Steps int
	Stack []int32 // final data stack, bottom first
}

// Result is the outcome of a successful run.
type Result struct {
	Buffers [][]int32
	Value   int32 // top of stack of the primary lane
	Primary int
	Lanes   []LaneReport
	Syncs   int // completed barrier rendezvous
}

// Executor runs a compiled program on a fixed number of lanes. It holds no
// per-run state, so one executor may run concurrently on several pools.
type Executor struct {
	prog *compiler.Program
	cfg  Config
}

// New returns an executor for prog. The program is not validated here; a
// word that cannot execute is reported as MalformedWord when a lane reaches
// it.
func New(prog *compiler.Program, cfg Config) (*Executor, error) {
	if prog == nil {
		return nil, errors.New("nil program")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Executor{prog: prog, cfg: cfg}, nil
}

// Config returns the executor's configuration.
func (e *Executor) Config() Config { return e.cfg }

// Program returns the program the executor runs.
func (e *Executor) Program() *compiler.Program { return e.prog }

// run is the state shared by the lanes of one execution.
type run struct {
	prog    *compiler.Program
	cfg     Config
	pool    *BufferPool
	barrier *Barrier
	jumps   jumpStack
	landing int // return address popped by the last collective return

	failed atomic.Bool
	mu     sync.Mutex
	cause  error
	outMu  sync.Mutex
}

// fail records the first fatal error and releases every parked lane.
func (r *run) fail(err error) {
	r.mu.Lock()
	if r.cause == nil {
		r.cause = err
	}
	r.mu.Unlock()
	r.failed.Store(true)
	r.barrier.Break(err)
}

func (r *run) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cause
}

// Execute runs every lane to completion against pool. A nil pool is
// allocated from the configured buffer sizes. On failure the first fatal
// error is returned and no result is produced.
func (e *Executor) Execute(ctx context.Context, pool *BufferPool) (*Result, error) {
	if pool == nil {
		pool = NewBufferPool(e.cfg.Buffers)
	}
	r := &run{
		prog:    e.prog,
		cfg:     e.cfg,
		pool:    pool,
		barrier: NewBarrier(e.cfg.Lanes),
		jumps:   jumpStack{depth: e.cfg.JumpDepth},
	}

	stop := context.AfterFunc(ctx, func() {
		r.fail(&LaneError{Kind: Aborted, Lane: -1, Err: ctx.Err()})
	})

	lanes := make([]*lane, e.cfg.Lanes)
	g, gctx := errgroup.WithContext(ctx)
	for i := range lanes {
		l := &lane{id: i, run: r, stack: newStack(e.cfg.StackDepth)}
		lanes[i] = l
		g.Go(func() error {
			return l.loop(gctx)
		})
	}
	waitErr := g.Wait()
	stop()

	if err := r.err(); err != nil {
		log.Warningf("execution failed: %s", err)
		return nil, err
	}
	if waitErr != nil {
		return nil, waitErr
	}

	res := &Result{
		Buffers: pool.Buffers(),
		Primary: e.cfg.Primary,
		Lanes:   make([]LaneReport, len(lanes)),
		Syncs:   r.barrier.Trips(),
	}
	for i, l := range lanes {
		res.Lanes[i] = LaneReport{Lane: i, Steps: l.steps, Stack: l.stack.Snapshot()}
	}
	primary := lanes[e.cfg.Primary]
	v, ok := primary.stack.Top()
	if !ok {
		return nil, &LaneError{Kind: EmptyResult, Lane: primary.id, IP: -1}
	}
	res.Value = v
	log.Debugf("executed %d lanes, %d syncs, result %d", len(lanes), res.Syncs, v)
	return res, nil
}

// Run is New followed by Execute on a fresh pool.
func Run(ctx context.Context, prog *compiler.Program, cfg Config) (*Result, error) {
	e, err := New(prog, cfg)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, nil)
}
