package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/chazu/flux/compiler"
	"github.com/chazu/flux/store"
	"github.com/chazu/flux/vm"
	"github.com/chazu/flux/wire"
)

// Procedure paths of the Flux service.
const (
	ServiceName      = "flux.v1.FluxService"
	CompileProcedure = "/" + ServiceName + "/Compile"
	ExecuteProcedure = "/" + ServiceName + "/Execute"
	HistoryProcedure = "/" + ServiceName + "/History"
)

// maxOutput bounds the print output returned by Execute.
const maxOutput = 64 << 10

// Service implements the Flux Connect procedures.
type Service struct {
	vmConfig  vm.Config
	compile   compiler.Options
	history   *store.Store
	lanes     *semaphore.Weighted
	laneLimit int64
}

func (s *Service) compileOptions(mode string) (compiler.Options, error) {
	opts := s.compile
	if mode != "" {
		m, err := compiler.ParseMode(mode)
		if err != nil {
			return opts, err
		}
		opts.Mode = m
	}
	return opts, nil
}

// Compile compiles source text and returns the program with its listing.
func (s *Service) Compile(
	ctx context.Context,
	req *connect.Request[wire.CompileRequest],
) (*connect.Response[wire.CompileResponse], error) {
	opts, err := s.compileOptions(req.Msg.Mode)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	prog, err := compiler.Compile([]byte(req.Msg.Source), opts)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	resp := &wire.CompileResponse{
		Program: wire.FromProgram(prog),
		Listing: prog.Disassemble(),
	}
	for _, d := range prog.Dict.Diagnostics {
		resp.Diagnostics = append(resp.Diagnostics, wire.Diagnostic{
			Severity: d.Severity.String(),
			Index:    d.Index,
			Word:     d.Word.String(),
			Message:  d.Message,
		})
	}
	return connect.NewResponse(resp), nil
}

// Limits on executor fields a request may set.
const (
	maxStackDepth = 1 << 16
	maxJumpDepth  = 1 << 16
	maxPoolCells  = 1 << 24
)

// execConfig merges the request's executor fields over the defaults and
// rejects sizes the server will not allocate.
func (s *Service) execConfig(msg *wire.ExecuteRequest) (vm.Config, error) {
	cfg := s.vmConfig
	if msg.Lanes > 0 {
		cfg.Lanes = msg.Lanes
		cfg.Primary = 0
	}
	if msg.StackDepth > 0 {
		cfg.StackDepth = msg.StackDepth
	}
	if msg.JumpDepth != nil {
		cfg.JumpDepth = *msg.JumpDepth
	}
	if msg.Primary > 0 {
		cfg.Primary = msg.Primary
	}
	if len(msg.Buffers) > 0 {
		cfg.Buffers = msg.Buffers
	}

	switch {
	case cfg.StackDepth > maxStackDepth:
		return cfg, fmt.Errorf("stack depth %d exceeds limit %d", cfg.StackDepth, maxStackDepth)
	case cfg.JumpDepth > maxJumpDepth:
		return cfg, fmt.Errorf("jump depth %d exceeds limit %d", cfg.JumpDepth, maxJumpDepth)
	}
	sizes := cfg.Buffers
	if len(msg.Inputs) > 0 {
		sizes = make([]int, len(msg.Inputs))
		for i, b := range msg.Inputs {
			sizes[i] = len(b)
		}
	}
	cells := 0
	for i, n := range sizes {
		if n < 0 || n > maxPoolCells-cells {
			return cfg, fmt.Errorf("buffer %d: pool exceeds %d cells", i, maxPoolCells)
		}
		cells += n
	}
	return cfg, nil
}

// Execute runs source text or a compiled program and records the run.
func (s *Service) Execute(
	ctx context.Context,
	req *connect.Request[wire.ExecuteRequest],
) (*connect.Response[wire.ExecuteResponse], error) {
	msg := req.Msg

	var prog *compiler.Program
	var err error
	switch {
	case msg.Program != nil:
		prog, err = msg.Program.ToProgram()
	case msg.Source != "":
		var opts compiler.Options
		if opts, err = s.compileOptions(msg.Mode); err == nil {
			prog, err = compiler.Compile([]byte(msg.Source), opts)
		}
	default:
		err = errors.New("source or program is required")
	}
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	cfg, err := s.execConfig(msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	var out bytes.Buffer
	cfg.Output = &limitWriter{buf: &out, n: maxOutput}
	exec, err := vm.New(prog, cfg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	weight := int64(cfg.Lanes)
	if weight > s.laneLimit {
		return nil, connect.NewError(connect.CodeResourceExhausted,
			fmt.Errorf("%d lanes requested, limit is %d", cfg.Lanes, s.laneLimit))
	}
	if err := s.lanes.Acquire(ctx, weight); err != nil {
		return nil, connect.NewError(connect.CodeCanceled, err)
	}
	defer s.lanes.Release(weight)

	var pool *vm.BufferPool
	if len(msg.Inputs) > 0 {
		bufs := make([][]int32, len(msg.Inputs))
		for i, b := range msg.Inputs {
			bufs[i] = append([]int32(nil), b...)
		}
		pool = vm.PoolFrom(bufs)
	}

	start := time.Now()
	res, runErr := exec.Execute(ctx, pool)
	elapsed := time.Since(start)

	id, err := s.record(ctx, msg.Source, prog.Mode, cfg.Lanes, res, runErr, elapsed)
	if err != nil {
		log.Errorf("recording run: %s", err)
	}

	if runErr != nil {
		return nil, connect.NewError(errorCode(runErr), runErr)
	}
	log.Debugf("run %s: %d lanes, value %d, %s", id, cfg.Lanes, res.Value, elapsed)

	return connect.NewResponse(&wire.ExecuteResponse{
		RunID:  id.String(),
		Result: wire.FromResult(res),
		Output: out.String(),
	}), nil
}

func (s *Service) record(ctx context.Context, source string, mode compiler.Mode, lanes int,
	res *vm.Result, runErr error, elapsed time.Duration) (uuid.UUID, error) {
	if s.history == nil {
		return uuid.New(), nil
	}
	run := &store.Run{
		Mode:    mode.String(),
		Lanes:   lanes,
		Source:  source,
		Result:  res,
		Elapsed: elapsed,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	return s.history.Record(ctx, run)
}

// errorCode maps an execution error to a Connect code.
func errorCode(err error) connect.Code {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return connect.CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return connect.CodeCanceled
	case errors.Is(err, vm.ErrAborted):
		return connect.CodeAborted
	}
	return connect.CodeFailedPrecondition
}

// History lists recent runs.
func (s *Service) History(
	ctx context.Context,
	req *connect.Request[wire.HistoryRequest],
) (*connect.Response[wire.HistoryResponse], error) {
	if s.history == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("run history is disabled"))
	}
	runs, err := s.history.Recent(ctx, req.Msg.Limit)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	resp := &wire.HistoryResponse{Runs: make([]wire.Run, 0, len(runs))}
	for _, r := range runs {
		resp.Runs = append(resp.Runs, wire.Run{
			ID:        r.ID.String(),
			Name:      r.Name,
			Lanes:     r.Lanes,
			Mode:      r.Mode,
			Value:     r.Value(),
			Error:     r.Error,
			Elapsed:   int64(r.Elapsed),
			CreatedAt: r.CreatedAt.UnixNano(),
		})
	}
	return connect.NewResponse(resp), nil
}

// limitWriter drops writes past n bytes.
type limitWriter struct {
	buf *bytes.Buffer
	n   int
}

func (w *limitWriter) Write(p []byte) (int, error) {
	if room := w.n - w.buf.Len(); room < len(p) {
		if room > 0 {
			w.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return w.buf.Write(p)
}
