package vm

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chazu/flux/compiler"
)

func compileSource(t *testing.T, text string, mode compiler.Mode) *compiler.Program {
	t.Helper()
	opts := compiler.DefaultOptions()
	opts.Mode = mode
	prog, err := compiler.Compile([]byte(text), opts)
	if err != nil {
		t.Fatalf("Compile(%q) failed: %v", text, err)
	}
	return prog
}

func runSource(t *testing.T, text string, cfg Config) (*Result, error) {
	t.Helper()
	return Run(context.Background(), compileSource(t, text, compiler.ModeInline), cfg)
}

func laneError(t *testing.T, err error, kind ErrorKind) *LaneError {
	t.Helper()
	var le *LaneError
	if !errors.As(err, &le) {
		t.Fatalf("error = %v, want *LaneError", err)
	}
	if le.Kind != kind {
		t.Fatalf("error kind = %v, want %v (%v)", le.Kind, kind, err)
	}
	if !errors.Is(err, kind) {
		t.Errorf("errors.Is(err, %v) = false", kind)
	}
	return le
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		text string
		want int32
	}{
		{"43 45 +", 0x88},
		{"43 45 -", 0x02},
		{"02 07 *", 0x0E},
		{"02 07 /", 3},
		{"03 07 %", 1},
		{"FF 01 -", 1 - 255},
		{"01 02 03 + *", 5},
		{"2A", 0x2A},
	}
	for _, tt := range tests {
		res, err := runSource(t, tt.text, DefaultConfig())
		if err != nil {
			t.Errorf("%q: %v", tt.text, err)
			continue
		}
		if res.Value != tt.want {
			t.Errorf("%q = %d, want %d", tt.text, res.Value, tt.want)
		}
	}
}

func TestArithmeticWraps(t *testing.T) {
	// 0x7F doubled 25 times overflows int32.
	src := "7F 02 * 02 * 02 * 02 * 02 * 02 * 02 * 02 * 02 * 02 * 02 * 02 * 02 * 02 * 02 * 02 * 02 * 02 * 02 * 02 * 02 * 02 * 02 * 02 * 02 *"
	res, err := runSource(t, src, DefaultConfig())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if want := int32(-1 << 25); res.Value != want {
		t.Errorf("value = %d, want %d", res.Value, want)
	}
}

func TestStoreLoad(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Buffers = []int{4}
	res, err := runSource(t, "00 00 0A . 00 00 @", cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Value != 0x0A {
		t.Errorf("value = %#x, want 0x0A", res.Value)
	}
	if got := res.Buffers[0]; !reflect.DeepEqual(got, []int32{0x0A, 0, 0, 0}) {
		t.Errorf("buffer 0 = %v", got)
	}
}

func TestExecuteWritesThroughPool(t *testing.T) {
	bufs := [][]int32{{0, 0}, {7, 8}}
	e, err := New(compileSource(t, "00 01 01 01 @ . 01", compiler.ModeInline), DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := e.Execute(context.Background(), PoolFrom(bufs)); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if bufs[0][1] != 8 {
		t.Errorf("buffer 0 = %v, want element 1 = 8", bufs[0])
	}
}

func TestStackUnderflow(t *testing.T) {
	_, err := runSource(t, "01 +", DefaultConfig())
	le := laneError(t, err, StackUnderflow)
	if le.Lane != 0 || le.IP != 1 || le.Word != compiler.WordAdd {
		t.Errorf("error = %+v, want lane 0 ip 1 word +", le)
	}
	if !reflect.DeepEqual(le.Stack, []int32{1}) {
		t.Errorf("stack snapshot = %v, want [1]", le.Stack)
	}

	_, err = runSource(t, "+", DefaultConfig())
	le = laneError(t, err, StackUnderflow)
	if len(le.Stack) != 0 {
		t.Errorf("stack snapshot = %v, want empty", le.Stack)
	}
}

func TestStackOverflow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StackDepth = 2
	_, err := runSource(t, "01 02 03", cfg)
	le := laneError(t, err, StackOverflow)
	if le.IP != 2 || !reflect.DeepEqual(le.Stack, []int32{1, 2}) {
		t.Errorf("error = %+v", le)
	}
}

func TestDivideByZero(t *testing.T) {
	for _, src := range []string{"00 05 /", "00 05 %"} {
		_, err := runSource(t, src, DefaultConfig())
		le := laneError(t, err, DivideByZero)
		if !reflect.DeepEqual(le.Stack, []int32{0, 5}) {
			t.Errorf("%q: stack snapshot = %v, want [0 5]", src, le.Stack)
		}
	}
}

func TestOutOfBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Buffers = []int{2}
	for _, src := range []string{"00 02 01 .", "01 00 01 .", "00 05 @", "FF 00 @"} {
		_, err := runSource(t, src, cfg)
		laneError(t, err, OutOfBounds)
	}
}

func TestEmptyResult(t *testing.T) {
	var out bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &out
	_, err := runSource(t, "01 $", cfg)
	le := laneError(t, err, EmptyResult)
	if le.Lane != 0 {
		t.Errorf("lane = %d, want 0", le.Lane)
	}
	if out.String() != "lane 0: 1\n" {
		t.Errorf("output = %q", out.String())
	}

	_, err = runSource(t, "", DefaultConfig())
	laneError(t, err, EmptyResult)
}

func TestMalformedWord(t *testing.T) {
	prog := &compiler.Program{
		Code: []compiler.Instr{
			{Word: compiler.NumericWord(1), Target: compiler.NoTarget},
			{Word: compiler.MakeWord('z', 'z'), Target: compiler.NoTarget},
		},
		Main: 2,
	}
	_, err := Run(context.Background(), prog, DefaultConfig())
	le := laneError(t, err, MalformedWord)
	if le.IP != 1 {
		t.Errorf("ip = %d, want 1", le.IP)
	}
}

func TestJumpUnderflow(t *testing.T) {
	prog := &compiler.Program{
		Code: []compiler.Instr{{Word: compiler.WordReturn, Target: compiler.NoTarget}},
		Main: 1,
	}
	_, err := Run(context.Background(), prog, DefaultConfig())
	laneError(t, err, JumpUnderflow)
}

func TestJumpOverflow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lanes = 2
	cfg.JumpDepth = 4
	_, err := Run(context.Background(), compileSource(t, ": XX XX ; XX", compiler.ModeLink), cfg)
	laneError(t, err, JumpOverflow)
}

func TestLaneWord(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lanes = 4
	cfg.Primary = 3
	cfg.Buffers = []int{4}
	res, err := runSource(t, "00 # # 01 + . = 00 # @", cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !reflect.DeepEqual(res.Buffers[0], []int32{1, 2, 3, 4}) {
		t.Errorf("buffer 0 = %v, want [1 2 3 4]", res.Buffers[0])
	}
	if res.Value != 4 || res.Primary != 3 {
		t.Errorf("value = %d from lane %d, want 4 from lane 3", res.Value, res.Primary)
	}
	if res.Syncs != 1 {
		t.Errorf("syncs = %d, want 1", res.Syncs)
	}
	for i, lr := range res.Lanes {
		if lr.Steps != 10 || !reflect.DeepEqual(lr.Stack, []int32{int32(i + 1)}) {
			t.Errorf("lane %d report = %+v", i, lr)
		}
	}
}

func TestBarrierOrdering(t *testing.T) {
	const lanes = 2
	var before, arrived atomic.Int32
	var violations atomic.Int32

	cfg := DefaultConfig()
	cfg.Lanes = lanes
	cfg.OnStep = func(lane, ip int, w compiler.Word) {
		switch {
		case ip < 2:
			before.Add(1)
		case ip == 2:
			arrived.Add(1)
		default:
			if before.Load() != 2*lanes || arrived.Load() != lanes {
				violations.Add(1)
			}
		}
	}

	for i := 0; i < 50; i++ {
		before.Store(0)
		arrived.Store(0)
		if _, err := runSource(t, "01 02 = 03 04", cfg); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	}
	if n := violations.Load(); n != 0 {
		t.Errorf("%d post-barrier steps ran before every lane reached the barrier", n)
	}
}

func TestFaultReleasesPeers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lanes = 4
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Lane 0 divides by its own index; the others wait at the barrier.
	_, err := Run(ctx, compileSource(t, "# 01 / = 01", compiler.ModeInline), cfg)
	le := laneError(t, err, DivideByZero)
	if le.Lane != 0 {
		t.Errorf("faulting lane = %d, want 0", le.Lane)
	}
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	cfg := DefaultConfig()
	cfg.Lanes = 2
	cfg.OnStep = func(lane, ip int, w compiler.Word) {
		if lane == 1 && w == compiler.WordSync {
			<-ctx.Done()
		}
	}
	_, err := Run(ctx, compileSource(t, "01 = 02", compiler.ModeInline), cfg)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("error = %v, want aborted", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded cause", err)
	}
}

func TestLinkMatchesInline(t *testing.T) {
	src := "00 # # 05 + QU . = 00 # @ : QU DU DU ; : DU 02 * ;"
	cfg := DefaultConfig()
	cfg.Lanes = 3
	cfg.Primary = 2
	cfg.Buffers = []int{3}

	inline, err := Run(context.Background(), compileSource(t, src, compiler.ModeInline), cfg)
	if err != nil {
		t.Fatalf("inline run failed: %v", err)
	}
	linked, err := Run(context.Background(), compileSource(t, src, compiler.ModeLink), cfg)
	if err != nil {
		t.Fatalf("link run failed: %v", err)
	}

	if inline.Value != 28 {
		t.Errorf("inline value = %d, want 28", inline.Value)
	}
	if linked.Value != inline.Value {
		t.Errorf("link value = %d, inline value = %d", linked.Value, inline.Value)
	}
	if !reflect.DeepEqual(linked.Buffers, inline.Buffers) {
		t.Errorf("link buffers = %v, inline buffers = %v", linked.Buffers, inline.Buffers)
	}
	if linked.Syncs <= inline.Syncs {
		t.Errorf("link syncs = %d, want more than inline %d", linked.Syncs, inline.Syncs)
	}
}

func TestPrintOutput(t *testing.T) {
	var out bytes.Buffer
	cfg := DefaultConfig()
	cfg.Lanes = 3
	cfg.Output = &out
	if _, err := runSource(t, "# 0A + $ 01", cfg); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("output = %q, want 3 lines", out.String())
	}
	for _, want := range []string{"lane 0: 10", "lane 1: 11", "lane 2: 12"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestExecutorReuse(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lanes = 2
	cfg.Buffers = []int{2}
	e, err := New(compileSource(t, "00 # # . = 01 # @", compiler.ModeInline), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Execute(context.Background(), nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		// Buffer 1 does not exist, so every run must fail the same way.
		laneError(t, err, OutOfBounds)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no lanes", Config{Lanes: 0, StackDepth: 1}},
		{"no stack", Config{Lanes: 1, StackDepth: 0}},
		{"negative jump", Config{Lanes: 1, StackDepth: 1, JumpDepth: -1}},
		{"primary out of range", Config{Lanes: 2, StackDepth: 1, Primary: 2}},
		{"negative buffer", Config{Lanes: 1, StackDepth: 1, Buffers: []int{-1}}},
	}
	for _, tt := range tests {
		if err := tt.cfg.Validate(); err == nil {
			t.Errorf("%s: Validate() = nil", tt.name)
		}
	}
	if _, err := New(nil, DefaultConfig()); err == nil {
		t.Error("New(nil) succeeded")
	}
}
