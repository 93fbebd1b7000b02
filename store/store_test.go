package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/flux/vm"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndGet(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	run := &Run{
		Name:   "add",
		Mode:   "inline",
		Lanes:  2,
		Source: "43 45 +",
		Result: &vm.Result{
			Buffers: [][]int32{{1, 2}},
			Value:   0x88,
			Lanes:   []vm.LaneReport{{Lane: 0, Steps: 3, Stack: []int32{0x88}}},
		},
		Elapsed: 1500 * time.Microsecond,
	}
	id, err := s.Record(ctx, run)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if id == uuid.Nil || run.ID != id {
		t.Fatalf("Record returned id %v, run has %v", id, run.ID)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "add" || got.Mode != "inline" || got.Lanes != 2 || got.Source != "43 45 +" {
		t.Errorf("got %+v", got)
	}
	if got.Value() != 0x88 || len(got.Result.Buffers) != 1 || got.Result.Buffers[0][1] != 2 {
		t.Errorf("result = %+v", got.Result)
	}
	if got.Elapsed != run.Elapsed {
		t.Errorf("elapsed = %v, want %v", got.Elapsed, run.Elapsed)
	}
	if !got.CreatedAt.Equal(run.CreatedAt) {
		t.Errorf("created at = %v, want %v", got.CreatedAt, run.CreatedAt)
	}
}

func TestRecordFailedRun(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	id, err := s.Record(ctx, &Run{Name: "bad", Mode: "inline", Lanes: 1, Source: "+", Error: "stack underflow"})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Result != nil || got.Error != "stack underflow" || got.Value() != 0 {
		t.Errorf("got %+v", got)
	}
}

func TestGetMissing(t *testing.T) {
	s := openTemp(t)
	if _, err := s.Get(context.Background(), uuid.New()); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Get = %v, want ErrRunNotFound", err)
	}
}

func TestRecent(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Now()

	for i, name := range []string{"first", "second", "third"} {
		run := &Run{Name: name, Mode: "link", Lanes: 1, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if _, err := s.Record(ctx, run); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	runs, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].Name != "third" || runs[1].Name != "second" {
		t.Errorf("runs = %s, %s, want third, second", runs[0].Name, runs[1].Name)
	}

	all, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d runs, want 3", len(all))
	}
}
