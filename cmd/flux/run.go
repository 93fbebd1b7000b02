package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/chazu/flux/compiler"
	"github.com/chazu/flux/manifest"
	"github.com/chazu/flux/server"
	"github.com/chazu/flux/store"
	"github.com/chazu/flux/vm"
	"github.com/chazu/flux/wire"
)

// programExt marks a file holding a CBOR-encoded compiled program.
const programExt = ".fxb"

// input is the program to run: either source text or a compiled program.
type input struct {
	name    string
	source  []byte
	program *compiler.Program
}

func readInput(m *manifest.Manifest, o options, args []string) (*input, error) {
	if o.source != "" {
		if len(args) > 0 {
			return nil, errors.New("cannot combine -c with a file argument")
		}
		return &input{name: "<command line>", source: []byte(o.source)}, nil
	}

	var path string
	switch len(args) {
	case 0:
		path = m.EntryPath()
	case 1:
		path = args[0]
	default:
		return nil, fmt.Errorf("expected one file, got %d", len(args))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read program: %w", err)
	}
	in := &input{name: filepath.Base(path)}
	if strings.EqualFold(filepath.Ext(path), programExt) {
		if in.program, err = wire.UnmarshalProgram(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return in, nil
	}
	in.source = data
	return in, nil
}

func writeProgram(path string, prog *compiler.Program, verbose bool) error {
	data, err := wire.MarshalProgram(prog)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("cannot write program: %w", err)
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "Wrote %s (%s, %d instructions)\n", path, humanize.Bytes(uint64(len(data))), len(prog.Code))
	}
	return nil
}

func runContext(ctx context.Context, timeout string) (context.Context, context.CancelFunc, error) {
	if timeout == "" {
		ctx, cancel := context.WithCancel(ctx)
		return ctx, cancel, nil
	}
	d, err := time.ParseDuration(timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid timeout: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	return ctx, cancel, nil
}

func runLocal(ctx context.Context, o options, m *manifest.Manifest, in *input,
	prog *compiler.Program, cfg vm.Config, history *store.Store) error {
	ctx, cancel, err := runContext(ctx, o.timeout)
	if err != nil {
		return err
	}
	defer cancel()

	if o.verbose > 0 {
		fmt.Fprintf(os.Stderr, "Compiled %s: %d words, %d instructions (%s, %d sieve passes)\n",
			in.name, len(prog.Words), len(prog.Code), prog.Mode, prog.Stats.Passes)
	}

	start := time.Now()
	res, runErr := vm.Run(ctx, prog, cfg)
	elapsed := time.Since(start)

	if history != nil {
		name := m.Program.Name
		if name == "" {
			name = in.name
		}
		r := &store.Run{
			Name:    name,
			Mode:    prog.Mode.String(),
			Lanes:   cfg.Lanes,
			Source:  string(in.source),
			Result:  res,
			Elapsed: elapsed,
		}
		if runErr != nil {
			r.Error = runErr.Error()
		}
		if _, err := history.Record(context.Background(), r); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cannot record run: %v\n", err)
		}
	}
	if runErr != nil {
		return runErr
	}

	printResult(res)
	if o.verbose > 0 {
		var cells int
		for _, b := range res.Buffers {
			cells += len(b)
		}
		fmt.Fprintf(os.Stderr, "%d lanes, %d barriers, %s of buffers in %s\n",
			len(res.Lanes), res.Syncs, humanize.Bytes(uint64(cells*4)), elapsed)
	}
	return nil
}

func runRemote(ctx context.Context, o options, in *input, cfg vm.Config) error {
	ctx, cancel, err := runContext(ctx, o.timeout)
	if err != nil {
		return err
	}
	defer cancel()

	req := &wire.ExecuteRequest{
		Mode:       o.mode,
		Lanes:      cfg.Lanes,
		StackDepth: cfg.StackDepth,
		JumpDepth:  &cfg.JumpDepth,
		Primary:    cfg.Primary,
		Buffers:    cfg.Buffers,
	}
	if in.program != nil {
		req.Program = wire.FromProgram(in.program)
	} else {
		req.Source = string(in.source)
	}

	client := server.NewClient(http.DefaultClient, strings.TrimSuffix(o.remote, "/"))
	resp, err := client.Execute(ctx, req)
	if err != nil {
		return err
	}
	fmt.Print(resp.Output)
	printResult(resp.Result.ToResult())
	if o.verbose > 0 {
		fmt.Fprintf(os.Stderr, "Run %s on %s\n", resp.RunID, o.remote)
	}
	return nil
}

func printResult(res *vm.Result) {
	fmt.Printf("result: %d\n", res.Value)
	for i, b := range res.Buffers {
		fmt.Printf("buffer %d: %v\n", i, b)
	}
}

func listHistory(ctx context.Context, history *store.Store, limit int) error {
	runs, err := history.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMODE\tLANES\tRESULT\tELAPSED\tWHEN")
	for _, r := range runs {
		result := fmt.Sprint(r.Value())
		if r.Error != "" {
			result = "error: " + r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.ID.String()[:8], r.Name, r.Mode, r.Lanes, result, r.Elapsed, humanize.Time(r.CreatedAt))
	}
	return w.Flush()
}
