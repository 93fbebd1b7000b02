// Flux CLI - compiles and runs Flux programs across lockstep lanes
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/flux/compiler"
	"github.com/chazu/flux/manifest"
	"github.com/chazu/flux/server"
	"github.com/chazu/flux/store"
	"github.com/chazu/flux/vm"
)

// options holds the parsed command line.
type options struct {
	verbose  int
	source   string
	mode     string
	lanes    int
	primary  int
	buffers  string
	disasm   bool
	output   string
	remote   string
	timeout  string
	history  int
	serve    bool
	port     int
	lsp      bool
	noRecord bool
}

func main() {
	var o options
	flag.IntVar(&o.verbose, "v", 0, "Log verbosity (0 = errors only, 1 = info, 2 = debug)")
	flag.StringVar(&o.source, "c", "", "Program text to run instead of a file")
	flag.StringVar(&o.mode, "mode", "", "Compile mode: inline or link (default from flux.toml)")
	flag.IntVar(&o.lanes, "lanes", 0, "Number of lanes (default from flux.toml)")
	flag.IntVar(&o.primary, "primary", -1, "Lane whose top of stack is the result")
	flag.StringVar(&o.buffers, "buffers", "", "Buffer sizes, comma separated (e.g. 64,64)")
	flag.BoolVar(&o.disasm, "d", false, "Print the compiled program instead of running it")
	flag.StringVar(&o.output, "o", "", "Write the compiled program as CBOR to this file")
	flag.StringVar(&o.remote, "remote", "", "Run on a Flux server at this URL")
	flag.StringVar(&o.timeout, "timeout", "", "Abort the run after this duration (e.g. 5s)")
	flag.IntVar(&o.history, "history", 0, "List this many recent runs and exit")
	flag.BoolVar(&o.serve, "serve", false, "Start the Flux server (Connect, CBOR codec)")
	flag.IntVar(&o.port, "port", 7070, "Server port (used with --serve)")
	flag.BoolVar(&o.lsp, "lsp", false, "Start the language server on stdio")
	flag.BoolVar(&o.noRecord, "no-record", false, "Do not record this run in the history")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: flux [options] [file]\n\n")
		fmt.Fprintf(os.Stderr, "Compiles a Flux program (.fx source or a compiled .fxb file) and runs it.\n")
		fmt.Fprintf(os.Stderr, "Without a file, runs the entry named in flux.toml.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  flux -c \"43 45 +\"                 # Run program text\n")
		fmt.Fprintf(os.Stderr, "  flux -lanes 4 -buffers 4 saxpy.fx  # Run across four lanes\n")
		fmt.Fprintf(os.Stderr, "  flux -d -mode link saxpy.fx        # Show the linked program\n")
		fmt.Fprintf(os.Stderr, "  flux -o saxpy.fxb saxpy.fx         # Compile to CBOR\n")
		fmt.Fprintf(os.Stderr, "  flux -history 10                   # List recent runs\n")
		fmt.Fprintf(os.Stderr, "\nServers:\n")
		fmt.Fprintf(os.Stderr, "  flux --serve --port 8080           # Serve Compile/Execute/History\n")
		fmt.Fprintf(os.Stderr, "  flux --remote http://host:7070 x.fx  # Run on a server\n")
		fmt.Fprintf(os.Stderr, "  flux --lsp                         # Language server on stdio\n")
	}
	flag.Parse()

	if err := run(o, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(o options, args []string) error {
	commonlog.Configure(o.verbose, nil)

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return err
	}
	if m == nil {
		m = manifest.Default()
	} else if o.verbose > 0 {
		fmt.Fprintf(os.Stderr, "Using %s\n", filepath.Join(m.Dir, manifest.FileName))
	}

	copts, err := m.CompilerOptions()
	if err != nil {
		return err
	}
	if o.mode != "" {
		if copts.Mode, err = compiler.ParseMode(o.mode); err != nil {
			return err
		}
	}
	cfg, err := vmConfig(m, o)
	if err != nil {
		return err
	}

	if o.lsp {
		return server.NewLSP(copts).Run()
	}

	var history *store.Store
	if path := m.HistoryPath(); path != "" && !o.noRecord {
		if history, err = store.Open(path); err != nil {
			return err
		}
		defer history.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch {
	case o.history > 0:
		if history == nil {
			return fmt.Errorf("run history is disabled; set [history] path in %s", manifest.FileName)
		}
		return listHistory(ctx, history, o.history)

	case o.serve:
		srvOpts := []server.ServerOption{
			server.WithVMConfig(cfg),
			server.WithCompilerOptions(copts),
		}
		if history != nil {
			srvOpts = append(srvOpts, server.WithHistory(history))
		}
		return server.New(srvOpts...).ListenAndServe(fmt.Sprintf(":%d", o.port))
	}

	in, err := readInput(m, o, args)
	if err != nil {
		return err
	}

	if o.remote != "" {
		return runRemote(ctx, o, in, cfg)
	}

	prog := in.program
	if prog == nil {
		if prog, err = compiler.Compile(in.source, copts); err != nil {
			return err
		}
		reportDiagnostics(in.name, prog)
	}

	if o.output != "" {
		if err := writeProgram(o.output, prog, o.verbose > 0); err != nil {
			return err
		}
	}
	if o.disasm {
		fmt.Print(prog.DisassembleWithName(in.name))
		return nil
	}
	if o.output != "" {
		return nil
	}

	return runLocal(ctx, o, m, in, prog, cfg, history)
}

// vmConfig applies command-line overrides to the manifest's executor table.
func vmConfig(m *manifest.Manifest, o options) (vm.Config, error) {
	cfg := m.VMConfig()
	cfg.Output = os.Stdout
	if o.lanes > 0 {
		cfg.Lanes = o.lanes
		if cfg.Primary >= cfg.Lanes {
			cfg.Primary = 0
		}
	}
	if o.primary >= 0 {
		cfg.Primary = o.primary
	}
	if o.buffers != "" {
		sizes, err := parseSizes(o.buffers)
		if err != nil {
			return cfg, err
		}
		cfg.Buffers = sizes
	}
	return cfg, cfg.Validate()
}

func parseSizes(s string) ([]int, error) {
	var sizes []int
	for _, f := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid buffer size %q", f)
		}
		sizes = append(sizes, n)
	}
	return sizes, nil
}

func reportDiagnostics(name string, prog *compiler.Program) {
	for _, d := range prog.Dict.Diagnostics {
		fmt.Fprintf(os.Stderr, "%s: word %d: %s: %s %s\n", name, d.Index, d.Severity, d.Word, d.Message)
	}
}
