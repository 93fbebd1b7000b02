package compiler

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Programs: what the executor runs
// ---------------------------------------------------------------------------

// Mode selects how user words are compiled.
type Mode int

const (
	// ModeInline flattens every user word into the trace.
	ModeInline Mode = iota
	// ModeLink keeps user words out of line, reached by collective
	// call and return.
	ModeLink
)

func (m Mode) String() string {
	switch m {
	case ModeInline:
		return "inline"
	case ModeLink:
		return "link"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "inline" or "link". The empty string is ModeInline.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "inline":
		return ModeInline, nil
	case "link":
		return ModeLink, nil
	}
	return 0, fmt.Errorf("unknown compile mode %q", s)
}

// Options configures Compile.
type Options struct {
	Mode     Mode
	Workers  int // goroutines for the byte-wise extraction passes
	MaxDepth int // deepest allowed nesting of user words when inlining
	MaxTrace int // longest allowed inlined trace
}

// Default option values.
const (
	DefaultMaxDepth = 256
	DefaultMaxTrace = 1 << 20
)

// DefaultOptions returns inline mode with serial extraction.
func DefaultOptions() Options {
	return Options{
		Mode:     ModeInline,
		Workers:  1,
		MaxDepth: DefaultMaxDepth,
		MaxTrace: DefaultMaxTrace,
	}
}

func (o Options) withDefaults() Options {
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.MaxDepth < 1 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.MaxTrace < 1 {
		o.MaxTrace = DefaultMaxTrace
	}
	return o
}

// NoTarget marks an instruction that is not a call.
const NoTarget int32 = -1

// Instr is one executable instruction. A call carries the code index of its
// callee in Target; every other instruction has Target == NoTarget.
type Instr struct {
	Word   Word
	Target int32
}

// IsCall reports whether the instruction is a collective call.
func (in Instr) IsCall() bool {
	return in.Target >= 0
}

// Program is compiled code ready for the executor. Code[:Main] is the entry
// section; a lane halts when it reaches Main with an empty jump stack.
type Program struct {
	Mode  Mode
	Code  []Instr
	Main  int
	Words Words       // the extracted word sequence
	Dict  *Dictionary // nil for programs decoded from an image
	Stats Extraction  // extraction statistics, without the words
}

// FromTrace wraps an inlined trace as a program.
func FromTrace(t Trace) *Program {
	code := make([]Instr, len(t))
	for i, w := range t {
		code[i] = Instr{Word: w, Target: NoTarget}
	}
	return &Program{Mode: ModeInline, Code: code, Main: len(code)}
}

// Trace returns the words of the entry section.
func (p *Program) Trace() Trace {
	t := make(Trace, p.Main)
	for i := range t {
		t[i] = p.Code[i].Word
	}
	return t
}

// Compile runs the whole pipeline: normalize, extract, resolve, then inline
// or link.
func Compile(raw []byte, opts Options) (*Program, error) {
	opts = opts.withDefaults()
	ext, err := Extract(Normalize(raw), opts.Workers)
	if err != nil {
		return nil, err
	}
	prog, err := CompileWords(ext.Words, opts)
	if err != nil {
		return nil, err
	}
	prog.Stats = Extraction{Passes: ext.Passes, Swaps: ext.Swaps}
	return prog, nil
}

// CompileWords compiles an already extracted word sequence.
func CompileWords(words Words, opts Options) (*Program, error) {
	opts = opts.withDefaults()
	dict := Resolve(words)

	var prog *Program
	switch opts.Mode {
	case ModeLink:
		var err error
		if prog, err = Link(words, dict); err != nil {
			return nil, err
		}
	default:
		trace, err := Inline(words, dict, opts)
		if err != nil {
			return nil, err
		}
		prog = FromTrace(trace)
	}
	prog.Words = words
	prog.Dict = dict
	return prog, nil
}

// Validate checks the structural invariants the executor relies on.
func (p *Program) Validate() error {
	if p.Main < 0 || p.Main > len(p.Code) {
		return fmt.Errorf("entry section %d out of range [0, %d]", p.Main, len(p.Code))
	}
	for i, in := range p.Code {
		if in.IsCall() {
			if int(in.Target) >= len(p.Code) {
				return fmt.Errorf("instruction %d: call target %d out of range", i, in.Target)
			}
			continue
		}
		if in.Word.Op() == OpNone || in.Word == WordDefine {
			return fmt.Errorf("instruction %d: %q is not executable", i, in.Word.String())
		}
	}
	return nil
}
