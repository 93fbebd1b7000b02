// Package wire defines the CBOR encoding of Flux programs, results and
// service messages.
package wire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/flux/compiler"
	"github.com/chazu/flux/vm"
)

// Version is the program image format version.
const Version byte = 1

// cborEncMode is the canonical encoding mode, so equal values encode to
// equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ---------------------------------------------------------------------------
// Programs
// ---------------------------------------------------------------------------

// Instr is the wire form of one instruction.
type Instr struct {
	Word   uint16 `cbor:"1,keyasint"`
	Target int32  `cbor:"2,keyasint"`
}

// Program is the wire form of a compiled program. The dictionary is not
// carried; a decoded program is executed as is.
type Program struct {
	Version byte     `cbor:"1,keyasint"`
	Mode    uint8    `cbor:"2,keyasint"`
	Code    []Instr  `cbor:"3,keyasint"`
	Main    int      `cbor:"4,keyasint"`
	Words   []uint16 `cbor:"5,keyasint,omitempty"`
}

// FromProgram converts a compiled program to its wire form.
func FromProgram(p *compiler.Program) *Program {
	w := &Program{
		Version: Version,
		Mode:    uint8(p.Mode),
		Code:    make([]Instr, len(p.Code)),
		Main:    p.Main,
	}
	for i, in := range p.Code {
		w.Code[i] = Instr{Word: uint16(in.Word), Target: in.Target}
	}
	if len(p.Words) > 0 {
		w.Words = make([]uint16, len(p.Words))
		for i, word := range p.Words {
			w.Words[i] = uint16(word)
		}
	}
	return w
}

// ToProgram converts the wire form back and validates it.
func (w *Program) ToProgram() (*compiler.Program, error) {
	if w.Version != Version {
		return nil, fmt.Errorf("wire: unsupported program version %d", w.Version)
	}
	mode := compiler.Mode(w.Mode)
	if mode != compiler.ModeInline && mode != compiler.ModeLink {
		return nil, fmt.Errorf("wire: unknown compile mode %d", w.Mode)
	}
	p := &compiler.Program{
		Mode: mode,
		Code: make([]compiler.Instr, len(w.Code)),
		Main: w.Main,
	}
	for i, in := range w.Code {
		p.Code[i] = compiler.Instr{Word: compiler.Word(in.Word), Target: in.Target}
	}
	if len(w.Words) > 0 {
		p.Words = make(compiler.Words, len(w.Words))
		for i, word := range w.Words {
			p.Words[i] = compiler.Word(word)
		}
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("wire: invalid program: %w", err)
	}
	return p, nil
}

// MarshalProgram serializes a compiled program to CBOR bytes.
func MarshalProgram(p *compiler.Program) ([]byte, error) {
	if p == nil {
		return nil, errors.New("wire: nil program")
	}
	return cborEncMode.Marshal(FromProgram(p))
}

// UnmarshalProgram deserializes and validates a program.
func UnmarshalProgram(data []byte) (*compiler.Program, error) {
	var w Program
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("wire: unmarshal program: %w", err)
	}
	return w.ToProgram()
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// Lane is the wire form of a lane report.
type Lane struct {
	Lane  int     `cbor:"1,keyasint"`
	Steps int     `cbor:"2,keyasint"`
	Stack []int32 `cbor:"3,keyasint,omitempty"`
}

// Result is the wire form of an execution result.
type Result struct {
	Buffers [][]int32 `cbor:"1,keyasint"`
	Value   int32     `cbor:"2,keyasint"`
	Primary int       `cbor:"3,keyasint"`
	Lanes   []Lane    `cbor:"4,keyasint,omitempty"`
	Syncs   int       `cbor:"5,keyasint"`
}

// FromResult converts an execution result to its wire form.
func FromResult(r *vm.Result) *Result {
	w := &Result{
		Buffers: r.Buffers,
		Value:   r.Value,
		Primary: r.Primary,
		Syncs:   r.Syncs,
	}
	for _, l := range r.Lanes {
		w.Lanes = append(w.Lanes, Lane{Lane: l.Lane, Steps: l.Steps, Stack: l.Stack})
	}
	return w
}

// ToResult converts the wire form back.
func (w *Result) ToResult() *vm.Result {
	r := &vm.Result{
		Buffers: w.Buffers,
		Value:   w.Value,
		Primary: w.Primary,
		Syncs:   w.Syncs,
	}
	for _, l := range w.Lanes {
		r.Lanes = append(r.Lanes, vm.LaneReport{Lane: l.Lane, Steps: l.Steps, Stack: l.Stack})
	}
	return r
}

// MarshalResult serializes an execution result to CBOR bytes.
func MarshalResult(r *vm.Result) ([]byte, error) {
	if r == nil {
		return nil, errors.New("wire: nil result")
	}
	return cborEncMode.Marshal(FromResult(r))
}

// UnmarshalResult deserializes an execution result.
func UnmarshalResult(data []byte) (*vm.Result, error) {
	var w Result
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("wire: unmarshal result: %w", err)
	}
	return w.ToResult(), nil
}
