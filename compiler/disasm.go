package compiler

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the program.
func (p *Program) Disassemble() string {
	return p.DisassembleWithName("")
}

// DisassembleWithName returns a listing with a name header.
func (p *Program) DisassembleWithName(name string) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; Flux program (%s)\n", p.Mode))
	sb.WriteString(fmt.Sprintf("; Instructions: %d, entry section: %d\n", len(p.Code), p.Main))
	if p.Stats.Passes > 0 {
		sb.WriteString(fmt.Sprintf("; Sieve: %d passes, %d swaps\n", p.Stats.Passes, p.Stats.Swaps))
	}
	if p.Dict != nil {
		if defs := p.Dict.Definitions(); len(defs) > 0 {
			sb.WriteString("; Definitions:\n")
			for _, def := range defs {
				sb.WriteString(fmt.Sprintf(";   %-2s body %d..%d\n", def.Name, def.Body, def.End))
			}
		}
	}
	sb.WriteString("\n")

	for i, in := range p.Code {
		if i == p.Main && p.Main < len(p.Code) {
			sb.WriteString("; --- bodies ---\n")
		}
		sb.WriteString(fmt.Sprintf("%04d  %s\n", i, FormatInstr(in)))
	}
	return sb.String()
}

// FormatInstr renders one instruction.
func FormatInstr(in Instr) string {
	if in.IsCall() {
		return fmt.Sprintf("%-2s  call %04d", in.Word, in.Target)
	}
	op := in.Word.Op()
	switch op {
	case OpPush:
		v, _ := in.Word.Numeric()
		return fmt.Sprintf("%-2s  push 0x%02X", in.Word, v)
	case OpNone:
		return fmt.Sprintf("%-2s  ??? 0x%04X", in.Word, uint16(in.Word))
	}
	return fmt.Sprintf("%-2s  %s", in.Word, op)
}
