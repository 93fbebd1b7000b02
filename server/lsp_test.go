package server

import (
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/chazu/flux/compiler"
)

// ---------------------------------------------------------------------------
// LSP text extraction helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		text string
		pos  protocol.Position
		want string
	}{
		{"01 SQ", protocol.Position{Line: 0, Character: 5}, "SQ"},
		{"01 SQ", protocol.Position{Line: 0, Character: 4}, "S"},
		{"01 SQ", protocol.Position{Line: 0, Character: 3}, ""},
		{"", protocol.Position{Line: 0, Character: 0}, ""},
		{"first\nsecond\n: D", protocol.Position{Line: 2, Character: 3}, "D"},
		{"single line", protocol.Position{Line: 5, Character: 0}, ""},
		{"43", protocol.Position{Line: 0, Character: 40}, "43"},
	}
	for _, tt := range tests {
		if got := extractPrefix(tt.text, tt.pos); got != tt.want {
			t.Errorf("extractPrefix(%q, %v) = %q, want %q", tt.text, tt.pos, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Document analysis
// ---------------------------------------------------------------------------

func diagnosticMessages(a *analysis) string {
	var msgs []string
	for _, d := range a.diagnostics {
		msgs = append(msgs, d.Message)
	}
	return strings.Join(msgs, "\n")
}

func TestAnalyzeClean(t *testing.T) {
	a := analyze(": SQ 02 * ;\n43 SQ $", compiler.DefaultOptions())
	if len(a.diagnostics) != 0 {
		t.Errorf("unexpected diagnostics:\n%s", diagnosticMessages(a))
	}
}

func TestAnalyzeDiagnostics(t *testing.T) {
	tests := []struct {
		text     string
		severity protocol.DiagnosticSeverity
		message  string
		line     protocol.UInteger
		char     protocol.UInteger
	}{
		{": + 01 ;", protocol.DiagnosticSeverityWarning, "shadows builtin", 0, 2},
		{": ; 01 ;", protocol.DiagnosticSeverityError, "definition marker", 0, 2},
		{"01 zz", protocol.DiagnosticSeverityWarning, "undefined word zz", 0, 3},
		{"01\n  four", protocol.DiagnosticSeverityHint, "is significant", 1, 2},
		{": XX YY ;\n: YY XX ;\nXX", protocol.DiagnosticSeverityError, "cyclic definition of XX", 1, 5},
	}
	for _, tt := range tests {
		a := analyze(tt.text, compiler.DefaultOptions())
		found := false
		for _, d := range a.diagnostics {
			if !strings.Contains(d.Message, tt.message) {
				continue
			}
			found = true
			if d.Severity == nil || *d.Severity != tt.severity {
				t.Errorf("%q: severity = %v, want %v", tt.text, d.Severity, tt.severity)
			}
			if d.Range.Start.Line != tt.line || d.Range.Start.Character != tt.char {
				t.Errorf("%q: range start = %+v, want %d:%d", tt.text, d.Range.Start, tt.line, tt.char)
			}
		}
		if !found {
			t.Errorf("%q: no diagnostic containing %q in:\n%s", tt.text, tt.message, diagnosticMessages(a))
		}
	}
}

func TestAnalyzeHover(t *testing.T) {
	a := analyze(": SQ 02 * ;\n43 SQ zz", compiler.DefaultOptions())
	tests := []struct {
		pos  protocol.Position
		want string
	}{
		{protocol.Position{Line: 1, Character: 0}, "push 0x43 (67)"},
		{protocol.Position{Line: 0, Character: 8}, "multiply"},
		{protocol.Position{Line: 1, Character: 4}, "`: SQ 02 * ;`"},
		{protocol.Position{Line: 1, Character: 6}, "undefined"},
	}
	for _, tt := range tests {
		h := a.hover(tt.pos)
		if h == nil {
			t.Errorf("hover(%v) = nil", tt.pos)
			continue
		}
		content := h.Contents.(protocol.MarkupContent).Value
		if !strings.Contains(content, tt.want) {
			t.Errorf("hover(%v) = %q, want it to contain %q", tt.pos, content, tt.want)
		}
	}
	if h := a.hover(protocol.Position{Line: 5, Character: 0}); h != nil {
		t.Errorf("hover past end = %v, want nil", h)
	}
}

func TestAnalyzeDefinitionAndReferences(t *testing.T) {
	a := analyze("05 SQ\n: SQ 02 * ;\nSQ", compiler.DefaultOptions())

	r, ok := a.definition(protocol.Position{Line: 0, Character: 3})
	if !ok {
		t.Fatal("no definition for SQ")
	}
	if r.Start.Line != 1 || r.Start.Character != 2 || r.End.Character != 4 {
		t.Errorf("definition range = %+v, want 1:2-1:4", r)
	}

	if _, ok := a.definition(protocol.Position{Line: 0, Character: 0}); ok {
		t.Error("numeric word has a definition")
	}

	refs := a.references(protocol.Position{Line: 2, Character: 1})
	if len(refs) != 3 {
		t.Errorf("got %d references to SQ, want 3", len(refs))
	}
}

func TestAnalyzeCompletion(t *testing.T) {
	a := analyze(": SQ 02 * ; : SU 01 - ; : XB 00 ;", compiler.DefaultOptions())

	items := a.complete("S")
	var labels []string
	for _, it := range items {
		labels = append(labels, it.Label)
	}
	if strings.Join(labels, ",") != "SQ,SU" {
		t.Errorf("complete(S) = %v, want [SQ SU]", labels)
	}

	all := a.complete("")
	if len(all) != len(compiler.Operators)+3 {
		t.Errorf("complete() = %d items, want %d", len(all), len(compiler.Operators)+3)
	}
}
