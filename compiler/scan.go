package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Scanner: position-aware tokens for tooling
// ---------------------------------------------------------------------------

// Position is a location in source text. Line and Column are 1-based and
// count bytes.
type Position struct {
	Offset int
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token is one whitespace-delimited run of source text and the word it
// compiles to.
type Token struct {
	Word Word
	Text string // the full run, including characters past the second
	Pos  Position
}

// End returns the position just past the token.
func (t Token) End() Position {
	return Position{
		Offset: t.Pos.Offset + len(t.Text),
		Line:   t.Pos.Line,
		Column: t.Pos.Column + len(t.Text),
	}
}

// Scan splits text into tokens the way Extract splits a source buffer into
// words, keeping positions. The i-th token's word equals the i-th extracted
// word.
func Scan(text string) []Token {
	var tokens []Token
	line, lineStart := 1, 0
	for i := 0; i < len(text); {
		c := text[i]
		if c <= ' ' {
			if c == '\n' {
				line++
				lineStart = i + 1
			}
			i++
			continue
		}
		start := i
		for i < len(text) && text[i] > ' ' {
			i++
		}
		run := text[start:i]
		w, _ := ParseWord(run)
		tokens = append(tokens, Token{
			Word: w,
			Text: run,
			Pos:  Position{Offset: start, Line: line, Column: start - lineStart + 1},
		})
	}
	return tokens
}

// TokenAt returns the index of the token covering pos (1-based line and
// column), or -1.
func TokenAt(tokens []Token, line, column int) int {
	for i, t := range tokens {
		if t.Pos.Line != line {
			continue
		}
		if column >= t.Pos.Column && column <= t.Pos.Column+len(t.Text) {
			return i
		}
	}
	return -1
}
