package compiler

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Inlining: flatten user words into a branch-free trace
// ---------------------------------------------------------------------------

// Trace is a flat instruction sequence holding only operator and numeric
// words.
type Trace []Word

// ErrTraceTooLong reports an expansion that exceeded the configured trace
// limit.
var ErrTraceTooLong = errors.New("trace exceeds limit")

// CyclicDefinitionError reports a user word whose expansion reaches itself,
// or an expansion nested deeper than the configured bound.
type CyclicDefinitionError struct {
	Word  Word   // word whose expansion was refused
	Index int    // position of the offending use in the word sequence
	Chain []Word // words being expanded, outermost first
	Depth bool   // true when the depth bound, not a repeat, stopped expansion
}

func (e *CyclicDefinitionError) Error() string {
	names := make([]string, 0, len(e.Chain)+1)
	for _, w := range e.Chain {
		names = append(names, w.String())
	}
	names = append(names, e.Word.String())
	if e.Depth {
		return fmt.Sprintf("expansion of %s exceeds depth %d (%s)", e.Word, len(e.Chain), strings.Join(names, " -> "))
	}
	return fmt.Sprintf("cyclic definition of %s (%s)", e.Word, strings.Join(names, " -> "))
}

// frame is one level of the expansion worklist.
type frame struct {
	pos, end int
	name     Word
	body     bool
}

// wordSet is a bitset over the whole word space.
type wordSet [WordSpace / 64]uint64

func (s *wordSet) has(w Word) bool { return s[w/64]&(1<<(w%64)) != 0 }
func (s *wordSet) add(w Word)      { s[w/64] |= 1 << (w % 64) }
func (s *wordSet) remove(w Word)   { s[w/64] &^= 1 << (w % 64) }

// Inline expands every user word of words in place. Undefined words are
// dropped. Definitions are skipped where they are declared.
func Inline(words []Word, dict *Dictionary, opts Options) (Trace, error) {
	opts = opts.withDefaults()
	trace := make(Trace, 0, len(words))
	var active wordSet

	stack := []frame{{pos: 0, end: len(words)}}
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		if f.pos >= f.end {
			if f.body {
				active.remove(f.name)
			}
			stack = stack[:len(stack)-1]
			continue
		}
		index := f.pos
		w := words[index]
		f.pos++

		switch w {
		case WordDefine:
			if !f.body {
				f.pos = findReturn(words, index+2) + 1
			}
			continue
		case WordReturn:
			continue
		}

		switch entry := dict.Lookup(w); entry {
		case Builtin:
			trace = append(trace, w)
			if len(trace) > opts.MaxTrace {
				return nil, fmt.Errorf("inline: %w (%d words)", ErrTraceTooLong, opts.MaxTrace)
			}
		case Undefined:
		default:
			if active.has(w) || len(stack) > opts.MaxDepth {
				return nil, &CyclicDefinitionError{
					Word:  w,
					Index: index,
					Chain: chain(stack),
					Depth: !active.has(w),
				}
			}
			active.add(w)
			body := int(entry)
			stack = append(stack, frame{pos: body, end: findReturn(words, body), name: w, body: true})
		}
	}
	return trace, nil
}

func chain(stack []frame) []Word {
	var out []Word
	for _, f := range stack {
		if f.body {
			out = append(out, f.name)
		}
	}
	return out
}
