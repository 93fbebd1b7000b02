package compiler

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Words: the fixed two-character token unit
// ---------------------------------------------------------------------------

// Word is a two-character token packed into 16 bits. The first character
// lives in the low byte and the second in the high byte.
type Word uint16

// WordSpace is the number of distinct words.
const WordSpace = 1 << 16

// MakeWord packs two characters into a word.
func MakeWord(first, second byte) Word {
	return Word(first) | Word(second)<<8
}

// ParseWord packs the first two characters of s, padding a single character
// with a space. Characters past the second are ignored.
func ParseWord(s string) (Word, bool) {
	switch {
	case len(s) == 0:
		return 0, false
	case len(s) == 1:
		return MakeWord(s[0], ' '), true
	}
	return MakeWord(s[0], s[1]), true
}

// Chars returns the two characters of the word.
func (w Word) Chars() (byte, byte) {
	return byte(w), byte(w >> 8)
}

// String returns the word as source text, without the padding space of a
// single-character word.
func (w Word) String() string {
	a, b := w.Chars()
	if b == ' ' {
		return string([]byte{a})
	}
	return string([]byte{a, b})
}

// Builtin words.
const (
	WordStore  Word = '.' | ' '<<8
	WordLoad   Word = '@' | ' '<<8
	WordSync   Word = '=' | ' '<<8
	WordDefine Word = ':' | ' '<<8
	WordReturn Word = ';' | ' '<<8
	WordAdd    Word = '+' | ' '<<8
	WordSub    Word = '-' | ' '<<8
	WordMul    Word = '*' | ' '<<8
	WordDiv    Word = '/' | ' '<<8
	WordRem    Word = '%' | ' '<<8
	WordPrint  Word = '$' | ' '<<8
	WordLane   Word = '#' | ' '<<8
)

// Op identifies the operation a builtin word performs.
type Op uint8

const (
	OpNone Op = iota
	OpStore
	OpLoad
	OpSync
	OpDefine
	OpReturn
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpPrint
	OpLane
	OpPush
)

var opNames = [...]string{
	OpNone:   "none",
	OpStore:  "store",
	OpLoad:   "load",
	OpSync:   "sync",
	OpDefine: "define",
	OpReturn: "return",
	OpAdd:    "add",
	OpSub:    "sub",
	OpMul:    "mul",
	OpDiv:    "div",
	OpRem:    "rem",
	OpPrint:  "print",
	OpLane:   "lane",
	OpPush:   "push",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", op)
}

// OpInfo documents a builtin operator for listings and editor hovers.
type OpInfo struct {
	Word   Word
	Op     Op
	Effect string // stack effect, top of stack rightmost
	Doc    string
}

// Operators lists every non-numeric builtin word.
var Operators = []OpInfo{
	{WordStore, OpStore, "( buf elem val -- )", "store val into element elem of buffer buf"},
	{WordLoad, OpLoad, "( buf elem -- val )", "load element elem of buffer buf"},
	{WordSync, OpSync, "( -- )", "wait until every lane reaches this barrier"},
	{WordDefine, OpDefine, "( -- )", "begin a definition: `: NAME body ;`"},
	{WordReturn, OpReturn, "( -- )", "end a definition"},
	{WordAdd, OpAdd, "( y x -- x+y )", "add"},
	{WordSub, OpSub, "( y x -- x-y )", "subtract; the top of stack is the left operand"},
	{WordMul, OpMul, "( y x -- x*y )", "multiply"},
	{WordDiv, OpDiv, "( y x -- x/y )", "divide; the top of stack is the left operand"},
	{WordRem, OpRem, "( y x -- x%y )", "remainder; the top of stack is the left operand"},
	{WordPrint, OpPrint, "( v -- )", "print v as a lane diagnostic"},
	{WordLane, OpLane, "( -- lane )", "push the index of the executing lane"},
}

// Op returns the operation of an operator word, OpPush for a numeric word
// and OpNone for anything else.
func (w Word) Op() Op {
	switch w {
	case WordStore:
		return OpStore
	case WordLoad:
		return OpLoad
	case WordSync:
		return OpSync
	case WordDefine:
		return OpDefine
	case WordReturn:
		return OpReturn
	case WordAdd:
		return OpAdd
	case WordSub:
		return OpSub
	case WordMul:
		return OpMul
	case WordDiv:
		return OpDiv
	case WordRem:
		return OpRem
	case WordPrint:
		return OpPrint
	case WordLane:
		return OpLane
	}
	if _, ok := w.Numeric(); ok {
		return OpPush
	}
	return OpNone
}

// Info returns the operator description of w, if w is an operator word.
func (w Word) Info() (OpInfo, bool) {
	for _, info := range Operators {
		if info.Word == w {
			return info, true
		}
	}
	return OpInfo{}, false
}

// hexDigits are the characters of a numeric word, by nibble value.
const hexDigits = "0123456789ABCDEF"

// nibble decodes one upper-case hexadecimal digit.
func nibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// Numeric decodes a two-hex-digit word. The first character is the high
// nibble.
func (w Word) Numeric() (byte, bool) {
	a, b := w.Chars()
	hi, ok := nibble(a)
	if !ok {
		return 0, false
	}
	lo, ok := nibble(b)
	if !ok {
		return 0, false
	}
	return hi<<4 | lo, true
}

// NumericWord returns the word that pushes v.
func NumericWord(v byte) Word {
	return MakeWord(hexDigits[v>>4], hexDigits[v&0x0F])
}

// Words is a sequence of words, such as the output of Extract.
type Words []Word

// String renders the sequence as canonical source text, one space between
// words.
func (ws Words) String() string {
	var sb strings.Builder
	for i, w := range ws {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(w.String())
	}
	return sb.String()
}
