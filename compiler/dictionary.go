package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Dictionary: the classification of every word
// ---------------------------------------------------------------------------

// Dictionary entry sentinels. Any positive entry is the index, in the word
// sequence, where a user definition's body begins. A body can never begin at
// 0 since a definition marker and a name precede it.
const (
	Undefined int32 = 0
	Builtin   int32 = -1
)

// Class is the kind of a dictionary entry.
type Class int

const (
	ClassUndefined Class = iota
	ClassBuiltin
	ClassUser
)

func (c Class) String() string {
	switch c {
	case ClassUndefined:
		return "undefined"
	case ClassBuiltin:
		return "builtin"
	case ClassUser:
		return "user"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Severity grades a Diagnostic.
type Severity int

const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityHint
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityHint:
		return "hint"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Diagnostic is a non-fatal finding about the word sequence. Index is the
// position of the offending word.
type Diagnostic struct {
	Severity Severity
	Index    int
	Word     Word
	Message  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: word %d (%s): %s", d.Severity, d.Index, d.Word, d.Message)
}

// Definition records where a user word is defined.
type Definition struct {
	Name   Word
	Header int // index of the ':' word
	Body   int // index of the first body word
	End    int // index of the closing ';', or len(words) when unterminated
}

// Dictionary maps every word to Undefined, Builtin or a body offset. It is
// built once and read-only afterwards, so lanes may share it freely.
type Dictionary struct {
	entries     [WordSpace]int32
	defs        map[Word]Definition
	order       []Word
	Diagnostics []Diagnostic
}

// NewDictionary returns a dictionary holding only the builtin words: the
// operators and all 256 numeric words.
func NewDictionary() *Dictionary {
	d := &Dictionary{defs: make(map[Word]Definition)}
	for _, info := range Operators {
		d.entries[info.Word] = Builtin
	}
	for v := 0; v < 256; v++ {
		d.entries[NumericWord(byte(v))] = Builtin
	}
	return d
}

// Resolve builds the dictionary for a word sequence. Definitions are
// registered before any word is expanded, so a word may be used before the
// definition that gives it meaning. Any word but : and ; may be defined,
// including operators and numerals, which then expand to the user body.
func Resolve(words []Word) *Dictionary {
	d := NewDictionary()
	for i := 0; i < len(words); i++ {
		if words[i] != WordDefine {
			continue
		}
		if i+1 >= len(words) {
			d.report(SeverityError, i, words[i], "definition has no name")
			break
		}
		name := words[i+1]
		end := findReturn(words, i+2)
		if end == len(words) {
			d.report(SeverityWarning, i+1, name, "definition is not terminated by ;")
		}

		switch {
		case name == WordDefine || name == WordReturn:
			d.report(SeverityError, i+1, name, "cannot redefine definition marker")
			i = end
			continue
		case d.entries[name] == Builtin:
			d.report(SeverityWarning, i+1, name, "definition shadows builtin word")
		}
		if _, ok := d.defs[name]; ok {
			d.report(SeverityWarning, i+1, name, "redefinition replaces earlier definition")
		} else {
			d.order = append(d.order, name)
		}
		d.entries[name] = int32(i + 2)
		d.defs[name] = Definition{Name: name, Header: i, Body: i + 2, End: end}
		i = end
	}
	return d
}

// findReturn returns the index of the first ';' at or after from, or
// len(words).
func findReturn(words []Word, from int) int {
	for i := from; i < len(words); i++ {
		if words[i] == WordReturn {
			return i
		}
	}
	return len(words)
}

func (d *Dictionary) report(sev Severity, index int, w Word, msg string) {
	d.Diagnostics = append(d.Diagnostics, Diagnostic{Severity: sev, Index: index, Word: w, Message: msg})
}

// Lookup returns the raw entry for w.
func (d *Dictionary) Lookup(w Word) int32 {
	return d.entries[w]
}

// Class returns the classification of w.
func (d *Dictionary) Class(w Word) Class {
	switch e := d.entries[w]; {
	case e == Builtin:
		return ClassBuiltin
	case e == Undefined:
		return ClassUndefined
	default:
		return ClassUser
	}
}

// Definition returns the definition of a user word.
func (d *Dictionary) Definition(w Word) (Definition, bool) {
	def, ok := d.defs[w]
	return def, ok
}

// Definitions returns user definitions in the order their names first
// appeared.
func (d *Dictionary) Definitions() []Definition {
	out := make([]Definition, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.defs[name])
	}
	return out
}
