package compiler

// ---------------------------------------------------------------------------
// Linking: user words as out-of-line bodies
// ---------------------------------------------------------------------------

// Link compiles words without inlining. The entry section comes first; each
// user word reachable from it gets one body, terminated by a return, placed
// after the entry section. Recursion is allowed here and bounded at run time
// by the jump stack.
func Link(words []Word, dict *Dictionary) (*Program, error) {
	l := &linker{
		words:   words,
		dict:    dict,
		entries: make(map[Word]int32),
	}

	l.emitSpan(0, len(words), false)
	main := len(l.code)

	for len(l.queue) > 0 {
		name := l.queue[0]
		l.queue = l.queue[1:]
		body := int(dict.Lookup(name))
		l.entries[name] = int32(len(l.code))
		l.emitSpan(body, findReturn(words, body), true)
		l.code = append(l.code, Instr{Word: WordReturn, Target: NoTarget})
	}

	for _, fix := range l.fixups {
		l.code[fix.at].Target = l.entries[fix.name]
	}

	return &Program{Mode: ModeLink, Code: l.code, Main: main}, nil
}

type fixup struct {
	at   int
	name Word
}

type linker struct {
	words   []Word
	dict    *Dictionary
	code    []Instr
	queue   []Word
	queued  wordSet
	entries map[Word]int32
	fixups  []fixup
}

func (l *linker) emitSpan(pos, end int, body bool) {
	for pos < end {
		w := l.words[pos]
		pos++
		switch w {
		case WordDefine:
			if !body {
				pos = findReturn(l.words, pos+1) + 1
			}
			continue
		case WordReturn:
			continue
		}

		switch l.dict.Class(w) {
		case ClassBuiltin:
			l.code = append(l.code, Instr{Word: w, Target: NoTarget})
		case ClassUser:
			if !l.queued.has(w) {
				l.queued.add(w)
				l.queue = append(l.queue, w)
			}
			l.fixups = append(l.fixups, fixup{at: len(l.code), name: w})
			l.code = append(l.code, Instr{Word: w, Target: 0})
		}
	}
}
