package compiler

// ---------------------------------------------------------------------------
// Source: padded, normalized program text
// ---------------------------------------------------------------------------

// Padding is the alignment of a source buffer and the minimum slack after
// the text, so fixed-width windows never read out of bounds.
const Padding = 1 << 6

// Sentinel is the canonical value of every whitespace or control byte.
const Sentinel = 0x00

// Source is normalized program text. Byte 0 is the sentinel, the text starts
// at offset 1 and the buffer is zero-padded to a multiple of Padding.
type Source struct {
	buf  []byte
	size int
}

// alignUp rounds n up to the next multiple of align, a power of two.
func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// Normalize copies raw into a padded buffer, replacing every byte at or
// below the space character with the sentinel.
func Normalize(raw []byte) *Source {
	src := &Source{
		buf:  make([]byte, alignUp(1+len(raw)+Padding, Padding)),
		size: len(raw),
	}
	copy(src.buf[1:], raw)
	normalizeSpan(src.buf, 1, 1+len(raw))
	return src
}

func normalizeSpan(buf []byte, lo, hi int) {
	for i := lo; i < hi; i++ {
		c := buf[i]
		buf[i] = c & mask8(above(c, ' '))
	}
}

// Bytes returns the normalized buffer including padding.
func (s *Source) Bytes() []byte {
	return s.buf
}

// Size returns the length of the original text.
func (s *Source) Size() int {
	return s.size
}

// Text returns the normalized text without the sentinel and padding.
func (s *Source) Text() []byte {
	return s.buf[1 : 1+s.size]
}

// ---------------------------------------------------------------------------
// Branchless byte predicates. Each returns 0 or 1.
// ---------------------------------------------------------------------------

// isZero reports c == 0: only for c == 0 does c-1 borrow into bit 31.
func isZero(c byte) byte {
	return byte((uint32(c) - 1) >> 31)
}

func nonZero(c byte) byte {
	return isZero(c) ^ 1
}

// isByte reports c == v.
func isByte(c, v byte) byte {
	return isZero(c ^ v)
}

// above reports c > v.
func above(c, v byte) byte {
	return byte((uint32(v) - uint32(c)) >> 31)
}

// mask8 widens a 0/1 flag to 0x00/0xFF.
func mask8(flag byte) byte {
	return -flag
}
