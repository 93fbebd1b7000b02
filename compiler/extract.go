package compiler

import (
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ---------------------------------------------------------------------------
// Word extraction: mark, pad, truncate, sieve
// ---------------------------------------------------------------------------
//
// Every pass is written as compare/mask arithmetic over whole-buffer
// windows so that each output position is independent of the others within
// a pass. Passes are separated by a full join: a pass only ever reads the
// complete output of the previous one.

// ErrSieveDiverged reports that the compaction network failed to settle
// within its bound. It indicates a bug, not bad input.
var ErrSieveDiverged = errors.New("sieve did not settle")

// Extraction is the dense word sequence produced from a source buffer.
type Extraction struct {
	Words  Words
	Passes int // double passes run by the sieve, including the final clean one
	Swaps  int // total swaps performed by the sieve
}

// Extract runs the four extraction passes over a copy of src. Workers > 1
// splits the byte-wise passes across goroutines.
func Extract(src *Source, workers int) (*Extraction, error) {
	n := len(src.buf)
	buf := make([]byte, n)
	copy(buf, src.buf)
	tmp := make([]byte, n)
	marks := make([]uint64, (n+63)/64)

	// Pass 1: mark the first two bytes of every word.
	if err := span(0, len(marks), workers, func(lo, hi int) {
		markSpan(buf, marks, lo, hi)
	}); err != nil {
		return nil, err
	}

	// Pass 2: pad single-character words with a space.
	if err := span(0, n, workers, func(lo, hi int) {
		padSpan(buf, tmp, lo, hi)
	}); err != nil {
		return nil, err
	}

	// Pass 3: drop every unmarked byte.
	if err := span(0, n, workers, func(lo, hi int) {
		truncateSpan(tmp, buf, marks, lo, hi)
	}); err != nil {
		return nil, err
	}

	// Pass 4: sieve sentinels to the tail.
	passes, swaps, err := sieve(buf)
	if err != nil {
		return nil, err
	}

	k := 0
	for k < n && buf[k] != Sentinel {
		k++
	}
	if k%2 != 0 {
		return nil, fmt.Errorf("extract: %d surviving bytes do not form whole words", k)
	}

	words := make(Words, k/2)
	for i := range words {
		words[i] = MakeWord(buf[2*i], buf[2*i+1])
	}
	return &Extraction{Words: words, Passes: passes, Swaps: swaps}, nil
}

// span applies fn to [lo, hi) split into Padding-aligned chunks, running at
// most workers chunks at once.
func span(lo, hi, workers int, fn func(lo, hi int)) error {
	if workers <= 1 || hi-lo <= Padding {
		fn(lo, hi)
		return nil
	}
	size := alignUp(max((hi-lo)/(workers*chunksPerWorker), Padding), Padding)
	var g errgroup.Group
	g.SetLimit(workers)
	for start := lo; start < hi; start += size {
		end := min(start+size, hi)
		g.Go(func() error {
			fn(start, end)
			return nil
		})
	}
	return g.Wait()
}

// chunksPerWorker splits each pass finer than the worker count so a slow
// chunk does not idle the other workers.
const chunksPerWorker = 4

// startAt reports whether a word starts at i: a sentinel followed by a
// non-sentinel.
func startAt(buf []byte, i int) uint64 {
	if i < 1 {
		return 0
	}
	return uint64(isZero(buf[i-1]) & nonZero(buf[i]))
}

// markSpan fills marks[lo:hi]. Byte p is marked when a word starts at p or
// at p-1.
func markSpan(buf []byte, marks []uint64, lo, hi int) {
	for k := lo; k < hi; k++ {
		var bits uint64
		base := k * 64
		for j := 0; j < 64 && base+j < len(buf); j++ {
			p := base + j
			bits |= (startAt(buf, p) | startAt(buf, p-1)) << j
		}
		marks[k] = bits
	}
}

func marked(marks []uint64, p int) byte {
	return byte(marks[p/64] >> (p % 64) & 1)
}

// padSpan writes in[lo:hi] to out, turning the sentinel after a
// single-character word into a space. The window is (sentinel or space,
// non-sentinel, sentinel).
func padSpan(in, out []byte, lo, hi int) {
	for p := lo; p < hi; p++ {
		c := in[p]
		if p < 2 {
			out[p] = c
			continue
		}
		lead := in[p-2]
		single := (isZero(lead) | isByte(lead, ' ')) & nonZero(in[p-1]) & isZero(c)
		out[p] = c | ' '&mask8(single)
	}
}

// truncateSpan writes in[lo:hi] to out, keeping only marked bytes.
func truncateSpan(in, out []byte, marks []uint64, lo, hi int) {
	for p := lo; p < hi; p++ {
		out[p] = in[p] & mask8(marked(marks, p))
	}
}

// sieve compacts buf with an odd-even transposition network: a sentinel
// outranks a non-sentinel and moves toward the tail. It runs double passes
// until one performs no swap.
func sieve(buf []byte) (passes, swaps int, err error) {
	for {
		n := exchange(buf, 1) + exchange(buf, 0)
		passes++
		swaps += n
		if n == 0 {
			return passes, swaps, nil
		}
		if passes > len(buf) {
			return passes, swaps, ErrSieveDiverged
		}
	}
}

// exchange compares and conditionally swaps every pair (i, i+1) with
// i = first, first+2, ... and returns the number of swaps.
func exchange(buf []byte, first int) int {
	var n int
	for i := first; i+1 < len(buf); i += 2 {
		a, b := buf[i], buf[i+1]
		s := isZero(a) & nonZero(b)
		d := (a ^ b) & mask8(s)
		buf[i], buf[i+1] = a^d, b^d
		n += int(s)
	}
	return n
}
