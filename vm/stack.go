package vm

// ---------------------------------------------------------------------------
// Data stack: one per lane
// ---------------------------------------------------------------------------

// Stack is a bounded data stack of 32-bit cells.
type Stack struct {
	cells []int32
	depth int
}

func newStack(depth int) *Stack {
	return &Stack{cells: make([]int32, 0, depth), depth: depth}
}

// Len returns the number of values on the stack.
func (s *Stack) Len() int { return len(s.cells) }

// need checks that down values can be popped and, after that, up values
// pushed. It never changes the stack.
func (s *Stack) need(down, up int) error {
	switch {
	case len(s.cells) < down:
		return StackUnderflow
	case len(s.cells)-down+up > s.depth:
		return StackOverflow
	}
	return nil
}

func (s *Stack) push(v int32) {
	s.cells = append(s.cells, v)
}

func (s *Stack) pop() int32 {
	v := s.cells[len(s.cells)-1]
	s.cells = s.cells[:len(s.cells)-1]
	return v
}

// peek returns the value n cells below the top.
func (s *Stack) peek(n int) int32 {
	return s.cells[len(s.cells)-1-n]
}

func (s *Stack) drop(n int) {
	s.cells = s.cells[:len(s.cells)-n]
}

// Top returns the top of stack.
func (s *Stack) Top() (int32, bool) {
	if len(s.cells) == 0 {
		return 0, false
	}
	return s.peek(0), true
}

// Snapshot copies the stack, bottom first.
func (s *Stack) Snapshot() []int32 {
	return append([]int32(nil), s.cells...)
}

// ---------------------------------------------------------------------------
// Jump stack: shared by all lanes
// ---------------------------------------------------------------------------

// jumpStack holds return addresses for collective calls. It is only
// modified by a barrier action, while every lane is parked.
type jumpStack struct {
	addrs []int
	depth int
}

func (j *jumpStack) Len() int { return len(j.addrs) }

func (j *jumpStack) push(addr int) error {
	if len(j.addrs) >= j.depth {
		return JumpOverflow
	}
	j.addrs = append(j.addrs, addr)
	return nil
}

func (j *jumpStack) pop() (int, error) {
	if len(j.addrs) == 0 {
		return 0, JumpUnderflow
	}
	addr := j.addrs[len(j.addrs)-1]
	j.addrs = j.addrs[:len(j.addrs)-1]
	return addr, nil
}
