package board

// Result is the outcome of a legal placement or slide.
type Result struct {
	Board    *Board
	Captured []Point
}

// Engine resolves placements and captures. Its scratch buffers are reused
// between calls, so an Engine must not be shared by concurrent callers.
type Engine struct {
	size  int
	stamp []uint32
	epoch uint32
	stack []int
	group []int
	nbuf  [4]int
}

func NewEngine(size int) *Engine {
	n := size * size
	return &Engine{
		size:  size,
		stamp: make([]uint32, n),
		stack: make([]int, 0, n),
		group: make([]int, 0, n),
	}
}

func (e *Engine) fit(b *Board) {
	if e.size == b.size {
		return
	}
	*e = *NewEngine(b.size)
}

func (e *Engine) nextEpoch() uint32 {
	e.epoch++
	if e.epoch == 0 {
		for i := range e.stamp {
			e.stamp[i] = 0
		}
		e.epoch = 1
	}
	return e.epoch
}

func (e *Engine) neighbours(i int) []int {
	n := e.nbuf[:0]
	x, y := i%e.size, i/e.size
	if x > 0 {
		n = append(n, i-1)
	}
	if x < e.size-1 {
		n = append(n, i+1)
	}
	if y > 0 {
		n = append(n, i-e.size)
	}
	if y < e.size-1 {
		n = append(n, i+e.size)
	}
	return n
}

// groupAt flood-fills the chain containing start and returns its cells
// (valid until the next call) and its liberty count.
func (e *Engine) groupAt(cells []Stone, start int) ([]int, int) {
	color := cells[start]
	ep := e.nextEpoch()
	libEpoch := e.nextEpoch()
	e.group = e.group[:0]
	e.stack = append(e.stack[:0], start)
	e.stamp[start] = ep
	libs := 0
	for len(e.stack) > 0 {
		cur := e.stack[len(e.stack)-1]
		e.stack = e.stack[:len(e.stack)-1]
		e.group = append(e.group, cur)
		for _, nb := range e.neighbours(cur) {
			switch cells[nb] {
			case color:
				if e.stamp[nb] != ep && e.stamp[nb] != libEpoch {
					e.stamp[nb] = ep
					e.stack = append(e.stack, nb)
				}
			case Empty:
				if e.stamp[nb] != libEpoch {
					e.stamp[nb] = libEpoch
					libs++
				}
			}
		}
	}
	return e.group, libs
}

// Apply places stone s at p on a copy of b. koRef is the position that
// existed immediately before the opponent's last move; a result equal to
// it is a ko repetition. koRef may be nil.
func (e *Engine) Apply(b *Board, s Stone, p Point, koRef *Board) (Result, error) {
	if !b.InBounds(p) {
		return Result{}, ErrOutOfBounds
	}
	if b.At(p) != Empty {
		return Result{}, ErrOccupied
	}
	e.fit(b)
	next := b.Clone()
	idx := next.index(p)
	next.cells[idx] = s
	captured := e.resolve(next, idx, s)
	if _, libs := e.groupAt(next.cells, idx); libs == 0 {
		return Result{}, ErrSuicide
	}
	if koRef != nil && next.Equal(koRef) {
		return Result{}, ErrKo
	}
	return Result{Board: next, Captured: captured}, nil
}

// resolve removes opponent chains adjacent to idx that have no liberties.
func (e *Engine) resolve(b *Board, idx int, s Stone) []Point {
	opp := s.Opponent()
	var captured []Point
	var adj [4]int
	nbs := adj[:copy(adj[:], e.neighbours(idx))]
	for _, nb := range nbs {
		if b.cells[nb] != opp {
			continue
		}
		group, libs := e.groupAt(b.cells, nb)
		if libs > 0 {
			continue
		}
		for _, g := range group {
			b.cells[g] = Empty
			captured = append(captured, b.point(g))
		}
	}
	return captured
}

// Slide moves the mover's stone at from in direction d until the next cell
// is occupied or off-board, then resolves captures as for a placement.
func (e *Engine) Slide(b *Board, s Stone, from Point, d Direction, koRef *Board) (Result, error) {
	if !b.InBounds(from) {
		return Result{}, ErrOutOfBounds
	}
	if b.At(from) != s {
		return Result{}, ErrNotOwnStone
	}
	dx, dy, ok := d.delta()
	if !ok {
		return Result{}, ErrBadDirection
	}
	to := from
	for {
		nxt := Point{X: to.X + dx, Y: to.Y + dy}
		if !b.InBounds(nxt) || b.At(nxt) != Empty {
			break
		}
		to = nxt
	}
	if to == from {
		return Result{}, ErrBlocked
	}
	e.fit(b)
	next := b.Clone()
	next.cells[next.index(from)] = Empty
	idx := next.index(to)
	next.cells[idx] = s
	captured := e.resolve(next, idx, s)
	if _, libs := e.groupAt(next.cells, idx); libs == 0 {
		return Result{}, ErrSuicide
	}
	if koRef != nil && next.Equal(koRef) {
		return Result{}, ErrKo
	}
	return Result{Board: next, Captured: captured}, nil
}

// Liberties returns the liberty count of the chain at p, or 0 for empty.
func (e *Engine) Liberties(b *Board, p Point) int {
	if b.At(p) == Empty {
		return 0
	}
	e.fit(b)
	_, libs := e.groupAt(b.cells, b.index(p))
	return libs
}

// RemoveDeadGroups removes every chain with no liberties, in place.
// Setup placements can produce such chains.
func (e *Engine) RemoveDeadGroups(b *Board) []Point {
	e.fit(b)
	var removed []Point
	var dead []int
	for i, c := range b.cells {
		if c == Empty {
			continue
		}
		group, libs := e.groupAt(b.cells, i)
		if libs == 0 {
			dead = append(dead, group...)
		}
	}
	for _, i := range dead {
		if b.cells[i] != Empty {
			b.cells[i] = Empty
			removed = append(removed, b.point(i))
		}
	}
	return removed
}

// Place puts s at p without capture resolution (omok rules).
func Place(b *Board, s Stone, p Point) (*Board, error) {
	if !b.InBounds(p) {
		return nil, ErrOutOfBounds
	}
	if b.At(p) != Empty {
		return nil, ErrOccupied
	}
	next := b.Clone()
	next.cells[next.index(p)] = s
	return next, nil
}

// Apply is a convenience wrapper that uses a throwaway Engine.
func Apply(b *Board, s Stone, p Point, koRef *Board) (Result, error) {
	return NewEngine(b.Size()).Apply(b, s, p, koRef)
}

// FiveInRow reports whether the stone at p is part of a line of five or more.
func FiveInRow(b *Board, p Point) bool {
	s := b.At(p)
	if s == Empty {
		return false
	}
	dirs := [4][2]int{{1, 0}, {0, 1}, {1, 1}, {1, -1}}
	for _, d := range dirs {
		n := 1
		for k := 1; ; k++ {
			q := Point{X: p.X + d[0]*k, Y: p.Y + d[1]*k}
			if b.At(q) != s || !b.InBounds(q) {
				break
			}
			n++
		}
		for k := 1; ; k++ {
			q := Point{X: p.X - d[0]*k, Y: p.Y - d[1]*k}
			if b.At(q) != s || !b.InBounds(q) {
				break
			}
			n++
		}
		if n >= 5 {
			return true
		}
	}
	return false
}
