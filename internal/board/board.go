package board

import (
	"errors"
	"fmt"
	"strings"
)

// Stone is the content of a single intersection.
type Stone int8

const (
	Empty Stone = iota
	Black
	White
)

func (s Stone) Opponent() Stone {
	switch s {
	case Black:
		return White
	case White:
		return Black
	default:
		return Empty
	}
}

func (s Stone) String() string {
	switch s {
	case Black:
		return "black"
	case White:
		return "white"
	default:
		return "empty"
	}
}

// ParseStone accepts "black"/"b" and "white"/"w".
func ParseStone(s string) (Stone, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "black", "b":
		return Black, nil
	case "white", "w":
		return White, nil
	}
	return Empty, fmt.Errorf("unknown stone %q", s)
}

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Direction is used by sliding (missile) moves.
type Direction string

const (
	Up    Direction = "up"
	Down  Direction = "down"
	Left  Direction = "left"
	Right Direction = "right"
)

func (d Direction) delta() (int, int, bool) {
	switch d {
	case Up:
		return 0, -1, true
	case Down:
		return 0, 1, true
	case Left:
		return -1, 0, true
	case Right:
		return 1, 0, true
	}
	return 0, 0, false
}

var (
	ErrOutOfBounds  = errors.New("point out of bounds")
	ErrOccupied     = errors.New("point occupied")
	ErrSuicide      = errors.New("suicide without capture")
	ErrKo           = errors.New("ko repetition")
	ErrNotOwnStone  = errors.New("no own stone at point")
	ErrBlocked      = errors.New("stone cannot move in that direction")
	ErrBadDirection = errors.New("unknown direction")
	ErrInvalidSize  = errors.New("unsupported board size")
)

var validSizes = map[int]bool{9: true, 13: true, 15: true, 19: true}

// ValidSize reports whether n is one of the supported board sizes.
func ValidSize(n int) bool { return validSizes[n] }

// Board is an N×N grid stored row-major.
type Board struct {
	size  int
	cells []Stone
}

func New(size int) (*Board, error) {
	if !ValidSize(size) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	return &Board{size: size, cells: make([]Stone, size*size)}, nil
}

// MustNew panics on an invalid size. Test helper and constant tables only.
func MustNew(size int) *Board {
	b, err := New(size)
	if err != nil {
		panic(err)
	}
	return b
}

func (b *Board) Size() int { return b.size }

func (b *Board) InBounds(p Point) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < b.size && p.Y < b.size
}

func (b *Board) index(p Point) int { return p.Y*b.size + p.X }

func (b *Board) point(i int) Point { return Point{X: i % b.size, Y: i / b.size} }

// At returns Empty for out-of-bounds points.
func (b *Board) At(p Point) Stone {
	if !b.InBounds(p) {
		return Empty
	}
	return b.cells[b.index(p)]
}

// Put sets a cell without any rule checks. Used by setup placement.
func (b *Board) Put(p Point, s Stone) error {
	if !b.InBounds(p) {
		return ErrOutOfBounds
	}
	b.cells[b.index(p)] = s
	return nil
}

func (b *Board) Clone() *Board {
	if b == nil {
		return nil
	}
	c := &Board{size: b.size, cells: make([]Stone, len(b.cells))}
	copy(c.cells, b.cells)
	return c
}

func (b *Board) Equal(o *Board) bool {
	if b == nil || o == nil {
		return b == o
	}
	if b.size != o.size {
		return false
	}
	for i := range b.cells {
		if b.cells[i] != o.cells[i] {
			return false
		}
	}
	return true
}

// Count returns the number of stones of the given colour.
func (b *Board) Count(s Stone) int {
	n := 0
	for _, c := range b.cells {
		if c == s {
			n++
		}
	}
	return n
}

// Stones lists every occupied point of colour s in row-major order.
func (b *Board) Stones(s Stone) []Point {
	var out []Point
	for i, c := range b.cells {
		if c == s {
			out = append(out, b.point(i))
		}
	}
	return out
}

// SwapColors exchanges black and white stones in place.
func (b *Board) SwapColors() {
	for i, c := range b.cells {
		b.cells[i] = c.Opponent()
	}
}

// Rows renders the board as strings of '.', 'X' (black) and 'O' (white).
func (b *Board) Rows() []string {
	rows := make([]string, b.size)
	var sb strings.Builder
	for y := 0; y < b.size; y++ {
		sb.Reset()
		for x := 0; x < b.size; x++ {
			switch b.cells[y*b.size+x] {
			case Black:
				sb.WriteByte('X')
			case White:
				sb.WriteByte('O')
			default:
				sb.WriteByte('.')
			}
		}
		rows[y] = sb.String()
	}
	return rows
}

// FromRows is the inverse of Rows.
func FromRows(rows []string) (*Board, error) {
	b, err := New(len(rows))
	if err != nil {
		return nil, err
	}
	for y, row := range rows {
		if len(row) != b.size {
			return nil, fmt.Errorf("row %d: want %d cells, got %d", y, b.size, len(row))
		}
		for x := 0; x < len(row); x++ {
			switch row[x] {
			case 'X', 'x', 'B', 'b':
				b.cells[y*b.size+x] = Black
			case 'O', 'o', 'W', 'w':
				b.cells[y*b.size+x] = White
			case '.', '+', '-':
			default:
				return nil, fmt.Errorf("row %d col %d: bad cell %q", y, x, row[x])
			}
		}
	}
	return b, nil
}
