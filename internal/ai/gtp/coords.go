package gtp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/park285/goban-arena/internal/board"
)

// GTP vertices: columns A-T skipping I, rows counted from the bottom.
// Board points: X left to right, Y top to bottom, both zero based.

// Vertex converts a board point to GTP notation, e.g. (3,15) -> D4 on 19x19.
func Vertex(p board.Point, size int) string {
	col := 'A' + rune(p.X)
	if p.X >= 8 {
		col++ // I 건너뜀
	}
	return fmt.Sprintf("%c%d", col, size-p.Y)
}

// ParseVertex is the inverse of Vertex. pass and resign are reported
// through the flags rather than as points.
func ParseVertex(v string, size int) (p board.Point, pass, resign bool, err error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	switch v {
	case "PASS":
		return board.Point{}, true, false, nil
	case "RESIGN":
		return board.Point{}, false, true, nil
	}
	if len(v) < 2 {
		return board.Point{}, false, false, fmt.Errorf("invalid vertex %q", v)
	}
	c := v[0]
	if c < 'A' || c > 'Z' || c == 'I' {
		return board.Point{}, false, false, fmt.Errorf("invalid column in vertex %q", v)
	}
	x := int(c - 'A')
	if c > 'I' {
		x--
	}
	row, err := strconv.Atoi(v[1:])
	if err != nil {
		return board.Point{}, false, false, fmt.Errorf("invalid row in vertex %q", v)
	}
	y := size - row
	if x < 0 || x >= size || y < 0 || y >= size {
		return board.Point{}, false, false, fmt.Errorf("vertex %q out of bounds", v)
	}
	return board.Point{X: x, Y: y}, false, false, nil
}

func colorName(s board.Stone) string {
	if s == board.White {
		return "white"
	}
	return "black"
}
