package board

// Score is an area count: stones on board plus empty regions bordered by a
// single colour. Komi is added to White.
type Score struct {
	BlackStones    int     `json:"black_stones"`
	WhiteStones    int     `json:"white_stones"`
	BlackTerritory int     `json:"black_territory"`
	WhiteTerritory int     `json:"white_territory"`
	Komi           float64 `json:"komi"`
	Black          float64 `json:"black"`
	White          float64 `json:"white"`
}

// Winner returns Black, White, or Empty for a tie.
func (s Score) Winner() Stone {
	switch {
	case s.Black > s.White:
		return Black
	case s.White > s.Black:
		return White
	default:
		return Empty
	}
}

// AreaScore counts b after removing the dead stones. b is not modified.
func AreaScore(b *Board, dead []Point, komi float64) Score {
	work := b.Clone()
	for _, p := range dead {
		if work.InBounds(p) {
			work.cells[work.index(p)] = Empty
		}
	}
	sc := Score{Komi: komi}
	sc.BlackStones = work.Count(Black)
	sc.WhiteStones = work.Count(White)

	seen := make([]bool, len(work.cells))
	e := NewEngine(work.size)
	var stack []int
	for i, c := range work.cells {
		if c != Empty || seen[i] {
			continue
		}
		region := 0
		touchB, touchW := false, false
		stack = append(stack[:0], i)
		seen[i] = true
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			region++
			for _, nb := range e.neighbours(cur) {
				switch work.cells[nb] {
				case Black:
					touchB = true
				case White:
					touchW = true
				default:
					if !seen[nb] {
						seen[nb] = true
						stack = append(stack, nb)
					}
				}
			}
		}
		switch {
		case touchB && !touchW:
			sc.BlackTerritory += region
		case touchW && !touchB:
			sc.WhiteTerritory += region
		}
	}
	sc.Black = float64(sc.BlackStones + sc.BlackTerritory)
	sc.White = float64(sc.WhiteStones+sc.WhiteTerritory) + komi
	return sc
}
