// Package sgf renders finished sessions as SGF FF[4] game records.
package sgf

import (
	"fmt"
	"strings"

	"github.com/park285/goban-arena/internal/board"
	"github.com/park285/goban-arena/internal/game"
)

// coord converts 0-indexed board coordinates to an SGF letter pair.
// (0,0) -> "aa", (3,4) -> "de", (18,18) -> "ss".
func coord(p board.Point) string {
	return string(rune('a'+p.X)) + string(rune('a'+p.Y))
}

func colorTag(s board.Stone) string {
	if s == board.White {
		return "W"
	}
	return "B"
}

// escape quotes the characters SGF text values reserve.
func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `]`, `\]`)
	return r.Replace(s)
}

// Result formats a terminal result as an RE[] value.
func Result(st *game.State) string {
	r := st.Result
	if r == nil {
		return "?"
	}
	switch r.Kind {
	case game.ResultDraw:
		return "0"
	case game.ResultNoContest:
		return "Void"
	}
	w := colorTag(st.Colors[r.Winner])
	switch r.Reason {
	case game.ReasonResign:
		return w + "+R"
	case game.ReasonTimeout:
		return w + "+T"
	case game.ReasonDisconnect:
		return w + "+F"
	case game.ReasonScore, game.ReasonForcedCount:
		if r.Score != nil {
			margin := r.Score.Black - r.Score.White
			if margin < 0 {
				margin = -margin
			}
			return fmt.Sprintf("%s+%g", w, margin)
		}
	}
	return w + "+"
}

func playerName(p game.Participant) string {
	if p.IsAI() {
		return fmt.Sprintf("%s level %d", p.Engine, p.Level)
	}
	return p.UserID
}

// Encode renders the session record. Setup stones become AB/AW on the root
// node; placements and passes are B/W nodes. A missile lands as a move on
// its destination and clears its origin and captures with AE; other variant moves become
// comments.
func Encode(st *game.State) string {
	var b strings.Builder

	black, white := game.SeatA, game.SeatB
	if st.Colors[game.SeatA] == board.White {
		black, white = game.SeatB, game.SeatA
	}

	b.WriteString("(;GM[1]FF[4]CA[UTF-8]AP[goban-arena:1]")
	fmt.Fprintf(&b, "SZ[%d]", st.Board.Size())
	fmt.Fprintf(&b, "KM[%.1f]", st.Komi)
	fmt.Fprintf(&b, "PB[%s]", escape(playerName(st.Seats[black])))
	fmt.Fprintf(&b, "PW[%s]", escape(playerName(st.Seats[white])))
	fmt.Fprintf(&b, "DT[%s]", st.CreatedAt.UTC().Format("2006-01-02"))
	fmt.Fprintf(&b, "GN[%s]", escape(st.ID))
	fmt.Fprintf(&b, "RU[%s]", escape(st.Variant))
	fmt.Fprintf(&b, "RE[%s]", Result(st))

	var ab, aw []string
	for _, s := range st.Setup {
		if st.Colors[s.Seat] == board.White {
			aw = append(aw, coord(s.Point))
		} else {
			ab = append(ab, coord(s.Point))
		}
	}
	writeList(&b, "AB", ab)
	writeList(&b, "AW", aw)
	b.WriteString("\n")

	for _, m := range st.History {
		tag := colorTag(m.Color)
		switch m.Kind {
		case game.ActMove:
			fmt.Fprintf(&b, ";%s[%s]", tag, coord(m.Point))
		case game.ActPass:
			fmt.Fprintf(&b, ";%s[]", tag)
		case game.ActMissile:
			fmt.Fprintf(&b, ";%s[%s]C[missile %s->%s]", tag, coord(m.To), coord(m.Point), coord(m.To))
		default:
			fmt.Fprintf(&b, ";C[%s %s %s]", tag, escape(string(m.Kind)), coord(m.Point))
		}
		if m.Kind == game.ActMissile {
			fmt.Fprintf(&b, "AE[%s]", coord(m.Point))
			for _, p := range m.Captured {
				fmt.Fprintf(&b, "[%s]", coord(p))
			}
		}
	}
	b.WriteString(")\n")
	return b.String()
}

func writeList(b *strings.Builder, prop string, coords []string) {
	if len(coords) == 0 {
		return
	}
	b.WriteString(prop)
	for _, c := range coords {
		fmt.Fprintf(b, "[%s]", c)
	}
}
