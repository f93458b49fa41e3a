package arenapresenter

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/goban-arena/internal/game"
	"github.com/park285/goban-arena/internal/msgcat"
	"github.com/park285/goban-arena/pkg/arenadto"
)

const recentMovesLimit = 5

var stoneGlyphs = map[byte]string{'.': "┼", 'X': "●", 'O': "○"}

// Board renders snapshot rows as a text grid, row 0 on top.
func Board(s *game.Snapshot) string {
	if s == nil {
		return ""
	}
	var sb strings.Builder
	for _, row := range s.Rows {
		for i := 0; i < len(row); i++ {
			if g, ok := stoneGlyphs[row[i]]; ok {
				sb.WriteString(g)
			} else {
				sb.WriteByte(row[i])
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Summary renders the status block shown by the command-line probe.
func Summary(s *game.Snapshot) string {
	if s == nil {
		return "세션 정보를 불러오지 못했습니다."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "♟ %s %dx%d · %s (v%d)\n", s.Variant, s.BoardSize, s.BoardSize, s.Phase, s.Version)
	for i, p := range s.Seats {
		seat := game.Seat(i)
		marker := " "
		if s.SeatToMove == seat && s.Result == nil {
			marker = "▶"
		}
		fmt.Fprintf(&sb, "%s %s %s · 따낸 돌 %d · %s\n",
			marker, s.Colors[i], playerLabel(p), s.Captured[seat.Other()], formatClock(s, i))
	}
	if n := len(s.History); n > 0 {
		from := n - recentMovesLimit
		if from < 0 {
			from = 0
		}
		parts := make([]string, 0, n-from)
		for _, m := range s.History[from:] {
			parts = append(parts, formatMove(m))
		}
		fmt.Fprintf(&sb, "• 최근 수: %s\n", strings.Join(parts, ", "))
	}
	if s.NeedsAttention {
		sb.WriteString("• 운영 확인 필요\n")
	}
	if r := s.Result; r != nil {
		sb.WriteString("• 결과: " + formatResult(s, r) + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Error renders a wire error for chat-style output. Known codes use the
// catalog text instead of the server message.
func Error(e *arenadto.DomainError) string {
	if e == nil {
		return ""
	}
	cat := msgcat.Default()
	data := map[string]string{
		"Text": cat.Text("errors."+e.Code, e.Error()),
		"Code": e.Code,
	}
	key := "summary.error"
	if e.Retryable {
		key = "summary.retry"
	}
	line, err := cat.Render(key, data)
	if err != nil {
		line = data["Text"] + " (" + e.Code + ")"
	}
	return "⚠ " + line
}

func reasonLabel(reason string) string {
	return msgcat.Default().Text("reasons."+reason, reason)
}

func playerLabel(p game.Participant) string {
	if p.IsAI() {
		return fmt.Sprintf("AI %s Lv.%d", p.Engine, p.Level)
	}
	return p.UserID
}

func formatClock(s *game.Snapshot, i int) string {
	c := s.Clocks[i]
	if c.BaseRemaining > 0 {
		return c.BaseRemaining.Truncate(time.Second).String()
	}
	if c.PeriodsLeft > 0 {
		return fmt.Sprintf("초읽기 %s ×%d", c.ByoyomiRemaining.Truncate(time.Second), c.PeriodsLeft)
	}
	return "0s"
}

func formatMove(m game.MoveRecord) string {
	switch m.Kind {
	case game.ActPass:
		return "패스"
	case game.ActMove:
		return m.Point.String()
	}
	return fmt.Sprintf("%s %s", m.Kind, m.Point)
}

func formatResult(s *game.Snapshot, r *game.TerminalResult) string {
	switch r.Kind {
	case game.ResultDraw:
		return "무승부 (" + reasonLabel(r.Reason) + ")"
	case game.ResultNoContest:
		return "무효 (" + reasonLabel(r.Reason) + ")"
	}
	winner := "?"
	if r.Winner.Valid() {
		winner = playerLabel(s.Seats[r.Winner])
	}
	if r.Score != nil {
		return fmt.Sprintf("%s 승 (%s, 흑 %.1f / 백 %.1f)", winner, reasonLabel(r.Reason), r.Score.Black, r.Score.White)
	}
	return fmt.Sprintf("%s 승 (%s)", winner, reasonLabel(r.Reason))
}
