package game

import (
	"time"

	"github.com/park285/goban-arena/internal/gameclock"
)

// onDisconnect marks the seat absent. During play the session moves into
// the disconnected overlay with the clock paused for the grace window;
// elsewhere only the flag is kept and phase deadlines run on.
func onDisconnect(s *step, seat Seat, _ Action) error {
	st := s.st
	if st.Disconnected[seat] {
		return nil
	}
	st.Disconnected[seat] = true
	s.emit(Event{Kind: EventPresence, Seat: seat, Note: "disconnected"})
	if st.Phase != PhaseMainPlay && st.Phase != PhaseCurlingTiebreak {
		return nil
	}
	if _, ok := st.Clock.Pause(s.now); !ok {
		s.timeoutLoss(st.SeatToMove)
		return nil
	}
	st.ResumePhase = st.Phase
	st.Phase = PhaseDisconnected
	st.PhaseDeadline = s.now.Add(s.m.opts.DisconnectGrace)
	s.emit(Event{Kind: EventPhase, Seat: seat, From: st.ResumePhase, To: PhaseDisconnected})
	return nil
}

func onReconnect(s *step, seat Seat, _ Action) error {
	st := s.st
	if !st.Disconnected[seat] {
		return nil
	}
	st.Disconnected[seat] = false
	s.emit(Event{Kind: EventPresence, Seat: seat, Note: "reconnected"})
	if st.Phase != PhaseDisconnected || st.Disconnected[seat.Other()] {
		return nil
	}
	st.Phase = st.ResumePhase
	st.ResumePhase = ""
	st.PhaseDeadline = time.Time{}
	st.Clock.Resume(int(st.SeatToMove), s.now)
	s.emit(Event{Kind: EventPhase, Seat: seat, From: PhaseDisconnected, To: st.Phase})
	return nil
}

// graceExpired settles a session whose absent seat did not return.
func (s *step) graceExpired() {
	st := s.st
	if (st.Disconnected[0] && st.Disconnected[1]) || st.MovesPlayed() < 2 {
		s.finish(TerminalResult{Kind: ResultNoContest, Winner: NoSeat, Reason: ReasonDisconnect})
		return
	}
	absent := SeatA
	if st.Disconnected[SeatB] {
		absent = SeatB
	}
	s.win(absent.Other(), ReasonDisconnect)
}

// onTimeout is the system action raised when a deadline has passed.
func onTimeout(s *step, _ Seat, _ Action) error {
	st := s.st
	switch {
	case st.Phase == PhaseMainPlay || st.Phase == PhaseCurlingTiebreak:
		if st.Clock.Running == gameclock.NoSeat {
			return errNotDue
		}
		flagged, expired := st.Clock.Expired(s.now)
		if !expired {
			return errNotDue
		}
		s.timeoutLoss(Seat(flagged))
		return nil
	}
	if st.PhaseDeadline.IsZero() || s.now.Before(st.PhaseDeadline) {
		return errNotDue
	}
	switch {
	case st.Phase == PhaseDisconnected:
		s.graceExpired()
	case st.Phase == PhaseScoring:
		s.forcedCount()
	case st.Phase.IsSetup():
		return s.fillDefaults()
	default:
		return errNotDue
	}
	return nil
}

var errNotDue = ErrInvalidPhaseAction.Withf("no deadline has passed")

// fillDefaults submits the default action for every seat the setup phase
// is still waiting on.
func (s *step) fillDefaults() error {
	phase := s.st.Phase
	for _, seat := range s.st.DueSeats() {
		if s.st.Phase != phase {
			break
		}
		a := s.m.defaultAction(s.st, seat)
		h, ok := s.m.table[tableKey{variant: s.st.Variant, phase: phase, kind: a.Kind}]
		if !ok {
			continue
		}
		if err := h(s, seat, a); err != nil {
			return err
		}
	}
	s.note("setup deadline filled defaults")
	return nil
}
