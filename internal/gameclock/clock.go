package gameclock

import "time"

// Control is the time-control configuration shared by both seats.
type Control struct {
	Base           time.Duration
	Increment      time.Duration
	ByoyomiPeriod  time.Duration
	ByoyomiPeriods int
}

// Untimed reports whether the control never expires.
func (c Control) Untimed() bool {
	return c.Base <= 0 && (c.ByoyomiPeriods <= 0 || c.ByoyomiPeriod <= 0)
}

// SeatClock is one seat's remaining time.
type SeatClock struct {
	BaseRemaining    time.Duration `json:"base_remaining"`
	ByoyomiRemaining time.Duration `json:"byoyomi_remaining"`
	PeriodsLeft      int           `json:"periods_left"`
}

// InByoyomi reports whether base time is exhausted.
func (s SeatClock) InByoyomi() bool { return s.BaseRemaining <= 0 && s.PeriodsLeft > 0 }

// Clock is a two-seat game clock. It is a value type so that a session
// state can be cloned without aliasing.
type Clock struct {
	Control   Control      `json:"-"`
	Seats     [2]SeatClock `json:"seats"`
	Running   int          `json:"running"`
	StartedAt time.Time    `json:"started_at"`
}

// NoSeat marks a stopped clock.
const NoSeat = -1

func New(c Control) Clock {
	sc := SeatClock{
		BaseRemaining:    c.Base,
		ByoyomiRemaining: c.ByoyomiPeriod,
		PeriodsLeft:      c.ByoyomiPeriods,
	}
	if c.ByoyomiPeriod <= 0 {
		sc.PeriodsLeft = 0
		sc.ByoyomiRemaining = 0
	}
	return Clock{Control: c, Seats: [2]SeatClock{sc, sc}, Running: NoSeat}
}

// charge deducts elapsed from sc. It returns false once the seat's time is
// gone: base exhausted and no byoyomi period survives.
func (c Control) charge(sc *SeatClock, elapsed time.Duration) bool {
	if elapsed < 0 {
		elapsed = 0
	}
	if sc.BaseRemaining > 0 {
		if elapsed < sc.BaseRemaining {
			sc.BaseRemaining -= elapsed
			return true
		}
		elapsed -= sc.BaseRemaining
		sc.BaseRemaining = 0
	}
	if sc.PeriodsLeft <= 0 {
		return false
	}
	for elapsed >= sc.ByoyomiRemaining {
		elapsed -= sc.ByoyomiRemaining
		sc.PeriodsLeft--
		if sc.PeriodsLeft <= 0 {
			sc.ByoyomiRemaining = 0
			return false
		}
		sc.ByoyomiRemaining = c.ByoyomiPeriod
	}
	sc.ByoyomiRemaining -= elapsed
	return true
}

// Start begins counting down for seat.
func (c *Clock) Start(seat int, now time.Time) {
	c.Running = seat
	c.StartedAt = now
}

// Stop charges the running seat for the time since Start and completes its
// move: a byoyomi period that did not run out is restored, and the
// increment is added. ok is false when the seat had already run out.
func (c *Clock) Stop(now time.Time) (seat int, ok bool) {
	seat = c.Running
	if seat == NoSeat {
		return NoSeat, true
	}
	c.Running = NoSeat
	if c.Control.Untimed() {
		return seat, true
	}
	sc := &c.Seats[seat]
	if !c.Control.charge(sc, now.Sub(c.StartedAt)) {
		return seat, false
	}
	if sc.BaseRemaining <= 0 && sc.PeriodsLeft > 0 {
		sc.ByoyomiRemaining = c.Control.ByoyomiPeriod
	}
	if c.Control.Increment > 0 {
		sc.BaseRemaining += c.Control.Increment
	}
	return seat, true
}

// Switch stops the running seat and starts next.
func (c *Clock) Switch(next int, now time.Time) (ok bool) {
	_, ok = c.Stop(now)
	if ok {
		c.Start(next, now)
	}
	return ok
}

// Pause charges the running seat without completing a move. The seat that
// was running is returned so Resume can restart it.
func (c *Clock) Pause(now time.Time) (seat int, ok bool) {
	seat = c.Running
	if seat == NoSeat {
		return NoSeat, true
	}
	c.Running = NoSeat
	if c.Control.Untimed() {
		return seat, true
	}
	return seat, c.Control.charge(&c.Seats[seat], now.Sub(c.StartedAt))
}

// Resume is Start under a clearer name for disconnect handling.
func (c *Clock) Resume(seat int, now time.Time) { c.Start(seat, now) }

// Remaining projects the seat's clock at now without mutating it.
func (c Clock) Remaining(seat int, now time.Time) SeatClock {
	sc := c.Seats[seat]
	if c.Running == seat && !c.Control.Untimed() {
		if !c.Control.charge(&sc, now.Sub(c.StartedAt)) {
			return SeatClock{}
		}
	}
	return sc
}

// Expired reports the running seat if its time ran out by now.
func (c Clock) Expired(now time.Time) (int, bool) {
	if c.Running == NoSeat || c.Control.Untimed() {
		return NoSeat, false
	}
	sc := c.Seats[c.Running]
	if c.Control.charge(&sc, now.Sub(c.StartedAt)) {
		return NoSeat, false
	}
	return c.Running, true
}

// Deadline is the instant the running seat flags, if the clock is running.
func (c Clock) Deadline() (time.Time, bool) {
	if c.Running == NoSeat || c.Control.Untimed() {
		return time.Time{}, false
	}
	sc := c.Seats[c.Running]
	left := sc.BaseRemaining
	if sc.PeriodsLeft > 0 {
		left += sc.ByoyomiRemaining + time.Duration(sc.PeriodsLeft-1)*c.Control.ByoyomiPeriod
	}
	return c.StartedAt.Add(left), true
}
