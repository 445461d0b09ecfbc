package domain

import (
	"fmt"
	"time"
)

// RoundState tracks the round lifecycle.
type RoundState string

const (
	RoundOpen     RoundState = "OPEN"
	RoundFrozen   RoundState = "FROZEN"
	RoundSettling RoundState = "SETTLING"
	RoundSettled  RoundState = "SETTLED"
)

// next maps each state to the single state it may advance to.
var next = map[RoundState]RoundState{
	RoundOpen:     RoundFrozen,
	RoundFrozen:   RoundSettling,
	RoundSettling: RoundSettled,
}

// Round is one timed betting cycle for a duration class.
type Round struct {
	ID        string
	Sequence  int64
	Class     string
	Duration  time.Duration
	OpenedAt  time.Time
	FreezeAt  time.Time
	ClosesAt  time.Time
	SettledAt *time.Time
	State     RoundState

	OuterWinner         Side
	MiddleWinner        Side
	InnerWinner         Side
	IndecisionTriggered bool
}

// CanTransition reports whether r may move to the target state. A frozen
// or open round may go straight to SETTLING when the clock resumes late.
func (r Round) CanTransition(to RoundState) bool {
	if next[r.State] == to {
		return true
	}
	return to == RoundSettling && r.State == RoundOpen
}

// Transition validates and applies a state change.
func (r *Round) Transition(to RoundState) error {
	if !r.CanTransition(to) {
		return fmt.Errorf("round %s: illegal transition %s -> %s", r.ID, r.State, to)
	}
	r.State = to
	return nil
}

// AcceptsBets reports whether admission may proceed at now. The state and the
// freeze timestamp are both checked so a late clock cannot widen the window.
func (r Round) AcceptsBets(now time.Time) error {
	if r.State != RoundOpen {
		if r.State == RoundFrozen {
			return ErrRoundFrozen
		}
		return ErrRoundNotOpen
	}
	if now.Before(r.OpenedAt) {
		return ErrRoundNotOpen
	}
	if !now.Before(r.FreezeAt) {
		return ErrRoundFrozen
	}
	return nil
}

// Winner returns the recorded winner for a binary market.
func (r Round) Winner(m Market) Side {
	switch m {
	case MarketOuter:
		return r.OuterWinner
	case MarketMiddle:
		return r.MiddleWinner
	case MarketInner:
		return r.InnerWinner
	}
	return ""
}

// IsSettled reports whether settlement has completed.
func (r Round) IsSettled() bool {
	return r.State == RoundSettled && r.SettledAt != nil
}

// DurationClass configures one independently running round schedule.
type DurationClass struct {
	Name         string
	Duration     time.Duration
	FreezeWindow time.Duration
}

// NewRound builds the OPEN round for class c starting at openedAt.
func NewRound(id string, seq int64, c DurationClass, openedAt time.Time) Round {
	closes := openedAt.Add(c.Duration)
	return Round{
		ID:       id,
		Sequence: seq,
		Class:    c.Name,
		Duration: c.Duration,
		OpenedAt: openedAt,
		FreezeAt: closes.Add(-c.FreezeWindow),
		ClosesAt: closes,
		State:    RoundOpen,
	}
}
