package funding

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/congo-pay/congo_ledger/internal/money"
)

var (
	// ErrRoundNotFound is returned when no round exists for an identifier.
	ErrRoundNotFound = errors.New("funding round not found")
	// ErrRoundClosed is returned when investing after the deadline or into a withdrawn round.
	ErrRoundClosed = errors.New("funding round closed")
	// ErrRoundCapExceeded is returned when the cap policy forbids raising past the target.
	ErrRoundCapExceeded = errors.New("funding round target exceeded")
	// ErrRoundExists is returned when importing a round id twice.
	ErrRoundExists = errors.New("funding round already exists")
	// ErrInvalidRound marks malformed round definitions.
	ErrInvalidRound = errors.New("invalid funding round")
)

// Participant is one investor's accumulated commitment to a round.
type Participant struct {
	InvestorID string
	Amount     money.Amount
}

// Round is an investable funding round.
type Round struct {
	ID           string
	Name         string
	Company      string
	Currency     string
	TargetAmount money.Amount
	RaisedAmount money.Amount
	Deadline     time.Time
	Participants []Participant
	Withdrawn    bool
	CreatedAt    time.Time
}

// Validate checks a round definition before it enters the registry.
func (r Round) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRound)
	}
	if r.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrInvalidRound)
	}
	if !r.TargetAmount.IsPositive() {
		return fmt.Errorf("%w: target must be positive", ErrInvalidRound)
	}
	if r.Deadline.IsZero() {
		return fmt.Errorf("%w: deadline is required", ErrInvalidRound)
	}
	if r.RaisedAmount != 0 || len(r.Participants) != 0 {
		return fmt.Errorf("%w: new rounds start with nothing raised", ErrInvalidRound)
	}
	return nil
}

// IsOpen reports whether the round accepts investment at now.
func IsOpen(r Round, now time.Time) bool {
	return !r.Withdrawn && now.Before(r.Deadline)
}

// Participant returns the investor's entry, if any.
func (r Round) Participant(investorID string) (Participant, bool) {
	for _, p := range r.Participants {
		if p.InvestorID == investorID {
			return p, true
		}
	}
	return Participant{}, false
}

// Record returns r with an investment applied: raised amount grows by amount
// and the investor's participant entry is created or accumulated. It is pure;
// only the storage commit of an invest command persists its result.
func Record(r Round, investorID string, amount money.Amount) (Round, error) {
	raised, err := r.RaisedAmount.Add(amount)
	if err != nil {
		return Round{}, err
	}
	participants := make([]Participant, 0, len(r.Participants)+1)
	merged := false
	for _, p := range r.Participants {
		if p.InvestorID == investorID {
			p.Amount += amount
			merged = true
		}
		participants = append(participants, p)
	}
	if !merged {
		participants = append(participants, Participant{InvestorID: investorID, Amount: amount})
	}
	r.RaisedAmount = raised
	r.Participants = participants
	return r, nil
}

// CapPolicy decides whether investments may push a round past its target.
type CapPolicy string

const (
	// CapUncapped accepts investment beyond the target.
	CapUncapped CapPolicy = "uncapped"
	// CapAtTarget rejects investment that would raise more than the target.
	CapAtTarget CapPolicy = "target"
)

// ParseCapPolicy maps configuration values to a policy.
func ParseCapPolicy(s string) (CapPolicy, error) {
	switch CapPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", CapUncapped:
		return CapUncapped, nil
	case CapAtTarget:
		return CapAtTarget, nil
	default:
		return "", fmt.Errorf("unknown round cap policy %q", s)
	}
}

// Admit checks whether the round can take amount at now under the policy.
func (p CapPolicy) Admit(r Round, amount money.Amount, now time.Time) error {
	if !IsOpen(r, now) {
		return ErrRoundClosed
	}
	if p == CapAtTarget && r.RaisedAmount+amount > r.TargetAmount {
		return fmt.Errorf("%w: %s remaining", ErrRoundCapExceeded, money.Text(r.TargetAmount-r.RaisedAmount, r.Currency))
	}
	return nil
}
