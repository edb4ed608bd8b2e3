package domain

import (
	"slices"
	"time"
)

// Trigger is an inbound lifecycle event.
type Trigger string

const (
	TriggerInitiate Trigger = "initiate_call"
	TriggerAnswer   Trigger = "answer_call"
	TriggerReject   Trigger = "reject_call"
	TriggerEnd      Trigger = "end_call"
)

type rule struct {
	from []Status // nil: any state
	to   Status
}

var transitions = map[Trigger]rule{
	TriggerInitiate: {from: nil, to: StatusRinging},
	TriggerAnswer:   {from: []Status{StatusRinging}, to: StatusConnected},
	TriggerReject:   {from: []Status{StatusRinging}, to: StatusRejected},
	TriggerEnd:      {from: []Status{StatusPending, StatusRinging, StatusConnected}, to: StatusCompleted},
}

// ValidFrom lists the states the trigger may be applied in. Nil means any.
func (t Trigger) ValidFrom() []Status {
	return slices.Clone(transitions[t].from)
}

func (t Trigger) Target() Status {
	return transitions[t].to
}

// CanApply reports whether trigger t is allowed while the session is in from.
func CanApply(t Trigger, from Status) bool {
	r, ok := transitions[t]
	if !ok {
		return false
	}
	return r.from == nil || slices.Contains(r.from, from)
}

// Transition is one persisted state change. From is used as an optimistic
// guard by stores: the write only lands while the stored status is still in From.
type Transition struct {
	Trigger     Trigger
	From        []Status
	To          Status
	At          time.Time
	StartedAt   *time.Time
	EndedAt     *time.Time
	EndReason   string
	InitiatedBy UserID
}

// NewTransition fills the fields every trigger writes; trigger-specific
// timestamps are set here as well so stores stay dumb.
func NewTransition(t Trigger, at time.Time) Transition {
	at = at.UTC()
	tr := Transition{
		Trigger: t,
		From:    t.ValidFrom(),
		To:      t.Target(),
		At:      at,
	}
	switch t {
	case TriggerAnswer:
		tr.StartedAt = &at
	case TriggerEnd:
		tr.EndedAt = &at
	}
	return tr
}

// Apply mutates s as a store would after a successful write.
func (tr Transition) Apply(s *Session) {
	s.Status = tr.To
	s.UpdatedAt = tr.At
	if tr.StartedAt != nil {
		s.StartedAt = tr.StartedAt
	}
	if tr.EndedAt != nil {
		s.EndedAt = tr.EndedAt
	}
	if tr.EndReason != "" {
		s.EndReason = tr.EndReason
	}
	if tr.InitiatedBy != "" {
		s.InitiatedBy = tr.InitiatedBy
	}
}

// Allows reports whether the guard admits status.
func (tr Transition) Allows(status Status) bool {
	return len(tr.From) == 0 || slices.Contains(tr.From, status)
}
