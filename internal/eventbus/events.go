package eventbus

import "time"

const (
	TypeGateOutcome      = "gate.outcome"
	TypeDispatchFinished = "dispatch.finished"
	TypeConfigReloaded   = "config.reloaded"
	TypeOwnerAction      = "owner.action"
)

// GateOutcome is the Data of a TypeGateOutcome event.
type GateOutcome struct {
	Kind   string // ignored, private, rejected, accepted
	Reason string // set for rejected
	ChatID int64
}

// DispatchFinished is the Data of a TypeDispatchFinished event.
type DispatchFinished struct {
	RunID     string
	ChatID    int64
	Requested int
	Sent      int
	Failed    int
	Skipped   int
	Aborted   string
	Duration  time.Duration
}

// OwnerAction is the Data of a TypeOwnerAction event.
type OwnerAction struct {
	Command string
	Arg     string
}
