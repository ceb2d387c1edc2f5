package domain

// PendingTurn is one in-flight request to the backend
type PendingTurn struct {
	ExternalUserID   string
	BackendSessionID string
	Text             string
	Parts            []InlinePart
}

// TurnOutcome classifies how a turn ended
type TurnOutcome string

const (
	TurnOutcomeReplied            TurnOutcome = "replied"
	TurnOutcomeDegraded           TurnOutcome = "degraded"
	TurnOutcomeUnavailable        TurnOutcome = "unavailable"
	TurnOutcomeAttachmentRejected TurnOutcome = "attachment_rejected"
	TurnOutcomeFailed             TurnOutcome = "failed"
)

// TurnReply is the deliverable result of one turn
type TurnReply struct {
	Text             string
	Images           []InlinePart
	Outcome          TurnOutcome
	BackendSessionID string
}
