package domain

// InlinePart is binary data embedded directly in a backend response
type InlinePart struct {
	MimeType string
	Data     []byte
}

// StreamFragment is one decoded event from the backend response
type StreamFragment struct {
	IsPartial          bool
	TextDelta          *string
	InlineParts        []InlinePart
	ArtifactReferences []string

	// Err is set on the last fragment when the stream broke while reading
	Err error
}

// DeltaMode says how successive text deltas relate to each other
type DeltaMode int

const (
	// DeltaModeIncremental - each fragment carries only new text
	DeltaModeIncremental DeltaMode = iota
	// DeltaModeCumulative - each fragment carries the full text so far
	DeltaModeCumulative
)

// TurnResponse is what the backend hands back for one submitted turn.
// Exactly one of Stream and Envelope is set.
type TurnResponse struct {
	Stream   <-chan StreamFragment
	Envelope *StreamFragment
	Mode     DeltaMode
}

// AggregatorState is the state of the response aggregation state machine
type AggregatorState string

const (
	AggregatorAwaitingFragments AggregatorState = "AWAITING_FRAGMENTS"
	AggregatorAccumulating      AggregatorState = "ACCUMULATING"
	AggregatorFinalized         AggregatorState = "FINALIZED"
	AggregatorTimedOut          AggregatorState = "TIMED_OUT"
	AggregatorStreamError       AggregatorState = "STREAM_ERROR"
)

// AggregatedReply is the coalesced result of one backend response
type AggregatedReply struct {
	State   AggregatorState
	Text    string
	HasText bool
	Images  []InlinePart
	Err     error
}
