package retrain

import (
	"encoding/json"
	"time"
)

// State of a retraining cycle.
type State int

const (
	Idle State = iota
	FeedbackCheck
	AbortInsufficient
	Training
	Evaluating
	Promoting
	Discarding
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FeedbackCheck:
		return "feedback-check"
	case AbortInsufficient:
		return "abort-insufficient"
	case Training:
		return "training"
	case Evaluating:
		return "evaluating"
	case Promoting:
		return "promoting"
	case Discarding:
		return "discarding"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Observer is notified on each state transition.
//
// Observers are called synchronously. Outcome is the result so far.
type Observer func(from State, to State, o Outcome)

type OutcomeKind string

const (
	// too few feedback. Nothing has been changed.
	KindSkipped OutcomeKind = "skipped"

	// a new version is registered and the alias points it.
	KindPromoted OutcomeKind = "promoted"

	// challenger is not better enough than incumbent. Alias is not moved.
	KindDiscarded OutcomeKind = "discarded"

	// cycle is aborted by an error.
	KindFailed OutcomeKind = "failed"
)

// Outcome is the result of a retraining cycle.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`

	ModelName string `json:"model_name"`
	Alias     string `json:"alias"`

	// version registered by this cycle. 0 unless promoted.
	Version int `json:"version,omitempty"`

	// run published by this cycle, if any.
	RunId string `json:"run_id,omitempty"`

	// version which the alias pointed before this cycle. 0 when bootstrapping.
	IncumbentVersion int `json:"incumbent_version,omitempty"`

	IncumbentRMSE  *float64 `json:"incumbent_rmse,omitempty"`
	ChallengerRMSE *float64 `json:"challenger_rmse,omitempty"`

	// number of unconsumed feedback found.
	FeedbackCount int `json:"feedback_count"`

	// true when no version was bound to the alias.
	Bootstrap bool `json:"bootstrap"`

	Reason string `json:"reason,omitempty"`

	// classification of the error, for Failed outcome.
	ErrorKind string `json:"error_kind,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Improvement returns incumbent RMSE - challenger RMSE, if both are known.
func (o Outcome) Improvement() (float64, bool) {
	if o.IncumbentRMSE == nil || o.ChallengerRMSE == nil {
		return 0, false
	}
	return *o.IncumbentRMSE - *o.ChallengerRMSE, true
}

func (o Outcome) String() string {
	b, err := json.Marshal(o)
	if err != nil {
		return string(o.Kind)
	}
	return string(b)
}
