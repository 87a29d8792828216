package review

import "fmt"

// PageStatus is the review lifecycle state of one document page.
type PageStatus string

const (
	StatusPending            PageStatus = "pending"
	StatusInProgress         PageStatus = "in_progress"
	StatusCompleted          PageStatus = "completed"
	StatusNoQuestions        PageStatus = "no_questions"
	StatusPendingUnsupported PageStatus = "pending_unsupported"
	StatusSkipped            PageStatus = "skipped"
	StatusError              PageStatus = "error"
)

// Valid reports whether s is a known page status.
func (s PageStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusNoQuestions,
		StatusPendingUnsupported, StatusSkipped, StatusError:
		return true
	}
	return false
}

// Terminal reports whether s ends the page's review pass. Terminal pages can
// still be reopened back to in_progress.
func (s PageStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusNoQuestions, StatusPendingUnsupported, StatusSkipped:
		return true
	}
	return false
}

// CanTransition reports whether the from→to transition is allowed.
// error is reachable from any state; terminal states reopen to in_progress.
func CanTransition(from, to PageStatus) bool {
	if !from.Valid() || !to.Valid() || from == to {
		return false
	}
	if to == StatusError {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusInProgress
	case StatusInProgress:
		return to.Terminal()
	case StatusError:
		return to == StatusInProgress
	default: // terminal states may be reopened
		return to == StatusInProgress
	}
}

// Transition validates and returns the target status, or an error naming the
// rejected transition.
func Transition(from, to PageStatus) (PageStatus, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("invalid page status transition %s -> %s", from, to)
	}
	return to, nil
}

// Summary is the document-level roll-up. It is always computed from the
// per-page statuses on read, never stored, so it cannot drift from the
// per-page truth.
type Summary struct {
	Total              int `json:"total"`
	Pending            int `json:"pending"`
	InProgress         int `json:"in_progress"`
	Completed          int `json:"completed"`
	NoQuestions        int `json:"no_questions"`
	PendingUnsupported int `json:"pending_unsupported"`
	Skipped            int `json:"skipped"`
	Error              int `json:"error"`
}

// Summarize aggregates page statuses; unknown statuses count as pending.
func Summarize(statuses []PageStatus) Summary {
	var s Summary
	s.Total = len(statuses)
	for _, st := range statuses {
		switch st {
		case StatusInProgress:
			s.InProgress++
		case StatusCompleted:
			s.Completed++
		case StatusNoQuestions:
			s.NoQuestions++
		case StatusPendingUnsupported:
			s.PendingUnsupported++
		case StatusSkipped:
			s.Skipped++
		case StatusError:
			s.Error++
		default:
			s.Pending++
		}
	}
	return s
}

// Done reports whether every page reached a terminal state.
func (s Summary) Done() bool {
	return s.Total > 0 && s.Completed+s.NoQuestions+s.PendingUnsupported+s.Skipped == s.Total
}
