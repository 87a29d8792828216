package review

import (
	"math/rand"
	"testing"
)

func TestTransitions(t *testing.T) {
	cases := []struct {
		from, to PageStatus
		ok       bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusNoQuestions, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusNoQuestions, true},
		{StatusInProgress, StatusPendingUnsupported, true},
		{StatusInProgress, StatusSkipped, true},
		{StatusInProgress, StatusPending, false},
		{StatusCompleted, StatusInProgress, true},
		{StatusNoQuestions, StatusInProgress, true},
		{StatusCompleted, StatusNoQuestions, false},
		{StatusPending, StatusError, true},
		{StatusInProgress, StatusError, true},
		{StatusCompleted, StatusError, true},
		{StatusError, StatusInProgress, true},
		{StatusError, StatusCompleted, false},
		{StatusCompleted, StatusCompleted, false},
		{PageStatus("bogus"), StatusInProgress, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestTransitionRejectsWithReason(t *testing.T) {
	got, err := Transition(StatusPending, StatusCompleted)
	if err == nil {
		t.Fatal("expected error for pending -> completed")
	}
	if got != StatusPending {
		t.Fatalf("rejected transition must keep the current status, got %s", got)
	}
}

func TestSummarizeOrderIndependent(t *testing.T) {
	statuses := make([]PageStatus, 0, 8)
	for i := 0; i < 5; i++ {
		statuses = append(statuses, StatusCompleted)
	}
	statuses = append(statuses, StatusNoQuestions, StatusNoQuestions, StatusPendingUnsupported)

	want := Summary{Total: 8, Completed: 5, NoQuestions: 2, PendingUnsupported: 1}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10; i++ {
		rng.Shuffle(len(statuses), func(a, b int) { statuses[a], statuses[b] = statuses[b], statuses[a] })
		if got := Summarize(statuses); got != want {
			t.Fatalf("Summarize() = %+v, want %+v", got, want)
		}
	}
}

func TestSummaryDone(t *testing.T) {
	if (Summary{}).Done() {
		t.Fatal("empty document must not report done")
	}
	done := Summarize([]PageStatus{StatusCompleted, StatusSkipped, StatusPendingUnsupported})
	if !done.Done() {
		t.Fatal("all-terminal pages should report done")
	}
	notDone := Summarize([]PageStatus{StatusCompleted, StatusInProgress})
	if notDone.Done() {
		t.Fatal("in_progress page should block done")
	}
}
