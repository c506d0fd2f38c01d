package guard

import "testing"

func TestSignatureNormalizesDigitsAndWhitespace(t *testing.T) {
	a := Signature("TimeoutError", "request 123 failed after   45ms")
	b := Signature("TimeoutError", "request 999 failed after 7ms")
	if a != b {
		t.Fatalf("expected digit-normalized signatures to match: %q vs %q", a, b)
	}
}

func TestRequiresStepBackAtThreshold(t *testing.T) {
	g := NewFailureLoopGuard(3)
	for i := 0; i < 2; i++ {
		g.RecordFailure("s1", "Err", "same message")
	}
	if g.RequiresStepBack("s1") {
		t.Fatalf("expected no step-back below threshold")
	}
	g.RecordFailure("s1", "Err", "same message")
	if !g.RequiresStepBack("s1") {
		t.Fatalf("expected step-back at threshold")
	}
}

func TestDifferentSignatureResetsCount(t *testing.T) {
	g := NewFailureLoopGuard(2)
	g.RecordFailure("s1", "Err", "message one")
	g.RecordFailure("s1", "Err", "message two")
	if g.RequiresStepBack("s1") {
		t.Fatalf("expected differing signatures to reset the streak, not accumulate")
	}
}

func TestRecordSuccessClearsStreak(t *testing.T) {
	g := NewFailureLoopGuard(1)
	g.RecordFailure("s1", "Err", "boom")
	if !g.RequiresStepBack("s1") {
		t.Fatalf("expected step-back after one failure at threshold 1")
	}
	g.RecordSuccess("s1")
	if g.RequiresStepBack("s1") {
		t.Fatalf("expected success to clear the streak")
	}
}

func TestReasoningResetControllerThreshold(t *testing.T) {
	c := NewReasoningResetController(2)
	c.RecordFailedIteration("s1")
	if c.ThresholdReached("s1") {
		t.Fatalf("expected threshold not reached yet")
	}
	c.RecordFailedIteration("s1")
	if !c.ThresholdReached("s1") {
		t.Fatalf("expected threshold reached")
	}
	c.RecordSuccess("s1")
	if c.ThresholdReached("s1") {
		t.Fatalf("expected success to clear the count")
	}
}
