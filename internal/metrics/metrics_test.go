package metrics

import "testing"

func TestMetricsCounters(t *testing.T) {
	ResetForTests()
	if MessagesSent.Value() != 0 {
		t.Fatalf("expected zero initial MessagesSent")
	}

	MessagesSent.Add(2)
	SetQueueDepth(5)
	IncDrains()
	DecDrains()
	if MessagesSent.Value() != 2 {
		t.Fatalf("expected MessagesSent=2, got %d", MessagesSent.Value())
	}
	if drainsInProgress.Value() != 0 {
		t.Fatalf("expected drainsInProgress=0, got %d", drainsInProgress.Value())
	}

	ResetForTests()
	if queueDepth.Value() != 0 {
		t.Fatalf("expected queueDepth reset to 0")
	}
}
