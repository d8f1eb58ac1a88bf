package metrics

import "testing"

func TestTake(t *testing.T) {
	before := Take()
	SamplesAccepted.Mark(3)
	TripsStarted.Inc(1)
	after := Take()
	if after.SamplesAccepted-before.SamplesAccepted != 3 {
		t.Errorf("have %d want 3", after.SamplesAccepted-before.SamplesAccepted)
	}
	if after.TripsStarted-before.TripsStarted != 1 {
		t.Errorf("have %d want 1", after.TripsStarted-before.TripsStarted)
	}
}
