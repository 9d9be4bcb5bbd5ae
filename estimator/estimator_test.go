package estimator

import (
	"testing"

	"github.com/stustanet/meshwatch/common/protocol"
)

// simpleParams builds a minimal, easy-to-reason-about configuration: one
// sample per frame, a small window, a single threshold splitting OFF
// from ON_LOW, and no reject filtering (consec count 0).
func simpleParams() protocol.StateEstimationParams {
	var p protocol.StateEstimationParams
	p.MidValueAdjustmentSpeed = 1 << 18
	p.LowpassWeight = 0
	p.NumSamples = 1
	p.WindowSizes = [protocol.StateCount]uint16{4, 4, 4, 4}
	p.RejectThreshold = 0
	p.RejectConsecCount = 0

	// OFF(0)  -> ON_LOW(2) if average > 1000
	p.TransitionMatrix[0] = [protocol.StateCount - 1]int16{0, 1000, 0}
	// END(1)  -> OFF(0) if average < 100
	p.TransitionMatrix[1] = [protocol.StateCount - 1]int16{-100, 0, 0}
	// ON_LOW(2) -> OFF(0) if average < 500
	p.TransitionMatrix[2] = [protocol.StateCount - 1]int16{-500, 0, 0}
	// ON_HIGH(3) unreachable in this test, all zero (no transition)
	p.TransitionMatrix[3] = [protocol.StateCount - 1]int16{0, 0, 0}
	return p
}

func TestNewRejectsBadWindowSize(t *testing.T) {
	p := simpleParams()
	p.WindowSizes[0] = MaxWindowSize + 1
	if _, err := New(p, 1000); err == nil {
		t.Fatal("expected error for oversize window")
	}
}

func TestNewRejectsZeroNumSamples(t *testing.T) {
	p := simpleParams()
	p.NumSamples = 0
	if _, err := New(p, 1000); err == nil {
		t.Fatal("expected error for zero NumSamples")
	}
}

func TestStartsOff(t *testing.T) {
	e, err := New(simpleParams(), 1000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.CurrentState() != StateOff || e.IsOn() {
		t.Fatalf("expected initial state OFF, got %v", e.CurrentState())
	}
}

func TestTransitionsToOnWithSustainedHighSamples(t *testing.T) {
	e, err := New(simpleParams(), 1000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Drive the mid tracker away from a high raw ADC value for long
	// enough that the absolute (deviation) value climbs above the
	// OFF->ON_LOW threshold.
	var result UpdateResult
	for i := 0; i < 50 && !e.IsOn(); i++ {
		result = e.Update(4000)
	}
	if !e.IsOn() {
		t.Fatalf("expected estimator to turn on, state=%v", e.CurrentState())
	}
	if result != ChangedToOn {
		t.Fatalf("expected last transition to report ChangedToOn, got %v", result)
	}
}

func TestFrameOnlyReadyEveryNumSamples(t *testing.T) {
	p := simpleParams()
	p.NumSamples = 3
	e, err := New(p, 1000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, ok := e.Frame(); ok {
		t.Fatal("frame should not be ready before init update")
	}
	e.Update(2048)
	if _, ok := e.Frame(); ok {
		t.Fatal("frame should not be ready after 1/3 samples")
	}
	e.Update(2048)
	if _, ok := e.Frame(); ok {
		t.Fatal("frame should not be ready after 2/3 samples")
	}
	e.Update(2048)
	if _, ok := e.Frame(); !ok {
		t.Fatal("frame should be ready after NumSamples updates")
	}
}

func TestMaxEndStateTimeFollowsSampleRate(t *testing.T) {
	p := simpleParams()
	// Verify the END-state forced-timeout bound is computed from the
	// sample rate and NumSamples, both at New and after
	// SetAdcSamplesPerSec.
	e, err := New(p, 2000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := uint16(uint32(1900) * 2000 / uint32(p.NumSamples))
	if e.maxEndStateTime != want {
		t.Fatalf("maxEndStateTime = %d want %d", e.maxEndStateTime, want)
	}
	e.SetAdcSamplesPerSec(1000)
	want = uint16(uint32(1900) * 1000 / uint32(p.NumSamples))
	if e.maxEndStateTime != want {
		t.Fatalf("after SetAdcSamplesPerSec maxEndStateTime = %d want %d", e.maxEndStateTime, want)
	}
}
