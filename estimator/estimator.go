// Package estimator turns a stream of raw ADC samples from a
// current-transformer sensor into an on/off (and which-on) appliance
// state, through two cascaded filters: an input filter that tracks a
// slowly-adjusting mid-point and low-passes the deviation from it, and
// a state filter that windows those deviations, rejects short noise
// spikes, and walks a configurable state-transition matrix.
package estimator

import (
	"github.com/stustanet/meshwatch/common/protocol"
	"github.com/stustanet/meshwatch/common/util"
)

// State indexes the four appliance states this package tracks.
type State uint8

const (
	StateOff    State = 0
	StateEnd    State = 1
	StateOnLow  State = 2
	StateOnHigh State = 3

	// onThreshold is the lowest state index considered "on".
	onThreshold State = StateOnLow
)

// MaxWindowSize is the largest window a state can be configured with.
const MaxWindowSize = 512 * 3

// maxEndStateTimeSeconds bounds how long the estimator may stay in
// StateEnd before being forced back to StateOff, regardless of what the
// transition matrix says.
const maxEndStateTimeSeconds = 1900

const (
	sensorVccMV    = 4250
	adcReferenceMV = 3300
)

// initialMidValue is half the sensor's supply voltage, expressed in the
// input filter's 32-bit scale, used to seed input_filter.mid before any
// sample has adjusted it.
const initialMidValue = uint32((sensorVccMV * (1 << 12) / adcReferenceMV) / 2) << 20

// UpdateResult reports whether an Update call crossed the on/off
// boundary.
type UpdateResult uint8

const (
	Unchanged UpdateResult = iota
	ChangedToOff
	ChangedToOn
)

// windowEntry is one slot of the state filter's circular window: value
// is the 15-bit scaled sample, contributed records whether it passed
// the reject-threshold filter and was added to windowSum (the C
// implementation packs this into the value's top bit; kept as a
// separate field here since nothing downstream cares about the packed
// wire form).
type windowEntry struct {
	value       uint16
	contributed bool
}

// Estimator is one sensor channel's state estimation pipeline.
type Estimator struct {
	params protocol.StateEstimationParams

	// input filter state
	mid        uint32
	current    uint32
	counter    uint16
	frameReady bool

	// state filter state
	window           []windowEntry
	windowNextFree   uint16
	windowOldestValid uint16
	endStateTimer    uint16
	maxEndStateTime  uint16
	aboveRejectCount uint16
	windowSum        uint32
	currentState     State
}

// New creates an Estimator for one channel, validating params the same
// way the firmware's init does: window sizes must fit MaxWindowSize and
// NumSamples must be nonzero.
func New(params protocol.StateEstimationParams, adcSamplesPerSec uint16) (*Estimator, error) {
	for _, ws := range params.WindowSizes {
		if ws > MaxWindowSize {
			return nil, util.ErrBadParam
		}
	}
	if params.NumSamples == 0 {
		return nil, util.ErrBadParam
	}

	e := &Estimator{
		params:       params,
		mid:          initialMidValue,
		window:       make([]windowEntry, MaxWindowSize),
		currentState: StateOff,
	}
	e.SetAdcSamplesPerSec(adcSamplesPerSec)
	return e, nil
}

// SetAdcSamplesPerSec recalculates the end-state forced-timeout bound
// for a new sample rate and resets the end-state timer.
func (e *Estimator) SetAdcSamplesPerSec(adcSamplesPerSec uint16) {
	e.endStateTimer = 0
	e.maxEndStateTime = uint16(uint32(maxEndStateTimeSeconds) * uint32(adcSamplesPerSec) / uint32(e.params.NumSamples))
}

// CurrentState returns the estimator's current appliance state.
func (e *Estimator) CurrentState() State {
	return e.currentState
}

// IsOn reports whether the current state counts as "on".
func (e *Estimator) IsOn() bool {
	return e.currentState >= onThreshold
}

func (e *Estimator) updateInputFilter(value uint16) {
	valueScaled := uint32(value) << 20

	var absval uint32
	if valueScaled > e.mid {
		absval = valueScaled - e.mid
		e.mid += uint32(e.params.MidValueAdjustmentSpeed)
	} else if valueScaled < e.mid {
		absval = e.mid - valueScaled
		e.mid -= uint32(e.params.MidValueAdjustmentSpeed)
	}

	absval >>= 14 // 32 bit -> 18 bit

	e.counter++
	weight := uint32(e.params.LowpassWeight)
	e.current = (e.current*weight + absval) / (weight + 1)
}

// currentWindowUsed returns how many window slots hold valid data,
// counting window_next_free as already occupied.
func (e *Estimator) currentWindowUsed() uint16 {
	if e.windowOldestValid > e.windowNextFree {
		return (e.windowNextFree + 1) + (MaxWindowSize - e.windowOldestValid)
	}
	return (e.windowNextFree - e.windowOldestValid) + 1
}

// adjustWindowSize evicts entries until the window fits the currently
// configured size for currentState, subtracting evicted contributors
// from windowSum, then advances windowNextFree onto an unused slot.
func (e *Estimator) adjustWindowSize() {
	wantSize := e.params.WindowSizes[e.currentState]
	used := e.currentWindowUsed()

	discard := e.windowOldestValid
	for used >= wantSize {
		if e.window[discard].contributed {
			e.windowSum -= uint32(e.window[discard].value)
		}
		used--
		discard = (discard + 1) % MaxWindowSize
	}

	e.windowOldestValid = discard
	e.windowNextFree = (e.windowNextFree + 1) % MaxWindowSize
}

// updateRejectThresholdFilter adds the current input-filter value to
// the window, applying the "reject short spikes" rule: a run of values
// above reject_threshold only starts contributing to windowSum once it
// reaches reject_consec_count entries long, at which point the whole
// run (including the entries that were provisionally withheld) is
// folded in at once.
func (e *Estimator) updateRejectThresholdFilter() {
	currentVal := uint16(e.current >> 3) // 18 bit -> 15 bit
	pos := e.windowNextFree

	if currentVal > e.params.RejectThreshold {
		if e.aboveRejectCount >= e.params.RejectConsecCount {
			e.windowSum += uint32(currentVal)
			e.window[pos] = windowEntry{value: currentVal, contributed: true}

			if e.aboveRejectCount == e.params.RejectConsecCount {
				backfill := pos
				for i := uint16(0); i < e.params.RejectConsecCount; i++ {
					if backfill > 0 {
						backfill--
					} else {
						backfill = MaxWindowSize - 1
					}
					e.windowSum += uint32(e.window[backfill].value)
					e.window[backfill].contributed = true
				}
				// Max value -> directly accept next value without re-counting.
				e.aboveRejectCount = 0xffff
			}
			return
		}
		e.aboveRejectCount++
	} else {
		e.aboveRejectCount = 0
	}

	e.window[pos] = windowEntry{value: currentVal, contributed: false}
}

// CurrentRFValue is the windowed average used as the state-transition
// condition: windowSum scaled by how many window entries are currently
// tracked.
func (e *Estimator) CurrentRFValue() int32 {
	used := e.currentWindowUsed()
	if used == 0 {
		return 0
	}
	return int32(e.windowSum / uint32(used))
}

// doStateTransition walks the compressed transition matrix row for the
// current state, switching to the first state whose signed threshold
// the current windowed average crosses, then enforces the end-state
// forced timeout.
func (e *Estimator) doStateTransition() {
	average := e.CurrentRFValue()

transitionScan:
	for i := State(0); i < protocol.StateCount; i++ {
		if i == e.currentState {
			continue
		}
		var lookupIdx State
		if i < e.currentState {
			lookupIdx = i
		} else {
			lookupIdx = i - 1
		}

		v := e.params.TransitionMatrix[int(e.currentState)][int(lookupIdx)]
		switch {
		case v < 0:
			if average < int32(-v) {
				e.currentState = i
				break transitionScan
			}
		case v > 0:
			if average > int32(v) {
				e.currentState = i
				break transitionScan
			}
		}
	}

	if e.currentState == StateEnd {
		e.endStateTimer++
		if e.endStateTimer > e.maxEndStateTime {
			e.endStateTimer = 0
			e.currentState = StateOff
		}
	} else {
		e.endStateTimer = 0
	}
}

// Update feeds one raw ADC sample (12-bit) through the pipeline. Every
// NumSamples calls it additionally re-evaluates the state filter and
// may report a state change.
func (e *Estimator) Update(rawValue uint16) UpdateResult {
	e.updateInputFilter(rawValue)

	if e.counter < e.params.NumSamples {
		e.frameReady = false
		return Unchanged
	}
	e.counter = 0
	e.frameReady = true

	wasOn := e.IsOn()

	e.adjustWindowSize()
	e.updateRejectThresholdFilter()
	e.doStateTransition()

	isOn := e.IsOn()
	if wasOn == isOn {
		return Unchanged
	}
	if wasOn {
		return ChangedToOff
	}
	return ChangedToOn
}

// Frame returns the most recently completed frame's low-passed value
// (scaled to 16 bit) and true, or (0, false) if the current sample
// didn't complete a frame.
func (e *Estimator) Frame() (uint32, bool) {
	if !e.frameReady {
		return 0, false
	}
	return e.current >> 2, true
}
