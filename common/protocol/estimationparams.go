package protocol

import "github.com/stustanet/meshwatch/common/util"

// StateEstimationParams is the wire form of a sensor channel's DSP
// configuration, carried inside a ConfigureSensor message. The field
// names and bit widths mirror the original firmware's packed struct;
// estimator.New validates it and keeps it as the Estimator's
// configuration.
type StateEstimationParams struct {
	MidValueAdjustmentSpeed uint16
	LowpassWeight           uint16
	NumSamples              uint16

	// TransitionMatrix is the compressed StateCount*(StateCount-1)
	// transition matrix: row c (the current state) has StateCount-1
	// entries, one per other state n in ascending order, giving the
	// signed transition condition from c to n.
	TransitionMatrix  [StateCount][StateCount - 1]int16
	WindowSizes       [StateCount]uint16
	RejectThreshold   uint16
	RejectConsecCount uint16
}

// StateCount is the number of distinct appliance states the estimator
// tracks: OFF, END, ON_LOW, ON_HIGH.
const StateCount = 4

// estimationParamsWireSize is the exact on-air size of StateEstimationParams.
const estimationParamsWireSize = 2 + 2 + 2 + 2*StateCount*(StateCount-1) + 2*StateCount + 2 + 2

func (p StateEstimationParams) marshalInto(buf []byte) int {
	off := putU16(buf, 0, p.MidValueAdjustmentSpeed)
	off = putU16(buf, off, p.LowpassWeight)
	off = putU16(buf, off, p.NumSamples)
	for c := 0; c < StateCount; c++ {
		for n := 0; n < StateCount-1; n++ {
			off = putU16(buf, off, uint16(p.TransitionMatrix[c][n]))
		}
	}
	for i := 0; i < StateCount; i++ {
		off = putU16(buf, off, p.WindowSizes[i])
	}
	off = putU16(buf, off, p.RejectThreshold)
	off = putU16(buf, off, p.RejectConsecCount)
	return off
}

func parseEstimationParams(buf []byte) StateEstimationParams {
	var p StateEstimationParams
	off := 0
	p.MidValueAdjustmentSpeed, off = getU16(buf, off)
	p.LowpassWeight, off = getU16(buf, off)
	p.NumSamples, off = getU16(buf, off)
	for c := 0; c < StateCount; c++ {
		for n := 0; n < StateCount-1; n++ {
			var v uint16
			v, off = getU16(buf, off)
			p.TransitionMatrix[c][n] = int16(v)
		}
	}
	for i := 0; i < StateCount; i++ {
		p.WindowSizes[i], off = getU16(buf, off)
	}
	p.RejectThreshold, off = getU16(buf, off)
	p.RejectConsecCount, off = getU16(buf, off)
	return p
}

// ConfigureSensor assigns DSP parameters to one sensor channel.
type ConfigureSensor struct {
	ChannelID NodeId // reused as a small channel index, 0..254
	Params    StateEstimationParams
}

func (m ConfigureSensor) Marshal(buf []byte) (int, error) {
	need := 2 + estimationParamsWireSize
	if len(buf) < need {
		return 0, util.ErrBufferTooSmall
	}
	buf[0] = byte(MsgConfigureSensor)
	buf[1] = byte(m.ChannelID)
	m.Params.marshalInto(buf[2:])
	return need, nil
}

func ParseConfigureSensor(payload []byte) (ConfigureSensor, error) {
	if len(payload) != 2+estimationParamsWireSize {
		return ConfigureSensor{}, util.ErrWrongSize
	}
	return ConfigureSensor{
		ChannelID: NodeId(payload[1]),
		Params:    parseEstimationParams(payload[2:]),
	}, nil
}
