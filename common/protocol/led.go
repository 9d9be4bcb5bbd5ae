package protocol

import "github.com/stustanet/meshwatch/common/util"

// Led directly sets one entry of a node's persisted 16-slot LED color
// table, independent of any channel's state. Used by the host for
// manual testing of the LED strip.
type Led struct {
	Index uint8
	RGB   [3]byte
}

func (m Led) Marshal(buf []byte) (int, error) {
	if len(buf) < 5 {
		return 0, util.ErrBufferTooSmall
	}
	buf[0] = byte(MsgLed)
	buf[1] = m.Index
	copy(buf[2:5], m.RGB[:])
	return 5, nil
}

func ParseLed(payload []byte) (Led, error) {
	if len(payload) != 5 {
		return Led{}, util.ErrWrongSize
	}
	m := Led{Index: payload[1]}
	copy(m.RGB[:], payload[2:5])
	return m, nil
}

// StatusChangeIndicator binds one active sensor channel to an LED table
// slot, with distinct colors for the on and off state, so the sensor
// loop can drive the LED without a host round trip on every transition.
type StatusChangeIndicator struct {
	ChannelID uint8
	LedIndex  uint8
	OnColor   [3]byte
	OffColor  [3]byte
}

func (m StatusChangeIndicator) Marshal(buf []byte) (int, error) {
	if len(buf) < 9 {
		return 0, util.ErrBufferTooSmall
	}
	buf[0] = byte(MsgConfigureStatusChangeIndicator)
	buf[1] = m.ChannelID
	buf[2] = m.LedIndex
	copy(buf[3:6], m.OnColor[:])
	copy(buf[6:9], m.OffColor[:])
	return 9, nil
}

func ParseStatusChangeIndicator(payload []byte) (StatusChangeIndicator, error) {
	if len(payload) != 9 {
		return StatusChangeIndicator{}, util.ErrWrongSize
	}
	m := StatusChangeIndicator{ChannelID: payload[1], LedIndex: payload[2]}
	copy(m.OnColor[:], payload[3:6])
	copy(m.OffColor[:], payload[6:9])
	return m, nil
}
