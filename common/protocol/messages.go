package protocol

import "github.com/stustanet/meshwatch/common/util"

// This file holds the payload codecs for every message type. Each type
// exposes Marshal(buf []byte) (int, error) writing into a caller-owned
// buffer and returning the number of bytes written, and a matching
// ParseXxx(payload []byte) (Xxx, error) reader. None of these allocate
// on the hot path beyond what the caller's buffer already provides.

// HS1 is sent by the master to begin a handshake; it doubles as a
// temporary route to the master for the reply.
type HS1 struct {
	ReplyRoute NodeId
}

func (m HS1) Marshal(buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, util.ErrBufferTooSmall
	}
	buf[0] = byte(MsgHS1)
	buf[1] = byte(m.ReplyRoute)
	return 2, nil
}

func ParseHS1(payload []byte) (HS1, error) {
	if len(payload) != 2 {
		return HS1{}, util.ErrWrongSize
	}
	return HS1{ReplyRoute: NodeId(payload[1])}, nil
}

// HS2 is the signed reply to HS1, carrying a status snapshot so a
// reconnect doesn't need a separate status round trip.
type HS2 struct {
	Status   uint8
	Channels uint16
}

func (m HS2) Marshal(buf []byte) (int, error) {
	if len(buf) < 4 {
		return 0, util.ErrBufferTooSmall
	}
	buf[0] = byte(MsgHS2)
	buf[1] = m.Status
	putU16(buf, 2, m.Channels)
	return 4, nil
}

func ParseHS2(payload []byte) (HS2, error) {
	if len(payload) != 4 {
		return HS2{}, util.ErrWrongSize
	}
	channels, _ := getU16(payload, 2)
	return HS2{Status: payload[1], Channels: channels}, nil
}

// Ack is sent by a channel's slave side in response to a signed command.
type Ack struct {
	Result AckResult
}

func (m Ack) Marshal(buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, util.ErrBufferTooSmall
	}
	buf[0] = byte(MsgAck)
	buf[1] = byte(m.Result)
	return 2, nil
}

func ParseAck(payload []byte) (Ack, error) {
	if len(payload) != 2 {
		return Ack{}, util.ErrWrongSize
	}
	return Ack{Result: AckResult(payload[1])}, nil
}

// RouteEntry is one row of a route table update.
type RouteEntry struct {
	Dst  NodeId
	Next NodeId
}

// RouteUpdate resets (Append == false) or extends (Append == true) a
// node's route table.
type RouteUpdate struct {
	Append  bool
	Entries []RouteEntry
}

func (m RouteUpdate) Marshal(buf []byte) (int, error) {
	need := 1 + 2*len(m.Entries)
	if len(m.Entries) == 0 {
		return 0, util.ErrBadParam
	}
	if len(buf) < need {
		return 0, util.ErrBufferTooSmall
	}
	if m.Append {
		buf[0] = byte(MsgRouteAppend)
	} else {
		buf[0] = byte(MsgRouteReset)
	}
	off := 1
	for _, e := range m.Entries {
		buf[off] = byte(e.Dst)
		buf[off+1] = byte(e.Next)
		off += 2
	}
	return off, nil
}

func ParseRouteUpdate(payload []byte) (RouteUpdate, error) {
	if len(payload) < 3 || (len(payload)-1)%2 != 0 {
		return RouteUpdate{}, util.ErrWrongSize
	}
	typ := MessageType(payload[0])
	if typ != MsgRouteReset && typ != MsgRouteAppend {
		return RouteUpdate{}, util.ErrBadParam
	}
	n := (len(payload) - 1) / 2
	entries := make([]RouteEntry, n)
	off := 1
	for i := 0; i < n; i++ {
		entries[i] = RouteEntry{Dst: NodeId(payload[off]), Next: NodeId(payload[off+1])}
		off += 2
	}
	return RouteUpdate{Append: typ == MsgRouteAppend, Entries: entries}, nil
}

// StartSensor activates the sensor channels and establishes the status
// channel's retransmission timing.
type StartSensor struct {
	StatusRetransmissionDelay uint8
	ActiveSensors             uint16
	AdcSamplesPerSec          uint16
}

func (m StartSensor) Marshal(buf []byte) (int, error) {
	if len(buf) < 6 {
		return 0, util.ErrBufferTooSmall
	}
	buf[0] = byte(MsgStartSensor)
	buf[1] = m.StatusRetransmissionDelay
	off := putU16(buf, 2, m.ActiveSensors)
	putU16(buf, off, m.AdcSamplesPerSec)
	return 6, nil
}

func ParseStartSensor(payload []byte) (StartSensor, error) {
	if len(payload) != 6 {
		return StartSensor{}, util.ErrWrongSize
	}
	active, off := getU16(payload, 2)
	sps, _ := getU16(payload, off)
	return StartSensor{
		StatusRetransmissionDelay: payload[1],
		ActiveSensors:             active,
		AdcSamplesPerSec:          sps,
	}, nil
}

// BeginRawFrames asks a sensor to stream a bounded number of raw frame
// values for calibration.
type BeginRawFrames struct {
	Channel     uint8
	NumOfFrames uint16
}

func (m BeginRawFrames) Marshal(buf []byte) (int, error) {
	if len(buf) < 4 {
		return 0, util.ErrBufferTooSmall
	}
	buf[0] = byte(MsgBeginRawFrames)
	buf[1] = m.Channel
	putU16(buf, 2, m.NumOfFrames)
	return 4, nil
}

func ParseBeginRawFrames(payload []byte) (BeginRawFrames, error) {
	if len(payload) != 4 {
		return BeginRawFrames{}, util.ErrWrongSize
	}
	n, _ := getU16(payload, 2)
	return BeginRawFrames{Channel: payload[1], NumOfFrames: n}, nil
}

// StatusUpdate is the unsolicited (but signed) message a sensor sends
// through the status channel whenever an active channel's on/off state
// changes.
type StatusUpdate struct {
	Status uint16
}

func (m StatusUpdate) Marshal(buf []byte) (int, error) {
	if len(buf) < 3 {
		return 0, util.ErrBufferTooSmall
	}
	buf[0] = byte(MsgStatusUpdate)
	putU16(buf, 1, m.Status)
	return 3, nil
}

func ParseStatusUpdate(payload []byte) (StatusUpdate, error) {
	if len(payload) != 3 {
		return StatusUpdate{}, util.ErrWrongSize
	}
	status, _ := getU16(payload, 1)
	return StatusUpdate{Status: status}, nil
}

// RawFrameData carries a batch of unauthenticated raw filter values for
// calibration, emitted in response to BeginRawFrames.
type RawFrameData struct {
	Values []uint16
}

func (m RawFrameData) Marshal(buf []byte) (int, error) {
	need := 1 + 2*len(m.Values)
	if len(buf) < need {
		return 0, util.ErrBufferTooSmall
	}
	buf[0] = byte(MsgRawFrameData)
	off := 1
	for _, v := range m.Values {
		off = putU16(buf, off, v)
	}
	return off, nil
}

func ParseRawFrameData(payload []byte) (RawFrameData, error) {
	if len(payload) < 1 || (len(payload)-1)%2 != 0 {
		return RawFrameData{}, util.ErrWrongSize
	}
	n := (len(payload) - 1) / 2
	values := make([]uint16, n)
	off := 1
	for i := range values {
		values[i], off = getU16(payload, off)
	}
	return RawFrameData{Values: values}, nil
}

// RawStatusChannel is one channel's worth of unauthenticated debug
// status, the wasch (appliance current) variant of the union described
// on the wire.
type RawStatusChannel struct {
	IfCurrent     uint16
	RfCurrent     uint16
	CurrentStatus uint8
}

// RawStatus is the reply to GetRawStatus: node-wide counters plus one
// RawStatusChannel per enabled channel.
type RawStatus struct {
	NodeStatus             uint32
	SensorLoopDelay         uint32
	RetransmissionCounter   uint32
	Uptime                  uint32
	ChannelStatus           uint16
	ChannelEnabled          uint16
	RtBaseDelay             uint8
	Channels                []RawStatusChannel
}

const rawStatusChannelSize = 5
const rawStatusHeaderSize = 1 + 4*4 + 2*2 + 1

func (m RawStatus) Marshal(buf []byte) (int, error) {
	need := rawStatusHeaderSize + rawStatusChannelSize*len(m.Channels)
	if len(buf) < need {
		return 0, util.ErrBufferTooSmall
	}
	buf[0] = byte(MsgRawStatus)
	off := 1
	off = putU32(buf, off, m.NodeStatus)
	off = putU32(buf, off, m.SensorLoopDelay)
	off = putU32(buf, off, m.RetransmissionCounter)
	off = putU32(buf, off, m.Uptime)
	off = putU16(buf, off, m.ChannelStatus)
	off = putU16(buf, off, m.ChannelEnabled)
	buf[off] = m.RtBaseDelay
	off++
	for _, ch := range m.Channels {
		off = putU16(buf, off, ch.IfCurrent)
		off = putU16(buf, off, ch.RfCurrent)
		buf[off] = ch.CurrentStatus
		off++
	}
	return off, nil
}

func ParseRawStatus(payload []byte) (RawStatus, error) {
	if len(payload) < rawStatusHeaderSize || (len(payload)-rawStatusHeaderSize)%rawStatusChannelSize != 0 {
		return RawStatus{}, util.ErrWrongSize
	}
	var m RawStatus
	off := 1
	m.NodeStatus, off = getU32(payload, off)
	m.SensorLoopDelay, off = getU32(payload, off)
	m.RetransmissionCounter, off = getU32(payload, off)
	m.Uptime, off = getU32(payload, off)
	m.ChannelStatus, off = getU16(payload, off)
	m.ChannelEnabled, off = getU16(payload, off)
	m.RtBaseDelay = payload[off]
	off++
	n := (len(payload) - off) / rawStatusChannelSize
	m.Channels = make([]RawStatusChannel, n)
	for i := range m.Channels {
		m.Channels[i].IfCurrent, off = getU16(payload, off)
		m.Channels[i].RfCurrent, off = getU16(payload, off)
		m.Channels[i].CurrentStatus = payload[off]
		off++
	}
	return m, nil
}

// bareMessage codecs for the fixed, fieldless message types.

func MarshalBare(t MessageType, buf []byte) (int, error) {
	if len(buf) < 1 {
		return 0, util.ErrBufferTooSmall
	}
	buf[0] = byte(t)
	return 1, nil
}

func ParseBare(t MessageType, payload []byte) error {
	if len(payload) != 1 {
		return util.ErrWrongSize
	}
	if MessageType(payload[0]) != t {
		return util.ErrBadParam
	}
	return nil
}
