package master

import (
	"github.com/stustanet/meshwatch/common/protocol"
)

// handleReceive is mesh.Transport's ReceiveFunc. Echo packets are
// answered immediately regardless of whether src has a connection (the
// original firmware answers them ahead of any per-node dispatch);
// everything else requires an existing SensorConnection.
func (c *Controller) handleReceive(src protocol.NodeId, payload []byte) {
	if len(payload) == 0 {
		return
	}
	typ := protocol.MessageType(payload[0])

	switch typ {
	case protocol.MsgEchoRequest:
		c.handleEcho(src, payload)
		return
	case protocol.MsgEchoReply:
		return
	}

	sc, ok := c.connection(src)
	if !ok {
		c.log.Debugf("packet type %v from unconnected node %d", typ, src)
		return
	}

	switch typ {
	case protocol.MsgHS1:
		reply, err := sc.handleHS1(payload)
		if err != nil {
			c.log.Debugf("status handshake reply to %d failed: %v", src, err)
			return
		}
		if err := c.transport.Send(src, reply); err != nil {
			c.log.Debugf("status HS2 send to %d failed: %v", src, err)
		}
	case protocol.MsgHS2:
		if err := sc.handleHS2(payload); err != nil {
			c.log.Debugf("config handshake reply from %d rejected: %v", src, err)
			return
		}
		c.printEvent("###ACK%d-%d", src, protocol.AckOK)
	case protocol.MsgAck:
		if len(payload) < 2 {
			return
		}
		result, err := sc.handleAck(payload)
		if err != nil {
			c.log.Debugf("ack from %d rejected: %v", src, err)
			return
		}
		c.printEvent("###ACK%d-%d", src, result.Code())
	case protocol.MsgStatusUpdate:
		ack, status, fresh, err := sc.handleStatusUpdate(payload)
		if err != nil {
			c.log.Debugf("status update from %d rejected: %v", src, err)
			return
		}
		if fresh {
			c.printEvent("###STATUS%d-%d", src, status)
		}
		if err := c.transport.Send(src, ack); err != nil {
			c.log.Debugf("status ack to %d failed: %v", src, err)
		}
	case protocol.MsgRawFrameData:
		c.handleRawFrameData(src, payload)
	case protocol.MsgRawStatus:
		c.handleRawStatus(src, payload)
	default:
		c.log.Debugf("unexpected message type %v from %d", typ, src)
	}
}

func (c *Controller) handleEcho(src protocol.NodeId, payload []byte) {
	reply := make([]byte, len(payload))
	copy(reply, payload)
	reply[0] = byte(protocol.MsgEchoReply)
	if err := c.transport.Send(src, reply); err != nil {
		c.log.Debugf("echo reply to %d failed: %v", src, err)
	}
}

// handleRawFrameData decodes a calibration frame dump and prints it as
// spec.md §6.2's "###RAW<node>-<count>" block followed by one "*<value>"
// line per sample.
func (c *Controller) handleRawFrameData(src protocol.NodeId, payload []byte) {
	m, err := protocol.ParseRawFrameData(payload)
	if err != nil {
		c.log.Debugf("raw frame data from %d malformed: %v", src, err)
		return
	}
	c.printEvent("###RAW%d-%d", src, len(m.Values))
	for _, v := range m.Values {
		c.printEvent("*%d", v)
	}
}

// handleRawStatus decodes the reply to the "raw_status" host command.
// spec.md's event list doesn't carve out a dedicated prefix for this
// debug-only reply, so it is rendered with its own ###RAWSTATUS prefix
// plus one "*" line per channel, following the "###RAW" block
// convention raw frame dumps already use.
func (c *Controller) handleRawStatus(src protocol.NodeId, payload []byte) {
	m, err := protocol.ParseRawStatus(payload)
	if err != nil {
		c.log.Debugf("raw status from %d malformed: %v", src, err)
		return
	}
	c.printEvent("###RAWSTATUS%d-%d,%d,%d,%d,%d,%d,%d",
		src, m.NodeStatus, m.SensorLoopDelay, m.RetransmissionCounter, m.Uptime,
		m.ChannelStatus, m.ChannelEnabled, m.RtBaseDelay)
	for _, ch := range m.Channels {
		c.printEvent("*%d,%d,%d", ch.IfCurrent, ch.RfCurrent, ch.CurrentStatus)
	}
}
