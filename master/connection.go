package master

import (
	"sync"

	"github.com/stustanet/meshwatch/auth"
	"github.com/stustanet/meshwatch/common/persistance"
	"github.com/stustanet/meshwatch/common/protocol"
	"github.com/stustanet/meshwatch/common/util"
	"github.com/stustanet/meshwatch/mesh"
)

// addData is the (src, dst) additional-data binding the auth channels
// use for every normal message, matching package sensor's convention so
// both ends compute the same tag.
func addData(src, dst protocol.NodeId) []byte {
	return []byte{byte(src), byte(dst)}
}

// sensorConnection is the master's per-node counterpart to sensor's own
// Controller: one pair of mirrored auth Channels, the last signed
// command (kept around for retransmission) and that command's
// outstanding-ack bookkeeping.
type sensorConnection struct {
	mu sync.Mutex

	nodeID   protocol.NodeId
	masterID protocol.NodeId

	authStatus *auth.Channel // master is Slave: verifies status updates from the node
	authConfig *auth.Channel // master is Master: signs commands to the node

	lastSent       []byte
	ackOutstanding bool

	retransmissionCounter int
	retransmissionTimer   int // seconds remaining until the next retransmit, ticked once per second
	maxRetransmissions    int

	lastStatus      uint16
	lastStatusKnown bool
}

// newSensorConnection allocates a fresh connection, drawing its initial
// nonce/challenge pair from two radio-derived randoms per spec.md
// §4.5's "pulls two radio-derived randoms, initializes both auth
// channels (note the mirrored roles)".
func newSensorConnection(nodeID, masterID protocol.NodeId, keys persistance.MasterKeyPair, statusNonce, configChallenge uint64) *sensorConnection {
	return &sensorConnection{
		nodeID:             nodeID,
		masterID:           masterID,
		authStatus:         auth.NewSlaveChannel(keys.KeyStatus, statusNonce),
		authConfig:         auth.NewMasterChannel(keys.KeyConfig, configChallenge),
		maxRetransmissions: maxRetransmissions,
	}
}

// backoffDelaySeconds mirrors the original firmware's send_last_packet
// formula exactly: node_id*(1+retries/backoff_div) + base_delay. Scaling
// by the node's own id keeps many simultaneously-retrying connections
// from ever landing on the same retransmit tick.
func (sc *sensorConnection) backoffDelaySeconds(retries int) int {
	factor := 1 + retries/retransmissionLinBackoffDiv
	return int(sc.nodeID)*factor + retransmissionBaseDelaySeconds
}

// buildHandshake produces the unsigned HS1 this connection's config
// channel handshake begins with, arming the outstanding-ack state
// around it directly (HS1 itself carries no footer to check, but its
// HS2 reply does, so it is tracked exactly like a signed command).
func (sc *sensorConnection) buildHandshake(replyHop protocol.NodeId) ([]byte, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	challenge, err := sc.authConfig.MakeHandshake()
	if err != nil {
		return nil, err
	}
	hdr := make([]byte, 2)
	if _, err := (protocol.HS1{ReplyRoute: replyHop}).Marshal(hdr); err != nil {
		return nil, err
	}
	msg := append(hdr, challenge...)

	sc.lastSent = msg
	sc.ackOutstanding = true
	sc.retransmissionCounter = 0
	sc.retransmissionTimer = sc.backoffDelaySeconds(0)
	return msg, nil
}

// signAndSend signs body on the config channel, arms the retransmission
// state for a fresh command (counter reset, matching the per-command
// reset convention package sensor's status-update retransmission
// already uses) and hands the wire message
// back to the caller to transmit.
func (sc *sensorConnection) signAndSend(body []byte) ([]byte, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.ackOutstanding {
		return nil, util.ErrWrongState
	}
	signed, err := sc.authConfig.Sign(body, addData(sc.masterID, sc.nodeID))
	if err != nil {
		return nil, err
	}
	sc.lastSent = signed
	sc.ackOutstanding = true
	sc.retransmissionCounter = 0
	sc.retransmissionTimer = sc.backoffDelaySeconds(0)
	return signed, nil
}

// retransmit resends the last message and re-arms the outstanding-ack
// state, the manual resume path spec.md §4.5 names for a connection
// that already hit ###TIMEOUT. (The original firmware's
// sensor_connection_retransmit body wasn't present in the retrieved
// source; resuming the dead connection is the only reading consistent
// with the host being told it may "issue retransmit to resume
// manually".)
func (sc *sensorConnection) retransmit() ([]byte, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if len(sc.lastSent) == 0 {
		return nil, util.ErrWrongState
	}
	sc.ackOutstanding = true
	sc.retransmissionCounter = 0
	sc.retransmissionTimer = sc.backoffDelaySeconds(0)
	return sc.lastSent, nil
}

// tick advances this connection's retransmission timer by one second.
// It returns a non-nil payload when the timer expired and the message
// should be retransmitted, and sets timedOut when the retry cap was
// exceeded (the connection then has no outstanding ack until the host
// issues retransmit or a fresh command).
func (sc *sensorConnection) tick() (payload []byte, timedOut bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if !sc.ackOutstanding {
		return nil, false
	}
	if sc.retransmissionTimer > 0 {
		sc.retransmissionTimer--
		return nil, false
	}
	if sc.retransmissionCounter >= sc.maxRetransmissions {
		sc.ackOutstanding = false
		return nil, true
	}
	sc.retransmissionCounter++
	sc.retransmissionTimer = sc.backoffDelaySeconds(sc.retransmissionCounter)
	return sc.lastSent, false
}

// handleHS2 processes the node's reply to this connection's own
// outstanding config-channel handshake.
func (sc *sensorConnection) handleHS2(payload []byte) error {
	if len(payload) < 4 {
		return util.ErrWrongSize
	}
	if _, err := protocol.ParseHS2(payload[:4]); err != nil {
		return err
	}
	reply := payload[4:]

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if !sc.ackOutstanding {
		return util.ErrWrongState
	}
	challenge, err := sc.handshakeChallengeLocked()
	if err != nil {
		return err
	}
	if err := sc.authConfig.ProcessHandshakeReply(challenge, reply, addData(sc.masterID, sc.nodeID)); err != nil {
		return err
	}
	sc.ackOutstanding = false
	return nil
}

// handshakeChallengeLocked recovers the 8-byte challenge this
// connection's last sent HS1 carried, from the tail of lastSent. Caller
// holds sc.mu.
func (sc *sensorConnection) handshakeChallengeLocked() ([]byte, error) {
	if len(sc.lastSent) < 8 {
		return nil, util.ErrWrongSize
	}
	return sc.lastSent[len(sc.lastSent)-8:], nil
}

// handleAck processes the node's ack for a previously signed command.
func (sc *sensorConnection) handleAck(payload []byte) (protocol.AckResult, error) {
	ack, err := protocol.ParseAck(payload[:2])
	if err != nil {
		return 0, err
	}
	footer := payload[2:]

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if !sc.ackOutstanding {
		return 0, util.ErrWrongState
	}
	ad := append(addData(sc.masterID, sc.nodeID), byte(ack.Result))
	if err := sc.authConfig.CheckAck(footer, ad); err != nil {
		return 0, err
	}
	sc.ackOutstanding = false
	return ack.Result, nil
}

// handleHS1 answers the node rebuilding its status channel: the node's
// challenge is echoed and signed on the status channel (where the
// master plays Slave), independent of and unaffected by any config
// channel state.
func (sc *sensorConnection) handleHS1(payload []byte) ([]byte, error) {
	if len(payload) < 2+8 {
		return nil, util.ErrWrongSize
	}
	challenge := payload[2:]

	sc.mu.Lock()
	defer sc.mu.Unlock()
	reply, err := sc.authStatus.HandleHandshake(challenge, addData(sc.nodeID, sc.masterID))
	if err != nil {
		return nil, err
	}
	hdr := make([]byte, 4)
	if _, err := (protocol.HS2{}).Marshal(hdr); err != nil {
		return nil, err
	}
	msg := append(hdr, reply...)
	return msg, nil
}

// buildStatusAckLocked wraps the status channel's footer-only ack in the same
// [MsgAck][result][footer] envelope package sensor's handleStatusAck
// expects, with the result byte (always AckOK: status updates have no
// per-command result code) folded into the additional data just like
// the config channel's acks. Caller holds sc.mu.
func (sc *sensorConnection) buildStatusAckLocked(old bool) ([]byte, error) {
	ad := append(addData(sc.nodeID, sc.masterID), byte(protocol.AckOK))
	footer, err := sc.authStatus.MakeAck(ad, old)
	if err != nil {
		return nil, err
	}
	msg := make([]byte, 0, 2+len(footer))
	msg = append(msg, byte(protocol.MsgAck), byte(protocol.AckOK))
	msg = append(msg, footer...)
	return msg, nil
}

// handleStatusUpdate verifies an incoming status update on the status
// channel. On success it records the status and returns the ack to
// send; on ErrOldNonce it returns the re-ack for the already-processed
// update without changing lastStatus.
func (sc *sensorConnection) handleStatusUpdate(payload []byte) (ackMsg []byte, status uint16, fresh bool, err error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	body, _, verr := sc.authStatus.Verify(payload, addData(sc.nodeID, sc.masterID))
	if verr == util.ErrOldNonce {
		ack, merr := sc.buildStatusAckLocked(true)
		if merr != nil {
			return nil, 0, false, merr
		}
		return ack, sc.lastStatus, false, nil
	}
	if verr != nil {
		return nil, 0, false, verr
	}

	su, perr := protocol.ParseStatusUpdate(body)
	if perr != nil {
		return nil, 0, false, perr
	}
	sc.lastStatus = su.Status
	sc.lastStatusKnown = true

	ack, merr := sc.buildStatusAckLocked(false)
	if merr != nil {
		return nil, 0, false, merr
	}
	return ack, su.Status, true, nil
}

// sendDirect is a convenience for callers that already hold no lock and
// just need to push bytes to this node over the mesh.
func sendDirect(t *mesh.Transport, dst protocol.NodeId, payload []byte) error {
	return t.Send(dst, payload)
}
