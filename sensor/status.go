package sensor

import (
	"math/rand"
	"time"

	"github.com/stustanet/meshwatch/auth"
	"github.com/stustanet/meshwatch/common/protocol"
	"github.com/stustanet/meshwatch/estimator"
)

// maxStatusRetransmissions is the fallback bound on how many times an
// unacknowledged status update is retransmitted before the node reboots
// (spec.md §4.4: "exceeding max_status_retransmissions reboots the node
// via watchdog starvation"), used when the persisted
// Misc.MaxStatusRetransmissions is 0.
const maxStatusRetransmissions = 100

// handleStartSensor implements spec.md §4.4 "Sensor start": copies the
// active-channel mask and retransmission delay, derives the ADC loop
// cadence, refreshes every configured channel's end-state timeout for
// the new sample rate, and marks SENSORS_ACTIVE.
func (c *Controller) handleStartSensor(body []byte) protocol.AckResult {
	m, err := protocol.ParseStartSensor(body)
	if err != nil {
		return protocol.AckWrongSize
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.activeMask = m.ActiveSensors
	c.statusRtBaseDelay = time.Duration(m.StatusRetransmissionDelay) * 100 * time.Millisecond
	c.adcSamplesPerSec = m.AdcSamplesPerSec
	if m.AdcSamplesPerSec == 0 {
		c.sensorLoopDelay = time.Second
	} else {
		c.sensorLoopDelay = time.Second / time.Duration(m.AdcSamplesPerSec)
	}
	for i := 0; i < NChannels; i++ {
		if c.estimators[i] != nil {
			c.estimators[i].SetAdcSamplesPerSec(m.AdcSamplesPerSec)
		}
	}
	c.status |= protocol.StatusSensorsActive
	return protocol.AckOK
}

// handleConfigureSensor implements spec.md §4.4 "Sensor configure":
// validates the channel index, rejects while SENSOR_TEST is active, and
// (re)initializes that channel's estimator.
func (c *Controller) handleConfigureSensor(body []byte) protocol.AckResult {
	m, err := protocol.ParseConfigureSensor(body)
	if err != nil {
		return protocol.AckWrongSize
	}
	if int(m.ChannelID) >= NChannels {
		return protocol.AckBadIndex
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status&protocol.StatusSensorTest != 0 {
		return protocol.AckBadState
	}
	est, err := estimator.New(m.Params, c.adcSamplesPerSec)
	if err != nil {
		return protocol.AckBadParam
	}
	c.estimators[m.ChannelID] = est
	return protocol.AckOK
}

// handleRebuildStatusChannel forces the status channel's build-up to
// restart from scratch, e.g. after the master itself lost its side of
// the handshake state.
func (c *Controller) handleRebuildStatusChannel() protocol.AckResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status &^= protocol.StatusInitAuthSta
	c.status |= protocol.StatusInitAuthStaPend
	c.statusAwaitingAck = false
	c.statusRetries = 0
	return protocol.AckOK
}

// runMessageTick is the 1Hz message task: timeouts, status-channel
// build-up and retransmission, LED pacing, watchdog feeding.
func (c *Controller) runMessageTick() {
	c.msgWatchdog.Feed()
	c.tickConfigTimeout()
	c.tickStatusChannel()
	c.tickLED()
}

// tickConfigTimeout increments the config-channel timeout counter once
// per second (cleared whenever an authenticated master message is
// accepted) and reboots the node if it exceeds network_timeout.
func (c *Controller) tickConfigTimeout() {
	c.mu.Lock()
	c.configTimeoutSeconds++
	exceeded := c.configTimeoutSeconds > int(c.cfg.Misc.NetworkTimeoutSeconds)
	c.mu.Unlock()
	if exceeded {
		c.reboot("config channel network timeout")
	}
}

// tickStatusChannel drives both the handshake build-up (spec.md §4.4
// "Status channel build-up") and the committed-status retransmission
// policy (spec.md §4.4 "Status updates"), gated on SENSORS_ACTIVE.
func (c *Controller) tickStatusChannel() {
	c.mu.Lock()
	active := c.status&protocol.StatusSensorsActive != 0
	established := c.status&protocol.StatusInitAuthSta != 0
	master := c.masterID
	c.mu.Unlock()
	if !active || !master.Valid() {
		return
	}
	if !established {
		c.tickStatusHandshake(master)
		return
	}
	c.tickStatusUpdate(master)
}

// tickStatusHandshake (re)sends the status channel's HS1 on a backoff
// schedule until the master replies with HS2, per spec.md §4.4:
// base_delay * (1 + retries/backoff_div) + random(0, rand_param *
// (1 + retries/backoff_div)).
func (c *Controller) tickStatusHandshake(master protocol.NodeId) {
	c.mu.Lock()
	now := time.Now()
	due := c.statusDeadline.IsZero() || !now.Before(c.statusDeadline)
	if !due {
		c.mu.Unlock()
		return
	}
	retries := c.statusRetries
	c.statusRetries++
	backoffDiv := int(c.cfg.Misc.RtDelayLinDiv)
	if backoffDiv == 0 {
		backoffDiv = 1
	}
	factor := 1 + retries/backoffDiv
	base := time.Duration(factor) * c.statusRtBaseDelay
	jitter := time.Duration(rand.Intn(int(c.cfg.Misc.RtDelayRandom)*factor+1)) * time.Millisecond
	c.statusDeadline = now.Add(base + jitter)
	challenge, err := c.authStatus.MakeHandshake()
	if err == nil {
		c.statusChallenge = challenge
		c.status |= protocol.StatusInitAuthStaPend
	}
	c.mu.Unlock()
	if err != nil {
		c.log.Debugf("status handshake build failed: %v", err)
		return
	}

	hs1Hdr := make([]byte, 2)
	protocol.HS1{ReplyRoute: protocol.InvalidNode}.Marshal(hs1Hdr)
	msg := append(append([]byte{}, hs1Hdr...), challenge...)
	if err := c.transport.Send(master, msg); err != nil {
		c.log.Debugf("status HS1 send failed: %v", err)
	}
}

// tickStatusUpdate implements the status update commit/retransmit
// policy: retransmit an unacknowledged update on timer expiry, else
// commit and send a fresh one whenever the active-masked status
// changed or FORCE_UPDATE is set.
func (c *Controller) tickStatusUpdate(master protocol.NodeId) {
	c.mu.Lock()
	awaiting := c.statusAwaitingAck
	due := awaiting && !time.Now().Before(c.statusDeadline)
	forceUpdate := c.status&protocol.StatusForceUpdate != 0
	changed := (c.currentStatus & c.activeMask) != (c.lastSent & c.activeMask)
	shouldSend := due || (!awaiting && (changed || forceUpdate))
	if !shouldSend {
		c.mu.Unlock()
		return
	}
	if !awaiting {
		c.lastSent = c.currentStatus
		c.status &^= protocol.StatusForceUpdate
		c.statusRetries = 0
	} else {
		c.statusRetries++
		limit := int(c.cfg.Misc.MaxStatusRetransmissions)
		if limit == 0 {
			limit = maxStatusRetransmissions
		}
		if c.statusRetries > limit {
			c.mu.Unlock()
			c.reboot("status channel retransmission cap exceeded")
			return
		}
	}
	status := c.lastSent
	payload := make([]byte, 3)
	protocol.StatusUpdate{Status: status}.Marshal(payload)
	ad := addData(c.nodeID, master)
	signed, err := c.authStatus.Sign(payload, ad)
	if err != nil {
		c.mu.Unlock()
		c.log.Debugf("sign status update failed: %v", err)
		return
	}
	c.statusAwaitingAck = true
	c.statusDeadline = time.Now().Add(c.statusRtBaseDelay)
	c.mu.Unlock()

	if err := c.transport.Send(master, signed); err != nil {
		c.log.Debugf("status update send failed: %v", err)
	}
}

// handleHS2 processes the master's reply to this node's own status-
// channel HS1: an HS2 header (carrying the master's own status
// snapshot, informational only) followed by the echoed challenge and
// the master's signed footer.
func (c *Controller) handleHS2(src protocol.NodeId, payload []byte) {
	if len(payload) < 4 {
		return
	}
	if _, err := protocol.ParseHS2(payload[:4]); err != nil {
		return
	}
	reply := payload[4:]

	c.mu.Lock()
	challenge := c.statusChallenge
	isMaster := c.masterID.Valid() && src == c.masterID
	c.mu.Unlock()
	if challenge == nil || !isMaster {
		return
	}

	ad := addData(c.nodeID, src)
	c.mu.Lock()
	err := c.authStatus.ProcessHandshakeReply(challenge, reply, ad)
	if err == nil {
		c.status |= protocol.StatusInitAuthSta
		c.status &^= protocol.StatusInitAuthStaPend
		c.statusChallenge = nil
	}
	c.mu.Unlock()
	if err != nil {
		c.log.Debugf("status handshake reply check failed: %v", err)
	}
}

// handleStatusAck processes an Ack received on the status channel
// (master -> node), acknowledging the most recently sent status
// update and clearing the retransmission timer.
func (c *Controller) handleStatusAck(src protocol.NodeId, payload []byte) {
	if len(payload) < 2+auth.FooterLen {
		return
	}
	result := protocol.AckResult(payload[1])
	footer := payload[2:]
	ad := append(addData(c.nodeID, src), byte(result))

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.authStatus.CheckAck(footer, ad); err != nil {
		c.log.Debugf("status ack check failed: %v", err)
		return
	}
	c.statusAwaitingAck = false
	c.status |= protocol.StatusInitAuthSta
	c.status &^= protocol.StatusInitAuthStaPend
}
