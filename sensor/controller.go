// Package sensor implements the sensor node's state machine (spec.md
// §4.4): boot-time config handshake, route installation, per-channel
// state estimation, status-channel build-up and retransmission, and
// the timeouts/watchdogs that reboot the node when the master or the
// ADC task goes quiet.
package sensor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stustanet/meshwatch/auth"
	"github.com/stustanet/meshwatch/common/log"
	"github.com/stustanet/meshwatch/common/persistance"
	"github.com/stustanet/meshwatch/common/protocol"
	"github.com/stustanet/meshwatch/common/util"
	"github.com/stustanet/meshwatch/estimator"
	"github.com/stustanet/meshwatch/mesh"
	"github.com/stustanet/meshwatch/radio"
	"github.com/stustanet/meshwatch/sched"
)

// NChannels is the number of independently estimated sensor channels a
// node supports, matching the persisted color_table's 16 slots.
const NChannels = 16

// LEDDriver is the out-of-scope LED strip collaborator. Index addresses
// one of the persisted color table's slots.
type LEDDriver interface {
	SetColor(index int, rgb [3]byte)
}

// SampleSource is the out-of-scope ADC+DMA collaborator: it holds the
// latest raw 12-bit sample for every channel, refreshed by hardware
// DMA between calls.
type SampleSource interface {
	Sample(channel int) uint16
}

// indicator binds one active channel to an LED slot with distinct
// on/off colors, set by CONFIGURE_STATUS_CHANGE_INDICATOR.
type indicator struct {
	configured bool
	ledIndex   uint8
	onColor    [3]byte
	offColor   [3]byte
}

// Controller is the sensor node's top-level state machine. All fields
// touched by both the ADC task and the message task are guarded by mu,
// standing in for the firmware's sensor.ctx.mutex.
type Controller struct {
	mu sync.Mutex

	nodeID    protocol.NodeId
	persister persistance.SensorPersister
	cfg       persistance.SensorConfig

	transport *mesh.Transport
	led       LEDDriver
	samples   SampleSource

	authStatus *auth.Channel // node is Master: signs status updates
	authConfig *auth.Channel // node is Slave: verifies commands from master

	masterID      protocol.NodeId
	routesKnown   bool
	status        uint16
	activeMask    uint16
	lastSent      uint16
	currentStatus uint16

	estimators [NChannels]*estimator.Estimator
	indicators [NChannels]indicator

	sensorLoopDelay     time.Duration
	statusRtBaseDelay   time.Duration
	adcSamplesPerSec    uint16

	statusRetries     int
	statusAwaitingAck bool
	statusDeadline    time.Time
	statusChallenge   []byte // outstanding HS1 challenge awaiting the master's HS2

	configTimeoutSeconds int // elapsed since last authenticated master traffic
	lastAckResult        protocol.AckResult

	rawFramesRemaining uint16
	rawFramesChannel   uint8

	bootTime time.Time

	adcWatchdog *sched.Watchdog
	msgWatchdog *sched.Watchdog

	reboot func(reason string)

	log *log.Logger
}

// New constructs a Controller for a freshly loaded SensorConfig. It does
// not touch the radio; call Boot to bring the mesh up.
func New(cfg persistance.SensorConfig, persister persistance.SensorPersister, r radio.Radio, led LEDDriver, samples SampleSource, reboot func(string)) *Controller {
	c := &Controller{
		nodeID:               cfg.NodeID,
		persister:            persister,
		cfg:                  cfg,
		led:                  led,
		samples:              samples,
		masterID:             protocol.InvalidNode,
		sensorLoopDelay:      time.Second,
		statusRtBaseDelay:    time.Second,
		configTimeoutSeconds: 0,
		reboot:               reboot,
		log:                  log.New("sensor"),
	}
	c.status = protocol.StatusInitCplt
	c.transport = mesh.NewTransport(cfg.NodeID, r, c.handleReceive)
	return c
}

// Boot runs the node's initialization order (spec.md §4.4): radio and
// mesh init, two radio-derived randoms seeding the auth channels, then
// the ADC and message tasks. ctx governs both tasks' lifetime.
func (c *Controller) Boot(ctx context.Context) error {
	c.bootTime = time.Now()
	if err := c.transport.Init(c.cfg.RF); err != nil {
		return fmt.Errorf("radio init: %w", err)
	}

	challenge, err := c.transport.RandomU64()
	if err != nil {
		return fmt.Errorf("draw status challenge: %w", err)
	}
	nonce, err := c.transport.RandomU64()
	if err != nil {
		return fmt.Errorf("draw config nonce: %w", err)
	}

	c.mu.Lock()
	c.authStatus = auth.NewMasterChannel(c.cfg.KeyStatus, challenge)
	c.authConfig = auth.NewSlaveChannel(c.cfg.KeyConfig, nonce)
	c.mu.Unlock()

	c.adcWatchdog = sched.NewWatchdog(10*time.Second, "adc task hang", c.reboot)
	c.msgWatchdog = sched.NewWatchdog(4*time.Second, "message task hang", c.reboot)

	go c.transport.Run(ctx)
	go c.runAdcLoop(ctx)
	go sched.RunPeriodic(ctx, time.Second, c.runMessageTick)
	go c.adcWatchdog.Run(ctx)
	go c.msgWatchdog.Run(ctx)

	c.publishInitCplt()
	return nil
}

func (c *Controller) currentSensorDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sensorLoopDelay
}

func (c *Controller) publishInitCplt() {
	c.mu.Lock()
	c.status |= protocol.StatusInitCplt
	c.mu.Unlock()
}

// addData is the (src,dst) additional-data binding the auth channels
// use for every normal message, per spec.md §4.2.
func addData(src, dst protocol.NodeId) []byte {
	return []byte{byte(src), byte(dst)}
}

// resetForRouteReset clears all status bits except INIT_CPLT and
// INIT_AUTH_CFG, tears down routes, disables every channel, resets the
// ADC loop delay to its 1000ms default and forces the next status
// update, per spec.md §4.4 "Node reset".
func (c *Controller) resetForRouteReset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status &= protocol.StatusInitCplt | protocol.StatusInitAuthCfg
	c.status |= protocol.StatusForceUpdate
	c.activeMask = 0
	c.sensorLoopDelay = time.Second
	c.transport.ClearRoutes()
}

// handleReceive is mesh.Transport's ReceiveFunc: it dispatches every
// inbound payload by message type.
func (c *Controller) handleReceive(src protocol.NodeId, payload []byte) {
	if len(payload) == 0 {
		return
	}
	typ := protocol.MessageType(payload[0])
	switch typ {
	case protocol.MsgHS1:
		c.handleHS1(src, payload)
	case protocol.MsgHS2:
		// the master's reply to this node's own status-channel HS1.
		c.handleHS2(src, payload)
	case protocol.MsgAck:
		// the master's ack for a status update this node signed.
		c.handleStatusAck(src, payload)
	case protocol.MsgEchoRequest:
		c.handleEcho(src, payload)
	case protocol.MsgEchoReply:
		// nothing to do; echoes are fire-and-forget diagnostics.
	case protocol.MsgGetRawStatus:
		// unauthenticated debug request, answered unconditionally.
		c.handleGetRawStatus(src)
	default:
		c.handleAuthenticatedCommand(src, typ, payload)
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

// handleHS1 implements spec.md §4.4's "HS1 handling": the reply route is
// only trusted when no routes are currently installed, in which case it
// is installed and the sender is remembered as the master. The node's
// own status-channel handshake is independent and only starts once
// SENSORS_ACTIVE (see status.go). The HS2 reply is the config channel's
// signed handshake reply preceded by a 4-byte header carrying the node's
// current status snapshot; the tag covers only the echoed challenge, not
// that header.
func (c *Controller) handleHS1(src protocol.NodeId, payload []byte) {
	hs1Wire, challenge, err := splitHandshakeWire(payload, 2)
	if err != nil {
		return
	}
	hs1, err := protocol.ParseHS1(hs1Wire)
	if err != nil {
		return
	}

	c.mu.Lock()
	alreadyRouted := c.routesKnown
	if !alreadyRouted {
		c.transport.SetRoute(src, hs1.ReplyRoute)
		c.masterID = src
		c.routesKnown = true
	}
	reply, err := c.authConfig.HandleHandshake(challenge, addData(src, c.nodeID))
	status := c.status
	active := c.activeMask
	c.mu.Unlock()
	if err != nil {
		c.log.Debugf("handshake reply build failed: %v", err)
		return
	}

	c.mu.Lock()
	c.status |= protocol.StatusInitAuthCfg
	c.mu.Unlock()

	var hs2Status uint8
	if status&protocol.StatusInitRoutes != 0 {
		hs2Status |= protocol.HS2StatusRoutes
	}
	if status&protocol.StatusSensorsActive != 0 {
		hs2Status |= protocol.HS2StatusSensor
	}
	hs2Hdr := make([]byte, 4)
	if _, err := (protocol.HS2{Status: hs2Status, Channels: active}).Marshal(hs2Hdr); err != nil {
		c.log.Debugf("HS2 header build failed: %v", err)
		return
	}
	body := make([]byte, 0, len(hs2Hdr)+len(reply))
	body = append(body, hs2Hdr...)
	body = append(body, reply...)
	if err := c.transport.Send(src, body); err != nil {
		c.log.Debugf("HS2 send to %d failed: %v", src, err)
	}
}

// handleAuthenticatedCommand verifies an incoming command against the
// config channel and, on success, dispatches it; on OldNonce it re-acks
// without reprocessing; any other failure is a silent drop.
func (c *Controller) handleAuthenticatedCommand(src protocol.NodeId, typ protocol.MessageType, full []byte) {
	ad := addData(src, c.nodeID)
	c.mu.Lock()
	body, old, err := c.authConfig.Verify(full, ad)
	c.mu.Unlock()
	if err == util.ErrOldNonce {
		c.sendAck(src, ad, c.lastAckResultRetransmit())
		return
	}
	if err != nil {
		c.log.Debugf("drop %v from %d: %v", typ, src, err)
		return
	}
	_ = old
	c.resetConfigTimeout()

	result := c.dispatchCommand(typ, body)
	c.mu.Lock()
	c.lastAckResult = result
	c.mu.Unlock()
	c.sendAck(src, ad, result)
}

func (c *Controller) lastAckResultRetransmit() protocol.AckResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAckResult | protocol.AckRetransmitBit
}

// sendAck builds the wire Ack message: [MsgAck][result] followed by the
// config channel's footer-only slave ack, signed with the result byte
// folded into the additional data so a forged result requires forging
// the tag.
func (c *Controller) sendAck(dst protocol.NodeId, baseAddData []byte, result protocol.AckResult) {
	old := result.IsRetransmit()
	ackAddData := append(append([]byte{}, baseAddData...), byte(result))
	c.mu.Lock()
	footer, err := c.authConfig.MakeAck(ackAddData, old)
	c.mu.Unlock()
	if err != nil {
		c.log.Debugf("make ack failed: %v", err)
		return
	}
	msg := make([]byte, 0, 2+len(footer))
	msg = append(msg, byte(protocol.MsgAck), byte(result))
	msg = append(msg, footer...)
	if err := c.transport.Send(dst, msg); err != nil {
		c.log.Debugf("ack send to %d failed: %v", dst, err)
	}
}

// dispatchCommand executes the body of an already-verified command and
// returns the AckResult to report back to the master.
func (c *Controller) dispatchCommand(typ protocol.MessageType, body []byte) protocol.AckResult {
	switch typ {
	case protocol.MsgRouteReset, protocol.MsgRouteAppend:
		return c.handleRouteUpdate(body)
	case protocol.MsgStartSensor:
		return c.handleStartSensor(body)
	case protocol.MsgConfigureSensor:
		return c.handleConfigureSensor(body)
	case protocol.MsgBeginRawFrames:
		return c.handleBeginRawFrames(body)
	case protocol.MsgLed:
		return c.handleLed(body)
	case protocol.MsgConfigureStatusChangeIndicator:
		return c.handleConfigureIndicator(body)
	case protocol.MsgRebuildStatusChannel:
		return c.handleRebuildStatusChannel()
	case protocol.MsgConfigureFreqChannel:
		// acknowledged only; the radio collaborator is out of scope here
		// and nothing acts on the request.
		return protocol.AckOK
	case protocol.MsgNop:
		return protocol.AckOK
	default:
		return protocol.AckNotSup
	}
}

// handleRouteUpdate implements ROUTE_RESET/ROUTE_APPEND: reset tears
// down prior state first, append keeps it; both reject an empty table
// and enable forwarding + mark INIT_ROUTES on success.
func (c *Controller) handleRouteUpdate(body []byte) protocol.AckResult {
	update, err := protocol.ParseRouteUpdate(body)
	if err != nil {
		return protocol.AckWrongSize
	}
	if len(update.Entries) == 0 {
		return protocol.AckBadParam
	}
	if !update.Append {
		c.resetForRouteReset()
	}
	for _, e := range update.Entries {
		if err := c.transport.SetRoute(e.Dst, e.Next); err != nil {
			return protocol.AckBadParam
		}
	}
	c.transport.EnableForwarding()
	c.mu.Lock()
	c.status |= protocol.StatusInitRoutes
	c.mu.Unlock()
	return protocol.AckOK
}

func (c *Controller) resetConfigTimeout() {
	c.mu.Lock()
	c.configTimeoutSeconds = 0
	c.mu.Unlock()
}
