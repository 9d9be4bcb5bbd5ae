package master

import (
	"strconv"
	"strings"

	"github.com/stustanet/meshwatch/common/protocol"
	"github.com/stustanet/meshwatch/common/util"
)

// wireMessage is satisfied by every typed message codec in
// common/protocol; marshalMsg uses it to avoid hand-sizing a buffer per
// command.
type wireMessage interface {
	Marshal(buf []byte) (int, error)
}

func marshalMsg(m wireMessage) ([]byte, error) {
	buf := make([]byte, protocol.MaxPayloadSize)
	n, err := m.Marshal(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// HandleLine parses and dispatches one line of the host control-plane
// protocol (spec.md §6.2/§4.5). Commands fail fast with ###ERR written
// back to the host on any rejection; a signed command's actual result
// arrives later, asynchronously, as an ###ACK event once the node
// replies.
func (c *Controller) HandleLine(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd, args := fields[0], fields[1:]

	if err := c.dispatch(cmd, args); err != nil {
		c.log.Warningf("command %q: %v", line, err)
		c.printEvent("###ERR")
	}
}

func (c *Controller) dispatch(cmd string, args []string) error {
	switch cmd {
	case "connect":
		return c.cmdConnect(args)
	case "retransmit":
		return c.cmdRetransmit(args)
	case "reset_routes", "set_routes":
		return c.cmdNodeRoutes(cmd == "set_routes", args)
	case "routes":
		return c.cmdLocalRoutes(args)
	case "cfg_sensor":
		return c.cmdConfigureSensor(args)
	case "enable_sensor":
		return c.cmdEnableSensor(args)
	case "raw_frames":
		return c.cmdRawFrames(args)
	case "raw_status":
		return c.cmdRawStatus(args)
	case "ping":
		return c.cmdPing(args)
	case "authping":
		return c.cmdAuthping(args)
	case "led":
		return c.cmdLed(args)
	case "rebuild_status_channel":
		return c.cmdRebuildStatusChannel(args)
	case "cfg_status_change_indicator":
		return c.cmdConfigureIndicator(args)
	default:
		return util.ErrBadParam
	}
}

// signedCommand signs body on node's config channel and transmits it,
// the shared tail end of every command below except connect, retransmit
// and the unauthenticated raw_status/ping.
func (c *Controller) signedCommand(node protocol.NodeId, body []byte) error {
	sc, ok := c.connection(node)
	if !ok {
		return util.ErrBadParam
	}
	wire, err := sc.signAndSend(body)
	if err != nil {
		return err
	}
	return c.transport.Send(node, wire)
}

// connect <NODE> <FIRST_HOP> <TIMEOUT>
func (c *Controller) cmdConnect(args []string) error {
	if len(args) != 3 {
		return util.ErrBadParam
	}
	node, err := parseNodeID(args[0])
	if err != nil {
		return err
	}
	hop, err := parseNodeID(args[1])
	if err != nil {
		return err
	}
	// TIMEOUT overrides this connection's own retransmission cap (in
	// retry counts); 0 keeps the default.
	maxRetries, err := strconv.Atoi(args[2])
	if err != nil {
		return util.ErrBadParam
	}
	return c.connect(node, hop, maxRetries)
}

// retransmit <NODE>
func (c *Controller) cmdRetransmit(args []string) error {
	if len(args) != 1 {
		return util.ErrBadParam
	}
	node, err := parseNodeID(args[0])
	if err != nil {
		return err
	}
	sc, ok := c.connection(node)
	if !ok {
		return util.ErrBadParam
	}
	payload, err := sc.retransmit()
	if err != nil {
		return err
	}
	return c.transport.Send(node, payload)
}

// reset_routes <NODE> <DST1>:<HOP1>,... / set_routes <NODE> <DST1>:<HOP1>,...
func (c *Controller) cmdNodeRoutes(set bool, args []string) error {
	if len(args) != 2 {
		return util.ErrBadParam
	}
	node, err := parseNodeID(args[0])
	if err != nil {
		return err
	}
	entries, err := parseRouteList(args[1])
	if err != nil {
		return err
	}
	body, err := marshalMsg(protocol.RouteUpdate{Append: set, Entries: entries})
	if err != nil {
		return err
	}
	return c.signedCommand(node, body)
}

// routes <DST1>:<HOP1>,<DST2>:<HOP2>,...
// Sets the master's own local route table directly; unlike the
// node-targeted commands this never touches the network.
func (c *Controller) cmdLocalRoutes(args []string) error {
	if len(args) != 1 {
		return util.ErrBadParam
	}
	entries, err := parseRouteList(args[0])
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := c.transport.SetRoute(e.Dst, e.Next); err != nil {
			return err
		}
	}
	return nil
}

// cfg_sensor <NODE> <CHANNEL> <INPUT_FILTER> <ST_MATRIX> <ST_WINDOW> <REJECT_FILTER>
// Each of the last four arguments is a comma-separated numeric list,
// matching master_sensorconnection.c's configure_sensor split.
func (c *Controller) cmdConfigureSensor(args []string) error {
	if len(args) != 6 {
		return util.ErrBadParam
	}
	node, err := parseNodeID(args[0])
	if err != nil {
		return err
	}
	channel, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil || channel >= 16 {
		return util.ErrBadParam
	}
	inputFilter, err := parseUint16List(args[2], 3)
	if err != nil {
		return err
	}
	matrix, err := parseInt16List(args[3], protocol.StateCount*(protocol.StateCount-1))
	if err != nil {
		return err
	}
	window, err := parseUint16List(args[4], protocol.StateCount)
	if err != nil {
		return err
	}
	reject, err := parseUint16List(args[5], 2)
	if err != nil {
		return err
	}

	var params protocol.StateEstimationParams
	params.MidValueAdjustmentSpeed = inputFilter[0]
	params.LowpassWeight = inputFilter[1]
	params.NumSamples = inputFilter[2]
	idx := 0
	for st := 0; st < protocol.StateCount; st++ {
		for n := 0; n < protocol.StateCount-1; n++ {
			params.TransitionMatrix[st][n] = matrix[idx]
			idx++
		}
	}
	copy(params.WindowSizes[:], window)
	params.RejectThreshold = reject[0]
	params.RejectConsecCount = reject[1]

	body, err := marshalMsg(protocol.ConfigureSensor{ChannelID: protocol.NodeId(channel), Params: params})
	if err != nil {
		return err
	}
	return c.signedCommand(node, body)
}

// enable_sensor <NODE> <MASK> <SPS>
// The status-channel retransmission delay this enables on the node is
// derived from the node's own id (node_id+1 tenths of a second),
// matching master_sensorconnection.c's sensor_connection_enable_sensors
// rather than taking it as a fourth argument the original command
// syntax never has.
func (c *Controller) cmdEnableSensor(args []string) error {
	if len(args) != 3 {
		return util.ErrBadParam
	}
	node, err := parseNodeID(args[0])
	if err != nil {
		return err
	}
	mask, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		return util.ErrBadParam
	}
	sps, err := strconv.ParseUint(args[2], 10, 16)
	if err != nil {
		return util.ErrBadParam
	}
	body, err := marshalMsg(protocol.StartSensor{
		StatusRetransmissionDelay: uint8(node) + 1,
		ActiveSensors:             uint16(mask),
		AdcSamplesPerSec:          uint16(sps),
	})
	if err != nil {
		return err
	}
	return c.signedCommand(node, body)
}

// raw_frames <NODE> <CHANNEL> <COUNT>
func (c *Controller) cmdRawFrames(args []string) error {
	if len(args) != 3 {
		return util.ErrBadParam
	}
	node, err := parseNodeID(args[0])
	if err != nil {
		return err
	}
	channel, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil {
		return util.ErrBadParam
	}
	count, err := strconv.ParseUint(args[2], 10, 16)
	if err != nil {
		return util.ErrBadParam
	}
	body, err := marshalMsg(protocol.BeginRawFrames{Channel: uint8(channel), NumOfFrames: uint16(count)})
	if err != nil {
		return err
	}
	return c.signedCommand(node, body)
}

// raw_status <NODE>
// Sent unauthenticated, like the original firmware's debug status
// request; there is no ack bookkeeping since the reply (MsgRawStatus)
// is itself unauthenticated.
func (c *Controller) cmdRawStatus(args []string) error {
	if len(args) != 1 {
		return util.ErrBadParam
	}
	node, err := parseNodeID(args[0])
	if err != nil {
		return err
	}
	buf := make([]byte, 1)
	if _, err := protocol.MarshalBare(protocol.MsgGetRawStatus, buf); err != nil {
		return err
	}
	return c.transport.Send(node, buf)
}

// ping <NODE>
// An unauthenticated, connection-less debug echo to any node.
func (c *Controller) cmdPing(args []string) error {
	if len(args) != 1 {
		return util.ErrBadParam
	}
	node, err := parseNodeID(args[0])
	if err != nil {
		return err
	}
	buf := make([]byte, 1)
	if _, err := protocol.MarshalBare(protocol.MsgEchoRequest, buf); err != nil {
		return err
	}
	return c.transport.Send(node, buf)
}

// authping <NODE>
func (c *Controller) cmdAuthping(args []string) error {
	if len(args) != 1 {
		return util.ErrBadParam
	}
	node, err := parseNodeID(args[0])
	if err != nil {
		return err
	}
	buf := make([]byte, 1)
	if _, err := protocol.MarshalBare(protocol.MsgNop, buf); err != nil {
		return err
	}
	return c.signedCommand(node, buf)
}

// led <NODE> <INDEX> <R,G,B>
func (c *Controller) cmdLed(args []string) error {
	if len(args) != 3 {
		return util.ErrBadParam
	}
	node, err := parseNodeID(args[0])
	if err != nil {
		return err
	}
	index, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil {
		return util.ErrBadParam
	}
	rgb, err := parseRGB(args[2])
	if err != nil {
		return err
	}
	body, err := marshalMsg(protocol.Led{Index: uint8(index), RGB: rgb})
	if err != nil {
		return err
	}
	return c.signedCommand(node, body)
}

// rebuild_status_channel <NODE>
func (c *Controller) cmdRebuildStatusChannel(args []string) error {
	if len(args) != 1 {
		return util.ErrBadParam
	}
	node, err := parseNodeID(args[0])
	if err != nil {
		return err
	}
	buf := make([]byte, 1)
	if _, err := protocol.MarshalBare(protocol.MsgRebuildStatusChannel, buf); err != nil {
		return err
	}
	return c.signedCommand(node, buf)
}

// cfg_status_change_indicator <NODE> <CHANNEL> <LED> <ON_R,ON_G,ON_B> <OFF_R,OFF_G,OFF_B>
//
// The original firmware's cfg_status_change_indicator took a variadic
// list of <CHANNEL>,<LED>,<COLOR> triples (one blink color per channel,
// set once per command for every configured channel at once).
// common/protocol's StatusChangeIndicator wire message already commits
// to a richer single-channel, two-color (on/off) form, so the host
// command here configures one channel per invocation with independent
// on and off colors rather than replicating the original's multi-channel,
// single-color argument shape; see DESIGN.md.
func (c *Controller) cmdConfigureIndicator(args []string) error {
	if len(args) != 5 {
		return util.ErrBadParam
	}
	node, err := parseNodeID(args[0])
	if err != nil {
		return err
	}
	channel, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil {
		return util.ErrBadParam
	}
	led, err := strconv.ParseUint(args[2], 10, 8)
	if err != nil {
		return util.ErrBadParam
	}
	onColor, err := parseRGB(args[3])
	if err != nil {
		return err
	}
	offColor, err := parseRGB(args[4])
	if err != nil {
		return err
	}
	body, err := marshalMsg(protocol.StatusChangeIndicator{
		ChannelID: uint8(channel),
		LedIndex:  uint8(led),
		OnColor:   onColor,
		OffColor:  offColor,
	})
	if err != nil {
		return err
	}
	return c.signedCommand(node, body)
}
