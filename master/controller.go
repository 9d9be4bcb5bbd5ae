package master

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/satori/go.uuid"

	"github.com/stustanet/meshwatch/common/log"
	"github.com/stustanet/meshwatch/common/notify"
	"github.com/stustanet/meshwatch/common/persistance"
	"github.com/stustanet/meshwatch/common/protocol"
	"github.com/stustanet/meshwatch/common/util"
	"github.com/stustanet/meshwatch/mesh"
	"github.com/stustanet/meshwatch/radio"
)

// Controller is the master node's top-level state machine: a bounded
// table of per-node SensorConnections, the mesh transport they share,
// and the host-facing line protocol that drives them.
type Controller struct {
	myID      protocol.NodeId
	persister persistance.MasterPersister
	transport *mesh.Transport
	notifier  *notify.Notifier
	log       *log.Logger

	connsMu sync.Mutex
	conns   map[protocol.NodeId]*sensorConnection

	outMu sync.Mutex
	out   io.Writer
}

// New constructs a Controller for myID (the master's own node address,
// conventionally 0). It does not touch the radio; call Boot to bring
// the mesh up.
func New(myID protocol.NodeId, persister persistance.MasterPersister, r radio.Radio, notifier *notify.Notifier) *Controller {
	c := &Controller{
		myID:      myID,
		persister: persister,
		notifier:  notifier,
		log:       log.New("master"),
		conns:     make(map[protocol.NodeId]*sensorConnection, NSlots),
	}
	c.transport = mesh.NewTransport(myID, r, c.handleReceive)
	return c
}

// Boot initializes the radio/mesh layer. Call Run afterwards to start
// the receive loop and the 1Hz retransmission tick.
func (c *Controller) Boot(cfg protocol.RFConfig) error {
	if err := c.transport.Init(cfg); err != nil {
		return fmt.Errorf("radio init: %w", err)
	}
	return nil
}

// Run starts the background tasks: the mesh receive loop and the 1Hz
// per-connection retransmission tick.
func (c *Controller) Run(ctx context.Context) {
	go c.transport.Run(ctx)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tickConnections()
		}
	}
}

// AttachHost binds w as the destination for host events (###-prefixed
// lines). Only one host is meaningfully attached at a time; a later
// call replaces the previous writer.
func (c *Controller) AttachHost(w io.Writer) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	c.out = w
}

// printEvent writes one ###-prefixed host event line and mirrors it to
// the optional notifier, per spec.md §6.2.
func (c *Controller) printEvent(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	c.outMu.Lock()
	w := c.out
	c.outMu.Unlock()
	if w != nil {
		fmt.Fprintln(w, line)
	}
	if c.notifier != nil {
		if err := c.notifier.Publish(line); err != nil {
			c.log.Debugf("notify publish failed: %v", err)
		}
	}
}

func (c *Controller) connection(node protocol.NodeId) (*sensorConnection, bool) {
	c.connsMu.Lock()
	defer c.connsMu.Unlock()
	sc, ok := c.conns[node]
	return sc, ok
}

// tickConnections advances every connection's retransmission timer by
// one second, resending or reporting ###TIMEOUT as needed. The
// connection snapshot is taken under the lock and the ticks themselves
// run outside it, since tick can trigger a radio send.
func (c *Controller) tickConnections() {
	c.connsMu.Lock()
	snapshot := make(map[protocol.NodeId]*sensorConnection, len(c.conns))
	for node, sc := range c.conns {
		snapshot[node] = sc
	}
	c.connsMu.Unlock()

	for node, sc := range snapshot {
		payload, timedOut := sc.tick()
		if timedOut {
			c.printEvent("###TIMEOUT%d", node)
			continue
		}
		if payload != nil {
			if err := c.transport.Send(node, payload); err != nil {
				c.log.Debugf("retransmit to %d failed: %v", node, err)
			}
		}
	}
}

// correlationID stamps a host command with a uuid used only in logs,
// never on the wire.
func correlationID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return "?"
	}
	return id.String()
}

// connect implements the "connect" host command (spec.md §4.5): claims
// a slot in the fixed NSlots-sized connection table, loads the node's
// persisted keys, draws two fresh radio-derived randoms, and enqueues
// the config-channel HS1. A connect for a node already in the table
// reuses its slot (a reconnect); a connect for a new node once the
// table is full is rejected with ErrConnectionLimit rather than
// evicting a live connection, matching master_node_cmd_connect's
// find_or_init_node returning NULL and printing "Connection limit
// reached!" in the original firmware. The host must have already
// pointed the master's own route table at firstHop with the "routes"
// command: HS1 is transmitted over the mesh transport like anything
// else, and the transport refuses to send anywhere it has no route
// for.
func (c *Controller) connect(node, firstHop protocol.NodeId, maxRetries int) error {
	c.connsMu.Lock()
	_, exists := c.conns[node]
	if !exists && len(c.conns) >= NSlots {
		c.connsMu.Unlock()
		return util.ErrConnectionLimit
	}
	c.connsMu.Unlock()

	keys, ok, err := c.persister.LoadKeys(node)
	if err != nil {
		return err
	}
	if !ok {
		return util.ErrPersistedConfigMissing
	}

	statusNonce, err := c.transport.RandomU64()
	if err != nil {
		return err
	}
	configChallenge, err := c.transport.RandomU64()
	if err != nil {
		return err
	}

	sc := newSensorConnection(node, c.myID, keys, statusNonce, configChallenge)
	if maxRetries > 0 {
		sc.maxRetransmissions = maxRetries
	}

	cid := correlationID()
	c.log.Infof("[%s] connecting to node %d via hop %d", cid, node, firstHop)

	msg, err := sc.buildHandshake(firstHop)
	if err != nil {
		return err
	}

	c.connsMu.Lock()
	if _, exists := c.conns[node]; !exists && len(c.conns) >= NSlots {
		c.connsMu.Unlock()
		return util.ErrConnectionLimit
	}
	c.conns[node] = sc
	c.connsMu.Unlock()

	return c.transport.Send(node, msg)
}
