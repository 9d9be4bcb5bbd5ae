// Package mesh implements the layer-3 packet transport every node in
// the network runs on top of: a 3-byte routing header, a static
// next-hop route table, and an optional forwarding mode for
// intermediate nodes. It has no notion of authentication; that is
// layered on top by package auth.
package mesh

import (
	"context"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"github.com/stustanet/meshwatch/common/log"
	"github.com/stustanet/meshwatch/common/protocol"
	"github.com/stustanet/meshwatch/common/util"
	"github.com/stustanet/meshwatch/radio"
)

// pollInterval is how often the receive loop polls the radio for a new
// packet, matching the 30ms cadence of the original receiving thread
// running on a 1kHz tick.
const pollInterval = 30 * time.Millisecond

// ReceiveFunc is called with the source node and payload of every
// packet addressed to this node. It runs outside the transport's
// internal lock, so it may itself call Transport.Send.
type ReceiveFunc func(src protocol.NodeId, payload []byte)

// Transport is the layer-3 packet transport for one node. All access to
// the underlying radio.Radio is serialized through a single mutex;
// ReceiveFunc callbacks are invoked outside that lock.
type Transport struct {
	mu    sync.Mutex
	radio radio.Radio
	myID  protocol.NodeId

	routesMu      sync.RWMutex
	routes        [protocol.MaxNodeID + 1]protocol.NodeId
	forwarding    bool

	onReceive ReceiveFunc

	log *log.Logger
}

// NewTransport creates a Transport for myID, sending over r and
// delivering payloads addressed to myID to onReceive.
func NewTransport(myID protocol.NodeId, r radio.Radio, onReceive ReceiveFunc) *Transport {
	t := &Transport{
		radio:     r,
		myID:      myID,
		onReceive: onReceive,
		log:       log.New("mesh"),
	}
	t.ClearRoutes()
	return t
}

// Init configures the radio. Must be called once before Run.
func (t *Transport) Init(cfg protocol.RFConfig) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.radio.Init(cfg); err != nil {
		return fmt.Errorf("radio init: %w", util.ErrRadioInitFailure)
	}
	return nil
}

// SetRoute directs packets for destination through next_hop. Passing
// protocol.InvalidNode removes the route.
func (t *Transport) SetRoute(destination, nextHop protocol.NodeId) error {
	if !destination.Valid() {
		return util.ErrBadParam
	}
	t.routesMu.Lock()
	defer t.routesMu.Unlock()
	t.routes[destination] = nextHop
	return nil
}

// ClearRoutes resets every route to invalid and disables forwarding,
// mirroring the firmware's reset-on-reconnect behavior.
func (t *Transport) ClearRoutes() {
	t.routesMu.Lock()
	defer t.routesMu.Unlock()
	for i := range t.routes {
		t.routes[i] = protocol.InvalidNode
	}
	t.forwarding = false
}

// EnableForwarding allows this node to relay packets not addressed to
// it, using the route table to pick the next hop.
func (t *Transport) EnableForwarding() {
	t.routesMu.Lock()
	defer t.routesMu.Unlock()
	t.forwarding = true
}

func (t *Transport) getRoute(dst protocol.NodeId) protocol.NodeId {
	if !dst.Valid() {
		return protocol.InvalidNode
	}
	t.routesMu.RLock()
	defer t.routesMu.RUnlock()
	return t.routes[dst]
}

func (t *Transport) forwardingEnabled() bool {
	t.routesMu.RLock()
	defer t.routesMu.RUnlock()
	return t.forwarding
}

// Send wraps payload in a Layer3Header addressed to dst and transmits
// it to the route table's next hop for dst. Returns ErrRouteMissing if
// no route is configured.
func (t *Transport) Send(dst protocol.NodeId, payload []byte) error {
	if len(payload) > protocol.MaxPayloadSize {
		return util.ErrOversizePayload
	}
	nextHop := t.getRoute(dst)
	if !nextHop.Valid() {
		return util.ErrRouteMissing
	}
	hdr := protocol.Layer3Header{NextHop: nextHop, Dst: dst, Src: t.myID}
	return t.transmit(hdr, payload)
}

func (t *Transport) transmit(hdr protocol.Layer3Header, payload []byte) error {
	buf := make([]byte, protocol.HeaderSize+len(payload))
	if err := hdr.Marshal(buf); err != nil {
		return err
	}
	copy(buf[protocol.HeaderSize:], payload)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.radio.IsBusy() {
		return util.ErrRadioBusy
	}
	return t.radio.Send(buf)
}

// forwardPacket re-addresses an inbound packet not destined for this
// node and retransmits it to the route table's next hop, per the
// header's (unchanged) dst field.
func (t *Transport) forwardPacket(hdr protocol.Layer3Header, payload []byte) error {
	nextHop := t.getRoute(hdr.Dst)
	if !nextHop.Valid() {
		return util.ErrRouteMissing
	}
	hdr.NextHop = nextHop
	return t.transmit(hdr, payload)
}

// readRandomU32 draws one radio-derived 32-bit sample under the shared
// lock, retrying until it gets a non-degenerate value.
func (t *Transport) readRandomU32() (uint32, error) {
	for {
		t.mu.Lock()
		v, err := t.radio.GetRandomU32()
		t.mu.Unlock()
		if err != nil {
			return 0, err
		}
		if v != 0 && v != 0xFFFFFFFF {
			return v, nil
		}
	}
}

// RandomU64 assembles a 64-bit random value from 16 rotated,
// XOR-combined 32-bit radio reads, each individually guaranteed
// non-degenerate. The combined result is likewise guaranteed to never
// be all-zero or all-one.
func (t *Transport) RandomU64() (uint64, error) {
	for {
		var hi, lo uint32
		for i := 0; i < 16; i++ {
			v, err := t.readRandomU32()
			if err != nil {
				return 0, err
			}
			rotated := bits.RotateLeft32(v, i)
			if i%2 == 0 {
				hi ^= rotated
			} else {
				lo ^= rotated
			}
		}
		result := uint64(hi)<<32 | uint64(lo)
		if result != 0 && result != ^uint64(0) {
			return result, nil
		}
	}
}

// handleRXComplete implements the receive decision tree:
//
//	I   size invalid (too short or too long)          -> discard
//	II  next_hop does not match this node            -> discard
//	III dst matches this node                        -> deliver
//	IV  dst does not match and forwarding is enabled  -> forward
//	    otherwise                                     -> silently drop
func (t *Transport) handleRXComplete(packet []byte) {
	if len(packet) < protocol.HeaderSize+1 || len(packet) > protocol.HeaderSize+protocol.MaxPayloadSize {
		t.log.Debugf("discarding packet with invalid size %d", len(packet))
		return
	}
	hdr, err := protocol.UnmarshalLayer3Header(packet)
	if err != nil {
		return
	}
	if hdr.NextHop != t.myID {
		return
	}
	payload := packet[protocol.HeaderSize:]

	if hdr.Dst == t.myID {
		t.onReceive(hdr.Src, payload)
		return
	}

	if t.forwardingEnabled() {
		if err := t.forwardPacket(hdr, payload); err != nil {
			t.log.Debugf("failed to forward packet for %d: %v", hdr.Dst, err)
		}
	}
}

// Run polls the radio at pollInterval until ctx is cancelled.
func (t *Transport) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			packet, err := t.radio.Recv()
			t.mu.Unlock()
			if err != nil {
				t.log.Debugf("radio recv error: %v", err)
				continue
			}
			if len(packet) == 0 {
				continue
			}
			t.handleRXComplete(packet)
		}
	}
}
