package radio

import (
	"math/rand"
	"sync"

	"github.com/stustanet/meshwatch/common/protocol"
	"github.com/stustanet/meshwatch/common/util"
)

// Bus is a shared medium connecting any number of Simulated radios,
// standing in for a single LoRa frequency: every Send is broadcast to
// every other registered node, optionally dropped to exercise lossy-
// link handling in tests.
type Bus struct {
	mu              sync.Mutex
	nodes           map[protocol.NodeId]*Simulated
	lossProbability float64
	rng             *rand.Rand
}

// NewBus creates a Bus. lossProbability is the chance (0..1) that any
// given recipient fails to receive a broadcast packet.
func NewBus(lossProbability float64) *Bus {
	return &Bus{
		nodes:           make(map[protocol.NodeId]*Simulated),
		lossProbability: lossProbability,
		rng:             rand.New(rand.NewSource(1)),
	}
}

// NewRadio registers and returns a Simulated radio for id on this bus.
func (b *Bus) NewRadio(id protocol.NodeId) *Simulated {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := &Simulated{bus: b, id: id, inbox: make(chan []byte, 32)}
	b.nodes[id] = r
	return r
}

func (b *Bus) broadcast(from protocol.NodeId, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pkt := append([]byte(nil), data...)
	for id, node := range b.nodes {
		if id == from {
			continue
		}
		if b.rng.Float64() < b.lossProbability {
			continue
		}
		select {
		case node.inbox <- pkt:
		default:
			// Receiver's queue is full; drop, same as a real radio
			// receiving a new packet before the previous one was read.
		}
	}
}

// Simulated is an in-memory Radio backed by a Bus, used by tests and by
// the daemons' -dev development flag in place of real hardware.
type Simulated struct {
	bus   *Bus
	id    protocol.NodeId
	inbox chan []byte

	mu   sync.Mutex
	busy bool
}

func (s *Simulated) Init(cfg protocol.RFConfig) error {
	return cfg.Validate()
}

func (s *Simulated) Send(data []byte) error {
	if len(data) > protocol.MaxPacketSize {
		return util.ErrOversizePayload
	}
	s.mu.Lock()
	s.busy = true
	s.mu.Unlock()
	s.bus.broadcast(s.id, data)
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
	return nil
}

func (s *Simulated) Recv() ([]byte, error) {
	select {
	case pkt := <-s.inbox:
		return pkt, nil
	default:
		return nil, nil
	}
}

func (s *Simulated) IsBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *Simulated) LastPacketRSSISNR() (int, int) {
	return -60, 8
}

func (s *Simulated) GetRandomU32() (uint32, error) {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.bus.rng.Uint32(), nil
}
