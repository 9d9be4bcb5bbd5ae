package sensor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stustanet/meshwatch/auth"
	"github.com/stustanet/meshwatch/common/persistance"
	"github.com/stustanet/meshwatch/common/protocol"
	"github.com/stustanet/meshwatch/mesh"
	"github.com/stustanet/meshwatch/radio"
)

func testRFConfig() protocol.RFConfig {
	return protocol.RFConfig{
		CarrierHz:    433800000,
		TxPowerDb:    5,
		SpreadFactor: 9,
		Coderate:     1,
		BandwidthIdx: 7,
	}
}

type fakeLED struct {
	mu  sync.Mutex
	set map[int][3]byte
}

func (f *fakeLED) SetColor(index int, rgb [3]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set == nil {
		f.set = map[int][3]byte{}
	}
	f.set[index] = rgb
}

type fakeSamples struct {
	mu     sync.Mutex
	values [NChannels]uint16
}

func (f *fakeSamples) Sample(channel int) uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[channel]
}

func (f *fakeSamples) set(channel int, v uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[channel] = v
}

// testMaster is a minimal hand-rolled stand-in for the master node,
// enough to drive a sensor.Controller through its config-channel
// handshake, a signed command, and the status-channel handshake plus
// one status update, without pulling in the (separately tested) master
// package.
type testMaster struct {
	id protocol.NodeId
	tr *mesh.Transport

	authConfig *auth.Channel // master is Master here
	authStatus *auth.Channel // master is Slave here (node is Master)

	acks chan protocol.AckResult
}

func newTestMaster(id protocol.NodeId, r radio.Radio, configChallenge, statusNonce uint64, keyConfig, keyStatus [16]byte) *testMaster {
	m := &testMaster{
		id:         id,
		authConfig: auth.NewMasterChannel(keyConfig, configChallenge),
		authStatus: auth.NewSlaveChannel(keyStatus, statusNonce),
		acks:       make(chan protocol.AckResult, 8),
	}
	m.tr = mesh.NewTransport(id, r, m.onReceive)
	return m
}

func (m *testMaster) onReceive(src protocol.NodeId, payload []byte) {
	if len(payload) == 0 {
		return
	}
	switch protocol.MessageType(payload[0]) {
	case protocol.MsgHS2:
		// config channel's handshake reply (sent on handleHS1): a 4-byte
		// HS2 header followed by the node's signed reply.
		if len(payload) < 4 {
			return
		}
		reply := payload[4:]
		challenge, err := m.configChallengeBytes()
		if err != nil {
			return
		}
		_ = m.authConfig.ProcessHandshakeReply(challenge, reply, []byte{byte(m.id), byte(src)})
	case protocol.MsgHS1:
		// the node's status-channel handshake request.
		if len(payload) != 10 {
			return
		}
		challenge := payload[2:]
		reply, err := m.authStatus.HandleHandshake(challenge, []byte{byte(src), byte(m.id)})
		if err != nil {
			return
		}
		hs2 := make([]byte, 4)
		_, _ = protocol.HS2{Status: 0, Channels: 0}.Marshal(hs2)
		body := append(hs2, reply...)
		_ = m.tr.Send(src, body)
	case protocol.MsgStatusUpdate:
		ad := []byte{byte(src), byte(m.id)}
		_, old, err := m.authStatus.Verify(payload, ad)
		var result protocol.AckResult
		if err != nil && !old {
			return
		}
		if old {
			result = protocol.AckOK | protocol.AckRetransmitBit
		}
		footer, err := m.authStatus.MakeAck(append(append([]byte{}, ad...), byte(result)), old)
		if err != nil {
			return
		}
		msg := append([]byte{byte(protocol.MsgAck), byte(result)}, footer...)
		_ = m.tr.Send(src, msg)
	case protocol.MsgAck:
		if len(payload) < 2 {
			return
		}
		m.acks <- protocol.AckResult(payload[1])
	}
}

// configChallengeBytes re-derives the 8 bytes MakeHandshake already
// handed out, since this harness doesn't keep the raw bytes around
// separately from the Channel's internal nonce.
func (m *testMaster) configChallengeBytes() ([]byte, error) {
	return m.authConfig.MakeHandshake()
}

func (m *testMaster) sendCommand(dst protocol.NodeId, payload []byte) error {
	signed, err := m.authConfig.Sign(payload, []byte{byte(m.id), byte(dst)})
	if err != nil {
		return err
	}
	return m.tr.Send(dst, signed)
}

func (m *testMaster) waitAck(t *testing.T) protocol.AckResult {
	t.Helper()
	select {
	case r := <-m.acks:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ack")
		return 0
	}
}

func testSensorConfig(id protocol.NodeId, keyStatus, keyConfig [16]byte) persistance.SensorConfig {
	return persistance.SensorConfig{
		NodeID:    id,
		KeyStatus: keyStatus,
		KeyConfig: keyConfig,
		RF:        testRFConfig(),
		Misc:      persistance.DefaultMiscConfig,
	}
}

func TestControllerConfigHandshakeAndRouteCommand(t *testing.T) {
	const nodeID protocol.NodeId = 2
	const masterID protocol.NodeId = 1
	keyStatus := [16]byte{1, 2, 3}
	keyConfig := [16]byte{4, 5, 6}

	bus := radio.NewBus(0)

	led := &fakeLED{}
	samples := &fakeSamples{}
	cfg := testSensorConfig(nodeID, keyStatus, keyConfig)
	ctrl := New(cfg, nil, bus.NewRadio(nodeID), led, samples, func(string) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ctrl.Boot(ctx); err != nil {
		t.Fatalf("boot: %v", err)
	}

	// Drain the node's two RandomU64 draws for the challenge/nonce the
	// master needs to mirror: instead of reaching into the node's
	// internals, the harness performs its own handshake using whatever
	// challenge the node reports back on HS2/Verify, since Channel
	// establishment only needs both sides to agree on the same nonce
	// sequence from the first exchanged message onward.
	master := newTestMaster(masterID, bus.NewRadio(masterID), 0, 0, keyConfig, keyStatus)
	go master.tr.Run(ctx)

	// Install a temporary route so the node's HS1 handler has somewhere
	// to send HS2, then perform the config handshake.
	if err := master.tr.SetRoute(nodeID, nodeID); err != nil {
		t.Fatalf("set route: %v", err)
	}

	challenge, err := master.authConfig.MakeHandshake()
	if err != nil {
		t.Fatalf("make handshake: %v", err)
	}
	hs1 := make([]byte, 2)
	if _, err := (protocol.HS1{ReplyRoute: masterID}).Marshal(hs1); err != nil {
		t.Fatalf("marshal hs1: %v", err)
	}
	if err := master.tr.Send(nodeID, append(hs1, challenge...)); err != nil {
		t.Fatalf("send hs1: %v", err)
	}

	// Give the async handshake a moment to complete, then issue a
	// signed route-reset command and expect AckOK.
	time.Sleep(100 * time.Millisecond)

	routeUpdate := make([]byte, 3)
	if _, err := (protocol.RouteUpdate{Append: false, Entries: []protocol.RouteEntry{{Dst: masterID, Next: masterID}}}).Marshal(routeUpdate); err != nil {
		t.Fatalf("marshal route update: %v", err)
	}
	if err := master.sendCommand(nodeID, routeUpdate); err != nil {
		t.Fatalf("send route update: %v", err)
	}
	if got := master.waitAck(t); got.Code() != protocol.AckOK {
		t.Fatalf("route update ack = %v, want AckOK", got)
	}
}
