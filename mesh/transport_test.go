package mesh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stustanet/meshwatch/common/protocol"
	"github.com/stustanet/meshwatch/radio"
)

func rfConfig() protocol.RFConfig {
	return protocol.RFConfig{
		CarrierHz:    433800000,
		TxPowerDb:    5,
		SpreadFactor: 9,
		Coderate:     1,
		BandwidthIdx: 7,
	}
}

func TestSendWithoutRouteFails(t *testing.T) {
	bus := radio.NewBus(0)
	tr := NewTransport(1, bus.NewRadio(1), func(protocol.NodeId, []byte) {})
	if err := tr.Send(2, []byte("hi")); err == nil {
		t.Fatal("expected route-missing error")
	}
}

func TestDirectDelivery(t *testing.T) {
	bus := radio.NewBus(0)

	var mu sync.Mutex
	var got []byte
	var gotSrc protocol.NodeId
	done := make(chan struct{})

	r2 := bus.NewRadio(2)
	tr2 := NewTransport(2, r2, func(src protocol.NodeId, payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		gotSrc = src
		got = append([]byte(nil), payload...)
		close(done)
	})
	if err := tr2.Init(rfConfig()); err != nil {
		t.Fatalf("init: %v", err)
	}

	r1 := bus.NewRadio(1)
	tr1 := NewTransport(1, r1, func(protocol.NodeId, []byte) {})
	if err := tr1.Init(rfConfig()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := tr1.SetRoute(2, 2); err != nil {
		t.Fatalf("set route: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr2.Run(ctx)

	if err := tr1.Send(2, []byte("payload")); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotSrc != 1 {
		t.Fatalf("src = %d want 1", gotSrc)
	}
	if string(got) != "payload" {
		t.Fatalf("payload = %q", got)
	}
}

func TestForwarding(t *testing.T) {
	bus := radio.NewBus(0)

	done := make(chan protocol.NodeId, 1)
	r3 := bus.NewRadio(3)
	tr3 := NewTransport(3, r3, func(src protocol.NodeId, payload []byte) {
		done <- src
	})

	r2 := bus.NewRadio(2)
	tr2 := NewTransport(2, r2, func(protocol.NodeId, []byte) {})
	tr2.EnableForwarding()
	if err := tr2.SetRoute(3, 3); err != nil {
		t.Fatalf("set route: %v", err)
	}

	r1 := bus.NewRadio(1)
	tr1 := NewTransport(1, r1, func(protocol.NodeId, []byte) {})
	if err := tr1.SetRoute(3, 2); err != nil {
		t.Fatalf("set route: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr2.Run(ctx)
	go tr3.Run(ctx)

	if err := tr1.Send(3, []byte("hop")); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case src := <-done:
		if src != 1 {
			t.Fatalf("src = %d want 1", src)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded delivery")
	}
}

func TestRandomU64NeverDegenerate(t *testing.T) {
	bus := radio.NewBus(0)
	tr := NewTransport(1, bus.NewRadio(1), func(protocol.NodeId, []byte) {})
	for i := 0; i < 100; i++ {
		v, err := tr.RandomU64()
		if err != nil {
			t.Fatalf("RandomU64: %v", err)
		}
		if v == 0 || v == ^uint64(0) {
			t.Fatalf("degenerate random value: %x", v)
		}
	}
}
