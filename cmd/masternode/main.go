// Command masternoded runs the MasterController (spec.md §4.5) as a
// hosted process: it brings up the mesh transport, listens for host
// connections on the control-plane socket (common/socket), and serves
// the line-based host protocol (spec.md §6.2) to whoever connects.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/op/go-logging"

	"github.com/stustanet/meshwatch/common/log"
	"github.com/stustanet/meshwatch/common/notify"
	"github.com/stustanet/meshwatch/common/persistance"
	"github.com/stustanet/meshwatch/common/protocol"
	"github.com/stustanet/meshwatch/common/socket"
	"github.com/stustanet/meshwatch/master"
	"github.com/stustanet/meshwatch/radio"
)

func useSyslog() bool {
	if v := os.Getenv("MESHWATCH_LOG_SYSLOG"); v != "" {
		return v == "true"
	}
	return false
}

func main() {
	keysPath := flag.String("keys", "masternode.keys", "path to the persisted per-node key table")
	hostSocket := flag.String("host-socket", "/var/run/meshwatch/master.sock", "path of the host control-plane listener")
	myID := flag.Uint("id", 0, "this master's own node id")
	dev := flag.Bool("dev", false, "use an isolated simulated radio instead of failing fast (no peers reachable; dev/test only)")
	snsRegion := flag.String("sns-region", "", "AWS region for the optional SNS event mirror")
	snsTopicARN := flag.String("sns-topic", "", "SNS topic ARN to mirror ###-prefixed host events to; empty disables it")
	carrierHz := flag.Uint("rf-carrier-hz", 434000000, "carrier frequency in Hz")
	spreadFactor := flag.Uint("rf-sf", 9, "LoRa spreading factor")
	coderate := flag.Uint("rf-cr", 1, "LoRa coderate selector")
	bandwidthIdx := flag.Uint("rf-bw", 8, "LoRa bandwidth index (7=125kHz,8=250kHz,9=500kHz)")
	txPower := flag.Int("rf-tx-power", 10, "transmit power in dB")
	flag.Parse()

	log.SetupLogging("masternoded", logging.INFO, useSyslog())
	logger := log.New("cmd/masternode")

	persister := &persistance.FileMasterPersister{Path: *keysPath}

	r, err := newRadio(*dev, protocol.NodeId(*myID))
	if err != nil {
		logger.Fatalf("radio: %v", err)
	}

	notifier, err := notify.New(*snsRegion, *snsTopicARN)
	if err != nil {
		logger.Fatalf("notify: %v", err)
	}

	ctrl := master.New(protocol.NodeId(*myID), persister, r, notifier)

	rf := protocol.RFConfig{
		CarrierHz:    uint32(*carrierHz),
		TxPowerDb:    int8(*txPower),
		SpreadFactor: uint8(*spreadFactor),
		Coderate:     uint8(*coderate),
		BandwidthIdx: uint8(*bandwidthIdx),
	}
	if err := ctrl.Boot(rf); err != nil {
		logger.Fatalf("boot: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go ctrl.Run(ctx)

	ln, err := socket.Listen(*hostSocket)
	if err != nil {
		logger.Fatalf("host socket: %v", err)
	}
	defer ln.Close()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger.Infof("master node %d listening on %s", *myID, *hostSocket)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down")
				return
			}
			logger.Warningf("accept: %v", err)
			continue
		}
		go serveHostConn(ctrl, conn, logger)
	}
}

func serveHostConn(ctrl *master.Controller, conn net.Conn, logger *log.Logger) {
	defer conn.Close()
	logger.Infof("host connected from %s", conn.RemoteAddr())
	if err := ctrl.ServeHost(conn); err != nil {
		logger.Infof("host connection closed: %v", err)
	}
}

// newRadio constructs the master's Radio. Only an isolated simulated bus
// is available in this build; a real deployment replaces this with the
// LoRa driver named (but not designed) in spec.md §1.
func newRadio(dev bool, id protocol.NodeId) (radio.Radio, error) {
	if !dev {
		return nil, fmt.Errorf("no real LoRa driver is linked into this build; pass -dev for an isolated simulated radio")
	}
	bus := radio.NewBus(0)
	return bus.NewRadio(id), nil
}
