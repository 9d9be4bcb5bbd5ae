// Command sensornoded runs one sensor node's Controller (spec.md §4.4)
// as a hosted process: it loads the node's persisted config, brings up
// the mesh transport, and runs the ADC and message tasks until killed.
//
// The physical LoRa transceiver and the ADC+DMA sample producer are
// out-of-scope collaborators (spec.md §1); this build only ever wires a
// radio.Simulated and a synthetic SampleSource, so sensornoded is a
// development/test harness rather than the firmware binary flashed to a
// real node. A production build links in the real drivers behind the
// same radio.Radio and sensor.SampleSource interfaces.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/op/go-logging"

	"github.com/stustanet/meshwatch/common/log"
	"github.com/stustanet/meshwatch/common/persistance"
	"github.com/stustanet/meshwatch/common/protocol"
	"github.com/stustanet/meshwatch/radio"
	"github.com/stustanet/meshwatch/sensor"
)

func useSyslog() bool {
	if v := os.Getenv("MESHWATCH_LOG_SYSLOG"); v != "" {
		return v == "true"
	}
	return false
}

// loggingLED prints every color change instead of driving a real strip.
type loggingLED struct{ log *log.Logger }

func (l loggingLED) SetColor(index int, rgb [3]byte) {
	l.log.Debugf("led[%d] <- #%02x%02x%02x", index, rgb[0], rgb[1], rgb[2])
}

// devSampleSource stands in for the ADC+DMA collaborator: it reports a
// fixed mid-scale reading on every channel, enough for Boot and the
// message/ADC task loop to run without a real analog front end. It
// never exercises a state transition; real estimator coverage is in
// estimator's own tests.
type devSampleSource struct{}

func (devSampleSource) Sample(channel int) uint16 { return 2048 }

func main() {
	configPath := flag.String("config", "sensornode.cfg", "path to the persisted sensor config bundle")
	dev := flag.Bool("dev", false, "use an isolated simulated radio instead of failing fast (no peers reachable; boot-sequence smoke test only)")
	flag.Parse()

	log.SetupLogging("sensornoded", logging.INFO, useSyslog())
	logger := log.New("cmd/sensornode")

	persister := &persistance.FileSensorPersister{Path: *configPath}
	cfg, err := persister.Load()
	if err != nil {
		logger.Fatalf("persisted config: %v", err)
	}

	r, err := newRadio(*dev, cfg.NodeID)
	if err != nil {
		logger.Fatalf("radio: %v", err)
	}

	reboot := func(reason string) {
		logger.Criticalf("watchdog reboot: %s", reason)
		os.Exit(1)
	}

	ctrl := sensor.New(cfg, persister, r, loggingLED{logger}, devSampleSource{}, reboot)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := ctrl.Boot(ctx); err != nil {
		logger.Fatalf("boot: %v", err)
	}
	logger.Infof("sensor node %d running", cfg.NodeID)
	<-ctx.Done()
	logger.Info("shutting down")
}

// newRadio constructs the node's Radio. Only an isolated simulated bus
// is available in this build; a real deployment replaces this with the
// LoRa driver named (but not designed) in spec.md §1. A simulated radio
// here has no peers in any other process, so -dev only exercises the
// boot sequence and the auth/estimator pipeline, not actual mesh
// delivery; see mesh.Transport's tests for that.
func newRadio(dev bool, id protocol.NodeId) (radio.Radio, error) {
	if !dev {
		return nil, fmt.Errorf("no real LoRa driver is linked into this build; pass -dev for an isolated simulated radio")
	}
	bus := radio.NewBus(0)
	return bus.NewRadio(id), nil
}
