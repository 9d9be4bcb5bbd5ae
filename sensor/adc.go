package sensor

import (
	"context"
	"time"

	"github.com/stustanet/meshwatch/common/protocol"
	"github.com/stustanet/meshwatch/estimator"
)

// runAdcLoop drives the ADC sampling task at the node's currently
// configured cadence (spec.md §4.4 "Sensor loop"), which can change at
// runtime via START_SENSOR — unlike the message task's fixed 1Hz tick,
// it can't use a single fixed-interval ticker.
func (c *Controller) runAdcLoop(ctx context.Context) {
	timer := time.NewTimer(c.currentSensorDelay())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			c.runAdcTick()
			timer.Reset(c.currentSensorDelay())
		}
	}
}

// runAdcTick samples every active channel once, feeds its estimator,
// updates the committed status bits on a state change, drives that
// channel's LED indicator, and emits a raw frame debug sample if the
// raw-frame mode is armed for one of the sampled channels.
func (c *Controller) runAdcTick() {
	c.adcWatchdog.Feed()

	c.mu.Lock()
	active := c.activeMask
	rawChannel := c.rawFramesChannel
	rawRemaining := c.rawFramesRemaining
	c.mu.Unlock()

	var statusChanged bool
	var frameValue uint32
	var haveFrame bool

	for ch := 0; ch < NChannels; ch++ {
		if active&(1<<uint(ch)) == 0 {
			continue
		}
		c.mu.Lock()
		est := c.estimators[ch]
		c.mu.Unlock()
		if est == nil {
			continue
		}
		raw := c.samples.Sample(ch)
		result := est.Update(raw)
		if ch == int(rawChannel) && rawRemaining > 0 {
			if v, ok := est.Frame(); ok {
				frameValue = v
				haveFrame = true
			}
		}
		if result == estimator.Unchanged {
			continue
		}

		c.mu.Lock()
		if result == estimator.ChangedToOn {
			c.currentStatus |= 1 << uint(ch)
		} else {
			c.currentStatus &^= 1 << uint(ch)
		}
		c.mu.Unlock()
		statusChanged = true
		c.applyIndicator(ch, result == estimator.ChangedToOn)
	}

	if statusChanged {
		c.mu.Lock()
		c.status |= protocol.StatusForceUpdate
		c.mu.Unlock()
	}

	if haveFrame {
		c.emitRawFrame(uint16(frameValue))
	}
}

// handleBeginRawFrames arms the raw-frame debug stream for one channel
// for a bounded number of frames (spec.md §4.4 "Raw frames").
func (c *Controller) handleBeginRawFrames(body []byte) protocol.AckResult {
	m, err := protocol.ParseBeginRawFrames(body)
	if err != nil {
		return protocol.AckWrongSize
	}
	if int(m.Channel) >= NChannels {
		return protocol.AckBadIndex
	}
	c.mu.Lock()
	c.rawFramesChannel = m.Channel
	c.rawFramesRemaining = m.NumOfFrames
	c.status |= protocol.StatusPrintFrames
	c.mu.Unlock()
	return protocol.AckOK
}

// emitRawFrame sends one unauthenticated RawFrameData sample to the
// last known master and decrements the remaining-frames counter,
// clearing PRINT_FRAMES once exhausted.
func (c *Controller) emitRawFrame(value uint16) {
	c.mu.Lock()
	master := c.masterID
	c.rawFramesRemaining--
	exhausted := c.rawFramesRemaining == 0
	if exhausted {
		c.status &^= protocol.StatusPrintFrames
	}
	c.mu.Unlock()
	if !master.Valid() {
		return
	}

	buf := make([]byte, 1+2)
	n, err := protocol.RawFrameData{Values: []uint16{value}}.Marshal(buf)
	if err != nil {
		c.log.Debugf("raw frame marshal failed: %v", err)
		return
	}
	if err := c.transport.Send(master, buf[:n]); err != nil {
		c.log.Debugf("raw frame send failed: %v", err)
	}
}

// handleGetRawStatus replies to an unauthenticated debug poll with a
// full RawStatus snapshot: node-wide counters plus one entry per
// currently enabled channel.
func (c *Controller) handleGetRawStatus(src protocol.NodeId) {
	c.mu.Lock()
	snapshot := protocol.RawStatus{
		NodeStatus:            uint32(c.status),
		SensorLoopDelay:       uint32(c.sensorLoopDelay / time.Millisecond),
		RetransmissionCounter: uint32(c.statusRetries),
		Uptime:                uint32(time.Since(c.bootTime).Seconds()),
		ChannelStatus:         c.currentStatus,
		ChannelEnabled:        c.activeMask,
		RtBaseDelay:           uint8(c.statusRtBaseDelay / (100 * time.Millisecond)),
	}
	for ch := 0; ch < NChannels; ch++ {
		if c.activeMask&(1<<uint(ch)) == 0 {
			continue
		}
		est := c.estimators[ch]
		var rf int32
		var st uint8
		if est != nil {
			rf = est.CurrentRFValue()
			st = uint8(est.CurrentState())
		}
		snapshot.Channels = append(snapshot.Channels, protocol.RawStatusChannel{
			IfCurrent:     uint16(rf),
			RfCurrent:     uint16(rf),
			CurrentStatus: st,
		})
	}
	c.mu.Unlock()

	buf := make([]byte, 1+4*4+2*2+1+5*len(snapshot.Channels))
	n, err := snapshot.Marshal(buf)
	if err != nil {
		c.log.Debugf("raw status marshal failed: %v", err)
		return
	}
	if err := c.transport.Send(src, buf[:n]); err != nil {
		c.log.Debugf("raw status send failed: %v", err)
	}
}
