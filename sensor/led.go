package sensor

import "github.com/stustanet/meshwatch/common/protocol"

// handleLed implements the raw LED command: directly sets one color
// table slot, bypassing any configured status-change indicator.
func (c *Controller) handleLed(body []byte) protocol.AckResult {
	m, err := protocol.ParseLed(body)
	if err != nil {
		return protocol.AckWrongSize
	}
	if int(m.Index) >= NChannels {
		return protocol.AckBadIndex
	}
	c.mu.Lock()
	c.cfg.ColorTable[m.Index] = m.RGB
	noUpdate := c.status&protocol.StatusNoLedUpdate != 0
	c.status |= protocol.StatusLedSet
	c.mu.Unlock()
	if !noUpdate && c.led != nil {
		c.led.SetColor(int(m.Index), m.RGB)
	}
	return protocol.AckOK
}

// handleConfigureIndicator binds a sensor channel to an LED slot with
// distinct on/off colors, applied immediately to the channel's current
// committed state.
func (c *Controller) handleConfigureIndicator(body []byte) protocol.AckResult {
	m, err := protocol.ParseStatusChangeIndicator(body)
	if err != nil {
		return protocol.AckWrongSize
	}
	if int(m.ChannelID) >= NChannels || int(m.LedIndex) >= NChannels {
		return protocol.AckBadIndex
	}

	c.mu.Lock()
	c.indicators[m.ChannelID] = indicator{
		configured: true,
		ledIndex:   m.LedIndex,
		onColor:    m.OnColor,
		offColor:   m.OffColor,
	}
	on := c.currentStatus&(1<<m.ChannelID) != 0
	noUpdate := c.status&protocol.StatusNoLedUpdate != 0
	c.mu.Unlock()

	if !noUpdate {
		c.applyIndicator(int(m.ChannelID), on)
	}
	return protocol.AckOK
}

// applyIndicator drives channel's configured LED slot to its on or off
// color, if one is configured and LED updates aren't suppressed.
func (c *Controller) applyIndicator(channel int, on bool) {
	c.mu.Lock()
	ind := c.indicators[channel]
	noUpdate := c.status&protocol.StatusNoLedUpdate != 0
	c.mu.Unlock()
	if !ind.configured || noUpdate || c.led == nil {
		return
	}
	color := ind.offColor
	if on {
		color = ind.onColor
	}
	c.led.SetColor(int(ind.ledIndex), color)
}

// tickLED re-asserts every configured indicator's color each message
// tick, so a transient LED driver glitch self-heals within one second
// instead of persisting until the next state transition.
func (c *Controller) tickLED() {
	c.mu.Lock()
	noUpdate := c.status&protocol.StatusNoLedUpdate != 0
	status := c.currentStatus
	var configured [NChannels]bool
	for i, ind := range c.indicators {
		configured[i] = ind.configured
	}
	c.mu.Unlock()
	if noUpdate {
		return
	}
	for ch := 0; ch < NChannels; ch++ {
		if !configured[ch] {
			continue
		}
		c.applyIndicator(ch, status&(1<<uint(ch)) != 0)
	}
}
