package world

type WorldConfig struct {
	ID         string
	TickRateHz int
	Seed       int64

	// RefreshDelayTicks delays the bulk refresh that follows a blacklist edit.
	RefreshDelayTicks int
	// ObserverQueue bounds the outbound queue of each observer session.
	ObserverQueue int
}

func (c *WorldConfig) applyDefaults() {
	if c.ID == "" {
		c.ID = "world_1"
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 10
	}
	if c.RefreshDelayTicks < 0 {
		c.RefreshDelayTicks = 0
	}
	if c.ObserverQueue <= 0 {
		c.ObserverQueue = 256
	}
}
