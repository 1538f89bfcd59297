package tripweave

import "github.com/InfurnusWolf/tripweave/internal/eventbus"

// WithEventBus sets the event bus component.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(p *Planner) {
		p.eventBus = bus
	}
}
