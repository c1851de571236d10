// Package router classifies decoded messages and dispatches aircraft
// traffic to the identity resolver, keeping receiver-table-relevant
// status messages on a side channel.
package router

import "github.com/hut8/soar/domain"

// Router sends aircraft position messages to Aircraft and the receiver
// beacons of status/server messages to Receivers; everything else is
// dropped.
type Router struct {
	Aircraft chan<- domain.DecodedMessage
	Receivers chan<- domain.ReceiverBeacon

	Dropped int64
}

// NewRouter wires a router that pushes to the given channels.
func NewRouter(aircraft chan<- domain.DecodedMessage, receivers chan<- domain.ReceiverBeacon) *Router {
	return &Router{Aircraft: aircraft, Receivers: receivers}
}

// Route classifies one decoded message and dispatches it. It never blocks
// indefinitely: aircraft messages are pushed best-effort (the identity
// resolution stage behind Aircraft is expected to keep up; if it's full, Route drops
// and increments Dropped rather than stalling the decoder).
func (r *Router) Route(msg domain.DecodedMessage) {
	switch msg.Kind {
	case domain.KindPosition:
		if msg.Address == "" {
			r.Dropped++
			return
		}
		select {
		case r.Aircraft <- msg:
		default:
			r.Dropped++
		}
	case domain.KindStatus, domain.KindServer:
		if msg.ReceiverBeacon != nil && r.Receivers != nil {
			select {
			case r.Receivers <- *msg.ReceiverBeacon:
			default:
			}
		}
	default:
		// weather, objects, Mic-E, non-aircraft traffic: dropped by design,
		// not a data-quality error.
	}
}
