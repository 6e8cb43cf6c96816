package order

// State is a position in the order lifecycle. States are never revisited.
type State string

const (
	StateReceived             State = "RECEIVED"
	StateReserved             State = "RESERVED"
	StateOutOfStock           State = "OUT_OF_STOCK"
	StatePaid                 State = "PAID"
	StatePaymentDeclined      State = "PAYMENT_DECLINED"
	StateCancelled            State = "CANCELLED"
	StateFulfillmentRequested State = "FULFILLMENT_REQUESTED"
	StateFailed               State = "FAILED"
)

var transitions = map[State][]State{
	StateReceived: {StateReserved, StateOutOfStock, StateFailed},
	StateReserved: {StatePaid, StatePaymentDeclined, StateCancelled},
	StatePaid:     {StateFulfillmentRequested},
}

func (s State) CanTransitionTo(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}
