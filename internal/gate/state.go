package gate

import "fmt"

// State is the boot state of a Gate.
type State int

const (
	Sealed State = iota
	Unsealing
	Unsealed
	Rejected
	Resealing
)

func (s State) String() string {
	switch s {
	case Sealed:
		return "sealed"
	case Unsealing:
		return "unsealing"
	case Unsealed:
		return "unsealed"
	case Rejected:
		return "rejected"
	case Resealing:
		return "resealing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions lists every legal edge of the boot state machine.
// Sealed -> Resealing is the external reseal of an already-plaintext store.
// A failed reseal ends in Rejected with the plaintext retained.
var transitions = map[State][]State{
	Sealed:    {Unsealing, Rejected, Resealing},
	Unsealing: {Unsealed, Rejected},
	Unsealed:  {Resealing},
	Resealing: {Sealed, Rejected},
	Rejected:  {},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
