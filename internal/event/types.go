package event

import "fmt"

// Kind identifies what an Event carries.
type Kind int

const (
	// KindNone is the zero value; a valid event never has it.
	KindNone Kind = iota

	// KindUserInput carries host input read by the input poller.
	KindUserInput

	// KindCustom carries a name/argument pair raised by Trigger.
	KindCustom

	// KindJobActivity carries the id of a job with new output or a new exit.
	KindJobActivity

	// KindDeferredCall carries a function to run on the host goroutine.
	KindDeferredCall

	// KindIdle is synthesized when no input arrived within the idle timeout.
	KindIdle
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindUserInput:
		return "UserInput"
	case KindCustom:
		return "Custom"
	case KindJobActivity:
		return "JobActivity"
	case KindDeferredCall:
		return "DeferredCall"
	case KindIdle:
		return "Idle"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseKind maps a kind name (as returned by String) back to a Kind.
func ParseKind(s string) (Kind, bool) {
	for k := KindUserInput; k <= KindIdle; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return KindNone, false
}

// Mod is a bit set of keyboard modifiers.
type Mod uint8

// ModNone means no modifier is held.
const ModNone Mod = 0

// Modifier bits.
const (
	ModShift Mod = 1 << iota
	ModCtrl
	ModAlt
	ModMeta
)

// Has reports whether all bits in other are set.
func (m Mod) Has(other Mod) bool {
	return m&other == other
}
