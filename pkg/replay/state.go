package replay

// State is a step of the replay walk.
type State string

const (
	StateStart          State = "START"
	StateCheckHeader    State = "CHECK_HEADER"
	StateCheckIndex     State = "CHECK_INDEX"
	StateCheckChain     State = "CHECK_CHAIN"
	StateCheckEventHash State = "CHECK_EVENT_HASH"
	StateCheckEntryHash State = "CHECK_ENTRY_HASH"
	StateAdvance        State = "ADVANCE"
	StateCheckSeal      State = "CHECK_SEAL"
	StateDone           State = "DONE"
	StateFailed         State = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
