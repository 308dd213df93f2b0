package vcs

// State is the local version-control state of a working copy entry
type State int

const (
	// StateNotExists means neither the backend nor the disk knows the path
	StateNotExists State = iota

	// StateNormal is a versioned, unmodified entry
	StateNormal

	// StateModified is a versioned entry with local edits
	StateModified

	// StateAdded is scheduled for addition
	StateAdded

	// StateDeleted is scheduled for deletion
	StateDeleted

	// StateMissing is versioned but gone from disk
	StateMissing

	// StateConflicting carries an unresolved conflict
	StateConflicting

	// StateReplaced is deleted and re-added in the same commit
	StateReplaced

	// StatePrereplaced is deleted, with an unversioned node at the same path
	StatePrereplaced

	// StateUnversioned exists on disk only
	StateUnversioned

	// StateIgnored exists on disk only and matches an ignore rule
	StateIgnored

	// StateInvalid is reported when the backend cannot describe the entry
	StateInvalid
)

var stateNames = map[State]string{
	StateNotExists:   "not-exists",
	StateNormal:      "normal",
	StateModified:    "modified",
	StateAdded:       "added",
	StateDeleted:     "deleted",
	StateMissing:     "missing",
	StateConflicting: "conflicting",
	StateReplaced:    "replaced",
	StatePrereplaced: "prereplaced",
	StateUnversioned: "unversioned",
	StateIgnored:     "ignored",
	StateInvalid:     "invalid",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "invalid"
}

// ===================
// State Filters
// ===================

// Filter selects states
type Filter func(State) bool

// Accept reports whether s passes the filter
func (f Filter) Accept(s State) bool {
	return f(s)
}

func oneOf(states ...State) Filter {
	set := make(map[State]struct{}, len(states))
	for _, s := range states {
		set[s] = struct{}{}
	}
	return func(s State) bool {
		_, ok := set[s]
		return ok
	}
}

var (
	// FilterDeleted selects entries going away in the next commit
	FilterDeleted = oneOf(StatePrereplaced, StateReplaced, StateDeleted, StateMissing)

	// FilterPrereplacedReplaced selects replacements in progress
	FilterPrereplacedReplaced = oneOf(StatePrereplaced, StateReplaced)

	// FilterRevertable selects states a revert changes
	FilterRevertable = oneOf(StatePrereplaced, StateConflicting, StateReplaced,
		StateAdded, StateModified, StateDeleted, StateMissing)

	// FilterNotOnRepository selects entries the backend has no record of
	FilterNotOnRepository = oneOf(StatePrereplaced, StateUnversioned, StateIgnored,
		StateNotExists, StateAdded)

	// FilterUnversioned selects entries that only exist on disk
	FilterUnversioned = oneOf(StateUnversioned, StateIgnored)

	// FilterVersioned selects entries with a backend record
	FilterVersioned = oneOf(StateNormal, StateModified, StateConflicting, StateReplaced,
		StateDeleted, StateMissing)

	// FilterInvalid selects entries the core must not touch
	FilterInvalid = oneOf(StateInvalid)
)
