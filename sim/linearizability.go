package sim

import (
	"fmt"
	"reflect"
	"time"
)

// Operation is one client call recorded against a running cluster: the
// input it sent, the output it observed, and the real-time interval the
// call was outstanding for. Start/End come from the caller's wall clock
// (spec.md §7's Linearizability property is defined in terms of real
// time, not logical/Raft time), so two Operations with Start/End
// intervals that do not overlap must be linearized in that order, while
// overlapping ones may be linearized in either order.
type Operation struct {
	ClientID string
	Input    interface{}
	Output   interface{}
	Start    time.Time
	End      time.Time
}

// History is everything CheckLinearizable needs about one test run: every
// client-observed operation, in no particular order (the Start/End fields
// carry all the ordering information the checker uses).
type History []Operation

// Model is a sequential specification of the state machine under test:
// given the current state and one operation's input, Apply returns the
// next state and the output a correct sequential execution would have
// produced. This package's linearizability test provides a Model
// (kvModel) mirroring kv.Store's exact Set/Get/Cas semantics so
// CheckLinearizable can replay the recorded history against it.
type Model interface {
	// Init returns the model's initial state, matching the state machine's
	// state immediately after Reset.
	Init() interface{}
	// Apply applies input to state and returns the resulting state and the
	// output a sequential execution would produce. Must be a pure function
	// of (state, input): Model is invoked many times over the same
	// candidate state during the search below, always expecting the same
	// answer.
	Apply(state interface{}, input interface{}) (next interface{}, output interface{})
}

// CheckLinearizable decides whether h could have arisen from some
// sequential execution of model consistent with the real-time ordering
// its Start/End fields imply (Herlihy & Wing's linearizability, checked
// here by the brute-force search Wing & Gong describe: recursively pick
// any operation not already used whose real-time interval does not force
// it after some other unused operation, apply it to the model, and
// recurse over what remains). Returns false and an error once every
// candidate order has been exhausted; because the search backtracks all
// the way out, the operation the error names is the first one in h, not
// necessarily the one at fault.
//
// Exponential in len(h) in the worst case; fine for the short histories
// this module's tests drive (a handful of clients, a handful of calls
// each), not intended for anything larger.
func CheckLinearizable(h History, model Model) (bool, error) {
	used := make([]bool, len(h))
	ok, bad := search(h, used, model.Init(), model)
	if ok {
		return true, nil
	}
	return false, fmt.Errorf("sim: history is not linearizable (first unplaced operation at the top level: %+v)", bad)
}

// search tries to extend a linearization that has already placed every
// operation with used[i] == true. state is the model's state after that
// partial linearization. Returns whether a full linearization exists, and
// (on failure) the first operation still unused at this level after
// backtracking, for the caller's error message.
func search(h History, used []bool, state interface{}, model Model) (bool, Operation) {
	if allUsed(used) {
		return true, Operation{}
	}
	for i := range h {
		if used[i] || !minimal(h, used, i) {
			continue
		}
		nextState, output := model.Apply(state, h[i].Input)
		if !reflect.DeepEqual(output, h[i].Output) {
			continue
		}
		used[i] = true
		if ok, _ := search(h, used, nextState, model); ok {
			return true, Operation{}
		}
		used[i] = false
	}
	return false, firstUnused(h, used)
}

func allUsed(used []bool) bool {
	for _, u := range used {
		if !u {
			return false
		}
	}
	return true
}

// minimal reports whether h[i] is eligible to be linearized next given
// which operations are already used: no other unused operation may have
// ended, in real time, strictly before h[i] started, since that operation
// would then necessarily have to precede h[i] in any valid linearization.
func minimal(h History, used []bool, i int) bool {
	for j := range h {
		if used[j] || j == i {
			continue
		}
		if h[j].End.Before(h[i].Start) {
			return false
		}
	}
	return true
}

func firstUnused(h History, used []bool) Operation {
	for i := range h {
		if !used[i] {
			return h[i]
		}
	}
	return Operation{}
}
