// Package lifecycle drives each module through its eight lifecycle states.
//
// A Record is the only way to change a module's state. The work of a
// transition (indexing, resolving, activating, tearing down) is delegated to
// the Actions the framework supplies; the Record decides which transitions are
// legal, in which order they run, and notifies listeners of every change.
package lifecycle

import "fmt"

type State int

const (
	Uninstalled State = iota
	Installed
	Resolving
	Resolved
	Starting
	Active
	Stopping
	Unresolving
)

var stateNames = [...]string{
	Uninstalled: "Uninstalled",
	Installed:   "Installed",
	Resolving:   "Resolving",
	Resolved:    "Resolved",
	Starting:    "Starting",
	Active:      "Active",
	Stopping:    "Stopping",
	Unresolving: "Unresolving",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// IsResolved reports whether the module has a committed wiring.
func (s State) IsResolved() bool {
	return s == Resolved || s == Starting || s == Active || s == Stopping
}

// Kind names the transition that was requested.
type Kind int

const (
	KindInstall Kind = iota + 1
	KindResolve
	KindStart
	KindStop
	KindUnresolve
	KindUninstall
	KindUpdate
)

var kindNames = map[Kind]string{
	KindInstall:   "install",
	KindResolve:   "resolve",
	KindStart:     "start",
	KindStop:      "stop",
	KindUnresolve: "unresolve",
	KindUninstall: "uninstall",
	KindUpdate:    "update",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}
