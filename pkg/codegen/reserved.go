package codegen

import (
	"github.com/xplshn/gyul/pkg/abi"
)

// ReservedFunction enumerates the well-known functions every contract
// module declares exactly once: the external entry point and the two
// procedures it dispatches between. They live apart from the name-keyed
// table of user-defined functions.
type ReservedFunction int

const (
	ReservedEntry ReservedFunction = iota
	ReservedConstructor
	ReservedSelector
	reservedCount
)

// Name returns the symbol the reserved function is declared under.
func (reserved ReservedFunction) Name() string {
	switch reserved {
	case ReservedEntry:
		return abi.FunctionEntry
	case ReservedConstructor:
		return abi.FunctionConstructor
	case ReservedSelector:
		return abi.FunctionSelector
	}
	return "unknown"
}
