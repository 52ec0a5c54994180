package codegen

import (
	"github.com/llir/llvm/ir/value"
)

// Argument is a translator operand: an IR value that optionally carries
// the source literal it was built from. The literal survives for the few
// operations that need the spelling rather than the value, such as
// linker symbol resolution.
type Argument struct {
	Value    value.Value
	Original string
}

// NewArgument wraps a plain IR value.
func NewArgument(val value.Value) Argument {
	return Argument{Value: val}
}

// NewArgumentOriginal wraps an IR value together with its source literal.
func NewArgumentOriginal(val value.Value, original string) Argument {
	return Argument{Value: val, Original: original}
}
