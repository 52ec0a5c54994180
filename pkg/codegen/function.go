package codegen

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"

	"github.com/xplshn/gyul/pkg/util"
)

// Function is the bookkeeping record of a declared function: the IR
// value plus the four control blocks every function is created with.
// Emission happens in the entry block and in blocks appended after it;
// the other three implement the error and return protocol.
type Function struct {
	Name string

	Value *ir.Func

	EntryBlock  *ir.Block
	ThrowBlock  *ir.Block
	CatchBlock  *ir.Block
	ReturnBlock *ir.Block

	Return  *Return
	EVMData *EVMData

	blockNames map[string]int
}

func newFunction(name string, val *ir.Func, entry, throw, catch, ret *ir.Block) *Function {
	function := &Function{
		Name:        name,
		Value:       val,
		EntryBlock:  entry,
		ThrowBlock:  throw,
		CatchBlock:  catch,
		ReturnBlock: ret,
		blockNames:  make(map[string]int),
	}
	for _, block := range []*ir.Block{entry, throw, catch, ret} {
		function.blockNames[block.LocalName] = 1
	}
	return function
}

// SetReturn attaches the return value descriptor. A function gets at
// most one.
func (function *Function) SetReturn(ret *Return) {
	util.Assertf(function.Return == nil, "function %s already has a return descriptor", function.Name)
	function.Return = ret
}

// ReturnPointer returns the stack pointer the return value is written
// through, or nil for functions without one.
func (function *Function) ReturnPointer() value.Value {
	if function.Return == nil {
		return nil
	}
	return function.Return.Pointer
}

// uniqueBlockName disambiguates a requested block name within the
// function. The first request gets the name verbatim, later ones get a
// numeric suffix.
func (function *Function) uniqueBlockName(name string) string {
	count := function.blockNames[name]
	function.blockNames[name] = count + 1
	if count == 0 {
		return name
	}
	return fmt.Sprintf("%s%d", name, count)
}

// Return describes how a function materializes its return value: as a
// single primitive word or as a compound of several words, in both cases
// written through a stack pointer read back in the return block.
type Return struct {
	Pointer value.Value
	Size    int
}

// NewPrimitiveReturn describes a single-word return value.
func NewPrimitiveReturn(pointer value.Value) *Return {
	return &Return{Pointer: pointer, Size: 1}
}

// NewCompoundReturn describes a return value of size words written
// through pointer.
func NewCompoundReturn(pointer value.Value, size int) *Return {
	return &Return{Pointer: pointer, Size: size}
}

// IsCompound reports whether the return value is a structure rather
// than a single word.
func (ret *Return) IsCompound() bool {
	return ret.Size > 1
}

// EVMData is the metadata attached to functions lowered from legacy
// assembly blocks: their stack argument and return arities.
type EVMData struct {
	InputSize  int
	OutputSize int
}

// NewEVMData creates the legacy assembly metadata record.
func NewEVMData(inputSize, outputSize int) *EVMData {
	return &EVMData{InputSize: inputSize, OutputSize: outputSize}
}
