package codegen

import (
	"github.com/llir/llvm/ir/enum"

	"github.com/xplshn/gyul/pkg/abi"
)

// Constructor wraps the contract's deploy code in the reserved
// constructor function. Its return block persists the executed flag so
// the dispatch never runs the constructor twice.
type Constructor struct {
	inner Lowerable
}

// NewConstructor wraps deploy code.
func NewConstructor(inner Lowerable) *Constructor {
	return &Constructor{inner: inner}
}

// Prepare declares the reserved constructor function.
func (constructor *Constructor) Prepare(ctx *Context) error {
	ctx.AddReservedFunction(ReservedConstructor, ctx.FunctionType(0, nil), enum.LinkagePrivate)
	return constructor.inner.Prepare(ctx)
}

// Declare forwards to the wrapped code.
func (constructor *Constructor) Declare(ctx *Context) error {
	return constructor.inner.Declare(ctx)
}

// IntoLLVM emits the constructor body bracketed by the error protocol
// and stores the executed flag on the normal path.
func (constructor *Constructor) IntoLLVM(ctx *Context) error {
	function := ctx.Reserved(ReservedConstructor)
	ctx.SetFunction(function)
	ctx.SetBasicBlock(function.EntryBlock)
	ctx.SetCodeType(CodeTypeDeploy)

	if err := constructor.inner.IntoLLVM(ctx); err != nil {
		return err
	}
	ctx.BuildUnconditionalBranch(function.ReturnBlock)

	ctx.BuildThrowBlock(true)
	ctx.BuildCatchBlock(true)

	ctx.SetBasicBlock(function.ReturnBlock)
	position := ctx.FieldConstStr(abi.Keccak256Hex([]byte(abi.StorageConstructorExecuted)))
	ctx.BuildCall(ctx.IntrinsicFunction(IntrinsicStorageStore),
		ctx.FieldConst(1), position, ctx.FieldConst(0))
	ctx.BuildReturn(nil)
	return nil
}
