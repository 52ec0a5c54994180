package codegen

import (
	"github.com/llir/llvm/ir/enum"
)

// Selector wraps the contract's runtime code in the reserved selector
// function.
type Selector struct {
	inner Lowerable
}

// NewSelector wraps runtime code.
func NewSelector(inner Lowerable) *Selector {
	return &Selector{inner: inner}
}

// Prepare declares the reserved selector function.
func (selector *Selector) Prepare(ctx *Context) error {
	ctx.AddReservedFunction(ReservedSelector, ctx.FunctionType(0, nil), enum.LinkagePrivate)
	return selector.inner.Prepare(ctx)
}

// Declare forwards to the wrapped code.
func (selector *Selector) Declare(ctx *Context) error {
	return selector.inner.Declare(ctx)
}

// IntoLLVM emits the selector body bracketed by the error protocol.
func (selector *Selector) IntoLLVM(ctx *Context) error {
	function := ctx.Reserved(ReservedSelector)
	ctx.SetFunction(function)
	ctx.SetBasicBlock(function.EntryBlock)
	ctx.SetCodeType(CodeTypeRuntime)

	if err := selector.inner.IntoLLVM(ctx); err != nil {
		return err
	}
	ctx.BuildUnconditionalBranch(function.ReturnBlock)

	ctx.BuildThrowBlock(true)
	ctx.BuildCatchBlock(true)

	ctx.SetBasicBlock(function.ReturnBlock)
	ctx.BuildReturn(nil)
	return nil
}
