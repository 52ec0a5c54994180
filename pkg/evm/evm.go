// Package evm translates the high-level contract operations into IR
// emission sequences. Every translator is a pure function of the
// generation context and its operands and encodes exactly one
// operation's ABI.
package evm

import (
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/value"

	"github.com/xplshn/gyul/pkg/codegen"
)

// MessageValueNotZero is the failure message written when a value
// transfer reaches a target without native value support.
const MessageValueNotZero = "The transferred value is not zero"

// CheckValueZero emits the guard rejecting non-zero transferred value.
// The failure path writes the error protocol and unwinds; emission
// continues on the zero path.
func CheckValueZero(ctx *codegen.Context, callValue value.Value) {
	zeroBlock := ctx.AppendBasicBlock("value_zero_block")
	nonZeroBlock := ctx.AppendBasicBlock("value_non_zero_block")

	isZero := ctx.BasicBlock().NewICmp(enum.IPredEQ, callValue, ctx.FieldConst(0))
	ctx.BuildConditionalBranch(isZero, zeroBlock, nonZeroBlock)

	ctx.SetBasicBlock(nonZeroBlock)
	ctx.WriteError(MessageValueNotZero)
	ctx.BuildUnconditionalBranch(ctx.Function().ThrowBlock)

	ctx.SetBasicBlock(zeroBlock)
}

// callAbiData packs an input region into the single word consumed by
// the far call runtime: the length in the high half, the offset in the
// low half.
func callAbiData(ctx *codegen.Context, offset, length value.Value) value.Value {
	shifted := ctx.BasicBlock().NewShl(length, ctx.FieldConst(64))
	return ctx.BasicBlock().NewAdd(shifted, offset)
}
