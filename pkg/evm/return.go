package evm

import (
	"github.com/llir/llvm/ir/value"

	"github.com/xplshn/gyul/pkg/abi"
	"github.com/xplshn/gyul/pkg/codegen"
)

// Return emits the normal data return: the payload length goes into the
// parent header, the payload is copied to the parent's data region and
// the long return unwinds to the top level.
func Return(ctx *codegen.Context, offset, size codegen.Argument) {
	writeReturnData(ctx, offset.Value, size.Value)
	longReturn(ctx)
}

// Revert emits the aborting data return: the payload is copied out like
// a normal return, then control branches straight to throw. Aborts
// never travel through the long return flag.
func Revert(ctx *codegen.Context, offset, size codegen.Argument) {
	writeReturnData(ctx, offset.Value, size.Value)
	ctx.BuildUnconditionalBranch(ctx.Function().ThrowBlock)
}

// Stop emits the empty normal return.
func Stop(ctx *codegen.Context) {
	ctx.WriteHeader(ctx.FieldConst(0), codegen.SpaceParent)
	longReturn(ctx)
}

// Invalid emits the empty aborting return.
func Invalid(ctx *codegen.Context) {
	ctx.WriteHeader(ctx.FieldConst(0), codegen.SpaceParent)
	ctx.BuildUnconditionalBranch(ctx.Function().ThrowBlock)
}

// writeReturnData writes the parent header and copies the payload into
// the parent's data region.
func writeReturnData(ctx *codegen.Context, offset, size value.Value) {
	ctx.WriteHeader(size, codegen.SpaceParent)
	destination := ctx.AccessMemory(ctx.FieldConst(abi.DataOffset*abi.SizeField), codegen.SpaceParent)
	source := ctx.AccessMemory(offset, codegen.SpaceHeap)
	ctx.BuildMemcpy(codegen.IntrinsicMemoryCopyToParent, destination, source, size)
}

// longReturn routes a normal exit: the reserved outermost functions
// branch to their own return block, inner functions set the long return
// flag and unwind through throw.
func longReturn(ctx *codegen.Context) {
	function := ctx.Function()
	if ctx.IsReserved(function) {
		ctx.BuildUnconditionalBranch(function.ReturnBlock)
		return
	}
	flagPointer := ctx.AccessMemory(ctx.FieldConst(abi.LongReturnOffset*abi.SizeField), codegen.SpaceHeap)
	ctx.BuildStore(flagPointer, ctx.FieldConst(1))
	ctx.BuildUnconditionalBranch(function.ThrowBlock)
}
