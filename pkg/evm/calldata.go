package evm

import (
	"github.com/llir/llvm/ir/value"

	"github.com/xplshn/gyul/pkg/abi"
	"github.com/xplshn/gyul/pkg/codegen"
)

// CalldataLoad reads one word of calldata from the parent's data
// region.
func CalldataLoad(ctx *codegen.Context, offset codegen.Argument) value.Value {
	shifted := ctx.BasicBlock().NewAdd(offset.Value, ctx.FieldConst(abi.DataOffset*abi.SizeField))
	pointer := ctx.AccessMemory(shifted, codegen.SpaceParent)
	return ctx.BuildLoad(pointer)
}

// CalldataSize reads the calldata length from the low bits of the
// parent header.
func CalldataSize(ctx *codegen.Context) value.Value {
	header := ctx.ReadHeader(codegen.SpaceParent)
	return ctx.BasicBlock().NewAnd(header, ctx.FieldConst(0xffffffff))
}

// CalldataCopy copies a calldata range from the parent's data region
// into the heap.
func CalldataCopy(ctx *codegen.Context, destinationOffset, sourceOffset, size codegen.Argument) {
	destination := ctx.AccessMemory(destinationOffset.Value, codegen.SpaceHeap)
	shifted := ctx.BasicBlock().NewAdd(sourceOffset.Value, ctx.FieldConst(abi.DataOffset*abi.SizeField))
	source := ctx.AccessMemory(shifted, codegen.SpaceParent)
	ctx.BuildMemcpy(codegen.IntrinsicMemoryCopyFromParent, destination, source, size.Value)
}
