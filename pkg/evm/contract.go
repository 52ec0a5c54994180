package evm

import (
	"errors"

	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/value"

	"github.com/xplshn/gyul/pkg/abi"
	"github.com/xplshn/gyul/pkg/codegen"
)

// Call emits an external contract call. The target has no native value
// transfer, so the transfer operand is guarded to zero first.
func Call(ctx *codegen.Context, address, callValue, inputOffset, inputSize, outputOffset, outputSize codegen.Argument) value.Value {
	CheckValueZero(ctx, callValue.Value)
	return callContract(ctx, codegen.IntrinsicFarCall,
		address.Value, inputOffset.Value, inputSize.Value, outputOffset.Value, outputSize.Value)
}

// StaticCall emits an external contract call without state access.
func StaticCall(ctx *codegen.Context, address, inputOffset, inputSize, outputOffset, outputSize codegen.Argument) value.Value {
	return callContract(ctx, codegen.IntrinsicStaticCall,
		address.Value, inputOffset.Value, inputSize.Value, outputOffset.Value, outputSize.Value)
}

// callContract emits the call protocol: the identity precompile turns
// into a heap-local copy, every other address goes through the full
// child memory marshaling sequence.
func callContract(ctx *codegen.Context, intrinsic codegen.Intrinsic, address, inputOffset, inputSize, outputOffset, outputSize value.Value) value.Value {
	resultPointer := ctx.BuildAlloca(ctx.FieldType())
	ctx.BuildStore(resultPointer, ctx.FieldConst(0))

	identityBlock := ctx.AppendBasicBlock("contract_call_identity_block")
	ordinaryBlock := ctx.AppendBasicBlock("contract_call_ordinary_block")
	joinBlock := ctx.AppendBasicBlock("contract_call_join_block")

	isIdentity := ctx.BasicBlock().NewICmp(enum.IPredEQ, address, ctx.FieldConstStr(abi.AddressIdentity))
	ctx.BuildConditionalBranch(isIdentity, identityBlock, ordinaryBlock)

	ctx.SetBasicBlock(identityBlock)
	destination := ctx.AccessMemory(outputOffset, codegen.SpaceHeap)
	source := ctx.AccessMemory(inputOffset, codegen.SpaceHeap)
	ctx.BuildMemcpy(codegen.IntrinsicMemoryCopy, destination, source, outputSize)
	ctx.BuildStore(resultPointer, ctx.FieldConst(1))
	ctx.BuildUnconditionalBranch(joinBlock)

	ctx.SetBasicBlock(ordinaryBlock)
	ctx.BuildCall(ctx.IntrinsicFunction(codegen.IntrinsicSwitchContext))
	ctx.WriteHeader(inputSize, codegen.SpaceChild)
	destination = ctx.AccessMemory(ctx.FieldConst(abi.DataOffset*abi.SizeField), codegen.SpaceChild)
	source = ctx.AccessMemory(inputOffset, codegen.SpaceHeap)
	ctx.BuildMemcpy(codegen.IntrinsicMemoryCopyToChild, destination, source, inputSize)

	callDefinition := ctx.BasicBlock().NewShl(address, ctx.FieldConst(abi.BitsX32))
	success := ctx.BuildCall(ctx.IntrinsicFunction(intrinsic), callDefinition)

	destination = ctx.AccessMemory(outputOffset, codegen.SpaceHeap)
	source = ctx.AccessMemory(ctx.FieldConst(abi.DataOffset*abi.SizeField), codegen.SpaceChild)
	ctx.BuildMemcpy(codegen.IntrinsicMemoryCopyFromChild, destination, source, outputSize)
	ctx.BuildStore(resultPointer, success)
	ctx.BuildUnconditionalBranch(joinBlock)

	ctx.SetBasicBlock(joinBlock)
	return ctx.BuildLoad(resultPointer)
}

// LinkerSymbol resolves a deployed library path to its address
// constant. The path must arrive as a literal operand.
func LinkerSymbol(ctx *codegen.Context, arguments []codegen.Argument) (value.Value, error) {
	if len(arguments) == 0 || arguments[0].Original == "" {
		return nil, errors.New("linker symbol literal is missing")
	}
	return ctx.ResolveLibrary(arguments[0].Original)
}
