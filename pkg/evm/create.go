package evm

import (
	"math"
	"strings"

	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/xplshn/gyul/pkg/abi"
	"github.com/xplshn/gyul/pkg/codegen"
)

// Create emits the direct creation protocol for a dependency contract.
// The constructor arguments live at [inputOffset, inputOffset+inputLength)
// in the heap.
func Create(ctx *codegen.Context, name string, callValue, inputOffset, inputLength codegen.Argument) (value.Value, error) {
	return createDirect(ctx, name, callValue.Value, inputOffset.Value, inputLength.Value, nil)
}

// Create2 is Create with an explicit caller salt mixed into the address
// derivation.
func Create2(ctx *codegen.Context, name string, callValue, inputOffset, inputLength, salt codegen.Argument) (value.Value, error) {
	return createDirect(ctx, name, callValue.Value, inputOffset.Value, inputLength.Value, salt.Value)
}

// createDirect emits the two-step creation: derive the deployment
// address from the code hash and a salt bound to the per-module
// creation counter, then far call the constructor at that address. The
// result is the address times the success flag, so a failed creation
// yields zero without a branch.
func createDirect(ctx *codegen.Context, name string, callValue, inputOffset, inputLength, callerSalt value.Value) (value.Value, error) {
	CheckValueZero(ctx, callValue)

	codeHash, err := ContractHash(ctx, name)
	if err != nil {
		return nil, err
	}

	counterPosition := ctx.FieldConstStr(abi.Keccak256Hex([]byte(abi.StorageCreateCounter)))
	counter := ctx.BuildCall(ctx.IntrinsicFunction(codegen.IntrinsicStorageLoad),
		counterPosition, ctx.FieldConst(0))

	// The salt material is hashed in place: the constructor arguments
	// followed by the counter and, for the salted variant, the caller
	// salt, staged in the scratch words after the argument region.
	scratchOffset := ctx.BasicBlock().NewAdd(inputOffset, inputLength)
	ctx.BuildStore(ctx.AccessMemory(scratchOffset, codegen.SpaceHeap), counter)
	materialLength := ctx.BasicBlock().NewAdd(inputLength, ctx.FieldConst(abi.SizeField))
	if callerSalt != nil {
		saltOffset := ctx.BasicBlock().NewAdd(scratchOffset, ctx.FieldConst(abi.SizeField))
		ctx.BuildStore(ctx.AccessMemory(saltOffset, codegen.SpaceHeap), callerSalt)
		materialLength = ctx.BasicBlock().NewAdd(inputLength, ctx.FieldConst(2*abi.SizeField))
	}
	derivedSalt := ctx.BuildCall(ctx.Runtime().Sha3, inputOffset, materialLength)

	// The counter covers the attempt whether or not the constructor
	// call below succeeds.
	nextCounter := ctx.BasicBlock().NewAdd(counter, ctx.FieldConst(1))
	ctx.BuildCall(ctx.IntrinsicFunction(codegen.IntrinsicStorageStore),
		nextCounter, counterPosition, ctx.FieldConst(0))

	address := deriveAddress(ctx, codeHash, derivedSalt, scratchOffset)
	success := callConstructor(ctx, address, inputOffset, inputLength)
	return ctx.BasicBlock().NewMul(address, success), nil
}

// deriveAddress asks the address precompile for the deployment address
// of a (code hash, salt) pair. The two words are staged in the scratch
// area already consumed by the salt derivation.
func deriveAddress(ctx *codegen.Context, codeHash, salt, scratchOffset value.Value) value.Value {
	ctx.BuildStore(ctx.AccessMemory(scratchOffset, codegen.SpaceHeap), codeHash)
	saltOffset := ctx.BasicBlock().NewAdd(scratchOffset, ctx.FieldConst(abi.SizeField))
	ctx.BuildStore(ctx.AccessMemory(saltOffset, codegen.SpaceHeap), salt)

	resultPointer := ctx.BuildAlloca(ctx.StructType(ctx.FieldType(), types.I1))
	abiData := callAbiData(ctx, scratchOffset, ctx.FieldConst(2*abi.SizeField))
	ctx.BuildInvoke(ctx.Runtime().FarCall,
		ctx.FieldConstStr(abi.AddressDeriver), abiData, resultPointer)
	return ctx.BuildLoad(ctx.AccessMemory(ctx.FieldConst(0), codegen.SpaceChild))
}

// callConstructor far calls the constructor of the contract at address
// with the constructor arguments and returns the success flag.
func callConstructor(ctx *codegen.Context, address, inputOffset, inputLength value.Value) value.Value {
	ctx.BuildCall(ctx.IntrinsicFunction(codegen.IntrinsicSwitchContext))
	ctx.WriteHeader(inputLength, codegen.SpaceChild)
	destination := ctx.AccessMemory(ctx.FieldConst(abi.DataOffset*abi.SizeField), codegen.SpaceChild)
	source := ctx.AccessMemory(inputOffset, codegen.SpaceHeap)
	ctx.BuildMemcpy(codegen.IntrinsicMemoryCopyToChild, destination, source, inputLength)
	callDefinition := ctx.BasicBlock().NewShl(address, ctx.FieldConst(abi.BitsX32))
	return ctx.BuildCall(ctx.IntrinsicFunction(codegen.IntrinsicFarCall), callDefinition)
}

// CreateViaDeployer emits the first-generation creation ABI: a call to
// the deployer precompile with a packed header of method selector,
// salt, argument offset and length, and the bytecode hash, followed by
// the constructor arguments.
func CreateViaDeployer(ctx *codegen.Context, name string, callValue, inputOffset, inputLength codegen.Argument) (value.Value, error) {
	return createViaDeployer(ctx, name, abi.SignatureCreate,
		callValue.Value, inputOffset.Value, inputLength.Value, ctx.FieldConst(0))
}

// Create2ViaDeployer is CreateViaDeployer with an explicit salt.
func Create2ViaDeployer(ctx *codegen.Context, name string, callValue, inputOffset, inputLength, salt codegen.Argument) (value.Value, error) {
	return createViaDeployer(ctx, name, abi.SignatureCreate2,
		callValue.Value, inputOffset.Value, inputLength.Value, salt.Value)
}

func createViaDeployer(ctx *codegen.Context, name, signature string, callValue, inputOffset, inputLength, salt value.Value) (value.Value, error) {
	CheckValueZero(ctx, callValue)

	codeHash, err := ContractHash(ctx, name)
	if err != nil {
		return nil, err
	}

	// The full signature digest occupies the first header word; the
	// salt lands four bytes in, leaving exactly the selector visible.
	signatureHash := ctx.FieldConstStr(abi.Keccak256Hex([]byte(signature)))
	ctx.BuildStore(ctx.AccessMemory(inputOffset, codegen.SpaceHeap), signatureHash)

	saltOffset := ctx.BasicBlock().NewAdd(inputOffset, ctx.FieldConst(abi.SizeX32))
	ctx.BuildStore(ctx.AccessMemory(saltOffset, codegen.SpaceHeap), salt)

	argumentsOffsetOffset := ctx.BasicBlock().NewAdd(saltOffset, ctx.FieldConst(abi.SizeField))
	ctx.BuildStore(ctx.AccessMemory(argumentsOffsetOffset, codegen.SpaceHeap),
		ctx.FieldConst(abi.SizeX32+abi.SizeField*3))

	argumentsLengthOffset := ctx.BasicBlock().NewAdd(argumentsOffsetOffset, ctx.FieldConst(abi.SizeField))
	argumentsLength := ctx.BasicBlock().NewSub(inputLength, ctx.FieldConst(abi.DeployerHeaderSize))
	ctx.BuildStore(ctx.AccessMemory(argumentsLengthOffset, codegen.SpaceHeap), argumentsLength)

	hashOffset := ctx.BasicBlock().NewAdd(argumentsLengthOffset, ctx.FieldConst(abi.SizeField))
	ctx.BuildStore(ctx.AccessMemory(hashOffset, codegen.SpaceHeap), codeHash)

	resultPointer := ctx.BuildAlloca(ctx.StructType(ctx.FieldType(), types.I1))
	errorBlock := ctx.AppendBasicBlock("deployer_call_error_block")
	joinBlock := ctx.AppendBasicBlock("deployer_call_join_block")

	abiData := callAbiData(ctx, inputOffset, inputLength)
	result := ctx.BuildInvoke(ctx.Runtime().FarCall,
		ctx.FieldConstStr(abi.AddressDeployer), abiData, resultPointer)

	structType := ctx.StructType(ctx.FieldType(), types.I1)
	abiDataPointer := ctx.BasicBlock().NewGetElementPtr(structType, result,
		ctx.FieldConst(0), constant.NewInt(types.I32, 0))
	resultAbiData := ctx.BuildLoad(abiDataPointer)
	statusPointer := ctx.BasicBlock().NewGetElementPtr(structType, result,
		ctx.FieldConst(0), constant.NewInt(types.I32, 1))
	status := ctx.BuildLoad(statusPointer)

	ctx.BuildConditionalBranch(status, joinBlock, errorBlock)

	ctx.SetBasicBlock(errorBlock)
	Revert(ctx, codegen.NewArgument(ctx.FieldConst(0)), codegen.NewArgument(ctx.FieldConst(0)))

	ctx.SetBasicBlock(joinBlock)
	// The deployer echoes the ABI data word; only its low eight bytes
	// are meaningful.
	ctx.BasicBlock().NewAnd(resultAbiData, ctx.FieldConst(math.MaxUint64))
	return ctx.BuildLoad(ctx.AccessMemory(ctx.FieldConst(0), codegen.SpaceChild)), nil
}

// ContractHash resolves the bytecode hash operand of a creation: a
// dependency name compiles to its bytecode hash, while a reference to
// the module itself or to its runtime code yields zero.
func ContractHash(ctx *codegen.Context, name string) (value.Value, error) {
	if isSelfReference(ctx, name) {
		return ctx.FieldConst(0), nil
	}
	hash, err := ctx.CompileDependency(name)
	if err != nil {
		return nil, err
	}
	return ctx.FieldConstStr(hash), nil
}

// ContractHashSize resolves the header size operand of a creation: zero
// for self references, the deployer header size otherwise.
func ContractHashSize(ctx *codegen.Context, name string) value.Value {
	if isSelfReference(ctx, name) {
		return ctx.FieldConst(0)
	}
	return ctx.FieldConst(abi.DeployerHeaderSize)
}

func isSelfReference(ctx *codegen.Context, name string) bool {
	return name == ctx.ModuleName() || strings.HasSuffix(name, "_deployed")
}
