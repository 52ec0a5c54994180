package interp

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xplshn/gyul/pkg/abi"
	"github.com/xplshn/gyul/pkg/codegen"
)

var fieldType = types.NewInt(abi.BitsField)

func TestArithmeticWrapsAtWordWidth(t *testing.T) {
	t.Parallel()

	module := ir.NewModule()
	x := ir.NewParam("x", fieldType)
	y := ir.NewParam("y", fieldType)
	fn := module.NewFunc("compute", fieldType, x, y)
	block := fn.NewBlock("entry")
	sum := block.NewAdd(x, y)
	doubled := block.NewShl(sum, constant.NewInt(fieldType, 1))
	mixed := block.NewXor(doubled, y)
	block.NewRet(mixed)

	machine := NewMachine(module)

	result, err := machine.Run("compute", uint256.NewInt(5), uint256.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, uint64((5+3)<<1^3), result.Uint64())

	// 2^256-1 + 1 wraps to zero.
	max := new(uint256.Int).Sub(uint256.NewInt(0), uint256.NewInt(1))
	result, err = machine.Run("compute", max, uint256.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.Uint64())
}

func TestOverlongShiftsProduceZero(t *testing.T) {
	t.Parallel()

	module := ir.NewModule()
	x := ir.NewParam("x", fieldType)
	n := ir.NewParam("n", fieldType)
	fn := module.NewFunc("shift", fieldType, x, n)
	block := fn.NewBlock("entry")
	block.NewRet(block.NewShl(x, n))

	machine := NewMachine(module)

	result, err := machine.Run("shift", uint256.NewInt(1), uint256.NewInt(8))
	require.NoError(t, err)
	assert.Equal(t, uint64(256), result.Uint64())

	result, err = machine.Run("shift", uint256.NewInt(1), uint256.NewInt(256))
	require.NoError(t, err)
	assert.True(t, result.IsZero())
}

func TestStackSlotsAndElementAccess(t *testing.T) {
	t.Parallel()

	module := ir.NewModule()
	fn := module.NewFunc("stash", fieldType)
	block := fn.NewBlock("entry")

	structType := types.NewStruct(fieldType, fieldType)
	slot := block.NewAlloca(structType)
	first := block.NewGetElementPtr(structType, slot,
		constant.NewInt(fieldType, 0), constant.NewInt(types.I32, 0))
	second := block.NewGetElementPtr(structType, slot,
		constant.NewInt(fieldType, 0), constant.NewInt(types.I32, 1))
	block.NewStore(constant.NewInt(fieldType, 11), first)
	block.NewStore(constant.NewInt(fieldType, 22), second)
	a := block.NewLoad(fieldType, first)
	b := block.NewLoad(fieldType, second)
	block.NewRet(block.NewAdd(a, b))

	machine := NewMachine(module)
	result, err := machine.Run("stash")
	require.NoError(t, err)
	assert.Equal(t, uint64(33), result.Uint64())
}

func TestMemoryCopyBetweenSpaces(t *testing.T) {
	t.Parallel()

	module := ir.NewModule()
	memcpy := module.NewFunc("llvm.memcpy.p2i256.p1i256.i256", types.Void,
		ir.NewParam("", codegen.SpaceParent.Pointer(fieldType)),
		ir.NewParam("", codegen.SpaceHeap.Pointer(fieldType)),
		ir.NewParam("", fieldType),
		ir.NewParam("", types.I1))

	fn := module.NewFunc("publish", types.Void)
	block := fn.NewBlock("entry")
	source := block.NewIntToPtr(constant.NewInt(fieldType, 0), codegen.SpaceHeap.Pointer(fieldType))
	block.NewStore(constant.NewInt(fieldType, 0xbeef), source)
	destination := block.NewIntToPtr(constant.NewInt(fieldType, 64), codegen.SpaceParent.Pointer(fieldType))
	block.NewCall(memcpy, destination, source, constant.NewInt(fieldType, 32), constant.NewInt(types.I1, 0))
	block.NewRet(nil)

	machine := NewMachine(module)
	_, err := machine.Run("publish")
	require.NoError(t, err)

	copied := new(uint256.Int).SetBytes(machine.ReadMemory(codegen.SpaceParent, 64, 32))
	assert.Equal(t, uint64(0xbeef), copied.Uint64())
}

func TestInvokeCatchesUnwinding(t *testing.T) {
	t.Parallel()

	module := ir.NewModule()
	bytePointer := codegen.SpaceStack.Pointer(types.I8)
	null := constant.NewNull(bytePointer)
	cxaThrow := module.NewFunc(abi.FunctionCxaThrow, types.Void,
		ir.NewParam("", bytePointer), ir.NewParam("", bytePointer), ir.NewParam("", bytePointer))

	thrower := module.NewFunc("thrower", types.Void)
	throwerBlock := thrower.NewBlock("entry")
	throwerBlock.NewCall(cxaThrow, null, null, null)
	throwerBlock.NewUnreachable()

	fn := module.NewFunc("guard", fieldType)
	entry := fn.NewBlock("entry")
	ok := fn.NewBlock("ok")
	pad := fn.NewBlock("pad")
	entry.NewInvoke(thrower, nil, ok, pad)
	ok.NewRet(constant.NewInt(fieldType, 1))
	pad.NewLandingPad(types.NewStruct(bytePointer, types.I32),
		ir.NewClause(enum.ClauseTypeCatch, null))
	pad.NewRet(constant.NewInt(fieldType, 2))

	machine := NewMachine(module)

	result, err := machine.Run("guard")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), result.Uint64())

	// Without an invoke frame the exception surfaces as a revert.
	_, err = machine.Run("thrower")
	assert.ErrorIs(t, err, ErrReverted)
}

func TestFarCallRuntimeShape(t *testing.T) {
	t.Parallel()

	module := ir.NewModule()
	structType := types.NewStruct(fieldType, types.I1)
	resultPointerType := codegen.SpaceStack.Pointer(structType)
	farCall := module.NewFunc(abi.FunctionFarCall, resultPointerType,
		ir.NewParam("", fieldType), ir.NewParam("", fieldType), ir.NewParam("", resultPointerType))

	fn := module.NewFunc("call_out", fieldType)
	block := fn.NewBlock("entry")
	slot := block.NewAlloca(structType)
	input := block.NewIntToPtr(constant.NewInt(fieldType, 0), codegen.SpaceHeap.Pointer(fieldType))
	block.NewStore(constant.NewInt(fieldType, 0x1234), input)
	abiData := block.NewShl(constant.NewInt(fieldType, 32), constant.NewInt(fieldType, 64))
	block.NewCall(farCall, constant.NewInt(fieldType, 55), abiData, slot)

	descriptorPointer := block.NewGetElementPtr(structType, slot,
		constant.NewInt(fieldType, 0), constant.NewInt(types.I32, 0))
	descriptor := block.NewLoad(fieldType, descriptorPointer)
	scratch := block.NewIntToPtr(constant.NewInt(fieldType, 128), codegen.SpaceHeap.Pointer(fieldType))
	block.NewStore(descriptor, scratch)

	flagPointer := block.NewGetElementPtr(structType, slot,
		constant.NewInt(fieldType, 0), constant.NewInt(types.I32, 1))
	block.NewRet(block.NewLoad(fieldType, flagPointer))

	machine := NewMachine(module)
	var captured []byte
	machine.RegisterFarCall(uint256.NewInt(55), func(m *Machine, in []byte) ([]byte, bool) {
		captured = append([]byte(nil), in...)
		out := uint256.NewInt(0x9999).Bytes32()
		return out[:], true
	})

	flag, err := machine.Run("call_out")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), flag.Uint64())

	// The handler saw the heap region named by the ABI data word.
	require.Len(t, captured, 32)
	assert.Equal(t, uint64(0x1234), new(uint256.Int).SetBytes(captured).Uint64())

	// Raw output lands at the start of the child region.
	output := new(uint256.Int).SetBytes(machine.ReadMemory(codegen.SpaceChild, 0, 32))
	assert.Equal(t, uint64(0x9999), output.Uint64())

	// The descriptor carries the output length in its middle bytes.
	expected := new(uint256.Int).Lsh(uint256.NewInt(32), 64)
	stored := new(uint256.Int).SetBytes(machine.ReadMemory(codegen.SpaceHeap, 128, 32))
	assert.Equal(t, expected, stored)
}

func TestFarCallIntrinsicShape(t *testing.T) {
	t.Parallel()

	module := ir.NewModule()
	farCall := module.NewFunc(codegen.IntrinsicFarCall.Name(), fieldType,
		ir.NewParam("", fieldType))

	fn := module.NewFunc("call_out", fieldType)
	block := fn.NewBlock("entry")
	definition := block.NewShl(constant.NewInt(fieldType, 9), constant.NewInt(fieldType, 32))
	block.NewRet(block.NewCall(farCall, definition))

	machine := NewMachine(module)

	// Marshaled input: length in the child header, payload after it.
	machine.WriteMemory(codegen.SpaceChild, 0, lowWord(32))
	machine.WriteMemory(codegen.SpaceChild, 64, lowWord(0x51))

	var captured []byte
	machine.RegisterFarCall(uint256.NewInt(9), func(m *Machine, in []byte) ([]byte, bool) {
		captured = append([]byte(nil), in...)
		echoed := new(uint256.Int).SetBytes(in)
		echoed.AddUint64(echoed, 1)
		out := echoed.Bytes32()
		return out[:], true
	})

	success, err := machine.Run("call_out")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), success.Uint64())

	require.Len(t, captured, 32)
	assert.Equal(t, uint64(0x51), new(uint256.Int).SetBytes(captured).Uint64())

	// The reply is marshaled the same way back.
	header := new(uint256.Int).SetBytes(machine.ReadMemory(codegen.SpaceChild, 0, 32))
	assert.Equal(t, uint64(32), header.Uint64())
	reply := new(uint256.Int).SetBytes(machine.ReadMemory(codegen.SpaceChild, 64, 32))
	assert.Equal(t, uint64(0x52), reply.Uint64())
}

func TestFarCallWithoutHandlerFails(t *testing.T) {
	t.Parallel()

	module := ir.NewModule()
	farCall := module.NewFunc(codegen.IntrinsicFarCall.Name(), fieldType,
		ir.NewParam("", fieldType))
	fn := module.NewFunc("call_nowhere", fieldType)
	block := fn.NewBlock("entry")
	definition := block.NewShl(constant.NewInt(fieldType, 77), constant.NewInt(fieldType, 32))
	block.NewRet(block.NewCall(farCall, definition))

	machine := NewMachine(module)
	_, err := machine.Run("call_nowhere")
	assert.ErrorContains(t, err, "no far call handler")
	assert.NotErrorIs(t, err, ErrReverted)
}

func TestLoadThroughNonPointerFails(t *testing.T) {
	t.Parallel()

	module := ir.NewModule()
	x := ir.NewParam("x", fieldType)
	fn := module.NewFunc("deref", fieldType, x)
	block := fn.NewBlock("entry")
	block.NewRet(block.NewLoad(fieldType, x))

	machine := NewMachine(module)
	_, err := machine.Run("deref", uint256.NewInt(64))
	assert.ErrorContains(t, err, "load through a non-pointer value")
}

func TestRunErrors(t *testing.T) {
	t.Parallel()

	module := ir.NewModule()
	module.NewFunc("declared_only", types.Void)
	machine := NewMachine(module)

	_, err := machine.Run("missing")
	assert.ErrorContains(t, err, "is not defined")

	_, err = machine.Run("declared_only")
	assert.ErrorContains(t, err, "has no body")
}

func TestRunawayLoopHitsStepLimit(t *testing.T) {
	t.Parallel()

	module := ir.NewModule()
	fn := module.NewFunc("spin", types.Void)
	block := fn.NewBlock("entry")
	block.NewBr(block)

	machine := NewMachine(module)
	_, err := machine.Run("spin")
	assert.ErrorContains(t, err, "step limit exceeded")
}

func TestCalldataAndReturnDataAccessors(t *testing.T) {
	t.Parallel()

	machine := NewMachine(ir.NewModule())

	machine.SetCalldata([]byte{1, 2, 3})
	assert.Equal(t, uint64(3), machine.ParentHeader().Uint64())
	assert.Equal(t, []byte{1, 2, 3}, machine.ReadMemory(codegen.SpaceParent, 64, 3))

	// The return length sits in the header's low bytes; anything above
	// them is ignored.
	junk := new(uint256.Int).Lsh(uint256.NewInt(0xdead), 128)
	junk.Or(junk, uint256.NewInt(2))
	junkBytes := junk.Bytes32()
	machine.WriteMemory(codegen.SpaceParent, 0, junkBytes[:])
	assert.Equal(t, []byte{1, 2}, machine.ReturnData())

	machine.SetStorage(uint256.NewInt(3), uint256.NewInt(9))
	assert.Equal(t, uint64(9), machine.Storage(uint256.NewInt(3)).Uint64())
	assert.True(t, machine.Storage(uint256.NewInt(4)).IsZero())
}

func lowWord(v uint64) []byte {
	bytes := uint256.NewInt(v).Bytes32()
	return bytes[:]
}
