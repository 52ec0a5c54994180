package evm

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/llir/llvm/ir/constant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xplshn/gyul/pkg/abi"
	"github.com/xplshn/gyul/pkg/codegen"
	"github.com/xplshn/gyul/pkg/config"
	"github.com/xplshn/gyul/pkg/interp"
)

// callEcho emits a runtime body that stores payload at heap offset 64,
// calls address with one input word and one output word, and returns
// the output word followed by the success word.
func callEcho(payload uint64, addressOf func(ctx *codegen.Context) codegen.Argument) func(ctx *codegen.Context) error {
	return func(ctx *codegen.Context) error {
		ctx.BuildStore(ctx.AccessMemory(ctx.FieldConst(64), codegen.SpaceHeap), ctx.FieldConst(payload))
		address := addressOf(ctx)
		success := Call(ctx, address,
			argOf(ctx, 0),
			argOf(ctx, 64), argOf(ctx, abi.SizeField),
			argOf(ctx, 96), argOf(ctx, abi.SizeField))
		ctx.BuildStore(ctx.AccessMemory(ctx.FieldConst(128), codegen.SpaceHeap), success)
		Return(ctx, argOf(ctx, 96), argOf(ctx, 2*abi.SizeField))
		return nil
	}
}

func TestIdentityCallCopiesWithinHeap(t *testing.T) {
	t.Parallel()

	module := lowerModule(t, nil, stopDeploy, callEcho(0x77, func(ctx *codegen.Context) codegen.Argument {
		return codegen.NewArgument(ctx.FieldConstStr(abi.AddressIdentity))
	}))

	// No handler registered: the identity address never leaves the heap.
	machine := newConstructedMachine(t, module)
	require.NoError(t, runSelector(machine))

	data := machine.ReturnData()
	require.Len(t, data, 2*abi.SizeField)
	assert.Equal(t, uint64(0x77), new(uint256.Int).SetBytes(data[:32]).Uint64())
	assert.Equal(t, uint64(1), new(uint256.Int).SetBytes(data[32:]).Uint64())
}

func TestOrdinaryCallMarshalsThroughChild(t *testing.T) {
	t.Parallel()

	module := lowerModule(t, nil, stopDeploy, callEcho(21, func(ctx *codegen.Context) codegen.Argument {
		return argOf(ctx, 0x1234)
	}))

	machine := newConstructedMachine(t, module)
	var captured []byte
	machine.RegisterFarCall(uint256.NewInt(0x1234), func(m *interp.Machine, input []byte) ([]byte, bool) {
		captured = append([]byte(nil), input...)
		doubled := new(uint256.Int).SetBytes(input)
		doubled.Add(doubled, doubled)
		out := doubled.Bytes32()
		return out[:], true
	})
	require.NoError(t, runSelector(machine))

	require.Len(t, captured, abi.SizeField)
	assert.Equal(t, uint64(21), new(uint256.Int).SetBytes(captured).Uint64())

	data := machine.ReturnData()
	require.Len(t, data, 2*abi.SizeField)
	assert.Equal(t, uint64(42), new(uint256.Int).SetBytes(data[:32]).Uint64())
	assert.Equal(t, uint64(1), new(uint256.Int).SetBytes(data[32:]).Uint64())
}

func TestStaticCallReportsFailure(t *testing.T) {
	t.Parallel()

	module := lowerModule(t, nil, stopDeploy, func(ctx *codegen.Context) error {
		ctx.BuildStore(ctx.AccessMemory(ctx.FieldConst(64), codegen.SpaceHeap), ctx.FieldConst(3))
		success := StaticCall(ctx, argOf(ctx, 0x99),
			argOf(ctx, 64), argOf(ctx, abi.SizeField),
			argOf(ctx, 96), argOf(ctx, abi.SizeField))
		ctx.BuildStore(ctx.AccessMemory(ctx.FieldConst(128), codegen.SpaceHeap), success)
		Return(ctx, argOf(ctx, 96), argOf(ctx, 2*abi.SizeField))
		return nil
	})

	machine := newConstructedMachine(t, module)
	machine.RegisterFarCall(uint256.NewInt(0x99), func(m *interp.Machine, input []byte) ([]byte, bool) {
		return nil, false
	})
	require.NoError(t, runSelector(machine))

	// A failed call still copies the (empty) output region and reports
	// zero success.
	data := machine.ReturnData()
	require.Len(t, data, 2*abi.SizeField)
	assert.True(t, new(uint256.Int).SetBytes(data[:32]).IsZero())
	assert.True(t, new(uint256.Int).SetBytes(data[32:]).IsZero())
}

func TestContractHashResolution(t *testing.T) {
	t.Parallel()

	optimizer := codegen.NewOptimizer(config.OptNone, config.OptNone)
	dependency := &stubDependency{hash: abi.Keccak256Hex([]byte("child bytecode"))}
	ctx := codegen.NewContext("contract_test", optimizer, dependency, nil)

	// References to the module itself or to its runtime code carry no
	// deployer header.
	for _, name := range []string{"contract_test", "contract_test_deployed"} {
		hash, err := ContractHash(ctx, name)
		require.NoError(t, err)
		assert.True(t, hash.(*constant.Int).X.Sign() == 0)
		assert.True(t, ContractHashSize(ctx, name).(*constant.Int).X.Sign() == 0)
	}

	hash, err := ContractHash(ctx, "child")
	require.NoError(t, err)
	digest := abi.Keccak256([]byte("child bytecode"))
	assert.Zero(t, hash.(*constant.Int).X.Cmp(new(big.Int).SetBytes(digest[:])))
	assert.Equal(t, int64(abi.DeployerHeaderSize),
		ContractHashSize(ctx, "child").(*constant.Int).X.Int64())
	assert.Equal(t, []string{"child"}, dependency.compiled)

	bare := codegen.NewContext("contract_test", optimizer, nil, nil)
	_, err = ContractHash(bare, "child")
	assert.ErrorIs(t, err, codegen.ErrDependencyManagerUnset)
}

func TestLinkerSymbol(t *testing.T) {
	t.Parallel()

	optimizer := codegen.NewOptimizer(config.OptNone, config.OptNone)
	dependency := &stubDependency{library: "00000000000000000000000000000000deadbeef"}
	ctx := codegen.NewContext("contract_test", optimizer, dependency, nil)

	_, err := LinkerSymbol(ctx, nil)
	assert.ErrorContains(t, err, "linker symbol literal is missing")

	_, err = LinkerSymbol(ctx, []codegen.Argument{codegen.NewArgument(ctx.FieldConst(0))})
	assert.ErrorContains(t, err, "missing")

	resolved, err := LinkerSymbol(ctx, []codegen.Argument{
		codegen.NewArgumentOriginal(ctx.FieldConst(0), "greeter.sol:Greeter"),
	})
	require.NoError(t, err)
	address, ok := resolved.(*constant.Int)
	require.True(t, ok)
	assert.Equal(t, uint64(0xdeadbeef), address.X.Uint64())
}
