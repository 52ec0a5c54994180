package evm

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/llir/llvm/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xplshn/gyul/pkg/abi"
	"github.com/xplshn/gyul/pkg/codegen"
	"github.com/xplshn/gyul/pkg/config"
	"github.com/xplshn/gyul/pkg/interp"
)

// bodyFunc adapts a plain emission function to the three-phase lowering
// protocol, so tests can write contract bodies inline.
type bodyFunc func(ctx *codegen.Context) error

func (bodyFunc) Prepare(*codegen.Context) error { return nil }

func (bodyFunc) Declare(*codegen.Context) error { return nil }

func (f bodyFunc) IntoLLVM(ctx *codegen.Context) error { return f(ctx) }

func stopDeploy(ctx *codegen.Context) error {
	Stop(ctx)
	return nil
}

// stubDependency satisfies the dependency manager with canned answers
// and records what was compiled.
type stubDependency struct {
	hash     string
	library  string
	compiled []string
}

func (d *stubDependency) Compile(name, parent string, levelMiddle, levelBack config.OptimizationLevel, dumpFlags []config.DumpFlag) (string, error) {
	d.compiled = append(d.compiled, name)
	return d.hash, nil
}

func (d *stubDependency) ResolveLibrary(path string) (string, error) {
	if d.library == "" {
		return "", errors.New("library is not linked")
	}
	return d.library, nil
}

func lowerModule(t *testing.T, dependency codegen.Dependency, deploy, runtime func(ctx *codegen.Context) error) *ir.Module {
	t.Helper()
	optimizer := codegen.NewOptimizer(config.OptNone, config.OptNone)
	ctx := codegen.NewContext("contract_test", optimizer, dependency, nil)
	entry := codegen.NewEntry(bodyFunc(deploy), bodyFunc(runtime))
	require.NoError(t, entry.Prepare(ctx))
	require.NoError(t, entry.Declare(ctx))
	require.NoError(t, entry.IntoLLVM(ctx))
	require.NoError(t, ctx.Verify())
	return ctx.Module()
}

// newConstructedMachine runs the deploy transaction so later runs take
// the selector path.
func newConstructedMachine(t *testing.T, module *ir.Module) *interp.Machine {
	t.Helper()
	machine := interp.NewMachine(module)
	_, err := machine.Run(abi.FunctionEntry)
	require.NoError(t, err)
	return machine
}

func runSelector(machine *interp.Machine) error {
	_, err := machine.Run(abi.FunctionEntry)
	return err
}

func returnedWord(t *testing.T, machine *interp.Machine) *uint256.Int {
	t.Helper()
	data := machine.ReturnData()
	require.Len(t, data, abi.SizeField)
	return new(uint256.Int).SetBytes(data)
}

func argOf(ctx *codegen.Context, v uint64) codegen.Argument {
	return codegen.NewArgument(ctx.FieldConst(v))
}

func TestValueGuard(t *testing.T) {
	t.Parallel()

	module := lowerModule(t, nil, stopDeploy, func(ctx *codegen.Context) error {
		callValue := CalldataLoad(ctx, argOf(ctx, 0))
		CheckValueZero(ctx, callValue)
		Stop(ctx)
		return nil
	})

	accepted := newConstructedMachine(t, module)
	accepted.SetCalldata(make([]byte, 32))
	require.NoError(t, runSelector(accepted))

	rejected := newConstructedMachine(t, module)
	transferred := uint256.NewInt(5).Bytes32()
	rejected.SetCalldata(transferred[:])
	assert.ErrorIs(t, runSelector(rejected), interp.ErrReverted)

	// The failure protocol returns the four high bytes of the message
	// digest word.
	assert.Equal(t, uint64(abi.SizeX32), rejected.ParentHeader().Uint64())
	code := abi.ErrorCode(MessageValueNotZero).Bytes32()
	assert.Equal(t, code[:abi.SizeX32], rejected.ReturnData())
}

func TestContextRegisters(t *testing.T) {
	t.Parallel()

	module := lowerModule(t, nil, stopDeploy, func(ctx *codegen.Context) error {
		ctx.BuildStore(ctx.AccessMemory(ctx.FieldConst(64), codegen.SpaceHeap), BlockNumber(ctx))
		ctx.BuildStore(ctx.AccessMemory(ctx.FieldConst(96), codegen.SpaceHeap), BlockTimestamp(ctx))
		Return(ctx, argOf(ctx, 64), argOf(ctx, 2*abi.SizeField))
		return nil
	})

	machine := newConstructedMachine(t, module)
	machine.SetContextValue(abi.ContextBlockNumber, uint256.NewInt(1000))
	machine.SetContextValue(abi.ContextBlockTimestamp, uint256.NewInt(1234567))
	require.NoError(t, runSelector(machine))

	data := machine.ReturnData()
	require.Len(t, data, 2*abi.SizeField)
	assert.Equal(t, uint64(1000), new(uint256.Int).SetBytes(data[:32]).Uint64())
	assert.Equal(t, uint64(1234567), new(uint256.Int).SetBytes(data[32:]).Uint64())
}

func TestReturnRevertStopInvalid(t *testing.T) {
	t.Parallel()

	build := func(runtime func(ctx *codegen.Context) error) *interp.Machine {
		return newConstructedMachine(t, lowerModule(t, nil, stopDeploy, runtime))
	}

	stopped := build(func(ctx *codegen.Context) error {
		Stop(ctx)
		return nil
	})
	require.NoError(t, runSelector(stopped))
	assert.Empty(t, stopped.ReturnData())

	invalid := build(func(ctx *codegen.Context) error {
		Invalid(ctx)
		return nil
	})
	assert.ErrorIs(t, runSelector(invalid), interp.ErrReverted)
	assert.Empty(t, invalid.ReturnData())

	reverted := build(func(ctx *codegen.Context) error {
		ctx.BuildStore(ctx.AccessMemory(ctx.FieldConst(64), codegen.SpaceHeap), ctx.FieldConst(0xdead))
		Revert(ctx, argOf(ctx, 64), argOf(ctx, abi.SizeField))
		return nil
	})
	assert.ErrorIs(t, runSelector(reverted), interp.ErrReverted)
	assert.Equal(t, uint64(0xdead), returnedWord(t, reverted).Uint64())

	returned := build(func(ctx *codegen.Context) error {
		ctx.BuildStore(ctx.AccessMemory(ctx.FieldConst(64), codegen.SpaceHeap), ctx.FieldConst(0xfeed))
		Return(ctx, argOf(ctx, 64), argOf(ctx, abi.SizeField))
		return nil
	})
	require.NoError(t, runSelector(returned))
	assert.Equal(t, uint64(0xfeed), returnedWord(t, returned).Uint64())
}
