package evm

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xplshn/gyul/pkg/abi"
	"github.com/xplshn/gyul/pkg/codegen"
	"github.com/xplshn/gyul/pkg/interp"
)

func TestStorageRoundTrip(t *testing.T) {
	t.Parallel()

	slot := uint256.NewInt(1)
	module := lowerModule(t, nil,
		func(ctx *codegen.Context) error {
			StorageStore(ctx, argOf(ctx, 1), argOf(ctx, 10))
			return nil
		},
		func(ctx *codegen.Context) error {
			count := StorageLoad(ctx, argOf(ctx, 1))
			next := ctx.BasicBlock().NewAdd(count, ctx.FieldConst(1))
			StorageStore(ctx, argOf(ctx, 1), codegen.NewArgument(next))
			ctx.BuildStore(ctx.AccessMemory(ctx.FieldConst(64), codegen.SpaceHeap), next)
			Return(ctx, argOf(ctx, 64), argOf(ctx, abi.SizeField))
			return nil
		})

	machine := newConstructedMachine(t, module)
	assert.Equal(t, uint64(10), machine.Storage(slot).Uint64())

	require.NoError(t, runSelector(machine))
	assert.Equal(t, uint64(11), returnedWord(t, machine).Uint64())
	assert.Equal(t, uint64(11), machine.Storage(slot).Uint64())

	require.NoError(t, runSelector(machine))
	assert.Equal(t, uint64(12), machine.Storage(slot).Uint64())
}

func TestImmutablesLiveAtHashedKeys(t *testing.T) {
	t.Parallel()

	module := lowerModule(t, nil,
		func(ctx *codegen.Context) error {
			ImmutableStore(ctx, "owner", Caller(ctx))
			return nil
		},
		func(ctx *codegen.Context) error {
			owner := ImmutableLoad(ctx, "owner")
			ctx.BuildStore(ctx.AccessMemory(ctx.FieldConst(64), codegen.SpaceHeap), owner)
			Return(ctx, argOf(ctx, 64), argOf(ctx, abi.SizeField))
			return nil
		})

	machine := interp.NewMachine(module)
	machine.SetContextValue(abi.ContextCaller, uint256.NewInt(0xabcde))
	_, err := machine.Run(abi.FunctionEntry)
	require.NoError(t, err)

	// The slot key is the hash of the symbolic name.
	assert.Equal(t, uint64(0xabcde), machine.Storage(abi.StorageKey("owner")).Uint64())

	require.NoError(t, runSelector(machine))
	assert.Equal(t, uint64(0xabcde), returnedWord(t, machine).Uint64())
}
