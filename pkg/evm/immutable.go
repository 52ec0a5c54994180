package evm

import (
	"github.com/llir/llvm/ir/value"

	"github.com/xplshn/gyul/pkg/abi"
	"github.com/xplshn/gyul/pkg/codegen"
)

// ImmutableLoad reads a named immutable slot. The slot key is the hash
// of the symbolic name, giving content-addressed per-contract slots.
func ImmutableLoad(ctx *codegen.Context, key string) value.Value {
	position := ctx.FieldConstStr(abi.Keccak256Hex([]byte(key)))
	return ctx.BuildCall(ctx.Runtime().StorageLoad, position)
}

// ImmutableStore writes a named immutable slot.
func ImmutableStore(ctx *codegen.Context, key string, val value.Value) {
	position := ctx.FieldConstStr(abi.Keccak256Hex([]byte(key)))
	ctx.BuildCall(ctx.Runtime().StorageStore, val, position)
}
