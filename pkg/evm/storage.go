package evm

import (
	"github.com/llir/llvm/ir/value"

	"github.com/xplshn/gyul/pkg/codegen"
)

// StorageLoad reads a storage slot through the storage intrinsic. The
// external storage flag is fixed to false; the cross-contract variant
// is not reachable from this translator.
func StorageLoad(ctx *codegen.Context, position codegen.Argument) value.Value {
	callee := ctx.IntrinsicFunction(codegen.IntrinsicStorageLoad)
	return ctx.BuildCall(callee, position.Value, ctx.FieldConst(0))
}

// StorageStore writes a storage slot through the storage intrinsic.
func StorageStore(ctx *codegen.Context, position, val codegen.Argument) {
	callee := ctx.IntrinsicFunction(codegen.IntrinsicStorageStore)
	ctx.BuildCall(callee, val.Value, position.Value, ctx.FieldConst(0))
}
