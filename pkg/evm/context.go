package evm

import (
	"github.com/llir/llvm/ir/value"

	"github.com/xplshn/gyul/pkg/abi"
	"github.com/xplshn/gyul/pkg/codegen"
)

// Address reads the executing contract's address.
func Address(ctx *codegen.Context) value.Value {
	return ctx.AccessContext(abi.ContextAddress)
}

// Caller reads the calling contract's address.
func Caller(ctx *codegen.Context) value.Value {
	return ctx.AccessContext(abi.ContextCaller)
}

// Origin reads the transaction origin address.
func Origin(ctx *codegen.Context) value.Value {
	return ctx.AccessContext(abi.ContextOrigin)
}

// GasLeft reads the remaining gas counter.
func GasLeft(ctx *codegen.Context) value.Value {
	return ctx.AccessContext(abi.ContextGasLeft)
}

// BlockNumber reads the current block number.
func BlockNumber(ctx *codegen.Context) value.Value {
	return ctx.AccessContext(abi.ContextBlockNumber)
}

// BlockTimestamp reads the current block timestamp.
func BlockTimestamp(ctx *codegen.Context) value.Value {
	return ctx.AccessContext(abi.ContextBlockTimestamp)
}
