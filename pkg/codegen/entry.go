package codegen

import (
	"github.com/llir/llvm/ir/enum"

	"github.com/xplshn/gyul/pkg/abi"
)

// Entry is the contract's external entry point. It lowers both wrapped
// procedures and emits the dispatch between them: the constructor runs
// exactly once, selected by the executed flag in storage.
type Entry struct {
	constructor *Constructor
	selector    *Selector
}

// NewEntry wraps the deploy and runtime code of a contract.
func NewEntry(deployCode, runtimeCode Lowerable) *Entry {
	return &Entry{
		constructor: NewConstructor(deployCode),
		selector:    NewSelector(runtimeCode),
	}
}

// Prepare declares the reserved entry function and forwards to both
// procedures.
func (entry *Entry) Prepare(ctx *Context) error {
	ctx.AddReservedFunction(ReservedEntry, ctx.FunctionType(0, nil), enum.LinkageExternal)
	if err := entry.constructor.Prepare(ctx); err != nil {
		return err
	}
	return entry.selector.Prepare(ctx)
}

// Declare forwards to both procedures.
func (entry *Entry) Declare(ctx *Context) error {
	if err := entry.constructor.Declare(ctx); err != nil {
		return err
	}
	return entry.selector.Declare(ctx)
}

// IntoLLVM emits both procedures and then the dispatch body. The entry
// brackets do not consult the long return flag: the procedure wrappers
// have already turned long returns into normal returns by the time
// control gets back here, so anything unwinding past them is a genuine
// error.
func (entry *Entry) IntoLLVM(ctx *Context) error {
	if err := entry.constructor.IntoLLVM(ctx); err != nil {
		return err
	}
	if err := entry.selector.IntoLLVM(ctx); err != nil {
		return err
	}

	function := ctx.Reserved(ReservedEntry)
	constructorFunction := ctx.Reserved(ReservedConstructor)
	selectorFunction := ctx.Reserved(ReservedSelector)

	ctx.SetFunction(function)
	ctx.SetBasicBlock(function.EntryBlock)

	constructorBlock := ctx.AppendBasicBlock("constructor_call_block")
	selectorBlock := ctx.AppendBasicBlock("selector_call_block")

	position := ctx.FieldConstStr(abi.Keccak256Hex([]byte(abi.StorageConstructorExecuted)))
	flag := ctx.BuildCall(ctx.IntrinsicFunction(IntrinsicStorageLoad), position, ctx.FieldConst(0))
	isExecuted := ctx.BasicBlock().NewICmp(enum.IPredEQ, flag, ctx.FieldConst(1))
	ctx.BuildConditionalBranch(isExecuted, selectorBlock, constructorBlock)

	ctx.SetBasicBlock(constructorBlock)
	ctx.BuildInvoke(constructorFunction.Value)
	ctx.BuildUnconditionalBranch(function.ReturnBlock)

	ctx.SetBasicBlock(selectorBlock)
	ctx.BuildInvoke(selectorFunction.Value)
	ctx.BuildUnconditionalBranch(function.ReturnBlock)

	ctx.BuildThrowBlock(false)
	ctx.BuildCatchBlock(false)

	ctx.SetBasicBlock(function.ReturnBlock)
	ctx.BuildReturn(nil)
	return nil
}
