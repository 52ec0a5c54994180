// Package codegen owns the LLVM IR generation state shared by every
// translator: the module under construction, the function table, the
// emission cursors and the primitives that encode the target machine's
// calling and error conventions.
package codegen

import (
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/golang/glog"
	"github.com/holiman/uint256"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/xplshn/gyul/pkg/abi"
	"github.com/xplshn/gyul/pkg/config"
	"github.com/xplshn/gyul/pkg/util"
)

const (
	targetTriple     = "syncvm-unknown-unknown"
	targetDataLayout = "E-p:256:256-i256:256:256-S32-a:256:256"
)

// Context is the generation hub. It carries the module, the declared
// runtime and intrinsic functions, the table of contract functions and
// the two emission cursors: the current function and the current block.
type Context struct {
	module     *ir.Module
	moduleName string

	optimizer  *Optimizer
	dependency Dependency
	dumpFlags  []config.DumpFlag

	runtime    *Runtime
	functions  map[string]*Function
	reserved   [reservedCount]*Function
	intrinsics map[Intrinsic]*ir.Func

	function  *Function
	block     *ir.Block
	loopStack []Loop
	codeType  CodeType

	fieldType *types.IntType
}

// NewContext creates the generation context for one contract module.
// The dependency manager may be nil; operations that need it then
// return ErrDependencyManagerUnset.
func NewContext(moduleName string, optimizer *Optimizer, dependency Dependency, dumpFlags []config.DumpFlag) *Context {
	module := ir.NewModule()
	module.SourceFilename = moduleName
	module.TargetTriple = targetTriple
	module.DataLayout = targetDataLayout

	ctx := &Context{
		module:     module,
		moduleName: moduleName,
		optimizer:  optimizer,
		dependency: dependency,
		dumpFlags:  dumpFlags,
		runtime:    newRuntime(module),
		functions:  make(map[string]*Function),
		intrinsics: make(map[Intrinsic]*ir.Func),
		loopStack:  make([]Loop, 0, 16),
		fieldType:  types.NewInt(abi.BitsField),
	}
	glog.V(1).Infof("created generation context for module %s", moduleName)
	return ctx
}

// Module returns the module under construction.
func (ctx *Context) Module() *ir.Module {
	return ctx.module
}

// ModuleName returns the name of the contract being compiled.
func (ctx *Context) ModuleName() string {
	return ctx.moduleName
}

// Runtime returns the declared runtime function set.
func (ctx *Context) Runtime() *Runtime {
	return ctx.runtime
}

// HasDumpFlag reports whether the stage dump was requested.
func (ctx *Context) HasDumpFlag(flag config.DumpFlag) bool {
	for _, candidate := range ctx.dumpFlags {
		if candidate == flag {
			return true
		}
	}
	return false
}

// DumpModule writes the textual IR to w if the LLVM dump stage was
// requested.
func (ctx *Context) DumpModule(w io.Writer) error {
	if !ctx.HasDumpFlag(config.DumpLLVM) {
		return nil
	}
	_, err := io.WriteString(w, ctx.module.String())
	return err
}

// SetCodeType selects the procedure being emitted.
func (ctx *Context) SetCodeType(codeType CodeType) {
	util.Assertf(codeType != CodeTypeUndefined, "cannot reset the code type to undefined")
	ctx.codeType = codeType
}

// CodeType returns the procedure being emitted.
func (ctx *Context) CodeType() CodeType {
	util.Assertf(ctx.codeType != CodeTypeUndefined, "the code type is undefined")
	return ctx.codeType
}

//
// Function table.
//

// AddFunction declares a user-defined function and creates its four
// control blocks. Pointer parameters and pointer returns are annotated
// with word alignment, and every function gets the exception
// personality.
func (ctx *Context) AddFunction(name string, funcType *types.FuncType, linkage enum.Linkage) *Function {
	record := ctx.declareFunction(name, funcType, linkage)
	ctx.functions[name] = record
	return record
}

// AddReservedFunction declares one of the well-known contract
// functions. Each may be declared at most once per module.
func (ctx *Context) AddReservedFunction(reserved ReservedFunction, funcType *types.FuncType, linkage enum.Linkage) *Function {
	util.Assertf(ctx.reserved[reserved] == nil, "function %s is already declared", reserved.Name())
	record := ctx.declareFunction(reserved.Name(), funcType, linkage)
	ctx.reserved[reserved] = record
	return record
}

func (ctx *Context) declareFunction(name string, funcType *types.FuncType, linkage enum.Linkage) *Function {
	params := make([]*ir.Param, 0, len(funcType.Params))
	for _, paramType := range funcType.Params {
		param := ir.NewParam("", paramType)
		if _, ok := paramType.(*types.PointerType); ok {
			param.Attrs = append(param.Attrs, ir.Align(abi.SizeField))
		}
		params = append(params, param)
	}

	function := ctx.module.NewFunc(name, funcType.RetType, params...)
	function.Linkage = linkage
	function.Personality = ctx.runtime.Personality
	if _, ok := funcType.RetType.(*types.PointerType); ok {
		function.ReturnAttrs = append(function.ReturnAttrs, ir.Align(abi.SizeField))
	}

	entry := function.NewBlock("entry")
	throw := function.NewBlock("throw")
	catch := function.NewBlock("catch")
	ret := function.NewBlock("return")

	record := newFunction(name, function, entry, throw, catch, ret)
	glog.V(2).Infof("declared function %s in module %s", name, ctx.moduleName)
	return record
}

// AddFunctionEVM declares a function carrying legacy assembly metadata.
func (ctx *Context) AddFunctionEVM(name string, funcType *types.FuncType, linkage enum.Linkage, evmData *EVMData) *Function {
	record := ctx.AddFunction(name, funcType, linkage)
	record.EVMData = evmData
	return record
}

// LookupFunction finds a declared user-defined function by name.
func (ctx *Context) LookupFunction(name string) (*Function, bool) {
	function, ok := ctx.functions[name]
	return function, ok
}

// Reserved returns a well-known contract function. A missing
// declaration is a programmer error: the wrappers declare all three
// before any body is emitted.
func (ctx *Context) Reserved(reserved ReservedFunction) *Function {
	record := ctx.reserved[reserved]
	util.Assertf(record != nil, "function %s is not declared", reserved.Name())
	return record
}

// IsReserved reports whether function is one of the well-known contract
// functions, the outermost frames whose normal exits return to the
// machine rather than to another function.
func (ctx *Context) IsReserved(function *Function) bool {
	for _, candidate := range ctx.reserved {
		if candidate != nil && candidate == function {
			return true
		}
	}
	return false
}

// SetFunction selects the function emission happens in.
func (ctx *Context) SetFunction(function *Function) {
	ctx.function = function
}

// Function returns the function emission happens in.
func (ctx *Context) Function() *Function {
	util.Assertf(ctx.function != nil, "the current function is unset")
	return ctx.function
}

//
// Block cursor.
//

// SetBasicBlock positions emission at the end of block.
func (ctx *Context) SetBasicBlock(block *ir.Block) {
	ctx.block = block
}

// BasicBlock returns the block emission happens in. Translators may use
// it directly for plain instructions; the Build helpers encode the
// conventions that go beyond a single instruction.
func (ctx *Context) BasicBlock() *ir.Block {
	util.Assertf(ctx.block != nil, "the current basic block is unset")
	return ctx.block
}

// AppendBasicBlock adds a block to the current function. The name is
// disambiguated against every block created in the function so far.
func (ctx *Context) AppendBasicBlock(name string) *ir.Block {
	function := ctx.Function()
	return function.Value.NewBlock(function.uniqueBlockName(name))
}

//
// Loop stack.
//

// PushLoop enters a loop.
func (ctx *Context) PushLoop(bodyBlock, continueBlock, joinBlock *ir.Block) {
	ctx.loopStack = append(ctx.loopStack, NewLoop(bodyBlock, continueBlock, joinBlock))
}

// PopLoop leaves the innermost loop.
func (ctx *Context) PopLoop() {
	util.Assertf(len(ctx.loopStack) > 0, "the current context is not in a loop")
	ctx.loopStack = ctx.loopStack[:len(ctx.loopStack)-1]
}

// Loop returns the innermost loop.
func (ctx *Context) Loop() Loop {
	util.Assertf(len(ctx.loopStack) > 0, "the current context is not in a loop")
	return ctx.loopStack[len(ctx.loopStack)-1]
}

//
// Types.
//

// FieldType returns the native word type.
func (ctx *Context) FieldType() *types.IntType {
	return ctx.fieldType
}

// IntegerType returns the integer type of the given bit width.
func (ctx *Context) IntegerType(bits uint64) *types.IntType {
	return types.NewInt(bits)
}

// StructType returns the structure type with the given field types.
func (ctx *Context) StructType(fields ...types.Type) *types.StructType {
	return types.NewStruct(fields...)
}

// FunctionType assembles a function type from the number of return
// values. Zero returns void, one returns a word, and several return a
// stack pointer to a structure which is also prepended to the argument
// list.
func (ctx *Context) FunctionType(returnValues int, argumentTypes []types.Type) *types.FuncType {
	switch returnValues {
	case 0:
		return types.NewFunc(types.Void, argumentTypes...)
	case 1:
		return types.NewFunc(ctx.fieldType, argumentTypes...)
	}

	returnFields := make([]types.Type, returnValues)
	for index := range returnFields {
		returnFields[index] = ctx.fieldType
	}
	returnPointer := SpaceStack.Pointer(types.NewStruct(returnFields...))
	arguments := append([]types.Type{returnPointer}, argumentTypes...)
	return types.NewFunc(returnPointer, arguments...)
}

//
// Constants.
//

// FieldConst returns a word constant.
func (ctx *Context) FieldConst(v uint64) *constant.Int {
	return &constant.Int{Typ: ctx.fieldType, X: new(big.Int).SetUint64(v)}
}

// FieldConstUint256 returns a word constant from a 256-bit integer.
func (ctx *Context) FieldConstUint256(v *uint256.Int) *constant.Int {
	return &constant.Int{Typ: ctx.fieldType, X: v.ToBig()}
}

// FieldConstStr returns a word constant from a hexadecimal string with
// an optional 0x prefix.
func (ctx *Context) FieldConstStr(v string) *constant.Int {
	return ctx.FieldConstStrHex(strings.TrimPrefix(v, "0x"))
}

// FieldConstStrDec returns a word constant from a decimal string.
func (ctx *Context) FieldConstStrDec(v string) *constant.Int {
	parsed, ok := new(big.Int).SetString(v, 10)
	util.Assertf(ok && parsed.Sign() >= 0 && parsed.BitLen() <= abi.BitsField,
		"invalid string constant `%s`", v)
	return &constant.Int{Typ: ctx.fieldType, X: parsed}
}

// FieldConstStrHex returns a word constant from a hexadecimal string
// without a prefix.
func (ctx *Context) FieldConstStrHex(v string) *constant.Int {
	parsed, ok := new(big.Int).SetString(v, 16)
	util.Assertf(ok && parsed.Sign() >= 0 && parsed.BitLen() <= abi.BitsField,
		"invalid string constant `%s`", v)
	return &constant.Int{Typ: ctx.fieldType, X: parsed}
}

//
// Intrinsics.
//

// IntrinsicFunction returns the declaration of a machine intrinsic,
// declaring it on first use.
func (ctx *Context) IntrinsicFunction(intrinsic Intrinsic) *ir.Func {
	if function, ok := ctx.intrinsics[intrinsic]; ok {
		return function
	}
	function := intrinsic.declare(ctx.module, ctx.fieldType)
	ctx.intrinsics[intrinsic] = function
	return function
}

//
// Emission primitives.
//

// BuildAlloca emits a word-aligned stack allocation in the current
// block.
func (ctx *Context) BuildAlloca(elemType types.Type) value.Value {
	alloca := ctx.BasicBlock().NewAlloca(elemType)
	alloca.Align = ir.Align(abi.SizeField)
	return alloca
}

// BuildLoad emits a load through pointer with the alignment of its
// address space.
func (ctx *Context) BuildLoad(pointer value.Value) value.Value {
	pointerType := pointerTypeOf(pointer)
	load := ctx.BasicBlock().NewLoad(pointerType.ElemType, pointer)
	load.Align = AddressSpace(pointerType.AddrSpace).Alignment()
	return load
}

// BuildStore emits a store through pointer with the alignment of its
// address space.
func (ctx *Context) BuildStore(pointer value.Value, val value.Value) {
	store := ctx.BasicBlock().NewStore(val, pointer)
	store.Align = AddressSpace(pointerTypeOf(pointer).AddrSpace).Alignment()
}

// BuildConditionalBranch terminates the current block with a
// conditional branch. A block that is already terminated is left
// untouched.
func (ctx *Context) BuildConditionalBranch(condition value.Value, thenBlock, elseBlock *ir.Block) {
	block := ctx.BasicBlock()
	if block.Term != nil {
		return
	}
	block.NewCondBr(condition, thenBlock, elseBlock)
}

// BuildUnconditionalBranch terminates the current block with a branch.
// A block that is already terminated is left untouched.
func (ctx *Context) BuildUnconditionalBranch(destination *ir.Block) {
	block := ctx.BasicBlock()
	if block.Term != nil {
		return
	}
	block.NewBr(destination)
}

// BuildReturn terminates the current block with a return. A block that
// is already terminated is left untouched.
func (ctx *Context) BuildReturn(val value.Value) {
	block := ctx.BasicBlock()
	if block.Term != nil {
		return
	}
	block.NewRet(val)
}

// BuildUnreachable terminates the current block with an unreachable
// marker. A block that is already terminated is left untouched.
func (ctx *Context) BuildUnreachable() {
	block := ctx.BasicBlock()
	if block.Term != nil {
		return
	}
	block.NewUnreachable()
}

// BuildCall emits a direct call and returns its result, or nil for a
// void callee.
func (ctx *Context) BuildCall(callee *ir.Func, args ...value.Value) value.Value {
	call := ctx.BasicBlock().NewCall(callee, args...)
	if types.Equal(callee.Sig.RetType, types.Void) {
		return nil
	}
	return call
}

// BuildInvoke emits a call whose exception edge lands in the current
// function's catch block. Emission continues in a fresh join block on
// the normal edge. The result is nil for a void callee.
func (ctx *Context) BuildInvoke(callee *ir.Func, args ...value.Value) value.Value {
	joinBlock := ctx.AppendBasicBlock("join")
	invoke := ctx.BasicBlock().NewInvoke(callee, args, joinBlock, ctx.Function().CatchBlock)
	ctx.SetBasicBlock(joinBlock)
	if types.Equal(callee.Sig.RetType, types.Void) {
		return nil
	}
	return invoke
}

// BuildMemcpy emits a non-volatile memory copy through the given
// intrinsic.
func (ctx *Context) BuildMemcpy(intrinsic Intrinsic, destination, source, size value.Value) {
	_, _, ok := intrinsic.memorySpaces()
	util.Assertf(ok, "intrinsic `%s` is not a memory copy", intrinsic.Name())
	callee := ctx.IntrinsicFunction(intrinsic)
	ctx.BasicBlock().NewCall(callee, destination, source, size, constant.NewInt(types.I1, 0))
}

//
// Error protocol.
//

// BuildThrowBlock emits the throw block body: upper-level functions
// first test the long return flag, then the exception is raised.
func (ctx *Context) BuildThrowBlock(isUpperLevel bool) {
	ctx.SetBasicBlock(ctx.Function().ThrowBlock)
	if isUpperLevel {
		ctx.buildLongReturnGate()
	}
	ctx.buildThrow()
}

// BuildCatchBlock emits the catch block body: the landing pad, the long
// return test for functions that handle it, and the rethrow.
func (ctx *Context) BuildCatchBlock(handlesLongReturn bool) {
	ctx.SetBasicBlock(ctx.Function().CatchBlock)
	bytePointer := SpaceStack.Pointer(types.I8)
	padType := types.NewStruct(bytePointer, types.I32)
	ctx.BasicBlock().NewLandingPad(padType,
		ir.NewClause(enum.ClauseTypeCatch, constant.NewNull(bytePointer)))
	if handlesLongReturn {
		ctx.buildLongReturnGate()
	}
	ctx.buildThrow()
}

// buildLongReturnGate branches to the return block when the long return
// flag is set, leaving emission in a fresh block for the failure path.
func (ctx *Context) buildLongReturnGate() {
	noLongReturnBlock := ctx.AppendBasicBlock("no_long_return_block")
	flagPointer := ctx.AccessMemory(ctx.FieldConst(abi.LongReturnOffset*abi.SizeField), SpaceHeap)
	flag := ctx.BuildLoad(flagPointer)
	isSet := ctx.BasicBlock().NewICmp(enum.IPredEQ, flag, ctx.FieldConst(1))
	ctx.BuildConditionalBranch(isSet, ctx.Function().ReturnBlock, noLongReturnBlock)
	ctx.SetBasicBlock(noLongReturnBlock)
}

// buildThrow raises the exception with null arguments and seals the
// block.
func (ctx *Context) buildThrow() {
	null := constant.NewNull(SpaceStack.Pointer(types.I8))
	ctx.BuildCall(ctx.runtime.CxaThrow, null, null, null)
	ctx.BuildUnreachable()
}

//
// Memory and context access.
//

// AccessMemory turns a byte offset into a word pointer in the given
// address space.
func (ctx *Context) AccessMemory(offset value.Value, space AddressSpace) value.Value {
	return ctx.BasicBlock().NewIntToPtr(offset, space.Pointer(ctx.fieldType))
}

// AccessContext reads a register of the execution context.
func (ctx *Context) AccessContext(contextValue abi.ContextValue) value.Value {
	callee := ctx.IntrinsicFunction(IntrinsicGetFromContext)
	return ctx.BuildCall(callee, ctx.FieldConst(uint64(contextValue)))
}

// ReadHeader loads the header word of the given address space.
func (ctx *Context) ReadHeader(space AddressSpace) value.Value {
	pointer := ctx.AccessMemory(ctx.FieldConst(abi.HeaderOffset*abi.SizeField), space)
	return ctx.BuildLoad(pointer)
}

// WriteHeader stores the header word of the given address space.
func (ctx *Context) WriteHeader(header value.Value, space AddressSpace) {
	pointer := ctx.AccessMemory(ctx.FieldConst(abi.HeaderOffset*abi.SizeField), space)
	ctx.BuildStore(pointer, header)
}

// WriteError emits the failure protocol: an error header in the parent
// memory and the leading four digest bytes of the message shifted into
// the high bytes of the data word.
func (ctx *Context) WriteError(message string) {
	ctx.WriteHeader(ctx.FieldConst(abi.SizeX32), SpaceParent)
	code := ctx.FieldConstStr(abi.Keccak256Hex([]byte(message))[:abi.SizeX32*2])
	shifted := ctx.BasicBlock().NewShl(code, ctx.FieldConst(abi.BitsByte*(abi.SizeField-abi.SizeX32)))
	pointer := ctx.AccessMemory(ctx.FieldConst(abi.DataOffset*abi.SizeField), SpaceParent)
	ctx.BuildStore(pointer, shifted)
}

//
// Dependencies.
//

// CompileDependency compiles a contract dependency through the manager
// and returns its bytecode hash.
func (ctx *Context) CompileDependency(name string) (string, error) {
	if ctx.dependency == nil {
		return "", ErrDependencyManagerUnset
	}
	hash, err := ctx.dependency.Compile(name, ctx.moduleName,
		ctx.optimizer.LevelMiddle(), ctx.optimizer.LevelBack(), ctx.dumpFlags)
	if err != nil {
		return "", fmt.Errorf("compiling dependency %s: %w", name, err)
	}
	glog.V(1).Infof("compiled dependency %s of module %s", name, ctx.moduleName)
	return hash, nil
}

// ResolveLibrary resolves a deployed library path to its address
// constant through the manager.
func (ctx *Context) ResolveLibrary(path string) (value.Value, error) {
	if ctx.dependency == nil {
		return nil, ErrDependencyManagerUnset
	}
	address, err := ctx.dependency.ResolveLibrary(path)
	if err != nil {
		return nil, fmt.Errorf("resolving library %s: %w", path, err)
	}
	return ctx.FieldConstStr(address), nil
}

//
// Finalization.
//

// Optimize runs the configured passes over every declared function and
// the module. It reports whether anything changed.
func (ctx *Context) Optimize() bool {
	changed := false
	for _, function := range ctx.functions {
		if ctx.optimizer.RunOnFunction(function) {
			changed = true
		}
	}
	for _, function := range ctx.reserved {
		if function != nil && ctx.optimizer.RunOnFunction(function) {
			changed = true
		}
	}
	if ctx.optimizer.RunOnModule(ctx.module) {
		changed = true
	}
	glog.V(1).Infof("optimized module %s, changed: %v", ctx.moduleName, changed)
	return changed
}

// Verify checks the structural invariants of the emitted module: every
// block of every defined function is terminated, and every exception
// edge lands on a landing pad.
func (ctx *Context) Verify() error {
	for _, function := range ctx.module.Funcs {
		for _, block := range function.Blocks {
			if block.Term == nil {
				return fmt.Errorf("function %s: block %s is not terminated", function.Name(), block.LocalName)
			}
			invoke, ok := block.Term.(*ir.TermInvoke)
			if !ok {
				continue
			}
			successors := invoke.Succs()
			if len(successors) != 2 {
				return fmt.Errorf("function %s: block %s: malformed invoke", function.Name(), block.LocalName)
			}
			exception := successors[1]
			if len(exception.Insts) == 0 {
				return fmt.Errorf("function %s: block %s is not a landing pad", function.Name(), exception.LocalName)
			}
			if _, ok := exception.Insts[0].(*ir.InstLandingPad); !ok {
				return fmt.Errorf("function %s: block %s is not a landing pad", function.Name(), exception.LocalName)
			}
		}
	}
	return nil
}

// pointerTypeOf asserts that val is a pointer and returns its type.
func pointerTypeOf(val value.Value) *types.PointerType {
	pointerType, ok := val.Type().(*types.PointerType)
	util.Assertf(ok, "memory access through a non-pointer value of type %s", val.Type())
	return pointerType
}
