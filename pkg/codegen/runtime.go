package codegen

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"

	"github.com/xplshn/gyul/pkg/abi"
)

// Runtime is the set of helper functions declared in every module before
// any contract code is emitted. Exception handling and the external
// contract interface are routed through these symbols and resolved by
// the linker.
type Runtime struct {
	Personality  *ir.Func
	CxaThrow     *ir.Func
	FarCall      *ir.Func
	StaticCall   *ir.Func
	StorageLoad  *ir.Func
	StorageStore *ir.Func
	Sha3         *ir.Func
}

// newRuntime declares the runtime functions in the module.
func newRuntime(module *ir.Module) *Runtime {
	fieldType := types.NewInt(abi.BitsField)
	bytePointer := SpaceStack.Pointer(types.I8)
	resultPointer := SpaceStack.Pointer(types.NewStruct(fieldType, types.I1))

	personality := module.NewFunc(abi.FunctionPersonality, types.I32)
	personality.Sig.Variadic = true

	// The unwinder entry keeps its C++ ABI shape and stays free of
	// alignment attributes.
	cxaThrow := module.NewFunc(abi.FunctionCxaThrow, types.Void,
		ir.NewParam("", bytePointer),
		ir.NewParam("", bytePointer),
		ir.NewParam("", bytePointer),
	)
	cxaThrow.FuncAttrs = append(cxaThrow.FuncAttrs, enum.FuncAttrNoReturn)

	farCall := newExternalCall(module, abi.FunctionFarCall, fieldType, resultPointer)
	staticCall := newExternalCall(module, abi.FunctionStaticCall, fieldType, resultPointer)

	storageLoad := module.NewFunc(abi.FunctionStorageLoad, fieldType,
		ir.NewParam("", fieldType),
	)
	storageStore := module.NewFunc(abi.FunctionStorageStore, types.Void,
		ir.NewParam("", fieldType),
		ir.NewParam("", fieldType),
	)
	sha3 := module.NewFunc(abi.FunctionSha3, fieldType,
		ir.NewParam("", fieldType),
		ir.NewParam("", fieldType),
	)

	return &Runtime{
		Personality:  personality,
		CxaThrow:     cxaThrow,
		FarCall:      farCall,
		StaticCall:   staticCall,
		StorageLoad:  storageLoad,
		StorageStore: storageStore,
		Sha3:         sha3,
	}
}

// newExternalCall declares a contract call runtime function taking the
// callee address, the ABI data word and the result pointer.
func newExternalCall(module *ir.Module, name string, fieldType *types.IntType, resultPointer *types.PointerType) *ir.Func {
	result := ir.NewParam("", resultPointer)
	result.Attrs = append(result.Attrs, ir.Align(abi.SizeField))
	function := module.NewFunc(name, resultPointer,
		ir.NewParam("", fieldType),
		ir.NewParam("", fieldType),
		result,
	)
	function.ReturnAttrs = append(function.ReturnAttrs, ir.Align(abi.SizeField))
	return function
}
