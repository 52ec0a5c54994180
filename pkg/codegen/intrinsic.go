package codegen

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"

	"github.com/xplshn/gyul/pkg/util"
)

// Intrinsic enumerates the target machine operations. Each one is
// declared in the module on first use and cached afterwards.
type Intrinsic int

const (
	// IntrinsicStorageLoad reads a storage slot.
	IntrinsicStorageLoad Intrinsic = iota
	// IntrinsicStorageStore writes a storage slot.
	IntrinsicStorageStore
	// IntrinsicFarCall transfers control to another contract.
	IntrinsicFarCall
	// IntrinsicStaticCall transfers control without state access.
	IntrinsicStaticCall
	// IntrinsicSwitchContext activates the child memory before a call.
	IntrinsicSwitchContext
	// IntrinsicGetFromContext reads a register of the execution context.
	IntrinsicGetFromContext
	// IntrinsicMemoryCopy copies between two heap locations.
	IntrinsicMemoryCopy
	// IntrinsicMemoryCopyToChild copies from the heap into child memory.
	IntrinsicMemoryCopyToChild
	// IntrinsicMemoryCopyFromChild copies from child memory into the heap.
	IntrinsicMemoryCopyFromChild
	// IntrinsicMemoryCopyFromParent copies from parent memory into the heap.
	IntrinsicMemoryCopyFromParent
	// IntrinsicMemoryCopyToParent copies from the heap into parent memory.
	IntrinsicMemoryCopyToParent
)

// Name returns the symbol the intrinsic is declared under.
func (intrinsic Intrinsic) Name() string {
	switch intrinsic {
	case IntrinsicStorageLoad:
		return "llvm.syncvm.sload"
	case IntrinsicStorageStore:
		return "llvm.syncvm.sstore"
	case IntrinsicFarCall:
		return "llvm.syncvm.farcall"
	case IntrinsicStaticCall:
		return "llvm.syncvm.staticcall"
	case IntrinsicSwitchContext:
		return "llvm.syncvm.switchcontext"
	case IntrinsicGetFromContext:
		return "llvm.syncvm.getfromcontext"
	case IntrinsicMemoryCopy:
		return "llvm.memcpy.p1i256.p1i256.i256"
	case IntrinsicMemoryCopyToChild:
		return "llvm.memcpy.p3i256.p1i256.i256"
	case IntrinsicMemoryCopyFromChild:
		return "llvm.memcpy.p1i256.p3i256.i256"
	case IntrinsicMemoryCopyFromParent:
		return "llvm.memcpy.p1i256.p2i256.i256"
	case IntrinsicMemoryCopyToParent:
		return "llvm.memcpy.p2i256.p1i256.i256"
	}
	util.Failf("intrinsic function `%d` does not exist", intrinsic)
	return ""
}

// memorySpaces returns the destination and source address spaces of a
// memory copy intrinsic.
func (intrinsic Intrinsic) memorySpaces() (AddressSpace, AddressSpace, bool) {
	switch intrinsic {
	case IntrinsicMemoryCopy:
		return SpaceHeap, SpaceHeap, true
	case IntrinsicMemoryCopyToChild:
		return SpaceChild, SpaceHeap, true
	case IntrinsicMemoryCopyFromChild:
		return SpaceHeap, SpaceChild, true
	case IntrinsicMemoryCopyFromParent:
		return SpaceHeap, SpaceParent, true
	case IntrinsicMemoryCopyToParent:
		return SpaceParent, SpaceHeap, true
	}
	return 0, 0, false
}

// declare adds the intrinsic declaration to the module.
func (intrinsic Intrinsic) declare(module *ir.Module, fieldType *types.IntType) *ir.Func {
	if destination, source, ok := intrinsic.memorySpaces(); ok {
		destinationParam := ir.NewParam("", destination.Pointer(fieldType))
		destinationParam.Attrs = append(destinationParam.Attrs, ir.Align(1))
		sourceParam := ir.NewParam("", source.Pointer(fieldType))
		sourceParam.Attrs = append(sourceParam.Attrs, ir.Align(1))
		return module.NewFunc(intrinsic.Name(), types.Void,
			destinationParam,
			sourceParam,
			ir.NewParam("", fieldType),
			ir.NewParam("", types.I1),
		)
	}

	switch intrinsic {
	case IntrinsicStorageLoad:
		return module.NewFunc(intrinsic.Name(), fieldType,
			ir.NewParam("", fieldType),
			ir.NewParam("", fieldType),
		)
	case IntrinsicStorageStore:
		return module.NewFunc(intrinsic.Name(), types.Void,
			ir.NewParam("", fieldType),
			ir.NewParam("", fieldType),
			ir.NewParam("", fieldType),
		)
	case IntrinsicFarCall, IntrinsicStaticCall:
		return module.NewFunc(intrinsic.Name(), fieldType,
			ir.NewParam("", fieldType),
		)
	case IntrinsicSwitchContext:
		return module.NewFunc(intrinsic.Name(), types.Void)
	case IntrinsicGetFromContext:
		return module.NewFunc(intrinsic.Name(), fieldType,
			ir.NewParam("", fieldType),
		)
	}
	util.Failf("intrinsic function `%d` does not exist", intrinsic)
	return nil
}
