package codegen

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"

	"github.com/xplshn/gyul/pkg/abi"
)

// AddressSpace enumerates the logical memory regions of the target
// machine. The numeric values are the address space tags carried by
// pointer types in the IR.
type AddressSpace int

const (
	// SpaceStack is the function-local, natively word-aligned memory.
	SpaceStack AddressSpace = iota
	// SpaceHeap is the contract's own byte-addressable memory.
	SpaceHeap
	// SpaceParent is the memory of the calling contract.
	SpaceParent
	// SpaceChild is the memory of the called contract.
	SpaceChild
)

func (space AddressSpace) String() string {
	switch space {
	case SpaceStack:
		return "stack"
	case SpaceHeap:
		return "heap"
	case SpaceParent:
		return "parent"
	case SpaceChild:
		return "child"
	}
	return "unknown"
}

// Pointer returns the pointer type to elem tagged with the address space.
func (space AddressSpace) Pointer(elem types.Type) *types.PointerType {
	return &types.PointerType{ElemType: elem, AddrSpace: types.AddrSpace(space)}
}

// Alignment returns the byte alignment used for loads and stores through
// pointers in the address space. Stack memory is word-aligned; the
// foreign regions are byte-addressable.
func (space AddressSpace) Alignment() ir.Align {
	if space == SpaceStack {
		return ir.Align(abi.SizeField)
	}
	return ir.Align(1)
}
