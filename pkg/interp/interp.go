// Package interp evaluates emitted modules directly, executing their
// instruction sequences against modeled storage, address space memories
// and far call handlers. It exists to exercise generated code without a
// target toolchain. The memory model is word-oriented: every value
// occupies one 32-byte cell and structure fields are cell-indexed.
package interp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/xplshn/gyul/pkg/abi"
	"github.com/xplshn/gyul/pkg/codegen"
)

// ErrReverted reports that execution unwound past the entry frame.
var ErrReverted = errors.New("execution reverted")

// errUnwind travels up interpreter frames until an invoke's exception
// edge catches it.
var errUnwind = errors.New("unwound exception")

// FarCallHandler models the contract behind an address. It receives the
// marshaled input bytes and returns the output bytes and the success
// flag.
type FarCallHandler func(m *Machine, input []byte) ([]byte, bool)

// word is the universal runtime value: one 256-bit integer, optionally
// tagged as a pointer into an address space.
type word struct {
	value   uint256.Int
	space   codegen.AddressSpace
	pointer bool
}

func plain(v *uint256.Int) word {
	return word{value: *v}
}

func ref(v *uint256.Int) *word {
	w := plain(v)
	return &w
}

// Machine holds the mutable state a module executes against.
type Machine struct {
	module *ir.Module

	memories map[codegen.AddressSpace][]byte
	storage  map[uint256.Int]uint256.Int
	context  map[abi.ContextValue]uint256.Int
	handlers map[uint256.Int]FarCallHandler

	stackPointer uint64
}

// NewMachine creates a machine for one emitted module.
func NewMachine(module *ir.Module) *Machine {
	return &Machine{
		module:       module,
		memories:     make(map[codegen.AddressSpace][]byte),
		storage:      make(map[uint256.Int]uint256.Int),
		context:      make(map[abi.ContextValue]uint256.Int),
		handlers:     make(map[uint256.Int]FarCallHandler),
		stackPointer: abi.SizeField,
	}
}

// SetContextValue sets a context register.
func (m *Machine) SetContextValue(register abi.ContextValue, v *uint256.Int) {
	m.context[register] = *v
}

// SetStorage writes a storage slot.
func (m *Machine) SetStorage(position, v *uint256.Int) {
	m.storage[*position] = *v
}

// Storage reads a storage slot.
func (m *Machine) Storage(position *uint256.Int) *uint256.Int {
	v := m.storage[*position]
	return new(uint256.Int).Set(&v)
}

// RegisterFarCall installs the handler behind an address.
func (m *Machine) RegisterFarCall(address *uint256.Int, handler FarCallHandler) {
	m.handlers[*address] = handler
}

// WriteMemory copies data into an address space at offset.
func (m *Machine) WriteMemory(space codegen.AddressSpace, offset uint64, data []byte) {
	memory := m.ensure(space, offset+uint64(len(data)))
	copy(memory[offset:], data)
}

// ReadMemory copies length bytes out of an address space.
func (m *Machine) ReadMemory(space codegen.AddressSpace, offset, length uint64) []byte {
	memory := m.ensure(space, offset+length)
	out := make([]byte, length)
	copy(out, memory[offset:])
	return out
}

// SetCalldata stages calldata in the parent region: the length in the
// header word, the payload in the data region.
func (m *Machine) SetCalldata(data []byte) {
	m.writeWord(codegen.SpaceParent, abi.HeaderOffset*abi.SizeField, uint256.NewInt(uint64(len(data))))
	m.WriteMemory(codegen.SpaceParent, abi.DataOffset*abi.SizeField, data)
}

// ReturnData reads what the module returned to its parent: the length
// from the header's low bits, the payload from the data region.
func (m *Machine) ReturnData() []byte {
	header := m.readWord(codegen.SpaceParent, abi.HeaderOffset*abi.SizeField)
	length := header.Uint64() & 0xffffffff
	return m.ReadMemory(codegen.SpaceParent, abi.DataOffset*abi.SizeField, length)
}

// ParentHeader reads the parent header word.
func (m *Machine) ParentHeader() *uint256.Int {
	return m.readWord(codegen.SpaceParent, abi.HeaderOffset*abi.SizeField)
}

func (m *Machine) ensure(space codegen.AddressSpace, end uint64) []byte {
	memory := m.memories[space]
	if uint64(len(memory)) < end {
		grown := make([]byte, end)
		copy(grown, memory)
		memory = grown
		m.memories[space] = memory
	}
	return memory
}

func (m *Machine) writeWord(space codegen.AddressSpace, offset uint64, v *uint256.Int) {
	bytes := v.Bytes32()
	m.WriteMemory(space, offset, bytes[:])
}

func (m *Machine) readWord(space codegen.AddressSpace, offset uint64) *uint256.Int {
	return new(uint256.Int).SetBytes(m.ReadMemory(space, offset, abi.SizeField))
}

// Run executes a defined function by name. An exception unwinding past
// the outermost frame reports ErrReverted.
func (m *Machine) Run(name string, args ...*uint256.Int) (*uint256.Int, error) {
	var function *ir.Func
	for _, candidate := range m.module.Funcs {
		if candidate.Name() == name {
			function = candidate
			break
		}
	}
	if function == nil {
		return nil, fmt.Errorf("function %s is not defined", name)
	}
	if len(function.Blocks) == 0 {
		return nil, fmt.Errorf("function %s has no body", name)
	}
	words := make([]word, len(args))
	for index, arg := range args {
		words[index] = plain(arg)
	}
	result, err := m.interpret(function, words)
	if err != nil {
		if errors.Is(err, errUnwind) {
			return nil, ErrReverted
		}
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	out := result.value
	return &out, nil
}

// frame is one function activation.
type frame struct {
	machine *Machine
	env     map[value.Value]word
}

func (m *Machine) interpret(function *ir.Func, args []word) (*word, error) {
	if len(args) != len(function.Params) {
		return nil, fmt.Errorf("function %s: want %d arguments, got %d",
			function.Name(), len(function.Params), len(args))
	}
	f := &frame{machine: m, env: make(map[value.Value]word)}
	for index, param := range function.Params {
		f.env[param] = args[index]
	}

	block := function.Blocks[0]
	for step := 0; ; step++ {
		if step >= 1<<20 {
			return nil, fmt.Errorf("function %s: step limit exceeded", function.Name())
		}
		for _, inst := range block.Insts {
			if err := f.execute(inst); err != nil {
				return nil, err
			}
		}
		switch term := block.Term.(type) {
		case *ir.TermBr:
			block = term.Succs()[0]
		case *ir.TermCondBr:
			condition, err := f.eval(term.Cond)
			if err != nil {
				return nil, err
			}
			if condition.value.IsZero() {
				block = term.Succs()[1]
			} else {
				block = term.Succs()[0]
			}
		case *ir.TermRet:
			if term.X == nil {
				return nil, nil
			}
			result, err := f.eval(term.X)
			if err != nil {
				return nil, err
			}
			return &result, nil
		case *ir.TermInvoke:
			result, err := f.call(term.Invokee, term.Args)
			if err != nil {
				if errors.Is(err, errUnwind) {
					block = term.Succs()[1]
					continue
				}
				return nil, err
			}
			if result != nil {
				f.env[term] = *result
			}
			block = term.Succs()[0]
		case *ir.TermUnreachable:
			return nil, fmt.Errorf("function %s: unreachable executed", function.Name())
		default:
			return nil, fmt.Errorf("function %s: unsupported terminator %T", function.Name(), block.Term)
		}
	}
}

func (f *frame) execute(inst ir.Instruction) error {
	switch inst := inst.(type) {
	case *ir.InstAlloca:
		pointer := word{value: *uint256.NewInt(f.machine.stackPointer), space: codegen.SpaceStack, pointer: true}
		f.machine.stackPointer += typeSize(inst.ElemType)
		f.machine.ensure(codegen.SpaceStack, f.machine.stackPointer)
		f.env[inst] = pointer
	case *ir.InstLoad:
		pointer, err := f.eval(inst.Src)
		if err != nil {
			return err
		}
		if !pointer.pointer {
			return fmt.Errorf("load through a non-pointer value")
		}
		f.env[inst] = plain(f.machine.readWord(pointer.space, pointer.value.Uint64()))
	case *ir.InstStore:
		val, pointer, err := f.operands(inst.Src, inst.Dst)
		if err != nil {
			return err
		}
		if !pointer.pointer {
			return fmt.Errorf("store through a non-pointer value")
		}
		f.machine.writeWord(pointer.space, pointer.value.Uint64(), &val.value)
	case *ir.InstIntToPtr:
		from, err := f.eval(inst.From)
		if err != nil {
			return err
		}
		f.env[inst] = word{value: from.value, space: pointerSpace(inst.To), pointer: true}
	case *ir.InstGetElementPtr:
		return f.executeGetElementPtr(inst)
	case *ir.InstICmp:
		return f.executeICmp(inst)
	case *ir.InstAdd:
		return f.executeBinary(inst, inst.X, inst.Y, (*uint256.Int).Add)
	case *ir.InstSub:
		return f.executeBinary(inst, inst.X, inst.Y, (*uint256.Int).Sub)
	case *ir.InstMul:
		return f.executeBinary(inst, inst.X, inst.Y, (*uint256.Int).Mul)
	case *ir.InstAnd:
		return f.executeBinary(inst, inst.X, inst.Y, (*uint256.Int).And)
	case *ir.InstOr:
		return f.executeBinary(inst, inst.X, inst.Y, (*uint256.Int).Or)
	case *ir.InstXor:
		return f.executeBinary(inst, inst.X, inst.Y, (*uint256.Int).Xor)
	case *ir.InstShl:
		return f.executeShift(inst, inst.X, inst.Y, (*uint256.Int).Lsh)
	case *ir.InstLShr:
		return f.executeShift(inst, inst.X, inst.Y, (*uint256.Int).Rsh)
	case *ir.InstCall:
		result, err := f.call(inst.Callee, inst.Args)
		if err != nil {
			return err
		}
		if result != nil {
			f.env[inst] = *result
		}
	case *ir.InstLandingPad:
		f.env[inst] = word{}
	default:
		return fmt.Errorf("unsupported instruction %T", inst)
	}
	return nil
}

func (f *frame) executeBinary(inst value.Value, x, y value.Value, op func(z, x, y *uint256.Int) *uint256.Int) error {
	a, b, err := f.operands(x, y)
	if err != nil {
		return err
	}
	result := new(uint256.Int)
	op(result, &a.value, &b.value)
	f.env[inst] = plain(result)
	return nil
}

func (f *frame) executeShift(inst value.Value, x, y value.Value, op func(z, x *uint256.Int, n uint) *uint256.Int) error {
	a, b, err := f.operands(x, y)
	if err != nil {
		return err
	}
	result := new(uint256.Int)
	if b.value.LtUint64(abi.BitsField) {
		op(result, &a.value, uint(b.value.Uint64()))
	}
	f.env[inst] = plain(result)
	return nil
}

func (f *frame) executeICmp(inst *ir.InstICmp) error {
	x, y, err := f.operands(inst.X, inst.Y)
	if err != nil {
		return err
	}
	cmp := x.value.Cmp(&y.value)
	var truth bool
	switch inst.Pred {
	case enum.IPredEQ:
		truth = cmp == 0
	case enum.IPredNE:
		truth = cmp != 0
	case enum.IPredULT:
		truth = cmp < 0
	case enum.IPredULE:
		truth = cmp <= 0
	case enum.IPredUGT:
		truth = cmp > 0
	case enum.IPredUGE:
		truth = cmp >= 0
	default:
		return fmt.Errorf("unsupported comparison predicate %v", inst.Pred)
	}
	if truth {
		f.env[inst] = plain(uint256.NewInt(1))
	} else {
		f.env[inst] = plain(uint256.NewInt(0))
	}
	return nil
}

func (f *frame) executeGetElementPtr(inst *ir.InstGetElementPtr) error {
	base, err := f.eval(inst.Src)
	if err != nil {
		return err
	}
	offset := base.value.Uint64()
	cursor := inst.ElemType
	for position, index := range inst.Indices {
		indexWord, err := f.eval(index)
		if err != nil {
			return err
		}
		n := indexWord.value.Uint64()
		if position == 0 {
			offset += n * typeSize(cursor)
			continue
		}
		switch cursorType := cursor.(type) {
		case *types.StructType:
			offset += n * abi.SizeField
			cursor = cursorType.Fields[n]
		case *types.ArrayType:
			offset += n * typeSize(cursorType.ElemType)
			cursor = cursorType.ElemType
		default:
			return fmt.Errorf("unsupported element access into %s", cursor)
		}
	}
	f.env[inst] = word{value: *uint256.NewInt(offset), space: base.space, pointer: true}
	return nil
}

func (f *frame) call(callee value.Value, args []value.Value) (*word, error) {
	function, ok := callee.(*ir.Func)
	if !ok {
		return nil, fmt.Errorf("indirect calls are not supported")
	}
	words := make([]word, len(args))
	for index, arg := range args {
		evaluated, err := f.eval(arg)
		if err != nil {
			return nil, err
		}
		words[index] = evaluated
	}
	if len(function.Blocks) > 0 {
		return f.machine.interpret(function, words)
	}
	return f.machine.builtin(function.Name(), words)
}

func (f *frame) eval(v value.Value) (word, error) {
	switch v := v.(type) {
	case *constant.Int:
		n, overflow := uint256.FromBig(v.X)
		if overflow {
			return word{}, fmt.Errorf("constant does not fit the word: %s", v.X)
		}
		return plain(n), nil
	case *constant.Null:
		return word{space: pointerSpace(v.Typ), pointer: true}, nil
	}
	if bound, ok := f.env[v]; ok {
		return bound, nil
	}
	return word{}, fmt.Errorf("use of an unbound value %s", v.Ident())
}

func (f *frame) operands(x, y value.Value) (word, word, error) {
	a, err := f.eval(x)
	if err != nil {
		return word{}, word{}, err
	}
	b, err := f.eval(y)
	if err != nil {
		return word{}, word{}, err
	}
	return a, b, nil
}

func (m *Machine) builtin(name string, args []word) (*word, error) {
	if strings.HasPrefix(name, "llvm.memcpy.") {
		destination, source, size := args[0], args[1], args[2]
		data := m.ReadMemory(source.space, source.value.Uint64(), size.value.Uint64())
		m.WriteMemory(destination.space, destination.value.Uint64(), data)
		return nil, nil
	}
	switch name {
	case abi.FunctionCxaThrow:
		return nil, errUnwind
	case abi.FunctionPersonality:
		return ref(uint256.NewInt(0)), nil
	case codegen.IntrinsicStorageLoad.Name():
		v := m.storage[args[0].value]
		return ref(&v), nil
	case codegen.IntrinsicStorageStore.Name():
		m.storage[args[1].value] = args[0].value
		return nil, nil
	case abi.FunctionStorageLoad:
		v := m.storage[args[0].value]
		return ref(&v), nil
	case abi.FunctionStorageStore:
		m.storage[args[1].value] = args[0].value
		return nil, nil
	case abi.FunctionSha3:
		input := m.ReadMemory(codegen.SpaceHeap, args[0].value.Uint64(), args[1].value.Uint64())
		digest := abi.Keccak256(input)
		return ref(new(uint256.Int).SetBytes(digest[:])), nil
	case codegen.IntrinsicSwitchContext.Name():
		m.memories[codegen.SpaceChild] = nil
		return nil, nil
	case codegen.IntrinsicGetFromContext.Name():
		v := m.context[abi.ContextValue(args[0].value.Uint64())]
		return ref(&v), nil
	case codegen.IntrinsicFarCall.Name(), codegen.IntrinsicStaticCall.Name():
		return m.farCallIntrinsic(args[0])
	case abi.FunctionFarCall, abi.FunctionStaticCall:
		return m.farCallRuntime(args)
	}
	return nil, fmt.Errorf("call to unsupported builtin %s", name)
}

// farCallIntrinsic dispatches a marshaled contract call: the input is
// read from the child region, the handler output is written back there.
func (m *Machine) farCallIntrinsic(definition word) (*word, error) {
	address := new(uint256.Int).Rsh(&definition.value, abi.BitsX32)
	handler, ok := m.handlers[*address]
	if !ok {
		return nil, fmt.Errorf("no far call handler for address %s", address.Hex())
	}
	header := m.readWord(codegen.SpaceChild, abi.HeaderOffset*abi.SizeField)
	length := header.Uint64() & 0xffffffff
	input := m.ReadMemory(codegen.SpaceChild, abi.DataOffset*abi.SizeField, length)
	output, success := handler(m, input)
	m.writeWord(codegen.SpaceChild, abi.HeaderOffset*abi.SizeField, uint256.NewInt(uint64(len(output))))
	m.WriteMemory(codegen.SpaceChild, abi.DataOffset*abi.SizeField, output)
	if success {
		return ref(uint256.NewInt(1)), nil
	}
	return ref(uint256.NewInt(0)), nil
}

// farCallRuntime dispatches a precompile helper call: the input region
// is described by the ABI data word, the raw output lands at the start
// of the child region and the result structure is written through the
// result pointer.
func (m *Machine) farCallRuntime(args []word) (*word, error) {
	address, abiData, resultPointer := args[0], args[1], args[2]
	handler, ok := m.handlers[address.value]
	if !ok {
		return nil, fmt.Errorf("no far call handler for address %s", address.value.Hex())
	}
	offset := abiData.value.Uint64()
	length := new(uint256.Int).Rsh(&abiData.value, abi.BitsX64).Uint64()
	input := m.ReadMemory(codegen.SpaceHeap, offset, length)
	output, success := handler(m, input)
	m.WriteMemory(codegen.SpaceChild, 0, output)

	descriptor := new(uint256.Int).Lsh(uint256.NewInt(uint64(len(output))), abi.BitsX64)
	m.writeWord(resultPointer.space, resultPointer.value.Uint64(), descriptor)
	flag := uint256.NewInt(0)
	if success {
		flag = uint256.NewInt(1)
	}
	m.writeWord(resultPointer.space, resultPointer.value.Uint64()+abi.SizeField, flag)
	out := resultPointer
	return &out, nil
}

func pointerSpace(t types.Type) codegen.AddressSpace {
	if pointerType, ok := t.(*types.PointerType); ok {
		return codegen.AddressSpace(pointerType.AddrSpace)
	}
	return codegen.SpaceStack
}

func typeSize(t types.Type) uint64 {
	switch t := t.(type) {
	case *types.StructType:
		return abi.SizeField * uint64(len(t.Fields))
	case *types.ArrayType:
		return t.Len * typeSize(t.ElemType)
	}
	return abi.SizeField
}
