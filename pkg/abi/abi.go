// Package abi defines the binary interface between generated code and the
// target machine: word geometry, the layout of the foreign memory regions,
// reserved precompile addresses and function names, and the keccak helpers
// used to derive storage keys, error codes and call signatures.
package abi

import (
	"encoding/hex"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// Word geometry, in bytes.
const (
	SizeByte  = 1
	SizeX32   = 4
	SizeX64   = 8
	SizeField = 32
)

// Word geometry, in bits.
const (
	BitsBoolean = 1
	BitsByte    = 8
	BitsX32     = 32
	BitsX64     = 64
	BitsField   = 256
)

// Memory layout of a foreign region, in field-sized words from its base.
// The header word carries the region's data length in its low 32 bits.
// The long-return flag word is meaningful in Heap memory only.
const (
	HeaderOffset     = 0
	LongReturnOffset = 1
	DataOffset       = 2
)

// Reserved precompile addresses, as hexadecimal field literals.
const (
	// AddressIdentity copies its input to its output.
	AddressIdentity = "0x04"
	// AddressDeployer deploys a contract from a packed header and
	// constructor arguments.
	AddressDeployer = "0x06"
	// AddressDeriver returns the deterministic deployment address for a
	// (code hash, salt) pair.
	AddressDeriver = "0x07"
)

// DeployerHeaderSize is the byte size of the deployer call header: the
// method signature prefix, the salt (or zero for a plain create, since the
// header is laid out before the create flavor is known), the argument
// offset and length fields, and the hash of the bytecode of the contract
// being created.
const DeployerHeaderSize = SizeX32 + SizeField*4

// Reserved contract function names.
const (
	FunctionEntry       = "__entry"
	FunctionConstructor = "__constructor"
	FunctionSelector    = "__selector"
)

// Runtime helper function names. FunctionCxaThrow is the low-level throw
// primitive and the single callee exempt from pointer alignment metadata.
const (
	FunctionPersonality  = "__personality"
	FunctionCxaThrow     = "__cxa_throw"
	FunctionFarCall      = "__farcall"
	FunctionStaticCall   = "__staticcall"
	FunctionStorageLoad  = "__sload"
	FunctionStorageStore = "__sstore"
	FunctionSha3         = "__sha3"
)

// Well-known symbolic storage slot names. The occupied keys are the
// keccak-256 digests of these strings.
const (
	StorageConstructorExecuted = "CONSTRUCTOR_EXECUTED"
	StorageCreateCounter       = "CREATE_COUNTER"
)

// Deployer method signatures.
const (
	SignatureCreate  = "create(bytes32,bytes32,bytes)"
	SignatureCreate2 = "create2(bytes32,bytes32,bytes)"
)

// ContextValue enumerates the VM context registers readable through the
// get-from-context intrinsic. The enum value is the register index passed
// to the intrinsic.
type ContextValue int

const (
	ContextAddress ContextValue = iota
	ContextCaller
	ContextOrigin
	ContextGasLeft
	ContextBlockNumber
	ContextBlockTimestamp
)

// Keccak256 returns the keccak-256 digest of data.
func Keccak256(data []byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest
}

// Keccak256Hex returns the keccak-256 digest of data as a hexadecimal
// string without the 0x prefix, the form consumed by field constant
// construction.
func Keccak256Hex(data []byte) string {
	digest := Keccak256(data)
	return hex.EncodeToString(digest[:])
}

// StorageKey derives the storage key occupied by a symbolic slot name.
func StorageKey(name string) *uint256.Int {
	digest := Keccak256([]byte(name))
	return new(uint256.Int).SetBytes(digest[:])
}

// ErrorCode returns the word written to the parent's data region by the
// failure protocol: the first four bytes of the keccak-256 digest of the
// message, shifted into the high bytes of the word.
func ErrorCode(message string) *uint256.Int {
	digest := Keccak256([]byte(message))
	code := new(uint256.Int).SetBytes(digest[:SizeX32])
	return code.Lsh(code, BitsByte*(SizeField-SizeX32))
}
