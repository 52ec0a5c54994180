package abi

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeccak256KnownDigests(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		Keccak256Hex(nil))
	assert.Equal(t,
		"4e03657aea45a94fc7d47ba826c8d667c0d1e6e33a64a036ec44f58fa12d6c45",
		Keccak256Hex([]byte("abc")))
}

func TestKeccak256HexMatchesDigest(t *testing.T) {
	t.Parallel()

	data := []byte(StorageCreateCounter)
	digest := Keccak256(data)
	assert.Equal(t, hex.EncodeToString(digest[:]), Keccak256Hex(data))
	assert.Len(t, Keccak256Hex(nil), 2*SizeField)
}

func TestStorageKeyIsTheDigestWord(t *testing.T) {
	t.Parallel()

	key := StorageKey(StorageConstructorExecuted)
	digest := Keccak256([]byte(StorageConstructorExecuted))
	assert.Equal(t, digest, key.Bytes32())
}

func TestErrorCodeOccupiesTheTopFourBytes(t *testing.T) {
	t.Parallel()

	message := "The transferred value is not zero"
	digest := Keccak256([]byte(message))
	code := ErrorCode(message).Bytes32()

	assert.Equal(t, digest[:SizeX32], code[:SizeX32])
	assert.Equal(t, make([]byte, SizeField-SizeX32), code[SizeX32:])
}
