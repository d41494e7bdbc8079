// Package bytecode implements the normalization and content-addressing
// model shared by every other package that touches compiled or on-chain
// bytecode: library-placeholder zeroing before hashing, and the dual
// sha256/keccak256 digest scheme used throughout the canonical store.
package bytecode

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// TransformReason enumerates why a byte range of recompiled bytecode
// differs from a hypothetical "ideal" compile, per the compiler's own
// transformation list.
type TransformReason string

const (
	ReasonLibrary              TransformReason = "library"
	ReasonImmutable            TransformReason = "immutable"
	ReasonConstructorArguments TransformReason = "constructorArguments"
	ReasonAuxdata              TransformReason = "auxdata"
	ReasonCBORAuxdata          TransformReason = "cborAuxdata"
	ReasonCallProtection       TransformReason = "callProtection"
)

// TransformType describes how the compiler's transformation list entry
// should be applied.
type TransformType string

const (
	TransformReplace TransformType = "replace"
	TransformInsert  TransformType = "insert"
)

// Transformation is one entry of a compiler's transformation list, as
// produced alongside a Standard JSON Input/Output compile. Offset is a
// byte offset into Bytecode (not a hex-character offset); callers working
// from hex text must multiply by two.
type Transformation struct {
	Reason TransformReason `json:"reason"`
	Offset int             `json:"offset"`
	Type   TransformType   `json:"type"`
	ID     string          `json:"id,omitempty"`
}

// libraryPlaceholderWidth is the width, in bytes, of a linked-library
// address placeholder inside bytecode (20 bytes, matching an Ethereum
// address).
const libraryPlaceholderWidth = 20

// Normalize replaces every 20-byte library-placeholder window named by
// transformations with zero bytes and returns the result. Immutable
// windows are already zero in recompiled bytecode emitted by the compiler
// and are left untouched; every other transformation kind is likewise
// left untouched, since only library-linked bytes vary build-to-build.
//
// Normalize never mutates bytecode in place; it returns a fresh copy.
func Normalize(code []byte, transformations []Transformation) []byte {
	if len(transformations) == 0 {
		return append([]byte(nil), code...)
	}

	out := append([]byte(nil), code...)
	for _, t := range transformations {
		if t.Reason != ReasonLibrary {
			continue
		}
		start := t.Offset
		end := start + libraryPlaceholderWidth
		if start < 0 || end > len(out) {
			continue
		}
		for i := start; i < end; i++ {
			out[i] = 0
		}
	}
	return out
}

// Digest holds the two content addresses derived from a bytecode string:
// sha256 (the primary key used throughout the canonical store) and
// keccak256 (a secondary index used for on-chain comparisons and
// selector-style lookups).
type Digest struct {
	SHA256    [32]byte
	Keccak256 [32]byte
}

// Hash computes both digests of code.
func Hash(code []byte) Digest {
	return Digest{
		SHA256:    sha256.Sum256(code),
		Keccak256: [32]byte(crypto.Keccak256(code)),
	}
}

// SHA256Hex returns the lowercase hex encoding of d.SHA256, the canonical
// string form used as a code_sha key.
func (d Digest) SHA256Hex() string {
	return hex.EncodeToString(d.SHA256[:])
}

// Keccak256Hex returns the lowercase hex encoding of d.Keccak256.
func (d Digest) Keccak256Hex() string {
	return hex.EncodeToString(d.Keccak256[:])
}

// SHA256Hex is a convenience wrapper for callers that only need the
// content address and not the full Digest.
func SHA256Hex(code []byte) string {
	sum := sha256.Sum256(code)
	return hex.EncodeToString(sum[:])
}

// LongestCommonPrefixLen returns the number of leading bytes shared by a
// and b, used by the similarity path to rank candidate compilations by
// how much of their runtime bytecode matches the on-chain bytes.
func LongestCommonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// ErrEmptyBytecode is returned by callers that reject zero-length or "0x"
// on-chain bytecode before dispatching any verification work.
var ErrEmptyBytecode = fmt.Errorf("bytecode: empty or 0x")

// IsEmpty reports whether raw hex-encoded on-chain bytecode (with or
// without a 0x prefix) represents "no code at this address".
func IsEmpty(hexCode string) bool {
	switch hexCode {
	case "", "0x", "0X":
		return true
	default:
		return false
	}
}
