// Package hash maps comparable keys to 64-bit hashes for slot indexing.
package hash

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Key hashes common key types using xxHash (XXH64).
// Supported: string, [16|32|64]byte, all int/uint widths, uintptr, fmt.Stringer.
// For other key types, supply a custom hasher upstream.
// Panicking on unsupported types is deliberate to avoid silently poor hashing.
func Key[K comparable](k K) uint64 {
	switch v := any(k).(type) {
	case string:
		return xxhash.Sum64String(v)
	case [16]byte:
		return xxhash.Sum64(v[:])
	case [32]byte:
		return xxhash.Sum64(v[:])
	case [64]byte:
		return xxhash.Sum64(v[:])

	// Integer-like keys: hash the 8 little-endian bytes of the value.
	case uint8:
		return sum64Uint(uint64(v))
	case uint16:
		return sum64Uint(uint64(v))
	case uint32:
		return sum64Uint(uint64(v))
	case uint64:
		return sum64Uint(v)
	case uint:
		return sum64Uint(uint64(v))
	case uintptr:
		return sum64Uint(uint64(v))
	case int8:
		return sum64Uint(uint64(uint8(v)))
	case int16:
		return sum64Uint(uint64(uint16(v)))
	case int32:
		return sum64Uint(uint64(uint32(v)))
	case int64:
		return sum64Uint(uint64(v))
	case int:
		return sum64Uint(uint64(v))

	// Fallback for pseudo-keys via String() (avoid if you can).
	case fmt.Stringer:
		return xxhash.Sum64String(v.String())
	default:
		panic(fmt.Sprintf("hash.Key: unsupported key type %T; provide a custom hasher", k))
	}
}

func sum64Uint(u uint64) uint64 {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(u)
		u >>= 8
	}
	return xxhash.Sum64(b[:])
}
