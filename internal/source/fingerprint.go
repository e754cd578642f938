package source

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

// keyFormat versions the key layout; bump it when the hashed fields change
const keyFormat = "ccsh-key-v1"

// Key identifies a build: the same key always yields an equivalent executable
type Key string

// String returns the key as hex
func (k Key) String() string {
	return string(k)
}

// Short returns an abbreviated key for log output
func (k Key) Short() string {
	if len(k) > 12 {
		return string(k[:12])
	}

	return string(k)
}

// KeyInput is the build configuration that takes part in a key
type KeyInput struct {
	// Lang is the language the unit is compiled as
	Lang string

	// CompilerVersion identifies the resolved compiler
	CompilerVersion string

	// Flags are the compiler flags, in command-line order
	Flags []string

	// LDFlags are the linker flags, in command-line order
	LDFlags []string

	// Entry is the entry-point override expression, empty for main
	Entry string
}

// Fingerprint computes the build key of a unit.
//
// The key covers the script bytes, the language, the compiler identity, every
// flag and the entry override together with the driver text it expands to.
// Paths and timestamps never enter it. Flag order is kept since it is
// significant to the compiler. Every field is length-prefixed so that moving
// bytes between adjacent fields changes the key.
func Fingerprint(u *Unit, in KeyInput) Key {
	h := sha256.New()

	writeField(h, []byte(keyFormat))
	writeField(h, u.Source)
	writeField(h, []byte(in.Lang))
	writeField(h, []byte(in.CompilerVersion))
	writeList(h, in.Flags)
	writeList(h, in.LDFlags)

	entry := NormalizeEntry(in.Entry)
	writeField(h, []byte(entry))
	if entry != "" {
		writeField(h, []byte(renderDriver(driverPathPlaceholder, entry)))
	}

	return Key(hex.EncodeToString(h.Sum(nil)))
}

func writeField(h hash.Hash, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}

func writeList(h hash.Hash, items []string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(items)))
	h.Write(n[:])

	for _, item := range items {
		writeField(h, []byte(item))
	}
}
