package cryptorand

import (
	"crypto/rand"
	"encoding/binary"
)

// Uint64 returns a cryptographically random uint64 spanning the full
// range, used for Query's random id (spec.md §3 "query_id (64-bit
// random)"). Trimmed from the teacher's fuller numbers.go -- which also
// covers Int63/Int31/Intn/Float64/Float32/... -- to the one generator
// this core actually calls; none of the string- or slice-oriented
// generators in the teacher's cryptorand package (String, HexString,
// Element, the Must* wrappers) have a caller in this domain either, so
// strings.go/strings_must.go/slices.go are dropped rather than kept
// unexercised.
func Uint64() (uint64, error) {
	var v uint64
	if err := binary.Read(rand.Reader, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}
