package main

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// PolygonVersion is a structural fingerprint of a point sequence. Two
// bit-identical coordinate sequences always hash equal; any coordinate
// change flips the version with overwhelming probability.
type PolygonVersion uint64

// ComputeVersion hashes the raw coordinate bits of a point sequence
func ComputeVersion(points []Point) PolygonVersion {
	digest := xxhash.New()
	var buf [16]byte
	for _, p := range points {
		binary.LittleEndian.PutUint64(buf[0:8], math.Float64bits(p.X))
		binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(p.Y))
		digest.Write(buf[:])
	}
	return PolygonVersion(digest.Sum64())
}

// Short returns a truncated hex form used in composite cache keys
func (v PolygonVersion) Short() string {
	return fmt.Sprintf("%08x", uint32(v))
}
