// Package bloom provides the probabilistic membership filter attached to
// bloom-filter columns of a segment. Filters are built once by the segment
// writer and read-only afterwards.
package bloom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/spaolacci/murmur3"
)

// Filter is a bloom filter over column values. It guarantees no false
// negatives: if a value was added, Contains always returns true.
type Filter struct {
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64
}

// New creates a Filter with the given geometry, rounded up to whole words.
func New(numBits, numHashes int) *Filter {
	if numBits <= 0 {
		numBits = 1024
	}
	if numHashes <= 0 {
		numHashes = 7
	}
	numWords := (numBits + 63) / 64
	return &Filter{
		bits:      make([]uint64, numWords),
		numBits:   uint64(numWords * 64),
		numHashes: uint64(numHashes),
	}
}

// NewWithEstimates creates a Filter sized for the expected number of values
// and target false positive rate.
func NewWithEstimates(expectedItems int, targetFPR float64) *Filter {
	numBits, numHashes := OptimalParameters(expectedItems, targetFPR)
	return New(numBits, numHashes)
}

// OptimalParameters computes the classic bloom geometry:
//
//	m = -n * ln(p) / (ln 2)^2
//	k = (m/n) * ln 2
func OptimalParameters(expectedItems int, targetFPR float64) (numBits, numHashes int) {
	if expectedItems <= 0 {
		expectedItems = 1000
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = 0.01
	}
	n := float64(expectedItems)
	m := -n * math.Log(targetFPR) / (math.Ln2 * math.Ln2)
	numBits = int(math.Ceil(m))
	numHashes = int(math.Ceil((m / n) * math.Ln2))
	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	return numBits, numHashes
}

// Add inserts a value.
func (f *Filter) Add(item []byte) {
	h1, h2 := hash128(item)
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		f.bits[pos/64] |= 1 << (pos % 64)
	}
	f.count++
}

// Contains reports whether the value might have been added. False positives
// are possible, false negatives are not.
func (f *Filter) Contains(item []byte) bool {
	h1, h2 := hash128(item)
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// Count returns the number of values added.
func (f *Filter) Count() uint64 { return f.count }

// NumBits returns the filter width in bits.
func (f *Filter) NumBits() int { return int(f.numBits) }

// NumHashes returns the number of hash probes.
func (f *Filter) NumHashes() int { return int(f.numHashes) }

// hash128 computes a murmur3 128-bit hash used for double hashing.
func hash128(item []byte) (uint64, uint64) {
	h := murmur3.New128()
	h.Write(item)
	return h.Sum128()
}

// Serialize encodes the filter as:
//
//	8 bytes numBits | 8 bytes numHashes | 8 bytes count | bit words
//
// all little-endian.
func (f *Filter) Serialize() []byte {
	buf := make([]byte, 24+len(f.bits)*8)
	binary.LittleEndian.PutUint64(buf[0:8], f.numBits)
	binary.LittleEndian.PutUint64(buf[8:16], f.numHashes)
	binary.LittleEndian.PutUint64(buf[16:24], f.count)
	for i, word := range f.bits {
		binary.LittleEndian.PutUint64(buf[24+i*8:], word)
	}
	return buf
}

// Deserialize reconstructs a filter from Serialize output.
func Deserialize(data []byte) (*Filter, error) {
	if len(data) < 24 {
		return nil, errors.New("bloom: serialized data too short")
	}
	numBits := binary.LittleEndian.Uint64(data[0:8])
	numHashes := binary.LittleEndian.Uint64(data[8:16])
	count := binary.LittleEndian.Uint64(data[16:24])
	if numBits == 0 || numHashes == 0 {
		return nil, errors.New("bloom: bad filter geometry")
	}
	numWords := int((numBits + 63) / 64)
	if len(data) < 24+numWords*8 {
		return nil, fmt.Errorf("bloom: expected %d bytes, got %d", 24+numWords*8, len(data))
	}
	bits := make([]uint64, numWords)
	for i := range bits {
		bits[i] = binary.LittleEndian.Uint64(data[24+i*8:])
	}
	return &Filter{bits: bits, numBits: numBits, numHashes: numHashes, count: count}, nil
}
