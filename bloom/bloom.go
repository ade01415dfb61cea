// Package bloom provides the probabilistic negative filter that fronts the
// retrieval cascade.
//
// A Bloom filter can tell us definitively that a term was never indexed,
// but may have false positives when saying a term IS present. For the
// query path this is exactly right:
//
//   - If the filter says "NOT present" → answer NotFound with zero I/O
//   - If the filter says "maybe present" → continue down the cascade
//
// Bits are only ever set, never cleared, so a filter never produces a
// false negative for an added item.
package bloom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	// magic identifies serialized filters (ASCII "KBF1").
	magic = 0x4B424631
	// formatVersion is the serialization format version.
	formatVersion = 1
	// hashSchemeXXH64FNV identifies the double-hashing scheme in use:
	// xxhash64 for h1, seeded FNV-1a for h2. The scheme is persisted so a
	// stale filter written by a different scheme is rebuilt instead of
	// silently trusted.
	hashSchemeXXH64FNV = 1

	maxHashFuncs = 16
)

var (
	// ErrCorrupted indicates the serialized filter data is invalid.
	ErrCorrupted = errors.New("bloom: corrupted filter data")
	// ErrMismatch indicates a serialized filter whose parameters or hash
	// scheme differ from what this build produces. The caller must rebuild
	// the filter from source data rather than reuse it.
	ErrMismatch = errors.New("bloom: filter parameter mismatch, rebuild required")
)

// Filter is a space-efficient probabilistic membership filter over
// normalized terms.
type Filter struct {
	bits      []uint64
	numBits   uint64
	k         uint32
	count     uint32
	targetFPR float64
}

// Size computes the optimal bit-array size and hash count for the given
// expected item count and target false-positive rate.
// Returns (numBits, numHashFunctions).
func Size(expectedItems int, falsePositiveRate float64) (numBits uint64, k uint32) {
	if expectedItems <= 0 {
		expectedItems = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	// m = -n*ln(p) / (ln2)^2
	ln2Sq := math.Ln2 * math.Ln2
	m := float64(-expectedItems) * math.Log(falsePositiveRate) / ln2Sq

	// k = (m/n) * ln2
	kFloat := (m / float64(expectedItems)) * math.Ln2

	// Round bits up to a multiple of 64 for word alignment.
	numBits = ((uint64(math.Ceil(m)) + 63) / 64) * 64
	if numBits < 64 {
		numBits = 64
	}

	k = uint32(math.Ceil(kFloat))
	if k < 1 {
		k = 1
	}
	if k > maxHashFuncs {
		k = maxHashFuncs
	}

	return numBits, k
}

// New creates a filter sized for expectedItems at the target
// false-positive rate.
func New(expectedItems int, falsePositiveRate float64) *Filter {
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	numBits, k := Size(expectedItems, falsePositiveRate)
	return &Filter{
		bits:      make([]uint64, numBits/64),
		numBits:   numBits,
		k:         k,
		targetFPR: falsePositiveRate,
	}
}

// Normalize folds a term into its canonical indexed form.
// Add and MayContain apply it themselves; it is exported so callers can
// normalize once when deriving cache keys from the same term.
func Normalize(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}

// Add inserts a term. After Add(x), MayContain(x) returns true forever.
func (f *Filter) Add(term string) {
	h1, h2 := hashTerm(Normalize(term))
	for i := uint32(0); i < f.k; i++ {
		// Double hashing: h(i) = h1 + i*h2
		bit := (h1 + uint64(i)*h2) % f.numBits
		f.bits[bit/64] |= 1 << (bit % 64)
	}
	f.count++
}

// MayContain reports whether a term might have been added.
// false means definitely absent; true means maybe present.
func (f *Filter) MayContain(term string) bool {
	h1, h2 := hashTerm(Normalize(term))
	for i := uint32(0); i < f.k; i++ {
		bit := (h1 + uint64(i)*h2) % f.numBits
		if f.bits[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// Count returns the number of terms added.
func (f *Filter) Count() uint32 { return f.count }

// NumBits returns the bit-array size m.
func (f *Filter) NumBits() uint64 { return f.numBits }

// K returns the number of hash functions.
func (f *Filter) K() uint32 { return f.k }

// TargetFPR returns the configured target false-positive rate.
func (f *Filter) TargetFPR() float64 { return f.targetFPR }

// EstimatedFalsePositiveRate returns the estimated false-positive rate at
// the current fill: (1 - e^(-k*n/m))^k.
func (f *Filter) EstimatedFalsePositiveRate() float64 {
	if f.count == 0 {
		return 0
	}
	kn := float64(f.k) * float64(f.count)
	m := float64(f.numBits)
	return math.Pow(1-math.Exp(-kn/m), float64(f.k))
}

// SizeBytes returns the memory size of the bit array in bytes.
func (f *Filter) SizeBytes() int { return len(f.bits) * 8 }

// Clear resets the filter to empty.
func (f *Filter) Clear() {
	for i := range f.bits {
		f.bits[i] = 0
	}
	f.count = 0
}

// Clone returns an independent copy of the filter. Callers that publish a
// filter to concurrent readers mutate a clone and swap it in, never the
// shared instance.
func (f *Filter) Clone() *Filter {
	bits := make([]uint64, len(f.bits))
	copy(bits, f.bits)
	return &Filter{
		bits:      bits,
		numBits:   f.numBits,
		k:         f.k,
		count:     f.count,
		targetFPR: f.targetFPR,
	}
}

// CompatibleWith reports whether this filter was built with the exact
// parameters New(expectedItems, falsePositiveRate) would produce. A loaded
// filter that is not compatible must be rebuilt.
func (f *Filter) CompatibleWith(expectedItems int, falsePositiveRate float64) bool {
	numBits, k := Size(expectedItems, falsePositiveRate)
	return f.numBits == numBits && f.k == k && f.targetFPR == falsePositiveRate
}

// WriteTo serializes the filter: a header carrying the hash scheme and all
// sizing parameters, followed by the bit words.
func (f *Filter) WriteTo(w io.Writer) (int64, error) {
	// Header: magic(4) version(2) scheme(2) numBits(8) k(4) count(4) fpr(8)
	header := make([]byte, 32)
	binary.LittleEndian.PutUint32(header[0:4], magic)
	binary.LittleEndian.PutUint16(header[4:6], formatVersion)
	binary.LittleEndian.PutUint16(header[6:8], hashSchemeXXH64FNV)
	binary.LittleEndian.PutUint64(header[8:16], f.numBits)
	binary.LittleEndian.PutUint32(header[16:20], f.k)
	binary.LittleEndian.PutUint32(header[20:24], f.count)
	binary.LittleEndian.PutUint64(header[24:32], math.Float64bits(f.targetFPR))

	var written int64
	n, err := w.Write(header)
	written += int64(n)
	if err != nil {
		return written, err
	}

	buf := make([]byte, 8)
	for _, word := range f.bits {
		binary.LittleEndian.PutUint64(buf, word)
		n, err := w.Write(buf)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}

	return written, nil
}

// Read deserializes a filter. A wrong magic/version/hash-scheme or
// malformed sizing returns ErrMismatch or ErrCorrupted; the caller is
// expected to rebuild rather than trust stale bits.
func Read(r io.Reader) (*Filter, error) {
	header := make([]byte, 32)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupted, err)
	}

	if binary.LittleEndian.Uint32(header[0:4]) != magic {
		return nil, ErrCorrupted
	}
	if v := binary.LittleEndian.Uint16(header[4:6]); v != formatVersion {
		return nil, fmt.Errorf("%w: format version %d", ErrMismatch, v)
	}
	if s := binary.LittleEndian.Uint16(header[6:8]); s != hashSchemeXXH64FNV {
		return nil, fmt.Errorf("%w: hash scheme %d", ErrMismatch, s)
	}

	numBits := binary.LittleEndian.Uint64(header[8:16])
	k := binary.LittleEndian.Uint32(header[16:20])
	count := binary.LittleEndian.Uint32(header[20:24])
	fpr := math.Float64frombits(binary.LittleEndian.Uint64(header[24:32]))

	if numBits < 64 || numBits%64 != 0 {
		return nil, ErrCorrupted
	}
	if k < 1 || k > maxHashFuncs {
		return nil, ErrCorrupted
	}
	if fpr <= 0 || fpr >= 1 {
		return nil, ErrCorrupted
	}

	bits := make([]uint64, numBits/64)
	buf := make([]byte, 8)
	for i := range bits {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupted, err)
		}
		bits[i] = binary.LittleEndian.Uint64(buf)
	}

	return &Filter{
		bits:      bits,
		numBits:   numBits,
		k:         k,
		count:     count,
		targetFPR: fpr,
	}, nil
}

// hashTerm computes two independent hashes for double hashing:
// xxhash64 for h1 and a seeded FNV-1a for h2. h2 is forced odd so the
// probe sequence covers the word-aligned bit array.
func hashTerm(s string) (h1, h2 uint64) {
	h1 = xxhash.Sum64String(s)

	const (
		fnvOffset = 14695981039346656037
		fnvPrime  = 1099511628211
	)
	h2 = fnvOffset ^ 0x5555555555555555
	for i := 0; i < len(s); i++ {
		h2 ^= uint64(s[i])
		h2 *= fnvPrime
	}
	h2 |= 1

	return h1, h2
}
