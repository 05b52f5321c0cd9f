package declare

import (
	"bufio"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/adler32"
	"io"
	"os"
	"sort"
	"strconv"
)

// Checksum algorithm names accepted by the builder. These match the types
// the samweb client computes for declarations.
const (
	AlgoEnstore = "enstore"
	AlgoAdler32 = "adler32"
	AlgoMD5     = "md5"
	AlgoSHA1    = "sha1"
	AlgoSHA256  = "sha256"
)

// DefaultAlgorithms is the checksum set used when none is requested.
var DefaultAlgorithms = []string{AlgoEnstore, AlgoAdler32, AlgoMD5}

// SupportedAlgorithms returns the accepted algorithm names, sorted.
func SupportedAlgorithms() []string {
	algos := []string{AlgoEnstore, AlgoAdler32, AlgoMD5, AlgoSHA1, AlgoSHA256}
	sort.Strings(algos)
	return algos
}

// digest pairs a running hash with its value renderer. Enstore checksums
// are rendered as decimal per the storage system's convention; everything
// else is lowercase hex.
type digest struct {
	hash   hash.Hash
	render func(hash.Hash) string
}

func hexRender(h hash.Hash) string { return hex.EncodeToString(h.Sum(nil)) }

func newDigest(algo string) (digest, error) {
	switch algo {
	case AlgoEnstore:
		h := newEnstoreAdler()
		return digest{hash: h, render: func(hash.Hash) string {
			return strconv.FormatUint(uint64(h.Sum32()), 10)
		}}, nil
	case AlgoAdler32:
		h := adler32.New()
		return digest{hash: h, render: func(hash.Hash) string {
			return fmt.Sprintf("%08x", h.Sum32())
		}}, nil
	case AlgoMD5:
		return digest{hash: md5.New(), render: hexRender}, nil
	case AlgoSHA1:
		return digest{hash: sha1.New(), render: hexRender}, nil
	case AlgoSHA256:
		return digest{hash: sha256.New(), render: hexRender}, nil
	default:
		return digest{}, fmt.Errorf("unsupported checksum algorithm %q", algo)
	}
}

// ValidateAlgorithms rejects unknown or duplicate algorithm names.
func ValidateAlgorithms(algos []string) error {
	seen := make(map[string]bool, len(algos))
	for _, a := range algos {
		if _, err := newDigest(a); err != nil {
			return err
		}
		if seen[a] {
			return fmt.Errorf("duplicate checksum algorithm %q", a)
		}
		seen[a] = true
	}
	return nil
}

// FileChecksums streams the file once through every requested digest.
//
// The content is never held in memory, so arbitrarily large files are fine.
// Open and read failures map to ErrUnreadableFile: the file may have been
// removed between enumeration and building, which is a per-file condition.
func FileChecksums(path string, algos []string) (map[string]string, error) {
	digests := make([]digest, 0, len(algos))
	writers := make([]io.Writer, 0, len(algos))
	for _, a := range algos {
		d, err := newDigest(a)
		if err != nil {
			return nil, err
		}
		digests = append(digests, d)
		writers = append(writers, d.hash)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, unreadablef(path, "open: %v", err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1<<20)
	if _, err := io.Copy(io.MultiWriter(writers...), r); err != nil {
		return nil, unreadablef(path, "read: %v", err)
	}

	values := make(map[string]string, len(algos))
	for i, a := range algos {
		values[a] = digests[i].render(digests[i].hash)
	}
	return values, nil
}

// RenderChecksums converts a checksum map to the catalog's "algo:value"
// list form, sorted by algorithm for determinism.
func RenderChecksums(sums map[string]string) []string {
	algos := make([]string, 0, len(sums))
	for a := range sums {
		algos = append(algos, a)
	}
	sort.Strings(algos)

	rendered := make([]string, 0, len(algos))
	for _, a := range algos {
		rendered = append(rendered, a+":"+sums[a])
	}
	return rendered
}

// enstoreAdler is the adler32 variant used by the enstore tape system: the
// same rolling sums as RFC 1950 but seeded with 0 instead of 1.
type enstoreAdler struct {
	a, b uint32
}

const adlerMod = 65521

func newEnstoreAdler() *enstoreAdler { return &enstoreAdler{} }

func (e *enstoreAdler) Write(p []byte) (int, error) {
	a, b := e.a, e.b
	for i, c := range p {
		a += uint32(c)
		b += a
		// Defer the modulo as long as the sums cannot overflow.
		if i%5552 == 5551 {
			a %= adlerMod
			b %= adlerMod
		}
	}
	e.a, e.b = a%adlerMod, b%adlerMod
	return len(p), nil
}

func (e *enstoreAdler) Sum32() uint32 { return e.b<<16 | e.a }

func (e *enstoreAdler) Sum(in []byte) []byte {
	s := e.Sum32()
	return append(in, byte(s>>24), byte(s>>16), byte(s>>8), byte(s))
}

func (e *enstoreAdler) Reset()         { e.a, e.b = 0, 0 }
func (e *enstoreAdler) Size() int      { return 4 }
func (e *enstoreAdler) BlockSize() int { return 1 }
