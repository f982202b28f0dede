package backup

import (
	"encoding/hex"
	"fmt"
	"hash"
	"hash/adler32"
	"hash/crc32"
	"io"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ChecksumAlgorithm names the running checksum computed over archive bytes.
type ChecksumAlgorithm string

const (
	ChecksumAdler32 ChecksumAlgorithm = "adler32"
	ChecksumCRC32   ChecksumAlgorithm = "crc32"
	ChecksumXXHash  ChecksumAlgorithm = "xxhash"
)

// ParseChecksumAlgorithm validates an algorithm name. Empty means adler32.
func ParseChecksumAlgorithm(s string) (ChecksumAlgorithm, error) {
	switch a := ChecksumAlgorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return ChecksumAdler32, nil
	case ChecksumAdler32, ChecksumCRC32, ChecksumXXHash:
		return a, nil
	default:
		return "", fmt.Errorf("invalid checksum algorithm %q, must be one of: adler32, crc32, xxhash", s)
	}
}

// New returns a fresh hash for the algorithm.
func (a ChecksumAlgorithm) New() hash.Hash {
	switch a {
	case ChecksumCRC32:
		return crc32.NewIEEE()
	case ChecksumXXHash:
		return xxhash.New()
	default:
		return adler32.New()
	}
}

// checkedWriter feeds every byte written to the sink through a hash and
// counts them.
type checkedWriter struct {
	w       io.Writer
	hash    hash.Hash
	written int64
}

func newCheckedWriter(w io.Writer, algorithm ChecksumAlgorithm) *checkedWriter {
	return &checkedWriter{w: w, hash: algorithm.New()}
}

func (c *checkedWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.hash.Write(p[:n])
	c.written += int64(n)
	return n, err
}

// Sum returns the hex encoded checksum of everything written so far.
func (c *checkedWriter) Sum() string {
	return hex.EncodeToString(c.hash.Sum(nil))
}
