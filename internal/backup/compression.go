package backup

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// CompressionLevel is a DEFLATE compression level in flate's numeric range.
type CompressionLevel int

const (
	CompressionLevelHuffmanOnly CompressionLevel = flate.HuffmanOnly
	CompressionLevelDefault     CompressionLevel = flate.DefaultCompression
	CompressionLevelNone        CompressionLevel = flate.NoCompression
	CompressionLevelBestSpeed   CompressionLevel = flate.BestSpeed
	CompressionLevelBest        CompressionLevel = flate.BestCompression
)

var namedLevels = map[string]CompressionLevel{
	"none":             CompressionLevelNone,
	"no_compression":   CompressionLevelNone,
	"best_speed":       CompressionLevelBestSpeed,
	"default":          CompressionLevelDefault,
	"best_compression": CompressionLevelBest,
	"huffman_only":     CompressionLevelHuffmanOnly,
}

// ParseCompressionLevel accepts a named level ("default", "best_speed",
// "BEST_COMPRESSION", "default-compression", ...) or a number from -2 to 9.
func ParseCompressionLevel(s string) (CompressionLevel, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return CompressionLevelDefault, nil
	}
	if n, err := strconv.Atoi(trimmed); err == nil {
		if n < int(CompressionLevelHuffmanOnly) || n > int(CompressionLevelBest) {
			return 0, fmt.Errorf("invalid compression level %q", s)
		}
		return CompressionLevel(n), nil
	}

	name := strings.ReplaceAll(strings.ToLower(trimmed), "-", "_")
	if level, ok := namedLevels[strings.TrimSuffix(name, "_compression")]; ok {
		return level, nil
	}
	if level, ok := namedLevels[name]; ok {
		return level, nil
	}
	return 0, fmt.Errorf("invalid compression level %q", s)
}

// String returns the canonical name of the level, or its number.
func (l CompressionLevel) String() string {
	switch l {
	case CompressionLevelNone:
		return "none"
	case CompressionLevelBestSpeed:
		return "best_speed"
	case CompressionLevelDefault:
		return "default"
	case CompressionLevelBest:
		return "best_compression"
	case CompressionLevelHuffmanOnly:
		return "huffman_only"
	default:
		return strconv.Itoa(int(l))
	}
}

// CompressionMethod selects how archive entries are encoded.
type CompressionMethod string

const (
	CompressionMethodDeflate CompressionMethod = "deflate"
	CompressionMethodStore   CompressionMethod = "store"
	CompressionMethodZstd    CompressionMethod = "zstd"
)

// ParseCompressionMethod validates a method name. Empty means deflate.
func ParseCompressionMethod(s string) (CompressionMethod, error) {
	switch m := CompressionMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return CompressionMethodDeflate, nil
	case CompressionMethodDeflate, CompressionMethodStore, CompressionMethodZstd:
		return m, nil
	default:
		return "", fmt.Errorf("invalid compression method %q, must be one of: deflate, store, zstd", s)
	}
}

// zipMethod returns the ZIP method id written in each local file header.
func (m CompressionMethod) zipMethod() uint16 {
	switch m {
	case CompressionMethodStore:
		return zip.Store
	case CompressionMethodZstd:
		return zstd.ZipMethodWinZip
	default:
		return zip.Deflate
	}
}

// registerCompressor installs the entry encoder for method at level on zw.
func registerCompressor(zw *zip.Writer, method CompressionMethod, level CompressionLevel) {
	switch method {
	case CompressionMethodDeflate:
		zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(out, int(level))
		})
	case CompressionMethodZstd:
		zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor(
			zstd.WithEncoderLevel(zstdLevel(level)),
		))
	}
}

func zstdLevel(level CompressionLevel) zstd.EncoderLevel {
	switch {
	case level == CompressionLevelDefault:
		return zstd.SpeedDefault
	case level <= CompressionLevelBestSpeed:
		return zstd.SpeedFastest
	case level <= 6:
		return zstd.SpeedDefault
	case level < CompressionLevelBest:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// registerDecompressors lets r read every entry method the writer can produce.
func registerDecompressors(r *zip.Reader) {
	r.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())
}
