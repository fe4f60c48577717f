// Package deflatex wraps raw zlib framing (RFC 1950) around the signed
// CWT bytes, the deflate step of the HC1 pipeline (spec.md §4.2).
package deflatex

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/ubirch/dcc-cose-service/internal/dcc"
)

// zlibMagic is the first byte of every zlib stream using the default
// 32K window (CMF 0x78); LooksCompressed uses it only for diagnostics,
// never to gate correctness.
const zlibMagic = 0x78

// Encode compresses data at maximum compression, raw zlib framing.
func Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, dcc.InvariantViolation("zlib writer: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, dcc.CompressionError(err, "compressing payload")
	}
	if err := w.Close(); err != nil {
		return nil, dcc.CompressionError(err, "flushing zlib stream")
	}
	return buf.Bytes(), nil
}

// Decode inflates compressed data. In strict mode, a framing error
// propagates as CompressionError; in lenient mode, a framing error
// returns the original input unchanged, letting callers deal with
// already-uncompressed input without special-casing it.
func Decode(compressed []byte, strict bool) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		if strict {
			return nil, dcc.CompressionError(err, "opening zlib stream")
		}
		return compressed, nil
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		if strict {
			return nil, dcc.CompressionError(err, "inflating zlib stream")
		}
		return compressed, nil
	}
	return out, nil
}

// LooksCompressed reports whether input begins with the zlib magic
// byte. Diagnostic only — it never gates Decode's correctness.
func LooksCompressed(input []byte) bool {
	return len(input) > 0 && input[0] == zlibMagic
}
