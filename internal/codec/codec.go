// Package codec provides stream compression for table snapshots.
package codec

import (
	"errors"
	"io"
)

// ErrUnknownCodec is returned when a codec name is not recognized.
var ErrUnknownCodec = errors.New("codec: unknown codec")

// Codec provides compression and decompression functionality.
type Codec interface {
	// Reader wraps r to decompress data read from it.
	Reader(r io.Reader) (io.ReadCloser, error)
	// Writer wraps w to compress data written to it.
	Writer(w io.Writer) (io.WriteCloser, error)
	// Extension returns the file extension without dot ("zst", "gz"),
	// or "" when data is stored uncompressed.
	Extension() string
}

// FileName appends the codec's extension to base.
func FileName(base string, c Codec) string {
	if ext := c.Extension(); ext != "" {
		return base + "." + ext
	}
	return base
}
