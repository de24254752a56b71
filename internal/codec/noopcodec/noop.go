// Package noopcodec stores table files uncompressed.
package noopcodec

import (
	"io"

	"github.com/wilologistics/keeper/internal/codec"
)

var _ codec.Codec = (*Codec)(nil)

// Codec passes bytes through unchanged. Closing its reader or writer never
// closes the underlying stream, matching the compressing codecs.
type Codec struct{}

// New returns a pass-through codec.
func New() *Codec { return &Codec{} }

func (*Codec) Reader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

func (*Codec) Writer(w io.Writer) (io.WriteCloser, error) {
	return passthrough{w}, nil
}

// Extension is empty so table files keep their plain .json names.
func (*Codec) Extension() string { return "" }

type passthrough struct{ io.Writer }

func (passthrough) Close() error { return nil }
