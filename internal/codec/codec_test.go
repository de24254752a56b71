package codec_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/wilologistics/keeper/internal/codec"
	"github.com/wilologistics/keeper/internal/codec/gzipcodec"
	"github.com/wilologistics/keeper/internal/codec/noopcodec"
	"github.com/wilologistics/keeper/internal/codec/zstdcodec"
)

func codecs() map[string]codec.Codec {
	return map[string]codec.Codec{
		"gzip":      gzipcodec.New(),
		"gzip-best": gzipcodec.NewLevel(gzip.BestCompression),
		"zstd":      zstdcodec.New(),
		"zstd-fast": zstdcodec.NewLevel(zstd.SpeedFastest),
		"noop":      noopcodec.New(),
	}
}

func roundTrip(t *testing.T, c codec.Codec, original []byte) []byte {
	t.Helper()

	var compressed bytes.Buffer
	writer, err := c.Writer(&compressed)
	if err != nil {
		t.Fatalf("Writer() error = %v", err)
	}
	if _, err := writer.Write(original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reader, err := c.Reader(&compressed)
	if err != nil {
		t.Fatalf("Reader() error = %v", err)
	}
	defer reader.Close()

	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return got
}

func TestCodecs_RoundTrip(t *testing.T) {
	inputs := map[string][]byte{
		"empty":  {},
		"small":  []byte(`[{"id":1,"fecha":"2024-03-01","ventas":1200}]`),
		"repeat": bytes.Repeat([]byte("ABCDEFGHIJ"), 10000),
	}

	for name, c := range codecs() {
		for input, data := range inputs {
			t.Run(name+"/"+input, func(t *testing.T) {
				if got := roundTrip(t, c, data); !bytes.Equal(got, data) {
					t.Errorf("round trip = %d bytes, want %d", len(got), len(data))
				}
			})
		}
	}
}

func TestCodecs_Compress(t *testing.T) {
	data := bytes.Repeat([]byte("ABCDEFGHIJ"), 10000)
	for _, name := range []string{"gzip", "zstd"} {
		c := codecs()[name]
		var buf bytes.Buffer
		w, err := c.Writer(&buf)
		if err != nil {
			t.Fatalf("%s Writer() error = %v", name, err)
		}
		w.Write(data)
		w.Close()
		if buf.Len() >= len(data) {
			t.Errorf("%s produced %d bytes from %d", name, buf.Len(), len(data))
		}
	}
}

func TestGzip_InvalidData(t *testing.T) {
	if _, err := gzipcodec.New().Reader(bytes.NewReader([]byte("not gzip data"))); err == nil {
		t.Error("Reader() expected error for invalid gzip data, got nil")
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		codec codec.Codec
		want  string
	}{
		{gzipcodec.New(), "daily_kpis.json.gz"},
		{zstdcodec.New(), "daily_kpis.json.zst"},
		{noopcodec.New(), "daily_kpis.json"},
	}
	for _, tt := range tests {
		if got := codec.FileName("daily_kpis.json", tt.codec); got != tt.want {
			t.Errorf("FileName() = %q, want %q", got, tt.want)
		}
	}
}
