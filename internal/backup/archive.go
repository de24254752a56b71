package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// errInvalidPath is returned for archive members that would extract outside
// the destination directory.
var errInvalidPath = errors.New("invalid file path")

// archiveWriter streams a directory tree into a deflate zip and tracks how
// many bytes have reached the file.
type archiveWriter struct {
	f       *os.File
	zw      *zip.Writer
	written atomic.Int64
	level   int
}

func createArchive(path string, level int) (*archiveWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}
	aw := &archiveWriter{f: f, level: level}
	aw.zw = zip.NewWriter(newCountingWriter(f, &aw.written))
	aw.zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})
	return aw, nil
}

// addTree adds every regular file under dir, with member names relative to dir.
func (aw *archiveWriter) addTree(dir string) (int, error) {
	var n int
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if err := aw.addFile(filepath.ToSlash(rel), path); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

func (aw *archiveWriter) addFile(name, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	w, err := aw.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: info.ModTime(),
	})
	if err != nil {
		return fmt.Errorf("adding %s: %w", name, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("compressing %s: %w", name, err)
	}
	return nil
}

func (aw *archiveWriter) addBytes(name string, data []byte, modified time.Time) error {
	w, err := aw.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("adding %s: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}

// payloadSize flushes buffered output and returns the bytes written so far.
func (aw *archiveWriter) payloadSize() (int64, error) {
	if err := aw.zw.Flush(); err != nil {
		return 0, fmt.Errorf("flushing archive: %w", err)
	}
	return aw.written.Load(), nil
}

// writeMetadata appends metadata.json as the final member.
func (aw *archiveWriter) writeMetadata(meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	return aw.addBytes(MetadataFile, data, meta.Timestamp)
}

func (aw *archiveWriter) Close() error {
	zerr := aw.zw.Close()
	ferr := aw.f.Close()
	if zerr != nil {
		return fmt.Errorf("finishing archive: %w", zerr)
	}
	return ferr
}

// abort closes the file without finishing the zip directory.
func (aw *archiveWriter) abort() {
	aw.f.Close()
}

// readMetadata returns the metadata embedded in the archive at path.
func readMetadata(path string) (*Metadata, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != MetadataFile {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening metadata: %w", err)
		}
		defer rc.Close()

		var meta Metadata
		if err := json.NewDecoder(rc).Decode(&meta); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoMetadata, err)
		}
		return &meta, nil
	}
	return nil, ErrNoMetadata
}

// extract unpacks the archive at path into dest, refusing members that would
// land outside dest.
func extract(path, dest string) (int, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return 0, fmt.Errorf("opening archive: %w", err)
	}
	defer r.Close()

	root, err := filepath.Abs(dest)
	if err != nil {
		return 0, err
	}

	var n int
	for _, f := range r.File {
		target, err := memberPath(root, f.Name)
		if err != nil {
			return n, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return n, err
			}
			continue
		}
		if !f.Mode().IsRegular() {
			continue
		}
		if err := extractFile(f, target); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extracting %s: %w", f.Name, err)
	}
	return out.Close()
}

// memberPath maps a zip member name to a path under root.
func memberPath(root, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `\:`) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %q", errInvalidPath, name)
	}
	for _, part := range strings.Split(strings.TrimSuffix(name, "/"), "/") {
		if part != "" && strings.Trim(part, ".") == "" && part != "." {
			return "", fmt.Errorf("%w: %q", errInvalidPath, name)
		}
	}
	target := filepath.Join(root, filepath.FromSlash(name))
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %q", errInvalidPath, name)
	}
	return target, nil
}
