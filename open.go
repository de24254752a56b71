package keeper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/wilologistics/keeper/internal/codec"
	"github.com/wilologistics/keeper/internal/codec/gzipcodec"
	"github.com/wilologistics/keeper/internal/codec/noopcodec"
	"github.com/wilologistics/keeper/internal/codec/zstdcodec"
	"github.com/wilologistics/keeper/internal/config"
	"github.com/wilologistics/keeper/internal/datastore"
	"github.com/wilologistics/keeper/internal/datastore/filestore"
	"github.com/wilologistics/keeper/internal/datastore/pgstore"
	"github.com/wilologistics/keeper/internal/store"
	"github.com/wilologistics/keeper/internal/store/diskstore"
	"github.com/wilologistics/keeper/internal/store/gcsstore"
	"github.com/wilologistics/keeper/internal/store/s3store"
)

// NewCodec returns the codec with the given name: "zstd", "zstd-best",
// "gzip" or "none".
func NewCodec(name string) (codec.Codec, error) {
	switch strings.ToLower(name) {
	case "zstd", "":
		return zstdcodec.New(), nil
	case "zstd-best":
		return zstdcodec.NewLevel(zstd.SpeedBestCompression), nil
	case "gzip", "gz":
		return gzipcodec.New(), nil
	case "none", "noop":
		return noopcodec.New(), nil
	}
	return nil, fmt.Errorf("%q: %w", name, codec.ErrUnknownCodec)
}

// OpenDatastore opens the datastore described by datastore.*:
// "postgres" connects to database.url, "file" keeps tables under datastore.dir.
func OpenDatastore(ctx context.Context, c *config.Config, rootDir string, logger *zap.Logger) (datastore.Store, error) {
	key := c.String("datastore.key_column", "id")
	switch kind := c.String("datastore.kind", "file"); kind {
	case "postgres", "postgresql":
		url := c.String("database.url", "")
		if url == "" {
			return nil, fmt.Errorf("datastore %s: database.url is not set", kind)
		}
		ctx, cancel := context.WithTimeout(ctx, c.Duration("database.timeout", 0)+timeoutFloor)
		defer cancel()
		s, err := pgstore.New(ctx, url, pgstore.WithKeyColumn(key), pgstore.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("opening postgres datastore: %w", err)
		}
		return s, nil
	case "file":
		cd, err := NewCodec(c.String("datastore.codec", "zstd"))
		if err != nil {
			return nil, err
		}
		dir := resolvePath(rootDir, c.String("datastore.dir", "data_wilo/tables"))
		s, err := filestore.New(dir, cd, filestore.WithKeyColumn(key), filestore.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("opening file datastore: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown datastore kind %q", kind)
	}
}

// OpenOffsite opens the replication target described by backup.offsite.*.
// It returns nil when backup.offsite.kind is empty.
func OpenOffsite(ctx context.Context, c *config.Config, rootDir string) (store.Store, error) {
	target := c.String("backup.offsite.target", "")
	prefix := c.String("backup.offsite.prefix", "")

	switch kind := c.String("backup.offsite.kind", ""); kind {
	case "":
		return nil, nil
	case "disk":
		dir := resolvePath(rootDir, target)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating offsite dir: %w", err)
		}
		s, err := diskstore.New(dir)
		if err != nil {
			return nil, fmt.Errorf("opening offsite dir: %w", err)
		}
		return s, nil
	case "s3":
		s, err := s3store.New(ctx, target,
			s3store.WithPrefix(prefix),
			s3store.WithRegion(c.String("backup.offsite.region", "")),
			s3store.WithEndpoint(c.String("backup.offsite.endpoint", "")),
		)
		if err != nil {
			return nil, fmt.Errorf("opening offsite bucket: %w", err)
		}
		return s, nil
	case "gcs":
		var clientOpts []option.ClientOption
		if ep := c.String("backup.offsite.endpoint", ""); ep != "" {
			clientOpts = append(clientOpts, option.WithEndpoint(ep), option.WithoutAuthentication())
		}
		s, err := gcsstore.New(ctx, target, []gcsstore.Option{gcsstore.WithPrefix(prefix)}, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("opening offsite bucket: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown offsite kind %q", kind)
	}
}

// timeoutFloor keeps a zero database.timeout from cancelling the connect.
const timeoutFloor = 5 * time.Second

func resolvePath(root, p string) string {
	if p == "" || filepath.IsAbs(p) || root == "" {
		return p
	}
	return filepath.Join(root, p)
}
