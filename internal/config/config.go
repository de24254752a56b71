// Package config provides layered, key-path addressed configuration.
//
// Values are resolved from built-in defaults, then an optional JSON or YAML
// file, then the environment (including a .env file). Keys are dotted paths
// into the resulting tree, e.g. "backup.max_backups".
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/xhit/go-str2duration/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KEEPER_"

// ErrInvalidKey is returned by Set for an empty key path.
var ErrInvalidKey = errors.New("config: invalid key path")

// Source flags which layers contributed to a Config.
type Source struct {
	File bool `json:"file"`
	Env  bool `json:"env"`
}

// Config is a mutable configuration tree. It is safe for concurrent use.
type Config struct {
	path    string
	envFile string
	lookup  func(string) (string, bool)
	logger  *zap.Logger

	mu     sync.RWMutex
	data   map[string]any
	source Source
}

// Option configures Load.
type Option func(*Config)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) { c.logger = l }
}

// WithEnvFile sets the .env file consulted for overrides. Empty disables it.
func WithEnvFile(path string) Option {
	return func(c *Config) { c.envFile = path }
}

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(c *Config) { c.lookup = fn }
}

// New returns a config holding only the defaults merged with values.
// It is not backed by a file until one is given to Load.
func New(values map[string]any) *Config {
	c := &Config{
		lookup: os.LookupEnv,
		logger: zap.NewNop(),
		data:   Defaults(),
	}
	merge(c.data, normalize(values).(map[string]any))
	return c
}

// Load builds a config from defaults, the file at path and the environment.
// A missing file is not an error. A file that cannot be parsed is renamed to
// "<path>.corrupt.<mtime>" and ignored.
func Load(path string, opts ...Option) (*Config, error) {
	c := &Config{
		path:    path,
		envFile: ".env",
		lookup:  os.LookupEnv,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload rebuilds the tree from all sources.
func (c *Config) Reload() error {
	data := Defaults()
	var src Source

	if c.path != "" {
		fileData, err := c.readFile()
		if err != nil {
			return err
		}
		if fileData != nil {
			merge(data, fileData)
			src.File = true
		}
	}

	env, err := c.envLookup()
	if err != nil {
		return err
	}
	if applyEnv(data, env) {
		src.Env = true
	}

	c.mu.Lock()
	c.data = data
	c.source = src
	c.mu.Unlock()

	c.logger.Debug("configuration loaded",
		zap.String("path", c.path),
		zap.Bool("from_file", src.File),
		zap.Bool("from_env", src.Env),
	)
	return nil
}

func (c *Config) readFile() (map[string]any, error) {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		c.quarantine(err)
		return nil, nil
	}
	if doc == nil {
		return nil, nil
	}
	m, ok := normalize(doc).(map[string]any)
	if !ok {
		c.quarantine(fmt.Errorf("top-level value is %T, want a mapping", doc))
		return nil, nil
	}
	return m, nil
}

// quarantine moves an unparsable config file out of the way.
func (c *Config) quarantine(cause error) {
	c.logger.Error("config file is corrupt", zap.String("path", c.path), zap.Error(cause))

	info, err := os.Stat(c.path)
	if err != nil {
		c.logger.Error("stat corrupt config", zap.Error(err))
		return
	}
	target := fmt.Sprintf("%s.corrupt.%d", c.path, info.ModTime().Unix())
	if err := os.Rename(c.path, target); err != nil {
		c.logger.Error("renaming corrupt config", zap.Error(err))
		return
	}
	c.logger.Warn("corrupt config file set aside", zap.String("renamed_to", target))
}

// envLookup returns a lookup over the process environment backed by the .env file.
// Process variables win over .env entries.
func (c *Config) envLookup() (func(string) (string, bool), error) {
	var dotenv map[string]string
	if c.envFile != "" {
		m, err := godotenv.Read(c.envFile)
		switch {
		case err == nil:
			dotenv = m
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("reading env file %s: %w", c.envFile, err)
		}
	}
	return func(key string) (string, bool) {
		if v, ok := c.lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}, nil
}

// applyEnv overrides every default leaf that has a matching environment
// variable, converting the string to the leaf's type.
func applyEnv(data map[string]any, lookup func(string) (string, bool)) bool {
	var applied bool
	for _, key := range leafKeys(Defaults(), "") {
		name := EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		raw, ok := lookup(name)
		if !ok {
			continue
		}
		def, _ := lookupPath(data, key)
		setPath(data, key, coerce(raw, def))
		applied = true
	}
	if url, ok := lookup("DATABASE_URL"); ok && url != "" {
		if _, set := lookup(EnvPrefix + "DATABASE_URL"); !set {
			setPath(data, "database.url", url)
			applied = true
		}
	}
	return applied
}

func coerce(raw string, like any) any {
	switch like.(type) {
	case bool:
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	case int:
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	case float64:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case []any:
		parts := strings.Split(raw, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return raw
}

// Path returns the backing file path, if any.
func (c *Config) Path() string {
	return c.path
}

// Source reports which layers contributed values.
func (c *Config) Source() Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source
}

// Get returns the value at key. Empty mappings count as absent.
func (c *Config) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := lookupPath(c.data, key)
	if !ok {
		return nil, false
	}
	if m, isMap := v.(map[string]any); isMap && len(m) == 0 {
		return nil, false
	}
	return v, true
}

// String returns the value at key rendered as a string, or def.
func (c *Config) String(key, def string) string {
	v, ok := c.Get(key)
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns the integer at key, or def when absent or not numeric.
func (c *Config) Int(key string, def int) int {
	v, ok := c.Get(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return def
}

// Float returns the number at key, or def.
func (c *Config) Float(key string, def float64) float64 {
	v, ok := c.Get(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f
		}
	}
	return def
}

// Bool returns the boolean at key, or def.
func (c *Config) Bool(key string, def bool) bool {
	v, ok := c.Get(key)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
	}
	return def
}

// Duration returns the duration at key, or def. Strings accept day and week
// units ("7d", "1w2d"); bare numbers are seconds.
func (c *Config) Duration(key string, def time.Duration) time.Duration {
	v, ok := c.Get(key)
	if !ok {
		return def
	}
	switch d := v.(type) {
	case string:
		if parsed, err := str2duration.ParseDuration(d); err == nil {
			return parsed
		}
	case int:
		return time.Duration(d) * time.Second
	case float64:
		return time.Duration(d * float64(time.Second))
	}
	return def
}

// Strings returns the list at key, or def. A comma-separated string is split.
func (c *Config) Strings(key string, def []string) []string {
	v, ok := c.Get(key)
	if !ok {
		return def
	}
	switch l := v.(type) {
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case []string:
		return append([]string(nil), l...)
	case string:
		var out []string
		for _, item := range coerce(l, []any{}).([]any) {
			out = append(out, item.(string))
		}
		return out
	}
	return def
}

// Set stores value at key, creating intermediate mappings as needed.
// The change is kept in memory until Save is called.
func (c *Config) Set(key string, value any) error {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") {
		return fmt.Errorf("%q: %w", key, ErrInvalidKey)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	setPath(c.data, key, normalize(value))
	return nil
}

// Save writes the current tree to the backing file. YAML is written for
// .yaml and .yml paths, indented JSON otherwise.
func (c *Config) Save() error {
	if c.path == "" {
		return errors.New("config: no file to save to")
	}

	c.mu.RLock()
	var (
		out []byte
		err error
	)
	switch strings.ToLower(filepath.Ext(c.path)) {
	case ".yaml", ".yml":
		out, err = yaml.Marshal(c.data)
	default:
		out, err = json.MarshalIndent(c.data, "", "  ")
	}
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing config: %w", err)
	}
	c.logger.Info("configuration saved", zap.String("path", c.path))
	return nil
}

// All returns a deep copy of the whole tree.
func (c *Config) All() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return deepCopy(c.data).(map[string]any)
}

// Keys returns every leaf key path in sorted order.
func (c *Config) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return leafKeys(c.data, "")
}

// Validation is the result of Validate.
type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Valid reports whether no errors were found.
func (v Validation) Valid() bool {
	return len(v.Errors) == 0
}

// Validate checks the settings the archiver depends on.
func (c *Config) Validate() Validation {
	var v Validation

	if c.String("datastore.kind", "") == "postgres" && c.String("database.url", "") == "" {
		v.Errors = append(v.Errors, "database.url is required for the postgres datastore")
	}
	if c.Int("backup.max_backups", 0) < 1 {
		v.Errors = append(v.Errors, "backup.max_backups must be at least 1")
	}
	if h := c.Int("backup.schedule_hour", 0); h < 0 || h > 23 {
		v.Errors = append(v.Errors, fmt.Sprintf("backup.schedule_hour %d is not an hour of the day", h))
	}
	switch t := c.String("backup.schedule_type", "full"); t {
	case "full", "incremental", "database_only":
	default:
		v.Errors = append(v.Errors, fmt.Sprintf("backup.schedule_type %q is not a backup type", t))
	}
	if lvl := c.Int("backup.compression_level", 9); lvl < 0 || lvl > 9 {
		v.Errors = append(v.Errors, fmt.Sprintf("backup.compression_level %d is out of range 0-9", lvl))
	}
	for _, key := range []string{"paths.data_dir", "paths.images_dir"} {
		if p := c.String(key, ""); p != "" {
			if _, err := os.Stat(p); err != nil {
				v.Warnings = append(v.Warnings, fmt.Sprintf("%s does not exist: %s", key, p))
			}
		}
	}
	return v
}

// merge copies src into dst, descending into mappings present in both.
func merge(dst, src map[string]any) {
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				merge(dm, sm)
				continue
			}
		}
		dst[k] = v
	}
}

// normalize converts decoded documents into map[string]any and []any trees.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = val
		}
		return out
	case int64:
		return int(t)
	case uint64:
		return int(t)
	default:
		return v
	}
}

func deepCopy(v any) any {
	return normalize(v)
}

func lookupPath(data map[string]any, key string) (any, bool) {
	var cur any = data
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func setPath(data map[string]any, key string, value any) {
	parts := strings.Split(key, ".")
	cur := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

func leafKeys(data map[string]any, prefix string) []string {
	var keys []string
	for k, v := range data {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if m, ok := v.(map[string]any); ok && len(m) > 0 {
			keys = append(keys, leafKeys(m, path)...)
			continue
		}
		keys = append(keys, path)
	}
	sort.Strings(keys)
	return keys
}
