// Package config implements the process-wide codec registry and
// configuration layer (§4.C), modeled on zarr-python's donfig-based Config:
// a nested map populated from defaults, environment variables of the shape
// ZARR_PYTHON_SECTION__KEY=<literal>, and programmatic overrides, resolved
// env > programmatic > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrBadConfig is returned for unknown codec/pipeline/buffer names or
// ambiguous registrations (§7 BadConfig).
var ErrBadConfig = errors.New("config: bad config")

const envPrefix = "ZARR_PYTHON_"

// Config is a hierarchical string->value store keyed by dotted paths
// ("codec_pipeline.name"), mutated only via explicit Set/Reset/Scoped/
// LoadFile (§5). A mutex guards every access, so concurrent reads and
// writes do not race; overrides are process-wide, so a Scoped override is
// visible to every goroutine while it is in place.
type Config struct {
	mu       sync.RWMutex
	defaults map[string]any
	override map[string]any
}

// New builds a Config seeded with the given defaults (dotted-path keys).
func New(defaults map[string]any) *Config {
	return &Config{defaults: cloneMap(defaults), override: make(map[string]any)}
}

// Default is the process-wide configuration singleton, pre-seeded with the
// same sections zarr-python's Config(...) ships: array order, async
// concurrency/timeout, the codec pipeline name/batch size, and the
// name->implementation-class map for every built-in codec.
var Default = New(map[string]any{
	"array.order":                  "C",
	"async.concurrency":            0, // 0 == unbounded
	"async.timeout":                0, // 0 == no timeout
	"codec_pipeline.name":          "BatchedCodecPipeline",
	"codec_pipeline.batch_size":    1,
	"json_indent":                  2,
	"codecs.blosc.name":            "BloscCodec",
	"codecs.gzip.name":             "GzipCodec",
	"codecs.zstd.name":             "ZstdCodec",
	"codecs.zlib.name":             "ZlibCodec",
	"codecs.bytes.name":            "BytesCodec",
	"codecs.endian.name":           "BytesCodec",
	"codecs.crc32c.name":           "Crc32cCodec",
	"codecs.sharding_indexed.name": "ShardingCodec",
	"codecs.transpose.name":        "TransposeCodec",
})

// Set installs a programmatic override at the given dotted path.
func (c *Config) Set(path string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.override[path] = value
}

// Reset clears all programmatic overrides, leaving only defaults (and the
// environment, which is re-read on every Get).
func (c *Config) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.override = make(map[string]any)
}

// Get resolves path with precedence environment > programmatic > defaults.
func (c *Config) Get(path string) (any, bool) {
	if v, ok := envOverride(path); ok {
		return v, true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.override[path]; ok {
		return v, true
	}
	if v, ok := c.defaults[path]; ok {
		return v, true
	}
	return nil, false
}

// GetString is a convenience accessor raising ErrBadConfig on absence.
func (c *Config) GetString(path string) (string, error) {
	v, ok := c.Get(path)
	if !ok {
		return "", fmt.Errorf("%w: unknown key %q", ErrBadConfig, path)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: key %q is not a string (got %T)", ErrBadConfig, path, v)
	}
	return s, nil
}

// GetInt is a convenience accessor raising ErrBadConfig on absence or a
// non-numeric value.
func (c *Config) GetInt(path string) (int, error) {
	v, ok := c.Get(path)
	if !ok {
		return 0, fmt.Errorf("%w: unknown key %q", ErrBadConfig, path)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: key %q is not numeric (got %T)", ErrBadConfig, path, v)
	}
}

// Scoped runs fn with path temporarily set to value, restoring the prior
// override (or absence of one) afterward — the Go equivalent of donfig's
// `with config.set(...):` context manager (§8 scenario 5).
func (c *Config) Scoped(path string, value any, fn func()) {
	c.mu.Lock()
	prev, had := c.override[path]
	c.override[path] = value
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if had {
			c.override[path] = prev
		} else {
			delete(c.override, path)
		}
		c.mu.Unlock()
	}()
	fn()
}

// LoadFile merges a YAML override file of nested sections into the
// config's programmatic overrides, flattening the nesting into dotted
// paths ("array: {order: F}" becomes array.order). Environment variables
// still win over anything loaded here.
func (c *Config) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: parsing %s: %v", ErrBadConfig, path, err)
	}
	flatten("", doc, c.Set)
	return nil
}

func flatten(prefix string, m map[string]any, emit func(string, any)) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flatten(key, sub, emit)
			continue
		}
		emit(key, v)
	}
}

// envOverride looks up path ("array.order") as ZARR_PYTHON_ARRAY__ORDER and,
// if set, parses it as a Go literal the way donfig calls ast.literal_eval:
// ints and floats parse as numbers, any other spelling strconv.ParseBool
// accepts ("true", "False", "t", "F", ...) as bool, anything else is left
// as a string.
func envOverride(path string) (any, bool) {
	segs := strings.Split(path, ".")
	for i, s := range segs {
		segs[i] = strings.ToUpper(s)
	}
	envVar := envPrefix + strings.Join(segs, "__")
	raw, ok := os.LookupEnv(envVar)
	if !ok {
		return nil, false
	}
	return parseLiteral(raw), true
}

func parseLiteral(raw string) any {
	if i, err := strconv.Atoi(raw); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

// CamelCase mirrors config.py's camel_case: the fallback name tried when a
// literal registry lookup misses, e.g. "my_codec" -> "MyCodec".
func CamelCase(s string) string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == ' ' })
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
