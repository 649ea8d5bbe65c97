// Package pipeline composes the three codec kinds into the fixed-phase
// chain §4.G describes: zero or more array->array codecs, exactly one
// array->bytes codec, then zero or more bytes->bytes codecs, constructed
// once per array and reused across every chunk.
package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/zarrgo/zarr/buffer"
	"github.com/zarrgo/zarr/codec"
	"github.com/zarrgo/zarr/config"
)

// ErrBadCodec mirrors codec.ErrBadCodec for pipeline-level construction
// failures (wrong codec kind in a given slot, two array->bytes codecs).
var ErrBadCodec = codec.ErrBadCodec

// CodecPipeline is the contract the array facade drives. The default
// implementation is Pipeline, registered as "BatchedCodecPipeline"; callers
// may register their own factory and select it through the
// codec_pipeline.name config key (§4.C pluggable extension points), which
// the ZARR_PYTHON_CODEC_PIPELINE__NAME environment variable overrides like
// any other key.
type CodecPipeline interface {
	Encode(ctx context.Context, nd *buffer.NDBuffer) (*buffer.Bytes, error)
	Decode(ctx context.Context, raw *buffer.Bytes) (*buffer.NDBuffer, error)
	SupportsPartialDecode() bool
}

// Factory builds a CodecPipeline from a decoded §6 codecs[] list and the
// owning array's chunk spec.
type Factory func(ctx context.Context, named []NamedCodecConfig, spec codec.ArraySpec) (CodecPipeline, error)

// Registry resolves codec_pipeline.name to a Factory.
var Registry = config.NewRegistry[Factory]()

func init() {
	if err := Registry.Register(func() Factory { return buildBatched }, "BatchedCodecPipeline", "batched"); err != nil {
		panic(err)
	}
}

// Pipeline is a constructed, ready-to-run codec chain for one array's
// chunks. It is built once per array (or per evolved sub-spec, e.g. a
// sharding codec's inner pipeline) and reused across every chunk.
type Pipeline struct {
	arrayArray []codec.ArrayArrayCodec
	arrayBytes codec.ArrayBytesCodec
	bytesBytes []codec.BytesBytesCodec
	spec       codec.ArraySpec
	// encodedSpec is spec mapped across the array->array codecs: the spec
	// the array->bytes codec actually encodes and decodes against.
	encodedSpec codec.ArraySpec
	batchSize   int
}

// New partitions codecs by kind, validating the §3 invariants that exactly
// one array->bytes codec is present and that the three phases appear in
// order, then calls EvolveFromArraySpec on each so per-chunk
// specialization (e.g. sharding's inner dtype) happens once at
// construction rather than per chunk. Each codec evolves and validates
// against the spec it actually sees, i.e. after any preceding
// array->array transforms.
func New(ctx context.Context, codecs []codec.Codec, spec codec.ArraySpec) (*Pipeline, error) {
	p := &Pipeline{spec: spec, batchSize: 1}
	if n, err := config.Default.GetInt("codec_pipeline.batch_size"); err == nil && n > 0 {
		p.batchSize = n
	}

	cur := spec
	for _, c := range codecs {
		evolved, err := c.EvolveFromArraySpec(cur)
		if err != nil {
			return nil, fmt.Errorf("pipeline: evolving codec %q: %w", c.Name(), err)
		}
		if evolved != nil {
			c = evolved
		}
		if err := c.Validate(cur); err != nil {
			return nil, err
		}
		switch c.Kind() {
		case codec.KindArrayArray:
			aa, ok := c.(codec.ArrayArrayCodec)
			if !ok {
				return nil, fmt.Errorf("%w: %q tagged array->array but does not implement it", ErrBadCodec, c.Name())
			}
			if p.arrayBytes != nil || len(p.bytesBytes) > 0 {
				return nil, fmt.Errorf("%w: array->array codec %q after the array->bytes phase", ErrBadCodec, c.Name())
			}
			p.arrayArray = append(p.arrayArray, aa)
			cur = aa.ResolveSpec(cur)
		case codec.KindArrayBytes:
			ab, ok := c.(codec.ArrayBytesCodec)
			if !ok {
				return nil, fmt.Errorf("%w: %q tagged array->bytes but does not implement it", ErrBadCodec, c.Name())
			}
			if p.arrayBytes != nil {
				return nil, fmt.Errorf("%w: more than one array->bytes codec (%q and %q)", ErrBadCodec, p.arrayBytes.Name(), c.Name())
			}
			p.arrayBytes = ab
		case codec.KindBytesBytes:
			bb, ok := c.(codec.BytesBytesCodec)
			if !ok {
				return nil, fmt.Errorf("%w: %q tagged bytes->bytes but does not implement it", ErrBadCodec, c.Name())
			}
			if p.arrayBytes == nil {
				return nil, fmt.Errorf("%w: bytes->bytes codec %q before the array->bytes phase", ErrBadCodec, c.Name())
			}
			p.bytesBytes = append(p.bytesBytes, bb)
		default:
			return nil, fmt.Errorf("%w: unknown codec kind for %q", ErrBadCodec, c.Name())
		}
	}
	if p.arrayBytes == nil {
		return nil, fmt.Errorf("%w: pipeline requires exactly one array->bytes codec", ErrBadCodec)
	}
	p.encodedSpec = cur
	return p, nil
}

// Encode runs the full chain forward: array->array codecs in order, the
// array->bytes codec, then bytes->bytes codecs in order. This is the byte
// sequence a chunk key's value holds in the store.
func (p *Pipeline) Encode(ctx context.Context, nd *buffer.NDBuffer) (*buffer.Bytes, error) {
	cur := nd
	for _, c := range p.arrayArray {
		next, err := c.EncodeArray(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("pipeline: encode %q: %w", c.Name(), err)
		}
		cur = next
	}
	b, err := p.arrayBytes.EncodeArrayToBytes(ctx, cur)
	if err != nil {
		return nil, fmt.Errorf("pipeline: encode %q: %w", p.arrayBytes.Name(), err)
	}
	for _, c := range p.bytesBytes {
		next, err := c.EncodeBytes(ctx, b)
		if err != nil {
			return nil, fmt.Errorf("pipeline: encode %q: %w", c.Name(), err)
		}
		b = next
	}
	return b, nil
}

// Decode runs the chain in reverse: bytes->bytes codecs in reverse
// construction order, the array->bytes codec, then array->array codecs in
// reverse order.
func (p *Pipeline) Decode(ctx context.Context, raw *buffer.Bytes) (*buffer.NDBuffer, error) {
	b := raw
	for i := len(p.bytesBytes) - 1; i >= 0; i-- {
		c := p.bytesBytes[i]
		next, err := c.DecodeBytes(ctx, b)
		if err != nil {
			return nil, fmt.Errorf("pipeline: decode %q: %w", c.Name(), err)
		}
		b = next
	}
	nd, err := p.arrayBytes.DecodeBytesToArray(ctx, b, p.encodedSpec)
	if err != nil {
		return nil, fmt.Errorf("pipeline: decode %q: %w", p.arrayBytes.Name(), err)
	}
	for i := len(p.arrayArray) - 1; i >= 0; i-- {
		c := p.arrayArray[i]
		next, err := c.DecodeArray(ctx, nd)
		if err != nil {
			return nil, fmt.Errorf("pipeline: decode %q: %w", c.Name(), err)
		}
		nd = next
	}
	return nd, nil
}

// SupportsPartialDecode reports whether the array->bytes codec (the only
// codec kind §4.G allows to implement partial reads) can service a
// sub-region read directly against the store. That requires the codec to
// be the whole chain: a bytes->bytes codec has no notion of byte ranges
// within its compressed form, and an array->array codec would still need
// a full-buffer inverse transform after the partial decode.
func (p *Pipeline) SupportsPartialDecode() bool {
	return len(p.arrayArray) == 0 && len(p.bytesBytes) == 0 && p.arrayBytes.SupportsPartialDecode()
}

// ArrayBytesCodec exposes the pipeline's single array->bytes codec, so the
// array facade can hand a byte-range-capable store to a codec that decodes
// partially (the sharding codec).
func (p *Pipeline) ArrayBytesCodec() codec.ArrayBytesCodec { return p.arrayBytes }

// EncodeBatch runs Encode over every item, processed in groups of the
// codec_pipeline.batch_size config key; within a group items run
// concurrently, bounded by async.concurrency (0 means unbounded). A
// failure in any item cancels the rest and is returned; results preserve
// input order.
func (p *Pipeline) EncodeBatch(ctx context.Context, buffers []*buffer.NDBuffer) ([]*buffer.Bytes, error) {
	out := make([]*buffer.Bytes, len(buffers))
	for start := 0; start < len(buffers); start += p.batchSize {
		end := start + p.batchSize
		if end > len(buffers) {
			end = len(buffers)
		}
		g, gctx := errgroup.WithContext(ctx)
		if n, err := config.Default.GetInt("async.concurrency"); err == nil && n > 0 {
			g.SetLimit(n)
		}
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				b, err := p.Encode(gctx, buffers[i])
				if err != nil {
					return err
				}
				out[i] = b
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DecodeBatch is EncodeBatch's mirror for decode. Nil inputs (absent
// chunks) stay nil in the output; the caller synthesizes fill for them.
func (p *Pipeline) DecodeBatch(ctx context.Context, raws []*buffer.Bytes) ([]*buffer.NDBuffer, error) {
	out := make([]*buffer.NDBuffer, len(raws))
	for start := 0; start < len(raws); start += p.batchSize {
		end := start + p.batchSize
		if end > len(raws) {
			end = len(raws)
		}
		g, gctx := errgroup.WithContext(ctx)
		if n, err := config.Default.GetInt("async.concurrency"); err == nil && n > 0 {
			g.SetLimit(n)
		}
		for i := start; i < end; i++ {
			i := i
			if raws[i] == nil {
				continue
			}
			g.Go(func() error {
				nd, err := p.Decode(gctx, raws[i])
				if err != nil {
					return err
				}
				out[i] = nd
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FromNamedConfigs resolves the configured codec pipeline implementation
// (codec_pipeline.name, default "BatchedCodecPipeline") and hands it the §6
// codecs array (name + configuration pairs) to construct against spec.
func FromNamedConfigs(ctx context.Context, named []NamedCodecConfig, spec codec.ArraySpec) (CodecPipeline, error) {
	name, err := config.Default.GetString("codec_pipeline.name")
	if err != nil || name == "" {
		name = "BatchedCodecPipeline"
	}
	factory, err := Registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	return factory(ctx, named, spec)
}

// buildBatched is the default Factory: it resolves each codecs[] entry
// through the codec registry into a constructed Codec value, then builds a
// Pipeline. Codecs needing non-default configuration (blosc's cname,
// transpose's order) are constructed directly here rather than via the
// registry's zero-value constructors.
func buildBatched(ctx context.Context, named []NamedCodecConfig, spec codec.ArraySpec) (CodecPipeline, error) {
	codecs := make([]codec.Codec, 0, len(named))
	for _, nc := range named {
		c, err := buildCodec(nc)
		if err != nil {
			return nil, err
		}
		codecs = append(codecs, c)
	}
	return New(ctx, codecs, spec)
}

// NamedCodecConfig is the decoded form of a zarr.json codecs[] entry.
type NamedCodecConfig struct {
	Name          string
	Configuration map[string]any
}

// ShardingCodecBuilder is set by package sharding's init, breaking the
// import cycle that would otherwise result (sharding builds inner
// Pipelines, so pipeline cannot import sharding directly). nil until the
// sharding package is imported anywhere in the program.
var ShardingCodecBuilder func(conf map[string]any, build func(NamedCodecConfig) (codec.Codec, error)) (codec.Codec, error)

func buildCodec(nc NamedCodecConfig) (codec.Codec, error) {
	switch nc.Name {
	case "sharding_indexed":
		if ShardingCodecBuilder == nil {
			return nil, fmt.Errorf("%w: sharding_indexed codec requires importing the sharding package", ErrBadCodec)
		}
		return ShardingCodecBuilder(nc.Configuration, buildCodec)
	case "bytes":
		return codec.NewBytesCodec(stringConf(nc.Configuration, "endian", "little")), nil
	case "endian":
		return codec.NewEndianCodec(stringConf(nc.Configuration, "endian", "little")), nil
	case "transpose":
		order, err := intsConf(nc.Configuration, "order")
		if err != nil {
			return nil, err
		}
		return codec.NewTransposeCodec(order), nil
	case "gzip":
		return codec.NewGzipCodec(intConf(nc.Configuration, "level", 0)), nil
	case "zstd":
		return codec.NewZstdCodec(intConf(nc.Configuration, "level", 0)), nil
	case "zlib":
		return codec.NewZlibCodec(intConf(nc.Configuration, "level", 0)), nil
	case "blosc":
		return codec.NewBloscCodec(
			stringConf(nc.Configuration, "cname", ""),
			intConf(nc.Configuration, "clevel", 0),
			intConf(nc.Configuration, "shuffle", 0),
			intConf(nc.Configuration, "typesize", 0),
		), nil
	case "crc32c":
		return codec.NewCrc32cCodec(), nil
	default:
		got, err := codec.Registry.Lookup(nc.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: unknown codec %q", ErrBadCodec, nc.Name)
		}
		return got, nil
	}
}

func stringConf(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return def
}

func intConf(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func intsConf(m map[string]any, key string) ([]int, error) {
	raw, ok := m[key]
	if !ok {
		return nil, nil
	}
	switch v := raw.(type) {
	case []int:
		return v, nil
	case []any:
		out := make([]int, len(v))
		for i, x := range v {
			f, ok := x.(float64)
			if !ok {
				return nil, fmt.Errorf("%w: %q must be a list of integers", ErrBadCodec, key)
			}
			out[i] = int(f)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q must be a list of integers", ErrBadCodec, key)
	}
}
