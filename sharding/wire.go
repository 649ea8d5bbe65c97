package sharding

import (
	"fmt"

	"github.com/zarrgo/zarr/codec"
	"github.com/zarrgo/zarr/pipeline"
)

// init wires this codec into pipeline.FromNamedConfigs's name resolution.
// Importing this package anywhere in a program (e.g. from array's
// NamedConfigOf, or directly by a caller building a sharded array) is
// sufficient to make "sharding_indexed" resolvable from a zarr.json
// codecs[] entry.
func init() {
	pipeline.ShardingCodecBuilder = buildFromWireConfig
}

func buildFromWireConfig(conf map[string]any, build func(pipeline.NamedCodecConfig) (codec.Codec, error)) (codec.Codec, error) {
	chunkShape, err := intsFromConf(conf, "chunk_shape")
	if err != nil {
		return nil, err
	}
	codecs, err := codecsFromConf(conf, "codecs", build)
	if err != nil {
		return nil, err
	}
	indexCodecs, err := codecsFromConf(conf, "index_codecs", build)
	if err != nil {
		return nil, err
	}
	location := IndexEnd
	if loc, ok := conf["index_location"].(string); ok && loc == "start" {
		location = IndexStart
	}
	return New(chunkShape, codecs, indexCodecs, location), nil
}

func intsFromConf(m map[string]any, key string) ([]int, error) {
	raw, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("%w: sharding_indexed configuration missing %q", codec.ErrBadCodec, key)
	}
	switch v := raw.(type) {
	case []int:
		return v, nil
	case []any:
		out := make([]int, len(v))
		for i, x := range v {
			f, ok := x.(float64)
			if !ok {
				return nil, fmt.Errorf("%w: sharding_indexed %q must be a list of integers", codec.ErrBadCodec, key)
			}
			out[i] = int(f)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: sharding_indexed %q must be a list of integers", codec.ErrBadCodec, key)
	}
}

func codecsFromConf(m map[string]any, key string, build func(pipeline.NamedCodecConfig) (codec.Codec, error)) ([]codec.Codec, error) {
	raw, ok := m[key]
	if !ok {
		return nil, nil
	}
	entries, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: sharding_indexed %q must be a list of codec entries", codec.ErrBadCodec, key)
	}
	out := make([]codec.Codec, 0, len(entries))
	for _, e := range entries {
		obj, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: sharding_indexed %q entry must be an object", codec.ErrBadCodec, key)
		}
		name, _ := obj["name"].(string)
		conf, _ := obj["configuration"].(map[string]any)
		c, err := build(pipeline.NamedCodecConfig{Name: name, Configuration: conf})
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
