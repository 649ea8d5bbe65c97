package codec

import "github.com/zarrgo/zarr/config"

// Registry is the process-wide codec name -> constructor map (§4.C). Each
// constructor builds the codec's default configuration; callers needing a
// non-default configuration (e.g. a specific blosc cname) construct the
// concrete type directly and skip the registry.
var Registry = config.NewRegistry[Codec]()

func init() {
	must(Registry.Register(func() Codec { return NewBytesCodec("little") }, "bytes", "BytesCodec"))
	must(Registry.Register(func() Codec { return NewEndianCodec("little") }, "endian"))
	must(Registry.Register(func() Codec { return NewTransposeCodec(nil) }, "transpose", "TransposeCodec"))
	must(Registry.Register(func() Codec { return NewGzipCodec(0) }, "gzip", "GzipCodec"))
	must(Registry.Register(func() Codec { return NewZstdCodec(0) }, "zstd", "ZstdCodec"))
	must(Registry.Register(func() Codec { return NewZlibCodec(0) }, "zlib", "ZlibCodec"))
	must(Registry.Register(func() Codec { return NewBloscCodec("", 0, 0, 0) }, "blosc", "BloscCodec"))
	must(Registry.Register(func() Codec { return NewCrc32cCodec() }, "crc32c", "Crc32cCodec"))
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
