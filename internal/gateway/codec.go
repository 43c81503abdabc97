package gateway

import (
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/grpc/encoding"
	_ "google.golang.org/grpc/encoding/gzip" // Register gzip compressor
)

// frame carries one opaque gRPC message through the bridge without
// decoding it.
type frame struct {
	payload []byte
}

// rawCodec is a passthrough codec: messages are relayed byte-for-byte and
// the gateway never interprets the payload. It advertises the "proto" name
// so proto-speaking agents and shards interoperate with it transparently.
type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	f, ok := v.(*frame)
	if !ok {
		return nil, fmt.Errorf("rawCodec: unexpected message type %T", v)
	}
	return f.payload, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	f, ok := v.(*frame)
	if !ok {
		return fmt.Errorf("rawCodec: unexpected message type %T", v)
	}
	f.payload = data
	return nil
}

func (rawCodec) Name() string {
	return "proto"
}

func init() {
	// Register zstd so compressed OTLP streams are accepted alongside gzip.
	encoding.RegisterCompressor(&zstdCompressor{})
}

// zstdCompressor implements grpc encoding.Compressor for zstd.
type zstdCompressor struct{}

func (c *zstdCompressor) Name() string {
	return "zstd"
}

func (c *zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	encoder := zstdWriterPool.Get().(*zstd.Encoder)
	encoder.Reset(w)
	return &pooledZstdWriter{Encoder: encoder}, nil
}

func (c *zstdCompressor) Decompress(r io.Reader) (io.Reader, error) {
	decoder := zstdReaderPool.Get().(*zstd.Decoder)
	if err := decoder.Reset(r); err != nil {
		return nil, err
	}
	return &pooledZstdReader{Decoder: decoder}, nil
}

// zstd encoder/decoder pools for performance
var zstdWriterPool = &sync.Pool{
	New: func() interface{} {
		w, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		return w
	},
}

var zstdReaderPool = &sync.Pool{
	New: func() interface{} {
		r, _ := zstd.NewReader(nil)
		return r
	},
}

type pooledZstdWriter struct {
	*zstd.Encoder
}

func (p *pooledZstdWriter) Close() error {
	err := p.Encoder.Close()
	p.Encoder.Reset(nil)
	zstdWriterPool.Put(p.Encoder)
	return err
}

type pooledZstdReader struct {
	*zstd.Decoder
}

func (p *pooledZstdReader) Read(b []byte) (int, error) {
	n, err := p.Decoder.Read(b)
	if err == io.EOF {
		_ = p.Decoder.Reset(nil)
		zstdReaderPool.Put(p.Decoder)
	}
	return n, err
}
