// Package compression handles compressed source objects and compressed
// request bodies.
//
// Source objects are decompressed based on their name suffix:
//
//	algo, base := compression.Detect("events/2024-01-01.ndjson.gz")
//	// algo == compression.Gzip, base == "events/2024-01-01.ndjson"
//
//	raw, err := compression.DecompressObject(name, data)
//
// Destination payloads are gzipped with a pooled compressor:
//
//	comp, _ := compression.NewCompressor(&compression.Config{Algorithm: compression.Gzip})
//	body, err := comp.Compress(payload)
package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents framed snappy compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
	// Deflate represents raw deflate compression
	Deflate Algorithm = "deflate"
)

// Level represents compression level.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = 1
	// Default balances speed and compression.
	Default Level = 5
	// Best maximizes compression ratio.
	Best Level = 9
)

// suffixes maps object name suffixes to the algorithm that produced them.
var suffixes = []struct {
	ext  string
	algo Algorithm
}{
	{".gz", Gzip},
	{".gzip", Gzip},
	{".zst", Zstd},
	{".zstd", Zstd},
	{".lz4", LZ4},
	{".snappy", Snappy},
	{".sz", Snappy},
	{".s2", S2},
	{".deflate", Deflate},
}

// Detect returns the algorithm implied by an object name and the name with
// the compression suffix removed. Unknown suffixes yield None.
func Detect(name string) (Algorithm, string) {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.ext) {
			return s.algo, name[:len(name)-len(s.ext)]
		}
	}
	return None, name
}

// magic holds frame headers for algorithms that have one.
var magic = map[Algorithm][]byte{
	Gzip: {0x1f, 0x8b},
	Zstd: {0x28, 0xb5, 0x2f, 0xfd},
	LZ4:  {0x04, 0x22, 0x4d, 0x18},
}

// DecompressObject decompresses data according to the object's name suffix.
// Data lacking the expected frame header was already decoded in transit
// (GCS decompressive transcoding) and is returned as-is.
func DecompressObject(name string, data []byte) ([]byte, error) {
	algo, _ := Detect(name)
	if algo == None {
		return data, nil
	}
	if m, ok := magic[algo]; ok && !bytes.HasPrefix(data, m) {
		return data, nil
	}
	comp, err := NewCompressor(&Config{Algorithm: algo})
	if err != nil {
		return nil, err
	}
	out, err := comp.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("%s decompress %s: %w", algo, name, err)
	}
	return out, nil
}

// Compressor provides compression and decompression functionality.
// All implementations are safe for concurrent use.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Algorithm() Algorithm
}

// Config represents compressor configuration.
type Config struct {
	Algorithm Algorithm
	Level     Level
}

// NewCompressor creates a new compressor based on the provided configuration.
// If config is nil, gzip at the default level is used.
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil {
		config = &Config{Algorithm: Gzip, Level: Default}
	}

	switch config.Algorithm {
	case None, "":
		return noneCompressor{}, nil
	case Gzip:
		return newGzipCompressor(config.Level), nil
	case Zstd:
		return newZstdCompressor(config.Level), nil
	case LZ4:
		return lz4Compressor{level: mapLZ4Level(config.Level)}, nil
	case Snappy:
		return streamCompressor{
			algo: Snappy,
			writer: func(w io.Writer) io.WriteCloser {
				return snappy.NewBufferedWriter(w)
			},
			reader: func(r io.Reader) (io.Reader, error) {
				return snappy.NewReader(r), nil
			},
		}, nil
	case S2:
		return streamCompressor{
			algo: S2,
			writer: func(w io.Writer) io.WriteCloser {
				return s2.NewWriter(w)
			},
			reader: func(r io.Reader) (io.Reader, error) {
				return s2.NewReader(r), nil
			},
		}, nil
	case Deflate:
		level := mapDeflateLevel(config.Level)
		return streamCompressor{
			algo: Deflate,
			writer: func(w io.Writer) io.WriteCloser {
				fw, _ := flate.NewWriter(w, level)
				return fw
			},
			reader: func(r io.Reader) (io.Reader, error) {
				return flate.NewReader(r), nil
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", config.Algorithm)
	}
}

type noneCompressor struct{}

func (noneCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noneCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
func (noneCompressor) Algorithm() Algorithm                   { return None }

// Gzip compressor
type gzipCompressor struct {
	writerPool sync.Pool
}

func newGzipCompressor(level Level) *gzipCompressor {
	gl := mapGzipLevel(level)
	gc := &gzipCompressor{}
	gc.writerPool.New = func() interface{} {
		w, _ := gzip.NewWriterLevel(nil, gl)
		return w
	}
	return gc
}

func (gc *gzipCompressor) Algorithm() Algorithm { return Gzip }

func (gc *gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gc.writerPool.Get().(*gzip.Writer)
	defer gc.writerPool.Put(w)

	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gc *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Zstd compressor
type zstdCompressor struct {
	encoderPool sync.Pool
	decoderPool sync.Pool
}

func newZstdCompressor(level Level) *zstdCompressor {
	zl := mapZstdLevel(level)
	zc := &zstdCompressor{}
	zc.encoderPool.New = func() interface{} {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zl))
		return enc
	}
	zc.decoderPool.New = func() interface{} {
		dec, _ := zstd.NewReader(nil)
		return dec
	}
	return zc
}

func (zc *zstdCompressor) Algorithm() Algorithm { return Zstd }

func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	enc := zc.encoderPool.Get().(*zstd.Encoder)
	defer zc.encoderPool.Put(enc)
	return enc.EncodeAll(data, nil), nil
}

func (zc *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	dec := zc.decoderPool.Get().(*zstd.Decoder)
	defer zc.decoderPool.Put(dec)
	return dec.DecodeAll(data, nil)
}

// LZ4 frame compressor
type lz4Compressor struct {
	level lz4.CompressionLevel
}

func (lc lz4Compressor) Algorithm() Algorithm { return LZ4 }

func (lc lz4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(lc.level)); err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lc lz4Compressor) Decompress(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}

// streamCompressor adapts framed writer/reader pairs.
type streamCompressor struct {
	algo   Algorithm
	writer func(io.Writer) io.WriteCloser
	reader func(io.Reader) (io.Reader, error)
}

func (sc streamCompressor) Algorithm() Algorithm { return sc.algo }

func (sc streamCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := sc.writer(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (sc streamCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := sc.reader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// Helper functions to map compression levels

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func mapDeflateLevel(level Level) int {
	switch level {
	case Fastest:
		return flate.BestSpeed
	case Best:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}
