// Package codec registers the selectable batch compression algorithms
// named by config.CompressionConfig.DefaultAlgorithm. Per spec.md §6 and
// validators.rs's CompressionConfig::validate, selecting a non-"none"
// algorithm is accepted but not applied: the batch codec in pkg/proto
// does not call Encode/Decode, and topic creation leaves
// topic.Topic.CompressionAlgo empty. The registry exists so
// the extension point is concrete (a real Go type per algorithm, backed
// by the teacher's actual compression dependencies) rather than a bare
// string with no implementation behind it.
package codec

import (
	"bytes"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"

	"github.com/streamhouse/broker/internal/brokererr"
)

// Name identifies a registered compression algorithm.
type Name string

const (
	None   Name = "none"
	Zstd   Name = "zstd"
	Snappy Name = "snappy"
	LZ4    Name = "lz4"
)

// Algorithm compresses and decompresses batch bytes. pkg/proto's batch
// codec invokes no Algorithm, None included: every algorithm is reachable
// through Registry.Get, but none is wired into the append/read path.
type Algorithm interface {
	Name() Name
	Encode(dst io.Writer, src []byte) error
	Decode(src []byte) ([]byte, error)
}

type noneAlgorithm struct{}

func (noneAlgorithm) Name() Name { return None }
func (noneAlgorithm) Encode(dst io.Writer, src []byte) error {
	_, err := dst.Write(src)
	return err
}
func (noneAlgorithm) Decode(src []byte) ([]byte, error) { return src, nil }

type zstdAlgorithm struct{}

func (zstdAlgorithm) Name() Name { return Zstd }

func (zstdAlgorithm) Encode(dst io.Writer, src []byte) error {
	w, err := zstd.NewWriter(dst)
	if err != nil {
		return brokererr.Wrap(brokererr.KindIoError, err, "construct zstd writer")
	}
	if _, err := w.Write(src); err != nil {
		w.Close()
		return brokererr.Wrap(brokererr.KindIoError, err, "zstd compress")
	}
	return w.Close()
}

func (zstdAlgorithm) Decode(src []byte) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, brokererr.Wrap(brokererr.KindIoError, err, "construct zstd reader")
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.KindIoError, err, "zstd decompress")
	}
	return out, nil
}

type snappyAlgorithm struct{}

func (snappyAlgorithm) Name() Name { return Snappy }

func (snappyAlgorithm) Encode(dst io.Writer, src []byte) error {
	_, err := dst.Write(snappy.Encode(nil, src))
	return err
}

func (snappyAlgorithm) Decode(src []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.KindIoError, err, "snappy decompress")
	}
	return out, nil
}

type lz4Algorithm struct{}

func (lz4Algorithm) Name() Name { return LZ4 }

func (lz4Algorithm) Encode(dst io.Writer, src []byte) error {
	w := lz4.NewWriter(dst)
	if _, err := w.Write(src); err != nil {
		w.Close()
		return brokererr.Wrap(brokererr.KindIoError, err, "lz4 compress")
	}
	return w.Close()
}

func (lz4Algorithm) Decode(src []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.KindIoError, err, "lz4 decompress")
	}
	return out, nil
}

var registry = map[Name]Algorithm{
	None:   noneAlgorithm{},
	Zstd:   zstdAlgorithm{},
	Snappy: snappyAlgorithm{},
	LZ4:    lz4Algorithm{},
}

// Get looks up a registered algorithm by name.
func Get(name Name) (Algorithm, error) {
	alg, ok := registry[name]
	if !ok {
		return nil, brokererr.New(brokererr.KindInvalidConfiguration)
	}
	return alg, nil
}

// Valid reports whether name is a known algorithm, for config validation.
func Valid(name string) bool {
	_, ok := registry[Name(name)]
	return ok
}
