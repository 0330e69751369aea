package storage

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/saiset-co/sai-offline/types"
)

const (
	compressedMagic        = "\x00br\x01"
	defaultCompressMinSize = 1024
)

// NewCompressed brotli-encodes values of at least MinSize bytes. Values
// that do not shrink are stored as given; reads accept both forms. A zero
// Level selects brotli.DefaultCompression.
func NewCompressed(impl types.KVStore, config *types.CompressionConfig) types.KVStore {
	minSize := defaultCompressMinSize
	level := brotli.DefaultCompression
	if config != nil {
		if config.MinSize > 0 {
			minSize = config.MinSize
		}
		if config.Level > 0 {
			level = config.Level
		}
	}

	return &transformStore{
		impl: impl,
		encode: func(_ string, value []byte) ([]byte, error) {
			if len(value) < minSize {
				return value, nil
			}
			return compress(value, level)
		},
		decode: func(key string, value []byte) ([]byte, error) {
			return decompress(key, value)
		},
	}
}

func compress(value []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(compressedMagic)

	writer := brotli.NewWriterLevel(&buf, level)
	if _, err := writer.Write(value); err != nil {
		return nil, types.WrapError(err, "failed to compress value")
	}
	if err := writer.Close(); err != nil {
		return nil, types.WrapError(err, "failed to compress value")
	}

	if buf.Len() >= len(value) {
		return value, nil
	}
	return buf.Bytes(), nil
}

func decompress(key string, value []byte) ([]byte, error) {
	if !bytes.HasPrefix(value, []byte(compressedMagic)) {
		return value, nil
	}

	out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(value[len(compressedMagic):])))
	if err != nil {
		return nil, types.Errorf(types.ErrStorage, "key %s: decompress: %v", key, err)
	}
	return out, nil
}
