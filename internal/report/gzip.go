package report

import (
	"bytes"

	"github.com/klauspost/compress/gzip"
)

// Gzip compresses content at the best compression level.
func Gzip(content []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(content); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GzipSize returns the compressed size of content, or -1 when compression fails.
func GzipSize(content []byte) int64 {
	out, err := Gzip(content)
	if err != nil {
		return -1
	}
	return int64(len(out))
}
