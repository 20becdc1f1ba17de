package hgbridge

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
)

// zrPool recycles zlib readers between pack entries and loose objects.
// There is no zero-value zlib reader, so the pool starts empty and
// getZlibReader allocates on a miss.
var zrPool sync.Pool

// brPool recycles the read buffers placed in front of zlib streams.
var brPool = sync.Pool{
	New: func() any { return bufio.NewReaderSize(nil, 8<<10) },
}

// getZlibReader returns a reader inflating src.
func getZlibReader(src io.Reader) (io.ReadCloser, error) {
	if v, ok := zrPool.Get().(io.ReadCloser); ok {
		if err := v.(zlib.Resetter).Reset(src, nil); err == nil {
			return v, nil
		}
	}
	return zlib.NewReader(src)
}

func putZlibReader(r io.ReadCloser) {
	_ = r.Close()
	zrPool.Put(r)
}

func getBR(r io.Reader) *bufio.Reader {
	br := brPool.Get().(*bufio.Reader)
	br.Reset(r)
	return br
}

func putBR(br *bufio.Reader) {
	br.Reset(nil)
	brPool.Put(br)
}

// inflate decompresses a whole zlib stream from src. sizeHint preallocates
// the output when the inflated size is known.
func inflate(src io.Reader, sizeHint int) ([]byte, error) {
	br := getBR(src)
	defer putBR(br)

	zr, err := getZlibReader(br)
	if err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}
	defer putZlibReader(zr)

	var out bytes.Buffer
	if sizeHint > 0 {
		out.Grow(sizeHint)
	}
	if _, err := out.ReadFrom(zr); err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	return out.Bytes(), nil
}
