package codec

import (
	"bytes"
	"compress/bzip2"
)

func decodeBzip2(src []byte, size int) ([]byte, error) {
	return readBounded(bzip2.NewReader(bytes.NewReader(src)), size)
}
