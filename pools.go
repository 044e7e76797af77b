package fastls

import (
	"bytes"
	"sync"
)

var encodeBufPool = &sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

func releaseEncodeBuf(buf *bytes.Buffer) {
	if buf.Cap() > 1024*1024 {
		return // let oversized buffers go
	}
	buf.Reset()
	encodeBufPool.Put(buf)
}
