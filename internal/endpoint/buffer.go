package endpoint

import "sync"

// BufferSize is the receive buffer size, large enough for any UDP datagram.
const BufferSize = 64 * 1024

var bufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, BufferSize)
		return &b
	},
}

func getBuffer() []byte {
	return *(bufferPool.Get().(*[]byte))
}

func putBuffer(b []byte) {
	if cap(b) >= BufferSize {
		b = b[:BufferSize]
		bufferPool.Put(&b)
	}
}
