package util

import "sync"

// BufPool provides reusable byte buffers for the pty bridge, where
// every readiness event on a live shell moves a chunk of output.
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 0, DefaultBufSize)
		return &buf
	},
}

// GetBuf retrieves an empty buffer from the pool.  Callers must return
// it with [PutBuf] when finished.
func GetBuf() *[]byte {
	buf := BufPool.Get().(*[]byte)
	*buf = (*buf)[:0]
	return buf
}

// PutBuf returns a buffer to the pool for reuse.  Buffers that grew far
// beyond the default size are dropped so one burst does not pin memory.
func PutBuf(buf *[]byte) {
	if buf == nil || cap(*buf) > 4*DefaultBufSize {
		return
	}
	BufPool.Put(buf)
}
