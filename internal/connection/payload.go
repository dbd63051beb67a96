package connection

import (
	"math/rand/v2"
	"sync"
)

// Values are sliced out of one pre-initialized random buffer at a uniformly
// chosen offset, so issuing a 512 KB SET costs a slice header, not a fill.
const (
	payloadBufLen    = 2 << 20
	payloadMaxOffset = 1 << 20
)

var (
	payloadOnce sync.Once
	payloadBuf  []byte
)

func initPayload() {
	payloadBuf = make([]byte, payloadBufLen)
	for i := range payloadBuf {
		payloadBuf[i] = byte('a' + rand.IntN(26))
	}
}

// randomValue returns n random payload bytes. The slice aliases the shared
// buffer and must not be written to.
func randomValue(n int) []byte {
	payloadOnce.Do(initPayload)
	if n > payloadBufLen-payloadMaxOffset {
		n = payloadBufLen - payloadMaxOffset
	}
	off := rand.IntN(payloadMaxOffset)
	return payloadBuf[off : off+n]
}
