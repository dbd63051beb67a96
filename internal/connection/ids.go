package connection

import (
	"sync/atomic"

	"github.com/kvblast/kvblast/internal/core/domain"
	"github.com/kvblast/kvblast/internal/logger"
)

// Process-wide allocators. Opaques correlate binary responses to ops and
// must stay unique and monotonic for the process lifetime; wraparound
// within one run means something is deeply wrong, so abort.
var (
	opaqueCounter atomic.Uint32
	connIDCounter atomic.Uint32
)

func nextOpaque() uint32 {
	v := opaqueCounter.Add(1)
	if v == 0 {
		logger.Fatal("aborting run", "error", domain.ErrOpaqueExhausted)
	}
	return v
}

func nextConnID() uint32 {
	return connIDCounter.Add(1) - 1
}
