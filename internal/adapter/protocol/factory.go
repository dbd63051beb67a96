package protocol

import (
	"fmt"

	"github.com/kvblast/kvblast/internal/core/domain"
	"github.com/kvblast/kvblast/internal/core/ports"
)

var errMalformed = domain.ErrMalformedResponse

// Kind selects a wire codec.
type Kind int

const (
	KindAscii Kind = iota
	KindBinary
	KindResp
)

func (k Kind) String() string {
	switch k {
	case KindAscii:
		return "ascii"
	case KindBinary:
		return "binary"
	case KindResp:
		return "resp"
	default:
		return "unknown"
	}
}

// Config carries the codec selection plus SASL credentials for binary.
type Config struct {
	Username string
	Password string
	Kind     Kind
	SASL     bool
}

// New builds the codec for one connection. Codecs are stateful per
// connection and must not be shared.
func New(cfg Config, sink ports.RxBytesSink) (ports.Protocol, error) {
	switch cfg.Kind {
	case KindAscii:
		return NewAscii(sink), nil
	case KindBinary:
		return NewBinary(sink, cfg.SASL, cfg.Username, cfg.Password), nil
	case KindResp:
		return NewResp(sink), nil
	default:
		return nil, fmt.Errorf("unknown protocol kind %d", cfg.Kind)
	}
}
