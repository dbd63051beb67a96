package protocol

import (
	"fmt"
	"strconv"

	"github.com/kvblast/kvblast/internal/core/ports"
	"github.com/kvblast/kvblast/pkg/netbuf"
)

type respReadState int

const (
	respWaitingForLine respReadState = iota
	respWaitingForBulk
)

// Resp is the Redis codec. Commands go out as arrays of bulk strings;
// responses arrive strictly in issue order.
type Resp struct {
	sink    ports.RxBytesSink
	state   respReadState
	bulkLen int
}

func NewResp(sink ports.RxBytesSink) *Resp {
	return &Resp{sink: sink}
}

func (r *Resp) Ordered() bool { return true }

func (r *Resp) GetRequest(out *netbuf.Buffer, key string, _ uint32) int {
	n, _ := fmt.Fprintf(out, "*2\r\n$3\r\nGET\r\n$%d\r\n%s\r\n", len(key), key)
	return n
}

func (r *Resp) SetRequest(out *netbuf.Buffer, key string, value []byte, _ uint32) int {
	n, _ := fmt.Fprintf(out, "*3\r\n$3\r\nSET\r\n$%d\r\n%s\r\n$%d\r\n", len(key), key, len(value))
	out.Write(value)
	out.WriteString("\r\n")
	return n + len(value) + 2
}

// Delete90Request is not part of the Redis surface.
func (r *Resp) Delete90Request(*netbuf.Buffer) int { return 0 }

func (r *Resp) SetupConnectionW(*netbuf.Buffer) bool { return true }

func (r *Resp) SetupConnectionR(*netbuf.Buffer) (bool, error) { return true, nil }

// HandleResponse reads one CRLF line and discriminates on the first byte:
// a null bulk is a miss, a sized bulk drains its body (resumable across
// reads), and simple strings, integers and errors are single-line acks.
func (r *Resp) HandleResponse(in *netbuf.Buffer, resp *ports.Response) (bool, error) {
	switch r.state {
	case respWaitingForLine:
		line, ok := in.ReadLine()
		if !ok {
			return false, nil
		}
		r.sink.AddRxBytes(uint64(len(line) + 2))
		if len(line) == 0 {
			return false, fmt.Errorf("resp: empty line: %w", errMalformed)
		}

		switch line[0] {
		case '$':
			n, err := strconv.Atoi(string(line[1:]))
			if err != nil {
				return false, fmt.Errorf("resp: bulk length %q: %w", line, errMalformed)
			}
			if n == -1 {
				resp.Done = true
				resp.Found = false
				return true, nil
			}
			r.bulkLen = n
			r.state = respWaitingForBulk
			return r.consumeBulk(in, resp)
		case '+', ':', '-':
			resp.Done = true
			resp.Found = true
			return true, nil
		default:
			return false, fmt.Errorf("resp: unexpected type byte %q: %w", line[0], errMalformed)
		}

	case respWaitingForBulk:
		return r.consumeBulk(in, resp)
	}
	return false, nil
}

func (r *Resp) consumeBulk(in *netbuf.Buffer, resp *ports.Response) (bool, error) {
	if in.Len() < r.bulkLen+2 {
		return false, nil
	}
	in.Discard(r.bulkLen + 2)
	r.sink.AddRxBytes(uint64(r.bulkLen + 2))
	resp.ObjSize = r.bulkLen
	r.state = respWaitingForLine
	resp.Done = true
	resp.Found = true
	return true, nil
}
