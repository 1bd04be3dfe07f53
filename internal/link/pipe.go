package link

import (
	"net"

	"github.com/danmuck/osdkctl/internal/protocol/frame"
)

// Pipe returns two connected in-memory links. The first is the gateway end.
func Pipe() (*StreamLink, *StreamLink) {
	a, b := net.Pipe()
	return NewStreamLink("pipe.gateway", a, frame.DefaultLimits()),
		NewStreamLink("pipe.vehicle", b, frame.DefaultLimits())
}
