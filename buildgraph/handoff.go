package buildgraph

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/moby/buildkit/session"
	"github.com/moby/buildkit/session/sshforward"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// DialFn establishes the host-side end of a build node's artifact channel.
type DialFn func(ctx context.Context) (net.Conn, error)

// HandoffChannel is the artifact hand-off protocol named in spec §4.5: each
// build node gets an output channel (the container writes artifacts into
// it) and, when it has inputs that must be staged in, a read-only input
// channel. Both are inherited-FD Unix sockets exposed to buildkit as an
// sshforward-shaped session attachable, adapted from the teacher's
// sessionutil/socketprovider.ProxyHandler — here keyed by build-node name
// instead of an SSH-agent id.
type HandoffChannel struct {
	mu      sync.Mutex
	dialers map[string]DialFn
}

// NewHandoffChannel returns an empty channel registry.
func NewHandoffChannel() *HandoffChannel {
	return &HandoffChannel{dialers: make(map[string]DialFn)}
}

// socketID names the channel for a node's output or input side, the
// sshforward "agent id" buildkit uses to route a ForwardAgent request to
// the right handler.
func socketID(nodeName string, input bool) string {
	if input {
		return "twoliter-in:" + nodeName
	}
	return "twoliter-out:" + nodeName
}

// AddChannel adds the output (and, if input is non-nil, input) channel for a
// node. Must be called before the node's stage runs.
func (h *HandoffChannel) AddChannel(nodeName string, output DialFn, input DialFn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	outID := socketID(nodeName, false)
	if _, ok := h.dialers[outID]; ok {
		return fmt.Errorf("duplicate output channel for node %q", nodeName)
	}
	h.dialers[outID] = output

	if input != nil {
		inID := socketID(nodeName, true)
		h.dialers[inID] = input
	}
	return nil
}

// Unregister removes both channels for a node once its stage has finished,
// so a stale dialer cannot be reused by a later node sharing a name.
func (h *HandoffChannel) Unregister(nodeName string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.dialers, socketID(nodeName, false))
	delete(h.dialers, socketID(nodeName, true))
}

var (
	_ session.Attachable   = (*HandoffChannel)(nil)
	_ sshforward.SSHServer = (*HandoffChannel)(nil)
)

// Register (the session.Attachable method) installs this channel as the
// SSH-forward service on the gRPC server the buildkit client dials in on.
func (h *HandoffChannel) Register(srv *grpc.Server) {
	sshforward.RegisterSSHServer(srv, h)
}

func (h *HandoffChannel) dialer(id string) (DialFn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.dialers[id]
	return d, ok
}

// CheckAgent reports whether a channel is registered for the requested id.
func (h *HandoffChannel) CheckAgent(ctx context.Context, req *sshforward.CheckAgentRequest) (*sshforward.CheckAgentResponse, error) {
	if _, ok := h.dialer(req.ID); ok {
		return &sshforward.CheckAgentResponse{}, nil
	}
	return nil, fmt.Errorf("no artifact channel registered for %q", req.ID)
}

// ForwardAgent proxies the raw byte stream between the container stage and
// the dialer registered for the requested channel id.
func (h *HandoffChannel) ForwardAgent(stream sshforward.SSH_ForwardAgentServer) error {
	ctx := stream.Context()

	var id string
	if opts, ok := metadata.FromIncomingContext(ctx); ok {
		if v := opts[sshforward.KeySSHID]; len(v) > 0 {
			id = v[0]
		}
	}

	dial, ok := h.dialer(id)
	if !ok {
		return errors.Errorf("no artifact channel registered for %q", id)
	}

	conn, err := dial(ctx)
	if err != nil {
		return errors.Wrapf(err, "dialing artifact channel %q", id)
	}
	defer conn.Close()

	return sshforward.Copy(ctx, conn, stream, nil)
}
