// File: runtime/client.go
// Author: momentics <momentics@gmail.com>
//
// Daemon connection: one request/reply frame exchange at a time over the
// unix control socket. All port lifecycle calls funnel through here; the
// data path never touches this connection.

package runtime

import (
	"fmt"
	"net"
	"sync"

	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/daemon"
)

type client struct {
	mu   sync.Mutex
	conn net.Conn
}

func dialDaemon(socketPath string) (*client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial daemon at %s: %w", socketPath, err)
	}
	return &client{conn: conn}, nil
}

// roundTrip sends one frame and waits for its reply. ERROR replies come
// back as structured api errors carrying the daemon's code.
func (c *client) roundTrip(msg *daemon.Message) (*daemon.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := daemon.WriteFrame(c.conn, msg); err != nil {
		return nil, err
	}
	reply, err := daemon.ReadFrame(c.conn)
	if err != nil {
		return nil, err
	}
	if reply.Kind == daemon.MsgError {
		code := reply.ErrCode
		if code == api.ErrCodeOK {
			code = api.ErrCodeInternal
		}
		return nil, api.NewError(code, reply.ErrText)
	}
	return reply, nil
}

func (c *client) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}
