//go:build windows

package playeripc

import (
	"context"
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

// dialPlatform connects to the player's IPC named pipe at path (e.g.
// \\.\pipe\simulcast-mpv).
func dialPlatform(ctx context.Context, path string) (net.Conn, error) {
	timeout := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	return winio.DialPipe(path, &timeout)
}
