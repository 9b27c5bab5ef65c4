//go:build !windows

package playeripc

import (
	"context"
	"net"
)

// dialPlatform connects to the player's IPC Unix domain socket at path.
func dialPlatform(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", path)
}
