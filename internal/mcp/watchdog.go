package mcp

import (
	"context"
	"os"
	"time"

	"rwaguard/internal/logging"
)

// WatchParent cancels the server when the parent process dies (the MCP client
// disconnected without closing the transport), so stdio-mode servers do not
// accumulate as orphans.
//
// It must NOT read from stdin: the SDK's stdio transport owns stdin
// exclusively, and stealing bytes from it corrupts the JSON-RPC stream. The
// parent PID poll is the safe signal.
func WatchParent(ctx context.Context, cancel context.CancelFunc) {
	ppid := os.Getppid()
	log := logging.New("mcp-watchdog")
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
				if os.Getppid() != ppid {
					log.Warn("parent process died, shutting down", "was_pid", ppid)
					cancel()
					return
				}
			}
		}
	}()
}
