// Package process runs the backing database client behind a pseudo-terminal.
//
// A Spawner starts one process per terminal session and hands back a Handle.
// The Handle exposes the same byte stream a human would see in a terminal:
// Write sends keystrokes, Events delivers output followed by exactly one
// exit notification, Resize changes the window, Kill tears the process down.
//
// Architecture:
//   - PTYSpawner starts the executable with creack/pty at the configured size
//   - One goroutine per process reads the PTY and feeds the event channel
//   - Wait is always called so killed processes are reaped
//
// Example Usage:
//
//	spawner := process.NewPTYSpawner()
//	h, err := spawner.Spawn(ctx, process.Spec{Path: "/opt/sqlcl/bin/sql", Args: []string{"/nolog"}})
//	if err != nil {
//		var spawnErr *process.SpawnError
//		errors.As(err, &spawnErr)
//	}
//	for ev := range h.Events() {
//		...
//	}
package process
