// Package server wires the terminal bridge together.
//
// It owns the gin router and the components behind it:
//   - Websocket gateway at /socket, one terminal session per socket
//   - Session manager over the PTY spawner and the command interceptor
//   - Composer, version, health and metrics endpoints
//   - Static browser assets from the public dir, gzipped and never cached
//
// Server Lifecycle:
//  1. NewServer builds every component from config
//  2. Prepare creates the output tree and clears the scratch dir
//  3. Run listens until Shutdown
//  4. Shutdown closes sockets, kills processes, clears the scratch dir
//
// Example Usage:
//
//	srv, err := server.NewServer(cfg, logger)
//	if err := srv.Prepare(ctx); err != nil {
//	    return err
//	}
//	go srv.Run()
package server
