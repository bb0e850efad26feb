// Package session pairs each terminal client with its own database client
// process.
//
// Manager.Open spawns the process and registers a Session; Session.Run is the
// dispatch loop. The loop is the only goroutine that writes to the process or
// to the client, so output chunks and notices reach the client in the order
// they were produced and client input reaches the process in the order it was
// sent. Control lines are handed to the interceptor, which finishes the host
// side effect before the line is forwarded.
//
// Lifecycle:
//   - Spawn failure: one notice, client closed, nothing registered
//   - Client gone: Disconnect kills the process, nothing more is written
//   - Process exit: one exit notice, then the client is closed
//   - Process error: one notice, the session stays up
package session
