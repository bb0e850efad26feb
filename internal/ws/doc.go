// Package ws carries terminal sessions over WebSocket.
//
// Each connection gets its own session. Binary frames carry raw terminal
// bytes in both directions; text frames carry JSON events.
//
// Message Types (Client → Server):
//   - binary frame: keystrokes for the process
//   - input: {"event":"input","data":"..."} keystrokes as text
//   - toolbar: {"event":"toolbar","data":"SPOOL out/x.log"} control line
//   - resize: {"event":"resize","cols":120,"rows":30}
//
// Message Types (Server → Client):
//   - binary frame: process output and notices
//   - session: {"event":"session","id":"..."} once the process is running
//
// Example Usage:
//
//	handler := ws.NewHandler(manager, ws.WithLogger(logger))
//	router.GET("/socket", handler.HandleConnection)
package ws
