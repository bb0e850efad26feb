// Package interceptor recognizes control lines sent from the toolbar and
// applies their host-side effects before the line reaches the process.
//
// SPOOL <path> makes sure the spool directory and file exist. START <path>
// rewrites CRLF and lone CR line endings in the script to LF. Every other
// verb is forwarded untouched. The line is always forwarded, followed by a
// carriage return, even when the side effect fails.
package interceptor
