// Package wire implements the server side of the WebSocket protocol
// (RFC 6455) with no platform socket stack: the HTTP upgrade handshake, the
// frame codec, a per-peer connection with a cancellable read loop, and a
// registry that fans out broadcasts to every live peer.
//
// Only text frames carry application payload. Close frames end the read
// loop, pings are answered with pongs, and everything else is ignored. A
// malformed or truncated frame tears down the affected connection and
// nothing else.
//
// Connections are created by the server after wire.Upgrade succeeds:
//
//	br := bufio.NewReader(sock)
//	if err := wire.Upgrade(br, sock); err != nil {
//		sock.Close()
//		return
//	}
//	conn := wire.NewConn(sock, br, readTimeout, writeTimeout, logger)
//	go conn.ReadLoop(ctx, onMessage)
//
// Send may be called from any goroutine, including concurrently with the
// read loop. It queues the frame and returns immediately; a per-connection
// writer goroutine performs the socket writes. Close is idempotent.
package wire
