package wire

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// acceptGUID is the fixed GUID appended to the client key when computing
// Sec-WebSocket-Accept (RFC 6455 §4.2.2).
const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// healthBody is returned to plain HTTP requests that hit the WebSocket port.
const healthBody = "LiveLink server running\n"

// Handshake errors.
var (
	ErrNotWebSocket = errors.New("wire: not a websocket upgrade request")
	ErrBadHandshake = errors.New("wire: malformed handshake request")
)

// AcceptKey computes the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	h := sha1.Sum([]byte(key + acceptGUID))
	return base64.StdEncoding.EncodeToString(h[:])
}

// Upgrade reads an HTTP request from br and, if it is a WebSocket upgrade,
// writes the 101 Switching Protocols response to w. Any other well-formed
// HTTP request receives a trivial health response and ErrNotWebSocket; a
// request that is not HTTP at all yields ErrBadHandshake. The caller owns
// closing the underlying connection on error.
func Upgrade(br *bufio.Reader, w io.Writer) error {
	requestLine, err := br.ReadString('\n')
	if err != nil {
		return ErrBadHandshake
	}
	parts := strings.Fields(requestLine)
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "HTTP/") {
		return ErrBadHandshake
	}

	headers := make(map[string]string)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return ErrBadHandshake
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	if !strings.EqualFold(headers["upgrade"], "websocket") {
		fmt.Fprintf(w, "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
			len(healthBody), healthBody)
		return ErrNotWebSocket
	}

	key := headers["sec-websocket-key"]
	if key == "" {
		return ErrBadHandshake
	}

	_, err = fmt.Fprintf(w, "HTTP/1.1 101 Switching Protocols\r\n"+
		"Upgrade: websocket\r\n"+
		"Connection: Upgrade\r\n"+
		"Sec-WebSocket-Accept: %s\r\n\r\n", AcceptKey(key))
	return err
}
