// Package qubesd talks to the Qubes Admin API daemon over its Unix socket
// and reads the application menus qubes export to dom0.
package qubesd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// DefaultSocket is where qubesd listens in dom0.
const DefaultSocket = "/var/run/qubesd.sock"

// Response codes of the Admin API wire format.
const (
	codeOK        = '0'
	codeEvent     = '1'
	codeException = '2'
)

// ClientConfig holds the parameters for creating a new Client.
type ClientConfig struct {
	Socket string
	// Source is the calling domain named in every request header.
	Source  string
	Timeout time.Duration
}

// Client issues Admin API calls. Every call uses its own connection.
type Client struct {
	socket  string
	source  string
	timeout time.Duration
	dial    func(ctx context.Context) (net.Conn, error)
}

// NewClient creates a new Admin API client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Socket == "" {
		cfg.Socket = DefaultSocket
	}
	if cfg.Source == "" {
		cfg.Source = "dom0"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{socket: cfg.Socket, source: cfg.Source, timeout: cfg.Timeout}
	c.dial = func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", c.socket)
	}
	return c
}

// Socket returns the path of the qubesd socket.
func (c *Client) Socket() string {
	return c.socket
}

// Call performs one Admin API request and returns the response data. A
// qubesd exception is returned as *Exception.
func (c *Client) Call(ctx context.Context, method, dest, arg string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.open(ctx, method, dest, arg, payload)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	resp, err := io.ReadAll(conn)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", method, ctx.Err())
		}
		return nil, fmt.Errorf("reading %s response: %w", method, err)
	}
	return decodeResponse(method, resp)
}

// open dials qubesd and sends the request header and payload, then closes
// the write side to mark the end of the request.
func (c *Client) open(ctx context.Context, method, dest, arg string, payload []byte) (net.Conn, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to qubesd: %w", err)
	}

	var req bytes.Buffer
	fmt.Fprintf(&req, "%s+%s %s name %s\x00", method, arg, c.source, dest)
	req.Write(payload)
	if _, err := conn.Write(req.Bytes()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending %s: %w", method, err)
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sending %s: %w", method, err)
		}
	}
	return conn, nil
}

func decodeResponse(method string, resp []byte) ([]byte, error) {
	if len(resp) < 2 || resp[1] != 0 {
		return nil, fmt.Errorf("%s: malformed response from qubesd", method)
	}
	switch resp[0] {
	case codeOK:
		return resp[2:], nil
	case codeException:
		return nil, parseException(resp[2:])
	}
	return nil, fmt.Errorf("%s: unexpected response code %q", method, resp[0])
}

// readField reads one NUL-terminated field.
func readField(r *bufio.Reader) (string, error) {
	s, err := r.ReadString(0)
	if err != nil {
		if errors.Is(err, io.EOF) && s != "" {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return s[:len(s)-1], nil
}
