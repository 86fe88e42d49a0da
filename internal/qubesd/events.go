package qubesd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/qubesos/qubes-appmenu/internal/events"
	"github.com/qubesos/qubes-appmenu/internal/qube"
)

// Events subscribes to admin.Events and calls fn for every record until ctx
// ends or the stream breaks. A broken stream returns a transient error.
func (c *Client) Events(ctx context.Context, fn func(events.Raw)) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	conn, err := c.open(dialCtx, "admin.Events", "dom0", "", nil)
	cancel()
	if err != nil {
		return qube.Transient("subscribing to events", "", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	err = readEvents(bufio.NewReader(conn), fn)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var exc *Exception
	if errors.As(err, &exc) {
		return err
	}
	if err == nil {
		err = io.EOF
	}
	return qube.Transient("event stream", "", err)
}

// readEvents decodes records of
// "1\0subject\0event\0key\0value\0...\0" until the reader ends.
func readEvents(r *bufio.Reader, fn func(events.Raw)) error {
	for {
		code, err := readField(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading event header: %w", err)
		}
		switch {
		case code == string(codeException):
			rest, _ := io.ReadAll(r)
			return parseException(rest)
		case code != string(codeEvent):
			return fmt.Errorf("unexpected event code %q", code)
		}

		raw, err := readEvent(r)
		if err != nil {
			return err
		}
		fn(raw)
	}
}

func readEvent(r *bufio.Reader) (events.Raw, error) {
	var raw events.Raw
	var err error
	if raw.Subject, err = readField(r); err != nil {
		return raw, fmt.Errorf("reading event subject: %w", err)
	}
	if raw.Name, err = readField(r); err != nil {
		return raw, fmt.Errorf("reading event name: %w", err)
	}
	for {
		key, err := readField(r)
		if err != nil {
			return raw, fmt.Errorf("reading %s argument: %w", raw.Name, err)
		}
		if key == "" {
			return raw, nil
		}
		value, err := readField(r)
		if err != nil {
			return raw, fmt.Errorf("reading %s argument %s: %w", raw.Name, key, err)
		}
		if raw.Args == nil {
			raw.Args = make(map[string]string)
		}
		raw.Args[key] = value
	}
}
