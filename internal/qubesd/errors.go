package qubesd

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/qubesos/qubes-appmenu/internal/qube"
)

// Exception represents an exception raised by qubesd for a call.
type Exception struct {
	Type      string
	Traceback string
	Message   string
	Args      []string
}

func (e *Exception) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("qubesd %s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("qubesd %s", e.Type)
}

// Exception types the menu reacts to.
const (
	excNoSuchVM        = "QubesVMNotFoundError"
	excFeatureNotFound = "QubesFeatureNotFoundError"
	excNotHalted       = "QubesVMNotHaltedError"
)

// IsNotFound reports whether err says the qube does not exist.
func IsNotFound(err error) bool {
	var exc *Exception
	return errors.As(err, &exc) && exc.Type == excNoSuchVM
}

func isException(err error, typ string) bool {
	var exc *Exception
	return errors.As(err, &exc) && exc.Type == typ
}

// parseException decodes "type\0traceback\0format\0arg\0...".
func parseException(data []byte) *Exception {
	fields := bytes.Split(bytes.TrimSuffix(data, []byte{0}), []byte{0})
	exc := &Exception{}
	for i, f := range fields {
		switch i {
		case 0:
			exc.Type = string(f)
		case 1:
			exc.Traceback = string(f)
		case 2:
			exc.Message = string(f)
		default:
			exc.Args = append(exc.Args, string(f))
		}
	}
	exc.Message = formatMessage(exc.Message, exc.Args)
	return exc
}

// formatMessage substitutes printf-style placeholders in order.
func formatMessage(format string, args []string) string {
	if len(args) == 0 {
		return format
	}
	var b strings.Builder
	next := 0
	for i := 0; i < len(format); i++ {
		if format[i] != '%' || i+1 >= len(format) {
			b.WriteByte(format[i])
			continue
		}
		switch verb := format[i+1]; {
		case verb == '%':
			b.WriteByte('%')
		case next < len(args) && strings.IndexByte("srd", verb) >= 0:
			b.WriteString(args[next])
			next++
		default:
			b.WriteByte('%')
			b.WriteByte(verb)
		}
		i++
	}
	return b.String()
}

// classify maps a call failure onto the menu's error taxonomy.
func classify(op, subject string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) {
		return qube.Unknown(op, subject)
	}
	var exc *Exception
	if errors.As(err, &exc) {
		return fmt.Errorf("%s %s: %w", op, subject, err)
	}
	return qube.Transient(op, subject, err)
}
