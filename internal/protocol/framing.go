package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// PayloadLines splits a script into the lines sent on the wire. A single
// trailing newline does not produce an extra empty line.
func PayloadLines(payload string) []string {
	payload = strings.TrimSuffix(payload, "\n")
	return strings.Split(payload, "\n")
}

// IsSentinel reports whether line is reserved by the envelope.
func IsSentinel(line string) bool {
	switch strings.TrimSuffix(line, "\r") {
	case EndCommand, EndResponse, StatusOK, StatusError:
		return true
	}
	return false
}

// ValidatePayload rejects payloads containing a sentinel line.
func ValidatePayload(payload string) error {
	for i, line := range PayloadLines(payload) {
		if IsSentinel(line) {
			return fmt.Errorf("line %d %q: %w", i+1, line, ErrReservedLine)
		}
	}
	return nil
}

// WriteRequest writes the payload lines followed by the END_CMD sentinel.
func WriteRequest(w io.Writer, payload string) error {
	bw := bufio.NewWriter(w)
	for _, line := range PayloadLines(payload) {
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString(EndCommand + "\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadRequest reads payload lines up to (not including) END_CMD. It is the
// worker side of WriteRequest. io.ErrUnexpectedEOF is returned when the peer
// closes before the sentinel.
func ReadRequest(r *bufio.Reader) ([]string, error) {
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return lines, io.ErrUnexpectedEOF
			}
			return lines, err
		}
		line = trimLine(line)
		if line == EndCommand {
			return lines, nil
		}
		lines = append(lines, line)
	}
}

// WriteResponse writes output lines, the status line and END_RESPONSE.
func WriteResponse(w io.Writer, output []string, ok bool) error {
	bw := bufio.NewWriter(w)
	for _, line := range output {
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	status := StatusOK
	if !ok {
		status = StatusError
	}
	if _, err := bw.WriteString(status + "\n" + EndResponse + "\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// Decoder accumulates a response line by line.
type Decoder struct {
	status string
	output []string
	done   bool
}

// Feed consumes one complete line (without its '\n'). It returns true once
// END_RESPONSE has been seen; later calls are ignored. Output lines are
// returned through emit before Feed returns.
func (d *Decoder) Feed(line string, emit func(string)) bool {
	if d.done {
		return true
	}
	line = strings.TrimSuffix(line, "\r")
	switch line {
	case EndResponse:
		d.done = true
	case StatusOK, StatusError:
		d.status = line
	default:
		d.output = append(d.output, line)
		if emit != nil {
			emit(line)
		}
	}
	return d.done
}

// Done reports whether the closing sentinel was seen.
func (d *Decoder) Done() bool {
	return d.done
}

// Output returns the output lines collected so far.
func (d *Decoder) Output() []string {
	return d.output
}

// Result returns the accumulated output, or a *RemoteError when the worker
// reported ERROR. A missing status is treated as OK.
func (d *Decoder) Result() ([]string, error) {
	if d.status == StatusError {
		return nil, &RemoteError{Output: d.output}
	}
	return d.output, nil
}

// ParseProgress returns the progress text of a progress marker line.
func ParseProgress(line string) (string, bool) {
	if !strings.HasPrefix(line, ProgressPrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, ProgressPrefix)), true
}

func trimLine(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
