package openrouter

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// maxSSELineSize caps a single SSE line at 1 MiB. The default bufio.Scanner
// limit of 64 KiB is too small for long completion chunks.
const maxSSELineSize = 1 << 20

// sseScanner reads server-sent events from a response body. It handles
// multi-line data fields, skips comments and blank lines, and treats the
// [DONE] sentinel as end of stream.
type sseScanner struct {
	scanner *bufio.Scanner
}

func newSSEScanner(reader io.Reader) *sseScanner {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineSize)
	return &sseScanner{scanner: scanner}
}

// Next returns the next SSE data payload. It returns io.EOF when the stream
// ends or the [DONE] sentinel is seen.
func (s *sseScanner) Next() (string, error) {
	var dataLines []string

	for s.scanner.Scan() {
		line := s.scanner.Text()

		// Blank line terminates an event.
		if line == "" {
			if len(dataLines) > 0 {
				return strings.Join(dataLines, "\n"), nil
			}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return "", io.EOF
			}
			dataLines = append(dataLines, data)
			continue
		}

		// Other SSE fields (event:, id:, retry:) are ignored.
	}

	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("sse scanner: %w", err)
	}

	if len(dataLines) > 0 {
		return strings.Join(dataLines, "\n"), nil
	}
	return "", io.EOF
}
