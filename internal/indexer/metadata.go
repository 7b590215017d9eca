package indexer

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	initialScanBufSize = 64 * 1024
	maxLineSize        = 10 * 1024 * 1024
)

// lineReader reads a file line by line, skipping (rather than
// aborting on) lines that exceed maxLen.
type lineReader struct {
	r      *bufio.Reader
	maxLen int
	buf    []byte
	err    error
}

func newLineReader(r io.Reader, maxLen int) *lineReader {
	return &lineReader{
		r:      bufio.NewReaderSize(r, initialScanBufSize),
		maxLen: maxLen,
		buf:    make([]byte, 0, initialScanBufSize),
	}
}

// next returns the next non-blank, non-oversized line (without its
// trailing newline) and true, or ("", false) at EOF or on error.
func (lr *lineReader) next() (string, bool) {
	for {
		line, ok := lr.readLine()
		if !ok {
			return "", false
		}
		if line != "" {
			return line, true
		}
	}
}

// Err returns the first non-EOF error encountered, if any.
func (lr *lineReader) Err() error {
	return lr.err
}

func (lr *lineReader) readLine() (string, bool) {
	lr.buf = lr.buf[:0]
	oversized := false

	for {
		chunk, isPrefix, err := lr.r.ReadLine()
		if err != nil {
			if len(lr.buf) > 0 && err == io.EOF {
				break
			}
			if err != io.EOF {
				lr.err = err
			}
			return "", false
		}

		if oversized {
			if !isPrefix {
				return "", true // done skipping; blank result means "try again"
			}
			continue
		}

		lr.buf = append(lr.buf, chunk...)

		if len(lr.buf) > lr.maxLen {
			oversized = true
			lr.buf = lr.buf[:0]
			if !isPrefix {
				return "", true
			}
			continue
		}

		if !isPrefix {
			break
		}
	}

	return string(lr.buf), true
}

// extractSessionMetadata opens path once and scans it line by line,
// returning the last "summary" record's summary field (nil if none
// was found) and the number of lines read. Blank lines and lines over
// maxLineSize are skipped and not counted. A substring prefilter
// avoids parsing every line as JSON.
func extractSessionMetadata(path string) (summary *string, lineCount int, err error) {
	f, openErr := os.Open(path)
	if openErr != nil {
		return nil, 0, openErr
	}
	defer f.Close()

	lr := newLineReader(f, maxLineSize)
	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		lineCount++

		if containsSummaryMarker(line) {
			if gjson.Get(line, "type").String() == "summary" {
				if s := gjson.Get(line, "summary"); s.Exists() {
					v := s.String()
					summary = &v
				}
			}
		}
	}
	if lr.Err() != nil {
		return nil, 0, lr.Err()
	}
	return summary, lineCount, nil
}

func containsSummaryMarker(line string) bool {
	return strings.Contains(line, `"type":"summary"`) || strings.Contains(line, `"type": "summary"`)
}

// computeDurationMs sums the duration field of every turn_duration
// record in the session file at path. Returns nil if the sum is
// zero or the file cannot be read.
func computeDurationMs(path string) *int {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	lr := newLineReader(f, maxLineSize)
	total := 0
	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		if !strings.Contains(line, `"turn_duration"`) {
			continue
		}
		if gjson.Get(line, "type").String() != "turn_duration" {
			continue
		}
		total += int(gjson.Get(line, "duration").Int())
	}
	if lr.Err() != nil {
		return nil
	}
	if total <= 0 {
		return nil
	}
	return &total
}
