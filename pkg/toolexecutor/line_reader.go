package toolexecutor

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// LineReader serves newline-terminated input to several consumers, such as
// a REPL and an approval prompt sharing one terminal. A single goroutine
// owns the underlying reader, so a consumer that gives up on a read never
// leaves a stray read behind: the line goes to whoever reads next.
type LineReader struct {
	src   *bufio.Reader
	once  sync.Once
	lines chan lineResult
	err   error
}

type lineResult struct {
	text string
	err  error
}

// NewLineReader wraps r. Reading starts on the first ReadLine.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{
		src:   bufio.NewReader(r),
		lines: make(chan lineResult),
	}
}

// ReadLine returns the next line including its newline, with the same
// text/err pairing as bufio.Reader.ReadString. It returns ctx.Err() when
// ctx ends first; the pending line is then kept for the next call.
func (r *LineReader) ReadLine(ctx context.Context) (string, error) {
	r.once.Do(func() { go r.pump() })

	select {
	case res, ok := <-r.lines:
		if !ok {
			return "", r.err
		}
		return res.text, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *LineReader) pump() {
	for {
		text, err := r.src.ReadString('\n')
		if err != nil {
			r.err = err
			if text != "" {
				r.lines <- lineResult{text: text, err: err}
			}
			close(r.lines)
			return
		}
		r.lines <- lineResult{text: text}
	}
}
