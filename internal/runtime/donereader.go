package runtime

import (
	"io"
	"sync"
)

// Wraps an [io.Reader] and signals when the stream ends.
//
// The done channel is closed once, on the first error returned by the
// underlying reader ([io.EOF] or a pipe closed with an error), so the exec
// stdin is released even when the producer fails.
type doneReader struct {
	r    io.Reader
	once sync.Once
	done chan struct{}
}

func newDoneReader(r io.Reader) *doneReader {
	return &doneReader{r: r, done: make(chan struct{})}
}

func (d *doneReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err != nil {
		d.once.Do(func() { close(d.done) })
	}
	return n, err
}
