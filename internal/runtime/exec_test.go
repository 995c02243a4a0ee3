package runtime

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestNextExecID(t *testing.T) {
	a := nextExecID()
	b := nextExecID()
	if a == b {
		t.Fatalf("nextExecID returned duplicate: %q", a)
	}
	if a == "" || b == "" {
		t.Fatal("nextExecID returned empty string")
	}
}

func TestDoneReaderSignalsEOF(t *testing.T) {
	dr := newDoneReader(strings.NewReader("payload"))

	if _, err := io.ReadAll(dr); err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	select {
	case <-dr.done:
	default:
		t.Fatal("done not closed after EOF")
	}

	// Reading again past EOF must not panic on a second close.
	if _, err := dr.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("Read after EOF = %v, want io.EOF", err)
	}
}

func TestDoneReaderSignalsPipeError(t *testing.T) {
	pr, pw := io.Pipe()
	dr := newDoneReader(pr)

	boom := errors.New("tar writer failed")
	go pw.CloseWithError(boom)

	if _, err := io.ReadAll(dr); !errors.Is(err, boom) {
		t.Fatalf("ReadAll error = %v, want %v", err, boom)
	}

	select {
	case <-dr.done:
	default:
		t.Fatal("done not closed after producer error")
	}
}
