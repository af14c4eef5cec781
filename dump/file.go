// Package dump reads and writes model output for offline evaluation.
//
// A dump file is a stream of msgpack-encoded evaluate.Record values, one per
// sample. It is both the input of an evaluation run and the format of its
// pass-through output.
package dump

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ieee0824/ctceval/evaluate"
)

// Writer encodes records to an underlying stream. It implements evaluate.Sink.
type Writer struct {
	bw    *bufio.Writer
	enc   *msgpack.Encoder
	c     io.Closer
	count int
}

// NewWriter returns a Writer on w. Call Flush (or Close) when done.
func NewWriter(w io.Writer) *Writer {
	bw := bufio.NewWriter(w)
	return &Writer{bw: bw, enc: msgpack.NewEncoder(bw)}
}

// Create creates (or truncates) a dump file at path.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create dump: %w", err)
	}
	w := NewWriter(f)
	w.c = f
	return w, nil
}

// Write implements evaluate.Sink.
func (w *Writer) Write(r evaluate.Record) error {
	if err := w.enc.Encode(&r); err != nil {
		return fmt.Errorf("encode record %d: %w", w.count, err)
	}
	w.count++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int { return w.count }

// Flush writes buffered data to the underlying stream.
func (w *Writer) Flush() error { return w.bw.Flush() }

// Close flushes and, for files opened with Create, closes the file.
func (w *Writer) Close() error {
	err := w.bw.Flush()
	if w.c != nil {
		if cerr := w.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Reader decodes records from a dump stream.
type Reader struct {
	dec *msgpack.Decoder
	c   io.Closer
}

// NewReader returns a Reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: msgpack.NewDecoder(bufio.NewReader(r))}
}

// Open opens the dump file at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dump: %w", err)
	}
	r := NewReader(f)
	r.c = f
	return r, nil
}

// Records iterates over the remaining records. Iteration stops after the
// first decode error, which is yielded.
func (r *Reader) Records() iter.Seq2[evaluate.Record, error] {
	return func(yield func(evaluate.Record, error) bool) {
		for n := 0; ; n++ {
			var rec evaluate.Record
			err := r.dec.Decode(&rec)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(evaluate.Record{}, fmt.Errorf("decode record %d: %w", n, err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Close closes the file opened with Open.
func (r *Reader) Close() error {
	if r.c == nil {
		return nil
	}
	return r.c.Close()
}
