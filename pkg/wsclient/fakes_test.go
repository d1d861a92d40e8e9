package wsclient_test

import (
	"context"
	"errors"
	"sync"
)

// scriptedReader replays frames, then reports end of stream (or err).
type scriptedReader struct {
	frames []string
	err    error
	closed bool
}

func (r *scriptedReader) Receive(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if len(r.frames) == 0 {
		if r.err != nil {
			return "", false, r.err
		}
		return "", false, nil
	}
	next := r.frames[0]
	r.frames = r.frames[1:]
	return next, true, nil
}

func (r *scriptedReader) Close() error {
	r.closed = true
	return nil
}

// recordingWriter captures every frame sent through it.
type recordingWriter struct {
	mu     sync.Mutex
	frames []string
	err    error
}

func (w *recordingWriter) Send(_ context.Context, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.frames = append(w.frames, text)
	return nil
}

func (w *recordingWriter) sent() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.frames))
	copy(out, w.frames)
	return out
}

var errConnReset = errors.New("connection reset by peer")
