package process

import (
	"io"
	"sync"
)

// stdinWriter guards a process's stdin pipe so StandardInput callers can
// write concurrently with Stop closing it.
type stdinWriter struct {
	mu     sync.Mutex
	w      io.WriteCloser
	closed bool
}

// Write implements io.Writer.
func (s *stdinWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	return s.w.Write(p)
}

// Close implements io.Closer. It is safe to call more than once.
func (s *stdinWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.w.Close()
}
