package log

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends protocol events to a CBOR stream on disk, one
// event per CBOR item. The stream can be replayed and filtered with a
// Reader. Safe for concurrent use.
type FileLogger struct {
	mu   sync.Mutex
	file *os.File
	enc  *cbor.Encoder
}

// NewFileLogger opens path for appending, creating it with mode 0644
// when missing. Existing capture data is preserved.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{file: f, enc: NewEncoder(f)}, nil
}

// Log appends one event to the stream. Encoding errors are swallowed;
// event capture must never disturb the connection it observes. Calls
// after Close are ignored.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return
	}
	_ = l.enc.Encode(event)
}

// Close closes the stream. Safe to call more than once.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Compile-time interface satisfaction check.
var _ Logger = (*FileLogger)(nil)
