package tradelog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"crossarb/internal/model"
)

// JSONL appends trade attempts to a newline-delimited JSON file. It is safe
// for concurrent use and flushes after every record so tailers see it.
type JSONL struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
}

// NewJSONL returns a JSONL log that appends to path.
func NewJSONL(path string) *JSONL {
	return &JSONL{path: path}
}

func (l *JSONL) ensureOpenLocked() error {
	if l.file != nil {
		return nil
	}
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	l.w = bufio.NewWriterSize(f, 64*1024)
	return nil
}

// Record appends the attempt as a single JSON line.
func (l *JSONL) Record(_ context.Context, attempt model.TradeAttempt) error {
	b, err := json.Marshal(attempt)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureOpenLocked(); err != nil {
		return err
	}
	if _, err := l.w.Write(b); err != nil {
		return err
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return err
	}
	return l.w.Flush()
}

// Recent reads the file back and returns attempts newest first.
func (l *JSONL) Recent(_ context.Context, limit int) ([]model.TradeAttempt, error) {
	l.mu.Lock()
	if l.w != nil {
		if err := l.w.Flush(); err != nil {
			l.mu.Unlock()
			return nil, err
		}
	}
	l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var attempts []model.TradeAttempt
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var a model.TradeAttempt
		if err := json.Unmarshal(line, &a); err != nil {
			return nil, fmt.Errorf("corrupt trade log line: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// File order is append order; reverse for newest first.
	for i, j := 0, len(attempts)-1; i < j; i, j = i+1, j-1 {
		attempts[i], attempts[j] = attempts[j], attempts[i]
	}
	if limit > 0 && len(attempts) > limit {
		attempts = attempts[:limit]
	}
	return attempts, nil
}

// Close flushes and closes the underlying file.
func (l *JSONL) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	if l.w != nil {
		if err := l.w.Flush(); err != nil {
			firstErr = err
		}
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.w = nil
	l.file = nil
	return firstErr
}
