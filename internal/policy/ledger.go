package policy

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Ledger is the persistent set of previously-approved invocation
// signatures. It is append-only and deduplicated; insertion order
// carries no meaning. Entries are stored one per line in a plain text
// file so a human can audit or prune them.
type Ledger struct {
	path    string
	mu      sync.Mutex
	entries map[string]struct{}
}

// OpenLedger loads the ledger at path, creating an empty one if the
// file does not exist yet.
func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{
		path:    path,
		entries: make(map[string]struct{}),
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		l.entries[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}

	return l, nil
}

// Contains reports whether a signature has been remembered.
func (l *Ledger) Contains(signature string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[signature]
	return ok
}

// Remember appends a signature to the ledger. Re-remembering an
// existing signature is a no-op, keeping the file duplicate-free.
func (l *Ledger) Remember(signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[signature]; ok {
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger for append: %w", err)
	}
	if _, err := f.WriteString(signature + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("append to ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}

	l.entries[signature] = struct{}{}
	return nil
}

// Len returns the number of remembered signatures.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
