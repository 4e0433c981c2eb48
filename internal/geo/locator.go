// Package geo turns IP addresses into short location labels.
package geo

import (
	"errors"
	"fmt"
	"strings"
)

// PrivateNetwork is the label returned for private and internal ranges.
const PrivateNetwork = "private network"

// ErrNotInitialized is returned by Locate before an engine is installed.
var ErrNotInitialized = errors.New("geo: engine not initialized")

// Engine answers lookups with a pipe-delimited
// "country|region|province|city|isp" string, "0" marking unknown parts.
type Engine interface {
	Search(addr string) (string, error)
}

// Locator is the synchronous lookup facade used while ingesting records.
// Init must complete before any goroutine calls Locate.
type Locator struct {
	engine Engine
	closer func() error
}

// NewLocator wraps an already-open engine.
func NewLocator(e Engine) *Locator {
	return &Locator{engine: e}
}

// Init opens the database at dbPath and installs it as the engine.
func (l *Locator) Init(dbPath string) error {
	e, err := OpenMaxmind(dbPath)
	if err != nil {
		return err
	}
	l.engine = e
	l.closer = e.Close
	return nil
}

// Close releases the engine opened by Init.
func (l *Locator) Close() error {
	if l.closer == nil {
		return nil
	}
	err := l.closer()
	l.closer = nil
	l.engine = nil
	return err
}

// Locate returns a label such as "Germany-Bavaria-Munich", PrivateNetwork, or
// "" when nothing useful is known. Addresses longer than 15 characters are
// treated as IPv6 and skipped.
func (l *Locator) Locate(addr string) (string, error) {
	if len(addr) > 15 {
		return "", nil
	}
	if l == nil || l.engine == nil {
		return "", ErrNotInitialized
	}
	if addr == "" {
		return "", nil
	}
	raw, err := l.engine.Search(addr)
	if err != nil {
		return "", fmt.Errorf("geo: search %s: %w", addr, err)
	}
	return parseLocation(raw), nil
}

func parseLocation(raw string) string {
	if raw == "" || strings.Contains(raw, "invalid") {
		return ""
	}
	if strings.Contains(raw, PrivateNetwork) || strings.Contains(raw, "内网") {
		return PrivateNetwork
	}
	parts := strings.Split(raw, "|")
	if len(parts) < 4 {
		return raw
	}
	var out []string
	// region (index 1) is left out, as in the upstream database format.
	for _, p := range []string{parts[0], parts[2], parts[3]} {
		if p != "0" && p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "-")
}
