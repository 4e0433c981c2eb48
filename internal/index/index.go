// Package index keeps the records of one analysis in tool order.
package index

import (
	"fmt"
	"sync"

	"sharkline/internal/models"
)

// PacketIndex maps frame numbers to records and remembers insertion order.
// It belongs to a single pipeline or capture session; the lock only lets
// readers look up frames while a live session is still inserting.
type PacketIndex struct {
	mu      sync.RWMutex
	byFrame map[uint32]*models.PacketRecord
	order   []*models.PacketRecord
}

// New returns an empty index.
func New() *PacketIndex {
	return &PacketIndex{byFrame: make(map[uint32]*models.PacketRecord)}
}

// Insert adds rec. A frame number may only be inserted once.
func (ix *PacketIndex) Insert(rec *models.PacketRecord) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, dup := ix.byFrame[rec.FrameNumber]; dup {
		return fmt.Errorf("index: duplicate frame %d", rec.FrameNumber)
	}
	ix.byFrame[rec.FrameNumber] = rec
	ix.order = append(ix.order, rec)
	return nil
}

// Get looks up a frame.
func (ix *PacketIndex) Get(frame uint32) (*models.PacketRecord, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	rec, ok := ix.byFrame[frame]
	return rec, ok
}

// Len returns the number of records.
func (ix *PacketIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.order)
}

// Records returns the records in insertion order.
func (ix *PacketIndex) Records() []*models.PacketRecord {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]*models.PacketRecord, len(ix.order))
	copy(out, ix.order)
	return out
}

// Clear drops every record.
func (ix *PacketIndex) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.byFrame = make(map[uint32]*models.PacketRecord)
	ix.order = nil
}
