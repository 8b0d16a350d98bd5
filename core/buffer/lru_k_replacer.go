// Package buffer implements the buffer pool: an LRU-K frame replacer
// and a page-table-based pool manager that hands out latched page
// guards over fixed-size frames.
package buffer

import (
	"fmt"
	"sync"

	diskmanager "github.com/gravel-db/graveldb/core/storage/disk_manager"
)

// FrameID indexes a frame in the buffer pool's frame array.
type FrameID int

// lruKNode tracks one frame's access history. History holds logical
// timestamps, oldest first.
type lruKNode struct {
	history   []uint64
	evictable bool
}

// LRUKReplacer picks eviction victims by backward k-distance: the frame
// whose k-th most recent access is furthest in the past goes first.
// Frames with fewer than k recorded accesses have infinite distance and
// are preferred over any frame with a full history, ordered among
// themselves by plain LRU on their most recent access.
type LRUKReplacer struct {
	mu sync.Mutex

	nodes       map[FrameID]*lruKNode
	replacerSiz int
	k           int
	currSize    int // frames currently evictable

	// currentTimestamp is the logical clock shared by all operations.
	// It only moves forward and is never reset after construction.
	currentTimestamp uint64
}

// NewLRUKReplacer creates a replacer for a pool of numFrames frames,
// tracking the last k accesses of each. Every frame is pre-registered
// with an empty history and marked non-evictable.
func NewLRUKReplacer(numFrames int, k int) *LRUKReplacer {
	r := &LRUKReplacer{
		nodes:       make(map[FrameID]*lruKNode, numFrames),
		replacerSiz: numFrames,
		k:           k,
	}
	for i := 0; i < numFrames; i++ {
		r.nodes[FrameID(i)] = &lruKNode{}
	}
	return r
}

// RecordAccess appends the current logical timestamp to the frame's
// history. A frame id outside the pool size is a caller bug.
func (r *LRUKReplacer) RecordAccess(frameID FrameID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if frameID < 0 || int(frameID) >= r.replacerSiz {
		return fmt.Errorf("%w: frame %d, pool size %d",
			diskmanager.ErrInvalidFrame, frameID, r.replacerSiz)
	}

	r.currentTimestamp++
	node, ok := r.nodes[frameID]
	if !ok {
		// Re-register a frame that was removed.
		node = &lruKNode{}
		r.nodes[frameID] = node
	}
	node.history = append(node.history, r.currentTimestamp)
	if len(node.history) > r.k {
		// only the last k accesses matter for the k-distance
		node.history = node.history[len(node.history)-r.k:]
	}
	return nil
}

// SetEvictable marks a frame as eligible or ineligible for eviction and
// keeps the evictable count in step.
func (r *LRUKReplacer) SetEvictable(frameID FrameID, evictable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[frameID]
	if !ok {
		return fmt.Errorf("%w: frame %d not registered", diskmanager.ErrInvalidFrame, frameID)
	}
	if node.evictable && !evictable {
		r.currSize--
	}
	if !node.evictable && evictable {
		r.currSize++
	}
	node.evictable = evictable
	return nil
}

// Evict selects the victim with the largest backward k-distance, clears
// its history and marks it non-evictable. It returns false when no
// frame is currently evictable.
func (r *LRUKReplacer) Evict() (FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.currentTimestamp++

	victim := FrameID(-1)
	victimInfinite := false
	var victimLast uint64  // most recent access of the infinite-distance victim
	var victimKDist uint64 // k-distance of the finite-distance victim

	for frameID, node := range r.nodes {
		if !node.evictable {
			continue
		}
		if len(node.history) < r.k {
			// Infinite distance. Tie-break by LRU: oldest most
			// recent access wins; a never-accessed frame counts
			// as oldest of all.
			var last uint64
			if len(node.history) > 0 {
				last = node.history[len(node.history)-1]
			}
			if !victimInfinite || last < victimLast ||
				(last == victimLast && frameID < victim) {
				victim = frameID
				victimInfinite = true
				victimLast = last
			}
			continue
		}
		if victimInfinite {
			continue // any infinite-distance frame outranks a finite one
		}
		kDist := r.currentTimestamp - node.history[len(node.history)-r.k]
		if victim == -1 || kDist > victimKDist ||
			(kDist == victimKDist && frameID < victim) {
			victim = frameID
			victimKDist = kDist
		}
	}

	if victim == -1 {
		return 0, false
	}

	node := r.nodes[victim]
	node.history = node.history[:0]
	node.evictable = false
	r.currSize--
	return victim, true
}

// Remove forgets a frame entirely. Used when a frame's contents are
// discarded outside the normal eviction path; unknown frames are a
// no-op.
func (r *LRUKReplacer) Remove(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[frameID]
	if !ok {
		return
	}
	if node.evictable {
		r.currSize--
	}
	delete(r.nodes, frameID)
}

// Size returns the number of currently evictable frames.
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currSize
}
