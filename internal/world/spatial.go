package world

import "sync"

// spatialCellSize is the bucket edge length in tiles. Viewport queries
// touch at most a handful of buckets at typical terminal sizes.
const spatialCellSize = 16

type cellKey struct{ cx, cy int }

type point struct{ x, y int }

// SpatialIndex is a uniform-grid index over player positions, owned by the
// World and mutated only inside a tick or by the direct position-update
// path. The mutex covers viewport queries issued from the IPC dispatcher.
type SpatialIndex struct {
	mu    sync.Mutex
	cells map[cellKey]map[string]struct{}
	pos   map[string]point
}

// NewSpatialIndex returns an empty index.
func NewSpatialIndex() *SpatialIndex {
	return &SpatialIndex{
		cells: make(map[cellKey]map[string]struct{}),
		pos:   make(map[string]point),
	}
}

func cellFor(x, y int) cellKey {
	return cellKey{cx: floorDiv(x, spatialCellSize), cy: floorDiv(y, spatialCellSize)}
}

// floorDiv rounds toward negative infinity so negative coordinates bucket
// consistently.
func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// Upsert records id at (x, y), moving it between buckets as needed.
func (s *SpatialIndex) Upsert(id string, x, y int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.pos[id]; ok {
		oldKey := cellFor(old.x, old.y)
		newKey := cellFor(x, y)
		if oldKey != newKey {
			delete(s.cells[oldKey], id)
			if len(s.cells[oldKey]) == 0 {
				delete(s.cells, oldKey)
			}
		}
	}
	key := cellFor(x, y)
	bucket, ok := s.cells[key]
	if !ok {
		bucket = make(map[string]struct{})
		s.cells[key] = bucket
	}
	bucket[id] = struct{}{}
	s.pos[id] = point{x: x, y: y}
}

// Remove drops id from the index. Unknown ids are a no-op.
func (s *SpatialIndex) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.pos[id]
	if !ok {
		return
	}
	key := cellFor(old.x, old.y)
	delete(s.cells[key], id)
	if len(s.cells[key]) == 0 {
		delete(s.cells, key)
	}
	delete(s.pos, id)
}

// QueryRect returns every id whose position lies inside the inclusive
// rectangle [minX,maxX]×[minY,maxY].
func (s *SpatialIndex) QueryRect(minX, minY, maxX, maxY int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	minKey := cellFor(minX, minY)
	maxKey := cellFor(maxX, maxY)
	for cy := minKey.cy; cy <= maxKey.cy; cy++ {
		for cx := minKey.cx; cx <= maxKey.cx; cx++ {
			for id := range s.cells[cellKey{cx: cx, cy: cy}] {
				p := s.pos[id]
				if p.x >= minX && p.x <= maxX && p.y >= minY && p.y <= maxY {
					ids = append(ids, id)
				}
			}
		}
	}
	return ids
}
