package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpatialIndexQueryRect(t *testing.T) {
	s := NewSpatialIndex()
	s.Upsert("a", 0, 0)
	s.Upsert("b", 10, 10)
	s.Upsert("c", -5, -5)
	s.Upsert("d", 100, 100)

	got := s.QueryRect(-10, -10, 20, 20)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, got)
}

func TestSpatialIndexUpsertMoves(t *testing.T) {
	s := NewSpatialIndex()
	s.Upsert("a", 0, 0)
	s.Upsert("a", 200, 200)

	assert.Empty(t, s.QueryRect(-10, -10, 10, 10))
	assert.Equal(t, []string{"a"}, s.QueryRect(190, 190, 210, 210))
}

func TestSpatialIndexRemove(t *testing.T) {
	s := NewSpatialIndex()
	s.Upsert("a", 3, 3)
	s.Remove("a")
	s.Remove("a") // twice is fine

	assert.Empty(t, s.QueryRect(0, 0, 10, 10))
}

func TestSpatialIndexNegativeCellBoundary(t *testing.T) {
	s := NewSpatialIndex()
	s.Upsert("edge", -1, -1)
	s.Upsert("origin", 0, 0)

	assert.ElementsMatch(t, []string{"edge", "origin"}, s.QueryRect(-1, -1, 0, 0))
	assert.Equal(t, []string{"edge"}, s.QueryRect(-1, -1, -1, -1))
}
