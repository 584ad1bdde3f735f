package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedGeneratorDeterministic(t *testing.T) {
	g1 := SeedGenerator{Seed: 99}
	g2 := SeedGenerator{Seed: 99}

	a := g1.GenerateChunk(3, -2)
	b := g2.GenerateChunk(3, -2)
	assert.Equal(t, a.Tiles, b.Tiles, "same seed and chunk coords must agree")

	c := g1.GenerateChunk(4, -2)
	assert.NotEqual(t, a.Tiles, c.Tiles, "neighboring chunks should differ")
}

func TestSeedMixingAtExtremeInputs(t *testing.T) {
	// Coordinate mixing runs in uint64; negative seeds and coordinates of
	// either sign must stay deterministic and decorrelated.
	g := SeedGenerator{Seed: -12345}

	a := g.GenerateChunk(1<<30, -(1 << 30))
	b := g.GenerateChunk(1<<30, -(1 << 30))
	assert.Equal(t, a.Tiles, b.Tiles)

	mirror := g.GenerateChunk(-(1 << 30), 1<<30)
	assert.NotEqual(t, a.Tiles, mirror.Tiles, "mirrored coords must not collide")
}

func TestSeedGeneratorDiffersAcrossSeeds(t *testing.T) {
	a := SeedGenerator{Seed: 1}.GenerateChunk(0, 0)
	b := SeedGenerator{Seed: 2}.GenerateChunk(0, 0)
	assert.NotEqual(t, a.Tiles, b.Tiles)
}

func TestChunkCacheLRUEviction(t *testing.T) {
	c := NewChunkCache(SeedGenerator{Seed: 1}, 2)

	c.Chunk(0, 0)
	c.Chunk(1, 0)
	require.Equal(t, 2, c.Len())

	// Touch (0,0) so (1,0) is the least recently used.
	c.Chunk(0, 0)
	c.Chunk(2, 0)
	assert.Equal(t, 2, c.Len())

	// A regenerated chunk is identical to the evicted one; eviction must
	// never change terrain.
	fresh := c.Chunk(1, 0)
	direct := SeedGenerator{Seed: 1}.GenerateChunk(1, 0)
	assert.Equal(t, direct.Tiles, fresh.Tiles)
}

func TestChunkAtNegativeCoordinates(t *testing.T) {
	c := NewChunkCache(SeedGenerator{Seed: 7}, 8)

	// (-1,-1) lives in chunk (-1,-1), not (0,0).
	tile := c.Chunk(-1, -1).At(-1, -1)
	w := New(Options{Seed: 7, ChunkCacheSize: 8, NPCCount: -1})
	assert.Equal(t, w.TileAt(-1, -1), tile)
}

func TestTileWalkability(t *testing.T) {
	assert.True(t, TileGrass.Walkable())
	assert.True(t, TileDirt.Walkable())
	assert.False(t, TileWater.Walkable())
	assert.False(t, TileRock.Walkable())
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, 0, floorDiv(0, ChunkSize))
	assert.Equal(t, 0, floorDiv(31, ChunkSize))
	assert.Equal(t, 1, floorDiv(32, ChunkSize))
	assert.Equal(t, -1, floorDiv(-1, ChunkSize))
	assert.Equal(t, -1, floorDiv(-32, ChunkSize))
	assert.Equal(t, -2, floorDiv(-33, ChunkSize))
}
