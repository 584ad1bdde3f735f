package world

import (
	"container/list"
	"math/rand"
	"sync"
)

// ChunkSize is the edge length of one terrain chunk in tiles.
const ChunkSize = 32

// Tile is one terrain cell.
type Tile uint8

const (
	TileGrass Tile = iota
	TileDirt
	TileWater
	TileRock
)

// Walkable reports whether players and NPCs may occupy the tile.
func (t Tile) Walkable() bool { return t == TileGrass || t == TileDirt }

// Chunk is a ChunkSize×ChunkSize block of terrain.
type Chunk struct {
	CX, CY int
	Tiles  [ChunkSize][ChunkSize]Tile
}

// At returns the tile at world coordinates (x, y), which must lie inside
// this chunk.
func (c *Chunk) At(x, y int) Tile {
	lx := x - c.CX*ChunkSize
	ly := y - c.CY*ChunkSize
	return c.Tiles[ly][lx]
}

// TerrainGenerator produces chunk terrain on demand. Procedural generation
// proper lives outside the simulation; SeedGenerator is the deterministic
// default used when no richer generator is wired in.
type TerrainGenerator interface {
	GenerateChunk(cx, cy int) *Chunk
}

// SeedGenerator derives every chunk deterministically from a world seed, so
// a respawned worker regenerates identical terrain.
type SeedGenerator struct {
	Seed int64
}

// GenerateChunk builds rocky and wet patches from a per-chunk RNG.
func (g SeedGenerator) GenerateChunk(cx, cy int) *Chunk {
	// Mix chunk coordinates into the seed; constants are arbitrary odd
	// primes to decorrelate neighboring chunks. Mixing happens in uint64
	// because the constants exceed math.MaxInt64.
	mixed := int64(uint64(g.Seed) ^ uint64(cx)*0x9E3779B97F4A7C15 ^ uint64(cy)*0xC2B2AE3D27D4EB4F)
	rng := rand.New(rand.NewSource(mixed))

	ch := &Chunk{CX: cx, CY: cy}
	for y := 0; y < ChunkSize; y++ {
		for x := 0; x < ChunkSize; x++ {
			switch r := rng.Intn(100); {
			case r < 70:
				ch.Tiles[y][x] = TileGrass
			case r < 88:
				ch.Tiles[y][x] = TileDirt
			case r < 95:
				ch.Tiles[y][x] = TileWater
			default:
				ch.Tiles[y][x] = TileRock
			}
		}
	}
	return ch
}

type chunkKey struct{ cx, cy int }

type chunkEntry struct {
	key   chunkKey
	chunk *Chunk
}

// ChunkCache is an LRU cache of generated chunks, sized by the supervisor
// through the init message.
type ChunkCache struct {
	mu    sync.Mutex
	gen   TerrainGenerator
	cap   int
	order *list.List // front = most recently used
	items map[chunkKey]*list.Element
}

// NewChunkCache builds a cache holding at most capacity chunks.
func NewChunkCache(gen TerrainGenerator, capacity int) *ChunkCache {
	if capacity < 1 {
		capacity = 1
	}
	return &ChunkCache{
		gen:   gen,
		cap:   capacity,
		order: list.New(),
		items: make(map[chunkKey]*list.Element),
	}
}

// Chunk returns the chunk containing chunk coordinates (cx, cy), generating
// and caching it on a miss.
func (c *ChunkCache) Chunk(cx, cy int) *Chunk {
	key := chunkKey{cx: cx, cy: cy}

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		ch := el.Value.(chunkEntry).chunk
		c.mu.Unlock()
		return ch
	}
	c.mu.Unlock()

	// Generate outside the lock; a racing duplicate generation is cheaper
	// than holding the lock across terrain generation.
	ch := c.gen.GenerateChunk(cx, cy)

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(chunkEntry).chunk
	}
	el := c.order.PushFront(chunkEntry{key: key, chunk: ch})
	c.items[key] = el
	for c.order.Len() > c.cap {
		last := c.order.Back()
		c.order.Remove(last)
		delete(c.items, last.Value.(chunkEntry).key)
	}
	return ch
}

// IsWalkable reports whether world tile (x, y) can be entered.
func (c *ChunkCache) IsWalkable(x, y int) bool {
	cx := floorDiv(x, ChunkSize)
	cy := floorDiv(y, ChunkSize)
	return c.Chunk(cx, cy).At(x, y).Walkable()
}

// Len reports how many chunks are resident.
func (c *ChunkCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
