package tile

// Index maps tile coordinates to live nodes of one tree. Entries of
// destroyed nodes are dropped lazily on lookup and in bulk by Compact.
type Index struct {
	tree    *Tree
	entries map[Coordinate]Handle
}

func newIndex(t *Tree) *Index {
	return &Index{
		tree:    t,
		entries: make(map[Coordinate]Handle),
	}
}

func (i *Index) register(c Coordinate, h Handle) {
	i.entries[c] = h
}

func (i *Index) Lookup(c Coordinate) (Handle, bool) {
	h, ok := i.entries[c]
	if !ok {
		return Handle{}, false
	}
	if !i.tree.Valid(h) {
		delete(i.entries, c)
		return Handle{}, false
	}
	return h, true
}

// Compact drops every stale entry and returns how many were removed.
func (i *Index) Compact() int {
	removed := 0
	for c, h := range i.entries {
		if !i.tree.Valid(h) {
			delete(i.entries, c)
			removed++
		}
	}
	return removed
}

func (i *Index) Len() int {
	return len(i.entries)
}

// Adjacent is a same level node DX columns and DY rows away from another.
type Adjacent struct {
	Handle Handle
	DX     int
	DY     int
}

// Neighbors8 returns the live nodes at the same level around c, in row
// order starting at the south west corner. The search stays inside the
// grid spanned by the roots; coordinates wrap neither in x nor in y.
func (i *Index) Neighbors8(c Coordinate) []Adjacent {
	width := int64(i.tree.gridX) << c.Level
	height := int64(i.tree.gridY) << c.Level
	var out []Adjacent
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			x, y := int64(c.X)+int64(dx), int64(c.Y)+int64(dy)
			if x < 0 || y < 0 || x >= width || y >= height {
				continue
			}
			if h, ok := i.Lookup(Coordinate{Level: c.Level, X: uint32(x), Y: uint32(y)}); ok {
				out = append(out, Adjacent{Handle: h, DX: dx, DY: dy})
			}
		}
	}
	return out
}
