package handle

// slab is the in-memory slot store behind a Table: a dense entry slice,
// a free list of reusable slots and a generation counter per slot.
// It is not synchronized; the owning Table serializes access.
type slab struct {
	entries  []entry
	freeList []uint32
	live     int
}

type entry struct {
	value     any
	key       any
	foreign   Side
	gen       uint32
	pins      uint32
	holders   uint32
	valid     bool
	releasing bool
	kept      bool
}

func newSlab() slab {
	return slab{
		entries:  make([]entry, 0, 64),
		freeList: make([]uint32, 0, 16),
	}
}

// alloc stores a value and returns its 1-based index and generation.
func (s *slab) alloc(value any, foreign Side, key any) (uint32, uint32) {
	s.live++
	if n := len(s.freeList); n > 0 {
		idx := s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
		e := &s.entries[idx-1]
		gen := e.gen
		*e = entry{value: value, key: key, foreign: foreign, gen: gen, valid: true}
		return idx, gen
	}

	s.entries = append(s.entries, entry{value: value, key: key, foreign: foreign, gen: 1, valid: true})
	return uint32(len(s.entries)), 1
}

// lookup returns the live entry for index/generation, or nil.
func (s *slab) lookup(index, gen uint32) *entry {
	if index == 0 || int(index) > len(s.entries) {
		return nil
	}
	e := &s.entries[index-1]
	if !e.valid || e.gen != gen {
		return nil
	}
	return e
}

// free invalidates a slot and bumps its generation so old handles go stale.
func (s *slab) free(index uint32) (value any, key any) {
	e := &s.entries[index-1]
	value, key = e.value, e.key
	gen := e.gen + 1
	if gen == 0 {
		gen = 1
	}
	*e = entry{gen: gen}
	s.freeList = append(s.freeList, index)
	s.live--
	return value, key
}

// each iterates over live entries.
func (s *slab) each(fn func(index uint32, e *entry) bool) {
	for i := range s.entries {
		if s.entries[i].valid {
			if !fn(uint32(i+1), &s.entries[i]) {
				return
			}
		}
	}
}
