package vector

// IDMap is the ordered list of external document identifiers aligned by
// position with a FlatIndex: entry i owns position i. Identifiers are not
// unique; one document may own any number of positions.
type IDMap struct {
	ids []string
}

// NewIDMap returns a mapping holding a copy of ids.
func NewIDMap(ids ...string) *IDMap {
	m := &IDMap{ids: make([]string, len(ids))}
	copy(m.ids, ids)
	return m
}

// Len returns the number of positions mapped.
func (m *IDMap) Len() int {
	return len(m.ids)
}

// Append adds ids for the next positions.
func (m *IDMap) Append(ids ...string) {
	m.ids = append(m.ids, ids...)
}

// At returns the identifier owning pos. It panics if pos is out of range.
func (m *IDMap) At(pos int) string {
	return m.ids[pos]
}

// Positions returns every position owned by id in ascending order.
func (m *IDMap) Positions(id string) []int {
	var out []int
	for i, v := range m.ids {
		if v == id {
			out = append(out, i)
		}
	}
	return out
}

// Contains reports whether id owns at least one position.
func (m *IDMap) Contains(id string) bool {
	for _, v := range m.ids {
		if v == id {
			return true
		}
	}
	return false
}
