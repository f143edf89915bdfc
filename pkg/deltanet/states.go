package deltanet

import "sort"

// StateUpdate is a state value written at an index since the last tick.
type StateUpdate struct {
	Index int
	Value []byte
}

// StateCollection holds one opaque byte value for every index and tracks
// which indices were written since the last tick.
type StateCollection struct {
	values [][]byte
	dirty  map[int]struct{}
}

// NewStateCollection returns a collection with room for length indices.
func NewStateCollection(length int) *StateCollection {
	if length < defaultCollectionLength {
		length = defaultCollectionLength
	}
	return &StateCollection{
		values: make([][]byte, length),
		dirty:  make(map[int]struct{}),
	}
}

// Len returns the number of allocated slots.
func (c *StateCollection) Len() int {
	return len(c.values)
}

func (c *StateCollection) grow(need int) {
	if need <= len(c.values) {
		return
	}
	n := growLength(len(c.values), need)
	c.values = append(c.values, make([][]byte, n-len(c.values))...)
}

// SetValue stores value at index and marks it dirty. Nil is stored as empty.
func (c *StateCollection) SetValue(index int, value []byte) {
	c.grow(index + 1)
	if value == nil {
		value = []byte{}
	}
	c.values[index] = value
	c.dirty[index] = struct{}{}
}

// Value returns the value at index, or an empty slice.
func (c *StateCollection) Value(index int) []byte {
	if index < 0 || index >= len(c.values) || c.values[index] == nil {
		return []byte{}
	}
	return c.values[index]
}

// Tick returns the dirty updates ordered by index and clears the dirty set.
func (c *StateCollection) Tick() []StateUpdate {
	if len(c.dirty) == 0 {
		return nil
	}
	updates := make([]StateUpdate, 0, len(c.dirty))
	for index := range c.dirty {
		updates = append(updates, StateUpdate{Index: index, Value: c.Value(index)})
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].Index < updates[j].Index })
	clear(c.dirty)
	return updates
}

// RemoveIndices compacts values, dropping removed indices from the dirty set
// and moving surviving dirty marks to their new positions.
func (c *StateCollection) RemoveIndices(sorted []int) {
	if len(sorted) == 0 {
		return
	}
	c.values = removeSorted(c.values, sorted, nil)
	if len(c.dirty) == 0 {
		return
	}
	dirty := make(map[int]struct{}, len(c.dirty))
	for index := range c.dirty {
		if shifted, ok := shiftedIndex(index, sorted); ok {
			dirty[shifted] = struct{}{}
		}
	}
	c.dirty = dirty
}

// Values returns a copy of all slot values; unset slots are empty.
func (c *StateCollection) Values() [][]byte {
	out := make([][]byte, len(c.values))
	for i := range c.values {
		out[i] = c.Value(i)
	}
	return out
}
