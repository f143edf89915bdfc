package deltanet

// defaultCollectionLength is the initial slot count of a new collection.
const defaultCollectionLength = 16

// ComponentCollection holds one integer component for every index.
//
// Clients never see target values directly. Each tick the collection emits
// as much of the outstanding change as fits in an int64 and sends the
// difference from the previous emission; the rest carries over, so the
// observable value converges on the target over one or more ticks.
type ComponentCollection struct {
	target     []int64
	pending    []wide
	prev       []int64
	observable []int64
}

// NewComponentCollection returns a collection with room for length indices.
func NewComponentCollection(length int) *ComponentCollection {
	if length < defaultCollectionLength {
		length = defaultCollectionLength
	}
	return &ComponentCollection{
		target:     make([]int64, length),
		pending:    make([]wide, length),
		prev:       make([]int64, length),
		observable: make([]int64, length),
	}
}

// Len returns the number of allocated slots.
func (c *ComponentCollection) Len() int {
	return len(c.target)
}

func (c *ComponentCollection) grow(need int) {
	if need <= len(c.target) {
		return
	}
	n := growLength(len(c.target), need)
	c.target = append(c.target, make([]int64, n-len(c.target))...)
	c.pending = append(c.pending, make([]wide, n-len(c.pending))...)
	c.prev = append(c.prev, make([]int64, n-len(c.prev))...)
	c.observable = append(c.observable, make([]int64, n-len(c.observable))...)
}

// SetValue sets the target value at index, growing storage as needed.
func (c *ComponentCollection) SetValue(index int, value int64) {
	c.grow(index + 1)
	total := wideOf(value).sub(wideOf(c.target[index]))
	c.pending[index] = c.pending[index].add(total)
	c.target[index] = value
}

// TargetValue returns the last value set at index.
func (c *ComponentCollection) TargetValue(index int) int64 {
	if index < 0 || index >= len(c.target) {
		return 0
	}
	return c.target[index]
}

// Tick emits one step for every slot and returns the emitted deltas and
// delta-deltas. Both slices cover all allocated slots.
func (c *ComponentCollection) Tick() (deltas, deltaDeltas []int64) {
	n := len(c.target)
	deltas = make([]int64, n)
	deltaDeltas = make([]int64, n)
	for i := 0; i < n; i++ {
		emit := c.pending[i].clamp()
		deltas[i] = emit
		deltaDeltas[i] = clampDiff(emit, c.prev[i])
		c.prev[i] = emit
		c.observable[i] = clampSum(c.observable[i], emit)
		c.pending[i] = c.pending[i].sub(wideOf(emit))
	}
	return deltas, deltaDeltas
}

// RemoveIndices compacts every slot array, dropping the sorted indices.
func (c *ComponentCollection) RemoveIndices(sorted []int) {
	c.target = removeSorted(c.target, sorted, 0)
	c.pending = removeSorted(c.pending, sorted, wide{})
	c.prev = removeSorted(c.prev, sorted, 0)
	c.observable = removeSorted(c.observable, sorted, 0)
}

// CurrentValues returns a copy of the values clients currently observe.
func (c *ComponentCollection) CurrentValues() []int64 {
	return append([]int64(nil), c.observable...)
}

// PreviousEmittedDeltas returns a copy of the deltas emitted by the last tick.
func (c *ComponentCollection) PreviousEmittedDeltas() []int64 {
	return append([]int64(nil), c.prev...)
}
