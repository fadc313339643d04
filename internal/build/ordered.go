package build

// ordered is a string-keyed map that remembers first insertion order.
// Grouping by first-seen key is how every assembler preserves source order.
type ordered[V any] struct {
	keys  []string
	index map[string]*V
}

func newOrdered[V any]() *ordered[V] {
	return &ordered[V]{index: make(map[string]*V)}
}

// getOrAdd returns the value for key, creating it with init on first sight.
func (o *ordered[V]) getOrAdd(key string, init func() V) *V {
	if v, ok := o.index[key]; ok {
		return v
	}
	v := init()
	o.index[key] = &v
	o.keys = append(o.keys, key)
	return &v
}

func (o *ordered[V]) len() int {
	return len(o.keys)
}

// values returns the values in insertion order
func (o *ordered[V]) values() []*V {
	out := make([]*V, 0, len(o.keys))
	for _, k := range o.keys {
		out = append(out, o.index[k])
	}
	return out
}
