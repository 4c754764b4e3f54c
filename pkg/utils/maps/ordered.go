package maps

// Map is a map remembering insertion order of its keys.
type Map[K comparable, V any] interface {
	// Set puts v at k. Updating an existing key keeps its position.
	Set(k K, v V)
	Get(k K) (V, bool)

	// Keys returns keys in insertion order.
	Keys() []K

	// Values returns values in insertion order of their keys.
	Values() []V
	Len() int

	// Iter yields key-value pairs in insertion order.
	Iter() func(yield func(K, V) bool)
}

type orderedMap[K comparable, V any] struct {
	keys []K
	m    map[K]V
}

// NewOrderedMap creates an empty ordered map.
func NewOrderedMap[K comparable, V any]() Map[K, V] {
	return &orderedMap[K, V]{
		keys: []K{},
		m:    map[K]V{},
	}
}

func (m *orderedMap[K, V]) Set(k K, v V) {
	if _, ok := m.m[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.m[k] = v
}

func (m *orderedMap[K, V]) Get(k K) (V, bool) {
	v, ok := m.m[k]
	return v, ok
}

func (m *orderedMap[K, V]) Keys() []K {
	keys := make([]K, len(m.keys))
	copy(keys, m.keys)
	return keys
}

func (m *orderedMap[K, V]) Values() []V {
	values := make([]V, len(m.keys))
	for i, k := range m.keys {
		values[i] = m.m[k]
	}
	return values
}

func (m *orderedMap[K, V]) Len() int {
	return len(m.keys)
}

func (m *orderedMap[K, V]) Iter() func(yield func(K, V) bool) {
	return func(yield func(K, V) bool) {
		for _, k := range m.keys {
			if !yield(k, m.m[k]) {
				return
			}
		}
	}
}
