package containers

import "github.com/emirpasic/gods/trees/redblacktree"

// SortedSet stores a set of string keys with fast sorted traversal. It
// is not safe for concurrent use.
type SortedSet struct {
	inner *redblacktree.Tree
}

func NewSortedSet() *SortedSet {
	return &SortedSet{
		inner: redblacktree.NewWithStringComparator(),
	}
}

func (s *SortedSet) Add(key string) {
	s.inner.Put(key, nil)
}

func (s *SortedSet) Exists(key string) bool {
	_, ok := s.inner.Get(key)
	return ok
}

func (s *SortedSet) Size() int {
	return s.inner.Size()
}

// Values returns the keys in ascending order.
func (s *SortedSet) Values() []string {
	values := make([]string, 0, s.inner.Size())
	for _, k := range s.inner.Keys() {
		values = append(values, k.(string))
	}
	return values
}
