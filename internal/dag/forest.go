package dag

// OrderedForest is an insertion-ordered mapping from entity name to tree.
// Putting a name that is already present replaces its tree but keeps the
// position of the first insertion, so the last write wins.
type OrderedForest struct {
	order []string
	nodes map[string]*Node
}

// NewOrderedForest creates an empty OrderedForest.
func NewOrderedForest() *OrderedForest {
	return &OrderedForest{nodes: make(map[string]*Node)}
}

// Put stores n under its name, overwriting any earlier entry.
func (o *OrderedForest) Put(n *Node) {
	if _, exists := o.nodes[n.Name]; !exists {
		o.order = append(o.order, n.Name)
	}
	o.nodes[n.Name] = n
}

// Get returns the tree stored under name.
func (o *OrderedForest) Get(name string) (*Node, bool) {
	n, ok := o.nodes[name]
	return n, ok
}

// Len returns the number of distinct names.
func (o *OrderedForest) Len() int {
	return len(o.order)
}

// Forest returns the stored trees in first-insertion order.
func (o *OrderedForest) Forest() Forest {
	out := make(Forest, 0, len(o.order))
	for _, name := range o.order {
		out = append(out, o.nodes[name])
	}
	return out
}

// nameSet is an insertion-ordered set of entity names.
type nameSet struct {
	order []string
	seen  map[string]struct{}
}

func newNameSet() *nameSet {
	return &nameSet{seen: make(map[string]struct{})}
}

func (s *nameSet) add(name string) bool {
	if _, ok := s.seen[name]; ok {
		return false
	}
	s.seen[name] = struct{}{}
	s.order = append(s.order, name)
	return true
}

func (s *nameSet) has(name string) bool {
	_, ok := s.seen[name]
	return ok
}
