package dag

// Node is a vertex of a dependency tree. Children are the entities the node
// references through the primary target of its reference fields.
type Node struct {
	// Name is the entity name.
	Name string `json:"name"`
	// Children holds one subtree per resolved reference target, in field order.
	Children []*Node `json:"children"`
	// Circular is set on entities found on a reference cycle. A circular node
	// in the merged forest has no children and a zero weight.
	Circular bool `json:"circular"`
	// DependencyWeight is the sum of (child weight + 1) over all children.
	DependencyWeight int `json:"childCount"`
}

// Forest is the merged, deduplicated set of dependency trees, sorted by
// ascending dependency weight.
type Forest []*Node

// circularLeaf returns the weightless placeholder recorded wherever a cycle
// is detected.
func circularLeaf(name string) *Node {
	return &Node{Name: name, Children: []*Node{}, Circular: true}
}

// weigh computes the dependency weight from the node's direct children.
func weigh(children []*Node) int {
	weight := 0
	for _, c := range children {
		weight += c.DependencyWeight + 1
	}
	return weight
}

// Names returns the root names of the forest in order.
func (f Forest) Names() []string {
	names := make([]string, 0, len(f))
	for _, n := range f {
		names = append(names, n.Name)
	}
	return names
}
