package dag

// LoadOrder flattens the forest into a duplicate-free sequence of entity
// names. Trees are visited in ascending weight order and each tree is walked
// post-order, so a node's dependencies are emitted before the node. A name
// already emitted by an earlier tree is skipped.
func LoadOrder(forest Forest) []string {
	order := make([]string, 0, len(forest))
	emitted := newNameSet()

	for _, tree := range SortByWeight(forest) {
		for _, name := range PostOrder(tree) {
			if emitted.add(name) {
				order = append(order, name)
			}
		}
	}
	return order
}

// PostOrder returns the names of the tree rooted at root, children left to
// right before their parent.
func PostOrder(root *Node) []string {
	if root == nil {
		return nil
	}

	type cursor struct {
		node *Node
		next int
	}

	var out []string
	stack := []*cursor{{node: root}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next < len(top.node.Children) {
			child := top.node.Children[top.next]
			top.next++
			stack = append(stack, &cursor{node: child})
			continue
		}
		out = append(out, top.node.Name)
		stack = stack[:len(stack)-1]
	}
	return out
}
