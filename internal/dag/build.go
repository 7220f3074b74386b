package dag

import (
	"context"
	"slices"

	"github.com/samber/lo"
	"github.com/vk/orgmigrate/internal/ctxlog"
	"github.com/vk/orgmigrate/internal/entity"
)

// frame is one entity on the current traversal path.
type frame struct {
	name      string
	parent    string
	hasParent bool
	fields    []entity.Field
	next      int
	children  []*Node
}

// builder holds the state shared by all trees of one Build call.
type builder struct {
	byName   map[string]*entity.Entity
	circular *nameSet
}

// Build constructs the dependency forest for the given entities.
//
// One tree is built per entity. A reference field contributes an edge only
// through its first target, only when that target is a known entity, and
// never back to the entity's direct parent on the path. Revisiting an entity
// already on the path records it as a circular leaf, and any entity already
// known to be circular when its subtree completes is recorded the same way.
// Roots with a circular child are promoted to circular, and every circular
// entity is added to the forest as a weightless leaf that replaces its full
// tree. An entity's position is its first position in a stable weight sort
// of all trees and leaves together.
func Build(ctx context.Context, entities []*entity.Entity) Forest {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Build: starting forest construction.", "entity_count", len(entities))

	b := &builder{
		byName:   make(map[string]*entity.Entity, len(entities)),
		circular: newNameSet(),
	}
	for _, e := range entities {
		b.byName[e.Name] = e
	}

	trees := make([]*Node, 0, len(entities))
	for _, e := range entities {
		trees = append(trees, b.buildTree(e.Name))
	}
	logger.Debug("Build: trees constructed.", "tree_count", len(trees), "circular_count", len(b.circular.order))

	for _, tree := range trees {
		if b.circular.has(tree.Name) {
			tree.Circular = true
			continue
		}
		if lo.SomeBy(tree.Children, func(c *Node) bool { return c.Circular }) {
			tree.Circular = true
			b.circular.add(tree.Name)
			logger.Debug("Build: root promoted to circular.", "entity", tree.Name)
		}
	}

	// Positions come from the weight-sorted list of trees and circular
	// leaves; a circular entity always keeps its leaf as the value.
	candidates := append(slices.Clone(trees), lo.Map(b.circular.order, func(name string, _ int) *Node {
		return circularLeaf(name)
	})...)
	merged := NewOrderedForest()
	for _, n := range SortByWeight(candidates) {
		if b.circular.has(n.Name) {
			n = circularLeaf(n.Name)
		}
		merged.Put(n)
	}

	forest := SortByWeight(merged.Forest())
	logger.Debug("Build: forest construction complete.", "root_count", len(forest))
	return forest
}

// buildTree walks the references reachable from root depth first using an
// explicit stack. The on-path set only holds the entities of the current path.
func (b *builder) buildTree(root string) *Node {
	onPath := map[string]bool{root: true}
	stack := []*frame{{name: root, fields: b.byName[root].Fields}}

	for {
		top := stack[len(stack)-1]

		if top.next < len(top.fields) {
			field := top.fields[top.next]
			top.next++

			target, ok := b.edgeTarget(field, top)
			if !ok {
				continue
			}
			if onPath[target] {
				b.circular.add(target)
				top.children = append(top.children, circularLeaf(target))
				continue
			}
			onPath[target] = true
			stack = append(stack, &frame{
				name:      target,
				parent:    top.name,
				hasParent: true,
				fields:    b.byName[target].Fields,
			})
			continue
		}

		delete(onPath, top.name)
		children := top.children
		if children == nil {
			children = []*Node{}
		}
		node := &Node{
			Name:             top.name,
			Children:         children,
			Circular:         b.circular.has(top.name),
			DependencyWeight: weigh(children),
		}

		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			return node
		}
		parent := stack[len(stack)-1]
		if node.Circular {
			parent.children = append(parent.children, circularLeaf(node.Name))
		} else {
			parent.children = append(parent.children, node)
		}
	}
}

// edgeTarget returns the entity a field depends on, if the field forms an
// edge from the entity in f.
func (b *builder) edgeTarget(field entity.Field, f *frame) (string, bool) {
	if !field.IsReference() {
		return "", false
	}
	target, ok := field.PrimaryTarget()
	if !ok {
		return "", false
	}
	if _, known := b.byName[target]; !known {
		return "", false
	}
	if f.hasParent && target == f.parent {
		return "", false
	}
	return target, true
}

// SortByWeight returns a copy of the forest sorted by ascending dependency
// weight. Ties keep their relative order.
func SortByWeight(forest Forest) Forest {
	sorted := slices.Clone(forest)
	slices.SortStableFunc(sorted, func(a, b *Node) int {
		return a.DependencyWeight - b.DependencyWeight
	})
	return sorted
}
