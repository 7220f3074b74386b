// Package dag turns a set of entity models into a load plan. It builds one
// dependency tree per entity by walking reference fields, isolates entities
// that sit on a reference cycle, merges everything into a single forest and
// flattens that forest into a load order in which referenced entities come
// before the entities that reference them.
//
// Cycle detection is path based: an entity may appear in many trees, but a
// single root-to-leaf path never visits the same entity twice.
package dag
