package core

import "fmt"

// entityGraph orders entities so that every entity is imported after the
// entities whose models it references.
type entityGraph struct {
	order   []string
	nodes   map[string]*Entity
	parents map[string][]string
}

func newEntityGraph(entities []*Entity) *entityGraph {
	g := &entityGraph{
		nodes:   make(map[string]*Entity, len(entities)),
		parents: make(map[string][]string),
	}
	byModel := make(map[string][]string)
	for _, e := range entities {
		g.order = append(g.order, e.Key)
		g.nodes[e.Key] = e
		byModel[e.model.Name] = append(byModel[e.model.Name], e.Key)
	}
	for _, e := range entities {
		for _, dep := range e.Dependencies() {
			for _, parent := range byModel[dep] {
				if parent != e.Key {
					g.parents[e.Key] = append(g.parents[e.Key], parent)
				}
			}
		}
	}
	return g
}

// hasCycle returns the first cycle found, following declaration order.
func (g *entityGraph) hasCycle() (bool, []string) {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make(map[string]string)

	var cyclePath []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		recStack[id] = true

		for _, parentID := range g.parents[id] {
			if !visited[parentID] {
				path[parentID] = id
				if dfs(parentID) {
					return true
				}
			} else if recStack[parentID] {
				cyclePath = []string{parentID}
				for curr := id; curr != parentID; curr = path[curr] {
					cyclePath = append([]string{curr}, cyclePath...)
				}
				cyclePath = append([]string{parentID}, cyclePath...)
				return true
			}
		}

		recStack[id] = false
		return false
	}

	for _, id := range g.order {
		if !visited[id] && dfs(id) {
			return true, cyclePath
		}
	}
	return false, nil
}

// sort returns entities with dependencies first. Entities with no ordering
// constraint keep their declaration order.
func (g *entityGraph) sort() ([]*Entity, error) {
	if hasCycle, cyclePath := g.hasCycle(); hasCycle {
		return nil, fmt.Errorf("cycle detected between entities: %v", cyclePath)
	}

	visited := make(map[string]bool)
	var result []*Entity

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, parentID := range g.parents[id] {
			visit(parentID)
		}
		result = append(result, g.nodes[id])
	}

	for _, id := range g.order {
		visit(id)
	}
	return result, nil
}

// SortEntities orders entities for import. Self references are ignored;
// any other cycle is a configuration error.
func SortEntities(entities []*Entity) ([]*Entity, error) {
	return newEntityGraph(entities).sort()
}
