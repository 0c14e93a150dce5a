package engine

import (
	"fmt"

	"github.com/shaiso/flowbot/internal/domain"
)

// Graph — граф flow в виде арены узлов по ID.
//
// Исходящие рёбра хранятся в порядке объявления, без дублей и без
// рёбер на несуществующие узлы.
type Graph struct {
	// Nodes — все узлы графа (nodeID → Node).
	Nodes map[string]*domain.Node

	// Order — ID узлов в порядке объявления.
	Order []string

	// Trigger — ID единственного trigger узла.
	Trigger string

	out map[string][]domain.Edge
}

// BuildGraph строит граф из определения flow.
//
// Ошибки: пустой flow, пустые или повторяющиеся ID, неизвестный вид узла,
// не ровно один trigger. Предупреждения: рёбра на несуществующие узлы
// (отбрасываются), дубли рёбер (схлопываются). Достижимость проверяет
// Compile после очистки рёбер router.
func BuildGraph(def *domain.FlowDefinition) (*Graph, []Warning, error) {
	if def == nil || len(def.Nodes) == 0 {
		return nil, nil, ErrEmptyNodes
	}

	g := &Graph{
		Nodes: make(map[string]*domain.Node, len(def.Nodes)),
		Order: make([]string, 0, len(def.Nodes)),
		out:   make(map[string][]domain.Edge),
	}
	var warnings []Warning

	// Первый проход: узлы
	var triggers []string
	for i := range def.Nodes {
		node := &def.Nodes[i]

		if node.ID == "" {
			return nil, nil, NewValidationError("", "id",
				fmt.Sprintf("node %d has empty ID", i), ErrEmptyNodeID)
		}
		if _, exists := g.Nodes[node.ID]; exists {
			return nil, nil, NewValidationError(node.ID, "id",
				fmt.Sprintf("duplicate node ID: %s", node.ID), ErrDuplicateNodeID)
		}
		if !node.Kind.IsValid() {
			return nil, nil, NewValidationError(node.ID, "kind",
				fmt.Sprintf("unknown node kind: %q", node.Kind), ErrUnknownNodeKind)
		}

		g.Nodes[node.ID] = node
		g.Order = append(g.Order, node.ID)
		if node.Kind == domain.NodeKindTrigger {
			triggers = append(triggers, node.ID)
		}
	}

	switch len(triggers) {
	case 0:
		return nil, nil, NewValidationError("", "nodes", "flow has no trigger node", ErrNoTrigger)
	case 1:
		g.Trigger = triggers[0]
	default:
		return nil, nil, NewValidationError(triggers[1], "kind",
			fmt.Sprintf("flow has %d trigger nodes", len(triggers)), ErrMultipleTriggers)
	}

	// Второй проход: рёбра
	seen := make(map[domain.EdgeKey]bool, len(def.Edges))
	for _, e := range def.Edges {
		if _, ok := g.Nodes[e.Source]; !ok {
			warnings = append(warnings, Warning{
				Message: fmt.Sprintf("edge %s -> %s dropped: unknown source node", e.Source, e.Target),
			})
			continue
		}
		if _, ok := g.Nodes[e.Target]; !ok {
			warnings = append(warnings, Warning{
				NodeID:  e.Source,
				Message: fmt.Sprintf("edge %s -> %s dropped: unknown target node", e.Source, e.Target),
			})
			continue
		}
		if seen[e.Key()] {
			warnings = append(warnings, Warning{
				NodeID:  e.Source,
				Message: fmt.Sprintf("duplicate edge %s[%s] -> %s removed", e.Source, e.SourceHandle, e.Target),
			})
			continue
		}
		seen[e.Key()] = true
		g.out[e.Source] = append(g.out[e.Source], e)
	}

	return g, warnings, nil
}

// Node возвращает узел по ID.
func (g *Graph) Node(id string) *domain.Node {
	return g.Nodes[id]
}

// Size возвращает количество узлов.
func (g *Graph) Size() int {
	return len(g.Nodes)
}

// Outgoing возвращает исходящие рёбра узла в порядке объявления.
func (g *Graph) Outgoing(id string) []domain.Edge {
	return g.out[id]
}

// EdgeFor возвращает первое исходящее ребро узла с заданным handle.
func (g *Graph) EdgeFor(id, handle string) (domain.Edge, bool) {
	for _, e := range g.out[id] {
		if e.SourceHandle == handle {
			return e, true
		}
	}
	return domain.Edge{}, false
}

// FirstEdge возвращает первое исходящее ребро узла.
func (g *Graph) FirstEdge(id string) (domain.Edge, bool) {
	edges := g.out[id]
	if len(edges) == 0 {
		return domain.Edge{}, false
	}
	return edges[0], true
}

// EdgeCount возвращает количество рёбер после очистки.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, edges := range g.out {
		n += len(edges)
	}
	return n
}

// retainEdges оставляет у узла только рёбра, для которых keep вернул true.
func (g *Graph) retainEdges(id string, keep func(domain.Edge) bool) {
	edges := g.out[id]
	kept := edges[:0]
	for _, e := range edges {
		if keep(e) {
			kept = append(kept, e)
		}
	}
	g.out[id] = kept
}

// Reachable возвращает множество узлов, достижимых из trigger.
func (g *Graph) Reachable() map[string]bool {
	visited := map[string]bool{g.Trigger: true}
	queue := []string{g.Trigger}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.out[id] {
			if !visited[e.Target] {
				visited[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}
	return visited
}

// ReachabilityWarnings возвращает предупреждения о недостижимых узлах.
func (g *Graph) ReachabilityWarnings() []Warning {
	reachable := g.Reachable()
	var warnings []Warning
	for _, id := range g.Order {
		if !reachable[id] {
			warnings = append(warnings, Warning{
				NodeID:  id,
				Message: "node is not reachable from the trigger",
			})
		}
	}
	return warnings
}
