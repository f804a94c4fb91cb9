package diagnostic

import (
	"fmt"
	"io"

	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/distr1/erect/internal/core"
)

// node wraps a core.Task as a gonum graph.Node, the same pattern the
// teacher's former batch scheduler used for its package dependency graph
// (internal/batch.node: an integer ID plus a pointer back to the domain
// object).
type node struct {
	id   int64
	task *core.Task
}

func (n *node) ID() int64 { return n.id }

// buildGraph constructs a directed graph over tasks, with an edge from a
// task to each of its static dependencies and to the generator task of each
// of its input files — the same two contributors core.Task.Run drives
// concurrently.
func buildGraph(tasks []*core.Task) (*simple.DirectedGraph, map[*core.Task]*node) {
	g := simple.NewDirectedGraph()
	nodes := make(map[*core.Task]*node, len(tasks))
	for i, t := range tasks {
		n := &node{id: int64(i), task: t}
		nodes[t] = n
		g.AddNode(n)
	}
	for _, t := range tasks {
		n := nodes[t]
		for _, dep := range t.Dependencies() {
			if dn, ok := nodes[dep]; ok {
				g.SetEdge(g.NewEdge(n, dn))
			}
		}
		for _, f := range t.InputFiles() {
			if gen := f.GeneratorTask(); gen != nil {
				if dn, ok := nodes[gen]; ok {
					g.SetEdge(g.NewEdge(n, dn))
				}
			}
		}
	}
	return g, nodes
}

// CheckCycles reports an error naming every task caught in a dependency
// cycle, using topo.Sort exactly the way the teacher's batch scheduler used
// it to detect unbreakable cycles, except here a cycle is always a build
// configuration error rather than something to route around.
func CheckCycles(tasks []*core.Task) error {
	g, _ := buildGraph(tasks)
	if _, err := topo.Sort(g); err != nil {
		uo, ok := err.(topo.Unorderable)
		if !ok {
			return xerrors.Errorf("diagnostic: dependency graph: %w", err)
		}
		var msg string
		for _, component := range uo {
			for _, n := range component {
				msg += n.(*node).task.ID.Display() + " "
			}
		}
		return xerrors.Errorf("diagnostic: dependency cycle among: %s", msg)
	}
	return nil
}

// WriteGraph writes a Graphviz DOT rendering of the dependency graph among
// tasks to w, for `erect build --graph out.dot`.
func WriteGraph(w io.Writer, tasks []*core.Task) error {
	g, nodes := buildGraph(tasks)

	if _, err := fmt.Fprintln(w, "digraph erect {"); err != nil {
		return err
	}
	for t, n := range nodes {
		if _, err := fmt.Fprintf(w, "  %d [label=%q];\n", n.ID(), t.ID.Display()); err != nil {
			return err
		}
	}
	for edges := g.Edges(); edges.Next(); {
		e := edges.Edge()
		if _, err := fmt.Fprintf(w, "  %d -> %d;\n", e.From().ID(), e.To().ID()); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}
