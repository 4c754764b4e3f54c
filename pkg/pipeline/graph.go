package pipeline

import (
	"fmt"
	"io"

	"github.com/opst/bertpretrain/pkg/utils/maps"
)

type NodeId string

const (
	TrainData      NodeId = "train_data"
	DevData        NodeId = "dev_data"
	Encoder        NodeId = "encoder"
	MLMLogSoftmax  NodeId = "mlm_log_softmax"
	MLMLoss        NodeId = "mlm_loss"
	NSPLogSoftmax  NodeId = "nsp_log_softmax"
	NSPLoss        NodeId = "nsp_loss"
	LossAggregator NodeId = "loss_aggregator"
)

type Node struct {
	NodeId NodeId
	Kind   string

	// Active is false when the node is constructed but feeds no objective.
	Active bool
}

func (n Node) ToDot(w io.Writer) error {
	style := ""
	if !n.Active {
		style = ` style=dashed fontcolor=gray color=gray`
	}
	_, err := fmt.Fprintf(
		w,
		`	"%s"[label="{%s|%s}"%s];
`,
		n.NodeId, n.NodeId, n.Kind, style,
	)
	return err
}

type Edge struct {
	FromId NodeId
	ToId   NodeId

	// Branch is the name of the branch which the edge belongs to.
	Branch string

	// Label names tensors passed along the edge.
	Label string
}

func (e Edge) ToDot(w io.Writer) error {
	label := e.Branch
	if e.Label != "" {
		label = fmt.Sprintf("%s: %s", e.Branch, e.Label)
	}
	_, err := fmt.Fprintf(
		w,
		`	"%s" -> "%s" [label="%s"];
`,
		e.FromId, e.ToId, label,
	)
	return err
}

// Graph is a directed graph of modules and data layers.
//
// A node appears once even if it is shared by branches. Edges tell which branch routes through it.
type Graph struct {
	Nodes maps.Map[NodeId, Node]
	Edges []Edge
}

func NewGraph() *Graph {
	return &Graph{
		Nodes: maps.NewOrderedMap[NodeId, Node](),
		Edges: []Edge{},
	}
}

// AddNode puts a node. Nodes start inactive and get activated when an edge touches them.
func (g *Graph) AddNode(id NodeId, kind string) {
	g.Nodes.Set(id, Node{NodeId: id, Kind: kind})
}

// Connect adds an edge between nodes which have been added.
func (g *Graph) Connect(branch string, from, to NodeId, label string) error {
	nodes := []Node{}
	for _, id := range []NodeId{from, to} {
		n, ok := g.Nodes.Get(id)
		if !ok {
			return fmt.Errorf("unknown node: %s", id)
		}
		nodes = append(nodes, n)
	}
	for _, n := range nodes {
		n.Active = true
		g.Nodes.Set(n.NodeId, n)
	}
	g.Edges = append(g.Edges, Edge{FromId: from, ToId: to, Branch: branch, Label: label})
	return nil
}

// EdgesOf returns edges of the branch.
func (g *Graph) EdgesOf(branch string) []Edge {
	edges := []Edge{}
	for _, e := range g.Edges {
		if e.Branch == branch {
			edges = append(edges, e)
		}
	}
	return edges
}

// Upstreams returns ids of nodes feeding to in the branch.
func (g *Graph) Upstreams(branch string, to NodeId) []NodeId {
	ids := []NodeId{}
	for _, e := range g.EdgesOf(branch) {
		if e.ToId == to {
			ids = append(ids, e.FromId)
		}
	}
	return ids
}

// ToDot renders the graph in Graphviz dot format.
func (g *Graph) ToDot(w io.Writer) error {
	_, err := w.Write([]byte(`digraph G {
	node [shape=record fontsize=10]
	edge [fontsize=10]

`))
	if err != nil {
		return err
	}

	for _, n := range g.Nodes.Iter() {
		if err := n.ToDot(w); err != nil {
			return err
		}
	}
	if _, err := w.Write([]byte("\n")); err != nil {
		return err
	}

	for _, e := range g.Edges {
		if err := e.ToDot(w); err != nil {
			return err
		}
	}
	_, err = w.Write([]byte("}\n"))
	return err
}
