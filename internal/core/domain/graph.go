package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// NodeID identifies a node inside one job graph.
type NodeID string

// NodeKind is the backend operation a node performs (ComfyUI "class_type").
type NodeKind string

const (
	KindUNETLoader              NodeKind = "UNETLoader"
	KindCLIPLoader              NodeKind = "CLIPLoader"
	KindVAELoader               NodeKind = "VAELoader"
	KindLoadImage               NodeKind = "LoadImage"
	KindImageScaleToTotalPixels NodeKind = "ImageScaleToTotalPixels"
	KindGetImageSize            NodeKind = "GetImageSize"
	KindCLIPTextEncode          NodeKind = "CLIPTextEncode"
	KindConditioningZeroOut     NodeKind = "ConditioningZeroOut"
	KindVAEEncode               NodeKind = "VAEEncode"
	KindReferenceLatent         NodeKind = "ReferenceLatent"
	KindEmptyFlux2LatentImage   NodeKind = "EmptyFlux2LatentImage"
	KindRandomNoise             NodeKind = "RandomNoise"
	KindKSamplerSelect          NodeKind = "KSamplerSelect"
	KindFlux2Scheduler          NodeKind = "Flux2Scheduler"
	KindCFGGuider               NodeKind = "CFGGuider"
	KindSamplerCustomAdvanced   NodeKind = "SamplerCustomAdvanced"
	KindVAEDecode               NodeKind = "VAEDecode"
	KindSaveImage               NodeKind = "SaveImage"
)

// IsOutput reports whether nodes of this kind produce retrievable artifacts.
func (k NodeKind) IsOutput() bool {
	return k == KindSaveImage
}

// OutputRef points at an output slot of another node.
type OutputRef struct {
	Node NodeID
	Slot int
}

// Out is shorthand for an OutputRef.
func Out(node NodeID, slot int) OutputRef {
	return OutputRef{Node: node, Slot: slot}
}

// Input binds one named node input to either a literal value or another node's output.
type Input struct {
	Name    string
	Literal any
	Ref     *OutputRef
}

// Lit binds a literal value.
func Lit(name string, value any) Input {
	return Input{Name: name, Literal: value}
}

// Link binds the output of another node.
func Link(name string, ref OutputRef) Input {
	return Input{Name: name, Ref: &ref}
}

// Node is a single typed operation in a job graph.
type Node struct {
	ID     NodeID
	Kind   NodeKind
	Inputs []Input
}

// Graph is the typed job description submitted to the image backend (the JobSpec).
// Nodes can only reference nodes added before them, so a graph built through Add is
// acyclic and has no dangling references. The untyped wire form exists only via Wire.
type Graph struct {
	nodes  map[NodeID]*Node
	order  []NodeID
	output NodeID
	err    error
}

func NewGraph() *Graph {
	return &Graph{nodes: make(map[NodeID]*Node)}
}

// Add appends a node and returns its id. The first construction error is retained and
// reported by Err and Validate; later Adds become no-ops.
func (g *Graph) Add(id NodeID, kind NodeKind, inputs ...Input) NodeID {
	if g.err != nil {
		return id
	}
	if id == "" {
		g.err = fmt.Errorf("%w: empty node id", ErrInvalidGraph)
		return id
	}
	if _, exists := g.nodes[id]; exists {
		g.err = fmt.Errorf("%w: duplicate node %q", ErrInvalidGraph, id)
		return id
	}
	seen := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		if in.Name == "" {
			g.err = fmt.Errorf("%w: node %q has unnamed input", ErrInvalidGraph, id)
			return id
		}
		if _, dup := seen[in.Name]; dup {
			g.err = fmt.Errorf("%w: node %q binds input %q twice", ErrInvalidGraph, id, in.Name)
			return id
		}
		seen[in.Name] = struct{}{}
		if in.Ref == nil {
			continue
		}
		if _, ok := g.nodes[in.Ref.Node]; !ok {
			g.err = fmt.Errorf("%w: node %q references unknown node %q", ErrInvalidGraph, id, in.Ref.Node)
			return id
		}
		if in.Ref.Slot < 0 {
			g.err = fmt.Errorf("%w: node %q references negative slot", ErrInvalidGraph, id)
			return id
		}
	}

	n := &Node{ID: id, Kind: kind, Inputs: append([]Input(nil), inputs...)}
	g.nodes[id] = n
	g.order = append(g.order, id)
	return id
}

// SetOutput designates the terminal save node.
func (g *Graph) SetOutput(id NodeID) {
	if g.err != nil {
		return
	}
	n, ok := g.nodes[id]
	if !ok {
		g.err = fmt.Errorf("%w: output node %q not in graph", ErrInvalidGraph, id)
		return
	}
	if !n.Kind.IsOutput() {
		g.err = fmt.Errorf("%w: node %q of kind %s cannot be the output", ErrInvalidGraph, id, n.Kind)
		return
	}
	g.output = id
}

func (g *Graph) Err() error { return g.err }

// Output returns the designated save node.
func (g *Graph) Output() NodeID { return g.output }

func (g *Graph) Len() int { return len(g.order) }

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id NodeID) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	cp := *n
	cp.Inputs = append([]Input(nil), n.Inputs...)
	return cp, true
}

// Nodes returns copies of all nodes in insertion order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		n, _ := g.Node(id)
		out = append(out, n)
	}
	return out
}

// Validate checks the structural invariants: no construction error, every reference
// resolves, the graph is acyclic and exactly one output node exists and is designated.
func (g *Graph) Validate() error {
	if g.err != nil {
		return g.err
	}
	if len(g.nodes) == 0 {
		return fmt.Errorf("%w: empty graph", ErrInvalidGraph)
	}
	outputs := 0
	for _, n := range g.nodes {
		if n.Kind.IsOutput() {
			outputs++
		}
		for _, in := range n.Inputs {
			if in.Ref == nil {
				continue
			}
			if _, ok := g.nodes[in.Ref.Node]; !ok {
				return fmt.Errorf("%w: node %q references unknown node %q", ErrInvalidGraph, n.ID, in.Ref.Node)
			}
		}
	}
	if outputs != 1 {
		return fmt.Errorf("%w: expected exactly one output node, found %d", ErrInvalidGraph, outputs)
	}
	if g.output == "" {
		return fmt.Errorf("%w: no output node designated", ErrInvalidGraph)
	}
	if _, err := g.TopologicalOrder(); err != nil {
		return err
	}
	return nil
}

// TopologicalOrder returns node ids with every dependency before its dependents.
// Ties are broken by insertion order so the result is stable.
func (g *Graph) TopologicalOrder() ([]NodeID, error) {
	position := make(map[NodeID]int, len(g.order))
	for i, id := range g.order {
		position[id] = i
	}

	indegree := make(map[NodeID]int, len(g.nodes))
	dependents := make(map[NodeID][]NodeID, len(g.nodes))
	for _, id := range g.order {
		n := g.nodes[id]
		for _, in := range n.Inputs {
			if in.Ref == nil {
				continue
			}
			indegree[id]++
			dependents[in.Ref.Node] = append(dependents[in.Ref.Node], id)
		}
	}

	var ready []NodeID
	for _, id := range g.order {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	result := make([]NodeID, 0, len(g.order))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		result = append(result, id)
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
		sort.SliceStable(ready, func(i, j int) bool { return position[ready[i]] < position[ready[j]] })
	}

	if len(result) != len(g.order) {
		return nil, fmt.Errorf("%w: cycle detected", ErrInvalidGraph)
	}
	return result, nil
}

// WireNode is the loosely-typed per-node form the backend expects.
type WireNode struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Wire renders the graph into the backend's untyped mapping. References become
// [node_id, slot] pairs.
func (g *Graph) Wire() map[string]WireNode {
	out := make(map[string]WireNode, len(g.order))
	for _, id := range g.order {
		n := g.nodes[id]
		inputs := make(map[string]any, len(n.Inputs))
		for _, in := range n.Inputs {
			if in.Ref != nil {
				inputs[in.Name] = []any{string(in.Ref.Node), in.Ref.Slot}
				continue
			}
			inputs[in.Name] = in.Literal
		}
		out[string(id)] = WireNode{ClassType: string(n.Kind), Inputs: inputs}
	}
	return out
}

func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Wire())
}
