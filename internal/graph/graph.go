package graph

import (
	"errors"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultStyle is the fill applied to every node the builder creates.
const DefaultStyle = "fill: #aaffaa"

// DefaultCurve is the edge interpolation hint (d3.curveBasis).
const DefaultCurve = "basis"

// ErrInvariant is wrapped by Validate when a document is inconsistent.
var ErrInvariant = errors.New("graph invariant violated")

// Node is a labelled vertex. Two nodes with the same label are the same node.
type Node struct {
	Label   string `json:"label" yaml:"label"`
	Style   string `json:"style" yaml:"style"`
	Tooltip string `json:"tooltip,omitempty" yaml:"tooltip,omitempty"`
}

// Edge is a directed parent → child connection.
type Edge struct {
	From  string `json:"from" yaml:"from"`
	To    string `json:"to" yaml:"to"`
	Curve string `json:"curve,omitempty" yaml:"curve,omitempty"`
}

type edgeKey struct {
	from, to string
}

// Document is the node/edge/tooltip description handed to a renderer.
// It is built once per request and treated as read-only afterwards.
type Document struct {
	nodes    *orderedmap.OrderedMap[string, *Node]
	edges    *orderedmap.OrderedMap[edgeKey, *Edge]
	tooltips *orderedmap.OrderedMap[string, string]
}

// Stats holds summary counts.
type Stats struct {
	Nodes    int
	Edges    int
	Tooltips int
}

// New creates an empty document.
func New() *Document {
	return &Document{
		nodes:    orderedmap.New[string, *Node](),
		edges:    orderedmap.New[edgeKey, *Edge](),
		tooltips: orderedmap.New[string, string](),
	}
}

// AddNode inserts a node. Re-inserting an existing label is a no-op and the
// first style wins. It reports whether the node was new.
func (d *Document) AddNode(label, style string) bool {
	if _, exists := d.nodes.Get(label); exists {
		return false
	}
	n := &Node{Label: label, Style: style}
	if text, ok := d.tooltips.Get(label); ok {
		n.Tooltip = text
	}
	d.nodes.Set(label, n)
	return true
}

// AddEdge inserts a directed edge. Re-inserting the same pair is a no-op.
// It reports whether the edge was new.
func (d *Document) AddEdge(from, to, curve string) bool {
	key := edgeKey{from: from, to: to}
	if _, exists := d.edges.Get(key); exists {
		return false
	}
	d.edges.Set(key, &Edge{From: from, To: to, Curve: curve})
	return true
}

// SetTooltip records the full text shown when hovering label. The last write
// wins; a node already carrying the label is updated in place.
func (d *Document) SetTooltip(label, text string) {
	d.tooltips.Set(label, text)
	if n, ok := d.nodes.Get(label); ok {
		n.Tooltip = text
	}
}

// HasNode reports whether a node with label exists.
func (d *Document) HasNode(label string) bool {
	_, ok := d.nodes.Get(label)
	return ok
}

// HasEdge reports whether the edge from → to exists.
func (d *Document) HasEdge(from, to string) bool {
	_, ok := d.edges.Get(edgeKey{from: from, to: to})
	return ok
}

// Node returns the node with label.
func (d *Document) Node(label string) (Node, bool) {
	n, ok := d.nodes.Get(label)
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Tooltip returns the tooltip text recorded for label.
func (d *Document) Tooltip(label string) (string, bool) {
	return d.tooltips.Get(label)
}

// Nodes returns a copy of the nodes in insertion order.
func (d *Document) Nodes() []Node {
	out := make([]Node, 0, d.nodes.Len())
	for pair := d.nodes.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, *pair.Value)
	}
	return out
}

// Labels returns the node labels in insertion order.
func (d *Document) Labels() []string {
	out := make([]string, 0, d.nodes.Len())
	for pair := d.nodes.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// Edges returns a copy of the edges in insertion order.
func (d *Document) Edges() []Edge {
	out := make([]Edge, 0, d.edges.Len())
	for pair := d.edges.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, *pair.Value)
	}
	return out
}

// Tooltips returns the tooltip table as label/text pairs in insertion order.
func (d *Document) Tooltips() []Tooltip {
	out := make([]Tooltip, 0, d.tooltips.Len())
	for pair := d.tooltips.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, Tooltip{Label: pair.Key, Text: pair.Value})
	}
	return out
}

// Tooltip is one entry of the tooltip table.
type Tooltip struct {
	Label string `json:"label" yaml:"label"`
	Text  string `json:"text" yaml:"text"`
}

// IsEmpty reports whether the document has no nodes.
func (d *Document) IsEmpty() bool {
	return d.nodes.Len() == 0
}

// GetStats returns summary counts.
func (d *Document) GetStats() Stats {
	return Stats{
		Nodes:    d.nodes.Len(),
		Edges:    d.edges.Len(),
		Tooltips: d.tooltips.Len(),
	}
}

// Validate checks that every edge ends at a node and every tooltip key names
// a node. Edge sources may be implicit: a suppressed key still parents its
// children, and renderers create such nodes on demand.
func (d *Document) Validate() error {
	for pair := d.edges.Oldest(); pair != nil; pair = pair.Next() {
		e := pair.Value
		if !d.HasNode(e.To) {
			return fmt.Errorf("%w: edge %q -> %q ends at unknown node", ErrInvariant, e.From, e.To)
		}
	}
	for pair := d.tooltips.Oldest(); pair != nil; pair = pair.Next() {
		if !d.HasNode(pair.Key) {
			return fmt.Errorf("%w: tooltip %q has no node", ErrInvariant, pair.Key)
		}
	}
	return nil
}
