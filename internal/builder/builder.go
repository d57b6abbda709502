// Package builder turns an ATT&CK API response into a graph document.
//
// Every key of the response becomes a node connected to the key that
// contains it, except suppressed keys. A "description" value is condensed
// into a short summary node whose full text is kept in the tooltip table.
package builder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/msalah0e/attackgraph/internal/graph"
	"github.com/msalah0e/attackgraph/internal/jsonvalue"
)

var (
	// ErrInvalidInput is returned when the top-level value is not an object.
	ErrInvalidInput = errors.New("top-level JSON value is not an object")

	// ErrTooDeep is returned when the input nests deeper than Policy.MaxDepth.
	ErrTooDeep = errors.New("JSON nesting exceeds depth limit")
)

// Builder walks JSON values into graph documents. It holds no per-build
// state and is safe for concurrent use.
type Builder struct {
	policy     Policy
	suppressed map[string]bool
	expandOnly map[string]bool
}

// item is one pending visit on the explicit stack.
type item struct {
	parent    string
	hasParent bool
	key       string
	value     jsonvalue.Value
	depth     int
}

// New creates a builder for policy. Zero fields take their defaults.
func New(policy Policy) *Builder {
	policy = policy.withDefaults()
	return &Builder{
		policy:     policy,
		suppressed: toSet(policy.SuppressedKeys),
		expandOnly: toSet(policy.ExpandOnly),
	}
}

// Policy returns the effective policy.
func (b *Builder) Policy() Policy {
	return b.policy
}

// Build walks root, which must be an object, and returns the finished
// document. On error no document is returned.
func (b *Builder) Build(root jsonvalue.Value) (*graph.Document, error) {
	if root.Kind() != jsonvalue.KindObject {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidInput, root.Kind())
	}

	doc := graph.New()

	top, err := b.children("", false, root, 1)
	if err != nil {
		return nil, err
	}
	stack := make([]item, 0, len(top))
	stack = pushReversed(stack, top)

	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		next, err := b.visit(doc, it)
		if err != nil {
			return nil, err
		}
		stack = pushReversed(stack, next)
	}

	return doc, nil
}

// visit applies the node, edge and description rules for one key and
// returns the children to walk next.
func (b *Builder) visit(doc *graph.Document, it item) ([]item, error) {
	if !b.suppressed[it.key] {
		doc.AddNode(it.key, b.policy.Style)
		if it.hasParent {
			doc.AddEdge(it.parent, it.key, b.policy.Curve)
		}
	}

	if it.key == DescriptionKey {
		b.describe(doc, it.parent, it.hasParent, it.value)
	}

	switch it.value.Kind() {
	case jsonvalue.KindObject, jsonvalue.KindList:
	default:
		return nil, nil
	}

	kids, err := b.children(it.key, true, it.value, it.depth+1)
	if err != nil {
		return nil, err
	}

	// Top-level keys always expand so matrix-keyed responses stay visible.
	if b.expandOnly != nil && it.hasParent && !b.expandOnly[it.key] {
		for _, kid := range kids {
			b.leaf(doc, kid)
		}
		return nil, nil
	}
	return kids, nil
}

// children lists the key/value pairs below value in source order. Objects
// contribute their pairs; lists are transparent and contribute the pairs of
// their container elements. Scalars inside lists are dropped.
func (b *Builder) children(parent string, hasParent bool, value jsonvalue.Value, depth int) ([]item, error) {
	type pending struct {
		v     jsonvalue.Value
		depth int
	}

	var out []item
	work := []pending{{value, depth}}

	for len(work) > 0 {
		p := work[len(work)-1]
		work = work[:len(work)-1]

		if p.depth > b.policy.MaxDepth {
			return nil, fmt.Errorf("%w: limit is %d", ErrTooDeep, b.policy.MaxDepth)
		}

		switch p.v.Kind() {
		case jsonvalue.KindObject:
			for pair := p.v.Object().Oldest(); pair != nil; pair = pair.Next() {
				out = append(out, item{
					parent:    parent,
					hasParent: hasParent,
					key:       pair.Key,
					value:     pair.Value,
					depth:     p.depth,
				})
			}
		case jsonvalue.KindList:
			elems := p.v.Items()
			for i := len(elems) - 1; i >= 0; i-- {
				switch elems[i].Kind() {
				case jsonvalue.KindObject, jsonvalue.KindList:
					work = append(work, pending{elems[i], p.depth + 1})
				}
			}
		}
	}
	return out, nil
}

// describe adds the summary node and tooltip for a description value.
func (b *Builder) describe(doc *graph.Document, parent string, hasParent bool, value jsonvalue.Value) {
	text, ok := value.Str()
	if !ok {
		return
	}
	label, ok := Summarize(text, b.policy.SummaryWords)
	if !ok {
		return
	}

	// The tooltip goes in first: renderers look it up by node label.
	doc.SetTooltip(label, text)
	doc.AddNode(label, b.policy.Style)
	if hasParent {
		doc.AddEdge(parent, label, b.policy.Curve)
	}
}

// leaf draws a child of a non-expanded key: its name becomes a node, its
// description a summary. Anything else is not walked.
func (b *Builder) leaf(doc *graph.Document, it item) {
	switch it.key {
	case NameKey:
		label := nameLabel(it.value)
		if label == "" {
			return
		}
		doc.AddNode(label, b.policy.Style)
		if label != it.parent {
			doc.AddEdge(it.parent, label, b.policy.Curve)
		}
	case DescriptionKey:
		b.describe(doc, it.parent, it.hasParent, it.value)
	}
}

// nameLabel renders a name value. Actors and software carry a list of
// aliases, which are joined with ", ".
func nameLabel(v jsonvalue.Value) string {
	if v.Kind() != jsonvalue.KindList {
		return v.Text()
	}
	var names []string
	for _, el := range v.Items() {
		if t := el.Text(); t != "" {
			names = append(names, t)
		}
	}
	return strings.Join(names, ", ")
}

// Summarize builds the short label for a description: newlines are removed,
// the first n whitespace-separated words are joined by single spaces and
// "..." is appended. ok is false when the text has no words.
func Summarize(text string, n int) (label string, ok bool) {
	if n <= 0 {
		n = DefaultSummaryWords
	}
	clean := strings.NewReplacer("\r", "", "\n", "").Replace(text)
	words := strings.Fields(clean)
	if len(words) == 0 {
		return "", false
	}
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ") + summarySuffix, true
}

func pushReversed(stack, items []item) []item {
	for i := len(items) - 1; i >= 0; i-- {
		stack = append(stack, items[i])
	}
	return stack
}
