package builder

import (
	"github.com/msalah0e/attackgraph/internal/graph"
)

// DefaultSuppressedKeys never become nodes of their own.
var DefaultSuppressedKeys = []string{"name", "description", "subtechnique_of"}

// Categories are the ATT&CK entity groups the API nests results under. They
// form the usual allow-list for the expand-only policy.
var Categories = []string{"Actors", "Malwares", "Mitigations", "Subtechniques", "Tactics", "Techniques", "Tools"}

const (
	// DescriptionKey holds free text that is summarized into a tooltip node.
	DescriptionKey = "description"

	// NameKey holds an entity's display name, used by leaf rendering.
	NameKey = "name"

	DefaultMaxDepth     = 64
	DefaultSummaryWords = 8

	summarySuffix = "..."
)

// Policy decides which keys become nodes and how deep the walk may go.
type Policy struct {
	// SuppressedKeys are skipped as nodes; their values are still walked.
	SuppressedKeys []string

	// ExpandOnly, when non-nil, limits full expansion to children of these
	// keys. Children of any other key are drawn as leaves from their name and
	// description. Nil expands everything.
	ExpandOnly []string

	// MaxDepth bounds nesting; deeper input fails with ErrTooDeep.
	MaxDepth int

	// SummaryWords is how many words of a description go into its label.
	SummaryWords int

	Style string
	Curve string
}

// DefaultPolicy flattens everything and suppresses name, description and
// subtechnique_of.
func DefaultPolicy() Policy {
	return Policy{
		SuppressedKeys: append([]string(nil), DefaultSuppressedKeys...),
		MaxDepth:       DefaultMaxDepth,
		SummaryWords:   DefaultSummaryWords,
		Style:          graph.DefaultStyle,
		Curve:          graph.DefaultCurve,
	}
}

// CategoryPolicy is the allow-list variant: only ATT&CK categories expand.
func CategoryPolicy() Policy {
	p := DefaultPolicy()
	p.ExpandOnly = append([]string(nil), Categories...)
	return p
}

func (p Policy) withDefaults() Policy {
	if p.MaxDepth <= 0 {
		p.MaxDepth = DefaultMaxDepth
	}
	if p.SummaryWords <= 0 {
		p.SummaryWords = DefaultSummaryWords
	}
	if p.Style == "" {
		p.Style = graph.DefaultStyle
	}
	if p.Curve == "" {
		p.Curve = graph.DefaultCurve
	}
	return p
}

func toSet(keys []string) map[string]bool {
	if keys == nil {
		return nil
	}
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}
