package builder

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msalah0e/attackgraph/internal/graph"
	"github.com/msalah0e/attackgraph/internal/jsonvalue"
)

func build(t *testing.T, p Policy, input string) *graph.Document {
	t.Helper()
	doc, err := New(p).Build(jsonvalue.MustParse(input))
	require.NoError(t, err)
	require.NoError(t, doc.Validate())
	return doc
}

func edgePairs(doc *graph.Document) [][2]string {
	var out [][2]string
	for _, e := range doc.Edges() {
		out = append(out, [2]string{e.From, e.To})
	}
	return out
}

func TestBuildTechniqueScenario(t *testing.T) {
	doc := build(t, DefaultPolicy(), `{"Techniques": {"T1" : {"name": "Phishing", "description": "Attackers send email to victim with malicious payload and lure"}}}`)

	summary := "Attackers send email to victim with malicious payload..."

	if diff := cmp.Diff([]string{"Techniques", "T1", summary}, doc.Labels()); diff != "" {
		t.Errorf("nodes mismatch (-want +got):\n%s", diff)
	}
	want := [][2]string{{"Techniques", "T1"}, {"T1", summary}}
	if diff := cmp.Diff(want, edgePairs(doc)); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}

	text, ok := doc.Tooltip(summary)
	require.True(t, ok)
	assert.Equal(t, "Attackers send email to victim with malicious payload and lure", text)

	assert.False(t, doc.HasNode("name"))
	assert.False(t, doc.HasNode("description"))
	assert.False(t, doc.HasNode("Phishing"), "name values are not drawn when flattening")
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		want  string
		valid bool
	}{
		{"ten words", "A B C D E F G H I J", "A B C D E F G H...", true},
		{"short", "Too short", "Too short...", true},
		{"newlines removed", "Line one\nline\r\ntwo", "Line onelinetwo...", true},
		{"collapses whitespace", "  a \t b   c ", "a b c...", true},
		{"empty", "", "", false},
		{"blank", " \n\t", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Summarize(tt.text, DefaultSummaryWords)
			assert.Equal(t, tt.valid, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSummarizeCustomWidth(t *testing.T) {
	got, ok := Summarize("one two three four", 2)
	require.True(t, ok)
	assert.Equal(t, "one two...", got)
}

func TestDescriptionTooltipKeepsRawText(t *testing.T) {
	doc := build(t, DefaultPolicy(), `{"T1": {"description": "A B C D E F G H I J\nK"}}`)

	text, ok := doc.Tooltip("A B C D E F G H...")
	require.True(t, ok)
	assert.Equal(t, "A B C D E F G H I J\nK", text)

	n, _ := doc.Node("A B C D E F G H...")
	assert.Equal(t, text, n.Tooltip)
}

func TestTopLevelNameOnly(t *testing.T) {
	doc := build(t, DefaultPolicy(), `{"name": "Phishing"}`)

	assert.True(t, doc.IsEmpty())
	assert.Equal(t, graph.Stats{}, doc.GetStats())
}

func TestTopLevelDescriptionHasNoEdge(t *testing.T) {
	doc := build(t, DefaultPolicy(), `{"description": "free text at the root"}`)

	assert.Equal(t, []string{"free text at the root..."}, doc.Labels())
	assert.Empty(t, doc.Edges())
}

func TestNonStringDescriptionIsIgnored(t *testing.T) {
	doc := build(t, DefaultPolicy(), `{"T1": {"description": 42}, "T2": {"description": ""}}`)

	assert.Equal(t, []string{"T1", "T2"}, doc.Labels())
	assert.Empty(t, doc.Tooltips())
}

func TestSuppressedKeysNeverBecomeNodes(t *testing.T) {
	doc := build(t, DefaultPolicy(), `{
		"Subtechniques": {
			"T1566.001": {"name": "Spearphishing Attachment", "subtechnique_of": "T1566"}
		}
	}`)

	for _, k := range DefaultSuppressedKeys {
		assert.False(t, doc.HasNode(k), "suppressed key %q became a node", k)
	}
	assert.Equal(t, []string{"Subtechniques", "T1566.001"}, doc.Labels())
}

func TestSuppressedKeyStillWalksChildren(t *testing.T) {
	p := DefaultPolicy()
	p.SuppressedKeys = append(p.SuppressedKeys, "Matrices")

	doc := build(t, p, `{"G0016": {"Matrices": {"Enterprise": {}}}}`)

	assert.False(t, doc.HasNode("Matrices"))
	assert.True(t, doc.HasNode("Enterprise"))
	assert.True(t, doc.HasEdge("Matrices", "Enterprise"))
}

func TestSuppressedParentRendersInPage(t *testing.T) {
	p := DefaultPolicy()
	p.SuppressedKeys = append(p.SuppressedKeys, "Matrices")
	doc := build(t, p, `{"Actors": {"G0016": {"Matrices": {"Enterprise": {}}}}}`)

	var js bytes.Buffer
	require.NoError(t, graph.WriteJSON(&js, doc))
	var payload graph.Payload
	require.NoError(t, json.Unmarshal(js.Bytes(), &payload))

	var labels []string
	for _, n := range payload.Nodes {
		labels = append(labels, n.Label)
	}
	assert.NotContains(t, labels, "Matrices")
	var sawEdge bool
	for _, e := range payload.Edges {
		sawEdge = sawEdge || (e.From == "Matrices" && e.To == "Enterprise")
	}
	assert.True(t, sawEdge, "edge from the suppressed parent is kept")

	var page bytes.Buffer
	require.NoError(t, graph.WriteHTML(&page, doc, graph.PageOptions{}))
	assert.Contains(t, page.String(), "if (!g.hasNode(label)) { g.setNode(label, { label: label, style: STYLE }); }")
	assert.Contains(t, page.String(), "const STYLE = ")
	assert.Contains(t, page.String(), graph.DefaultStyle)
}

func TestSharedKeysMerge(t *testing.T) {
	doc := build(t, DefaultPolicy(), `{
		"G0016": {"Techniques": {"T1566": {}}},
		"G0007": {"Techniques": {"T1566": {}, "T1059": {}}}
	}`)

	assert.Equal(t, []string{"G0016", "Techniques", "T1566", "G0007", "T1059"}, doc.Labels())
	assert.Equal(t, [][2]string{
		{"G0016", "Techniques"},
		{"Techniques", "T1566"},
		{"G0007", "Techniques"},
		{"Techniques", "T1059"},
	}, edgePairs(doc))
}

func TestBuildIsDeterministic(t *testing.T) {
	input := `{"Actors": {"G1": {"description": "x y z", "Tools": {"S1": {}}}}, "Tactics": {"TA1": {}}}`
	b := New(DefaultPolicy())

	first, err := b.Build(jsonvalue.MustParse(input))
	require.NoError(t, err)
	second, err := b.Build(jsonvalue.MustParse(input))
	require.NoError(t, err)

	if diff := cmp.Diff(first.Nodes(), second.Nodes()); diff != "" {
		t.Errorf("nodes differ between builds:\n%s", diff)
	}
	if diff := cmp.Diff(first.Edges(), second.Edges()); diff != "" {
		t.Errorf("edges differ between builds:\n%s", diff)
	}
}

func TestListsAreTransparent(t *testing.T) {
	doc := build(t, DefaultPolicy(), `{"Tools": [{"S0002": {}}, "loose", 7, [{"S0039": {}}]]}`)

	assert.Equal(t, []string{"Tools", "S0002", "S0039"}, doc.Labels())
	assert.True(t, doc.HasEdge("Tools", "S0002"))
	assert.True(t, doc.HasEdge("Tools", "S0039"))
}

func TestScalarValuesAreNotNodes(t *testing.T) {
	doc := build(t, DefaultPolicy(), `{"T1": {"platform": "Windows", "count": 3, "revoked": false, "x": null}}`)

	assert.Equal(t, []string{"T1", "platform", "count", "revoked", "x"}, doc.Labels())
	assert.False(t, doc.HasNode("Windows"))
}

func TestBuildRejectsNonObject(t *testing.T) {
	for _, input := range []string{`[]`, `"text"`, `42`, `null`, `true`} {
		t.Run(input, func(t *testing.T) {
			doc, err := New(DefaultPolicy()).Build(jsonvalue.MustParse(input))
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Nil(t, doc)
		})
	}
}

func TestBuildEmptyObject(t *testing.T) {
	doc := build(t, DefaultPolicy(), `{}`)
	assert.True(t, doc.IsEmpty())
}

func TestBuildTooDeep(t *testing.T) {
	p := DefaultPolicy()
	p.MaxDepth = 5

	ok := `{"a":{"b":{"c":{"d":{"e":1}}}}}`
	_, err := New(p).Build(jsonvalue.MustParse(ok))
	require.NoError(t, err)

	deep := `{"a":{"b":{"c":{"d":{"e":{"f":1}}}}}}`
	doc, err := New(p).Build(jsonvalue.MustParse(deep))
	assert.ErrorIs(t, err, ErrTooDeep)
	assert.Nil(t, doc)
}

func TestBuildDeepInputDoesNotOverflow(t *testing.T) {
	const depth = 5000

	var sb strings.Builder
	for i := 0; i < depth; i++ {
		sb.WriteString(`{"k":`)
	}
	sb.WriteString("1")
	sb.WriteString(strings.Repeat("}", depth))

	v, err := jsonvalue.Parse([]byte(sb.String()), depth+1)
	require.NoError(t, err)

	p := DefaultPolicy()
	p.MaxDepth = depth + 1
	doc, err := New(p).Build(v)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.GetStats().Nodes, "a repeated key is a single node")
	assert.True(t, doc.HasEdge("k", "k"))
}

func TestCategoryPolicyDrawsLeaves(t *testing.T) {
	doc := build(t, CategoryPolicy(), `{
		"Enterprise": {
			"Techniques": {
				"T1566": {
					"name": "Phishing",
					"description": "Adversaries may send phishing messages to gain access",
					"Mitigations": {"M1017": {}}
				}
			}
		}
	}`)

	assert.True(t, doc.HasEdge("Enterprise", "Techniques"), "top-level keys always expand")
	assert.True(t, doc.HasEdge("Techniques", "T1566"))
	assert.True(t, doc.HasEdge("T1566", "Phishing"))
	assert.True(t, doc.HasEdge("T1566", "Adversaries may send phishing messages to gain access..."))
	assert.False(t, doc.HasNode("Mitigations"), "children of a leaf are not walked")
	assert.False(t, doc.HasNode("M1017"))
}

func TestCategoryPolicyJoinsAliases(t *testing.T) {
	doc := build(t, CategoryPolicy(), `{"Actors": {"G0007": {"name": ["APT28", "Fancy Bear", 3]}}}`)

	assert.True(t, doc.HasNode("APT28, Fancy Bear, 3"))
	assert.True(t, doc.HasEdge("G0007", "APT28, Fancy Bear, 3"))
}

func TestCategoryPolicyNoSelfLoop(t *testing.T) {
	doc := build(t, CategoryPolicy(), `{"Tools": {"Mimikatz": {"name": "Mimikatz"}}}`)

	assert.Equal(t, []string{"Tools", "Mimikatz"}, doc.Labels())
	assert.True(t, doc.HasEdge("Tools", "Mimikatz"))
	assert.False(t, doc.HasEdge("Mimikatz", "Mimikatz"))
}

func TestPolicyDefaults(t *testing.T) {
	b := New(Policy{})
	p := b.Policy()

	assert.Equal(t, DefaultMaxDepth, p.MaxDepth)
	assert.Equal(t, DefaultSummaryWords, p.SummaryWords)
	assert.Equal(t, graph.DefaultStyle, p.Style)
	assert.Equal(t, graph.DefaultCurve, p.Curve)
	assert.Nil(t, p.SuppressedKeys, "zero policy suppresses nothing")
}

func TestCustomStyleAndCurve(t *testing.T) {
	p := DefaultPolicy()
	p.Style = "fill: #ffaaaa"
	p.Curve = "linear"

	doc := build(t, p, `{"a": {"b": {}}}`)

	n, _ := doc.Node("b")
	assert.Equal(t, "fill: #ffaaaa", n.Style)
	assert.Equal(t, "linear", doc.Edges()[0].Curve)
}
