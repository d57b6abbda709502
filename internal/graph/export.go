package graph

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// Formats accepted by Write.
const (
	FormatHTML = "html"
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatDOT  = "dot"
)

// Formats lists every supported output format.
var Formats = []string{FormatHTML, FormatJSON, FormatYAML, FormatDOT}

// Payload is the declarative node/edge list a renderer consumes.
type Payload struct {
	RankDir  string                                 `json:"rankdir" yaml:"rankdir"`
	Nodes    []Node                                 `json:"nodes" yaml:"nodes"`
	Edges    []Edge                                 `json:"edges" yaml:"edges"`
	Tooltips *orderedmap.OrderedMap[string, string] `json:"tooltips" yaml:"tooltips"`
}

// Payload snapshots the document for serialization, ranked left to right.
func (d *Document) Payload() Payload {
	tips := orderedmap.New[string, string](orderedmap.WithCapacity[string, string](d.tooltips.Len()))
	for pair := d.tooltips.Oldest(); pair != nil; pair = pair.Next() {
		tips.Set(pair.Key, pair.Value)
	}
	return Payload{
		RankDir:  "LR",
		Nodes:    d.Nodes(),
		Edges:    d.Edges(),
		Tooltips: tips,
	}
}

// PageOptions controls the standalone HTML page.
type PageOptions struct {
	Title    string
	D3URL    string
	DagreURL string
}

// DefaultPageOptions points at the public d3 v5 and dagre-d3 builds.
func DefaultPageOptions() PageOptions {
	return PageOptions{
		Title:    "MITRE ATT&CK Grapher",
		D3URL:    "https://d3js.org/d3.v5.min.js",
		DagreURL: "https://cdn.jsdelivr.net/npm/dagre-d3@0.6.4/dist/dagre-d3.min.js",
	}
}

// ContentType returns the MIME type for format.
func ContentType(format string) string {
	switch format {
	case FormatJSON:
		return "application/json"
	case FormatYAML:
		return "application/yaml"
	case FormatDOT:
		return "text/vnd.graphviz; charset=utf-8"
	default:
		return "text/html; charset=utf-8"
	}
}

// ValidFormat reports whether format is supported.
func ValidFormat(format string) bool {
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}

// Write serializes d in format.
func Write(w io.Writer, d *Document, format string, opts PageOptions) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, d)
	case FormatYAML:
		return WriteYAML(w, d)
	case FormatDOT:
		return WriteDOT(w, d)
	case FormatHTML, "":
		return WriteHTML(w, d, opts)
	}
	return fmt.Errorf("unknown format %q (use %s)", format, strings.Join(Formats, ", "))
}

// WriteJSON writes the renderer payload as indented JSON.
func WriteJSON(w io.Writer, d *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d.Payload())
}

// WriteYAML writes the renderer payload as YAML.
func WriteYAML(w io.Writer, d *Document) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d.Payload()); err != nil {
		return err
	}
	return enc.Close()
}

// WriteDOT writes the document in Graphviz DOT format. Tooltip text goes into
// the node tooltip attribute.
func WriteDOT(w io.Writer, d *Document) error {
	var b strings.Builder
	b.WriteString("digraph attack {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=\"#aaffaa\"];\n\n")

	for _, n := range d.Nodes() {
		if n.Tooltip != "" {
			fmt.Fprintf(&b, "  %s [tooltip=%s];\n", dotQuote(n.Label), dotQuote(n.Tooltip))
		} else {
			fmt.Fprintf(&b, "  %s;\n", dotQuote(n.Label))
		}
	}

	b.WriteString("\n")
	for _, e := range d.Edges() {
		fmt.Fprintf(&b, "  %s -> %s;\n", dotQuote(e.From), dotQuote(e.To))
	}

	b.WriteString("}\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// dotQuote returns s as a Graphviz quoted ID. Only the quote and backslash
// are escaped. Newlines become the \n line break Graphviz understands and
// carriage returns are dropped.
func dotQuote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// WriteHTML writes a self-contained dagre-d3 page. Graph data is embedded as
// a JSON literal, so labels never reach the page as script text.
func WriteHTML(w io.Writer, d *Document, opts PageOptions) error {
	def := DefaultPageOptions()
	if opts.Title == "" {
		opts.Title = def.Title
	}
	if opts.D3URL == "" {
		opts.D3URL = def.D3URL
	}
	if opts.DagreURL == "" {
		opts.DagreURL = def.DagreURL
	}

	data, err := json.Marshal(d.Payload())
	if err != nil {
		return err
	}

	return pageTmpl.Execute(w, struct {
		PageOptions
		Data  template.JS
		Style string
	}{opts, template.JS(data), DefaultStyle})
}

var pageTmpl = template.Must(template.New("page").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<script src="{{.D3URL}}" charset="utf-8"></script>
<script src="{{.DagreURL}}"></script>
<style>
text {
  font-weight: 300;
  font-family: "Helvetica Neue", Helvetica, Arial, sans-serif;
  font-size: 14px;
}
.node rect {
  stroke: #333;
  fill: #fff;
  stroke-width: 1.5px;
}
.edgePath path.path {
  stroke: #333;
  fill: none;
  stroke-width: 1.5px;
}
.arrowhead {
  stroke: blue;
  fill: blue;
  stroke-width: 1.5px;
}
#tooltip {
  position: fixed;
  display: none;
  max-width: 420px;
  padding: 8px 12px;
  background: #fffff0;
  border: 1px solid #333;
  border-radius: 4px;
  font: 13px "Helvetica Neue", Helvetica, Arial, sans-serif;
  pointer-events: none;
}
</style>
</head>
<body>
<div id="tooltip"></div>
<svg id="svg" width="100%" height="100%"><g></g></svg>
<script>
"use strict";
const GRAPH = {{.Data}};
const STYLE = {{.Style}};

const g = new dagreD3.graphlib.Graph().setGraph({});
g.graph().rankDir = GRAPH.rankdir;
GRAPH.nodes.forEach(function (n) {
  g.setNode(n.label, { label: n.label, style: n.style });
});
GRAPH.edges.forEach(function (e) {
  [e.from, e.to].forEach(function (label) {
    if (!g.hasNode(label)) { g.setNode(label, { label: label, style: STYLE }); }
  });
  g.setEdge(e.from, e.to, { curve: e.curve === "basis" ? d3.curveBasis : d3.curveLinear });
});

const svg = d3.select("svg"), inner = svg.select("g");
const zoom = d3.zoom().on("zoom", function () {
  inner.attr("transform", d3.event.transform);
});
svg.call(zoom);

const render = new dagreD3.render();
render(inner, g);

const tip = document.getElementById("tooltip");
inner.selectAll("g.node")
  .on("mousemove", function (label) {
    if (!Object.prototype.hasOwnProperty.call(GRAPH.tooltips, label)) { return; }
    const text = GRAPH.tooltips[label];
    if (!text) { return; }
    tip.textContent = text;
    tip.style.display = "block";
    tip.style.left = (d3.event.clientX + 16) + "px";
    tip.style.top = (d3.event.clientY + 16) + "px";
  })
  .on("mouseout", function () { tip.style.display = "none"; });

const width = svg.node().getBoundingClientRect().width;
const xCenterOffset = (width - g.graph().width) / 2;
svg.call(zoom.transform, d3.zoomIdentity.translate(Math.max(xCenterOffset, 20), 20));
svg.attr("height", g.graph().height + 40);
</script>
</body>
</html>
`))
