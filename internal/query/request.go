// Package query validates graph requests and renders them through the
// ATT&CK API and the graph builder.
package query

import (
	"fmt"
	"net/url"
	"strings"
)

// Mode selects the API endpoint a request is answered from.
type Mode string

const (
	ModeExplore      Mode = "explore"
	ModeTTPOverlap   Mode = "ttpoverlap"
	ModeActorOverlap Mode = "actoroverlap"
	ModeSearch       Mode = "search"
)

// Modes lists the supported modes in help order.
var Modes = []Mode{ModeExplore, ModeTTPOverlap, ModeActorOverlap, ModeSearch}

var modeAliases = map[string]Mode{
	"explore":       ModeExplore,
	"ttpoverlap":    ModeTTPOverlap,
	"ttp-overlap":   ModeTTPOverlap,
	"actoroverlap":  ModeActorOverlap,
	"actor-overlap": ModeActorOverlap,
	"search":        ModeSearch,
}

// Matrices are the ATT&CK matrix names the API serves.
var Matrices = []string{"Enterprise", "ICS", "PRE", "Mobile"}

// ParseMode accepts a mode name case-insensitively, including the dashed
// spellings of the overlap modes.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", &UsageError{Msg: "missing mode"}
	}
	m, ok := modeAliases[s]
	if !ok {
		return "", &UsageError{Msg: fmt.Sprintf("unknown mode %q", s)}
	}
	return m, nil
}

// Request is one validated graph query.
type Request struct {
	Mode Mode

	// explore
	Matrix   string
	Category string
	ID       string

	TTPs   []string
	Actors []string

	// search
	Params   []string
	Matrices []string
}

// FromValues reads a request from front-end query parameters. The mode comes
// from "mode" or the legacy "q"; actor overlap also accepts the legacy
// actor1/actor2 pair. The result is validated.
func FromValues(v url.Values) (Request, error) {
	raw := v.Get("mode")
	if raw == "" {
		raw = v.Get("q")
	}
	mode, err := ParseMode(raw)
	if err != nil {
		return Request{}, err
	}

	r := Request{Mode: mode}
	switch mode {
	case ModeExplore:
		r.Matrix = strings.TrimSpace(v.Get("matrix"))
		r.Category = strings.TrimSpace(v.Get("cat"))
		r.ID = strings.TrimSpace(v.Get("id"))
	case ModeTTPOverlap:
		r.TTPs = SplitList(v.Get("ttp"))
	case ModeActorOverlap:
		r.Actors = SplitList(v.Get("actor"))
		if len(r.Actors) == 0 {
			r.Actors = SplitList(strings.Join([]string{v.Get("actor1"), v.Get("actor2")}, ","))
		}
	case ModeSearch:
		if p := strings.TrimSpace(v.Get("params")); p != "" {
			r.Params = []string{p}
		}
		r.Matrices = SplitList(v.Get("matrix"))
	}

	if err := r.Validate(); err != nil {
		return Request{}, err
	}
	return r, nil
}

// Validate checks the parameters the mode requires.
func (r Request) Validate() error {
	switch r.Mode {
	case ModeExplore:
		if r.Matrix == "" {
			return &UsageError{Mode: r.Mode, Msg: "explore needs a matrix"}
		}
		if r.ID != "" && r.Category == "" {
			return &UsageError{Mode: r.Mode, Msg: "an id needs a category"}
		}
		for _, seg := range []string{r.Matrix, r.Category, r.ID} {
			if strings.Contains(seg, "/") || seg == "." || seg == ".." {
				return &UsageError{Mode: r.Mode, Msg: fmt.Sprintf("explore path segment %q is not a single name", seg)}
			}
		}
	case ModeTTPOverlap:
		if len(r.TTPs) < 2 {
			return &UsageError{Mode: r.Mode, Msg: "choose at least two TTPs"}
		}
	case ModeActorOverlap:
		if len(r.Actors) < 2 {
			return &UsageError{Mode: r.Mode, Msg: "choose at least two actors"}
		}
	case ModeSearch:
		if len(r.Params) == 0 {
			return &UsageError{Mode: r.Mode, Msg: "search needs params"}
		}
	case "":
		return &UsageError{Msg: "missing mode"}
	default:
		return &UsageError{Msg: fmt.Sprintf("unknown mode %q", r.Mode)}
	}
	return nil
}

// String describes the request for logs and messages.
func (r Request) String() string {
	switch r.Mode {
	case ModeExplore:
		parts := []string{r.Matrix}
		if r.Category != "" {
			parts = append(parts, r.Category)
		}
		if r.ID != "" {
			parts = append(parts, r.ID)
		}
		return "explore " + strings.Join(parts, "/")
	case ModeTTPOverlap:
		return "ttpoverlap " + strings.Join(r.TTPs, ",")
	case ModeActorOverlap:
		return "actoroverlap " + strings.Join(r.Actors, ",")
	case ModeSearch:
		s := "search " + strings.Join(r.Params, " ")
		if len(r.Matrices) > 0 {
			s += " in " + strings.Join(r.Matrices, ",")
		}
		return s
	}
	return string(r.Mode)
}

// SplitList splits a comma-joined list, trimming blanks and dropping empty
// entries.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
