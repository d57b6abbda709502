package query

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResult matches every EmptyResultError.
var ErrEmptyResult = errors.New("empty result set")

// UsageError reports a request that is missing what its mode needs. No API
// call is made for it.
type UsageError struct {
	Mode Mode
	Msg  string
}

func (e *UsageError) Error() string {
	return "incorrect usage: " + e.Msg
}

// Usage returns the parameter synopsis for mode, or for every mode when mode
// is empty.
func Usage(mode Mode) string {
	lines := map[Mode]string{
		ModeExplore:      "mode=explore&matrix=M[&cat=C[&id=ID]]",
		ModeTTPOverlap:   "mode=ttpoverlap&ttp=T1,T2[,...]",
		ModeActorOverlap: "mode=actoroverlap&actor=A1,A2[,...]",
		ModeSearch:       "mode=search&params=TEXT[&matrix=M1,M2]",
	}
	if l, ok := lines[mode]; ok {
		return "usage: " + l
	}
	var b strings.Builder
	b.WriteString("usage:")
	for _, m := range Modes {
		b.WriteString("\n  " + lines[m])
	}
	return b.String()
}

// EmptyResultError is returned when the API answered but had nothing to
// draw. Body is the raw response for diagnostics.
type EmptyResultError struct {
	Request Request
	Body    []byte
}

func (e *EmptyResultError) Error() string {
	r := e.Request
	if r.Mode == ModeExplore && r.ID != "" {
		return fmt.Sprintf("empty result set: there is no %s in the %s category in the %s matrix", r.ID, r.Category, r.Matrix)
	}
	return fmt.Sprintf("empty result set for %s", r)
}

func (e *EmptyResultError) Is(target error) bool {
	return target == ErrEmptyResult
}
