package query

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/msalah0e/attackgraph/internal/attackapi"
	"github.com/msalah0e/attackgraph/internal/builder"
	"github.com/msalah0e/attackgraph/internal/jsonvalue"
	"github.com/msalah0e/attackgraph/internal/metrics"
)

type call struct {
	op   string
	args []string
}

type fakeAPI struct {
	body  string
	err   error
	calls []call
}

func (f *fakeAPI) answer(op string, args ...string) (*attackapi.Response, error) {
	f.calls = append(f.calls, call{op: op, args: args})
	if f.err != nil {
		return nil, f.err
	}
	v, err := jsonvalue.Parse([]byte(f.body), 0)
	if err != nil {
		return nil, err
	}
	return &attackapi.Response{URL: "fake://" + op, Body: []byte(f.body), Value: v}, nil
}

func (f *fakeAPI) Explore(_ context.Context, matrix, category, id string) (*attackapi.Response, error) {
	return f.answer("explore", matrix, category, id)
}

func (f *fakeAPI) TTPOverlap(_ context.Context, ttps []string) (*attackapi.Response, error) {
	return f.answer("ttpoverlap", ttps...)
}

func (f *fakeAPI) ActorOverlap(_ context.Context, actors []string) (*attackapi.Response, error) {
	return f.answer("actoroverlap", actors...)
}

func (f *fakeAPI) Search(_ context.Context, params, matrices []string) (*attackapi.Response, error) {
	return f.answer("search", append(append([]string(nil), params...), matrices...)...)
}

func newService(api API) *Service {
	return NewService(api, builder.New(builder.DefaultPolicy()), zap.NewNop())
}

func TestParseMode(t *testing.T) {
	tests := map[string]Mode{
		"explore":       ModeExplore,
		"EXPLORE":       ModeExplore,
		" ttpoverlap ":  ModeTTPOverlap,
		"ttp-overlap":   ModeTTPOverlap,
		"actor-overlap": ModeActorOverlap,
		"actoroverlap":  ModeActorOverlap,
		"Search":        ModeSearch,
	}
	for in, want := range tests {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "overlap", "graph"} {
		_, err := ParseMode(bad)
		var ue *UsageError
		assert.ErrorAs(t, err, &ue, bad)
	}
}

func TestFromValues(t *testing.T) {
	tests := []struct {
		query string
		want  Request
	}{
		{
			"mode=explore&matrix=Enterprise&cat=Techniques&id=T1566",
			Request{Mode: ModeExplore, Matrix: "Enterprise", Category: "Techniques", ID: "T1566"},
		},
		{
			"q=explore&matrix=ICS",
			Request{Mode: ModeExplore, Matrix: "ICS"},
		},
		{
			"mode=ttpoverlap&ttp=T1566,+T1059,,",
			Request{Mode: ModeTTPOverlap, TTPs: []string{"T1566", "T1059"}},
		},
		{
			"mode=actoroverlap&actor=G0016,G0007,G0032",
			Request{Mode: ModeActorOverlap, Actors: []string{"G0016", "G0007", "G0032"}},
		},
		{
			"mode=actoroverlap&actor1=G0016&actor2=G0007",
			Request{Mode: ModeActorOverlap, Actors: []string{"G0016", "G0007"}},
		},
		{
			"mode=search&params=spear+phishing&matrix=Enterprise,Mobile",
			Request{Mode: ModeSearch, Params: []string{"spear phishing"}, Matrices: []string{"Enterprise", "Mobile"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			v, err := url.ParseQuery(tt.query)
			require.NoError(t, err)
			got, err := FromValues(v)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromValuesUsageErrors(t *testing.T) {
	for _, q := range []string{
		"",
		"mode=",
		"mode=bogus",
		"mode=explore",
		"mode=explore&matrix=Enterprise&id=T1566",
		"mode=explore&matrix=Enterprise&cat=Techniques&id=T1/../../../actoroverlap",
		"mode=explore&matrix=..&cat=Techniques",
		"mode=explore&matrix=Enterprise/Techniques",
		"mode=ttpoverlap&ttp=T1566",
		"mode=ttpoverlap&ttp=,,",
		"mode=actoroverlap&actor=G0016",
		"mode=actoroverlap&actor1=G0016",
		"mode=search",
		"mode=search&params=+",
	} {
		t.Run(q, func(t *testing.T) {
			v, _ := url.ParseQuery(q)
			_, err := FromValues(v)
			var ue *UsageError
			require.ErrorAs(t, err, &ue)
			assert.True(t, strings.HasPrefix(err.Error(), "incorrect usage"))
		})
	}
}

func TestUsage(t *testing.T) {
	assert.Contains(t, Usage(ModeTTPOverlap), "ttp=T1,T2")
	all := Usage("")
	for _, m := range Modes {
		assert.Contains(t, all, "mode="+string(m))
	}
}

func TestSingleActorMakesNoUpstreamCall(t *testing.T) {
	api := &fakeAPI{body: `{"Techniques": {}}`}
	svc := newService(api)

	_, err := svc.Render(context.Background(), Request{Mode: ModeActorOverlap, Actors: []string{"G0016"}})

	var ue *UsageError
	require.ErrorAs(t, err, &ue)
	assert.Empty(t, api.calls)
}

func TestTwoActorsOneParamEach(t *testing.T) {
	api := &fakeAPI{body: `{"Enterprise": {"Techniques": {"T1566": {}}}}`}
	svc := newService(api)

	doc, err := svc.Render(context.Background(), Request{Mode: ModeActorOverlap, Actors: []string{"G0016", "G0007"}})
	require.NoError(t, err)

	require.Len(t, api.calls, 1)
	assert.Equal(t, call{op: "actoroverlap", args: []string{"G0016", "G0007"}}, api.calls[0])
	assert.True(t, doc.HasEdge("Techniques", "T1566"))
}

func TestRenderDispatch(t *testing.T) {
	tests := []struct {
		req  Request
		want call
	}{
		{Request{Mode: ModeExplore, Matrix: "Enterprise", Category: "Tools"}, call{"explore", []string{"Enterprise", "Tools", ""}}},
		{Request{Mode: ModeTTPOverlap, TTPs: []string{"T1", "T2"}}, call{"ttpoverlap", []string{"T1", "T2"}}},
		{Request{Mode: ModeSearch, Params: []string{"x"}, Matrices: []string{"ICS"}}, call{"search", []string{"x", "ICS"}}},
	}

	for _, tt := range tests {
		t.Run(string(tt.req.Mode), func(t *testing.T) {
			api := &fakeAPI{body: `{"Enterprise": {"Tools": {"S0002": {}}}}`}
			_, err := newService(api).Render(context.Background(), tt.req)
			require.NoError(t, err)
			require.Len(t, api.calls, 1)
			assert.Equal(t, tt.want, api.calls[0])
		})
	}
}

func TestRenderScenario(t *testing.T) {
	api := &fakeAPI{body: `{"Techniques": {"T1" : {"name": "Phishing", "description": "Attackers send email to victim with malicious payload and lure"}}}`}

	doc, err := newService(api).Render(context.Background(), Request{Mode: ModeSearch, Params: []string{"phishing"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"Techniques", "T1", "Attackers send email to victim with malicious payload..."}, doc.Labels())
}

func TestRenderEmptyResults(t *testing.T) {
	req := Request{Mode: ModeExplore, Matrix: "Enterprise", Category: "Techniques", ID: "T9999"}

	for _, body := range []string{`null`, `"null"`, `{}`, ``, `[1, 2]`, `{"name": "x"}`} {
		t.Run(body, func(t *testing.T) {
			_, err := newService(&fakeAPI{body: body}).Render(context.Background(), req)
			require.ErrorIs(t, err, ErrEmptyResult)

			var ee *EmptyResultError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, body, string(ee.Body))
			assert.Equal(t, "empty result set: there is no T9999 in the Techniques category in the Enterprise matrix", err.Error())
			assert.Equal(t, metrics.OutcomeEmpty, Outcome(err))
		})
	}
}

func TestRenderUpstreamError(t *testing.T) {
	upstream := &attackapi.UpstreamError{Op: "search", URL: "fake://search", Err: errors.New("connection refused")}
	api := &fakeAPI{err: upstream}

	_, err := newService(api).Render(context.Background(), Request{Mode: ModeSearch, Params: []string{"x"}})
	assert.ErrorIs(t, err, upstream)
	assert.Equal(t, metrics.OutcomeUpstream, Outcome(err))
}

func TestRenderTooDeep(t *testing.T) {
	body := strings.Repeat(`{"k":`, 100) + "1" + strings.Repeat("}", 100)
	api := &fakeAPI{body: body}

	p := builder.DefaultPolicy()
	p.MaxDepth = 10
	svc := NewService(api, builder.New(p), nil)

	doc, err := svc.Render(context.Background(), Request{Mode: ModeSearch, Params: []string{"x"}})
	assert.Nil(t, doc)
	assert.ErrorIs(t, err, builder.ErrTooDeep)
	assert.Equal(t, metrics.OutcomeInternal, Outcome(err))
}

func TestRenderLogsWithContextLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	api := &fakeAPI{body: `{"a": {"b": {}}}`}

	ctx := context.Background()
	svc := NewService(api, builder.New(builder.DefaultPolicy()), zap.New(core))
	_, err := svc.Render(ctx, Request{Mode: ModeTTPOverlap, TTPs: []string{"T1", "T2"}})
	require.NoError(t, err)

	entries := logs.FilterMessage("graph rendered").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "ttpoverlap", fields["mode"])
	assert.EqualValues(t, 2, fields["nodes"])
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, metrics.OutcomeOK, Outcome(nil))
	assert.Equal(t, metrics.OutcomeUsage, Outcome(&UsageError{Msg: "x"}))
	assert.Equal(t, metrics.OutcomeInternal, Outcome(errors.New("boom")))
}

func TestRequestString(t *testing.T) {
	assert.Equal(t, "explore Enterprise/Techniques/T1566", Request{Mode: ModeExplore, Matrix: "Enterprise", Category: "Techniques", ID: "T1566"}.String())
	assert.Equal(t, "actoroverlap G1,G2", Request{Mode: ModeActorOverlap, Actors: []string{"G1", "G2"}}.String())
	assert.Equal(t, "search phishing in ICS", Request{Mode: ModeSearch, Params: []string{"phishing"}, Matrices: []string{"ICS"}}.String())
}
