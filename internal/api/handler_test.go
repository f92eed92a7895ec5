package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaign-progress-engine/internal/aggregator"
	"campaign-progress-engine/internal/batch"
	"campaign-progress-engine/internal/engine"
	"campaign-progress-engine/internal/progress"
	"campaign-progress-engine/internal/storage"
)

type fakeLister struct {
	err      error
	lastID   int64
	lastSlug string
	lastOpts batch.Options
}

func (f *fakeLister) ListForPerson(_ context.Context, id int64, opts batch.Options) ([]batch.CampaignProgress, error) {
	f.lastID, f.lastOpts = id, opts
	if f.err != nil {
		return nil, f.err
	}
	return []batch.CampaignProgress{{
		Campaign: engine.Campaign{ID: "1", Slug: "reto"},
		Progress: engine.EvaluationResult{Status: engine.ProgressEligible, Eligible: true, Progress: 0.5},
	}}, nil
}

func (f *fakeLister) DetailForPerson(_ context.Context, id int64, slug string, opts batch.Options) (batch.CampaignProgress, error) {
	f.lastID, f.lastSlug, f.lastOpts = id, slug, opts
	if f.err != nil {
		return batch.CampaignProgress{}, f.err
	}
	return batch.CampaignProgress{Campaign: engine.Campaign{ID: "1", Slug: slug}, FromCache: true}, nil
}

type fakeAdmin struct {
	invalidated *int64
	campaign    string
	maxAge      time.Duration
	err         error
}

func (f *fakeAdmin) Invalidate(_ context.Context, campaignID string, usuarioID *int64) (int64, error) {
	f.campaign, f.invalidated = campaignID, usuarioID
	return 3, f.err
}

func (f *fakeAdmin) Summary(_ context.Context, campaignID string) (progress.Summary, error) {
	return progress.NewSummary(campaignID, map[string]int64{"eligible": 2, "completed": 1}), f.err
}

func (f *fakeAdmin) Sweep(_ context.Context, maxAge time.Duration) (int64, error) {
	f.maxAge = maxAge
	return 7, f.err
}

func serve(t *testing.T, h *ProgressHandler, method, url string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, url, nil)
	w := httptest.NewRecorder()
	Router(h).ServeHTTP(w, req)
	return w
}

func TestList_Scenarios(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		url        string
		wantStatus int
	}{
		{"ok", nil, "/v1/usuarios/42/campaigns", http.StatusOK},
		{"bad usuario", nil, "/v1/usuarios/abc/campaigns", http.StatusBadRequest},
		{"bad ttl", nil, "/v1/usuarios/42/campaigns?ttl=soon", http.StatusBadRequest},
		{"invalid usuario from store", storage.ErrInvalidUsuarioID, "/v1/usuarios/42/campaigns", http.StatusBadRequest},
		{"source failure", &aggregator.DataSourceError{Source: "polizas", Err: errors.New("x")}, "/v1/usuarios/42/campaigns", http.StatusBadGateway},
		{"unexpected", errors.New("boom"), "/v1/usuarios/42/campaigns", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, NewProgressHandler(&fakeLister{err: tt.err}, &fakeAdmin{}), http.MethodGet, tt.url)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			if tt.wantStatus != http.StatusOK {
				var body map[string]string
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.NotEmpty(t, body["error"])
			}
		})
	}
}

func TestList_PassesOptions(t *testing.T) {
	l := &fakeLister{}
	w := serve(t, NewProgressHandler(l, &fakeAdmin{}), http.MethodGet,
		"/v1/usuarios/42/campaigns?ttl=60&force=1&includeUpcoming=true")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(42), l.lastID)
	assert.Equal(t, time.Minute, l.lastOpts.TTL)
	assert.True(t, l.lastOpts.Force)
	assert.True(t, l.lastOpts.IncludeUpcoming)

	var body struct {
		UsuarioID int64                    `json:"usuarioId"`
		Campaigns []batch.CampaignProgress `json:"campaigns"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(42), body.UsuarioID)
	require.Len(t, body.Campaigns, 1)
	assert.Equal(t, 0.5, body.Campaigns[0].Progress.Progress)

	serve(t, NewProgressHandler(l, &fakeAdmin{}), http.MethodGet, "/v1/usuarios/42/campaigns?ttl=0")
	assert.Negative(t, int64(l.lastOpts.TTL))
}

func TestDetail_MapsErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"ok", nil, http.StatusOK},
		{"not found", batch.ErrCampaignNotFound, http.StatusNotFound},
		{"inactive", batch.ErrCampaignInactive, http.StatusNotFound},
		{"not visible", batch.ErrCampaignNotVisible, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &fakeLister{err: tt.err}
			w := serve(t, NewProgressHandler(l, &fakeAdmin{}), http.MethodGet,
				"/v1/usuarios/7/campaigns/reto-verano?fingerprint=abc")
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "reto-verano", l.lastSlug)
			assert.Equal(t, "abc", l.lastOpts.FingerprintHint)
		})
	}
}

func TestInvalidate(t *testing.T) {
	a := &fakeAdmin{}
	w := serve(t, NewProgressHandler(&fakeLister{}, a), http.MethodDelete, "/v1/campaigns/cmp-1/progress?usuarioId=9")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cmp-1", a.campaign)
	require.NotNil(t, a.invalidated)
	assert.Equal(t, int64(9), *a.invalidated)
	assert.JSONEq(t, `{"campaignId":"cmp-1","deleted":3}`, w.Body.String())

	w = serve(t, NewProgressHandler(&fakeLister{}, a), http.MethodDelete, "/v1/campaigns/cmp-1/progress")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, a.invalidated)

	w = serve(t, NewProgressHandler(&fakeLister{}, a), http.MethodDelete, "/v1/campaigns/cmp-1/progress?usuarioId=x")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSummary(t *testing.T) {
	w := serve(t, NewProgressHandler(&fakeLister{}, &fakeAdmin{}), http.MethodGet, "/v1/campaigns/cmp-1/summary")
	require.Equal(t, http.StatusOK, w.Code)
	var s progress.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, int64(3), s.Total)
	assert.Equal(t, int64(3), s.EligibleTotal)
	assert.Equal(t, int64(1), s.CompletedTotal)
}

func TestSweep(t *testing.T) {
	a := &fakeAdmin{}
	w := serve(t, NewProgressHandler(&fakeLister{}, a), http.MethodPost, "/v1/admin/cache/sweep")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5*time.Minute, a.maxAge)

	w = serve(t, NewProgressHandler(&fakeLister{}, a), http.MethodPost, "/v1/admin/cache/sweep?maxAge=30")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 30*time.Minute, a.maxAge)
	assert.JSONEq(t, `{"deleted":7,"maxAgeMinutes":30}`, w.Body.String())

	w = serve(t, NewProgressHandler(&fakeLister{}, a), http.MethodPost, "/v1/admin/cache/sweep?maxAge=-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	w := serve(t, NewProgressHandler(&fakeLister{}, &fakeAdmin{}), http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}
