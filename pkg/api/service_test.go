package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/bookkeeping/internal/testutil"
	"github.com/ethpandaops/bookkeeping/pkg/api/handlers"
	"github.com/ethpandaops/bookkeeping/pkg/gaq"
	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/ethpandaops/bookkeeping/pkg/reconciler"
	"github.com/ethpandaops/bookkeeping/pkg/store"
	"github.com/ethpandaops/bookkeeping/pkg/store/memory"
	"github.com/ethpandaops/bookkeeping/pkg/tasks"
	"github.com/gofiber/fiber/v3"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	scopes []qcflag.ScopeKey
	all    int
	err    error
}

func (f *fakeQueue) EnqueueReconstructScope(key qcflag.ScopeKey, _ string, _ ...asynq.Option) (string, error) {
	f.scopes = append(f.scopes, key)
	return "reconstruct:" + key.String(), f.err
}

func (f *fakeQueue) EnqueueReconstructAll(_ string, _ ...asynq.Option) (string, error) {
	f.all++
	return "reconstruct:all", f.err
}

type fakeInvalidator struct {
	mu   sync.Mutex
	runs []int64
}

func (f *fakeInvalidator) Invalidate(_ context.Context, runNumber int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.runs = append(f.runs, runNumber)

	return nil
}

func newTestApp(t *testing.T, customize func(d *handlers.Dependencies)) (*fiber.App, *memory.Store) {
	t.Helper()

	st := memory.New()
	log := testutil.NewLogger()
	now := testutil.Epoch.Add(48 * time.Hour)

	doc, err := LoadOpenAPI(context.Background())
	require.NoError(t, err)

	deps := handlers.Dependencies{
		Reconciler: reconciler.NewService(log, st, reconciler.WithClock(testutil.StepClock(now, time.Second))),
		GAQ:        gaq.NewService(log, st, gaq.WithClock(func() time.Time { return now })),
		Store:      st,
		OpenAPI:    doc,
		Now:        func() time.Time { return now },
	}

	if customize != nil {
		customize(&deps)
	}

	return newApp(handlers.NewServer(deps, log), log), st
}

func call(t *testing.T, app *fiber.App, method, path string, body any, out any) int {
	t.Helper()

	var reader io.Reader

	if body != nil {
		data, ok := body.(string)
		if !ok {
			raw, err := json.Marshal(body)
			require.NoError(t, err)

			data = string(raw)
		}

		reader = bytes.NewBufferString(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp.StatusCode
}

func ms(t *time.Time) int64 {
	return t.UnixMilli()
}

func seed(t *testing.T, app *fiber.App) {
	t.Helper()

	for _, ft := range testutil.FlagTypes() {
		require.Equal(t, http.StatusNoContent, call(t, app, http.MethodPut, fmt.Sprintf("/api/v1/flag-types/%d", ft.ID), handlers.FlagTypeRequest{
			Name:           ft.Name,
			Method:         ft.Method,
			Bad:            ft.Bad,
			MCReproducible: ft.MonteCarloReproducible,
		}, nil))
	}

	start, end := ms(testutil.At(0)), ms(testutil.At(24))
	require.Equal(t, http.StatusNoContent, call(t, app, http.MethodPut, "/api/v1/runs/100/qc-bounds",
		handlers.RunQcBoundsRequest{Start: &start, End: &end}, nil))

	require.Equal(t, http.StatusNoContent, call(t, app, http.MethodPut, "/api/v1/data-passes/1/runs/100/gaq-detectors",
		handlers.GaqDetectorsRequest{DetectorIDs: []int64{1, 2}}, nil))
}

func createFlag(t *testing.T, app *fiber.App, detectorID int64, from, to *time.Time, flagType int64) handlers.FlagDetailsResponse {
	t.Helper()

	dataPass := int64(1)
	req := handlers.CreateFlagRequest{
		RunNumber:  100,
		DetectorID: detectorID,
		DataPassID: &dataPass,
		FlagTypeID: flagType,
		CreatedBy:  "alice",
	}

	if from != nil {
		v := ms(from)
		req.From = &v
	}

	if to != nil {
		v := ms(to)
		req.To = &v
	}

	var details handlers.FlagDetailsResponse

	require.Equal(t, http.StatusCreated, call(t, app, http.MethodPost, "/api/v1/qc-flags", req, &details))

	return details
}

func TestLoadOpenAPI(t *testing.T) {
	app, _ := newTestApp(t, nil)

	var doc map[string]any

	require.Equal(t, http.StatusOK, call(t, app, http.MethodGet, "/api/v1/openapi.json", nil, &doc))
	assert.Equal(t, "3.0.3", doc["openapi"])
	assert.Contains(t, doc["paths"], "/qc-flags/{id}/verifications")
}

func TestFlagLifecycle(t *testing.T) {
	app, _ := newTestApp(t, nil)
	seed(t, app)

	first := createFlag(t, app, 1, nil, nil, testutil.FlagTypeGood)
	require.Len(t, first.EffectivePeriods, 1)
	assert.Nil(t, first.Flag.From)
	assert.Equal(t, "Good", first.Flag.FlagType.Name)

	second := createFlag(t, app, 1, testutil.At(6), testutil.At(12), testutil.FlagTypeBad)
	require.Len(t, second.EffectivePeriods, 1)

	var details handlers.FlagDetailsResponse

	require.Equal(t, http.StatusOK, call(t, app, http.MethodGet, fmt.Sprintf("/api/v1/qc-flags/%d", first.Flag.ID), nil, &details))
	assert.Len(t, details.EffectivePeriods, 2, "the bad flag splits the good one")

	// authors cannot verify their own flag
	assert.Equal(t, http.StatusConflict, call(t, app, http.MethodPost, fmt.Sprintf("/api/v1/qc-flags/%d/verifications", second.Flag.ID),
		handlers.VerifyFlagRequest{CreatedBy: "alice"}, nil))

	var verified handlers.FlagResponse

	require.Equal(t, http.StatusCreated, call(t, app, http.MethodPost, fmt.Sprintf("/api/v1/qc-flags/%d/verifications", second.Flag.ID),
		handlers.VerifyFlagRequest{CreatedBy: "bob", Comment: "ok"}, &verified))
	require.Len(t, verified.Verifications, 1)
	assert.Equal(t, "bob", verified.Verifications[0].CreatedBy)

	assert.Equal(t, http.StatusConflict, call(t, app, http.MethodDelete, fmt.Sprintf("/api/v1/qc-flags/%d", second.Flag.ID), nil, nil))

	var deleted handlers.FlagResponse

	require.Equal(t, http.StatusOK, call(t, app, http.MethodDelete, fmt.Sprintf("/api/v1/qc-flags/%d", first.Flag.ID), nil, &deleted))
	assert.Equal(t, first.Flag.ID, deleted.ID)

	assert.Equal(t, http.StatusNotFound, call(t, app, http.MethodGet, fmt.Sprintf("/api/v1/qc-flags/%d", first.Flag.ID), nil, nil))
}

func TestGaqEndpoints(t *testing.T) {
	app, _ := newTestApp(t, nil)
	seed(t, app)

	createFlag(t, app, 1, nil, nil, testutil.FlagTypeGood)
	createFlag(t, app, 2, nil, testutil.At(6), testutil.FlagTypeMCReproducible)
	createFlag(t, app, 2, testutil.At(6), nil, testutil.FlagTypeGood)

	var periods struct {
		Periods []handlers.GaqPeriodResponse `json:"periods"`
		Total   int                          `json:"total"`
	}

	require.Equal(t, http.StatusOK, call(t, app, http.MethodGet, "/api/v1/data-passes/1/runs/100/gaq", nil, &periods))
	require.Equal(t, 2, periods.Total)
	assert.Equal(t, string(gaq.SignificanceMCReproducible), periods.Periods[0].Significance)
	assert.True(t, periods.Periods[0].Bad)
	assert.Len(t, periods.Periods[0].Flags, 2)

	var summary gaq.Summary

	require.Equal(t, http.StatusOK, call(t, app, http.MethodGet, "/api/v1/data-passes/1/runs/100/gaq/summary", nil, &summary))
	require.NotNil(t, summary.BadEffectiveRunCoverage)
	assert.InDelta(t, 0.25, *summary.BadEffectiveRunCoverage, 1e-9)
	assert.True(t, summary.MCReproducible)
	assert.Equal(t, 3, summary.MissingVerificationsCount)

	require.Equal(t, http.StatusOK, call(t, app, http.MethodGet, "/api/v1/data-passes/1/runs/100/gaq/summary?mcReproducibleAsNotBad=true", nil, &summary))
	assert.InDelta(t, 0, *summary.BadEffectiveRunCoverage, 1e-9)
	assert.InDelta(t, 1, *summary.ExplicitlyNotBadEffectiveRunCoverage, 1e-9)

	var all map[string]gaq.Summary

	require.Equal(t, http.StatusOK, call(t, app, http.MethodGet, "/api/v1/data-passes/1/gaq/summary", nil, &all))
	assert.Contains(t, all, "100")

	var detector gaq.Summary

	require.Equal(t, http.StatusOK, call(t, app, http.MethodGet, "/api/v1/runs/100/detectors/2/qc-summary?dataPassId=1", nil, &detector))
	require.NotNil(t, detector.DetectorID)
	assert.Equal(t, int64(2), *detector.DetectorID)
	assert.InDelta(t, 0.25, *detector.MCReproducibleCoverage, 1e-9)

	assert.Equal(t, http.StatusBadRequest, call(t, app, http.MethodGet, "/api/v1/data-passes/1/runs/100/gaq/summary?mcReproducibleAsNotBad=maybe", nil, nil))
	assert.Equal(t, http.StatusBadRequest, call(t, app, http.MethodGet, "/api/v1/runs/100/detectors/2/qc-summary?dataPassId=one", nil, nil))
	assert.Equal(t, http.StatusBadRequest, call(t, app, http.MethodGet, "/api/v1/data-passes/first/gaq/summary", nil, nil))

	// an unregistered run has unknown coverage, not an error
	var unknown gaq.Summary

	require.Equal(t, http.StatusOK, call(t, app, http.MethodGet, "/api/v1/data-passes/1/runs/999/gaq/summary", nil, &unknown))
	assert.Equal(t, int64(999), unknown.RunNumber)
	assert.Nil(t, unknown.BadEffectiveRunCoverage)
	assert.Nil(t, unknown.ExplicitlyNotBadEffectiveRunCoverage)
}

func TestErrorMapping(t *testing.T) {
	app, _ := newTestApp(t, nil)
	seed(t, app)

	dataPass, simPass := int64(1), int64(2)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{name: "unknown flag", method: http.MethodGet, path: "/api/v1/qc-flags/999", status: http.StatusNotFound},
		{name: "malformed id", method: http.MethodGet, path: "/api/v1/qc-flags/abc", status: http.StatusBadRequest},
		{name: "malformed body", method: http.MethodPost, path: "/api/v1/qc-flags", body: "{", status: http.StatusBadRequest},
		{
			name:   "ambiguous scope",
			method: http.MethodPost,
			path:   "/api/v1/qc-flags",
			body: handlers.CreateFlagRequest{
				RunNumber: 100, DetectorID: 1, DataPassID: &dataPass, SimulationPassID: &simPass,
				FlagTypeID: testutil.FlagTypeBad, CreatedBy: "alice",
			},
			status: http.StatusBadRequest,
		},
		{
			name:   "outside run",
			method: http.MethodPost,
			path:   "/api/v1/qc-flags",
			body: func() handlers.CreateFlagRequest {
				from, to := ms(testutil.At(-2)), ms(testutil.At(1))
				return handlers.CreateFlagRequest{RunNumber: 100, DetectorID: 1, From: &from, To: &to, FlagTypeID: testutil.FlagTypeBad, CreatedBy: "alice"}
			}(),
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown flag type",
			method: http.MethodPost,
			path:   "/api/v1/qc-flags",
			body:   handlers.CreateFlagRequest{RunNumber: 100, DetectorID: 1, FlagTypeID: 42, CreatedBy: "alice"},
			status: http.StatusNotFound,
		},
		{
			name:   "unknown run",
			method: http.MethodPost,
			path:   "/api/v1/qc-flags",
			body:   handlers.CreateFlagRequest{RunNumber: 7, DetectorID: 1, FlagTypeID: testutil.FlagTypeBad, CreatedBy: "alice"},
			status: http.StatusNotFound,
		},
		{
			name:   "missing author",
			method: http.MethodPost,
			path:   "/api/v1/qc-flags",
			body:   handlers.CreateFlagRequest{RunNumber: 100, DetectorID: 1, FlagTypeID: testutil.FlagTypeBad},
			status: http.StatusBadRequest,
		},
		{
			name:   "inverted bounds",
			method: http.MethodPut,
			path:   "/api/v1/runs/100/qc-bounds",
			body: func() handlers.RunQcBoundsRequest {
				start, end := ms(testutil.At(2)), ms(testutil.At(1))
				return handlers.RunQcBoundsRequest{Start: &start, End: &end}
			}(),
			status: http.StatusBadRequest,
		},
		{name: "flag type without name", method: http.MethodPut, path: "/api/v1/flag-types/9", body: handlers.FlagTypeRequest{}, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body struct {
				Error string `json:"error"`
				Code  int    `json:"code"`
			}

			assert.Equal(t, tt.status, call(t, app, tt.method, tt.path, tt.body, &body))
			assert.Equal(t, tt.status, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestClassifyRun(t *testing.T) {
	app, _ := newTestApp(t, nil)

	var resp handlers.DefinitionResponse

	require.Equal(t, http.StatusOK, call(t, app, http.MethodPost, "/api/v1/runs/definition",
		`{"runType":{"name":"TECHNICAL"},"pdpBeamType":"technical"}`, &resp))
	assert.Equal(t, "TECHNICAL", resp.Definition)

	require.Equal(t, http.StatusOK, call(t, app, http.MethodPost, "/api/v1/runs/definition", `{}`, &resp))
	assert.Equal(t, "COMMISSIONING", resp.Definition)
}

func TestReconstruct(t *testing.T) {
	t.Run("inline", func(t *testing.T) {
		app, _ := newTestApp(t, nil)
		seed(t, app)

		createFlag(t, app, 1, nil, nil, testutil.FlagTypeGood)

		var resp handlers.ReconstructResponse

		require.Equal(t, http.StatusOK, call(t, app, http.MethodPost, "/api/v1/qc-flags/reconstructions", nil, &resp))
		assert.False(t, resp.Queued)
		require.NotNil(t, resp.Result)
		assert.Equal(t, 1, resp.Result.Scopes)

		require.Equal(t, http.StatusOK, call(t, app, http.MethodPost, "/api/v1/qc-flags/reconstructions",
			`{"runNumber":100,"detectorId":1,"dataPassId":1}`, &resp))
		assert.Equal(t, 1, resp.Result.Flags)
	})

	t.Run("queued", func(t *testing.T) {
		queue := &fakeQueue{}
		app, _ := newTestApp(t, func(d *handlers.Dependencies) { d.Queue = queue })

		var resp handlers.ReconstructResponse

		require.Equal(t, http.StatusAccepted, call(t, app, http.MethodPost, "/api/v1/qc-flags/reconstructions",
			`{"runNumber":100,"detectorId":3}`, &resp))
		assert.True(t, resp.Queued)
		require.Len(t, queue.scopes, 1)
		assert.Equal(t, qcflag.ScopeKey{RunNumber: 100, DetectorID: 3, Scope: qcflag.Synchronous()}, queue.scopes[0])

		queue.err = tasks.ErrAlreadyQueued

		require.Equal(t, http.StatusAccepted, call(t, app, http.MethodPost, "/api/v1/qc-flags/reconstructions", `{}`, &resp))
		assert.True(t, resp.AlreadyQueued)
		assert.Equal(t, "reconstruct:all", resp.TaskID)
		assert.Equal(t, 1, queue.all)
	})

	t.Run("partial scope", func(t *testing.T) {
		app, _ := newTestApp(t, nil)

		assert.Equal(t, http.StatusBadRequest, call(t, app, http.MethodPost, "/api/v1/qc-flags/reconstructions", `{"runNumber":100}`, nil))
	})
}

func TestPutRunQcBounds_InvalidatesCache(t *testing.T) {
	invalidator := &fakeInvalidator{}
	app, st := newTestApp(t, func(d *handlers.Dependencies) { d.RunBounds = invalidator })

	start := ms(testutil.At(0))
	require.Equal(t, http.StatusNoContent, call(t, app, http.MethodPut, "/api/v1/runs/5/qc-bounds",
		handlers.RunQcBoundsRequest{Start: &start}, nil))

	assert.Equal(t, []int64{5}, invalidator.runs)

	var bounds qcflag.RunQcBounds

	require.NoError(t, st.View(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		bounds, err = tx.Runs().GetQcBounds(ctx, 5)

		return err
	}))
	assert.Nil(t, bounds.End)
	assert.Equal(t, start, bounds.Start.UnixMilli())
}
