package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaign-progress-engine/internal/engine"
)

func ptr[T any](v T) *T { return &v }

type fakeSource struct {
	user       *UserRow
	policy     *PolicyRow
	cancel     *CancellationRow
	rc         *RecruitingRow
	candidates []CandidateRow
	plans      []PlanRow
	clients    []ClientRow
	custom     []CustomMetricRow
	calculated map[string]any

	errs map[string]error

	gotEmail  string
	gotAuthID string
}

func (f *fakeSource) User(context.Context, int64) (*UserRow, error) {
	return f.user, f.errs["usuarios"]
}

func (f *fakeSource) PolicyMetrics(context.Context, int64) (*PolicyRow, error) {
	return f.policy, f.errs["polizas"]
}

func (f *fakeSource) CancellationIndices(context.Context, int64) (*CancellationRow, error) {
	return f.cancel, f.errs["cancelaciones"]
}

func (f *fakeSource) RecruitingMetrics(context.Context, int64) (*RecruitingRow, error) {
	return f.rc, f.errs["rc"]
}

func (f *fakeSource) Candidates(_ context.Context, email string) ([]CandidateRow, error) {
	f.gotEmail = email
	return f.candidates, f.errs["candidatos"]
}

func (f *fakeSource) Plans(context.Context, int64) ([]PlanRow, error) {
	return f.plans, f.errs["planificaciones"]
}

func (f *fakeSource) Clients(_ context.Context, authID string) ([]ClientRow, error) {
	f.gotAuthID = authID
	return f.clients, f.errs["clientes"]
}

func (f *fakeSource) CustomMetrics(context.Context, int64) ([]CustomMetricRow, error) {
	return f.custom, f.errs["custom_metrics"]
}

func (f *fakeSource) CalculatedDatasets(context.Context, int64) (map[string]any, error) {
	return f.calculated, f.errs["calculated"]
}

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestAggregator(src Source) *Aggregator {
	a := New(src)
	a.now = func() time.Time { return fixedNow }
	return a
}

func TestFetch_BuildsSnapshot(t *testing.T) {
	src := &fakeSource{
		user: &UserRow{ID: 7, Email: "  Agente@Example.COM ", AuthID: ptr("auth-7")},
		policy: &PolicyRow{
			PolizasVigentes: ptr(5.0),
			PrimaTotalMXN:   ptr(50000.0),
			PrimeraEmision:  ptr("2024-01-20"),
		},
		cancel: &CancellationRow{IndiceLimra: ptr(0.91)},
		rc:     &RecruitingRow{ReclutasCalidad: ptr(3.0)},
		candidates: []CandidateRow{
			{ID: "10", MesConexion: ptr("2023-05")},
			{ID: "12", Eliminado: ptr(true)},
		},
		plans: []PlanRow{{Anio: ptr(2025), SemanaISO: ptr(3)}},
		clients: []ClientRow{
			{CreadoAt: ptr(fixedNow.Add(-10 * 24 * time.Hour))},
			{CreadoAt: ptr(fixedNow.Add(-60 * 24 * time.Hour))},
			{},
		},
	}

	m, err := newTestAggregator(src).Fetch(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, "agente@example.com", src.gotEmail)
	assert.Equal(t, "auth-7", src.gotAuthID)

	require.NotNil(t, m.Polizas)
	assert.Equal(t, 5.0, *m.Polizas.Vigentes)
	assert.Nil(t, m.Polizas.Anuladas, "absent stays absent")
	assert.Equal(t, 0.91, *m.Cancelaciones.IndiceLimra)
	assert.Equal(t, 3.0, *m.RC.ReclutasCalidad)

	assert.Equal(t, 2, m.Candidatos.Total)
	assert.Equal(t, 1, m.Candidatos.Activos)
	assert.Equal(t, 1, m.Candidatos.Eliminados)
	assert.Nil(t, m.Candidatos.UltimoMesConexion, "latest candidate has no connection month")

	assert.Equal(t, 1, m.Planificacion.PlanesTotal)
	assert.Equal(t, "2025-W03", *m.Planificacion.UltimaSemana)

	assert.Equal(t, 3, m.Clientes.Total)
	assert.Equal(t, 1, m.Clientes.Nuevos30Dias)
	assert.Equal(t, 2, m.Clientes.Nuevos90Dias)

	require.NotNil(t, m.TenureMeses)
	assert.Equal(t, 16, *m.TenureMeses)
	assert.NotNil(t, m.Datasets)
	assert.Nil(t, m.Meta)
}

func TestFetch_SkipsIdentityScopedSources(t *testing.T) {
	src := &fakeSource{
		errs: map[string]error{
			"candidatos": errors.New("must not be called"),
			"clientes":   errors.New("must not be called"),
		},
	}
	m, err := newTestAggregator(src).Fetch(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Candidatos.Total)
	assert.Equal(t, 0, m.Clientes.Total)
	assert.Nil(t, m.Polizas)
	assert.Nil(t, m.TenureMeses)
}

func TestFetch_RequiredSourceFails(t *testing.T) {
	boom := errors.New("connection reset")
	for _, source := range []string{"usuarios", "polizas", "cancelaciones", "rc", "planificaciones", "custom_metrics"} {
		t.Run(source, func(t *testing.T) {
			src := &fakeSource{errs: map[string]error{source: boom}}
			_, err := newTestAggregator(src).Fetch(context.Background(), 1)
			require.Error(t, err)
			assert.ErrorIs(t, err, boom)

			var dse *DataSourceError
			require.True(t, errors.As(err, &dse))
			assert.Equal(t, source, dse.Source)
		})
	}
}

func TestFetch_CalculatedDatasetsAreOptional(t *testing.T) {
	src := &fakeSource{
		errs:   map[string]error{"calculated": errors.New("function missing")},
		custom: []CustomMetricRow{{Dataset: "ventas", Metric: "cierres", NumericValue: ptr("4")}},
	}
	m, err := newTestAggregator(src).Fetch(context.Background(), 1)
	require.NoError(t, err)
	f, ok := m.Datasets["ventas"]["cierres"].Float()
	assert.True(t, ok)
	assert.Equal(t, 4.0, f)
}

func TestFetch_CustomRowsOverrideCalculated(t *testing.T) {
	src := &fakeSource{
		calculated: map[string]any{
			"polizas_prima_minima": map[string]any{"prima_25000": 2.0, "prima_50000": 1.0},
			"ventas":               map[string]any{"cierres": 1.0, "meta": "baja"},
			"ignored":              "not an object",
		},
		custom: []CustomMetricRow{
			{Dataset: "ventas", Metric: "cierres", NumericValue: ptr("9")},
			{Dataset: "ventas", Metric: "nivel", TextValue: ptr("oro")},
			{Dataset: "ventas", Metric: "detalle", JSONValue: []byte(`{"a":1}`), NumericValue: ptr("3")},
			{Dataset: "ventas", Metric: "vacio"},
			{Dataset: " ", Metric: "x", NumericValue: ptr("1")},
		},
	}
	m, err := newTestAggregator(src).Fetch(context.Background(), 1)
	require.NoError(t, err)

	ventas := m.Datasets["ventas"]
	f, _ := ventas["cierres"].Float()
	assert.Equal(t, 9.0, f)
	assert.Equal(t, "baja", ventas["meta"].String())
	assert.Equal(t, "oro", ventas["nivel"].String())
	assert.Equal(t, engine.ValueJSON, ventas["detalle"].Type())

	vacio, present := ventas["vacio"]
	assert.True(t, present, "all-absent metric resolves to null, not omission")
	assert.True(t, vacio.IsNull())

	assert.NotContains(t, m.Datasets, "ignored")
	f, _ = m.Datasets["polizas_prima_minima"]["prima_25000"].Float()
	assert.Equal(t, 2.0, f)
}

func TestMergeDatasets_KeepsListDatasets(t *testing.T) {
	out := mergeDatasets(map[string]any{
		"top_productos": []any{"vida", "gmm"},
		"nada":          nil,
	}, nil)

	require.Contains(t, out, "top_productos")
	items := out["top_productos"][ItemsKey]
	assert.Equal(t, engine.ValueJSON, items.Type())
	assert.Equal(t, `["vida","gmm"]`, items.String())
	assert.NotContains(t, out, "nada")
}

func TestFetch_TenureFallsBackToConnectionMonth(t *testing.T) {
	tests := []struct {
		name   string
		policy *PolicyRow
		mes    *string
		want   *int
	}{
		{"policy wins", &PolicyRow{PrimeraEmision: ptr("2025-01-15T00:00:00Z")}, ptr("2020-01"), ptr(5)},
		{"connection month", &PolicyRow{}, ptr("2024-06"), ptr(12)},
		{"unparsable", &PolicyRow{PrimeraEmision: ptr("ayer")}, ptr("junio"), nil},
		{"none", nil, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{
				user:       &UserRow{Email: "a@b.c"},
				policy:     tt.policy,
				candidates: []CandidateRow{{ID: "1", MesConexion: tt.mes}},
			}
			m, err := newTestAggregator(src).Fetch(context.Background(), 1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.TenureMeses)
		})
	}
}

func TestTenureMonths(t *testing.T) {
	ref := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		now  time.Time
		want int
	}{
		{time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC), 1},
		{time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), 2},
		{time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), 12},
		{time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TenureMonths(ref, tt.now), tt.now.String())
	}
}
