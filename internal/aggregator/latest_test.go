package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestPlan(t *testing.T) {
	t1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	tests := []struct {
		name string
		rows []PlanRow
		want int
	}{
		{"year wins", []PlanRow{{Anio: ptr(2025), SemanaISO: ptr(1)}, {Anio: ptr(2024), SemanaISO: ptr(52)}}, 0},
		{"week wins", []PlanRow{{Anio: ptr(2025), SemanaISO: ptr(2)}, {Anio: ptr(2025), SemanaISO: ptr(9)}}, 1},
		{"updated at", []PlanRow{
			{Anio: ptr(2025), SemanaISO: ptr(2), UpdatedAt: &t2},
			{Anio: ptr(2025), SemanaISO: ptr(2), UpdatedAt: &t1},
		}, 0},
		{"created at fallback", []PlanRow{
			{Anio: ptr(2025), SemanaISO: ptr(2), CreatedAt: &t1},
			{Anio: ptr(2025), SemanaISO: ptr(2), CreatedAt: &t2},
		}, 1},
		{"missing year loses", []PlanRow{{SemanaISO: ptr(50)}, {Anio: ptr(2020), SemanaISO: ptr(1)}}, 1},
		{"missing timestamp loses", []PlanRow{
			{Anio: ptr(2025), SemanaISO: ptr(2), UpdatedAt: &t1},
			{Anio: ptr(2025), SemanaISO: ptr(2)},
		}, 0},
		{"full tie keeps later row", []PlanRow{{Anio: ptr(2025)}, {Anio: ptr(2025)}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := latestPlan(tt.rows)
			require.NotNil(t, got)
			assert.Same(t, &tt.rows[tt.want], got)
		})
	}
	assert.Nil(t, latestPlan(nil))
}

func TestBuildPlanning_WeekLabelClamped(t *testing.T) {
	p := buildPlanning([]PlanRow{{Anio: ptr(2025), SemanaISO: ptr(60), PrimaAnualPromedio: ptr(1200.5)}})
	assert.Equal(t, "2025-W53", *p.UltimaSemana)
	assert.Equal(t, 1200.5, *p.PrimaPromedio)
	assert.Nil(t, p.UltimaActualizacion)

	p = buildPlanning([]PlanRow{{SemanaISO: ptr(4)}})
	assert.Nil(t, p.UltimaSemana)
}

func TestLatestCandidate(t *testing.T) {
	rows := []CandidateRow{
		{ID: "9", MesConexion: ptr("2024-01")},
		{ID: "abc", MesConexion: ptr("2025-01")},
		{ID: "11", MesConexion: ptr("  ")},
		{ID: "2", MesConexion: ptr("2023-01")},
	}
	got := latestCandidate(rows)
	require.NotNil(t, got)
	assert.Equal(t, "11", got.ID)
	assert.Nil(t, buildCandidates(rows).UltimoMesConexion, "blank connection month is absent")

	assert.Nil(t, latestCandidate([]CandidateRow{{ID: ""}, {ID: "x"}}))
}

func TestBuildClients_LatestValidTimestamp(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	recent := now.Add(-24 * time.Hour)
	old := now.Add(-200 * 24 * time.Hour)
	c := buildClients([]ClientRow{{CreadoAt: &old}, {}, {CreadoAt: &recent}}, now)
	assert.Equal(t, 3, c.Total)
	assert.Equal(t, 1, c.Nuevos30Dias)
	assert.Equal(t, 1, c.Nuevos90Dias)
	assert.Equal(t, recent.Format(time.RFC3339Nano), *c.UltimaAlta)
}
