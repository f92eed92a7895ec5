package aggregator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"campaign-progress-engine/internal/engine"
)

// candidateID returns the numeric identifier, or false when it does not parse.
func candidateID(row CandidateRow) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(row.ID), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func latestCandidate(rows []CandidateRow) *CandidateRow {
	var (
		latest   *CandidateRow
		latestID float64
	)
	for i := range rows {
		id, ok := candidateID(rows[i])
		if !ok {
			continue
		}
		if latest == nil || id > latestID {
			latest, latestID = &rows[i], id
		}
	}
	return latest
}

func buildCandidates(rows []CandidateRow) *engine.CandidateMetrics {
	out := &engine.CandidateMetrics{Total: len(rows)}
	for _, r := range rows {
		if r.Eliminado != nil && *r.Eliminado {
			out.Eliminados++
		}
	}
	out.Activos = out.Total - out.Eliminados
	// The generic mes column is ignored; only mes_conexion counts.
	if latest := latestCandidate(rows); latest != nil {
		out.UltimoMesConexion = cleanText(latest.MesConexion)
	}
	return out
}

// planTime is updated_at falling back to created_at.
func planTime(p PlanRow) *time.Time {
	if p.UpdatedAt != nil && !p.UpdatedAt.IsZero() {
		return p.UpdatedAt
	}
	if p.CreatedAt != nil && !p.CreatedAt.IsZero() {
		return p.CreatedAt
	}
	return nil
}

// comparePlans orders plans by year, ISO week, then update time. Missing
// values sort below present ones.
func comparePlans(a, b PlanRow) int {
	if c := compareOptInt(a.Anio, b.Anio); c != 0 {
		return c
	}
	if c := compareOptInt(a.SemanaISO, b.SemanaISO); c != 0 {
		return c
	}
	ta, tb := planTime(a), planTime(b)
	switch {
	case ta == nil && tb == nil:
		return 0
	case ta == nil:
		return -1
	case tb == nil:
		return 1
	}
	return ta.Compare(*tb)
}

func compareOptInt(a, b *int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	}
	return 0
}

// latestPlan keeps the later row on ties.
func latestPlan(rows []PlanRow) *PlanRow {
	var latest *PlanRow
	for i := range rows {
		if latest == nil || comparePlans(rows[i], *latest) >= 0 {
			latest = &rows[i]
		}
	}
	return latest
}

func buildPlanning(rows []PlanRow) *engine.PlanningMetrics {
	out := &engine.PlanningMetrics{PlanesTotal: len(rows)}
	latest := latestPlan(rows)
	if latest == nil {
		return out
	}
	out.UltimaSemana = isoWeekLabel(latest.Anio, latest.SemanaISO)
	if t := planTime(*latest); t != nil {
		s := t.UTC().Format(time.RFC3339Nano)
		out.UltimaActualizacion = &s
	}
	out.PrimaPromedio = finite(latest.PrimaAnualPromedio)
	out.PorcentajeComision = finite(latest.PorcentajeComision)
	return out
}

func isoWeekLabel(year, week *int) *string {
	if year == nil || week == nil {
		return nil
	}
	w := min(max(*week, 1), 53)
	s := fmt.Sprintf("%d-W%02d", *year, w)
	return &s
}

func buildClients(rows []ClientRow, now time.Time) *engine.ClientMetrics {
	out := &engine.ClientMetrics{Total: len(rows)}
	since30 := now.Add(-30 * 24 * time.Hour)
	since90 := now.Add(-90 * 24 * time.Hour)

	var latest *time.Time
	for _, r := range rows {
		if r.CreadoAt == nil || r.CreadoAt.IsZero() {
			continue
		}
		t := *r.CreadoAt
		if !t.Before(since30) {
			out.Nuevos30Dias++
		}
		if !t.Before(since90) {
			out.Nuevos90Dias++
		}
		if latest == nil || t.After(*latest) {
			latest = &t
		}
	}
	if latest != nil {
		s := latest.UTC().Format(time.RFC3339Nano)
		out.UltimaAlta = &s
	}
	return out
}

func cleanText(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func finite(f *float64) *float64 {
	if f == nil || math.IsNaN(*f) || math.IsInf(*f, 0) {
		return nil
	}
	v := *f
	return &v
}
