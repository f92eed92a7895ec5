package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"campaign-progress-engine/internal/aggregator"
)

var _ aggregator.Source = (*Store)(nil)

func (s *Store) User(ctx context.Context, usuarioID int64) (*aggregator.UserRow, error) {
	if usuarioID <= 0 {
		return nil, ErrInvalidUsuarioID
	}
	var (
		u     aggregator.UserRow
		email *string
	)
	found, err := s.queryRow(ctx, `SELECT id, email, id_auth::text FROM usuarios WHERE id = $1`,
		[]any{usuarioID}, &u.ID, &email, &u.AuthID)
	if err != nil || !found {
		return nil, err
	}
	if email != nil {
		u.Email = *email
	}
	return &u, nil
}

func (s *Store) PolicyMetrics(ctx context.Context, usuarioID int64) (*aggregator.PolicyRow, error) {
	var r aggregator.PolicyRow
	found, err := s.queryRow(ctx, `
		SELECT polizas_total::float8, polizas_vigentes::float8, polizas_anuladas::float8,
		       prima_total_mxn::float8, prima_vigente_mxn::float8, prima_promedio_mxn::float8,
		       comision_base_mxn::float8, ingresos_mxn::float8, puntos_totales::float8, momentum_vita::float8,
		       ultima_emision::text, ultima_cancelacion::text, primera_emision::text, ultima_actualizacion::text
		FROM vw_polizas_metricas
		WHERE usuario_id = $1
		LIMIT 1`, []any{usuarioID},
		&r.PolizasTotal, &r.PolizasVigentes, &r.PolizasAnuladas,
		&r.PrimaTotalMXN, &r.PrimaVigenteMXN, &r.PrimaPromedioMXN,
		&r.ComisionBaseMXN, &r.IngresosMXN, &r.PuntosTotales, &r.MomentumVita,
		&r.UltimaEmision, &r.UltimaCancelacion, &r.PrimeraEmision, &r.UltimaActualizacion)
	if err != nil || !found {
		return nil, err
	}
	return &r, nil
}

func (s *Store) CancellationIndices(ctx context.Context, usuarioID int64) (*aggregator.CancellationRow, error) {
	var r aggregator.CancellationRow
	found, err := s.queryRow(ctx, `
		SELECT indice_limra::float8, indice_igc::float8, momentum_neto::float8
		FROM vw_cancelaciones_indices
		WHERE usuario_id = $1
		ORDER BY periodo_mes DESC
		LIMIT 1`, []any{usuarioID},
		&r.IndiceLimra, &r.IndiceIGC, &r.MomentumNeto)
	if err != nil || !found {
		return nil, err
	}
	return &r, nil
}

func (s *Store) RecruitingMetrics(ctx context.Context, usuarioID int64) (*aggregator.RecruitingRow, error) {
	var r aggregator.RecruitingRow
	found, err := s.queryRow(ctx, `
		SELECT prospectos_total::float8, reclutas_calidad::float8, prospectos_con_cita::float8,
		       prospectos_seguimiento::float8, prospectos_descartados::float8,
		       polizas_total::float8, polizas_vigentes::float8, polizas_anuladas::float8,
		       rc_vigencia::float8, permanencia::float8, reclutas_calidad_ratio::float8
		FROM vw_rc_metricas
		WHERE usuario_id = $1
		LIMIT 1`, []any{usuarioID},
		&r.ProspectosTotal, &r.ReclutasCalidad, &r.ProspectosConCita,
		&r.ProspectosSeguimiento, &r.ProspectosDescartados,
		&r.PolizasTotal, &r.PolizasVigentes, &r.PolizasAnuladas,
		&r.RCVigencia, &r.Permanencia, &r.ReclutasCalidadRatio)
	if err != nil || !found {
		return nil, err
	}
	return &r, nil
}

func (s *Store) Candidates(ctx context.Context, agentEmail string) ([]aggregator.CandidateRow, error) {
	return queryAll(ctx, s, `
		SELECT COALESCE(id_candidato::text, ''), eliminado, mes_conexion
		FROM candidatos
		WHERE email_agente ILIKE $1`, []any{agentEmail},
		func(row pgx.Rows) (aggregator.CandidateRow, error) {
			var r aggregator.CandidateRow
			err := row.Scan(&r.ID, &r.Eliminado, &r.MesConexion)
			return r, err
		})
}

func (s *Store) Plans(ctx context.Context, usuarioID int64) ([]aggregator.PlanRow, error) {
	return queryAll(ctx, s, `
		SELECT anio, semana_iso, prima_anual_promedio::float8, porcentaje_comision::float8, updated_at, created_at
		FROM planificaciones
		WHERE agente_id = $1`, []any{usuarioID},
		func(row pgx.Rows) (aggregator.PlanRow, error) {
			var r aggregator.PlanRow
			err := row.Scan(&r.Anio, &r.SemanaISO, &r.PrimaAnualPromedio, &r.PorcentajeComision, &r.UpdatedAt, &r.CreatedAt)
			return r, err
		})
}

func (s *Store) Clients(ctx context.Context, authID string) ([]aggregator.ClientRow, error) {
	return queryAll(ctx, s, `SELECT creado_at FROM clientes WHERE asesor_id::text = $1`, []any{authID},
		func(row pgx.Rows) (aggregator.ClientRow, error) {
			var r aggregator.ClientRow
			err := row.Scan(&r.CreadoAt)
			return r, err
		})
}

func (s *Store) CustomMetrics(ctx context.Context, usuarioID int64) ([]aggregator.CustomMetricRow, error) {
	sql, args, err := psql.
		Select("dataset", "metric", "numeric_value::text", "text_value", "json_value").
		From("campaigns_custom_metrics").
		Where(squirrel.Eq{"usuario_id": usuarioID}).
		OrderBy("dataset ASC", "metric ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build custom metrics query: %w", err)
	}
	return queryAll(ctx, s, sql, args, func(row pgx.Rows) (aggregator.CustomMetricRow, error) {
		var (
			r        aggregator.CustomMetricRow
			ds, name *string
		)
		err := row.Scan(&ds, &name, &r.NumericValue, &r.TextValue, &r.JSONValue)
		if ds != nil {
			r.Dataset = *ds
		}
		if name != nil {
			r.Metric = *name
		}
		return r, err
	})
}

// CalculatedDatasets calls the server-side aggregation procedure. Its result
// is opaque: a JSON object of dataset name to dataset object.
func (s *Store) CalculatedDatasets(ctx context.Context, usuarioID int64) (map[string]any, error) {
	var raw []byte
	found, err := s.queryRow(ctx, `SELECT calculate_campaign_datasets_for_user($1)::jsonb`, []any{usuarioID}, &raw)
	if err != nil || !found || len(raw) == 0 {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode calculated datasets: %w", err)
	}
	return out, nil
}

func queryAll[T any](ctx context.Context, s *Store, sql string, args []any, scan func(pgx.Rows) (T, error)) ([]T, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
