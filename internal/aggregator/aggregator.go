package aggregator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"campaign-progress-engine/internal/engine"
	"campaign-progress-engine/internal/observability"
)

// Aggregator assembles the per-person Metrics snapshot from every source.
type Aggregator struct {
	src Source
	now func() time.Time
}

func New(src Source) *Aggregator {
	return &Aggregator{src: src, now: time.Now}
}

// Fetch queries all sources concurrently and merges them. The first failing
// required source cancels the others and its *DataSourceError is returned.
func (a *Aggregator) Fetch(ctx context.Context, usuarioID int64) (engine.Metrics, error) {
	start := time.Now()
	defer func() { observability.MetricsFetchDuration.Observe(time.Since(start).Seconds()) }()

	user, err := a.src.User(ctx, usuarioID)
	if err != nil {
		return engine.Metrics{}, a.fail(sourceErr("usuarios", err))
	}
	var email, authID string
	if user != nil {
		email = strings.ToLower(strings.TrimSpace(user.Email))
		if user.AuthID != nil {
			authID = strings.TrimSpace(*user.AuthID)
		}
	}

	var (
		policy     *PolicyRow
		cancel     *CancellationRow
		rc         *RecruitingRow
		candidates []CandidateRow
		plans      []PlanRow
		clients    []ClientRow
		custom     []CustomMetricRow
		calculated map[string]any
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		policy, err = a.src.PolicyMetrics(gctx, usuarioID)
		return sourceErr("polizas", err)
	})
	g.Go(func() (err error) {
		cancel, err = a.src.CancellationIndices(gctx, usuarioID)
		return sourceErr("cancelaciones", err)
	})
	g.Go(func() (err error) {
		rc, err = a.src.RecruitingMetrics(gctx, usuarioID)
		return sourceErr("rc", err)
	})
	g.Go(func() (err error) {
		if email == "" {
			return nil
		}
		candidates, err = a.src.Candidates(gctx, email)
		return sourceErr("candidatos", err)
	})
	g.Go(func() (err error) {
		plans, err = a.src.Plans(gctx, usuarioID)
		return sourceErr("planificaciones", err)
	})
	g.Go(func() (err error) {
		if authID == "" {
			return nil
		}
		clients, err = a.src.Clients(gctx, authID)
		return sourceErr("clientes", err)
	})
	g.Go(func() (err error) {
		custom, err = a.src.CustomMetrics(gctx, usuarioID)
		return sourceErr("custom_metrics", err)
	})
	g.Go(func() error {
		ds, err := a.src.CalculatedDatasets(gctx, usuarioID)
		if err != nil {
			// supplementary: the snapshot is still usable without it
			if gctx.Err() == nil {
				log.Warn().Err(err).Int64("usuario_id", usuarioID).Msg("calculated datasets unavailable")
			}
			return nil
		}
		calculated = ds
		return nil
	})
	if err := g.Wait(); err != nil {
		return engine.Metrics{}, a.fail(err)
	}

	now := a.now()
	m := engine.Metrics{
		Polizas:       policyMetrics(policy),
		Cancelaciones: cancellationMetrics(cancel),
		RC:            recruitingMetrics(rc),
		Candidatos:    buildCandidates(candidates),
		Planificacion: buildPlanning(plans),
		Clientes:      buildClients(clients, now),
		Datasets:      mergeDatasets(calculated, custom),
	}
	var firstEmission *string
	if policy != nil {
		firstEmission = policy.PrimeraEmision
	}
	m.TenureMeses = tenure(firstEmission, m.Candidatos.UltimoMesConexion, now)

	log.Debug().
		Int64("usuario_id", usuarioID).
		Int("datasets", len(m.Datasets)).
		Dur("took", time.Since(start)).
		Msg("metrics snapshot built")
	return m, nil
}

func (a *Aggregator) fail(err error) error {
	source := "unknown"
	var dse *DataSourceError
	if errors.As(err, &dse) {
		source = dse.Source
	}
	observability.MetricsFetchErrors.WithLabelValues(source).Inc()
	return err
}

func policyMetrics(r *PolicyRow) *engine.PolicyMetrics {
	if r == nil {
		return nil
	}
	return &engine.PolicyMetrics{
		Total:               finite(r.PolizasTotal),
		Vigentes:            finite(r.PolizasVigentes),
		Anuladas:            finite(r.PolizasAnuladas),
		PrimaTotalMXN:       finite(r.PrimaTotalMXN),
		PrimaVigenteMXN:     finite(r.PrimaVigenteMXN),
		PrimaPromedioMXN:    finite(r.PrimaPromedioMXN),
		ComisionBaseMXN:     finite(r.ComisionBaseMXN),
		IngresosMXN:         finite(r.IngresosMXN),
		PuntosTotales:       finite(r.PuntosTotales),
		MomentumVita:        finite(r.MomentumVita),
		UltimaEmision:       cleanText(r.UltimaEmision),
		UltimaCancelacion:   cleanText(r.UltimaCancelacion),
		UltimaActualizacion: cleanText(r.UltimaActualizacion),
	}
}

func cancellationMetrics(r *CancellationRow) *engine.CancellationMetrics {
	if r == nil {
		return nil
	}
	return &engine.CancellationMetrics{
		IndiceLimra:  finite(r.IndiceLimra),
		IndiceIGC:    finite(r.IndiceIGC),
		MomentumNeto: finite(r.MomentumNeto),
	}
}

func recruitingMetrics(r *RecruitingRow) *engine.RecruitingMetrics {
	if r == nil {
		return nil
	}
	return &engine.RecruitingMetrics{
		ProspectosTotal:       finite(r.ProspectosTotal),
		ReclutasCalidad:       finite(r.ReclutasCalidad),
		ProspectosConCita:     finite(r.ProspectosConCita),
		ProspectosSeguimiento: finite(r.ProspectosSeguimiento),
		ProspectosDescartados: finite(r.ProspectosDescartados),
		PolizasTotal:          finite(r.PolizasTotal),
		PolizasVigentes:       finite(r.PolizasVigentes),
		PolizasAnuladas:       finite(r.PolizasAnuladas),
		RCVigencia:            finite(r.RCVigencia),
		Permanencia:           finite(r.Permanencia),
		ReclutasCalidadRatio:  finite(r.ReclutasCalidadRatio),
	}
}
