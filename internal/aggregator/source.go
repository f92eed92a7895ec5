package aggregator

import (
	"context"
	"time"
)

// Source is the set of read-only metric sources a snapshot is built from.
// Each method returns nil rows (not an error) when the person has no data.
type Source interface {
	User(ctx context.Context, usuarioID int64) (*UserRow, error)
	PolicyMetrics(ctx context.Context, usuarioID int64) (*PolicyRow, error)
	CancellationIndices(ctx context.Context, usuarioID int64) (*CancellationRow, error)
	RecruitingMetrics(ctx context.Context, usuarioID int64) (*RecruitingRow, error)
	Candidates(ctx context.Context, agentEmail string) ([]CandidateRow, error)
	Plans(ctx context.Context, usuarioID int64) ([]PlanRow, error)
	Clients(ctx context.Context, authID string) ([]ClientRow, error)
	CustomMetrics(ctx context.Context, usuarioID int64) ([]CustomMetricRow, error)
	CalculatedDatasets(ctx context.Context, usuarioID int64) (map[string]any, error)
}

type UserRow struct {
	ID     int64
	Email  string
	AuthID *string
}

type PolicyRow struct {
	PolizasTotal        *float64
	PolizasVigentes     *float64
	PolizasAnuladas     *float64
	PrimaTotalMXN       *float64
	PrimaVigenteMXN     *float64
	PrimaPromedioMXN    *float64
	ComisionBaseMXN     *float64
	IngresosMXN         *float64
	PuntosTotales       *float64
	MomentumVita        *float64
	UltimaEmision       *string
	UltimaCancelacion   *string
	PrimeraEmision      *string
	UltimaActualizacion *string
}

// CancellationRow is the most recent persistence-index period.
type CancellationRow struct {
	IndiceLimra  *float64
	IndiceIGC    *float64
	MomentumNeto *float64
}

type RecruitingRow struct {
	ProspectosTotal       *float64
	ReclutasCalidad       *float64
	ProspectosConCita     *float64
	ProspectosSeguimiento *float64
	ProspectosDescartados *float64
	PolizasTotal          *float64
	PolizasVigentes       *float64
	PolizasAnuladas       *float64
	RCVigencia            *float64
	Permanencia           *float64
	ReclutasCalidadRatio  *float64
}

// CandidateRow is a registry entry. ID is kept as text; rows whose id does not
// parse as a number never count as the latest.
type CandidateRow struct {
	ID          string
	Eliminado   *bool
	MesConexion *string
}

type PlanRow struct {
	Anio               *int
	SemanaISO          *int
	PrimaAnualPromedio *float64
	PorcentajeComision *float64
	UpdatedAt          *time.Time
	CreatedAt          *time.Time
}

type ClientRow struct {
	CreadoAt *time.Time
}

// CustomMetricRow is one dataset/metric/value triple. At most one of the value
// columns is expected to be set; JSON wins over numeric, numeric over text.
type CustomMetricRow struct {
	Dataset      string
	Metric       string
	NumericValue *string
	TextValue    *string
	JSONValue    []byte
}
