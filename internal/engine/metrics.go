package engine

import "encoding/json"

// Metrics is the per-person snapshot rules are evaluated against.
// Pointer fields are nil when the source had no usable value.
type Metrics struct {
	Polizas       *PolicyMetrics              `json:"polizas,omitempty"`
	Cancelaciones *CancellationMetrics        `json:"cancelaciones,omitempty"`
	RC            *RecruitingMetrics          `json:"rc,omitempty"`
	Candidatos    *CandidateMetrics           `json:"candidatos,omitempty"`
	Planificacion *PlanningMetrics            `json:"planificacion,omitempty"`
	Clientes      *ClientMetrics              `json:"clientes,omitempty"`
	TenureMeses   *int                        `json:"tenure_meses"`
	Datasets      map[string]map[string]Value `json:"datasets"`
	Meta          *Meta                       `json:"meta,omitempty"`
}

type PolicyMetrics struct {
	Total               *float64 `json:"total"`
	Vigentes            *float64 `json:"vigentes"`
	Anuladas            *float64 `json:"anuladas"`
	PrimaTotalMXN       *float64 `json:"prima_total_mxn"`
	PrimaVigenteMXN     *float64 `json:"prima_vigente_mxn"`
	PrimaPromedioMXN    *float64 `json:"prima_promedio_mxn"`
	ComisionBaseMXN     *float64 `json:"comision_base_mxn"`
	IngresosMXN         *float64 `json:"ingresos_mxn"`
	PuntosTotales       *float64 `json:"puntos_totales"`
	MomentumVita        *float64 `json:"momentum_vita"`
	UltimaEmision       *string  `json:"ultima_emision"`
	UltimaCancelacion   *string  `json:"ultima_cancelacion"`
	UltimaActualizacion *string  `json:"ultima_actualizacion"`
}

type CancellationMetrics struct {
	IndiceLimra  *float64 `json:"indice_limra"`
	IndiceIGC    *float64 `json:"indice_igc"`
	MomentumNeto *float64 `json:"momentum_neto"`
}

type RecruitingMetrics struct {
	ProspectosTotal       *float64 `json:"prospectos_total"`
	ReclutasCalidad       *float64 `json:"reclutas_calidad"`
	ProspectosConCita     *float64 `json:"prospectos_con_cita"`
	ProspectosSeguimiento *float64 `json:"prospectos_seguimiento"`
	ProspectosDescartados *float64 `json:"prospectos_descartados"`
	PolizasTotal          *float64 `json:"polizas_total"`
	PolizasVigentes       *float64 `json:"polizas_vigentes"`
	PolizasAnuladas       *float64 `json:"polizas_anuladas"`
	RCVigencia            *float64 `json:"rc_vigencia"`
	Permanencia           *float64 `json:"permanencia"`
	ReclutasCalidadRatio  *float64 `json:"reclutas_calidad_ratio"`
}

type CandidateMetrics struct {
	Total             int     `json:"total"`
	Activos           int     `json:"activos"`
	Eliminados        int     `json:"eliminados"`
	UltimoMesConexion *string `json:"ultimo_mes_conexion"`
}

type PlanningMetrics struct {
	PlanesTotal         int      `json:"planes_total"`
	UltimaSemana        *string  `json:"ultima_semana"`
	UltimaActualizacion *string  `json:"ultima_actualizacion"`
	PrimaPromedio       *float64 `json:"prima_promedio"`
	PorcentajeComision  *float64 `json:"porcentaje_comision"`
}

type ClientMetrics struct {
	Total        int     `json:"total"`
	Nuevos30Dias int     `json:"nuevos_30_dias"`
	Nuevos90Dias int     `json:"nuevos_90_dias"`
	UltimaAlta   *string `json:"ultima_alta"`
}

// Meta is attached only when a snapshot is persisted.
type Meta struct {
	Fingerprint string       `json:"fingerprint,omitempty"`
	CachedAt    string       `json:"cached_at,omitempty"`
	RuleResults []RuleResult `json:"ruleResults,omitempty"`
}

// WithoutMeta returns a shallow copy with the cache metadata stripped.
func (m Metrics) WithoutMeta() Metrics {
	m.Meta = nil
	return m
}

// Clone deep-copies the snapshot so callers can mutate it freely.
func (m Metrics) Clone() (Metrics, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return Metrics{}, err
	}
	var out Metrics
	if err := json.Unmarshal(raw, &out); err != nil {
		return Metrics{}, err
	}
	return out, nil
}

// metricsView is the generic JSON tree of a snapshot, built once per evaluation
// so path based rules can walk arbitrary buckets and datasets.
type metricsView struct {
	tree map[string]any
}

func newMetricsView(m Metrics) *metricsView {
	v := &metricsView{tree: map[string]any{}}
	raw, err := json.Marshal(m.WithoutMeta())
	if err != nil {
		return v
	}
	_ = json.Unmarshal(raw, &v.tree)
	if v.tree == nil {
		v.tree = map[string]any{}
	}
	return v
}

func (v *metricsView) bucket(name string) map[string]any {
	return asObject(v.tree[name])
}

func (v *metricsView) dataset(name string) map[string]any {
	return asObject(v.bucket("datasets")[name])
}

// walk follows path from the root. ok is false when a segment is missing;
// an explicit null is found.
func (v *metricsView) walk(path []string) (any, bool) {
	var cur any = v.tree
	for _, seg := range path {
		obj, isObj := cur.(map[string]any)
		if !isObj {
			return nil, false
		}
		next, ok := obj[seg]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}
