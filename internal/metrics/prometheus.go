package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"igma/internal/model"
)

// Collectors counts engine outcomes. Each instance owns its registry so tests
// and multiple engines never collide on registration.
type Collectors struct {
	Registry   *prometheus.Registry
	diagnoses  *prometheus.CounterVec
	alerts     *prometheus.CounterVec
	evolutions *prometheus.CounterVec
}

func NewCollectors() *Collectors {
	c := &Collectors{
		Registry: prometheus.NewRegistry(),
		diagnoses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "igma_diagnoses_total",
			Help: "Diagnoses computed, by result.",
		}, []string{"result"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "igma_rule_alerts_total",
			Help: "Rule alerts emitted, by alert code.",
		}, []string{"code"}),
		evolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "igma_evolution_states_total",
			Help: "Pillar evolution records, by state.",
		}, []string{"state"}),
	}
	c.Registry.MustRegister(c.diagnoses, c.alerts, c.evolutions)
	return c
}

func (c *Collectors) ObserveResult(result string) {
	if c == nil {
		return
	}
	c.diagnoses.WithLabelValues(result).Inc()
}

func (c *Collectors) ObserveDiagnosis(d model.Diagnosis) {
	if c == nil {
		return
	}
	c.diagnoses.WithLabelValues("ok").Inc()
	for _, code := range d.Outcome.Alerts {
		c.alerts.WithLabelValues(string(code)).Inc()
	}
	for _, rec := range d.Evolution {
		state := string(rec.State)
		if state == "" {
			state = "none"
		}
		c.evolutions.WithLabelValues(state).Inc()
	}
}
