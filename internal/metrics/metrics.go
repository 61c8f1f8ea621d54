// Package metrics exports ledger activity to Prometheus through lifecycle hooks.
package metrics

import (
	"context"
	"net/http"

	"github.com/aretw0/weft/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "weft"

var phases = []domain.Phase{domain.PhaseCollecting, domain.PhaseVoting, domain.PhaseResolving, domain.PhaseReleased}

// Metrics holds the ledger collectors.
type Metrics struct {
	Submissions *prometheus.CounterVec
	Votes       *prometheus.CounterVec
	Conflicts   prometheus.Counter
	Commits     *prometheus.CounterVec
	CommitSize  prometheus.Histogram
	Completions *prometheus.CounterVec
	Epoch       prometheus.Gauge
	Phase       *prometheus.GaugeVec
	Epochs      prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Interactions accepted into the pool, by task name.",
		}, []string{"task"}),
		Votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Recorded proposals, by path (local or external).",
		}, []string{"path"}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Merges that found contradictory proposals.",
		}),
		Commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Committed domain orders, by how they were committed (voted or released).",
		}, []string{"kind"}),
		CommitSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_size",
			Help:      "Interactions per committed order.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}),
		Completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_completions_total",
			Help:      "Executed tasks, by task name.",
		}, []string{"task"}),
		Epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "epoch",
			Help:      "Current epoch number.",
		}),
		Phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase",
			Help:      "1 for the current epoch phase, 0 otherwise.",
		}, []string{"phase"}),
		Epochs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pools_opened_total",
			Help:      "Epochs whose pool was opened.",
		}),
		gatherer: reg,
	}

	for _, c := range []prometheus.Collector{
		m.Submissions, m.Votes, m.Conflicts, m.Commits, m.CommitSize,
		m.Completions, m.Epoch, m.Phase, m.Epochs,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	m.setPhase(domain.PhaseCollecting)
	return m, nil
}

// Hooks returns lifecycle hooks that update the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnSubmit: func(_ context.Context, e *domain.Event) {
			task := ""
			if e.Interaction != nil {
				task = e.Interaction.TaskName
			}
			m.Submissions.WithLabelValues(task).Inc()
		},
		OnVote: func(_ context.Context, e *domain.Event) {
			path := "local"
			if e.External {
				path = "external"
			}
			m.Votes.WithLabelValues(path).Inc()
		},
		OnConflict: func(_ context.Context, _ *domain.Event) {
			m.Conflicts.Inc()
		},
		OnCommit: func(_ context.Context, e *domain.Event) {
			kind := "voted"
			if e.Released {
				kind = "released"
			}
			m.Commits.WithLabelValues(kind).Inc()
			m.CommitSize.Observe(float64(len(e.Order)))
		},
		OnPhaseChange: func(_ context.Context, e *domain.Event) {
			m.Epoch.Set(float64(e.Epoch))
			m.setPhase(e.Phase)
		},
		OnPoolOpened: func(_ context.Context, e *domain.Event) {
			m.Epochs.Inc()
			m.Epoch.Set(float64(e.Epoch))
		},
		OnTaskCompleted: func(_ context.Context, e *domain.Event) {
			if e.Task != nil {
				m.Completions.WithLabelValues(e.Task.TaskName).Inc()
			}
		},
	}
}

func (m *Metrics) setPhase(current domain.Phase) {
	for _, p := range phases {
		v := 0.0
		if p == current {
			v = 1
		}
		m.Phase.WithLabelValues(string(p)).Set(v)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
