package metrics

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haukened/netpolicyd/internal/netpolicy/domain"
)

// Debounce outcomes reported by the importance tracker.
const (
	DebounceScheduled = "scheduled"
	DebounceApplied   = "applied"
	DebounceCancelled = "cancelled"
	DebounceStale     = "stale"
)

// Recorder receives counters from every component. Implementations must be
// safe for concurrent use.
type Recorder interface {
	ObserveDecision(class domain.NetworkClass, reason domain.ReasonCode)
	ObserveEvent(kind domain.ChangeKind)
	ObserveDebounce(outcome string)
	ObserveEnforcement(v domain.Verdict, err error)
}

// Prometheus implements Recorder on a private registry.
//
// Metrics:
//   - <ns>_decisions_total{network,reason}
//   - <ns>_change_events_total{kind}
//   - <ns>_debounce_transitions_total{outcome}
//   - <ns>_enforcement_pushes_total{blocked,result}
//
// WatchVerdictCache and WatchJournal add scrape-time views of the verdict
// cache and the state journal.
type Prometheus struct {
	namespace   string
	registry    *prometheus.Registry
	decisions   *prometheus.CounterVec
	events      *prometheus.CounterVec
	debounce    *prometheus.CounterVec
	enforcement *prometheus.CounterVec
}

// NewPrometheus creates and registers the collectors. A nil registry gets a fresh one.
func NewPrometheus(namespace string, registry *prometheus.Registry) *Prometheus {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	p := &Prometheus{
		namespace: namespace,
		registry:  registry,
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Total number of networking decisions by network class and reason",
			},
			[]string{"network", "reason"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "change_events_total",
				Help:      "Total number of published policy and importance change events",
			},
			[]string{"kind"},
		),
		debounce: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "debounce_transitions_total",
				Help:      "Background transitions by debounce outcome",
			},
			[]string{"outcome"},
		),
		enforcement: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enforcement_pushes_total",
				Help:      "Verdicts handed to the enforcer",
			},
			[]string{"blocked", "result"},
		),
	}
	registry.MustRegister(p.decisions, p.events, p.debounce, p.enforcement)
	return p
}

func (p *Prometheus) ObserveDecision(class domain.NetworkClass, reason domain.ReasonCode) {
	p.decisions.WithLabelValues(class.String(), reason.String()).Inc()
}

func (p *Prometheus) ObserveEvent(kind domain.ChangeKind) {
	p.events.WithLabelValues(kind.String()).Inc()
}

func (p *Prometheus) ObserveDebounce(outcome string) {
	p.debounce.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) ObserveEnforcement(v domain.Verdict, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.enforcement.WithLabelValues(strconv.FormatBool(v.Blocked), result).Inc()
}

// CacheSnapshot is a point-in-time view of the verdict cache.
type CacheSnapshot struct {
	Capacity  int
	Size      int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// WatchVerdictCache exports the values returned by stats on every scrape.
//
//   - <ns>_verdict_cache_capacity
//   - <ns>_verdict_cache_entries
//   - <ns>_verdict_cache_hits_total
//   - <ns>_verdict_cache_misses_total
//   - <ns>_verdict_cache_evictions_total
func (p *Prometheus) WatchVerdictCache(stats func() CacheSnapshot) error {
	return p.register(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts(p.opts("verdict_cache_capacity", "Configured verdict cache capacity")),
			func() float64 { return float64(stats().Capacity) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts(p.opts("verdict_cache_entries", "Verdicts currently cached")),
			func() float64 { return float64(stats().Size) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts(p.opts("verdict_cache_hits_total", "Pushes skipped because the verdict was unchanged")),
			func() float64 { return float64(stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts(p.opts("verdict_cache_misses_total", "Verdict cache lookups that found nothing")),
			func() float64 { return float64(stats().Misses) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts(p.opts("verdict_cache_evictions_total", "Verdicts evicted or forgotten")),
			func() float64 { return float64(stats().Evictions) }),
	)
}

// JournalSnapshot is a point-in-time view of the state journal.
type JournalSnapshot struct {
	Version     uint64
	UpdatedUnix int64
	Enabled     int
	Members     int
}

// WatchJournal exports the values returned by stats on every scrape.
//
//   - <ns>_journal_mutations_total
//   - <ns>_journal_last_update_timestamp_seconds
//   - <ns>_journal_enabled_modes
//   - <ns>_journal_list_members
func (p *Prometheus) WatchJournal(stats func() JournalSnapshot) error {
	return p.register(
		prometheus.NewCounterFunc(prometheus.CounterOpts(p.opts("journal_mutations_total", "Policy mutations recorded in the state journal")),
			func() float64 { return float64(stats().Version) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts(p.opts("journal_last_update_timestamp_seconds", "Unix time of the last recorded mutation")),
			func() float64 { return float64(stats().UpdatedUnix) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts(p.opts("journal_enabled_modes", "Global modes persisted as enabled")),
			func() float64 { return float64(stats().Enabled) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts(p.opts("journal_list_members", "List memberships persisted across every list")),
			func() float64 { return float64(stats().Members) }),
	)
}

func (p *Prometheus) opts(name, help string) prometheus.Opts {
	return prometheus.Opts{Namespace: p.namespace, Name: name, Help: help}
}

func (p *Prometheus) register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := p.registry.Register(c); err != nil {
			return fmt.Errorf("register collector: %w", err)
		}
	}
	return nil
}

// Registry exposes the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

type noop struct{}

// NewNoop returns a Recorder that discards everything.
func NewNoop() Recorder { return noop{} }

func (noop) ObserveDecision(domain.NetworkClass, domain.ReasonCode) {}
func (noop) ObserveEvent(domain.ChangeKind)                         {}
func (noop) ObserveDebounce(string)                                 {}
func (noop) ObserveEnforcement(domain.Verdict, error)               {}

var _ Recorder = (*Prometheus)(nil)
var _ Recorder = noop{}
