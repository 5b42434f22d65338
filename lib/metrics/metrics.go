// Package metrics records engine counters with rcrowley/go-metrics, the
// same library the teacher's api package uses for its own request timers
// (here each counter is registered explicitly into a private registry
// rather than through GetOrRegister), and exposes them for
// scraping through a Prometheus handler that the hosting process can
// mount on its own HTTP mux. The engine never listens on a socket itself.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	gometrics "github.com/rcrowley/go-metrics"
)

// Registry collects the small set of counters this engine cares about:
// deposit outcomes, scale renders, and fsck/replicator activity. Each
// counter is registered into its own private go-metrics registry (not
// the package-global one) so that multiple Registry instances, as tests
// construct, never collide on counter names.
type Registry struct {
	local gometrics.Registry

	deposits       gometrics.Counter
	dedupHits      gometrics.Counter
	scaleRenders   gometrics.Counter
	scaleHits      gometrics.Counter
	fsckIssues     gometrics.Counter
	replicatorRuns gometrics.Counter
	replicatorErrs gometrics.Counter

	promRegistry *prometheus.Registry
	promCounters map[string]prometheus.Counter
}

func New() *Registry {
	r := &Registry{
		local:        gometrics.NewRegistry(),
		promRegistry: prometheus.NewRegistry(),
		promCounters: make(map[string]prometheus.Counter),
	}
	r.deposits = r.counter("cdn_deposits_total")
	r.dedupHits = r.counter("cdn_dedup_hits_total")
	r.scaleRenders = r.counter("cdn_scale_renders_total")
	r.scaleHits = r.counter("cdn_scale_cache_hits_total")
	r.fsckIssues = r.counter("cdn_fsck_issues_total")
	r.replicatorRuns = r.counter("cdn_replicator_runs_total")
	r.replicatorErrs = r.counter("cdn_replicator_errors_total")
	return r
}

func (r *Registry) counter(name string) gometrics.Counter {
	c := gometrics.NewCounter()
	r.local.Register(name, c) //nolint:errcheck // name is always unique within one Registry

	pc := prometheus.NewCounter(prometheus.CounterOpts{Name: name})
	r.promRegistry.MustRegister(pc)
	r.promCounters[name] = pc
	return c
}

func (r *Registry) inc(c gometrics.Counter, name string) {
	c.Inc(1)
	r.promCounters[name].Inc()
}

// Count returns the current value of the named counter, for tests and
// for the support-bundle-style dump a caller may want alongside the
// Prometheus exposition. Unknown names return 0.
func (r *Registry) Count(name string) int64 {
	if m := r.local.Get(name); m != nil {
		if c, ok := m.(gometrics.Counter); ok {
			return c.Count()
		}
	}
	return 0
}

func (r *Registry) DepositAdded()    { r.inc(r.deposits, "cdn_deposits_total") }
func (r *Registry) DedupHit()        { r.inc(r.dedupHits, "cdn_dedup_hits_total") }
func (r *Registry) ScaleRendered()   { r.inc(r.scaleRenders, "cdn_scale_renders_total") }
func (r *Registry) ScaleCacheHit()   { r.inc(r.scaleHits, "cdn_scale_cache_hits_total") }
func (r *Registry) FsckIssue()       { r.inc(r.fsckIssues, "cdn_fsck_issues_total") }
func (r *Registry) ReplicatorRun()   { r.inc(r.replicatorRuns, "cdn_replicator_runs_total") }
func (r *Registry) ReplicatorError() { r.inc(r.replicatorErrs, "cdn_replicator_errors_total") }

// Handler returns an http.Handler the hosting process can mount, e.g. at
// "/metrics", to scrape these counters in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.promRegistry, promhttp.HandlerOpts{})
}
