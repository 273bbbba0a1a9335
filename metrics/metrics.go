// Package metrics defines the minimal metrics surface the load engine and
// staging loader emit through. Implementations live in subpackages; callers
// that do not care pass nil or Nop().
package metrics

// Labels are low-cardinality tag key/values attached to a metric point.
type Labels map[string]string

// Backend receives metric points.
//
// When to use:
//   - Inject a Backend into merge.Engine or the stage loader to get load
//     counters and step durations.
//   - Keep core code depending only on this interface; concrete backends
//     (Datadog) are wired at the edge.
//
// Concurrency:
//   - Implementations must be safe for concurrent use.
type Backend interface {
	// IncCounter adds delta to a monotonically increasing counter.
	IncCounter(name string, delta float64, labels Labels)

	// ObserveHistogram records one observation of a distribution, e.g. a
	// step duration in seconds.
	ObserveHistogram(name string, value float64, labels Labels)

	// Flush pushes buffered points now instead of waiting for the next
	// periodic flush.
	Flush() error

	// Close flushes and releases backend resources. Call once at shutdown.
	Close() error
}

// Nop returns a Backend that discards everything.
func Nop() Backend { return nopBackend{} }

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }
func (nopBackend) Close() error                             { return nil }
