package metrics

// IMEMetrics holds the metrics recorded by the synchronization layer.
type IMEMetrics struct {
	registry *Registry

	SessionsRequested *Counter
	SessionsRejected  *Counter
	SessionsLatched   *Counter
	MutatorFailures   *Counter
	AsyncFailures     *Counter

	Commits             *Counter
	CompositionsStarted *Counter
	CompositionsEnded   *Counter
	MergeFailures       *Counter

	EngineRequests *Counter
	EngineErrors   *Counter

	ModeNotifications *Counter

	ActiveContexts *Gauge
	LatchedSites   *Gauge

	SessionDuration *Histogram
	EngineLatency   *Histogram
}

// NewIMEMetrics creates and registers the metrics in registry, or in the
// default registry when registry is nil.
func NewIMEMetrics(registry *Registry) *IMEMetrics {
	if registry == nil {
		registry = Default()
	}

	return &IMEMetrics{
		registry: registry,

		SessionsRequested: registry.RegisterCounter(
			"sessions_requested_total",
			"Session requests issued to the host",
			nil,
		),
		SessionsRejected: registry.RegisterCounter(
			"sessions_rejected_total",
			"Session requests refused by the host",
			nil,
		),
		SessionsLatched: registry.RegisterCounter(
			"sessions_latched_total",
			"Synchronous requests downgraded to asynchronous by the call-site latch",
			nil,
		),
		MutatorFailures: registry.RegisterCounter(
			"mutator_failures_total",
			"Synchronous session mutators that returned an error",
			nil,
		),
		AsyncFailures: registry.RegisterCounter(
			"async_mutator_failures_total",
			"Asynchronous session mutators that returned an error",
			nil,
		),
		Commits: registry.RegisterCounter(
			"commits_total",
			"Result strings committed to the host",
			nil,
		),
		CompositionsStarted: registry.RegisterCounter(
			"compositions_started_total",
			"Compositions started on the host surface",
			nil,
		),
		CompositionsEnded: registry.RegisterCounter(
			"compositions_ended_total",
			"Compositions ended on the host surface",
			nil,
		),
		MergeFailures: registry.RegisterCounter(
			"merge_failures_total",
			"Engine outputs that could not be applied to the surface",
			nil,
		),
		EngineRequests: registry.RegisterCounter(
			"engine_requests_total",
			"Key and command requests sent to the conversion engine",
			nil,
		),
		EngineErrors: registry.RegisterCounter(
			"engine_errors_total",
			"Failed conversion engine requests",
			nil,
		),
		ModeNotifications: registry.RegisterCounter(
			"mode_notifications_total",
			"Host-visible mode updates published",
			nil,
		),
		ActiveContexts: registry.RegisterGauge(
			"active_contexts",
			"Host contexts with private state",
			nil,
		),
		LatchedSites: registry.RegisterGauge(
			"latched_sites",
			"Call sites permanently downgraded to asynchronous sessions",
			nil,
		),
		SessionDuration: registry.RegisterHistogram(
			"session_duration_seconds",
			"Time spent inside synchronous session mutators",
			nil,
			LatencyBuckets,
		),
		EngineLatency: registry.RegisterHistogram(
			"engine_latency_seconds",
			"Round trip time of conversion engine requests",
			nil,
			LatencyBuckets,
		),
	}
}

// Registry returns the registry the metrics are registered in.
func (m *IMEMetrics) Registry() *Registry {
	return m.registry
}
