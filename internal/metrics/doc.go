/*
Package metrics exports virtual filesystem metrics to Prometheus.

The Collector counts every dispatched operation by operation, provider and
outcome, times it with a latency histogram, and follows the backend client
cache: constructions, live clients and invalidations.

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Address:   ":9464",
		Path:      "/metrics",
		Namespace: "gvfs",
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := collector.Start(ctx); err != nil {
		log.Fatal(err)
	}

Pass the collector as the dispatcher's Recorder and as the client cache
Observer. Use Noop when metrics are disabled.

Exported series (namespace gvfs):

	gvfs_operations_total{operation,provider,status}
	gvfs_operation_duration_seconds{operation,provider}
	gvfs_operation_bytes_total{operation,provider}
	gvfs_client_constructions_total{provider,status}
	gvfs_clients_live{provider}
	gvfs_client_invalidations_total{provider,reason}

The status label is "ok" or the lower-cased error code, e.g. "transient_backend".
*/
package metrics
