/*
Package metrics exposes Prometheus instrumentation for the helper
runtime: a gauge of live queries by state, a histogram of gateway
send-buffer occupancy at flush time, and a counter of interactive
multiplication rounds per query. Handler returns the standard
promhttp handler for mounting at /metrics.

This package also carries a small generic health-check facility
(HealthHandler/ReadyHandler/LivenessHandler), independent of the
Prometheus registry, which cmd/helper mounts on its separate metrics
listener alongside /metrics; pkg/network does not serve them.
*/
package metrics
