// Package metrics exposes Prometheus collectors for the queue, worker, and
// retention sweep. Collectors are registered on a private registry so tests
// and multiple daemons in one process do not collide.
package metrics
