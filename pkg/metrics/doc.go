/*
Package metrics defines and registers the Prometheus collectors a
running node exposes at /metrics: stream/block/peer counts, gossip
and block-exchange activity, query latency, and HTTP API request
counters.

All metrics are registered at package init with prometheus.MustRegister,
the same pattern the rest of this module's dependencies use — no
runtime registration is needed by callers.

Metric catalog:

actyx_streams_total — gauge, total streams known to this node (owned + replicated).
actyx_events_appended_total — counter, events appended to locally-owned streams.
actyx_events_ingested_total{owner} — counter, events pulled in from remote peers during exchange.
actyx_append_latency_seconds — histogram, time to append one event locally.
actyx_blocks_total — gauge, blocks held in the local block store.
actyx_blocks_gc_total — counter, blocks reclaimed by garbage collection.
actyx_gc_duration_seconds — histogram, time for one GC mark-and-sweep pass.
actyx_peers_total / actyx_peers_connected_total — gauges, known vs. live-connected peers.
actyx_gossip_rounds_total — counter, heartbeat broadcasts sent.
actyx_wants_sent_total — counter, block want-list entries sent.
actyx_lamport_clock — gauge, this node's current Lamport value.
actyx_queries_total{outcome} — counter, AQL queries run by outcome (ok/parse_error/error).
actyx_query_latency_seconds — histogram, time to fully evaluate a bounded query.
actyx_subscriptions_active — gauge, open live subscriptions.
actyx_api_requests_total{route,status} / actyx_api_request_duration_seconds{route} — HTTP facade instrumentation.
*/
package metrics
