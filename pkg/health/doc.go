// Package health provides the Checker interface (HTTP and TCP) and the
// Status/Config bookkeeping used to turn a stream of raw check results
// into a debounced healthy/unhealthy verdict.
//
// pkg/node's Start uses a TCPChecker to probe each configured
// bootstrap address once at startup and log whether it answered.
// HTTPChecker and the Status/Config bookkeeping (a target is marked
// unhealthy after Config.Retries consecutive failures and healthy
// again on its first success) have no caller inside this module.
package health
