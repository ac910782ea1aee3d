// Package api is the thin HTTP/WS facade in front of a node: it binds
// exactly the functions the core treats as its external contract —
// emit, query, subscribe, offsets — plus node info and an
// app-manifest-to-bearer-token login exchange, as a set of
// chi-routed http.Handlers over a *node.Node. The facade is a
// collaborator, not the core: everything here can be replaced by a
// different transport without the core's semantics changing.
package api
