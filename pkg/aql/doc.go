// Package aql is the query runtime: it parses an AQL query string into
// a pipeline of stages (source, filter, projection/aggregation) and
// evaluates it lazily against a pkg/trees Adapter.
//
// The parser is a small hand-written recursive-descent lexer/parser
// pair; no parser-generator or combinator library appears anywhere in
// the example pack for this kind of grammar, so this is the one place
// in the module that is deliberately stdlib-only (see DESIGN.md).
// Everything downstream of parsing — payload decoding, the bounded
// evaluator, the two live subscription modes — reuses the module's
// usual stack: fxamacker/cbor/v2 for payload access and pkg/trees'
// existing broker/cursor plumbing for event production.
package aql
