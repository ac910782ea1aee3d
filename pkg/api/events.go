package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"

	"github.com/cuemby/actyx/pkg/aql"
	"github.com/cuemby/actyx/pkg/metrics"
	"github.com/cuemby/actyx/pkg/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Apps connect over loopback or a local reverse proxy, same trust
	// boundary as the rest of this facade; this isn't exposed across
	// origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type publishRequest struct {
	Stream  uint64          `json:"stream"`
	Tags    []string        `json:"tags"`
	Payload json.RawMessage `json:"payload"`
}

type publishResponse struct {
	Lamport uint64         `json:"lamport"`
	Stream  types.StreamId `json:"stream"`
	Offset  uint64         `json:"offset"`
}

// publishHandler implements POST /events/publish: it decodes a JSON
// payload, re-encodes it as CBOR (the wire convention every other
// layer of the node assumes), and calls the adapter's Emit, the one
// write path the core exposes.
func (s *Server) publishHandler(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer()

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &types.InputError{Op: "publish", Err: err})
		return
	}

	var decoded interface{}
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &decoded); err != nil {
			writeError(w, &types.InputError{Op: "publish", Err: err})
			return
		}
	}
	payload, err := cbor.Marshal(decoded)
	if err != nil {
		writeError(w, &types.InputError{Op: "publish", Err: err})
		return
	}

	key, err := s.node.Trees().Emit(req.Stream, types.NewTagSet(req.Tags...), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	timer.ObserveDuration(metrics.AppendLatency)
	metrics.EventsAppendedTotal.Inc()

	writeJSON(w, http.StatusOK, publishResponse{
		Lamport: key.Lamport,
		Stream:  key.Stream,
		Offset:  key.Offset,
	})
}

type queryRequest struct {
	Query string `json:"query"`
}

// recordView is the JSON rendering of an aql.Record: Event.Payload is
// decoded from CBOR back into a plain JSON value so callers never see
// the wire encoding.
type recordView struct {
	Stream  types.StreamId         `json:"stream,omitempty"`
	Offset  uint64                 `json:"offset,omitempty"`
	Lamport uint64                 `json:"lamport,omitempty"`
	Tags    []string               `json:"tags,omitempty"`
	Payload interface{}            `json:"payload,omitempty"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
	Agg     map[string]interface{} `json:"agg,omitempty"`
}

func renderRecord(rec aql.Record) recordView {
	view := recordView{
		Stream:  rec.Stream,
		Offset:  rec.Offset,
		Lamport: rec.Lamport,
		Fields:  rec.Fields,
		Agg:     rec.Agg,
	}
	if rec.Event != nil {
		view.Tags = tagSlice(rec.Event.Tags)
		var payload interface{}
		if err := cbor.Unmarshal(rec.Event.Payload, &payload); err == nil {
			view.Payload = payload
		}
	}
	return view
}

func tagSlice(ts types.TagSet) []string {
	out := make([]string, 0, len(ts))
	for t := range ts {
		out = append(out, t)
	}
	return out
}

// queryHandler implements POST /events/query: a bounded AQL query
// evaluated once over the streams currently known to the node and
// returned as a JSON array. Query.Upper defaults to the current end
// of every matching stream, so this is always a finite snapshot read
// even without an explicit BOUNDS clause.
func (s *Server) queryHandler(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer()

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &types.InputError{Op: "query", Err: err})
		return
	}

	q, err := aql.Parse(req.Query)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("parse_error").Inc()
		writeError(w, &types.InputError{Op: "query", Err: err})
		return
	}

	result, err := aql.Run(s.node.Trees(), q)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("error").Inc()
		writeError(w, err)
		return
	}

	records := make([]recordView, 0, 64)
	for {
		rec, ok, err := result.Next()
		if err != nil {
			metrics.QueriesTotal.WithLabelValues("error").Inc()
			writeError(w, err)
			return
		}
		if !ok {
			break
		}
		records = append(records, renderRecord(rec))
	}

	metrics.QueriesTotal.WithLabelValues("ok").Inc()
	timer.ObserveDuration(metrics.QueryLatency)
	writeJSON(w, http.StatusOK, records)
}

type subscribeOutcome struct {
	Record     *recordView `json:"record,omitempty"`
	TimeTravel bool        `json:"timeTravel,omitempty"`
}

// subscribeHandler implements /events/subscribe by upgrading to a
// websocket and streaming aql.Outcome values as they arrive, one JSON
// object per frame, until the client disconnects or the node closes
// the subscription. The websocket handshake is a GET by protocol
// (RFC 6455); the query and its options travel as query-string
// parameters rather than a JSON body: q (required AQL source),
// ordered (bool, default false), windowMillis (int, reorder buffer
// for ordered mode), and from (JSON-encoded OffsetMap to resume a
// prior subscription from).
func (s *Server) subscribeHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	q, err := aql.Parse(query.Get("q"))
	if err != nil {
		writeError(w, &types.InputError{Op: "subscribe", Err: err})
		return
	}

	mode := aql.Unordered
	if query.Get("ordered") == "true" {
		mode = aql.OrderedMonotonic
	}
	window := aql.DefaultOrderWindow
	if ms, err := strconv.ParseInt(query.Get("windowMillis"), 10, 64); err == nil && ms > 0 {
		window = time.Duration(ms) * time.Millisecond
	}

	var from types.OffsetMap
	if raw := query.Get("from"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &from); err != nil {
			writeError(w, &types.InputError{Op: "subscribe", Err: err})
			return
		}
	}

	live, err := aql.SubscribeWindowed(s.node.Trees(), q, mode, from, window)
	if err != nil {
		writeError(w, err)
		return
	}
	defer live.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	metrics.SubscriptionsActive.Inc()
	defer metrics.SubscriptionsActive.Dec()

	for outcome := range live.Outcomes() {
		view := subscribeOutcome{TimeTravel: outcome.TimeTravel}
		if !outcome.TimeTravel {
			rendered := renderRecord(outcome.Record)
			view.Record = &rendered
		}
		if err := conn.WriteJSON(view); err != nil {
			return
		}
	}
}

// offsetsHandler implements GET /events/offsets: the current offset
// map across every stream this node knows about, the watermark a
// client persists to resume a subscription later via `from`.
func (s *Server) offsetsHandler(w http.ResponseWriter, r *http.Request) {
	offsets := make(types.OffsetMap)
	for _, stream := range s.node.Trees().KnownStreams() {
		if next, ok := s.node.Trees().NextOffset(stream); ok && next > 0 {
			offsets[stream] = next - 1
		}
	}
	writeJSON(w, http.StatusOK, offsets)
}

type nodeInfoResponse struct {
	NodeId  types.NodeId `json:"nodeId"`
	Version string       `json:"version"`
}

// nodeInfoHandler implements GET /node/info.
func (s *Server) nodeInfoHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nodeInfoResponse{
		NodeId:  s.node.NodeID(),
		Version: buildVersion,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
