package aql

import (
	"fmt"
	"sort"

	"github.com/cuemby/actyx/pkg/banyan"
	"github.com/cuemby/actyx/pkg/trees"
	"github.com/cuemby/actyx/pkg/types"
)

// Record is one row of query output: either a projected field set, a
// pass-through event (no SELECT given), or the single folded
// aggregate record a query with aggregation projections produces.
type Record struct {
	Stream  types.StreamId
	Offset  uint64
	Lamport uint64
	Event   *types.Event
	Fields  map[string]interface{}
	Agg     map[string]interface{}
}

// Result is the lazy sequence a bounded query produces: the source
// stage delegates to the trees Adapter one stream at a time
// (stream-major order); evaluation across streams is unordered, only
// per-stream order is guaranteed.
type Result struct {
	adapter *trees.Adapter
	q       *Query

	streams []types.StreamId
	idx     int
	cur     *banyan.Cursor

	aggregate bool
	accs      []*accumulator
	aggDone   bool
}

// Run evaluates q as a bounded (finite) query over every stream the
// adapter currently knows about.
func Run(adapter *trees.Adapter, q *Query) (*Result, error) {
	aggregate, err := projectionMode(q.Select)
	if err != nil {
		return nil, err
	}

	streams := adapter.KnownStreams()
	sort.Slice(streams, func(i, j int) bool {
		if streams[i].Node != streams[j].Node {
			return streams[i].Node < streams[j].Node
		}
		return streams[i].Stream < streams[j].Stream
	})

	r := &Result{adapter: adapter, q: q, streams: streams, aggregate: aggregate}
	if aggregate {
		r.accs = make([]*accumulator, len(q.Select))
		for i, item := range q.Select {
			r.accs[i] = newAccumulator(item)
		}
	}
	return r, nil
}

// projectionMode validates that Select items are either all plain
// field projections or all aggregations — AQL has no GROUP BY, so
// mixing the two has no defined meaning.
func projectionMode(items []ProjItem) (bool, error) {
	if len(items) == 0 {
		return false, nil
	}
	aggregate := items[0].Agg != AggNone
	for _, it := range items[1:] {
		if (it.Agg != AggNone) != aggregate {
			return false, fmt.Errorf("cannot mix plain fields and aggregations in one SELECT")
		}
	}
	return aggregate, nil
}

// Next returns the next output record. For an aggregating query the
// entire bounded range is folded on the first call and a single
// record returned; subsequent calls return ok=false.
func (r *Result) Next() (Record, bool, error) {
	if r.aggregate {
		return r.nextAggregate()
	}
	return r.nextRow()
}

func (r *Result) nextAggregate() (Record, bool, error) {
	if r.aggDone {
		return Record{}, false, nil
	}
	r.aggDone = true

	for _, stream := range r.streams {
		cur, err := r.adapter.Cursor(stream, r.q.Tags, r.q.Lower, r.q.Upper)
		if err != nil {
			return Record{}, false, err
		}
		for {
			ev, ok, err := cur.Next()
			if err != nil {
				return Record{}, false, err
			}
			if !ok {
				break
			}
			if !r.matchesWhere(ev) {
				continue
			}
			payload, _ := decodePayload(ev.Payload)
			for _, acc := range r.accs {
				acc.add(payload)
			}
		}
	}

	out := make(map[string]interface{}, len(r.accs))
	for _, acc := range r.accs {
		out[acc.item.As] = acc.result()
	}
	return Record{Agg: out}, true, nil
}

func (r *Result) nextRow() (Record, bool, error) {
	for {
		if r.cur == nil {
			if r.idx >= len(r.streams) {
				return Record{}, false, nil
			}
			cur, err := r.adapter.Cursor(r.streams[r.idx], r.q.Tags, r.q.Lower, r.q.Upper)
			if err != nil {
				return Record{}, false, err
			}
			r.cur = cur
			r.idx++
		}

		ev, ok, err := r.cur.Next()
		if err != nil {
			return Record{}, false, err
		}
		if !ok {
			r.cur = nil
			continue
		}
		if !r.matchesWhere(ev) {
			continue
		}
		return r.project(ev), true, nil
	}
}

func (r *Result) matchesWhere(ev types.Event) bool {
	if r.q.Where == nil {
		return true
	}
	payload, ok := decodePayload(ev.Payload)
	if !ok {
		return false
	}
	return evalPredicate(r.q.Where, payload)
}

func (r *Result) project(ev types.Event) Record {
	rec := Record{Stream: ev.Key.Stream, Offset: ev.Key.Offset, Lamport: ev.Key.Lamport}
	if len(r.q.Select) == 0 {
		e := ev
		rec.Event = &e
		return rec
	}
	payload, _ := decodePayload(ev.Payload)
	fields := make(map[string]interface{}, len(r.q.Select))
	for _, item := range r.q.Select {
		val, _ := lookupPath(payload, item.Path)
		fields[item.As] = val
	}
	rec.Fields = fields
	return rec
}
