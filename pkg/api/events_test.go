package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/actyx/pkg/types"
)

func TestPublishHandlerAppendsEventAndReturnsKey(t *testing.T) {
	s := testServer(t)

	body, err := json.Marshal(publishRequest{
		Stream:  1,
		Tags:    []string{"order", "created"},
		Payload: json.RawMessage(`{"id": 42}`),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/events/publish", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.publishHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp publishResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, uint64(0), resp.Offset)
	assert.Equal(t, s.node.NodeID(), resp.Stream.Node)
}

func TestPublishHandlerRejectsMalformedJSON(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/events/publish", strings.NewReader("not json"))
	w := httptest.NewRecorder()
	s.publishHandler(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var env ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	assert.Equal(t, "ERR_INVALID_INPUT", env.Code)
}

func TestQueryHandlerReturnsPublishedEvents(t *testing.T) {
	s := testServer(t)

	payload, err := cbor.Marshal(map[string]interface{}{"id": 7})
	require.NoError(t, err)
	_, err = s.node.Trees().Emit(1, types.NewTagSet("order"), payload)
	require.NoError(t, err)

	body, err := json.Marshal(queryRequest{Query: "FROM 'order'"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/events/query", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.queryHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var records []recordView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Tags, "order")
}

func TestOffsetsHandlerReflectsEmittedEvents(t *testing.T) {
	s := testServer(t)

	_, err := s.node.Trees().Emit(1, types.NewTagSet("x"), []byte{})
	require.NoError(t, err)
	_, err = s.node.Trees().Emit(1, types.NewTagSet("x"), []byte{})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/events/offsets", nil)
	w := httptest.NewRecorder()
	s.offsetsHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var offsets types.OffsetMap
	require.NoError(t, json.NewDecoder(w.Body).Decode(&offsets))
	stream := types.StreamId{Node: s.node.NodeID(), Stream: 1}
	assert.Equal(t, uint64(1), offsets[stream])
}

func TestNodeInfoHandlerReturnsNodeId(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/node/info", nil)
	w := httptest.NewRecorder()
	s.nodeInfoHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp nodeInfoResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, s.node.NodeID(), resp.NodeId)
}

func TestSubscribeHandlerStreamsMatchingEventsOverWebsocket(t *testing.T) {
	s := testServer(t)
	httpSrv := httptest.NewServer(s.router())
	defer httpSrv.Close()

	token, err := s.tokens.issue("com.example.app")
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/events/subscribe?q=" + url.QueryEscape("FROM 'tick'")
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial failed: %v (status %v)", err, resp)
	}
	defer conn.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = s.node.Trees().Emit(1, types.NewTagSet("tick"), []byte{})
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var outcome subscribeOutcome
	require.NoError(t, conn.ReadJSON(&outcome))
	require.NotNil(t, outcome.Record)
	assert.Contains(t, outcome.Record.Tags, "tick")
}
