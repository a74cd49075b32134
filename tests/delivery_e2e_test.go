// Package tests wires the real components together end to end: WebSocket
// sessions against a live server, the polling engine against an in-memory
// object store, and the invoice store against a real temp directory.
package tests

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderrush/backend/internal/invoicestore"
	"github.com/orderrush/backend/internal/objstore"
	"github.com/orderrush/backend/internal/poller"
	"github.com/orderrush/backend/internal/registry"
	"github.com/orderrush/backend/internal/session"
	"github.com/orderrush/backend/internal/sinks"
)

const bucket = "invoices"

// pdfPayload is 128 bytes, matching the canonical happy-path artifact.
var pdfPayload = append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte{'x'}, 119)...)

// =============================================================================
// STACK
// =============================================================================

type stack struct {
	dir    string
	gw     *objstore.MemoryGateway
	store  *invoicestore.Store
	reg    *registry.Registry
	router *session.Router
	engine *poller.Engine
	srv    *httptest.Server
}

func newStack(t *testing.T) *stack {
	t.Helper()
	return newStackAt(t, t.TempDir())
}

// newStackAt builds the whole delivery pipeline over an existing invoice
// directory, so tests can simulate a process restart by rebuilding on the
// same path.
func newStackAt(t *testing.T, dir string) *stack {
	t.Helper()

	store, err := invoicestore.NewStore(dir)
	require.NoError(t, err)

	s := &stack{
		dir:   dir,
		gw:    objstore.NewMemoryGateway(),
		store: store,
		reg:   registry.New(),
	}

	client := sinks.NewClient(sinks.Config{})
	dispatcher := sinks.NewDispatcher(client, 1)
	t.Cleanup(dispatcher.Shutdown)

	s.router = session.NewRouter(session.Deps{
		Store:      store,
		Registry:   s.reg,
		Sinks:      client,
		Dispatcher: dispatcher,
	})

	s.engine = poller.New(poller.Config{Bucket: bucket, MaxRetries: -1},
		s.gw, s.store, s.reg, s.router.Deliver, nil)

	s.srv = httptest.NewServer(http.HandlerFunc(s.router.HandleWebSocket))
	t.Cleanup(s.srv.Close)

	return s
}

func (s *stack) tick() {
	s.engine.RunOnce(context.Background())
}

func (s *stack) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	// Swallow welcome and initial game status
	readFrame(t, ws)
	readFrame(t, ws)
	return ws
}

func sendFrame(t *testing.T, ws *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(v))
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]interface{} {
	t.Helper()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := ws.ReadMessage()
	require.NoError(t, err)

	var frame map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &frame))
	return frame
}

func awaitFrame(t *testing.T, ws *websocket.Conn, wantType string) map[string]interface{} {
	t.Helper()

	for i := 0; i < 10; i++ {
		if frame := readFrame(t, ws); frame["type"] == wantType {
			return frame
		}
	}
	t.Fatalf("no %s frame arrived", wantType)
	return nil
}

func noFrame(t *testing.T, ws *websocket.Conn) {
	t.Helper()

	ws.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, payload, err := ws.ReadMessage()
	if err == nil {
		t.Fatalf("unexpected frame: %s", payload)
	}
}

func registerPlayer(t *testing.T, ws *websocket.Conn, pid string) {
	t.Helper()
	sendFrame(t, ws, map[string]string{"type": "register", "userId": pid})
	awaitFrame(t, ws, "register_response")
	awaitFrame(t, ws, "game_status")
}

func expectInvoice(t *testing.T, ws *websocket.Conn, pn, pid string, summary map[string]interface{}) {
	t.Helper()
	sendFrame(t, ws, map[string]interface{}{
		"type":          "register_expected_invoice",
		"userId":        pid,
		"invoiceNumber": pn,
		"orderData":     map[string]interface{}{"summary": summary},
	})
	awaitFrame(t, ws, "register_expected_invoice_response")
}

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestDelivery_HappyPath(t *testing.T) {
	s := newStack(t)

	alice := s.dial(t)
	registerPlayer(t, alice, "alice")
	expectInvoice(t, alice, "1030", "alice", map[string]interface{}{"total": 50})

	s.gw.PutObject(bucket, "invoice_1030.pdf", pdfPayload)
	s.tick()

	ready := awaitFrame(t, alice, "invoice_ready")
	assert.Equal(t, "1030", ready["invoiceNumber"])
	assert.EqualValues(t, 128, ready["fileSize"])

	// The record is durable under the canonical filename
	assert.FileExists(t, filepath.Join(s.dir, "invoice_1030.json"))

	sendFrame(t, alice, map[string]string{"type": "request_invoice", "invoiceNumber": "1030"})
	pdf := awaitFrame(t, alice, "invoice_pdf")

	assert.Equal(t, "success", pdf["status"])
	decoded, err := base64.StdEncoding.DecodeString(pdf["base64Data"].(string))
	require.NoError(t, err)
	assert.Equal(t, pdfPayload, decoded)
	assert.EqualValues(t, 50, pdf["summary"].(map[string]interface{})["total"])
}

// =============================================================================
// UNSOLICITED OBJECTS
// =============================================================================

func TestDelivery_UnsolicitedObjectUntouched(t *testing.T) {
	s := newStack(t)
	s.gw.PutObject(bucket, "invoice_9999.pdf", pdfPayload)

	s.tick()
	assert.Equal(t, 0, s.gw.ListCalls, "nothing expected, nothing listed")

	// Even with other registrations pending, 9999 stays invisible
	s.reg.Register(&registry.Expected{InvoiceNumber: "1", PlayerID: "alice"})
	s.tick()
	s.tick()

	assert.False(t, s.store.Has("9999"))
	assert.NotNil(t, s.reg.Lookup("1"))
}

// =============================================================================
// RE-REGISTRATION
// =============================================================================

func TestDelivery_ReRegistrationRedirectsToNewPlayer(t *testing.T) {
	s := newStack(t)

	alice := s.dial(t)
	registerPlayer(t, alice, "alice")
	bob := s.dial(t)
	registerPlayer(t, bob, "bob")

	expectInvoice(t, alice, "1030", "alice", nil)
	expectInvoice(t, bob, "1030", "bob", nil) // last write wins

	s.gw.PutObject(bucket, "1030.pdf", pdfPayload)
	s.tick()

	ready := awaitFrame(t, bob, "invoice_ready")
	assert.Equal(t, "1030", ready["invoiceNumber"])

	noFrame(t, alice)
	assert.Nil(t, s.reg.Lookup("1030"))
}

// =============================================================================
// OFFLINE PLAYER
// =============================================================================

func TestDelivery_LateArrivalWithOfflinePlayer(t *testing.T) {
	s := newStack(t)

	carol := s.dial(t)
	registerPlayer(t, carol, "carol")
	expectInvoice(t, carol, "2001", "carol", nil)
	carol.Close()
	time.Sleep(50 * time.Millisecond) // let the router unregister the session

	s.gw.PutObject(bucket, "invoice_2001.pdf", pdfPayload)
	s.tick()

	// Persisted despite nobody listening; registration released
	assert.True(t, s.store.Has("2001"))
	assert.Nil(t, s.reg.Lookup("2001"))

	carol2 := s.dial(t)
	registerPlayer(t, carol2, "carol")
	sendFrame(t, carol2, map[string]string{"type": "request_invoice", "invoiceNumber": "2001"})

	pdf := awaitFrame(t, carol2, "invoice_pdf")
	decoded, err := base64.StdEncoding.DecodeString(pdf["base64Data"].(string))
	require.NoError(t, err)
	assert.Equal(t, pdfPayload, decoded)
}

// =============================================================================
// CACHED RE-DELIVERY ACROSS RESTART
// =============================================================================

func TestDelivery_CachedRecordSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	first := newStackAt(t, dir)
	firstConn := first.dial(t)
	registerPlayer(t, firstConn, "alice")
	expectInvoice(t, firstConn, "1030", "alice", nil)
	first.gw.PutObject(bucket, "invoice_1030.pdf", pdfPayload)
	first.tick()
	awaitFrame(t, firstConn, "invoice_ready")
	firstConn.Close()
	first.srv.Close()

	// New process over the same invoice directory
	restarted := newStackAt(t, dir)
	require.True(t, restarted.store.Has("1030"), "dedup cache must seed from disk")

	alice := restarted.dial(t)
	registerPlayer(t, alice, "alice")
	expectInvoice(t, alice, "1030", "alice", nil)

	restarted.gw.PutObject(bucket, "invoice_1030.pdf", pdfPayload)
	restarted.gw.FetchErr = assert.AnError // re-delivery must not refetch

	restarted.tick()

	ready := awaitFrame(t, alice, "invoice_ready")
	assert.Equal(t, "1030", ready["invoiceNumber"])
	assert.Equal(t, 0, restarted.gw.FetchCalls)
	assert.Nil(t, restarted.reg.Lookup("1030"))
}

// =============================================================================
// BAD REQUESTS
// =============================================================================

func TestDelivery_UnknownInvoiceRequest(t *testing.T) {
	s := newStack(t)

	ws := s.dial(t)
	registerPlayer(t, ws, "alice")

	sendFrame(t, ws, map[string]string{"type": "request_invoice", "invoiceNumber": "nope"})

	resp := awaitFrame(t, ws, "invoice_response")
	assert.Equal(t, "error", resp["status"])
	assert.Equal(t, "nope", resp["invoiceNumber"])
	assert.Equal(t, "Invoice nope not found", resp["message"])

	// The session is still serviceable
	sendFrame(t, ws, map[string]string{"type": "game_event", "event": "start"})
	status := awaitFrame(t, ws, "game_status")
	assert.Equal(t, "start", status["status"])
}
