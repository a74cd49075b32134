package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/orderrush/backend/internal/invoicestore"
	"github.com/orderrush/backend/internal/registry"
)

// dispatch routes one inbound frame. Malformed and unknown frames are
// dropped without a response. Until a session has registered, every frame
// except register is ignored.
func (r *Router) dispatch(c *Conn, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		slog.Debug("Dropping malformed frame", "conn", c.id, "error", err)
		return
	}

	r.metrics.RecordFrame(env.Type)

	pid := r.pidOf(c)
	if pid == "" && env.Type != TypeRegister {
		slog.Debug("Dropping frame from unregistered session", "conn", c.id, "type", env.Type)
		return
	}

	// Admin panel frames carry command+source instead of a routable type
	if env.Source == "admin-panel" && env.Command != "" {
		r.handleAdminCommand(env.Command)
		return
	}

	switch env.Type {
	case TypeRegister:
		r.handleRegister(c, payload)
	case TypeRegisterExpectedInvoice:
		r.handleRegisterExpectedInvoice(c, payload)
	case TypeRequestInvoice:
		r.handleRequestInvoice(c, pid, payload)
	case TypeGameEvent:
		r.handleGameEvent(c, pid, payload)
	case TypeOrder:
		r.handleOrder(c, payload)
	case TypeSendTo:
		r.handleSendTo(c, pid, payload)
	default:
		slog.Debug("Ignoring unknown frame type", "conn", c.id, "type", env.Type)
	}
}

func (r *Router) handleRegister(c *Conn, payload []byte) {
	var f registerFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return
	}
	pid := f.PID()
	if pid == "" {
		slog.Debug("Ignoring register without player id", "conn", c.id)
		return
	}

	r.register(pid, c)

	c.enqueue(registerResponseFrame{
		Type:    "register_response",
		Status:  "success",
		UserID:  pid,
		Message: "Registered as " + pid,
	})
	c.enqueue(r.statusFrame())
}

func (r *Router) handleRegisterExpectedInvoice(c *Conn, payload []byte) {
	var f registerExpectedInvoiceFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return
	}
	if f.InvoiceNumber == "" {
		slog.Debug("Ignoring expected-invoice registration without number", "conn", c.id)
		return
	}

	exp := &registry.Expected{
		InvoiceNumber: f.InvoiceNumber,
		PlayerID:      f.PID(),
		RegisteredAt:  time.Now().UTC(),
	}
	if f.OrderData != nil {
		exp.CustomerName = f.OrderData.CustomerName
		exp.CustomerEmail = f.OrderData.CustomerEmail
		exp.OrderID = f.OrderData.OrderID
		exp.Summary = f.OrderData.Summary
	}

	r.registry.Register(exp)
	if len(exp.Summary) > 0 {
		r.rememberSummary(exp.InvoiceNumber, exp.Summary)
	}
	r.metrics.SetPendingExpected(r.registry.Len())

	c.enqueue(registerExpectedInvoiceResponseFrame{
		Type:          "register_expected_invoice_response",
		Status:        "success",
		InvoiceNumber: f.InvoiceNumber,
		PlayerID:      exp.PlayerID,
		Message:       "Watching for invoice " + f.InvoiceNumber,
	})
}

func (r *Router) handleRequestInvoice(c *Conn, pid string, payload []byte) {
	var f requestInvoiceFrame
	if err := json.Unmarshal(payload, &f); err != nil || f.InvoiceNumber == "" {
		return
	}

	rec, err := r.store.Get(f.InvoiceNumber)
	if err != nil {
		msg := "Failed to read invoice " + f.InvoiceNumber
		if errors.Is(err, invoicestore.ErrNotFound) {
			msg = "Invoice " + f.InvoiceNumber + " not found"
		} else {
			slog.Warn("Invoice read failed", "invoice", f.InvoiceNumber, "error", err)
		}
		c.enqueue(invoiceErrorFrame{
			Type:          "invoice_response",
			Status:        "error",
			InvoiceNumber: f.InvoiceNumber,
			Message:       msg,
		})
		return
	}

	c.enqueue(invoicePDFFrame{
		Type:          "invoice_pdf",
		Status:        "success",
		InvoiceNumber: rec.InvoiceNumber,
		Filename:      rec.Filename,
		MimeType:      "application/pdf",
		Base64Data:    rec.Base64Data,
		FileSize:      rec.FileSize,
		ProcessedAt:   rec.ProcessedAt,
		S3Metadata: invoicePDFS3Metadata{
			S3Key:          rec.S3Metadata.S3Key,
			S3Size:         rec.S3Metadata.S3Size,
			S3LastModified: rec.S3Metadata.S3LastModified,
		},
		Summary: r.summaryFor(rec.InvoiceNumber, pid),
	})
	slog.Info("📄 invoice_pdf sent", "invoice", rec.InvoiceNumber, "player", pid, "bytes", rec.FileSize)
}

func (r *Router) handleGameEvent(c *Conn, pid string, payload []byte) {
	var f gameEventFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return
	}

	switch f.Event {
	case "game_over":
		// The sink wants the payload exactly as the client sent it
		r.dispatcher.EmitGameOver(json.RawMessage(payload))
		slog.Info("🏁 game_over forwarded", "player", pid)
	case "start", "pause", "end":
		frame := r.setStatus(f.Event, pid)
		r.Broadcast(frame)
		slog.Info("Game status changed", "status", f.Event, "by", pid)
	default:
		slog.Debug("Ignoring unknown game event", "event", f.Event)
	}
}

func (r *Router) handleAdminCommand(cmd string) {
	switch cmd {
	case "start", "pause", "end":
		frame := r.setStatus(cmd, "admin-panel")
		r.Broadcast(frame)
		slog.Info("Game status changed", "status", cmd, "by", "admin-panel")
	case "new":
		frame := r.setStatus(StatusWaiting, "admin-panel")
		r.Broadcast(frame)
		slog.Info("Game reset", "by", "admin-panel")
	default:
		slog.Debug("Ignoring unknown admin command", "command", cmd)
	}
}

func (r *Router) handleOrder(c *Conn, payload []byte) {
	var f orderFrame
	if err := json.Unmarshal(payload, &f); err != nil || len(f.Data) == 0 {
		return
	}

	resp, err := r.sinks.ProcessOrder(context.Background(), f.Data)
	if err != nil {
		slog.Warn("Order sink failed", "error", err)
		c.enqueue(orderErrorFrame{
			Type:    "order_response",
			Status:  "error",
			Error:   err.Error(),
			Message: "Failed to process order",
		})
		return
	}

	// Relay the sink's response verbatim, stamped with the frame type
	var relay map[string]interface{}
	if err := json.Unmarshal(resp, &relay); err != nil {
		slog.Warn("Order sink returned non-object response", "error", err)
		c.enqueue(orderErrorFrame{
			Type:    "order_response",
			Status:  "error",
			Error:   "invalid sink response",
			Message: "Failed to process order",
		})
		return
	}
	relay["type"] = "order_response"
	c.enqueue(relay)
}

func (r *Router) handleSendTo(c *Conn, pid string, payload []byte) {
	var f sendToFrame
	if err := json.Unmarshal(payload, &f); err != nil || f.TargetUserID == "" {
		return
	}

	target := r.lookup(f.TargetUserID)
	if target == nil {
		c.enqueue(sendResponseFrame{
			Type:         "send_response",
			Status:       "error",
			TargetUserID: f.TargetUserID,
			Message:      "Player " + f.TargetUserID + " is not connected",
		})
		return
	}

	target.enqueue(directMessageFrame{
		Type:      "direct_message",
		From:      pid,
		Message:   f.Message,
		Timestamp: time.Now().UTC(),
	})
	c.enqueue(sendResponseFrame{
		Type:         "send_response",
		Status:       "success",
		TargetUserID: f.TargetUserID,
		Message:      "Delivered to " + f.TargetUserID,
	})
}
