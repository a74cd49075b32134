package session

import (
	"encoding/json"
	"time"
)

// Inbound frame types recognised on /game-control.
const (
	TypeRegister                = "register"
	TypeRegisterExpectedInvoice = "register_expected_invoice"
	TypeRequestInvoice          = "request_invoice"
	TypeGameEvent               = "game_event"
	TypeOrder                   = "order"
	TypeSendTo                  = "send-to"
)

// envelope is the first-pass decode of every inbound frame: just enough to
// pick an arm of the union. Admin frames may omit type entirely, so the
// command and source fields ride along.
type envelope struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Source  string `json:"source"`
}

// ============================================================================
// INBOUND FRAMES
// ============================================================================

type registerFrame struct {
	UserID   string `json:"userId"`
	PlayerID string `json:"playerId"`
}

// PID returns the identifier the client registered under. Clients in the
// wild send either field; playerId wins when both are present.
func (f *registerFrame) PID() string {
	if f.PlayerID != "" {
		return f.PlayerID
	}
	return f.UserID
}

type orderData struct {
	CustomerName  string          `json:"customerName"`
	CustomerEmail string          `json:"customerEmail"`
	OrderID       string          `json:"orderId"`
	Summary       json.RawMessage `json:"summary"`
}

type registerExpectedInvoiceFrame struct {
	UserID        string     `json:"userId"`
	PlayerID      string     `json:"playerId"`
	InvoiceNumber string     `json:"invoiceNumber"`
	OrderData     *orderData `json:"orderData"`
}

func (f *registerExpectedInvoiceFrame) PID() string {
	if f.PlayerID != "" {
		return f.PlayerID
	}
	return f.UserID
}

type requestInvoiceFrame struct {
	InvoiceNumber string `json:"invoiceNumber"`
}

type gameEventFrame struct {
	Event string `json:"event"`
}

type orderFrame struct {
	Data json.RawMessage `json:"data"`
}

type sendToFrame struct {
	TargetUserID string          `json:"targetUserId"`
	Message      json.RawMessage `json:"message"`
}

// ============================================================================
// OUTBOUND FRAMES
// ============================================================================

type welcomeFrame struct {
	Type              string   `json:"type"`
	Message           string   `json:"message"`
	AvailableCommands []string `json:"availableCommands"`
}

// GameStatus is the single game state fanned out to every session.
type GameStatus struct {
	Status      string    `json:"status"`
	LastUpdated time.Time `json:"lastUpdated"`
	UpdatedBy   string    `json:"updatedBy"`
}

type gameStatusFrame struct {
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	LastUpdated time.Time `json:"lastUpdated"`
	UpdatedBy   string    `json:"updatedBy"`
}

type registerResponseFrame struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

type registerExpectedInvoiceResponseFrame struct {
	Type          string `json:"type"`
	Status        string `json:"status"`
	InvoiceNumber string `json:"invoiceNumber"`
	PlayerID      string `json:"playerId"`
	Message       string `json:"message"`
}

type invoiceReadyFrame struct {
	Type          string    `json:"type"`
	InvoiceNumber string    `json:"invoiceNumber"`
	Filename      string    `json:"filename"`
	FileSize      int64     `json:"fileSize"`
	ProcessedAt   time.Time `json:"processedAt"`
	Message       string    `json:"message"`
}

type invoicePDFS3Metadata struct {
	S3Key          string    `json:"s3Key"`
	S3Size         int64     `json:"s3Size"`
	S3LastModified time.Time `json:"s3LastModified"`
}

type invoicePDFFrame struct {
	Type          string               `json:"type"`
	Status        string               `json:"status"`
	InvoiceNumber string               `json:"invoiceNumber"`
	Filename      string               `json:"filename"`
	MimeType      string               `json:"mimeType"`
	Base64Data    string               `json:"base64Data"`
	FileSize      int64                `json:"fileSize"`
	ProcessedAt   time.Time            `json:"processedAt"`
	S3Metadata    invoicePDFS3Metadata `json:"s3Metadata"`
	Summary       json.RawMessage      `json:"summary,omitempty"`
}

type invoiceErrorFrame struct {
	Type          string `json:"type"`
	Status        string `json:"status"`
	InvoiceNumber string `json:"invoiceNumber"`
	Message       string `json:"message"`
}

type orderErrorFrame struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

type directMessageFrame struct {
	Type      string          `json:"type"`
	From      string          `json:"from"`
	Message   json.RawMessage `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
}

type sendResponseFrame struct {
	Type         string `json:"type"`
	Status       string `json:"status"`
	TargetUserID string `json:"targetUserId"`
	Message      string `json:"message"`
}
