package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/billsplit/settle"
	"github.com/billsplit/settle/id"
	"github.com/billsplit/settle/identity"
	"github.com/billsplit/settle/payment"
	"github.com/billsplit/settle/processor"
	"github.com/billsplit/settle/receipt"
)

type server struct {
	engine   *settle.Engine
	verifier *identity.JWTVerifier
}

func newServer(eng *settle.Engine, verifier *identity.JWTVerifier) *server {
	return &server{engine: eng, verifier: verifier}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Dev-only token minting; a real deployment fronts this with an
	// identity provider instead.
	mux.HandleFunc("POST /v1/auth/token", s.handleToken)

	// Processor webhooks authenticate by shared knowledge of the
	// provider ref, not by bearer token.
	mux.HandleFunc("POST /v1/webhooks/processor", s.handleWebhook)

	auth := func(h func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
		return s.authenticated(h)
	}

	mux.HandleFunc("POST /v1/receipts", auth(s.handleCreateReceipt))
	mux.HandleFunc("GET /v1/receipts", auth(s.handleListReceipts))
	mux.HandleFunc("POST /v1/receipts/scan", auth(s.handleScanReceipt))
	mux.HandleFunc("GET /v1/receipts/{id}", auth(s.handleGetReceipt))
	mux.HandleFunc("DELETE /v1/receipts/{id}", auth(s.handleDeleteReceipt))
	mux.HandleFunc("GET /v1/receipts/{id}/settlement", auth(s.handleSettlement))
	mux.HandleFunc("POST /v1/receipts/{id}/items", auth(s.handleAddItems))
	mux.HandleFunc("POST /v1/receipts/{id}/participants", auth(s.handleAddParticipant))
	mux.HandleFunc("DELETE /v1/receipts/{id}/participants/{userID}", auth(s.handleRemoveParticipant))
	mux.HandleFunc("POST /v1/receipts/{id}/items/{itemID}/claim", auth(s.handleClaimItem))
	mux.HandleFunc("DELETE /v1/receipts/{id}/items/{itemID}/claim", auth(s.handleUnclaimItem))
	mux.HandleFunc("POST /v1/receipts/{id}/payments", auth(s.handleInitiatePayment))
	mux.HandleFunc("GET /v1/receipts/{id}/payments/quote", auth(s.handlePaymentQuote))

	return mux
}

// authenticated resolves the bearer token and passes the caller's user id
// to the wrapped handler.
func (s *server) authenticated(h func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeError(w, settle.ErrUnauthenticated)
			return
		}
		ident, err := s.engine.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}
		h(w, r, ident.UserID)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleToken(w http.ResponseWriter, r *http.Request) {
	var in identity.Identity
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.UserID == "" {
		writeError(w, settle.ValidationError{Field: "user_id", Message: "user id is required"})
		return
	}
	token, err := s.verifier.Generate(&in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// ──────────────────────────────────────────────────
// Receipt handlers
// ──────────────────────────────────────────────────

type createReceiptRequest struct {
	Title          string                `json:"title"`
	Currency       string                `json:"currency"`
	Items          []settle.ItemInput    `json:"items"`
	ParticipantIDs []string              `json:"participant_ids"`
	Tax            settle.Money          `json:"tax"`
	ServiceCharge  settle.Money          `json:"service_charge"`
	Participants   []receipt.Participant `json:"participants"`
}

func (s *server) handleCreateReceipt(w http.ResponseWriter, r *http.Request, userID string) {
	var in createReceiptRequest
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.engine.CreateReceipt(r.Context(), userID, settle.CreateReceiptInput{
		Title:          in.Title,
		Currency:       in.Currency,
		Items:          in.Items,
		ParticipantIDs: in.ParticipantIDs,
		Tax:            in.Tax,
		ServiceCharge:  in.ServiceCharge,
		Participants:   in.Participants,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type scanReceiptRequest struct {
	Image          []byte   `json:"image"`
	ContentType    string   `json:"content_type"`
	Currency       string   `json:"currency"`
	ParticipantIDs []string `json:"participant_ids"`
}

func (s *server) handleScanReceipt(w http.ResponseWriter, r *http.Request, userID string) {
	var in scanReceiptRequest
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.engine.CreateReceiptFromAnalysis(r.Context(), userID, in.Image, in.ContentType, in.Currency, in.ParticipantIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *server) handleListReceipts(w http.ResponseWriter, r *http.Request, userID string) {
	opts := receipt.ListOpts{
		Status: receipt.Status(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		opts.Limit, _ = strconv.Atoi(v) //nolint:errcheck // zero on parse failure means no limit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		opts.Offset, _ = strconv.Atoi(v) //nolint:errcheck // zero on parse failure means no offset
	}
	receipts, err := s.engine.ListReceipts(r.Context(), userID, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

func (s *server) handleGetReceipt(w http.ResponseWriter, r *http.Request, userID string) {
	receiptID, err := id.ParseReceiptID(r.PathValue("id"))
	if err != nil {
		writeError(w, settle.ErrReceiptNotFound)
		return
	}
	got, err := s.engine.GetReceipt(r.Context(), userID, receiptID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (s *server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request, userID string) {
	receiptID, err := id.ParseReceiptID(r.PathValue("id"))
	if err != nil {
		writeError(w, settle.ErrReceiptNotFound)
		return
	}
	force := r.URL.Query().Get("force") == "true"
	if err := s.engine.DeleteReceipt(r.Context(), userID, receiptID, force); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSettlement(w http.ResponseWriter, r *http.Request, userID string) {
	receiptID, err := id.ParseReceiptID(r.PathValue("id"))
	if err != nil {
		writeError(w, settle.ErrReceiptNotFound)
		return
	}
	summary, err := s.engine.Settlement(r.Context(), userID, receiptID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *server) handleAddItems(w http.ResponseWriter, r *http.Request, userID string) {
	receiptID, err := id.ParseReceiptID(r.PathValue("id"))
	if err != nil {
		writeError(w, settle.ErrReceiptNotFound)
		return
	}
	var in struct {
		Items []settle.ItemInput `json:"items"`
	}
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.engine.AddItems(r.Context(), userID, receiptID, in.Items)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *server) handleAddParticipant(w http.ResponseWriter, r *http.Request, userID string) {
	receiptID, err := id.ParseReceiptID(r.PathValue("id"))
	if err != nil {
		writeError(w, settle.ErrReceiptNotFound)
		return
	}
	var in receipt.Participant
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.engine.AddParticipant(r.Context(), userID, receiptID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *server) handleRemoveParticipant(w http.ResponseWriter, r *http.Request, userID string) {
	receiptID, err := id.ParseReceiptID(r.PathValue("id"))
	if err != nil {
		writeError(w, settle.ErrReceiptNotFound)
		return
	}
	updated, err := s.engine.RemoveParticipant(r.Context(), userID, receiptID, r.PathValue("userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// ──────────────────────────────────────────────────
// Claim handlers
// ──────────────────────────────────────────────────

func (s *server) handleClaimItem(w http.ResponseWriter, r *http.Request, userID string) {
	receiptID, itemID, err := pathIDs(r)
	if err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.engine.ClaimItem(r.Context(), userID, receiptID, itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *server) handleUnclaimItem(w http.ResponseWriter, r *http.Request, userID string) {
	receiptID, itemID, err := pathIDs(r)
	if err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.engine.UnclaimItem(r.Context(), userID, receiptID, itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// ──────────────────────────────────────────────────
// Payment handlers
// ──────────────────────────────────────────────────

type initiatePaymentRequest struct {
	ItemIDs []string `json:"item_ids"`
}

func (s *server) parseItemIDs(raw []string) ([]id.ItemID, error) {
	itemIDs := make([]id.ItemID, 0, len(raw))
	for _, v := range raw {
		itemID, err := id.ParseItemID(v)
		if err != nil {
			return nil, settle.ValidationError{Field: "item_ids", Message: "invalid item id " + v}
		}
		itemIDs = append(itemIDs, itemID)
	}
	return itemIDs, nil
}

func (s *server) handleInitiatePayment(w http.ResponseWriter, r *http.Request, userID string) {
	receiptID, err := id.ParseReceiptID(r.PathValue("id"))
	if err != nil {
		writeError(w, settle.ErrReceiptNotFound)
		return
	}
	var in initiatePaymentRequest
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	itemIDs, err := s.parseItemIDs(in.ItemIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	pay, err := s.engine.InitiatePayment(r.Context(), userID, receiptID, itemIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	// The client secret rides only on this response; it is never part of
	// the stored document.
	writeJSON(w, http.StatusCreated, struct {
		*payment.Payment
		ClientSecret string `json:"client_secret"`
	}{pay, pay.ClientSecret})
}

func (s *server) handlePaymentQuote(w http.ResponseWriter, r *http.Request, userID string) {
	receiptID, err := id.ParseReceiptID(r.PathValue("id"))
	if err != nil {
		writeError(w, settle.ErrReceiptNotFound)
		return
	}
	itemIDs, err := s.parseItemIDs(r.URL.Query()["item_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := s.engine.PaymentAmountDue(r.Context(), userID, receiptID, itemIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]settle.Money{"amount": amount})
}

func (s *server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var ev processor.Event
	if err := decode(r, &ev); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.HandleWebhook(r.Context(), ev); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func pathIDs(r *http.Request) (id.ReceiptID, id.ItemID, error) {
	receiptID, err := id.ParseReceiptID(r.PathValue("id"))
	if err != nil {
		return id.ID{}, id.ID{}, settle.ErrReceiptNotFound
	}
	itemID, err := id.ParseItemID(r.PathValue("itemID"))
	if err != nil {
		return id.ID{}, id.ID{}, settle.ErrItemNotFound
	}
	return receiptID, itemID, nil
}

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return settle.ValidationError{Field: "body", Message: "invalid JSON"}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // response already committed
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps engine errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, settle.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case settle.IsForbidden(err):
		status = http.StatusForbidden
	case settle.IsNotFound(err):
		status = http.StatusNotFound
	case settle.IsConflict(err):
		status = http.StatusConflict
	case errors.Is(err, settle.ErrInvalidInput):
		status = http.StatusBadRequest
	case settle.IsDomain(err):
		status = http.StatusUnprocessableEntity
	default:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
