package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ecommerce/internal/apperr"
	"ecommerce/internal/model"
	"ecommerce/internal/wsconn"
)

type InvoiceService interface {
	IssueGrant(ctx context.Context, connectionID, requestID string) (model.InvoiceTransaction, error)
	Cancel(ctx context.Context, key string) error
	Status(ctx context.Context, key string) (model.InvoiceTransactionStatus, error)
	ProcessUpload(ctx context.Context, key string, inv model.Invoice) (model.InvoiceTransactionStatus, error)
}

type UploadVerifier interface {
	Verify(rawURL string) (string, error)
}

type ConnectionSender interface {
	Send(ctx context.Context, connectionID string, data []byte) error
}

// WebSocket actions.
const (
	ActionGetImportURL    = "getImportUrl"
	ActionCancelImport    = "cancelImport"
	ActionGetImportStatus = "getImportStatus"
)

const maxInvoiceBody = 1 << 20

type wsRequest struct {
	Action        string `json:"action"`
	TransactionID string `json:"transactionId"`
}

type invoiceStatusResponse struct {
	TransactionID string                         `json:"transactionId"`
	Status        model.InvoiceTransactionStatus `json:"status"`
}

// InvoiceMessageHandler dispatches client WebSocket messages. Every message
// gets its own request id; failures are reported back on the socket.
func InvoiceMessageHandler(invoiceSvc InvoiceService, conns ConnectionSender) wsconn.MessageHandler {
	return func(ctx context.Context, connectionID string, payload []byte) {
		requestID := uuid.NewString()
		log := slog.With("connection_id", connectionID, "request_id", requestID)

		var req wsRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			reply(ctx, conns, connectionID, errorResponse{Status: http.StatusBadRequest, Message: "invalid json"})
			return
		}
		log = log.With("action", req.Action)

		switch req.Action {
		case ActionGetImportURL:
			_, err := invoiceSvc.IssueGrant(ctx, connectionID, requestID)
			switch kind := apperr.KindOf(err); {
			case err == nil:
			case kind == apperr.KindConnectionGone:
				log.Info("client left before the grant was delivered")
			default:
				log.Error("issue grant failed", "error", err)
				replyError(ctx, conns, connectionID, err)
			}

		case ActionCancelImport, ActionGetImportStatus:
			if req.TransactionID == "" {
				reply(ctx, conns, connectionID, errorResponse{Status: http.StatusBadRequest, Message: "transactionId is required"})
				return
			}
			if req.Action == ActionCancelImport {
				if err := invoiceSvc.Cancel(ctx, req.TransactionID); err != nil {
					log.Info("cancel import skipped", "transaction_id", req.TransactionID, "error", err)
					replyError(ctx, conns, connectionID, err)
				}
				return
			}
			status, err := invoiceSvc.Status(ctx, req.TransactionID)
			if err != nil {
				replyError(ctx, conns, connectionID, err)
				return
			}
			reply(ctx, conns, connectionID, invoiceStatusResponse{TransactionID: req.TransactionID, Status: status})

		default:
			reply(ctx, conns, connectionID, errorResponse{Status: http.StatusBadRequest, Message: "unknown action"})
		}
	}
}

func replyError(ctx context.Context, conns ConnectionSender, connectionID string, err error) {
	reply(ctx, conns, connectionID, errorResponse{Status: statusFor(apperr.KindOf(err)), Message: apperr.Message(err)})
}

func reply(ctx context.Context, conns ConnectionSender, connectionID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := conns.Send(ctx, connectionID, data); err != nil {
		slog.Info("reply not delivered", "connection_id", connectionID, "error", err)
	}
}

// UploadObjectHandler accepts the PUT of an invoice file to a pre-authorized
// URL and runs the upload-completion flow for its transaction.
func UploadObjectHandler(invoiceSvc InvoiceService, verifier UploadVerifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		granted, err := verifier.Verify(r.URL.String())
		if err != nil || granted != key {
			writeError(w, r, apperr.New(apperr.KindUnauthorized, "uploads.put", "invalid upload grant"))
			return
		}

		var inv model.Invoice
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInvoiceBody)).Decode(&inv); err != nil {
			badRequest(w, "invalid invoice file")
			return
		}
		processUpload(w, r, invoiceSvc, key, inv)
	}
}

type uploadNotification struct {
	TransactionID string        `json:"transactionId"`
	Invoice       model.Invoice `json:"invoice"`
}

// UploadNotificationHandler runs the upload-completion flow for files that
// reached the bucket through another path.
func UploadNotificationHandler(invoiceSvc InvoiceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req uploadNotification
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInvoiceBody)).Decode(&req); err != nil {
			badRequest(w, "invalid json")
			return
		}
		if req.TransactionID == "" {
			badRequest(w, "transactionId is required")
			return
		}
		processUpload(w, r, invoiceSvc, req.TransactionID, req.Invoice)
	}
}

func processUpload(w http.ResponseWriter, r *http.Request, invoiceSvc InvoiceService, key string, inv model.Invoice) {
	status, err := invoiceSvc.ProcessUpload(r.Context(), key, inv)
	if err != nil {
		if apperr.IsNoop(err) {
			slog.InfoContext(r.Context(), "late or repeated upload ignored", "transaction_id", key, "error", err)
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoiceStatusResponse{TransactionID: key, Status: status})
}

func InvoiceStatusHandler(invoiceSvc InvoiceService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "transactionId")
		status, err := invoiceSvc.Status(r.Context(), key)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, invoiceStatusResponse{TransactionID: key, Status: status})
	}
}
