package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
)

type EnvelopeRouter interface {
	Route(ctx context.Context, envelope []byte) error
}

type DeadLetters interface {
	Status(ctx context.Context) (depth int, alarm bool, err error)
	Drain(ctx context.Context, n int) ([][]byte, error)
}

type ArchiveReader interface {
	ListBySource(ctx context.Context, source string) ([][]byte, error)
}

const maxEnvelopeBody = 256 << 10

// IngestAuditHandler routes an externally produced audit envelope.
func IngestAuditHandler(router EnvelopeRouter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEnvelopeBody))
		if err != nil {
			badRequest(w, "request body too large")
			return
		}
		if err := router.Route(r.Context(), body); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

type deadLetterResponse struct {
	Queue    string            `json:"queue"`
	Depth    int               `json:"depth"`
	Alarm    bool              `json:"alarm"`
	Messages []json.RawMessage `json:"messages,omitempty"`
}

func DeadLetterStatusHandler(name string, q DeadLetters) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		depth, alarm, err := q.Status(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, deadLetterResponse{Queue: name, Depth: depth, Alarm: alarm})
	}
}

// DrainDeadLettersHandler removes up to ?n= envelopes (all when absent) and
// returns them.
func DrainDeadLettersHandler(name string, q DeadLetters) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := 0
		if raw := r.URL.Query().Get("n"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 0 {
				badRequest(w, "n must be a non-negative integer")
				return
			}
			n = v
		}

		drained, err := q.Drain(r.Context(), n)
		if err != nil {
			writeError(w, r, err)
			return
		}
		depth, alarm, err := q.Status(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		msgs := make([]json.RawMessage, 0, len(drained))
		for _, m := range drained {
			msgs = append(msgs, m)
		}
		writeJSON(w, http.StatusOK, deadLetterResponse{Queue: name, Depth: depth, Alarm: alarm, Messages: msgs})
	}
}

func ListArchiveHandler(archive ArchiveReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		source := r.URL.Query().Get("source")
		if source == "" {
			badRequest(w, "source is required")
			return
		}
		envelopes, err := archive.ListBySource(r.Context(), source)
		if err != nil {
			writeError(w, r, err)
			return
		}
		msgs := make([]json.RawMessage, 0, len(envelopes))
		for _, e := range envelopes {
			msgs = append(msgs, e)
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}
