package verify

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/babelroom/backend/internal/verify"
	"github.com/babelroom/backend/pkg/utils"
)

// Handler exposes the origin-verification handshake over HTTP. One endpoint
// serves both flows: browsers send signed headers, native clients send a
// JSON body.
type Handler struct {
	svc *verify.Service
}

// New creates the verification handler.
func New(svc *verify.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the verification endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/verify-origin", h.handleVerify)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Signature") != "" || r.Header.Get("X-Timestamp") != "" {
		h.handleWeb(w, r)
		return
	}
	h.handleNative(w, r)
}

func (h *Handler) handleWeb(w http.ResponseWriter, r *http.Request) {
	err := h.svc.VerifyWeb(
		r.Header.Get("X-Timestamp"),
		r.Header.Get("X-Signature"),
		r.Header.Get("Origin"),
	)
	if err != nil {
		utils.RespondJSON(w, statusFor(err), map[string]string{"error": reasonFor(err)})
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

func (h *Handler) handleNative(w http.ResponseWriter, r *http.Request) {
	var req verify.NativeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.svc.VerifyNative(req)
	if err != nil {
		utils.RespondJSON(w, statusFor(err), map[string]string{"error": reasonFor(err)})
		return
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

// reasonFor maps verification failures to stable reason codes; they are the
// synchronous contract with the caller, there is no server-side retry.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, verify.ErrNonceReused):
		return "nonce_reused"
	case errors.Is(err, verify.ErrInvalidVerification):
		return "invalid_verification"
	case errors.Is(err, verify.ErrMissingHeaders):
		return "missing_headers"
	case errors.Is(err, verify.ErrExpired):
		return "expired"
	case errors.Is(err, verify.ErrInvalidSignature):
		return "invalid_signature"
	default:
		return "verification_failed"
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, verify.ErrMissingHeaders):
		return http.StatusBadRequest
	case errors.Is(err, verify.ErrNonceReused):
		return http.StatusConflict
	default:
		return http.StatusUnauthorized
	}
}
