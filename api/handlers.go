package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shareloft/shareloft/internal/auth"
	"github.com/shareloft/shareloft/internal/logging"
	"github.com/shareloft/shareloft/pkg/schemas"
	"github.com/shareloft/shareloft/pkg/services"
)

type handler struct {
	srv *services.ApiService
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError translates the service taxonomy into the bounded set of
// caller-visible outcomes. Anything unmatched stays an opaque 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var code int
	switch {
	case errors.Is(err, services.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, services.ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, services.ErrAlreadyFulfilled):
		code = http.StatusConflict
	case errors.Is(err, services.ErrTransferPlanning), errors.Is(err, services.ErrUpstreamTimeout):
		code = http.StatusGatewayTimeout
	default:
		code = http.StatusInternalServerError
		logging.FromContext(r.Context()).Error("request failed", zap.Error(err))
		writeJSON(w, code, errorBody{Code: code, Message: http.StatusText(code)})
		return
	}
	writeJSON(w, code, errorBody{Code: code, Message: err.Error()})
}

func (h *handler) createShare(w http.ResponseWriter, r *http.Request) {
	var req schemas.CreateShare
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: http.StatusBadRequest, Message: "malformed body"})
		return
	}
	out, err := h.srv.CreateShare(r.Context(), auth.UserID(r.Context()), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *handler) listShares(w http.ResponseWriter, r *http.Request) {
	out, err := h.srv.ListShares(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) deleteShare(w http.ResponseWriter, r *http.Request) {
	if err := h.srv.DeleteShare(r.Context(), chi.URLParam(r, "id"), auth.UserID(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) readFulfillmentTarget(w http.ResponseWriter, r *http.Request) {
	out, err := h.srv.ReadFulfillmentTarget(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) submitFulfillment(w http.ResponseWriter, r *http.Request) {
	var payload schemas.FulfillPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: http.StatusBadRequest, Message: "malformed body"})
		return
	}
	out, err := h.srv.SubmitFulfillment(r.Context(), chi.URLParam(r, "id"), &payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
