package relay

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/babelroom/backend/internal/registry"
	"github.com/babelroom/backend/pkg/utils"
)

// RegisterRoomRoutes mounts the HTTP room-creation endpoint, a thin wrapper
// over the registry for clients that allocate a code before connecting.
func (h *Handler) RegisterRoomRoutes(r chi.Router) {
	r.Post("/rooms", h.handleCreateRoomHTTP)
}

func (h *Handler) handleCreateRoomHTTP(w http.ResponseWriter, r *http.Request) {
	code, err := h.registry.CreateRoom()
	if err != nil {
		if errors.Is(err, registry.ErrAllocationExhausted) {
			utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusCreated, map[string]string{"roomCode": code})
}
