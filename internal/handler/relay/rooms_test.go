package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/babelroom/backend/internal/registry"
	"github.com/babelroom/backend/internal/verify"
)

func TestCreateRoomEndpoint(t *testing.T) {
	reg := registry.New(0)
	svc := verify.NewService("k", "s", "w")
	h := New(reg, svc, nil)

	r := chi.NewRouter()
	h.RegisterRoomRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/rooms", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	var body struct {
		RoomCode string `json:"roomCode"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !regexp.MustCompile(`^[1-9][A-Za-z0-9]{5}$`).MatchString(body.RoomCode) {
		t.Fatalf("room code %q does not match grammar", body.RoomCode)
	}

	// The code is immediately joinable.
	s := reg.Connect()
	if _, _, err := reg.Join(body.RoomCode, s.ID, "alice", "en"); err != nil {
		t.Fatalf("join created room: %v", err)
	}
}
