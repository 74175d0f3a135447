package registry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/babelroom/backend/internal/model/room"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomFull            = errors.New("room is full")
	ErrAllocationExhausted = errors.New("room code allocation exhausted")
	ErrLanguageRequired    = errors.New("language is required")
)

// Room codes are one digit 1-9 followed by five alphanumerics.
const (
	codeFirstAlphabet = "123456789"
	codeRestAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	codeLength        = 6
	maxCodeAttempts   = 64
)

// activeRoom holds one room's membership. order preserves join order for
// member-list broadcasts; byLanguage indexes session IDs by their declared
// language and is kept as an exact partition of order at all times.
type activeRoom struct {
	code       string
	createdAt  time.Time
	order      []string
	byLanguage map[string]map[string]struct{}
}

// Departure describes the room a session implicitly left by joining a
// different one.
type Departure struct {
	Code    string
	Members []room.Member
	Closed  bool
}

// Registry is the single authority for sessions, rooms and the per-room
// language index. All operations take the mutex for their own duration only;
// nothing here performs network or disk I/O.
type Registry struct {
	mu         sync.Mutex
	sessions   map[string]*room.Session
	rooms      map[string]*activeRoom
	maxMembers int
}

// New creates an empty registry. maxMembers caps room size; zero means
// unlimited.
func New(maxMembers int) *Registry {
	return &Registry{
		sessions:   make(map[string]*room.Session),
		rooms:      make(map[string]*activeRoom),
		maxMembers: maxMembers,
	}
}

// Connect provisions a session for a freshly connected transport.
func (r *Registry) Connect() room.Session {
	s := &room.Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	return *s
}

// Session returns a snapshot of the session, if it exists.
func (r *Registry) Session(sessionID string) (room.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return room.Session{}, false
	}
	return *s, true
}

// CreateRoom allocates a fresh room code. The room itself is not created
// until the first member joins; a code is reserved by inserting an empty
// shell that Join fills in. Allocation failure leaves no trace.
func (r *Registry) CreateRoom() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		if _, taken := r.rooms[code]; taken {
			continue
		}
		r.rooms[code] = &activeRoom{
			code:       code,
			createdAt:  time.Now(),
			byLanguage: make(map[string]map[string]struct{}),
		}
		return code, nil
	}

	return "", ErrAllocationExhausted
}

// Join adds the session to the room, or updates it in place if it is
// already a member (a rejoin after a language change moves the session
// between language groups without duplicating membership). A session that
// was in another room is removed from it first; the non-nil Departure
// reports that room's remaining members so callers can notify them. A
// failed join leaves the previous membership untouched. Returns the
// updated, join-ordered member list.
func (r *Registry) Join(code, sessionID, name, language string) ([]room.Member, *Departure, error) {
	if language == "" {
		return nil, nil, ErrLanguageRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	rm, ok := r.rooms[code]
	if !ok {
		return nil, nil, ErrRoomNotFound
	}

	var departure *Departure
	if rm.contains(sessionID) {
		// Rejoin: move between language groups, keep join order.
		rm.removeFromGroup(s.Language, sessionID)
		rm.addToGroup(language, sessionID)
	} else {
		if r.maxMembers > 0 && len(rm.order) >= r.maxMembers {
			return nil, nil, ErrRoomFull
		}
		if s.RoomCode != "" && s.RoomCode != code {
			prevCode, prevMembers, prevClosed := r.leaveLocked(sessionID)
			if prevCode != "" {
				departure = &Departure{Code: prevCode, Members: prevMembers, Closed: prevClosed}
			}
		}
		rm.order = append(rm.order, sessionID)
		rm.addToGroup(language, sessionID)
	}

	if name != "" {
		s.Name = name
	}
	s.Language = language
	s.RoomCode = code

	return r.memberList(rm), departure, nil
}

// Leave removes the session from whatever room it is in. It reports the
// room code, the remaining member list, and whether the room was destroyed
// (last member out tears down the room and its index in the same step).
// Calling Leave for a session that is in no room is a no-op.
func (r *Registry) Leave(sessionID string) (code string, members []room.Member, closed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(sessionID)
}

// Disconnect removes the session entirely: out of its room, then out of the
// session table.
func (r *Registry) Disconnect(sessionID string) (code string, members []room.Member, closed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, members, closed = r.leaveLocked(sessionID)
	delete(r.sessions, sessionID)
	return code, members, closed
}

func (r *Registry) leaveLocked(sessionID string) (string, []room.Member, bool) {
	s, ok := r.sessions[sessionID]
	if !ok || s.RoomCode == "" {
		return "", nil, false
	}

	code := s.RoomCode
	s.RoomCode = ""

	rm, ok := r.rooms[code]
	if !ok {
		return "", nil, false
	}

	rm.removeFromOrder(sessionID)
	rm.removeFromGroup(s.Language, sessionID)

	if len(rm.order) == 0 {
		delete(r.rooms, code)
		return code, nil, true
	}
	return code, r.memberList(rm), false
}

// SweepIdleRooms deletes reserved codes that were never joined within ttl.
// Occupied rooms are never swept; they are torn down when their last member
// leaves. Returns the number of shells removed.
func (r *Registry) SweepIdleRooms(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for code, rm := range r.rooms {
		if len(rm.order) == 0 && rm.createdAt.Before(cutoff) {
			delete(r.rooms, code)
			removed++
		}
	}
	return removed
}

// StartSweeping launches a background sweep of never-joined room shells
// every interval, until ctx is cancelled.
func (r *Registry) StartSweeping(ctx context.Context, interval, ttl time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := r.SweepIdleRooms(ttl); removed > 0 {
					log.Printf("[registry] swept %d idle room codes", removed)
				}
			}
		}
	}()
}

// Members returns the join-ordered member list of a room.
func (r *Registry) Members(code string) ([]room.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r.memberList(rm), nil
}

// MembersExcept returns every current member of the room other than the
// given session, in join order. Fan-out targets are always computed from
// this, never from cached state.
func (r *Registry) MembersExcept(code, sessionID string) ([]room.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}

	members := make([]room.Member, 0, len(rm.order))
	for _, id := range rm.order {
		if id == sessionID {
			continue
		}
		if s, ok := r.sessions[id]; ok {
			members = append(members, room.Member{ID: s.ID, Name: s.Name, Language: s.Language})
		}
	}
	return members, nil
}

// InRoom reports whether the session is currently a member of the room.
// Delivery decisions re-check this immediately before sending.
func (r *Registry) InRoom(code, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return false
	}
	return rm.contains(sessionID)
}

func (r *Registry) memberList(rm *activeRoom) []room.Member {
	members := make([]room.Member, 0, len(rm.order))
	for _, id := range rm.order {
		if s, ok := r.sessions[id]; ok {
			members = append(members, room.Member{ID: s.ID, Name: s.Name, Language: s.Language})
		}
	}
	return members
}

func (rm *activeRoom) contains(sessionID string) bool {
	for _, id := range rm.order {
		if id == sessionID {
			return true
		}
	}
	return false
}

func (rm *activeRoom) addToGroup(language, sessionID string) {
	group, ok := rm.byLanguage[language]
	if !ok {
		group = make(map[string]struct{})
		rm.byLanguage[language] = group
	}
	group[sessionID] = struct{}{}
}

func (rm *activeRoom) removeFromGroup(language, sessionID string) {
	group, ok := rm.byLanguage[language]
	if !ok {
		return
	}
	delete(group, sessionID)
	if len(group) == 0 {
		delete(rm.byLanguage, language)
	}
}

func (rm *activeRoom) removeFromOrder(sessionID string) {
	for i, id := range rm.order {
		if id == sessionID {
			rm.order = append(rm.order[:i], rm.order[i+1:]...)
			return
		}
	}
}

// generateCode draws a random code from the room-code grammar.
func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	code := make([]byte, codeLength)
	code[0] = codeFirstAlphabet[int(buf[0])%len(codeFirstAlphabet)]
	for i := 1; i < codeLength; i++ {
		code[i] = codeRestAlphabet[int(buf[i])%len(codeRestAlphabet)]
	}
	return string(code), nil
}
