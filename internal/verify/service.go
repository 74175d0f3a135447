package verify

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

var (
	ErrNonceReused         = errors.New("nonce already used")
	ErrInvalidVerification = errors.New("invalid verification hash")
	ErrMissingHeaders      = errors.New("missing verification headers")
	ErrExpired             = errors.New("verification timestamp expired")
	ErrInvalidSignature    = errors.New("invalid signature")
)

// webTimestampWindow bounds how old a web verification request may be.
const webTimestampWindow = 5 * time.Minute

// NativeRequest is the one-round-trip verification payload sent by native
// clients.
type NativeRequest struct {
	DeviceID         string `json:"deviceId"`
	Timestamp        string `json:"timestamp"`
	Nonce            string `json:"nonce"`
	BundleID         string `json:"bundleId"`
	VerificationHash string `json:"verificationHash"`
}

// NativeResponse carries the server's side of the handshake back to a
// native client.
type NativeResponse struct {
	AppKey             string `json:"appKey"`
	ServerChallenge    string `json:"serverChallenge"`
	ServerVerification string `json:"serverVerification"`
}

// Service validates connecting clients. It owns the nonce store and the
// process-wide verified-origin set; neither survives a restart.
type Service struct {
	initialSharedKey string
	sharedSecret     string
	webSecret        []byte
	nonces           *NonceStore

	mu      sync.RWMutex
	origins map[string]struct{}

	// now is swappable for tests.
	now func() time.Time
}

// NewService builds a verification service from the configured secrets.
func NewService(initialSharedKey, sharedSecret, webSecret string) *Service {
	return &Service{
		initialSharedKey: initialSharedKey,
		sharedSecret:     sharedSecret,
		webSecret:        []byte(webSecret),
		nonces:           NewNonceStore(),
		origins:          make(map[string]struct{}),
		now:              time.Now,
	}
}

// Nonces exposes the store so main can start the retention sweeper.
func (s *Service) Nonces() *NonceStore {
	return s.nonces
}

// VerifyNative checks a native client's proof of possession of the initial
// shared key and, on success, consumes the nonce and issues the server-side
// challenge material.
func (s *Service) VerifyNative(req NativeRequest) (NativeResponse, error) {
	if s.nonces.Seen(req.Nonce) {
		return NativeResponse{}, ErrNonceReused
	}

	payload := req.DeviceID + ":" + req.Timestamp + ":" + req.Nonce + ":" + req.BundleID + ":" + s.initialSharedKey
	expected := sha256Hex(payload)

	// Plain string comparison, not constant-time. The original handshake
	// defined it this way; the web flow below deliberately differs.
	if expected != req.VerificationHash {
		return NativeResponse{}, ErrInvalidVerification
	}

	// Consume atomically: a concurrent attempt with the same nonce loses.
	if !s.nonces.Consume(req.Nonce) {
		return NativeResponse{}, ErrNonceReused
	}

	challenge, err := randomChallenge()
	if err != nil {
		return NativeResponse{}, fmt.Errorf("generate challenge: %w", err)
	}

	return NativeResponse{
		AppKey:             sha256Hex(s.sharedSecret)[:32],
		ServerChallenge:    challenge,
		ServerVerification: sha256Hex(challenge + ":" + req.VerificationHash),
	}, nil
}

// VerifyWeb checks a browser origin's signed timestamp and, on success,
// admits the origin for cross-origin connections for the life of the
// process.
func (s *Service) VerifyWeb(timestamp, signature, origin string) error {
	if timestamp == "" || signature == "" || origin == "" {
		return ErrMissingHeaders
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if s.now().Unix()-ts > int64(webTimestampWindow.Seconds()) {
		return ErrExpired
	}

	mac := hmac.New(sha256.New, s.webSecret)
	mac.Write([]byte(timestamp + ":" + origin))
	expected := hex.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return ErrInvalidSignature
	}

	s.mu.Lock()
	s.origins[origin] = struct{}{}
	s.mu.Unlock()

	return nil
}

// OriginVerified reports whether the origin passed web verification earlier
// in this process's lifetime.
func (s *Service) OriginVerified(origin string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.origins[origin]
	return ok
}

func sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

func randomChallenge() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
