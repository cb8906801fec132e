// Package handler serves the capsule HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/AlexZinkM/legacy-capsule/capsule"
	"github.com/AlexZinkM/legacy-capsule/internal/cache"
	"github.com/AlexZinkM/legacy-capsule/internal/client"
	"github.com/AlexZinkM/legacy-capsule/internal/crypto"
	"github.com/AlexZinkM/legacy-capsule/internal/log"
	"github.com/AlexZinkM/legacy-capsule/internal/model"
	"github.com/AlexZinkM/legacy-capsule/internal/store"

	"github.com/gagliardetto/solana-go"
)

// DefaultHeirCacheTTL bounds how long a heir looked up by email is served
// from cache.
const DefaultHeirCacheTTL = 10 * time.Minute

// UserStore is satisfied by *store.UserRepository.
type UserStore interface {
	Create(ctx context.Context, u *store.User) error
	FindByID(ctx context.Context, id uint) (*store.User, error)
}

// HeirStore is satisfied by *store.HeirRepository.
type HeirStore interface {
	Create(ctx context.Context, h *store.Heir) error
	FindByID(ctx context.Context, id uint) (*store.Heir, error)
	FindByEmail(ctx context.Context, email string) (*store.Heir, error)
}

// CapsuleStore is satisfied by *store.CapsuleRepository.
type CapsuleStore interface {
	Create(ctx context.Context, ownerID uint, c *store.Capsule) error
	FindByAddress(ctx context.Context, address string) (*model.CapsuleJoinRecord, error)
	UpdateStatus(ctx context.Context, id uint, next model.CapsuleStatus) error
	MarkClaimed(ctx context.Context, id uint, at time.Time) error
}

// KeyCodec seals and opens custodial keys. *crypto.SecretCodec satisfies it.
type KeyCodec interface {
	EncryptString(plaintext string) (string, error)
	DecryptPrivateKey(encoded string) (solana.PrivateKey, error)
}

// AccountReader reads capsule state without a signer.
type AccountReader interface {
	FetchCapsuleAccount(ctx context.Context, address solana.PublicKey) (*client.CapsuleAccount, error)
}

// Config holds the handler dependencies.
type Config struct {
	Users    UserStore
	Heirs    HeirStore
	Capsules CapsuleStore
	Keys     KeyCodec
	Cache    *cache.Cache
	Reader   AccountReader
	// Bind returns a ledger client signing as key.
	Bind           func(key solana.PrivateKey) capsule.Ledger
	ServiceOptions []capsule.Option

	HeirCacheTTL time.Duration
	Now          func() time.Time
}

// CapsuleHandler serves capsule and wallet endpoints.
type CapsuleHandler struct {
	cfg Config
}

// NewCapsuleHandler creates a handler from cfg.
func NewCapsuleHandler(cfg Config) (*CapsuleHandler, error) {
	switch {
	case cfg.Users == nil || cfg.Heirs == nil || cfg.Capsules == nil:
		return nil, errors.New("repositories are required")
	case cfg.Keys == nil:
		return nil, errors.New("key codec is required")
	case cfg.Cache == nil:
		return nil, errors.New("cache is required")
	case cfg.Reader == nil || cfg.Bind == nil:
		return nil, errors.New("ledger client is required")
	}
	if cfg.HeirCacheTTL <= 0 {
		cfg.HeirCacheTTL = DefaultHeirCacheTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CapsuleHandler{cfg: cfg}, nil
}

// service opens key and returns a capsule service signing with it. The
// returned func wipes the key.
func (h *CapsuleHandler) service(sealed string) (*capsule.Service, func(), error) {
	key, err := h.cfg.Keys.DecryptPrivateKey(sealed)
	if err != nil {
		return nil, nil, err
	}
	opts := append([]capsule.Option{capsule.WithClock(h.cfg.Now)}, h.cfg.ServiceOptions...)
	return capsule.NewService(h.cfg.Bind(key), opts...), func() { clear(key) }, nil
}

// heirByEmail serves heirs through the cache. The scheduler evicts the entry
// whenever it rotates the heir's password.
func (h *CapsuleHandler) heirByEmail(ctx context.Context, email string) (*store.Heir, error) {
	return cache.GetOrSet(ctx, h.cfg.Cache, cache.HeirKey(email), h.cfg.HeirCacheTTL, func(ctx context.Context) (*store.Heir, error) {
		return h.cfg.Heirs.FindByEmail(ctx, email)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg, Code: code})
}

func methodNotAllowed(w http.ResponseWriter, want string) {
	w.Header().Set("Allow", want)
	writeError(w, http.StatusMethodNotAllowed, model.CodeMethodNotAllowed, "Method not allowed. Should be "+want)
}

// writeFailure maps domain errors to HTTP statuses and error codes.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.API.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case capsule.IsValidationError(err):
		return http.StatusBadRequest, model.CodeValidation
	case errors.Is(err, capsule.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, model.CodeInsufficientFunds
	case errors.Is(err, capsule.ErrCapsuleStillLocked):
		return http.StatusConflict, model.CodeCapsuleLocked
	case errors.Is(err, capsule.ErrNotBeneficiary):
		return http.StatusForbidden, model.CodeNotBeneficiary
	case errors.Is(err, store.ErrNotFound), errors.Is(err, client.ErrAccountNotFound):
		return http.StatusNotFound, model.CodeNotFound
	case errors.Is(err, store.ErrDuplicate), errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, model.CodeConflict
	case capsule.IsCreationFailedError(err):
		return http.StatusBadGateway, model.CodeCreationFailed
	case capsule.IsReleaseFailedError(err):
		return http.StatusBadGateway, model.CodeReleaseFailed
	case errors.Is(err, capsule.ErrCheckinFailed):
		return http.StatusBadGateway, model.CodeCheckinFailed
	case errors.Is(err, capsule.ErrTransferFailed):
		return http.StatusBadGateway, model.CodeTransferFailed
	case errors.Is(err, crypto.ErrDecryptionFailed):
		return http.StatusInternalServerError, model.CodeDecryptionFailed
	}
	return http.StatusInternalServerError, model.CodeInternal
}
