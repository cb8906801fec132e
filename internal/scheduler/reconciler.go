// Package scheduler periodically moves capsules whose unlock condition holds
// from locked to pending and hands their beneficiaries claim credentials.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AlexZinkM/legacy-capsule/internal/cache"
	"github.com/AlexZinkM/legacy-capsule/internal/client"
	"github.com/AlexZinkM/legacy-capsule/internal/crypto"
	"github.com/AlexZinkM/legacy-capsule/internal/log"
	"github.com/AlexZinkM/legacy-capsule/internal/model"
	"github.com/AlexZinkM/legacy-capsule/internal/notify"
	"github.com/AlexZinkM/legacy-capsule/internal/retry"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	DefaultInterval       = time.Minute
	DefaultLockedCacheTTL = 50 * time.Second
	DefaultPasswordTTL    = 2 * time.Hour
	DefaultPasswordLength = 16
)

// Ledger is the part of client.LedgerClient the reconciler uses, bound to
// a capsule owner.
type Ledger interface {
	FetchLockStatus(ctx context.Context, owner solana.PublicKey, capsuleID string) (client.LockStatus, error)
	BuildUnlockCheckInstruction(owner solana.PublicKey, capsuleID string) (solana.Instruction, error)
	SendAndConfirm(ctx context.Context, ixs ...solana.Instruction) (solana.Signature, error)
}

// CapsuleStore is the capsule repository. *store.CapsuleRepository satisfies it.
type CapsuleStore interface {
	ListLocked(ctx context.Context) ([]model.CapsuleJoinRecord, error)
	ListAwaitingNotice(ctx context.Context) ([]model.CapsuleJoinRecord, error)
	MarkPending(ctx context.Context, capsuleID, heirID uint, passwordHash string, expiry time.Time) (bool, error)
	StartNotice(ctx context.Context, capsuleID uint, at time.Time) (bool, error)
	CancelNotice(ctx context.Context, capsuleID uint) error
	MarkNotified(ctx context.Context, capsuleID uint, at time.Time) error
}

// HeirStore is the heir repository. *store.HeirRepository satisfies it.
type HeirStore interface {
	UpdateTemporaryPassword(ctx context.Context, heirID uint, hash string, expiry time.Time) error
}

// KeyOpener decrypts sealed owner keys. *crypto.SecretCodec satisfies it.
type KeyOpener interface {
	DecryptPrivateKey(encoded string) (solana.PrivateKey, error)
}

// Config holds the reconciler's dependencies.
type Config struct {
	Capsules CapsuleStore
	Heirs    HeirStore
	Cache    *cache.Cache
	Keys     KeyOpener
	Notifier notify.Notifier
	// Bind returns a ledger client signing as key.
	Bind func(key solana.PrivateKey) Ledger

	LockedCacheTTL time.Duration
	PasswordTTL    time.Duration
	PasswordLength int
	// NoticeRetry bounds the attempts to record a delivered notice.
	NoticeRetry retry.Policy

	Now        func() time.Time
	Registerer prometheus.Registerer
	Logger     *zerolog.Logger
}

// Reconciler runs reconciliation ticks.
type Reconciler struct {
	cfg     Config
	metrics *metrics
	log     zerolog.Logger
}

// NewReconciler validates cfg and fills in defaults.
func NewReconciler(cfg Config) (*Reconciler, error) {
	switch {
	case cfg.Capsules == nil:
		return nil, errors.New("capsule store is required")
	case cfg.Heirs == nil:
		return nil, errors.New("heir store is required")
	case cfg.Cache == nil:
		return nil, errors.New("cache is required")
	case cfg.Keys == nil:
		return nil, errors.New("key opener is required")
	case cfg.Notifier == nil:
		return nil, errors.New("notifier is required")
	case cfg.Bind == nil:
		return nil, errors.New("ledger binder is required")
	}
	if cfg.LockedCacheTTL <= 0 {
		cfg.LockedCacheTTL = DefaultLockedCacheTTL
	}
	if cfg.PasswordTTL <= 0 {
		cfg.PasswordTTL = DefaultPasswordTTL
	}
	if cfg.PasswordLength < crypto.MinPasswordLength {
		cfg.PasswordLength = DefaultPasswordLength
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := log.Scheduler
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	if cfg.NoticeRetry.MaxAttempts == 0 {
		cfg.NoticeRetry = retry.Policy{
			MaxAttempts:     retry.DefaultMaxAttempts,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Log:             logger,
		}
	}
	cfg.NoticeRetry.Op = "mark_notified"
	return &Reconciler{
		cfg:     cfg,
		metrics: newMetrics(cfg.Registerer),
		log:     logger,
	}, nil
}

// TickReport summarizes one tick.
type TickReport struct {
	Scanned      int
	Transitioned int
	Resumed      int
	Failed       int
}

// Tick reconciles once. Per-capsule failures are logged and counted, never
// returned. Cancelling ctx stops the tick between capsules; the capsule in
// progress is finished.
func (r *Reconciler) Tick(ctx context.Context) TickReport {
	start := time.Now()
	r.metrics.ticks.Inc()
	defer func() { r.metrics.tickDuration.Observe(time.Since(start).Seconds()) }()

	var report TickReport
	work := context.WithoutCancel(ctx)

	// Capsules left pending without a delivered notice by an earlier tick
	waiting, err := r.cfg.Capsules.ListAwaitingNotice(ctx)
	if err != nil {
		r.fail(stageLoad, nil, err)
	}
	for i := range waiting {
		if ctx.Err() != nil {
			return report
		}
		if r.resume(work, &waiting[i]) {
			report.Resumed++
		} else {
			report.Failed++
		}
	}

	locked, err := cache.GetOrSet(ctx, r.cfg.Cache, cache.LockedCapsulesKey, r.cfg.LockedCacheTTL, r.cfg.Capsules.ListLocked)
	if err != nil {
		r.fail(stageLoad, nil, err)
		return report
	}
	for i := range locked {
		if ctx.Err() != nil {
			break
		}
		report.Scanned++
		r.metrics.scanned.Inc()
		switch r.reconcile(work, &locked[i]) {
		case outcomeTransitioned:
			report.Transitioned++
		case outcomeFailed:
			report.Failed++
		}
	}

	r.log.Debug().
		Int("scanned", report.Scanned).
		Int("transitioned", report.Transitioned).
		Int("resumed", report.Resumed).
		Int("failed", report.Failed).
		Dur("took", time.Since(start)).
		Msg("reconciliation tick done")
	return report
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeTransitioned
	outcomeFailed
)

// reconcile handles one locked capsule.
func (r *Reconciler) reconcile(ctx context.Context, rec *model.CapsuleJoinRecord) outcome {
	ledger, owner, err := r.bindOwner(rec)
	if err != nil {
		r.fail(stageDecrypt, rec, err)
		return outcomeFailed
	}

	status, err := ledger.FetchLockStatus(ctx, owner, rec.CapsuleUniqueID)
	if err != nil {
		r.fail(stageLockStatus, rec, err)
		return outcomeFailed
	}
	if !status.Unlockable() {
		return outcomeSkipped
	}

	password, hash, expiry, err := r.newPassword()
	if err != nil {
		r.fail(stagePassword, rec, err)
		return outcomeFailed
	}

	marked, err := r.cfg.Capsules.MarkPending(ctx, rec.CapsuleID, rec.HeirID, hash, expiry)
	if err != nil {
		r.fail(stageMarkPending, rec, err)
		return outcomeFailed
	}
	if !marked {
		// Another tick or worker got here first
		return outcomeSkipped
	}
	r.metrics.transitions.Inc()
	r.cfg.Cache.Delete(cache.LockedCapsulesKey)
	r.logFor(rec).Info().Msg("capsule unlock condition met, marked pending")

	if err := r.deliver(ctx, ledger, owner, rec, password, status.IsLocked); err != nil {
		return outcomeFailed
	}
	return outcomeTransitioned
}

// resume finishes a pending capsule whose beneficiary was never notified.
// A capsule whose notice was already handed to the notifier only gets the
// delivery recorded. Otherwise the password issued earlier was never
// delivered, so a fresh one replaces it.
func (r *Reconciler) resume(ctx context.Context, rec *model.CapsuleJoinRecord) bool {
	if rec.NoticeStartedAt != nil {
		r.logFor(rec).Warn().
			Time("notice_started_at", *rec.NoticeStartedAt).
			Msg("notice already sent, recording delivery without resending")
		return r.recordNotice(ctx, rec) == nil
	}

	ledger, owner, err := r.bindOwner(rec)
	if err != nil {
		r.fail(stageDecrypt, rec, err)
		return false
	}

	status, err := ledger.FetchLockStatus(ctx, owner, rec.CapsuleUniqueID)
	if err != nil {
		r.fail(stageLockStatus, rec, err)
		return false
	}

	password, hash, expiry, err := r.newPassword()
	if err != nil {
		r.fail(stagePassword, rec, err)
		return false
	}
	if err := r.cfg.Heirs.UpdateTemporaryPassword(ctx, rec.HeirID, hash, expiry); err != nil {
		r.fail(stagePassword, rec, err)
		return false
	}

	r.logFor(rec).Info().Msg("resuming undelivered capsule notice")
	return r.deliver(ctx, ledger, owner, rec, password, status.IsLocked) == nil
}

// deliver pushes the ledger to unlocked when needed, then notifies the heir
// and records the delivery.
func (r *Reconciler) deliver(ctx context.Context, ledger Ledger, owner solana.PublicKey, rec *model.CapsuleJoinRecord, password string, ledgerLocked bool) error {
	if ledgerLocked {
		ix, err := ledger.BuildUnlockCheckInstruction(owner, rec.CapsuleUniqueID)
		if err != nil {
			r.fail(stageUnlockCheck, rec, err)
			return err
		}
		sig, err := ledger.SendAndConfirm(ctx, ix)
		if err != nil {
			r.fail(stageUnlockCheck, rec, err)
			return err
		}
		r.logFor(rec).Info().Str("signature", sig.String()).Msg("ledger unlock confirmed")
	}

	r.cfg.Cache.Delete(cache.HeirKey(rec.HeirEmail))

	// The in-flight mark is written before sending so that a later tick
	// never sends a second set of credentials once this send succeeded.
	started, err := r.cfg.Capsules.StartNotice(ctx, rec.CapsuleID, r.cfg.Now())
	if err != nil {
		r.fail(stageNotify, rec, err)
		return err
	}
	if !started {
		r.logFor(rec).Debug().Msg("capsule notice already started elsewhere")
		return nil
	}

	if err := r.cfg.Notifier.SendCapsuleClaimEmail(ctx, rec.HeirEmail, rec.HeirFullname, password, rec.CapsuleAddress); err != nil {
		r.fail(stageNotify, rec, err)
		if cerr := r.cfg.Capsules.CancelNotice(ctx, rec.CapsuleID); cerr != nil {
			r.logFor(rec).Error().Err(cerr).Msg("failed to clear notice mark, heir will not be emailed again")
		}
		return err
	}
	r.metrics.notified.Inc()

	return r.recordNotice(ctx, rec)
}

// recordNotice stores the delivery of rec's notice, retrying on its own
// without sending again.
func (r *Reconciler) recordNotice(ctx context.Context, rec *model.CapsuleJoinRecord) error {
	_, err := retry.Do(ctx, r.cfg.NoticeRetry, func(ctx context.Context, _ int) error {
		return r.cfg.Capsules.MarkNotified(ctx, rec.CapsuleID, r.cfg.Now())
	})
	if err != nil {
		r.fail(stageMarkNotified, rec, err)
		return err
	}
	return nil
}

func (r *Reconciler) bindOwner(rec *model.CapsuleJoinRecord) (Ledger, solana.PublicKey, error) {
	key, err := r.cfg.Keys.DecryptPrivateKey(rec.OwnerSecret)
	if err != nil {
		return nil, solana.PublicKey{}, err
	}
	owner := key.PublicKey()
	if rec.OwnerAddress != "" && owner.String() != rec.OwnerAddress {
		clear(key)
		return nil, solana.PublicKey{}, fmt.Errorf("decrypted key does not match owner address %s", rec.OwnerAddress)
	}
	return r.cfg.Bind(key), owner, nil
}

func (r *Reconciler) newPassword() (password, hash string, expiry time.Time, err error) {
	password, err = crypto.GeneratePassword(r.cfg.PasswordLength)
	if err != nil {
		return "", "", time.Time{}, err
	}
	hash, err = crypto.HashPassword(password)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return password, hash, r.cfg.Now().Add(r.cfg.PasswordTTL), nil
}

func (r *Reconciler) logFor(rec *model.CapsuleJoinRecord) *zerolog.Logger {
	l := r.log.With().
		Uint("capsule_db_id", rec.CapsuleID).
		Str("capsule_id", rec.CapsuleUniqueID).
		Str("address", rec.CapsuleAddress).
		Logger()
	return &l
}

func (r *Reconciler) fail(stage string, rec *model.CapsuleJoinRecord, err error) {
	r.metrics.failures.WithLabelValues(stage).Inc()
	l := &r.log
	if rec != nil {
		l = r.logFor(rec)
	}
	l.Warn().Err(err).Str("stage", stage).Msg("capsule reconciliation failed")
}
