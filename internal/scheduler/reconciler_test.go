package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AlexZinkM/legacy-capsule/internal/cache"
	"github.com/AlexZinkM/legacy-capsule/internal/client"
	"github.com/AlexZinkM/legacy-capsule/internal/crypto"
	"github.com/AlexZinkM/legacy-capsule/internal/model"
	"github.com/AlexZinkM/legacy-capsule/internal/retry"
	"github.com/AlexZinkM/legacy-capsule/internal/store"

	"github.com/gagliardetto/solana-go"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeLedger reports lock state per capsule id and records unlock checks.
type fakeLedger struct {
	mu        sync.Mutex
	status    map[string]client.LockStatus
	statusErr error
	sendErr   error
	checks    []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{status: map[string]client.LockStatus{}}
}

func (f *fakeLedger) FetchLockStatus(_ context.Context, _ solana.PublicKey, id string) (client.LockStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return client.LockStatus{}, f.statusErr
	}
	st, ok := f.status[id]
	if !ok {
		return client.LockStatus{}, client.ErrAccountNotFound
	}
	return st, nil
}

func (f *fakeLedger) BuildUnlockCheckInstruction(_ solana.PublicKey, id string) (solana.Instruction, error) {
	return solana.NewInstruction(solana.SystemProgramID, nil, []byte(id)), nil
}

func (f *fakeLedger) SendAndConfirm(_ context.Context, ixs ...solana.Instruction) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	data, _ := ixs[0].Data()
	f.checks = append(f.checks, string(data))
	// The program flips the lock once its condition is met
	st := f.status[string(data)]
	st.IsLocked = false
	f.status[string(data)] = st
	return solana.Signature{1}, nil
}

type claimMail struct {
	email, name, password, address string
}

type fakeNotifier struct {
	mu    sync.Mutex
	fail  int
	calls int
	sent  []claimMail
}

func (f *fakeNotifier) SendCapsuleClaimEmail(_ context.Context, toEmail, toName, password, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail > 0 {
		f.fail--
		return errors.New("smtp unavailable")
	}
	f.sent = append(f.sent, claimMail{toEmail, toName, password, address})
	return nil
}

// flakyCapsules fails the next markErrs MarkNotified calls.
type flakyCapsules struct {
	CapsuleStore
	markErrs  int
	markCalls int
}

func (f *flakyCapsules) MarkNotified(ctx context.Context, capsuleID uint, at time.Time) error {
	f.markCalls++
	if f.markErrs > 0 {
		f.markErrs--
		return errors.New("database is locked")
	}
	return f.CapsuleStore.MarkNotified(ctx, capsuleID, at)
}

type env struct {
	store    *store.Store
	codec    *crypto.SecretCodec
	ledger   *fakeLedger
	notifier *fakeNotifier
	cache    *cache.Cache
	reg      *prometheus.Registry
	rec      *Reconciler
}

func setup(t *testing.T) *env {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	codec, err := crypto.NewSecretCodec("reconciler-test-key")
	require.NoError(t, err)

	e := &env{
		store:    store.New(db),
		codec:    codec,
		ledger:   newFakeLedger(),
		notifier: &fakeNotifier{},
		cache:    cache.New(16),
		reg:      prometheus.NewRegistry(),
	}
	nop := zerolog.Nop()
	e.rec, err = NewReconciler(Config{
		Capsules:    e.store.Capsules,
		Heirs:       e.store.Heirs,
		Cache:       e.cache,
		Keys:        codec,
		Notifier:    e.notifier,
		Bind:        func(solana.PrivateKey) Ledger { return e.ledger },
		NoticeRetry: retry.Policy{MaxAttempts: 2, Log: nop},
		Now:         func() time.Time { return testNow },
		Registerer:  e.reg,
		Logger:      &nop,
	})
	require.NoError(t, err)
	return e
}

// seedCapsule stores an owner, heir and locked capsule and returns the capsule.
func (e *env) seedCapsule(t *testing.T, n int) *store.Capsule {
	t.Helper()
	ctx := context.Background()

	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	sealed, err := e.codec.EncryptString(key.String())
	require.NoError(t, err)

	owner := &store.User{
		Fullname:      "Ada Owner",
		Email:         fmt.Sprintf("owner%d@example.com", n),
		WalletAddress: key.PublicKey().String(),
		WalletSecret:  sealed,
	}
	require.NoError(t, e.store.Users.Create(ctx, owner))
	heir := &store.Heir{
		UserID:        owner.ID,
		Fullname:      "Ben Heir",
		Email:         fmt.Sprintf("heir%d@example.com", n),
		WalletAddress: fmt.Sprintf("heir-wallet-%d", n),
		WalletSecret:  "sealed-heir",
	}
	require.NoError(t, e.store.Heirs.Create(ctx, heir))
	c := &store.Capsule{
		CapsuleUniqueID: client.FormatCapsuleID(uint64(n)),
		CapsuleAddress:  fmt.Sprintf("capsule-address-%d", n),
		AssetKind:       "native",
		Status:          model.StatusLocked,
		HeirID:          heir.ID,
	}
	require.NoError(t, e.store.Capsules.Create(ctx, owner.ID, c))
	return c
}

func (e *env) capsuleStatus(t *testing.T, id uint) store.Capsule {
	t.Helper()
	var c store.Capsule
	require.NoError(t, e.store.DB.First(&c, id).Error)
	return c
}

func (e *env) heir(t *testing.T, email string) *store.Heir {
	t.Helper()
	h, err := e.store.Heirs.FindByEmail(context.Background(), email)
	require.NoError(t, err)
	return h
}

func TestTickTransitionsUnlockableCapsule(t *testing.T) {
	e := setup(t)
	c := e.seedCapsule(t, 1)
	e.ledger.status[c.CapsuleUniqueID] = client.LockStatus{IsLocked: true, ConditionMet: true}
	e.cache.Set(cache.HeirKey("heir1@example.com"), "stale", time.Hour)

	report := e.rec.Tick(context.Background())
	assert.Equal(t, TickReport{Scanned: 1, Transitioned: 1}, report)

	got := e.capsuleStatus(t, c.ID)
	assert.Equal(t, model.StatusPending, got.Status)
	require.NotNil(t, got.NotifiedAt)
	assert.True(t, got.NotifiedAt.Equal(testNow))

	require.Len(t, e.notifier.sent, 1)
	mail := e.notifier.sent[0]
	assert.Equal(t, "heir1@example.com", mail.email)
	assert.Equal(t, "Ben Heir", mail.name)
	assert.Equal(t, "capsule-address-1", mail.address)
	assert.GreaterOrEqual(t, len(mail.password), crypto.MinPasswordLength)

	h := e.heir(t, "heir1@example.com")
	require.NotNil(t, h.TemporaryPassword)
	assert.True(t, crypto.CheckPassword(*h.TemporaryPassword, mail.password))
	require.NotNil(t, h.PasswordExpiry)
	assert.True(t, h.PasswordExpiry.Equal(testNow.Add(DefaultPasswordTTL)))

	assert.Equal(t, []string{c.CapsuleUniqueID}, e.ledger.checks)
	_, cached := e.cache.Get(cache.HeirKey("heir1@example.com"))
	assert.False(t, cached)

	assert.Equal(t, 1.0, testutil.ToFloat64(e.rec.metrics.transitions))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.rec.metrics.notified))
}

func TestTickIsIdempotent(t *testing.T) {
	e := setup(t)
	c := e.seedCapsule(t, 1)
	e.ledger.status[c.CapsuleUniqueID] = client.LockStatus{IsLocked: true, ConditionMet: true}

	e.rec.Tick(context.Background())
	h := e.heir(t, "heir1@example.com")
	firstHash := *h.TemporaryPassword

	report := e.rec.Tick(context.Background())
	assert.Equal(t, TickReport{}, report)
	assert.Len(t, e.notifier.sent, 1)
	assert.Equal(t, firstHash, *e.heir(t, "heir1@example.com").TemporaryPassword)
	assert.Len(t, e.ledger.checks, 1)
}

func TestTickSkipsCapsulesStillLocked(t *testing.T) {
	e := setup(t)
	c := e.seedCapsule(t, 1)
	e.ledger.status[c.CapsuleUniqueID] = client.LockStatus{IsLocked: true, ConditionMet: false}

	report := e.rec.Tick(context.Background())
	assert.Equal(t, TickReport{Scanned: 1}, report)
	assert.Equal(t, model.StatusLocked, e.capsuleStatus(t, c.ID).Status)
	assert.Empty(t, e.notifier.sent)
	assert.Nil(t, e.heir(t, "heir1@example.com").TemporaryPassword)
}

func TestTickSkipsUnlockCheckWhenLedgerAlreadyUnlocked(t *testing.T) {
	e := setup(t)
	c := e.seedCapsule(t, 1)
	e.ledger.status[c.CapsuleUniqueID] = client.LockStatus{IsLocked: false}

	report := e.rec.Tick(context.Background())
	assert.Equal(t, 1, report.Transitioned)
	assert.Empty(t, e.ledger.checks)
	assert.Len(t, e.notifier.sent, 1)
}

func TestTickResumesUndeliveredNotice(t *testing.T) {
	e := setup(t)
	c := e.seedCapsule(t, 1)
	e.ledger.status[c.CapsuleUniqueID] = client.LockStatus{IsLocked: true, ConditionMet: true}
	e.notifier.fail = 1

	report := e.rec.Tick(context.Background())
	assert.Equal(t, TickReport{Scanned: 1, Failed: 1}, report)
	got := e.capsuleStatus(t, c.ID)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Nil(t, got.NotifiedAt)
	assert.Nil(t, got.NoticeStartedAt)
	firstHash := *e.heir(t, "heir1@example.com").TemporaryPassword

	report = e.rec.Tick(context.Background())
	assert.Equal(t, TickReport{Resumed: 1}, report)
	require.Len(t, e.notifier.sent, 1)
	assert.Equal(t, 2, e.notifier.calls)

	h := e.heir(t, "heir1@example.com")
	assert.NotEqual(t, firstHash, *h.TemporaryPassword)
	assert.True(t, crypto.CheckPassword(*h.TemporaryPassword, e.notifier.sent[0].password))
	assert.NotNil(t, e.capsuleStatus(t, c.ID).NotifiedAt)

	// Ledger was unlocked on the first attempt
	assert.Len(t, e.ledger.checks, 1)

	report = e.rec.Tick(context.Background())
	assert.Equal(t, TickReport{}, report)
	assert.Len(t, e.notifier.sent, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.rec.metrics.failures.WithLabelValues(stageNotify)))
}

func TestTickRetriesRecordingDeliveredNotice(t *testing.T) {
	e := setup(t)
	c := e.seedCapsule(t, 1)
	e.ledger.status[c.CapsuleUniqueID] = client.LockStatus{IsLocked: false}
	flaky := &flakyCapsules{CapsuleStore: e.store.Capsules, markErrs: 1}
	e.rec.cfg.Capsules = flaky

	report := e.rec.Tick(context.Background())
	assert.Equal(t, TickReport{Scanned: 1, Transitioned: 1}, report)
	assert.Equal(t, 2, flaky.markCalls)
	assert.Equal(t, 1, e.notifier.calls)
	assert.NotNil(t, e.capsuleStatus(t, c.ID).NotifiedAt)
}

func TestTickNeverResendsDeliveredNotice(t *testing.T) {
	e := setup(t)
	c := e.seedCapsule(t, 1)
	e.ledger.status[c.CapsuleUniqueID] = client.LockStatus{IsLocked: true, ConditionMet: true}
	flaky := &flakyCapsules{CapsuleStore: e.store.Capsules, markErrs: 2}
	e.rec.cfg.Capsules = flaky

	report := e.rec.Tick(context.Background())
	assert.Equal(t, TickReport{Scanned: 1, Failed: 1}, report)
	got := e.capsuleStatus(t, c.ID)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Nil(t, got.NotifiedAt)
	require.NotNil(t, got.NoticeStartedAt)
	require.Len(t, e.notifier.sent, 1)
	firstHash := *e.heir(t, "heir1@example.com").TemporaryPassword

	report = e.rec.Tick(context.Background())
	assert.Equal(t, TickReport{Resumed: 1}, report)
	assert.Equal(t, 1, e.notifier.calls)
	assert.Equal(t, firstHash, *e.heir(t, "heir1@example.com").TemporaryPassword)
	assert.True(t, crypto.CheckPassword(firstHash, e.notifier.sent[0].password))
	assert.NotNil(t, e.capsuleStatus(t, c.ID).NotifiedAt)
	assert.Len(t, e.ledger.checks, 1)

	report = e.rec.Tick(context.Background())
	assert.Equal(t, TickReport{}, report)
	assert.Equal(t, 1, e.notifier.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.rec.metrics.failures.WithLabelValues(stageMarkNotified)))
}

func TestTickIsolatesFailingCapsule(t *testing.T) {
	e := setup(t)
	bad := e.seedCapsule(t, 1)
	good := e.seedCapsule(t, 2)
	require.NoError(t, e.store.DB.Model(&store.User{}).
		Where("email = ?", "owner1@example.com").
		Update("wallet_secret", "not-a-sealed-key").Error)
	e.ledger.status[bad.CapsuleUniqueID] = client.LockStatus{IsLocked: true, ConditionMet: true}
	e.ledger.status[good.CapsuleUniqueID] = client.LockStatus{IsLocked: true, ConditionMet: true}

	report := e.rec.Tick(context.Background())
	assert.Equal(t, TickReport{Scanned: 2, Transitioned: 1, Failed: 1}, report)
	assert.Equal(t, model.StatusLocked, e.capsuleStatus(t, bad.ID).Status)
	assert.Equal(t, model.StatusPending, e.capsuleStatus(t, good.ID).Status)
	require.Len(t, e.notifier.sent, 1)
	assert.Equal(t, "heir2@example.com", e.notifier.sent[0].email)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.rec.metrics.failures.WithLabelValues(stageDecrypt)))
}

func TestTickLeavesCapsuleLockedWhenLedgerUnreachable(t *testing.T) {
	e := setup(t)
	c := e.seedCapsule(t, 1)
	e.ledger.statusErr = errors.New("rpc down")

	report := e.rec.Tick(context.Background())
	assert.Equal(t, TickReport{Scanned: 1, Failed: 1}, report)
	assert.Equal(t, model.StatusLocked, e.capsuleStatus(t, c.ID).Status)
	assert.Empty(t, e.notifier.sent)
}

func TestTickUsesCachedLockedList(t *testing.T) {
	e := setup(t)
	e.cache.Set(cache.LockedCapsulesKey, []model.CapsuleJoinRecord{}, time.Hour)
	c := e.seedCapsule(t, 1)
	e.ledger.status[c.CapsuleUniqueID] = client.LockStatus{IsLocked: false}

	report := e.rec.Tick(context.Background())
	assert.Equal(t, 0, report.Scanned)

	e.cache.Delete(cache.LockedCapsulesKey)
	report = e.rec.Tick(context.Background())
	assert.Equal(t, 1, report.Transitioned)
}

func TestTickStopsOnCancelledContext(t *testing.T) {
	e := setup(t)
	c := e.seedCapsule(t, 1)
	e.ledger.status[c.CapsuleUniqueID] = client.LockStatus{IsLocked: false}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := e.rec.Tick(ctx)
	assert.Equal(t, 0, report.Scanned)
	assert.Equal(t, model.StatusLocked, e.capsuleStatus(t, c.ID).Status)
}

func TestNewReconcilerRequiresDependencies(t *testing.T) {
	_, err := NewReconciler(Config{})
	require.Error(t, err)
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	// Registered first so it runs after the database is closed
	t.Cleanup(func() { goleak.VerifyNone(t) })

	e := setup(t)
	c := e.seedCapsule(t, 1)
	e.ledger.status[c.CapsuleUniqueID] = client.LockStatus{IsLocked: false}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewScheduler(e.rec, 5*time.Millisecond).Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(e.rec.metrics.ticks) >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}

	e.notifier.mu.Lock()
	defer e.notifier.mu.Unlock()
	assert.Len(t, e.notifier.sent, 1)
}
