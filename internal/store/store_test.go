package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/AlexZinkM/legacy-capsule/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return New(db)
}

type fixture struct {
	owner   *User
	heir    *Heir
	capsule *Capsule
}

func seed(t *testing.T, s *Store, n int) fixture {
	t.Helper()
	ctx := context.Background()
	owner := &User{
		Fullname:      "Ada Owner",
		Email:         fmt.Sprintf("owner%d@example.com", n),
		WalletAddress: fmt.Sprintf("owner-wallet-%d", n),
		WalletSecret:  "sealed-owner",
	}
	require.NoError(t, s.Users.Create(ctx, owner))
	heir := &Heir{
		UserID:        owner.ID,
		Fullname:      "Ben Heir",
		Email:         fmt.Sprintf("heir%d@example.com", n),
		WalletAddress: fmt.Sprintf("heir-wallet-%d", n),
		WalletSecret:  "sealed-heir",
	}
	require.NoError(t, s.Heirs.Create(ctx, heir))
	c := &Capsule{
		CapsuleUniqueID: fmt.Sprintf("CAPSULE_%03d", n),
		CapsuleAddress:  fmt.Sprintf("capsule-address-%d", n),
		AssetKind:       "fungible",
		HeirID:          heir.ID,
	}
	require.NoError(t, s.Capsules.Create(ctx, owner.ID, c))
	return fixture{owner: owner, heir: heir, capsule: c}
}

func TestCreateAndListLocked(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	f := seed(t, s, 1)
	seed(t, s, 2)

	assert.Equal(t, model.StatusLocked, f.capsule.Status)

	locked, err := s.Capsules.ListLocked(ctx)
	require.NoError(t, err)
	require.Len(t, locked, 2)

	rec := locked[0]
	assert.Equal(t, f.capsule.ID, rec.CapsuleID)
	assert.Equal(t, "CAPSULE_001", rec.CapsuleUniqueID)
	assert.Equal(t, "capsule-address-1", rec.CapsuleAddress)
	assert.Equal(t, model.StatusLocked, rec.Status)
	assert.Equal(t, f.owner.ID, rec.OwnerID)
	assert.Equal(t, "sealed-owner", rec.OwnerSecret)
	assert.Equal(t, f.heir.ID, rec.HeirID)
	assert.Equal(t, "heir1@example.com", rec.HeirEmail)
	assert.Equal(t, "Ben Heir", rec.HeirFullname)
}

func TestFindByAddress(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	f := seed(t, s, 1)

	rec, err := s.Capsules.FindByAddress(ctx, "capsule-address-1")
	require.NoError(t, err)
	assert.Equal(t, f.capsule.ID, rec.CapsuleID)

	_, err = s.Capsules.FindByAddress(ctx, "nowhere")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkPendingIsAtomicAndIdempotent(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	f := seed(t, s, 1)
	expiry := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)

	ok, err := s.Capsules.MarkPending(ctx, f.capsule.ID, f.heir.ID, "hash-1", expiry)
	require.NoError(t, err)
	assert.True(t, ok)

	heir, err := s.Heirs.FindByID(ctx, f.heir.ID)
	require.NoError(t, err)
	require.NotNil(t, heir.TemporaryPassword)
	assert.Equal(t, "hash-1", *heir.TemporaryPassword)
	require.NotNil(t, heir.PasswordExpiry)
	assert.True(t, heir.PasswordExpiry.Equal(expiry))

	ok, err = s.Capsules.MarkPending(ctx, f.capsule.ID, f.heir.ID, "hash-2", expiry)
	require.NoError(t, err)
	assert.False(t, ok)

	heir, err = s.Heirs.FindByID(ctx, f.heir.ID)
	require.NoError(t, err)
	assert.Equal(t, "hash-1", *heir.TemporaryPassword)

	locked, err := s.Capsules.ListLocked(ctx)
	require.NoError(t, err)
	assert.Empty(t, locked)
}

func TestMarkPendingRollsBackOnMissingHeir(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	f := seed(t, s, 1)

	_, err := s.Capsules.MarkPending(ctx, f.capsule.ID, 9999, "hash", time.Now())
	require.ErrorIs(t, err, ErrNotFound)

	locked, err := s.Capsules.ListLocked(ctx)
	require.NoError(t, err)
	assert.Len(t, locked, 1)
}

func TestAwaitingNotice(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	f := seed(t, s, 1)

	_, err := s.Capsules.MarkPending(ctx, f.capsule.ID, f.heir.ID, "hash", time.Now())
	require.NoError(t, err)

	waiting, err := s.Capsules.ListAwaitingNotice(ctx)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, model.StatusPending, waiting[0].Status)

	require.NoError(t, s.Capsules.MarkNotified(ctx, f.capsule.ID, time.Now()))

	waiting, err = s.Capsules.ListAwaitingNotice(ctx)
	require.NoError(t, err)
	assert.Empty(t, waiting)
}

func TestNoticeMarks(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	f := seed(t, s, 1)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.Capsules.MarkPending(ctx, f.capsule.ID, f.heir.ID, "hash", at)
	require.NoError(t, err)

	started, err := s.Capsules.StartNotice(ctx, f.capsule.ID, at)
	require.NoError(t, err)
	assert.True(t, started)
	started, err = s.Capsules.StartNotice(ctx, f.capsule.ID, at)
	require.NoError(t, err)
	assert.False(t, started, "a notice in flight is not started twice")

	waiting, err := s.Capsules.ListAwaitingNotice(ctx)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	require.NotNil(t, waiting[0].NoticeStartedAt)

	require.NoError(t, s.Capsules.CancelNotice(ctx, f.capsule.ID))
	started, err = s.Capsules.StartNotice(ctx, f.capsule.ID, at)
	require.NoError(t, err)
	assert.True(t, started)

	require.NoError(t, s.Capsules.MarkNotified(ctx, f.capsule.ID, at))
	require.NoError(t, s.Capsules.CancelNotice(ctx, f.capsule.ID))
	var c Capsule
	require.NoError(t, s.DB.First(&c, f.capsule.ID).Error)
	assert.NotNil(t, c.NoticeStartedAt, "a delivered notice keeps its mark")

	started, err = s.Capsules.StartNotice(ctx, f.capsule.ID, at)
	require.NoError(t, err)
	assert.False(t, started)
}

func TestMarkPendingClearsNoticeMarks(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	f := seed(t, s, 1)
	at := time.Now()

	require.NoError(t, s.DB.Model(&Capsule{}).Where("id = ?", f.capsule.ID).
		Update("notice_started_at", at).Error)
	ok, err := s.Capsules.MarkPending(ctx, f.capsule.ID, f.heir.ID, "hash", at)
	require.NoError(t, err)
	require.True(t, ok)

	var c Capsule
	require.NoError(t, s.DB.First(&c, f.capsule.ID).Error)
	assert.Nil(t, c.NoticeStartedAt)
}

func TestMarkClaimed(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("from locked", func(t *testing.T) {
		f := seed(t, s, 1)
		require.NoError(t, s.Capsules.MarkClaimed(ctx, f.capsule.ID, at))

		var c Capsule
		require.NoError(t, s.DB.First(&c, f.capsule.ID).Error)
		assert.Equal(t, model.StatusClaimed, c.Status)
		require.NotNil(t, c.NotifiedAt)
		assert.True(t, c.NotifiedAt.Equal(at))

		waiting, err := s.Capsules.ListAwaitingNotice(ctx)
		require.NoError(t, err)
		assert.Empty(t, waiting)
	})

	t.Run("keeps earlier notice time", func(t *testing.T) {
		f := seed(t, s, 2)
		earlier := at.Add(-time.Hour)
		_, err := s.Capsules.MarkPending(ctx, f.capsule.ID, f.heir.ID, "hash", at)
		require.NoError(t, err)
		require.NoError(t, s.Capsules.MarkNotified(ctx, f.capsule.ID, earlier))

		require.NoError(t, s.Capsules.MarkClaimed(ctx, f.capsule.ID, at))
		var c Capsule
		require.NoError(t, s.DB.First(&c, f.capsule.ID).Error)
		assert.Equal(t, model.StatusClaimed, c.Status)
		require.NotNil(t, c.NotifiedAt)
		assert.True(t, c.NotifiedAt.Equal(earlier))

		err = s.Capsules.MarkClaimed(ctx, f.capsule.ID, at)
		require.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("missing capsule", func(t *testing.T) {
		err := s.Capsules.MarkClaimed(ctx, 9999, at)
		require.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestUpdateStatusIsMonotonic(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	f := seed(t, s, 1)

	err := s.Capsules.UpdateStatus(ctx, f.capsule.ID, model.StatusClaimed)
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, s.Capsules.UpdateStatus(ctx, f.capsule.ID, model.StatusPending))
	require.NoError(t, s.Capsules.UpdateStatus(ctx, f.capsule.ID, model.StatusClaimed))

	err = s.Capsules.UpdateStatus(ctx, f.capsule.ID, model.StatusLocked)
	require.ErrorIs(t, err, ErrInvalidTransition)

	err = s.Capsules.UpdateStatus(ctx, 9999, model.StatusPending)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestHeirLookups(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	f := seed(t, s, 1)

	heir, err := s.Heirs.FindByEmail(ctx, "heir1@example.com")
	require.NoError(t, err)
	assert.Equal(t, f.heir.ID, heir.ID)

	_, err = s.Heirs.FindByEmail(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.Heirs.UpdateTemporaryPassword(ctx, 9999, "hash", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Users.FindByID(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResealSecrets(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	f := seed(t, s, 1)
	seed(t, s, 2)

	n, err := s.ResealSecrets(ctx, func(sealed string) (string, error) {
		return "new:" + sealed, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	u, err := s.Users.FindByID(ctx, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "new:sealed-owner", u.WalletSecret)
	h, err := s.Heirs.FindByID(ctx, f.heir.ID)
	require.NoError(t, err)
	assert.Equal(t, "new:sealed-heir", h.WalletSecret)
}

func TestResealSecretsRollsBack(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	f := seed(t, s, 1)

	boom := errors.New("wrong key")
	_, err := s.ResealSecrets(ctx, func(sealed string) (string, error) {
		if sealed == "sealed-heir" {
			return "", boom
		}
		return "new:" + sealed, nil
	})
	require.ErrorIs(t, err, boom)

	u, err := s.Users.FindByID(ctx, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "sealed-owner", u.WalletSecret)
}
