package store

import (
	"context"
	"fmt"
	"time"

	"github.com/AlexZinkM/legacy-capsule/internal/model"

	"gorm.io/gorm"
)

// CapsuleRepository reads and writes capsule records.
type CapsuleRepository struct {
	db *gorm.DB
}

const joinColumns = `capsules.id AS capsule_id,
	capsules.capsule_unique_id,
	capsules.capsule_address,
	capsules.asset_kind,
	capsules.status,
	capsules.notice_started_at,
	capsules.notified_at,
	users.id AS owner_id,
	users.wallet_address AS owner_address,
	users.wallet_secret AS owner_secret,
	heirs.id AS heir_id,
	heirs.email AS heir_email,
	heirs.fullname AS heir_fullname,
	heirs.wallet_address AS heir_address`

func (r *CapsuleRepository) joined(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("capsules").
		Select(joinColumns).
		Joins("JOIN user_capsules ON user_capsules.capsule_id = capsules.id").
		Joins("JOIN users ON users.id = user_capsules.user_id").
		Joins("JOIN heirs ON heirs.id = capsules.heir_id")
}

// ListLocked returns every locked capsule with its owner and heir, grouped by owner.
func (r *CapsuleRepository) ListLocked(ctx context.Context) ([]model.CapsuleJoinRecord, error) {
	var out []model.CapsuleJoinRecord
	err := r.joined(ctx).
		Where("capsules.status = ?", model.StatusLocked).
		Order("users.id, capsules.id").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list locked capsules: %w", err)
	}
	return out, nil
}

// ListAwaitingNotice returns pending capsules whose heir was never notified.
func (r *CapsuleRepository) ListAwaitingNotice(ctx context.Context) ([]model.CapsuleJoinRecord, error) {
	var out []model.CapsuleJoinRecord
	err := r.joined(ctx).
		Where("capsules.status = ? AND capsules.notified_at IS NULL", model.StatusPending).
		Order("users.id, capsules.id").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending capsules: %w", err)
	}
	return out, nil
}

// FindByAddress loads the capsule stored under its ledger address.
func (r *CapsuleRepository) FindByAddress(ctx context.Context, address string) (*model.CapsuleJoinRecord, error) {
	var out []model.CapsuleJoinRecord
	err := r.joined(ctx).
		Where("capsules.capsule_address = ?", address).
		Limit(1).
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find capsule: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("capsule %s: %w", address, ErrNotFound)
	}
	return &out[0], nil
}

// Create inserts c as a locked capsule owned by ownerID.
func (r *CapsuleRepository) Create(ctx context.Context, ownerID uint, c *Capsule) error {
	if c.Status == "" {
		c.Status = model.StatusLocked
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return fmt.Errorf("failed to create capsule: %w", err)
		}
		if err := tx.Create(&UserCapsule{UserID: ownerID, CapsuleID: c.ID}).Error; err != nil {
			return fmt.Errorf("failed to link capsule to owner: %w", err)
		}
		return nil
	})
}

// UpdateStatus moves capsule id to next. Backward or skipping moves fail
// with ErrInvalidTransition.
func (r *CapsuleRepository) UpdateStatus(ctx context.Context, id uint, next model.CapsuleStatus) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c Capsule
		if err := tx.Select("id", "status").First(&c, id).Error; err != nil {
			return notFound(err, fmt.Sprintf("capsule %d", id))
		}
		if !c.Status.CanTransition(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, next)
		}
		res := tx.Model(&Capsule{}).
			Where("id = ? AND status = ?", id, c.Status).
			Update("status", next)
		if res.Error != nil {
			return fmt.Errorf("failed to update capsule status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: capsule %d changed concurrently", ErrInvalidTransition, id)
		}
		return nil
	})
}

// MarkPending moves a locked capsule to pending and stores the heir's new
// password hash in one transaction. It reports false, changing nothing, when
// the capsule is no longer locked.
func (r *CapsuleRepository) MarkPending(ctx context.Context, capsuleID, heirID uint, passwordHash string, expiry time.Time) (bool, error) {
	claimed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Capsule{}).
			Where("id = ? AND status = ?", capsuleID, model.StatusLocked).
			Updates(map[string]interface{}{
				"status":            model.StatusPending,
				"notice_started_at": nil,
				"notified_at":       nil,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to mark capsule pending: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := updateTemporaryPassword(tx, heirID, passwordHash, expiry); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// MarkClaimed moves a locked or pending capsule straight to claimed in one
// statement, passing through pending without leaving it observable. A capsule
// claimed before its heir was notified is recorded as notified at, so it is
// never picked up for a credentials email. Capsules already claimed, or
// missing, fail with ErrInvalidTransition.
func (r *CapsuleRepository) MarkClaimed(ctx context.Context, capsuleID uint, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&Capsule{}).
		Where("id = ? AND status IN ?", capsuleID, []model.CapsuleStatus{model.StatusLocked, model.StatusPending}).
		Updates(map[string]interface{}{
			"status":      model.StatusClaimed,
			"notified_at": gorm.Expr("COALESCE(notified_at, ?)", at),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark capsule claimed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: capsule %d is not locked or pending", ErrInvalidTransition, capsuleID)
	}
	return nil
}

// StartNotice marks the claim email for capsuleID as in flight. It reports
// false when a notice was already started or delivered, in which case the
// caller must not send one.
func (r *CapsuleRepository) StartNotice(ctx context.Context, capsuleID uint, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Capsule{}).
		Where("id = ? AND notice_started_at IS NULL AND notified_at IS NULL", capsuleID).
		Update("notice_started_at", at)
	if res.Error != nil {
		return false, fmt.Errorf("failed to start capsule notice: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CancelNotice clears the in-flight mark after a send that failed.
func (r *CapsuleRepository) CancelNotice(ctx context.Context, capsuleID uint) error {
	res := r.db.WithContext(ctx).Model(&Capsule{}).
		Where("id = ? AND notified_at IS NULL", capsuleID).
		Update("notice_started_at", nil)
	if res.Error != nil {
		return fmt.Errorf("failed to cancel capsule notice: %w", res.Error)
	}
	return nil
}

// MarkNotified records that the heir of capsuleID received their credentials.
func (r *CapsuleRepository) MarkNotified(ctx context.Context, capsuleID uint, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&Capsule{}).
		Where("id = ? AND notified_at IS NULL", capsuleID).
		Update("notified_at", at)
	if res.Error != nil {
		return fmt.Errorf("failed to mark capsule notified: %w", res.Error)
	}
	return nil
}
