package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// UserRepository reads and writes owners.
type UserRepository struct {
	db *gorm.DB
}

// Create inserts u.
func (r *UserRepository) Create(ctx context.Context, u *User) error {
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", duplicate(err, "user "+u.Email))
	}
	return nil
}

// FindByID loads the owner with id.
func (r *UserRepository) FindByID(ctx context.Context, id uint) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("user %d", id))
	}
	return &u, nil
}

// HeirRepository reads and writes heirs.
type HeirRepository struct {
	db *gorm.DB
}

// Create inserts h.
func (r *HeirRepository) Create(ctx context.Context, h *Heir) error {
	if err := r.db.WithContext(ctx).Create(h).Error; err != nil {
		return fmt.Errorf("failed to create heir: %w", duplicate(err, "heir "+h.Email))
	}
	return nil
}

// FindByID loads the heir with id.
func (r *HeirRepository) FindByID(ctx context.Context, id uint) (*Heir, error) {
	var h Heir
	if err := r.db.WithContext(ctx).First(&h, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("heir %d", id))
	}
	return &h, nil
}

// FindByEmail loads the heir registered under email.
func (r *HeirRepository) FindByEmail(ctx context.Context, email string) (*Heir, error) {
	var h Heir
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&h).Error; err != nil {
		return nil, notFound(err, "heir "+email)
	}
	return &h, nil
}

// UpdateTemporaryPassword stores a hashed one-time password valid until expiry.
func (r *HeirRepository) UpdateTemporaryPassword(ctx context.Context, heirID uint, hash string, expiry time.Time) error {
	return updateTemporaryPassword(r.db.WithContext(ctx), heirID, hash, expiry)
}

func updateTemporaryPassword(db *gorm.DB, heirID uint, hash string, expiry time.Time) error {
	res := db.Model(&Heir{}).Where("id = ?", heirID).Updates(map[string]interface{}{
		"temporary_password": hash,
		"password_expiry":    expiry,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update heir password: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("heir %d: %w", heirID, ErrNotFound)
	}
	return nil
}
