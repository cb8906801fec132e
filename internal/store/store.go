// Package store persists owners, heirs and capsule records with gorm.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/AlexZinkM/legacy-capsule/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when a looked up row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidTransition is returned when a status change would move a capsule backwards.
	ErrInvalidTransition = errors.New("invalid capsule status transition")
	// ErrDuplicate is returned when a unique email or address is already taken.
	ErrDuplicate = errors.New("record already exists")
)

// User is a capsule owner with a custodial wallet.
type User struct {
	ID            uint   `gorm:"primaryKey"`
	Fullname      string `gorm:"size:128"`
	Email         string `gorm:"size:255;uniqueIndex"`
	WalletAddress string `gorm:"size:64;uniqueIndex"`
	WalletSecret  string `gorm:"not null"`
	CreatedAt     time.Time
}

// Heir is a capsule beneficiary with a custodial wallet.
type Heir struct {
	ID                uint   `gorm:"primaryKey"`
	UserID            uint   `gorm:"index"`
	Fullname          string `gorm:"size:128"`
	Email             string `gorm:"size:255;uniqueIndex"`
	WalletAddress     string `gorm:"size:64;uniqueIndex"`
	WalletSecret      string `gorm:"not null"`
	TemporaryPassword *string
	PasswordExpiry    *time.Time
	CreatedAt         time.Time
}

// Capsule is the off-ledger record of a capsule.
type Capsule struct {
	ID              uint                `gorm:"primaryKey"`
	CapsuleUniqueID string              `gorm:"size:32;index"`
	CapsuleAddress  string              `gorm:"size:64;uniqueIndex"`
	AssetKind       string              `gorm:"size:16"`
	Status          model.CapsuleStatus `gorm:"size:16;index;not null"`
	HeirID          uint                `gorm:"index"`
	TxSignature     string              `gorm:"size:128"`
	// NoticeStartedAt is set just before the claim email goes out
	NoticeStartedAt *time.Time
	NotifiedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// UserCapsule links a capsule to its owner.
type UserCapsule struct {
	UserID    uint `gorm:"primaryKey"`
	CapsuleID uint `gorm:"primaryKey"`
}

// AutoMigrate creates or updates the schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Heir{},
		&Capsule{},
		&UserCapsule{},
	)
}

// Open connects to PostgreSQL at dsn and migrates the schema.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// Store groups the repositories sharing one database handle.
type Store struct {
	DB       *gorm.DB
	Users    *UserRepository
	Heirs    *HeirRepository
	Capsules *CapsuleRepository
}

// New wires repositories on top of db.
func New(db *gorm.DB) *Store {
	return &Store{
		DB:       db,
		Users:    &UserRepository{db: db},
		Heirs:    &HeirRepository{db: db},
		Capsules: &CapsuleRepository{db: db},
	}
}

func duplicate(err error, what string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%s: %w", what, ErrDuplicate)
	}
	return err
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}
