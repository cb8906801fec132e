package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// ResealFunc decrypts a sealed secret under the old key and seals it under
// the new one.
type ResealFunc func(sealed string) (string, error)

// ResealSecrets rewrites every stored wallet secret through reseal in one
// transaction. Nothing changes if any secret fails. It returns the number of
// rewritten rows.
func (s *Store) ResealSecrets(ctx context.Context, reseal ResealFunc) (int, error) {
	count := 0
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var users []User
		if err := tx.Select("id", "wallet_secret").Find(&users).Error; err != nil {
			return fmt.Errorf("failed to load users: %w", err)
		}
		for _, u := range users {
			sealed, err := reseal(u.WalletSecret)
			if err != nil {
				return fmt.Errorf("user %d: %w", u.ID, err)
			}
			if err := tx.Model(&User{}).Where("id = ?", u.ID).Update("wallet_secret", sealed).Error; err != nil {
				return fmt.Errorf("failed to update user %d: %w", u.ID, err)
			}
			count++
		}

		var heirs []Heir
		if err := tx.Select("id", "wallet_secret").Find(&heirs).Error; err != nil {
			return fmt.Errorf("failed to load heirs: %w", err)
		}
		for _, h := range heirs {
			sealed, err := reseal(h.WalletSecret)
			if err != nil {
				return fmt.Errorf("heir %d: %w", h.ID, err)
			}
			if err := tx.Model(&Heir{}).Where("id = ?", h.ID).Update("wallet_secret", sealed).Error; err != nil {
				return fmt.Errorf("failed to update heir %d: %w", h.ID, err)
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
