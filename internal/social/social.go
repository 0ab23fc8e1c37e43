// Package social exposes the one storage operation the Relationship
// model requires beyond what GORM's AutoMigrate already gives it: the
// mutual-friendship query original_source's src/api/users/friends.rs
// computes for a user's friend list. A full social-profile REST surface
// remains out of scope (spec.md §1); this is just the query.
package social

import (
	"context"

	"dubserver/internal/models"

	"gorm.io/gorm"
)

type Service struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Service {
	return &Service{DB: db}
}

// Friends returns every user_id the given user follows (one-directional
// Relationship rows where user_id = userID).
func (s *Service) Friends(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := s.DB.WithContext(ctx).Model(&models.Relationship{}).
		Where("user_id = ?", userID).Pluck("friend_id", &ids).Error
	return ids, err
}

// MutualFriends returns the subset of userID's friends who also follow
// userID back — a mutual/"online friends" relationship, matching
// friends.rs's is_mutual check.
func (s *Service) MutualFriends(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := s.DB.WithContext(ctx).Model(&models.Relationship{}).
		Where("user_id = ? AND friend_id IN (SELECT user_id FROM relationships WHERE friend_id = ?)", userID, userID).
		Pluck("friend_id", &ids).Error
	return ids, err
}

// IsMutual reports whether a and b follow each other.
func (s *Service) IsMutual(ctx context.Context, a, b uint) (bool, error) {
	var forward, backward int64
	if err := s.DB.WithContext(ctx).Model(&models.Relationship{}).
		Where("user_id = ? AND friend_id = ?", a, b).Count(&forward).Error; err != nil {
		return false, err
	}
	if forward == 0 {
		return false, nil
	}
	if err := s.DB.WithContext(ctx).Model(&models.Relationship{}).
		Where("user_id = ? AND friend_id = ?", b, a).Count(&backward).Error; err != nil {
		return false, err
	}
	return backward > 0, nil
}
