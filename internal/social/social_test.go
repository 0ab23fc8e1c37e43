package social

import (
	"context"
	"testing"

	"dubserver/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Relationship{}))
	return db
}

func TestIsMutualRequiresBothDirections(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.Relationship{UserID: 1, FriendID: 2}).Error)

	svc := New(db)
	mutual, err := svc.IsMutual(context.Background(), 1, 2)
	require.NoError(t, err)
	require.False(t, mutual)

	require.NoError(t, db.Create(&models.Relationship{UserID: 2, FriendID: 1}).Error)
	mutual, err = svc.IsMutual(context.Background(), 1, 2)
	require.NoError(t, err)
	require.True(t, mutual)
}

func TestMutualFriendsFiltersOneDirectional(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.Relationship{UserID: 1, FriendID: 2}).Error)
	require.NoError(t, db.Create(&models.Relationship{UserID: 2, FriendID: 1}).Error)
	require.NoError(t, db.Create(&models.Relationship{UserID: 1, FriendID: 3}).Error)

	svc := New(db)
	mutual, err := svc.MutualFriends(context.Background(), 1)
	require.NoError(t, err)
	require.ElementsMatch(t, []uint{2}, mutual)
}

func TestFriendsListsOutboundRelationships(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.Relationship{UserID: 1, FriendID: 2}).Error)
	require.NoError(t, db.Create(&models.Relationship{UserID: 1, FriendID: 3}).Error)

	svc := New(db)
	friends, err := svc.Friends(context.Background(), 1)
	require.NoError(t, err)
	require.ElementsMatch(t, []uint{2, 3}, friends)
}
