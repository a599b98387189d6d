package sessions

import (
	"context"
	"testing"
	"time"

	"launchpad/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testManager(t *testing.T) (*Manager, *gorm.DB) {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&models.User{}, &models.Session{}))
	return NewManager(gdb), gdb
}

func seedUser(t *testing.T, gdb *gorm.DB) *models.User {
	t.Helper()
	user := &models.User{
		Email:      "user@example.com",
		Role:       models.RoleUser,
		Tier:       models.TierFree,
		TierStatus: models.TierStatusActive,
	}
	require.NoError(t, gdb.Create(user).Error)
	return user
}

func TestCreateAndValidate(t *testing.T) {
	mgr, gdb := testManager(t)
	ctx := context.Background()
	user := seedUser(t, gdb)

	session, err := mgr.Create(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, session.ID, 64)
	assert.Equal(t, 0, session.RotationCount)

	gotUser, gotSession, rotated, err := mgr.Validate(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, rotated)
	assert.Equal(t, user.ID, gotUser.ID)
	assert.Equal(t, user.Email, gotUser.Email)
	assert.Equal(t, session.ID, gotSession.ID)
}

func TestValidateRejectsUnknownAndEmpty(t *testing.T) {
	mgr, _ := testManager(t)
	ctx := context.Background()

	_, _, _, err := mgr.Validate(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, _, _, err = mgr.Validate(ctx, "deadbeef")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestValidateRejectsExpired(t *testing.T) {
	mgr, gdb := testManager(t)
	ctx := context.Background()
	user := seedUser(t, gdb)

	session, err := mgr.Create(ctx, user.ID)
	require.NoError(t, err)

	require.NoError(t, gdb.Model(&models.Session{}).Where("id = ?", session.ID).
		Update("expires_at", time.Now().UTC().Add(-time.Minute)).Error)

	_, _, _, err = mgr.Validate(ctx, session.ID)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestRotation(t *testing.T) {
	mgr, gdb := testManager(t)
	ctx := context.Background()
	user := seedUser(t, gdb)

	session, err := mgr.Create(ctx, user.ID)
	require.NoError(t, err)

	// Push the session past the rotation interval but inside the ceiling.
	require.NoError(t, gdb.Model(&models.Session{}).Where("id = ?", session.ID).
		Update("last_rotated_at", time.Now().UTC().Add(-RotationInterval-time.Hour)).Error)

	_, rotatedSession, rotated, err := mgr.Validate(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, rotated)
	assert.NotEqual(t, session.ID, rotatedSession.ID)
	assert.Equal(t, 1, rotatedSession.RotationCount)
	assert.Equal(t, session.CreatedAt.Unix(), rotatedSession.CreatedAt.Unix())

	// The old id no longer authenticates.
	_, _, _, err = mgr.Validate(ctx, session.ID)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	// The new id does, without another rotation.
	_, _, rotated, err = mgr.Validate(ctx, rotatedSession.ID)
	require.NoError(t, err)
	assert.False(t, rotated)
}

func TestAbsoluteCeiling(t *testing.T) {
	mgr, gdb := testManager(t)
	ctx := context.Background()
	user := seedUser(t, gdb)

	session, err := mgr.Create(ctx, user.ID)
	require.NoError(t, err)

	// Fresh rotation, ancient creation: the ceiling wins regardless.
	require.NoError(t, gdb.Model(&models.Session{}).Where("id = ?", session.ID).
		Updates(map[string]any{
			"created_at":      time.Now().UTC().Add(-AbsoluteCeiling - time.Hour),
			"last_rotated_at": time.Now().UTC(),
			"expires_at":      time.Now().UTC().Add(time.Hour),
		}).Error)

	_, _, _, err = mgr.Validate(ctx, session.ID)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	// And the row is gone.
	var count int64
	gdb.Model(&models.Session{}).Where("id = ?", session.ID).Count(&count)
	assert.Zero(t, count)
}

func TestLogoutDeletes(t *testing.T) {
	mgr, gdb := testManager(t)
	ctx := context.Background()
	user := seedUser(t, gdb)

	session, err := mgr.Create(ctx, user.ID)
	require.NoError(t, err)

	require.NoError(t, mgr.Delete(ctx, session.ID))
	_, _, _, err = mgr.Validate(ctx, session.ID)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
