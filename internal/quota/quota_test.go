package quota

import (
	"context"
	"testing"
	"time"

	"launchpad/internal/config"
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
	require.NoError(t, gdb.AutoMigrate(&models.User{}, &models.Deployment{}))

	cfg := &config.Config{
		FreeTTL:            48 * time.Hour,
		FreeMaxDeployments: 3,
		ProMaxDeployments:  10,
		DeploymentsPerPack: 5,
	}
	return NewManager(gdb, cfg), gdb
}

func freeUser(t *testing.T, gdb *gorm.DB) *models.User {
	t.Helper()
	user := &models.User{Email: "free@example.com", Tier: models.TierFree, TierStatus: models.TierStatusActive}
	require.NoError(t, gdb.Create(user).Error)
	return user
}

func proUser(t *testing.T, gdb *gorm.DB, packs int) *models.User {
	t.Helper()
	user := &models.User{Email: "pro@example.com", Tier: models.TierPro, TierStatus: models.TierStatusActive, AddOnPacks: packs}
	require.NoError(t, gdb.Create(user).Error)
	return user
}

func TestEffectiveMax(t *testing.T) {
	mgr, gdb := testManager(t)

	assert.Equal(t, 3, mgr.EffectiveMax(freeUser(t, gdb)))
	assert.Equal(t, 10, mgr.EffectiveMax(proUser(t, gdb, 0)))

	packed := &models.User{Email: "packed@example.com", Tier: models.TierPro, TierStatus: models.TierStatusActive, AddOnPacks: 2}
	assert.Equal(t, 20, mgr.EffectiveMax(packed))

	// A lapsed pro counts as free.
	lapsed := &models.User{Email: "lapsed@example.com", Tier: models.TierPro, TierStatus: models.TierStatusPastDue, AddOnPacks: 2}
	assert.Equal(t, 3, mgr.EffectiveMax(lapsed))
}

func TestTTLFor(t *testing.T) {
	mgr, gdb := testManager(t)
	now := time.Now().UTC()

	free := freeUser(t, gdb)
	ttl := mgr.TTLFor(free, now)
	require.NotNil(t, ttl)
	assert.Equal(t, now.Add(48*time.Hour), *ttl)

	assert.Nil(t, mgr.TTLFor(proUser(t, gdb, 0), now))

	// Anonymous callers get the free TTL.
	anon := mgr.TTLFor(nil, now)
	require.NotNil(t, anon)
	assert.Equal(t, now.Add(48*time.Hour), *anon)
}

func TestCheckCreate(t *testing.T) {
	mgr, gdb := testManager(t)
	ctx := context.Background()
	user := freeUser(t, gdb)

	for i := 0; i < 3; i++ {
		require.NoError(t, mgr.CheckCreate(ctx, user))
		uid := user.ID
		require.NoError(t, gdb.Create(&models.Deployment{
			ID: string(rune('a'+i)) + "-dep", Subdomain: "app" + string(rune('a'+i)),
			Status: models.StatusActive, UserID: &uid,
		}).Error)
	}

	err := mgr.CheckCreate(ctx, user)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// Anonymous bypasses quota.
	assert.NoError(t, mgr.CheckCreate(ctx, nil))
}

func TestApplyUpgrade(t *testing.T) {
	mgr, gdb := testManager(t)
	ctx := context.Background()
	user := freeUser(t, gdb)
	uid := user.ID

	expiry := time.Now().UTC().Add(48 * time.Hour)
	require.NoError(t, gdb.Create(&models.Deployment{
		ID: "d-live", Subdomain: "livedep", Status: models.StatusActive, UserID: &uid, ExpiresAt: &expiry,
	}).Error)
	require.NoError(t, gdb.Create(&models.Deployment{
		ID: "d-dead", Subdomain: "deaddep", Status: models.StatusFailed, UserID: &uid, ExpiresAt: &expiry,
	}).Error)

	require.NoError(t, mgr.ApplyUpgrade(ctx, uid))

	var live, dead models.Deployment
	require.NoError(t, gdb.First(&live, "id = ?", "d-live").Error)
	require.NoError(t, gdb.First(&dead, "id = ?", "d-dead").Error)

	assert.Nil(t, live.ExpiresAt, "live deployment loses its TTL")
	assert.NotNil(t, dead.ExpiresAt, "failed deployment keeps its TTL")
}
