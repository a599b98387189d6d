package routing

import (
	"context"
	"testing"
	"time"

	"launchpad/internal/db"
	"launchpad/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLedger(t *testing.T) (*Ledger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLedger(db.NewRedisClientFromExisting(client)), mr
}

func record(id, label string) *Record {
	now := time.Now().UTC()
	return &Record{
		DeploymentID: id,
		Subdomain:    label,
		Status:       models.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestClaimAndResolve(t *testing.T) {
	ledger, _ := testLedger(t)
	ctx := context.Background()

	require.NoError(t, ledger.Claim(ctx, record("d1", "hello")))

	rec, err := ledger.Resolve(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, "d1", rec.DeploymentID)
	assert.Equal(t, models.StatusPending, rec.Status)

	got, err := ledger.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Subdomain)
}

func TestClaimContention(t *testing.T) {
	ledger, _ := testLedger(t)
	ctx := context.Background()

	require.NoError(t, ledger.Claim(ctx, record("d1", "shared")))

	err := ledger.Claim(ctx, record("d2", "shared"))
	assert.ErrorIs(t, err, ErrSubdomainTaken)

	// The loser must not have clobbered the winner.
	rec, err := ledger.Resolve(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, "d1", rec.DeploymentID)
}

func TestResolveSelfHealsDanglingSecondary(t *testing.T) {
	ledger, mr := testLedger(t)
	ctx := context.Background()

	require.NoError(t, ledger.Claim(ctx, record("d1", "ghost")))
	// Simulate a crashed teardown that removed the record but left the
	// subdomain mapping behind.
	mr.Del("app:d1")

	_, err := ledger.Resolve(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	// The secondary is healed, so a fresh claim succeeds.
	require.NoError(t, ledger.Claim(ctx, record("d2", "ghost")))
	rec, err := ledger.Resolve(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, "d2", rec.DeploymentID)
}

func TestUpdateMutatesAndStamps(t *testing.T) {
	ledger, _ := testLedger(t)
	ctx := context.Background()

	require.NoError(t, ledger.Claim(ctx, record("d1", "hello")))

	before, err := ledger.Get(ctx, "d1")
	require.NoError(t, err)

	updated, err := ledger.Update(ctx, "d1", func(r *Record) (bool, error) {
		r.Status = models.StatusBuilding
		r.BuildID = "b-1"
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusBuilding, updated.Status)
	assert.Equal(t, "b-1", updated.BuildID)
	assert.False(t, updated.UpdatedAt.Before(before.UpdatedAt))

	persisted, err := ledger.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusBuilding, persisted.Status)
}

func TestUpdateNoOpWritesNothing(t *testing.T) {
	ledger, _ := testLedger(t)
	ctx := context.Background()

	require.NoError(t, ledger.Claim(ctx, record("d1", "hello")))

	before, err := ledger.Get(ctx, "d1")
	require.NoError(t, err)

	got, err := ledger.Update(ctx, "d1", func(r *Record) (bool, error) {
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, got.UpdatedAt)
}

func TestUpdateMissingRecord(t *testing.T) {
	ledger, _ := testLedger(t)

	_, err := ledger.Update(context.Background(), "nope", func(r *Record) (bool, error) {
		return true, nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteOnlyRemovesOwnSecondary(t *testing.T) {
	ledger, _ := testLedger(t)
	ctx := context.Background()

	require.NoError(t, ledger.Claim(ctx, record("d1", "mine")))

	// A newer deployment re-claimed the label after d1's record aged out;
	// deleting d1 must not take the label from d2.
	require.NoError(t, ledger.Delete(ctx, "d1", "mine"))
	require.NoError(t, ledger.Claim(ctx, record("d2", "mine")))
	require.NoError(t, ledger.Delete(ctx, "d1", "mine"))

	rec, err := ledger.Resolve(ctx, "mine")
	require.NoError(t, err)
	assert.Equal(t, "d2", rec.DeploymentID)
}

func TestReleaseAudit(t *testing.T) {
	ledger, mr := testLedger(t)
	ctx := context.Background()

	err := ledger.AppendReleaseAudit(ctx, &ReleaseAudit{
		Subdomain:    "myapp",
		ReleasedBy:   "42",
		DeploymentID: "d1",
		Reason:       "stale_release",
	})
	require.NoError(t, err)

	keys := mr.Keys()
	found := false
	for _, k := range keys {
		if len(k) > len("log:release:myapp:") && k[:len("log:release:myapp:")] == "log:release:myapp:" {
			found = true
		}
	}
	assert.True(t, found, "expected an audit key, got %v", keys)
}
