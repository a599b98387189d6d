// Package routing - the routing ledger for LAUNCHPAD.
//
// The ledger is the low-latency store the wildcard proxy reads on every
// request. It keeps two mappings: deployment id -> routing record and
// subdomain -> deployment id. Claims and state transitions rely on the
// store's atomicity primitives (SETNX for the secondary key, WATCH/MULTI
// for read-modify-write on the primary key); there are no in-process locks.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"launchpad/internal/db"
	"launchpad/internal/models"

	"github.com/go-redis/redis/v8"
)

var (
	ErrNotFound       = errors.New("routing record not found")
	ErrSubdomainTaken = errors.New("subdomain already claimed")
	ErrConflict       = errors.New("routing record modified concurrently")
)

const (
	recordTTL = 30 * 24 * time.Hour
	auditTTL  = 90 * 24 * time.Hour

	// How many times a compare-and-update retries before giving up.
	// Contention on a single deployment is a couple of webhook
	// deliveries racing a status poll, so this is generous.
	casAttempts = 5

	opTimeout = 2 * time.Second
)

// Record is the shadow of a Deployment carried in the routing store.
// It holds only what the proxy needs on the hot path.
type Record struct {
	DeploymentID string                  `json:"deployment_id"`
	Subdomain    string                  `json:"subdomain"`
	Status       models.DeploymentStatus `json:"status"`
	OriginURL    string                  `json:"origin_url,omitempty"`
	Error        string                  `json:"error,omitempty"`
	Framework    models.Framework        `json:"framework,omitempty"`
	BuildID      string                  `json:"build_id,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// ReleaseAudit is the append-only record written on every subdomain release.
// Audits survive deployment deletion.
type ReleaseAudit struct {
	Subdomain    string    `json:"subdomain"`
	ReleasedBy   string    `json:"released_by"` // user id or "anonymous"
	DeploymentID string    `json:"deployment_id"`
	Reason       string    `json:"reason"`
	Timestamp    time.Time `json:"timestamp"`
}

// Ledger provides atomic access to routing records.
type Ledger struct {
	redis *db.RedisClient
}

// NewLedger creates a routing ledger backed by Redis.
func NewLedger(redis *db.RedisClient) *Ledger {
	return &Ledger{redis: redis}
}

func recordKey(deploymentID string) string { return "app:" + deploymentID }
func subdomainKey(label string) string     { return "subdomain:" + label }
func auditKey(label string, ts time.Time) string {
	return fmt.Sprintf("log:release:%s:%d", label, ts.UnixNano())
}

// Claim atomically claims a subdomain for a deployment and writes the
// initial routing record. The SETNX on the secondary key is the
// linearization point: exactly one contending writer wins.
func (l *Ledger) Claim(ctx context.Context, rec *Record) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	ok, err := l.redis.Client().SetNX(ctx, subdomainKey(rec.Subdomain), rec.DeploymentID, recordTTL).Result()
	if err != nil {
		return fmt.Errorf("claim subdomain %s: %w", rec.Subdomain, err)
	}
	if !ok {
		return ErrSubdomainTaken
	}

	if err := l.putRecord(ctx, rec); err != nil {
		// Roll the secondary back so the label is not wedged.
		l.redis.Client().Del(ctx, subdomainKey(rec.Subdomain))
		return err
	}
	return nil
}

func (l *Ledger) putRecord(ctx context.Context, rec *Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal routing record: %w", err)
	}
	if err := l.redis.Client().Set(ctx, recordKey(rec.DeploymentID), payload, recordTTL).Err(); err != nil {
		return fmt.Errorf("write routing record %s: %w", rec.DeploymentID, err)
	}
	return nil
}

// Get returns the routing record for a deployment id.
func (l *Ledger) Get(ctx context.Context, deploymentID string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	payload, err := l.redis.Client().Get(ctx, recordKey(deploymentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read routing record %s: %w", deploymentID, err)
	}

	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("decode routing record %s: %w", deploymentID, err)
	}
	return &rec, nil
}

// Resolve looks up a subdomain and returns its routing record.
// A dangling secondary key (label points at a deployment that no longer
// exists) is self-healed by deleting the secondary and reporting not found.
func (l *Ledger) Resolve(ctx context.Context, label string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	deploymentID, err := l.redis.Client().Get(ctx, subdomainKey(label)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve subdomain %s: %w", label, err)
	}

	rec, err := l.Get(ctx, deploymentID)
	if errors.Is(err, ErrNotFound) {
		// Dangling secondary: self-heal.
		l.redis.Client().Del(ctx, subdomainKey(label))
		return nil, ErrNotFound
	}
	return rec, err
}

// Update applies mutate to the record under an optimistic transaction.
// mutate returns false to signal a no-op (nothing is written). Concurrent
// writers are linearized by WATCH; on contention the read-modify-write is
// retried.
func (l *Ledger) Update(ctx context.Context, deploymentID string, mutate func(*Record) (bool, error)) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := recordKey(deploymentID)
	var result *Record

	for attempt := 0; attempt < casAttempts; attempt++ {
		err := l.redis.Client().Watch(ctx, func(tx *redis.Tx) error {
			payload, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}

			var rec Record
			if err := json.Unmarshal(payload, &rec); err != nil {
				return fmt.Errorf("decode routing record %s: %w", deploymentID, err)
			}

			changed, err := mutate(&rec)
			if err != nil {
				return err
			}
			if !changed {
				result = &rec
				return nil
			}

			rec.UpdatedAt = time.Now().UTC()
			next, err := json.Marshal(&rec)
			if err != nil {
				return fmt.Errorf("marshal routing record: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, next, recordTTL)
				return nil
			})
			if err == nil {
				result = &rec
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, ErrConflict
}

// Delete removes the routing record and, when the secondary key still
// points at this deployment, the subdomain mapping too.
func (l *Ledger) Delete(ctx context.Context, deploymentID, label string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	current, err := l.redis.Client().Get(ctx, subdomainKey(label)).Result()
	if err == nil && current == deploymentID {
		if err := l.redis.Client().Del(ctx, subdomainKey(label)).Err(); err != nil {
			return fmt.Errorf("delete subdomain key %s: %w", label, err)
		}
	}
	if err := l.redis.Client().Del(ctx, recordKey(deploymentID)).Err(); err != nil {
		return fmt.Errorf("delete routing record %s: %w", deploymentID, err)
	}
	return nil
}

// ReleaseSecondary removes only the subdomain -> id mapping. Used by the
// subdomain ledger when self-healing or releasing a stale claim.
func (l *Ledger) ReleaseSecondary(ctx context.Context, label string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return l.redis.Client().Del(ctx, subdomainKey(label)).Err()
}

// AppendReleaseAudit writes a release audit entry, retained for 90 days.
func (l *Ledger) AppendReleaseAudit(ctx context.Context, audit *ReleaseAudit) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if audit.Timestamp.IsZero() {
		audit.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(audit)
	if err != nil {
		return fmt.Errorf("marshal release audit: %w", err)
	}
	return l.redis.Client().Set(ctx, auditKey(audit.Subdomain, audit.Timestamp), payload, auditTTL).Err()
}

// Health pings the routing store.
func (l *Ledger) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return l.redis.Ping(ctx)
}
