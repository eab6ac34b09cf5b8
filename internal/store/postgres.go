package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/grant-funnel/internal/db"
	"github.com/sells-group/grant-funnel/internal/model"
)

// PostgresStore implements Store and EntityCache using pgxpool. Records
// are kept as JSONB next to the columns used for filtering and ordering.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	locks   KeyedMutex
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS opportunities (
	profile_id     TEXT NOT NULL,
	opportunity_id TEXT NOT NULL,
	stage          TEXT NOT NULL,
	data           JSONB NOT NULL,
	discovered_at  TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (profile_id, opportunity_id)
);

CREATE TABLE IF NOT EXISTS analytics (
	profile_id  TEXT PRIMARY KEY,
	data        JSONB NOT NULL,
	computed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS entity_cache (
	entity_id  TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	expires_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_opportunities_stage ON opportunities(profile_id, stage);
CREATE INDEX IF NOT EXISTS idx_opportunities_discovered ON opportunities(profile_id, discovered_at, opportunity_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, profileID, opportunityID string) (*model.Opportunity, error) {
	if err := checkKey(profileID, opportunityID); err != nil {
		return nil, err
	}
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM opportunities WHERE profile_id = $1 AND opportunity_id = $2`,
		profileID, opportunityID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: opportunity %s/%s", profileID, opportunityID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get opportunity %s", opportunityID)
	}
	return decodeOpportunity(data)
}

func (s *PostgresStore) Upsert(ctx context.Context, profileID string, opp *model.Opportunity) error {
	if err := checkUpsert(profileID, opp); err != nil {
		return err
	}
	data, err := encodeOpportunity(profileID, opp)
	if err != nil {
		return err
	}

	defer s.locks.Lock(lockKey(profileID, opp.OpportunityID))()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO opportunities (profile_id, opportunity_id, stage, data, discovered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (profile_id, opportunity_id) DO UPDATE SET
			stage = EXCLUDED.stage,
			data = EXCLUDED.data,
			discovered_at = EXCLUDED.discovered_at,
			updated_at = EXCLUDED.updated_at`,
		profileID, opp.OpportunityID, string(opp.CurrentStage), data, opp.DiscoveredAt, now(),
	)
	return eris.Wrapf(err, "postgres: upsert opportunity %s", opp.OpportunityID)
}

func (s *PostgresStore) List(ctx context.Context, profileID string, stage model.Stage) ([]model.Opportunity, error) {
	if err := checkProfile(profileID); err != nil {
		return nil, err
	}
	return listOpportunities(ctx, s.pool, profileID, stage)
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listOpportunities(ctx context.Context, q querier, profileID string, stage model.Stage) ([]model.Opportunity, error) {
	query := `SELECT data FROM opportunities WHERE profile_id = $1`
	args := []any{profileID}
	if stage != "" {
		query += ` AND stage = $2`
		args = append(args, string(stage))
	}
	query += ` ORDER BY discovered_at, opportunity_id`

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list opportunities")
	}
	defer rows.Close()

	var out []model.Opportunity
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan opportunity")
		}
		o, err := decodeOpportunity(data)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate opportunities")
}

// RefreshAnalytics reads the opportunity set and writes the aggregate in
// one transaction so the cached row always matches a consistent snapshot.
func (s *PostgresStore) RefreshAnalytics(ctx context.Context, profileID string) (*model.Analytics, error) {
	if err := checkProfile(profileID); err != nil {
		return nil, err
	}
	var a model.Analytics
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		opps, err := listOpportunities(ctx, tx, profileID, "")
		if err != nil {
			return err
		}
		a = model.ComputeAnalytics(profileID, opps, now())
		data, err := json.Marshal(a)
		if err != nil {
			return eris.Wrap(err, "postgres: encode analytics")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO analytics (profile_id, data, computed_at) VALUES ($1, $2, $3)
			ON CONFLICT (profile_id) DO UPDATE SET data = EXCLUDED.data, computed_at = EXCLUDED.computed_at`,
			profileID, data, a.ComputedAt,
		)
		return eris.Wrapf(err, "postgres: save analytics %s", profileID)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) GetAnalytics(ctx context.Context, profileID string) (*model.Analytics, error) {
	if err := checkProfile(profileID); err != nil {
		return nil, err
	}
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM analytics WHERE profile_id = $1`, profileID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: analytics %s", profileID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get analytics %s", profileID)
	}
	return decodeAnalytics(data)
}

// GetEntity implements EntityCache.
func (s *PostgresStore) GetEntity(ctx context.Context, entityID string) ([]byte, bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM entity_cache WHERE entity_id = $1 AND (expires_at IS NULL OR expires_at > now())`,
		entityID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: get entity %s", entityID)
	}
	return data, true, nil
}

// PutEntity implements EntityCache. A zero ttl never expires.
func (s *PostgresStore) PutEntity(ctx context.Context, entityID string, data []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := now().Add(ttl)
		expiresAt = &t
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO entity_cache (entity_id, data, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (entity_id) DO UPDATE SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at`,
		entityID, data, expiresAt,
	)
	return eris.Wrapf(err, "postgres: put entity %s", entityID)
}
