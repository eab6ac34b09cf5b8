package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/grant-funnel/internal/model"
)

// SQLiteStore implements Store and EntityCache using modernc.org/sqlite.
type SQLiteStore struct {
	db    *sql.DB
	locks KeyedMutex
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection; a single connection keeps them in effect
	// and serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS opportunities (
	profile_id     TEXT NOT NULL,
	opportunity_id TEXT NOT NULL,
	stage          TEXT NOT NULL,
	data           TEXT NOT NULL,
	discovered_ns  INTEGER NOT NULL,
	updated_at     DATETIME NOT NULL,
	PRIMARY KEY (profile_id, opportunity_id)
);

CREATE TABLE IF NOT EXISTS analytics (
	profile_id  TEXT PRIMARY KEY,
	data        TEXT NOT NULL,
	computed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS entity_cache (
	entity_id  TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_opportunities_stage ON opportunities(profile_id, stage);
CREATE INDEX IF NOT EXISTS idx_opportunities_discovered ON opportunities(profile_id, discovered_ns, opportunity_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, profileID, opportunityID string) (*model.Opportunity, error) {
	if err := checkKey(profileID, opportunityID); err != nil {
		return nil, err
	}
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM opportunities WHERE profile_id = ? AND opportunity_id = ?`,
		profileID, opportunityID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: opportunity %s/%s", profileID, opportunityID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get opportunity %s", opportunityID)
	}
	return decodeOpportunity([]byte(data))
}

func (s *SQLiteStore) Upsert(ctx context.Context, profileID string, opp *model.Opportunity) error {
	if err := checkUpsert(profileID, opp); err != nil {
		return err
	}
	data, err := encodeOpportunity(profileID, opp)
	if err != nil {
		return err
	}

	defer s.locks.Lock(lockKey(profileID, opp.OpportunityID))()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO opportunities (profile_id, opportunity_id, stage, data, discovered_ns, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (profile_id, opportunity_id) DO UPDATE SET
			stage = excluded.stage,
			data = excluded.data,
			discovered_ns = excluded.discovered_ns,
			updated_at = excluded.updated_at`,
		profileID, opp.OpportunityID, string(opp.CurrentStage), string(data),
		opp.DiscoveredAt.UnixNano(), now(),
	)
	return eris.Wrapf(err, "sqlite: upsert opportunity %s", opp.OpportunityID)
}

func (s *SQLiteStore) List(ctx context.Context, profileID string, stage model.Stage) ([]model.Opportunity, error) {
	if err := checkProfile(profileID); err != nil {
		return nil, err
	}
	query := `SELECT data FROM opportunities WHERE profile_id = ?`
	args := []any{profileID}
	if stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(stage))
	}
	query += ` ORDER BY discovered_ns, opportunity_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list opportunities")
	}
	defer rows.Close()

	var out []model.Opportunity
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan opportunity")
		}
		o, err := decodeOpportunity([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate opportunities")
}

func (s *SQLiteStore) RefreshAnalytics(ctx context.Context, profileID string) (*model.Analytics, error) {
	opps, err := s.List(ctx, profileID, "")
	if err != nil {
		return nil, err
	}
	a := model.ComputeAnalytics(profileID, opps, now())
	data, err := json.Marshal(a)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: encode analytics")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analytics (profile_id, data, computed_at) VALUES (?, ?, ?)
		ON CONFLICT (profile_id) DO UPDATE SET data = excluded.data, computed_at = excluded.computed_at`,
		profileID, string(data), a.ComputedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: save analytics %s", profileID)
	}
	return &a, nil
}

func (s *SQLiteStore) GetAnalytics(ctx context.Context, profileID string) (*model.Analytics, error) {
	if err := checkProfile(profileID); err != nil {
		return nil, err
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM analytics WHERE profile_id = ?`, profileID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: analytics %s", profileID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get analytics %s", profileID)
	}
	return decodeAnalytics([]byte(data))
}

// GetEntity implements EntityCache. Expired entries are misses.
func (s *SQLiteStore) GetEntity(ctx context.Context, entityID string) ([]byte, bool, error) {
	var (
		data      []byte
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, expires_at FROM entity_cache WHERE entity_id = ?`, entityID,
	).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: get entity %s", entityID)
	}
	if expiresAt > 0 && now().Unix() >= expiresAt {
		return nil, false, nil
	}
	return data, true, nil
}

// PutEntity implements EntityCache. A zero ttl never expires.
func (s *SQLiteStore) PutEntity(ctx context.Context, entityID string, data []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entity_cache (entity_id, data, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (entity_id) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`,
		entityID, data, expiry(ttl),
	)
	return eris.Wrapf(err, "sqlite: put entity %s", entityID)
}

func expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now().Add(ttl).Unix()
}
