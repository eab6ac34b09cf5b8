// Package store persists opportunities and per-profile analytics. All
// records are scoped by profile; there is no cross-profile sharing.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/grant-funnel/internal/config"
	"github.com/sells-group/grant-funnel/internal/db"
	"github.com/sells-group/grant-funnel/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = eris.New("store: not found")

	// ErrInvalid is returned for empty or unsafe profile and opportunity ids.
	ErrInvalid = eris.New("store: invalid key")
)

// Store is the opportunity store.
type Store interface {
	// Get returns a copy of the stored opportunity or ErrNotFound.
	Get(ctx context.Context, profileID, opportunityID string) (*model.Opportunity, error)

	// Upsert writes the whole opportunity atomically.
	Upsert(ctx context.Context, profileID string, opp *model.Opportunity) error

	// List returns the profile's opportunities ordered by discovered_at
	// then id. An empty stage returns every stage.
	List(ctx context.Context, profileID string, stage model.Stage) ([]model.Opportunity, error)

	// RefreshAnalytics recomputes and caches the profile aggregate.
	RefreshAnalytics(ctx context.Context, profileID string) (*model.Analytics, error)

	// GetAnalytics returns the cached aggregate or ErrNotFound if it was
	// never computed.
	GetAnalytics(ctx context.Context, profileID string) (*model.Analytics, error)

	Migrate(ctx context.Context) error
	Close() error
}

// PersistenceError reports a write that still failed after retries.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "store: " + e.Op + " failed: " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

var segmentRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

func validSegment(s string) bool {
	return s != "." && s != ".." && segmentRe.MatchString(s)
}

func checkProfile(profileID string) error {
	if !validSegment(profileID) {
		return eris.Wrapf(ErrInvalid, "profile %q", profileID)
	}
	return nil
}

func checkKey(profileID, opportunityID string) error {
	if err := checkProfile(profileID); err != nil {
		return err
	}
	if !validSegment(opportunityID) {
		return eris.Wrapf(ErrInvalid, "opportunity %q", opportunityID)
	}
	return nil
}

// checkUpsert validates the key and the record before any write.
func checkUpsert(profileID string, opp *model.Opportunity) error {
	if opp == nil {
		return eris.Wrap(ErrInvalid, "nil opportunity")
	}
	if err := checkKey(profileID, opp.OpportunityID); err != nil {
		return err
	}
	if opp.ProfileID != "" && opp.ProfileID != profileID {
		return eris.Wrapf(ErrInvalid, "opportunity %s belongs to profile %s", opp.OpportunityID, opp.ProfileID)
	}
	return nil
}

func lockKey(profileID, opportunityID string) string {
	return profileID + "/" + opportunityID
}

func sortOpportunities(opps []model.Opportunity) {
	slices.SortFunc(opps, func(a, b model.Opportunity) int {
		if c := a.DiscoveredAt.Compare(b.DiscoveredAt); c != 0 {
			return c
		}
		return strings.Compare(a.OpportunityID, b.OpportunityID)
	})
}

func decodeOpportunity(data []byte) (*model.Opportunity, error) {
	var o model.Opportunity
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, eris.Wrap(err, "store: decode opportunity")
	}
	return &o, nil
}

func decodeAnalytics(data []byte) (*model.Analytics, error) {
	var a model.Analytics
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, eris.Wrap(err, "store: decode analytics")
	}
	return &a, nil
}

// encodeOpportunity stamps the owning profile and marshals the record.
func encodeOpportunity(profileID string, opp *model.Opportunity) ([]byte, error) {
	c := opp.Clone()
	c.ProfileID = profileID
	data, err := json.Marshal(c)
	return data, eris.Wrap(err, "store: encode opportunity")
}

var now = func() time.Time { return time.Now().UTC() }

func filterSorted(opps []model.Opportunity, stage model.Stage) []model.Opportunity {
	out := opps[:0]
	for _, o := range opps {
		if stage == "" || o.CurrentStage == stage {
			out = append(out, o)
		}
	}
	sortOpportunities(out)
	return out
}

// Open builds the backend selected by cfg.Driver. The caller owns the
// returned store and must Close it.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	case "file":
		return NewFileStore(cfg.DataDir)
	case "sqlite", "":
		if cfg.DataDir != "" {
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return nil, eris.Wrap(err, "store: create data dir")
			}
		}
		return NewSQLite(filepath.Join(cfg.DataDir, "grants.db"))
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
