package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/grant-funnel/internal/model"
)

// FileStore keeps one JSON file per opportunity under
// <dir>/<profile>/opportunities/ and one analytics.json per profile.
// Writes go through a temp file and a rename, so readers never observe a
// partially written record.
type FileStore struct {
	dir   string
	locks KeyedMutex
}

// NewFileStore creates the root directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, eris.New("file: data dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "file: create data dir")
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Migrate(context.Context) error { return nil }

func (s *FileStore) Close() error { return nil }

func (s *FileStore) oppDir(profileID string) string {
	return filepath.Join(s.dir, profileID, "opportunities")
}

func (s *FileStore) oppPath(profileID, opportunityID string) string {
	return filepath.Join(s.oppDir(profileID), opportunityID+".json")
}

func (s *FileStore) analyticsPath(profileID string) string {
	return filepath.Join(s.dir, profileID, "analytics.json")
}

func (s *FileStore) Get(ctx context.Context, profileID, opportunityID string) (*model.Opportunity, error) {
	if err := checkKey(profileID, opportunityID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.oppPath(profileID, opportunityID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrNotFound, "file: opportunity %s/%s", profileID, opportunityID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "file: read opportunity %s", opportunityID)
	}
	return decodeOpportunity(data)
}

func (s *FileStore) Upsert(ctx context.Context, profileID string, opp *model.Opportunity) error {
	if err := checkUpsert(profileID, opp); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "file: upsert")
	}
	data, err := encodeOpportunity(profileID, opp)
	if err != nil {
		return err
	}

	defer s.locks.Lock(lockKey(profileID, opp.OpportunityID))()
	return writeAtomic(s.oppPath(profileID, opp.OpportunityID), data)
}

func (s *FileStore) List(ctx context.Context, profileID string, stage model.Stage) ([]model.Opportunity, error) {
	if err := checkProfile(profileID); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.oppDir(profileID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "file: list profile %s", profileID)
	}

	opps := make([]model.Opportunity, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "file: list")
		}
		data, err := os.ReadFile(filepath.Join(s.oppDir(profileID), e.Name()))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, eris.Wrapf(err, "file: read %s", e.Name())
		}
		o, err := decodeOpportunity(data)
		if err != nil {
			return nil, eris.Wrapf(err, "file: %s", e.Name())
		}
		opps = append(opps, *o)
	}
	return filterSorted(opps, stage), nil
}

func (s *FileStore) RefreshAnalytics(ctx context.Context, profileID string) (*model.Analytics, error) {
	opps, err := s.List(ctx, profileID, "")
	if err != nil {
		return nil, err
	}
	a := model.ComputeAnalytics(profileID, opps, now())
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "file: encode analytics")
	}

	defer s.locks.Lock(profileID)()
	if err := writeAtomic(s.analyticsPath(profileID), data); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *FileStore) GetAnalytics(ctx context.Context, profileID string) (*model.Analytics, error) {
	if err := checkProfile(profileID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.analyticsPath(profileID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrNotFound, "file: analytics %s", profileID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "file: read analytics %s", profileID)
	}
	return decodeAnalytics(data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "file: create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return eris.Wrap(err, "file: create temp")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return eris.Wrapf(err, "file: write %s", path)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return eris.Wrapf(err, "file: sync %s", path)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "file: close %s", path)
	}
	return eris.Wrapf(os.Rename(tmp.Name(), path), "file: rename %s", path)
}
