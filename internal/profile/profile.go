// Package profile loads organization profiles from YAML files.
package profile

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/grant-funnel/internal/model"
)

// ErrNotFound is returned for an unknown profile id.
var ErrNotFound = eris.New("profile not found")

var idRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Service resolves organization profiles.
type Service interface {
	Get(ctx context.Context, profileID string) (*model.OrganizationProfile, error)
	List(ctx context.Context) ([]string, error)
}

// FileService reads <dir>/<profile_id>.yaml on every call, so edits are
// picked up without a restart.
type FileService struct {
	dir string
}

// NewFileService creates a FileService rooted at dir.
func NewFileService(dir string) *FileService {
	return &FileService{dir: dir}
}

func (s *FileService) Get(_ context.Context, profileID string) (*model.OrganizationProfile, error) {
	if !idRe.MatchString(profileID) || profileID == "." || profileID == ".." {
		return nil, eris.Wrapf(ErrNotFound, "profile: invalid id %q", profileID)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, profileID+".yaml"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrNotFound, "profile: %s", profileID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "profile: read %s", profileID)
	}
	return Parse(profileID, data)
}

// List returns the ids of all profiles in the directory, sorted.
func (s *FileService) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "profile: list")
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	slices.Sort(ids)
	return ids, nil
}

// Parse decodes a profile document. The id defaults to profileID and must
// match it when set.
func Parse(profileID string, data []byte) (*model.OrganizationProfile, error) {
	var p model.OrganizationProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrapf(err, "profile: parse %s", profileID)
	}
	if p.ID == "" {
		p.ID = profileID
	}
	if p.ID != profileID {
		return nil, eris.Errorf("profile: file %s declares id %q", profileID, p.ID)
	}
	if strings.TrimSpace(p.Mission) == "" {
		return nil, eris.Errorf("profile: %s has no mission", profileID)
	}
	if p.Name == "" {
		p.Name = profileID
	}
	return &p, nil
}
