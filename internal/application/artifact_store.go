package application

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"agent-bridge/internal/domain"
	"agent-bridge/internal/ports/output"

	"github.com/sirupsen/logrus"
)

var (
	legacyVersionPattern = regexp.MustCompile(`^v(\d+)$`)

	// Version suffixes the backend tends to append when it refers to an artifact by name
	filenameSuffixPatterns = []*regexp.Regexp{
		regexp.MustCompile(` v\d+$`),
		regexp.MustCompile(`_v\d+$`),
		regexp.MustCompile(` \(\d+\)$`),
	}
)

// physicalLocation is the directory one convention keeps the versions of a logical key in
type physicalLocation struct {
	convention domain.PathConvention
	prefix     string
}

func (l physicalLocation) versionPath(version int) string {
	if l.convention == domain.PathConventionLegacyFlat {
		return fmt.Sprintf("%sv%d", l.prefix, version)
	}
	return fmt.Sprintf("%s%d", l.prefix, version)
}

func (l physicalLocation) parseVersion(path string) (int, bool) {
	rest := strings.TrimPrefix(path, l.prefix)
	if rest == path || rest == "" || strings.Contains(rest, "/") {
		return 0, false
	}
	if l.convention == domain.PathConventionLegacyFlat {
		m := legacyVersionPattern.FindStringSubmatch(rest)
		if m == nil {
			return 0, false
		}
		rest = m[1]
	}
	version, err := strconv.Atoi(rest)
	if err != nil || version < 0 {
		return 0, false
	}
	return version, true
}

// resolvePhysicalPaths lists where a logical key may live, most specific first.
// Keys without a session only exist under the legacy flat convention.
func resolvePhysicalPaths(key domain.ArtifactKey) []physicalLocation {
	locations := make([]physicalLocation, 0, 2)
	if key.SessionID != "" {
		locations = append(locations, physicalLocation{
			convention: domain.PathConventionSessionScoped,
			prefix:     fmt.Sprintf("%s/%s/%s/%s/", key.AppName, key.UserID, key.SessionID, key.Filename),
		})
	}
	locations = append(locations, physicalLocation{
		convention: domain.PathConventionLegacyFlat,
		prefix:     fmt.Sprintf("%s/%s/%s/", key.AppName, key.UserID, key.Filename),
	})
	return locations
}

func userPrefix(appName, userID string) string {
	return fmt.Sprintf("%s/%s/", appName, userID)
}

// parseUserPath turns a path below {app}/{user}/ back into the logical key it was stored for
func parseUserPath(appName, userID, path string) (domain.ArtifactKey, bool) {
	rel := strings.TrimPrefix(path, userPrefix(appName, userID))
	if rel == path {
		return domain.ArtifactKey{}, false
	}
	parts := strings.Split(rel, "/")
	switch len(parts) {
	case 3:
		if _, err := strconv.Atoi(parts[2]); err != nil || parts[0] == "" || parts[1] == "" {
			return domain.ArtifactKey{}, false
		}
		return domain.ArtifactKey{AppName: appName, UserID: userID, SessionID: parts[0], Filename: parts[1]}, true
	case 2:
		if !legacyVersionPattern.MatchString(parts[1]) || parts[0] == "" {
			return domain.ArtifactKey{}, false
		}
		return domain.ArtifactKey{AppName: appName, UserID: userID, Filename: parts[0]}, true
	default:
		return domain.ArtifactKey{}, false
	}
}

// filenameCandidates returns the name as given followed by each suffix-stripped variant
func filenameCandidates(filename string) []string {
	candidates := []string{filename}
	seen := map[string]bool{filename: true}
	for _, pattern := range filenameSuffixPatterns {
		stripped := pattern.ReplaceAllString(filename, "")
		if stripped == "" || seen[stripped] {
			continue
		}
		seen[stripped] = true
		candidates = append(candidates, stripped)
	}
	return candidates
}

// ArtifactStore struct - Versioned artifact storage over a durable object store
type ArtifactStore struct {
	store output.DurableStore
	now   func() time.Time
}

// NewArtifactStore func - Creates new artifact store
func NewArtifactStore(store output.DurableStore) *ArtifactStore {
	return &ArtifactStore{
		store: store,
		now:   time.Now,
	}
}

// Save func - Writes payload as the next version of key under the session-scoped convention.
// Two concurrent saves of the same key can pick the same version; the later write wins.
func (s *ArtifactStore) Save(ctx context.Context, key domain.ArtifactKey, mimeType string, payload []byte) (int, error) {
	if key.AppName == "" || key.UserID == "" || key.SessionID == "" || key.Filename == "" {
		return 0, fmt.Errorf("%w: artifact key requires app, user, session and filename", domain.ErrInvalidRequest)
	}

	location := resolvePhysicalPaths(key)[0]
	latest, found, err := s.maxVersion(ctx, location)
	if err != nil {
		return 0, err
	}
	version := 1
	if found {
		version = latest + 1
	}

	blob := domain.Blob{
		Data:        payload,
		ContentType: mimeType,
		UpdatedAt:   s.now(),
	}
	if err := s.store.Put(ctx, location.versionPath(version), blob); err != nil {
		return 0, fmt.Errorf("%w: save artifact %s: %v", domain.ErrDurableStore, key.Filename, err)
	}

	logrus.Debugf("Saved artifact: path=%s, mime=%s, bytes=%d", location.versionPath(version), mimeType, len(payload))
	return version, nil
}

// LoadLatest func - Returns the newest version of key located with strategy
func (s *ArtifactStore) LoadLatest(ctx context.Context, key domain.ArtifactKey, strategy domain.LatestStrategy) (*domain.Artifact, error) {
	locations := resolvePhysicalPaths(key)

	if strategy == domain.LatestBySentinel {
		for _, location := range locations {
			artifact, err := s.loadVersion(ctx, key, location, domain.SentinelVersion)
			if err == nil {
				return artifact, nil
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
		}
	}

	for _, location := range locations {
		artifact, err := s.latestAt(ctx, key, location)
		if err != nil {
			return nil, err
		}
		if artifact != nil {
			return artifact, nil
		}
	}

	return nil, &domain.ArtifactNotFoundError{Attempted: []string{key.Filename}}
}

// LoadByFilenameWithVersionFallback func - Finds the user's artifact by a possibly suffixed name.
// Candidates are tried in order; the first one with any stored version wins, and among its
// locations the most recently written is returned.
func (s *ArtifactStore) LoadByFilenameWithVersionFallback(ctx context.Context, appName, userID, filename string) (*domain.Artifact, error) {
	keys, err := s.scanUser(ctx, appName, userID)
	if err != nil {
		return nil, err
	}

	candidates := filenameCandidates(filename)
	for _, candidate := range candidates {
		var best *domain.Artifact
		visited := map[string]bool{}

		for _, key := range keys[candidate] {
			for _, location := range resolvePhysicalPaths(key) {
				if visited[location.prefix] {
					continue
				}
				visited[location.prefix] = true

				artifact, err := s.latestAt(ctx, key, location)
				if err != nil {
					return nil, err
				}
				if artifact != nil && newerArtifact(artifact, best) {
					best = artifact
				}
			}
		}

		if best != nil {
			if candidate != filename {
				logrus.Infof("Resolved artifact %q via filename variant %q", filename, candidate)
			}
			return best, nil
		}
	}

	return nil, &domain.ArtifactNotFoundError{Attempted: candidates}
}

// ListFilenames func - Returns every filename stored for the user under either convention
func (s *ArtifactStore) ListFilenames(ctx context.Context, appName, userID string) ([]string, error) {
	keys, err := s.scanUser(ctx, appName, userID)
	if err != nil {
		return nil, err
	}

	filenames := make([]string, 0, len(keys))
	for filename := range keys {
		filenames = append(filenames, filename)
	}
	sort.Strings(filenames)
	return filenames, nil
}

// scanUser groups the logical keys found under {app}/{user}/ by filename
func (s *ArtifactStore) scanUser(ctx context.Context, appName, userID string) (map[string][]domain.ArtifactKey, error) {
	paths, err := s.store.List(ctx, userPrefix(appName, userID))
	if err != nil {
		return nil, fmt.Errorf("%w: list artifacts for %s: %v", domain.ErrDurableStore, userID, err)
	}

	keys := make(map[string][]domain.ArtifactKey)
	seen := make(map[domain.ArtifactKey]bool)
	for _, path := range paths {
		key, ok := parseUserPath(appName, userID, path)
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		keys[key.Filename] = append(keys[key.Filename], key)
	}
	return keys, nil
}

func (s *ArtifactStore) maxVersion(ctx context.Context, location physicalLocation) (int, bool, error) {
	paths, err := s.store.List(ctx, location.prefix)
	if err != nil {
		return 0, false, fmt.Errorf("%w: list %s: %v", domain.ErrDurableStore, location.prefix, err)
	}

	latest, found := 0, false
	for _, path := range paths {
		version, ok := location.parseVersion(path)
		if !ok {
			continue
		}
		if !found || version > latest {
			latest, found = version, true
		}
	}
	return latest, found, nil
}

// latestAt returns nil without error when the location holds no versions
func (s *ArtifactStore) latestAt(ctx context.Context, key domain.ArtifactKey, location physicalLocation) (*domain.Artifact, error) {
	version, found, err := s.maxVersion(ctx, location)
	if err != nil || !found {
		return nil, err
	}

	artifact, err := s.loadVersion(ctx, key, location, version)
	if errors.Is(err, domain.ErrNotFound) {
		// Deleted between list and get
		return nil, nil
	}
	return artifact, err
}

func (s *ArtifactStore) loadVersion(ctx context.Context, key domain.ArtifactKey, location physicalLocation, version int) (*domain.Artifact, error) {
	blob, err := s.store.Get(ctx, location.versionPath(version))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: load %s: %v", domain.ErrDurableStore, location.versionPath(version), err)
	}

	if location.convention == domain.PathConventionLegacyFlat {
		key.SessionID = ""
	}
	return &domain.Artifact{
		Key:       key,
		Version:   version,
		MimeType:  blob.ContentType,
		Payload:   blob.Data,
		Timestamp: blob.UpdatedAt,
	}, nil
}

func newerArtifact(candidate, current *domain.Artifact) bool {
	if current == nil {
		return true
	}
	if !candidate.Timestamp.Equal(current.Timestamp) {
		return candidate.Timestamp.After(current.Timestamp)
	}
	return candidate.Version > current.Version
}
