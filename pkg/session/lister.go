package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/voxhound/voxhound/internal/observability"
	"github.com/voxhound/voxhound/pkg/storage"
)

// DefaultPageSize is used when a caller requests a non-positive page size.
const DefaultPageSize = 50

// SessionSummary is one listing entry: a decoded manifest, or a
// present-but-unreadable marker when the manifest object exists but cannot
// be parsed.
type SessionSummary struct {
	SessionID string    `json:"session_id"`
	Manifest  *Manifest `json:"manifest,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// pageToken is the decoded form of the opaque listing cursor: the day
// partition being walked and the last session group visited within it.
type pageToken struct {
	Day   string `json:"day"`
	After string `json:"after"`
}

// Lister reconstructs a paginated, time-ordered view of finalized sessions
// directly from the backend's key namespace; there is no separate index.
// Day partitions are walked most-recent-first, and only session groups with
// a manifest surface.
type Lister struct {
	backend storage.Backend
	prefix  string
}

// NewLister creates a lister over the key namespace rooted at prefix.
func NewLister(backend storage.Backend, prefix string) *Lister {
	if prefix == "" {
		prefix = "sessions"
	}
	return &Lister{backend: backend, prefix: prefix}
}

// ListSessions returns one page of finalized sessions in descending date
// order, plus an opaque token resuming the listing, empty on the terminal
// page.
func (l *Lister) ListSessions(ctx context.Context, token string, pageSize int) ([]SessionSummary, string, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	cursor, err := decodePageToken(token)
	if err != nil {
		return nil, "", err
	}

	days, err := l.dayPartitions(ctx)
	if err != nil {
		return nil, "", err
	}

	summaries := make([]SessionSummary, 0, pageSize)
	var lastDay, lastVisited string
	more := false

walk:
	for _, day := range days {
		if cursor.Day != "" && day > cursor.Day {
			continue
		}

		ids, err := l.sessionIDs(ctx, day)
		if err != nil {
			return nil, "", err
		}

		for _, id := range ids {
			if cursor.Day == day && cursor.After != "" && id >= cursor.After {
				continue
			}
			if len(summaries) == pageSize {
				more = true
				break walk
			}

			lastDay, lastVisited = day, id
			summary, ok, err := l.loadSummary(ctx, day, id)
			if err != nil {
				return nil, "", err
			}
			if ok {
				summaries = append(summaries, summary)
			}
		}
	}

	observability.RecordListPage()

	next := ""
	if more {
		next, err = encodePageToken(pageToken{Day: lastDay, After: lastVisited})
		if err != nil {
			return nil, "", err
		}
	}
	return summaries, next, nil
}

// FindSessionPrefix locates the key prefix of a finalized session by walking
// day partitions most-recent-first.
func (l *Lister) FindSessionPrefix(ctx context.Context, sessionID string) (string, error) {
	days, err := l.dayPartitions(ctx)
	if err != nil {
		return "", err
	}

	for _, day := range days {
		prefix := fmt.Sprintf("%s/%s/%s", l.prefix, day, sessionID)
		ok, err := l.backend.Exists(ctx, prefix+"/"+ManifestArtifact)
		if err != nil {
			return "", err
		}
		if ok {
			return prefix, nil
		}
	}
	return "", fmt.Errorf("%w: %s", storage.ErrNotFound, sessionID)
}

// loadSummary decodes one session group's manifest. A missing manifest means
// the group is still active or failed, and is skipped; a corrupt manifest is
// surfaced as present-but-unreadable.
func (l *Lister) loadSummary(ctx context.Context, day, id string) (SessionSummary, bool, error) {
	key := fmt.Sprintf("%s/%s/%s/%s", l.prefix, day, id, ManifestArtifact)

	data, err := l.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return SessionSummary{}, false, nil
		}
		return SessionSummary{}, false, err
	}

	manifest, err := DecodeManifest(data)
	if err != nil {
		if errors.Is(err, ErrCorruptManifest) {
			log.Warn().Str("session_id", id).Str("key", key).Err(err).Msg("Unreadable manifest in listing")
			return SessionSummary{SessionID: id, Error: "corrupt manifest"}, true, nil
		}
		return SessionSummary{}, false, err
	}
	return SessionSummary{SessionID: id, Manifest: manifest}, true, nil
}

// dayPartitions enumerates YYYY/MM/DD partitions under the base prefix in
// descending order. Zero-padded components make lexicographic order
// chronological.
func (l *Lister) dayPartitions(ctx context.Context) ([]string, error) {
	var days []string

	years, err := l.backend.ListDirs(ctx, l.prefix+"/")
	if err != nil {
		return nil, err
	}
	for _, year := range years {
		months, err := l.backend.ListDirs(ctx, year)
		if err != nil {
			return nil, err
		}
		for _, month := range months {
			dayDirs, err := l.backend.ListDirs(ctx, month)
			if err != nil {
				return nil, err
			}
			for _, d := range dayDirs {
				day := strings.TrimSuffix(strings.TrimPrefix(d, l.prefix+"/"), "/")
				days = append(days, day)
			}
		}
	}

	sort.Sort(sort.Reverse(sort.StringSlice(days)))
	return days, nil
}

// sessionIDs enumerates the session groups of one day partition in
// descending id order, keeping pagination deterministic for any page size.
func (l *Lister) sessionIDs(ctx context.Context, day string) ([]string, error) {
	dirs, err := l.backend.ListDirs(ctx, fmt.Sprintf("%s/%s/", l.prefix, day))
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(dirs))
	for _, d := range dirs {
		parts := strings.Split(strings.TrimSuffix(d, "/"), "/")
		ids = append(ids, parts[len(parts)-1])
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

func encodePageToken(t pageToken) (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to encode page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodePageToken(token string) (pageToken, error) {
	var t pageToken
	if token == "" {
		return t, nil
	}

	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return t, fmt.Errorf("invalid page token: %w", err)
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("invalid page token: %w", err)
	}
	return t, nil
}
