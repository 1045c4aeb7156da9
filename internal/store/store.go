package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/reviewpix/reviewpix/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	documentVersion = 1
	flushDelay      = 5 * time.Second
)

// Flag names a processing flag merged by MarkProcessed.
type Flag string

const (
	FlagImageGenerated Flag = "image_generated"
	FlagChatShared     Flag = "chat_shared"
)

// ErrConflict is returned by Add when the id is already present.
var ErrConflict = fmt.Errorf("review already exists")

// document is the single persisted file: every review keyed by id plus
// per-source cursors and aggregate stats.
type document struct {
	Version int                       `json:"version"`
	Cursors map[string]string         `json:"cursors"`
	Reviews map[string]*models.Review `json:"reviews"`
	Stats   documentStats             `json:"stats"`
}

type documentStats struct {
	TotalIngested int                  `json:"total_ingested"`
	LastPollTimes map[string]time.Time `json:"last_poll_times"`
}

// Stats is the aggregate view returned by Stats().
type Stats struct {
	TotalReviews   int                  `json:"total_reviews"`
	TotalIngested  int                  `json:"total_ingested"`
	BySource       map[string]int       `json:"by_source"`
	ImageGenerated int                  `json:"images_generated"`
	ChatShared     int                  `json:"chat_shared"`
	LastPollTimes  map[string]time.Time `json:"last_poll_times"`
}

// Store owns the review document. All mutations are write-through to
// memory and flushed to disk by a debounced timer; Shutdown flushes
// synchronously.
type Store struct {
	path string

	mu    sync.Mutex
	doc   *document
	dirty bool
	timer *time.Timer
}

// New loads the document at path, starting fresh on a missing file,
// parse error, or version mismatch.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Store{path: path, doc: emptyDocument()}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read store file: %w", err)
		}
		logrus.Infof("No review store at %s, starting fresh", path)
		return s, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		logrus.Errorf("Review store at %s is corrupt, starting fresh: %v", path, err)
		s.dirty = true
		return s, nil
	}
	if doc.Version != documentVersion {
		logrus.Warnf("Review store version %d != %d, starting fresh", doc.Version, documentVersion)
		s.dirty = true
		return s, nil
	}

	if doc.Cursors == nil {
		doc.Cursors = make(map[string]string)
	}
	if doc.Reviews == nil {
		doc.Reviews = make(map[string]*models.Review)
	}
	if doc.Stats.LastPollTimes == nil {
		doc.Stats.LastPollTimes = make(map[string]time.Time)
	}
	s.doc = &doc

	logrus.Infof("Loaded %d reviews from %s", len(doc.Reviews), path)
	return s, nil
}

func emptyDocument() *document {
	return &document{
		Version: documentVersion,
		Cursors: make(map[string]string),
		Reviews: make(map[string]*models.Review),
		Stats: documentStats{
			LastPollTimes: make(map[string]time.Time),
		},
	}
}

// Has reports whether a review with the given id is stored.
func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.doc.Reviews[id]
	return ok
}

// Get returns a copy of the stored review, or false when absent.
func (s *Store) Get(id string) (models.Review, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.doc.Reviews[id]
	if !ok {
		return models.Review{}, false
	}
	return *r, true
}

// Add inserts a new review. ErrConflict when the id is already present.
func (s *Store) Add(review models.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.Reviews[review.ID]; ok {
		return fmt.Errorf("%w: %s", ErrConflict, review.ID)
	}

	stored := review
	s.doc.Reviews[review.ID] = &stored
	s.doc.Stats.TotalIngested++
	s.markDirtyLocked()
	return nil
}

// MarkProcessed stamps ProcessedAt and merges the named flags. Unknown
// ids are a no-op.
func (s *Store) MarkProcessed(id string, flags ...Flag) {
	s.mu.Lock()
	defer s.mu.Unlock()

	review, ok := s.doc.Reviews[id]
	if !ok {
		return
	}

	review.ProcessedAt = time.Now().UTC()
	for _, flag := range flags {
		switch flag {
		case FlagImageGenerated:
			review.ImageGenerated = true
		case FlagChatShared:
			review.ChatShared = true
		}
	}
	s.markDirtyLocked()
}

// GetCursor returns the opaque cursor for a source, "" when unset.
func (s *Store) GetCursor(source string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Cursors[source]
}

// SetCursor records a source's cursor token.
func (s *Store) SetCursor(source, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Cursors[source] = token
	s.markDirtyLocked()
}

// SetLastPollTime stamps the current wall clock for a source.
func (s *Store) SetLastPollTime(source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Stats.LastPollTimes[source] = time.Now().UTC()
	s.markDirtyLocked()
}

// Recent returns up to limit reviews, newest first by review date with
// processed time as fallback, optionally filtered by source.
func (s *Store) Recent(limit int, source string) []models.Review {
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	s.mu.Lock()
	reviews := make([]models.Review, 0, len(s.doc.Reviews))
	for _, r := range s.doc.Reviews {
		if source != "" && r.Source != source {
			continue
		}
		reviews = append(reviews, *r)
	}
	s.mu.Unlock()

	sort.Slice(reviews, func(i, j int) bool {
		return sortTime(reviews[i]).After(sortTime(reviews[j]))
	})

	if len(reviews) > limit {
		reviews = reviews[:limit]
	}
	return reviews
}

func sortTime(r models.Review) time.Time {
	if !r.ReviewDate.IsZero() {
		return r.ReviewDate
	}
	return r.ProcessedAt
}

// Stats returns aggregate counts and the last-poll map.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		TotalReviews:  len(s.doc.Reviews),
		TotalIngested: s.doc.Stats.TotalIngested,
		BySource:      make(map[string]int),
		LastPollTimes: make(map[string]time.Time, len(s.doc.Stats.LastPollTimes)),
	}
	for _, r := range s.doc.Reviews {
		stats.BySource[r.Source]++
		if r.ImageGenerated {
			stats.ImageGenerated++
		}
		if r.ChatShared {
			stats.ChatShared++
		}
	}
	for source, t := range s.doc.Stats.LastPollTimes {
		stats.LastPollTimes[source] = t
	}
	return stats
}

// Prune deletes reviews older than maxAgeDays and returns the count.
// Reviews without a review date fall back to their processed time.
func (s *Store) Prune(maxAgeDays int) int {
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, r := range s.doc.Reviews {
		if sortTime(*r).Before(cutoff) {
			delete(s.doc.Reviews, id)
			removed++
		}
	}
	if removed > 0 {
		s.markDirtyLocked()
	}
	return removed
}

// Flush saves synchronously if there are unsaved changes.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// Shutdown cancels the debounce timer and flushes synchronously.
func (s *Store) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return s.flushLocked()
}

// markDirtyLocked arms the debounce timer. Re-arming an armed timer is
// a no-op so a burst of mutations produces one save.
func (s *Store) markDirtyLocked() {
	s.dirty = true
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(flushDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.timer = nil
		if err := s.flushLocked(); err != nil {
			logrus.Errorf("Debounced store save failed: %v", err)
		}
	})
}

// flushLocked serialises the document and replaces the file atomically:
// write to path.tmp, copy the previous file to path.bak, rename the tmp
// into place. On failure dirty stays set so a later flush retries.
func (s *Store) flushLocked() error {
	if !s.dirty {
		return nil
	}

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal review store: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}

	if prev, err := os.ReadFile(s.path); err == nil {
		if err := os.WriteFile(s.path+".bak", prev, 0o644); err != nil {
			logrus.Warnf("Failed to write backup %s.bak: %v", s.path, err)
		}
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}

	s.dirty = false
	logrus.Debugf("Saved %d reviews to %s", len(s.doc.Reviews), s.path)
	return nil
}
