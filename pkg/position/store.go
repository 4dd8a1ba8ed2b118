// Package position persists playback positions per episode.
package position

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"wco-resolver-go/pkg/interfaces"
	"wco-resolver-go/pkg/types"

	"github.com/metafates/gache"
	"github.com/samber/mo"
	"github.com/spf13/afero"
)

// FileName is the store's file inside the default cache directory.
const FileName = "playback_positions.json"

// gacheFs adapts an afero filesystem to gache.FileSystem.
type gacheFs struct {
	fs afero.Fs
}

func (g gacheFs) OpenFile(name string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	return g.fs.OpenFile(name, flag, perm)
}

func (g gacheFs) MkdirAll(path string, perm os.FileMode) error {
	return g.fs.MkdirAll(path, perm)
}

// Store keeps positions in a single JSON file keyed by the episode's
// absolute page URL. Media URLs are never keys: they carry short-lived
// tokens and change on every resolution.
type Store struct {
	mu    sync.Mutex
	cache *gache.Cache[map[string]types.Position]
	now   func() time.Time
}

// NewStore opens the store at path on fs. An empty path selects the user
// cache directory; a nil fs selects the OS filesystem. Once lifetime has
// passed since the last write the whole store is treated as empty.
func NewStore(path string, lifetime time.Duration, fs afero.Fs) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if path == "" {
		path = DefaultPath()
	}
	return &Store{
		cache: gache.New[map[string]types.Position](&gache.Options{
			Path:       path,
			Lifetime:   lifetime,
			FileSystem: gacheFs{fs: fs},
		}),
		now: time.Now,
	}
}

// DefaultPath is the store location used when none is configured.
func DefaultPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "wco-resolver", FileName)
}

func (s *Store) load() (map[string]types.Position, error) {
	saved, expired, err := s.cache.Get()
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}
	if expired || saved == nil {
		return make(map[string]types.Position), nil
	}
	return saved, nil
}

// Get returns the saved position for ref, if any.
func (s *Store) Get(ref types.EpisodeRef) (mo.Option[types.Position], error) {
	key, err := ref.AbsoluteURL()
	if err != nil {
		return mo.None[types.Position](), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved, err := s.load()
	if err != nil {
		return mo.None[types.Position](), err
	}
	if pos, ok := saved[key]; ok {
		return mo.Some(pos), nil
	}
	return mo.None[types.Position](), nil
}

// Save records pos for ref, replacing any earlier entry.
func (s *Store) Save(ref types.EpisodeRef, pos types.Position) error {
	key, err := ref.AbsoluteURL()
	if err != nil {
		return err
	}
	if pos.Position < 0 || pos.Duration < 0 {
		return fmt.Errorf("position and duration must not be negative")
	}
	if pos.Duration > 0 && pos.Position > pos.Duration {
		pos.Position = pos.Duration
	}
	if pos.UpdatedAt.IsZero() {
		pos.UpdatedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved, err := s.load()
	if err != nil {
		return err
	}
	saved[key] = pos
	return s.cache.Set(saved)
}

// Delete forgets the position for ref. Deleting a missing entry is not an error.
func (s *Store) Delete(ref types.EpisodeRef) error {
	key, err := ref.AbsoluteURL()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := saved[key]; !ok {
		return nil
	}
	delete(saved, key)
	return s.cache.Set(saved)
}

var _ interfaces.PositionStore = (*Store)(nil)
