// Package app wires the habitsync components together from a Config. Both
// binaries build on it.
package app

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/hack-pad/hackpadfs"
	hpos "github.com/hack-pad/hackpadfs/os"

	"github.com/kimhsiao/habitsync/internal/blob"
	"github.com/kimhsiao/habitsync/internal/config"
	"github.com/kimhsiao/habitsync/internal/connectivity"
	"github.com/kimhsiao/habitsync/internal/db"
	"github.com/kimhsiao/habitsync/internal/docstore"
	"github.com/kimhsiao/habitsync/internal/errors"
	"github.com/kimhsiao/habitsync/internal/habits"
	"github.com/kimhsiao/habitsync/internal/lock"
	"github.com/kimhsiao/habitsync/internal/logging"
	"github.com/kimhsiao/habitsync/internal/sync"
	"github.com/kimhsiao/habitsync/internal/sync/queue"
	"github.com/kimhsiao/habitsync/internal/sync/scheduler"
)

// RecordingCacheDir is the directory under DataDir holding cached recordings.
const RecordingCacheDir = "recordings"

// App holds the wired components.
type App struct {
	Config     *config.Config
	Store      *db.Store
	Remote     docstore.Store
	Queue      *queue.Queue
	Monitor    *connectivity.Monitor
	Prober     *connectivity.Prober // nil when no probe URL is configured
	Engine     *sync.Engine
	Habits     *habits.Service
	Recordings *blob.CachedStore
	Locker     *lock.Locker
	Scheduler  *scheduler.Scheduler
}

type options struct {
	remote  docstore.Store
	cacheFS hackpadfs.FS
}

// Option overrides a component, mostly for tests.
type Option func(*options)

// WithRemote uses remote instead of the store selected by the config.
func WithRemote(remote docstore.Store) Option {
	return func(o *options) { o.remote = remote }
}

// WithCacheFS stores cached recordings on fsys instead of under DataDir.
func WithCacheFS(fsys hackpadfs.FS) Option {
	return func(o *options) { o.cacheFS = fsys }
}

// New builds an App. The local store is opened lazily on first use.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	remote := o.remote
	if remote == nil {
		remote = NewRemote(cfg)
	}

	cacheFS := o.cacheFS
	if cacheFS == nil {
		fsys, err := OSCacheFS(filepath.Join(cfg.DataDir, RecordingCacheDir))
		if err != nil {
			return nil, err
		}
		cacheFS = fsys
	}

	a := &App{
		Config:  cfg,
		Store:   db.NewStore(cfg.DataDir),
		Remote:  remote,
		Monitor: connectivity.NewMonitor(cfg.ProbeURL == ""),
	}
	a.Queue = queue.New(a.Store)

	habitRemote := habits.NewRemote(remote)
	a.Engine = sync.NewEngine(a.Queue, habitRemote, a.Monitor, sync.WithItemTimeout(cfg.ItemTimeout))

	a.Scheduler = scheduler.NewScheduler(a.Engine, a.Monitor, a.Store, &scheduler.SchedulerConfig{
		UserID:        cfg.UserID,
		SyncInterval:  cfg.SyncInterval,
		SweepInterval: cfg.SweepInterval,
	})
	a.Habits = habits.NewService(a.Store, a.Queue, habitRemote, a.Monitor, func(ctx context.Context, userID string) {
		if userID == cfg.UserID {
			a.Scheduler.TriggerSync(ctx)
			return
		}
		a.Engine.SyncQueue(context.WithoutCancel(ctx), userID)
	})

	a.Recordings = blob.NewCachedStore(
		blob.NewChunkedStore(remote, blob.WithMaxChunkBytes(cfg.MaxChunkBytes)),
		blob.NewRecordingCache(cacheFS),
	)
	a.Locker = lock.NewLocker(lock.NewUnlockState(), cfg.PINHash)

	if cfg.ProbeURL != "" {
		a.Prober = connectivity.NewProber(cfg.ProbeURL, cfg.ProbeInterval, a.Monitor)
	}
	return a, nil
}

// NewRemote returns the REST document store for cfg, or an in-memory store
// when no remote URL is configured.
func NewRemote(cfg *config.Config) docstore.Store {
	if cfg.RemoteURL == "" {
		logging.Warn("No remote URL configured, using in-memory document store", nil)
		return docstore.NewMemory()
	}
	return docstore.NewRESTClient(docstore.RESTConfig{
		BaseURL:   cfg.RemoteURL,
		AuthToken: cfg.RemoteAuth,
	})
}

// OSCacheFS returns a hackpadfs view rooted at dir on the host file system,
// creating dir if needed.
func OSCacheFS(dir string) (hackpadfs.FS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorageUnavailable, "resolve cache dir", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, errors.Wrap(errors.ErrStorageUnavailable, "create cache dir", err)
	}

	osfs := hpos.NewFS()
	root, err := osfs.FromOSPath(abs)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorageUnavailable, "resolve cache dir", err)
	}
	sub, err := osfs.Sub(root)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorageUnavailable, "open cache dir", err)
	}
	return sub, nil
}

// SetupLogging initializes the global logger from cfg. The returned closer
// releases the log file, if any.
func SetupLogging(cfg *config.Config) io.Closer {
	if cfg.LogFile == "" {
		logging.Init(os.Stderr, cfg.LogLevel)
		return nopCloser{}
	}
	w := logging.NewRotatingWriter(logging.RotationConfig{
		Path:       cfg.LogFile,
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
	})
	logging.Init(w, cfg.LogLevel)
	return w
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Close releases the local store.
func (a *App) Close() error {
	return a.Store.Close()
}
