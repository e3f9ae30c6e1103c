package companion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hyperengineering/peersync/internal/config"
	"github.com/hyperengineering/peersync/internal/domain"
	"github.com/hyperengineering/peersync/internal/engine"
	"github.com/hyperengineering/peersync/internal/multistore"
	"github.com/hyperengineering/peersync/internal/types"
	"github.com/hyperengineering/peersync/internal/worker"
)

// Config is the peersync configuration.
type Config = config.Config

// LoadConfig reads the configuration from defaults, the YAML file named by
// PEERSYNC_CONFIG_PATH and PEERSYNC_* environment variables.
func LoadConfig() (*Config, error) {
	return config.Load()
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return config.Defaults()
}

// AppIdentity identifies the application embedding the host. Empty fields
// fall back to the app section of the configuration.
type AppIdentity struct {
	AppID      string
	AppName    string
	AppVersion string
	// ClientTypeFilter restricts records to one service type, such as
	// "torrent". Records without a service type always pass.
	ClientTypeFilter string
}

// Host runs one sync engine per domain for a single application.
type Host struct {
	cfg     Config
	logger  *slog.Logger
	stores  *multistore.StoreManager
	engines []*engine.Engine

	themes      *ThemeManager
	language    *LanguageManager
	profiles    *ProfileManager
	history     *HistoryManager
	bookmarks   *BookmarkManager
	rss         *RSSManager
	preferences *PreferencesManager
	torrent     *TorrentSharingManager

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewHost opens the store of every domain and creates their engines.
// Managers serve local reads and writes right away; Start connects the
// host to its peers.
func NewHost(ctx context.Context, id AppIdentity, cfg *Config, logger *slog.Logger) (*Host, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := *cfg
	if id.AppID != "" {
		c.App.ID = id.AppID
	}
	if id.AppName != "" {
		c.App.Name = id.AppName
	}
	if id.AppVersion != "" {
		c.App.Version = id.AppVersion
	}
	if id.ClientTypeFilter != "" {
		c.App.ClientTypeFilter = id.ClientTypeFilter
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	stores, err := multistore.NewStoreManager(c.Database.RootPath)
	if err != nil {
		return nil, err
	}

	h := &Host{cfg: c, logger: logger, stores: stores}
	registry := domain.Builtins()
	for i, d := range types.AllDomains() {
		managed, err := stores.GetStore(ctx, d)
		if err != nil {
			h.abort()
			return nil, fmt.Errorf("open %s store: %w", d, err)
		}
		eng, err := engine.New(engine.Options{
			Identity: types.Identity{
				AppID:      c.App.ID,
				AppName:    c.App.Name,
				AppVersion: c.App.Version,
			},
			Policy:           registry.MustGet(d),
			Store:            managed.Store,
			BasePort:         c.Ports.Base(d),
			Host:             c.Server.Host,
			APIKey:           c.Auth.APIKey,
			ClientTypeFilter: c.App.ClientTypeFilter,
			StartDelay:       time.Duration(i) * time.Duration(c.Sync.StaggerStep),
			RequestTimeout:   time.Duration(c.Sync.RequestTimeout),
			OutboxSize:       c.Sync.BroadcastQueue,
			RediscoveryGap:   time.Duration(c.Sync.RediscoveryMinGap),
			RetryBase:        time.Duration(c.Sync.RetryBase),
			RetryMax:         time.Duration(c.Sync.RetryMax),
			IdempotencyTTL:   time.Duration(c.Sync.IdempotencyTTL),
			Logger:           logger,
		})
		if err != nil {
			h.abort()
			return nil, fmt.Errorf("create %s engine: %w", d, err)
		}
		h.engines = append(h.engines, eng)
	}

	h.themes = &ThemeManager{c: collection[ThemeData]{eng: h.Engine(types.DomainTheme)}}
	h.language = &LanguageManager{c: collection[LanguageData]{eng: h.Engine(types.DomainLanguage)}}
	h.profiles = &ProfileManager{c: collection[ProfileData]{eng: h.Engine(types.DomainProfile)}}
	h.history = &HistoryManager{c: collection[HistoryItemData]{eng: h.Engine(types.DomainHistory)}, now: time.Now}
	h.bookmarks = &BookmarkManager{c: collection[BookmarkData]{eng: h.Engine(types.DomainBookmark)}}
	h.rss = &RSSManager{c: collection[RSSFeedData]{eng: h.Engine(types.DomainRSS)}}
	h.preferences = &PreferencesManager{c: collection[domain.Preference]{eng: h.Engine(types.DomainPreferences)}}
	h.torrent = &TorrentSharingManager{c: collection[TorrentSharingData]{eng: h.Engine(types.DomainTorrentSharing)}}

	if err := h.themes.EnsureBuiltins(ctx); err != nil {
		h.abort()
		return nil, fmt.Errorf("seed built-in themes: %w", err)
	}
	return h, nil
}

// abort releases what NewHost created before failing.
func (h *Host) abort() {
	ctx, cancel := context.WithTimeout(context.Background(), engine.DefaultShutdownTimeout)
	defer cancel()
	for _, e := range h.engines {
		_ = e.Stop(ctx)
	}
	_ = h.stores.Close()
}

// Start starts every engine, domain i after i stagger steps, and waits
// until all of them are active. The background coordinators run until Stop.
// If any engine fails to start the host is stopped and its stores closed;
// later Start calls return ErrStopped and a new host must be created.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return ErrStopped
	}
	if h.started {
		return engine.ErrAlreadyStarted
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range h.engines {
		g.Go(func() error {
			return e.Start(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		h.stopped = true
		h.abort()
		h.logger.Error("host start failed",
			"component", "companion",
			"action", "host_start_failed",
			"app_id", h.cfg.App.ID,
			"error", err,
		)
		return err
	}
	h.started = true

	wctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	engines := worker.Engines(h.engines)
	h.startWorker(wctx, "discovery", worker.NewDiscoveryCoordinator(engines,
		time.Duration(h.cfg.Sync.DiscoveryInterval)).Run)
	h.startWorker(wctx, "tombstone-gc", worker.NewTombstoneCoordinator(engines,
		time.Duration(h.cfg.Sync.TombstoneGCInterval), time.Duration(h.cfg.Sync.TombstoneRetention)).Run)
	h.startWorker(wctx, "compaction", worker.NewCompactionCoordinator(engines,
		time.Duration(h.cfg.Sync.CompactionInterval), time.Duration(h.cfg.Sync.ChangeLogRetention)).Run)

	h.logger.Info("host started",
		"component", "companion",
		"action", "host_started",
		"app_id", h.cfg.App.ID,
		"domains", len(h.engines),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// startWorker launches a background worker goroutine tracked by the host.
func (h *Host) startWorker(ctx context.Context, name string, fn func(ctx context.Context)) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn(ctx)
		h.logger.Debug("worker exited", "component", "companion", "worker", name)
	}()
}

// Stop stops the background workers and every engine, then closes the
// stores. Watches end when their engine stops.
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil
	}
	h.stopped = true

	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()

	var g errgroup.Group
	for _, e := range h.engines {
		g.Go(func() error {
			return e.Stop(ctx)
		})
	}
	err := g.Wait()
	if cerr := h.stores.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}

	h.logger.Info("host stopped",
		"component", "companion",
		"action", "host_stopped",
		"app_id", h.cfg.App.ID,
	)
	return err
}

// AppID returns the id this host announces to its peers.
func (h *Host) AppID() string { return h.cfg.App.ID }

// Engine returns the engine of domain d, or nil for unknown domains.
func (h *Host) Engine(d Domain) *engine.Engine {
	for _, e := range h.engines {
		if e.Domain() == d {
			return e
		}
	}
	return nil
}

// Engines returns every engine in start order.
func (h *Host) Engines() []*engine.Engine {
	return append([]*engine.Engine(nil), h.engines...)
}

// Themes returns the theme manager.
func (h *Host) Themes() *ThemeManager { return h.themes }

// Language returns the language manager.
func (h *Host) Language() *LanguageManager { return h.language }

// Profiles returns the profile manager.
func (h *Host) Profiles() *ProfileManager { return h.profiles }

// History returns the share history manager.
func (h *Host) History() *HistoryManager { return h.history }

// Bookmarks returns the bookmark manager.
func (h *Host) Bookmarks() *BookmarkManager { return h.bookmarks }

// RSS returns the feed manager.
func (h *Host) RSS() *RSSManager { return h.rss }

// Preferences returns the preferences manager.
func (h *Host) Preferences() *PreferencesManager { return h.preferences }

// TorrentSharing returns the torrent sharing manager.
func (h *Host) TorrentSharing() *TorrentSharingManager { return h.torrent }
