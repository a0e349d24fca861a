// Package diagnostics recomputes and publishes diagnostics for open
// documents. Publication is debounced per document so rapid edit bursts
// produce a single recomputation, and a filesystem watcher republishes when
// an open document changes on disk.
package diagnostics

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/uuid"
	"github.com/idekit/bridge-lsp/src/bridge/controller/docsync"
	"github.com/idekit/bridge-lsp/src/bridge/entity"
	notifier "github.com/idekit/bridge-lsp/src/bridge/gateway/ideclient"
	"github.com/idekit/bridge-lsp/src/bridge/mapper"
	"github.com/idekit/bridge-lsp/src/bridge/provider"
	"github.com/idekit/bridge-lsp/src/bridge/repository/session"
	tally "github.com/uber-go/tally/v4"
	"go.lsp.dev/protocol"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides this controller for an fx application, started and
// stopped with the application lifecycle.
var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(func(lc fx.Lifecycle, c Controller) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error { return c.Start(ctx) },
			OnStop:  func(ctx context.Context) error { return c.Stop(ctx) },
		})
	}),
)

const (
	_nameKey     = "diagnostics"
	_debounceKey = "diagnostics.debounceMs"

	_defaultDebounce = 300 * time.Millisecond
)

// Controller schedules diagnostics publication for open documents.
type Controller interface {
	// Start begins draining filesystem events.
	Start(ctx context.Context) error
	// Stop cancels pending publications and closes the watcher.
	Stop(ctx context.Context) error

	// TrackDocument watches the document's directory for on-disk changes and
	// schedules an initial publication for the session in ctx.
	TrackDocument(ctx context.Context, doc protocol.TextDocumentIdentifier) error
	// UntrackDocument drops the directory watch acquired by TrackDocument and
	// clears published diagnostics for the document.
	UntrackDocument(ctx context.Context, doc protocol.TextDocumentIdentifier) error
	// Schedule queues a debounced recompute and publish for the session in ctx.
	Schedule(ctx context.Context, doc protocol.TextDocumentIdentifier) error
	// EndSession cancels pending publications for a session.
	EndSession(ctx context.Context, id uuid.UUID) error
}

// Params are inbound parameters to construct the controller.
type Params struct {
	fx.In

	Sessions  session.Repository
	Documents docsync.Controller
	Providers provider.Registry
	Gateway   notifier.Gateway
	Logger    *zap.SugaredLogger
	Stats     tally.Scope
	Config    config.Provider
}

type debounceKey struct {
	session uuid.UUID
	uri     protocol.DocumentURI
}

type controller struct {
	sessions  session.Repository
	documents docsync.Controller
	providers provider.Registry
	gateway   notifier.Gateway
	logger    *zap.SugaredLogger
	stats     tally.Scope
	debounce  time.Duration

	watcher     *fsnotify.Watcher
	watchCloser chan bool
	watchWg     sync.WaitGroup

	// Directory watches are shared between documents, dropped at zero refs.
	watchCounts map[string]int
	watchMu     sync.Mutex

	debounceTimers map[debounceKey]*time.Timer
	debounceMu     sync.Mutex
}

// New creates a new controller for diagnostics publication.
func New(p Params) (Controller, error) {
	var debounceMs int
	if err := p.Config.Get(_debounceKey).Populate(&debounceMs); err != nil {
		return nil, fmt.Errorf("getting configuration for %q: %w", _debounceKey, err)
	}
	debounce := _defaultDebounce
	if debounceMs > 0 {
		debounce = time.Duration(debounceMs) * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fs watcher for diagnostics: %w", err)
	}

	return &controller{
		sessions:       p.Sessions,
		documents:      p.Documents,
		providers:      p.Providers,
		gateway:        p.Gateway,
		logger:         p.Logger.With("controller", _nameKey),
		stats:          p.Stats.SubScope("diagnostics"),
		debounce:       debounce,
		watcher:        watcher,
		watchCloser:    make(chan bool, 1),
		watchCounts:    make(map[string]int),
		debounceTimers: make(map[debounceKey]*time.Timer),
	}, nil
}

func (c *controller) Start(ctx context.Context) error {
	c.watchWg.Add(1)
	go c.watchForUpdates()
	return nil
}

func (c *controller) Stop(ctx context.Context) error {
	c.watchCloser <- true
	c.watchWg.Wait()
	return nil
}

func (c *controller) TrackDocument(ctx context.Context, doc protocol.TextDocumentIdentifier) error {
	dir := filepath.Dir(doc.URI.Filename())

	c.watchMu.Lock()
	c.watchCounts[dir]++
	first := c.watchCounts[dir] == 1
	c.watchMu.Unlock()

	if first {
		if err := c.watcher.Add(dir); err != nil {
			c.logger.Warnf("failed to watch for changes in %q: %v", dir, err)
		}
	}
	return c.Schedule(ctx, doc)
}

func (c *controller) UntrackDocument(ctx context.Context, doc protocol.TextDocumentIdentifier) error {
	dir := filepath.Dir(doc.URI.Filename())

	c.watchMu.Lock()
	if c.watchCounts[dir] > 0 {
		c.watchCounts[dir]--
	}
	last := c.watchCounts[dir] == 0
	if last {
		delete(c.watchCounts, dir)
	}
	c.watchMu.Unlock()

	if last {
		if err := c.watcher.Remove(dir); err != nil {
			c.logger.Debugf("failed to unwatch %q: %v", dir, err)
		}
	}

	// An empty diagnostics list tells the client to clear any shown markers.
	return c.gateway.PublishDiagnostics(ctx, &protocol.PublishDiagnosticsParams{
		URI:         doc.URI,
		Diagnostics: []protocol.Diagnostic{},
	})
}

func (c *controller) Schedule(ctx context.Context, doc protocol.TextDocumentIdentifier) error {
	id, err := mapper.ContextToSessionUUID(ctx)
	if err != nil {
		return err
	}
	c.schedule(id, doc)
	return nil
}

func (c *controller) EndSession(ctx context.Context, id uuid.UUID) error {
	c.debounceMu.Lock()
	defer c.debounceMu.Unlock()
	for key, timer := range c.debounceTimers {
		if key.session == id {
			timer.Stop()
			delete(c.debounceTimers, key)
		}
	}
	return nil
}

func (c *controller) schedule(id uuid.UUID, doc protocol.TextDocumentIdentifier) {
	key := debounceKey{session: id, uri: doc.URI}

	c.debounceMu.Lock()
	defer c.debounceMu.Unlock()

	if timer, exists := c.debounceTimers[key]; exists {
		timer.Stop()
	}

	c.debounceTimers[key] = time.AfterFunc(c.debounce, func() {
		c.debounceMu.Lock()
		delete(c.debounceTimers, key)
		c.debounceMu.Unlock()

		if err := c.publish(id, doc); err != nil {
			c.logger.Warnf("failed to publish diagnostics for %q: %v", doc.URI, err)
		}
	})
}

// publish recomputes diagnostics through the document's provider and sends
// them to the session's client.
func (c *controller) publish(id uuid.UUID, doc protocol.TextDocumentIdentifier) error {
	ctx := context.WithValue(context.Background(), entity.SessionContextKey, id)

	s, err := c.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	if !s.CanServe() {
		return nil
	}

	item, err := c.documents.GetTextDocument(ctx, doc)
	if err != nil {
		return err
	}

	diagnostics, err := c.providers.Get(item.LanguageID).Diagnostics(ctx, item)
	if err != nil {
		return err
	}
	if diagnostics == nil {
		diagnostics = []protocol.Diagnostic{}
	}

	c.stats.Counter("published").Inc(1)
	return c.gateway.PublishDiagnostics(ctx, &protocol.PublishDiagnosticsParams{
		URI:         doc.URI,
		Version:     uint32(item.Version),
		Diagnostics: diagnostics,
	})
}

func (c *controller) watchForUpdates() {
	defer c.watchWg.Done()
	for {
		select {
		case event := <-c.watcher.Events:
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			for _, open := range c.documents.OpenDocumentsForPath(context.Background(), event.Name) {
				c.schedule(open.SessionUUID, open.Document)
			}

		case err := <-c.watcher.Errors:
			c.logger.Warnf("failure in document change watcher: %v", err)

		case <-c.watchCloser:
			c.debounceMu.Lock()
			for _, timer := range c.debounceTimers {
				timer.Stop()
			}
			c.debounceTimers = make(map[debounceKey]*time.Timer)
			c.debounceMu.Unlock()

			if err := c.watcher.Close(); err != nil {
				c.logger.Warnf("failed to close document change watcher: %v", err)
			}
			return
		}
	}
}
