// Package docsync tracks the text and version of every open document per
// session. It is the single source of truth for in-editor document state.
package docsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/idekit/bridge-lsp/src/bridge/entity"
	"github.com/idekit/bridge-lsp/src/bridge/internal/errors"
	"github.com/idekit/bridge-lsp/src/bridge/internal/fs"
	"github.com/idekit/bridge-lsp/src/bridge/mapper"
	"github.com/idekit/bridge-lsp/src/bridge/repository/session"
	tally "github.com/uber-go/tally/v4"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides this controller for an fx application.
var Module = fx.Options(fx.Provide(New))

const (
	_nameKey        = "doc-sync"
	_configKey      = "docSync"
	_maxFileSizeKey = "docSync.maxFileSizeBytes"
)

// DocumentState keeps track of the current state of a document.
type DocumentState int

const (
	// DocumentStateOpenClean indicates that the document is open and matches the content on disk.
	DocumentStateOpenClean DocumentState = iota
	// DocumentStateOpenDirty indicates that the document is open and has unsaved modifications in the editor.
	DocumentStateOpenDirty
	// DocumentStateClosed indicates that the document is closed.
	DocumentStateClosed
)

// Controller defines the interface for a document sync controller.
type Controller interface {
	// InitSession prepares tracking for a new session's documents.
	InitSession(ctx context.Context) error
	// EndSession drops all documents tracked for the session.
	EndSession(ctx context.Context, id uuid.UUID) error

	DidOpen(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error
	DidChange(ctx context.Context, params *mapper.DidChangeParams) error
	DidClose(ctx context.Context, params *protocol.DidCloseTextDocumentParams) error
	DidSave(ctx context.Context, params *protocol.DidSaveTextDocumentParams) error

	// GetTextDocument returns the current version of the text document as of the last accepted change.
	GetTextDocument(ctx context.Context, doc protocol.TextDocumentIdentifier) (protocol.TextDocumentItem, error)
	// GetDocumentState returns the current status of a given document within a session.
	GetDocumentState(ctx context.Context, doc protocol.TextDocumentIdentifier) (DocumentState, error)
	// OpenDocumentsForPath returns every session's identifier for an open
	// document backed by the given filesystem path.
	OpenDocumentsForPath(ctx context.Context, path string) []entity.TextDocumentIdenfitierWithSession
}

// Params are inbound parameters to construct the controller.
type Params struct {
	fx.In

	Sessions session.Repository
	Logger   *zap.SugaredLogger
	Stats    tally.Scope
	Config   config.Provider
	FS       fs.BridgeFS
}

type documentStoreEntry struct {
	Document protocol.TextDocumentItem
	Dirty    bool
}

type documentStore map[uuid.UUID]map[protocol.TextDocumentIdentifier]*documentStoreEntry

type controller struct {
	sessions         session.Repository
	logger           *zap.SugaredLogger
	documents        documentStore
	documentsMu      sync.RWMutex
	stats            tally.Scope
	maxFileSizeBytes int64
	fs               fs.BridgeFS
}

// New creates a new controller for document sync.
func New(p Params) (Controller, error) {
	var maxFileSizeBytes int64
	if err := p.Config.Get(_maxFileSizeKey).Populate(&maxFileSizeBytes); err != nil || maxFileSizeBytes == 0 {
		return nil, fmt.Errorf("unable to get maximum file size from config: %w", err)
	}

	c := &controller{
		sessions:         p.Sessions,
		logger:           p.Logger.With("controller", _nameKey),
		documents:        make(documentStore),
		stats:            p.Stats.SubScope("doc_sync"),
		maxFileSizeBytes: maxFileSizeBytes,
		fs:               p.FS,
	}
	defer c.updateMetrics()
	return c, nil
}

// InitSession adds an entry to keep track of this session's documents.
func (c *controller) InitSession(ctx context.Context) error {
	defer c.updateMetrics()
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return err
	}

	c.documentsMu.Lock()
	defer c.documentsMu.Unlock()
	c.documents[s.UUID] = make(map[protocol.TextDocumentIdentifier]*documentStoreEntry)
	return nil
}

// EndSession removes a session's documents based on the session UUID.
func (c *controller) EndSession(ctx context.Context, id uuid.UUID) error {
	defer c.updateMetrics()
	c.documentsMu.Lock()
	defer c.documentsMu.Unlock()
	delete(c.documents, id)
	return nil
}

// DidOpen adds an entry for a newly opened document and stores its initial contents.
func (c *controller) DidOpen(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error {
	defer c.updateMetrics()
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return err
	}

	c.documentsMu.Lock()
	defer c.documentsMu.Unlock()
	if c.documents[s.UUID] == nil {
		return &errors.UUIDNotFoundError{UUID: s.UUID}
	}

	if err := c.validateSize(params.TextDocument.Text); err != nil {
		// Some documents will exceed the configured size limit. Log a warning
		// which can be used to monitor and adjust the threshold. Future
		// attempts to access this document will result in errors.
		c.logger.Warnf("unable to track open document %q: %v", params.TextDocument.URI, err)
		return nil
	}

	c.documents[s.UUID][protocol.TextDocumentIdentifier{URI: params.TextDocument.URI}] = &documentStoreEntry{
		Document: params.TextDocument,
	}
	return nil
}

// DidChange applies the incoming changes to the tracked document. The
// client's new version must advance the tracked version; a duplicate or
// out-of-order version rejects the whole change set.
func (c *controller) DidChange(ctx context.Context, params *mapper.DidChangeParams) error {
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return err
	}

	c.documentsMu.Lock()
	defer c.documentsMu.Unlock()

	id := params.TextDocument.TextDocumentIdentifier
	entry, ok := c.documents[s.UUID][id]
	if !ok {
		return &errors.DocumentNotFoundError{Document: id}
	}

	if params.TextDocument.Version <= entry.Document.Version {
		c.stats.Counter("stale_changes").Inc(1)
		return &errors.DocumentOutdatedError{
			Document:        id,
			CurrentVersion:  entry.Document.Version,
			ReceivedVersion: params.TextDocument.Version,
		}
	}

	doc := entry.Document
	doc.Text, err = mapper.ApplyContentChanges(doc.Text, params.ContentChanges)
	if err != nil {
		return fmt.Errorf("adding changes to document %q: %w", doc.URI, err)
	}

	if err := c.validateSize(doc.Text); err != nil {
		return fmt.Errorf("unable to add changes to document %q: %w", doc.URI, err)
	}

	doc.Version = params.TextDocument.Version
	c.documents[s.UUID][id] = &documentStoreEntry{Document: doc, Dirty: true}
	return nil
}

// DidClose deletes the entry for a closed document.
func (c *controller) DidClose(ctx context.Context, params *protocol.DidCloseTextDocumentParams) error {
	defer c.updateMetrics()
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return err
	}

	c.documentsMu.Lock()
	defer c.documentsMu.Unlock()
	delete(c.documents[s.UUID], params.TextDocument)
	return nil
}

// DidSave marks the document clean. If the client included the saved text it
// reconciles the tracked content in case something got out of sync.
func (c *controller) DidSave(ctx context.Context, params *protocol.DidSaveTextDocumentParams) error {
	defer c.updateMetrics()
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return err
	}

	c.documentsMu.Lock()
	defer c.documentsMu.Unlock()

	entry, ok := c.documents[s.UUID][params.TextDocument]
	if !ok {
		return &errors.DocumentNotFoundError{Document: params.TextDocument}
	}

	doc := entry.Document
	if params.Text != "" {
		doc.Text = params.Text
	}
	c.documents[s.UUID][params.TextDocument] = &documentStoreEntry{Document: doc}
	return nil
}

func (c *controller) GetTextDocument(ctx context.Context, doc protocol.TextDocumentIdentifier) (protocol.TextDocumentItem, error) {
	entry, err := c.getDocumentStoreEntry(ctx, doc)
	if err != nil {
		return protocol.TextDocumentItem{}, err
	}
	return entry.Document, nil
}

func (c *controller) GetDocumentState(ctx context.Context, doc protocol.TextDocumentIdentifier) (DocumentState, error) {
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return 0, err
	}

	c.documentsMu.RLock()
	defer c.documentsMu.RUnlock()

	if _, ok := c.documents[s.UUID]; !ok {
		return 0, &errors.UUIDNotFoundError{UUID: s.UUID}
	}

	entry, ok := c.documents[s.UUID][doc]
	if !ok {
		return DocumentStateClosed, nil
	}

	if entry.Dirty {
		contentOnDisk, err := c.fs.ReadFile(doc.URI.Filename())
		if err != nil {
			return 0, fmt.Errorf("unable to open file %q: %w", doc.URI.Filename(), err)
		}

		if string(contentOnDisk) != entry.Document.Text {
			return DocumentStateOpenDirty, nil
		}
	}
	return DocumentStateOpenClean, nil
}

func (c *controller) OpenDocumentsForPath(ctx context.Context, path string) []entity.TextDocumentIdenfitierWithSession {
	target := uri.File(path)

	c.documentsMu.RLock()
	defer c.documentsMu.RUnlock()

	found := make([]entity.TextDocumentIdenfitierWithSession, 0)
	for sessionUUID, sessionDocs := range c.documents {
		for id := range sessionDocs {
			if id.URI == target {
				found = append(found, entity.TextDocumentIdenfitierWithSession{
					Document:    id,
					SessionUUID: sessionUUID,
				})
			}
		}
	}
	return found
}

func (c *controller) getDocumentStoreEntry(ctx context.Context, doc protocol.TextDocumentIdentifier) (*documentStoreEntry, error) {
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return nil, err
	}

	c.documentsMu.RLock()
	defer c.documentsMu.RUnlock()

	if _, ok := c.documents[s.UUID]; !ok {
		return nil, &errors.UUIDNotFoundError{UUID: s.UUID}
	}

	entry, ok := c.documents[s.UUID][doc]
	if !ok {
		return nil, &errors.DocumentNotFoundError{Document: doc}
	}
	return entry, nil
}

func (c *controller) updateMetrics() {
	c.documentsMu.RLock()
	defer c.documentsMu.RUnlock()

	openDocs := 0
	openBytes := 0
	for _, sessionDocs := range c.documents {
		openDocs += len(sessionDocs)
		for _, entry := range sessionDocs {
			openBytes += len(entry.Document.Text)
		}
	}
	c.stats.Gauge("open_docs").Update(float64(openDocs))
	c.stats.Gauge("open_bytes").Update(float64(openBytes))
}

func (c *controller) validateSize(text string) error {
	size := int64(len(text))
	if size > c.maxFileSizeBytes {
		return &errors.DocumentSizeLimitError{Size: size}
	}
	return nil
}
