package meshdoc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Manager opens documents by path. Every opener of a path shares one
// RuntimeDocument; the sequencer connection is released when the last
// opener closes it.
//
// Thread Safety:
//
//	Manager is safe for concurrent use. Concurrent Open calls for a path
//	that is not yet connected share a single Connect request.
type Manager struct {
	seq    Sequencer
	logger *slog.Logger

	mu     sync.Mutex
	docs   map[string]*openDocument
	flight singleflight.Group
}

type openDocument struct {
	doc     *RuntimeDocument
	refs    int
	session string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager returns a Manager that connects through seq.
func NewManager(seq Sequencer, opts ...ManagerOption) *Manager {
	m := &Manager{
		seq:    seq,
		logger: slog.Default(),
		docs:   make(map[string]*openDocument),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open returns the document for path, connecting it if needed.
func (m *Manager) Open(ctx context.Context, path string) (_ *RuntimeDocument, err error) {
	ctx, span := startLifecycleSpan(ctx, "Manager.Open", path)
	defer func() { endSpan(span, err) }()

	for {
		m.mu.Lock()
		if od, ok := m.docs[path]; ok {
			od.refs++
			m.mu.Unlock()
			return od.doc, nil
		}
		m.mu.Unlock()

		// Waiters on an in-flight connect loop back and take a reference
		// on the registered document.
		if _, err, _ = m.flight.Do(path, func() (any, error) {
			return nil, m.connect(ctx, path)
		}); err != nil {
			return nil, err
		}
	}
}

func (m *Manager) connect(ctx context.Context, path string) error {
	m.mu.Lock()
	_, connected := m.docs[path]
	m.mu.Unlock()
	if connected {
		return nil
	}

	box := &inbox{logger: m.logger}
	state, err := m.seq.Connect(ctx, path, box.deliver)
	if err != nil {
		connectRequests.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to connect %q: %w", path, err)
	}
	connectRequests.WithLabelValues("ok").Inc()

	doc, err := NewRuntimeDocument(state.Schema, state.Root,
		WithPath(path),
		WithDocumentLogger(m.logger),
		WithSender(func(in *ChangeIntent) error {
			return m.seq.Send(context.Background(), path, in)
		}),
	)
	if err != nil {
		if derr := m.seq.Disconnect(ctx, path, state.Session); derr != nil {
			m.logger.Warn("disconnect after failed open", "path", path, "error", derr)
		}
		return fmt.Errorf("failed to open %q: %w", path, err)
	}
	if err := box.attach(doc); err != nil {
		doc.close()
		if derr := m.seq.Disconnect(ctx, path, state.Session); derr != nil {
			m.logger.Warn("disconnect after failed open", "path", path, "error", derr)
		}
		return fmt.Errorf("failed to open %q: %w", path, err)
	}

	m.mu.Lock()
	m.docs[path] = &openDocument{doc: doc, session: state.Session}
	m.mu.Unlock()
	openDocuments.Inc()

	m.logger.Info("document connected", "path", path, "document_id", doc.ID(), "session", state.Session)
	return nil
}

// Close releases one reference. The document is disconnected and torn down
// when no references remain.
func (m *Manager) Close(ctx context.Context, path string) (err error) {
	ctx, span := startLifecycleSpan(ctx, "Manager.Close", path)
	defer func() { endSpan(span, err) }()

	m.mu.Lock()
	od, ok := m.docs[path]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDocumentNotOpen, path)
	}
	od.refs--
	if od.refs >= 1 {
		m.mu.Unlock()
		return nil
	}
	delete(m.docs, path)
	m.mu.Unlock()

	od.doc.close()
	openDocuments.Dec()
	if err := m.seq.Disconnect(ctx, path, od.session); err != nil {
		return fmt.Errorf("failed to disconnect %q: %w", path, err)
	}
	m.logger.Info("document closed", "path", path, "document_id", od.doc.ID())
	return nil
}

// Document returns the open document for path without taking a reference.
func (m *Manager) Document(path string) (*RuntimeDocument, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	od, ok := m.docs[path]
	if !ok {
		return nil, false
	}
	return od.doc, true
}

// RefCount reports the number of open references for path.
func (m *Manager) RefCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if od, ok := m.docs[path]; ok {
		return od.refs
	}
	return 0
}

// inbox buffers messages that arrive between Connect and the document
// being built, then hands them over in order.
type inbox struct {
	mu      sync.Mutex
	doc     *RuntimeDocument
	pending []*ChangeMessage
	logger  *slog.Logger
}

func (b *inbox) deliver(msg *ChangeMessage) error {
	b.mu.Lock()
	if b.doc == nil {
		b.pending = append(b.pending, msg)
		b.mu.Unlock()
		return nil
	}
	doc := b.doc
	b.mu.Unlock()
	return doc.ApplyChange(context.Background(), msg)
}

// attach replays buffered messages into doc and routes later deliveries to
// it. The first message that fails to apply is returned.
func (b *inbox) attach(doc *RuntimeDocument) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	pending := b.pending
	b.pending = nil
	b.doc = doc
	for _, msg := range pending {
		if err := doc.ApplyChange(context.Background(), msg); err != nil {
			b.logger.Error("buffered message could not be applied", "path", doc.Path(), "error", err)
			return err
		}
	}
	return nil
}
