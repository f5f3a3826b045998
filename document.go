package meshdoc

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

// Sender hands a change intent to the sequencer.
type Sender func(intent *ChangeIntent) error

// RuntimeDocument owns one tree for one path. The tree is changed only by
// ApplyChange.
type RuntimeDocument struct {
	id     string
	path   string
	schema *MeshSchema
	root   *Element
	send   Sender
	logger *slog.Logger

	// mu serializes ApplyChange.
	mu     sync.Mutex
	failed error
	closed atomic.Bool

	listeners observers[Event]
	messages  observers[*ChangeMessage]
}

// DocumentOption configures a RuntimeDocument.
type DocumentOption func(*RuntimeDocument)

// WithSender sets where change intents are sent.
func WithSender(s Sender) DocumentOption {
	return func(d *RuntimeDocument) { d.send = s }
}

// WithDocumentLogger sets the logger for merge failures.
func WithDocumentLogger(l *slog.Logger) DocumentOption {
	return func(d *RuntimeDocument) { d.logger = l }
}

// WithPath records the path the document was opened under.
func WithPath(path string) DocumentOption {
	return func(d *RuntimeDocument) { d.path = path }
}

// NewRuntimeDocument builds a document from existing state. A nil root
// starts an empty tree with a fresh root element.
func NewRuntimeDocument(schema *MeshSchema, root *ElementSpec, opts ...DocumentOption) (*RuntimeDocument, error) {
	d := &RuntimeDocument{
		id:     ulid.Make().String(),
		schema: schema,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if root == nil {
		root = &ElementSpec{Name: schema.RootTagName}
	}
	if root.Name != schema.RootTagName {
		return nil, &SchemaError{Kind: ErrTagNotAllowed, Tag: root.Name, Detail: fmt.Sprintf("root must be %q", schema.RootTagName)}
	}
	node, err := d.materialize(NodeSpec{Element: root}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build document: %w", err)
	}
	d.root = node.(*Element)
	d.logger = d.logger.With("document_id", d.id, "path", d.path)
	return d, nil
}

// ID returns the document's session-local identifier.
func (d *RuntimeDocument) ID() string { return d.id }

// Path returns the path the document was opened under.
func (d *RuntimeDocument) Path() string { return d.path }

// Schema returns the schema the document validates against.
func (d *RuntimeDocument) Schema() *MeshSchema { return d.schema }

// Root returns the root element.
func (d *RuntimeDocument) Root() *Element { return d.root }

// GetNodeByID walks the tree for the element with the given $id.
func (d *RuntimeDocument) GetNodeByID(id string) *Element {
	return findByID(d.root, id)
}

// NodeAtPath returns the node at an index path from the root.
func (d *RuntimeDocument) NodeAtPath(path NodePath) (Node, error) {
	return nodeAtPath(d.root, path)
}

// On registers a listener for document-level updates.
func (d *RuntimeDocument) On(fn func(Event)) func() {
	return d.listeners.add(fn)
}

// OnMessage registers a listener that receives every applied message.
func (d *RuntimeDocument) OnMessage(fn func(*ChangeMessage)) func() {
	return d.messages.add(fn)
}

// Err returns the merge failure that desynchronized the document, if any.
func (d *RuntimeDocument) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failed
}

// Closed reports whether the document has been released.
func (d *RuntimeDocument) Closed() bool {
	return d.closed.Load()
}

func (d *RuntimeDocument) close() {
	d.closed.Store(true)
}

// sendIntent forwards an intent without touching the tree.
func (d *RuntimeDocument) sendIntent(in *ChangeIntent) error {
	if d.closed.Load() {
		return ErrDocumentClosed
	}
	if d.send == nil {
		return invalidArg("document %s has no sender", d.id)
	}
	if err := d.send(in); err != nil {
		return fmt.Errorf("failed to send %s intent: %w", intentKind(in), err)
	}
	intentsSent.WithLabelValues(intentKind(in)).Inc()
	return nil
}
