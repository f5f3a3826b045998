package meshdoc

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

// Deliver receives authoritative messages for one connected session, in
// sequence order.
type Deliver func(msg *ChangeMessage) error

// DocumentState is what a sequencer returns on connect: the schema and the
// current tree.
type DocumentState struct {
	Session string
	Schema  *MeshSchema
	Root    *ElementSpec
}

// Sequencer orders change intents into authoritative messages. It is the
// boundary to the transport; implementations own retries and timeouts.
type Sequencer interface {
	Connect(ctx context.Context, path string, deliver Deliver) (*DocumentState, error)
	Disconnect(ctx context.Context, path, session string) error
	Send(ctx context.Context, path string, intent *ChangeIntent) error
}

// LocalSequencer is an in-memory Sequencer. It keeps an authoritative
// replica per path, turns intents into messages against that replica, and
// delivers every message to every session connected at sequencing time.
//
// Deliveries run on the goroutine that sent the intent. A Send issued while
// a delivery for the same path is running is queued and delivered by the
// outer call, so listeners may send intents without deadlocking.
type LocalSequencer struct {
	mu            sync.Mutex
	hosted        map[string]*hostedDocument
	defaultSchema *MeshSchema
	logger        *slog.Logger
	connects      atomic.Int64
}

type hostedDocument struct {
	replica  *RuntimeDocument
	sessions map[string]Deliver
	queue    []delivery
	draining bool
}

type delivery struct {
	msg        *ChangeMessage
	recipients []Deliver
}

// SequencerOption configures a LocalSequencer.
type SequencerOption func(*LocalSequencer)

// WithDefaultSchema makes Connect create an empty document for unknown paths.
func WithDefaultSchema(schema *MeshSchema) SequencerOption {
	return func(s *LocalSequencer) { s.defaultSchema = schema }
}

// WithSequencerLogger sets the sequencer's logger.
func WithSequencerLogger(l *slog.Logger) SequencerOption {
	return func(s *LocalSequencer) { s.logger = l }
}

// NewLocalSequencer returns an in-process sequencer with no hosted documents.
func NewLocalSequencer(opts ...SequencerOption) *LocalSequencer {
	s := &LocalSequencer{
		hosted: make(map[string]*hostedDocument),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Host registers a document at path. A nil root starts an empty tree.
func (s *LocalSequencer) Host(path string, schema *MeshSchema, root *ElementSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.hosted[path]; exists {
		return invalidArg("path %q is already hosted", path)
	}
	_, err := s.hostLocked(path, schema, root)
	return err
}

func (s *LocalSequencer) hostLocked(path string, schema *MeshSchema, root *ElementSpec) (*hostedDocument, error) {
	replica, err := NewRuntimeDocument(schema, root, WithPath(path), WithDocumentLogger(s.logger))
	if err != nil {
		return nil, err
	}
	h := &hostedDocument{replica: replica, sessions: make(map[string]Deliver)}
	s.hosted[path] = h
	return h, nil
}

// Replica returns the authoritative copy of the document at path.
func (s *LocalSequencer) Replica(path string) *RuntimeDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hosted[path]; ok {
		return h.replica
	}
	return nil
}

// ConnectCount reports how many Connect calls succeeded.
func (s *LocalSequencer) ConnectCount() int {
	return int(s.connects.Load())
}

func (s *LocalSequencer) Connect(ctx context.Context, path string, deliver Deliver) (*DocumentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hosted[path]
	if !ok {
		if s.defaultSchema == nil {
			return nil, fmt.Errorf("%w: nothing hosted at %q", ErrDocumentNotOpen, path)
		}
		var err error
		if h, err = s.hostLocked(path, s.defaultSchema, nil); err != nil {
			return nil, err
		}
	}

	session := ulid.Make().String()
	h.sessions[session] = deliver
	s.connects.Add(1)
	s.logger.Debug("session connected", "path", path, "session", session)

	return &DocumentState{
		Session: session,
		Schema:  h.replica.schema,
		Root:    h.replica.root.Spec().Element,
	}, nil
}

func (s *LocalSequencer) Disconnect(ctx context.Context, path, session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hosted[path]
	if !ok {
		return fmt.Errorf("%w: %q", ErrDocumentNotOpen, path)
	}
	if _, ok := h.sessions[session]; !ok {
		return invalidArg("unknown session %q", session)
	}
	delete(h.sessions, session)
	s.logger.Debug("session disconnected", "path", path, "session", session)
	return nil
}

// Send sequences intent, applies it to the replica and delivers the
// resulting message.
func (s *LocalSequencer) Send(ctx context.Context, path string, intent *ChangeIntent) error {
	s.mu.Lock()
	h, ok := s.hosted[path]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDocumentNotOpen, path)
	}
	msg, err := sequenceIntent(h.replica, intent)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := h.replica.ApplyChange(ctx, msg); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("replica rejected sequenced message: %w", err)
	}

	h.queue = append(h.queue, delivery{msg: msg, recipients: h.recipients()})
	if h.draining {
		s.mu.Unlock()
		return nil
	}
	h.draining = true
	for len(h.queue) > 0 {
		next := h.queue[0]
		h.queue = h.queue[1:]
		s.mu.Unlock()
		for _, deliver := range next.recipients {
			if err := deliver(next.msg); err != nil {
				s.logger.Warn("delivery failed", "path", path, "error", err)
			}
		}
		s.mu.Lock()
	}
	h.draining = false
	s.mu.Unlock()
	return nil
}

// recipients lists sessions in a stable order.
func (h *hostedDocument) recipients() []Deliver {
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Deliver, 0, len(ids))
	for _, id := range ids {
		out = append(out, h.sessions[id])
	}
	return out
}

// sequenceIntent resolves an intent against the authoritative tree and
// returns the message every replica must apply.
func sequenceIntent(replica *RuntimeDocument, in *ChangeIntent) (*ChangeMessage, error) {
	target := replica.GetNodeByID(in.Target)
	if target == nil {
		return nil, &MergeError{Kind: ErrTargetNotFound, Target: in.Target}
	}

	if in.Delete != nil {
		parent := target.parent
		if parent == nil {
			return nil, invalidArg("the root element cannot be deleted")
		}
		idx := slices.Index(parent.children, Node(target))
		return &ChangeMessage{
			Target:   parent.ID(),
			Elements: []ElementOp{RetainElements(idx), DeleteElements(1)},
		}, nil
	}

	msg := &ChangeMessage{Target: target.ID()}

	if ic := in.InsertChildren; ic != nil {
		for _, c := range ic.Children {
			if c.Element == nil || !target.typ.AllowsChild(c.Element.Name) {
				name := ""
				if c.Element != nil {
					name = c.Element.Name
				}
				return nil, schemaErr(ErrTagNotAllowed, target.tagName, name)
			}
		}
		idx := len(target.children)
		switch {
		case ic.Index != nil:
			idx = clamp(*ic.Index, 0, len(target.children))
		case ic.After != "":
			i := slices.IndexFunc(target.children, func(n Node) bool {
				el, ok := n.(*Element)
				return ok && el.ID() == ic.After
			})
			if i == -1 {
				return nil, &MergeError{Kind: ErrTargetNotFound, Target: ic.After}
			}
			idx = i + 1
		}
		msg.Elements = []ElementOp{RetainElements(idx), InsertElements(ic.Children...)}
	}

	if in.InsertText != nil || in.FormatText != nil || in.DeleteText != nil {
		if target.tagName != TextTag {
			return nil, &MergeError{Kind: ErrNotATextNode, Target: target.ID()}
		}
		length := 0
		if t := target.Text(); t != nil {
			length = t.Len()
		}
		switch {
		case in.InsertText != nil:
			it := in.InsertText
			msg.Text = []TextOp{RetainText(clamp(it.Index, 0, length)), InsertText(it.Text, it.Attributes)}
		case in.FormatText != nil:
			ft := in.FormatText
			from := clamp(ft.From, 0, length)
			msg.Text = []TextOp{RetainText(from), FormatText(clamp(ft.Length, 0, length-from), ft.Attributes)}
		case in.DeleteText != nil:
			dt := in.DeleteText
			at := clamp(dt.Index, 0, length)
			msg.Text = []TextOp{RetainText(at), DeleteText(clamp(dt.Length, 0, length-at))}
		}
	}

	if len(in.SetAttributes) > 0 || len(in.RemoveAttributes) > 0 {
		ops := &AttributeOps{Delete: slices.Clone(in.RemoveAttributes)}
		names := make([]string, 0, len(in.SetAttributes))
		for name := range in.SetAttributes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ops.Set = append(ops.Set, AttributeSet{Name: name, Value: in.SetAttributes[name]})
		}
		msg.Attributes = ops
	}

	return msg, nil
}
