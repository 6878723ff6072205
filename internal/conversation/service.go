package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-frontdesk/internal/dispatch"
	"github.com/wolfman30/clinic-frontdesk/internal/lock"
	"github.com/wolfman30/clinic-frontdesk/internal/observability/metrics"
	"github.com/wolfman30/clinic-frontdesk/internal/session"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

var conversationTracer = otel.Tracer("frontdesk.internal.conversation")

var (
	ErrEmptyMessage       = errors.New("conversation: message is empty")
	ErrConversationExists = errors.New("conversation: conversation already started")
)

const (
	defaultTurnTimeout = 30 * time.Second

	greeting = "Welcome! I'm the clinic's front desk assistant. I can verify your identity, " +
		"book, reschedule or cancel appointments, and record symptoms for the dentist. How can I help?"
	inferenceFallback = "Sorry, I'm having trouble understanding right now. Could you say that again?"
)

// Message is one transcript entry.
type Message = dispatch.Message

type StartRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	// Intro, when set, is processed as the patient's first message.
	Intro string `json:"intro,omitempty"`
}

type MessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// Response is what the API layer returns for one turn.
type Response struct {
	ConversationID string          `json:"conversation_id"`
	Message        string          `json:"message"`
	Handler        session.Handler `json:"handler"`
	Transferred    bool            `json:"transferred,omitempty"`
	Action         string          `json:"action,omitempty"`
	Status         string          `json:"status,omitempty"`
	Verified       bool            `json:"verified"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Dispatcher applies one classification to a session.
type Dispatcher interface {
	Dispatch(ctx context.Context, sess *session.Context, c dispatch.Classification) dispatch.Outcome
}

// Service runs conversations. Turns of one conversation are serialized; turns
// of different conversations run concurrently.
type Service struct {
	classifier  dispatch.Classifier
	dispatcher  Dispatcher
	sessions    session.Store
	history     HistoryStore
	locker      lock.Locker
	turnTimeout time.Duration
	metrics     *metrics.FrontDeskMetrics
	logger      *logging.Logger
	now         func() time.Time
	newID       func() string
}

type Option func(*Service)

func WithSessions(s session.Store) Option {
	return func(svc *Service) {
		if s != nil {
			svc.sessions = s
		}
	}
}

func WithHistory(h HistoryStore) Option {
	return func(svc *Service) {
		if h != nil {
			svc.history = h
		}
	}
}

// WithLocker sets the lock used to serialize turns; use a shared locker when
// several processes serve the same conversations.
func WithLocker(l lock.Locker) Option {
	return func(svc *Service) {
		if l != nil {
			svc.locker = l
		}
	}
}

// WithTurnTimeout bounds the language inference step of each turn.
func WithTurnTimeout(d time.Duration) Option {
	return func(svc *Service) {
		if d > 0 {
			svc.turnTimeout = d
		}
	}
}

func WithMetrics(m *metrics.FrontDeskMetrics) Option {
	return func(svc *Service) { svc.metrics = m }
}

func WithLogger(l *logging.Logger) Option {
	return func(svc *Service) {
		if l != nil {
			svc.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(svc *Service) {
		if now != nil {
			svc.now = now
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(svc *Service) {
		if gen != nil {
			svc.newID = gen
		}
	}
}

func NewService(classifier dispatch.Classifier, dispatcher Dispatcher, opts ...Option) *Service {
	if classifier == nil || dispatcher == nil {
		panic("conversation: classifier and dispatcher required")
	}
	svc := &Service{
		classifier:  classifier,
		dispatcher:  dispatcher,
		sessions:    session.NewMemoryStore(),
		history:     NewMemoryHistoryStore(),
		locker:      lock.NewKeyedMutex(),
		turnTimeout: defaultTurnTimeout,
		logger:      logging.Default(),
		now:         time.Now,
		newID:       func() string { return "conv_" + strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// StartConversation opens a conversation with an empty session and returns the
// greeting, or the reply to Intro when one is given.
func (s *Service) StartConversation(ctx context.Context, req StartRequest) (*Response, error) {
	id := strings.TrimSpace(req.ConversationID)
	if id == "" {
		id = s.newID()
	}

	unlock, err := s.locker.Lock(ctx, turnKey(id))
	if err != nil {
		return nil, fmt.Errorf("conversation: start: %w", err)
	}
	if _, err := s.sessions.Load(ctx, id); err == nil {
		unlock()
		return nil, fmt.Errorf("%w: %s", ErrConversationExists, id)
	} else if !errors.Is(err, session.ErrNotFound) {
		unlock()
		return nil, fmt.Errorf("conversation: start: %w", err)
	}

	now := s.now().UTC()
	sess := session.New(id, now)
	history := []Message{{Role: dispatch.RoleAssistant, Content: greeting}}
	err = s.checkpoint(ctx, sess, history)
	unlock()
	if err != nil {
		return nil, err
	}
	s.logger.Info("conversation started", "conversation_id", id)

	if strings.TrimSpace(req.Intro) != "" {
		return s.ProcessMessage(ctx, MessageRequest{ConversationID: id, Message: req.Intro})
	}
	return &Response{ConversationID: id, Message: greeting, Handler: sess.ActiveHandler, Timestamp: now}, nil
}

// ProcessMessage runs one turn: classify, dispatch, checkpoint.
func (s *Service) ProcessMessage(ctx context.Context, req MessageRequest) (*Response, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	ctx, span := conversationTracer.Start(ctx, "conversation.process_message")
	defer span.End()
	span.SetAttributes(attribute.String("frontdesk.conversation_id", req.ConversationID))

	unlock, err := s.locker.Lock(ctx, turnKey(req.ConversationID))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: turn: %w", err)
	}
	defer unlock()

	sess, history, err := s.load(ctx, req.ConversationID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	history = append(history, Message{Role: dispatch.RoleUser, Content: text})

	// Once classification is done the turn runs to completion, so the checkpoint
	// always reflects what the services committed.
	work := context.WithoutCancel(ctx)
	handler := sess.ActiveHandler

	var out dispatch.Outcome
	classification, err := s.classify(ctx, history, sess)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("language inference failed", "conversation_id", sess.ConversationID, "error", err)
		out = dispatch.Outcome{Reply: inferenceFallback, Handler: handler, Status: "inference_error"}
	} else {
		out = s.dispatcher.Dispatch(work, sess, classification)
	}

	now := s.now().UTC()
	sess.UpdatedAt = now
	history = append(history, Message{Role: dispatch.RoleAssistant, Content: out.Reply})
	if err := s.checkpoint(work, sess, history); err != nil {
		span.RecordError(err)
		return nil, err
	}

	result := out.Status
	if result == "" {
		result = "reply"
	}
	s.metrics.ObserveTurn(string(out.Handler), result)
	s.logger.Debug("turn processed", "conversation_id", sess.ConversationID, "handler", out.Handler, "action", out.Action, "status", out.Status)

	return &Response{
		ConversationID: sess.ConversationID,
		Message:        out.Reply,
		Handler:        out.Handler,
		Transferred:    out.Transferred,
		Action:         out.Action,
		Status:         out.Status,
		Verified:       sess.IsVerified(),
		Timestamp:      now,
	}, nil
}

// GetHistory returns the transcript, oldest first.
func (s *Service) GetHistory(ctx context.Context, conversationID string) ([]Message, error) {
	history, err := s.history.Load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return history, nil
}

// EndConversation drops the session. The transcript stays until it expires.
func (s *Service) EndConversation(ctx context.Context, conversationID string) error {
	unlock, err := s.locker.Lock(ctx, turnKey(conversationID))
	if err != nil {
		return fmt.Errorf("conversation: end: %w", err)
	}
	defer unlock()
	if err := s.sessions.Delete(ctx, conversationID); err != nil {
		return fmt.Errorf("conversation: end: %w", err)
	}
	s.logger.Info("conversation ended", "conversation_id", conversationID)
	return nil
}

func (s *Service) classify(ctx context.Context, history []Message, sess *session.Context) (dispatch.Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, s.turnTimeout)
	defer cancel()
	return s.classifier.Classify(ctx, history, sess.Clone())
}

func (s *Service) load(ctx context.Context, id string) (*session.Context, []Message, error) {
	sess, err := s.sessions.Load(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("conversation: load session: %w", err)
	}
	history, err := s.history.Load(ctx, id)
	if errors.Is(err, ErrUnknownConversation) {
		history = nil
	} else if err != nil {
		return nil, nil, err
	}
	return sess, history, nil
}

func (s *Service) checkpoint(ctx context.Context, sess *session.Context, history []Message) error {
	if err := s.sessions.Save(ctx, sess); err != nil {
		return fmt.Errorf("conversation: save session: %w", err)
	}
	if err := s.history.Save(ctx, sess.ConversationID, history); err != nil {
		return err
	}
	return nil
}

func turnKey(id string) string {
	return "conversation:" + id
}
