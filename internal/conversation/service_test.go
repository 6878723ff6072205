package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-frontdesk/internal/dispatch"
	"github.com/wolfman30/clinic-frontdesk/internal/records"
	"github.com/wolfman30/clinic-frontdesk/internal/scheduling"
	"github.com/wolfman30/clinic-frontdesk/internal/session"
	"github.com/wolfman30/clinic-frontdesk/internal/symptoms"
	"github.com/wolfman30/clinic-frontdesk/internal/verification"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

// Wednesday.
var testNow = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

// scriptedClassifier returns queued classifications in order, then general
// replies.
type scriptedClassifier struct {
	mu     sync.Mutex
	script []dispatch.Classification
	err    error
	seen   [][]Message
}

func (s *scriptedClassifier) Classify(_ context.Context, history []Message, _ *session.Context) (dispatch.Classification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, append([]Message(nil), history...))
	if s.err != nil {
		return dispatch.Classification{}, s.err
	}
	if len(s.script) == 0 {
		return dispatch.Classification{Intent: dispatch.IntentGeneral, Reply: "How else can I help?"}, nil
	}
	next := s.script[0]
	s.script = s.script[1:]
	return next, nil
}

func newTestDispatcher(tables records.Tables) *dispatch.Dispatcher {
	clock := func() time.Time { return testNow }
	logger := logging.Discard()
	return dispatch.New(
		verification.NewService(tables.Patients, verification.WithClock(clock), verification.WithLogger(logger)),
		scheduling.NewEngine(tables.Appointments, scheduling.DefaultRules(), scheduling.WithClock(clock), scheduling.WithLogger(logger)),
		symptoms.NewService(tables.Patients, tables.Symptoms, logger, nil),
		logger,
	)
}

func newTestService(t *testing.T, c dispatch.Classifier, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{
		WithLogger(logging.Discard()),
		WithClock(func() time.Time { return testNow }),
	}, opts...)
	return NewService(c, newTestDispatcher(records.NewMemoryTables()), opts...)
}

func TestConversationFlowGatesThenBooks(t *testing.T) {
	classifier := &scriptedClassifier{script: []dispatch.Classification{
		{Intent: dispatch.IntentAppointment, Tool: &dispatch.ToolCall{Name: dispatch.ToolBookAppointment, Args: map[string]any{"date": "tomorrow", "time": "2 PM"}}},
		{Intent: dispatch.IntentVerification, Tool: &dispatch.ToolCall{Name: dispatch.ToolVerifyPatient, Args: map[string]any{"name": "Jane Doe", "date_of_birth": "16 Sep 2002"}}},
		{Intent: dispatch.IntentAppointment, Tool: &dispatch.ToolCall{Name: dispatch.ToolBookAppointment, Args: map[string]any{"date": "tomorrow", "time": "2 PM"}}},
	}}
	svc := newTestService(t, classifier)
	ctx := context.Background()

	start, err := svc.StartConversation(ctx, StartRequest{ConversationID: "conv-1"})
	require.NoError(t, err)
	assert.Equal(t, greeting, start.Message)
	assert.Equal(t, session.HandlerRouter, start.Handler)

	resp, err := svc.ProcessMessage(ctx, MessageRequest{ConversationID: "conv-1", Message: "Book me tomorrow at 2pm"})
	require.NoError(t, err)
	assert.Equal(t, "not_verified", resp.Status)
	assert.Equal(t, session.HandlerVerification, resp.Handler)
	assert.True(t, resp.Transferred)
	assert.False(t, resp.Verified)

	resp, err = svc.ProcessMessage(ctx, MessageRequest{ConversationID: "conv-1", Message: "Jane Doe, 16 Sep 2002"})
	require.NoError(t, err)
	assert.True(t, resp.Verified)
	assert.Equal(t, session.HandlerAppointment, resp.Handler)

	resp, err = svc.ProcessMessage(ctx, MessageRequest{ConversationID: "conv-1", Message: "yes, tomorrow at 2pm"})
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status, resp.Message)
	assert.Contains(t, resp.Message, "booked")

	history, err := svc.GetHistory(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, history, 7)
	assert.Equal(t, dispatch.RoleAssistant, history[0].Role)
	assert.Equal(t, "Book me tomorrow at 2pm", history[1].Content)
	assert.Equal(t, resp.Message, history[6].Content)

	// The classifier saw the growing transcript, latest user message last.
	require.Len(t, classifier.seen, 3)
	last := classifier.seen[2]
	assert.Equal(t, "yes, tomorrow at 2pm", last[len(last)-1].Content)
}

func TestInferenceFailureKeepsSession(t *testing.T) {
	classifier := &scriptedClassifier{err: errors.New("model unavailable")}
	sessions := session.NewMemoryStore()
	svc := newTestService(t, classifier, WithSessions(sessions))
	ctx := context.Background()

	_, err := svc.StartConversation(ctx, StartRequest{ConversationID: "conv-1"})
	require.NoError(t, err)

	resp, err := svc.ProcessMessage(ctx, MessageRequest{ConversationID: "conv-1", Message: "hello?"})
	require.NoError(t, err)
	assert.Equal(t, inferenceFallback, resp.Message)
	assert.Equal(t, "inference_error", resp.Status)

	sess, err := sessions.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, sess.IsVerified())
	assert.Equal(t, session.HandlerRouter, sess.ActiveHandler)

	history, err := svc.GetHistory(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

type slowClassifier struct{}

func (slowClassifier) Classify(ctx context.Context, _ []Message, _ *session.Context) (dispatch.Classification, error) {
	<-ctx.Done()
	return dispatch.Classification{}, ctx.Err()
}

func TestTurnTimeoutBoundsInference(t *testing.T) {
	svc := newTestService(t, slowClassifier{}, WithTurnTimeout(20*time.Millisecond))
	ctx := context.Background()
	_, err := svc.StartConversation(ctx, StartRequest{ConversationID: "conv-1"})
	require.NoError(t, err)

	started := time.Now()
	resp, err := svc.ProcessMessage(ctx, MessageRequest{ConversationID: "conv-1", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, inferenceFallback, resp.Message)
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestProcessMessageErrors(t *testing.T) {
	svc := newTestService(t, &scriptedClassifier{})
	ctx := context.Background()

	_, err := svc.ProcessMessage(ctx, MessageRequest{ConversationID: "nope", Message: "hi"})
	assert.ErrorIs(t, err, ErrUnknownConversation)

	_, err = svc.ProcessMessage(ctx, MessageRequest{ConversationID: "nope", Message: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = svc.StartConversation(ctx, StartRequest{ConversationID: "conv-1"})
	require.NoError(t, err)
	_, err = svc.StartConversation(ctx, StartRequest{ConversationID: "conv-1"})
	assert.ErrorIs(t, err, ErrConversationExists)
}

func TestStartGeneratesIDAndProcessesIntro(t *testing.T) {
	classifier := &scriptedClassifier{script: []dispatch.Classification{{Intent: dispatch.IntentEmergency}}}
	svc := newTestService(t, classifier, WithIDGenerator(func() string { return "conv-generated" }))

	resp, err := svc.StartConversation(context.Background(), StartRequest{Intro: "my face is swelling and I can't breathe"})
	require.NoError(t, err)
	assert.Equal(t, "conv-generated", resp.ConversationID)
	assert.Equal(t, dispatch.EmergencyMessage, resp.Message)
}

func TestEndConversation(t *testing.T) {
	svc := newTestService(t, &scriptedClassifier{})
	ctx := context.Background()
	_, err := svc.StartConversation(ctx, StartRequest{ConversationID: "conv-1"})
	require.NoError(t, err)

	require.NoError(t, svc.EndConversation(ctx, "conv-1"))
	_, err = svc.ProcessMessage(ctx, MessageRequest{ConversationID: "conv-1", Message: "hi"})
	assert.ErrorIs(t, err, ErrUnknownConversation)

	history, err := svc.GetHistory(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestConcurrentTurnsAreSerialized(t *testing.T) {
	svc := newTestService(t, &scriptedClassifier{})
	ctx := context.Background()
	_, err := svc.StartConversation(ctx, StartRequest{ConversationID: "conv-1"})
	require.NoError(t, err)

	const turns = 10
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ProcessMessage(ctx, MessageRequest{ConversationID: "conv-1", Message: "hi"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := svc.GetHistory(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, history, 1+2*turns)
}

func TestRedisCheckpointSurvivesRestart(t *testing.T) {
	_, client := newTestRedis(t)
	tables := records.NewMemoryTables()
	ctx := context.Background()
	verify := dispatch.Classification{Intent: dispatch.IntentVerification, Tool: &dispatch.ToolCall{
		Name: dispatch.ToolVerifyPatient, Args: map[string]any{"name": "Jane Doe", "date_of_birth": "2002-09-16"},
	}}

	newSvc := func(c dispatch.Classifier) *Service {
		return NewService(c, newTestDispatcher(tables),
			WithLogger(logging.Discard()),
			WithClock(func() time.Time { return testNow }),
			WithSessions(session.NewRedisStore(client, 0)),
			WithHistory(NewRedisHistoryStore(client, 0)),
		)
	}

	first := newSvc(&scriptedClassifier{script: []dispatch.Classification{verify}})
	_, err := first.StartConversation(ctx, StartRequest{ConversationID: "conv-1"})
	require.NoError(t, err)
	resp, err := first.ProcessMessage(ctx, MessageRequest{ConversationID: "conv-1", Message: "Jane Doe 2002-09-16"})
	require.NoError(t, err)
	require.True(t, resp.Verified)

	second := newSvc(&scriptedClassifier{script: []dispatch.Classification{
		{Intent: dispatch.IntentAppointment, Tool: &dispatch.ToolCall{Name: dispatch.ToolListAppointments}},
	}})
	resp, err = second.ProcessMessage(ctx, MessageRequest{ConversationID: "conv-1", Message: "what do I have booked?"})
	require.NoError(t, err)
	assert.True(t, resp.Verified)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, session.HandlerAppointment, resp.Handler)
}
