package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/clinic-frontdesk/internal/config"
	"github.com/wolfman30/clinic-frontdesk/internal/conversation"
	"github.com/wolfman30/clinic-frontdesk/internal/lock"
	"github.com/wolfman30/clinic-frontdesk/internal/notify"
	"github.com/wolfman30/clinic-frontdesk/internal/records"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		StoreTimeout:         time.Second,
		SessionTTL:           time.Hour,
		TurnTimeout:          5 * time.Second,
		HistoryWindow:        20,
		ClinicName:           "Bright Smiles Dental",
		ClinicTimezone:       "UTC",
		ClinicOpenDays:       "mon-fri",
		ClinicOpenTime:       "09:00",
		ClinicCloseTime:      "17:00",
		BookingMinNotice:     24 * time.Hour,
		BookingHorizonMonths: 3,
		BookingSlotCapacity:  1,
		BookingSlotInterval:  30 * time.Minute,
		BookingStrictInput:   true,
		EmailProvider:        "stub",
		LLMProvider:          "keyword",
	}
}

func TestBuildFrontDeskInProcess(t *testing.T) {
	fd, err := BuildFrontDesk(context.Background(), testConfig(), Options{Registerer: prometheus.NewRegistry()}, logging.Discard())
	require.NoError(t, err)
	defer fd.Close()

	resp, err := fd.Service.StartConversation(context.Background(), conversation.StartRequest{ConversationID: "conv-boot"})
	require.NoError(t, err)
	assert.Equal(t, "conv-boot", resp.ConversationID)

	resp, err = fd.Service.ProcessMessage(context.Background(), conversation.MessageRequest{ConversationID: "conv-boot", Message: "I'd like to book an appointment"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Message)
	assert.NotNil(t, fd.Handler)
}

func TestBuildFrontDeskWithRedisAndTables(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisAddr = mr.Addr()
	tables := records.NewMemoryTables()

	fd, err := BuildFrontDesk(context.Background(), cfg, Options{Registerer: prometheus.NewRegistry(), Tables: &tables}, logging.Discard())
	require.NoError(t, err)
	defer fd.Close()

	_, err = fd.Service.StartConversation(context.Background(), conversation.StartRequest{ConversationID: "conv-redis"})
	require.NoError(t, err)
	assert.NotEmpty(t, mr.Keys())
}

func TestTurnLockTTLCoversSlowTurn(t *testing.T) {
	cfg := &appconfig.Config{TurnTimeout: 30 * time.Second, StoreTimeout: 5 * time.Second, NotifyTimeout: 10 * time.Second}
	assert.Equal(t, 70*time.Second, TurnLockTTL(cfg))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	l := lock.NewRedisLocker(client, "", logging.Discard(), lock.WithTTL(TurnLockTTL(cfg)))

	unlock, err := l.Lock(context.Background(), "conversation:c1")
	require.NoError(t, err)
	defer unlock()

	mr.FastForward(31 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "conversation:c1")
	assert.ErrorIs(t, err, lock.ErrLockTimeout)
}

func TestBuildFrontDeskRejectsBadRules(t *testing.T) {
	cfg := testConfig()
	cfg.ClinicOpenDays = "someday"
	_, err := BuildFrontDesk(context.Background(), cfg, Options{Registerer: prometheus.NewRegistry()}, logging.Discard())
	assert.Error(t, err)

	_, err = BuildFrontDesk(context.Background(), nil, Options{}, nil)
	assert.Error(t, err)
}

func TestBuildRedisClientDisabledOrUnreachable(t *testing.T) {
	assert.Nil(t, BuildRedisClient(context.Background(), testConfig(), logging.Discard(), true))

	cfg := testConfig()
	cfg.RedisAddr = "127.0.0.1:1"
	assert.Nil(t, BuildRedisClient(context.Background(), cfg, logging.Discard(), true))
	client := BuildRedisClient(context.Background(), cfg, logging.Discard(), false)
	require.NotNil(t, client)
	_ = client.Close()
}

func TestBuildRecordTablesInMemory(t *testing.T) {
	tables, closeFn, err := BuildRecordTables(context.Background(), testConfig(), logging.Discard())
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &records.MemoryTable{}, tables.Patients)
}

func TestBuildLLMClientSelection(t *testing.T) {
	ctx := context.Background()
	failingAWS := func(context.Context) (aws.Config, error) { return aws.Config{}, errors.New("no credentials") }

	cfg := testConfig()
	cfg.LLMProvider = "auto"
	client, err := BuildLLMClient(ctx, cfg, nil, logging.Discard())
	require.NoError(t, err)
	assert.Nil(t, client)

	cfg.LLMProvider = "openai"
	_, err = BuildLLMClient(ctx, cfg, nil, logging.Discard())
	assert.Error(t, err)

	cfg.OpenAIAPIKey = "sk-test"
	client, err = BuildLLMClient(ctx, cfg, nil, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &conversation.OpenAILLMClient{}, client)

	cfg.LLMProvider = "gemini-openai"
	cfg.GeminiAPIKey = "gm-test"
	client, err = BuildLLMClient(ctx, cfg, nil, logging.Discard())
	require.NoError(t, err)
	assert.NotNil(t, client)

	cfg.LLMProvider = "bedrock"
	_, err = BuildLLMClient(ctx, cfg, failingAWS, logging.Discard())
	assert.Error(t, err)
	cfg.BedrockModelID = "anthropic.claude-3-haiku"
	_, err = BuildLLMClient(ctx, cfg, nil, logging.Discard())
	assert.ErrorIs(t, err, errNoAWS)
	_, err = BuildLLMClient(ctx, cfg, failingAWS, logging.Discard())
	assert.Error(t, err)

	cfg.LLMProvider = "bedrock"
	cfg.LLMFallbackProvider = "openai"
	client, err = BuildLLMClient(ctx, cfg, func(context.Context) (aws.Config, error) {
		return aws.Config{Region: "us-east-1"}, nil
	}, logging.Discard())
	require.NoError(t, err)
	assert.NotNil(t, client)

	cfg.LLMProvider = "palm"
	_, err = BuildLLMClient(ctx, cfg, nil, logging.Discard())
	assert.Error(t, err)
}

func TestBuildClassifierFallsBackToKeywords(t *testing.T) {
	cfg := testConfig()
	rules, err := cfg.SchedulingRules()
	require.NoError(t, err)

	c, err := BuildClassifier(context.Background(), cfg, rules, nil, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, conversation.KeywordClassifier{}, c)

	cfg.LLMProvider = "openai"
	cfg.OpenAIAPIKey = "sk-test"
	c, err = BuildClassifier(context.Background(), cfg, rules, nil, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &conversation.LLMClassifier{}, c)
}

func TestBuildEmailSenderSelection(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()

	cfg.EmailProvider = "auto"
	sender, err := BuildEmailSender(ctx, cfg, nil, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &notify.StubEmailSender{}, sender)

	cfg.SendGridAPIKey = "sg-test"
	sender, err = BuildEmailSender(ctx, cfg, nil, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &notify.SendGridSender{}, sender)

	cfg.EmailProvider = "ses"
	_, err = BuildEmailSender(ctx, cfg, nil, logging.Discard())
	assert.ErrorIs(t, err, errNoAWS)
	sender, err = BuildEmailSender(ctx, cfg, func(context.Context) (aws.Config, error) {
		return aws.Config{Region: "us-east-1"}, nil
	}, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &notify.SESSender{}, sender)

	cfg.EmailProvider = "none"
	sender, err = BuildEmailSender(ctx, cfg, nil, logging.Discard())
	require.NoError(t, err)
	assert.Nil(t, sender)

	cfg.EmailProvider = "pigeon"
	_, err = BuildEmailSender(ctx, cfg, nil, logging.Discard())
	assert.Error(t, err)
}
