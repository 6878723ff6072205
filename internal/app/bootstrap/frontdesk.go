// Package bootstrap wires the front desk services from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	appconfig "github.com/wolfman30/clinic-frontdesk/internal/config"
	"github.com/wolfman30/clinic-frontdesk/internal/conversation"
	"github.com/wolfman30/clinic-frontdesk/internal/dispatch"
	"github.com/wolfman30/clinic-frontdesk/internal/lock"
	"github.com/wolfman30/clinic-frontdesk/internal/notify"
	"github.com/wolfman30/clinic-frontdesk/internal/observability/metrics"
	"github.com/wolfman30/clinic-frontdesk/internal/records"
	"github.com/wolfman30/clinic-frontdesk/internal/scheduling"
	"github.com/wolfman30/clinic-frontdesk/internal/session"
	"github.com/wolfman30/clinic-frontdesk/internal/symptoms"
	"github.com/wolfman30/clinic-frontdesk/internal/verification"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

// Options carries process-level dependencies for BuildFrontDesk.
type Options struct {
	// Registerer receives the front desk metrics; nil means the default registry.
	Registerer prometheus.Registerer
	LoadAWS    AWSLoader
	// Tables overrides the record store built from DATABASE_URL.
	Tables *records.Tables
}

// FrontDesk is the fully wired conversation stack.
type FrontDesk struct {
	Tables  records.Tables
	Rules   scheduling.Rules
	Metrics *metrics.FrontDeskMetrics
	Service *conversation.Service
	Handler *conversation.Handler
	closers []func()
}

// Close releases Redis and Postgres connections.
func (f *FrontDesk) Close() {
	for i := len(f.closers) - 1; i >= 0; i-- {
		f.closers[i]()
	}
	f.closers = nil
}

// BuildFrontDesk assembles records, shared state, the domain services and the
// conversation service from cfg.
func BuildFrontDesk(ctx context.Context, cfg *appconfig.Config, opts Options, logger *logging.Logger) (*FrontDesk, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rules, err := cfg.SchedulingRules()
	if err != nil {
		return nil, err
	}

	fd := &FrontDesk{Rules: rules, Metrics: metrics.NewFrontDeskMetrics(opts.Registerer)}
	ok := false
	defer func() {
		if !ok {
			fd.Close()
		}
	}()

	var tables records.Tables
	if opts.Tables != nil {
		tables = *opts.Tables
	} else {
		built, closeTables, err := BuildRecordTables(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		tables = built
		fd.closers = append(fd.closers, closeTables)
	}
	fd.Tables = tables.Map(func(name string, tbl records.Table) records.Table {
		return records.Instrument(records.WithTimeout(tbl, cfg.StoreTimeout), name, fd.Metrics)
	})

	var (
		locker   lock.Locker
		sessions session.Store
		history  conversation.HistoryStore
	)
	if client := BuildRedisClient(ctx, cfg, logger, true); client != nil {
		fd.closers = append(fd.closers, func() { _ = client.Close() })
		locker = lock.NewRedisLocker(client, "", logger, lock.WithTTL(TurnLockTTL(cfg)))
		sessions = session.NewRedisStore(client, cfg.SessionTTL)
		history = conversation.NewRedisHistoryStore(client, cfg.SessionTTL)
		logger.Info("conversation state in redis", "addr", cfg.RedisAddr)
	} else {
		locker = lock.NewKeyedMutex()
		sessions = session.NewMemoryStore()
		history = conversation.NewMemoryHistoryStore()
	}

	sender, err := BuildEmailSender(ctx, cfg, opts.LoadAWS, logger)
	if err != nil {
		return nil, err
	}
	notifier := notify.NewService(sender, fd.Tables.Patients, notify.Config{
		ClinicName:  cfg.ClinicName,
		ClinicInbox: cfg.NotifyEmail,
	}, logger)

	dispatcher := dispatch.New(
		verification.NewService(fd.Tables.Patients,
			verification.WithLocker(locker),
			verification.WithLogger(logger),
			verification.WithMetrics(fd.Metrics),
		),
		scheduling.NewEngine(fd.Tables.Appointments, rules,
			scheduling.WithLocker(locker),
			scheduling.WithNotifier(notifier),
			scheduling.WithNotifyTimeout(cfg.NotifyTimeout),
			scheduling.WithLogger(logger),
			scheduling.WithMetrics(fd.Metrics),
		),
		symptoms.NewService(fd.Tables.Patients, fd.Tables.Symptoms, logger, fd.Metrics),
		logger,
	)

	classifier, err := BuildClassifier(ctx, cfg, rules, opts.LoadAWS, logger)
	if err != nil {
		return nil, err
	}

	fd.Service = conversation.NewService(classifier, dispatcher,
		conversation.WithSessions(sessions),
		conversation.WithHistory(history),
		conversation.WithLocker(locker),
		conversation.WithTurnTimeout(cfg.TurnTimeout),
		conversation.WithMetrics(fd.Metrics),
		conversation.WithLogger(logger),
	)
	fd.Handler = conversation.NewHandler(fd.Service, logger)
	ok = true
	return fd, nil
}

// turnStoreCalls bounds the record store round trips a single turn makes.
const turnStoreCalls = 4

const lockMargin = 10 * time.Second

// TurnLockTTL is the Redis lease for one conversation turn: inference, the
// store calls a tool makes and the notification, plus a margin.
func TurnLockTTL(cfg *appconfig.Config) time.Duration {
	return cfg.TurnTimeout + turnStoreCalls*cfg.StoreTimeout + cfg.NotifyTimeout + lockMargin
}
