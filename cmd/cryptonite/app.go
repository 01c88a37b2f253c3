package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cryptonite/internal/agent"
	"cryptonite/internal/assistant"
	"cryptonite/internal/config"
	"cryptonite/internal/conversation"
	"cryptonite/internal/events"
	"cryptonite/internal/executor"
	"cryptonite/internal/intake"
	"cryptonite/internal/observability/metrics"
	"cryptonite/internal/presets"
	"cryptonite/internal/storage/mysql"
	"cryptonite/internal/storage/redis"
	"cryptonite/internal/wallet"
	web3sol "cryptonite/internal/web3/solana"
	"cryptonite/internal/web3/provider"
	"cryptonite/pkg/logger"
)

// app 汇总一次运行所需的全部组件。
type app struct {
	cfg      *config.Config
	registry *provider.Registry
	metrics  *metrics.Registry
	presets  *presets.Catalog
	wallets  wallet.StaticLookup
	agent    *agent.Agent
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, metrics: metrics.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.registry, err = provider.NewRegistry(cfg.Ledger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { a.registry.Close(); return nil })

	client, err := a.registry.Client()
	if err != nil {
		return nil, err
	}

	var transfers executor.TransferSubmitter
	if cfg.Wallet.KeypairPath != "" {
		var opts []wallet.Option
		if cfg.Wallet.LegacyOnly {
			opts = append(opts, wallet.WithLegacyOnly())
		}
		kp, err := wallet.LoadKeypair(cfg.Wallet.KeypairPath, client, opts...)
		if err != nil {
			return nil, err
		}
		a.wallets.Capability = kp
		transfers = web3sol.NewTransferSubmitter(client, kp)
		logger.Named("app").Info("wallet loaded", slog.String("address", kp.Address().String()))
	}

	a.presets, err = presets.LoadCatalog(cfg.Runtime.PresetsFile)
	if err != nil {
		return nil, err
	}

	repo, err := openTranscript(ctx, cfg.Transcript)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, repo.Close)

	dispatcher, err := openEvents(cfg.Events)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, dispatcher.closers...)

	backend, err := assistant.NewClient(cfg.Assistant.BaseURL,
		assistant.WithHTTPClient(&http.Client{Timeout: cfg.Assistant.Timeout()}),
		assistant.WithRecorder(a.metrics),
	)
	if err != nil {
		return nil, err
	}

	a.agent = agent.New(
		backend,
		intake.New(client, client, intake.WithRecorder(a.metrics)),
		a.wallets,
		executor.Dependencies{Transfers: transfers, Connector: a.registry},
		agent.WithRepository(repo),
		agent.WithPendingGauge(a.metrics),
		agent.WithExecutorOptions(
			executor.WithConfirmTimeout(cfg.Ledger.ConfirmTimeout()),
			executor.WithProbeTimeout(cfg.Ledger.ProbeTimeout()),
			executor.WithExplorer(a.registry.Explorer()),
			executor.WithRecorder(a.metrics),
			executor.WithDispatcher(dispatcher.fanout),
		),
	)
	return a, nil
}

// Close 按创建的逆序释放资源。
func (a *app) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, a.closers[i]())
	}
	a.closers = nil
	return err
}

func openTranscript(ctx context.Context, cfg config.TranscriptConfig) (conversation.Repository, error) {
	switch cfg.Driver {
	case "", "memory":
		return conversation.NewMemoryRepository(), nil
	case "file":
		return conversation.NewFileRepository(cfg.DataDir)
	case "mysql":
		return mysql.NewTranscriptRepository(ctx, mysql.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetime) * time.Second,
		})
	case "redis":
		return redis.NewTranscriptRepository(ctx, redis.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	default:
		return nil, fmt.Errorf("未知的对话存储驱动: %s", cfg.Driver)
	}
}

type eventSinks struct {
	fanout  *events.FanoutDispatcher
	closers []func() error
}

func openEvents(cfg config.EventsConfig) (eventSinks, error) {
	notifiers := []events.Notifier{&events.AuditNotifier{}}
	var closers []func() error

	switch cfg.Driver {
	case "", "none":
	case "rabbitmq":
		mq, err := events.NewRabbitMQNotifier(events.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
		})
		if err != nil {
			return eventSinks{}, err
		}
		notifiers = append(notifiers, mq)
		closers = append(closers, mq.Close)
	default:
		return eventSinks{}, fmt.Errorf("未知的事件驱动: %s", cfg.Driver)
	}
	return eventSinks{fanout: events.NewFanout(notifiers...), closers: closers}, nil
}
