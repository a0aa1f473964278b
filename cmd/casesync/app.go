package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/gotrs-io/casesync/internal/caseresolver"
	"github.com/gotrs-io/casesync/internal/config"
	"github.com/gotrs-io/casesync/internal/contacts"
	"github.com/gotrs-io/casesync/internal/convert"
	"github.com/gotrs-io/casesync/internal/cursor"
	"github.com/gotrs-io/casesync/internal/database"
	"github.com/gotrs-io/casesync/internal/email/inbound/adapter"
	"github.com/gotrs-io/casesync/internal/email/inbound/connector"
	"github.com/gotrs-io/casesync/internal/email/inbound/filters"
	"github.com/gotrs-io/casesync/internal/email/inbound/postmaster"
	"github.com/gotrs-io/casesync/internal/email/outbound"
	"github.com/gotrs-io/casesync/internal/mailer"
	"github.com/gotrs-io/casesync/internal/metrics"
	"github.com/gotrs-io/casesync/internal/storage"
	"github.com/gotrs-io/casesync/internal/template"
	"github.com/gotrs-io/casesync/internal/workspace"
)

// app holds the collaborators shared by both loops.
type app struct {
	cfg       *config.Config
	logger    *log.Logger
	store     workspace.Store
	cursors   cursor.Store
	backend   storage.Backend
	mirror    *storage.Mirror
	converter *convert.Converter
	metrics   *metrics.Metrics
	halt      func() bool
	closers   []func() error
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFromFile(configFile)
	}
	return config.Load("")
}

func newLogger(cfg *config.Config) *log.Logger {
	return log.New(os.Stdout, cfg.Logging.Prefix, cfg.Logging.Flags())
}

// newApp opens the stores and builds the shared converter. halt may be nil.
func newApp(ctx context.Context, cfg *config.Config, logger *log.Logger, halt func() bool) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(prometheus.NewRegistry()),
		halt:    halt,
	}
	if err := a.openStores(ctx); err != nil {
		a.Close()
		return nil, err
	}

	backend, err := storage.NewBackend(ctx, storage.Options{
		Type:        cfg.Storage.Type,
		FSPath:      cfg.Storage.FSPath,
		FSPublicURL: cfg.Storage.FSPublicURL,
		S3Bucket:    cfg.Storage.S3Bucket,
		S3Region:    cfg.Storage.S3Region,
		S3Endpoint:  cfg.Storage.S3Endpoint,
		S3Prefix:    cfg.Storage.S3Prefix,
		S3PublicURL: cfg.Storage.S3PublicURL,
		S3AccessKey: cfg.Storage.S3AccessKey,
		S3SecretKey: cfg.Storage.S3SecretKey,
	})
	switch {
	case errors.Is(err, storage.ErrNotConfigured):
		logger.Printf("storage: no backend configured; inline images are embedded or linked")
	case err != nil:
		a.Close()
		return nil, err
	default:
		a.backend = backend
		logger.Printf("storage: using %s backend", backend.Name())
	}
	// Without a backend the mirror still downloads outbound attachments.
	a.mirror = storage.NewMirror(a.backend, storage.WithMirrorLogger(logger))

	opts := []convert.Option{
		convert.WithLogger(logger),
		convert.WithPlainTextMode(convert.PlainTextMode(cfg.Convert.PlainTextMode)),
		convert.WithInlineMaxBytes(cfg.Convert.InlineMaxBytes),
		convert.WithConcurrency(cfg.Convert.Concurrency),
	}
	if m := a.imageMirror(); m != nil {
		opts = append(opts, convert.WithUploader(a.backend), convert.WithMirror(m, cfg.Storage.MirrorRemote))
	}
	a.converter = convert.New(opts...)
	return a, nil
}

// imageMirror returns the mirror for signed and remote images, or nil when there is no
// backend to copy them into.
func (a *app) imageMirror() convert.Mirrorer {
	if a.backend == nil {
		return nil
	}
	return a.mirror
}

// openStores selects the workspace and cursor stores. Redis, when configured, holds the
// cursors regardless of the record store.
func (a *app) openStores(ctx context.Context) error {
	if database.NormalizeDriver(a.cfg.Store.Driver) == "memory" {
		a.logger.Printf("store: memory; records are lost on exit")
		a.store = workspace.NewMemoryStore()
		a.cursors = cursor.NewMemoryStore()
	} else {
		db, err := database.Open(ctx, a.cfg.Store.Driver, a.cfg.Store.DSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		applied, err := database.Migrate(ctx, db)
		if err != nil {
			return err
		}
		if applied > 0 {
			a.logger.Printf("store: applied %d schema statement(s)", applied)
		}
		a.store = workspace.NewSQLStore(db)
		a.cursors = cursor.NewSQLStore(db)
	}

	if a.cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: ping %s: %w", a.cfg.Redis.Addr, err)
		}
		a.cursors = cursor.NewRedisStore(client, a.cfg.Redis.Prefix)
	}
	return nil
}

// inboundPoller builds the mailbox poller.
func (a *app) inboundPoller() *postmaster.Poller {
	cfg := a.cfg
	internal := contacts.NewDomains(cfg.Routing.InternalDomains...)

	directory := contacts.NewDirectory(a.store, cfg.Workspace.Contacts,
		contacts.WithLogger(a.logger),
		contacts.WithInternalDomains(internal),
	)
	resolver := caseresolver.New(a.store, cfg.Workspace,
		caseresolver.WithLogger(a.logger),
		caseresolver.WithTrackingPolicy(caseresolver.TrackingPolicy(cfg.Routing.TrackingPolicy)),
		caseresolver.WithInternalDomains(internal),
	)
	opts := []postmaster.CaseProcessorOption{
		postmaster.WithCaseProcessorLogger(a.logger),
		postmaster.WithCaseProcessorContacts(directory),
		postmaster.WithCaseProcessorConverter(a.converter),
		postmaster.WithCaseProcessorMetrics(a.metrics),
	}
	if a.backend != nil {
		opts = append(opts, postmaster.WithCaseProcessorUploader(a.backend))
	}
	processor := postmaster.NewCaseProcessor(a.store, cfg.Workspace.Emails, resolver, opts...)

	account := adapter.AccountFromConfig(cfg.IMAP)
	service := postmaster.Service{
		Account: account,
		FilterChain: filters.NewChain(
			filters.NewDraftFilter(a.logger),
			filters.NewRoutingFilter(filters.Aliases{
				Technical: cfg.Routing.TechnicalAlias,
				Support:   cfg.Routing.SupportAlias,
				Tracking:  cfg.Routing.TrackingAlias,
			}, a.logger),
			filters.NewHeaderTokenFilter(a.logger),
			filters.NewSubjectTokenFilter(a.logger),
		),
		Handler: processor,
	}
	factory := connector.DefaultFactory(connector.WithIMAPLogger(a.logger))
	return postmaster.NewPoller(factory, account, service, a.cursors,
		postmaster.WithPollerLogger(a.logger),
		postmaster.WithPollerHalt(a.halt),
	)
}

func (a *app) sending() bool {
	return a.cfg.Outbound.SendEnabled && a.cfg.SMTP.Enabled
}

// replyProcessor builds the reply processor. Real delivery goes through a bounded SMTP pool.
func (a *app) replyProcessor() *outbound.ReplyProcessor {
	cfg := a.cfg
	var transport mailer.Transport
	if a.sending() {
		smtp := mailer.NewSMTPTransport(mailer.SMTPOptions{
			Host:       cfg.SMTP.Host,
			Port:       cfg.SMTP.Port,
			User:       cfg.SMTP.User,
			Password:   cfg.SMTP.Password,
			AuthType:   cfg.SMTP.AuthType,
			TLSMode:    cfg.SMTP.TLSMode,
			SkipVerify: cfg.SMTP.SkipVerify,
		}, mailer.WithSMTPLogger(a.logger))
		pool := mailer.NewPool(smtp, cfg.Outbound.Workers, a.logger)
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		transport = pool
	}

	return outbound.NewReplyProcessor(a.store, cfg.Workspace,
		template.NewWrapperCache(cfg.Outbound.TemplateDir, cfg.Outbound.Brand),
		transport,
		outbound.WithLogger(a.logger),
		outbound.WithConverter(a.converter),
		outbound.WithRenderer(mailer.NewFileTransport(cfg.Outbound.RenderDir, a.logger)),
		outbound.WithSendEnabled(a.sending()),
		outbound.WithDefaultFrom(cfg.SMTP.From, cfg.SMTP.FromName),
		outbound.WithDownloader(a.mirror),
		outbound.WithDownloadConcurrency(cfg.Outbound.DownloadConcurrency),
		outbound.WithMetrics(a.metrics),
	)
}

// outboundWatcher builds the reply watcher.
func (a *app) outboundWatcher() *outbound.Watcher {
	return outbound.NewWatcher(a.store, a.cfg.Workspace.Replies, a.replyProcessor(), a.cursors,
		outbound.WithWatcherLogger(a.logger),
		outbound.WithWatcherHalt(a.halt),
	)
}

// serveMetrics starts the ops server when enabled. It stops with ctx.
func (a *app) serveMetrics(ctx context.Context) {
	if !a.cfg.Metrics.Enabled {
		return
	}
	srv := metrics.NewServer(a.cfg.Metrics.Listen, a.metrics, a.logger)
	go func() {
		if err := srv.Run(ctx); err != nil {
			a.logger.Printf("%v", err)
		}
	}()
}

// Close releases the stores in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Printf("close: %v", err)
		}
	}
	a.closers = nil
}
