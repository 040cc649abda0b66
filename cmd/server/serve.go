package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/domain/event"
	"github.com/garyjia/expense-approval/internal/infrastructure/notify/amqp"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/memory"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
	httpapi "github.com/garyjia/expense-approval/internal/interfaces/http"
	"github.com/garyjia/expense-approval/internal/metrics"
	"github.com/garyjia/expense-approval/pkg/database"
	"github.com/garyjia/expense-approval/pkg/utils"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

// storage is the persistence backend selected by configuration
type storage struct {
	expenses   port.ExpenseRepository
	chains     port.ChainRepository
	rules      port.RuleRepository
	companies  port.CompanyRepository
	users      port.UserRepository
	categories port.CategoryRepository
	rates      port.ExchangeRateRepository
	tx         port.TransactionManager
	close      func() error
}

func openStorage() (*storage, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using in-memory storage; data is lost on exit")
		store := memory.NewStore()
		repos := store.Repositories()
		return &storage{
			expenses:   repos.Expenses,
			chains:     repos.Chains,
			rules:      repos.Rules,
			companies:  repos.Companies,
			users:      repos.Users,
			categories: repos.Categories,
			rates:      repos.Rates,
			tx:         store,
			close:      func() error { return nil },
		}, nil
	}

	if err := ensureDataDir(); err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := database.NewMigrator(dbConfig(), logger).Up(); err != nil {
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
	}
	conn, err := database.New(dbConfig(), logger)
	if err != nil {
		return nil, err
	}
	db := sqlite.NewDB(conn.DB, logger)
	repos := db.Repositories()
	return &storage{
		expenses:   repos.Expenses,
		chains:     repos.Chains,
		rules:      repos.Rules,
		companies:  repos.Companies,
		users:      repos.Users,
		categories: repos.Categories,
		rates:      repos.Rates,
		tx:         db,
		close:      conn.Close,
	}, nil
}

func serve(ctx context.Context) error {
	logger.Info("Starting expense approval service",
		zap.String("version", version),
		zap.String("driver", cfg.Database.Driver),
		zap.Int("port", cfg.Server.Port))

	store, err := openStorage()
	if err != nil {
		return err
	}
	defer store.close()

	kv := utils.NewKVLogger(logger)
	m := metrics.New()

	directory := service.NewDirectoryService(store.companies, store.users, store.categories, store.tx, kv)
	rates := service.NewRateService(store.rates, kv)
	rules := service.NewRuleService(store.rules, store.companies, store.users, store.categories, kv)

	engine := workflow.NewEngine(store.expenses, store.chains, store.tx, directory, directory,
		workflow.WithLookupTimeout(cfg.Engine.LookupTimeout),
		workflow.WithObserver(m),
		workflow.WithLogger(logger.Named("engine")),
	)

	notifications := dispatcher.NewDispatcher(dispatcher.WithLogger(kv))
	defer notifications.Close()

	notifications.Subscribe(dispatcher.AnyType, "log", func(_ context.Context, evt *event.Event) error {
		logger.Info("Notification",
			zap.String("type", evt.Type.String()),
			zap.String("recipient_id", evt.RecipientID),
			zap.String("expense_id", evt.ExpenseID),
			zap.String("chain_id", evt.ChainID))
		return nil
	})
	notifications.Subscribe(dispatcher.AnyType, "metrics", func(_ context.Context, evt *event.Event) error {
		m.RecordNotification(evt.Type.String())
		return nil
	})

	if cfg.AMQP.URL != "" {
		publisher, err := amqp.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange, logger.Named("amqp"))
		if err != nil {
			return fmt.Errorf("failed to connect to message broker: %w", err)
		}
		defer publisher.Close()
		notifications.Subscribe(dispatcher.AnyType, "amqp", publisher.Publish)
	}

	expenses := service.NewExpenseService(service.ExpenseDeps{
		Expenses:      store.expenses,
		Chains:        store.chains,
		Rules:         store.rules,
		Companies:     store.companies,
		Users:         store.users,
		Categories:    store.categories,
		Rates:         rates,
		Engine:        engine,
		Sink:          notifications,
		LookupTimeout: cfg.Engine.LookupTimeout,
		Logger:        kv,
	})

	var opts []httpapi.ServerOption
	if cfg.Metrics.Enabled {
		opts = append(opts, httpapi.WithMetrics(m, m.Handler(), cfg.Metrics.Path))
	}

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, httpapi.Services{
		Expenses:  expenses,
		Rules:     rules,
		Directory: directory,
		Rates:     rates,
	}, kv, opts...)

	if err := server.Start(ctx); err != nil {
		return err
	}
	logger.Info("Server exited successfully")
	return nil
}
