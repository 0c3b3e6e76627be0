package main

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"github.com/shuvam773/kanban/config"
	"github.com/shuvam773/kanban/storage"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.WithField("driver", cfg.Storage.Driver).Info("storage init starting")

	ctx := context.Background()
	switch cfg.Storage.Driver {
	case config.DriverTables:
		if err := createTables(ctx, cfg.Storage.ConnectionString, []string{
			cfg.Storage.SectionsTable,
			cfg.Storage.TasksTable,
		}); err != nil {
			log.Fatalf("create tables: %v", err)
		}
	case config.DriverSQLite:
		s, err := storage.NewSQLite(cfg.Storage.DatabaseURL, cfg.BoardID, log.StandardLogger())
		if err != nil {
			log.Fatalf("sqlite: %v", err)
		}
		defer s.Close()
		if err := s.EnsureSchema(ctx); err != nil {
			log.Fatalf("sqlite schema: %v", err)
		}
	case config.DriverPostgres:
		s, err := storage.NewPostgres(ctx, cfg.Storage.DatabaseURL, cfg.BoardID)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer s.Close()
		if err := s.EnsureSchema(ctx); err != nil {
			log.Fatalf("postgres schema: %v", err)
		}
	default:
		log.Info("memory storage needs no setup")
	}

	if cfg.Stream.EventsQueue != "" {
		if err := createQueues(ctx, cfg.Storage.ConnectionString, []string{cfg.Stream.EventsQueue}); err != nil {
			log.Fatalf("create queues: %v", err)
		}
	}

	log.Info("storage init complete")
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		c := svc.NewClient(name)
		_, err := c.CreateTable(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
		log.WithField("table", name).Debug("table ready")
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		_, err = q.Create(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
				return err
			}
		}
		log.WithField("queue", name).Debug("queue ready")
	}
	return nil
}
