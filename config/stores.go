package config

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/petal-labs/orchestrate/tool"
	"github.com/petal-labs/orchestrate/workflow"
)

// Stores holds the tool and workflow stores for the configured backend.
type Stores struct {
	Tools     tool.Store
	Workflows workflow.Store
	closers   []func() error
}

// OpenStores opens both stores on the configured backend. The redis backend
// shares one client between them; the sqlite backend shares one file.
func OpenStores(cfg StoreConfig) (*Stores, error) {
	switch cfg.Backend {
	case BackendFile, "":
		return &Stores{
			Tools:     tool.NewFileStore(cfg.ToolsFile),
			Workflows: workflow.NewFileStore(cfg.WorkflowsFile),
		}, nil

	case BackendSQLite:
		tools, err := tool.NewSQLiteStore(tool.SQLiteStoreConfig{DSN: cfg.SQLiteDSN})
		if err != nil {
			return nil, err
		}
		workflows, err := workflow.NewSQLiteStore(workflow.SQLiteStoreConfig{DSN: cfg.SQLiteDSN})
		if err != nil {
			_ = tools.Close()
			return nil, err
		}
		return &Stores{Tools: tools, Workflows: workflows, closers: []func() error{workflows.Close, tools.Close}}, nil

	case BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("config: parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		tools, err := tool.NewRedisStore(tool.RedisStoreConfig{Client: client, Prefix: cfg.RedisPrefix})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		workflows, err := workflow.NewRedisStore(workflow.RedisStoreConfig{Client: client, Prefix: cfg.RedisPrefix})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &Stores{Tools: tools, Workflows: workflows, closers: []func() error{client.Close}}, nil

	default:
		return nil, fmt.Errorf("config: unknown store backend %q", cfg.Backend)
	}
}

// Close releases backend connections.
func (s *Stores) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, closeFn := range s.closers {
		errs = append(errs, closeFn())
	}
	s.closers = nil
	return errors.Join(errs...)
}
