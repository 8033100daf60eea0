// Package store implements the Workflow Store (C8): a transactional,
// event-sourced persistence layer for workflow definitions, executions,
// node executions, triggers, approvals and saga compensation state,
// publishing a change event after most successful writes.
// StartNodeExecution, CompleteNodeExecution, IncrementRetryCount,
// MarkNodeCompensated, SetTriggerEnabled, RecordTriggerFired and
// ExpireOldApprovals publish none.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers the "postgres" database/sql driver used by goose
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"

	meshtypes "github.com/agentflow/controlplane/pkg/mesh/types"
	"github.com/agentflow/controlplane/pkg/shared/errors"
	"github.com/agentflow/controlplane/pkg/workflow/notify"
	"github.com/agentflow/controlplane/pkg/workflow/policy"
)

// EventChannel is the pub/sub channel change events publish on.
const EventChannel = "l01:events"

// Config configures the store's backing Postgres and Redis connections.
type Config struct {
	DSN           string
	MigrationsDir string
	RedisAddr     string
	RedisChannel  string
}

// Store is the Workflow Store (C8). All state-changing operations are
// serialized per aggregate row by Postgres's row lock; reads are plain
// snapshot queries.
type Store struct {
	db      *sqlx.DB
	dsn     string
	redis   *redis.Client
	channel string
	log     logr.Logger

	policy   *policy.Evaluator
	notifier *notify.SlackNotifier

	mu             sync.Mutex
	versionCounter map[string]int // aggregate_id -> last version published
}

// WithPolicy attaches the approval-authorization evaluator. Without one,
// RespondToApproval allows every response (no trust envelope enforced).
func (s *Store) WithPolicy(p *policy.Evaluator) *Store {
	s.policy = p
	return s
}

// WithNotifier attaches the best-effort Slack notifier used when a new
// approval request is created.
func (s *Store) WithNotifier(n *notify.SlackNotifier) *Store {
	s.notifier = n
	return s
}

// New opens the store's Postgres connection (through pgx's
// database/sql driver, wrapped by sqlx) and Redis client, without
// running migrations.
func New(cfg Config, log logr.Logger) (*Store, error) {
	db, err := sqlx.Connect("pgx", cfg.DSN)
	if err != nil {
		return nil, errors.DatabaseError("connect", "workflow_store", err)
	}

	channel := cfg.RedisChannel
	if channel == "" {
		channel = EventChannel
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	return &Store{
		db:             db,
		dsn:            cfg.DSN,
		redis:          rdb,
		channel:        channel,
		log:            log,
		versionCounter: make(map[string]int),
	}, nil
}

// NewWithConnections builds a Store over already-open connections,
// letting tests inject a go-sqlmock-backed *sqlx.DB and a miniredis
// client.
func NewWithConnections(db *sqlx.DB, rdb *redis.Client, log logr.Logger) *Store {
	return &Store{db: db, redis: rdb, channel: EventChannel, log: log, versionCounter: make(map[string]int)}
}

// Migrate runs every pending goose migration in migrationsDir. Goose
// drives migrations through lib/pq's database/sql driver, independent of
// the pgx connection the store uses for application queries.
func (s *Store) Migrate(migrationsDir string) error {
	sqlDB, err := sql.Open("postgres", s.dsn)
	if err != nil {
		return errors.DatabaseError("open migration connection", "workflow_store", err)
	}
	defer sqlDB.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return errors.DatabaseError("set migration dialect", "workflow_store", err)
	}
	if err := goose.Up(sqlDB, migrationsDir); err != nil {
		return errors.DatabaseError("migrate", "workflow_store", err)
	}
	return nil
}

// Close releases the store's connections.
func (s *Store) Close() error {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	return s.db.Close()
}

// publish emits a change Event on the Redis pub/sub channel. Publication
// is best-effort: a failure is logged and does not roll back the write
// that triggered it.
func (s *Store) publish(ctx context.Context, eventType string, aggregateType meshtypes.AggregateType, aggregateID string, payload map[string]interface{}) {
	if s.redis == nil {
		return
	}

	s.mu.Lock()
	s.versionCounter[aggregateID]++
	version := s.versionCounter[aggregateID]
	s.mu.Unlock()

	event := meshtypes.Event{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       payload,
		Metadata:      map[string]interface{}{},
		Version:       version,
		Timestamp:     time.Now().UTC(),
	}

	encoded, err := json.Marshal(event)
	if err != nil {
		s.log.Info("event marshal failed, not publishing", "aggregate_id", aggregateID, "error", err.Error())
		return
	}

	if err := s.redis.Publish(ctx, s.channel, encoded).Err(); err != nil {
		s.log.Info("event publish failed, continuing", "aggregate_id", aggregateID, "event_type", eventType, "error", err.Error())
	}
}

func toJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

func fromJSON(raw []byte, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
