// Package eventlog persists module events so indexers can page through them.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ratebook/core/events"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

var ErrUnknownDriver = errors.New("eventlog: unknown driver")

// Record is one persisted event.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"index;not null"`
	PoolID     string    `gorm:"index"`
	Attributes string    `gorm:"type:text;not null"`
	CreatedAt  time.Time
}

// TableName pins the table name across drivers.
func (Record) TableName() string { return "pool_events" }

// Attrs decodes the stored attribute map.
func (r Record) Attrs() (map[string]string, error) {
	out := map[string]string{}
	if r.Attributes == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Type   string
	PoolID string
	// After returns records with a sequence strictly greater.
	After uint64
	Limit int
}

// Log is an events.Emitter writing every event to a SQL table.
type Log struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	seq uint64
}

// Open connects to driver ("sqlite" or "postgres") and migrates the schema.
func Open(driver, dsn string, log *slog.Logger) (*Log, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", driver, err)
	}
	return New(db, log)
}

// New wraps an existing connection.
func New(db *gorm.DB, log *slog.Logger) (*Log, error) {
	if db == nil {
		return nil, errors.New("eventlog: database required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("eventlog: migrate: %w", err)
	}
	var last Record
	err := db.Order("sequence desc").Limit(1).Take(&last).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("eventlog: load sequence: %w", err)
	}
	return &Log{
		db:     db,
		logger: log.With("component", "eventlog"),
		now:    time.Now,
		seq:    last.Sequence,
	}, nil
}

// Emit implements events.Emitter. Write failures are logged; the engine has
// already committed by the time events are emitted.
func (l *Log) Emit(evt events.Event) {
	if l == nil || evt == nil {
		return
	}
	if _, err := l.Append(context.Background(), evt); err != nil {
		l.logger.Error("persist event failed", "error", err, "event_type", evt.EventType())
	}
}

// Append persists evt and returns the stored record.
func (l *Log) Append(ctx context.Context, evt events.Event) (*Record, error) {
	payload := events.Payload(evt)
	if payload == nil {
		return nil, errors.New("eventlog: nil event")
	}
	attrs := payload.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("eventlog: encode attributes: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	record := &Record{
		ID:         uuid.New(),
		Sequence:   l.seq + 1,
		Type:       payload.Type,
		PoolID:     attrs["poolId"],
		Attributes: string(encoded),
		CreatedAt:  l.now().UTC(),
	}
	if err := l.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("eventlog: insert: %w", err)
	}
	l.seq = record.Sequence
	return record, nil
}

// List returns records matching f in sequence order.
func (l *Log) List(ctx context.Context, f Filter) ([]Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	query := l.db.WithContext(ctx).Model(&Record{}).Where("sequence > ?", f.After)
	if f.Type != "" {
		query = query.Where("type = ?", f.Type)
	}
	if f.PoolID != "" {
		query = query.Where("pool_id = ?", f.PoolID)
	}
	var out []Record
	if err := query.Order("sequence asc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("eventlog: list: %w", err)
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
