// Package eventlog keeps a queryable SQL copy of every committed ledger event
// for the read API and offline export.
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

	"accesspay/core/events"
	"accesspay/core/types"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultLimit = 100
	maxLimit     = 1000
)

var ErrDSNRequired = errors.New("eventlog: dsn must be configured")

// Record is one committed event.
type Record struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"sequence"`
	UUID        string    `gorm:"uniqueIndex;size:36" json:"uuid"`
	Type        string    `gorm:"index;size:64" json:"type"`
	Subject     string    `gorm:"index;size:80" json:"subject,omitempty"`
	Attributes  string    `gorm:"type:text" json:"-"`
	Digest      string    `gorm:"size:64" json:"digest"`
	CommittedAt time.Time `gorm:"index" json:"committedAt"`
}

// TableName pins the table name independent of the struct name.
func (Record) TableName() string { return "ledger_events" }

// Event decodes the stored attributes back into an event payload.
func (r Record) Event() (*types.Event, error) {
	attrs := map[string]string{}
	if r.Attributes != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
			return nil, fmt.Errorf("eventlog: decode %s: %w", r.UUID, err)
		}
	}
	return &types.Event{Type: r.Type, Attributes: attrs}, nil
}

// Filter narrows a query. Zero values match everything.
type Filter struct {
	Type    string
	Subject string
	// After returns records with a sequence strictly greater than After.
	After uint64
	Limit int
}

// Log persists events through gorm.
type Log struct {
	db     *gorm.DB
	nowFn  func() time.Time
	logger *slog.Logger
	mu     sync.Mutex
}

// Open connects to the event database. Supported drivers are "sqlite" and
// "postgres"; the schema is migrated on open.
func Open(driver, dsn string) (*Log, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrDSNRequired
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("eventlog: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("eventlog: open: %w", err)
	}
	return New(db)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB) (*Log, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("eventlog: migrate: %w", err)
	}
	return &Log{db: db, nowFn: time.Now, logger: slog.Default()}, nil
}

// SetLogger configures the logger used for delivery failures.
func (l *Log) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	l.logger = logger
}

// SetNowFunc overrides the commit timestamp source for tests.
func (l *Log) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	l.nowFn = now
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

// Emit implements events.Emitter. Delivery failures are logged and dropped;
// the ledger remains the source of truth.
func (l *Log) Emit(evt events.Event) {
	payload, ok := events.Payload(evt)
	if !ok {
		return
	}
	if _, err := l.Append(context.Background(), payload); err != nil {
		l.logger.Warn("event log append failed", slog.String("type", payload.Type), slog.Any("error", err))
	}
}

// Append stores one event and returns the stored record.
func (l *Log) Append(ctx context.Context, evt *types.Event) (*Record, error) {
	if evt == nil {
		return nil, fmt.Errorf("eventlog: nil event")
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return nil, fmt.Errorf("eventlog: encode: %w", err)
	}
	rec := &Record{
		UUID:        uuid.NewString(),
		Type:        evt.Type,
		Subject:     subjectOf(evt),
		Attributes:  string(attrs),
		Digest:      Digest(evt),
		CommittedAt: l.nowFn().UTC(),
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("eventlog: insert: %w", err)
	}
	return rec, nil
}

// Query returns records matching f in sequence order.
func (l *Log) Query(ctx context.Context, f Filter) ([]Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	q := l.db.WithContext(ctx).Model(&Record{}).Where("id > ?", f.After)
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Subject != "" {
		q = q.Where("subject = ?", f.Subject)
	}
	var out []Record
	if err := q.Order("id ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("eventlog: query: %w", err)
	}
	return out, nil
}

// subjectOf picks the record the event is about so queries can follow one
// escrow, split or credential.
func subjectOf(evt *types.Event) string {
	for _, key := range []string{"id", "escrow", "credential", "from"} {
		if v := strings.TrimSpace(evt.Attributes[key]); v != "" {
			return v
		}
	}
	return ""
}
