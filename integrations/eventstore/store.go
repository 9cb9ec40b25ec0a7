package eventstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"lendcore/core/events"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	ErrUnsupportedDriver = errors.New("eventstore: unsupported driver")
	ErrChainBroken       = errors.New("eventstore: digest chain broken")
)

// Record is one persisted event. Digest chains every record to its
// predecessor so history rewrites are detectable.
type Record struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Type       string    `gorm:"size:64;index" json:"type"`
	Market     string    `gorm:"size:128;index" json:"market,omitempty"`
	Account    string    `gorm:"size:128;index" json:"account,omitempty"`
	Attributes string    `gorm:"type:text" json:"-"`
	Digest     string    `gorm:"size:64;uniqueIndex" json:"digest"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName pins the table name.
func (Record) TableName() string { return "lending_events" }

// Attrs decodes the attribute map.
func (r Record) Attrs() map[string]string {
	out := map[string]string{}
	if strings.TrimSpace(r.Attributes) == "" {
		return out
	}
	_ = json.Unmarshal([]byte(r.Attributes), &out)
	return out
}

// MarshalJSON renders attributes inline.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	return json.Marshal(struct {
		plain
		Attributes map[string]string `json:"attributes"`
	}{plain: plain(r), Attributes: r.Attrs()})
}

// Store appends events to a SQL table and serves history queries.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	head string
}

var _ events.Emitter = (*Store)(nil)

// Option customises a Store.
type Option func(*Store)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the record timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open connects to driver at dsn and migrates the schema.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("eventstore: postgres dsn required")
		}
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("eventstore: open %s: %w", driver, err)
	}
	return New(db, opts...)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("eventstore: database required")
	}
	s := &Store{db: db, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "eventstore")
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("eventstore: migrate: %w", err)
	}
	var last Record
	err := db.Order("id desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("eventstore: load head: %w", err)
	}
	s.head = last.Digest
	return s, nil
}

func chainDigest(prev, typ, attrs string) string {
	h := blake3.New(32, nil)
	_, _ = h.Write([]byte(prev))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(typ))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(attrs))
	return hex.EncodeToString(h.Sum(nil))
}

func accountOf(attrs map[string]string) string {
	for _, key := range []string{"account", "borrower", "bidder", "from", "to"} {
		if v := strings.TrimSpace(attrs[key]); v != "" {
			return v
		}
	}
	return ""
}

// Emit implements events.Emitter. Failures are logged, never raised.
func (s *Store) Emit(ev events.Event) {
	if _, err := s.Append(context.Background(), ev); err != nil {
		s.logger.Error("append event failed", slog.String("type", ev.EventType()), slog.Any("error", err))
	}
}

// Append persists ev and returns the stored record.
func (s *Store) Append(ctx context.Context, ev events.Event) (*Record, error) {
	env := events.ToEnvelope(ev)
	if env == nil {
		return nil, fmt.Errorf("eventstore: nil event")
	}
	raw, err := json.Marshal(env.Attributes)
	if err != nil {
		return nil, fmt.Errorf("eventstore: encode attributes: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &Record{
		Type:       env.Type,
		Market:     env.Attributes["market"],
		Account:    accountOf(env.Attributes),
		Attributes: string(raw),
		Digest:     chainDigest(s.head, env.Type, string(raw)),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("eventstore: insert: %w", err)
	}
	s.head = rec.Digest
	return rec, nil
}

// Filter narrows a history query. Zero values match everything.
type Filter struct {
	Type    string
	Market  string
	Account string
	AfterID uint64
	Limit   int
}

const (
	defaultLimit = 100
	maxLimit     = 1000
)

func (f Filter) apply(db *gorm.DB) *gorm.DB {
	if t := strings.TrimSpace(f.Type); t != "" {
		if strings.HasSuffix(t, ".") {
			db = db.Where("type LIKE ?", t+"%")
		} else {
			db = db.Where("type = ?", t)
		}
	}
	if m := strings.TrimSpace(f.Market); m != "" {
		db = db.Where("market = ?", m)
	}
	if a := strings.TrimSpace(f.Account); a != "" {
		db = db.Where("account = ?", a)
	}
	if f.AfterID > 0 {
		db = db.Where("id > ?", f.AfterID)
	}
	return db
}

// Query returns records matching f in insertion order. A Type ending in a
// dot matches the whole family, e.g. "lending.".
func (s *Store) Query(ctx context.Context, f Filter) ([]Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	var out []Record
	err := f.apply(s.db.WithContext(ctx).Model(&Record{})).Order("id asc").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("eventstore: query: %w", err)
	}
	return out, nil
}

// Verify recomputes the digest chain from the first record.
func (s *Store) Verify(ctx context.Context) (int, error) {
	var (
		prev    string
		checked int
		batch   []Record
	)
	err := s.db.WithContext(ctx).Model(&Record{}).Order("id asc").FindInBatches(&batch, 500, func(tx *gorm.DB, _ int) error {
		for _, rec := range batch {
			if want := chainDigest(prev, rec.Type, rec.Attributes); want != rec.Digest {
				return fmt.Errorf("%w at record %d", ErrChainBroken, rec.ID)
			}
			prev = rec.Digest
			checked++
		}
		return nil
	}).Error
	return checked, err
}

// Head returns the digest of the newest record.
func (s *Store) Head() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
