package archive

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"escrowledger/core/events"
	"escrowledger/core/types"
	"escrowledger/observability/metrics"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultListLimit = 100
	maxListLimit     = 1000
)

var (
	// ErrChainBroken is returned by Verify when a stored digest does not match
	// the recomputed chain.
	ErrChainBroken = errors.New("archive: digest chain broken")
	errClosed      = errors.New("archive: closed")
)

// Record is one archived ledger event. Digest commits to the previous record's
// digest, so rewriting any row invalidates every later one.
type Record struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement:false" json:"seq"`
	Type       string    `gorm:"size:64;index" json:"type"`
	EscrowID   uint64    `gorm:"index" json:"escrowId,omitempty"`
	Height     uint64    `json:"height"`
	Attributes string    `gorm:"type:text" json:"attributes"`
	PrevDigest string    `gorm:"size:64" json:"prevDigest"`
	Digest     string    `gorm:"size:64;uniqueIndex" json:"digest"`
	RecordedAt time.Time `json:"recordedAt"`
}

func (Record) TableName() string { return "escrow_events" }

// Event decodes the stored attributes back into the wire event.
func (r *Record) Event() (*types.Event, error) {
	attrs := make(map[string]string)
	if r.Attributes != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
			return nil, fmt.Errorf("archive: decode attributes of %d: %w", r.Seq, err)
		}
	}
	return &types.Event{Type: r.Type, Attributes: attrs}, nil
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	EscrowID uint64
	Type     string
	AfterSeq uint64
	Limit    int
}

// Archive persists ledger events into a SQL database through gorm.
type Archive struct {
	db      *gorm.DB
	logger  *slog.Logger
	metrics *metrics.EscrowMetrics

	mu     sync.Mutex
	seq    uint64
	digest string
	closed bool
	now    func() time.Time
}

// Open connects to the database named by driver and dsn and migrates the
// schema.
func Open(driver, dsn string, log *slog.Logger) (*Archive, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("archive: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	return New(db, log)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, log *slog.Logger) (*Archive, error) {
	if db == nil {
		return nil, fmt.Errorf("archive: database required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	a := &Archive{
		db:      db,
		logger:  log.With("component", "archive"),
		metrics: metrics.Escrow(),
		now:     time.Now,
	}
	var last Record
	err := db.Order("seq DESC").Limit(1).Take(&last).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return nil, fmt.Errorf("archive: load head: %w", err)
	default:
		a.seq = last.Seq
		a.digest = last.Digest
	}
	return a, nil
}

// Close releases the underlying connection pool.
func (a *Archive) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append stores evt at the head of the chain.
func (a *Archive) Append(ctx context.Context, evt *types.Event) (*Record, error) {
	if a == nil {
		return nil, errClosed
	}
	if evt == nil || evt.Type == "" {
		return nil, fmt.Errorf("archive: event type required")
	}
	attrs, err := canonicalAttributes(evt.Attributes)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, errClosed
	}
	rec := &Record{
		Seq:        a.seq + 1,
		Type:       evt.Type,
		EscrowID:   parseUint(evt.Attr("id")),
		Height:     parseUint(evt.Attr("height")),
		Attributes: attrs,
		PrevDigest: a.digest,
		RecordedAt: a.now().UTC(),
	}
	rec.Digest = chainDigest(rec.PrevDigest, rec.Seq, rec.Type, rec.Attributes)
	err = a.db.WithContext(ctx).Create(rec).Error
	a.metrics.ObserveArchive(err)
	if err != nil {
		return nil, fmt.Errorf("archive: insert %d: %w", rec.Seq, err)
	}
	a.seq = rec.Seq
	a.digest = rec.Digest
	return rec, nil
}

// Sink adapts the archive to an event bus consumer. Failures are logged and
// counted; the ledger never waits on the archive to retry.
func (a *Archive) Sink() events.Sink {
	return func(evt *types.Event) {
		if _, err := a.Append(context.Background(), evt); err != nil {
			eventType := ""
			if evt != nil {
				eventType = evt.Type
			}
			a.logger.Error("archive append failed", "type", eventType, "error", err)
		}
	}
}

// Head returns the sequence number and digest of the newest record.
func (a *Archive) Head() (uint64, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seq, a.digest
}

// List returns records in sequence order.
func (a *Archive) List(ctx context.Context, filter Filter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query := a.db.WithContext(ctx).Model(&Record{}).Where("seq > ?", filter.AfterSeq)
	if filter.EscrowID != 0 {
		query = query.Where("escrow_id = ?", filter.EscrowID)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	var out []Record
	if err := query.Order("seq ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	return out, nil
}

// Verify walks the whole chain and recomputes every digest.
func (a *Archive) Verify(ctx context.Context) error {
	prev := ""
	expected := uint64(1)
	var batch []Record
	result := a.db.WithContext(ctx).Model(&Record{}).FindInBatches(&batch, 500, func(tx *gorm.DB, _ int) error {
		for _, rec := range batch {
			if rec.Seq != expected {
				return fmt.Errorf("%w: missing record %d", ErrChainBroken, expected)
			}
			if rec.PrevDigest != prev {
				return fmt.Errorf("%w: record %d does not link to its predecessor", ErrChainBroken, rec.Seq)
			}
			if chainDigest(rec.PrevDigest, rec.Seq, rec.Type, rec.Attributes) != rec.Digest {
				return fmt.Errorf("%w: record %d digest mismatch", ErrChainBroken, rec.Seq)
			}
			prev = rec.Digest
			expected++
		}
		return nil
	})
	return result.Error
}

// canonicalAttributes renders attrs as JSON with sorted keys.
func canonicalAttributes(attrs map[string]string) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("archive: encode attributes: %w", err)
	}
	return string(encoded), nil
}

func chainDigest(prev string, seq uint64, eventType, attrs string) string {
	h := blake3.New(32, nil)
	h.Write([]byte(prev))
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	h.Write(seqBytes[:])
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write([]byte(attrs))
	return hex.EncodeToString(h.Sum(nil))
}

func parseUint(value string) uint64 {
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
