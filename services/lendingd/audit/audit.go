package audit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lendmarket/native/lending"
)

// Record is one liquidation or bad-debt write-off kept for operator review.
// Amounts are decimal strings in base units.
type Record struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Kind        string    `gorm:"index;size:32" json:"kind"`
	Height      uint64    `gorm:"index" json:"height"`
	BlockTime   time.Time `gorm:"index" json:"block_time"`
	Borrower    string    `gorm:"index;size:128" json:"borrower"`
	Liquidator  string    `gorm:"size:128" json:"liquidator,omitempty"`
	Asset       string    `gorm:"size:64" json:"asset,omitempty"`
	Repaid      string    `json:"repaid,omitempty"`
	Seized      string    `json:"seized,omitempty"`
	Full        bool      `json:"full"`
	Loss        string    `json:"loss,omitempty"`
	FromReserve string    `json:"from_reserve,omitempty"`
	FromStakers string    `json:"from_stakers,omitempty"`
	Diluted     string    `json:"diluted,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	KindLiquidation   = "liquidation"
	KindSocialization = "socialization"
)

// Open connects to the audit database named by dsn.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("audit: dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	return db, nil
}

// Log persists liquidation events.
type Log struct {
	db  *gorm.DB
	now func() time.Time
}

// New migrates the schema and returns a Log backed by db.
func New(db *gorm.DB) (*Log, error) {
	if db == nil {
		return nil, errors.New("audit: nil db")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return &Log{db: db, now: time.Now}, nil
}

// FromEvent converts a liquidation or socialization event. Other events are
// ignored.
func FromEvent(ev lending.Event) (*Record, bool) {
	rec := &Record{
		ID:        ev.ID,
		Height:    ev.Height,
		BlockTime: time.Unix(int64(ev.Time), 0).UTC(),
		Borrower:  ev.Attributes["borrower"],
	}
	switch ev.Type {
	case lending.EventLiquidated:
		rec.Kind = KindLiquidation
		rec.Liquidator = ev.Attributes["liquidator"]
		rec.Asset = ev.Attributes["asset"]
		rec.Repaid = ev.Attributes["repaid"]
		rec.Seized = ev.Attributes["seized"]
		rec.Full, _ = strconv.ParseBool(ev.Attributes["full"])
	case lending.EventSocialized:
		rec.Kind = KindSocialization
		rec.Loss = ev.Attributes["loss"]
		rec.FromReserve = ev.Attributes["fromReserve"]
		rec.FromStakers = ev.Attributes["fromStakers"]
		rec.Diluted = ev.Attributes["diluted"]
	default:
		return nil, false
	}
	return rec, true
}

// Append stores every auditable event in one transaction and returns the
// number written.
func (l *Log) Append(ctx context.Context, events []lending.Event) (int, error) {
	records := make([]*Record, 0, len(events))
	for _, ev := range events {
		if rec, ok := FromEvent(ev); ok {
			rec.CreatedAt = l.now().UTC()
			records = append(records, rec)
		}
	}
	if len(records) == 0 {
		return 0, nil
	}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&records).Error
	})
	if err != nil {
		return 0, fmt.Errorf("audit: append: %w", err)
	}
	return len(records), nil
}

// Query filters List results.
type Query struct {
	Borrower  string
	Kind      string
	SinceTime time.Time
	Limit     int
}

// List returns records newest first.
func (l *Log) List(ctx context.Context, q Query) ([]Record, error) {
	tx := l.db.WithContext(ctx).Model(&Record{})
	if q.Borrower != "" {
		tx = tx.Where("borrower = ?", q.Borrower)
	}
	if q.Kind != "" {
		tx = tx.Where("kind = ?", q.Kind)
	}
	if !q.SinceTime.IsZero() {
		tx = tx.Where("block_time >= ?", q.SinceTime.UTC())
	}
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []Record
	if err := tx.Order("height desc").Order("created_at desc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return out, nil
}
