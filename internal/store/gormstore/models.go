package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table. Balances are mutated only through
// ledger-producing operations.
type Account struct {
	ID        int64     `gorm:"primaryKey"`
	Username  string    `gorm:"not null;uniqueIndex"`
	Currency  int64     `gorm:"not null;default:0"`
	Points    int64     `gorm:"not null;default:0"`
	Tickets   int64     `gorm:"not null;default:0"`
	Banned    bool      `gorm:"not null;default:false"`
	Deleted   bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// Story carries ownership plus the denormalized aggregate counters the
// content layer maintains incrementally.
type Story struct {
	ID            int64  `gorm:"primaryKey"`
	OwnerID       int64  `gorm:"not null;index"`
	CategoryID    int64  `gorm:"not null;index"`
	Title         string `gorm:"not null"`
	Author        string
	CoverImage    string
	TotalReads    int64   `gorm:"not null;default:0"`
	TotalRatings  int64   `gorm:"not null;default:0"`
	AverageRating float64 `gorm:"not null;default:0"`
	TotalFollows  int64   `gorm:"not null;default:0"`
	TotalTickets  int64   `gorm:"not null;default:0"`
	Deleted       bool    `gorm:"not null;default:false"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (Story) TableName() string { return "stories" }

// Chapter mirrors the chapters table; gating fields only, content lives
// with the excluded CRUD layer.
type Chapter struct {
	ID            int64 `gorm:"primaryKey"`
	StoryID       int64 `gorm:"not null;index"`
	Number        int   `gorm:"not null;default:0"`
	Title         string
	VIP           bool       `gorm:"column:vip;not null;default:false"`
	VIPUnlockAt   *time.Time `gorm:"column:vip_unlock_at"`
	PriceCurrency int64      `gorm:"not null;default:0"`
	PricePoints   int64      `gorm:"not null;default:0"`
	Deleted       bool       `gorm:"not null;default:false"`
	CreatedAt     time.Time
}

func (Chapter) TableName() string { return "chapters" }

// LedgerEntry mirrors the ledger_entries table: one tagged append-only log
// covering all three balance kinds.
type LedgerEntry struct {
	EntryID   string         `gorm:"type:uuid;primaryKey"`
	AccountID int64          `gorm:"not null;index:idx_ledger_account_created,priority:1"`
	Balance   string         `gorm:"not null;index"`
	Kind      string         `gorm:"not null"`
	Amount    int64          `gorm:"not null"`
	ChapterID *int64         `gorm:"index"`
	StoryID   *int64         `gorm:"index"`
	Metadata  datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null;index:idx_ledger_account_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// UnlockGrant mirrors the unlock_grants table, keyed by (account, chapter).
type UnlockGrant struct {
	AccountID    int64     `gorm:"primaryKey;autoIncrement:false"`
	ChapterID    int64     `gorm:"primaryKey;autoIncrement:false"`
	UsedCurrency int64     `gorm:"not null;default:0"`
	UsedPoints   int64     `gorm:"not null;default:0"`
	UnlockedAt   time.Time `gorm:"not null"`
}

func (UnlockGrant) TableName() string { return "unlock_grants" }

// CheckIn mirrors the check_ins table. A milestone bonus adds a second row
// for the same day carrying the milestone amount; weekly and milestone
// amounts never collide, so the unique index holds.
type CheckIn struct {
	ID        int64     `gorm:"primaryKey"`
	AccountID int64     `gorm:"not null;uniqueIndex:uniq_checkin_account_day_points,priority:1"`
	Day       time.Time `gorm:"not null;uniqueIndex:uniq_checkin_account_day_points,priority:2"`
	Points    int64     `gorm:"not null;uniqueIndex:uniq_checkin_account_day_points,priority:3"`
}

func (CheckIn) TableName() string { return "check_ins" }

// ReadEvent mirrors the read_events table, at most one row per
// (account, chapter); re-reads refresh ReadAt.
type ReadEvent struct {
	ID        int64     `gorm:"primaryKey"`
	AccountID int64     `gorm:"not null;uniqueIndex:uniq_read_account_chapter,priority:1"`
	ChapterID int64     `gorm:"not null;uniqueIndex:uniq_read_account_chapter,priority:2"`
	ReadAt    time.Time `gorm:"not null;index"`
}

func (ReadEvent) TableName() string { return "read_events" }

// RankingRow mirrors the ranking_rows table; row-sets are replaced
// wholesale per type on each aggregation run.
type RankingRow struct {
	ID          int64  `gorm:"primaryKey"`
	Type        string `gorm:"not null;index:idx_ranking_type_category_rank,priority:1"`
	CategoryID  *int64 `gorm:"index:idx_ranking_type_category_rank,priority:2"`
	Rank        int    `gorm:"not null;index:idx_ranking_type_category_rank,priority:3"`
	StoryID     int64  `gorm:"not null"`
	StoryTitle  string
	Author      string
	CoverImage  string
	Score       int64     `gorm:"not null"`
	GeneratedAt time.Time `gorm:"not null"`
}

func (RankingRow) TableName() string { return "ranking_rows" }

// AutoMigrate creates or updates every table the store owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Account{},
		&Story{},
		&Chapter{},
		&LedgerEntry{},
		&UnlockGrant{},
		&CheckIn{},
		&ReadEvent{},
		&RankingRow{},
	)
}
