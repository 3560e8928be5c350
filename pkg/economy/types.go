package economy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BalanceKind selects one of the three independent wallets on an account.
type BalanceKind string

const (
	KindCurrency BalanceKind = "currency"
	KindPoints   BalanceKind = "activity_points"
	KindTickets  BalanceKind = "tickets"
)

// ParseBalanceKind validates and normalizes a balance kind.
func ParseBalanceKind(raw string) (BalanceKind, error) {
	switch BalanceKind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindCurrency:
		return KindCurrency, nil
	case KindPoints:
		return KindPoints, nil
	case KindTickets:
		return KindTickets, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidBalanceKind, raw)
}

// String returns the stored tag.
func (kind BalanceKind) String() string {
	return string(kind)
}

// EntryKind classifies a ledger entry alongside its signed amount.
type EntryKind string

const (
	EntryEarning  EntryKind = "earning"
	EntrySpending EntryKind = "spending"
)

// String returns the stored tag.
func (kind EntryKind) String() string {
	return string(kind)
}

// UnlockMethod selects the wallet a paid chapter is bought with.
type UnlockMethod string

const (
	MethodCurrency UnlockMethod = "currency"
	MethodPoints   UnlockMethod = "points"
)

// ParseUnlockMethod validates and normalizes an unlock method.
func ParseUnlockMethod(raw string) (UnlockMethod, error) {
	switch UnlockMethod(strings.ToLower(strings.TrimSpace(raw))) {
	case MethodCurrency:
		return MethodCurrency, nil
	case MethodPoints:
		return MethodPoints, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidUnlockMethod, raw)
}

// BalanceKind returns the wallet the method draws from.
func (method UnlockMethod) BalanceKind() BalanceKind {
	if method == MethodPoints {
		return KindPoints
	}
	return KindCurrency
}

// Account is the stored user record as the economy sees it.
type Account struct {
	ID       int64
	Currency int64
	Points   int64
	Tickets  int64
	Banned   bool
	Deleted  bool
}

// Balance returns the wallet selected by kind.
func (account Account) Balance(kind BalanceKind) int64 {
	switch kind {
	case KindPoints:
		return account.Points
	case KindTickets:
		return account.Tickets
	default:
		return account.Currency
	}
}

// Chapter is the gated unit of content.
type Chapter struct {
	ID            int64
	StoryID       int64
	VIP           bool
	VIPUnlockAt   *time.Time
	PriceCurrency int64
	PricePoints   int64
	Deleted       bool
}

// Gated reports whether the chapter currently requires an unlock.
// A VIP chapter whose unlock-at time has elapsed is treated as free.
func (chapter Chapter) Gated(now time.Time) bool {
	if !chapter.VIP {
		return false
	}
	if chapter.VIPUnlockAt != nil && chapter.VIPUnlockAt.Before(now) {
		return false
	}
	return true
}

// Price returns the cost of the chapter for the given method.
func (chapter Chapter) Price(method UnlockMethod) int64 {
	if method == MethodPoints {
		return chapter.PricePoints
	}
	return chapter.PriceCurrency
}

// Story carries ownership and the denormalized aggregate counters.
type Story struct {
	ID            int64
	OwnerID       int64
	CategoryID    int64
	Title         string
	Author        string
	CoverImage    string
	TotalReads    int64
	TotalRatings  int64
	AverageRating float64
	TotalFollows  int64
	TotalTickets  int64
	Deleted       bool
}

// Entry is a single immutable line in the tagged balance ledger.
// Amount is a signed delta: positive for earnings, negative for spends.
type Entry struct {
	ID        string
	AccountID int64
	Balance   BalanceKind
	Kind      EntryKind
	Amount    int64
	ChapterID *int64
	StoryID   *int64
	Metadata  string
	CreatedAt time.Time
}

// UnlockGrant records permanent access to a paid chapter.
type UnlockGrant struct {
	AccountID    int64
	ChapterID    int64
	UsedCurrency int64
	UsedPoints   int64
	UnlockedAt   time.Time
}

// CheckInRecord marks one check-in component on one calendar date.
// A milestone bonus shares the date with the daily row but carries the
// milestone amount, which is how status queries recognize paid milestones.
type CheckInRecord struct {
	AccountID int64
	Day       time.Time
	Points    int64
}

// Balances is the read-only three-wallet view of an account.
type Balances struct {
	Currency int64
	Points   int64
	Tickets  int64
}

// UnlockResult reports the outcome of an unlock attempt.
type UnlockResult struct {
	Granted      bool
	AlreadyOwned bool
}

// CheckInResult reports the reward granted by a check-in.
type CheckInResult struct {
	WeeklyReward    int64
	MilestoneReward int64
	TotalReward     int64
}

// CheckInStatus is the read-only weekly/monthly progress view.
type CheckInStatus struct {
	WeeklyProgress     [7]bool
	HasCheckedInToday  bool
	MonthlyTotal       int
	MilestonesAchieved []int
}

// NewMetadata builds the metadata blob attached to administrative entries.
func NewMetadata(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "{}", nil
	}
	blob, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	return string(blob), nil
}

// Store is the persistence contract used by Service. Implementations must
// serialize concurrent mutations of one account row: GetAccountForUpdate
// takes a per-row lock that is held until the enclosing WithTx commits.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	GetAccount(ctx context.Context, accountID int64) (Account, error)
	GetAccountForUpdate(ctx context.Context, accountID int64) (Account, error)
	ListActiveAccountIDs(ctx context.Context) ([]int64, error)
	AdjustBalance(ctx context.Context, accountID int64, kind BalanceKind, delta int64) error

	InsertEntry(ctx context.Context, entry Entry) error
	ListEntries(ctx context.Context, accountID int64, kind BalanceKind, page, pageSize int) ([]Entry, int64, error)

	GetChapter(ctx context.Context, chapterID int64) (Chapter, error)
	GetStory(ctx context.Context, storyID int64) (Story, error)
	AddStoryTickets(ctx context.Context, storyID int64, amount int64) error
	AddStoryReads(ctx context.Context, storyID int64, delta int64) error
	ExpireVIPChapters(ctx context.Context, now time.Time) (int64, error)

	HasUnlockGrant(ctx context.Context, accountID, chapterID int64) (bool, error)
	InsertUnlockGrant(ctx context.Context, grant UnlockGrant) error
	ListUnlockedChapterIDs(ctx context.Context, accountID, storyID int64) ([]int64, error)

	HasCheckInOn(ctx context.Context, accountID int64, day time.Time) (bool, error)
	CountCheckInDays(ctx context.Context, accountID int64, from, until time.Time) (int, error)
	ListCheckIns(ctx context.Context, accountID int64, from, until time.Time) ([]CheckInRecord, error)
	InsertCheckIn(ctx context.Context, record CheckInRecord) error

	TouchReadEvent(ctx context.Context, accountID, chapterID int64, at time.Time) (bool, error)
}
