package ranking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type names one leaderboard axis: a metric, a time window, and a scope.
type Type string

const (
	ReadsDayAll   Type = "READS_DAY_ALL"
	ReadsWeekAll  Type = "READS_WEEK_ALL"
	ReadsMonthAll Type = "READS_MONTH_ALL"

	ReadsDayCategory   Type = "READS_DAY_CATEGORY"
	ReadsWeekCategory  Type = "READS_WEEK_CATEGORY"
	ReadsMonthCategory Type = "READS_MONTH_CATEGORY"

	TicketsMonthAll Type = "TICKETS_MONTH_ALL"
	RatingAll       Type = "RATING_ALL"
	FollowersAll    Type = "FOLLOWERS_ALL"
	ReadsAllTimeAll Type = "READS_ALL_TIME_ALL"
)

var allTypes = []Type{
	ReadsDayAll, ReadsWeekAll, ReadsMonthAll,
	ReadsDayCategory, ReadsWeekCategory, ReadsMonthCategory,
	TicketsMonthAll, RatingAll, FollowersAll, ReadsAllTimeAll,
}

// ParseType validates a ranking type, case-insensitively.
func ParseType(raw string) (Type, error) {
	candidate := Type(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range allTypes {
		if candidate == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidType, raw)
}

// String returns the stored tag.
func (typ Type) String() string {
	return string(typ)
}

// PerCategory reports whether the axis is sliced by category.
func (typ Type) PerCategory() bool {
	return strings.HasSuffix(string(typ), "_CATEGORY")
}

// Row is one ranked position inside a snapshot. Story title, author, and
// cover are denormalized at generation time so reads never join.
type Row struct {
	Type        Type
	CategoryID  *int64
	Rank        int
	StoryID     int64
	StoryTitle  string
	Author      string
	CoverImage  string
	Score       int64
	GeneratedAt time.Time
}

// Snapshot is the full ranked row-set for one (type, category) pair.
type Snapshot struct {
	CategoryID *int64
	Rows       []Row
}

// StoryScore is one aggregation candidate before ranking.
type StoryScore struct {
	StoryID int64
	Score   int64
}

// CategoryStoryScore is a candidate grouped by (story, category).
type CategoryStoryScore struct {
	StoryID    int64
	CategoryID int64
	Score      int64
}

// StorySummary carries the denormalized story fields for snapshot rows.
type StorySummary struct {
	StoryID    int64
	Title      string
	Author     string
	CoverImage string
}

// StoryAggregate mirrors the denormalized per-story counters maintained by
// the content layer, used for the all-time axes.
type StoryAggregate struct {
	StoryID       int64
	RatingCount   int64
	AverageRating float64
	Followers     int64
	TotalReads    int64
}

// Source supplies raw aggregation data to the engine. All reads, no writes.
type Source interface {
	CountReadsByStory(ctx context.Context, since time.Time) ([]StoryScore, error)
	CountReadsByStoryAndCategory(ctx context.Context, since time.Time) ([]CategoryStoryScore, error)
	SumTicketSpendByStory(ctx context.Context, since time.Time) ([]StoryScore, error)
	ListStoryAggregates(ctx context.Context) ([]StoryAggregate, error)
	StorySummaries(ctx context.Context, storyIDs []int64) (map[int64]StorySummary, error)
}

// Sink persists finished snapshots. Replace must delete every existing row
// of the given type and insert the new snapshots as one atomic unit, so a
// reader never observes rows from two generation runs.
type Sink interface {
	Replace(ctx context.Context, typ Type, snapshots []Snapshot) error
}

// Errors returned by the ranking engine and query surface.
var (
	ErrInvalidType      = errors.New("invalid ranking type")
	ErrCategoryRequired = errors.New("category id required for per-category ranking")
	ErrInvalidEngine    = errors.New("invalid engine config")
)
