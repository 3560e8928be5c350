package ranking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

const defaultLimit = 100

// minRatingsForRankings excludes thinly rated stories from the rating axis.
const minRatingsForRankings = 10

// ratingScale keeps average-rating scores integral (4.37 -> 437).
const ratingScale = 100

// DropHandler is notified when an aggregation candidate is discarded
// because its story no longer resolves. Drops are recomputed from raw
// events on the next run, so a dropped story returns once it resolves again.
type DropHandler func(typ Type, storyID int64)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLimit overrides the top-N cutoff per snapshot.
func WithLimit(limit int) EngineOption {
	return func(engine *Engine) {
		if limit > 0 {
			engine.limit = limit
		}
	}
}

// WithReportingZone overrides the zone used for window boundaries.
func WithReportingZone(zone *time.Location) EngineOption {
	return func(engine *Engine) {
		if zone != nil {
			engine.zone = zone
		}
	}
}

// WithDropHandler wires a callback for dropped candidates.
func WithDropHandler(handler DropHandler) EngineOption {
	return func(engine *Engine) {
		engine.onDrop = handler
	}
}

// Engine batch-rebuilds leaderboard snapshots from raw event data. Each run
// replaces whole (type, category) row-sets; it never patches rows in place.
type Engine struct {
	source Source
	sink   Sink
	nowFn  func() time.Time
	zone   *time.Location
	limit  int
	onDrop DropHandler
}

// NewEngine wires an Engine.
func NewEngine(source Source, sink Sink, now func() time.Time, options ...EngineOption) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: source dependency is nil", ErrInvalidEngine)
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: sink dependency is nil", ErrInvalidEngine)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidEngine)
	}
	engine := &Engine{
		source: source,
		sink:   sink,
		nowFn:  now,
		zone:   time.FixedZone("UTC+7", 7*60*60),
		limit:  defaultLimit,
	}
	for _, option := range options {
		if option != nil {
			option(engine)
		}
	}
	return engine, nil
}

// RunReadRankings rebuilds the six read axes: day, week, and month windows,
// each globally and per category. A failed axis leaves its previous snapshot
// in place and does not block the remaining axes.
func (engine *Engine) RunReadRankings(ctx context.Context) error {
	now := engine.nowFn().In(engine.zone)
	windows := []struct {
		globalType   Type
		categoryType Type
		since        time.Time
	}{
		{ReadsDayAll, ReadsDayCategory, startOfDay(now)},
		{ReadsWeekAll, ReadsWeekCategory, startOfWeek(now)},
		{ReadsMonthAll, ReadsMonthCategory, startOfMonth(now)},
	}
	var failures []error
	for _, window := range windows {
		if err := engine.runGlobalWindow(ctx, window.globalType, window.since); err != nil {
			failures = append(failures, err)
		}
		if err := engine.runCategoryWindow(ctx, window.categoryType, window.since); err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

// RunTicketRankings rebuilds the monthly nomination-ticket axis.
func (engine *Engine) RunTicketRankings(ctx context.Context) error {
	now := engine.nowFn().In(engine.zone)
	scores, err := engine.source.SumTicketSpendByStory(ctx, startOfMonth(now))
	if err != nil {
		return wrapAxis(TicketsMonthAll, err)
	}
	return engine.replaceGlobal(ctx, TicketsMonthAll, scores)
}

// RunGlobalRankings rebuilds the three all-time axes from the denormalized
// story counters: average rating (stories with more than ten ratings),
// follower count, and all-time reads. The axes share one source scan but
// replace independently.
func (engine *Engine) RunGlobalRankings(ctx context.Context) error {
	aggregates, err := engine.source.ListStoryAggregates(ctx)
	if err != nil {
		return wrapAxis(RatingAll, err)
	}
	rating := make([]StoryScore, 0, len(aggregates))
	followers := make([]StoryScore, 0, len(aggregates))
	reads := make([]StoryScore, 0, len(aggregates))
	for _, aggregate := range aggregates {
		if aggregate.RatingCount > minRatingsForRankings {
			rating = append(rating, StoryScore{
				StoryID: aggregate.StoryID,
				Score:   int64(math.Round(aggregate.AverageRating * ratingScale)),
			})
		}
		followers = append(followers, StoryScore{StoryID: aggregate.StoryID, Score: aggregate.Followers})
		reads = append(reads, StoryScore{StoryID: aggregate.StoryID, Score: aggregate.TotalReads})
	}
	var failures []error
	if err := engine.replaceGlobal(ctx, RatingAll, rating); err != nil {
		failures = append(failures, err)
	}
	if err := engine.replaceGlobal(ctx, FollowersAll, followers); err != nil {
		failures = append(failures, err)
	}
	if err := engine.replaceGlobal(ctx, ReadsAllTimeAll, reads); err != nil {
		failures = append(failures, err)
	}
	return errors.Join(failures...)
}

func (engine *Engine) runGlobalWindow(ctx context.Context, typ Type, since time.Time) error {
	scores, err := engine.source.CountReadsByStory(ctx, since)
	if err != nil {
		return wrapAxis(typ, err)
	}
	return engine.replaceGlobal(ctx, typ, scores)
}

// runCategoryWindow groups (story, category) counts once, then re-groups in
// memory per category so each window costs a single source scan.
func (engine *Engine) runCategoryWindow(ctx context.Context, typ Type, since time.Time) error {
	grouped, err := engine.source.CountReadsByStoryAndCategory(ctx, since)
	if err != nil {
		return wrapAxis(typ, err)
	}
	byCategory := make(map[int64][]StoryScore)
	for _, score := range grouped {
		byCategory[score.CategoryID] = append(byCategory[score.CategoryID], StoryScore{
			StoryID: score.StoryID,
			Score:   score.Score,
		})
	}
	generatedAt := engine.nowFn().UTC()
	snapshots := make([]Snapshot, 0, len(byCategory))
	categoryIDs := make([]int64, 0, len(byCategory))
	for categoryID := range byCategory {
		categoryIDs = append(categoryIDs, categoryID)
	}
	sort.Slice(categoryIDs, func(i, j int) bool { return categoryIDs[i] < categoryIDs[j] })
	for _, categoryID := range categoryIDs {
		categoryRef := categoryID
		rows, err := engine.buildRows(ctx, typ, &categoryRef, byCategory[categoryID], generatedAt)
		if err != nil {
			return wrapAxis(typ, err)
		}
		snapshots = append(snapshots, Snapshot{CategoryID: &categoryRef, Rows: rows})
	}
	if err := engine.sink.Replace(ctx, typ, snapshots); err != nil {
		return wrapAxis(typ, err)
	}
	return nil
}

func (engine *Engine) replaceGlobal(ctx context.Context, typ Type, scores []StoryScore) error {
	rows, err := engine.buildRows(ctx, typ, nil, scores, engine.nowFn().UTC())
	if err != nil {
		return wrapAxis(typ, err)
	}
	if err := engine.sink.Replace(ctx, typ, []Snapshot{{Rows: rows}}); err != nil {
		return wrapAxis(typ, err)
	}
	return nil
}

// buildRows sorts candidates by score descending with story id ascending as
// the deterministic tiebreak, cuts to the limit, resolves summaries, and
// assigns dense 1-based ranks. Candidates whose story no longer resolves are
// dropped without aborting the axis.
func (engine *Engine) buildRows(ctx context.Context, typ Type, categoryID *int64, scores []StoryScore, generatedAt time.Time) ([]Row, error) {
	sorted := make([]StoryScore, len(scores))
	copy(sorted, scores)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].StoryID < sorted[j].StoryID
	})
	if len(sorted) > engine.limit {
		sorted = sorted[:engine.limit]
	}
	if len(sorted) == 0 {
		return nil, nil
	}
	storyIDs := make([]int64, 0, len(sorted))
	for _, score := range sorted {
		storyIDs = append(storyIDs, score.StoryID)
	}
	summaries, err := engine.source.StorySummaries(ctx, storyIDs)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(sorted))
	rank := 1
	for _, score := range sorted {
		summary, ok := summaries[score.StoryID]
		if !ok {
			if engine.onDrop != nil {
				engine.onDrop(typ, score.StoryID)
			}
			continue
		}
		rows = append(rows, Row{
			Type:        typ,
			CategoryID:  categoryID,
			Rank:        rank,
			StoryID:     score.StoryID,
			StoryTitle:  summary.Title,
			Author:      summary.Author,
			CoverImage:  summary.CoverImage,
			Score:       score.Score,
			GeneratedAt: generatedAt,
		})
		rank++
	}
	return rows, nil
}

func wrapAxis(typ Type, err error) error {
	return fmt.Errorf("axis %s: %w", typ, err)
}
