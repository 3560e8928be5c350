package ranking

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunReadRankingsOrdersByScore(t *testing.T) {
	t.Parallel()
	source := newStubSource()
	source.reads = []StoryScore{
		{StoryID: 1, Score: 12},
		{StoryID: 2, Score: 30},
	}
	source.summaries[1] = StorySummary{StoryID: 1, Title: "Quiet Harbor"}
	source.summaries[2] = StorySummary{StoryID: 2, Title: "Ember Crown"}
	sink := newStubSink()
	engine := mustNewEngine(t, source, sink)

	if err := engine.RunReadRankings(context.Background()); err != nil {
		t.Fatalf("run read rankings: %v", err)
	}

	rows := sink.rows(ReadsDayAll)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].StoryID != 2 || rows[0].Rank != 1 || rows[0].Score != 30 {
		t.Fatalf("unexpected first row: %+v", rows[0])
	}
	if rows[1].StoryID != 1 || rows[1].Rank != 2 || rows[1].Score != 12 {
		t.Fatalf("unexpected second row: %+v", rows[1])
	}
	if rows[0].StoryTitle != "Ember Crown" {
		t.Fatalf("expected denormalized title, got %q", rows[0].StoryTitle)
	}
	for _, typ := range []Type{ReadsDayAll, ReadsWeekAll, ReadsMonthAll} {
		if sink.replaceCount(typ) != 1 {
			t.Fatalf("expected one replace for %s", typ)
		}
	}
}

func TestRunReadRankingsTiebreakByStoryID(t *testing.T) {
	t.Parallel()
	source := newStubSource()
	source.reads = []StoryScore{
		{StoryID: 9, Score: 10},
		{StoryID: 3, Score: 10},
		{StoryID: 5, Score: 10},
	}
	for _, id := range []int64{3, 5, 9} {
		source.summaries[id] = StorySummary{StoryID: id}
	}
	sink := newStubSink()
	engine := mustNewEngine(t, source, sink)

	if err := engine.RunReadRankings(context.Background()); err != nil {
		t.Fatalf("run read rankings: %v", err)
	}
	rows := sink.rows(ReadsDayAll)
	if rows[0].StoryID != 3 || rows[1].StoryID != 5 || rows[2].StoryID != 9 {
		t.Fatalf("expected ties broken by story id, got %+v", rows)
	}
}

func TestRunReadRankingsCutsAtLimit(t *testing.T) {
	t.Parallel()
	source := newStubSource()
	for id := int64(1); id <= 10; id++ {
		source.reads = append(source.reads, StoryScore{StoryID: id, Score: id})
		source.summaries[id] = StorySummary{StoryID: id}
	}
	sink := newStubSink()
	engine := mustNewEngine(t, source, sink, WithLimit(3))

	if err := engine.RunReadRankings(context.Background()); err != nil {
		t.Fatalf("run read rankings: %v", err)
	}
	rows := sink.rows(ReadsDayAll)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows at limit, got %d", len(rows))
	}
	if rows[0].StoryID != 10 || rows[2].StoryID != 8 {
		t.Fatalf("expected top scores kept, got %+v", rows)
	}
}

func TestRunReadRankingsGroupsCategories(t *testing.T) {
	t.Parallel()
	source := newStubSource()
	source.categoryReads = []CategoryStoryScore{
		{StoryID: 1, CategoryID: 7, Score: 4},
		{StoryID: 2, CategoryID: 7, Score: 9},
		{StoryID: 3, CategoryID: 8, Score: 1},
	}
	for _, id := range []int64{1, 2, 3} {
		source.summaries[id] = StorySummary{StoryID: id}
	}
	sink := newStubSink()
	engine := mustNewEngine(t, source, sink)

	if err := engine.RunReadRankings(context.Background()); err != nil {
		t.Fatalf("run read rankings: %v", err)
	}

	snapshots := sink.snapshots[ReadsDayCategory]
	if len(snapshots) != 2 {
		t.Fatalf("expected 2 category snapshots, got %d", len(snapshots))
	}
	first := snapshots[0]
	if first.CategoryID == nil || *first.CategoryID != 7 {
		t.Fatalf("expected category 7 first, got %+v", first.CategoryID)
	}
	if len(first.Rows) != 2 || first.Rows[0].StoryID != 2 || first.Rows[0].Rank != 1 {
		t.Fatalf("unexpected category rows: %+v", first.Rows)
	}
	second := snapshots[1]
	if second.CategoryID == nil || *second.CategoryID != 8 || len(second.Rows) != 1 {
		t.Fatalf("unexpected category 8 snapshot: %+v", second)
	}
}

func TestBuildRowsDropsUnresolvedStories(t *testing.T) {
	t.Parallel()
	source := newStubSource()
	source.reads = []StoryScore{
		{StoryID: 1, Score: 20},
		{StoryID: 2, Score: 10},
	}
	source.summaries[2] = StorySummary{StoryID: 2}
	sink := newStubSink()
	var dropped []int64
	engine := mustNewEngine(t, source, sink, WithDropHandler(func(typ Type, storyID int64) {
		if typ == ReadsDayAll {
			dropped = append(dropped, storyID)
		}
	}))

	if err := engine.RunReadRankings(context.Background()); err != nil {
		t.Fatalf("run read rankings: %v", err)
	}
	rows := sink.rows(ReadsDayAll)
	if len(rows) != 1 || rows[0].StoryID != 2 || rows[0].Rank != 1 {
		t.Fatalf("expected survivor ranked first, got %+v", rows)
	}
	if len(dropped) != 1 || dropped[0] != 1 {
		t.Fatalf("expected drop callback for story 1, got %v", dropped)
	}
}

func TestRunReadRankingsFailedAxisDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	source := newStubSource()
	source.reads = []StoryScore{{StoryID: 1, Score: 5}}
	source.summaries[1] = StorySummary{StoryID: 1}
	source.categoryErr = errors.New("category scan failed")
	sink := newStubSink()
	engine := mustNewEngine(t, source, sink)

	err := engine.RunReadRankings(context.Background())
	if err == nil {
		t.Fatalf("expected axis failure to surface")
	}
	for _, typ := range []Type{ReadsDayAll, ReadsWeekAll, ReadsMonthAll} {
		if sink.replaceCount(typ) != 1 {
			t.Fatalf("expected global axis %s replaced despite category failure", typ)
		}
	}
	if sink.replaceCount(ReadsDayCategory) != 0 {
		t.Fatalf("expected failed axis to keep its previous snapshot")
	}
}

func TestRunTicketRankings(t *testing.T) {
	t.Parallel()
	source := newStubSource()
	source.tickets = []StoryScore{
		{StoryID: 4, Score: 15},
		{StoryID: 6, Score: 40},
	}
	source.summaries[4] = StorySummary{StoryID: 4}
	source.summaries[6] = StorySummary{StoryID: 6}
	sink := newStubSink()
	engine := mustNewEngine(t, source, sink)

	if err := engine.RunTicketRankings(context.Background()); err != nil {
		t.Fatalf("run ticket rankings: %v", err)
	}
	rows := sink.rows(TicketsMonthAll)
	if len(rows) != 2 || rows[0].StoryID != 6 || rows[0].Score != 40 {
		t.Fatalf("unexpected ticket rows: %+v", rows)
	}
}

func TestRunGlobalRankingsFiltersThinlyRatedStories(t *testing.T) {
	t.Parallel()
	source := newStubSource()
	source.aggregates = []StoryAggregate{
		{StoryID: 1, RatingCount: 25, AverageRating: 4.37, Followers: 100, TotalReads: 900},
		{StoryID: 2, RatingCount: 10, AverageRating: 5.0, Followers: 300, TotalReads: 100},
	}
	source.summaries[1] = StorySummary{StoryID: 1}
	source.summaries[2] = StorySummary{StoryID: 2}
	sink := newStubSink()
	engine := mustNewEngine(t, source, sink)

	if err := engine.RunGlobalRankings(context.Background()); err != nil {
		t.Fatalf("run global rankings: %v", err)
	}

	rating := sink.rows(RatingAll)
	if len(rating) != 1 || rating[0].StoryID != 1 {
		t.Fatalf("expected only the well-rated story, got %+v", rating)
	}
	if rating[0].Score != 437 {
		t.Fatalf("expected scaled rating score 437, got %d", rating[0].Score)
	}
	followers := sink.rows(FollowersAll)
	if len(followers) != 2 || followers[0].StoryID != 2 {
		t.Fatalf("unexpected follower rows: %+v", followers)
	}
	reads := sink.rows(ReadsAllTimeAll)
	if len(reads) != 2 || reads[0].StoryID != 1 {
		t.Fatalf("unexpected all-time read rows: %+v", reads)
	}
}

func TestRunGlobalRankingsRoundsScaledRatings(t *testing.T) {
	t.Parallel()
	source := newStubSource()
	source.aggregates = []StoryAggregate{
		{StoryID: 1, RatingCount: 30, AverageRating: 4.56},
	}
	source.summaries[1] = StorySummary{StoryID: 1}
	sink := newStubSink()
	engine := mustNewEngine(t, source, sink)

	if err := engine.RunGlobalRankings(context.Background()); err != nil {
		t.Fatalf("run global rankings: %v", err)
	}

	rating := sink.rows(RatingAll)
	if len(rating) != 1 || rating[0].Score != 456 {
		t.Fatalf("expected scaled rating score 456, got %+v", rating)
	}
}

func TestNewEngineRequiresDependencies(t *testing.T) {
	t.Parallel()
	source := newStubSource()
	sink := newStubSink()
	if _, err := NewEngine(nil, sink, func() time.Time { return time.Time{} }); !errors.Is(err, ErrInvalidEngine) {
		t.Fatalf("expected ErrInvalidEngine for nil source, got %v", err)
	}
	if _, err := NewEngine(source, nil, func() time.Time { return time.Time{} }); !errors.Is(err, ErrInvalidEngine) {
		t.Fatalf("expected ErrInvalidEngine for nil sink, got %v", err)
	}
	if _, err := NewEngine(source, sink, nil); !errors.Is(err, ErrInvalidEngine) {
		t.Fatalf("expected ErrInvalidEngine for nil clock, got %v", err)
	}
}

// --- helpers ---

func mustNewEngine(t *testing.T, source Source, sink Sink, options ...EngineOption) *Engine {
	t.Helper()
	now := func() time.Time { return time.Date(2026, time.June, 3, 12, 0, 0, 0, time.UTC) }
	engine, err := NewEngine(source, sink, now, options...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

type stubSource struct {
	reads         []StoryScore
	categoryReads []CategoryStoryScore
	tickets       []StoryScore
	aggregates    []StoryAggregate
	summaries     map[int64]StorySummary

	readsErr    error
	categoryErr error
}

func newStubSource() *stubSource {
	return &stubSource{summaries: make(map[int64]StorySummary)}
}

func (s *stubSource) CountReadsByStory(ctx context.Context, since time.Time) ([]StoryScore, error) {
	if s.readsErr != nil {
		return nil, s.readsErr
	}
	return append([]StoryScore(nil), s.reads...), nil
}

func (s *stubSource) CountReadsByStoryAndCategory(ctx context.Context, since time.Time) ([]CategoryStoryScore, error) {
	if s.categoryErr != nil {
		return nil, s.categoryErr
	}
	return append([]CategoryStoryScore(nil), s.categoryReads...), nil
}

func (s *stubSource) SumTicketSpendByStory(ctx context.Context, since time.Time) ([]StoryScore, error) {
	return append([]StoryScore(nil), s.tickets...), nil
}

func (s *stubSource) ListStoryAggregates(ctx context.Context) ([]StoryAggregate, error) {
	return append([]StoryAggregate(nil), s.aggregates...), nil
}

func (s *stubSource) StorySummaries(ctx context.Context, storyIDs []int64) (map[int64]StorySummary, error) {
	found := make(map[int64]StorySummary, len(storyIDs))
	for _, id := range storyIDs {
		if summary, ok := s.summaries[id]; ok {
			found[id] = summary
		}
	}
	return found, nil
}

type stubSink struct {
	snapshots map[Type][]Snapshot
	replaces  map[Type]int
}

func newStubSink() *stubSink {
	return &stubSink{
		snapshots: make(map[Type][]Snapshot),
		replaces:  make(map[Type]int),
	}
}

func (s *stubSink) Replace(ctx context.Context, typ Type, snapshots []Snapshot) error {
	s.snapshots[typ] = snapshots
	s.replaces[typ]++
	return nil
}

func (s *stubSink) rows(typ Type) []Row {
	var rows []Row
	for _, snapshot := range s.snapshots[typ] {
		rows = append(rows, snapshot.Rows...)
	}
	return rows
}

func (s *stubSink) replaceCount(typ Type) int {
	return s.replaces[typ]
}
