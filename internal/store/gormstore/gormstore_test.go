package gormstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/inkwell-press/inkwell/internal/store/gormstore"
	"github.com/inkwell-press/inkwell/pkg/economy"
	"github.com/inkwell-press/inkwell/pkg/ranking"
	"gorm.io/gorm"
)

func openTestStore(t *testing.T) (*gormstore.Store, *gorm.DB) {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(t.TempDir()+"/inkwell.db"), &gorm.Config{})
	if err != nil {
		t.Fatalf("sqlite open failed: %v", err)
	}
	if err := gormstore.AutoMigrate(database); err != nil {
		t.Fatalf("automigrate failed: %v", err)
	}
	return gormstore.New(database), database
}

func seedAccount(t *testing.T, db *gorm.DB, account gormstore.Account) {
	t.Helper()
	if account.Username == "" {
		account.Username = "user-" + time.Now().Format("150405.000000000")
	}
	if err := db.Create(&account).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func TestAdjustBalanceUpdatesSelectedWallet(t *testing.T) {
	store, db := openTestStore(t)
	seedAccount(t, db, gormstore.Account{ID: 1, Username: "reader", Currency: 100})
	ctx := context.Background()

	if err := store.AdjustBalance(ctx, 1, economy.KindCurrency, -40); err != nil {
		t.Fatalf("adjust currency: %v", err)
	}
	if err := store.AdjustBalance(ctx, 1, economy.KindTickets, 5); err != nil {
		t.Fatalf("adjust tickets: %v", err)
	}

	account, err := store.GetAccount(ctx, 1)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Currency != 60 || account.Tickets != 5 || account.Points != 0 {
		t.Fatalf("unexpected balances: %+v", account)
	}

	err = store.AdjustBalance(ctx, 99, economy.KindCurrency, 1)
	if !errors.Is(err, economy.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store, db := openTestStore(t)
	seedAccount(t, db, gormstore.Account{ID: 1, Username: "reader", Currency: 100})
	ctx := context.Background()

	sentinel := errors.New("abort")
	err := store.WithTx(ctx, func(ctx context.Context, tx economy.Store) error {
		if err := tx.AdjustBalance(ctx, 1, economy.KindCurrency, -40); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	account, err := store.GetAccount(ctx, 1)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Currency != 100 {
		t.Fatalf("expected rolled-back balance 100, got %d", account.Currency)
	}
}

func TestListEntriesNewestFirst(t *testing.T) {
	store, db := openTestStore(t)
	seedAccount(t, db, gormstore.Account{ID: 1, Username: "reader"})
	ctx := context.Background()

	base := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := store.InsertEntry(ctx, economy.Entry{
			AccountID: 1,
			Balance:   economy.KindCurrency,
			Kind:      economy.EntryEarning,
			Amount:    int64(i + 1),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("insert entry %d: %v", i, err)
		}
	}
	if err := store.InsertEntry(ctx, economy.Entry{
		AccountID: 1,
		Balance:   economy.KindTickets,
		Kind:      economy.EntryEarning,
		Amount:    5,
		CreatedAt: base,
	}); err != nil {
		t.Fatalf("insert ticket entry: %v", err)
	}

	entries, total, err := store.ListEntries(ctx, 1, economy.KindCurrency, 1, 2)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected total 3 currency entries, got %d", total)
	}
	if len(entries) != 2 || entries[0].Amount != 3 || entries[1].Amount != 2 {
		t.Fatalf("expected newest first page, got %+v", entries)
	}
	if entries[0].ID == "" {
		t.Fatalf("expected generated entry id")
	}
}

func TestInsertUnlockGrantDetectsDuplicate(t *testing.T) {
	store, db := openTestStore(t)
	seedAccount(t, db, gormstore.Account{ID: 1, Username: "reader"})
	ctx := context.Background()

	grant := economy.UnlockGrant{AccountID: 1, ChapterID: 100, UsedCurrency: 40, UnlockedAt: time.Now().UTC()}
	if err := store.InsertUnlockGrant(ctx, grant); err != nil {
		t.Fatalf("first grant: %v", err)
	}
	err := store.InsertUnlockGrant(ctx, grant)
	if !errors.Is(err, economy.ErrGrantExists) {
		t.Fatalf("expected ErrGrantExists, got %v", err)
	}

	owned, err := store.HasUnlockGrant(ctx, 1, 100)
	if err != nil || !owned {
		t.Fatalf("expected owned grant, got %v %v", owned, err)
	}
}

func TestListUnlockedChapterIDsScopedToStory(t *testing.T) {
	store, db := openTestStore(t)
	seedAccount(t, db, gormstore.Account{ID: 1, Username: "reader"})
	ctx := context.Background()
	chapters := []gormstore.Chapter{
		{ID: 100, StoryID: 10},
		{ID: 101, StoryID: 10},
		{ID: 200, StoryID: 20},
	}
	for _, chapter := range chapters {
		if err := db.Create(&chapter).Error; err != nil {
			t.Fatalf("seed chapter: %v", err)
		}
	}
	for _, chapterID := range []int64{100, 101, 200} {
		grant := economy.UnlockGrant{AccountID: 1, ChapterID: chapterID, UnlockedAt: time.Now().UTC()}
		if err := store.InsertUnlockGrant(ctx, grant); err != nil {
			t.Fatalf("grant %d: %v", chapterID, err)
		}
	}

	ids, err := store.ListUnlockedChapterIDs(ctx, 1, 10)
	if err != nil {
		t.Fatalf("list unlocked: %v", err)
	}
	if len(ids) != 2 || ids[0] != 100 || ids[1] != 101 {
		t.Fatalf("expected chapters of story 10 only, got %v", ids)
	}
}

func TestCountCheckInDaysIgnoresMilestoneRows(t *testing.T) {
	store, db := openTestStore(t)
	seedAccount(t, db, gormstore.Account{ID: 1, Username: "reader"})
	ctx := context.Background()

	day := func(d int) time.Time { return time.Date(2026, time.June, d, 0, 0, 0, 0, time.UTC) }
	records := []economy.CheckInRecord{
		{AccountID: 1, Day: day(1), Points: 5},
		{AccountID: 1, Day: day(2), Points: 10},
		{AccountID: 1, Day: day(7), Points: 50},
		{AccountID: 1, Day: day(7), Points: 100},
	}
	for _, record := range records {
		if err := store.InsertCheckIn(ctx, record); err != nil {
			t.Fatalf("insert check-in: %v", err)
		}
	}

	count, err := store.CountCheckInDays(ctx, 1, day(1), day(8))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 distinct days, got %d", count)
	}

	err = store.InsertCheckIn(ctx, economy.CheckInRecord{AccountID: 1, Day: day(7), Points: 50})
	if !errors.Is(err, economy.ErrCheckInExists) {
		t.Fatalf("expected ErrCheckInExists, got %v", err)
	}

	checkedIn, err := store.HasCheckInOn(ctx, 1, day(2))
	if err != nil || !checkedIn {
		t.Fatalf("expected check-in on day 2, got %v %v", checkedIn, err)
	}
}

func TestTouchReadEventReportsFirstRead(t *testing.T) {
	store, db := openTestStore(t)
	seedAccount(t, db, gormstore.Account{ID: 1, Username: "reader"})
	ctx := context.Background()
	at := time.Date(2026, time.June, 3, 12, 0, 0, 0, time.UTC)

	first, err := store.TouchReadEvent(ctx, 1, 100, at)
	if err != nil {
		t.Fatalf("first touch: %v", err)
	}
	if !first {
		t.Fatalf("expected first read reported")
	}
	again, err := store.TouchReadEvent(ctx, 1, 100, at.Add(time.Hour))
	if err != nil {
		t.Fatalf("second touch: %v", err)
	}
	if again {
		t.Fatalf("expected repeat read not reported as first")
	}
}

func TestExpireVIPChaptersClearsElapsedFlags(t *testing.T) {
	store, db := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.June, 3, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	chapters := []gormstore.Chapter{
		{ID: 1, StoryID: 10, VIP: true, VIPUnlockAt: &past},
		{ID: 2, StoryID: 10, VIP: true, VIPUnlockAt: &future},
		{ID: 3, StoryID: 10, VIP: true},
	}
	for _, chapter := range chapters {
		if err := db.Create(&chapter).Error; err != nil {
			t.Fatalf("seed chapter: %v", err)
		}
	}

	expired, err := store.ExpireVIPChapters(ctx, now)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired chapter, got %d", expired)
	}
	chapter, err := store.GetChapter(ctx, 1)
	if err != nil {
		t.Fatalf("get chapter: %v", err)
	}
	if chapter.VIP {
		t.Fatalf("expected VIP flag cleared")
	}
	for _, id := range []int64{2, 3} {
		chapter, err := store.GetChapter(ctx, id)
		if err != nil {
			t.Fatalf("get chapter %d: %v", id, err)
		}
		if !chapter.VIP {
			t.Fatalf("expected chapter %d still gated", id)
		}
	}
}

func TestRankingReplaceSwapsWholeRowSet(t *testing.T) {
	_, db := openTestStore(t)
	rankings := gormstore.NewRankingStore(db)
	ctx := context.Background()
	generated := time.Date(2026, time.June, 3, 12, 0, 0, 0, time.UTC)

	firstRun := []ranking.Snapshot{{Rows: []ranking.Row{
		{Type: ranking.ReadsDayAll, Rank: 1, StoryID: 1, Score: 30, GeneratedAt: generated},
		{Type: ranking.ReadsDayAll, Rank: 2, StoryID: 2, Score: 12, GeneratedAt: generated},
	}}}
	if err := rankings.Replace(ctx, ranking.ReadsDayAll, firstRun); err != nil {
		t.Fatalf("first replace: %v", err)
	}

	secondRun := []ranking.Snapshot{{Rows: []ranking.Row{
		{Type: ranking.ReadsDayAll, Rank: 1, StoryID: 2, Score: 45, GeneratedAt: generated.Add(time.Hour)},
	}}}
	if err := rankings.Replace(ctx, ranking.ReadsDayAll, secondRun); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	rows, err := rankings.ListRows(ctx, ranking.ReadsDayAll, nil, 1, 100)
	if err != nil {
		t.Fatalf("list rows: %v", err)
	}
	if len(rows) != 1 || rows[0].StoryID != 2 || rows[0].Score != 45 {
		t.Fatalf("expected replaced snapshot only, got %+v", rows)
	}
}

func TestRankingListRowsFiltersCategoryAndRankRange(t *testing.T) {
	_, db := openTestStore(t)
	rankings := gormstore.NewRankingStore(db)
	ctx := context.Background()
	generated := time.Date(2026, time.June, 3, 12, 0, 0, 0, time.UTC)
	categoryA := int64(7)
	categoryB := int64(8)

	snapshots := []ranking.Snapshot{
		{CategoryID: &categoryA, Rows: []ranking.Row{
			{Type: ranking.ReadsDayCategory, CategoryID: &categoryA, Rank: 1, StoryID: 1, Score: 9, GeneratedAt: generated},
			{Type: ranking.ReadsDayCategory, CategoryID: &categoryA, Rank: 2, StoryID: 2, Score: 4, GeneratedAt: generated},
			{Type: ranking.ReadsDayCategory, CategoryID: &categoryA, Rank: 3, StoryID: 3, Score: 1, GeneratedAt: generated},
		}},
		{CategoryID: &categoryB, Rows: []ranking.Row{
			{Type: ranking.ReadsDayCategory, CategoryID: &categoryB, Rank: 1, StoryID: 4, Score: 2, GeneratedAt: generated},
		}},
	}
	if err := rankings.Replace(ctx, ranking.ReadsDayCategory, snapshots); err != nil {
		t.Fatalf("replace: %v", err)
	}

	rows, err := rankings.ListRows(ctx, ranking.ReadsDayCategory, &categoryA, 2, 3)
	if err != nil {
		t.Fatalf("list rows: %v", err)
	}
	if len(rows) != 2 || rows[0].Rank != 2 || rows[1].Rank != 3 {
		t.Fatalf("expected ranks 2-3 of category 7, got %+v", rows)
	}
	for _, row := range rows {
		if row.CategoryID == nil || *row.CategoryID != categoryA {
			t.Fatalf("expected category 7 rows only, got %+v", row)
		}
	}
}

func TestRankingWindowHonorsReportingZoneBoundary(t *testing.T) {
	store, db := openTestStore(t)
	rankings := gormstore.NewRankingStore(db)
	ctx := context.Background()

	zone := time.FixedZone("UTC+7", 7*60*60)
	since := time.Date(2026, time.June, 3, 0, 0, 0, 0, zone)

	if err := db.Create(&gormstore.Story{ID: 10, OwnerID: 1, CategoryID: 7, Title: "Ember Crown"}).Error; err != nil {
		t.Fatalf("seed story: %v", err)
	}
	if err := db.Create(&gormstore.Chapter{ID: 100, StoryID: 10}).Error; err != nil {
		t.Fatalf("seed chapter: %v", err)
	}
	seedAccount(t, db, gormstore.Account{ID: 1, Username: "dawn"})
	seedAccount(t, db, gormstore.Account{ID: 2, Username: "dusk"})

	// 01:00 in the reporting zone is 18:00 UTC the previous day.
	inside := since.Add(time.Hour).UTC()
	before := since.Add(-time.Hour).UTC()
	if _, err := store.TouchReadEvent(ctx, 1, 100, inside); err != nil {
		t.Fatalf("touch read: %v", err)
	}
	if _, err := store.TouchReadEvent(ctx, 2, 100, before); err != nil {
		t.Fatalf("touch read: %v", err)
	}

	reads, err := rankings.CountReadsByStory(ctx, since)
	if err != nil {
		t.Fatalf("count reads: %v", err)
	}
	if len(reads) != 1 || reads[0].StoryID != 10 || reads[0].Score != 1 {
		t.Fatalf("expected one read inside window, got %+v", reads)
	}

	categoryReads, err := rankings.CountReadsByStoryAndCategory(ctx, since)
	if err != nil {
		t.Fatalf("count category reads: %v", err)
	}
	if len(categoryReads) != 1 || categoryReads[0].Score != 1 {
		t.Fatalf("expected one category read inside window, got %+v", categoryReads)
	}

	storyID := int64(10)
	ticketEntries := []economy.Entry{
		{AccountID: 1, Balance: economy.KindTickets, Kind: economy.EntrySpending, Amount: -3, StoryID: &storyID, CreatedAt: inside},
		{AccountID: 2, Balance: economy.KindTickets, Kind: economy.EntrySpending, Amount: -2, StoryID: &storyID, CreatedAt: before},
	}
	for _, entry := range ticketEntries {
		if err := store.InsertEntry(ctx, entry); err != nil {
			t.Fatalf("insert ticket entry: %v", err)
		}
	}
	tickets, err := rankings.SumTicketSpendByStory(ctx, since)
	if err != nil {
		t.Fatalf("sum tickets: %v", err)
	}
	if len(tickets) != 1 || tickets[0].Score != 3 {
		t.Fatalf("expected only the in-window spend summed, got %+v", tickets)
	}
}

func TestRankingSourceAggregations(t *testing.T) {
	store, db := openTestStore(t)
	rankings := gormstore.NewRankingStore(db)
	ctx := context.Background()
	since := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)

	stories := []gormstore.Story{
		{ID: 10, OwnerID: 1, CategoryID: 7, Title: "Ember Crown", TotalRatings: 20, AverageRating: 4.5, TotalFollows: 40, TotalReads: 300},
		{ID: 20, OwnerID: 1, CategoryID: 8, Title: "Quiet Harbor"},
		{ID: 30, OwnerID: 1, CategoryID: 7, Title: "Gone", Deleted: true},
	}
	for _, story := range stories {
		if err := db.Create(&story).Error; err != nil {
			t.Fatalf("seed story: %v", err)
		}
	}
	chapters := []gormstore.Chapter{
		{ID: 100, StoryID: 10},
		{ID: 101, StoryID: 10},
		{ID: 200, StoryID: 20},
	}
	for _, chapter := range chapters {
		if err := db.Create(&chapter).Error; err != nil {
			t.Fatalf("seed chapter: %v", err)
		}
	}
	seedAccount(t, db, gormstore.Account{ID: 1, Username: "alpha"})
	seedAccount(t, db, gormstore.Account{ID: 2, Username: "beta"})

	touches := []struct {
		accountID int64
		chapterID int64
		at        time.Time
	}{
		{1, 100, since.Add(time.Hour)},
		{2, 100, since.Add(2 * time.Hour)},
		{1, 101, since.Add(3 * time.Hour)},
		{1, 200, since.Add(4 * time.Hour)},
		{2, 200, since.Add(-48 * time.Hour)},
	}
	for _, touch := range touches {
		if _, err := store.TouchReadEvent(ctx, touch.accountID, touch.chapterID, touch.at); err != nil {
			t.Fatalf("touch read: %v", err)
		}
	}

	reads, err := rankings.CountReadsByStory(ctx, since)
	if err != nil {
		t.Fatalf("count reads: %v", err)
	}
	readsByStory := make(map[int64]int64, len(reads))
	for _, score := range reads {
		readsByStory[score.StoryID] = score.Score
	}
	if readsByStory[10] != 3 || readsByStory[20] != 1 {
		t.Fatalf("unexpected read counts: %v", readsByStory)
	}

	categoryReads, err := rankings.CountReadsByStoryAndCategory(ctx, since)
	if err != nil {
		t.Fatalf("count category reads: %v", err)
	}
	foundStory10 := false
	for _, score := range categoryReads {
		if score.StoryID == 10 {
			foundStory10 = true
			if score.CategoryID != 7 || score.Score != 3 {
				t.Fatalf("unexpected category score: %+v", score)
			}
		}
	}
	if !foundStory10 {
		t.Fatalf("expected story 10 in category counts: %+v", categoryReads)
	}

	storyID := int64(10)
	ticketEntries := []economy.Entry{
		{AccountID: 1, Balance: economy.KindTickets, Kind: economy.EntrySpending, Amount: -3, StoryID: &storyID, CreatedAt: since.Add(time.Hour)},
		{AccountID: 2, Balance: economy.KindTickets, Kind: economy.EntrySpending, Amount: -2, StoryID: &storyID, CreatedAt: since.Add(2 * time.Hour)},
		{AccountID: 1, Balance: economy.KindTickets, Kind: economy.EntryEarning, Amount: 5, CreatedAt: since.Add(time.Hour)},
	}
	for _, entry := range ticketEntries {
		if err := store.InsertEntry(ctx, entry); err != nil {
			t.Fatalf("insert ticket entry: %v", err)
		}
	}
	tickets, err := rankings.SumTicketSpendByStory(ctx, since)
	if err != nil {
		t.Fatalf("sum tickets: %v", err)
	}
	if len(tickets) != 1 || tickets[0].StoryID != 10 || tickets[0].Score != 5 {
		t.Fatalf("unexpected ticket sums: %+v", tickets)
	}

	aggregates, err := rankings.ListStoryAggregates(ctx)
	if err != nil {
		t.Fatalf("list aggregates: %v", err)
	}
	if len(aggregates) != 2 {
		t.Fatalf("expected deleted story excluded, got %d aggregates", len(aggregates))
	}

	summaries, err := rankings.StorySummaries(ctx, []int64{10, 30, 999})
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(summaries) != 1 || summaries[10].Title != "Ember Crown" {
		t.Fatalf("expected only live stories resolved, got %+v", summaries)
	}
}
