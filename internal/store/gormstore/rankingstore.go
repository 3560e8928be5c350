package gormstore

import (
	"context"
	"time"

	"github.com/inkwell-press/inkwell/pkg/economy"
	"github.com/inkwell-press/inkwell/pkg/ranking"
	"gorm.io/gorm"
)

const (
	errorSubjectRanking = "ranking"
	errorCodeReplace    = "replace"
)

// RankingStore implements ranking.Source, ranking.Sink, and ranking.Reader
// on the same database the economy store writes to.
type RankingStore struct {
	db *gorm.DB
}

// NewRankingStore returns a RankingStore backed by gorm.DB.
func NewRankingStore(db *gorm.DB) *RankingStore {
	return &RankingStore{db: db}
}

// Window starts arrive in the reporting zone. Timestamps are stored in UTC,
// and sqlite binds time.Time parameters as zone-suffixed text compared
// byte-wise, so every boundary is normalized to UTC before binding.
func (store *RankingStore) CountReadsByStory(ctx context.Context, since time.Time) ([]ranking.StoryScore, error) {
	var scores []ranking.StoryScore
	err := store.db.WithContext(ctx).
		Model(&ReadEvent{}).
		Select("chapters.story_id AS story_id, COUNT(*) AS score").
		Joins("JOIN chapters ON chapters.id = read_events.chapter_id").
		Where("read_events.read_at >= ?", since.UTC()).
		Group("chapters.story_id").
		Scan(&scores).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectRanking, errorCodeList, err)
	}
	return scores, nil
}

func (store *RankingStore) CountReadsByStoryAndCategory(ctx context.Context, since time.Time) ([]ranking.CategoryStoryScore, error) {
	var scores []ranking.CategoryStoryScore
	err := store.db.WithContext(ctx).
		Model(&ReadEvent{}).
		Select("chapters.story_id AS story_id, stories.category_id AS category_id, COUNT(*) AS score").
		Joins("JOIN chapters ON chapters.id = read_events.chapter_id").
		Joins("JOIN stories ON stories.id = chapters.story_id").
		Where("read_events.read_at >= ? AND stories.category_id <> 0", since.UTC()).
		Group("chapters.story_id, stories.category_id").
		Scan(&scores).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectRanking, errorCodeList, err)
	}
	return scores, nil
}

func (store *RankingStore) SumTicketSpendByStory(ctx context.Context, since time.Time) ([]ranking.StoryScore, error) {
	var scores []ranking.StoryScore
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select("story_id AS story_id, SUM(-amount) AS score").
		Where("balance = ? AND kind = ? AND story_id IS NOT NULL AND created_at >= ?",
			economy.KindTickets.String(), economy.EntrySpending.String(), since.UTC()).
		Group("story_id").
		Scan(&scores).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectRanking, errorCodeList, err)
	}
	return scores, nil
}

func (store *RankingStore) ListStoryAggregates(ctx context.Context) ([]ranking.StoryAggregate, error) {
	var rows []Story
	err := store.db.WithContext(ctx).
		Where("deleted = ?", false).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectRanking, errorCodeList, err)
	}
	aggregates := make([]ranking.StoryAggregate, 0, len(rows))
	for _, row := range rows {
		aggregates = append(aggregates, ranking.StoryAggregate{
			StoryID:       row.ID,
			RatingCount:   row.TotalRatings,
			AverageRating: row.AverageRating,
			Followers:     row.TotalFollows,
			TotalReads:    row.TotalReads,
		})
	}
	return aggregates, nil
}

func (store *RankingStore) StorySummaries(ctx context.Context, storyIDs []int64) (map[int64]ranking.StorySummary, error) {
	summaries := make(map[int64]ranking.StorySummary, len(storyIDs))
	if len(storyIDs) == 0 {
		return summaries, nil
	}
	var rows []Story
	err := store.db.WithContext(ctx).
		Where("id IN ? AND deleted = ?", storyIDs, false).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectRanking, errorCodeList, err)
	}
	for _, row := range rows {
		summaries[row.ID] = ranking.StorySummary{
			StoryID:    row.ID,
			Title:      row.Title,
			Author:     row.Author,
			CoverImage: row.CoverImage,
		}
	}
	return summaries, nil
}

// Replace swaps every stored row of typ for the given snapshots in one
// transaction, so readers never see a half-generated board.
func (store *RankingStore) Replace(ctx context.Context, typ ranking.Type, snapshots []ranking.Snapshot) error {
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := transaction.Where("type = ?", typ.String()).Delete(&RankingRow{}).Error; err != nil {
			return err
		}
		var models []RankingRow
		for _, snapshot := range snapshots {
			for _, row := range snapshot.Rows {
				models = append(models, RankingRow{
					Type:        row.Type.String(),
					CategoryID:  row.CategoryID,
					Rank:        row.Rank,
					StoryID:     row.StoryID,
					StoryTitle:  row.StoryTitle,
					Author:      row.Author,
					CoverImage:  row.CoverImage,
					Score:       row.Score,
					GeneratedAt: row.GeneratedAt,
				})
			}
		}
		if len(models) == 0 {
			return nil
		}
		return transaction.Create(&models).Error
	})
	if err != nil {
		return wrapStoreError(errorSubjectRanking, errorCodeReplace, err)
	}
	return nil
}

func (store *RankingStore) ListRows(ctx context.Context, typ ranking.Type, categoryID *int64, rankFrom, rankTo int) ([]ranking.Row, error) {
	query := store.db.WithContext(ctx).
		Model(&RankingRow{}).
		Where("type = ? AND rank BETWEEN ? AND ?", typ.String(), rankFrom, rankTo)
	if categoryID != nil {
		query = query.Where("category_id = ?", *categoryID)
	} else {
		query = query.Where("category_id IS NULL")
	}
	var models []RankingRow
	if err := query.Order("rank").Find(&models).Error; err != nil {
		return nil, wrapStoreError(errorSubjectRanking, errorCodeList, err)
	}
	rows := make([]ranking.Row, 0, len(models))
	for _, model := range models {
		rows = append(rows, ranking.Row{
			Type:        ranking.Type(model.Type),
			CategoryID:  model.CategoryID,
			Rank:        model.Rank,
			StoryID:     model.StoryID,
			StoryTitle:  model.StoryTitle,
			Author:      model.Author,
			CoverImage:  model.CoverImage,
			Score:       model.Score,
			GeneratedAt: model.GeneratedAt,
		})
	}
	return rows, nil
}
