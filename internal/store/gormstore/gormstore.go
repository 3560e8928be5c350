package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/inkwell-press/inkwell/pkg/economy"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON   = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectAccount   = "account"
	errorSubjectEntry     = "entry"
	errorSubjectChapter   = "chapter"
	errorSubjectStory     = "story"
	errorSubjectGrant     = "grant"
	errorSubjectCheckIn   = "check_in"
	errorSubjectRead      = "read_event"
	errorCodeGet          = "get"
	errorCodeList         = "list"
	errorCodeInsert       = "insert"
	errorCodeUpdate       = "update"
	errorCodeDuplicate    = "duplicate"
	errorCodeInvalid      = "invalid"
)

// Store implements economy.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for the ranking store and migrations.
func (store *Store) DB() *gorm.DB {
	return store.db
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore economy.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetAccount(ctx context.Context, accountID int64) (economy.Account, error) {
	return store.getAccount(ctx, accountID, false)
}

// GetAccountForUpdate loads the account row under a row-level write lock
// that is held until the surrounding transaction commits. This is the
// serialization point for all balance mutations on one account.
func (store *Store) GetAccountForUpdate(ctx context.Context, accountID int64) (economy.Account, error) {
	return store.getAccount(ctx, accountID, true)
}

func (store *Store) getAccount(ctx context.Context, accountID int64, forUpdate bool) (economy.Account, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model Account
	err := query.Where("id = ?", accountID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return economy.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, economy.ErrAccountNotFound)
		}
		return economy.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return economy.Account{
		ID:       model.ID,
		Currency: model.Currency,
		Points:   model.Points,
		Tickets:  model.Tickets,
		Banned:   model.Banned,
		Deleted:  model.Deleted,
	}, nil
}

func (store *Store) ListActiveAccountIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("deleted = ? AND banned = ?", false, false).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	return ids, nil
}

func (store *Store) AdjustBalance(ctx context.Context, accountID int64, kind economy.BalanceKind, delta int64) error {
	column, err := balanceColumn(kind)
	if err != nil {
		return err
	}
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("id = ?", accountID).
		UpdateColumn(column, gorm.Expr(column+" + ?", delta))
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, economy.ErrAccountNotFound)
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entry economy.Entry) error {
	model := LedgerEntry{
		EntryID:   entry.ID,
		AccountID: entry.AccountID,
		Balance:   entry.Balance.String(),
		Kind:      entry.Kind.String(),
		Amount:    entry.Amount,
		ChapterID: entry.ChapterID,
		StoryID:   entry.StoryID,
		Metadata:  datatypesJSON(entry.Metadata),
		CreatedAt: entry.CreatedAt.UTC(),
	}
	if entry.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListEntries(ctx context.Context, accountID int64, kind economy.BalanceKind, page, pageSize int) ([]economy.Entry, int64, error) {
	query := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Where("account_id = ? AND balance = ?", accountID, kind.String())
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	var rows []LedgerEntry
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]economy.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, economy.Entry{
			ID:        row.EntryID,
			AccountID: row.AccountID,
			Balance:   economy.BalanceKind(row.Balance),
			Kind:      economy.EntryKind(row.Kind),
			Amount:    row.Amount,
			ChapterID: row.ChapterID,
			StoryID:   row.StoryID,
			Metadata:  string(row.Metadata),
			CreatedAt: row.CreatedAt,
		})
	}
	return entries, total, nil
}

func (store *Store) GetChapter(ctx context.Context, chapterID int64) (economy.Chapter, error) {
	var model Chapter
	err := store.db.WithContext(ctx).Where("id = ?", chapterID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return economy.Chapter{}, wrapStoreError(errorSubjectChapter, errorCodeGet, economy.ErrChapterNotFound)
		}
		return economy.Chapter{}, wrapStoreError(errorSubjectChapter, errorCodeGet, err)
	}
	return economy.Chapter{
		ID:            model.ID,
		StoryID:       model.StoryID,
		VIP:           model.VIP,
		VIPUnlockAt:   model.VIPUnlockAt,
		PriceCurrency: model.PriceCurrency,
		PricePoints:   model.PricePoints,
		Deleted:       model.Deleted,
	}, nil
}

func (store *Store) GetStory(ctx context.Context, storyID int64) (economy.Story, error) {
	var model Story
	err := store.db.WithContext(ctx).Where("id = ?", storyID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return economy.Story{}, wrapStoreError(errorSubjectStory, errorCodeGet, economy.ErrStoryNotFound)
		}
		return economy.Story{}, wrapStoreError(errorSubjectStory, errorCodeGet, err)
	}
	return economy.Story{
		ID:            model.ID,
		OwnerID:       model.OwnerID,
		CategoryID:    model.CategoryID,
		Title:         model.Title,
		Author:        model.Author,
		CoverImage:    model.CoverImage,
		TotalReads:    model.TotalReads,
		TotalRatings:  model.TotalRatings,
		AverageRating: model.AverageRating,
		TotalFollows:  model.TotalFollows,
		TotalTickets:  model.TotalTickets,
		Deleted:       model.Deleted,
	}, nil
}

func (store *Store) AddStoryTickets(ctx context.Context, storyID int64, amount int64) error {
	return store.addStoryCounter(ctx, storyID, "total_tickets", amount)
}

func (store *Store) AddStoryReads(ctx context.Context, storyID int64, delta int64) error {
	return store.addStoryCounter(ctx, storyID, "total_reads", delta)
}

func (store *Store) addStoryCounter(ctx context.Context, storyID int64, column string, delta int64) error {
	result := store.db.WithContext(ctx).
		Model(&Story{}).
		Where("id = ?", storyID).
		UpdateColumn(column, gorm.Expr(column+" + ?", delta))
	if result.Error != nil {
		return wrapStoreError(errorSubjectStory, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectStory, errorCodeUpdate, economy.ErrStoryNotFound)
	}
	return nil
}

func (store *Store) ExpireVIPChapters(ctx context.Context, now time.Time) (int64, error) {
	result := store.db.WithContext(ctx).
		Model(&Chapter{}).
		Where("vip = ? AND vip_unlock_at IS NOT NULL AND vip_unlock_at <= ?", true, now).
		UpdateColumn("vip", false)
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectChapter, errorCodeUpdate, result.Error)
	}
	return result.RowsAffected, nil
}

func (store *Store) HasUnlockGrant(ctx context.Context, accountID, chapterID int64) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&UnlockGrant{}).
		Where("account_id = ? AND chapter_id = ?", accountID, chapterID).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectGrant, errorCodeGet, err)
	}
	return count > 0, nil
}

func (store *Store) InsertUnlockGrant(ctx context.Context, grant economy.UnlockGrant) error {
	model := UnlockGrant{
		AccountID:    grant.AccountID,
		ChapterID:    grant.ChapterID,
		UsedCurrency: grant.UsedCurrency,
		UsedPoints:   grant.UsedPoints,
		UnlockedAt:   grant.UnlockedAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectGrant, errorCodeDuplicate, economy.ErrGrantExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectGrant, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListUnlockedChapterIDs(ctx context.Context, accountID, storyID int64) ([]int64, error) {
	var ids []int64
	err := store.db.WithContext(ctx).
		Model(&UnlockGrant{}).
		Joins("JOIN chapters ON chapters.id = unlock_grants.chapter_id").
		Where("unlock_grants.account_id = ? AND chapters.story_id = ?", accountID, storyID).
		Order("unlock_grants.chapter_id").
		Pluck("unlock_grants.chapter_id", &ids).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectGrant, errorCodeList, err)
	}
	return ids, nil
}

func (store *Store) HasCheckInOn(ctx context.Context, accountID int64, day time.Time) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&CheckIn{}).
		Where("account_id = ? AND day = ?", accountID, dateKey(day)).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectCheckIn, errorCodeGet, err)
	}
	return count > 0, nil
}

// CountCheckInDays counts distinct check-in dates in [from, until); milestone
// rows share a date with the daily row and must not double-count.
func (store *Store) CountCheckInDays(ctx context.Context, accountID int64, from, until time.Time) (int, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&CheckIn{}).
		Where("account_id = ? AND day >= ? AND day < ?", accountID, dateKey(from), dateKey(until)).
		Distinct("day").
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectCheckIn, errorCodeList, err)
	}
	return int(count), nil
}

func (store *Store) ListCheckIns(ctx context.Context, accountID int64, from, until time.Time) ([]economy.CheckInRecord, error) {
	var rows []CheckIn
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND day >= ? AND day < ?", accountID, dateKey(from), dateKey(until)).
		Order("day").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectCheckIn, errorCodeList, err)
	}
	records := make([]economy.CheckInRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, economy.CheckInRecord{
			AccountID: row.AccountID,
			Day:       row.Day,
			Points:    row.Points,
		})
	}
	return records, nil
}

func (store *Store) InsertCheckIn(ctx context.Context, record economy.CheckInRecord) error {
	model := CheckIn{
		AccountID: record.AccountID,
		Day:       dateKey(record.Day),
		Points:    record.Points,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectCheckIn, errorCodeDuplicate, economy.ErrCheckInExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectCheckIn, errorCodeInsert, err)
	}
	return nil
}

// TouchReadEvent records a read, returning true for the first read of the
// chapter by this account. Later reads only refresh the timestamp.
func (store *Store) TouchReadEvent(ctx context.Context, accountID, chapterID int64, at time.Time) (bool, error) {
	result := store.db.WithContext(ctx).
		Model(&ReadEvent{}).
		Where("account_id = ? AND chapter_id = ?", accountID, chapterID).
		UpdateColumn("read_at", at.UTC())
	if result.Error != nil {
		return false, wrapStoreError(errorSubjectRead, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected > 0 {
		return false, nil
	}
	model := ReadEvent{AccountID: accountID, ChapterID: chapterID, ReadAt: at.UTC()}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, wrapStoreError(errorSubjectRead, errorCodeInsert, err)
	}
	return true, nil
}

func balanceColumn(kind economy.BalanceKind) (string, error) {
	switch kind {
	case economy.KindCurrency:
		return "currency", nil
	case economy.KindPoints:
		return "points", nil
	case economy.KindTickets:
		return "tickets", nil
	}
	return "", wrapStoreError(errorSubjectAccount, errorCodeInvalid, economy.ErrInvalidBalanceKind)
}

// dateKey normalizes a calendar date to UTC midnight so date equality and
// range comparisons hold regardless of the zone the service computed in.
func dateKey(day time.Time) time.Time {
	year, month, dayOfMonth := day.Date()
	return time.Date(year, month, dayOfMonth, 0, 0, 0, 0, time.UTC)
}

func wrapStoreError(subject string, code string, err error) error {
	return economy.WrapError(errorOperationStore, subject, code, err)
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
