package economy

import (
	"context"
)

// ExpireVIPChapters clears the VIP flag on every chapter whose unlock-at
// time has elapsed. Safe to re-run; already-expired chapters are untouched.
func (service *Service) ExpireVIPChapters(ctx context.Context) (int64, error) {
	expired, err := service.store.ExpireVIPChapters(ctx, service.nowFn().UTC())
	service.logOperation(ctx, OperationLog{
		Operation: operationExpireVIP,
		Amount:    expired,
		Error:     err,
	})
	return expired, err
}

// GrantWeeklyTickets credits the weekly promotional tickets to every active
// account, one ledger entry per account, in a single transaction. The grant
// applies unconditionally on each invocation; the scheduler owns the
// once-per-week cadence.
func (service *Service) GrantWeeklyTickets(ctx context.Context) (int, error) {
	accountIDs, err := service.store.ListActiveAccountIDs(ctx)
	if err != nil {
		return 0, err
	}
	if len(accountIDs) == 0 {
		return 0, nil
	}
	now := service.nowFn().UTC()
	operationError := service.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		for _, accountID := range accountIDs {
			if err := tx.AdjustBalance(ctx, accountID, KindTickets, weeklyTicketAmount); err != nil {
				return err
			}
			if err := tx.InsertEntry(ctx, Entry{
				AccountID: accountID,
				Balance:   KindTickets,
				Kind:      EntryEarning,
				Amount:    weeklyTicketAmount,
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	operationError = asTransactionFailure(operationError)
	service.logOperation(ctx, OperationLog{
		Operation: operationWeeklyGrant,
		Balance:   KindTickets,
		Amount:    int64(len(accountIDs)) * weeklyTicketAmount,
		Error:     operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return len(accountIDs), nil
}

// RecordRead marks a chapter as read by the account. The first read of a
// chapter bumps the story's all-time read counter; later reads only refresh
// the event timestamp.
func (service *Service) RecordRead(ctx context.Context, accountID, chapterID int64) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		account, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if account.Deleted {
			return ErrAccountNotFound
		}
		chapter, err := tx.GetChapter(ctx, chapterID)
		if err != nil {
			return err
		}
		if chapter.Deleted {
			return ErrChapterNotFound
		}
		firstRead, err := tx.TouchReadEvent(ctx, accountID, chapterID, service.nowFn().UTC())
		if err != nil {
			return err
		}
		if !firstRead {
			return nil
		}
		return tx.AddStoryReads(ctx, chapter.StoryID, 1)
	})
	operationError = asTransactionFailure(operationError)
	service.logOperation(ctx, OperationLog{
		Operation: operationRecordRead,
		AccountID: accountID,
		ChapterID: chapterID,
		Error:     operationError,
	})
	return operationError
}
