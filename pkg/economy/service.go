package economy

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultReportingZone is the platform reporting time zone (UTC+7). All
// calendar math for check-ins is done in this zone unless overridden.
var DefaultReportingZone = time.FixedZone("UTC+7", 7*60*60)

// Service contains the economy domain logic over a Store.
type Service struct {
	store  Store
	nowFn  func() time.Time
	zone   *time.Location
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, zone: DefaultReportingZone}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// UnlockChapter runs the paid-chapter purchase workflow: validate, debit the
// buyer, credit the owner's commission, and persist the grant, all within one
// transaction scope. Re-unlocking an owned chapter is a no-op reported as
// AlreadyOwned.
func (service *Service) UnlockChapter(ctx context.Context, accountID, chapterID int64, method UnlockMethod) (UnlockResult, error) {
	if _, err := ParseUnlockMethod(string(method)); err != nil {
		return UnlockResult{}, err
	}
	var result UnlockResult
	var cost int64
	operationError := service.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		account, err := tx.GetAccountForUpdate(ctx, accountID)
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
		now := service.nowFn().UTC()
		if !chapter.Gated(now) {
			return ErrNotPurchasable
		}
		owned, err := tx.HasUnlockGrant(ctx, accountID, chapterID)
		if err != nil {
			return err
		}
		if owned {
			result = UnlockResult{Granted: true, AlreadyOwned: true}
			return nil
		}
		cost = chapter.Price(method)
		if cost <= 0 {
			return ErrNotPurchasableBy
		}
		kind := method.BalanceKind()
		if account.Balance(kind) < cost {
			return ErrInsufficientFunds
		}

		// Debiting.
		if err := tx.AdjustBalance(ctx, accountID, kind, -cost); err != nil {
			return err
		}
		spend := Entry{
			AccountID: accountID,
			Balance:   kind,
			Kind:      EntrySpending,
			Amount:    -cost,
			CreatedAt: now,
		}
		if kind == KindCurrency {
			spend.ChapterID = &chapterID
		}
		if err := tx.InsertEntry(ctx, spend); err != nil {
			return err
		}

		// CreditingOwner: currency purchases only, never for self-purchases.
		if method == MethodCurrency {
			if err := service.creditOwner(ctx, tx, accountID, chapter, cost, now); err != nil {
				return err
			}
		}

		grant := UnlockGrant{
			AccountID:  accountID,
			ChapterID:  chapterID,
			UnlockedAt: now,
		}
		if method == MethodCurrency {
			grant.UsedCurrency = cost
		} else {
			grant.UsedPoints = cost
		}
		if err := tx.InsertUnlockGrant(ctx, grant); err != nil {
			return err
		}
		result = UnlockResult{Granted: true}
		return nil
	})
	operationError = asTransactionFailure(operationError)
	service.logOperation(ctx, OperationLog{
		Operation: operationUnlock,
		AccountID: accountID,
		Balance:   method.BalanceKind(),
		Amount:    cost,
		ChapterID: chapterID,
		Error:     operationError,
	})
	if operationError != nil {
		return UnlockResult{}, operationError
	}
	return result, nil
}

func (service *Service) creditOwner(ctx context.Context, tx Store, buyerID int64, chapter Chapter, cost int64, now time.Time) error {
	story, err := tx.GetStory(ctx, chapter.StoryID)
	if err != nil {
		return err
	}
	if story.OwnerID == buyerID {
		return nil
	}
	earned := cost * commissionNumerator / commissionDenominator
	if earned <= 0 {
		return nil
	}
	owner, err := tx.GetAccountForUpdate(ctx, story.OwnerID)
	if err != nil {
		// A vanished owner forfeits the commission; the buyer's unlock
		// still goes through, as in the original flow.
		if errors.Is(err, ErrAccountNotFound) {
			return nil
		}
		return err
	}
	if owner.Deleted {
		return nil
	}
	if err := tx.AdjustBalance(ctx, owner.ID, KindCurrency, earned); err != nil {
		return err
	}
	chapterID := chapter.ID
	return tx.InsertEntry(ctx, Entry{
		AccountID: owner.ID,
		Balance:   KindCurrency,
		Kind:      EntryEarning,
		Amount:    earned,
		ChapterID: &chapterID,
		CreatedAt: now,
	})
}

// GrantBalance is the administrative balance amendment: a signed delta
// applied to one wallet with a mandatory ledger row. Negative grants respect
// the non-negativity invariant.
func (service *Service) GrantBalance(ctx context.Context, accountID int64, kind BalanceKind, amount int64, reason string) error {
	if _, err := ParseBalanceKind(kind.String()); err != nil {
		return err
	}
	if amount == 0 {
		return fmt.Errorf("%w: amount must be nonzero", ErrInvalidAmount)
	}
	metadata, err := NewMetadata(reason)
	if err != nil {
		return err
	}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		account, err := tx.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		if account.Deleted {
			return ErrAccountNotFound
		}
		if amount < 0 && account.Balance(kind) < -amount {
			return ErrInsufficientFunds
		}
		if err := tx.AdjustBalance(ctx, accountID, kind, amount); err != nil {
			return err
		}
		entryKind := EntryEarning
		if amount < 0 {
			entryKind = EntrySpending
		}
		return tx.InsertEntry(ctx, Entry{
			AccountID: accountID,
			Balance:   kind,
			Kind:      entryKind,
			Amount:    amount,
			Metadata:  metadata,
			CreatedAt: service.nowFn().UTC(),
		})
	})
	operationError = asTransactionFailure(operationError)
	service.logOperation(ctx, OperationLog{
		Operation: operationGrant,
		AccountID: accountID,
		Balance:   kind,
		Amount:    amount,
		Error:     operationError,
	})
	return operationError
}

// NominateStory spends promotional tickets on a story and credits the
// story's ticket tally.
func (service *Service) NominateStory(ctx context.Context, accountID, storyID int64, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: ticket amount must be positive", ErrInvalidAmount)
	}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		account, err := tx.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		if account.Deleted {
			return ErrAccountNotFound
		}
		story, err := tx.GetStory(ctx, storyID)
		if err != nil {
			return err
		}
		if story.Deleted {
			return ErrStoryNotFound
		}
		if account.Tickets < amount {
			return ErrInsufficientFunds
		}
		if err := tx.AdjustBalance(ctx, accountID, KindTickets, -amount); err != nil {
			return err
		}
		if err := tx.AddStoryTickets(ctx, storyID, amount); err != nil {
			return err
		}
		return tx.InsertEntry(ctx, Entry{
			AccountID: accountID,
			Balance:   KindTickets,
			Kind:      EntrySpending,
			Amount:    -amount,
			StoryID:   &storyID,
			CreatedAt: service.nowFn().UTC(),
		})
	})
	operationError = asTransactionFailure(operationError)
	service.logOperation(ctx, OperationLog{
		Operation: operationNominate,
		AccountID: accountID,
		Balance:   KindTickets,
		Amount:    -amount,
		StoryID:   storyID,
		Error:     operationError,
	})
	return operationError
}

// Balances returns the three-wallet view of an account.
func (service *Service) Balances(ctx context.Context, accountID int64) (Balances, error) {
	account, err := service.store.GetAccount(ctx, accountID)
	if err != nil {
		return Balances{}, err
	}
	if account.Deleted {
		return Balances{}, ErrAccountNotFound
	}
	return Balances{
		Currency: account.Currency,
		Points:   account.Points,
		Tickets:  account.Tickets,
	}, nil
}

// ListEntries lists ledger entries for one wallet, newest first.
func (service *Service) ListEntries(ctx context.Context, accountID int64, kind BalanceKind, page, pageSize int) ([]Entry, int64, error) {
	if _, err := ParseBalanceKind(kind.String()); err != nil {
		return nil, 0, err
	}
	page, pageSize = clampPage(page, pageSize)
	return service.store.ListEntries(ctx, accountID, kind, page, pageSize)
}

// UnlockedChapters lists the chapter ids of a story the account has paid for.
func (service *Service) UnlockedChapters(ctx context.Context, accountID, storyID int64) ([]int64, error) {
	return service.store.ListUnlockedChapterIDs(ctx, accountID, storyID)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func clampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
