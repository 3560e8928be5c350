package economy

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// CheckIn awards the daily reward for the calling account. The weekly
// component follows the Monday-start streak table; hitting a monthly
// milestone count awards the bonus on top, recorded as a second check-in row
// carrying the milestone amount. Both components credit activity points with
// one ledger entry each.
func (service *Service) CheckIn(ctx context.Context, accountID int64) (CheckInResult, error) {
	var result CheckInResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		account, err := tx.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		if account.Deleted {
			return ErrAccountNotFound
		}
		now := service.nowFn().In(service.zone)
		today := dateOf(now)

		checkedIn, err := tx.HasCheckInOn(ctx, accountID, today)
		if err != nil {
			return err
		}
		if checkedIn {
			return ErrAlreadyCheckedIn
		}

		weekStart := startOfWeek(today)
		streak, err := tx.CountCheckInDays(ctx, accountID, weekStart, today)
		if err != nil {
			return err
		}
		dayIndex := streak + 1
		weekly, ok := weeklyRewards[dayIndex]
		if !ok {
			return WrapError(operationCheckIn, "streak", "out_of_range", fmt.Errorf("day index %d", dayIndex))
		}
		if err := tx.InsertCheckIn(ctx, CheckInRecord{AccountID: accountID, Day: today, Points: weekly}); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, Entry{
			AccountID: accountID,
			Balance:   KindPoints,
			Kind:      EntryEarning,
			Amount:    weekly,
			CreatedAt: now.UTC(),
		}); err != nil {
			return err
		}

		monthStart := startOfMonth(today)
		monthDays, err := tx.CountCheckInDays(ctx, accountID, monthStart, today)
		if err != nil {
			return err
		}
		monthlyTotal := monthDays + 1
		var milestone int64
		if bonus, hit := milestoneRewards[monthlyTotal]; hit {
			milestone = bonus
			if err := tx.InsertCheckIn(ctx, CheckInRecord{AccountID: accountID, Day: today, Points: bonus}); err != nil {
				return err
			}
			if err := tx.InsertEntry(ctx, Entry{
				AccountID: accountID,
				Balance:   KindPoints,
				Kind:      EntryEarning,
				Amount:    bonus,
				CreatedAt: now.UTC(),
			}); err != nil {
				return err
			}
		}

		total := weekly + milestone
		if err := tx.AdjustBalance(ctx, accountID, KindPoints, total); err != nil {
			return err
		}
		result = CheckInResult{
			WeeklyReward:    weekly,
			MilestoneReward: milestone,
			TotalReward:     total,
		}
		return nil
	})
	operationError = asTransactionFailure(operationError)
	service.logOperation(ctx, OperationLog{
		Operation: operationCheckIn,
		AccountID: accountID,
		Balance:   KindPoints,
		Amount:    result.TotalReward,
		Error:     operationError,
	})
	if operationError != nil {
		return CheckInResult{}, operationError
	}
	return result, nil
}

// CheckInStatus rebuilds the weekly progress array and monthly milestone
// view from recorded check-ins. Milestones are recognized by amount-matching
// recorded rows against the milestone table.
func (service *Service) CheckInStatus(ctx context.Context, accountID int64) (CheckInStatus, error) {
	account, err := service.store.GetAccount(ctx, accountID)
	if err != nil {
		return CheckInStatus{}, err
	}
	if account.Deleted {
		return CheckInStatus{}, ErrAccountNotFound
	}
	now := service.nowFn().In(service.zone)
	today := dateOf(now)
	tomorrow := today.AddDate(0, 0, 1)
	weekStart := startOfWeek(today)
	monthStart := startOfMonth(today)

	weekRecords, err := service.store.ListCheckIns(ctx, accountID, weekStart, tomorrow)
	if err != nil {
		return CheckInStatus{}, err
	}
	var status CheckInStatus
	for offset := 0; offset < 7; offset++ {
		slot := weekStart.AddDate(0, 0, offset)
		for _, record := range weekRecords {
			if sameDate(record.Day, slot) {
				status.WeeklyProgress[offset] = true
				break
			}
		}
		if sameDate(slot, today) {
			status.HasCheckedInToday = status.WeeklyProgress[offset]
		}
	}

	monthRecords, err := service.store.ListCheckIns(ctx, accountID, monthStart, tomorrow)
	if err != nil {
		return CheckInStatus{}, err
	}
	days := make(map[[3]int]struct{}, len(monthRecords))
	for _, record := range monthRecords {
		year, month, day := record.Day.Date()
		days[[3]int{year, int(month), day}] = struct{}{}
	}
	status.MonthlyTotal = len(days)

	for day, bonus := range milestoneRewards {
		for _, record := range monthRecords {
			if record.Points == bonus {
				status.MilestonesAchieved = append(status.MilestonesAchieved, day)
				break
			}
		}
	}
	sort.Ints(status.MilestonesAchieved)
	return status, nil
}

// sameDate compares two times by calendar date, ignoring zone and clock.
func sameDate(a, b time.Time) bool {
	aYear, aMonth, aDay := a.Date()
	bYear, bMonth, bDay := b.Date()
	return aYear == bYear && aMonth == bMonth && aDay == bDay
}

// dateOf truncates a zoned time to midnight in its own location.
func dateOf(at time.Time) time.Time {
	year, month, day := at.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, at.Location())
}

// startOfWeek returns the Monday of the week containing day.
func startOfWeek(day time.Time) time.Time {
	diff := int(day.Weekday()) - int(time.Monday)
	if day.Weekday() == time.Sunday {
		diff = 6
	}
	return day.AddDate(0, 0, -diff)
}

// startOfMonth returns the first day of the month containing day.
func startOfMonth(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
}
