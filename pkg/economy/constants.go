package economy

const (
	operationUnlock      = "unlock"
	operationCheckIn     = "check_in"
	operationGrant       = "grant"
	operationNominate    = "nominate"
	operationWeeklyGrant = "weekly_ticket_grant"
	operationExpireVIP   = "expire_vip"
	operationRecordRead  = "record_read"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// Owner share of a currency unlock. Division truncates toward zero,
	// matching floor for the non-negative costs involved.
	commissionNumerator   = 70
	commissionDenominator = 100

	weeklyTicketAmount = 5

	defaultPageSize = 20
	maxPageSize     = 100
)

// weeklyRewards maps the 1-based day-of-week streak index to the points
// awarded for that day's check-in. The streak is bounded to the current
// Monday-start week, so the index never exceeds 7.
var weeklyRewards = map[int]int64{
	1: 5,
	2: 10,
	3: 15,
	4: 20,
	5: 25,
	6: 30,
	7: 50,
}

// milestoneRewards maps a monthly check-in total to its bonus.
var milestoneRewards = map[int]int64{
	7:  100,
	14: 150,
	21: 200,
	30: 300,
}
