package economy

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing economy operation.
type OperationLog struct {
	Operation string
	AccountID int64
	Balance   BalanceKind
	Amount    int64
	ChapterID int64
	StoryID   int64
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithReportingZone overrides the fixed reporting time zone used for
// check-in calendar math. The platform default is UTC+7.
func WithReportingZone(zone *time.Location) ServiceOption {
	return func(service *Service) {
		if zone != nil {
			service.zone = zone
		}
	}
}
