package plan

import "errors"

var (
	ErrPlanNotFound      = errors.New("plan not found")
	ErrNoChangeRequested = errors.New("target plan equals current plan")
	ErrCurrencyMismatch  = errors.New("currency mismatch between current and target plan")
	ErrInvalidPlan       = errors.New("invalid plan definition")
	ErrInvalidCurrency   = errors.New("invalid ISO 4217 currency code")
	ErrFailedToLoadPlans = errors.New("failed to load plans")
	ErrEmptyCatalog      = errors.New("plan catalog is empty")
)
