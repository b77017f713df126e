package checkout

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/dmitrymomot/checkout/handler"
	checkoutsvc "github.com/dmitrymomot/checkout/svc/checkout"
)

var (
	ErrMissingBuyer       = handler.NewHTTPError(http.StatusUnauthorized, "missing_buyer")
	ErrKeyMismatch        = errors.New("Idempotency-Key must equal the checkout intent id")
	ErrMissingIdempotency = errors.New("Idempotency-Key header is required")
)

var statusByKind = map[checkoutsvc.ErrorKind]int{
	checkoutsvc.KindValidation:             http.StatusUnprocessableEntity,
	checkoutsvc.KindNotFound:               http.StatusNotFound,
	checkoutsvc.KindConcurrentModification: http.StatusConflict,
	checkoutsvc.KindSubscriptionConflict:   http.StatusConflict,
	checkoutsvc.KindProcessorDeclined:      http.StatusPaymentRequired,
	checkoutsvc.KindProcessorUnavailable:   http.StatusServiceUnavailable,
	checkoutsvc.KindProvisionerUnavailable: http.StatusServiceUnavailable,
	checkoutsvc.KindAmbiguousOutcome:       http.StatusServiceUnavailable,
	checkoutsvc.KindChallengeTimeout:       http.StatusGone,
}

// field names as the client sends them
var fieldNames = map[string]string{
	"IdempotencyKey": "Idempotency-Key",
	"BuyerID":        "X-Buyer-ID",
	"TargetPlanID":   "target_plan_id",
	"PaymentMethod":  "payment_method",
}

// Classify maps checkout errors onto responses. Errors it does not know
// fall through to the handler package defaults.
func Classify(err error) (handler.ErrorInfo, bool) {
	kind := checkoutsvc.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		return handler.ErrorInfo{}, false
	}

	info := handler.ErrorInfo{
		StatusCode: status,
		Kind:       string(kind),
		Message:    message(kind, err),
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		info.Details = make(map[string][]string, len(verrs))
		for _, fe := range verrs {
			name := fe.Field()
			if n, ok := fieldNames[name]; ok {
				name = n
			}
			info.Details[name] = append(info.Details[name], rule(fe))
		}
	}
	return info, true
}

// message keeps internal causes out of responses for server-side failures.
// Validation failures report the cause, unless it is a field-level
// validator error already listed in Details.
func message(kind checkoutsvc.ErrorKind, err error) string {
	switch kind {
	case checkoutsvc.KindProcessorUnavailable:
		return checkoutsvc.ErrProcessorUnavailable.Error()
	case checkoutsvc.KindProvisionerUnavailable:
		return checkoutsvc.ErrProvisionerUnavailable.Error()
	case checkoutsvc.KindAmbiguousOutcome:
		return checkoutsvc.ErrAmbiguousOutcome.Error()
	}

	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return err.Error()
	}
	errs := joined.Unwrap()
	var verrs validator.ValidationErrors
	switch {
	case len(errs) == 0:
		return err.Error()
	case kind == checkoutsvc.KindValidation && len(errs) > 1 && !errors.As(err, &verrs):
		return errs[1].Error()
	default:
		return errs[0].Error()
	}
}

func rule(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
}
