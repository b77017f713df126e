package processor

import (
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v79"
)

// mapStripeError translates stripe-go errors into package sentinels, keeping
// the original error joined for logging.
func mapStripeError(err error, kind callKind) error {
	if err == nil {
		return nil
	}

	var se *stripe.Error
	if !errors.As(err, &se) {
		// transport failure: no response was read
		if kind == sideEffectCall {
			return errors.Join(ErrAmbiguousOutcome, err)
		}
		return errors.Join(ErrUnavailable, err)
	}

	switch {
	case se.Type == stripe.ErrorTypeCard:
		return errors.Join(ErrInvalidRequest, err)
	case se.Code == stripe.ErrorCodeResourceMissing || se.HTTPStatusCode == http.StatusNotFound:
		return errors.Join(ErrIntentNotFound, err)
	case se.HTTPStatusCode == http.StatusTooManyRequests:
		return errors.Join(ErrUnavailable, err)
	case se.HTTPStatusCode >= http.StatusInternalServerError:
		// a 5xx may still have been applied
		if kind == sideEffectCall {
			return errors.Join(ErrAmbiguousOutcome, err)
		}
		return errors.Join(ErrUnavailable, err)
	case se.Type == stripe.ErrorTypeIdempotency:
		return errors.Join(ErrInvalidRequest, err)
	default:
		return errors.Join(ErrInvalidRequest, err)
	}
}

// declineReason extracts the decline code from a card error.
func declineReason(err error) (string, bool) {
	var se *stripe.Error
	if !errors.As(err, &se) || se.Type != stripe.ErrorTypeCard {
		return "", false
	}
	return reasonOf(se), true
}

func reasonOf(se *stripe.Error) string {
	switch {
	case se.DeclineCode != "":
		return string(se.DeclineCode)
	case se.Code != "":
		return string(se.Code)
	case se.Msg != "":
		return se.Msg
	default:
		return "declined"
	}
}
