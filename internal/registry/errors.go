package registry

import "fmt"

// ValidationError reports invalid input on a synchronous management call.
// Nothing is persisted when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a webhook id that does not exist or is not owned
// by the requesting user. The two cases are deliberately indistinguishable.
type NotFoundError struct {
	WebhookID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("webhook %s not found", e.WebhookID)
}

// LimitExceededError reports that an owner already holds the maximum
// number of subscriptions.
type LimitExceededError struct {
	Limit int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("subscription limit of %d reached", e.Limit)
}
