// Package channels dispatches alert records to notification services.
// A handler failure never loses the alert: it is spooled in bbolt and
// retried ahead of the next dispatch.
package channels

import (
	"context"

	"github.com/praetor-io/watchtower/pkg/alerts"
)

// Handler delivers one alert to a notification service.
type Handler interface {
	Name() string
	Dispatch(ctx context.Context, alert alerts.Alert) error
}
