// Package executor places resting limit orders, either against a paper
// book simulated from live quotes or against the Polymarket CLOB.
package executor

import (
	"context"
	"errors"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Executor is the execution capability shared by paper and live modes.
// Order ids returned by SubmitLimit are venue ids.
type Executor interface {
	SubmitLimit(ctx context.Context, req domain.LimitOrderRequest) (string, error)
	Cancel(ctx context.Context, orderID string) error
	// PollFills returns fills that happened since the previous poll.
	PollFills(ctx context.Context, orderID string) ([]domain.Fill, error)
}

// ErrDuplicateSubmit is returned when a client id is submitted twice.
var ErrDuplicateSubmit = errors.New("executor: duplicate submission")
