package penalty

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Reason tells the penalty service why a penalty is being assigned. The
// penalty duration itself is the external service's business.
type Reason string

const (
	ReasonLate   Reason = "LATE"
	ReasonNoShow Reason = "NO_SHOW"
	ReasonCancel Reason = "CANCEL"
)

// Assigner assigns a penalty to a member. Callers treat it as
// fire-and-forget: a returned error is logged, never propagated.
type Assigner interface {
	Assign(ctx context.Context, memberID, reservationID int64, reason Reason) error
}

// Client posts penalty assignments to the external penalty service.
type Client struct {
	http *resty.Client
}

// NewClient creates a penalty client against the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetRetryCount(1).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || r.StatusCode() >= http.StatusInternalServerError
			}),
	}
}

type assignRequest struct {
	MemberID      int64  `json:"member_id"`
	ReservationID int64  `json:"reservation_id"`
	Reason        string `json:"reason"`
}

// Assign posts one penalty assignment.
func (c *Client) Assign(ctx context.Context, memberID, reservationID int64, reason Reason) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(assignRequest{MemberID: memberID, ReservationID: reservationID, Reason: string(reason)}).
		Post("/penalties")
	if err != nil {
		return fmt.Errorf("penalty service request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("penalty service returned %s", resp.Status())
	}
	return nil
}

// Noop is used when no penalty service is configured.
type Noop struct{}

// Assign does nothing.
func (Noop) Assign(context.Context, int64, int64, Reason) error {
	return nil
}
