package gplus

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// Result is the uniform outcome of a request. Callers cannot tell from its
// shape whether the payload came from the network, the durable cache, or an
// offline queue acknowledgment.
type Result struct {
	StatusCode int             `json:"statusCode"`
	Body       json.RawMessage `json:"body,omitempty"`

	// Queued is true when a mutation was accepted while offline and recorded
	// for later replay. The StatusCode is 202 in that case.
	Queued bool `json:"queued,omitempty"`

	// FromCache is true when a read was served from the durable cache.
	FromCache bool `json:"fromCache,omitempty"`

	// MutationID identifies the queued mutation when Queued is true.
	MutationID uint64 `json:"mutationId,omitempty"`
}

// Decode unmarshals the result body into v.
func (r *Result) Decode(v any) error {
	if r.Body == nil {
		return fmt.Errorf("gplus: result has no body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("gplus: decode result body: %w", err)
	}
	return nil
}

// tokenEnvelope is the shape of token material the auth endpoints return, and
// of the rotated anti-forgery token any response body may carry.
type tokenEnvelope struct {
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	CSRFToken    string `json:"csrfToken,omitempty"`
}

// LoginOptions are the credentials presented to the login endpoint.
type LoginOptions struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SchedulePickupOptions describes a collection pickup request. The server
// owns the resource shape; only the fields the client forms populate appear
// here.
type SchedulePickupOptions struct {
	Address   string   `json:"address"`
	Date      string   `json:"date"`
	TimeSlot  string   `json:"timeSlot,omitempty"`
	Materials []string `json:"materials,omitempty"`
	Notes     string   `json:"notes,omitempty"`
}

// RedeemOptions describes a points redemption request.
type RedeemOptions struct {
	RewardID string `json:"rewardId"`
	Quantity int    `json:"quantity,omitempty"`
}

// PaginationOptions translate to limit/offset query parameters on list
// endpoints.
type PaginationOptions struct {
	Limit  int
	Offset int
}

func (p *PaginationOptions) query() url.Values {
	if p == nil {
		return nil
	}
	q := url.Values{}
	if p.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", p.Limit))
	}
	if p.Offset > 0 {
		q.Set("offset", fmt.Sprintf("%d", p.Offset))
	}
	if len(q) == 0 {
		return nil
	}
	return q
}
