package gplus

import (
	"context"
	"encoding/json"
	"net/http"
)

// The resource sub-clients are thin: every call goes through the interceptor
// pipeline, so each one is offline-capable for free. The server owns the
// resource shapes; results are returned as raw payloads for the caller to
// decode.

// AccountClient handles authentication and identity.
type AccountClient struct{ c *Client }

// Account returns the authentication sub-client.
func (c *Client) Account() *AccountClient { return &AccountClient{c: c} }

// Login authenticates and installs the returned token material.
func (a *AccountClient) Login(ctx context.Context, opts *LoginOptions) (*Result, error) {
	res, err := a.c.Do(ctx, http.MethodPost, pathAuthLogin, opts, nil)
	if err != nil {
		return nil, err
	}
	var env tokenEnvelope
	if json.Unmarshal(res.Body, &env) == nil && env.AccessToken != "" {
		a.c.creds.Set(Credentials{
			AccessToken:  env.AccessToken,
			RefreshToken: env.RefreshToken,
			CSRFToken:    env.CSRFToken,
		})
	}
	return res, nil
}

// Logout clears the local session. The server call is best effort.
func (a *AccountClient) Logout(ctx context.Context) error {
	_, err := a.c.Do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	a.c.creds.Clear()
	return err
}

// Me fetches (or, offline, recalls) the current user profile.
func (a *AccountClient) Me(ctx context.Context) (*Result, error) {
	return a.c.Do(ctx, http.MethodGet, "/api/me", nil, nil)
}

// PickupsClient manages recycling collection pickups.
type PickupsClient struct{ c *Client }

// Pickups returns the pickups sub-client.
func (c *Client) Pickups() *PickupsClient { return &PickupsClient{c: c} }

func (p *PickupsClient) List(ctx context.Context, opts *PaginationOptions) (*Result, error) {
	return p.c.Do(ctx, http.MethodGet, "/api/pickups", nil, opts.query())
}

func (p *PickupsClient) Get(ctx context.Context, id string) (*Result, error) {
	return p.c.Do(ctx, http.MethodGet, "/api/pickups/"+id, nil, nil)
}

func (p *PickupsClient) Schedule(ctx context.Context, opts *SchedulePickupOptions) (*Result, error) {
	return p.c.Do(ctx, http.MethodPost, "/api/pickups", opts, nil)
}

func (p *PickupsClient) Cancel(ctx context.Context, id string) (*Result, error) {
	return p.c.Do(ctx, http.MethodDelete, "/api/pickups/"+id, nil, nil)
}

// PointsClient reads reward point balances and history.
type PointsClient struct{ c *Client }

// Points returns the points sub-client.
func (c *Client) Points() *PointsClient { return &PointsClient{c: c} }

func (p *PointsClient) Balance(ctx context.Context) (*Result, error) {
	return p.c.Do(ctx, http.MethodGet, "/api/points", nil, nil)
}

func (p *PointsClient) History(ctx context.Context, opts *PaginationOptions) (*Result, error) {
	return p.c.Do(ctx, http.MethodGet, "/api/points/history", nil, opts.query())
}

// RedemptionsClient exchanges points for rewards.
type RedemptionsClient struct{ c *Client }

// Redemptions returns the redemptions sub-client.
func (c *Client) Redemptions() *RedemptionsClient { return &RedemptionsClient{c: c} }

func (r *RedemptionsClient) List(ctx context.Context, opts *PaginationOptions) (*Result, error) {
	return r.c.Do(ctx, http.MethodGet, "/api/redemptions", nil, opts.query())
}

func (r *RedemptionsClient) Redeem(ctx context.Context, opts *RedeemOptions) (*Result, error) {
	return r.c.Do(ctx, http.MethodPost, "/api/redemptions", opts, nil)
}
