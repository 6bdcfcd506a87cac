package api

import (
	"context"
	"net/http"

	"resty.dev/v3"
)

type pushTokenRequest struct {
	Token      string `json:"token"`
	DeviceType string `json:"deviceType"`
}

// RegisterPushToken associates a push token with the signed-in user.
func (c *Client) RegisterPushToken(ctx context.Context, token, deviceType string) error {
	return c.call(ctx, http.MethodPost, "/api/auth/fcm-token", func(r *resty.Request) {
		r.SetBody(pushTokenRequest{Token: token, DeviceType: deviceType})
	}, nil)
}

// Logout invalidates the session server-side.
func (c *Client) Logout(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}
