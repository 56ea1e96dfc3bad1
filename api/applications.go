// ABOUTME: Application and session endpoints: fetch, search, save, delete and login.
package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/2389-research/kiwi/exchange"
)

// AppQuery searches the caller's applications.
type AppQuery struct {
	Name           string `json:"name,omitempty"`
	Page           int    `json:"page,omitempty"`
	PageSize       int    `json:"pageSize,omitempty"`
	NewlyChangedID string `json:"newlyChangedId,omitempty"`
}

// GetApplication fetches one application record.
func (c *Client) GetApplication(ctx context.Context, id string) (exchange.Application, error) {
	var app exchange.Application
	if err := c.do(ctx, http.MethodGet, "/app/"+url.PathEscape(id), nil, &app, 0); err != nil {
		return exchange.Application{}, err
	}
	return app, nil
}

// SearchApplications lists applications matching q.
func (c *Client) SearchApplications(ctx context.Context, q AppQuery) (exchange.Page[exchange.Application], error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultHistoryPageSize
	}
	var page exchange.Page[exchange.Application]
	if err := c.do(ctx, http.MethodPost, "/app/search", q, &page, 0); err != nil {
		return exchange.Page[exchange.Application]{}, err
	}
	return page, nil
}

// SaveApplication creates or renames an application and returns its id.
func (c *Client) SaveApplication(ctx context.Context, app exchange.Application) (string, error) {
	var id string
	if err := c.do(ctx, http.MethodPost, "/app", app, &id, 0); err != nil {
		return "", err
	}
	return id, nil
}

// DeleteApplication removes an application.
func (c *Client) DeleteApplication(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/app/"+url.PathEscape(id), nil, nil, 0)
}

// Login exchanges user credentials for a bearer token and stores it.
func (c *Client) Login(ctx context.Context, userName, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]string{"userName": userName, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &resp, 0); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errors.New("login response carried no token")
	}
	if err := c.boundary.Store().SetToken(resp.Token); err != nil {
		return "", err
	}
	return resp.Token, nil
}
