// Package identity talks to the external identity service that confirms
// account identifiers and reports their privileges.
//
// Every lookup degrades to a zero value on failure. Callers cannot tell a
// rejected identifier from an unreachable service, and must not try to.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	scopeUsername   = "username"
	scopePrivileges = "privileges"

	// Upper bound on identity responses; they are tiny JSON objects.
	maxResponseBytes = 1 << 20
)

// Username is the identity service's answer for an identifier.
type Username struct {
	Valid    bool   `json:"valid_aid"`
	Username string `json:"username"`
}

// Authenticated reports whether the identifier may open a client session.
func (u Username) Authenticated() bool {
	return u.Valid && u.Username != ""
}

// Privileges is the free-form privilege tree returned for an identifier.
type Privileges map[string]any

// CanBeMaster reports whether Synergy.canBeMaster is set to a truthy value.
func (p Privileges) CanBeMaster() bool {
	synergy, ok := p["Synergy"].(map[string]any)
	if !ok {
		return false
	}
	return truthy(synergy["canBeMaster"])
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	Token   *TokenConfig
	// HTTPClient overrides the default client, mostly for tests.
	HTTPClient *http.Client
}

// Client resolves identifiers against the identity service.
type Client struct {
	baseURL string
	http    *http.Client
	token   *TokenConfig
	log     *zerolog.Logger
}

// NewClient builds an identity client.
func NewClient(opts Options, logger *zerolog.Logger) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    hc,
		token:   opts.Token,
		log:     logger,
	}
}

// ResolveUsername asks GET /users/{aid}/username.
func (c *Client) ResolveUsername(ctx context.Context, aid string) Username {
	var out Username
	if err := c.get(ctx, aid, scopeUsername, &out); err != nil {
		c.log.Warn().Err(err).Str("aid", aid).Msg("username lookup failed")
		return Username{}
	}
	return out
}

// ResolvePrivileges asks GET /users/{aid}/privileges.
func (c *Client) ResolvePrivileges(ctx context.Context, aid string) Privileges {
	var out struct {
		Privileges Privileges `json:"privileges"`
	}
	if err := c.get(ctx, aid, scopePrivileges, &out); err != nil {
		c.log.Warn().Err(err).Str("aid", aid).Msg("privileges lookup failed")
		return Privileges{}
	}
	if out.Privileges == nil {
		return Privileges{}
	}
	return out.Privileges
}

func (c *Client) get(ctx context.Context, aid, scope string, dst any) error {
	endpoint := fmt.Sprintf("%s/users/%s/%s", c.baseURL, url.PathEscape(aid), scope)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if c.token.Enabled() {
		token, err := GenerateToken(c.token, scope)
		if err != nil {
			return fmt.Errorf("sign service token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", scope, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("request %s: unexpected status %d", scope, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", scope, err)
	}
	return nil
}
