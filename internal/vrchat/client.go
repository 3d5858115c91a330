package vrchat

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/net/publicsuffix"
)

const (
	DefaultBaseURL   = "https://api.vrchat.cloud/api/1"
	DefaultUserAgent = "vrcbridge/1.0"

	// timestampLayout matches the millisecond ISO-8601 form the platform emits.
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// ErrNotAuthenticated is returned when the platform rejects the session.
var ErrNotAuthenticated = errors.New("vrchat: not authenticated")

// ErrPageLimit is returned by AuditLogs when the window holds more entries than
// MaxPages pages can carry. The entries read so far are returned with it.
var ErrPageLimit = errors.New("vrchat: audit log page limit reached")

// StatusError is a non-2xx response from the platform.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("vrchat %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL    string
	Username   string
	Password   string
	TOTPSecret string
	UserAgent  string
	HTTPClient *http.Client
}

// Client is a cookie-session HTTP client for the group platform.
type Client struct {
	cfg     ClientConfig
	baseURL *url.URL
	http    *http.Client
	now     func() time.Time

	loginMu  sync.Mutex
	loggedIn atomic.Bool
}

// NewClient creates a Client with its own cookie jar.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	// Copy so the caller's client does not share our session.
	withJar := *hc
	withJar.Jar = jar
	return &Client{
		cfg:     cfg,
		baseURL: base,
		http:    &withJar,
		now:     time.Now,
	}, nil
}

type currentUserResponse struct {
	ID                    string   `json:"id"`
	DisplayName           string   `json:"displayName"`
	RequiresTwoFactorAuth []string `json:"requiresTwoFactorAuth"`
}

// Login exchanges credentials for a session cookie and completes the TOTP
// challenge when the platform asks for one. Subsequent calls are no-ops.
func (c *Client) Login(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if c.loggedIn.Load() {
		return nil
	}

	auth := url.QueryEscape(c.cfg.Username) + ":" + url.QueryEscape(c.cfg.Password)
	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(auth)))

	var user currentUserResponse
	if err := c.do(ctx, http.MethodGet, "auth/user", nil, header, nil, &user); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	if needsTOTP(user.RequiresTwoFactorAuth) {
		secret := strings.ToUpper(strings.ReplaceAll(c.cfg.TOTPSecret, " ", ""))
		if secret == "" {
			return errors.New("login: platform requires totp but no secret is configured")
		}
		code, err := totp.GenerateCode(secret, c.now())
		if err != nil {
			return fmt.Errorf("generate totp code: %w", err)
		}
		var verify struct {
			Verified bool `json:"verified"`
		}
		body := map[string]string{"code": code}
		if err := c.do(ctx, http.MethodPost, "auth/twofactorauth/totp/verify", nil, nil, body, &verify); err != nil {
			return fmt.Errorf("verify totp: %w", err)
		}
		if !verify.Verified {
			return fmt.Errorf("verify totp: %w", ErrNotAuthenticated)
		}
	}

	c.loggedIn.Store(true)
	slog.Info("VRChat session established", "user", user.DisplayName)
	return nil
}

func needsTOTP(methods []string) bool {
	for _, m := range methods {
		if strings.EqualFold(m, "totp") {
			return true
		}
	}
	return false
}

type groupResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MyMember *struct {
		Permissions []string `json:"permissions"`
	} `json:"myMember"`
}

// Group loads a group and the permissions the session user holds in it.
func (c *Client) Group(ctx context.Context, groupID string) (Group, error) {
	var resp groupResponse
	if err := c.do(ctx, http.MethodGet, "groups/"+groupID, nil, nil, nil, &resp); err != nil {
		return Group{}, err
	}
	perms := PermissionSet{}
	if resp.MyMember != nil {
		for _, p := range resp.MyMember.Permissions {
			perms[Permission(p)] = struct{}{}
		}
	}
	id := resp.ID
	if id == "" {
		id = groupID
	}
	return Group{ID: id, Name: resp.Name, Permissions: perms}, nil
}

// AuditLogQuery bounds an audit-log retrieval.
type AuditLogQuery struct {
	Start    time.Time
	End      time.Time // zero means open-ended
	PageSize int
	MaxPages int
}

type auditLogPage struct {
	Results    []LogEntry `json:"results"`
	TotalCount int        `json:"totalCount"`
	HasNext    *bool      `json:"hasNext"`
}

// AuditLogs returns entries created in the query window, in the order the
// platform returned them. If the window does not fit in MaxPages pages the
// partial list is returned together with ErrPageLimit.
func (c *Client) AuditLogs(ctx context.Context, groupID string, q AuditLogQuery) ([]LogEntry, error) {
	if q.PageSize <= 0 {
		q.PageSize = 100
	}
	if q.MaxPages <= 0 {
		q.MaxPages = 20
	}
	path := "groups/" + groupID + "/auditLogs"

	var out []LogEntry
	for page := 0; page < q.MaxPages; page++ {
		params := url.Values{}
		params.Set("startDate", q.Start.UTC().Format(timestampLayout))
		if !q.End.IsZero() {
			params.Set("endDate", q.End.UTC().Format(timestampLayout))
		}
		params.Set("n", strconv.Itoa(q.PageSize))
		params.Set("offset", strconv.Itoa(page*q.PageSize))

		var resp auditLogPage
		if err := c.do(ctx, http.MethodGet, path, params, nil, nil, &resp); err != nil {
			return nil, err
		}
		for _, e := range resp.Results {
			if e.GroupID == "" {
				e.GroupID = groupID
			}
			out = append(out, e)
		}
		if resp.HasNext != nil {
			if !*resp.HasNext {
				return out, nil
			}
		} else if len(resp.Results) < q.PageSize {
			return out, nil
		}
	}
	return out, fmt.Errorf("%w: group %s after %d pages of %d", ErrPageLimit, groupID, q.MaxPages, q.PageSize)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, header http.Header, in, out any) error {
	u := c.baseURL.ResolveReference(&url.URL{Path: path})
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.loggedIn.Store(false)
		return fmt.Errorf("%s %s: %w", method, path, ErrNotAuthenticated)
	}
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
