// Package githubstore adapts the GitHub contents API into the versioned
// blob store the merge engine needs. The blob SHA of the ledger file is
// the version token: a PUT carrying a stale SHA is refused by GitHub, which
// gives the engine real compare-and-swap semantics.
package githubstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"checkin/internal/ledger"
)

// Client talks to one ledger file in one repository.
type Client struct {
	APIURL string
	Repo   string // "owner/name"
	Path   string
	Branch string // empty: repository default branch
	Token  string
	HTTP   *http.Client
}

// New creates a client with a bounded request timeout. Fetch and commit
// are the only network calls in a submission; a hung store must surface as
// a timeout, not freeze the desk.
func New(apiURL, token, repo, path, branch string, timeout time.Duration) *Client {
	if apiURL == "" {
		apiURL = "https://api.github.com"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		APIURL: strings.TrimRight(apiURL, "/"),
		Repo:   repo,
		Path:   path,
		Branch: branch,
		Token:  token,
		HTTP:   &http.Client{Timeout: timeout},
	}
}

func (c *Client) contentsURL() string {
	u := fmt.Sprintf("%s/repos/%s/contents/%s", c.APIURL, c.Repo, c.Path)
	if c.Branch != "" {
		u += "?ref=" + url.QueryEscape(c.Branch)
	}
	return u
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

// Fetch reads the current ledger and its version token. A missing file is
// ledger.ErrNotFound, an expected first-run state, never conflated with
// transport or auth failures.
func (c *Client) Fetch(ctx context.Context) (*ledger.Ledger, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.contentsURL(), nil)
	if err != nil {
		return nil, "", err
	}
	c.setHeaders(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("ledger fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", ledger.ErrNotFound
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, "", fmt.Errorf("ledger fetch: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
		SHA      string `json:"sha"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, "", fmt.Errorf("ledger fetch decode: %w", err)
	}

	raw, err := decodeContent(out.Content, out.Encoding)
	if err != nil {
		return nil, "", fmt.Errorf("ledger fetch decode: %w", err)
	}
	l, err := ledger.DecodeCSV(raw)
	if err != nil {
		return nil, "", err
	}
	return l, out.SHA, nil
}

// Commit replaces the ledger file content whole. base is the SHA returned
// by Fetch; empty base creates the file. GitHub answers 409 when the SHA
// is stale, which maps to ledger.ErrConflict so the engine can refetch and
// retry. There is no partial write: the PUT applies fully or not at all.
func (c *Client) Commit(ctx context.Context, l *ledger.Ledger, base string) (string, error) {
	data, err := l.EncodeCSV()
	if err != nil {
		return "", err
	}

	payload := map[string]string{
		"message": "Update QR data - " + time.Now().Format(time.RFC3339),
		"content": base64.StdEncoding.EncodeToString(data),
	}
	if base != "" {
		payload["sha"] = base
	}
	if c.Branch != "" {
		payload["branch"] = c.Branch
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.contentsURL(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("ledger commit: %w", err)
	}
	defer resp.Body.Close()

	// 409 is the documented stale-SHA answer; 422 shows up when the file
	// was created underneath a base-less create.
	if resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity {
		return "", ledger.ErrConflict
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ledger commit: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}

	var out struct {
		Content struct {
			SHA string `json:"sha"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ledger commit decode: %w", err)
	}
	return out.Content.SHA, nil
}

// Healthy reports whether the store answers at all; used by /healthz.
func (c *Client) Healthy(ctx context.Context) bool {
	_, _, err := c.Fetch(ctx)
	return err == nil || errors.Is(err, ledger.ErrNotFound)
}

func decodeContent(content, encoding string) ([]byte, error) {
	switch encoding {
	case "", "base64":
		// GitHub wraps base64 at 60 columns.
		cleaned := strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' {
				return -1
			}
			return r
		}, content)
		return base64.StdEncoding.DecodeString(cleaned)
	case "utf-8":
		return []byte(content), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}
