package github

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dotstate/dotstate/pkg/errors"
	"github.com/dotstate/dotstate/pkg/logging"
)

const defaultBaseURL = "https://api.github.com"

// RepoProvider is the remote-hosting surface the setup flow consumes.
type RepoProvider interface {
	// CurrentUser returns the login of the token's owner.
	CurrentUser(ctx context.Context) (string, error)
	// RepoExists reports whether owner/name exists and is visible to
	// the token.
	RepoExists(ctx context.Context, owner, name string) (bool, error)
	// CreateRepo creates a repository under the token's account.
	CreateRepo(ctx context.Context, name, description string, private bool) (Repo, error)
}

// Repo describes a remote repository.
type Repo struct {
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	CloneURL      string `json:"clone_url"`
}

// Client talks to the GitHub REST API with a personal access token.
type Client struct {
	http    *http.Client
	token   string
	baseURL string
	log     zerolog.Logger
}

// NewClient creates a GitHub API client authenticated with token.
func NewClient(token string) *Client {
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		token:   token,
		baseURL: defaultBaseURL,
		log:     logging.GetLogger("github"),
	}
}

func (c *Client) CurrentUser(ctx context.Context) (string, error) {
	var user struct {
		Login string `json:"login"`
	}
	if err := c.do(ctx, http.MethodGet, "/user", nil, &user); err != nil {
		return "", err
	}
	return user.Login, nil
}

func (c *Client) RepoExists(ctx context.Context, owner, name string) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/repos/"+owner+"/"+name, nil, nil)
	if err == nil {
		return true, nil
	}
	var apiErr *apiError
	if stderrors.As(err, &apiErr) && apiErr.status == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func (c *Client) CreateRepo(ctx context.Context, name, description string, private bool) (Repo, error) {
	body := map[string]interface{}{
		"name":        name,
		"description": description,
		"private":     private,
		"auto_init":   true,
	}

	var repo Repo
	if err := c.do(ctx, http.MethodPost, "/user/repos", body, &repo); err != nil {
		var apiErr *apiError
		if stderrors.As(err, &apiErr) && apiErr.status == http.StatusForbidden {
			return Repo{}, errors.Wrap(err, errors.ErrRepoProvider,
				"token lacks permission to create repositories, a classic token with repo scope is required")
		}
		return Repo{}, err
	}
	c.log.Info().Str("repo", repo.FullName).Bool("private", private).Msg("Created repository")
	return repo, nil
}

// apiError carries the HTTP status so callers can branch on 404/403.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("GitHub API error (%d): %s", e.status, e.body)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, errors.ErrRepoProvider, "failed to encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, errors.ErrRepoProvider, "failed to build request")
	}
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("User-Agent", "dotstate")
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.Debug().Str("method", method).Str("path", path).Msg("GitHub API request")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, errors.ErrRepoProvider, "request to %s failed", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusUnauthorized {
			return errors.Wrap(&apiError{status: resp.StatusCode, body: string(data)},
				errors.ErrRepoProvider, "invalid or expired token, check https://github.com/settings/tokens")
		}
		return errors.Wrap(&apiError{status: resp.StatusCode, body: string(data)},
			errors.ErrRepoProvider, "GitHub API request failed")
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(err, errors.ErrRepoProvider, "failed to parse response")
		}
	}
	return nil
}
