package update

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dotstate/dotstate/pkg/logging"
)

const (
	repoOwner = "dotstate"
	repoName  = "dotstate"

	// checkTimeout bounds the release lookup so a slow GitHub API
	// never stalls startup.
	checkTimeout = 5 * time.Second
)

// ReleasesURL is where users can browse all releases.
const ReleasesURL = "https://github.com/" + repoOwner + "/" + repoName + "/releases"

// Info describes an available update.
type Info struct {
	CurrentVersion string
	LatestVersion  string
	ReleaseURL     string
}

// Result is delivered on the channel returned by CheckAsync. Info is
// nil when the running version is current. Err is set when the check
// itself failed.
type Result struct {
	Info *Info
	Err  error
}

// Checker looks up the latest published release on GitHub.
type Checker struct {
	http    *http.Client
	baseURL string
	log     zerolog.Logger
}

func NewChecker() *Checker {
	return &Checker{
		http:    &http.Client{Timeout: checkTimeout},
		baseURL: "https://api.github.com",
		log:     logging.GetLogger("update"),
	}
}

// Check fetches the latest release and compares it with current.
// It returns nil when current is already the latest version.
func (c *Checker) Check(ctx context.Context, current string) (*Info, error) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	url := c.baseURL + "/repos/" + repoOwner + "/" + repoName + "/releases/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "dotstate")
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Debug().Int("status", resp.StatusCode).Msg("Release lookup failed")
		return nil, nil
	}

	var release struct {
		TagName string `json:"tag_name"`
		HTMLURL string `json:"html_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, err
	}

	if !IsNewer(current, release.TagName) {
		return nil, nil
	}
	return &Info{
		CurrentVersion: current,
		LatestVersion:  release.TagName,
		ReleaseURL:     release.HTMLURL,
	}, nil
}

// CheckAsync runs the check on a worker goroutine and delivers exactly
// one Result. The channel is buffered so an abandoned receiver never
// leaks the worker.
func (c *Checker) CheckAsync(current string) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		info, err := c.Check(context.Background(), current)
		ch <- Result{Info: info, Err: err}
	}()
	return ch
}

// IsNewer reports whether latest is a strictly newer semantic version
// than current. Leading "v" prefixes and pre-release suffixes are
// tolerated; unparsable versions are never considered newer.
func IsNewer(current, latest string) bool {
	cur, okC := parseVersion(current)
	lat, okL := parseVersion(latest)
	if !okC || !okL {
		return false
	}
	for i := 0; i < 3; i++ {
		if lat[i] != cur[i] {
			return lat[i] > cur[i]
		}
	}
	return false
}

func parseVersion(v string) ([3]int, bool) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	parts := strings.Split(v, ".")
	if len(parts) == 0 || len(parts) > 3 {
		return [3]int{}, false
	}
	var out [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return [3]int{}, false
		}
		out[i] = n
	}
	return out, true
}
