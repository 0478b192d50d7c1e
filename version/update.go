package version

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	goversion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultVersionURL = "https://releases.buddybot.dev/latest/version"
	DownloadURL       = "https://github.com/buddybot/buddybot/releases/latest"

	maxVersionLength = 100
)

// Update describes the outcome of a release check
type Update struct {
	Current   string
	Latest    string
	Available bool
}

// Checker fetches the latest published version and compares it with the running one
type Checker struct {
	url        string
	httpClient *http.Client
	current    string
}

func NewChecker(url string, httpClient *http.Client) *Checker {
	if url == "" {
		url = DefaultVersionURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Checker{
		url:        url,
		httpClient: httpClient,
		current:    version,
	}
}

// Check fetches the latest version. Development builds never report an update.
func (c *Checker) Check(ctx context.Context) (*Update, error) {
	latest, err := c.fetchVersion(ctx)
	if err != nil {
		return nil, err
	}

	u := &Update{Current: c.current, Latest: latest.String()}
	currentVersion, err := goversion.NewVersion(c.current)
	if err != nil {
		log.Debugf("running an unversioned build %q: %s", c.current, err)
		return u, nil
	}
	u.Available = latest.GreaterThan(currentVersion)
	return u, nil
}

func (c *Checker) fetchVersion(ctx context.Context) (*goversion.Version, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch version info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("invalid status code: %d", resp.StatusCode)
	}
	if resp.ContentLength > maxVersionLength {
		return nil, fmt.Errorf("too large response: %d", resp.ContentLength)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxVersionLength+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	if len(content) > maxVersionLength {
		return nil, fmt.Errorf("too large response: %d", len(content))
	}

	latest, err := goversion.NewVersion(strings.TrimSpace(string(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse the version string: %w", err)
	}
	return latest, nil
}
