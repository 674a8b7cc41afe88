package monitors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/praetor-io/watchtower/pkg/types"
)

// GithubProber counts the published releases of one repository through
// the Github releases API. The releases URL is built from a template so
// a deployment can point at a Github Enterprise instance.
type GithubProber struct {
	url    string
	client *http.Client
}

// NewGithubProber builds a prober for one repository. template must
// contain a %s placeholder for the "owner/name/" repo path.
func NewGithubProber(template, repoPath string) *GithubProber {
	return &GithubProber{
		url:    fmt.Sprintf(template, repoPath),
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Probe fetches the releases page once.
func (p *GithubProber) Probe(ctx context.Context) (map[string]*float64, error) {
	body, err := fetchJSON(ctx, p.client, p.url)
	if err != nil {
		return nil, err
	}

	// The API answers an object (rate-limit notice, missing repo) where
	// a release list is expected.
	trimmed := strings.TrimLeft(string(body), " \t\r\n")
	if !strings.HasPrefix(trimmed, "[") {
		return nil, &ProbeError{
			Code:    types.CodeReceivedUnexpectedData,
			Message: fmt.Sprintf("%s answered a non-list payload", p.url),
		}
	}

	var releases []json.RawMessage
	if err := json.Unmarshal(body, &releases); err != nil {
		return nil, &ProbeError{Code: types.CodeJSONDecode, Message: fmt.Sprintf("decoding releases from %s: %v", p.url, err)}
	}
	return map[string]*float64{
		types.MetricNoOfReleases: types.Float(float64(len(releases))),
	}, nil
}

func fetchJSON(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ProbeError{Code: types.CodeInvalidURL, Message: fmt.Sprintf("invalid url %q: %v", url, err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &ProbeError{Code: types.CodeCannotAccessSource, Message: fmt.Sprintf("cannot reach %s: %v", url, err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &ProbeError{Code: types.CodeCannotAccessSource, Message: fmt.Sprintf("%s answered %d", url, resp.StatusCode)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProbeError{Code: types.CodeDataReading, Message: fmt.Sprintf("reading %s: %v", url, err)}
	}
	return body, nil
}
