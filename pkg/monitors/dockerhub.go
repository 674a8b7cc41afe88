package monitors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/praetor-io/watchtower/pkg/types"
)

const dockerhubTagsTemplate = "https://hub.docker.com/v2/repositories/%s/tags"

// DockerhubProber counts the published tags of one Docker Hub
// repository. Tag count shares the release-count state shape, so the
// same transformer and alerter cover both registries.
type DockerhubProber struct {
	url    string
	client *http.Client
}

// NewDockerhubProber builds a prober for one "namespace/name" repo.
func NewDockerhubProber(repoPath string) *DockerhubProber {
	return &DockerhubProber{
		url:    fmt.Sprintf(dockerhubTagsTemplate, repoPath),
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Probe fetches the tag listing once.
func (p *DockerhubProber) Probe(ctx context.Context) (map[string]*float64, error) {
	body, err := fetchJSON(ctx, p.client, p.url)
	if err != nil {
		return nil, err
	}
	var page struct {
		Count *float64 `json:"count"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, &ProbeError{Code: types.CodeJSONDecode, Message: fmt.Sprintf("decoding tags from %s: %v", p.url, err)}
	}
	if page.Count == nil {
		return nil, &ProbeError{Code: types.CodeReceivedUnexpectedData, Message: fmt.Sprintf("%s answered without a tag count", p.url)}
	}
	return map[string]*float64{
		types.MetricNoOfReleases: page.Count,
	}, nil
}
