package alerters

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/praetor-io/watchtower/pkg/alerts"
	"github.com/praetor-io/watchtower/pkg/log"
	"github.com/praetor-io/watchtower/pkg/types"
)

// GithubAlerter announces new releases and tracks registry
// reachability. It serves the dockerhub stream too: the transformed
// payload shape is identical.
type GithubAlerter struct {
	kind   types.EntityKind
	down   map[string]bool // entity id -> access error raised
	logger zerolog.Logger
}

// NewGithubAlerter builds a release alerter for github or dockerhub.
func NewGithubAlerter(kind types.EntityKind) *GithubAlerter {
	return &GithubAlerter{
		kind:   kind,
		down:   map[string]bool{},
		logger: log.WithComponent(string(kind) + "_alerter"),
	}
}

// Kind implements the worker's handler contract.
func (a *GithubAlerter) Kind() types.EntityKind {
	return a.kind
}

// ResetEntity purges one entity's dedup state.
func (a *GithubAlerter) ResetEntity(id string) {
	delete(a.down, id)
}

// Evaluate consumes one transformed message and returns the alerts it
// triggers.
func (a *GithubAlerter) Evaluate(msg types.TransformedMessage) []alerts.Alert {
	if msg.Error != nil {
		meta := msg.Error.Meta
		if msg.Error.Code != types.CodeCannotAccessSource || a.down[meta.EntityID] {
			return nil
		}
		a.down[meta.EntityID] = true
		return []alerts.Alert{alerts.New(alerts.CodeCannotAccessRepo, alerts.MetricGithubAccess,
			msg.Error.Message, alerts.Error, meta.Time, meta.ParentID, meta.EntityID)}
	}

	meta := msg.Result.Meta
	var out []alerts.Alert
	if a.down[meta.EntityID] {
		delete(a.down, meta.EntityID)
		out = append(out, alerts.New(alerts.CodeRepoAccessRestored, alerts.MetricGithubAccess,
			fmt.Sprintf("%s is accessible again", meta.EntityName),
			alerts.Info, meta.LastMonitored, meta.ParentID, meta.EntityID))
	}

	pair := msg.Result.Data[types.MetricNoOfReleases]
	// First sight announces nothing: a newly watched repo's whole
	// history is not news.
	if pair.Previous != nil && pair.Current != nil && *pair.Current > *pair.Previous {
		out = append(out, alerts.New(alerts.CodeNewRelease, alerts.MetricGithubRelease,
			fmt.Sprintf("%s has %.0f new release(s)", meta.EntityName, *pair.Current-*pair.Previous),
			alerts.Info, meta.LastMonitored, meta.ParentID, meta.EntityID))
	}
	return out
}
