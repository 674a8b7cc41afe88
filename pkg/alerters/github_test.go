package alerters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetor-io/watchtower/pkg/alerts"
	"github.com/praetor-io/watchtower/pkg/types"
)

func repoResult(prev, current *float64, at float64) types.TransformedMessage {
	return types.TransformedMessage{Result: &types.TransformedResult{
		Meta: types.TransformedMeta{
			EntityID: "repo_1", EntityName: "acme/widget", ParentID: "general",
			LastMonitored: at,
		},
		Data: map[string]types.Pair{
			types.MetricNoOfReleases: {Previous: prev, Current: current},
		},
	}}
}

func TestGithubAlerter_NewRelease(t *testing.T) {
	a := NewGithubAlerter(types.KindGithub)

	// First sight is not news.
	assert.Empty(t, a.Evaluate(repoResult(nil, types.Float(8), 900)))

	got := a.Evaluate(repoResult(types.Float(8), types.Float(9), 960))
	require.Len(t, got, 1)
	assert.Equal(t, alerts.CodeNewRelease, got[0].AlertCode)
	assert.Equal(t, alerts.Info, got[0].Severity)

	// Unchanged count: quiet.
	assert.Empty(t, a.Evaluate(repoResult(types.Float(9), types.Float(9), 1020)))
}

func TestGithubAlerter_AccessTransition(t *testing.T) {
	a := NewGithubAlerter(types.KindGithub)

	errMsg := types.TransformedMessage{Error: &types.TransformedError{
		Meta:    types.Meta{EntityID: "repo_1", EntityName: "acme/widget", ParentID: "general", Time: 900},
		Message: "cannot reach github",
		Code:    types.CodeCannotAccessSource,
	}}

	got := a.Evaluate(errMsg)
	require.Len(t, got, 1)
	assert.Equal(t, alerts.CodeCannotAccessRepo, got[0].AlertCode)
	assert.Equal(t, alerts.Error, got[0].Severity)

	// Raised once while the condition persists.
	assert.Empty(t, a.Evaluate(errMsg))

	// Recovery resolves with INFO.
	got = a.Evaluate(repoResult(types.Float(8), types.Float(8), 960))
	require.Len(t, got, 1)
	assert.Equal(t, alerts.CodeRepoAccessRestored, got[0].AlertCode)
	assert.Equal(t, alerts.Info, got[0].Severity)
}
