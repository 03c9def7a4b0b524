// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/mcphost/pkg/host"
)

func TestSuggestForURIExactWins(t *testing.T) {
	t.Parallel()

	resources := []host.Resource{
		{ServerID: "A", URI: "file:///x.txt"},
		{ServerID: "B", URI: "file:///x.txt"},
	}
	templates := []host.ResourceTemplate{
		{ServerID: "T", URITemplate: "file:///{name}.txt"},
	}

	got := SuggestForURI(resources, templates, "file:///x.txt")

	require.Len(t, got, 2)
	assert.Equal(t, Suggestion{ServerID: "A", MatchType: MatchExact, Confidence: 1.0}, got[0])
	assert.Equal(t, Suggestion{ServerID: "B", MatchType: MatchExact, Confidence: 1.0}, got[1])
}

func TestSuggestForURITemplateMatch(t *testing.T) {
	t.Parallel()

	templates := []host.ResourceTemplate{
		{ServerID: "T", URITemplate: "file:///dynamic/{id}.txt"},
		{ServerID: "U", URITemplate: "file:///static/{id}.md"},
	}

	got := SuggestForURI(nil, templates, "file:///dynamic/42.txt")

	require.Len(t, got, 1)
	assert.Equal(t, "T", got[0].ServerID)
	assert.Equal(t, MatchTemplate, got[0].MatchType)
	assert.InDelta(t, 0.8, got[0].Confidence, 1e-9)
}

func TestSuggestForURISchemeFallback(t *testing.T) {
	t.Parallel()

	resources := []host.Resource{
		{ServerID: "W", URI: "http://api/x"},
		{ServerID: "W", URI: "http://api/y"},
		{ServerID: "F", URI: "file:///z"},
	}

	got := SuggestForURI(resources, nil, "http://other/y")
	require.Len(t, got, 1, "each server appears at most once")
	assert.Equal(t, "W", got[0].ServerID)
	assert.Equal(t, MatchScheme, got[0].MatchType)
	assert.InDelta(t, 0.5, got[0].Confidence, 1e-9)

	assert.Empty(t, SuggestForURI(resources, nil, "ftp://host/f"))
}

func TestSuggestForURIRankingNonIncreasing(t *testing.T) {
	t.Parallel()

	resources := []host.Resource{
		{ServerID: "A", URI: "file:///a"},
		{ServerID: "B", URI: "file:///b"},
	}
	templates := []host.ResourceTemplate{
		{ServerID: "T", URITemplate: "file:///{p}"},
	}

	for _, target := range []string{"file:///a", "file:///c", "other:///c"} {
		got := SuggestForURI(resources, templates, target)
		for i := 1; i < len(got); i++ {
			assert.GreaterOrEqual(t, got[i-1].Confidence, got[i].Confidence)
		}
	}
}

func TestSuggestForURIExactOnlyResults(t *testing.T) {
	t.Parallel()

	// When exact matches exist, they are the only results even though a
	// template also matches the target.
	resources := []host.Resource{
		{ServerID: "A", URI: "file:///dynamic/1.txt"},
	}
	templates := []host.ResourceTemplate{
		{ServerID: "T", URITemplate: "file:///dynamic/{id}.txt"},
	}

	got := SuggestForURI(resources, templates, "file:///dynamic/1.txt")
	require.Len(t, got, 1)
	assert.Equal(t, MatchExact, got[0].MatchType)
}

func TestSuggestForTool(t *testing.T) {
	t.Parallel()

	tools := []host.Tool{
		{ServerID: "A", Name: "search"},
		{ServerID: "B", Name: "search"},
		{ServerID: "C", Name: "fetch"},
	}

	got := SuggestForTool(tools, "search")
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].ServerID)
	assert.Equal(t, "B", got[1].ServerID)
	for _, s := range got {
		assert.Equal(t, MatchName, s.MatchType)
		assert.InDelta(t, 1.0, s.Confidence, 1e-9)
	}

	assert.Empty(t, SuggestForTool(tools, "missing"))
}

func TestSuggestForPrompt(t *testing.T) {
	t.Parallel()

	prompts := []host.Prompt{
		{ServerID: "A", Name: "summarize"},
	}

	got := SuggestForPrompt(prompts, "summarize")
	require.Len(t, got, 1)
	assert.Equal(t, Suggestion{ServerID: "A", MatchType: MatchName, Confidence: 1.0}, got[0])
}

func TestSuggestForURIEmptyInputs(t *testing.T) {
	t.Parallel()

	assert.Empty(t, SuggestForURI(nil, nil, "file:///x"))
	assert.Empty(t, SuggestForURI(nil, nil, ""))
	assert.Empty(t, SuggestForURI([]host.Resource{{ServerID: "A", URI: "file:///x"}}, nil, "noscheme"))
}
