// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package resolver maps a URI, tool name or prompt name to the servers most
// likely to serve it. It is pure: callers pass a snapshot of the aggregated
// capabilities and receive ranked suggestions.
package resolver

import (
	"strings"

	"github.com/localrivet/wilduri"

	"github.com/stacklok/mcphost/pkg/host"
)

// MatchType describes how a suggestion was derived.
type MatchType string

const (
	// MatchExact means a concrete resource URI equals the target.
	MatchExact MatchType = "exact"

	// MatchTemplate means a resource template expands to the target.
	MatchTemplate MatchType = "template"

	// MatchScheme means the server offers at least one resource sharing
	// the target's URI scheme.
	MatchScheme MatchType = "scheme"

	// MatchName means a tool or prompt name equals the target.
	MatchName MatchType = "name"
)

// Confidence per match tier.
const (
	exactConfidence    = 1.0
	templateConfidence = 0.8
	schemeConfidence   = 0.5
	nameConfidence     = 1.0
)

// Suggestion is one ranked server candidate.
type Suggestion struct {
	ServerID   string    `json:"serverId"`
	MatchType  MatchType `json:"matchType"`
	Confidence float64   `json:"confidence"`
}

// SuggestForURI resolves a resource URI against concrete resources and
// resource templates. Tiers are exclusive: exact matches suppress template
// matches, which suppress scheme matches. Within a tier, suggestions follow
// snapshot order. An empty result means no suggestion.
func SuggestForURI(resources []host.Resource, templates []host.ResourceTemplate, uri string) []Suggestion {
	if uri == "" {
		return nil
	}

	var exact []Suggestion
	for _, r := range resources {
		if r.URI == uri {
			exact = append(exact, Suggestion{
				ServerID:   r.ServerID,
				MatchType:  MatchExact,
				Confidence: exactConfidence,
			})
		}
	}
	if len(exact) > 0 {
		return exact
	}

	var templated []Suggestion
	for _, t := range templates {
		if templateMatches(t.URITemplate, uri) {
			templated = append(templated, Suggestion{
				ServerID:   t.ServerID,
				MatchType:  MatchTemplate,
				Confidence: templateConfidence,
			})
		}
	}
	if len(templated) > 0 {
		return templated
	}

	scheme := uriScheme(uri)
	if scheme == "" {
		return nil
	}
	var bySch []Suggestion
	seen := make(map[string]bool)
	for _, r := range resources {
		if seen[r.ServerID] || uriScheme(r.URI) != scheme {
			continue
		}
		seen[r.ServerID] = true
		bySch = append(bySch, Suggestion{
			ServerID:   r.ServerID,
			MatchType:  MatchScheme,
			Confidence: schemeConfidence,
		})
	}
	return bySch
}

// SuggestForTool resolves a tool name. Exact name match only.
func SuggestForTool(tools []host.Tool, name string) []Suggestion {
	var out []Suggestion
	for _, t := range tools {
		if t.Name == name {
			out = append(out, Suggestion{
				ServerID:   t.ServerID,
				MatchType:  MatchName,
				Confidence: nameConfidence,
			})
		}
	}
	return out
}

// SuggestForPrompt resolves a prompt name. Exact name match only.
func SuggestForPrompt(prompts []host.Prompt, name string) []Suggestion {
	var out []Suggestion
	for _, p := range prompts {
		if p.Name == name {
			out = append(out, Suggestion{
				ServerID:   p.ServerID,
				MatchType:  MatchName,
				Confidence: nameConfidence,
			})
		}
	}
	return out
}

// templateMatches reports whether the URI template expands to the target.
// Templates that fail to parse never match.
func templateMatches(template, uri string) bool {
	tmpl, err := wilduri.New(template)
	if err != nil {
		return false
	}
	_, matched := tmpl.Match(uri)
	return matched
}

// uriScheme returns the target's scheme including the trailing colon, or ""
// when the target carries none.
func uriScheme(uri string) string {
	idx := strings.Index(uri, ":")
	if idx < 0 {
		return ""
	}
	return uri[:idx+1]
}
