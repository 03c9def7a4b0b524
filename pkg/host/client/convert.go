// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/mcphost/pkg/host"
)

// convertCapabilities snapshots what a server declared at initialization
// into the host's duck-typed form. Servers report loosely specified
// capability shapes; anything the typed fields do not model stays in
// Experimental.
func convertCapabilities(caps mcp.ServerCapabilities) *host.ServerCapabilities {
	out := &host.ServerCapabilities{}

	if caps.Tools != nil {
		out.Tools = &host.ToolsCapability{ListChanged: caps.Tools.ListChanged}
	}
	if caps.Resources != nil {
		out.Resources = &host.ResourcesCapability{
			Subscribe:   caps.Resources.Subscribe,
			ListChanged: caps.Resources.ListChanged,
			// The wire form carries no dedicated template bit; a
			// resources-capable server is assumed to answer the
			// templates listing, and a refusal is tolerated per-list.
			Templates: true,
		}
	}
	if caps.Prompts != nil {
		out.Prompts = &host.PromptsCapability{ListChanged: caps.Prompts.ListChanged}
	}
	out.Logging = caps.Logging != nil
	out.Completions = caps.Completions != nil

	if len(caps.Experimental) > 0 {
		out.Experimental = make(map[string]any, len(caps.Experimental))
		for k, v := range caps.Experimental {
			out.Experimental[k] = v
		}
		// Duck-typed advertisement outside the core protocol shape.
		if roots, ok := asBoolField(caps.Experimental["roots"], "listChanged"); ok {
			out.Roots = &host.RootsCapability{ListChanged: roots}
		}
		if s, ok := caps.Experimental["sampling"].(bool); ok {
			out.Sampling = s
		}
		if tpl, ok := asBoolField(caps.Experimental["resources"], "templates"); ok && out.Resources != nil {
			out.Resources.Templates = tpl
		}
	}
	return out
}

// asBoolField digs a boolean field out of an opaque capability object.
func asBoolField(v any, field string) (bool, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return false, false
	}
	b, ok := m[field].(bool)
	return b, ok
}

func convertTools(serverID string, in []mcp.Tool) []host.Tool {
	out := make([]host.Tool, 0, len(in))
	for _, t := range in {
		inputSchema := map[string]any{
			"type": t.InputSchema.Type,
		}
		if t.InputSchema.Properties != nil {
			inputSchema["properties"] = t.InputSchema.Properties
		}
		if len(t.InputSchema.Required) > 0 {
			inputSchema["required"] = t.InputSchema.Required
		}
		out = append(out, host.Tool{
			ServerID:    serverID,
			Name:        t.Name,
			Description: t.Description,
			InputSchema: inputSchema,
			Annotations: toMap(t.Annotations),
		})
	}
	return out
}

func convertResources(serverID string, in []mcp.Resource) []host.Resource {
	out := make([]host.Resource, 0, len(in))
	for _, r := range in {
		out = append(out, host.Resource{
			ServerID: serverID,
			URI:      r.URI,
			Name:     r.Name,
			MimeType: r.MIMEType,
		})
	}
	return out
}

func convertResourceTemplates(serverID string, in []mcp.ResourceTemplate) []host.ResourceTemplate {
	out := make([]host.ResourceTemplate, 0, len(in))
	for _, t := range in {
		raw := ""
		if t.URITemplate != nil {
			raw = t.URITemplate.Raw()
		}
		out = append(out, host.ResourceTemplate{
			ServerID: serverID,
			// The wire format carries no identifier; the pattern is
			// unique within a server and serves as one.
			ID:          raw,
			Name:        t.Name,
			URITemplate: raw,
			Description: t.Description,
		})
	}
	return out
}

func convertPrompts(serverID string, in []mcp.Prompt) []host.Prompt {
	out := make([]host.Prompt, 0, len(in))
	for _, p := range in {
		args := make([]host.PromptArgument, 0, len(p.Arguments))
		for _, a := range p.Arguments {
			args = append(args, host.PromptArgument{
				Name:        a.Name,
				Description: a.Description,
				Required:    a.Required,
			})
		}
		out = append(out, host.Prompt{
			ServerID:    serverID,
			Name:        p.Name,
			Description: p.Description,
			Arguments:   args,
		})
	}
	return out
}

// convertContent converts one mcp content item. Unknown content types are
// preserved as type "unknown" rather than dropped.
func convertContent(content mcp.Content) host.Content {
	if text, ok := mcp.AsTextContent(content); ok {
		return host.Content{Type: "text", Text: text.Text}
	}
	if image, ok := mcp.AsImageContent(content); ok {
		return host.Content{Type: "image", Data: image.Data, MimeType: image.MIMEType}
	}
	if audio, ok := mcp.AsAudioContent(content); ok {
		return host.Content{Type: "audio", Data: audio.Data, MimeType: audio.MIMEType}
	}
	if res, ok := mcp.AsEmbeddedResource(content); ok {
		out := host.Content{Type: "resource"}
		if text, ok := mcp.AsTextResourceContents(res.Resource); ok {
			out.URI = text.URI
			out.MimeType = text.MIMEType
			out.Text = text.Text
		} else if blob, ok := mcp.AsBlobResourceContents(res.Resource); ok {
			out.URI = blob.URI
			out.MimeType = blob.MIMEType
			out.Data = blob.Blob
		}
		return out
	}
	return host.Content{Type: "unknown"}
}

func convertToolResult(res *mcp.CallToolResult) *host.ToolCallResult {
	out := &host.ToolCallResult{
		Content: make([]host.Content, 0, len(res.Content)),
		IsError: res.IsError,
	}
	for _, c := range res.Content {
		out.Content = append(out.Content, convertContent(c))
	}
	if sc, ok := res.StructuredContent.(map[string]any); ok {
		out.StructuredContent = sc
	}
	return out
}

func convertReadResult(res *mcp.ReadResourceResult) *host.ResourceReadResult {
	out := &host.ResourceReadResult{
		Contents: make([]host.ResourceContents, 0, len(res.Contents)),
	}
	for _, c := range res.Contents {
		if text, ok := mcp.AsTextResourceContents(c); ok {
			out.Contents = append(out.Contents, host.ResourceContents{
				URI:      text.URI,
				MimeType: text.MIMEType,
				Text:     text.Text,
			})
		} else if blob, ok := mcp.AsBlobResourceContents(c); ok {
			out.Contents = append(out.Contents, host.ResourceContents{
				URI:      blob.URI,
				MimeType: blob.MIMEType,
				Blob:     blob.Blob,
			})
		}
	}
	return out
}

func convertPromptResult(res *mcp.GetPromptResult) *host.PromptGetResult {
	out := &host.PromptGetResult{
		Description: res.Description,
		Messages:    make([]host.PromptMessage, 0, len(res.Messages)),
	}
	for _, m := range res.Messages {
		out.Messages = append(out.Messages, host.PromptMessage{
			Role:    string(m.Role),
			Content: convertContent(m.Content),
		})
	}
	return out
}

// toMap round-trips a typed struct into a generic map. Used for tool
// annotations, whose shape the host does not model.
func toMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// stringifyArguments converts prompt arguments into the wire's string form.
func stringifyArguments(arguments map[string]any) map[string]string {
	if len(arguments) == 0 {
		return nil
	}
	out := make(map[string]string, len(arguments))
	for k, v := range arguments {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
