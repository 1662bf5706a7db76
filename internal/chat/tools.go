package chat

import (
	"encoding/json"
	"strings"
)

// Category is the coarse kind of a tool invocation, derived from the
// tool name so the UI can render activity without re-parsing inputs.
type Category string

const (
	CategoryFileRead    Category = "file-read"
	CategoryFileWrite   Category = "file-write"
	CategoryEdit        Category = "edit"
	CategoryCommand     Category = "command"
	CategorySearch      Category = "search"
	CategorySubagent    Category = "subagent"
	CategoryWeb         Category = "web"
	CategoryIntegration Category = "integration"
	CategoryGeneric     Category = "generic"
)

// Classify maps a tool name to its category. Unknown names fall back
// to generic; MCP-style names count as integrations.
func Classify(tool string) Category {
	if strings.HasPrefix(tool, "mcp__") {
		return CategoryIntegration
	}
	switch strings.ToLower(tool) {
	case "read", "notebookread":
		return CategoryFileRead
	case "write", "notebookedit":
		return CategoryFileWrite
	case "edit", "multiedit":
		return CategoryEdit
	case "bash", "bashoutput", "killshell":
		return CategoryCommand
	case "grep", "glob", "ls":
		return CategorySearch
	case "task", "agent":
		return CategorySubagent
	case "webfetch", "websearch":
		return CategoryWeb
	default:
		return CategoryGeneric
	}
}

const maxSummaryLen = 120

// toolInput covers the structured fields tools commonly carry.
type toolInput struct {
	Command     string `json:"command"`
	FilePath    string `json:"file_path"`
	Path        string `json:"path"`
	Pattern     string `json:"pattern"`
	URL         string `json:"url"`
	Query       string `json:"query"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
}

// Summarize derives a short human-readable line from a tool's input:
// the command for shell tools, the path for file tools, the url or
// query for web tools, and truncated JSON otherwise.
func Summarize(tool string, input json.RawMessage) string {
	var in toolInput
	if err := json.Unmarshal(input, &in); err == nil {
		switch Classify(tool) {
		case CategoryCommand:
			if in.Command != "" {
				return truncate(in.Command)
			}
		case CategoryFileRead, CategoryFileWrite, CategoryEdit:
			if in.FilePath != "" {
				return truncate(in.FilePath)
			}
			if in.Path != "" {
				return truncate(in.Path)
			}
		case CategorySearch:
			if in.Pattern != "" {
				return truncate(in.Pattern)
			}
			if in.Path != "" {
				return truncate(in.Path)
			}
		case CategoryWeb:
			if in.URL != "" {
				return truncate(in.URL)
			}
			if in.Query != "" {
				return truncate(in.Query)
			}
		case CategorySubagent:
			if in.Description != "" {
				return truncate(in.Description)
			}
			if in.Prompt != "" {
				return truncate(in.Prompt)
			}
		}
	}

	compact := strings.Join(strings.Fields(string(input)), " ")
	return truncate(compact)
}

func truncate(s string) string {
	if len(s) <= maxSummaryLen {
		return s
	}
	return s[:maxSummaryLen-3] + "..."
}
