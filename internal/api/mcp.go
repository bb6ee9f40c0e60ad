package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/dermadx/internal/storage"
)

const recentAnalysesLimit = 10

// NewMCPServer creates an MCP server exposing diagnosis tools and the
// recent-analyses resource.
func NewMCPServer(svc DiagnosisService) *server.MCPServer {
	s := server.NewMCPServer(
		"dermadx",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("dermadx: AI-assisted skin lesion diagnosis. Results are for reference only and do not replace a dermatologist."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("diagnose_lesion",
			mcp.WithDescription("Diagnose a skin lesion from a free-text description. Returns the stored analysis record as JSON."),
			mcp.WithString("lesion_description", mcp.Description("Description of the lesion: appearance, location, duration, symptoms"), mcp.Required()),
			mcp.WithString("additional_info", mcp.Description("Optional patient context such as age or history")),
		),
		mcpDiagnoseLesion(svc),
	)

	s.AddTool(
		mcp.NewTool("refine_utterance",
			mcp.WithDescription("Turn a patient's own description of symptoms into a one-line tip on what to stress when talking to a doctor. Does not diagnose and stores nothing."),
			mcp.WithString("text", mcp.Description("Patient's free-text description of symptoms"), mcp.Required()),
			mcp.WithString("language", mcp.Description("Reply language (default ko)")),
		),
		mcpRefineUtterance(svc),
	)

	s.AddTool(
		mcp.NewTool("get_analysis",
			mcp.WithDescription("Fetch a stored analysis by id."),
			mcp.WithString("id", mcp.Description("Analysis id"), mcp.Required()),
		),
		mcpGetAnalysis(svc),
	)

	s.AddTool(
		mcp.NewTool("search_analyses",
			mcp.WithDescription("Search stored analyses by prompt, diagnosis or summary text."),
			mcp.WithString("query", mcp.Description("Substring to search for"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpSearchAnalyses(svc),
	)

	s.AddResource(
		mcp.NewResource(
			"analyses://recent",
			"Recent Analyses",
			mcp.WithResourceDescription("Last 10 analyses (diagnosis and confidence only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(svc),
	)

	return s
}

func mcpDiagnoseLesion(svc DiagnosisService) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		desc, err := req.RequireString("lesion_description")
		if err != nil {
			return mcpError("lesion_description is required"), nil
		}

		rec, err := svc.DiagnoseText(ctx, desc, req.GetString("additional_info", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("diagnosis failed: %v", err)), nil
		}
		return mcpJSON(rec)
	}
}

func mcpRefineUtterance(svc DiagnosisService) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ref, err := svc.Refine(ctx, req.GetString("text", ""), req.GetString("language", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("refinement failed: %v", err)), nil
		}
		return mcpJSON(ref)
	}
}

func mcpGetAnalysis(svc DiagnosisService) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		rec, err := svc.Get(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("analysis %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get analysis: %v", err)), nil
		}
		return mcpJSON(rec)
	}
}

func mcpSearchAnalyses(svc DiagnosisService) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		recs, err := svc.Search(query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcpJSON(recs)
	}
}

type analysisSummary struct {
	ID              string   `json:"id"`
	CreatedAt       string   `json:"created_at"`
	Diagnosis       string   `json:"diagnosis"`
	ConfidenceScore *float64 `json:"confidence_score"`
	AnalysisType    string   `json:"analysis_type"`
}

func mcpResourceRecent(svc DiagnosisService) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		recs, _, err := svc.List(recentAnalysesLimit, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list recent analyses: %w", err)
		}

		summaries := make([]analysisSummary, len(recs))
		for i, r := range recs {
			label := r.Diagnosis
			// Fallback records carry the whole provider reply as the label.
			if utf8.RuneCountInString(label) > 200 {
				runes := []rune(label)
				label = string(runes[:200]) + "..."
			}
			summaries[i] = analysisSummary{
				ID:              r.ID,
				CreatedAt:       r.CreatedAt.Format(time.RFC3339),
				Diagnosis:       label,
				ConfidenceScore: r.ConfidenceScore,
				AnalysisType:    r.Metadata.AnalysisType,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal analyses: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
