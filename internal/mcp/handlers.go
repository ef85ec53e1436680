// ABOUTME: MCP tool handler implementations for the recall server
// ABOUTME: Handlers report tool failures as tool results, not protocol errors
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/harper/recall/internal/models"
	"github.com/harper/recall/internal/retrieval"
	"github.com/harper/recall/internal/store"
	"github.com/harper/recall/internal/synthesis"
)

// Handlers contains the handler functions for all MCP tools.
type Handlers struct {
	store    *store.Store
	engine   *retrieval.Engine
	syn      *synthesis.Synthesizer
	vlmModel string
}

// SearchScreenHistory handles the search_screen_history tool.
func (h *Handlers) SearchScreenHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query argument is required and must be a string"), nil
	}

	var bound models.TimeRange
	if from := request.GetString("from", ""); from != "" {
		ts, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid from timestamp: %v", err)), nil
		}
		bound.From = ts
	}
	if to := request.GetString("to", ""); to != "" {
		ts, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid to timestamp: %v", err)), nil
		}
		bound.To = ts
	}
	k := request.GetInt("k", 5)

	scored, err := h.engine.Search(ctx, query, bound, k)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	result, err := h.syn.Synthesize(ctx, query, scored)
	if err != nil && !errors.Is(err, models.ErrSynthesisUnavailable) {
		return mcp.NewToolResultError(fmt.Sprintf("synthesis failed: %v", err)), nil
	}

	type frameOut struct {
		FrameID   string  `json:"frame_id"`
		Timestamp string  `json:"timestamp"`
		ImagePath string  `json:"image_path"`
		Caption   string  `json:"caption,omitempty"`
		Relevance float64 `json:"relevance"`
	}
	response := struct {
		Answer string     `json:"answer"`
		Note   string     `json:"note,omitempty"`
		Frames []frameOut `json:"frames"`
	}{
		Answer: result.Answer,
		Frames: make([]frameOut, len(result.Frames)),
	}
	if err != nil {
		response.Note = "answer synthesis unavailable; frames returned without an answer"
	}
	for i, sf := range result.Frames {
		response.Frames[i] = frameOut{
			FrameID:   sf.Frame.FrameID,
			Timestamp: sf.Frame.Timestamp.Format(time.RFC3339),
			ImagePath: sf.Frame.ImagePath,
			Caption:   sf.Frame.Caption,
			Relevance: sf.Score,
		}
	}

	responseJSON, err := json.Marshal(response)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(responseJSON)), nil
}

// GetStats handles the get_stats tool.
func (h *Handlers) GetStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	total, err := h.store.TotalFrames(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to count frames: %v", err)), nil
	}

	response := struct {
		TotalFrames  int64  `json:"total_frames"`
		DiskUsage    int64  `json:"disk_usage"`
		Storage      string `json:"storage"`
		VLMModel     string `json:"vlm_model"`
		EarliestDate string `json:"earliest_date,omitempty"`
		LatestDate   string `json:"latest_date,omitempty"`
	}{
		TotalFrames: total,
		DiskUsage:   h.store.DiskUsage(),
		Storage:     "sqlite",
		VLMModel:    h.vlmModel,
	}
	if earliest, latest, ok := h.store.DateRange(); ok {
		response.EarliestDate = earliest.Format(time.RFC3339)
		response.LatestDate = latest.Format(time.RFC3339)
	}

	responseJSON, err := json.Marshal(response)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(responseJSON)), nil
}
