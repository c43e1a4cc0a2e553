package pagination

import (
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"
)

// ScanRequest is a one-page browse of a table from the admin API.
type ScanRequest struct {
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
	Limit  int    `json:"limit"`
	Cursor string `json:"cursor,omitempty"`
}

type ScanResponse struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
	Count      int    `json:"count"`
}

func ParseScanRequest(ctx *fasthttp.RequestCtx) *ScanRequest {
	args := ctx.QueryArgs()
	req := &ScanRequest{
		Table:  strings.TrimSpace(string(args.Peek("table"))),
		Filter: strings.TrimSpace(string(args.Peek("filter"))),
		Limit:  AdminDefaultLimit,
		Cursor: strings.TrimSpace(string(args.Peek("cursor"))),
	}
	if limStr := string(args.Peek("limit")); limStr != "" {
		if parsed, err := strconv.Atoi(limStr); err == nil && parsed > 0 && parsed <= MaxPageSize {
			req.Limit = parsed
		}
	}
	return req
}

func NewScanResponse(limit int, nextCursor string, count int) *ScanResponse {
	return &ScanResponse{
		Limit:      limit,
		HasMore:    nextCursor != "",
		NextCursor: nextCursor,
		Count:      count,
	}
}
