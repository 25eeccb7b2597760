// Command pagefetch-mcp serves a fetch_page tool over MCP stdio, backed by
// a running pagefetch-server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/use-agent/pagefetch/models"
)

func main() {
	apiURL := os.Getenv("PAGEFETCH_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("PAGEFETCH_API_KEY")

	s := server.NewMCPServer(
		"pagefetch",
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	s.AddTool(fetchPageTool(), handleFetchPage(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func fetchPageTool() mcp.Tool {
	return mcp.NewTool("fetch_page",
		mcp.WithDescription("Load a page in a headless browser and return the status code and headers of the response for exactly that URL, the page cookies after a short settle delay, and the rendered HTML."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL to load, including the scheme"),
		),
		mcp.WithString("method",
			mcp.Description("GET (default) or POST"),
			mcp.Enum("GET", "POST"),
		),
		mcp.WithString("body",
			mcp.Description("Form-encoded POST body; required when method is POST"),
		),
		mcp.WithString("cookie",
			mcp.Description("Raw Cookie header sent with every request the page makes"),
		),
		mcp.WithString("user_agent",
			mcp.Description("User-Agent string or preset name (pc, mobile, iphone, android, googlebot, ...)"),
		),
		mcp.WithNumber("settle_delay_ms",
			mcp.Description("Milliseconds to wait after load before capturing (default: 100)"),
		),
		mcp.WithNumber("resource_timeout_sec",
			mcp.Description("Per-resource timeout in seconds, 0 for none (default: 3)"),
		),
		mcp.WithString("engine",
			mcp.Description("Backend: 'rod' (default), 'chromedp' or 'http' (no JavaScript)"),
			mcp.Enum("rod", "chromedp", "http"),
		),
		mcp.WithString("format",
			mcp.Description("Convert the body: 'html' (default), 'article', 'markdown' or 'text'"),
			mcp.Enum("html", "article", "markdown", "text"),
		),
		mcp.WithString("selector",
			mcp.Description("CSS selector; keep only matching elements"),
		),
	)
}

// buildRequest maps tool arguments onto the API payload. Omitted numeric
// arguments stay nil so the server applies its own defaults.
func buildRequest(request mcp.CallToolRequest) (*models.FetchAPIRequest, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return nil, fmt.Errorf("url is required")
	}

	req := &models.FetchAPIRequest{
		URL:       url,
		Method:    request.GetString("method", ""),
		Cookie:    request.GetString("cookie", ""),
		UserAgent: request.GetString("user_agent", ""),
		Engine:    request.GetString("engine", ""),
		Format:    request.GetString("format", ""),
		Selector:  request.GetString("selector", ""),
	}

	args := request.GetArguments()
	if body, ok := args["body"].(string); ok {
		req.Body = &body
	}
	if _, ok := args["settle_delay_ms"]; ok {
		v := request.GetInt("settle_delay_ms", models.DefaultSettleDelayMs)
		req.SettleDelayMs = &v
	}
	if _, ok := args["resource_timeout_sec"]; ok {
		v := request.GetInt("resource_timeout_sec", models.DefaultResourceTimeoutSec)
		req.ResourceTimeoutSec = &v
	}
	return req, nil
}

func handleFetchPage(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 120 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		payload, err := buildRequest(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		body, err := json.Marshal(payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal request: %v", err)), nil
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/api/v1/fetch", bytes.NewReader(body))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to create request: %v", err)), nil
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if apiKey != "" {
			httpReq.Header.Set("X-API-Key", apiKey)
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("API request failed: %v", err)), nil
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to read response: %v", err)), nil
		}

		var fetchResp models.FetchAPIResponse
		if err := json.Unmarshal(respBody, &fetchResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response (HTTP %d): %v", resp.StatusCode, err)), nil
		}

		if !fetchResp.Success || fetchResp.Result == nil {
			errMsg := "fetch failed"
			if fetchResp.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", fetchResp.Error.Code, fetchResp.Error.Message)
			}
			return mcp.NewToolResultError(errMsg), nil
		}

		out, err := json.MarshalIndent(fetchResp.Result, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	}
}
