package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// jobRequest mirrors the scraperd API submission model.
type jobRequest struct {
	URL       string            `json:"url"`
	Selectors map[string]string `json:"selectors,omitempty"`
	Mode      string            `json:"mode,omitempty"`
}

// jobResponse mirrors the scraperd job status model.
type jobResponse struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Mode      string `json:"mode"`
	State     string `json:"state"`
	ErrorCode string `json:"error_code"`
	ErrorText string `json:"error_text"`
	Attempts  int    `json:"attempts"`
}

// resultResponse mirrors the scraperd result document.
type resultResponse struct {
	JobID            string              `json:"job_id"`
	SourceURL        string              `json:"source_url"`
	Status           string              `json:"status"`
	ExtractionMethod string              `json:"extraction_method"`
	Data             []map[string]string `json:"data"`
	ErrorCode        string              `json:"error_code"`
	ErrorText        string              `json:"error_text"`
	Metadata         struct {
		ElapsedSeconds float64 `json:"elapsed_seconds"`
		Bytes          int     `json:"bytes"`
	} `json:"metadata"`
}

// listResponse mirrors the scraperd job listing model.
type listResponse struct {
	Jobs []struct {
		ID        string `json:"id"`
		URL       string `json:"url"`
		State     string `json:"state"`
		Submitted string `json:"submitted_at"`
	} `json:"jobs"`
}

// apiError mirrors the scraperd error envelope.
type apiError struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func main() {
	apiURL := os.Getenv("SCRAPERD_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}

	s := server.NewMCPServer(
		"scraperd",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	scrapeURLTool := mcp.NewTool("scrape_url",
		mcp.WithDescription("Submit a scrape job for a URL, wait for it to finish, and return the extracted records. Pages that need JavaScript are rendered in a headless browser automatically."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the web page to scrape"),
		),
		mcp.WithString("mode",
			mcp.Description("Fetch mode: 'auto' (default, probes the page and renders only when needed), 'static' (plain HTTP fetch), or 'dynamic' (always render in a browser)"),
			mcp.Enum("auto", "static", "dynamic"),
		),
		mcp.WithString("selectors",
			mcp.Description("Optional JSON object mapping field names to CSS selectors, e.g. {\"container\": \".quote\", \"text\": \".text\", \"author\": \".author\"}. The 'container' key scopes the remaining selectors to repeated elements."),
		),
	)
	s.AddTool(scrapeURLTool, handleScrapeURL(apiURL))

	batchTool := mcp.NewTool("scrape_batch",
		mcp.WithDescription("Submit scrape jobs for several URLs, wait for all of them to finish, and return the extracted records per URL."),
		mcp.WithArray("urls",
			mcp.Required(),
			mcp.Description("List of URLs to scrape"),
		),
		mcp.WithString("mode",
			mcp.Description("Fetch mode applied to every URL: 'auto' (default), 'static', or 'dynamic'"),
			mcp.Enum("auto", "static", "dynamic"),
		),
		mcp.WithString("selectors",
			mcp.Description("Optional JSON object mapping field names to CSS selectors, applied to every URL"),
		),
	)
	s.AddTool(batchTool, handleScrapeBatch(apiURL))

	validateTool := mcp.NewTool("validate_selectors",
		mcp.WithDescription("Scrape a page once and report how many records each CSS selector matched, to debug a selector map before submitting real jobs."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the web page to test against"),
		),
		mcp.WithString("selectors",
			mcp.Required(),
			mcp.Description("JSON object mapping field names to CSS selectors, e.g. {\"container\": \".quote\", \"text\": \".text\"}"),
		),
	)
	s.AddTool(validateTool, handleValidateSelectors(apiURL))

	statusTool := mcp.NewTool("get_job_status",
		mcp.WithDescription("Look up the current state of a scrape job by its ID."),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned at submission"),
		),
	)
	s.AddTool(statusTool, handleJobStatus(apiURL))

	resultTool := mcp.NewTool("get_job_result",
		mcp.WithDescription("Fetch the stored result document for a finished scrape job."),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned at submission"),
		),
	)
	s.AddTool(resultTool, handleJobResult(apiURL))

	listTool := mcp.NewTool("list_jobs",
		mcp.WithDescription("List recent scrape jobs, newest first."),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of jobs to return (default: 50)"),
		),
	)
	s.AddTool(listTool, handleListJobs(apiURL))

	cancelTool := mcp.NewTool("cancel_job",
		mcp.WithDescription("Cancel a queued or running scrape job."),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned at submission"),
		),
	)
	s.AddTool(cancelTool, handleCancelJob(apiURL))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiGet sends a GET request to the scraperd API and returns the
// response body and status.
func apiGet(ctx context.Context, client *http.Client, apiURL, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	return body, resp.StatusCode, err
}

// apiPost sends a POST request to the scraperd API and returns the
// response body and status.
func apiPost(ctx context.Context, client *http.Client, apiURL, path string, payload interface{}) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	return body, resp.StatusCode, err
}

// errorMessage extracts the API error envelope, falling back to the
// raw body when the envelope does not parse.
func errorMessage(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Error)
	}
	return strings.TrimSpace(string(body))
}

// pollJobTerminal polls the status endpoint until the job reaches a
// terminal state or the context is cancelled.
func pollJobTerminal(ctx context.Context, client *http.Client, apiURL, jobID string) (*jobResponse, error) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			body, status, err := apiGet(ctx, client, apiURL, "/v1/jobs/"+jobID+"/status")
			if err != nil {
				return nil, fmt.Errorf("poll request failed: %w", err)
			}
			if status != http.StatusOK {
				return nil, fmt.Errorf("poll failed: %s", errorMessage(body))
			}

			var job jobResponse
			if err := json.Unmarshal(body, &job); err != nil {
				return nil, fmt.Errorf("parse poll response: %w", err)
			}

			if job.State == "completed" || job.State == "failed" {
				return &job, nil
			}
		}
	}
}

// readResult retrieves the stored result document for a job, returning
// a caller-facing error message on failure.
func readResult(ctx context.Context, client *http.Client, apiURL, jobID string) (*resultResponse, string) {
	body, status, err := apiGet(ctx, client, apiURL, "/v1/jobs/"+jobID+"/result")
	if err != nil {
		return nil, fmt.Sprintf("result request failed: %v", err)
	}
	if status != http.StatusOK {
		return nil, errorMessage(body)
	}
	var result resultResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Sprintf("failed to parse result: %v", err)
	}
	return &result, ""
}

// fetchResult retrieves and formats the result document for a job.
func fetchResult(ctx context.Context, client *http.Client, apiURL, jobID string) (*mcp.CallToolResult, error) {
	res, errMsg := readResult(ctx, client, apiURL, jobID)
	if errMsg != "" {
		return mcp.NewToolResultError(errMsg), nil
	}
	result := *res

	if result.Status == "failed" {
		return mcp.NewToolResultError(fmt.Sprintf("[%s] %s", result.ErrorCode, result.ErrorText)), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Source: %s\nMethod: %s\nRecords: %d (%d bytes fetched in %.2fs)\n\n",
		result.SourceURL, result.ExtractionMethod, len(result.Data),
		result.Metadata.Bytes, result.Metadata.ElapsedSeconds))

	pretty, err := json.MarshalIndent(result.Data, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to format records: %v", err)), nil
	}
	sb.Write(pretty)

	return mcp.NewToolResultText(sb.String()), nil
}

func handleScrapeURL(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 120 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		reqBody := jobRequest{
			URL:  url,
			Mode: request.GetString("mode", ""),
		}

		if raw := request.GetString("selectors", ""); raw != "" {
			if err := json.Unmarshal([]byte(raw), &reqBody.Selectors); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("selectors must be a JSON object of strings: %v", err)), nil
			}
		}

		job, errMsg := submitScrape(ctx, client, apiURL, reqBody)
		if errMsg != "" {
			return mcp.NewToolResultError(errMsg), nil
		}

		final, err := pollJobTerminal(ctx, client, apiURL, job.ID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("waiting for job %s failed: %v", job.ID, err)), nil
		}

		if final.State == "failed" {
			return mcp.NewToolResultError(fmt.Sprintf("job %s failed after %d attempts: [%s] %s",
				final.ID, final.Attempts, final.ErrorCode, final.ErrorText)), nil
		}

		return fetchResult(ctx, client, apiURL, job.ID)
	}
}

// submitScrape posts one job and returns it, or a caller-facing error
// message.
func submitScrape(ctx context.Context, client *http.Client, apiURL string, reqBody jobRequest) (*jobResponse, string) {
	body, status, err := apiPost(ctx, client, apiURL, "/v1/jobs", reqBody)
	if err != nil {
		return nil, fmt.Sprintf("submit request failed: %v", err)
	}
	if status != http.StatusAccepted {
		return nil, errorMessage(body)
	}
	var job jobResponse
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Sprintf("failed to parse submit response: %v", err)
	}
	if job.ID == "" {
		return nil, "job submission failed"
	}
	return &job, ""
}

func handleScrapeBatch(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 600 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		urls, err := request.RequireStringSlice("urls")
		if err != nil {
			return mcp.NewToolResultError("urls is required and must be an array of strings"), nil
		}

		var selectors map[string]string
		if raw := request.GetString("selectors", ""); raw != "" {
			if err := json.Unmarshal([]byte(raw), &selectors); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("selectors must be a JSON object of strings: %v", err)), nil
			}
		}
		mode := request.GetString("mode", "")

		// Submit everything up front so the jobs run concurrently,
		// then wait for each in turn.
		type submitted struct {
			url   string
			jobID string
			fail  string
		}
		batch := make([]submitted, 0, len(urls))
		for _, u := range urls {
			job, errMsg := submitScrape(ctx, client, apiURL, jobRequest{URL: u, Selectors: selectors, Mode: mode})
			if errMsg != "" {
				batch = append(batch, submitted{url: u, fail: errMsg})
				continue
			}
			batch = append(batch, submitted{url: u, jobID: job.ID})
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Batch of %d URLs:\n\n", len(batch)))
		for i, item := range batch {
			if item.fail != "" {
				sb.WriteString(fmt.Sprintf("--- [%d] %s FAILED: %s ---\n\n", i+1, item.url, item.fail))
				continue
			}
			final, err := pollJobTerminal(ctx, client, apiURL, item.jobID)
			if err != nil {
				sb.WriteString(fmt.Sprintf("--- [%d] %s FAILED: %v ---\n\n", i+1, item.url, err))
				continue
			}
			if final.State == "failed" {
				sb.WriteString(fmt.Sprintf("--- [%d] %s FAILED: [%s] %s ---\n\n", i+1, item.url, final.ErrorCode, final.ErrorText))
				continue
			}
			res, errMsg := readResult(ctx, client, apiURL, item.jobID)
			if errMsg != "" {
				sb.WriteString(fmt.Sprintf("--- [%d] %s FAILED: %s ---\n\n", i+1, item.url, errMsg))
				continue
			}
			pretty, err := json.MarshalIndent(res.Data, "", "  ")
			if err != nil {
				sb.WriteString(fmt.Sprintf("--- [%d] %s FAILED: %v ---\n\n", i+1, item.url, err))
				continue
			}
			sb.WriteString(fmt.Sprintf("--- [%d] %s (%d records, %s) ---\n%s\n\n",
				i+1, item.url, len(res.Data), res.ExtractionMethod, pretty))
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleValidateSelectors(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 120 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}
		raw, err := request.RequireString("selectors")
		if err != nil {
			return mcp.NewToolResultError("selectors is required"), nil
		}
		var selectors map[string]string
		if err := json.Unmarshal([]byte(raw), &selectors); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("selectors must be a JSON object of strings: %v", err)), nil
		}
		if len(selectors) == 0 {
			return mcp.NewToolResultError("selectors must contain at least one entry"), nil
		}

		job, errMsg := submitScrape(ctx, client, apiURL, jobRequest{URL: url, Selectors: selectors})
		if errMsg != "" {
			return mcp.NewToolResultError(errMsg), nil
		}
		final, err := pollJobTerminal(ctx, client, apiURL, job.ID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("waiting for job %s failed: %v", job.ID, err)), nil
		}
		if final.State == "failed" {
			return mcp.NewToolResultError(fmt.Sprintf("scrape failed: [%s] %s", final.ErrorCode, final.ErrorText)), nil
		}
		res, errMsg := readResult(ctx, client, apiURL, job.ID)
		if errMsg != "" {
			return mcp.NewToolResultError(errMsg), nil
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Validated %d selectors against %s (%d records)\n\n", len(selectors), url, len(res.Data)))
		if container, ok := selectors["container"]; ok {
			sb.WriteString(fmt.Sprintf("container %q: %d records\n", container, len(res.Data)))
		}
		for field, sel := range selectors {
			if field == "container" {
				continue
			}
			matched := 0
			for _, record := range res.Data {
				if record[field] != "" {
					matched++
				}
			}
			sb.WriteString(fmt.Sprintf("%s %q: present in %d/%d records\n", field, sel, matched, len(res.Data)))
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleJobStatus(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := request.RequireString("job_id")
		if err != nil {
			return mcp.NewToolResultError("job_id is required"), nil
		}

		body, status, err := apiGet(ctx, client, apiURL, "/v1/jobs/"+jobID+"/status")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("status request failed: %v", err)), nil
		}
		if status != http.StatusOK {
			return mcp.NewToolResultError(errorMessage(body)), nil
		}

		var pretty bytes.Buffer
		if err := json.Indent(&pretty, body, "", "  "); err != nil {
			pretty.Write(body)
		}
		return mcp.NewToolResultText(pretty.String()), nil
	}
}

func handleJobResult(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := request.RequireString("job_id")
		if err != nil {
			return mcp.NewToolResultError("job_id is required"), nil
		}
		return fetchResult(ctx, client, apiURL, jobID)
	}
}

func handleListJobs(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path := "/v1/jobs"
		if limit := request.GetInt("limit", 0); limit > 0 {
			path = fmt.Sprintf("%s?limit=%d", path, limit)
		}

		body, status, err := apiGet(ctx, client, apiURL, path)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list request failed: %v", err)), nil
		}
		if status != http.StatusOK {
			return mcp.NewToolResultError(errorMessage(body)), nil
		}

		var list listResponse
		if err := json.Unmarshal(body, &list); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse list response: %v", err)), nil
		}

		if len(list.Jobs) == 0 {
			return mcp.NewToolResultText("No jobs found."), nil
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("%d jobs:\n\n", len(list.Jobs)))
		for _, j := range list.Jobs {
			sb.WriteString(fmt.Sprintf("%s  %-9s  %s  (submitted %s)\n", j.ID, j.State, j.URL, j.Submitted))
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleCancelJob(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := request.RequireString("job_id")
		if err != nil {
			return mcp.NewToolResultError("job_id is required"), nil
		}

		body, status, err := apiPost(ctx, client, apiURL, "/v1/jobs/"+jobID+"/cancel", nil)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("cancel request failed: %v", err)), nil
		}
		if status != http.StatusOK {
			return mcp.NewToolResultError(errorMessage(body)), nil
		}

		var out struct {
			JobID string `json:"job_id"`
			State string `json:"state"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse cancel response: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Job %s cancelled (state: %s)", out.JobID, out.State)), nil
	}
}
