package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/relaymesh/relay/internal/artifact"
)

// Searcher is the artifact lookup surface retrieval.search runs over.
type Searcher interface {
	Search(threadID, query string, limit int) []artifact.SearchResult
}

// RegisterBuiltins installs the built-in capabilities. retrieval.search
// needs the artifact searcher; http.fetch is self-contained.
func RegisterBuiltins(reg *Registry, searcher Searcher) error {
	if err := reg.Register(searchCapability(), searchHandler(searcher)); err != nil {
		return fmt.Errorf("register retrieval.search: %w", err)
	}
	if err := reg.Register(fetchCapability(), fetchHandler()); err != nil {
		return fmt.Errorf("register http.fetch: %w", err)
	}
	return nil
}

func searchCapability() Capability {
	return Capability{
		Name:        "retrieval.search",
		Version:     "v1",
		Description: "Full-text search over stored artifacts in a thread",
		ArgsSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Search query"},
				"limit": {"type": "integer", "default": 10}
			},
			"required": ["query"]
		}`),
		Cacheable: true,
		CacheTTL:  5 * time.Minute,
	}
}

type searchArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func searchHandler(searcher Searcher) Handler {
	return HandlerFunc(func(ctx context.Context, req Request) (*Output, error) {
		var args searchArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, fmt.Errorf("invalid args: %w", err)
		}
		if args.Query == "" {
			return nil, fmt.Errorf("query is required")
		}
		if args.Limit <= 0 {
			args.Limit = 10
		}
		if args.Limit > 50 {
			args.Limit = 50
		}

		results := searcher.Search(req.ThreadID, args.Query, args.Limit)

		content, err := json.MarshalIndent(map[string]any{
			"query":   args.Query,
			"count":   len(results),
			"results": results,
		}, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode results: %w", err)
		}

		return &Output{
			Name:    "search-" + safeFilename(args.Query),
			Type:    artifact.TypeJSON,
			Content: content,
		}, nil
	})
}

func fetchCapability() Capability {
	return Capability{
		Name:        "http.fetch",
		Version:     "v1",
		Description: "Fetch a URL and store the response body as an artifact",
		ArgsSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url":    {"type": "string", "description": "URL to fetch"},
				"method": {"type": "string", "default": "GET"}
			},
			"required": ["url"]
		}`),
		Cacheable: true,
		CacheTTL:  10 * time.Minute,
	}
}

type fetchArgs struct {
	URL    string `json:"url"`
	Method string `json:"method"`
}

const maxFetchBytes = 10 * 1024 * 1024

func fetchHandler() Handler {
	return HandlerFunc(func(ctx context.Context, req Request) (*Output, error) {
		var args fetchArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, fmt.Errorf("invalid args: %w", err)
		}
		if args.URL == "" {
			return nil, fmt.Errorf("url is required")
		}
		if args.Method == "" {
			args.Method = http.MethodGet
		}
		if !strings.HasPrefix(args.URL, "http://") && !strings.HasPrefix(args.URL, "https://") {
			return nil, fmt.Errorf("only http/https URLs are supported")
		}

		httpReq, err := http.NewRequestWithContext(ctx, args.Method, args.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("User-Agent", "relay/1.0")

		resp, err := http.DefaultClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("http status %d from %s", resp.StatusCode, args.URL)
		}

		typ := artifact.TypeText
		mime := resp.Header.Get("Content-Type")
		switch {
		case strings.Contains(mime, "json"):
			typ = artifact.TypeJSON
		case strings.Contains(mime, "html"):
			typ = artifact.TypeHTML
		case strings.Contains(mime, "markdown"):
			typ = artifact.TypeMarkdown
		}

		return &Output{
			Name:    "fetch-" + safeFilename(args.URL),
			Type:    typ,
			Mime:    mime,
			Content: body,
		}, nil
	})
}

func safeFilename(s string) string {
	r := strings.NewReplacer(
		"https://", "", "http://", "",
		"/", "-", "?", "-", "&", "-", "=", "-",
		".", "-", ":", "-", " ", "-",
	)
	name := r.Replace(s)
	if len(name) > 40 {
		name = name[:40]
	}
	return name
}
