package builtin

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gchuyun/function-server/internal/toolregistry"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36 Edg/121.0.0.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:123.0) Gecko/20100101 Firefox/123.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_12_5; rv:123.0esr) Gecko/20100101 Firefox/123.0esr",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36 Edg/123.0.0.0",
}

const maxSearchResults = 10

const webSearchSchema = `{
  "type": "object",
  "properties": {
    "input": {
      "type": "string",
      "description": "The search query."
    }
  },
  "required": ["input"]
}`

// searchHit is one {url, text} result, matching the original tool's return
// shape.
type searchHit struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// engineURL builds the search results page URL for the configured engine.
func engineURL(engine, query string) string {
	q := url.QueryEscape(query)
	if strings.EqualFold(engine, "google") {
		return "https://www.google.com/search?q=" + q
	}
	return "https://www.bing.com/search?q=" + q
}

// resultPattern extracts {url, snippet} pairs out of raw search-results
// HTML. Both Bing and Google render results as an anchor immediately
// followed, within the same result block, by a snippet paragraph; this
// pattern is loose on purpose since the exact markup drifts, and a missed
// match just means fewer hits, not a wrong one.
var resultPattern = regexp.MustCompile(`(?is)<a[^>]+href="(https?://[^"]+)"[^>]*>.*?</a>.*?<(?:div|p|span)[^>]*>([^<]{20,400})</(?:div|p|span)>`)

// WebSearch returns the web_search tool: a live search against the
// configured engine's results page, scraped with a rotating User-Agent to
// reduce blocking, matching the original tool's "useful when you need to
// answer questions about current events" description.
func WebSearch(engine func() string, client *http.Client) toolregistry.Tool {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if engine == nil {
		engine = func() string { return "bing" }
	}

	return toolregistry.Tool{
		Name:        "web_search",
		Description: "a search engine. useful when you need to answer questions about current events or are unsure or uncertain about certain things. input should be a search query.",
		SchemaJSON:  webSearchSchema,
		Metadata:    toolregistry.Metadata{Category: "web", Source: "builtin"},
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["input"].(string)
			if query == "" {
				return nil, fmt.Errorf("web_search: missing required argument %q", "input")
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, engineURL(engine(), query), nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])

			resp, err := client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
			if err != nil {
				return nil, err
			}

			var hits []searchHit
			for _, m := range resultPattern.FindAllStringSubmatch(string(body), -1) {
				hits = append(hits, searchHit{URL: m[1], Text: strings.TrimSpace(m[2])})
				if len(hits) >= maxSearchResults {
					break
				}
			}
			return hits, nil
		},
	}
}
