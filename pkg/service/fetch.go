package service

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/go-resty/resty/v2"

	errorsx "github.com/docuflow/ingest-backend/pkg/errors"
	"github.com/docuflow/ingest-backend/pkg/queue"
)

const fetchTimeout = 30 * time.Second

var (
	scriptStyleRE = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRE         = regexp.MustCompile(`<[^>]+>`)
)

type restyFetcher struct {
	client *resty.Client
}

// NewFetcher returns the HTTP-backed Fetcher used for website webhooks.
func NewFetcher() Fetcher {
	return &restyFetcher{
		client: resty.New().SetTimeout(fetchTimeout),
	}
}

func (f *restyFetcher) Fetch(ctx context.Context, url string, authContext map[string]string) (string, error) {
	req := f.client.R().SetContext(ctx)
	if token, ok := authContext["token"]; ok {
		req.SetAuthToken(token)
	}
	resp, err := req.Get(url)
	if err != nil {
		return "", errorsx.Classify(fmt.Errorf("fetching %s: %w", url, err), errorsx.Transient)
	}
	if resp.IsError() {
		err := fmt.Errorf("fetching %s: status %d", url, resp.StatusCode())
		switch resp.StatusCode() {
		case 429, 502, 503, 504:
			return "", errorsx.Classify(err, errorsx.Transient)
		default:
			return "", errorsx.Classify(err, errorsx.Permanent)
		}
	}
	return StripHTML(resp.String()), nil
}

// StripHTML reduces an HTML page to its visible text.
func StripHTML(html string) string {
	text := scriptStyleRE.ReplaceAllString(html, " ")
	text = tagRE.ReplaceAllString(text, " ")
	return CleanText(text)
}

// SourceFetcher resolves the fetcher for a webhook source. SharePoint,
// Confluence and Jira connectors authenticate through their own APIs;
// until those are wired they return deterministic placeholder content so
// webhooks from every known source still flow into ingestion.
type SourceFetcher struct {
	website Fetcher
}

func NewSourceFetcher(website Fetcher) *SourceFetcher {
	return &SourceFetcher{website: website}
}

func (s *SourceFetcher) Fetch(ctx context.Context, sourceType queue.SourceType, url string, authContext map[string]string) (string, error) {
	switch sourceType {
	case queue.SourceWebsite:
		return s.website.Fetch(ctx, url, authContext)
	case queue.SourceSharePoint, queue.SourceConfluence, queue.SourceJira:
		// TODO: replace with real connector clients once credentials
		// for these sources are provisioned.
		return fmt.Sprintf("%s resource at %s", sourceType, url), nil
	default:
		return "", errorsx.Classify(fmt.Errorf("unknown source type %q", sourceType), errorsx.Permanent)
	}
}
