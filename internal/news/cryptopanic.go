package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// CryptoPanicSource fetches recent headlines for a symbol from the
// CryptoPanic posts API and renders them as a short bulleted blob the Deep
// Advisor can drop straight into a prompt.
type CryptoPanicSource struct {
	apiKey string
	client *http.Client
}

func NewCryptoPanicSource(apiKey string) *CryptoPanicSource {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.Logger = nil
	return &CryptoPanicSource{apiKey: apiKey, client: retryClient.StandardClient()}
}

type cryptoPanicResponse struct {
	Results []struct {
		Title  string `json:"title"`
		Source struct {
			Title string `json:"title"`
		} `json:"source"`
		PublishedAt string `json:"published_at"`
		Votes       struct {
			Positive int `json:"positive"`
			Negative int `json:"negative"`
		} `json:"votes"`
	} `json:"results"`
}

func (s *CryptoPanicSource) Get(ctx context.Context, symbol, coinName string, maxItems int) (string, error) {
	if s.apiKey == "" {
		return "No recent news available.", nil
	}

	url := fmt.Sprintf("https://cryptopanic.com/api/v1/posts/?auth_token=%s&currencies=%s&filter=hot",
		s.apiKey, strings.ToUpper(coinName))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build news request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch news: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read news response: %w", err)
	}

	var parsed cryptoPanicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse news response: %w", err)
	}

	if len(parsed.Results) == 0 {
		return "No recent news available.", nil
	}
	if maxItems > 0 && len(parsed.Results) > maxItems {
		parsed.Results = parsed.Results[:maxItems]
	}

	var b strings.Builder
	for _, item := range parsed.Results {
		sentiment := "neutral"
		total := item.Votes.Positive + item.Votes.Negative
		if total > 0 {
			score := float64(item.Votes.Positive-item.Votes.Negative) / float64(total)
			switch {
			case score > 0.2:
				sentiment = "positive"
			case score < -0.2:
				sentiment = "negative"
			}
		}
		published := item.PublishedAt
		if t, err := time.Parse(time.RFC3339, item.PublishedAt); err == nil {
			published = t.Format("Jan 2 15:04")
		}
		fmt.Fprintf(&b, "- [%s] %s (%s, %s)\n", published, item.Title, item.Source.Title, sentiment)
	}

	return b.String(), nil
}

var _ Source = (*CryptoPanicSource)(nil)
