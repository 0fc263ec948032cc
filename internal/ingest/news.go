package ingest

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonesrussell/marketpulse/internal/domain"
	"github.com/jonesrussell/marketpulse/internal/logger"
)

// NewsConfig lists the RSS feeds the news pipeline polls.
type NewsConfig struct {
	Feeds []string `yaml:"feeds"`
}

// NewsFetcher polls RSS feeds and flattens their entries into content items.
type NewsFetcher struct {
	client *Client
	cfg    NewsConfig
	log    logger.Logger
}

// NewNewsFetcher builds the news adapter.
func NewNewsFetcher(client *Client, cfg NewsConfig, log logger.Logger) *NewsFetcher {
	return &NewsFetcher{client: client, cfg: cfg, log: log}
}

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	GUID        string `xml:"guid"`
}

// pubDateFormats covers the date layouts seen in the wild across feeds.
var pubDateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
}

// Fetch returns one item per feed entry across every configured feed. A feed
// that fails is logged and skipped; the fetch errors only when every feed
// failed.
func (f *NewsFetcher) Fetch(ctx context.Context) ([]domain.ContentItem, error) {
	var items []domain.ContentItem
	var lastErr error

	for _, feedURL := range f.cfg.Feeds {
		body, err := f.client.Get(ctx, feedURL)
		if err != nil {
			f.log.Warn("news feed failed", logger.String("feed", feedURL), logger.Error(err))
			lastErr = err
			continue
		}

		var feed rssFeed
		if err := xml.Unmarshal(body, &feed); err != nil {
			f.log.Warn("news feed unparsable", logger.String("feed", feedURL), logger.Error(err))
			lastErr = fmt.Errorf("parse feed %s: %w", feedURL, err)
			continue
		}

		source := strings.TrimSpace(feed.Channel.Title)
		if source == "" {
			source = feedHost(feedURL)
		}

		for _, entry := range feed.Channel.Items {
			title := strings.TrimSpace(entry.Title)
			if title == "" {
				continue
			}

			text := title
			if desc := stripHTML(entry.Description); desc != "" {
				text = title + ". " + desc
			}

			ts := parsePubDate(entry.PubDate)
			attrs := map[string]string{"title": title}
			if entry.Link != "" {
				attrs["url"] = entry.Link
			}

			items = append(items, domain.ContentItem{
				ID:         domain.ItemID(domain.TaskNews, source, ts, text),
				Kind:       domain.TaskNews,
				Source:     source,
				Timestamp:  ts,
				Text:       text,
				Attributes: attrs,
			})
		}
	}

	if len(items) == 0 && lastErr != nil {
		return nil, fmt.Errorf("news feeds: %w", lastErr)
	}

	f.log.Debug("news fetch complete", logger.Int("items", len(items)))
	return items, nil
}

// stripHTML flattens feed descriptions, which routinely embed markup, down
// to their visible text.
func stripHTML(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func parsePubDate(s string) int64 {
	s = strings.TrimSpace(s)
	for _, layout := range pubDateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix()
		}
	}
	return time.Now().Unix()
}

func feedHost(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return "rss"
	}
	return u.Host
}
