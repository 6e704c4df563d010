package ingestion

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/guttosm/spimexpulse/internal/domain/models"
	"github.com/guttosm/spimexpulse/internal/fetcher"
	"github.com/guttosm/spimexpulse/internal/logger"
)

const (
	// bulletinTitle is the anchor text of oil-products bulletins on the results page.
	bulletinTitle = "Бюллетень по итогам торгов в Секции «Нефтепродукты»"

	tradeDateLayout = "02.01.2006" // DD.MM.YYYY
)

var tradeDatePattern = regexp.MustCompile(`(\d{2})\.(\d{2})\.(\d{4})`)

// BulletinLocator lists bulletins available for download, newest first.
type BulletinLocator interface {
	Locate(ctx context.Context, maxResults int, earliest time.Time) ([]models.BulletinRef, error)
}

// Locator crawls the paginated results listing of the exchange website.
type Locator struct {
	fetcher    fetcher.Fetcher
	baseURL    string
	resultsURL string
}

// NewLocator builds a Locator reading listing pages under resultsURL.
// Relative bulletin links resolve against baseURL, or against the listing
// page itself when baseURL is empty.
func NewLocator(f fetcher.Fetcher, baseURL, resultsURL string) *Locator {
	return &Locator{fetcher: f, baseURL: baseURL, resultsURL: resultsURL}
}

// listingLink is a bulletin anchor with the text of the first <span> that follows it.
type listingLink struct {
	href     string
	dateText string
}

// Locate walks listing pages starting at page 1 and collects bulletin links.
//
// Behavior:
//   - Stops when maxResults references are collected or a page yields none.
//   - Returns immediately, without the offending entry, on the first date whose
//     year is before earliest's year. Listing order is newest first, so nothing
//     after it can qualify.
//   - Links without a parsable DD.MM.YYYY date are skipped.
//   - A failed page fetch aborts the whole crawl.
func (l *Locator) Locate(ctx context.Context, maxResults int, earliest time.Time) ([]models.BulletinRef, error) {
	if maxResults <= 0 {
		return nil, nil
	}

	refs := make([]models.BulletinRef, 0, maxResults)
	cutoffYear := earliest.Year()

	for page := 1; len(refs) < maxResults; page++ {
		pageURL, err := l.pageURL(page)
		if err != nil {
			return nil, err
		}

		body, err := l.fetcher.GetPage(ctx, pageURL)
		if err != nil {
			return nil, eris.Wrapf(err, "fetch listing page %d", page)
		}

		links, err := parseListing(body)
		if err != nil {
			return nil, eris.Wrapf(err, "parse listing page %d", page)
		}

		base, err := l.linkBase(pageURL)
		if err != nil {
			return nil, err
		}
		found := 0
		for _, link := range links {
			m := tradeDatePattern.FindStringSubmatch(link.dateText)
			if m == nil {
				continue
			}

			year, _ := strconv.Atoi(m[3])
			if year < cutoffYear {
				logger.L().Debug().Int("page", page).Str("date", m[0]).Int("collected", len(refs)).Msg("reached date cutoff")
				return refs, nil
			}

			date, err := time.Parse(tradeDateLayout, m[0])
			if err != nil {
				logger.L().Warn().Str("href", link.href).Str("date", m[0]).Err(err).Msg("skipping bulletin with invalid date")
				continue
			}

			abs, err := base.Parse(link.href)
			if err != nil {
				logger.L().Warn().Str("href", link.href).Err(err).Msg("skipping bulletin with invalid href")
				continue
			}

			refs = append(refs, models.BulletinRef{URL: abs.String(), TradeDate: date})
			found++
			if len(refs) >= maxResults {
				break
			}
		}

		logger.L().Debug().Int("page", page).Int("found", found).Int("collected", len(refs)).Msg("listing page scanned")
		if found == 0 {
			break
		}
	}

	return refs, nil
}

// pageURL returns the bare results URL for page 1 and ?page=page-N otherwise.
func (l *Locator) pageURL(page int) (string, error) {
	if page <= 1 {
		return l.resultsURL, nil
	}
	u, err := url.Parse(l.resultsURL)
	if err != nil {
		return "", eris.Wrapf(err, "parse results url %q", l.resultsURL)
	}
	q := u.Query()
	q.Set("page", fmt.Sprintf("page-%d", page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (l *Locator) linkBase(pageURL string) (*url.URL, error) {
	raw := l.baseURL
	if raw == "" {
		raw = pageURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, eris.Wrapf(err, "parse base url %q", raw)
	}
	return u, nil
}

// parseListing returns every anchor whose text contains the bulletin title,
// paired with the text of the next <span> element in document order.
func parseListing(body string) ([]listingLink, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	var elements []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			elements = append(elements, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var links []listingLink
	for i, n := range elements {
		if n.DataAtom != atom.A {
			continue
		}
		href, ok := attr(n, "href")
		if !ok || !strings.Contains(textContent(n), bulletinTitle) {
			continue
		}

		link := listingLink{href: href}
		for _, next := range elements[i+1:] {
			if next.DataAtom == atom.Span {
				link.dateText = strings.TrimSpace(textContent(next))
				break
			}
		}
		links = append(links, link)
	}
	return links, nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
