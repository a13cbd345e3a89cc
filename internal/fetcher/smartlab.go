package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html"

	"bond-alerts/internal/bond"
)

const defaultBaseURL = "https://smart-lab.ru/q/bonds/"

// Column markers in the source table. The page is Russian; headers carry
// line breaks and markup, so matching is substring-based.
const (
	headerName     = "Имя"
	headerYield    = "Доходн"
	headerRating   = "Рейтинг"
	headerMaturity = "Лет до"
	headerPrice    = "Цена"
)

var isinFromTitle = regexp.MustCompile(`\(([A-Z0-9]{8,12})\)\s*$`)

// SmartLabOptions parameterise the bond table fetcher.
type SmartLabOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	TopCount  int
}

// SmartLab scrapes the smart-lab.ru corporate bond table and returns the
// top instruments by yield to maturity.
type SmartLab struct {
	opts   SmartLabOptions
	logger zerolog.Logger
	client *http.Client
}

// NewSmartLab constructs the bond table fetcher.
func NewSmartLab(opts SmartLabOptions, logger zerolog.Logger) *SmartLab {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.TopCount <= 0 {
		opts.TopCount = 10
	}

	return &SmartLab{
		opts:   opts,
		logger: logger.With().Str("component", "smartlab_fetcher").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch downloads and parses the bond table. Schema drift fails closed as
// Malformed instead of guessing at column meaning.
func (f *SmartLab) Fetch(ctx context.Context) ([]bond.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.opts.BaseURL, nil)
	if err != nil {
		return nil, errMalformed(err)
	}
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errUnreachable(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errRateLimited(fmt.Errorf("source throttled: %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, errUnreachable(fmt.Errorf("source error: %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, errMalformed(fmt.Errorf("unexpected status: %d", resp.StatusCode))
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, errMalformed(fmt.Errorf("parse html: %w", err))
	}

	observedAt := time.Now().UTC()
	snapshots, err := parseBondTable(doc, observedAt)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(snapshots, func(i, j int) bool {
		return snapshots[i].YieldPct.GreaterThan(snapshots[j].YieldPct)
	})
	if len(snapshots) > f.opts.TopCount {
		snapshots = snapshots[:f.opts.TopCount]
	}

	f.logger.Debug().Int("instruments", len(snapshots)).Msg("bond table fetched")
	return snapshots, nil
}

type columnIndex struct {
	name     int
	yield    int
	rating   int
	maturity int
	price    int
}

func parseBondTable(doc *html.Node, observedAt time.Time) ([]bond.Snapshot, error) {
	table := findBondTable(doc)
	if table == nil {
		return nil, errMalformed(fmt.Errorf("bond table not found in page"))
	}

	rows := findAll(table, "tr")
	if len(rows) < 2 {
		return nil, errMalformed(fmt.Errorf("bond table has no data rows"))
	}

	cols, err := locateColumns(rows[0])
	if err != nil {
		return nil, err
	}

	var snapshots []bond.Snapshot
	for _, row := range rows[1:] {
		cells := findAll(row, "td")
		if len(cells) <= cols.yield || len(cells) <= cols.name {
			continue
		}

		instrument, ok := parseInstrumentCell(cells[cols.name])
		if !ok {
			continue
		}

		yield, err := parsePercent(nodeText(cells[cols.yield]))
		if err != nil {
			return nil, errMalformed(fmt.Errorf("row %q: parse yield: %w", instrument.ISIN, err))
		}

		snap := bond.Snapshot{
			Instrument: instrument,
			YieldPct:   yield,
			ObservedAt: observedAt,
		}
		if cols.rating >= 0 && cols.rating < len(cells) {
			snap.Rating = strings.TrimSpace(nodeText(cells[cols.rating]))
		}
		if cols.maturity >= 0 && cols.maturity < len(cells) {
			if years, err := parseRuDecimal(nodeText(cells[cols.maturity])); err == nil {
				snap.YearsToMaturity = years
			}
		}
		if cols.price >= 0 && cols.price < len(cells) {
			if price, err := parsePercent(nodeText(cells[cols.price])); err == nil {
				snap.Price = price
			}
		}

		snapshots = append(snapshots, snap)
	}

	if len(snapshots) == 0 {
		return nil, errMalformed(fmt.Errorf("no bond rows parsed"))
	}
	return snapshots, nil
}

// findBondTable walks the document for a table containing the yield and
// rating headers; the page carries several unrelated tables.
func findBondTable(doc *html.Node) *html.Node {
	for _, table := range findAll(doc, "table") {
		text := nodeText(table)
		if strings.Contains(text, headerYield) && strings.Contains(text, headerRating) {
			return table
		}
	}
	return nil
}

func locateColumns(headerRow *html.Node) (columnIndex, error) {
	cols := columnIndex{name: -1, yield: -1, rating: -1, maturity: -1, price: -1}
	for i, th := range findAll(headerRow, "th") {
		text := nodeText(th)
		switch {
		case strings.Contains(text, headerName):
			cols.name = i
		case strings.Contains(text, headerYield):
			cols.yield = i
		case strings.Contains(text, headerRating):
			cols.rating = i
		case strings.Contains(text, headerMaturity):
			cols.maturity = i
		case strings.Contains(text, headerPrice) && cols.price < 0:
			cols.price = i
		}
	}
	if cols.name < 0 || cols.yield < 0 {
		return cols, errMalformed(fmt.Errorf("required columns missing from bond table"))
	}
	return cols, nil
}

// parseInstrumentCell reads the name anchor. The full issue name plus ISIN
// lives in the title attribute, the short display name in the anchor text.
func parseInstrumentCell(cell *html.Node) (bond.Instrument, bool) {
	anchors := findAll(cell, "a")
	if len(anchors) == 0 {
		return bond.Instrument{}, false
	}

	a := anchors[0]
	name := strings.TrimSpace(nodeText(a))
	if name == "" {
		return bond.Instrument{}, false
	}

	isin := ""
	if title := attrValue(a, "title"); title != "" {
		if m := isinFromTitle.FindStringSubmatch(strings.TrimSpace(title)); m != nil {
			isin = m[1]
		}
	}
	if isin == "" {
		// No ISIN in the markup; fall back to the display name so the
		// instrument still has a stable identity.
		isin = name
	}

	return bond.Instrument{ISIN: isin, Name: name}, true
}

// parsePercent parses values like "14,25%" with Russian decimal commas.
func parsePercent(raw string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(strings.ReplaceAll(raw, "%", ""))
	return parseRuDecimal(cleaned)
}

func parseRuDecimal(raw string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	if cleaned == "" || cleaned == "-" {
		return decimal.Decimal{}, fmt.Errorf("empty numeric cell")
	}
	return decimal.NewFromString(cleaned)
}

func findAll(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == tag {
			out = append(out, node)
			if tag == "table" {
				return
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	if n.Type == html.ElementNode && n.Data == tag {
		out = append([]*html.Node{n}, out...)
	}
	return out
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

func attrValue(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

var _ SnapshotFetcher = (*SmartLab)(nil)
