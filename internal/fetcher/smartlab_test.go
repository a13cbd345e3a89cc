package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const bondTableHTML = `<html><body>
<table><tr><th>nav</th></tr><tr><td>unrelated</td></tr></table>
<table>
<tr><th>№</th><th>Имя</th><th>Цена</th><th>Доходн<br/>к погаш.</th><th>Лет до<br/>погаш.</th><th>Рейтинг</th></tr>
<tr><td>1</td><td><a title="Выпуск Альфа (RU000A100001)" href="/q/bonds/a/">Альфа БО-01</a></td><td>91,5%</td><td>14,25%</td><td>2,3</td><td>BBB+</td></tr>
<tr><td>2</td><td><a title="Выпуск Бета (RU000A100002)" href="/q/bonds/b/">Бета 001P</a></td><td>98,1%</td><td>19,80%</td><td>1,1</td><td>BB</td></tr>
<tr><td>3</td><td><a title="Выпуск Гамма (RU000A100003)" href="/q/bonds/c/">Гамма-02</a></td><td>100,0%</td><td>11,05%</td><td>4,8</td><td>A</td></tr>
</table>
</body></html>`

func newTestFetcher(url string, top int) *SmartLab {
	return NewSmartLab(SmartLabOptions{
		BaseURL:   url,
		Timeout:   time.Second,
		UserAgent: "test",
		TopCount:  top,
	}, zerolog.Nop())
}

func fetchKind(t *testing.T, err error) Kind {
	t.Helper()
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T: %v", err, err)
	}
	return fe.Kind
}

func TestFetchParsesBondTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test" {
			t.Errorf("user agent not forwarded: %q", r.Header.Get("User-Agent"))
		}
		_, _ = w.Write([]byte(bondTableHTML))
	}))
	defer srv.Close()

	snaps, err := newTestFetcher(srv.URL, 10).Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(snaps))
	}

	// Sorted by yield descending.
	if snaps[0].Instrument.ISIN != "RU000A100002" {
		t.Fatalf("expected highest-yield bond first, got %s", snaps[0].Instrument.ISIN)
	}
	if !snaps[0].YieldPct.Equal(decimal.RequireFromString("19.80")) {
		t.Fatalf("comma decimal not parsed: %s", snaps[0].YieldPct)
	}
	if snaps[0].Instrument.Name != "Бета 001P" {
		t.Fatalf("unexpected name: %q", snaps[0].Instrument.Name)
	}
	if snaps[0].Rating != "BB" {
		t.Fatalf("unexpected rating: %q", snaps[0].Rating)
	}
	if !snaps[0].YearsToMaturity.Equal(decimal.RequireFromString("1.1")) {
		t.Fatalf("unexpected maturity: %s", snaps[0].YearsToMaturity)
	}
	if !snaps[0].Price.Equal(decimal.RequireFromString("98.1")) {
		t.Fatalf("unexpected price: %s", snaps[0].Price)
	}
	if snaps[2].Instrument.ISIN != "RU000A100003" {
		t.Fatalf("expected lowest-yield bond last, got %s", snaps[2].Instrument.ISIN)
	}
}

func TestFetchTruncatesToTopCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(bondTableHTML))
	}))
	defer srv.Close()

	snaps, err := newTestFetcher(srv.URL, 2).Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected top 2, got %d", len(snaps))
	}
	if snaps[0].Instrument.ISIN != "RU000A100002" || snaps[1].Instrument.ISIN != "RU000A100001" {
		t.Fatalf("truncation did not keep highest yields: %v, %v", snaps[0].Instrument.ISIN, snaps[1].Instrument.ISIN)
	}
}

func TestFetchRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestFetcher(srv.URL, 10).Fetch(context.Background())
	if kind := fetchKind(t, err); kind != RateLimited {
		t.Fatalf("expected RateLimited, got %s", kind)
	}
	if !IsRetryable(err) {
		t.Fatal("rate limiting should be retryable")
	}
}

func TestFetchServerErrorIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestFetcher(srv.URL, 10).Fetch(context.Background())
	if kind := fetchKind(t, err); kind != Unreachable {
		t.Fatalf("expected Unreachable, got %s", kind)
	}
}

func TestFetchConnectionRefusedIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestFetcher(url, 10).Fetch(context.Background())
	if kind := fetchKind(t, err); kind != Unreachable {
		t.Fatalf("expected Unreachable, got %s", kind)
	}
}

func TestFetchMissingTableIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body><p>redesigned page</p></body></html>"))
	}))
	defer srv.Close()

	_, err := newTestFetcher(srv.URL, 10).Fetch(context.Background())
	if kind := fetchKind(t, err); kind != Malformed {
		t.Fatalf("expected Malformed, got %s", kind)
	}
	if IsRetryable(err) {
		t.Fatal("malformed responses must not be retried")
	}
}

func TestFetchUnparsableYieldIsMalformed(t *testing.T) {
	broken := `<html><body><table>
<tr><th>Имя</th><th>Доходн</th><th>Рейтинг</th></tr>
<tr><td><a title="Выпуск (RU000A100001)">Бонд</a></td><td>n/a</td><td>BB</td></tr>
</table></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(broken))
	}))
	defer srv.Close()

	_, err := newTestFetcher(srv.URL, 10).Fetch(context.Background())
	if kind := fetchKind(t, err); kind != Malformed {
		t.Fatalf("expected Malformed, got %s", kind)
	}
}
