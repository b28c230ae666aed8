package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// ECBDefaultURL is the ECB data portal endpoint for the EXR dataflow.
const ECBDefaultURL = "https://data-api.ecb.europa.eu/service/data/EXR"

const euro = "EUR"

// ecbResponse is the subset of the SDMX-JSON payload the client reads.
type ecbResponse struct {
	DataSets []struct {
		Series map[string]struct {
			Observations map[string][]*float64 `json:"observations"`
		} `json:"series"`
	} `json:"dataSets"`
	Structure struct {
		Dimensions struct {
			Observation []struct {
				ID     string `json:"id"`
				Values []struct {
					ID string `json:"id"`
				} `json:"values"`
			} `json:"observation"`
		} `json:"dimensions"`
	} `json:"structure"`
}

// ECBClient fetches daily euro reference rates. Cross rates between two
// non-euro currencies are derived through EUR.
type ECBClient struct {
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
	lookback int
	logger   *slog.Logger
}

type ECBOption func(*ECBClient)

func WithHTTPClient(c *http.Client) ECBOption {
	return func(e *ECBClient) { e.client = c }
}

// WithRateLimit caps outgoing requests per second; zero or less disables the cap.
func WithRateLimit(perSecond float64) ECBOption {
	return func(e *ECBClient) {
		if perSecond <= 0 {
			e.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithLookback sets how many days before the as-of date are searched for
// the latest published observation.
func WithLookback(days int) ECBOption {
	return func(e *ECBClient) {
		if days > 0 {
			e.lookback = days
		}
	}
}

func NewECBClient(baseURL string, logger *slog.Logger, opts ...ECBOption) *ECBClient {
	if baseURL == "" {
		baseURL = ECBDefaultURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &ECBClient{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(5), 1),
		lookback: 5,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FetchRate returns how many units of quote one unit of base buys on the
// last ECB observation on or before asOf.
func (e *ECBClient) FetchRate(ctx context.Context, base, quote string, asOf time.Time) (Quote, error) {
	if base == quote {
		return Quote{Rate: decimal.NewFromInt(1), ObservedOn: asOf}, nil
	}
	baseLeg, err := e.perEuro(ctx, base, asOf)
	if err != nil {
		return Quote{}, err
	}
	quoteLeg, err := e.perEuro(ctx, quote, asOf)
	if err != nil {
		return Quote{}, err
	}
	observed := baseLeg.ObservedOn
	if quoteLeg.ObservedOn.Before(observed) {
		observed = quoteLeg.ObservedOn
	}
	return Quote{
		Rate:       quoteLeg.Rate.DivRound(baseLeg.Rate, 10),
		ObservedOn: observed,
	}, nil
}

// perEuro returns the amount of currency per one euro.
func (e *ECBClient) perEuro(ctx context.Context, currency string, asOf time.Time) (Quote, error) {
	if currency == euro {
		return Quote{Rate: decimal.NewFromInt(1), ObservedOn: asOf}, nil
	}
	q := url.Values{}
	q.Set("startPeriod", asOf.AddDate(0, 0, -e.lookback).Format(dateLayout))
	q.Set("endPeriod", asOf.Format(dateLayout))
	q.Set("format", "jsondata")
	endpoint := fmt.Sprintf("%s/D.%s.EUR.SP00.A?%s", e.baseURL, url.PathEscape(currency), q.Encode())

	raw, err := e.get(ctx, endpoint)
	if err != nil {
		return Quote{}, err
	}
	var resp ecbResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Quote{}, fmt.Errorf("decode ecb response: %w", err)
	}
	return latestObservation(resp, currency, asOf)
}

func latestObservation(resp ecbResponse, currency string, asOf time.Time) (Quote, error) {
	var periods []string
	for _, dim := range resp.Structure.Dimensions.Observation {
		if dim.ID == "TIME_PERIOD" {
			for _, v := range dim.Values {
				periods = append(periods, v.ID)
			}
		}
	}
	type obs struct {
		date  time.Time
		value float64
	}
	var found []obs
	for _, ds := range resp.DataSets {
		for _, series := range ds.Series {
			for idx, values := range series.Observations {
				i, err := strconv.Atoi(idx)
				if err != nil || i < 0 || i >= len(periods) || len(values) == 0 || values[0] == nil {
					continue
				}
				d, err := time.Parse(dateLayout, periods[i])
				if err != nil || d.After(asOf) {
					continue
				}
				found = append(found, obs{date: d, value: *values[0]})
			}
		}
	}
	if len(found) == 0 {
		return Quote{}, fmt.Errorf("no ecb observation for %s on or before %s", currency, asOf.Format(dateLayout))
	}
	sort.Slice(found, func(a, b int) bool { return found[a].date.Before(found[b].date) })
	last := found[len(found)-1]
	return Quote{Rate: decimal.NewFromFloat(last.value), ObservedOn: last.date}, nil
}

func (e *ECBClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	reqID := uuid.New().String()
	start := time.Now()

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		e.logger.Error("fx.http.build_request_error", "req_id", reqID, "error", err)
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	e.logger.Debug("fx.http.request", "req_id", reqID, "url", endpoint)
	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Warn("fx.http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			e.logger.Warn("fx.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	e.logger.Debug("fx.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("ecb non-2xx status: %d", resp.StatusCode)
	}
	return raw, nil
}
