// Package kraken is a minimal client for the Kraken public REST API: server time
// and OHLC candles. Responses are read with gjson and prices are parsed as
// decimals before being narrowed to float64.
//
// Usage example:
//
//	kc := kraken.NewClient(kraken.Config{Timeout: 10 * time.Second})
//	batch, err := kc.FetchOHLC(ctx, model.NewPair("XBT", "EUR", ""), 0, 15)
//	if errors.Is(err, model.ErrTransient) { /* retry */ }
package kraken

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"signal-engine/internal/model"
)

// ---- Config & client ----

// DefaultBaseURL is the production REST root.
const DefaultBaseURL = "https://api.kraken.com"

// Config configures a Client.
type Config struct {
	BaseURL   string        // default: https://api.kraken.com
	Timeout   time.Duration // default: 10s
	UserAgent string        // default: signal-engine
}

// Client implements model.MarketData over HTTP.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client

	// OnRequest is called after every request with the route name, an outcome
	// label ("ok", "transient", "malformed") and the round-trip time.
	OnRequest func(route, outcome string, d time.Duration)
}

var routes = map[string]string{
	"public.time": "/0/public/Time",
	"public.ohlc": "/0/public/OHLC",
}

// NewClient returns a client with defaults applied.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "signal-engine"
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// FetchServerTime returns result.unixtime.
func (c *Client) FetchServerTime(ctx context.Context) (int64, error) {
	res, err := c.get(ctx, "public.time", nil)
	if err != nil {
		return 0, err
	}
	ts := res.Get("unixtime")
	if ts.Type != gjson.Number {
		return 0, fmt.Errorf("%w: time: missing result.unixtime", model.ErrMalformedResponse)
	}
	return ts.Int(), nil
}

// FetchOHLC returns the candles under result.<pair.ResultKey> committed after since.
func (c *Client) FetchOHLC(ctx context.Context, pair model.Pair, since int64, intervalMinutes int) (model.OHLCBatch, error) {
	params := url.Values{}
	params.Set("pair", pair.Name)
	params.Set("interval", strconv.Itoa(intervalMinutes))
	if since > 0 {
		params.Set("since", strconv.FormatInt(since, 10))
	}
	res, err := c.get(ctx, "public.ohlc", params)
	if err != nil {
		return model.OHLCBatch{}, err
	}

	rows := res.Get(gjson.Escape(pair.ResultKey))
	if !rows.IsArray() {
		return model.OHLCBatch{}, fmt.Errorf("%w: ohlc: missing result.%s", model.ErrMalformedResponse, pair.ResultKey)
	}
	var batch model.OHLCBatch
	for i, row := range rows.Array() {
		cd, err := parseCandle(row)
		if err != nil {
			return model.OHLCBatch{}, fmt.Errorf("%w: ohlc row %d: %v", model.ErrMalformedResponse, i, err)
		}
		batch.Candles = append(batch.Candles, cd)
	}
	return batch, nil
}

// parseCandle decodes [time, open, high, low, close, vwap, volume, count].
func parseCandle(row gjson.Result) (model.Candle, error) {
	f := row.Array()
	if len(f) != 8 {
		return model.Candle{}, fmt.Errorf("expected 8 fields, got %d", len(f))
	}
	if f[0].Type != gjson.Number || f[7].Type != gjson.Number {
		return model.Candle{}, errors.New("time and count must be numbers")
	}
	var prices [6]float64
	for i := range prices {
		d, err := decimal.NewFromString(f[i+1].String())
		if err != nil {
			return model.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		prices[i] = d.InexactFloat64()
	}
	ts := f[0].Int()
	return model.Candle{
		ID:     ts,
		Time:   ts,
		Open:   prices[0],
		High:   prices[1],
		Low:    prices[2],
		Close:  prices[3],
		VWAP:   prices[4],
		Volume: prices[5],
		Count:  f[7].Int(),
	}, nil
}

// get performs a GET and returns the "result" object, classifying every failure
// as model.ErrTransient or model.ErrMalformedResponse.
func (c *Client) get(ctx context.Context, route string, params url.Values) (res gjson.Result, err error) {
	start := time.Now()
	defer func() {
		if c.OnRequest != nil {
			c.OnRequest(route, outcome(err), time.Since(start))
		}
	}()

	reqURL := c.baseURL + routes[route]
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %s: %v", model.ErrMalformedResponse, route, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %s: %v", model.ErrTransient, route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %s: read body: %v", model.ErrTransient, route, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return gjson.Result{}, fmt.Errorf("%w: %s: http %d", model.ErrTransient, route, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("%w: %s: http %d", model.ErrMalformedResponse, route, resp.StatusCode)
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("%w: %s: invalid JSON", model.ErrMalformedResponse, route)
	}

	doc := gjson.ParseBytes(raw)
	if apiErrs := doc.Get("error").Array(); len(apiErrs) > 0 {
		msgs := make([]string, len(apiErrs))
		for i, e := range apiErrs {
			msgs[i] = e.String()
		}
		kind := model.ErrMalformedResponse
		if isTransientAPIError(msgs) {
			kind = model.ErrTransient
		}
		return gjson.Result{}, fmt.Errorf("%w: %s: %s", kind, route, strings.Join(msgs, ", "))
	}
	result := doc.Get("result")
	if !result.IsObject() {
		return gjson.Result{}, fmt.Errorf("%w: %s: missing result", model.ErrMalformedResponse, route)
	}
	return result, nil
}

// isTransientAPIError reports Kraken errors that clear by themselves: service
// unavailability, server-side rate limiting and temporary lockouts.
func isTransientAPIError(msgs []string) bool {
	for _, m := range msgs {
		switch {
		case strings.HasPrefix(m, "EService:"),
			strings.HasPrefix(m, "EAPI:Rate limit"),
			strings.HasPrefix(m, "EGeneral:Temporary lockout"):
			return true
		}
	}
	return false
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrTransient):
		return "transient"
	default:
		return "malformed"
	}
}
