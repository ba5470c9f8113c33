package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tradeforge/tradeforge/internal/core"
)

const defaultBaseURL = "https://api.binance.com"

// KlineProvider fetches OHLCV bars from a Binance-compatible kline API.
type KlineProvider struct {
	client  *http.Client
	baseURL string
}

// NewKlineProvider creates a provider against the public endpoint.
func NewKlineProvider() *KlineProvider {
	return &KlineProvider{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: defaultBaseURL,
	}
}

// NewKlineProviderWithBaseURL creates a provider with a custom base URL
// (for testing).
func NewKlineProviderWithBaseURL(url string) *KlineProvider {
	p := NewKlineProvider()
	p.baseURL = url
	return p
}

func (p *KlineProvider) GetBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]core.Bar, error) {
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&startTime=%d&endTime=%d&limit=1000",
		p.baseURL, symbol, toInterval(interval), start.UnixMilli(), end.UnixMilli())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, core.WrapError(core.ErrData, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, core.WrapError(core.ErrData, fmt.Errorf("fetching bars: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, core.WrapError(core.ErrData, fmt.Errorf("unexpected status: %d", resp.StatusCode))
	}

	var klines [][]any
	if err := json.NewDecoder(resp.Body).Decode(&klines); err != nil {
		return nil, core.WrapError(core.ErrData, fmt.Errorf("decoding response: %w", err))
	}

	bars := make([]core.Bar, 0, len(klines))
	for _, k := range klines {
		if len(k) < 6 {
			continue
		}
		openTime, _ := k[0].(float64)
		openStr, _ := k[1].(string)
		highStr, _ := k[2].(string)
		lowStr, _ := k[3].(string)
		closeStr, _ := k[4].(string)
		volumeStr, _ := k[5].(string)

		open, _ := strconv.ParseFloat(openStr, 64)
		high, _ := strconv.ParseFloat(highStr, 64)
		low, _ := strconv.ParseFloat(lowStr, 64)
		closePrice, _ := strconv.ParseFloat(closeStr, 64)
		volume, _ := strconv.ParseFloat(volumeStr, 64)

		bars = append(bars, core.Bar{
			Symbol:   symbol,
			Interval: interval,
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closePrice,
			Volume:   volume,
			Time:     time.UnixMilli(int64(openTime)),
		})
	}
	if len(bars) == 0 {
		return nil, core.WrapError(core.ErrNoData,
			fmt.Errorf("%s %s between %s and %s", symbol, interval, start.Format(time.RFC3339), end.Format(time.RFC3339)))
	}
	return bars, nil
}

func toInterval(interval string) string {
	switch interval {
	case "1m", "5m", "15m", "30m", "1h", "2h", "4h", "1d", "1w":
		return interval
	default:
		return "1d"
	}
}
