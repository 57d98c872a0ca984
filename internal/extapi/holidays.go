package extapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"wishbot/pkg/logx"
)

const defaultHolidayBaseURL = "https://calendarific.com/api/v2"

// HolidayFact is one holiday as reported by the calendar provider.
// Never persisted; fetched fresh each reconciliation day.
type HolidayFact struct {
	Name    string
	ISODate string // "2006-01-02"
}

// HolidayClient fetches a month's holidays from the Calendarific API.
type HolidayClient struct {
	httpc   *http.Client
	retrier *Retrier
	baseURL string
	apiKey  string
	country string
	log     logx.Logger
}

type HolidayClientConfig struct {
	APIKey  string
	Country string
	BaseURL string // empty means the public Calendarific endpoint
}

func NewHolidayClient(cfg HolidayClientConfig, retrier *Retrier, log logx.Logger) *HolidayClient {
	base := cfg.BaseURL
	if base == "" {
		base = defaultHolidayBaseURL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HolidayClient{
		httpc:   &http.Client{Timeout: 10 * time.Second},
		retrier: retrier,
		baseURL: base,
		apiKey:  cfg.APIKey,
		country: cfg.Country,
		log:     log,
	}
}

type holidayResponse struct {
	Response struct {
		Holidays []struct {
			Name string `json:"name"`
			Date struct {
				ISO string `json:"iso"`
			} `json:"date"`
		} `json:"holidays"`
	} `json:"response"`
}

// MonthHolidays fetches every holiday of (year, month) under the retry
// policy. On exhaustion it returns the aggregated failure; callers degrade
// to zero announcements with an operator warning.
func (c *HolidayClient) MonthHolidays(ctx context.Context, year, month int) ([]HolidayFact, error) {
	return Call(ctx, c.retrier, "calendar lookup", func(ctx context.Context) ([]HolidayFact, error) {
		return c.fetch(ctx, year, month)
	})
}

func (c *HolidayClient) fetch(ctx context.Context, year, month int) ([]HolidayFact, error) {
	q := url.Values{}
	q.Set("api_key", c.apiKey)
	q.Set("country", c.country)
	q.Set("year", strconv.Itoa(year))
	q.Set("month", strconv.Itoa(month))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/holidays?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar provider returned status %d", resp.StatusCode)
	}

	var body holidayResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode holiday response: %w", err)
	}

	out := make([]HolidayFact, 0, len(body.Response.Holidays))
	for _, h := range body.Response.Holidays {
		// The provider pads the iso field with a time part for some
		// observances; only the date portion matters for matching.
		iso := h.Date.ISO
		if len(iso) > 10 {
			iso = iso[:10]
		}
		out = append(out, HolidayFact{Name: h.Name, ISODate: iso})
	}
	return out, nil
}
