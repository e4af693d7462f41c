package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

type NominatimGeocoder struct {
	BaseURL     string
	UserAgent   string
	MinInterval time.Duration
	Client      *http.Client

	once    sync.Once
	limiter *rate.Limiter
	group   singleflight.Group

	mu    sync.Mutex
	cache map[string]Result
}

type nominatimItem struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Importance  float64 `json:"importance"`
	Error       string  `json:"error,omitempty"`
}

func (g *NominatimGeocoder) Name() string { return "nominatim" }

func (g *NominatimGeocoder) init() {
	g.once.Do(func() {
		if g.Client == nil {
			g.Client = &http.Client{Timeout: 10 * time.Second}
		}
		if g.BaseURL == "" {
			g.BaseURL = "https://nominatim.openstreetmap.org"
		}
		if g.UserAgent == "" {
			g.UserAgent = "servicedesk-bot"
		}
		if g.MinInterval <= 0 {
			g.MinInterval = time.Second
		}
		g.limiter = rate.NewLimiter(rate.Every(g.MinInterval), 1)
		g.cache = map[string]Result{}
	})
}

func (g *NominatimGeocoder) Geocode(ctx context.Context, query string) (Result, error) {
	g.init()
	endpoint := fmt.Sprintf("%s/search?q=%s&format=json&addressdetails=1&limit=1&accept-language=ru",
		g.BaseURL, url.QueryEscape(query))
	return g.lookup(ctx, "q:"+query, endpoint, true)
}

func (g *NominatimGeocoder) Reverse(ctx context.Context, lat, lon float64) (Result, error) {
	g.init()
	la := strconv.FormatFloat(lat, 'f', 6, 64)
	lo := strconv.FormatFloat(lon, 'f', 6, 64)
	endpoint := fmt.Sprintf("%s/reverse?lat=%s&lon=%s&format=json&accept-language=ru", g.BaseURL, la, lo)
	return g.lookup(ctx, "r:"+la+","+lo, endpoint, false)
}

func (g *NominatimGeocoder) lookup(ctx context.Context, key, endpoint string, list bool) (Result, error) {
	g.mu.Lock()
	if cached, ok := g.cache[key]; ok {
		g.mu.Unlock()
		return cached, nil
	}
	g.mu.Unlock()

	v, err, _ := g.group.Do(key, func() (any, error) {
		g.mu.Lock()
		cached, ok := g.cache[key]
		g.mu.Unlock()
		if ok {
			return cached, nil
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return Result{}, err
		}
		items, err := g.fetch(ctx, endpoint, list)
		if err != nil {
			return Result{}, err
		}
		result, err := parseNominatimItems(items)
		if err != nil {
			return Result{}, err
		}
		g.mu.Lock()
		g.cache[key] = result
		g.mu.Unlock()
		return result, nil
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (g *NominatimGeocoder) fetch(ctx context.Context, endpoint string, list bool) ([]nominatimItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", g.UserAgent)

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("nominatim http error: %s", resp.Status)
	}

	if list {
		var items []nominatimItem
		if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var item nominatimItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, err
	}
	if item.Error != "" {
		return nil, nil
	}
	return []nominatimItem{item}, nil
}

func parseNominatimItems(items []nominatimItem) (Result, error) {
	if len(items) == 0 {
		return Result{}, ErrNotFound
	}
	lat, err := strconv.ParseFloat(items[0].Lat, 64)
	if err != nil {
		return Result{}, err
	}
	lon, err := strconv.ParseFloat(items[0].Lon, 64)
	if err != nil {
		return Result{}, err
	}
	result := Result{
		Lat:         lat,
		Lon:         lon,
		DisplayName: items[0].DisplayName,
		Confidence:  items[0].Importance,
	}
	if result.Lat == 0 && result.Lon == 0 && result.DisplayName == "" {
		return Result{}, ErrNotFound
	}
	return result, nil
}
