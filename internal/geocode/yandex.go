package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// YandexGeocoder talks to the Yandex HTTP geocoder (format=json).
type YandexGeocoder struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

type yandexResponse struct {
	Response struct {
		Collection struct {
			FeatureMember []struct {
				GeoObject struct {
					Point struct {
						Pos string `json:"pos"`
					} `json:"Point"`
					MetaDataProperty struct {
						GeocoderMetaData struct {
							Precision string `json:"precision"`
							Text      string `json:"text"`
						} `json:"GeocoderMetaData"`
					} `json:"metaDataProperty"`
				} `json:"GeoObject"`
			} `json:"featureMember"`
		} `json:"GeoObjectCollection"`
	} `json:"response"`
}

func (y *YandexGeocoder) Name() string { return "yandex" }

func (y *YandexGeocoder) Geocode(ctx context.Context, query string) (Result, error) {
	return y.lookup(ctx, query)
}

func (y *YandexGeocoder) Reverse(ctx context.Context, lat, lon float64) (Result, error) {
	// Yandex expects "lon,lat".
	geocode := strconv.FormatFloat(lon, 'f', 6, 64) + "," + strconv.FormatFloat(lat, 'f', 6, 64)
	return y.lookup(ctx, geocode)
}

func (y *YandexGeocoder) lookup(ctx context.Context, geocode string) (Result, error) {
	if y.APIKey == "" {
		return Result{}, fmt.Errorf("yandex geocoder: api key is not configured")
	}
	base := y.BaseURL
	if base == "" {
		base = "https://geocode-maps.yandex.ru/1.x/"
	}
	client := y.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	q := url.Values{}
	q.Set("apikey", y.APIKey)
	q.Set("geocode", geocode)
	q.Set("format", "json")
	q.Set("results", "1")
	q.Set("lang", "ru_RU")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return Result{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("yandex http error: %s", resp.Status)
	}

	var body yandexResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{}, err
	}
	return parseYandexResponse(body)
}

func parseYandexResponse(body yandexResponse) (Result, error) {
	members := body.Response.Collection.FeatureMember
	if len(members) == 0 {
		return Result{}, ErrNotFound
	}
	obj := members[0].GeoObject
	fields := strings.Fields(obj.Point.Pos)
	if len(fields) != 2 {
		return Result{}, fmt.Errorf("yandex: unexpected point %q", obj.Point.Pos)
	}
	lon, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Result{}, err
	}
	lat, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Result{}, err
	}
	confidence := 0.5
	switch obj.MetaDataProperty.GeocoderMetaData.Precision {
	case "exact":
		confidence = 1
	case "number", "near":
		confidence = 0.8
	}
	return Result{
		Lat:         lat,
		Lon:         lon,
		DisplayName: obj.MetaDataProperty.GeocoderMetaData.Text,
		Confidence:  confidence,
	}, nil
}
