package geocode

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrNotFound = errors.New("geocode not found")

type Result struct {
	Lat         float64
	Lon         float64
	DisplayName string
	Confidence  float64
}

// Provider is one geocoding network.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, query string) (Result, error)
	Reverse(ctx context.Context, lat, lon float64) (Result, error)
}

type ProviderFailure struct {
	Provider string
	Err      error
}

// GeocodeError is returned when every provider failed.
type GeocodeError struct {
	Op       string
	Query    string
	Failures []ProviderFailure
}

func (e *GeocodeError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Provider+": "+f.Err.Error())
	}
	return fmt.Sprintf("%s %q failed: %s", e.Op, e.Query, strings.Join(parts, "; "))
}

// Unwrap exposes ErrNotFound when every provider simply had no match.
func (e *GeocodeError) Unwrap() error {
	if len(e.Failures) == 0 {
		return nil
	}
	for _, f := range e.Failures {
		if !errors.Is(f.Err, ErrNotFound) {
			return nil
		}
	}
	return ErrNotFound
}

var (
	prefixRe = regexp.MustCompile(`(?i)(^|[\s,])(?:(?:город|улица|дом)\s+|(?:гор|г|ул|пр|д)\.\s*)`)
	corpusRe = regexp.MustCompile(`(?i)(^|[\s,])(корпус|корп\.|к\.)\s*(\d+)`)
	buildRe  = regexp.MustCompile(`(?i)(^|[\s,])(строение|стр\.)\s*(\d+)`)
	spacesRe = regexp.MustCompile(`\s+`)
	commasRe = regexp.MustCompile(`\s*,[\s,]*`)
)

// NormalizeAddress strips street-type prefixes and compacts building
// qualifiers so that free text matches provider indexes better.
func NormalizeAddress(address string) string {
	s := strings.TrimSpace(address)
	s = corpusRe.ReplaceAllString(s, "${1}к$3")
	s = buildRe.ReplaceAllString(s, "${1}с$3")
	s = prefixRe.ReplaceAllString(s, "$1")
	s = spacesRe.ReplaceAllString(s, " ")
	s = commasRe.ReplaceAllString(s, ", ")
	return strings.Trim(s, " ,")
}

func BuildGeocodeQuery(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}
