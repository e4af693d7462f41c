package draft

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/servicedesk_bot/backend/internal/models"
)

const dateLayout = "2006-01-02T00:00Z"

var dateInputLayouts = []string{
	"2006-01-02T15:04Z",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02",
}

func (s *Store) normalize(field models.Field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", &ValidationError{Field: field, Reason: "empty value"}
	}

	switch field {
	case models.FieldDirection:
		if s.Catalog == nil {
			return value, nil
		}
		canonical, ok := s.Catalog.Get().CanonicalDirection(value)
		if !ok {
			return "", &ValidationError{Field: field, Reason: "unknown direction " + strconv.Quote(value)}
		}
		return canonical, nil
	case models.FieldPhone:
		return NormalizePhone(value)
	case models.FieldDate:
		return NormalizeDate(value)
	case models.FieldLatitude, models.FieldLongitude:
		v, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", "."), 64)
		if err != nil {
			return "", &ValidationError{Field: field, Reason: "not a number"}
		}
		if field == models.FieldLatitude && (v < -90 || v > 90) {
			return "", &ValidationError{Field: field, Reason: "latitude out of range"}
		}
		if field == models.FieldLongitude && (v < -180 || v > 180) {
			return "", &ValidationError{Field: field, Reason: "longitude out of range"}
		}
		return formatCoord(v), nil
	}
	return value, nil
}

// NormalizePhone keeps digits only and requires at least ten of them.
func NormalizePhone(value string) (string, error) {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < minPhoneDigits {
		return "", &ValidationError{
			Field:  models.FieldPhone,
			Reason: "phone must contain at least " + strconv.Itoa(minPhoneDigits) + " digits",
		}
	}
	return digits, nil
}

// NormalizeDate accepts a calendar date with an optional time part and
// returns it as yyyy-mm-ddT00:00Z.
func NormalizeDate(value string) (string, error) {
	value = strings.TrimFunc(value, unicode.IsSpace)
	for _, layout := range dateInputLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(dateLayout), nil
		}
	}
	return "", &ValidationError{Field: models.FieldDate, Reason: "expected yyyy-mm-dd"}
}
