package onec

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/servicedesk_bot/backend/internal/models"
)

// DefaultClientName is sent when the customer never gave a name.
const DefaultClientName = "Не названо"

type OrderParams struct {
	Order Order `json:"order"`
}

type Order struct {
	PartnerNumber string         `json:"uslugi_id"`
	Client        OrderClient    `json:"client"`
	Services      []OrderService `json:"services"`
	DesiredDT     string         `json:"desired_dt"`
	Address       OrderAddress   `json:"address"`
	Comment       string         `json:"comment"`
	Brand         string         `json:"brand,omitempty"`
	Circumstances string         `json:"circumstances,omitempty"`
}

type OrderClient struct {
	DisplayName string `json:"display_name"`
	Phone       string `json:"phone"`
}

type OrderService struct {
	ServiceID string `json:"service_id"`
}

type OrderAddress struct {
	Name      string   `json:"name"`
	Floor     string   `json:"floor"`
	Entrance  string   `json:"entrance"`
	Apartment string   `json:"apartment"`
	Intercom  string   `json:"intercom"`
	Geopoint  Geopoint `json:"geopoint"`
}

type Geopoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewPartnerNumber returns a fresh order id in the form the proxy expects.
func NewPartnerNumber() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// BuildOrder maps a complete draft to the proxy payload. The comment is
// scrubbed before it leaves the process.
func BuildOrder(d models.DraftRequest, partnerNumber string) (Order, error) {
	lat, err := strconv.ParseFloat(d.Latitude, 64)
	if err != nil {
		return Order{}, err
	}
	lon, err := strconv.ParseFloat(d.Longitude, 64)
	if err != nil {
		return Order{}, err
	}
	name := strings.TrimSpace(d.Name)
	if name == "" {
		name = DefaultClientName
	}
	line2 := ParseAddressLine2(d.AddressLine2)
	return Order{
		PartnerNumber: partnerNumber,
		Client:        OrderClient{DisplayName: name, Phone: d.Phone},
		Services:      []OrderService{{ServiceID: d.Direction}},
		DesiredDT:     d.Date,
		Address: OrderAddress{
			Name:      d.Address,
			Floor:     line2.Floor,
			Entrance:  line2.Entrance,
			Apartment: line2.Apartment,
			Intercom:  line2.Intercom,
			Geopoint:  Geopoint{Latitude: lat, Longitude: lon},
		},
		Comment:       ScrubComment(d.Comment),
		Brand:         d.Brand,
		Circumstances: ScrubComment(d.Circumstances),
	}, nil
}

type AddressLine2 struct {
	Apartment string
	Entrance  string
	Floor     string
	Intercom  string
}

var (
	apartmentRe = regexp.MustCompile(`(?i)(?:квартира|кв\.?)\s*(\d+[а-яa-z]?)`)
	entranceRe  = regexp.MustCompile(`(?i)(?:подъезд|под\.)\s*(\d+)`)
	floorRe     = regexp.MustCompile(`(?i)(?:этаж|эт\.?)\s*(\d+)`)
	floorPreRe  = regexp.MustCompile(`(?i)(\d+)\s*(?:-?й\s*)?этаж`)
	intercomRe  = regexp.MustCompile(`(?i)(?:домофон|код)\s*([0-9a-zа-я#*]+)`)
)

// ParseAddressLine2 extracts apartment, entrance, floor and intercom from
// free text such as "кв 45, подъезд 3, этаж 10, домофон 45к7809".
func ParseAddressLine2(s string) AddressLine2 {
	var out AddressLine2
	if m := apartmentRe.FindStringSubmatch(s); m != nil {
		out.Apartment = m[1]
	}
	if m := entranceRe.FindStringSubmatch(s); m != nil {
		out.Entrance = m[1]
	}
	if m := floorRe.FindStringSubmatch(s); m != nil {
		out.Floor = m[1]
	} else if m := floorPreRe.FindStringSubmatch(s); m != nil {
		out.Floor = m[1]
	}
	if m := intercomRe.FindStringSubmatch(s); m != nil {
		out.Intercom = m[1]
	}
	return out
}

var (
	phoneLikeRe   = regexp.MustCompile(`(?:[+]?\d\D{0,2})?\d{3}\D{0,3}\d{3}\D{0,3}\d{2}\D{0,3}\d{2}`)
	privateWordRe = regexp.MustCompile(`(?i)(подъезд|этаж|эт\.|квартир[а-я]*|кв\.?|домофон|код)\s*(№\s*)?[0-9a-zа-я#*]*\d[0-9a-zа-я#*]*`)
	bareWordRe    = regexp.MustCompile(`(?i)(^|[^а-яёa-z])(подъезд[а-я]*|этаж[а-я]*|квартир[а-я]*|домофон[а-я]*|код[а-я]*)`)
	punctRunRe    = regexp.MustCompile(`\s*([,.;])(\s*[,.;])+`)
	spaceRunRe    = regexp.MustCompile(`\s{2,}`)
)

// ScrubComment removes phone numbers and apartment access details from
// text that is sent to the ticketing system.
func ScrubComment(s string) string {
	s = phoneLikeRe.ReplaceAllString(s, "")
	s = privateWordRe.ReplaceAllString(s, "")
	s = bareWordRe.ReplaceAllString(s, "$1")
	s = punctRunRe.ReplaceAllString(s, "$1")
	s = spaceRunRe.ReplaceAllString(s, " ")
	return strings.Trim(strings.TrimSpace(s), ",;")
}

func sortedKeys(m map[string][]models.ExistingTicket) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
