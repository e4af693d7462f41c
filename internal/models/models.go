package models

import (
	"encoding/json"
	"time"
)

// DraftSchemaVersion is written into every stored draft unit.
const DraftSchemaVersion = 1

type Field string

const (
	FieldName          Field = "name"
	FieldDirection     Field = "direction"
	FieldCircumstances Field = "circumstances"
	FieldBrand         Field = "brand"
	FieldPhone         Field = "phone"
	FieldLatitude      Field = "latitude"
	FieldLongitude     Field = "longitude"
	FieldAddress       Field = "address"
	FieldAddressLine2  Field = "address_line_2"
	FieldDate          Field = "date"
	FieldComment       Field = "comment"
)

// Fields lists every field a draft can hold, in display order.
var Fields = []Field{
	FieldName,
	FieldDirection,
	FieldCircumstances,
	FieldBrand,
	FieldPhone,
	FieldLatitude,
	FieldLongitude,
	FieldAddress,
	FieldAddressLine2,
	FieldDate,
	FieldComment,
}

func (f Field) Valid() bool {
	for _, known := range Fields {
		if f == known {
			return true
		}
	}
	return false
}

// DraftRequest is the not-yet-submitted service ticket of one chat.
// Empty strings mean "not set".
type DraftRequest struct {
	SchemaVersion int    `json:"schema_version"`
	ChatID        int64  `json:"chat_id"`
	Name          string `json:"name,omitempty"`
	Direction     string `json:"direction,omitempty"`
	Circumstances string `json:"circumstances,omitempty"`
	Brand         string `json:"brand,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Latitude      string `json:"latitude,omitempty"`
	Longitude     string `json:"longitude,omitempty"`
	Address       string `json:"address,omitempty"`
	AddressLine2  string `json:"address_line_2,omitempty"`
	Date          string `json:"date,omitempty"`
	Comment       string `json:"comment,omitempty"`
}

func (d DraftRequest) Get(f Field) string {
	switch f {
	case FieldName:
		return d.Name
	case FieldDirection:
		return d.Direction
	case FieldCircumstances:
		return d.Circumstances
	case FieldBrand:
		return d.Brand
	case FieldPhone:
		return d.Phone
	case FieldLatitude:
		return d.Latitude
	case FieldLongitude:
		return d.Longitude
	case FieldAddress:
		return d.Address
	case FieldAddressLine2:
		return d.AddressLine2
	case FieldDate:
		return d.Date
	case FieldComment:
		return d.Comment
	}
	return ""
}

func (d *DraftRequest) Set(f Field, value string) {
	switch f {
	case FieldName:
		d.Name = value
	case FieldDirection:
		d.Direction = value
	case FieldCircumstances:
		d.Circumstances = value
	case FieldBrand:
		d.Brand = value
	case FieldPhone:
		d.Phone = value
	case FieldLatitude:
		d.Latitude = value
	case FieldLongitude:
		d.Longitude = value
	case FieldAddress:
		d.Address = value
	case FieldAddressLine2:
		d.AddressLine2 = value
	case FieldDate:
		d.Date = value
	case FieldComment:
		d.Comment = value
	}
}

// Values returns only the fields that are set.
func (d DraftRequest) Values() map[Field]string {
	out := map[Field]string{}
	for _, f := range Fields {
		if v := d.Get(f); v != "" {
			out[f] = v
		}
	}
	return out
}

func (d DraftRequest) Empty() bool {
	return len(d.Values()) == 0
}

// DraftUnit is one stored field value.
type DraftUnit struct {
	Version int    `json:"v"`
	Type    Field  `json:"type"`
	Text    string `json:"text"`
	Date    int64  `json:"date"`
}

type TicketRef struct {
	PartnerNumber string    `json:"partner_number"`
	Number        string    `json:"number,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ChatMeta is the per-chat bookkeeping kept next to the draft.
type ChatMeta struct {
	LastMessageID int64       `json:"last_message_id"`
	HistoryCutoff time.Time   `json:"history_cutoff"`
	Tickets       []TicketRef `json:"tickets,omitempty"`
}

type Ban struct {
	ChatID int64     `json:"chat_id"`
	Reason string    `json:"reason"`
	Until  time.Time `json:"until"`
}

func (b Ban) Active(now time.Time) bool {
	return b.Until.IsZero() || now.Before(b.Until)
}

type ZoneTier string

const (
	TierInZone                       ZoneTier = "in_zone"
	TierFreeDispatchBoundaryExceeded ZoneTier = "free_dispatch_boundary_exceeded"
	TierOutOfServiceArea             ZoneTier = "out_of_service_area"
)

type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

type Branch struct {
	Name           string  `json:"name" yaml:"name"`
	Phone          string  `json:"phone" yaml:"phone"`
	InZoneKm       float64 `json:"in_zone_km" yaml:"in_zone_km"`
	FreeDispatchKm float64 `json:"free_dispatch_km" yaml:"free_dispatch_km"`
	Boundary       []Point `json:"boundary" yaml:"boundary"`
}

type ZoneClassification struct {
	DistanceKm float64  `json:"distance_km"`
	BranchName string   `json:"branch_name"`
	Tier       ZoneTier `json:"tier"`
}

// ToolInvocation is one entry of a turn's tool trace.
type ToolInvocation struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Result    string          `json:"result"`
	Failed    bool            `json:"failed,omitempty"`
}

type ToolTrace []ToolInvocation

// Last returns the most recent invocation, if any.
func (t ToolTrace) Last() (ToolInvocation, bool) {
	if len(t) == 0 {
		return ToolInvocation{}, false
	}
	return t[len(t)-1], true
}

func (t ToolTrace) Contains(name string) bool {
	for _, inv := range t {
		if inv.Name == name {
			return true
		}
	}
	return false
}

func (t ToolTrace) Names() []string {
	out := make([]string, 0, len(t))
	for _, inv := range t {
		out = append(out, inv.Name)
	}
	return out
}

type MessageKind string

const (
	KindText     MessageKind = "text"
	KindLocation MessageKind = "location"
	KindContact  MessageKind = "contact"
	KindAudio    MessageKind = "audio"
)

// InboundMessage is what the transport layer hands to the service.
type InboundMessage struct {
	ChatID    int64       `json:"chat_id" validate:"required"`
	MessageID int64       `json:"message_id" validate:"required"`
	UserName  string      `json:"user_name"`
	Kind      MessageKind `json:"kind" validate:"required,oneof=text location contact audio"`
	Text      string      `json:"text,omitempty"`
	Latitude  float64     `json:"latitude,omitempty"`
	Longitude float64     `json:"longitude,omitempty"`
	Phone     string      `json:"phone,omitempty"`
	AudioPath string      `json:"audio_path,omitempty"`
	Service   bool        `json:"service,omitempty"`
}

type ChatMessage struct {
	ChatID    int64     `json:"chat_id"`
	MessageID int64     `json:"message_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	UserName  string    `json:"user_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ExistingTicket is one row of a ticket lookup against the backend.
type ExistingTicket struct {
	ID       string `json:"id"`
	Date     string `json:"date"`
	Division string `json:"division"`
}
