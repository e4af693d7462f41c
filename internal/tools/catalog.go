package tools

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/servicedesk_bot/backend/internal/config"
	"github.com/servicedesk_bot/backend/internal/draft"
	"github.com/servicedesk_bot/backend/internal/geocode"
	"github.com/servicedesk_bot/backend/internal/models"
	"github.com/servicedesk_bot/backend/internal/onec"
)

const (
	SaveName          = "save_name"
	SaveDirection     = "save_direction"
	SaveCircumstances = "save_circumstances"
	SaveBrand         = "save_brand"
	SavePhone         = "save_phone"
	SaveAddress       = "save_address"
	SaveGPS           = "save_gps"
	SaveAddressLine2  = "save_address_line_2"
	SaveDate          = "save_date"
	SaveComment       = "save_comment"
	CreateRequest     = "create_request"
	RequestSelection  = "request_selection"
	ModifyRequest     = "modify_request"
)

type Geocoder interface {
	Geocode(ctx context.Context, address string) (geocode.Result, error)
	Reverse(ctx context.Context, lat, lon float64) (geocode.Result, error)
}

type ZoneClassifier interface {
	Classify(lat, lon float64) models.ZoneClassification
}

type Backend interface {
	Create(ctx context.Context, order onec.Order) error
	Lookup(ctx context.Context, partnerNumber string) ([]models.ExistingTicket, error)
	ReadForModification(ctx context.Context, number string) (onec.Revision, error)
	Modify(ctx context.Context, rev onec.Revision, comment, phone string) error
}

type Limiter interface {
	Acquire(ctx context.Context, chatID int64, limit int) (int, error)
	Release(ctx context.Context, chatID int64) error
}

// Deps is everything the tool handlers need.
type Deps struct {
	Drafts   *draft.Store
	Geocoder Geocoder
	Zones    ZoneClassifier
	Backend  Backend
	Limiter  Limiter
	Catalog  *config.CatalogHolder
	DailyCap int
	Logger   zerolog.Logger
	Now      func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// New builds the full tool catalog.
func New(d *Deps) *Registry {
	r := NewRegistry()
	registerFieldTools(r, d)
	registerLocationTools(r, d)
	registerTicketTools(r, d)
	return r
}
