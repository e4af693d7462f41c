package tools

import (
	"context"
	"fmt"

	"github.com/servicedesk_bot/backend/internal/geocode"
	"github.com/servicedesk_bot/backend/internal/models"
)

type addressArgs struct {
	Address string `json:"address" validate:"required"`
}

type gpsArgs struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

const resendAddressText = "Не удалось определить адрес. Попросите клиента прислать адрес еще раз в формате «город, улица, дом» или отправить геолокацию."

func registerLocationTools(r *Registry, d *Deps) {
	r.Register(Define(SaveAddress,
		"Сохраняет адрес клиента (город, улица, дом). Определяет координаты и зону обслуживания.",
		object([]string{"address"}, map[string]any{"address": stringProp("Адрес: город, улица, дом")}),
		func(ctx context.Context, chatID int64, a addressArgs) (Result, error) {
			res, err := d.Geocoder.Geocode(ctx, a.Address)
			if err != nil {
				d.Logger.Warn().Err(err).Int64("chat_id", chatID).Msg("address geocoding failed")
				return failure(resendAddressText), nil
			}
			return d.saveLocation(ctx, chatID, res.Lat, res.Lon, geocode.NormalizeAddress(a.Address))
		}))

	r.Register(Define(SaveGPS,
		"Сохраняет геолокацию клиента по координатам. Определяет адрес и зону обслуживания.",
		object([]string{"latitude", "longitude"}, map[string]any{
			"latitude":  numberProp("Широта"),
			"longitude": numberProp("Долгота"),
		}),
		func(ctx context.Context, chatID int64, a gpsArgs) (Result, error) {
			res, err := d.Geocoder.Reverse(ctx, a.Latitude, a.Longitude)
			if err != nil {
				d.Logger.Warn().Err(err).Int64("chat_id", chatID).Msg("reverse geocoding failed")
				return failure(resendAddressText), nil
			}
			return d.saveLocation(ctx, chatID, a.Latitude, a.Longitude, res.DisplayName)
		}))
}

func (d *Deps) saveLocation(ctx context.Context, chatID int64, lat, lon float64, address string) (Result, error) {
	if err := d.Drafts.SaveLocation(ctx, chatID, lat, lon, address); err != nil {
		d.Logger.Error().Err(err).Int64("chat_id", chatID).Msg("saving location failed")
		return failure(resendAddressText), nil
	}
	zone := d.Zones.Classify(lat, lon)
	d.Logger.Info().Int64("chat_id", chatID).Str("branch", zone.BranchName).
		Float64("distance_km", zone.DistanceKm).Str("tier", string(zone.Tier)).Msg("address classified")
	return d.zoneResult(zone, "Адрес пользователя был сохранен в заявку: "+address), nil
}

// zoneResult turns a classification into the instruction for the model.
func (d *Deps) zoneResult(zone models.ZoneClassification, okText string) Result {
	switch zone.Tier {
	case models.TierInZone:
		return success(okText)
	case models.TierFreeDispatchBoundaryExceeded:
		phone := d.Catalog.Get().SupportPhone
		if b, found := d.Catalog.Get().Branch(zone.BranchName); found && b.Phone != "" {
			phone = b.Phone
		}
		return failure(fmt.Sprintf(
			"Адрес находится за границей бесплатного выезда филиала %s (%.0f км). "+
				"Прекратите сбор данных для заявки и сообщите клиенту телефон %s для оформления выезда.",
			zone.BranchName, zone.DistanceKm, phone))
	default:
		return failure(fmt.Sprintf(
			"Адрес находится вне зоны обслуживания (ближайший филиал %s, %.0f км). "+
				"Прекратите оформление заявки и вежливо сообщите клиенту, что мы не обслуживаем этот адрес.",
			zone.BranchName, zone.DistanceKm))
	}
}
