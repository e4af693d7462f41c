package tools

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/servicedesk_bot/backend/internal/draft"
	"github.com/servicedesk_bot/backend/internal/models"
	"github.com/servicedesk_bot/backend/internal/onec"
	"github.com/servicedesk_bot/backend/internal/throttle"
)

// requiredForCreate lists the draft fields a ticket cannot be created without.
var requiredForCreate = []models.Field{
	models.FieldDirection,
	models.FieldPhone,
	models.FieldLatitude,
	models.FieldLongitude,
	models.FieldAddress,
	models.FieldDate,
}

var fieldTitles = map[models.Field]string{
	models.FieldDirection: "направление (тип техники)",
	models.FieldPhone:     "телефон",
	models.FieldLatitude:  "координаты адреса",
	models.FieldLongitude: "координаты адреса",
	models.FieldAddress:   "адрес",
	models.FieldDate:      "дата визита",
}

const banText = "Превышен лимит создания заявок на сегодня. Новые заявки не принимаются."

type noArgs struct{}

type modifyArgs struct {
	Number string `json:"number" validate:"required"`
	Field  string `json:"field" validate:"required"`
	Value  string `json:"value" validate:"required"`
}

func registerTicketTools(r *Registry, d *Deps) {
	r.Register(Define(CreateRequest,
		"Создает заявку из сохраненных данных. Вызывайте только когда клиент подтвердил все данные.",
		object([]string{}, map[string]any{}),
		func(ctx context.Context, chatID int64, _ noArgs) (Result, error) {
			return d.createRequest(ctx, chatID)
		}))

	r.Register(Define(RequestSelection,
		"Показывает созданные клиентом заявки, чтобы выбрать одну для изменения. Вызывайте один раз перед modify_request.",
		object([]string{}, map[string]any{}),
		func(ctx context.Context, chatID int64, _ noArgs) (Result, error) {
			return d.requestSelection(ctx, chatID)
		}))

	r.Register(Define(ModifyRequest,
		"Изменяет созданную заявку. Можно изменить только comment или phone.",
		object([]string{"number", "field", "value"}, map[string]any{
			"number": stringProp("Номер заявки из request_selection"),
			"field": map[string]any{
				"type":        "string",
				"description": "Изменяемое поле",
				"enum":        []string{"comment", "phone"},
			},
			"value": stringProp("Новое значение"),
		}),
		func(ctx context.Context, chatID int64, a modifyArgs) (Result, error) {
			return d.modifyRequest(ctx, chatID, a)
		}))
}

// MissingForCreate returns the required fields the draft still lacks.
func MissingForCreate(dr models.DraftRequest) []models.Field {
	out := []models.Field{}
	for _, f := range requiredForCreate {
		if dr.Get(f) == "" {
			out = append(out, f)
		}
	}
	return out
}

func missingFields(dr models.DraftRequest) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range requiredForCreate {
		if dr.Get(f) != "" {
			continue
		}
		title := fieldTitles[f]
		if !seen[title] {
			seen[title] = true
			out = append(out, title)
		}
	}
	return out
}

func (d *Deps) createRequest(ctx context.Context, chatID int64) (Result, error) {
	dr, err := d.Drafts.Read(ctx, chatID)
	if err != nil {
		return Result{}, fmt.Errorf("read draft: %w", err)
	}
	if missing := missingFields(dr); len(missing) > 0 {
		return failure("Заявка не создана. Не хватает данных: " + strings.Join(missing, ", ") + ". Уточните их у клиента."), nil
	}

	lat, _ := strconv.ParseFloat(dr.Latitude, 64)
	lon, _ := strconv.ParseFloat(dr.Longitude, 64)
	zone := d.Zones.Classify(lat, lon)
	if zone.Tier != models.TierInZone {
		res := d.zoneResult(zone, "")
		res.Text = "Заявка не создана. " + res.Text
		return res, nil
	}

	if _, err := d.Limiter.Acquire(ctx, chatID, d.DailyCap); err != nil {
		if errors.Is(err, throttle.ErrLimitReached) {
			return Result{Text: banText, Signal: SignalBan, Failed: true}, nil
		}
		return Result{}, fmt.Errorf("acquire ticket slot: %w", err)
	}

	partner := onec.NewPartnerNumber()
	order, err := onec.BuildOrder(dr, partner)
	if err != nil {
		if rerr := d.Limiter.Release(ctx, chatID); rerr != nil {
			d.Logger.Error().Err(rerr).Int64("chat_id", chatID).Msg("release ticket slot failed")
		}
		return failure("Координаты адреса повреждены, сохраните адрес еще раз."), nil
	}
	if err := d.Backend.Create(ctx, order); err != nil {
		if rerr := d.Limiter.Release(ctx, chatID); rerr != nil {
			d.Logger.Error().Err(rerr).Int64("chat_id", chatID).Msg("release ticket slot failed")
		}
		return Result{}, fmt.Errorf("create ticket: %w", err)
	}

	number := ""
	if tickets, err := d.Backend.Lookup(ctx, partner); err != nil {
		d.Logger.Warn().Err(err).Int64("chat_id", chatID).Str("partner_number", partner).Msg("ticket number lookup failed")
	} else if len(tickets) > 0 {
		number = tickets[0].ID
	}

	ref := models.TicketRef{PartnerNumber: partner, Number: number, CreatedAt: d.now().UTC()}
	if err := d.Drafts.AddTicketRef(ctx, chatID, ref); err != nil {
		d.Logger.Error().Err(err).Int64("chat_id", chatID).Msg("remember ticket failed")
	}
	if err := d.Drafts.Clear(ctx, chatID); err != nil {
		d.Logger.Error().Err(err).Int64("chat_id", chatID).Msg("clear draft after creation failed")
	}

	d.Logger.Info().Int64("chat_id", chatID).Str("partner_number", partner).Str("number", number).Msg("ticket created")
	if number != "" {
		return success("Заявка была создана с номером " + number), nil
	}
	return success("Заявка была создана"), nil
}

func (d *Deps) requestSelection(ctx context.Context, chatID int64) (Result, error) {
	meta, err := d.Drafts.Meta(ctx, chatID)
	if err != nil {
		return Result{}, fmt.Errorf("read chat meta: %w", err)
	}
	if len(meta.Tickets) == 0 {
		return failure("У клиента нет созданных заявок."), nil
	}

	var (
		lines   []string
		updated = map[string]string{}
	)
	for i := len(meta.Tickets) - 1; i >= 0; i-- {
		ref := meta.Tickets[i]
		tickets, err := d.Backend.Lookup(ctx, ref.PartnerNumber)
		if err != nil {
			d.Logger.Warn().Err(err).Int64("chat_id", chatID).Str("partner_number", ref.PartnerNumber).Msg("ticket lookup failed")
			return failure("Не удалось получить список заявок, попробуйте позже."), nil
		}
		for _, t := range tickets {
			lines = append(lines, fmt.Sprintf("- заявка %s от %s (%s)", t.ID, t.Date, t.Division))
		}
		if ref.Number == "" && len(tickets) > 0 {
			updated[ref.PartnerNumber] = tickets[0].ID
		}
	}
	if len(updated) > 0 {
		_, err := d.Drafts.UpdateMeta(ctx, chatID, func(m *models.ChatMeta) error {
			for i := range m.Tickets {
				if n, found := updated[m.Tickets[i].PartnerNumber]; found {
					m.Tickets[i].Number = n
				}
			}
			return nil
		})
		if err != nil {
			d.Logger.Warn().Err(err).Int64("chat_id", chatID).Msg("saving resolved ticket numbers failed")
		}
	}
	if len(lines) == 0 {
		return failure("Заявки еще не зарегистрированы в системе, попробуйте позже."), nil
	}
	return success("Заявки клиента:\n" + strings.Join(lines, "\n") + "\nУточните у клиента, какую заявку изменить."), nil
}

func (d *Deps) modifyRequest(ctx context.Context, chatID int64, a modifyArgs) (Result, error) {
	field := strings.ToLower(strings.TrimSpace(a.Field))
	if field != "comment" && field != "phone" {
		return failure(fmt.Sprintf("Поле %q нельзя изменить. Можно изменить только comment или phone.", a.Field)), nil
	}

	meta, err := d.Drafts.Meta(ctx, chatID)
	if err != nil {
		return Result{}, fmt.Errorf("read chat meta: %w", err)
	}
	if !ownsTicket(meta, a.Number) {
		return failure("Заявка " + a.Number + " не найдена среди заявок клиента. Сначала вызовите request_selection."), nil
	}

	var comment, phone string
	switch field {
	case "comment":
		comment = onec.ScrubComment(a.Value)
		if comment == "" {
			return failure("Комментарий пуст после удаления личных данных."), nil
		}
	case "phone":
		phone, err = draft.NormalizePhone(a.Value)
		if err != nil {
			return failure("Телефон не изменен: " + err.Error()), nil
		}
	}

	rev, err := d.Backend.ReadForModification(ctx, a.Number)
	if err != nil {
		d.Logger.Warn().Err(err).Int64("chat_id", chatID).Str("number", a.Number).Msg("read ticket for modification failed")
		return failure("Не удалось получить заявку " + a.Number + " для изменения, попробуйте позже."), nil
	}
	if err := d.Backend.Modify(ctx, rev, comment, phone); err != nil {
		d.Logger.Warn().Err(err).Int64("chat_id", chatID).Str("number", a.Number).Msg("ticket modification failed")
		return failure("Не удалось изменить заявку " + a.Number + ", попробуйте позже."), nil
	}
	d.Logger.Info().Int64("chat_id", chatID).Str("number", a.Number).Str("field", field).Msg("ticket modified")
	return success("Заявка " + a.Number + " обновлена"), nil
}

func ownsTicket(meta models.ChatMeta, number string) bool {
	number = strings.TrimSpace(number)
	for _, t := range meta.Tickets {
		if t.Number == number || t.PartnerNumber == number {
			return true
		}
	}
	return false
}
