package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/servicedesk_bot/backend/internal/draft"
	"github.com/servicedesk_bot/backend/internal/models"
)

type nameArgs struct {
	Name string `json:"name" validate:"required"`
}

type directionArgs struct {
	Direction string `json:"direction" validate:"required"`
}

type circumstancesArgs struct {
	Circumstances string `json:"circumstances" validate:"required"`
}

type brandArgs struct {
	Brand string `json:"brand" validate:"required"`
}

type phoneArgs struct {
	Phone string `json:"phone" validate:"required"`
}

type addressLine2Args struct {
	AddressLine2 string `json:"address_line_2" validate:"required"`
}

type dateArgs struct {
	Date string `json:"date" validate:"required"`
}

type commentArgs struct {
	Comment string `json:"comment" validate:"required"`
}

func registerFieldTools(r *Registry, d *Deps) {
	r.Register(Define(SaveName,
		"Сохраняет имя клиента в заявку.",
		object([]string{"name"}, map[string]any{"name": stringProp("Имя клиента")}),
		func(ctx context.Context, chatID int64, a nameArgs) (Result, error) {
			return d.saveField(ctx, chatID, models.FieldName, a.Name, "Имя пользователя было сохранено в заявку")
		}))

	r.Register(Define(SaveDirection,
		"Сохраняет направление обращения (тип техники). Значение должно быть одним из допустимых.",
		d.directionSchema,
		func(ctx context.Context, chatID int64, a directionArgs) (Result, error) {
			return d.saveField(ctx, chatID, models.FieldDirection, a.Direction, "Направление обращения было сохранено в заявку")
		}))

	r.Register(Define(SaveCircumstances,
		"Сохраняет описание неисправности и обстоятельств поломки.",
		object([]string{"circumstances"}, map[string]any{"circumstances": stringProp("Что случилось с техникой")}),
		func(ctx context.Context, chatID int64, a circumstancesArgs) (Result, error) {
			return d.saveField(ctx, chatID, models.FieldCircumstances, a.Circumstances, "Обстоятельства поломки были сохранены в заявку")
		}))

	r.Register(Define(SaveBrand,
		"Сохраняет марку техники.",
		object([]string{"brand"}, map[string]any{"brand": stringProp("Марка техники, например Bosch")}),
		func(ctx context.Context, chatID int64, a brandArgs) (Result, error) {
			return d.saveField(ctx, chatID, models.FieldBrand, a.Brand, "Марка техники была сохранена в заявку")
		}))

	r.Register(Define(SavePhone,
		"Сохраняет контактный телефон клиента.",
		object([]string{"phone"}, map[string]any{"phone": stringProp("Телефон, не менее 10 цифр")}),
		func(ctx context.Context, chatID int64, a phoneArgs) (Result, error) {
			return d.saveField(ctx, chatID, models.FieldPhone, a.Phone, "Телефон пользователя был сохранен в заявку")
		}))

	r.Register(Define(SaveAddressLine2,
		"Сохраняет квартиру, подъезд, этаж и код домофона.",
		object([]string{"address_line_2"}, map[string]any{"address_line_2": stringProp("Квартира, подъезд, этаж, домофон")}),
		func(ctx context.Context, chatID int64, a addressLine2Args) (Result, error) {
			return d.saveField(ctx, chatID, models.FieldAddressLine2, a.AddressLine2, "Вторая линия адреса пользователя была сохранена в заявку")
		}))

	r.Register(Define(SaveDate,
		"Сохраняет желаемую дату визита мастера.",
		object([]string{"date"}, map[string]any{"date": stringProp("Дата в формате yyyy-mm-dd")}),
		func(ctx context.Context, chatID int64, a dateArgs) (Result, error) {
			return d.saveField(ctx, chatID, models.FieldDate, a.Date, "Дата посещения была сохранена в заявку")
		}))

	r.Register(Define(SaveComment,
		"Добавляет комментарий к заявке. Повторные вызовы дописывают текст.",
		object([]string{"comment"}, map[string]any{"comment": stringProp("Комментарий клиента")}),
		func(ctx context.Context, chatID int64, a commentArgs) (Result, error) {
			return d.saveField(ctx, chatID, models.FieldComment, a.Comment, "Комментарий был сохранен в заявку")
		}))
}

func (d *Deps) directionSchema() map[string]any {
	directions := d.Catalog.Get().Directions
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"direction": map[string]any{
				"type":        "string",
				"description": "Тип техники",
				"enum":        directions,
			},
		},
		"required": []string{"direction"},
	}
}

func (d *Deps) saveField(ctx context.Context, chatID int64, field models.Field, value, okText string) (Result, error) {
	_, err := d.Drafts.SaveField(ctx, chatID, field, value)
	if err == nil {
		return success(okText), nil
	}
	var verr *draft.ValidationError
	if errors.As(err, &verr) {
		if field == models.FieldDirection {
			return failure("Направление «" + value + "» не поддерживается. Допустимые значения: " +
				strings.Join(d.Catalog.Get().Directions, ", ")), nil
		}
		return failure("Значение не сохранено: " + verr.Error()), nil
	}
	d.Logger.Error().Err(err).Int64("chat_id", chatID).Str("field", string(field)).Msg("draft write failed")
	return failure("Не удалось сохранить данные, попробуйте еще раз"), nil
}
