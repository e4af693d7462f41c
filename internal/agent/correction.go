package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/servicedesk_bot/backend/internal/integrity"
	"github.com/servicedesk_bot/backend/internal/metrics"
	"github.com/servicedesk_bot/backend/internal/models"
	"github.com/servicedesk_bot/backend/internal/tools"
)

// SnapshotReader refreshes the draft and ticket list before a corrective
// re-run, since tools of the first run may have changed them.
type SnapshotReader interface {
	Read(ctx context.Context, chatID int64) (models.DraftRequest, error)
	Meta(ctx context.Context, chatID int64) (models.ChatMeta, error)
}

var claimTools = map[integrity.Claim]string{
	integrity.ClaimAddress: "сохранения адреса (save_address или save_gps)",
	integrity.ClaimCreated: "создания заявки (create_request)",
	integrity.ClaimUpdated: "изменения заявки (modify_request)",
}

func correctionNote(v integrity.Verdict) string {
	return "СЛУЖЕБНОЕ: в предыдущем ответе ты сообщил клиенту о действии, но не вызвал инструмент " +
		claimTools[v.Claim] + ". Вызови нужный инструмент сейчас, если для этого хватает данных, " +
		"иначе уточни недостающие данные. Не упоминай клиенту это исправление."
}

// correct re-runs the turn once with a corrective instruction. The first
// reply and trace are replaced by the re-run; signals of both runs are
// kept. Model failures during the re-run leave the first result in place.
func (o *Orchestrator) correct(ctx context.Context, in TurnInput, first TurnResult, v integrity.Verdict) (TurnResult, error) {
	o.Logger.Warn().Int64("chat_id", in.ChatID).Str("claim", string(v.Claim)).
		Str("sentence", v.Sentence).Str("last_tool", v.LastTool).Msg("reply claims an action the trace does not show")
	metrics.ObserveCorrection(string(v.Claim))

	rerun := in
	rerun.History = append(append([]models.ChatMessage(nil), in.History...),
		models.ChatMessage{ChatID: in.ChatID, Role: "user", Content: in.Message},
		models.ChatMessage{ChatID: in.ChatID, Role: "assistant", Content: first.Reply},
	)
	rerun.Message = correctionNote(v)
	if o.Drafts != nil {
		if d, err := o.Drafts.Read(ctx, in.ChatID); err == nil {
			rerun.Draft = d
		}
		if m, err := o.Drafts.Meta(ctx, in.ChatID); err == nil {
			rerun.Tickets = m.Tickets
		}
	}

	second, err := o.run(ctx, rerun, &turnState{selected: first.selected})
	signals := append(append([]tools.Signal(nil), first.Signals...), second.Signals...)
	if err != nil {
		if errors.Is(err, ErrModelUnavailable) || errors.Is(err, ErrIterationLimit) || errors.Is(err, ErrEmptyReply) {
			o.Logger.Warn().Err(err).Int64("chat_id", in.ChatID).Msg("corrective re-run failed, delivering first reply")
			first.Trace = append(first.Trace, second.Trace...)
			first.Signals = signals
			return first, nil
		}
		second.Signals = signals
		return second, err
	}
	if strings.TrimSpace(second.Reply) == "" {
		second.Reply = first.Reply
	}
	second.Signals = signals
	second.Corrected = true
	return second, nil
}
