package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/servicedesk_bot/backend/internal/agent"
	"github.com/servicedesk_bot/backend/internal/ai"
	"github.com/servicedesk_bot/backend/internal/config"
	"github.com/servicedesk_bot/backend/internal/draft"
	"github.com/servicedesk_bot/backend/internal/metrics"
	"github.com/servicedesk_bot/backend/internal/models"
	"github.com/servicedesk_bot/backend/internal/tools"
)

// Skip reasons reported for messages that get no reply.
const (
	SkipServiceMessage = "service_message"
	SkipBanned         = "banned"
	SkipMuted          = "muted"
	SkipDuplicate      = "duplicate"
)

const (
	startText      = "Здравствуйте! Я помогу оформить заявку на ремонт бытовой техники. Расскажите, что случилось с техникой?"
	resetText      = "Данные заявки очищены. Давайте начнем заново: какая техника требует ремонта?"
	retypeText     = "Не удалось распознать голосовое сообщение. Пожалуйста, напишите, что случилось, текстом."
	apologyFormat  = "Извините, сейчас не получается обработать ваше сообщение. Пожалуйста, позвоните нам по телефону %s."
	emptyInputText = "Пожалуйста, напишите ваше сообщение текстом."
)

type Agent interface {
	RunTurn(ctx context.Context, in agent.TurnInput) (agent.TurnResult, error)
}

type HistoryStore interface {
	Append(ctx context.Context, msgs ...models.ChatMessage) error
	Recent(ctx context.Context, chatID int64, since time.Time, limit int) ([]models.ChatMessage, error)
}

type BanList interface {
	IsBanned(ctx context.Context, chatID int64) (models.Ban, bool, error)
	Ban(ctx context.Context, chatID int64, reason string, d time.Duration) error
}

type FloodGuard interface {
	Allow(chatID int64) bool
}

// Reply is the outcome of one inbound message. Text is empty when the
// message is skipped; Skipped then says why.
type Reply struct {
	Text    string   `json:"reply_text,omitempty"`
	Skipped string   `json:"skipped,omitempty"`
	Tools   []string `json:"tools,omitempty"`
}

type ChatService struct {
	Drafts       *draft.Store
	Agent        Agent
	History      HistoryStore
	Bans         BanList
	Flood        FloodGuard
	Transcriber  ai.Transcriber
	Catalog      *config.CatalogHolder
	Lanes        *Lanes
	HistoryLimit int
	BanDuration  time.Duration
	Logger       zerolog.Logger
	Now          func() time.Time
}

func (s *ChatService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Handle processes one inbound message. Messages of one chat are handled
// one at a time in arrival order.
func (s *ChatService) Handle(ctx context.Context, msg models.InboundMessage) (Reply, error) {
	kind := string(msg.Kind)
	if msg.Service {
		metrics.ObserveInbound(kind, SkipServiceMessage)
		return Reply{Skipped: SkipServiceMessage}, nil
	}
	if s.Bans != nil {
		ban, banned, err := s.Bans.IsBanned(ctx, msg.ChatID)
		if err != nil {
			s.Logger.Error().Err(err).Int64("chat_id", msg.ChatID).Msg("ban check failed")
		} else if banned {
			s.Logger.Info().Int64("chat_id", msg.ChatID).Str("reason", ban.Reason).Msg("message from banned chat ignored")
			metrics.ObserveInbound(kind, SkipBanned)
			return Reply{Skipped: SkipBanned}, nil
		}
	}
	if s.Flood != nil && !s.Flood.Allow(msg.ChatID) {
		metrics.ObserveInbound(kind, SkipMuted)
		return Reply{Skipped: SkipMuted}, nil
	}

	var (
		reply Reply
		herr  error
	)
	run := func(ctx context.Context) { reply, herr = s.handleInLane(ctx, msg) }
	if s.Lanes == nil {
		run(ctx)
	} else if err := s.Lanes.Do(ctx, msg.ChatID, run); err != nil {
		return Reply{}, err
	}
	if herr == nil {
		result := "handled"
		if reply.Skipped != "" {
			result = reply.Skipped
		}
		metrics.ObserveInbound(kind, result)
	}
	return reply, herr
}

func (s *ChatService) handleInLane(ctx context.Context, msg models.InboundMessage) (Reply, error) {
	log := s.Logger.With().Int64("chat_id", msg.ChatID).Int64("message_id", msg.MessageID).Logger()

	duplicate := false
	meta, err := s.Drafts.UpdateMeta(ctx, msg.ChatID, func(m *models.ChatMeta) error {
		if msg.MessageID != 0 && msg.MessageID <= m.LastMessageID {
			duplicate = true
			return nil
		}
		m.LastMessageID = msg.MessageID
		return nil
	})
	if err != nil {
		return Reply{}, fmt.Errorf("update chat meta: %w", err)
	}
	if duplicate {
		log.Debug().Msg("duplicate delivery ignored")
		return Reply{Skipped: SkipDuplicate}, nil
	}

	if msg.Kind == models.KindText {
		switch command(msg.Text) {
		case "/start":
			if err := s.Drafts.Clear(ctx, msg.ChatID); err != nil {
				return Reply{}, fmt.Errorf("clear draft: %w", err)
			}
			cutoff := s.now().UTC()
			if _, err := s.Drafts.UpdateMeta(ctx, msg.ChatID, func(m *models.ChatMeta) error {
				m.HistoryCutoff = cutoff
				return nil
			}); err != nil {
				return Reply{}, fmt.Errorf("set history cutoff: %w", err)
			}
			log.Info().Msg("conversation restarted")
			return Reply{Text: startText}, nil
		case "/reset":
			if err := s.Drafts.Clear(ctx, msg.ChatID); err != nil {
				return Reply{}, fmt.Errorf("clear draft: %w", err)
			}
			log.Info().Msg("draft reset by user")
			return Reply{Text: resetText}, nil
		}
	}

	text, err := s.userText(ctx, msg)
	if err != nil {
		log.Warn().Err(err).Str("kind", string(msg.Kind)).Msg("could not turn message into text")
		return Reply{Text: retypeText}, nil
	}
	if strings.TrimSpace(text) == "" {
		return Reply{Text: emptyInputText}, nil
	}

	in := agent.TurnInput{ChatID: msg.ChatID, Message: text, Tickets: meta.Tickets}
	if in.Draft, err = s.Drafts.Read(ctx, msg.ChatID); err != nil {
		return Reply{}, fmt.Errorf("read draft: %w", err)
	}
	if s.History != nil {
		in.History, err = s.History.Recent(ctx, msg.ChatID, meta.HistoryCutoff, s.HistoryLimit)
		if err != nil {
			log.Warn().Err(err).Msg("history unavailable, continuing without it")
			in.History = nil
		}
	}

	res, err := s.Agent.RunTurn(ctx, in)
	if res.HasSignal(tools.SignalBan) {
		s.ban(ctx, msg.ChatID, "daily_ticket_cap")
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Reply{}, err
		}
		log.Error().Err(err).Strs("tools", res.Trace.Names()).Msg("turn failed, sending apology")
		reply := Reply{Text: s.apology(), Tools: res.Trace.Names()}
		s.remember(ctx, msg, text, reply.Text)
		return reply, nil
	}

	log.Info().Strs("tools", res.Trace.Names()).Bool("corrected", res.Corrected).Msg("turn completed")
	s.remember(ctx, msg, text, res.Reply)
	return Reply{Text: res.Reply, Tools: res.Trace.Names()}, nil
}

func command(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	// "/start@bot_name" addresses the command to a specific bot.
	cmd, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(cmd)
}

// userText turns any message kind into the text the model sees.
func (s *ChatService) userText(ctx context.Context, msg models.InboundMessage) (string, error) {
	switch msg.Kind {
	case models.KindText:
		return msg.Text, nil
	case models.KindLocation:
		return fmt.Sprintf("Клиент отправил геолокацию: широта %.6f, долгота %.6f. Сохрани ее инструментом save_gps.",
			msg.Latitude, msg.Longitude), nil
	case models.KindContact:
		return fmt.Sprintf("Клиент поделился контактом, телефон: %s.", msg.Phone), nil
	case models.KindAudio:
		if s.Transcriber == nil {
			return "", errors.New("no transcriber configured")
		}
		return s.Transcriber.Transcribe(ctx, msg.AudioPath)
	}
	return "", fmt.Errorf("unsupported message kind %q", msg.Kind)
}

func (s *ChatService) apology() string {
	return fmt.Sprintf(apologyFormat, s.Catalog.Get().SupportPhone)
}

func (s *ChatService) ban(ctx context.Context, chatID int64, reason string) {
	if s.Bans == nil {
		return
	}
	if err := s.Bans.Ban(ctx, chatID, reason, s.BanDuration); err != nil {
		s.Logger.Error().Err(err).Int64("chat_id", chatID).Msg("ban failed")
		return
	}
	metrics.Banned(reason)
	s.Logger.Warn().Int64("chat_id", chatID).Str("reason", reason).Dur("duration", s.BanDuration).Msg("chat banned")
}

func (s *ChatService) remember(ctx context.Context, msg models.InboundMessage, userText, reply string) {
	if s.History == nil {
		return
	}
	now := s.now().UTC()
	err := s.History.Append(ctx,
		models.ChatMessage{ChatID: msg.ChatID, MessageID: msg.MessageID, Role: "user", Content: userText, UserName: msg.UserName, CreatedAt: now},
		models.ChatMessage{ChatID: msg.ChatID, MessageID: msg.MessageID, Role: "assistant", Content: reply, CreatedAt: now.Add(time.Millisecond)},
	)
	if err != nil {
		s.Logger.Warn().Err(err).Int64("chat_id", msg.ChatID).Msg("saving history failed")
	}
}

// Reset clears a chat's draft from outside the conversation.
func (s *ChatService) Reset(ctx context.Context, chatID int64) error {
	run := func(ctx context.Context) error { return s.Drafts.Clear(ctx, chatID) }
	if s.Lanes == nil {
		return run(ctx)
	}
	var err error
	if lerr := s.Lanes.Do(ctx, chatID, func(ctx context.Context) { err = run(ctx) }); lerr != nil {
		return lerr
	}
	return err
}
