package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "kinobot/internal/transport"
	logx "kinobot/pkg/logx"
)

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// droppedUpdates counts updates dropped because the consumer was slower than the Telegram poll loop.
	// This is logged periodically to avoid per-update log spam.
	droppedUpdates uint64

	menuMu   sync.Mutex
	menuHash uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		a.pushMessage(c.Message(), nil)
		return nil
	})
	a.bot.Handle(tele.OnVideo, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Video == nil {
			return nil
		}
		a.pushMessage(m, &kit.Media{Kind: kit.FileVideo, FileID: m.Video.FileID, MIME: m.Video.MIME})
		return nil
	})
	a.bot.Handle(tele.OnDocument, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Document == nil {
			return nil
		}
		a.pushMessage(m, &kit.Media{Kind: kit.FileDocument, FileID: m.Document.FileID, MIME: m.Document.MIME})
		return nil
	})
	a.bot.Handle(tele.OnAnimation, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Animation == nil {
			return nil
		}
		a.pushMessage(m, &kit.Media{Kind: kit.FileAnimation, FileID: m.Animation.FileID, MIME: m.Animation.MIME})
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil {
			return nil
		}
		up := kit.Update{
			Kind: kit.UpdateCallback,
			Callback: &kit.Callback{
				ID:        cb.ID,
				ChatID:    m.Chat.ID,
				FromID:    cb.Sender.ID,
				MessageID: m.ID,
				Data:      strings.TrimPrefix(cb.Data, "\f"),
			},
		}
		a.sendUpdate(up)
		return nil
	})
}

func (a *Adapter) pushMessage(m *tele.Message, media *kit.Media) {
	if m == nil || m.Sender == nil {
		return
	}
	msg := &kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		Text:         m.Text,
		Caption:      m.Caption,
		IsGroup:      m.Chat.Type != tele.ChatPrivate,
		Media:        media,
	}
	// Channel-post forwards carry the origin used as a storage ref.
	if m.OriginalChat != nil && m.OriginalMessageID != 0 {
		msg.Forward = &kit.StoredRef{
			Chat:      strconv.FormatInt(m.OriginalChat.ID, 10),
			MessageID: m.OriginalMessageID,
		}
	}
	a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: msg})
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.runMu.Unlock()

	// Periodic summary for dropped updates (avoid noisy per-update logs).
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		flush := func() {
			if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-runCtx.Done():
				flush()
				return
			case <-ticker.C:
				flush()
			}
		}
	}()

	// Ensure we stop telebot when the adapter context is cancelled.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		<-runCtx.Done()
		if a.bot != nil {
			a.bot.Stop()
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.log.Info("polling started")
		// Start blocks until Stop() is called.
		a.bot.Start()
		a.log.Info("polling stopped")
	}()

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	// Best-effort graceful stop. Never block shutdown for too long on Telegram long-poll.
	a.runMu.Lock()
	cancel := a.cancel
	a.cancel = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		a.log.Debug("telegram stop called but not running")
		return nil
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	// Grace window: keep shutdown snappy even if getUpdates long-poll is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
	case <-t.C:
		a.log.Warn("telegram stop timed out")
	}
	return nil
}

// Identity returns the bot's own account info.
func (a *Adapter) Identity() kit.BotIdentity {
	me := a.bot.Me
	if me == nil {
		return kit.BotIdentity{}
	}
	return kit.BotIdentity{ID: me.ID, Username: me.Username}
}

const telegramTextLimit = 4000

// splitTelegramText splits long messages into chunks that are safe to send to Telegram.
// It prefers newline boundaries.
func splitTelegramText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		// Prefer splitting on a newline near the end of the window.
		if end < len(rs) {
			cut := -1
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' {
					// Avoid extremely small chunks.
					if i-start >= limit/3 {
						cut = i + 1
						break
					}
				}
			}
			if cut != -1 {
				end = cut
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func sendOptionsOf(opt *kit.SendOptions) *tele.SendOptions {
	if opt == nil {
		return &tele.SendOptions{}
	}
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
	if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok {
		so.ReplyMarkup = rm
	}
	return so
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	chunks := splitTelegramText(text, telegramTextLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctxErr(ctx); err != nil {
			if first.ChatID != 0 {
				return first, err
			}
			return kit.MessageRef{}, err
		}

		sendOpt := sendOptionsOf(opt)
		// Attach markup only to the first message.
		if i > 0 {
			sendOpt.ReplyMarkup = nil
		}

		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			if first.ChatID != 0 {
				return first, err
			}
			return kit.MessageRef{}, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	chunks := splitTelegramText(text, telegramTextLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := a.bot.Edit(m, chunks[0], sendOptionsOf(opt)); err != nil {
		return err
	}

	// Overflow from an edit goes out as plain follow-up messages.
	for _, chunk := range chunks[1:] {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		if _, err := a.bot.Send(&tele.Chat{ID: ref.ChatID}, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) EditReplyMarkup(ctx context.Context, ref kit.MessageRef, markup any) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	rm, _ := markup.(*tele.ReplyMarkup)
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	_, err := a.bot.EditReplyMarkup(m, rm)
	return err
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return a.bot.Delete(tele.StoredMessage{
		MessageID: strconv.Itoa(ref.MessageID),
		ChatID:    ref.ChatID,
	})
}

// CopyMessage goes through the raw Bot API because telebot's surface does not
// expose copyMessage with a caption and markup override in one call.
func (a *Adapter) CopyMessage(ctx context.Context, to kit.ChatTarget, src kit.StoredRef, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctxErr(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	if src.IsZero() {
		return kit.MessageRef{}, errors.New("copy: empty source ref")
	}

	params := map[string]any{
		"chat_id":      to.ChatID,
		"from_chat_id": src.Chat,
		"message_id":   src.MessageID,
	}
	if opt != nil {
		if opt.Caption != "" {
			params["caption"] = opt.Caption
			if opt.ParseMode != "" {
				params["parse_mode"] = opt.ParseMode
			}
		}
		if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok && rm != nil {
			params["reply_markup"] = rm
		}
	}

	data, err := a.bot.Raw("copyMessage", params)
	if err != nil {
		return kit.MessageRef{}, err
	}

	var resp struct {
		OK     bool `json:"ok"`
		Result struct {
			MessageID int `json:"message_id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return kit.MessageRef{}, fmt.Errorf("copyMessage: decode response: %w", err)
	}
	if !resp.OK {
		return kit.MessageRef{}, errors.New("copyMessage: telegram returned not ok")
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: resp.Result.MessageID}, nil
}

func (a *Adapter) ForwardMessage(ctx context.Context, to kit.ChatTarget, src kit.StoredRef) (kit.MessageRef, error) {
	if err := ctxErr(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	if src.IsZero() {
		return kit.MessageRef{}, errors.New("forward: empty source ref")
	}

	what := storedEditable(src)
	msg, err := a.bot.Forward(&tele.Chat{ID: to.ChatID}, what)
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) SendFile(ctx context.Context, to kit.ChatTarget, kind kit.FileKind, fileID string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctxErr(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	if fileID == "" {
		return kit.MessageRef{}, errors.New("send: empty file id")
	}

	caption := ""
	if opt != nil {
		caption = opt.Caption
	}

	var what any
	switch kind {
	case kit.FileDocument:
		what = &tele.Document{File: tele.File{FileID: fileID}, Caption: caption}
	case kit.FileAnimation:
		what = &tele.Animation{File: tele.File{FileID: fileID}, Caption: caption}
	default:
		what = &tele.Video{File: tele.File{FileID: fileID}, Caption: caption}
	}

	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, what, sendOptionsOf(opt))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) MemberStatus(ctx context.Context, channel string, userID int64) (kit.MemberStatus, error) {
	if err := ctxErr(ctx); err != nil {
		return "", err
	}
	member, err := a.bot.ChatMemberOf(chatRecipient(channel), &tele.User{ID: userID})
	if err != nil {
		return "", err
	}
	return kit.MemberStatus(member.Role), nil
}

// chatRecipient resolves a channel spec to a telebot Recipient.
// Numeric specs become chat ids; everything else is treated as "@username".
func chatRecipient(spec string) tele.Recipient {
	spec = strings.TrimSpace(spec)
	if id, err := strconv.ParseInt(spec, 10, 64); err == nil {
		return tele.ChatID(id)
	}
	if !strings.HasPrefix(spec, "@") {
		spec = "@" + spec
	}
	return chatRef(spec)
}

type chatRef string

func (c chatRef) Recipient() string { return string(c) }

// storedEditable adapts a StoredRef to telebot's Editable.
func storedEditable(src kit.StoredRef) tele.Editable {
	chatID, err := strconv.ParseInt(src.Chat, 10, 64)
	if err != nil {
		// Username-addressed chats cannot be expressed as StoredMessage;
		// telebot accepts only numeric chat ids there. Storage refs are
		// recorded from forwards, which always carry numeric ids.
		chatID = 0
	}
	return tele.StoredMessage{MessageID: strconv.Itoa(src.MessageID), ChatID: chatID}
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
