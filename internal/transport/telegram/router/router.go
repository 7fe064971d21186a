package router

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"kinobot/internal/broadcast"
	"kinobot/internal/content"
	"kinobot/internal/gate"
	"kinobot/internal/storage"
	kit "kinobot/internal/transport"
	logx "kinobot/pkg/logx"
	"kinobot/pkg/tgui"
)

func splitCallback(data string) (ns, action, payload string, ok bool) {
	return tgui.SplitData(data)
}

type Request struct {
	Update kit.Update
	Chat   kit.ChatTarget
	FromID int64
	Lang   string
	Admin  bool
}

type Deps struct {
	Adapter   kit.Adapter
	Store     storage.Store
	Quota     *gate.Quota
	Gate      *gate.Gate
	Resolver  *content.Resolver
	Deliverer *content.Deliverer
	Broadcast *broadcast.Service
	Sessions  *SessionStore
	Admins    []int64
	Logger    logx.Logger
}

// Router turns normalized updates into bot behavior: the user content flow
// and the admin console. Updates are handled on a bounded worker pool.
type Router struct {
	log     logx.Logger
	adapter kit.Adapter

	store     storage.Store
	quota     *gate.Quota
	sub       *gate.Gate
	resolver  *content.Resolver
	deliverer *content.Deliverer
	bcast     *broadcast.Service
	sessions  *SessionStore

	mu       sync.RWMutex
	admins   map[int64]struct{}
	template string

	handler HandlerFunc
	jobs    chan func()

	// runCtx outlives per-update timeouts; long broadcasts run against it.
	runMu  sync.Mutex
	runCtx context.Context
}

const handlerTimeout = 30 * time.Second

func New(d Deps) *Router {
	log := d.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		log:       log,
		adapter:   d.Adapter,
		store:     d.Store,
		quota:     d.Quota,
		sub:       d.Gate,
		resolver:  d.Resolver,
		deliverer: d.Deliverer,
		bcast:     d.Broadcast,
		sessions:  d.Sessions,
		admins:    map[int64]struct{}{},
		template:  DefaultCaptionTemplate,
		jobs:      make(chan func(), 256),
	}
	r.SetAdmins(d.Admins)
	r.handler = Chain(r.handle,
		MWPanicRecover(log),
		MWRequestLog(log),
		MWTimeout(handlerTimeout),
	)
	return r
}

// SetAdmins replaces the admin allow-list (hot reload).
func (r *Router) SetAdmins(ids []int64) {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	r.mu.Lock()
	r.admins = m
	r.mu.Unlock()
}

func (r *Router) isAdmin(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.admins[id]
	return ok
}

func (r *Router) SetCaptionTemplate(t string) {
	t = strings.TrimSpace(t)
	if t == "" {
		t = DefaultCaptionTemplate
	}
	r.mu.Lock()
	r.template = t
	r.mu.Unlock()
}

func (r *Router) captionTemplate() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.template
}

// MenuCommands is the bot command list shown in the Telegram menu.
func MenuCommands() []kit.BotCommand {
	return []kit.BotCommand{
		{Command: "start", Description: "boshlash / start"},
		{Command: "lang", Description: "til / language"},
		{Command: "help", Description: "yordam / help"},
		{Command: "myid", Description: "ID"},
	}
}

// DispatchLoop consumes updates until ctx is done or the channel closes.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	r.runMu.Lock()
	r.runCtx = ctx
	r.runMu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-r.jobs:
					if !ok {
						return
					}
					if job == nil {
						continue
					}
					// Middleware already recovers; keep the worker alive anyway.
					func() {
						defer func() {
							if p := recover(); p != nil {
								r.log.Error("panic in update job", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}()
	}

	r.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(r.jobs)))

	defer func() {
		wg.Wait()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.enqueue(ctx, up)
		}
	}
}

func (r *Router) enqueue(ctx context.Context, up kit.Update) {
	req, ok := r.buildRequest(ctx, up)
	if !ok {
		return
	}
	job := func() { _ = r.handler(ctx, req) }
	select {
	case r.jobs <- job:
	default:
		r.log.Warn("update dropped (job queue full)",
			logx.Int64("from_id", req.FromID), logx.Int("queue_cap", cap(r.jobs)))
	}
}

func (r *Router) buildRequest(ctx context.Context, up kit.Update) (*Request, bool) {
	req := &Request{Update: up}
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message == nil || up.Message.IsGroup {
			return nil, false
		}
		req.Chat = kit.ChatTarget{ChatID: up.Message.ChatID}
		req.FromID = up.Message.FromID
	case kit.UpdateCallback:
		if up.Callback == nil {
			return nil, false
		}
		req.Chat = kit.ChatTarget{ChatID: up.Callback.ChatID}
		req.FromID = up.Callback.FromID
	default:
		return nil, false
	}

	req.Admin = r.isAdmin(req.FromID)
	req.Lang = r.userLang(ctx, req.FromID)
	return req, true
}

func (r *Router) userLang(ctx context.Context, userID int64) string {
	lang, err := r.store.UserLanguage(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.log.Warn("language lookup failed", logx.Int64("user_id", userID), logx.Err(err))
		}
		return DefaultLang
	}
	if _, ok := texts[lang]; !ok {
		return DefaultLang
	}
	return lang
}

func (r *Router) handle(ctx context.Context, req *Request) error {
	switch req.Update.Kind {
	case kit.UpdateMessage:
		return r.handleMessage(ctx, req)
	case kit.UpdateCallback:
		return r.handleCallback(ctx, req)
	}
	return nil
}

func (r *Router) handleCallback(ctx context.Context, req *Request) error {
	cb := req.Update.Callback
	ns, action, payload, ok := splitCallback(cb.Data)
	if !ok {
		return r.answer(ctx, cb.ID, "")
	}

	switch ns {
	case "lang":
		return r.cbLang(ctx, req, action, payload)
	case "sub":
		return r.cbSubscription(ctx, req, action)
	case "video":
		return r.cbVideo(ctx, req, action, payload)
	case "brd":
		if !req.Admin {
			return r.answer(ctx, cb.ID, "")
		}
		return r.cbBroadcast(ctx, req, action, payload)
	}
	return r.answer(ctx, cb.ID, "")
}

func (r *Router) answer(ctx context.Context, callbackID, text string) error {
	if err := r.adapter.AnswerCallback(ctx, callbackID, text); err != nil {
		r.log.Debug("callback answer failed", logx.Err(err))
	}
	return nil
}

func (r *Router) sendText(ctx context.Context, req *Request, text string, markup any) {
	opt := &kit.SendOptions{}
	if markup != nil {
		opt.ReplyMarkupAdapter = markup
	}
	if _, err := r.adapter.SendText(ctx, req.Chat, text, opt); err != nil {
		r.log.Warn("send failed", logx.Int64("chat_id", req.Chat.ChatID), logx.Err(err))
	}
}
