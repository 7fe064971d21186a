package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"kinobot/internal/broadcast"
	"kinobot/internal/config"
	"kinobot/internal/storage"
	kit "kinobot/internal/transport"
	logx "kinobot/pkg/logx"
)

func isAdminState(s SessionState) bool {
	switch s {
	case StateAdminAddCode, StateAdminAddMedia, StateAdminAddTitle,
		StateAdminDelete, StateAdminBroadcast, StateAdminTemplate:
		return true
	}
	return false
}

// handleAdminMessage runs the admin console: menu buttons and the multi-step
// add/delete/broadcast flows. Returns handled=false when the message belongs
// to the regular user flow.
func (r *Router) handleAdminMessage(ctx context.Context, req *Request) (bool, error) {
	msg := req.Update.Message
	text := strings.TrimSpace(msg.Text)

	switch text {
	case "/cancel":
		r.sessions.Clear(req.FromID)
		r.sendText(ctx, req, admCancelled, adminMenuKeyboard())
		return true, nil
	case admMenuAdd:
		r.sessions.Set(req.FromID, Session{State: StateAdminAddCode})
		r.sendText(ctx, req, admAskCode, nil)
		return true, nil
	case admMenuDelete:
		r.sessions.Set(req.FromID, Session{State: StateAdminDelete})
		r.sendText(ctx, req, admAskDelete, nil)
		return true, nil
	case admMenuList:
		r.adminList(ctx, req)
		return true, nil
	case admMenuStats:
		r.adminStats(ctx, req)
		return true, nil
	case admMenuBroadcast:
		r.sessions.Set(req.FromID, Session{State: StateAdminBroadcast})
		r.sendText(ctx, req, admAskBroadcast, nil)
		return true, nil
	case admMenuTemplate:
		r.sessions.Set(req.FromID, Session{State: StateAdminTemplate})
		r.sendText(ctx, req, admAskTemplate+"\n\n"+r.captionTemplate(), nil)
		return true, nil
	}

	sess, ok := r.sessions.Get(req.FromID)
	if !ok || !isAdminState(sess.State) {
		return false, nil
	}

	switch sess.State {
	case StateAdminAddCode:
		if text == "" || strings.HasPrefix(text, "/") {
			r.sendText(ctx, req, admAskCode, nil)
			return true, nil
		}
		sess.Draft.Code = text
		sess.State = StateAdminAddMedia
		r.sessions.Set(req.FromID, sess)
		r.sendText(ctx, req, admAskMedia, nil)
		return true, nil

	case StateAdminAddMedia:
		got := false
		if msg.Forward != nil {
			sess.Draft.StorageChat = msg.Forward.Chat
			sess.Draft.StorageMessageID = msg.Forward.MessageID
			got = true
		}
		if m := msg.Media; m != nil && acceptableMedia(m) {
			sess.Draft.FileID = m.FileID
			sess.Draft.FileKind = string(m.Kind)
			got = true
		}
		if !got {
			r.sendText(ctx, req, admNeedForward, nil)
			return true, nil
		}
		sess.State = StateAdminAddTitle
		r.sessions.Set(req.FromID, sess)
		r.sendText(ctx, req, admAskTitle, nil)
		return true, nil

	case StateAdminAddTitle:
		if text == "" {
			r.sendText(ctx, req, admAskTitle, nil)
			return true, nil
		}
		item := draftToItem(sess.Draft, text)
		if _, err := r.store.InsertContent(ctx, item); err != nil {
			r.log.Warn("content insert failed", logx.String("code", item.Code), logx.Err(err))
			r.sendText(ctx, req, admNeedForward, nil)
			return true, nil
		}
		r.sessions.Clear(req.FromID)
		r.sendText(ctx, req, fmt.Sprintf(admSaved, item.Code, item.Title), adminMenuKeyboard())
		return true, nil

	case StateAdminDelete:
		r.sessions.Clear(req.FromID)
		n, err := r.store.DeleteContentByCode(ctx, text)
		if err != nil {
			r.log.Warn("content delete failed", logx.String("code", text), logx.Err(err))
			return true, nil
		}
		if n == 0 {
			r.sendText(ctx, req, admDeletenone, adminMenuKeyboard())
			return true, nil
		}
		r.sendText(ctx, req, fmt.Sprintf(admDeleted, n, text), adminMenuKeyboard())
		return true, nil

	case StateAdminBroadcast:
		// Any content works: a forwarded channel post is copied from its
		// origin, everything else is copied from the admin's own message.
		payload := kit.StoredRef{Chat: strconv.FormatInt(msg.ChatID, 10), MessageID: msg.ID}
		if msg.Forward != nil {
			payload = *msg.Forward
		}
		r.sessions.Clear(req.FromID)
		r.startBroadcast(ctx, req, payload)
		return true, nil

	case StateAdminTemplate:
		r.sessions.Clear(req.FromID)
		r.SetCaptionTemplate(text)
		r.sendText(ctx, req, admTemplateSet, adminMenuKeyboard())
		return true, nil
	}
	return false, nil
}

// acceptableMedia mirrors the ingestion rule: videos and animations always,
// documents only when they carry a video payload.
func acceptableMedia(m *kit.Media) bool {
	if m.FileID == "" {
		return false
	}
	if m.Kind == kit.FileDocument {
		return strings.HasPrefix(m.MIME, "video/")
	}
	return true
}

// draftToItem finalizes a content row from the add flow. The last message is
// "title", "title | quality" or "title | quality | ttl" (Go duration).
func draftToItem(d Draft, titleLine string) storage.ContentItem {
	item := storage.ContentItem{
		Code:             d.Code,
		FileID:           d.FileID,
		FileKind:         d.FileKind,
		StorageChat:      d.StorageChat,
		StorageMessageID: d.StorageMessageID,
	}
	parts := strings.Split(titleLine, "|")
	item.Title = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		item.Quality = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		if ttl, err := config.ParseDurationField("ttl", parts[2]); err == nil && ttl > 0 {
			at := time.Now().Add(ttl)
			item.ExpiresAt = &at
		}
	}
	return item
}

func (r *Router) adminList(ctx context.Context, req *Request) {
	sums, err := r.store.ListContent(ctx)
	if err != nil {
		r.log.Warn("content list failed", logx.Err(err))
		return
	}
	if len(sums) == 0 {
		r.sendText(ctx, req, admDeletenone, nil)
		return
	}
	var b strings.Builder
	b.WriteString(admMenuList)
	for _, s := range sums {
		b.WriteString("\n• ")
		b.WriteString(s.Code)
		b.WriteString(" — ")
		b.WriteString(s.Title)
	}
	r.sendText(ctx, req, b.String(), nil)
}

func (r *Router) adminStats(ctx context.Context, req *Request) {
	c, err := r.store.Counts(ctx)
	if err != nil {
		r.log.Warn("counts failed", logx.Err(err))
		return
	}
	text := fmt.Sprintf("📊 Statistika\n\n👥 Foydalanuvchilar: %d\n🎬 Kinolar: %d", c.Users, c.Content)
	r.sendText(ctx, req, text, nil)
}

// startBroadcast kicks the fan-out off on the long-lived run context and keeps
// the admin posted by editing a single progress message.
func (r *Router) startBroadcast(ctx context.Context, req *Request, payload kit.StoredRef) {
	ref, err := r.adapter.SendText(ctx, req.Chat, "📣 Yuborilmoqda...", nil)
	if err != nil {
		r.log.Warn("broadcast progress message failed", logx.Err(err))
		return
	}

	r.runMu.Lock()
	runCtx := r.runCtx
	r.runMu.Unlock()
	if runCtx == nil {
		runCtx = context.Background()
	}

	go func() {
		progress := func(p broadcast.Progress) {
			text := fmt.Sprintf("📣 Yuborilmoqda: %d/%d", p.Processed, p.Total)
			if err := r.adapter.EditText(runCtx, ref, text, nil); err != nil {
				r.log.Debug("progress edit failed", logx.Err(err))
			}
		}
		report, err := r.bcast.Start(runCtx, payload, progress)
		if err != nil {
			r.log.Warn("broadcast aborted", logx.String("broadcast_id", report.ID), logx.Err(err))
		}
		final := fmt.Sprintf("📣 Yakunlandi\n\n👥 Jami: %d\n✅ Yuborildi: %d\n❌ Xatolik: %d",
			report.Total, report.Sent, report.Failed)
		opt := &kit.SendOptions{ReplyMarkupAdapter: recallKeyboard(report.ID)}
		if err := r.adapter.EditText(runCtx, ref, final, opt); err != nil {
			r.log.Warn("broadcast report edit failed", logx.Err(err))
		}
	}()
}

func (r *Router) cbBroadcast(ctx context.Context, req *Request, action, payload string) error {
	cb := req.Update.Callback
	if action != "recall" || payload == "" {
		return r.answer(ctx, cb.ID, "")
	}
	_ = r.answer(ctx, cb.ID, "")

	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}

	r.runMu.Lock()
	runCtx := r.runCtx
	r.runMu.Unlock()
	if runCtx == nil {
		runCtx = context.Background()
	}

	// Recall walks every record; run it off the per-update timeout.
	go func() {
		deleted, err := r.bcast.Recall(runCtx, payload)
		if err != nil {
			r.log.Warn("recall failed", logx.String("broadcast_id", payload), logx.Err(err))
		}
		text := fmt.Sprintf("🗑 Qaytarib olindi: %d ta xabar", deleted)
		if err := r.adapter.EditText(runCtx, ref, text, nil); err != nil {
			r.log.Debug("recall report edit failed", logx.Err(err))
		}
	}()
	return nil
}
