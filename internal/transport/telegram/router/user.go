package router

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"kinobot/internal/content"
	"kinobot/internal/gate"
	"kinobot/internal/storage"
	kit "kinobot/internal/transport"
	logx "kinobot/pkg/logx"
)

func (r *Router) handleMessage(ctx context.Context, req *Request) error {
	msg := req.Update.Message
	text := strings.TrimSpace(msg.Text)

	// Admin conversation flows and the admin menu take precedence.
	if req.Admin {
		handled, err := r.handleAdminMessage(ctx, req)
		if handled || err != nil {
			return err
		}
	}

	switch {
	case text == "/start" || strings.HasPrefix(text, "/start "):
		return r.cmdStart(ctx, req, strings.TrimSpace(strings.TrimPrefix(text, "/start")))
	case text == "/lang":
		r.sendText(ctx, req, T(req.Lang, txtChooseLang), languageKeyboard())
		return nil
	case text == "/myid":
		r.sendText(ctx, req, T(req.Lang, txtMyID, req.FromID), nil)
		return nil
	case text == "/help":
		r.sendText(ctx, req, T(req.Lang, txtHelp), nil)
		return nil
	}

	// Reply-menu buttons match in any supported language.
	if isMenuLabel(text, txtBtnEnterCode) {
		r.sessions.Set(req.FromID, Session{State: StateEnterCode})
		r.sendText(ctx, req, T(req.Lang, txtAskCode), nil)
		return nil
	}
	if isMenuLabel(text, txtBtnSearch) {
		r.sessions.Set(req.FromID, Session{State: StateSearch})
		r.sendText(ctx, req, T(req.Lang, txtAskSearch), nil)
		return nil
	}

	if sess, ok := r.sessions.Get(req.FromID); ok {
		switch sess.State {
		case StateEnterCode:
			r.sessions.Clear(req.FromID)
			return r.requestByCode(ctx, req, text)
		case StateSearch:
			r.sessions.Clear(req.FromID)
			return r.searchByTitle(ctx, req, text)
		}
	}

	if text == "" {
		return nil
	}
	// Bare numeric text is a code shortcut; anything else is a title search.
	if isNumeric(text) {
		return r.requestByCode(ctx, req, text)
	}
	return r.searchByTitle(ctx, req, text)
}

func (r *Router) cmdStart(ctx context.Context, req *Request, payload string) error {
	username := ""
	if req.Update.Message != nil {
		username = req.Update.Message.FromUsername
	}
	if err := r.store.UpsertUser(ctx, req.FromID, username); err != nil {
		r.log.Warn("user upsert failed", logx.Int64("user_id", req.FromID), logx.Err(err))
	}
	r.sessions.Clear(req.FromID)

	if req.Admin {
		r.sendText(ctx, req, admMenuStats+" / "+admMenuAdd, adminMenuKeyboard())
		return nil
	}

	// Share deep link: /start <code>.
	if payload != "" && isNumeric(payload) {
		return r.requestByCode(ctx, req, payload)
	}

	r.sendText(ctx, req, T(req.Lang, txtChooseLang), languageKeyboard())
	return nil
}

// requestByCode is the full gated content flow: quota, subscription, resolve,
// deliver.
func (r *Router) requestByCode(ctx context.Context, req *Request, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		r.sendText(ctx, req, T(req.Lang, txtAskCode), nil)
		return nil
	}

	allowed, err := r.quota.CheckAndConsume(ctx, req.FromID)
	if err != nil {
		r.log.Warn("quota check failed", logx.Int64("user_id", req.FromID), logx.Err(err))
		r.sendText(ctx, req, T(req.Lang, txtDeliverFailed), nil)
		return nil
	}
	if !allowed {
		r.sendText(ctx, req, T(req.Lang, txtQuotaExceeded, r.quota.Limit()), nil)
		return nil
	}

	if missing := r.sub.MissingChannels(ctx, req.FromID); len(missing) > 0 {
		r.sendJoinPrompt(ctx, req, missing)
		return nil
	}

	items, err := r.resolver.ByCode(ctx, code)
	if err != nil {
		r.log.Warn("code lookup failed", logx.String("code", code), logx.Err(err))
		r.sendText(ctx, req, T(req.Lang, txtDeliverFailed), nil)
		return nil
	}
	if len(items) == 0 {
		r.sendText(ctx, req, T(req.Lang, txtNotFound, code), nil)
		return nil
	}

	r.deliverItem(ctx, req, items[0])
	if len(items) > 1 {
		r.sendText(ctx, req, T(req.Lang, txtChooseQuality), variantsKeyboard(items[1:]))
	}
	return nil
}

func (r *Router) deliverItem(ctx context.Context, req *Request, item storage.ContentItem) {
	stats, err := r.store.RatingStats(ctx, item.ID)
	if err != nil {
		r.log.Warn("rating stats failed", logx.Int64("content_id", item.ID), logx.Err(err))
	}
	bot := r.adapter.Identity().Username
	caption := renderCaption(r.captionTemplate(), item.Title, item.Quality, bot)
	kb := captionKeyboard(req.Lang, item.ID, item.Code, stats, bot)

	switch out := r.deliverer.Deliver(ctx, req.FromID, item, caption, kb); out {
	case content.Delivered:
	case content.NotFound:
		r.sendText(ctx, req, T(req.Lang, txtNotFound, item.Code), nil)
	default:
		r.sendText(ctx, req, T(req.Lang, txtDeliverFailed), nil)
	}
}

func (r *Router) searchByTitle(ctx context.Context, req *Request, query string) error {
	sums, err := r.resolver.SearchTitle(ctx, query)
	if err != nil {
		r.log.Warn("title search failed", logx.Err(err))
		r.sendText(ctx, req, T(req.Lang, txtSearchEmpty), nil)
		return nil
	}
	if len(sums) == 0 {
		r.sendText(ctx, req, T(req.Lang, txtSearchEmpty), nil)
		return nil
	}

	var b strings.Builder
	b.WriteString(T(req.Lang, txtSearchHeader))
	for _, s := range sums {
		b.WriteString("\n• ")
		b.WriteString(s.Code)
		b.WriteString(" — ")
		b.WriteString(s.Title)
	}
	r.sendText(ctx, req, b.String(), nil)
	return nil
}

func (r *Router) sendJoinPrompt(ctx context.Context, req *Request, missing []gate.ChannelStatus) {
	var b strings.Builder
	b.WriteString(T(req.Lang, txtNotSubscribed))
	for _, m := range missing {
		b.WriteString("\n• ")
		b.WriteString(m.Channel)
	}
	r.sendText(ctx, req, b.String(), joinKeyboard(req.Lang, missing))
}

// ---- callbacks ----

func (r *Router) cbLang(ctx context.Context, req *Request, action, payload string) error {
	cb := req.Update.Callback
	if action != "set" {
		return r.answer(ctx, cb.ID, "")
	}
	if _, ok := texts[payload]; !ok {
		return r.answer(ctx, cb.ID, "")
	}

	if err := r.store.UpsertUser(ctx, req.FromID, ""); err != nil {
		r.log.Warn("user upsert failed", logx.Int64("user_id", req.FromID), logx.Err(err))
	}
	if err := r.store.SetUserLanguage(ctx, req.FromID, payload); err != nil {
		r.log.Warn("language update failed", logx.Int64("user_id", req.FromID), logx.Err(err))
		return r.answer(ctx, cb.ID, "")
	}
	req.Lang = payload

	_ = r.answer(ctx, cb.ID, T(payload, txtLangSet))
	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	if err := r.adapter.DeleteMessage(ctx, ref); err != nil {
		r.log.Debug("picker delete failed", logx.Err(err))
	}

	if missing := r.sub.MissingChannels(ctx, req.FromID); len(missing) > 0 {
		r.sendJoinPrompt(ctx, req, missing)
		return nil
	}
	r.sendText(ctx, req, T(req.Lang, txtGreeting), userMenuKeyboard(req.Lang))
	return nil
}

func (r *Router) cbSubscription(ctx context.Context, req *Request, action string) error {
	cb := req.Update.Callback
	if action != "check" {
		return r.answer(ctx, cb.ID, "")
	}

	if missing := r.sub.MissingChannels(ctx, req.FromID); len(missing) > 0 {
		return r.answer(ctx, cb.ID, T(req.Lang, txtStillMissing))
	}

	_ = r.answer(ctx, cb.ID, "")
	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	if err := r.adapter.DeleteMessage(ctx, ref); err != nil {
		r.log.Debug("join prompt delete failed", logx.Err(err))
	}
	r.sendText(ctx, req, T(req.Lang, txtSubOK), userMenuKeyboard(req.Lang))
	return nil
}

func (r *Router) cbVideo(ctx context.Context, req *Request, action, payload string) error {
	cb := req.Update.Callback
	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}

	switch action {
	case "del":
		_ = r.answer(ctx, cb.ID, "")
		if err := r.adapter.DeleteMessage(ctx, ref); err != nil {
			r.log.Debug("dismiss failed", logx.Err(err))
		}
		return nil

	case "send":
		id, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return r.answer(ctx, cb.ID, "")
		}
		if missing := r.sub.MissingChannels(ctx, req.FromID); len(missing) > 0 {
			_ = r.answer(ctx, cb.ID, "")
			r.sendJoinPrompt(ctx, req, missing)
			return nil
		}
		item, err := r.resolver.ByID(ctx, id)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				r.log.Warn("variant lookup failed", logx.Int64("content_id", id), logx.Err(err))
			}
			return r.answer(ctx, cb.ID, T(req.Lang, txtSearchEmpty))
		}
		_ = r.answer(ctx, cb.ID, "")
		r.deliverItem(ctx, req, item)
		return nil

	case "rate":
		id, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return r.answer(ctx, cb.ID, "")
		}
		if err := r.adapter.EditReplyMarkup(ctx, ref, starKeyboard(req.Lang, id)); err != nil {
			r.log.Debug("star picker edit failed", logx.Err(err))
		}
		return r.answer(ctx, cb.ID, "")

	case "star":
		// payload is "<contentID>:<score>".
		idStr, scoreStr, ok := strings.Cut(payload, ":")
		if !ok {
			return r.answer(ctx, cb.ID, "")
		}
		id, err1 := strconv.ParseInt(idStr, 10, 64)
		score, err2 := strconv.Atoi(scoreStr)
		if err1 != nil || err2 != nil || score < 1 || score > 5 {
			return r.answer(ctx, cb.ID, "")
		}
		if err := r.store.UpsertRating(ctx, id, req.FromID, score); err != nil {
			r.log.Warn("rating upsert failed", logx.Int64("content_id", id), logx.Err(err))
			return r.answer(ctx, cb.ID, "")
		}
		r.restoreCaptionKeyboard(ctx, req, ref, id)
		return r.answer(ctx, cb.ID, T(req.Lang, txtRated))

	case "back":
		id, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return r.answer(ctx, cb.ID, "")
		}
		r.restoreCaptionKeyboard(ctx, req, ref, id)
		return r.answer(ctx, cb.ID, "")
	}
	return r.answer(ctx, cb.ID, "")
}

// restoreCaptionKeyboard swaps the star picker back for the caption keyboard
// with fresh rating stats.
func (r *Router) restoreCaptionKeyboard(ctx context.Context, req *Request, ref kit.MessageRef, contentID int64) {
	item, err := r.resolver.ByID(ctx, contentID)
	if err != nil {
		r.log.Debug("caption keyboard refresh failed", logx.Int64("content_id", contentID), logx.Err(err))
		return
	}
	stats, err := r.store.RatingStats(ctx, contentID)
	if err != nil {
		r.log.Warn("rating stats failed", logx.Int64("content_id", contentID), logx.Err(err))
	}
	kb := captionKeyboard(req.Lang, contentID, item.Code, stats, r.adapter.Identity().Username)
	if err := r.adapter.EditReplyMarkup(ctx, ref, kb); err != nil {
		r.log.Debug("keyboard edit failed", logx.Err(err))
	}
}

func isMenuLabel(text string, key textKey) bool {
	for _, lang := range langOrder {
		if text == texts[lang][key] {
			return true
		}
	}
	return false
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
