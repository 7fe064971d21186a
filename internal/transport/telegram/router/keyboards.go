package router

import (
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"kinobot/internal/gate"
	"kinobot/internal/storage"
	"kinobot/pkg/tgui"
)

func languageKeyboard() *tele.ReplyMarkup {
	kb := tgui.NewInline()
	for _, code := range langOrder {
		kb.Row(tgui.Btn(langNames[code], tgui.Data("lang", "set", code)))
	}
	return kb.Markup()
}

// joinKeyboard builds join buttons for missing channels plus the re-check
// button. Only "@username" channels get a URL button; id-addressed channels
// are listed in the message text instead.
func joinKeyboard(lang string, missing []gate.ChannelStatus) *tele.ReplyMarkup {
	kb := tgui.NewInline()
	for _, m := range missing {
		ch := strings.TrimSpace(m.Channel)
		if !strings.HasPrefix(ch, "@") {
			continue
		}
		kb.Row(tgui.URLBtn(ch, "https://t.me/"+strings.TrimPrefix(ch, "@")))
	}
	kb.Row(tgui.Btn(T(lang, txtBtnCheck), tgui.Data("sub", "check", "")))
	return kb.Markup()
}

func userMenuKeyboard(lang string) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	rm.Reply(
		rm.Row(tele.Btn{Text: T(lang, txtBtnEnterCode)}, tele.Btn{Text: T(lang, txtBtnSearch)}),
	)
	return rm
}

func adminMenuKeyboard() *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	rm.Reply(
		rm.Row(tele.Btn{Text: admMenuAdd}, tele.Btn{Text: admMenuDelete}),
		rm.Row(tele.Btn{Text: admMenuList}, tele.Btn{Text: admMenuStats}),
		rm.Row(tele.Btn{Text: admMenuBroadcast}, tele.Btn{Text: admMenuTemplate}),
	)
	return rm
}

func formatRating(stats storage.RatingStats) string {
	if stats.Count == 0 {
		return "0"
	}
	return strconv.FormatFloat(stats.Average, 'f', 1, 64)
}

// captionKeyboard is attached under delivered media: rating summary opening
// the star picker, a share deep link, and a dismiss button.
func captionKeyboard(lang string, contentID int64, code string, stats storage.RatingStats, botUsername string) *tele.ReplyMarkup {
	id := strconv.FormatInt(contentID, 10)
	kb := tgui.NewInline()
	kb.Row(tgui.Btn(
		T(lang, txtBtnRate, formatRating(stats), stats.Count),
		tgui.Data("video", "rate", id),
	))
	row := []tele.Btn{tgui.Btn("❌", tgui.Data("video", "del", ""))}
	if botUsername != "" {
		share := fmt.Sprintf("https://t.me/%s?start=%s", botUsername, code)
		row = append([]tele.Btn{tgui.URLBtn(T(lang, txtBtnShare), share)}, row...)
	}
	kb.Row(row...)
	return kb.Markup()
}

// starKeyboard replaces the caption keyboard while the user picks a score.
func starKeyboard(lang string, contentID int64) *tele.ReplyMarkup {
	id := strconv.FormatInt(contentID, 10)
	stars := make([]tele.Btn, 0, 5)
	for n := 1; n <= 5; n++ {
		stars = append(stars, tgui.Btn(
			strings.Repeat("⭐️", n),
			tgui.Data("video", "star", id+":"+strconv.Itoa(n)),
		))
	}
	kb := tgui.NewInline()
	kb.Row(stars[:3]...)
	kb.Row(stars[3:]...)
	kb.Row(tgui.Btn(T(lang, txtBtnBack), tgui.Data("video", "back", id)))
	return kb.Markup()
}

// variantsKeyboard offers the remaining quality rows of a code.
func variantsKeyboard(items []storage.ContentItem) *tele.ReplyMarkup {
	btns := make([]tele.Btn, 0, len(items))
	for _, it := range items {
		label := it.Quality
		if label == "" {
			label = "🎬 " + it.Title
		}
		btns = append(btns, tgui.Btn(label, tgui.Data("video", "send", strconv.FormatInt(it.ID, 10))))
	}
	return tgui.Grid(3, btns)
}

func recallKeyboard(broadcastID string) *tele.ReplyMarkup {
	kb := tgui.NewInline()
	kb.Row(tgui.Btn(admBtnRecall, tgui.Data("brd", "recall", broadcastID)))
	return kb.Markup()
}
