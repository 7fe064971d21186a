package router

import (
	"fmt"
	"strings"
)

// DefaultLang matches the users.language column default.
const DefaultLang = "uz"

type textKey string

const (
	txtChooseLang    textKey = "choose_lang"
	txtLangSet       textKey = "lang_set"
	txtGreeting      textKey = "greeting"
	txtAskCode       textKey = "ask_code"
	txtAskSearch     textKey = "ask_search"
	txtBtnEnterCode  textKey = "btn_enter_code"
	txtBtnSearch     textKey = "btn_search"
	txtBtnCheck      textKey = "btn_check"
	txtBtnRate       textKey = "btn_rate"
	txtBtnShare      textKey = "btn_share"
	txtBtnBack       textKey = "btn_back"
	txtNotSubscribed textKey = "not_subscribed"
	txtSubOK         textKey = "sub_ok"
	txtStillMissing  textKey = "still_missing"
	txtQuotaExceeded textKey = "quota_exceeded"
	txtNotFound      textKey = "not_found"
	txtDeliverFailed textKey = "deliver_failed"
	txtSearchHeader  textKey = "search_header"
	txtSearchEmpty   textKey = "search_empty"
	txtChooseQuality textKey = "choose_quality"
	txtRated         textKey = "rated"
	txtMyID          textKey = "my_id"
	txtHelp          textKey = "help"
)

var texts = map[string]map[textKey]string{
	"uz": {
		txtChooseLang:    "🌐 Tilni tanlang:",
		txtLangSet:       "✅ Til o'rnatildi: O'zbekcha",
		txtGreeting:      "🎬 Kino kodini yuboring yoki nomi bo'yicha qidiring.",
		txtAskCode:       "🔢 Kino kodini yuboring:",
		txtAskSearch:     "🔍 Kino nomini yozing (kamida 2 ta harf):",
		txtBtnEnterCode:  "🔢 Kod orqali izlash",
		txtBtnSearch:     "🔍 Nomi orqali izlash",
		txtBtnCheck:      "✅ Tekshirish",
		txtBtnRate:       "⭐️ %s (%d)",
		txtBtnShare:      "↗️ Ulashish",
		txtBtnBack:       "⬅️ Orqaga",
		txtNotSubscribed: "❗️ Botdan foydalanish uchun quyidagi kanallarga obuna bo'ling:",
		txtSubOK:         "✅ Obuna tasdiqlandi! Kino kodini yuboring.",
		txtStillMissing:  "❌ Hali hamma kanallarga obuna bo'lmadingiz.",
		txtQuotaExceeded: "⛔️ Kunlik limit tugadi (%d ta so'rov). Ertaga qayta urinib ko'ring.",
		txtNotFound:      "😕 Bunday kod topilmadi: %s",
		txtDeliverFailed: "⚠️ Kino yuborishda xatolik yuz berdi. Keyinroq urinib ko'ring.",
		txtSearchHeader:  "🔎 Topilgan kinolar:",
		txtSearchEmpty:   "😕 Hech narsa topilmadi.",
		txtChooseQuality: "🎚 Sifatni tanlang:",
		txtRated:         "⭐️ Bahoyingiz qabul qilindi!",
		txtMyID:          "🆔 Sizning ID raqamingiz: %d",
		txtHelp:          "ℹ️ Kino kodini yuboring (masalan, 123) yoki nomi bo'yicha qidiring.\n\n/start — boshlash\n/lang — tilni o'zgartirish\n/myid — ID raqamingiz",
	},
	"ru": {
		txtChooseLang:    "🌐 Выберите язык:",
		txtLangSet:       "✅ Язык установлен: Русский",
		txtGreeting:      "🎬 Отправьте код фильма или найдите его по названию.",
		txtAskCode:       "🔢 Отправьте код фильма:",
		txtAskSearch:     "🔍 Введите название фильма (минимум 2 буквы):",
		txtBtnEnterCode:  "🔢 Поиск по коду",
		txtBtnSearch:     "🔍 Поиск по названию",
		txtBtnCheck:      "✅ Проверить",
		txtBtnRate:       "⭐️ %s (%d)",
		txtBtnShare:      "↗️ Поделиться",
		txtBtnBack:       "⬅️ Назад",
		txtNotSubscribed: "❗️ Для использования бота подпишитесь на каналы:",
		txtSubOK:         "✅ Подписка подтверждена! Отправьте код фильма.",
		txtStillMissing:  "❌ Вы подписаны ещё не на все каналы.",
		txtQuotaExceeded: "⛔️ Дневной лимит исчерпан (%d запросов). Попробуйте завтра.",
		txtNotFound:      "😕 Код не найден: %s",
		txtDeliverFailed: "⚠️ Не удалось отправить фильм. Попробуйте позже.",
		txtSearchHeader:  "🔎 Найденные фильмы:",
		txtSearchEmpty:   "😕 Ничего не найдено.",
		txtChooseQuality: "🎚 Выберите качество:",
		txtRated:         "⭐️ Ваша оценка принята!",
		txtMyID:          "🆔 Ваш ID: %d",
		txtHelp:          "ℹ️ Отправьте код фильма (например, 123) или найдите по названию.\n\n/start — начать\n/lang — сменить язык\n/myid — ваш ID",
	},
	"en": {
		txtChooseLang:    "🌐 Choose a language:",
		txtLangSet:       "✅ Language set: English",
		txtGreeting:      "🎬 Send a movie code or search by title.",
		txtAskCode:       "🔢 Send the movie code:",
		txtAskSearch:     "🔍 Type the movie title (at least 2 letters):",
		txtBtnEnterCode:  "🔢 Search by code",
		txtBtnSearch:     "🔍 Search by title",
		txtBtnCheck:      "✅ Check",
		txtBtnRate:       "⭐️ %s (%d)",
		txtBtnShare:      "↗️ Share",
		txtBtnBack:       "⬅️ Back",
		txtNotSubscribed: "❗️ Join these channels to use the bot:",
		txtSubOK:         "✅ Subscription confirmed! Send a movie code.",
		txtStillMissing:  "❌ You have not joined all channels yet.",
		txtQuotaExceeded: "⛔️ Daily limit reached (%d requests). Try again tomorrow.",
		txtNotFound:      "😕 No movie with code: %s",
		txtDeliverFailed: "⚠️ Failed to send the movie. Try again later.",
		txtSearchHeader:  "🔎 Found movies:",
		txtSearchEmpty:   "😕 Nothing found.",
		txtChooseQuality: "🎚 Choose quality:",
		txtRated:         "⭐️ Your rating is in!",
		txtMyID:          "🆔 Your ID: %d",
		txtHelp:          "ℹ️ Send a movie code (e.g. 123) or search by title.\n\n/start — start\n/lang — change language\n/myid — your ID",
	},
}

var langNames = map[string]string{
	"uz": "🇺🇿 O'zbekcha",
	"ru": "🇷🇺 Русский",
	"en": "🇬🇧 English",
}

// langOrder keeps the picker buttons stable.
var langOrder = []string{"uz", "ru", "en"}

// T renders a localized text, falling back to the default language.
func T(lang string, key textKey, args ...any) string {
	tbl, ok := texts[lang]
	if !ok {
		tbl = texts[DefaultLang]
	}
	s, ok := tbl[key]
	if !ok {
		s = texts[DefaultLang][key]
	}
	if len(args) == 0 {
		return s
	}
	return fmt.Sprintf(s, args...)
}

// Admin texts stay in one language, like the original operator UI.
const (
	admMenuAdd       = "➕ Kino qo'shish"
	admMenuDelete    = "🗑 Kino o'chirish"
	admMenuList      = "📋 Kinolar ro'yxati"
	admMenuStats     = "📊 Statistika"
	admMenuBroadcast = "📣 Xabar yuborish"
	admMenuTemplate  = "📝 Shablon"

	admAskCode      = "🔢 Yangi kino kodini yuboring:"
	admAskMedia     = "🎞 Endi videoni yuboring yoki kanaldan postni forward qiling:"
	admAskTitle     = "📝 Kino nomini yuboring (ixtiyoriy: \"nom | sifat\"):"
	admAskDelete    = "🗑 O'chiriladigan kino kodini yuboring:"
	admAskBroadcast = "📣 Yuboriladigan xabarni yuboring. Matn, rasm, video yoki forward bo'lishi mumkin:"
	admAskTemplate  = "📝 Yangi shablonni yuboring. O'rinbosarlar: {title}, {quality}, {bot}"
	admSaved        = "✅ Saqlandi: kod %s (%s)"
	admDeleted      = "🗑 O'chirildi: %d ta yozuv (kod %s)"
	admDeletenone   = "😕 Bunday kod topilmadi."
	admNeedForward  = "❗️ Kanal posti kerak (forward) yoki video fayl."
	admTemplateSet  = "✅ Shablon yangilandi."
	admCancelled    = "↩️ Bekor qilindi."
	admBtnRecall    = "🗑 Xabarni qaytarib olish"
)

// renderCaption fills the caption template.
func renderCaption(tmpl, title, quality, botUsername string) string {
	r := strings.NewReplacer(
		"{title}", title,
		"{quality}", quality,
		"{bot}", botUsername,
	)
	return strings.TrimSpace(r.Replace(tmpl))
}

// DefaultCaptionTemplate embeds the title and the bot handle under the media.
const DefaultCaptionTemplate = "🎬 {title} {quality}\n\n🤖 @{bot}"
