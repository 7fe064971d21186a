package router

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"kinobot/internal/broadcast"
	"kinobot/internal/content"
	"kinobot/internal/gate"
	"kinobot/internal/storage"
	kit "kinobot/internal/transport"
	logx "kinobot/pkg/logx"
)

type sentText struct {
	chatID int64
	text   string
	markup any
}

type fakeAdapter struct {
	mu sync.Mutex

	texts    []sentText
	files    []string // file ids sent
	copies   int
	copySrcs []kit.StoredRef
	deletes  []kit.MessageRef
	edits    []string
	answers  []string
	member   map[string]kit.MemberStatus
	nextMsg  int
	identity kit.BotIdentity
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		member:   map[string]kit.MemberStatus{},
		identity: kit.BotIdentity{ID: 10, Username: "kinotest_bot"},
	}
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var markup any
	if opt != nil {
		markup = opt.ReplyMarkupAdapter
	}
	f.texts = append(f.texts, sentText{chatID: to.ChatID, text: text, markup: markup})
	f.nextMsg++
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextMsg}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, _ kit.MessageRef, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeAdapter) EditReplyMarkup(context.Context, kit.MessageRef, any) error { return nil }

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeAdapter) DeleteMessage(_ context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, ref)
	return nil
}

func (f *fakeAdapter) CopyMessage(_ context.Context, to kit.ChatTarget, src kit.StoredRef, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies++
	f.copySrcs = append(f.copySrcs, src)
	f.nextMsg++
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextMsg}, nil
}

func (f *fakeAdapter) ForwardMessage(_ context.Context, to kit.ChatTarget, _ kit.StoredRef) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMsg++
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextMsg}, nil
}

func (f *fakeAdapter) SendFile(_ context.Context, to kit.ChatTarget, _ kit.FileKind, fileID string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, fileID)
	f.nextMsg++
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextMsg}, nil
}

func (f *fakeAdapter) MemberStatus(_ context.Context, channel string, _ int64) (kit.MemberStatus, error) {
	if st, ok := f.member[channel]; ok {
		return st, nil
	}
	return kit.MemberLeft, nil
}

func (f *fakeAdapter) Identity() kit.BotIdentity { return f.identity }

func (f *fakeAdapter) lastText(t *testing.T) sentText {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		t.Fatal("no texts sent")
	}
	return f.texts[len(f.texts)-1]
}

type testEnv struct {
	router  *Router
	adapter *fakeAdapter
	store   storage.Store
}

func newTestEnv(t *testing.T, channels []string, quotaLimit int, admins []int64) *testEnv {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ad := newFakeAdapter()
	r := New(Deps{
		Adapter:   ad,
		Store:     st,
		Quota:     gate.NewQuota(st, quotaLimit, logx.Nop()),
		Gate:      gate.New(ad, channels, logx.Nop()),
		Resolver:  content.NewResolver(st, logx.Nop()),
		Deliverer: content.NewDeliverer(ad, st, logx.Nop()),
		Broadcast: broadcast.New(ad, st, broadcast.Config{RatePerSec: 10000, SendTimeout: time.Second}, logx.Nop()),
		Sessions:  NewSessionStore(time.Hour),
		Admins:    admins,
		Logger:    logx.Nop(),
	})
	return &testEnv{router: r, adapter: ad, store: st}
}

func (e *testEnv) message(t *testing.T, from int64, text string) {
	t.Helper()
	e.messageFull(t, from, text, nil, nil)
}

func (e *testEnv) messageFull(t *testing.T, from int64, text string, media *kit.Media, fwd *kit.StoredRef) {
	t.Helper()
	up := kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID: 1, ChatID: from, FromID: from, Text: text, Media: media, Forward: fwd,
	}}
	req, ok := e.router.buildRequest(context.Background(), up)
	if !ok {
		t.Fatal("request not built")
	}
	if err := e.router.handle(context.Background(), req); err != nil {
		t.Fatalf("handle: %v", err)
	}
}

func (e *testEnv) callback(t *testing.T, from int64, data string) {
	t.Helper()
	up := kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb1", ChatID: from, FromID: from, MessageID: 5, Data: data,
	}}
	req, ok := e.router.buildRequest(context.Background(), up)
	if !ok {
		t.Fatal("request not built")
	}
	if err := e.router.handle(context.Background(), req); err != nil {
		t.Fatalf("handle: %v", err)
	}
}

func seedContent(t *testing.T, st storage.Store, item storage.ContentItem) int64 {
	t.Helper()
	id, err := st.InsertContent(context.Background(), item)
	if err != nil {
		t.Fatalf("seed content: %v", err)
	}
	return id
}

func TestCodeRequestDeliversFile(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, 5, nil)
	id := seedContent(t, env.store, storage.ContentItem{Code: "123", Title: "Dune", FileID: "file-dune"})

	env.message(t, 100, "123")

	if len(env.adapter.files) != 1 || env.adapter.files[0] != "file-dune" {
		t.Fatalf("files sent = %v, want [file-dune]", env.adapter.files)
	}
	it, err := env.store.ContentByID(context.Background(), id)
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	if it.Views != 1 {
		t.Fatalf("views = %d, want 1", it.Views)
	}
}

func TestCodeRequestVariantsKeyboard(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, 5, nil)
	seedContent(t, env.store, storage.ContentItem{Code: "5", Title: "M", Quality: "480p", FileID: "a"})
	seedContent(t, env.store, storage.ContentItem{Code: "5", Title: "M", Quality: "720p", FileID: "b"})

	env.message(t, 100, "5")

	// First variant delivered, remaining offered as buttons.
	if len(env.adapter.files) != 1 || env.adapter.files[0] != "a" {
		t.Fatalf("files = %v, want first variant only", env.adapter.files)
	}
	last := env.adapter.lastText(t)
	if last.markup == nil {
		t.Fatal("variant keyboard missing")
	}
}

func TestGateBlocksDelivery(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, []string{"@main", "@second"}, 5, nil)
	env.adapter.member["@main"] = kit.MemberMember
	// @second stays left.
	seedContent(t, env.store, storage.ContentItem{Code: "1", Title: "X", FileID: "f"})

	env.message(t, 100, "1")

	if len(env.adapter.files) != 0 {
		t.Fatalf("files = %v, want none while gated", env.adapter.files)
	}
	last := env.adapter.lastText(t)
	if !strings.Contains(last.text, "@second") {
		t.Fatalf("join prompt %q does not name @second", last.text)
	}
	if strings.Contains(last.text, "@main") {
		t.Fatalf("join prompt %q names a joined channel", last.text)
	}
}

func TestQuotaExceededMessage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, 1, nil)
	seedContent(t, env.store, storage.ContentItem{Code: "1", Title: "X", FileID: "f"})

	env.message(t, 100, "1")
	env.message(t, 100, "1")

	if len(env.adapter.files) != 1 {
		t.Fatalf("files = %d, want 1 (second request over quota)", len(env.adapter.files))
	}
	last := env.adapter.lastText(t)
	if !strings.Contains(last.text, "1") || !strings.Contains(last.text, "⛔️") {
		t.Fatalf("quota message = %q", last.text)
	}
}

func TestUnknownCodeMessage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, 5, nil)

	env.message(t, 100, "404")

	last := env.adapter.lastText(t)
	if !strings.Contains(last.text, "404") {
		t.Fatalf("not-found message %q does not echo the code", last.text)
	}
	if len(env.adapter.files) != 0 {
		t.Fatal("file sent for unknown code")
	}
}

func TestTitleSearchFlow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, 5, nil)
	seedContent(t, env.store, storage.ContentItem{Code: "7", Title: "Dune Part Two", FileID: "f"})

	env.message(t, 100, "dune")

	last := env.adapter.lastText(t)
	if !strings.Contains(last.text, "7 — Dune Part Two") {
		t.Fatalf("search result = %q", last.text)
	}
}

func TestStarCallbackStoresRating(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, 5, nil)
	id := seedContent(t, env.store, storage.ContentItem{Code: "1", Title: "X", FileID: "f"})

	env.callback(t, 100, fmt.Sprintf("video:star:%d:4", id))

	stats, err := env.store.RatingStats(context.Background(), id)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Count != 1 || stats.Average != 4 {
		t.Fatalf("stats = %+v, want one rating of 4", stats)
	}
}

func TestLangCallbackSetsLanguage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, 5, nil)

	env.callback(t, 100, "lang:set:ru")

	lang, err := env.store.UserLanguage(context.Background(), 100)
	if err != nil {
		t.Fatalf("language: %v", err)
	}
	if lang != "ru" {
		t.Fatalf("language = %q, want ru", lang)
	}
	last := env.adapter.lastText(t)
	if last.text != T("ru", txtGreeting) {
		t.Fatalf("greeting = %q, want russian greeting", last.text)
	}
}

func TestAdminAddFlow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, 5, []int64{900})

	env.message(t, 900, admMenuAdd)
	env.message(t, 900, "321")
	env.messageFull(t, 900, "", &kit.Media{Kind: kit.FileVideo, FileID: "vid-1"}, &kit.StoredRef{Chat: "-100555", MessageID: 42})
	env.message(t, 900, "Oppenheimer | 1080p")

	rows, err := env.store.ContentByCode(context.Background(), "321")
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	it := rows[0]
	if it.Title != "Oppenheimer" || it.Quality != "1080p" {
		t.Fatalf("row = %+v, want title/quality parsed", it)
	}
	if it.FileID != "vid-1" || it.StorageChat != "-100555" || it.StorageMessageID != 42 {
		t.Fatalf("row refs = %+v, want media and forward captured", it)
	}
}

func TestAdminMediaRejectsPlainDocument(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, 5, []int64{900})

	env.message(t, 900, admMenuAdd)
	env.message(t, 900, "1")
	env.messageFull(t, 900, "", &kit.Media{Kind: kit.FileDocument, FileID: "doc-1", MIME: "application/pdf"}, nil)

	last := env.adapter.lastText(t)
	if last.text != admNeedForward {
		t.Fatalf("reply = %q, want media rejection", last.text)
	}
}

func TestAdminDeleteFlow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, 5, []int64{900})
	seedContent(t, env.store, storage.ContentItem{Code: "9", Title: "Gone", FileID: "f"})

	env.message(t, 900, admMenuDelete)
	env.message(t, 900, "9")

	rows, _ := env.store.ContentByCode(context.Background(), "9")
	if len(rows) != 0 {
		t.Fatalf("rows after delete = %d, want 0", len(rows))
	}
}

// waitCopySrcs polls the adapter until the fan-out has copied to n chats.
func (e *testEnv) waitCopySrcs(t *testing.T, n int) []kit.StoredRef {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		e.adapter.mu.Lock()
		srcs := append([]kit.StoredRef(nil), e.adapter.copySrcs...)
		e.adapter.mu.Unlock()
		if len(srcs) >= n {
			return srcs
		}
		if time.Now().After(deadline) {
			t.Fatalf("copies = %d, want %d", len(srcs), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAdminBroadcastOwnMessage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, 5, []int64{900})
	ctx := context.Background()
	for _, uid := range []int64{1, 2, 3} {
		if err := env.store.UpsertUser(ctx, uid, ""); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	env.message(t, 900, admMenuBroadcast)
	// A typed announcement, no forward: the admin's own message is the payload.
	env.message(t, 900, "Yangi kinolar qo'shildi!")

	for _, src := range env.waitCopySrcs(t, 3) {
		if src.Chat != "900" || src.MessageID != 1 {
			t.Fatalf("copy source = %+v, want the admin message itself", src)
		}
	}
}

func TestAdminBroadcastForwardUsesOrigin(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, 5, []int64{900})
	if err := env.store.UpsertUser(context.Background(), 1, ""); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	env.message(t, 900, admMenuBroadcast)
	env.messageFull(t, 900, "", nil, &kit.StoredRef{Chat: "-100777", MessageID: 9})

	srcs := env.waitCopySrcs(t, 1)
	if srcs[0].Chat != "-100777" || srcs[0].MessageID != 9 {
		t.Fatalf("copy source = %+v, want the forwarded channel post", srcs[0])
	}
}

func TestNonAdminCannotUseAdminMenu(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, 5, []int64{900})

	// For a non-admin the menu label is just a title search.
	env.message(t, 100, admMenuDelete)

	if sess, ok := env.router.sessions.Get(100); ok && isAdminState(sess.State) {
		t.Fatalf("non-admin entered admin state %v", sess.State)
	}
}

func TestCallbackDataParsing(t *testing.T) {
	t.Parallel()
	cases := []struct {
		data                string
		ns, action, payload string
		ok                  bool
	}{
		{"video:star:12:5", "video", "star", "12:5", true},
		{"sub:check", "sub", "check", "", true},
		{"lang:set:ru", "lang", "set", "ru", true},
		{"garbage", "", "", "", false},
	}
	for _, tc := range cases {
		ns, action, payload, ok := splitCallback(tc.data)
		if ns != tc.ns || action != tc.action || payload != tc.payload || ok != tc.ok {
			t.Errorf("splitCallback(%q) = (%q,%q,%q,%v), want (%q,%q,%q,%v)",
				tc.data, ns, action, payload, ok, tc.ns, tc.action, tc.payload, tc.ok)
		}
	}
}
