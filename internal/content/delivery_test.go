package content

import (
	"context"
	"errors"
	"testing"

	"kinobot/internal/storage"
	kit "kinobot/internal/transport"
	logx "kinobot/pkg/logx"
)

type fakeMessenger struct {
	copyErr    error
	forwardErr error
	textErr    error
	fileErr    error

	copies   int
	forwards int
	texts    int
	files    int

	lastCaption string
	lastKind    kit.FileKind
}

func (f *fakeMessenger) CopyMessage(_ context.Context, _ kit.ChatTarget, _ kit.StoredRef, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.copies++
	if opt != nil {
		f.lastCaption = opt.Caption
	}
	if f.copyErr != nil {
		return kit.MessageRef{}, f.copyErr
	}
	return kit.MessageRef{ChatID: 1, MessageID: 10}, nil
}

func (f *fakeMessenger) ForwardMessage(_ context.Context, _ kit.ChatTarget, _ kit.StoredRef) (kit.MessageRef, error) {
	f.forwards++
	if f.forwardErr != nil {
		return kit.MessageRef{}, f.forwardErr
	}
	return kit.MessageRef{ChatID: 1, MessageID: 11}, nil
}

func (f *fakeMessenger) SendText(_ context.Context, _ kit.ChatTarget, _ string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.texts++
	if f.textErr != nil {
		return kit.MessageRef{}, f.textErr
	}
	return kit.MessageRef{ChatID: 1, MessageID: 12}, nil
}

func (f *fakeMessenger) SendFile(_ context.Context, _ kit.ChatTarget, kind kit.FileKind, _ string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.files++
	f.lastKind = kind
	if opt != nil {
		f.lastCaption = opt.Caption
	}
	if f.fileErr != nil {
		return kit.MessageRef{}, f.fileErr
	}
	return kit.MessageRef{ChatID: 1, MessageID: 13}, nil
}

type fakeViews struct{ incs []int64 }

func (f *fakeViews) IncrementViews(_ context.Context, id int64) error {
	f.incs = append(f.incs, id)
	return nil
}

var relayItem = storage.ContentItem{
	ID: 5, Code: "100", Title: "T", FileID: "file5", FileKind: "video",
	StorageChat: "-100123", StorageMessageID: 77,
}

func TestDeliverCopySucceeds(t *testing.T) {
	t.Parallel()
	m := &fakeMessenger{}
	v := &fakeViews{}
	d := NewDeliverer(m, v, logx.Nop())

	out := d.Deliver(context.Background(), 1, relayItem, "cap", nil)
	if out != Delivered {
		t.Fatalf("outcome = %s, want delivered", out)
	}
	if m.copies != 1 || m.forwards != 0 || m.files != 0 {
		t.Fatalf("calls = copy:%d fwd:%d file:%d, want only one copy", m.copies, m.forwards, m.files)
	}
	if m.lastCaption != "cap" {
		t.Fatalf("caption = %q, want cap", m.lastCaption)
	}
	if len(v.incs) != 1 || v.incs[0] != 5 {
		t.Fatalf("views = %v, want [5]", v.incs)
	}
}

func TestDeliverFallsBackToForward(t *testing.T) {
	t.Parallel()
	m := &fakeMessenger{copyErr: errors.New("copy refused")}
	v := &fakeViews{}
	d := NewDeliverer(m, v, logx.Nop())

	out := d.Deliver(context.Background(), 1, relayItem, "cap", struct{}{})
	if out != Delivered {
		t.Fatalf("outcome = %s, want delivered", out)
	}
	if m.forwards != 1 {
		t.Fatalf("forwards = %d, want 1", m.forwards)
	}
	if m.texts != 1 {
		t.Fatalf("caption follow-ups = %d, want 1", m.texts)
	}
	if m.files != 0 {
		t.Fatalf("direct sends = %d, want 0", m.files)
	}
	if len(v.incs) != 1 {
		t.Fatalf("views = %v, want one increment", v.incs)
	}
}

func TestDeliverForwardCaptionBestEffort(t *testing.T) {
	t.Parallel()
	// Forward lands but the caption follow-up fails; the media reached the
	// user, so delivery still counts.
	m := &fakeMessenger{copyErr: errors.New("x"), textErr: errors.New("y")}
	v := &fakeViews{}
	d := NewDeliverer(m, v, logx.Nop())

	if out := d.Deliver(context.Background(), 1, relayItem, "cap", nil); out != Delivered {
		t.Fatalf("outcome = %s, want delivered", out)
	}
	if len(v.incs) != 1 {
		t.Fatalf("views = %v, want one increment", v.incs)
	}
}

func TestDeliverFallsBackToDirectSend(t *testing.T) {
	t.Parallel()
	m := &fakeMessenger{copyErr: errors.New("x"), forwardErr: errors.New("y")}
	v := &fakeViews{}
	d := NewDeliverer(m, v, logx.Nop())

	out := d.Deliver(context.Background(), 1, relayItem, "cap", nil)
	if out != Delivered {
		t.Fatalf("outcome = %s, want delivered", out)
	}
	if m.files != 1 || m.lastKind != kit.FileVideo {
		t.Fatalf("direct sends = %d kind = %s, want 1 video", m.files, m.lastKind)
	}
	if len(v.incs) != 1 {
		t.Fatalf("views = %v, want one increment", v.incs)
	}
}

func TestDeliverAllRungsFail(t *testing.T) {
	t.Parallel()
	m := &fakeMessenger{
		copyErr:    errors.New("x"),
		forwardErr: errors.New("y"),
		fileErr:    errors.New("z"),
	}
	v := &fakeViews{}
	d := NewDeliverer(m, v, logx.Nop())

	if out := d.Deliver(context.Background(), 1, relayItem, "cap", nil); out != Failed {
		t.Fatalf("outcome = %s, want failed", out)
	}
	if len(v.incs) != 0 {
		t.Fatalf("views = %v, want none on failure", v.incs)
	}
}

func TestDeliverNoRefsIsNotFound(t *testing.T) {
	t.Parallel()
	m := &fakeMessenger{}
	v := &fakeViews{}
	d := NewDeliverer(m, v, logx.Nop())

	item := storage.ContentItem{ID: 6, Code: "1", Title: "T"}
	if out := d.Deliver(context.Background(), 1, item, "cap", nil); out != NotFound {
		t.Fatalf("outcome with no refs = %v, want not_found", out)
	}
	if m.copies+m.forwards+m.files+m.texts != 0 {
		t.Fatal("not_found must attempt nothing")
	}
	if len(v.incs) != 0 {
		t.Fatalf("views = %v, want none", v.incs)
	}
}

func TestDeliverFileOnlyItem(t *testing.T) {
	t.Parallel()
	m := &fakeMessenger{}
	v := &fakeViews{}
	d := NewDeliverer(m, v, logx.Nop())

	item := storage.ContentItem{ID: 7, Code: "2", Title: "T", FileID: "f", FileKind: "animation"}
	if out := d.Deliver(context.Background(), 1, item, "cap", nil); out != Delivered {
		t.Fatalf("outcome = %v, want delivered", out)
	}
	if m.copies != 0 || m.forwards != 0 {
		t.Fatal("relay attempted without a storage ref")
	}
	if m.lastKind != kit.FileAnimation {
		t.Fatalf("kind = %s, want animation", m.lastKind)
	}
}
