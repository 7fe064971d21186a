package content

import (
	"context"

	"kinobot/internal/storage"
	kit "kinobot/internal/transport"
	logx "kinobot/pkg/logx"
)

type Outcome int

const (
	// Delivered: the user received the media through some rung of the chain.
	Delivered Outcome = iota
	// NotFound: the row carries neither a storage ref nor a file ref;
	// nothing was attempted.
	NotFound
	// Failed: at least one send was attempted and every attempt errored.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case NotFound:
		return "not_found"
	default:
		return "failed"
	}
}

// Messenger is the transport surface the delivery chain needs.
type Messenger interface {
	CopyMessage(ctx context.Context, to kit.ChatTarget, src kit.StoredRef, opt *kit.SendOptions) (kit.MessageRef, error)
	ForwardMessage(ctx context.Context, to kit.ChatTarget, src kit.StoredRef) (kit.MessageRef, error)
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	SendFile(ctx context.Context, to kit.ChatTarget, kind kit.FileKind, fileID string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// ViewCounter records confirmed deliveries.
type ViewCounter interface {
	IncrementViews(ctx context.Context, id int64) error
}

// Deliverer walks the delivery chain for one content row:
// storage-channel copy, then forward plus caption follow-up, then direct send
// by file id. The view counter moves only on confirmed delivery, and transport
// errors never escape; callers act on the Outcome.
type Deliverer struct {
	msgr  Messenger
	views ViewCounter
	log   logx.Logger
}

func NewDeliverer(msgr Messenger, views ViewCounter, log logx.Logger) *Deliverer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Deliverer{msgr: msgr, views: views, log: log}
}

// Deliver sends item to userID with the presentation caption and keyboard.
func (d *Deliverer) Deliver(ctx context.Context, userID int64, item storage.ContentItem, caption string, markup any) Outcome {
	to := kit.ChatTarget{ChatID: userID}
	opt := &kit.SendOptions{Caption: caption, ReplyMarkupAdapter: markup}
	attempted := false

	ref := kit.StoredRef{Chat: item.StorageChat, MessageID: item.StorageMessageID}
	if !ref.IsZero() {
		attempted = true
		_, err := d.msgr.CopyMessage(ctx, to, ref, opt)
		if err == nil {
			d.confirm(ctx, item.ID)
			return Delivered
		}
		d.log.Warn("storage copy failed; trying forward",
			logx.Int64("content_id", item.ID), logx.Int64("user_id", userID), logx.Err(err))

		_, err = d.msgr.ForwardMessage(ctx, to, ref)
		if err == nil {
			// The forward carries no caption; send it as a follow-up.
			// Best effort: the media already reached the user.
			if caption != "" || markup != nil {
				if _, err := d.msgr.SendText(ctx, to, caption, &kit.SendOptions{ReplyMarkupAdapter: markup}); err != nil {
					d.log.Warn("caption follow-up failed",
						logx.Int64("content_id", item.ID), logx.Int64("user_id", userID), logx.Err(err))
				}
			}
			d.confirm(ctx, item.ID)
			return Delivered
		}
		d.log.Warn("storage forward failed; trying direct send",
			logx.Int64("content_id", item.ID), logx.Int64("user_id", userID), logx.Err(err))
	}

	if item.FileID != "" {
		attempted = true
		kind := kit.FileKind(item.FileKind)
		if kind == "" {
			kind = kit.FileVideo
		}
		_, err := d.msgr.SendFile(ctx, to, kind, item.FileID, opt)
		if err == nil {
			d.confirm(ctx, item.ID)
			return Delivered
		}
		d.log.Warn("direct send failed",
			logx.Int64("content_id", item.ID), logx.Int64("user_id", userID), logx.Err(err))
	}

	if !attempted {
		return NotFound
	}
	return Failed
}

func (d *Deliverer) confirm(ctx context.Context, contentID int64) {
	if d.views == nil {
		return
	}
	if err := d.views.IncrementViews(ctx, contentID); err != nil {
		d.log.Warn("view increment failed", logx.Int64("content_id", contentID), logx.Err(err))
	}
}
