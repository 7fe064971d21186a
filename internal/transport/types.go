package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// Message is a normalized incoming message. Media fields are populated for
// video/document/animation uploads (admin content ingestion); Forward holds
// the channel-post origin when the message was forwarded from a channel.
type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	Caption      string
	IsGroup      bool

	Media   *Media
	Forward *StoredRef
}

// Media describes an attached file by its platform file id.
type Media struct {
	Kind   FileKind
	FileID string
	MIME   string
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// StoredRef points at a message in a storage channel by channel identity
// (numeric "-100..." id or "@username") and message id. It is the payload
// of relayed deliveries and broadcasts.
type StoredRef struct {
	Chat      string
	MessageID int
}

func (r StoredRef) IsZero() bool { return r.Chat == "" || r.MessageID == 0 }

// FileKind classifies direct-send media.
type FileKind string

const (
	FileVideo     FileKind = "video"
	FileDocument  FileKind = "document"
	FileAnimation FileKind = "animation"
)

// MemberStatus is the platform's membership role of a user in a channel.
type MemberStatus string

const (
	MemberCreator       MemberStatus = "creator"
	MemberAdministrator MemberStatus = "administrator"
	MemberMember        MemberStatus = "member"
	MemberRestricted    MemberStatus = "restricted"
	MemberLeft          MemberStatus = "left"
	MemberBanned        MemberStatus = "kicked"
)

// Satisfies reports whether the status counts as "subscribed".
func (s MemberStatus) Satisfies() bool {
	switch s {
	case MemberCreator, MemberAdministrator, MemberMember, MemberRestricted:
		return true
	default:
		return false
	}
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	Caption            string // copy/media caption override
	ReplyMarkupAdapter any    // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// BotIdentity is the bot's own account info, used to build share links.
type BotIdentity struct {
	ID       int64
	Username string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	// EditReplyMarkup swaps only the inline keyboard; works on media messages.
	EditReplyMarkup(ctx context.Context, ref MessageRef, markup any) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
	DeleteMessage(ctx context.Context, ref MessageRef) error

	// CopyMessage re-posts a stored message into the target chat with a fresh
	// caption and markup; the copy carries no forward header.
	CopyMessage(ctx context.Context, to ChatTarget, src StoredRef, opt *SendOptions) (MessageRef, error)
	// ForwardMessage relays a stored message verbatim (forward header kept).
	ForwardMessage(ctx context.Context, to ChatTarget, src StoredRef) (MessageRef, error)
	// SendFile sends media by file id according to kind.
	SendFile(ctx context.Context, to ChatTarget, kind FileKind, fileID string, opt *SendOptions) (MessageRef, error)

	// MemberStatus probes the user's membership in a channel ("@name" or "-100..." id).
	MemberStatus(ctx context.Context, channel string, userID int64) (MemberStatus, error)

	Identity() BotIdentity
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
