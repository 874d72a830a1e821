// Package whatsapp adapts a WhatsApp multi-device session, through whatsmeow, to
// the platform.Client boundary.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mdp/qrterminal"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/edgard/polaris-bridge/internal/database"
	"github.com/edgard/polaris-bridge/internal/logger"
	"github.com/edgard/polaris-bridge/internal/platform"
)

const (
	downloadTimeout = 60 * time.Second
	groupTimeout    = 10 * time.Second
	// eventBuffer bounds the messages waiting for the handler before the
	// whatsmeow event loop blocks.
	eventBuffer = 64
	// recentLimit bounds the received messages kept for quoting replies.
	recentLimit = 512
)

// session is the part of *whatsmeow.Client the adapter uses.
type session interface {
	Connect() error
	Disconnect()
	AddEventHandler(handler whatsmeow.EventHandler) uint32
	RemoveEventHandler(id uint32) bool
	GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
	Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
	Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)
	SendPresence(ctx context.Context, state types.Presence) error
	SendChatPresence(ctx context.Context, jid types.JID, state types.ChatPresence, media types.ChatPresenceMedia) error
	MarkRead(ctx context.Context, ids []types.MessageID, timestamp time.Time, chat, sender types.JID, receiptTypeExtra ...types.ReceiptType) error
	SetStatusMessage(ctx context.Context, status types.SetStatusInput) error
	GetGroupInfo(ctx context.Context, jid types.JID) (*types.GroupInfo, error)
}

var _ session = (*whatsmeow.Client)(nil)

// receipt is a received message not yet marked read.
type receipt struct {
	id     types.MessageID
	chat   types.JID
	sender types.JID
}

// Client is a WhatsApp session paired as a linked device.
type Client struct {
	api    session
	device *store.Device
	store  io.Closer
	qrOut  io.Writer
	logger *slog.Logger

	mu      sync.Mutex
	handler platform.Handler
	unread  map[string][]receipt
	groups  map[string]string
	recent  map[types.MessageID]*events.Message
	order   []types.MessageID

	readyOnce sync.Once
	ready     chan struct{}
	doneOnce  sync.Once
	done      chan struct{}
	failed    chan error
	incoming  chan *events.Message
}

var _ platform.Client = (*Client)(nil)

// NewClient opens the session store at sessionPath and creates a client for its
// device. An unpaired device is linked by scanning the QR code Listen prints.
func NewClient(ctx context.Context, sessionPath string, log *slog.Logger) (*Client, error) {
	if strings.TrimSpace(sessionPath) == "" {
		return nil, fmt.Errorf("whatsapp session path cannot be empty")
	}
	if log == nil {
		log = slog.Default()
	}

	container, err := sqlstore.New(ctx, "sqlite", database.DSN(sessionPath), logger.NewWhatsmeowLogger(log, "Database"))
	if err != nil {
		return nil, fmt.Errorf("failed to open whatsapp session store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("failed to load whatsapp device: %w", err)
	}

	wa := whatsmeow.NewClient(device, logger.NewWhatsmeowLogger(log, "Client"))
	c := newClient(wa, device, log)
	c.store = container
	c.logger.Info("WhatsApp client created", "session", sessionPath, "paired", device.ID != nil)
	return c, nil
}

func newClient(api session, device *store.Device, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		api:      api,
		device:   device,
		qrOut:    os.Stdout,
		logger:   log.With("component", "whatsapp_client"),
		unread:   make(map[string][]receipt),
		groups:   make(map[string]string),
		recent:   make(map[types.MessageID]*events.Message),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		failed:   make(chan error, 1),
		incoming: make(chan *events.Message, eventBuffer),
	}
}

// Close disconnects the session and closes its store.
func (c *Client) Close() error {
	c.api.Disconnect()
	if c.store == nil {
		return nil
	}
	if err := c.store.Close(); err != nil {
		return fmt.Errorf("failed to close whatsapp session store: %w", err)
	}
	return nil
}

func (c *Client) Profile() platform.Profile {
	return platform.WhatsAppProfile()
}

// Me describes the paired account. WhatsApp has no usernames, so the phone
// number serves as one.
func (c *Client) Me(context.Context) (platform.Contact, error) {
	if c.device == nil || c.device.ID == nil {
		return platform.Contact{}, errors.New("whatsapp device is not paired")
	}
	user := c.device.ID.User
	return platform.Contact{ID: user, FirstName: c.device.PushName, Username: user}, nil
}

// Listen connects, pairing first when needed, announces readiness to h and then
// delivers messages in arrival order until ctx is done or the session is
// logged out or replaced. The socket stays open for the offline presence sent
// on shutdown; Close ends it.
func (c *Client) Listen(ctx context.Context, h platform.Handler) error {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()

	id := c.api.AddEventHandler(c.handleEvent)
	defer c.api.RemoveEventHandler(id)
	defer c.doneOnce.Do(func() { close(c.done) })

	if err := c.connect(ctx); err != nil {
		return err
	}

	select {
	case <-c.ready:
	case err := <-c.failed:
		return err
	case <-ctx.Done():
		return nil
	}
	if err := h.OnReady(ctx); err != nil {
		return err
	}

	c.logger.Info("Listening for WhatsApp messages...")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("WhatsApp listener stopped.")
			return nil
		case err := <-c.failed:
			return err
		case evt := <-c.incoming:
			c.deliver(ctx, h, evt)
		}
	}
}

// connect opens the socket. An unpaired device prints each QR code until the
// phone links it; pairing errors fail the session.
func (c *Client) connect(ctx context.Context) error {
	if c.device != nil && c.device.ID != nil {
		if err := c.api.Connect(); err != nil {
			return fmt.Errorf("failed to connect to whatsapp: %w", err)
		}
		return nil
	}

	qr, err := c.api.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to get whatsapp pairing channel: %w", err)
	}
	if err := c.api.Connect(); err != nil {
		return fmt.Errorf("failed to connect to whatsapp: %w", err)
	}
	go c.pair(qr)
	return nil
}

func (c *Client) pair(qr <-chan whatsmeow.QRChannelItem) {
	for item := range qr {
		switch {
		case item.Event == whatsmeow.QRChannelEventCode:
			c.logger.Info("Scan the QR code with WhatsApp to link the bridge", "expires_in", item.Timeout)
			qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, c.qrOut)
		case item.Event == whatsmeow.QRChannelSuccess.Event:
			c.logger.Info("WhatsApp device linked")
		case item.Event == whatsmeow.QRChannelEventError:
			c.fail(fmt.Errorf("whatsapp pairing failed: %w", item.Error))
		default:
			c.fail(fmt.Errorf("whatsapp pairing failed: %s", item.Event))
		}
	}
}

func (c *Client) fail(err error) {
	select {
	case c.failed <- err:
	default:
	}
}

func (c *Client) handleEvent(evt any) {
	switch e := evt.(type) {
	case *events.Message:
		if e.Info.IsFromMe || e.Message == nil || e.Info.Chat == types.StatusBroadcastJID {
			return
		}
		c.remember(e)
		select {
		case c.incoming <- e:
		case <-c.done:
		}
	case *events.Connected:
		c.logger.Info("WhatsApp connection established")
		c.readyOnce.Do(func() { close(c.ready) })
	case *events.Disconnected:
		c.logger.Warn("WhatsApp connection lost, reconnecting")
	case *events.LoggedOut:
		c.fail(fmt.Errorf("whatsapp session logged out: %v", e.Reason))
	case *events.StreamReplaced:
		c.fail(errors.New("whatsapp session replaced by another connection"))
	}
}

// deliver resolves what the message needs from the network and hands it to h.
func (c *Client) deliver(ctx context.Context, h platform.Handler, evt *events.Message) {
	msg := newMessage(evt, c)
	if evt.Info.IsGroup {
		msg.title = c.groupName(ctx, evt.Info.Chat)
	}

	key := chatKey(msg.chatJID())
	c.mu.Lock()
	c.unread[key] = append(c.unread[key], receipt{id: evt.Info.ID, chat: evt.Info.Chat, sender: evt.Info.Sender})
	c.mu.Unlock()

	h.OnMessage(ctx, msg)
}

// remember keeps evt for quoting, evicting the oldest message past recentLimit.
func (c *Client) remember(evt *events.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.recent[evt.Info.ID]; !ok {
		c.order = append(c.order, evt.Info.ID)
	}
	c.recent[evt.Info.ID] = evt
	for len(c.order) > recentLimit {
		delete(c.recent, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *Client) lookup(id types.MessageID) *events.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recent[id]
}

// groupName returns the cached subject of a group, asking the server once.
func (c *Client) groupName(ctx context.Context, jid types.JID) string {
	key := jid.String()
	c.mu.Lock()
	name, ok := c.groups[key]
	c.mu.Unlock()
	if ok {
		return name
	}

	ctx, cancel := context.WithTimeout(ctx, groupTimeout)
	defer cancel()
	info, err := c.api.GetGroupInfo(ctx, jid)
	if err != nil {
		c.logger.DebugContext(ctx, "Failed to get group info", "group", key, "error", err)
		return ""
	}
	c.mu.Lock()
	c.groups[key] = info.Name
	c.mu.Unlock()
	return info.Name
}

func (c *Client) SendText(ctx context.Context, locator, text string, opts platform.SendOptions) error {
	to, err := parseLocator(locator)
	if err != nil {
		return err
	}
	msg := &waE2E.Message{}
	if info := c.contextInfo(opts.ReplyTo, opts.Mentions); info != nil {
		msg.ExtendedTextMessage = &waE2E.ExtendedTextMessage{Text: proto.String(text), ContextInfo: info}
	} else {
		msg.Conversation = proto.String(text)
	}
	if _, err := c.api.SendMessage(ctx, to, msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendMedia uploads media and sends it. WhatsApp has no reusable file ids, so an
// attachment without data cannot be sent.
func (c *Client) SendMedia(ctx context.Context, locator string, kind platform.Kind, media platform.Attachment, opts platform.SendOptions) error {
	to, err := parseLocator(locator)
	if err != nil {
		return err
	}
	if len(media.Data) == 0 {
		return fmt.Errorf("send %s by reference: %w", kind, platform.ErrNotSupported)
	}

	mediaType, ok := uploadTypes[kind]
	if !ok {
		return fmt.Errorf("send %s: %w", kind, platform.ErrNotSupported)
	}
	up, err := c.api.Upload(ctx, media.Data, mediaType)
	if err != nil {
		return fmt.Errorf("upload %s: %w", kind, err)
	}

	msg := mediaMessage(kind, media, up, opts.Caption, c.contextInfo(opts.ReplyTo, nil))
	if _, err := c.api.SendMessage(ctx, to, msg); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return nil
}

func (c *Client) SendChatState(ctx context.Context, locator string, state platform.ChatState) error {
	to, err := parseLocator(locator)
	if err != nil {
		return err
	}
	presence, media := types.ChatPresenceComposing, types.ChatPresenceMediaText
	switch state {
	case platform.StateRecording:
		media = types.ChatPresenceMediaAudio
	case platform.StateClear:
		presence = types.ChatPresencePaused
	}
	if err := c.api.SendChatPresence(ctx, to, presence, media); err != nil {
		return fmt.Errorf("send chat presence: %w", err)
	}
	return nil
}

// MarkRead sends read receipts for every message received from locator since
// the last call. Group receipts name the sender of each message.
func (c *Client) MarkRead(ctx context.Context, locator string) error {
	to, err := parseLocator(locator)
	if err != nil {
		return err
	}
	key := chatKey(to)
	c.mu.Lock()
	pending := c.unread[key]
	delete(c.unread, key)
	c.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	type batchKey struct{ chat, sender types.JID }
	var order []batchKey
	batches := make(map[batchKey][]types.MessageID)
	for _, r := range pending {
		k := batchKey{chat: r.chat}
		if r.chat.Server == types.GroupServer {
			k.sender = r.sender
		}
		if _, ok := batches[k]; !ok {
			order = append(order, k)
		}
		batches[k] = append(batches[k], r.id)
	}

	now := time.Now()
	for _, k := range order {
		if err := c.api.MarkRead(ctx, batches[k], now, k.chat, k.sender); err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
	}
	return nil
}

func (c *Client) SetPresence(ctx context.Context, available bool) error {
	presence := types.PresenceUnavailable
	if available {
		presence = types.PresenceAvailable
	}
	if err := c.api.SendPresence(ctx, presence); err != nil {
		return fmt.Errorf("send presence: %w", err)
	}
	return nil
}

// SetStatus publishes status as the account's about text.
func (c *Client) SetStatus(ctx context.Context, status string) error {
	if err := c.api.SetStatusMessage(ctx, types.SetStatusInput{Text: proto.String(status)}); err != nil {
		return fmt.Errorf("set status message: %w", err)
	}
	return nil
}

// contextInfo carries the quoted message and mentioned accounts of an outbound
// message, or is nil when it has neither. Quotes of messages no longer cached
// keep only the id.
func (c *Client) contextInfo(replyTo string, mentions []string) *waE2E.ContextInfo {
	var info waE2E.ContextInfo
	var set bool
	if replyTo != "" {
		info.StanzaID = proto.String(replyTo)
		if quoted := c.lookup(replyTo); quoted != nil {
			info.Participant = proto.String(quoted.Info.Sender.ToNonAD().String())
			info.QuotedMessage = quoted.Message
		}
		set = true
	}
	for _, m := range mentions {
		jid, err := parseLocator(m)
		if err != nil {
			c.logger.Debug("Skipping invalid mention", "mention", m, "error", err)
			continue
		}
		info.MentionedJID = append(info.MentionedJID, jid.String())
		set = true
	}
	if !set {
		return nil
	}
	return &info
}

var uploadTypes = map[platform.Kind]whatsmeow.MediaType{
	platform.KindImage:     whatsmeow.MediaImage,
	platform.KindSticker:   whatsmeow.MediaImage,
	platform.KindVideo:     whatsmeow.MediaVideo,
	platform.KindAnimation: whatsmeow.MediaVideo,
	platform.KindAudio:     whatsmeow.MediaAudio,
	platform.KindVoice:     whatsmeow.MediaAudio,
	platform.KindDocument:  whatsmeow.MediaDocument,
}

func mediaMessage(kind platform.Kind, media platform.Attachment, up whatsmeow.UploadResponse, caption string, info *waE2E.ContextInfo) *waE2E.Message {
	var text *string
	if caption != "" {
		text = proto.String(caption)
	}
	url, path, length := proto.String(up.URL), proto.String(up.DirectPath), proto.Uint64(up.FileLength)
	mime := proto.String(media.MIME)

	switch kind {
	case platform.KindImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           url,
			DirectPath:    path,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    length,
			Mimetype:      mime,
			Caption:       text,
			ContextInfo:   info,
		}}
	case platform.KindSticker:
		return &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
			URL:           url,
			DirectPath:    path,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    length,
			Mimetype:      mime,
			ContextInfo:   info,
		}}
	case platform.KindVideo, platform.KindAnimation:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           url,
			DirectPath:    path,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    length,
			Mimetype:      mime,
			Caption:       text,
			GifPlayback:   proto.Bool(kind == platform.KindAnimation),
			ContextInfo:   info,
		}}
	case platform.KindAudio, platform.KindVoice:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           url,
			DirectPath:    path,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    length,
			Mimetype:      mime,
			PTT:           proto.Bool(kind == platform.KindVoice),
			ContextInfo:   info,
		}}
	}
	return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
		URL:           url,
		DirectPath:    path,
		MediaKey:      up.MediaKey,
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    length,
		Mimetype:      mime,
		FileName:      proto.String(media.Filename),
		Title:         proto.String(media.Filename),
		Caption:       text,
		ContextInfo:   info,
	}}
}

// parseLocator turns a chat address into a JID. The legacy c.us server of
// account addresses is mapped onto s.whatsapp.net.
func parseLocator(locator string) (types.JID, error) {
	if !strings.Contains(locator, "@") {
		return types.EmptyJID, fmt.Errorf("invalid whatsapp address %q", locator)
	}
	jid, err := types.ParseJID(locator)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("invalid whatsapp address %q: %w", locator, err)
	}
	if jid.User == "" {
		return types.EmptyJID, fmt.Errorf("invalid whatsapp address %q", locator)
	}
	if jid.Server == types.LegacyUserServer {
		jid.Server = types.DefaultUserServer
	}
	return jid, nil
}

// chatKey identifies a chat regardless of device suffix.
func chatKey(jid types.JID) string {
	if jid.Server == types.LegacyUserServer {
		jid.Server = types.DefaultUserServer
	}
	return jid.ToNonAD().String()
}
