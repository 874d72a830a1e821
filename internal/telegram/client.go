// Package telegram adapts the Telegram Bot API, through go-telegram/bot, to the
// platform.Client boundary.
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/polaris-bridge/internal/platform"
)

const (
	downloadTimeout = 30 * time.Second
	maxDownloadSize = 20 << 20
)

var mentionToken = regexp.MustCompile(`@(\d+)\b`)

// Client is a Telegram bot session.
type Client struct {
	bot        *bot.Bot
	httpClient *http.Client
	logger     *slog.Logger

	mu      sync.RWMutex
	handler platform.Handler
}

var _ platform.Client = (*Client)(nil)

// NewClient creates a Telegram bot client. Updates are delivered to the handler
// given to Listen; opts may add middleware or override the API endpoint.
func NewClient(token string, logger *slog.Logger, opts ...bot.Option) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		httpClient: &http.Client{Timeout: downloadTimeout},
		logger:     logger.With("component", "telegram_bot"),
	}

	opts = append(opts, bot.WithDefaultHandler(c.handleUpdate))
	b, err := bot.New(token, opts...)
	if err != nil {
		c.logger.Error("Failed to create Telegram bot instance", "error", err)
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	c.bot = b

	prefix := token
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	c.logger.Info("Telegram bot instance created successfully", "token_prefix", prefix+"...")
	return c, nil
}

func (c *Client) Profile() platform.Profile {
	return platform.TelegramProfile()
}

func (c *Client) Me(ctx context.Context) (platform.Contact, error) {
	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return platform.Contact{}, fmt.Errorf("get me: %w", err)
	}
	return contact(me), nil
}

// Listen announces readiness to h and then polls for updates until ctx is done.
func (c *Client) Listen(ctx context.Context, h platform.Handler) error {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()

	if err := h.OnReady(ctx); err != nil {
		return err
	}
	c.logger.Info("Starting Telegram update polling...")
	c.bot.Start(ctx)
	c.logger.Info("Telegram update polling stopped.")
	return nil
}

func (c *Client) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h == nil {
		return
	}
	h.OnMessage(ctx, newMessage(update.Message, c))
}

func (c *Client) SendText(ctx context.Context, locator, text string, opts platform.SendOptions) error {
	params := &bot.SendMessageParams{
		ChatID:             chatID(locator),
		Text:               text,
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: bot.False()},
		ReplyParameters:    replyTo(opts.ReplyTo),
	}
	if !opts.Preview {
		params.LinkPreviewOptions.IsDisabled = bot.True()
	}
	if opts.Rich {
		params.ParseMode = models.ParseModeHTML
		params.Text = linkMentions(text, opts.Mentions)
	}
	if _, err := c.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (c *Client) SendMedia(ctx context.Context, locator string, kind platform.Kind, media platform.Attachment, opts platform.SendOptions) error {
	id := chatID(locator)
	file := inputFile(media)
	reply := replyTo(opts.ReplyTo)
	var parseMode models.ParseMode
	if opts.Rich {
		parseMode = models.ParseModeHTML
	}

	var err error
	switch kind {
	case platform.KindImage:
		_, err = c.bot.SendPhoto(ctx, &bot.SendPhotoParams{ChatID: id, Photo: file, Caption: opts.Caption, ParseMode: parseMode, ReplyParameters: reply})
	case platform.KindDocument:
		_, err = c.bot.SendDocument(ctx, &bot.SendDocumentParams{ChatID: id, Document: file, Caption: opts.Caption, ParseMode: parseMode, ReplyParameters: reply})
	case platform.KindAudio:
		_, err = c.bot.SendAudio(ctx, &bot.SendAudioParams{ChatID: id, Audio: file, Caption: opts.Caption, ParseMode: parseMode, ReplyParameters: reply})
	case platform.KindVideo:
		_, err = c.bot.SendVideo(ctx, &bot.SendVideoParams{ChatID: id, Video: file, Caption: opts.Caption, ParseMode: parseMode, ReplyParameters: reply})
	case platform.KindAnimation:
		_, err = c.bot.SendAnimation(ctx, &bot.SendAnimationParams{ChatID: id, Animation: file, Caption: opts.Caption, ParseMode: parseMode, ReplyParameters: reply})
	case platform.KindVoice:
		_, err = c.bot.SendVoice(ctx, &bot.SendVoiceParams{ChatID: id, Voice: file, Caption: opts.Caption, ParseMode: parseMode, ReplyParameters: reply})
	case platform.KindSticker:
		_, err = c.bot.SendSticker(ctx, &bot.SendStickerParams{ChatID: id, Sticker: file, ReplyParameters: reply})
	default:
		return fmt.Errorf("send %s: %w", kind, platform.ErrNotSupported)
	}
	if err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return nil
}

// SendChatState maps states onto chat actions. Telegram clears an action by
// itself, so StateClear sends nothing.
func (c *Client) SendChatState(ctx context.Context, locator string, state platform.ChatState) error {
	var action models.ChatAction
	switch state {
	case platform.StateTyping:
		action = models.ChatActionTyping
	case platform.StateRecording:
		action = models.ChatActionRecordVoice
	default:
		return nil
	}
	if _, err := c.bot.SendChatAction(ctx, &bot.SendChatActionParams{ChatID: chatID(locator), Action: action}); err != nil {
		return fmt.Errorf("send chat action: %w", err)
	}
	return nil
}

// MarkRead is a no-op: bots have no read receipts.
func (c *Client) MarkRead(context.Context, string) error {
	return nil
}

// SetPresence is a no-op: bots have no online presence.
func (c *Client) SetPresence(context.Context, bool) error {
	return nil
}

// SetStatus publishes status as the bot's short description.
func (c *Client) SetStatus(ctx context.Context, status string) error {
	if _, err := c.bot.SetMyShortDescription(ctx, &bot.SetMyShortDescriptionParams{ShortDescription: status}); err != nil {
		return fmt.Errorf("set short description: %w", err)
	}
	return nil
}

// download fetches a file by id through the Bot API file endpoint.
func (c *Client) download(ctx context.Context, fileID, filename, mimeType string) (platform.Media, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	fileObj, err := c.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return platform.Media{}, fmt.Errorf("failed to get file info from Telegram: %w", err)
	}
	if fileObj.FilePath == "" {
		return platform.Media{}, fmt.Errorf("empty file path returned from Telegram for file ID %s", fileID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.bot.FileDownloadLink(fileObj), nil)
	if err != nil {
		return platform.Media{}, fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return platform.Media{}, fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return platform.Media{}, fmt.Errorf("unexpected status code %d downloading file %s", resp.StatusCode, fileID)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return platform.Media{}, fmt.Errorf("failed to read file %s: %w", fileID, err)
	}

	if filename == "" {
		filename = path.Base(fileObj.FilePath)
	}
	if mimeType == "" {
		mimeType = mimetype.Detect(data).String()
	}
	return platform.Media{Filename: filename, MIME: mimeType, Data: data, Ref: fileID}, nil
}

// chatID passes numeric locators as integers and anything else, such as an
// @channel name, as is.
func chatID(locator string) any {
	if id, err := strconv.ParseInt(locator, 10, 64); err == nil {
		return id
	}
	return locator
}

func replyTo(id string) *models.ReplyParameters {
	messageID, err := strconv.Atoi(id)
	if err != nil || messageID <= 0 {
		return nil
	}
	return &models.ReplyParameters{MessageID: messageID, AllowSendingWithoutReply: true}
}

func inputFile(media platform.Attachment) models.InputFile {
	if len(media.Data) > 0 {
		return &models.InputFileUpload{Filename: media.Filename, Data: bytes.NewReader(media.Data)}
	}
	return &models.InputFileString{Data: media.Ref}
}

// linkMentions turns @<id> tokens of mentioned accounts into HTML user links.
func linkMentions(text string, mentions []string) string {
	if len(mentions) == 0 {
		return text
	}
	wanted := make(map[string]struct{}, len(mentions))
	for _, m := range mentions {
		wanted[m] = struct{}{}
	}
	return mentionToken.ReplaceAllStringFunc(text, func(token string) string {
		id := token[1:]
		if _, ok := wanted[id]; !ok {
			return token
		}
		return `<a href="tg://user?id=` + id + `">` + token + `</a>`
	})
}

func contact(u *models.User) platform.Contact {
	if u == nil {
		return platform.Contact{}
	}
	return platform.Contact{
		ID:        strconv.FormatInt(u.ID, 10),
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
		IsBot:     u.IsBot,
	}
}
