package whatsapp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/edgard/polaris-bridge/internal/platform"
)

type sentMessage struct {
	to  types.JID
	msg *waE2E.Message
}

type chatPresence struct {
	to    types.JID
	state types.ChatPresence
	media types.ChatPresenceMedia
}

type readCall struct {
	ids    []types.MessageID
	chat   types.JID
	sender types.JID
}

type fakeSession struct {
	mu        sync.Mutex
	handler   whatsmeow.EventHandler
	onConnect func(h whatsmeow.EventHandler)
	qr        chan whatsmeow.QRChannelItem
	err       error

	sent         []sentMessage
	uploads      []whatsmeow.MediaType
	downloads    []whatsmeow.DownloadableMessage
	data         []byte
	presence     []types.Presence
	chatPresence []chatPresence
	reads        []readCall
	status       []string
	groups       map[types.JID]string
	groupCalls   int
	disconnects  int
}

func (f *fakeSession) Connect() error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	h, hook := f.handler, f.onConnect
	f.mu.Unlock()
	if hook != nil {
		go hook(h)
	}
	return nil
}

func (f *fakeSession) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeSession) AddEventHandler(handler whatsmeow.EventHandler) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	return 1
}

func (f *fakeSession) RemoveEventHandler(uint32) bool { return true }

func (f *fakeSession) GetQRChannel(context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	return f.qr, nil
}

func (f *fakeSession) SendMessage(_ context.Context, to types.JID, msg *waE2E.Message, _ ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{to: to, msg: msg})
	return whatsmeow.SendResponse{ID: "out"}, f.err
}

func (f *fakeSession) Upload(_ context.Context, data []byte, typ whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, typ)
	return whatsmeow.UploadResponse{
		URL:        "https://mmg.whatsapp.net/x",
		DirectPath: "/v/x",
		MediaKey:   []byte("key"),
		FileLength: uint64(len(data)),
	}, f.err
}

func (f *fakeSession) Download(_ context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, msg)
	return f.data, f.err
}

func (f *fakeSession) SendPresence(_ context.Context, state types.Presence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presence = append(f.presence, state)
	return nil
}

func (f *fakeSession) SendChatPresence(_ context.Context, jid types.JID, state types.ChatPresence, media types.ChatPresenceMedia) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatPresence = append(f.chatPresence, chatPresence{to: jid, state: state, media: media})
	return nil
}

func (f *fakeSession) MarkRead(_ context.Context, ids []types.MessageID, _ time.Time, chat, sender types.JID, _ ...types.ReceiptType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, readCall{ids: ids, chat: chat, sender: sender})
	return nil
}

func (f *fakeSession) SetStatusMessage(_ context.Context, status types.SetStatusInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = append(f.status, *status.Text)
	return nil
}

func (f *fakeSession) GetGroupInfo(_ context.Context, jid types.JID) (*types.GroupInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groupCalls++
	name, ok := f.groups[jid]
	if !ok {
		return nil, errors.New("not found")
	}
	return &types.GroupInfo{JID: jid, GroupName: types.GroupName{Name: name}}, nil
}

type recordingHandler struct {
	mu       sync.Mutex
	ready    int
	readyErr error
	messages []platform.Message
	received chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{received: make(chan struct{}, 8)}
}

func (h *recordingHandler) OnReady(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready++
	return h.readyErr
}

func (h *recordingHandler) OnMessage(_ context.Context, msg platform.Message) {
	h.mu.Lock()
	h.messages = append(h.messages, msg)
	h.mu.Unlock()
	h.received <- struct{}{}
}

var (
	self    = types.NewJID("5511000000000", types.DefaultUserServer)
	alice   = types.NewJID("5511999999999", types.DefaultUserServer)
	bob     = types.NewJID("5511888888888", types.DefaultUserServer)
	aliceID = types.NewJID("123456789", types.HiddenUserServer)
	group   = types.NewJID("120363000000000001", types.GroupServer)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(api *fakeSession) *Client {
	jid := self
	return newClient(api, &store.Device{ID: &jid, PushName: "Polaris"}, testLogger())
}

func textEvent(id string, chat, sender types.JID, text string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			ID:        id,
			PushName:  "Alice",
			Timestamp: time.Unix(1700000000, 0),
			MessageSource: types.MessageSource{
				Chat:    chat,
				Sender:  sender,
				IsGroup: chat.Server == types.GroupServer,
			},
		},
		Message: &waE2E.Message{Conversation: proto.String(text)},
	}
}

func TestMessageDirectChat(t *testing.T) {
	t.Parallel()

	evt := textEvent("m1", aliceID, aliceID, "hello")
	evt.Info.SenderAlt = alice
	msg := newMessage(evt, newTestClient(&fakeSession{}))

	assert.Equal(t, "m1", msg.ID())
	assert.Equal(t, platform.Chat{ID: "5511999999999", Title: "Alice"}, msg.Chat())
	assert.Equal(t, platform.Contact{ID: "5511999999999", FirstName: "Alice", Username: "5511999999999"}, msg.Sender())
	assert.Equal(t, platform.KindText, msg.Kind())
	assert.Equal(t, "hello", msg.Body())
	assert.EqualValues(t, 1700000000, msg.Timestamp())
	assert.Empty(t, msg.Mentions())
	assert.Empty(t, msg.MediaRef())
}

func TestMessageGroupMentions(t *testing.T) {
	t.Parallel()

	evt := textEvent("m2", group, bob, "")
	evt.Message = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text: proto.String("hi @5511999999999 @123456789"),
		ContextInfo: &waE2E.ContextInfo{
			MentionedJID: []string{alice.String(), aliceID.String(), types.DefaultUserServer, "1.2.3@s.whatsapp.net"},
		},
	}}
	msg := newMessage(evt, nil)
	msg.title = "Team"

	chat := msg.Chat()
	assert.Equal(t, "120363000000000001", chat.ID)
	assert.Equal(t, "Team", chat.Title)
	assert.True(t, chat.Group)
	assert.Equal(t, "5511888888888", msg.Sender().ID)
	assert.Equal(t, "hi @5511999999999 @123456789", msg.Body())
	assert.Equal(t, []string{"5511999999999", "123456789"}, msg.Mentions())
}

func TestMessageKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		msg      *waE2E.Message
		kind     platform.Kind
		animated bool
		body     string
	}{
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("pic")}}, platform.KindImage, false, "pic"},
		{"sticker", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, platform.KindSticker, false, ""},
		{"video", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{Caption: proto.String("clip")}}, platform.KindVideo, false, "clip"},
		{"gif", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{GifPlayback: proto.Bool(true)}}, platform.KindVideo, true, ""},
		{"audio", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, platform.KindAudio, false, ""},
		{"voice", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{PTT: proto.Bool(true)}}, platform.KindVoice, false, ""},
		{"document", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{Caption: proto.String("doc")}}, platform.KindDocument, false, "doc"},
		{"text", &waE2E.Message{Conversation: proto.String("t")}, platform.KindText, false, "t"},
		{"unknown", &waE2E.Message{}, platform.KindUnknown, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			evt := textEvent("k", alice, alice, "")
			evt.Message = tt.msg
			msg := newMessage(evt, nil)
			assert.Equal(t, tt.kind, msg.Kind())
			assert.Equal(t, tt.animated, msg.Animated())
			assert.Equal(t, tt.body, msg.Body())
		})
	}
}

func TestMessageQuoted(t *testing.T) {
	t.Parallel()

	c := newTestClient(&fakeSession{})
	first := textEvent("q1", group, alice, "first")
	c.remember(first)

	reply := textEvent("q2", group, bob, "")
	reply.Message = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text:        proto.String("second"),
		ContextInfo: &waE2E.ContextInfo{StanzaID: proto.String("q1"), Participant: proto.String(alice.String())},
	}}

	quoted, err := newMessage(reply, c).Quoted(context.Background())
	require.NoError(t, err)
	require.NotNil(t, quoted)
	assert.Equal(t, "q1", quoted.ID())
	assert.Equal(t, "first", quoted.Body())
	assert.Equal(t, "Alice", quoted.Sender().FirstName)

	t.Run("embedded copy", func(t *testing.T) {
		t.Parallel()
		evt := textEvent("q4", group, bob, "")
		evt.Message = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String("re"),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID:      proto.String("gone"),
				Participant:   proto.String(self.String()),
				QuotedMessage: &waE2E.Message{Conversation: proto.String("old")},
			},
		}}
		quoted, err := newMessage(evt, c).Quoted(context.Background())
		require.NoError(t, err)
		require.NotNil(t, quoted)
		assert.Equal(t, "gone", quoted.ID())
		assert.Equal(t, "old", quoted.Body())
		assert.Equal(t, platform.Contact{ID: self.User, FirstName: "Polaris", Username: self.User}, quoted.Sender())
		assert.True(t, quoted.Chat().Group)
		assert.Zero(t, quoted.Timestamp())

		next, err := quoted.Quoted(context.Background())
		require.NoError(t, err)
		assert.Nil(t, next)
	})

	t.Run("no quote", func(t *testing.T) {
		t.Parallel()
		quoted, err := newMessage(textEvent("q5", alice, alice, "x"), c).Quoted(context.Background())
		require.NoError(t, err)
		assert.Nil(t, quoted)
	})

	t.Run("id without copy", func(t *testing.T) {
		t.Parallel()
		evt := textEvent("q6", alice, alice, "")
		evt.Message = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String("re"),
			ContextInfo: &waE2E.ContextInfo{StanzaID: proto.String("unknown")},
		}}
		quoted, err := newMessage(evt, c).Quoted(context.Background())
		require.NoError(t, err)
		assert.Nil(t, quoted)
	})
}

func TestMessageDownload(t *testing.T) {
	t.Parallel()

	api := &fakeSession{data: []byte("OggS voice")}
	c := newTestClient(api)

	voice := textEvent("v1", alice, alice, "")
	voice.Message = &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
		PTT:      proto.Bool(true),
		Mimetype: proto.String("audio/ogg; codecs=opus"),
	}}
	media, err := newMessage(voice, c).Download(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1.oga", media.Filename)
	assert.Equal(t, "audio/ogg; codecs=opus", media.MIME)
	assert.Equal(t, []byte("OggS voice"), media.Data)
	assert.Empty(t, media.Ref)
	require.Len(t, api.downloads, 1)
	assert.Same(t, voice.Message.GetAudioMessage(), api.downloads[0])

	doc := textEvent("d1", alice, alice, "")
	doc.Message = &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
		FileName: proto.String("report.pdf"),
		Mimetype: proto.String("application/pdf"),
	}}
	media, err = newMessage(doc, c).Download(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", media.Filename)

	_, err = newMessage(textEvent("t1", alice, alice, "text"), c).Download(context.Background())
	assert.Error(t, err)

	api.err = errors.New("media expired")
	_, err = newMessage(doc, c).Download(context.Background())
	assert.ErrorContains(t, err, "media expired")
}

func TestSendText(t *testing.T) {
	t.Parallel()

	api := &fakeSession{}
	c := newTestClient(api)
	require.NoError(t, c.SendText(context.Background(), "5511999999999@c.us", "plain", platform.SendOptions{}))

	original := textEvent("r1", group, alice, "question")
	c.remember(original)
	require.NoError(t, c.SendText(context.Background(), group.String(), "answer @5511888888888", platform.SendOptions{
		ReplyTo:  "r1",
		Mentions: []string{"5511888888888@c.us", "bogus"},
	}))

	require.Len(t, api.sent, 2)
	assert.Equal(t, alice, api.sent[0].to)
	assert.Equal(t, "plain", api.sent[0].msg.GetConversation())
	assert.Nil(t, api.sent[0].msg.GetExtendedTextMessage())

	ext := api.sent[1].msg.GetExtendedTextMessage()
	require.NotNil(t, ext)
	assert.Equal(t, group, api.sent[1].to)
	assert.Equal(t, "answer @5511888888888", ext.GetText())
	info := ext.GetContextInfo()
	assert.Equal(t, "r1", info.GetStanzaID())
	assert.Equal(t, alice.String(), info.GetParticipant())
	assert.Same(t, original.Message, info.GetQuotedMessage())
	assert.Equal(t, []string{bob.String()}, info.GetMentionedJID())

	assert.Error(t, c.SendText(context.Background(), "5511999999999", "x", platform.SendOptions{}))
}

func TestSendTextReplyNotCached(t *testing.T) {
	t.Parallel()

	api := &fakeSession{}
	c := newTestClient(api)
	require.NoError(t, c.SendText(context.Background(), alice.String(), "late", platform.SendOptions{ReplyTo: "old"}))

	require.Len(t, api.sent, 1)
	info := api.sent[0].msg.GetExtendedTextMessage().GetContextInfo()
	assert.Equal(t, "old", info.GetStanzaID())
	assert.Empty(t, info.GetParticipant())
	assert.Nil(t, info.GetQuotedMessage())
}

func TestSendMedia(t *testing.T) {
	t.Parallel()

	api := &fakeSession{}
	c := newTestClient(api)
	ctx := context.Background()
	data := []byte("bytes")

	require.NoError(t, c.SendMedia(ctx, alice.String(), platform.KindVoice, platform.Attachment{Data: data, MIME: "audio/ogg"}, platform.SendOptions{}))
	require.NoError(t, c.SendMedia(ctx, alice.String(), platform.KindAnimation, platform.Attachment{Data: data, MIME: "video/mp4"}, platform.SendOptions{Caption: "loop"}))
	require.NoError(t, c.SendMedia(ctx, alice.String(), platform.KindDocument, platform.Attachment{Data: data, Filename: "a.pdf"}, platform.SendOptions{}))
	require.NoError(t, c.SendMedia(ctx, alice.String(), platform.KindSticker, platform.Attachment{Data: data, MIME: "image/webp"}, platform.SendOptions{}))
	require.NoError(t, c.SendMedia(ctx, alice.String(), platform.KindImage, platform.Attachment{Data: data}, platform.SendOptions{Caption: "pic"}))

	assert.Equal(t, []whatsmeow.MediaType{whatsmeow.MediaAudio, whatsmeow.MediaVideo, whatsmeow.MediaDocument, whatsmeow.MediaImage, whatsmeow.MediaImage}, api.uploads)
	require.Len(t, api.sent, 5)

	audio := api.sent[0].msg.GetAudioMessage()
	require.NotNil(t, audio)
	assert.True(t, audio.GetPTT())
	assert.Equal(t, "/v/x", audio.GetDirectPath())
	assert.EqualValues(t, len(data), audio.GetFileLength())

	video := api.sent[1].msg.GetVideoMessage()
	require.NotNil(t, video)
	assert.True(t, video.GetGifPlayback())
	assert.Equal(t, "loop", video.GetCaption())

	assert.Equal(t, "a.pdf", api.sent[2].msg.GetDocumentMessage().GetFileName())
	assert.NotNil(t, api.sent[3].msg.GetStickerMessage())
	assert.Equal(t, "pic", api.sent[4].msg.GetImageMessage().GetCaption())

	err := c.SendMedia(ctx, alice.String(), platform.KindImage, platform.Attachment{Ref: "https://example.com/a.png"}, platform.SendOptions{})
	assert.ErrorIs(t, err, platform.ErrNotSupported)
	err = c.SendMedia(ctx, alice.String(), platform.KindUnknown, platform.Attachment{Data: data}, platform.SendOptions{})
	assert.ErrorIs(t, err, platform.ErrNotSupported)
	assert.Len(t, api.sent, 5)
}

func TestSendChatState(t *testing.T) {
	t.Parallel()

	api := &fakeSession{}
	c := newTestClient(api)
	ctx := context.Background()
	require.NoError(t, c.SendChatState(ctx, "5511999999999@c.us", platform.StateTyping))
	require.NoError(t, c.SendChatState(ctx, "5511999999999@c.us", platform.StateRecording))
	require.NoError(t, c.SendChatState(ctx, "5511999999999@c.us", platform.StateClear))

	assert.Equal(t, []chatPresence{
		{to: alice, state: types.ChatPresenceComposing, media: types.ChatPresenceMediaText},
		{to: alice, state: types.ChatPresenceComposing, media: types.ChatPresenceMediaAudio},
		{to: alice, state: types.ChatPresencePaused, media: types.ChatPresenceMediaText},
	}, api.chatPresence)
}

func TestMarkRead(t *testing.T) {
	t.Parallel()

	api := &fakeSession{groups: map[types.JID]string{group: "Team"}}
	c := newTestClient(api)
	h := newRecordingHandler()
	ctx := context.Background()

	c.deliver(ctx, h, textEvent("g1", group, alice, "a"))
	c.deliver(ctx, h, textEvent("g2", group, bob, "b"))
	c.deliver(ctx, h, textEvent("g3", group, alice, "c"))
	direct := textEvent("d1", aliceID, aliceID, "d")
	direct.Info.SenderAlt = alice
	c.deliver(ctx, h, direct)

	require.NoError(t, c.MarkRead(ctx, group.String()))
	assert.Equal(t, []readCall{
		{ids: []types.MessageID{"g1", "g3"}, chat: group, sender: alice},
		{ids: []types.MessageID{"g2"}, chat: group, sender: bob},
	}, api.reads)

	require.NoError(t, c.MarkRead(ctx, group.String()))
	assert.Len(t, api.reads, 2)

	require.NoError(t, c.MarkRead(ctx, "5511999999999@c.us"))
	require.Len(t, api.reads, 3)
	assert.Equal(t, readCall{ids: []types.MessageID{"d1"}, chat: aliceID}, api.reads[2])

	assert.Equal(t, 1, api.groupCalls)
	require.Len(t, h.messages, 4)
	assert.Equal(t, "Team", h.messages[0].Chat().Title)
	assert.Equal(t, "Team", h.messages[2].Chat().Title)
}

func TestPresenceAndStatus(t *testing.T) {
	t.Parallel()

	api := &fakeSession{}
	c := newTestClient(api)
	require.NoError(t, c.SetPresence(context.Background(), true))
	require.NoError(t, c.SetPresence(context.Background(), false))
	require.NoError(t, c.SetStatus(context.Background(), "!help"))

	assert.Equal(t, []types.Presence{types.PresenceAvailable, types.PresenceUnavailable}, api.presence)
	assert.Equal(t, []string{"!help"}, api.status)
}

func TestMe(t *testing.T) {
	t.Parallel()

	me, err := newTestClient(&fakeSession{}).Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, platform.Contact{ID: self.User, FirstName: "Polaris", Username: self.User}, me)

	_, err = newClient(&fakeSession{}, &store.Device{}, testLogger()).Me(context.Background())
	assert.Error(t, err)
}

func TestListenDeliversMessages(t *testing.T) {
	t.Parallel()

	api := &fakeSession{}
	api.onConnect = func(h whatsmeow.EventHandler) {
		h(&events.Connected{})
		own := textEvent("own", alice, self, "mine")
		own.Info.IsFromMe = true
		h(own)
		status := textEvent("st", types.StatusBroadcastJID, alice, "story")
		h(status)
		h(textEvent("in", alice, alice, "hello"))
	}
	c := newTestClient(api)
	h := newRecordingHandler()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Listen(ctx, h) }()

	select {
	case <-h.received:
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
	cancel()
	require.NoError(t, <-done)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, 1, h.ready)
	require.Len(t, h.messages, 1)
	assert.Equal(t, "in", h.messages[0].ID())
	api.mu.Lock()
	assert.Zero(t, api.disconnects)
	api.mu.Unlock()
}

type closer struct{ err error }

func (c *closer) Close() error { return c.err }

func TestClose(t *testing.T) {
	t.Parallel()

	api := &fakeSession{}
	c := newTestClient(api)
	require.NoError(t, c.Close())

	c.store = &closer{err: errors.New("locked")}
	assert.ErrorContains(t, c.Close(), "locked")
	assert.Equal(t, 2, api.disconnects)
}

func TestListenPairsWithQRCode(t *testing.T) {
	t.Parallel()

	qr := make(chan whatsmeow.QRChannelItem)
	api := &fakeSession{qr: qr}
	api.onConnect = func(h whatsmeow.EventHandler) {
		qr <- whatsmeow.QRChannelItem{Event: whatsmeow.QRChannelEventCode, Code: "2@pairing-code", Timeout: time.Minute}
		qr <- whatsmeow.QRChannelSuccess
		close(qr)
		h(&events.Connected{})
	}
	c := newClient(api, &store.Device{}, testLogger())
	var out bytes.Buffer
	c.qrOut = &out

	h := newRecordingHandler()
	h.readyErr = errors.New("stop")
	err := c.Listen(context.Background(), h)
	assert.EqualError(t, err, "stop")
	assert.NotZero(t, out.Len())
}

func TestListenEndsOnLogout(t *testing.T) {
	t.Parallel()

	api := &fakeSession{}
	api.onConnect = func(h whatsmeow.EventHandler) {
		h(&events.Connected{})
		h(&events.LoggedOut{})
	}
	c := newTestClient(api)
	err := c.Listen(context.Background(), newRecordingHandler())
	assert.ErrorContains(t, err, "logged out")

	api = &fakeSession{err: errors.New("dial failed")}
	err = newTestClient(api).Listen(context.Background(), newRecordingHandler())
	assert.ErrorContains(t, err, "dial failed")
}

func TestListenFailsOnPairingTimeout(t *testing.T) {
	t.Parallel()

	qr := make(chan whatsmeow.QRChannelItem, 1)
	qr <- whatsmeow.QRChannelTimeout
	close(qr)
	c := newClient(&fakeSession{qr: qr}, &store.Device{}, testLogger())
	c.qrOut = io.Discard

	err := c.Listen(context.Background(), newRecordingHandler())
	assert.ErrorContains(t, err, "timeout")
}

func TestRecentCacheIsBounded(t *testing.T) {
	t.Parallel()

	c := newTestClient(&fakeSession{})
	for i := range recentLimit + 10 {
		c.remember(textEvent(fmt.Sprintf("m%d", i), alice, alice, "x"))
	}
	assert.Len(t, c.recent, recentLimit)
	assert.Len(t, c.order, recentLimit)
	assert.Nil(t, c.lookup("m0"))
	assert.Nil(t, c.lookup("m9"))
	assert.NotNil(t, c.lookup("m10"))
	assert.NotNil(t, c.lookup(fmt.Sprintf("m%d", recentLimit+9)))

	c.remember(textEvent("m10", alice, alice, "again"))
	assert.Len(t, c.order, recentLimit)
}

func TestParseLocator(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    types.JID
		wantErr bool
	}{
		{in: "5511999999999@c.us", want: alice},
		{in: "5511999999999@s.whatsapp.net", want: alice},
		{in: "120363000000000001@g.us", want: group},
		{in: "123456789@lid", want: aliceID},
		{in: "5511999999999", wantErr: true},
		{in: "@g.us", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseLocator(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNewClientOpensSessionStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "whatsapp.db")
	c, err := NewClient(context.Background(), path, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, c.Close()) })

	assert.Equal(t, platform.WhatsApp, c.Profile().Name)
	_, err = c.Me(context.Background())
	assert.Error(t, err)
	assert.FileExists(t, path)

	_, err = NewClient(context.Background(), "  ", testLogger())
	assert.Error(t, err)
}
