// Package conversation drives the per-user publish dialogue: a finite-state
// controller that collects the video, title, description, and platform
// selection, then hands a finalized request to the publish pool. One context
// exists per user; it is ephemeral and lost on restart.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/crossypost/config"
	"github.com/onnwee/crossypost/credstore"
	"github.com/onnwee/crossypost/platform"
	"github.com/onnwee/crossypost/publish"
	"github.com/onnwee/crossypost/telegram"
	"github.com/onnwee/crossypost/telemetry"
)

// Transport is the slice of the chat client the state machine needs.
// *telegram.Client satisfies it; tests substitute a recorder.
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) (int, error)
	EditMessageText(ctx context.Context, chatID int64, messageID int, text string, markup *telegram.InlineKeyboardMarkup) error
	EditMessageReplyMarkup(ctx context.Context, chatID int64, messageID int, markup *telegram.InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string, showAlert bool) error
}

// CredentialStore is the persistence surface the dialogue reads and writes.
type CredentialStore interface {
	Get(ctx context.Context, userID int64) (credstore.Set, error)
	Put(ctx context.Context, userID int64, id platform.ID, rec platform.Record) error
	Remove(ctx context.Context, userID int64, id platform.ID) error
}

// Enqueuer submits finalized publish jobs; false means the queue is full.
type Enqueuer interface {
	Enqueue(publish.Job) bool
}

// Each dialogue phase is its own type carrying exactly the fields valid in
// that phase, so a handler can never read a field the current state does not
// define.
type phase interface{ phaseName() string }

type idle struct{}

type awaitingCredential struct{ Platform platform.ID }

type awaitingVideo struct{}

type awaitingTitle struct{ Video telegram.Video }

type awaitingDescription struct {
	Video telegram.Video
	Title string
}

type selectingPlatforms struct {
	Video         telegram.Video
	Title         string
	Description   string
	Selected      []platform.ID
	MenuMessageID int
}

type publishing struct{}

func (idle) phaseName() string               { return "idle" }
func (awaitingCredential) phaseName() string { return "awaiting_credential" }
func (awaitingVideo) phaseName() string      { return "awaiting_video" }
func (awaitingTitle) phaseName() string      { return "awaiting_title" }
func (awaitingDescription) phaseName() string {
	return "awaiting_description"
}
func (selectingPlatforms) phaseName() string { return "selecting_platforms" }
func (publishing) phaseName() string         { return "publishing" }

// Manager routes incoming updates to the right per-user handler. Phase access
// is guarded by a single mutex; the publish pool's completion callback is the
// only writer outside the dispatch loop.
type Manager struct {
	tg    Transport
	reg   *platform.Registry
	creds CredentialStore
	pool  Enqueuer

	mu       sync.Mutex
	sessions map[int64]phase
}

func NewManager(tg Transport, reg *platform.Registry, creds CredentialStore, pool Enqueuer) *Manager {
	return &Manager{tg: tg, reg: reg, creds: creds, pool: pool, sessions: make(map[int64]phase)}
}

func (m *Manager) phaseOf(userID int64) phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.sessions[userID]; ok {
		return p
	}
	return idle{}
}

func (m *Manager) setPhase(userID int64, p phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := p.(idle); ok {
		delete(m.sessions, userID)
		return
	}
	m.sessions[userID] = p
}

// Commands is the menu registered with the chat service at startup.
func Commands() []telegram.BotCommand {
	return []telegram.BotCommand{
		{Command: "start", Description: "What this bot does"},
		{Command: "post", Description: "Publish a new video"},
		{Command: "connect", Description: "Connect a platform account"},
		{Command: "disconnect", Description: "Disconnect a platform account"},
		{Command: "status", Description: "Show connected platforms"},
		{Command: "help", Description: "How to use the bot"},
	}
}

// HandleUpdate processes one incoming update. It never panics the caller;
// collaborator failures become user-visible messages.
func (m *Manager) HandleUpdate(ctx context.Context, u telegram.Update) {
	switch {
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		m.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.From != nil:
		m.handleMessage(ctx, u.Message)
	}
}

func (m *Manager) handleMessage(ctx context.Context, msg *telegram.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if strings.HasPrefix(msg.Text, "/") {
		m.handleCommand(ctx, userID, chatID, msg.Text)
		return
	}

	cur := m.phaseOf(userID)

	// A new video restarts the submission from scratch in any phase except an
	// in-flight publish. Prior title/description never leak into the new run.
	if _, busy := cur.(publishing); !busy && (msg.Video != nil || msg.VideoNote != nil) {
		m.handleVideo(ctx, userID, chatID, msg)
		return
	}

	switch p := cur.(type) {
	case idle:
		m.send(ctx, chatID, "Use /post to publish a video or /connect to link a platform.")
	case awaitingCredential:
		m.handleCredentialInput(ctx, userID, chatID, p.Platform, msg.Text)
	case awaitingVideo:
		m.send(ctx, chatID, "I need a video to continue. Send one, or /start to cancel.")
	case awaitingTitle:
		title := msg.Text
		if title == "-" {
			title = "Video " + time.Now().Format("2006-01-02 15:04")
		}
		m.setPhase(userID, awaitingDescription{Video: p.Video, Title: title})
		m.send(ctx, chatID, "Got it. Now send a description, or <code>-</code> for none.")
	case awaitingDescription:
		description := msg.Text
		if description == "-" {
			description = ""
		}
		m.enterSelection(ctx, userID, chatID, p.Video, p.Title, description)
	case selectingPlatforms:
		m.send(ctx, chatID, "Use the buttons above to pick platforms, then hit Publish.")
	case publishing:
		m.send(ctx, chatID, "A publish is in progress. I will report back when it finishes.")
	}
}

func (m *Manager) handleCommand(ctx context.Context, userID, chatID int64, text string) {
	cmd := strings.ToLower(strings.TrimSpace(text))
	if i := strings.IndexAny(cmd, " @"); i > 0 {
		cmd = cmd[:i]
	}
	switch cmd {
	case "/start", "/help":
		m.setPhase(userID, idle{})
		m.send(ctx, chatID, "I cross-post one video to your connected platforms.\n\n"+
			"/post — submit a video\n"+
			"/connect — link a platform account\n"+
			"/disconnect — unlink a platform\n"+
			"/status — show what is connected")
	case "/post":
		m.setPhase(userID, awaitingVideo{})
		m.send(ctx, chatID, "Send me the video you want to publish (up to 256 MB).")
	case "/connect":
		m.showConnectMenu(ctx, chatID)
	case "/disconnect":
		m.showDisconnectMenu(ctx, userID, chatID)
	case "/status":
		m.showStatus(ctx, userID, chatID)
	default:
		m.send(ctx, chatID, "Unknown command. Try /help.")
	}
}

func (m *Manager) handleVideo(ctx context.Context, userID, chatID int64, msg *telegram.Message) {
	if msg.VideoNote != nil {
		m.send(ctx, chatID, "Video notes are not supported. Send a regular video file.")
		return
	}
	v := msg.Video
	if v.FileSize > config.MaxVideoBytes {
		m.send(ctx, chatID, "That video is over the 256 MB limit. Send a smaller one.")
		return
	}
	m.setPhase(userID, awaitingTitle{Video: *v})
	m.send(ctx, chatID, "Video received. Send a title, or <code>-</code> to auto-generate one.")
}

func (m *Manager) handleCredentialInput(ctx context.Context, userID, chatID int64, id platform.ID, input string) {
	// Whatever happens next, the sub-flow is over; a retry means re-initiating
	// the connect action.
	m.setPhase(userID, idle{})

	d, err := m.reg.Lookup(id)
	if err != nil {
		slog.Error("credential input for unregistered platform", slog.String("platform", string(id)), slog.Any("err", err))
		m.send(ctx, chatID, "Something went wrong. Try /connect again.")
		return
	}
	rec, err := d.Publisher.Exchange(ctx, strings.TrimSpace(input))
	if err != nil {
		telemetry.ExchangesFailed.WithLabelValues(string(id)).Inc()
		slog.Warn("credential exchange failed", slog.String("platform", string(id)), slog.Any("err", err))
		m.send(ctx, chatID, fmt.Sprintf("Connecting %s failed: %s\nUse /connect to try again.", d.Label(), err.Error()))
		return
	}
	if err := m.creds.Put(ctx, userID, id, rec); err != nil {
		slog.Error("credential store write failed", slog.String("platform", string(id)), slog.Any("err", err))
		m.send(ctx, chatID, "Could not save the credentials. Try /connect again.")
		return
	}
	m.send(ctx, chatID, fmt.Sprintf("%s connected. Use /post to publish.", d.Label()))
}

func (m *Manager) enterSelection(ctx context.Context, userID, chatID int64, video telegram.Video, title, description string) {
	set, err := m.creds.Get(ctx, userID)
	if err != nil {
		slog.Error("credential load failed", slog.Int64("user_id", userID), slog.Any("err", err))
		m.setPhase(userID, idle{})
		m.send(ctx, chatID, "Could not load your connected platforms. Start over with /post.")
		return
	}
	connected := set.Connected(m.reg)
	if len(connected) == 0 {
		m.setPhase(userID, idle{})
		m.send(ctx, chatID, "You have no connected platforms. Use /connect first, then /post again.")
		return
	}
	sel := selectingPlatforms{Video: video, Title: title, Description: description, Selected: connected}
	msgID, err := m.tg.SendMessage(ctx, chatID, "Pick where to publish:", m.selectionKeyboard(sel.Selected))
	if err != nil {
		slog.Warn("selection menu send failed", slog.Any("err", err))
		m.setPhase(userID, idle{})
		return
	}
	sel.MenuMessageID = msgID
	m.setPhase(userID, sel)
}

func (m *Manager) selectionKeyboard(selected []platform.ID) *telegram.InlineKeyboardMarkup {
	isSelected := func(id platform.ID) bool {
		for _, s := range selected {
			if s == id {
				return true
			}
		}
		return false
	}
	var rows [][]telegram.InlineKeyboardButton
	for _, d := range m.reg.All() {
		mark := "☑️"
		if isSelected(d.ID) {
			mark = "✅"
		}
		rows = append(rows, []telegram.InlineKeyboardButton{{
			Text:         mark + " " + d.Label(),
			CallbackData: "toggle:" + string(d.ID),
		}})
	}
	rows = append(rows, []telegram.InlineKeyboardButton{{Text: "🚀 Publish", CallbackData: "publish"}})
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func (m *Manager) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	userID := cb.From.ID
	chatID := userID
	if cb.Message != nil {
		chatID = cb.Message.Chat.ID
	}
	data := cb.Data

	switch {
	case strings.HasPrefix(data, "connect:"):
		m.startConnect(ctx, userID, chatID, cb.ID, platform.ID(strings.TrimPrefix(data, "connect:")))
	case strings.HasPrefix(data, "disconnect:"):
		m.disconnect(ctx, userID, chatID, cb.ID, platform.ID(strings.TrimPrefix(data, "disconnect:")))
	case strings.HasPrefix(data, "toggle:"):
		m.toggle(ctx, userID, chatID, cb.ID, platform.ID(strings.TrimPrefix(data, "toggle:")))
	case data == "publish":
		m.confirmPublish(ctx, userID, chatID, cb.ID)
	default:
		slog.Warn("unrecognized callback data", slog.String("data", data))
		m.answer(ctx, cb.ID, "That button no longer works.", false)
	}
}

func (m *Manager) startConnect(ctx context.Context, userID, chatID int64, callbackID string, id platform.ID) {
	d, err := m.reg.Lookup(id)
	if err != nil {
		slog.Error("connect for unregistered platform", slog.String("platform", string(id)))
		m.answer(ctx, callbackID, "That platform is not available.", true)
		return
	}
	if _, busy := m.phaseOf(userID).(publishing); busy {
		m.answer(ctx, callbackID, "Wait for the current publish to finish.", true)
		return
	}
	prompt, err := d.Publisher.ConnectPrompt()
	if err != nil {
		m.answer(ctx, callbackID, d.Name+" is not configured on this bot.", true)
		return
	}
	m.setPhase(userID, awaitingCredential{Platform: id})
	m.answer(ctx, callbackID, "", false)
	m.send(ctx, chatID, fmt.Sprintf("<b>Connect %s</b>\n\n%s", d.Label(), prompt))
}

func (m *Manager) disconnect(ctx context.Context, userID, chatID int64, callbackID string, id platform.ID) {
	d, err := m.reg.Lookup(id)
	if err != nil {
		m.answer(ctx, callbackID, "That platform is not available.", true)
		return
	}
	if err := m.creds.Remove(ctx, userID, id); err != nil {
		slog.Error("credential remove failed", slog.String("platform", string(id)), slog.Any("err", err))
		m.answer(ctx, callbackID, "Could not disconnect. Try again.", true)
		return
	}
	m.answer(ctx, callbackID, "", false)
	m.send(ctx, chatID, d.Label()+" disconnected.")
}

func (m *Manager) toggle(ctx context.Context, userID, chatID int64, callbackID string, id platform.ID) {
	cur, ok := m.phaseOf(userID).(selectingPlatforms)
	if !ok {
		m.answer(ctx, callbackID, "That selection is no longer active.", false)
		return
	}
	if _, err := m.reg.Lookup(id); err != nil {
		slog.Error("toggle for unregistered platform", slog.String("platform", string(id)))
		m.answer(ctx, callbackID, "That platform is not available.", true)
		return
	}
	set, err := m.creds.Get(ctx, userID)
	if err != nil {
		slog.Error("credential load failed", slog.Int64("user_id", userID), slog.Any("err", err))
		m.answer(ctx, callbackID, "Could not check your connections. Try again.", true)
		return
	}
	if _, connected := set[id]; !connected {
		m.answer(ctx, callbackID, "Connect that platform first with /connect.", true)
		return
	}

	next := make([]platform.ID, 0, len(cur.Selected)+1)
	found := false
	for _, s := range cur.Selected {
		if s == id {
			found = true
			continue
		}
		next = append(next, s)
	}
	if !found {
		next = append(next, id)
	}
	cur.Selected = next
	m.setPhase(userID, cur)
	m.answer(ctx, callbackID, "", false)
	if err := m.tg.EditMessageReplyMarkup(ctx, chatID, cur.MenuMessageID, m.selectionKeyboard(cur.Selected)); err != nil {
		slog.Warn("selection re-render failed", slog.Any("err", err))
	}
}

func (m *Manager) confirmPublish(ctx context.Context, userID, chatID int64, callbackID string) {
	cur, ok := m.phaseOf(userID).(selectingPlatforms)
	if !ok {
		m.answer(ctx, callbackID, "That selection is no longer active.", false)
		return
	}
	if len(cur.Selected) == 0 {
		m.answer(ctx, callbackID, "Pick at least one platform first.", true)
		return
	}

	// Credentials are resolved now, at confirmation time, so a reconnect done
	// during selection is honored.
	set, err := m.creds.Get(ctx, userID)
	if err != nil {
		slog.Error("credential load failed", slog.Int64("user_id", userID), slog.Any("err", err))
		m.answer(ctx, callbackID, "Could not load credentials. Try again.", true)
		return
	}
	targets := make([]publish.Target, 0, len(cur.Selected))
	for _, id := range cur.Selected {
		d, err := m.reg.Lookup(id)
		if err != nil {
			slog.Error("selected platform missing from registry", slog.String("platform", string(id)))
			m.answer(ctx, callbackID, "Something went wrong. Start over with /post.", true)
			m.setPhase(userID, idle{})
			return
		}
		rec, okRec := set[id]
		if !okRec {
			m.answer(ctx, callbackID, d.Name+" is no longer connected. Toggle it off or /connect again.", true)
			return
		}
		targets = append(targets, publish.Target{Platform: d, Record: rec})
	}

	job := publish.Job{
		Request: publish.Request{
			UserID:      userID,
			AssetFileID: cur.Video.FileID,
			Title:       cur.Title,
			Description: cur.Description,
			Targets:     targets,
		},
		Progress: func(d platform.Descriptor) {
			m.send(context.Background(), chatID, "Uploading to "+d.Label()+"…")
		},
		Done: func(outcomes []publish.Outcome, err error) {
			m.finishPublish(userID, chatID, outcomes, err)
		},
	}

	m.setPhase(userID, publishing{})
	if !m.pool.Enqueue(job) {
		m.setPhase(userID, cur)
		m.answer(ctx, callbackID, "The publish queue is full. Try again in a minute.", true)
		return
	}
	m.answer(ctx, callbackID, "", false)
	if err := m.tg.EditMessageText(ctx, chatID, cur.MenuMessageID, "Publishing…", nil); err != nil {
		slog.Warn("menu finalize failed", slog.Any("err", err))
	}
}

func (m *Manager) finishPublish(userID, chatID int64, outcomes []publish.Outcome, err error) {
	ctx := context.Background()
	m.setPhase(userID, idle{})
	if err != nil {
		m.send(ctx, chatID, "Could not fetch the video from the chat: "+err.Error()+"\nStart over with /post.")
		return
	}
	var b strings.Builder
	b.WriteString("<b>Publish report</b>\n")
	for _, o := range outcomes {
		label := string(o.Platform)
		if d, lerr := m.reg.Lookup(o.Platform); lerr == nil {
			label = d.Label()
		}
		if o.OK() {
			ref := o.URL
			if ref == "" {
				ref = "done"
			}
			fmt.Fprintf(&b, "✅ %s: %s\n", label, ref)
		} else {
			fmt.Fprintf(&b, "❌ %s: %s\n", label, o.Cause)
		}
	}
	m.send(ctx, chatID, b.String())
}

func (m *Manager) showConnectMenu(ctx context.Context, chatID int64) {
	var rows [][]telegram.InlineKeyboardButton
	for _, d := range m.reg.All() {
		rows = append(rows, []telegram.InlineKeyboardButton{{
			Text:         d.Label(),
			CallbackData: "connect:" + string(d.ID),
		}})
	}
	markup := &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
	if _, err := m.tg.SendMessage(ctx, chatID, "Which platform do you want to connect?", markup); err != nil {
		slog.Warn("connect menu send failed", slog.Any("err", err))
	}
}

func (m *Manager) showDisconnectMenu(ctx context.Context, userID, chatID int64) {
	set, err := m.creds.Get(ctx, userID)
	if err != nil {
		slog.Error("credential load failed", slog.Int64("user_id", userID), slog.Any("err", err))
		m.send(ctx, chatID, "Could not load your connections. Try again.")
		return
	}
	connected := set.Connected(m.reg)
	if len(connected) == 0 {
		m.send(ctx, chatID, "Nothing is connected.")
		return
	}
	var rows [][]telegram.InlineKeyboardButton
	for _, id := range connected {
		d, _ := m.reg.Lookup(id)
		rows = append(rows, []telegram.InlineKeyboardButton{{
			Text:         d.Label(),
			CallbackData: "disconnect:" + string(d.ID),
		}})
	}
	markup := &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
	if _, err := m.tg.SendMessage(ctx, chatID, "Which platform do you want to disconnect?", markup); err != nil {
		slog.Warn("disconnect menu send failed", slog.Any("err", err))
	}
}

func (m *Manager) showStatus(ctx context.Context, userID, chatID int64) {
	set, err := m.creds.Get(ctx, userID)
	if err != nil {
		slog.Error("credential load failed", slog.Int64("user_id", userID), slog.Any("err", err))
		m.send(ctx, chatID, "Could not load your connections. Try again.")
		return
	}
	var b strings.Builder
	b.WriteString("<b>Connections</b>\n")
	for _, d := range m.reg.All() {
		mark := "❌"
		if _, ok := set[d.ID]; ok {
			mark = "✅"
		}
		fmt.Fprintf(&b, "%s %s\n", mark, d.Label())
	}
	m.send(ctx, chatID, b.String())
}

func (m *Manager) send(ctx context.Context, chatID int64, text string) {
	if _, err := m.tg.SendMessage(ctx, chatID, text, nil); err != nil {
		slog.Warn("send failed", slog.Int64("chat_id", chatID), slog.Any("err", err))
	}
}

func (m *Manager) answer(ctx context.Context, callbackID, text string, alert bool) {
	if err := m.tg.AnswerCallbackQuery(ctx, callbackID, text, alert); err != nil {
		slog.Warn("callback answer failed", slog.Any("err", err))
	}
}
