package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	intrnl "sitepulse/internal"
	"sitepulse/internal/store"
)

// ConnState tracks where the agent is in its connect/reconnect lifecycle.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateLocalFallback
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	defaultIdleTimeout       = 30 * time.Second
	defaultReconnectBase     = 2 * time.Second
	defaultMaxReconnects     = 5
	defaultBufferCap         = 100
	defaultNavDebounce       = 100 * time.Millisecond
)

// Config describes one simulated browser context. The user-agent, referrer,
// screen and language fields are config here because there is no real
// browser to read them from.
type Config struct {
	ServerURL        string
	StorePath        string
	UserAgent        string
	Referrer         string
	ScreenResolution string
	Language         string
	InitialPath      string

	LookupURL     string
	IPLookupURL   string
	GeoByIPFormat string
	HTTPTimeout   time.Duration

	HeartbeatInterval    time.Duration
	IdleTimeout          time.Duration
	ReconnectBase        time.Duration
	MaxReconnectAttempts int
	BufferCap            int
	NavDebounce          time.Duration
}

func (c *Config) withDefaults() {
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 5 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.ReconnectBase == 0 {
		c.ReconnectBase = defaultReconnectBase
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = defaultMaxReconnects
	}
	if c.BufferCap == 0 {
		c.BufferCap = defaultBufferCap
	}
	if c.NavDebounce == 0 {
		c.NavDebounce = defaultNavDebounce
	}
	if c.InitialPath == "" {
		c.InitialPath = "/"
	}
	if c.Language == "" {
		c.Language = "en-US"
	}
	if c.ScreenResolution == "" {
		c.ScreenResolution = "1920x1080"
	}
}

// Agent owns one visitor identity and relays its lifecycle events to the
// presence server, buffering locally whenever the channel is not open.
type Agent struct {
	cfg     Config
	store   *store.Store
	locator *Locator
	id      string

	mu           sync.Mutex
	state        ConnState
	ws           *websocket.Conn
	attempts     int
	startTime    time.Time
	currentPath  string
	lastSentPath string
	visible      bool
	focused      bool
	closed       bool
	memBuffer    []bufferedEvent

	heartbeatStop  chan struct{}
	idleTimer      *time.Timer
	navTimer       *time.Timer
	reconnectTimer *time.Timer
}

type bufferedEvent struct {
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data,omitempty"`
	Buffered int64           `json:"buffered"`
}

/// New builds an agent. A store that cannot be opened is logged and skipped:
// the agent keeps working without the offline-buffer safety net.
func New(cfg Config) *Agent {
	cfg.withDefaults()

	var st *store.Store
	if cfg.StorePath != "" {
		opened, err := store.NewStore(cfg.StorePath)
		if err != nil {
			log.Printf("agent store unavailable, continuing in memory: %v", err)
		} else if err := opened.Migrate(context.Background()); err != nil {
			log.Printf("agent store migrate failed, continuing in memory: %v", err)
			_ = opened.Close()
		} else {
			st = opened
		}
	}

	a := &Agent{
		cfg:         cfg,
		store:       st,
		locator:     NewLocator(&http.Client{Timeout: cfg.HTTPTimeout}, cfg.LookupURL, cfg.IPLookupURL, cfg.GeoByIPFormat),
		id:          loadOrCreateID(context.Background(), st),
		state:       StateDisconnected,
		startTime:   time.Now(),
		currentPath: cfg.InitialPath,
		visible:     true,
		focused:     true,
	}
	return a
}

// VisitorID returns the stable identity this agent reports under.
func (a *Agent) VisitorID() string { return a.id }

// State returns the current connection state.
func (a *Agent) State() ConnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start dials the server and begins reporting. It returns immediately; the
// connect happens in the background and failures feed the reconnect loop.
func (a *Agent) Start() {
	a.mu.Lock()
	a.state = StateConnecting
	a.mu.Unlock()
	go a.connect()
}

func (a *Agent) connect() {
	ws, _, err := websocket.DefaultDialer.Dial(a.cfg.ServerURL, nil)
	if err != nil {
		log.Printf("connect failed: %v", err)
		a.scheduleReconnect()
		return
	}
	a.onConnected(ws)
}

func (a *Agent) onConnected(ws *websocket.Conn) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = ws.Close()
		return
	}
	a.ws = ws
	a.state = StateConnected
	a.attempts = 0
	a.mu.Unlock()

	go a.readLoop(ws)

	a.Emit(intrnl.EventIdentifyVisitor, intrnl.IdentifyPayload{VisitorID: a.id})
	a.Emit(intrnl.EventPageVisit, a.collectSnapshot())
	a.startHeartbeat()
	a.resetIdleTimer()
	a.flushBuffer()
}

// readLoop drains the socket so pings are answered and closes are noticed.
// The agent does not act on server broadcasts.
func (a *Agent) readLoop(ws *websocket.Conn) {
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	a.onDisconnected(ws)
}

func (a *Agent) onDisconnected(ws *websocket.Conn) {
	a.mu.Lock()
	if a.closed || a.ws != ws {
		a.mu.Unlock()
		return
	}
	a.ws = nil
	a.state = StateDisconnected
	a.mu.Unlock()

	a.stopHeartbeat()
	a.scheduleReconnect()
}

// scheduleReconnect backs off linearly per attempt; after the cap the agent
// settles into local fallback and stops dialing on its own.
func (a *Agent) scheduleReconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.attempts++
	if a.attempts > a.cfg.MaxReconnectAttempts {
		a.state = StateLocalFallback
		log.Printf("max reconnect attempts reached, buffering locally")
		return
	}
	a.state = StateReconnecting
	delay := time.Duration(a.attempts) * a.cfg.ReconnectBase
	log.Printf("reconnecting in %s (attempt %d/%d)", delay, a.attempts, a.cfg.MaxReconnectAttempts)
	a.reconnectTimer = time.AfterFunc(delay, a.connect)
}

// Emit sends a named event, or buffers it when the channel is not open.
// Every emission is sent or buffered, never both and never dropped short of
// the buffer cap.
func (a *Agent) Emit(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("encode %s: %v", event, err)
		return
	}
	a.mu.Lock()
	ws := a.ws
	connected := a.state == StateConnected && ws != nil
	a.mu.Unlock()

	if !connected {
		a.buffer(event, payload)
		return
	}
	frame, err := json.Marshal(intrnl.Envelope{Event: event, Data: payload})
	if err != nil {
		log.Printf("encode %s: %v", event, err)
		return
	}
	a.mu.Lock()
	err = ws.WriteMessage(websocket.TextMessage, frame)
	a.mu.Unlock()
	if err != nil {
		// the read loop will notice the broken socket; keep the event.
		a.buffer(event, payload)
	}
}

func (a *Agent) buffer(event string, payload []byte) {
	if a.store != nil {
		err := a.store.AppendOfflineEvent(context.Background(), event, payload, a.cfg.BufferCap)
		if err == nil {
			return
		}
		log.Printf("offline buffer write failed: %v", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memBuffer = append(a.memBuffer, bufferedEvent{
		Event:    event,
		Data:     json.RawMessage(payload),
		Buffered: time.Now().UnixMilli(),
	})
	if excess := len(a.memBuffer) - a.cfg.BufferCap; excess > 0 {
		a.memBuffer = a.memBuffer[excess:]
	}
}

// flushBuffer replays buffered emissions after a successful connect,
// oldest first. A write failure stops the replay; whatever was not
// delivered stays buffered for the next connect.
func (a *Agent) flushBuffer() {
	if a.store != nil && !a.flushStoredEvents() {
		return
	}

	a.mu.Lock()
	pending := a.memBuffer
	a.memBuffer = nil
	a.mu.Unlock()
	for i, ev := range pending {
		if err := a.sendRaw(ev.Event, ev.Data); err != nil {
			log.Printf("offline replay stopped: %v", err)
			a.mu.Lock()
			// events buffered during the flush come after the remainder.
			a.memBuffer = append(pending[i:], a.memBuffer...)
			a.mu.Unlock()
			return
		}
	}
}

// flushStoredEvents replays the persisted buffer and deletes only the
// delivered prefix. Returns false when the replay was cut short.
func (a *Agent) flushStoredEvents() bool {
	ctx := context.Background()
	events, err := a.store.ListOfflineEvents(ctx)
	if err != nil {
		log.Printf("offline buffer read failed: %v", err)
		return true
	}

	var delivered int64
	complete := true
	for _, ev := range events {
		if err := a.sendRaw(ev.Event, json.RawMessage(ev.Payload)); err != nil {
			log.Printf("offline replay stopped: %v", err)
			complete = false
			break
		}
		delivered = ev.ID
	}
	if delivered > 0 {
		if err := a.store.DeleteOfflineEventsThrough(ctx, delivered); err != nil {
			log.Printf("offline buffer trim failed: %v", err)
		}
	}
	return complete
}

var errNotConnected = errors.New("not connected")

func (a *Agent) sendRaw(event string, payload json.RawMessage) error {
	frame, err := json.Marshal(intrnl.Envelope{Event: event, Data: payload})
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ws == nil {
		return errNotConnected
	}
	return a.ws.WriteMessage(websocket.TextMessage, frame)
}

// BufferedCount reports how many events are waiting for connectivity.
func (a *Agent) BufferedCount() int {
	if a.store != nil {
		if n, err := a.store.CountOfflineEvents(context.Background()); err == nil {
			return n
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.memBuffer)
}

// Navigate records a path change and, after a short debounce, reports it as
// a page_change if the path actually differs from the last one sent.
func (a *Agent) Navigate(path string) {
	a.mu.Lock()
	a.currentPath = path
	if a.navTimer != nil {
		a.navTimer.Stop()
	}
	a.navTimer = time.AfterFunc(a.cfg.NavDebounce, a.reportNavigation)
	a.mu.Unlock()
	a.Activity()
}

func (a *Agent) reportNavigation() {
	a.mu.Lock()
	path := a.currentPath
	changed := path != a.lastSentPath
	if changed {
		a.lastSentPath = path
	}
	a.mu.Unlock()
	if changed {
		a.Emit(intrnl.EventPageChange, a.collectSnapshot())
	}
}

// Activity marks user input and rearms the idle timer.
func (a *Agent) Activity() {
	a.resetIdleTimer()
}

func (a *Agent) resetIdleTimer() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	if a.idleTimer != nil {
		a.idleTimer.Stop()
	}
	a.idleTimer = time.AfterFunc(a.cfg.IdleTimeout, func() {
		a.Emit(intrnl.EventUserActivity, intrnl.ActivityPayload{
			Activity:  "idle",
			Timestamp: time.Now().UnixMilli(),
		})
	})
}

// SetVisible reports a page visibility transition. Heartbeats pause while
// the page is hidden.
func (a *Agent) SetVisible(visible bool) {
	a.mu.Lock()
	a.visible = visible
	a.mu.Unlock()

	now := time.Now().UnixMilli()
	activity := "page_visible"
	if !visible {
		activity = "page_hidden"
	}
	a.Emit(intrnl.EventUserActivity, intrnl.ActivityPayload{Activity: activity, Timestamp: now})
	a.Emit(intrnl.EventPageVisibilityChange, intrnl.VisibilityPayload{
		VisitorID: a.id,
		Visible:   visible,
		Timestamp: now,
	})
}

// SetFocused reports a window focus transition.
func (a *Agent) SetFocused(focused bool) {
	a.mu.Lock()
	a.focused = focused
	a.mu.Unlock()
	a.Emit(intrnl.EventFocusChange, intrnl.FocusPayload{
		VisitorID: a.id,
		Focused:   focused,
		Timestamp: time.Now().UnixMilli(),
	})
}

// TrackCustomEvent forwards ad hoc instrumentation to the server.
func (a *Agent) TrackCustomEvent(name string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("encode custom event %s: %v", name, err)
		return
	}
	a.Emit(intrnl.EventCustomEvent, intrnl.CustomEventPayload{
		EventName: name,
		Data:      payload,
		Timestamp: time.Now().UnixMilli(),
	})
}

// Leave announces the visitor's departure with the given reason
// (page_unload or page_hide). Best effort: when disconnected it lands in
// the buffer like anything else.
func (a *Agent) Leave(reason string) {
	a.mu.Lock()
	path := a.currentPath
	elapsed := time.Since(a.startTime)
	a.mu.Unlock()

	a.Emit(intrnl.EventPageLeave, intrnl.PageLeavePayload{
		Duration:  elapsed.Milliseconds(),
		Path:      path,
		Timestamp: time.Now().UnixMilli(),
	})
	a.Emit(intrnl.EventVisitorLeaving, intrnl.LeavingPayload{
		VisitorID:   a.id,
		CurrentPath: path,
		Duration:    int64(elapsed.Seconds()),
		Timestamp:   time.Now().UnixMilli(),
		Reason:      reason,
	})
}

// Close tears the agent down: a final departure notice, then all timers
// cancelled and the socket and store released.
func (a *Agent) Close() {
	a.Leave("page_unload")

	a.mu.Lock()
	a.closed = true
	ws := a.ws
	a.ws = nil
	a.state = StateDisconnected
	if a.idleTimer != nil {
		a.idleTimer.Stop()
	}
	if a.navTimer != nil {
		a.navTimer.Stop()
	}
	if a.reconnectTimer != nil {
		a.reconnectTimer.Stop()
	}
	a.mu.Unlock()

	a.stopHeartbeat()
	if ws != nil {
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = ws.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

func (a *Agent) startHeartbeat() {
	a.mu.Lock()
	if a.heartbeatStop != nil {
		a.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	a.heartbeatStop = stop
	a.mu.Unlock()

	go func() {
		ticker := time.NewTicker(a.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.beat()
			case <-stop:
				return
			}
		}
	}()
}

func (a *Agent) stopHeartbeat() {
	a.mu.Lock()
	stop := a.heartbeatStop
	a.heartbeatStop = nil
	a.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

// beat sends one heartbeat, but only while connected and visible: a hidden
// page is allowed to go silent and eventually be reaped.
func (a *Agent) beat() {
	a.mu.Lock()
	ok := a.state == StateConnected && a.visible
	path := a.currentPath
	elapsed := time.Since(a.startTime)
	a.mu.Unlock()
	if !ok {
		return
	}
	now := time.Now().UnixMilli()
	a.Emit(intrnl.EventHeartbeat, intrnl.HeartbeatPayload{
		VisitorID:    a.id,
		Timestamp:    now,
		CurrentPath:  path,
		Duration:     int64(elapsed.Seconds()),
		LastActivity: now,
	})
}

// collectSnapshot assembles the full visitor snapshot sent with page_visit
// and page_change. The geolocation stage is best-effort and never blocks
// the event beyond the HTTP client timeout.
func (a *Agent) collectSnapshot() intrnl.VisitSnapshot {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTPTimeout)
	defer cancel()
	loc := a.locator.Lookup(ctx)
	info := intrnl.ParseUserAgent(a.cfg.UserAgent)

	a.mu.Lock()
	path := a.currentPath
	a.lastSentPath = path
	elapsed := time.Since(a.startTime)
	a.mu.Unlock()

	referrer := a.cfg.Referrer
	if referrer == "" {
		referrer = "direct"
	}

	return intrnl.VisitSnapshot{
		ID:               a.id,
		IP:               loc.IP,
		Country:          loc.Country,
		City:             loc.City,
		Region:           loc.Region,
		Latitude:         loc.Latitude,
		Longitude:        loc.Longitude,
		Timezone:         loc.Timezone,
		Browser:          info.Browser,
		OS:               info.OS,
		Device:           info.Device,
		CurrentPage:      path,
		Duration:         int64(elapsed.Seconds()),
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		UserAgent:        a.cfg.UserAgent,
		Referrer:         referrer,
		ScreenResolution: a.cfg.ScreenResolution,
		Language:         a.cfg.Language,
	}
}
