package internal

import (
	"log"
	"time"
)

const (
	defaultReapInterval = 30 * time.Second
	defaultExpiry       = 120 * time.Second
	defaultGraceDelay   = time.Second
)

// broadcaster fans an event out to every connected client. The Hub is the
// production implementation; tests substitute a recorder.
type broadcaster interface {
	Broadcast(event string, data any)
}

// eventSource is the connection an inbound event arrived on. The tracker
// uses it to associate a visitor id with the connection and to send the
// private catch-up reply on identify.
type eventSource interface {
	ID() string
	VisitorID() string
	SetVisitorID(id string)
	SendEvent(event string, data any)
}

type inboundEvent struct {
	name    string
	payload any
	source  eventSource
}

// disconnect is an internal pseudo-event enqueued when a connection's read
// pump exits; it is not part of the wire protocol.
const eventDisconnect = "_disconnect"

// TrackerConfig tunes the expiry timers; zero values take the defaults.
type TrackerConfig struct {
	ReapInterval time.Duration
	Expiry       time.Duration
	GraceDelay   time.Duration
	Now          func() time.Time
}

// Tracker owns the visitor registry and the day accumulators. All mutation
// happens on the run goroutine, fed by the inbound channel, the reap ticker
// and the deferred-work channel, so handlers never interleave and snapshot
// reads are torn-free.
type Tracker struct {
	cfg      TrackerConfig
	b        broadcaster
	metrics  *Metrics
	sessions map[string]*VisitorSession
	daily    map[string]*dayStats

	inbound   chan inboundEvent
	deferred  chan func()
	snapshots chan snapshotRequest
	done      chan struct{}
}

type snapshotRequest struct {
	reply chan snapshotReply
}

type snapshotReply struct {
	visitors   []VisitorSession
	statistics Statistics
}

func NewTracker(cfg TrackerConfig, b broadcaster, metrics *Metrics) *Tracker {
	if cfg.ReapInterval == 0 {
		cfg.ReapInterval = defaultReapInterval
	}
	if cfg.Expiry == 0 {
		cfg.Expiry = defaultExpiry
	}
	if cfg.GraceDelay == 0 {
		cfg.GraceDelay = defaultGraceDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		cfg:       cfg,
		b:         b,
		metrics:   metrics,
		sessions:  make(map[string]*VisitorSession),
		daily:     make(map[string]*dayStats),
		inbound:   make(chan inboundEvent, 256),
		deferred:  make(chan func(), 64),
		snapshots: make(chan snapshotRequest),
		done:      make(chan struct{}),
	}
}

// Start launches the run loop. Call Stop to tear it down.
func (t *Tracker) Start() {
	go t.run()
}

func (t *Tracker) Stop() {
	close(t.done)
}

func (t *Tracker) run() {
	ticker := time.NewTicker(t.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case ev := <-t.inbound:
			t.handle(ev)
		case <-ticker.C:
			t.reap()
		case fn := <-t.deferred:
			fn()
		case req := <-t.snapshots:
			req.reply <- snapshotReply{
				visitors:   t.visitorList(),
				statistics: computeStatistics(t.sessions, t.daily),
			}
		case <-t.done:
			return
		}
	}
}

// dispatch hands an event to the run loop. Drops the event if the loop has
// been stopped.
func (t *Tracker) dispatch(ev inboundEvent) {
	select {
	case t.inbound <- ev:
	case <-t.done:
	}
}

// Snapshot returns a consistent point-in-time view of the registry and
// statistics. Safe to call concurrently with any mutation.
func (t *Tracker) Snapshot() ([]VisitorSession, Statistics) {
	req := snapshotRequest{reply: make(chan snapshotReply, 1)}
	select {
	case t.snapshots <- req:
		reply := <-req.reply
		return reply.visitors, reply.statistics
	case <-t.done:
		return nil, Statistics{}
	}
}

// OnlineCount reports the current registry size.
func (t *Tracker) OnlineCount() int {
	visitors, _ := t.Snapshot()
	return len(visitors)
}

func (t *Tracker) handle(ev inboundEvent) {
	if t.metrics != nil {
		t.metrics.IncEvent()
	}
	switch ev.name {
	case EventIdentifyVisitor:
		t.handleIdentify(ev.payload.(IdentifyPayload), ev.source)
	case EventPageVisit:
		t.handlePageVisit(ev.payload.(VisitSnapshot), ev.source)
	case EventPageChange:
		t.handlePageChange(ev.payload.(VisitSnapshot))
	case EventUserActivity:
		t.handleUserActivity(ev.payload.(ActivityPayload), ev.source)
	case EventPageLeave:
		t.handlePageLeave(ev.payload.(PageLeavePayload), ev.source)
	case EventHeartbeat:
		t.handleHeartbeat(ev.payload.(HeartbeatPayload))
	case EventVisitorLeaving:
		t.handleLeaving(ev.payload.(LeavingPayload))
	case EventPageVisibilityChange:
		t.handleVisibility(ev.payload.(VisibilityPayload))
	case EventFocusChange:
		t.handleFocus(ev.payload.(FocusPayload))
	case EventCustomEvent:
		t.b.Broadcast(EventCustomEventBroadcast, ev.payload.(CustomEventPayload))
	case EventRequestRefresh:
		t.broadcastStatistics()
		t.b.Broadcast(EventVisitorsList, t.visitorList())
	case eventDisconnect:
		t.handleDisconnect(ev.source)
	}
}

// handleIdentify binds the visitor id to the connection and answers with a
// private catch-up snapshot on that connection only.
func (t *Tracker) handleIdentify(p IdentifyPayload, src eventSource) {
	if src == nil {
		return
	}
	src.SetVisitorID(p.VisitorID)
	src.SendEvent(EventVisitorData, VisitorDataPayload{
		Visitors:   t.visitorList(),
		Statistics: computeStatistics(t.sessions, t.daily),
	})
}

// handlePageVisit upserts the session: a repeat visit for a known id
// overwrites the entry and re-associates it with the new connection.
func (t *Tracker) handlePageVisit(snap VisitSnapshot, src eventSource) {
	now := t.cfg.Now()
	connectionID := ""
	if src != nil {
		connectionID = src.ID()
	}
	session := newSessionFromSnapshot(snap, connectionID, now)
	t.sessions[snap.ID] = session

	key := dayKey(now)
	day, ok := t.daily[key]
	if !ok {
		day = &dayStats{visitors: make(map[string]struct{})}
		t.daily[key] = day
	}
	day.visitors[snap.ID] = struct{}{}
	day.pageViews++
	if t.metrics != nil {
		t.metrics.IncPageView()
	}

	t.broadcastStatistics()
	t.b.Broadcast(EventVisitorUpdate, *session)
	t.b.Broadcast(EventVisitorsList, t.visitorList())
}

func (t *Tracker) handlePageChange(snap VisitSnapshot) {
	session, ok := t.sessions[snap.ID]
	if !ok {
		return
	}
	session.CurrentPage = snap.CurrentPage
	session.Duration = snap.Duration
	session.lastActivity = t.cfg.Now()
	if t.metrics != nil {
		t.metrics.IncPageView()
	}

	t.broadcastStatistics()
	t.b.Broadcast(EventVisitorUpdate, *session)
	t.b.Broadcast(EventVisitorsList, t.visitorList())
}

// handleUserActivity stamps activity for the connection's visitor and emits
// a lightweight notice without recomputing statistics.
func (t *Tracker) handleUserActivity(p ActivityPayload, src eventSource) {
	if src == nil {
		return
	}
	session, ok := t.sessions[src.VisitorID()]
	if !ok {
		return
	}
	session.lastActivity = t.cfg.Now()
	t.b.Broadcast(EventVisitorActivity, ActivityNotice{
		VisitorID: session.ID,
		Activity:  p.Activity,
		Timestamp: p.Timestamp,
	})
}

func (t *Tracker) handlePageLeave(p PageLeavePayload, src eventSource) {
	if src == nil {
		return
	}
	session, ok := t.sessions[src.VisitorID()]
	if !ok {
		return
	}
	session.Duration = p.Duration / 1000
}

func (t *Tracker) handleHeartbeat(p HeartbeatPayload) {
	session, ok := t.sessions[p.VisitorID]
	if !ok {
		return
	}
	now := t.cfg.Now()
	session.lastHeartbeat = now
	session.lastActivity = now
	session.Duration = p.Duration
	if p.CurrentPath != "" {
		session.CurrentPage = p.CurrentPath
	}
	t.b.Broadcast(EventHeartbeatReceived, HeartbeatAck{
		VisitorID: p.VisitorID,
		Timestamp: p.Timestamp,
		Duration:  p.Duration,
	})
}

// handleLeaving announces the departure immediately and deletes the session
// after the grace delay so dashboards observe the two states in sequence.
func (t *Tracker) handleLeaving(p LeavingPayload) {
	session, ok := t.sessions[p.VisitorID]
	if !ok {
		return
	}
	session.IsOnline = false
	session.Duration = p.Duration

	t.b.Broadcast(EventVisitorLeft, VisitorLeftPayload{
		VisitorID: p.VisitorID,
		Duration:  p.Duration,
		LastPage:  p.CurrentPath,
		Reason:    p.Reason,
	})

	time.AfterFunc(t.cfg.GraceDelay, func() {
		t.schedule(func() {
			delete(t.sessions, p.VisitorID)
			t.broadcastStatistics()
			t.b.Broadcast(EventVisitorsList, t.visitorList())
		})
	})
}

func (t *Tracker) handleVisibility(p VisibilityPayload) {
	session, ok := t.sessions[p.VisitorID]
	if !ok {
		return
	}
	session.IsVisible = p.Visible
	session.lastActivity = t.cfg.Now()
	t.b.Broadcast(EventVisitorVisibilityChanged, p)
}

func (t *Tracker) handleFocus(p FocusPayload) {
	session, ok := t.sessions[p.VisitorID]
	if !ok {
		return
	}
	session.HasFocus = p.Focused
	session.lastActivity = t.cfg.Now()
	t.b.Broadcast(EventVisitorFocusChanged, p)
}

// handleDisconnect marks the session offline but keeps it registered; only
// the reaper or an explicit visitor_leaving removes sessions.
func (t *Tracker) handleDisconnect(src eventSource) {
	if src == nil {
		return
	}
	session, ok := t.sessions[src.VisitorID()]
	if !ok {
		return
	}
	session.IsOnline = false
	session.lastActivity = t.cfg.Now()
	t.b.Broadcast(EventVisitorUpdate, *session)
	t.b.Broadcast(EventVisitorsList, t.visitorList())
}

// reap deletes every session silent for longer than the expiry threshold.
// The refreshed list and statistics go out once, and only if something was
// actually removed.
func (t *Tracker) reap() {
	now := t.cfg.Now()
	reaped := 0
	for id, session := range t.sessions {
		if now.Sub(session.lastSeen()) <= t.cfg.Expiry {
			continue
		}
		delete(t.sessions, id)
		reaped++
		t.b.Broadcast(EventVisitorLeft, VisitorLeftPayload{
			VisitorID: id,
			Duration:  session.Duration,
			LastPage:  session.CurrentPage,
			Reason:    "timeout",
		})
	}
	if reaped == 0 {
		return
	}
	if t.metrics != nil {
		t.metrics.AddReaped(reaped)
	}
	log.Printf("reaped %d inactive visitors", reaped)
	t.broadcastStatistics()
	t.b.Broadcast(EventVisitorsList, t.visitorList())
}

// schedule runs fn on the run goroutine.
func (t *Tracker) schedule(fn func()) {
	select {
	case t.deferred <- fn:
	case <-t.done:
	}
}

func (t *Tracker) broadcastStatistics() {
	t.b.Broadcast(EventStatisticsUpdate, computeStatistics(t.sessions, t.daily))
}

func (t *Tracker) visitorList() []VisitorSession {
	list := make([]VisitorSession, 0, len(t.sessions))
	for _, session := range t.sessions {
		list = append(list, *session)
	}
	return list
}
