package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/google/uuid"
)

// DashboardModel is the observer TUI: a live table of current visitors plus
// the aggregate statistics, fed by the server's broadcast stream.
type DashboardModel struct {
	serverURL     string
	dashboardID   string
	websocketConn *websocket.Conn
	writeMutex    sync.Mutex

	isConnected     bool
	connectionError error
	reconnectWait   time.Duration

	visitors   []VisitorSession
	stats      Statistics
	lastNotice string
	spinner    spinner.Model
	width      int
}

type (
	dashConnectedMsg struct{}
	dashFrameMsg     Envelope
	dashClosedMsg    struct{ err error }
	dashReconnectMsg struct{}
	dashTickMsg      time.Time
)

func NewDashboardModel(serverURL string) *DashboardModel {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	return &DashboardModel{
		serverURL:     serverURL,
		dashboardID:   "dash_" + uuid.NewString(),
		reconnectWait: 2 * time.Second,
		spinner:       spin,
	}
}

func (model *DashboardModel) Init() tea.Cmd {
	return tea.Batch(model.connectCmd(), model.spinner.Tick, dashTickCmd())
}

func dashTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return dashTickMsg(t)
	})
}

func (model *DashboardModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		switch typedMessage.String() {
		case "ctrl+c", "q", "esc":
			if model.websocketConn != nil {
				_ = model.websocketConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = model.websocketConn.Close()
			}
			return model, tea.Quit
		case "r":
			if model.isConnected {
				return model, model.sendCmd(EventRequestRefresh, nil)
			}
		}
		return model, nil

	case tea.WindowSizeMsg:
		model.width = typedMessage.Width
		return model, nil

	case dashConnectedMsg:
		model.isConnected = true
		model.connectionError = nil
		identify := model.sendCmd(EventIdentifyVisitor, IdentifyPayload{VisitorID: model.dashboardID})
		return model, tea.Batch(identify, model.readOnceCmd())

	case dashFrameMsg:
		model.applyFrame(Envelope(typedMessage))
		return model, model.readOnceCmd()

	case dashClosedMsg:
		model.isConnected = false
		model.connectionError = typedMessage.err
		model.websocketConn = nil
		return model, model.scheduleReconnect()

	case dashReconnectMsg:
		if !model.isConnected {
			return model, model.connectCmd()
		}
		return model, nil

	case dashTickMsg:
		// keep displayed durations moving between server updates.
		for idx := range model.visitors {
			if model.visitors[idx].IsOnline {
				model.visitors[idx].Duration++
			}
		}
		return model, dashTickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		model.spinner, cmd = model.spinner.Update(typedMessage)
		return model, cmd
	}
	return model, nil
}

// applyFrame folds one server broadcast into the local view of the world.
func (model *DashboardModel) applyFrame(envelope Envelope) {
	switch envelope.Event {
	case EventVisitorData:
		var payload VisitorDataPayload
		if json.Unmarshal(envelope.Data, &payload) == nil {
			model.visitors = payload.Visitors
			model.stats = payload.Statistics
			model.sortVisitors()
		}
	case EventVisitorsList:
		var visitors []VisitorSession
		if json.Unmarshal(envelope.Data, &visitors) == nil {
			model.visitors = visitors
			model.sortVisitors()
		}
	case EventVisitorUpdate:
		var visitor VisitorSession
		if json.Unmarshal(envelope.Data, &visitor) == nil {
			model.upsertVisitor(visitor)
		}
	case EventStatisticsUpdate:
		var stats Statistics
		if json.Unmarshal(envelope.Data, &stats) == nil {
			model.stats = stats
		}
	case EventVisitorLeft:
		var payload VisitorLeftPayload
		if json.Unmarshal(envelope.Data, &payload) == nil {
			model.removeVisitor(payload.VisitorID)
			model.lastNotice = fmt.Sprintf("%s left (%s) after %ds on %s", payload.VisitorID, payload.Reason, payload.Duration, payload.LastPage)
		}
	case EventVisitorActivity:
		var notice ActivityNotice
		if json.Unmarshal(envelope.Data, &notice) == nil {
			model.lastNotice = fmt.Sprintf("%s: %s", notice.VisitorID, notice.Activity)
		}
	case EventVisitorVisibilityChanged:
		var payload VisibilityPayload
		if json.Unmarshal(envelope.Data, &payload) == nil {
			model.setVisibility(payload.VisitorID, payload.Visible)
		}
	case EventVisitorFocusChanged:
		var payload FocusPayload
		if json.Unmarshal(envelope.Data, &payload) == nil {
			model.setFocus(payload.VisitorID, payload.Focused)
		}
	case EventCustomEventBroadcast:
		var payload CustomEventPayload
		if json.Unmarshal(envelope.Data, &payload) == nil {
			model.lastNotice = fmt.Sprintf("custom event: %s", payload.EventName)
		}
	}
}

func (model *DashboardModel) upsertVisitor(visitor VisitorSession) {
	for idx := range model.visitors {
		if model.visitors[idx].ID == visitor.ID {
			model.visitors[idx] = visitor
			return
		}
	}
	model.visitors = append(model.visitors, visitor)
	model.sortVisitors()
}

func (model *DashboardModel) removeVisitor(visitorID string) {
	for idx := range model.visitors {
		if model.visitors[idx].ID == visitorID {
			model.visitors = append(model.visitors[:idx], model.visitors[idx+1:]...)
			return
		}
	}
}

func (model *DashboardModel) setVisibility(visitorID string, visible bool) {
	for idx := range model.visitors {
		if model.visitors[idx].ID == visitorID {
			model.visitors[idx].IsVisible = visible
			return
		}
	}
}

func (model *DashboardModel) setFocus(visitorID string, focused bool) {
	for idx := range model.visitors {
		if model.visitors[idx].ID == visitorID {
			model.visitors[idx].HasFocus = focused
			return
		}
	}
}

// sortVisitors keeps the table stable between refreshes: online sessions
// first, then by id.
func (model *DashboardModel) sortVisitors() {
	sort.Slice(model.visitors, func(i, j int) bool {
		if model.visitors[i].IsOnline != model.visitors[j].IsOnline {
			return model.visitors[i].IsOnline
		}
		return model.visitors[i].ID < model.visitors[j].ID
	})
}

func (model *DashboardModel) connectCmd() tea.Cmd {
	return func() tea.Msg {
		conn, _, err := websocket.DefaultDialer.Dial(model.serverURL, http.Header{})
		if err != nil {
			return dashClosedMsg{err: err}
		}
		model.websocketConn = conn
		return dashConnectedMsg{}
	}
}

func (model *DashboardModel) readOnceCmd() tea.Cmd {
	return func() tea.Msg {
		if model.websocketConn == nil {
			return dashClosedMsg{err: fmt.Errorf("websocket not connected")}
		}
		messageType, payload, err := model.websocketConn.ReadMessage()
		if err != nil {
			return dashClosedMsg{err: err}
		}
		if messageType != websocket.TextMessage {
			return dashFrameMsg{}
		}
		var envelope Envelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			return dashFrameMsg{}
		}
		return dashFrameMsg(envelope)
	}
}

func (model *DashboardModel) sendCmd(event string, data any) tea.Cmd {
	return func() tea.Msg {
		if model.websocketConn == nil {
			return nil
		}
		frame, err := marshalEvent(event, data)
		if err != nil {
			return nil
		}
		model.writeMutex.Lock()
		err = model.websocketConn.WriteMessage(websocket.TextMessage, frame)
		model.writeMutex.Unlock()
		if err != nil {
			return dashClosedMsg{err: err}
		}
		return nil
	}
}

func (model *DashboardModel) scheduleReconnect() tea.Cmd {
	return tea.Tick(model.reconnectWait, func(time.Time) tea.Msg {
		return dashReconnectMsg{}
	})
}

// RunDashboard launches the bubbletea program against the given /live URL.
func RunDashboard(serverURL string) error {
	program := tea.NewProgram(NewDashboardModel(serverURL), tea.WithAltScreen())
	_, err := program.Run()
	return err
}
