package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	internalapi "github.com/watershedlabs/leaksense/internal/api"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00AFFF")).
			MarginLeft(2).
			MarginTop(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FFFF")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FFFF")).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#00AFFF")).
			Padding(0, 2)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#666666")).
				Padding(0, 2)

	contentStyle = lipgloss.NewStyle().
			MarginLeft(2).
			MarginTop(1)

	statsBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(1, 2).
			MarginRight(2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)
)

type view int

const (
	dashboardView view = iota
	detectionsView
)

type keyMap struct {
	Tab      key.Binding
	ShiftTab key.Binding
	Detect   key.Binding
	Place    key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	Tab:      key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next view")),
	ShiftTab: key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "prev view")),
	Detect:   key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "run detection")),
	Place:    key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "auto-place sensors")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Detect, k.Place, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Tab, k.ShiftTab}, {k.Detect, k.Place}, {k.Quit}}
}

// apiClient talks to a running leaksense server's /api routes.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *apiClient) get(path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	resp, err := c.http.Get(u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func (c *apiClient) post(path string, query url.Values, body any, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	resp, err := c.http.Post(u, "application/json", &buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func decodeOrError(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		var envelope internalapi.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Message != "" {
			return fmt.Errorf("%s", envelope.Message)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) matrixStatus(networkID string) (internalapi.MatrixStatusResponse, error) {
	var resp internalapi.MatrixStatusResponse
	err := c.get("/api/network/sensitivity-matrix/status", url.Values{"networkId": {networkID}}, &resp)
	return resp, err
}

func (c *apiClient) detect(networkID string) ([]internalapi.DetectionResponse, error) {
	var resp []internalapi.DetectionResponse
	body := map[string]string{"networkId": networkID}
	err := c.post("/api/leaks/detect", nil, body, &resp)
	return resp, err
}

func (c *apiClient) autoPlace(networkID string, targetCount int) (internalapi.PlacementReport, error) {
	var resp internalapi.PlacementReport
	body := map[string]any{"networkId": networkID, "targetCount": targetCount}
	err := c.post("/api/sensors/auto-place", nil, body, &resp)
	return resp, err
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(3*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type statusMsg struct {
	status internalapi.MatrixStatusResponse
	err    error
}

func fetchStatusCmd(c *apiClient, networkID string) tea.Cmd {
	return func() tea.Msg {
		status, err := c.matrixStatus(networkID)
		return statusMsg{status: status, err: err}
	}
}

type detectMsg struct {
	detections []internalapi.DetectionResponse
	err        error
}

func runDetectCmd(c *apiClient, networkID string) tea.Cmd {
	return func() tea.Msg {
		detections, err := c.detect(networkID)
		return detectMsg{detections: detections, err: err}
	}
}

type placeMsg struct {
	report internalapi.PlacementReport
	err    error
}

func runAutoPlaceCmd(c *apiClient, networkID string, targetCount int) tea.Cmd {
	return func() tea.Msg {
		report, err := c.autoPlace(networkID, targetCount)
		return placeMsg{report: report, err: err}
	}
}

type model struct {
	client      *apiClient
	networkID   string
	targetCount int

	currentView view
	keys        keyMap
	help        help.Model

	detectionsTable table.Model
	status          internalapi.MatrixStatusResponse
	lastDetectCount int

	message    string
	messageErr bool
	startTime  time.Time
	width      int
	height     int
}

func initialModel(client *apiClient, networkID string, targetCount int) model {
	columns := []table.Column{
		{Title: "Node", Width: 14},
		{Title: "Severity", Width: 10},
		{Title: "Imbalance", Width: 12},
		{Title: "Status", Width: 14},
		{Title: "Detected At", Width: 22},
	}
	t := table.New(table.WithColumns(columns), table.WithFocused(true), table.WithHeight(12))
	s := table.DefaultStyles()
	s.Header = s.Header.BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("#00FFFF")).BorderBottom(true).Bold(true)
	s.Selected = s.Selected.Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#00AFFF")).Bold(false)
	t.SetStyles(s)

	return model{
		client:          client,
		networkID:       networkID,
		targetCount:     targetCount,
		currentView:     dashboardView,
		keys:            keys,
		help:            help.New(),
		detectionsTable: t,
		startTime:       time.Now(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), fetchStatusCmd(m.client, m.networkID))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case tickMsg:
		return m, tea.Batch(tickCmd(), fetchStatusCmd(m.client, m.networkID))

	case statusMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("status poll failed: %v", msg.err)
			m.messageErr = true
		} else {
			m.status = msg.status
		}

	case detectMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("detection run failed: %v", msg.err)
			m.messageErr = true
			break
		}
		m.lastDetectCount = len(msg.detections)
		m.message = fmt.Sprintf("detection run found %d leak(s)", len(msg.detections))
		m.messageErr = false
		m.detectionsTable.SetRows(detectionRows(msg.detections))
		m.currentView = detectionsView

	case placeMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("auto-place failed: %v", msg.err)
			m.messageErr = true
			break
		}
		m.message = fmt.Sprintf("placed %d sensor(s)", msg.report.Count)
		m.messageErr = false

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Tab):
			m.currentView = (m.currentView + 1) % 2
		case key.Matches(msg, m.keys.ShiftTab):
			m.currentView = (m.currentView + 1) % 2
		case key.Matches(msg, m.keys.Detect):
			return m, runDetectCmd(m.client, m.networkID)
		case key.Matches(msg, m.keys.Place):
			return m, runAutoPlaceCmd(m.client, m.networkID, m.targetCount)
		}
	}

	var cmd tea.Cmd
	if m.currentView == detectionsView {
		m.detectionsTable, cmd = m.detectionsTable.Update(msg)
	}
	return m, cmd
}

func detectionRows(detections []internalapi.DetectionResponse) []table.Row {
	rows := make([]table.Row, len(detections))
	for i, d := range detections {
		rows[i] = table.Row{
			d.NodeID,
			d.Severity,
			strconv.FormatFloat(d.FlowImbalance, 'f', 2, 64),
			d.Status,
			d.DetectedAt.Format(time.RFC3339),
		}
	}
	return rows
}

func (m model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("leaksense monitor — network " + m.networkID))
	s.WriteString("\n\n")
	s.WriteString(m.renderTabs())
	s.WriteString("\n\n")

	switch m.currentView {
	case dashboardView:
		s.WriteString(m.renderDashboard())
	case detectionsView:
		s.WriteString(m.renderDetections())
	}

	if m.message != "" {
		s.WriteString("\n\n")
		if m.messageErr {
			s.WriteString(errorStyle.Render("✗ " + m.message))
		} else {
			s.WriteString(successStyle.Render("✓ " + m.message))
		}
	}

	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp())))

	return s.String()
}

func (m model) renderTabs() string {
	tabs := []string{"Dashboard", "Detections"}
	rendered := make([]string, len(tabs))
	for i, t := range tabs {
		if view(i) == m.currentView {
			rendered[i] = activeTabStyle.Render(t)
		} else {
			rendered[i] = inactiveTabStyle.Render(t)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func (m model) renderDashboard() string {
	uptime := time.Since(m.startTime).Round(time.Second)

	progress := "n/a"
	if m.status.Progress != nil {
		progress = fmt.Sprintf("%d%%", *m.status.Progress)
	}
	entries := 0
	candidates := 0
	sensors := 0
	if m.status.MatrixStats != nil {
		entries = m.status.MatrixStats.TotalEntries
		candidates = m.status.MatrixStats.CandidateCount
		sensors = m.status.MatrixStats.SensorCount
	}

	statusContent := fmt.Sprintf(`Sensitivity Matrix
──────────────────
State:      %s
Progress:   %s
Candidates: %d
Sensors:    %d
Entries:    %d`,
		m.status.State, progress, candidates, sensors, entries)

	actions := fmt.Sprintf(`Monitor
──────────────────
Uptime:        %s
Last detect:   %d leak(s)

[d] run detection
[p] auto-place sensors
[tab] switch view`, uptime, m.lastDetectCount)

	return contentStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Top, statsBoxStyle.Render(statusContent), statsBoxStyle.Render(actions)),
	)
}

func (m model) renderDetections() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render("Recent Detections"))
	s.WriteString("\n\n")
	s.WriteString(m.detectionsTable.View())
	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render("Press 'd' to run a fresh detection pass"))
	return contentStyle.Render(s.String())
}

func main() {
	addr := flag.String("addr", "http://localhost:3000", "leaksense server base URL")
	networkID := flag.String("network", "", "network id to monitor")
	targetCount := flag.Int("target-count", 12, "sensor count for auto-place")
	flag.Parse()

	if *networkID == "" {
		log.Fatal("-network is required")
	}

	client := newAPIClient(*addr)
	p := tea.NewProgram(initialModel(client, *networkID, *targetCount), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("leakmonitor exited with error: %v", err)
	}
}
