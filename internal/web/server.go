// Package web implements the HTTP server of a bmc node: the JSON API, a
// datastar-driven ledger dashboard, live ledger updates over SSE and
// websockets, and the rendered AsciiDoc documentation.
package web

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"coffee.mini/bmc/internal/api"
	"coffee.mini/bmc/internal/docs"
	"coffee.mini/bmc/internal/logger"
	"coffee.mini/bmc/internal/store"
	"coffee.mini/bmc/internal/types"
)

// TemplateData holds the data to be passed to the HTML templates.
type TemplateData struct {
	CurrentVersion string
	BuildTime      string
	Ledger         api.LedgerView
	Activity       []logger.Message
	DocList        []string
	DocContent     template.HTML
	CurrentDoc     string
}

// sseBroker manages SSE connections for broadcasting ledger updates
type sseBroker struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func newSSEBroker() *sseBroker {
	return &sseBroker{
		clients: make(map[chan []byte]struct{}),
	}
}

func (b *sseBroker) register(client chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = struct{}{}
}

func (b *sseBroker) unregister(client chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, client)
	close(client)
}

func (b *sseBroker) broadcast(data []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		select {
		case client <- data:
		default:
			// Client is slow/blocked, skip
		}
	}
}

// Options configures a Server.
type Options struct {
	Ledger     api.LedgerReader
	Store      *store.Store
	Chain      api.Broadcaster // nil disables POST /api/tx
	Feed       *logger.Feed
	Logger     *zap.Logger
	DocsDir    string
	Port       int
	MaxBackups int
}

// Server is the web server for the dashboard and API.
type Server struct {
	ledger     api.LedgerReader
	store      *store.Store
	port       int
	templates  *template.Template
	feed       *logger.Feed
	log        *zap.Logger
	sseBroker  *sseBroker
	apiService *api.Service
	docService *docs.Service
	httpServer *http.Server
	done       chan struct{}
	closeOnce  sync.Once
}

// NewServer creates a new web server.
func NewServer(opts Options) (*Server, error) {
	templates, err := parseTemplates()
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse templates")
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	feed := opts.Feed
	if feed == nil {
		feed = logger.NewFeed(200)
	}

	s := &Server{
		ledger:     opts.Ledger,
		store:      opts.Store,
		port:       opts.Port,
		templates:  templates,
		feed:       feed,
		log:        log.Named("web"),
		sseBroker:  newSSEBroker(),
		apiService: api.NewService(opts.Ledger, opts.Chain, opts.Store, feed, log, opts.MaxBackups),
		docService: docs.NewService(opts.DocsDir),
		done:       make(chan struct{}),
	}

	s.feed.Info("bmc web server initialized")

	// Start listening for committed state and broadcast it via SSE
	go s.watchLedgerUpdates()

	return s, nil
}

// Handler returns the routing table of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Page routes
	mux.HandleFunc("/{$}", s.handlePageLoad)
	mux.HandleFunc("/views/ledger", s.handleLedgerView)
	mux.HandleFunc("/views/docs", s.handleDocsView)

	// API routes (delegated to apiService)
	mux.HandleFunc("/api/health", s.apiService.HandleHealth)
	mux.HandleFunc("/api/version", s.apiService.HandleVersion)
	mux.HandleFunc("GET /api/ledger", s.apiService.HandleLedger)
	mux.HandleFunc("GET /api/ledger/owner", s.apiService.HandleOwner)
	mux.HandleFunc("GET /api/ledger/total_payment_count", s.apiService.HandleTotalPaymentCount)
	mux.HandleFunc("GET /api/ledger/total_value_received", s.apiService.HandleTotalValueReceived)
	mux.HandleFunc("GET /api/ledger/balance", s.apiService.HandleBalance)
	mux.HandleFunc("GET /api/ledger/stream", s.handleLedgerStream)
	mux.HandleFunc("GET /api/accounts/{address}", s.apiService.HandleAccount)
	mux.HandleFunc("/api/tx", s.apiService.HandleSubmitTx)
	mux.HandleFunc("/api/backups/list", s.apiService.HandleBackupsList)
	mux.HandleFunc("/api/backups/create", s.apiService.HandleCreateBackup)
	mux.HandleFunc("/api/backups/download", s.apiService.HandleDownloadBackup)

	// Contract-style accessor names
	mux.HandleFunc("GET /api/owner", s.apiService.HandleOwner)
	mux.HandleFunc("GET /api/totalCoffees", s.apiService.HandleTotalPaymentCount)
	mux.HandleFunc("GET /api/totalDonations", s.apiService.HandleTotalValueReceived)
	mux.HandleFunc("GET /api/getBalance", s.apiService.HandleBalance)

	// WebSocket routes
	mux.HandleFunc("/ws/ledger", s.handleLedgerWS)
	mux.HandleFunc("/ws/status", s.handleStatusWS)

	return mux
}

// Start initializes and runs the web server.
func (s *Server) Start() <-chan error {
	s.log.Info("starting dashboard and API server", zap.String("url", fmt.Sprintf("http://localhost:%d", s.port)))

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)

	go func() {
		err := s.httpServer.ListenAndServe()
		errCh <- err
		close(errCh)
	}()

	return errCh
}

// Shutdown stops the HTTP server and the update watcher.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handlePageLoad(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	s.setCacheHeaders(w)
	err := s.templates.ExecuteTemplate(w, "layout.html", TemplateData{
		CurrentVersion: types.Version,
		BuildTime:      types.BuildTime,
	})
	if err != nil {
		s.log.Error("execute layout template", zap.Error(err))
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}

func (s *Server) handleLedgerView(w http.ResponseWriter, r *http.Request) {
	s.renderView(w, "ledger-view", TemplateData{
		CurrentVersion: types.Version,
		BuildTime:      types.BuildTime,
		Ledger:         api.NewLedgerView(s.ledger),
		Activity:       s.feed.GetRecent(20),
	})
}

func (s *Server) handleDocsView(w http.ResponseWriter, r *http.Request) {
	docName := r.URL.Query().Get("doc")
	docList, err := s.docService.ListDocs()
	if err != nil {
		s.log.Warn("list docs", zap.Error(err))
	}
	if docName == "" && len(docList) > 0 {
		docName = docList[0]
	}

	var docContent string
	if docName != "" {
		content, err := s.docService.GetDoc(r.Context(), docName)
		if err == nil {
			docContent = content
		} else {
			s.feed.Error(fmt.Sprintf("Failed to load doc %s: %v", docName, err))
		}
	}

	s.renderView(w, "docs-view", TemplateData{
		CurrentVersion: types.Version,
		BuildTime:      types.BuildTime,
		DocList:        docList,
		DocContent:     template.HTML(docContent),
		CurrentDoc:     docName,
	})
}

// renderView executes a view template and sends it as a datastar fragment
// replacing #content-area.
func (s *Server) renderView(w http.ResponseWriter, name string, data TemplateData) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.log.Error("execute view template", zap.String("template", name), zap.Error(err))
		http.Error(w, "Failed to render view", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	s.setCacheHeaders(w)

	w.Write(formatSSEEvent(`<main id="content-area">` + buf.String() + `</main>`))
}

func (s *Server) watchLedgerUpdates() {
	if s.store == nil {
		return
	}
	updates := s.store.Updates()
	for {
		select {
		case <-s.done:
			return
		case <-updates:
			if data := s.renderLedgerFragment(); data != nil {
				s.sseBroker.broadcast(data)
			}
		}
	}
}

// formatSSEEvent formats an HTML element as a datastar-merge-fragments event.
func formatSSEEvent(htmlContent string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "event: datastar-merge-fragments\n")
	for _, line := range strings.Split(htmlContent, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fmt.Fprintf(&buf, "data: fragments %s\n", line)
	}
	fmt.Fprintf(&buf, "\n")
	return buf.Bytes()
}

// renderLedgerFragment renders the ledger summary as an SSE event.
func (s *Server) renderLedgerFragment() []byte {
	var buf bytes.Buffer
	data := TemplateData{Ledger: api.NewLedgerView(s.ledger)}
	if err := s.templates.ExecuteTemplate(&buf, "ledger-content", data); err != nil {
		s.log.Error("render ledger-content", zap.Error(err))
		return nil
	}
	return formatSSEEvent(buf.String())
}

// handleLedgerStream establishes an SSE connection and streams the ledger
// summary after every committed block.
func (s *Server) handleLedgerStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable proxy buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	clientChan := make(chan []byte, 10)
	s.sseBroker.register(clientChan)
	defer s.sseBroker.unregister(clientChan)

	s.log.Debug("SSE client connected for ledger updates")
	defer s.log.Debug("SSE client disconnected")

	// Send initial state immediately
	if initial := s.renderLedgerFragment(); initial != nil {
		w.Write(initial)
		flusher.Flush()
	}

	keepAlive := time.NewTicker(30 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case data := <-clientChan:
			w.Write(data)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprintf(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

// ledgerStatus is the message pushed over /ws/ledger.
type ledgerStatus struct {
	Time       string         `json:"time"`
	Ledger     api.LedgerView `json:"ledger"`
	LastBackup string         `json:"last_backup"`
}

func (s *Server) currentStatus() ledgerStatus {
	lastBackup := "none"
	if s.store != nil {
		if backups, err := s.store.ListBackups(); err == nil && len(backups) > 0 {
			lastBackup = backups[0].CreatedAt.Format("2006-01-02 15:04:05")
		}
	}
	return ledgerStatus{
		Time:       time.Now().Format("2006-01-02 15:04:05"),
		Ledger:     api.NewLedgerView(s.ledger),
		LastBackup: lastBackup,
	}
}

// handleLedgerWS pushes the ledger view every two seconds.
func (s *Server) handleLedgerWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(s.currentStatus()); err != nil {
		return
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := conn.WriteJSON(s.currentStatus()); err != nil {
				return
			}
		}
	}
}

// handleStatusWS streams the activity feed: the last 50 entries, then
// every new one.
func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// GetRecent returns newest first.
	initial := s.feed.GetRecent(50)
	for i := len(initial) - 1; i >= 0; i-- {
		if err := conn.WriteJSON(initial[i]); err != nil {
			return
		}
	}

	var last time.Time
	if len(initial) > 0 {
		last = initial[0].Timestamp
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			for _, msg := range s.feed.Since(last) {
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
				last = msg.Timestamp
			}
		}
	}
}

func (s *Server) setCacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}
