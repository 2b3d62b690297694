// Package server exposes the conversation inbox, the chat view and the
// settings page over plain HTTP.
package server

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/Masterminds/sprig/v3"
	"github.com/spf13/cobra"

	"github.com/mimirhq/mimir/app"
	"github.com/mimirhq/mimir/microtask"
	"github.com/mimirhq/mimir/openrouter"
	"github.com/mimirhq/mimir/store"
)

//go:embed templates
var templatesFS embed.FS

// PageData is the root object handed to every template render.
type PageData struct {
	Title        string
	Page         string
	Query        string
	Conversation *ConversationViewModel
	Convos       []ConversationViewModel
	Groups       []MessageGroup
	Errors       []*store.ErrorEntry
	Greeting     *microtask.Greeting
	Settings     *store.Settings
	Models       []ModelViewModel
	Selected     []string
	Budget       string
	Notice       string
}

// ConversationViewModel decorates a conversation with display fields.
type ConversationViewModel struct {
	*store.Conversation
	DisplayedTitle string
	FormattedTime  string
	FormattedCost  string
}

// MessageViewModel decorates a message with display fields.
type MessageViewModel struct {
	*store.Message
	FormattedTime string
	FormattedCost string
}

// ModelViewModel decorates a catalog model with the expensive flag derived
// from the configured price threshold.
type ModelViewModel struct {
	openrouter.Model
	Expensive bool
}

// NewServeCmd returns the cobra command hosting the web interface.
func NewServeCmd(state *app.State) *cobra.Command {
	var opts struct {
		Port     int
		PageSize int
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := state.Load(cmd.Context()); err != nil {
				return err
			}
			server := &Server{
				state:    state,
				pageSize: opts.PageSize,
			}
			return server.Start(opts.Port)
		},
	}

	cmd.Flags().IntVarP(&opts.Port, "port", "p", 3030, "Port to serve on")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 50, "Number of conversations to display")
	return cmd
}

// Server renders the web interface off the application state.
type Server struct {
	state    *app.State
	pageSize int
	tmpl     *template.Template
}

// Start parses the templates, registers the routes and serves forever.
func (s *Server) Start(port int) error {
	funcMap := sprig.HtmlFuncMap()
	funcMap["formatMessage"] = formatMessage
	funcMap["roleLabel"] = roleLabel

	tmpl, err := template.New("").Funcs(funcMap).ParseFS(templatesFS,
		"templates/*.tmpl",
		"templates/includes/*.tmpl",
		"templates/pages/*.tmpl",
	)
	if err != nil {
		return fmt.Errorf("parsing template: %w", err)
	}
	s.tmpl = tmpl

	http.HandleFunc("/", s.handleInbox)
	http.HandleFunc("/new", s.handleNewChat)
	http.HandleFunc("/send", s.handleSend)
	http.HandleFunc("/settings", s.handleSettings)
	http.HandleFunc("/transcribe", s.handleTranscribe)
	http.HandleFunc("/chat/", s.handleChatRoutes)

	addr := fmt.Sprintf(":%d", port)
	fmt.Printf("Server starting on http://localhost%s\n", addr)
	return http.ListenAndServe(addr, nil)
}

func (s *Server) handleChatRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 3 || parts[2] == "" {
		http.NotFound(w, r)
		return
	}

	conversationID := parts[2]

	switch {
	case r.Method == http.MethodGet && len(parts) == 3:
		s.handleChat(w, r, conversationID)
	case r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "send":
		s.handleChatSend(w, r, conversationID)
	case r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "bookmark":
		s.handleBookmark(w, r, conversationID)
	case r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "rename":
		s.handleRename(w, r, conversationID)
	case r.Method == http.MethodDelete && len(parts) == 3:
		s.handleDeleteChat(w, r, conversationID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) render(w http.ResponseWriter, data *PageData) {
	if err := s.tmpl.ExecuteTemplate(w, "base", data); err != nil {
		http.Error(w, "Failed to render template", http.StatusInternalServerError)
	}
}
