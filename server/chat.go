package server

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mimirhq/mimir/store"
)

// MessageGroup is one row of the transcript: either a single system or user
// message, or the side-by-side assistant replies to one turn.
type MessageGroup struct {
	Single  *MessageViewModel
	Columns []MessageViewModel
}

// groupMessages folds a linear transcript into rows, collecting each
// consecutive run of assistant messages into columns ordered by their
// column position.
func groupMessages(messages []MessageViewModel) []MessageGroup {
	var groups []MessageGroup
	for i := 0; i < len(messages); {
		if messages[i].Role != store.RoleAssistant {
			single := messages[i]
			groups = append(groups, MessageGroup{Single: &single})
			i++
			continue
		}
		j := i + 1
		for j < len(messages) && messages[j].Role == store.RoleAssistant {
			j++
		}
		columns := make([]MessageViewModel, j-i)
		copy(columns, messages[i:j])
		sort.SliceStable(columns, func(a, b int) bool {
			return columns[a].ColumnPosition < columns[b].ColumnPosition
		})
		groups = append(groups, MessageGroup{Columns: columns})
		i = j
	}
	return groups
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, conversationID string) {
	conversation, err := s.state.RefreshConversations(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var view *ConversationViewModel
	for _, candidate := range conversation {
		if candidate.ID == conversationID {
			model := newConversationViewModel(candidate)
			view = &model
			break
		}
	}
	if view == nil {
		http.NotFound(w, r)
		return
	}

	messages, err := s.state.RefreshMessages(r.Context(), conversationID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	errorEntries, err := s.state.Errors(r.Context(), conversationID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	messageViews := make([]MessageViewModel, 0, len(messages))
	for _, message := range messages {
		messageViews = append(messageViews, MessageViewModel{
			Message:       message,
			FormattedTime: time.UnixMicro(message.CreationTimestamp).Format("Jan 2, 2006 3:04 PM"),
			FormattedCost: "$" + message.Cost().StringFixed(4),
		})
	}

	s.render(w, &PageData{
		Title:        view.DisplayedTitle,
		Page:         "chat",
		Conversation: view,
		Groups:       groupMessages(messageViews),
		Errors:       errorEntries,
		Selected:     s.state.SelectedModels(),
	})
}

// handleSend starts a new conversation from the new-chat view.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	s.handleChatSend(w, r, "")
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request, conversationID string) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	content := r.FormValue("content")
	if content == "" {
		http.Error(w, "Message cannot be empty", http.StatusBadRequest)
		return
	}
	for _, value := range r.Form["model"] {
		for _, model := range strings.Split(value, ",") {
			if model = strings.TrimSpace(model); model != "" {
				s.state.SelectModel(model)
			}
		}
	}

	conversationID, err := s.state.SendMessage(r.Context(), conversationID, content, nil)
	if err != nil {
		// Configuration problems come back before any model ran; show
		// them on the new-chat view rather than a bare error page.
		if conversationID == "" {
			http.Redirect(w, r, "/new?notice="+url.QueryEscape(err.Error()), http.StatusSeeOther)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/chat/"+conversationID, http.StatusSeeOther)
}

func (s *Server) handleBookmark(w http.ResponseWriter, r *http.Request, conversationID string) {
	bookmarked := r.FormValue("bookmarked") == "true"
	if err := s.state.SetBookmarked(r.Context(), conversationID, bookmarked); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/chat/"+conversationID, http.StatusSeeOther)
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request, conversationID string) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	title := r.FormValue("title")
	if title == "" {
		http.Error(w, "Title cannot be empty", http.StatusBadRequest)
		return
	}
	if err := s.state.RenameConversation(r.Context(), conversationID, title); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/chat/"+conversationID, http.StatusSeeOther)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request, conversationID string) {
	if err := s.state.DeleteConversation(r.Context(), conversationID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
