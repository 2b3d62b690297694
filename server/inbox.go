package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mimirhq/mimir/store"
)

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	query := r.URL.Query().Get("q")

	var conversations []*store.Conversation
	var err error
	if query != "" {
		conversations, err = s.state.SearchConversations(r.Context(), query)
	} else {
		conversations, err = s.state.RefreshConversations(r.Context())
	}
	if err != nil {
		http.Error(w, "Failed to list conversations", http.StatusInternalServerError)
		return
	}

	views := make([]ConversationViewModel, 0, len(conversations))
	for _, conversation := range conversations {
		views = append(views, newConversationViewModel(conversation))
	}

	s.render(w, &PageData{
		Title:  "Inbox",
		Page:   "inbox",
		Query:  query,
		Convos: views,
		Budget: s.budgetLine(r),
	})
}

// budgetLine formats month-to-date spend against the monthly budget, or
// returns empty when no budget is configured.
func (s *Server) budgetLine(r *http.Request) string {
	settings, err := s.state.Settings(r.Context())
	if err != nil || settings.MonthlyBudget <= 0 {
		return ""
	}
	spend, err := s.state.MonthToDateCost(r.Context())
	if err != nil {
		return ""
	}
	return fmt.Sprintf("Spend this month: $%s of $%.2f", spend.StringFixed(2), settings.MonthlyBudget)
}

func (s *Server) handleNewChat(w http.ResponseWriter, r *http.Request) {
	s.render(w, &PageData{
		Title:    "New Chat",
		Page:     "new",
		Greeting: s.state.Greeting(r.Context()),
		Models:   s.modelViews(r),
		Selected: s.state.SelectedModels(),
		Notice:   r.URL.Query().Get("notice"),
	})
}

// modelViews decorates the cached model catalog with the expensive flag.
func (s *Server) modelViews(r *http.Request) []ModelViewModel {
	threshold := 0.01
	if settings, err := s.state.Settings(r.Context()); err == nil && settings.ExpensiveThreshold > 0 {
		threshold = settings.ExpensiveThreshold
	}
	models := s.state.Models()
	views := make([]ModelViewModel, 0, len(models))
	for _, model := range models {
		views = append(views, ModelViewModel{
			Model:     model,
			Expensive: model.Expensive(threshold),
		})
	}
	return views
}

func newConversationViewModel(conversation *store.Conversation) ConversationViewModel {
	return ConversationViewModel{
		Conversation:   conversation,
		DisplayedTitle: conversation.DisplayTitle(),
		FormattedTime:  time.UnixMicro(conversation.UpdateTimestamp).Format("Jan 2, 2006 3:04 PM"),
		FormattedCost:  "$" + conversation.TotalCost.StringFixed(4),
	}
}
