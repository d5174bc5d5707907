package chat

import (
	"github.com/ashureev/ttakmal/internal/domain"
)

// Phase is the single canonical state of a chat session. Every UI flag is
// derived from it.
type Phase int

const (
	// PhaseIdle waits for user text.
	PhaseIdle Phase = iota
	// PhaseAwaitingBackend has a turn in flight; no new input is accepted.
	PhaseAwaitingBackend
	// PhaseAnalyzing shows the overlay while the backend prepares quotes.
	PhaseAnalyzing
	// PhaseQuoteProposed waits for the user to confirm or reject a candidate.
	PhaseQuoteProposed
	// PhaseQuoteConfirmed is terminal: the overlay is shown until navigation.
	PhaseQuoteConfirmed
	// PhaseError follows a failed turn; it accepts input like PhaseIdle.
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingBackend:
		return "awaiting_backend"
	case PhaseAnalyzing:
		return "analyzing"
	case PhaseQuoteProposed:
		return "quote_proposed"
	case PhaseQuoteConfirmed:
		return "quote_confirmed"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// IsLoading reports whether a turn is in flight.
func (p Phase) IsLoading() bool { return p == PhaseAwaitingBackend }

// ShowInput reports whether the text input is visible.
func (p Phase) ShowInput() bool { return p == PhaseIdle || p == PhaseError }

// ShowConfirmButtons reports whether the yes/no buttons are visible.
func (p Phase) ShowConfirmButtons() bool { return p == PhaseQuoteProposed }

// ShowLoadingOverlay reports whether the full-screen overlay is visible.
func (p Phase) ShowLoadingOverlay() bool {
	return p == PhaseAnalyzing || p == PhaseQuoteConfirmed
}

// IsQuoteSelectionMode reports whether a candidate awaits a decision.
func (p Phase) IsQuoteSelectionMode() bool { return p == PhaseQuoteProposed }

// IsQuoteCompleted reports whether a final quote has been chosen.
func (p Phase) IsQuoteCompleted() bool { return p == PhaseQuoteConfirmed }

// State is a read-only snapshot of a session.
type State struct {
	Version         uint64
	Messages        []domain.ChatMessage
	Phase           Phase
	SelectedQuote   *domain.Quote
	UserTurns       int
	AnalysisStarted bool
	// ResultURL is set once navigation to the result page has fired.
	ResultURL string
}

func (s State) IsLoading() bool            { return s.Phase.IsLoading() }
func (s State) ShowInput() bool            { return s.Phase.ShowInput() }
func (s State) ShowConfirmButtons() bool   { return s.Phase.ShowConfirmButtons() }
func (s State) ShowLoadingOverlay() bool   { return s.Phase.ShowLoadingOverlay() }
func (s State) IsQuoteSelectionMode() bool { return s.Phase.IsQuoteSelectionMode() }
func (s State) IsQuoteCompleted() bool     { return s.Phase.IsQuoteCompleted() }

// LastMessage returns the newest message, or the zero value for an empty log.
func (s State) LastMessage() domain.ChatMessage {
	if len(s.Messages) == 0 {
		return domain.ChatMessage{}
	}
	return s.Messages[len(s.Messages)-1]
}
