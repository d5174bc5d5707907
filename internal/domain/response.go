package domain

// Status is the top-level status of a ChatResponse.
type Status string

const (
	StatusPending       Status = "pending"
	StatusCompleted     Status = "completed"
	StatusError         Status = "error"
	StatusQuoteSelected Status = "quote_selected"
	StatusValidated     Status = "validated"
)

// IsSettled reports whether the status carries a usable answer. The three
// values are used interchangeably by different backend revisions.
func (s Status) IsSettled() bool {
	switch s {
	case StatusCompleted, StatusQuoteSelected, StatusValidated:
		return true
	default:
		return false
	}
}

// QuoteState states explicitly whether an attached quote is a candidate or
// the final pick.
type QuoteState string

const (
	QuoteStateProposed QuoteState = "proposed"
	QuoteStateFinal    QuoteState = "final"
)

// ChatResponse is returned by the send and status endpoints.
type ChatResponse struct {
	UserID           string          `json:"userId"`
	ThreadNum        string          `json:"threadNum"`
	Timestamp        string          `json:"timestamp"`
	Status           Status          `json:"status"`
	Content          string          `json:"content,omitempty"`
	Quote            *Quote          `json:"quote,omitempty"`
	QuoteSelection   *QuoteSelection `json:"quote_selection,omitempty"`
	QuoteState       QuoteState      `json:"quote_state,omitempty"`
	AnalysisComplete bool            `json:"analysis_complete,omitempty"`
	Advice           string          `json:"advice,omitempty"`
	Keywords         []string        `json:"keywords,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// ResponseKind is the client's reading of a ChatResponse.
type ResponseKind int

const (
	// KindPending means the answer is not ready; poll or stream for it.
	KindPending ResponseKind = iota
	// KindFailed means the backend reported an error.
	KindFailed
	// KindFinalQuote means the quote is confirmed and the session is done.
	KindFinalQuote
	// KindProposedQuote means a candidate awaits a yes/no from the user.
	KindProposedQuote
	// KindTurn is an ordinary conversational reply.
	KindTurn
)

func (k ResponseKind) String() string {
	switch k {
	case KindPending:
		return "pending"
	case KindFailed:
		return "failed"
	case KindFinalQuote:
		return "final_quote"
	case KindProposedQuote:
		return "proposed_quote"
	case KindTurn:
		return "turn"
	default:
		return "unknown"
	}
}

// SelectionActive reports whether the backend is presenting candidates.
func (r *ChatResponse) SelectionActive() bool {
	return r.QuoteSelection != nil && r.QuoteSelection.Active
}

// AnalysisStarted reports whether the backend has begun analysing the
// conversation.
func (r *ChatResponse) AnalysisStarted() bool {
	return r.AnalysisComplete || r.Advice != ""
}

// Classify maps the response onto a ResponseKind. An explicit QuoteState
// wins; otherwise final vs. proposed is inferred from quote_selection.active.
func (r *ChatResponse) Classify() ResponseKind {
	if r.Status == StatusError {
		return KindFailed
	}
	if !r.Status.IsSettled() {
		return KindPending
	}

	switch r.QuoteState {
	case QuoteStateFinal:
		if r.Quote != nil {
			return KindFinalQuote
		}
	case QuoteStateProposed:
		return KindProposedQuote
	}

	if r.Quote != nil && !r.SelectionActive() {
		return KindFinalQuote
	}
	if r.SelectionActive() {
		return KindProposedQuote
	}
	return KindTurn
}
