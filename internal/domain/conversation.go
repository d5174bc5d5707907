package domain

import (
	"time"
)

// ConversationStatus tracks where the scripted backend is in a conversation.
type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationPending   ConversationStatus = "pending"
	ConversationAnalyzing ConversationStatus = "analyzing"
	ConversationSelecting ConversationStatus = "selecting"
	ConversationCompleted ConversationStatus = "completed"
)

// StoredMessage is a serialized conversation turn kept by the backend.
type StoredMessage struct {
	Content   string    `json:"content"`
	IsUser    bool      `json:"isUser"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the backend's record of one userId/threadNum pair.
type Conversation struct {
	UserID         string             `json:"userId"`
	ThreadNum      string             `json:"threadNum"`
	Messages       []StoredMessage    `json:"messages"`
	Step           int                `json:"step"`
	Status         ConversationStatus `json:"status"`
	AnalysisStage  int                `json:"analysisStage"`
	Candidates     []Quote            `json:"candidates,omitempty"`
	CandidateIndex int                `json:"candidateIndex"`
	Selected       *Quote             `json:"selected,omitempty"`
	Advice         string             `json:"advice,omitempty"`
	Keywords       []string           `json:"keywords,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// RecordMessage appends a turn and bumps UpdatedAt.
func (c *Conversation) RecordMessage(content string, isUser bool, at time.Time) {
	c.Messages = append(c.Messages, StoredMessage{
		Content:   content,
		IsUser:    isUser,
		Timestamp: at,
	})
	c.UpdatedAt = at
}

// LastUserMessage returns the most recent user turn, or "".
func (c *Conversation) LastUserMessage() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].IsUser {
			return c.Messages[i].Content
		}
	}
	return ""
}

// UserTurns counts the user messages recorded so far.
func (c *Conversation) UserTurns() int {
	n := 0
	for _, m := range c.Messages {
		if m.IsUser {
			n++
		}
	}
	return n
}

// CurrentCandidate returns the candidate being presented, or nil.
func (c *Conversation) CurrentCandidate() *Quote {
	if c.CandidateIndex < 0 || c.CandidateIndex >= len(c.Candidates) {
		return nil
	}
	q := c.Candidates[c.CandidateIndex]
	return &q
}

// Selection builds the quote_selection object for the current state.
func (c *Conversation) Selection(changed bool) *QuoteSelection {
	sel := &QuoteSelection{
		Active:       c.Status == ConversationSelecting,
		CurrentIndex: c.CandidateIndex,
		TotalCount:   len(c.Candidates),
		Changed:      changed,
	}
	if q := c.CurrentCandidate(); q != nil {
		id := q.ID
		sel.QuoteID = &id
	}
	return sel
}

// Clone returns a deep copy so stores never share slices with callers.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = append([]StoredMessage(nil), c.Messages...)
	out.Keywords = append([]string(nil), c.Keywords...)
	if c.Candidates != nil {
		out.Candidates = make([]Quote, len(c.Candidates))
		for i, q := range c.Candidates {
			out.Candidates[i] = q.clone()
		}
	}
	if c.Selected != nil {
		q := c.Selected.clone()
		out.Selected = &q
	}
	return &out
}

func (q Quote) clone() Quote {
	q.Keywords = append([]string(nil), q.Keywords...)
	return q
}
