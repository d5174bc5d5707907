// Package quotebot is the scripted conversation behind the development
// backend and the offline simulator: a few canned listening turns, a staged
// analysis, then a yes/no walk through quote candidates.
package quotebot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/containerd/errdefs"

	"github.com/ashureev/ttakmal/internal/domain"
	"github.com/ashureev/ttakmal/internal/identity"
	"github.com/ashureev/ttakmal/internal/store"
)

const (
	// DefaultTurnThreshold is the user turn that triggers analysis.
	DefaultTurnThreshold = 4
	// MaxContentLength bounds a user message in characters.
	MaxContentLength = 150
	// CandidateCount is how many quotes are offered.
	CandidateCount = 3

	selectionMethod = "scripted_selection"
)

// Canned selection replies.
const (
	MsgConfirmed   = "좋은 선택이에요! 명언이 확정되었습니다."
	MsgNextQuote   = "다음 명언을 보여드릴게요!"
	MsgAnswerYesNo = "'예' 또는 '아니오'로 답해주세요."
)

var (
	yesAnswers   = []string{"예", "yes", "y", "네", "선택"}
	noAnswers    = []string{"아니오", "no", "n", "아니", "다음"}
	quitCommands = []string{"quit", "exit", "종료"}
)

// Engine plays the script against conversations held in a ConversationStore.
type Engine struct {
	store     store.ConversationStore
	fx        *Fixtures
	threshold int
	now       func() time.Time
	logger    *slog.Logger

	mu sync.Mutex // serializes read-modify-write of conversations
}

// Option configures an Engine.
type Option func(*Engine)

// WithTurnThreshold overrides DefaultTurnThreshold.
func WithTurnThreshold(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.threshold = n
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Engine.
func New(s store.ConversationStore, fx *Fixtures, opts ...Option) *Engine {
	e := &Engine{
		store:     s,
		fx:        fx,
		threshold: DefaultTurnThreshold,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetFixtures swaps the script. Conversations already in progress continue
// with the new one.
func (e *Engine) SetFixtures(fx *Fixtures) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fx = fx
}

// Send records one user turn and answers it.
func (e *Engine) Send(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	content, err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	conv, err := e.store.Get(ctx, req.UserID, req.ThreadNum)
	switch {
	case errdefs.IsNotFound(err):
		conv = &domain.Conversation{
			UserID:    req.UserID,
			ThreadNum: req.ThreadNum,
			Status:    domain.ConversationActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
	case err != nil:
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	var resp *domain.ChatResponse
	switch conv.Status {
	case domain.ConversationSelecting:
		conv.RecordMessage(content, true, now)
		resp = e.answerSelection(conv, content, now)
	case domain.ConversationAnalyzing:
		return nil, conflict("대화를 분석하고 있습니다. 잠시만 기다려주세요.")
	case domain.ConversationCompleted:
		return nil, conflict("이미 명언이 확정된 대화입니다.")
	default:
		conv.RecordMessage(content, true, now)
		conv.Step++
		if conv.Step >= e.threshold || isQuitCommand(content) {
			resp = e.beginAnalysis(conv, now)
		} else {
			conv.Status = domain.ConversationPending
			resp = e.response(conv, domain.StatusPending, now)
		}
	}

	if err := e.store.Save(ctx, conv); err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}
	e.logger.Debug("quotebot turn",
		"user_id", conv.UserID, "thread_num", conv.ThreadNum,
		"step", conv.Step, "conversation_status", conv.Status, "status", resp.Status)
	return resp, nil
}

// Status returns what the backend has ready for a conversation. Pending
// turns are answered, analysis advances one stage per call.
func (e *Engine) Status(ctx context.Context, userID, threadNum string) (*domain.ChatResponse, error) {
	if userID == "" || threadNum == "" {
		return nil, invalid("필수 파라미터가 누락되었습니다.")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	conv, err := e.store.Get(ctx, userID, threadNum)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var resp *domain.ChatResponse
	switch conv.Status {
	case domain.ConversationPending:
		reply := e.fx.reply(conv.Step, conv.LastUserMessage())
		conv.RecordMessage(reply, false, now)
		conv.Status = domain.ConversationActive
		resp = e.response(conv, domain.StatusCompleted, now)
		resp.Content = reply

	case domain.ConversationAnalyzing:
		if conv.AnalysisStage < len(e.fx.Stages) {
			stage := e.fx.Stages[conv.AnalysisStage]
			conv.AnalysisStage++
			conv.RecordMessage(stage, false, now)
			resp = e.response(conv, domain.StatusPending, now)
			resp.Content = stage
			break
		}
		conv.Status = domain.ConversationSelecting
		resp = e.proposal(conv, "", false, now)
		conv.RecordMessage(resp.Content, false, now)

	case domain.ConversationSelecting:
		resp = e.proposal(conv, "", false, now)

	case domain.ConversationCompleted:
		resp = e.final(conv, now)

	default:
		resp = e.response(conv, domain.StatusCompleted, now)
	}

	// a client polling a proposal is still active
	conv.UpdatedAt = now
	if err := e.store.Save(ctx, conv); err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}
	return resp, nil
}

// Stream renders what Status would deliver as a chunk sequence ending in a
// complete chunk. A whole analysis is streamed at once.
func (e *Engine) Stream(ctx context.Context, userID, threadNum string) ([]domain.StreamChunk, error) {
	if userID == "" || threadNum == "" {
		return nil, invalid("필수 파라미터가 누락되었습니다.")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	conv, err := e.store.Get(ctx, userID, threadNum)
	if err != nil {
		return nil, err
	}

	now := e.now()
	ts := domain.Timestamp(now)
	var chunks []domain.StreamChunk

	switch conv.Status {
	case domain.ConversationPending:
		reply := e.fx.reply(conv.Step, conv.LastUserMessage())
		conv.RecordMessage(reply, false, now)
		conv.Status = domain.ConversationActive
		chunks = wordChunks(reply, ts)

	case domain.ConversationAnalyzing, domain.ConversationSelecting:
		var text strings.Builder
		if conv.Status == domain.ConversationAnalyzing {
			for _, stage := range e.fx.Stages[min(conv.AnalysisStage, len(e.fx.Stages)):] {
				text.WriteString(stage)
				text.WriteString("\n")
			}
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			conv.AnalysisStage = len(e.fx.Stages)
			conv.Status = domain.ConversationSelecting
		}
		q := conv.CurrentCandidate()
		if q == nil {
			return nil, conflict("추천할 명언을 찾을 수 없습니다.")
		}
		text.WriteString(FormatQuote(*q))
		conv.RecordMessage(text.String(), false, now)

		data, err := json.Marshal(q)
		if err != nil {
			return nil, fmt.Errorf("encode quote chunk: %w", err)
		}
		chunks = append(wordChunks(text.String(), ts), domain.StreamChunk{
			Type: domain.ChunkQuote, Data: string(data), Timestamp: ts,
		})

	case domain.ConversationCompleted:
		chunks = wordChunks(MsgConfirmed, ts)
	}

	chunks = append(chunks, domain.StreamChunk{Type: domain.ChunkComplete, Timestamp: ts})

	conv.UpdatedAt = now
	if err := e.store.Save(ctx, conv); err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}
	return chunks, nil
}

// Reset forgets a conversation.
func (e *Engine) Reset(ctx context.Context, userID, threadNum string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Delete(ctx, userID, threadNum)
}

// DeleteExpired evicts conversations idle since before cutoff. It holds the
// engine lock so an eviction cannot land between a turn's load and save.
func (e *Engine) DeleteExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.DeleteExpired(ctx, cutoff)
}

// ActiveConversations counts stored conversations.
func (e *Engine) ActiveConversations(ctx context.Context) (int, error) {
	return e.store.Count(ctx)
}

// FormatQuote renders a candidate the way the selection prompt shows it.
func FormatQuote(q domain.Quote) string {
	return fmt.Sprintf("다음 명언은 어떠신가요?\n\n💬 \"%s\"\n✍️ 저자: %s\n📊 유사도: %.3f\n\n이 명언을 선택하시겠습니까? (예/아니오)",
		q.Text, q.Author, q.Similarity)
}

func (e *Engine) beginAnalysis(conv *domain.Conversation, now time.Time) *domain.ChatResponse {
	var userMessages []string
	for _, m := range conv.Messages {
		if m.IsUser {
			userMessages = append(userMessages, m.Content)
		}
	}

	advice, keywords := e.fx.DefaultAdvice, e.fx.DefaultKeywords
	topic := e.fx.topicFor(userMessages)
	if topic != nil {
		advice, keywords = topic.Advice, topic.Keywords
	}

	conv.Status = domain.ConversationAnalyzing
	conv.AnalysisStage = 0
	conv.Advice = advice
	conv.Keywords = append([]string(nil), keywords...)
	conv.Candidates = e.fx.candidates(topic, CandidateCount, advice, keywords)
	conv.CandidateIndex = 0
	conv.RecordMessage(e.fx.Closing, false, now)

	resp := e.response(conv, domain.StatusCompleted, now)
	resp.Content = e.fx.Closing
	resp.AnalysisComplete = true
	resp.Advice = conv.Advice
	resp.Keywords = conv.Keywords
	return resp
}

func (e *Engine) answerSelection(conv *domain.Conversation, content string, now time.Time) *domain.ChatResponse {
	answer := strings.ToLower(strings.TrimSpace(content))
	var resp *domain.ChatResponse

	switch {
	case contains(yesAnswers, answer):
		q := conv.CurrentCandidate()
		q.Method = selectionMethod
		conv.Selected = q
		conv.Status = domain.ConversationCompleted
		resp = e.final(conv, now)
	case contains(noAnswers, answer):
		conv.CandidateIndex = (conv.CandidateIndex + 1) % len(conv.Candidates)
		resp = e.proposal(conv, MsgNextQuote+"\n\n", true, now)
	default:
		resp = e.proposal(conv, "", false, now)
		resp.Content = MsgAnswerYesNo
	}

	conv.RecordMessage(resp.Content, false, now)
	return resp
}

func (e *Engine) proposal(conv *domain.Conversation, prefix string, changed bool, now time.Time) *domain.ChatResponse {
	resp := e.response(conv, domain.StatusCompleted, now)
	resp.QuoteSelection = conv.Selection(changed)
	resp.QuoteState = domain.QuoteStateProposed
	if q := conv.CurrentCandidate(); q != nil {
		resp.Quote = q
		resp.Content = prefix + FormatQuote(*q)
	}
	return resp
}

func (e *Engine) final(conv *domain.Conversation, now time.Time) *domain.ChatResponse {
	resp := e.response(conv, domain.StatusCompleted, now)
	resp.Content = MsgConfirmed
	resp.Quote = conv.Selected
	resp.QuoteSelection = conv.Selection(false)
	resp.QuoteState = domain.QuoteStateFinal
	resp.Advice = conv.Advice
	resp.Keywords = conv.Keywords
	return resp
}

func (e *Engine) response(conv *domain.Conversation, status domain.Status, now time.Time) *domain.ChatResponse {
	return &domain.ChatResponse{
		UserID:    conv.UserID,
		ThreadNum: conv.ThreadNum,
		Timestamp: domain.Timestamp(now),
		Status:    status,
	}
}

func validateRequest(req domain.ChatRequest) (string, error) {
	if req.UserID == "" || req.ThreadNum == "" || req.Content == "" {
		return "", invalid("필수 필드가 누락되었습니다.")
	}
	if !identity.ValidKey(req.UserID) || !identity.ValidKey(req.ThreadNum) {
		return "", invalid("잘못된 대화 식별자입니다.")
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return "", invalid("메시지를 입력해주세요.")
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", invalid(fmt.Sprintf("메시지는 %d자를 넘을 수 없습니다.", MaxContentLength))
	}
	return content, nil
}

func isQuitCommand(content string) bool {
	lower := strings.ToLower(content)
	for _, cmd := range quitCommands {
		if strings.Contains(lower, cmd) {
			return true
		}
	}
	return false
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// wordChunks splits text on spaces: the first word bare, later words with
// their leading space, so the chunks concatenate back to text.
func wordChunks(text, ts string) []domain.StreamChunk {
	words := strings.Split(text, " ")
	chunks := make([]domain.StreamChunk, 0, len(words)+2)
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		chunks = append(chunks, domain.StreamChunk{Type: domain.ChunkContent, Data: w, Timestamp: ts})
	}
	return chunks
}
