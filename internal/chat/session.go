// Package chat drives one quote conversation: it turns user input and
// backend responses into an append-only message log and a single Phase.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/ttakmal/internal/domain"
	"github.com/ashureev/ttakmal/internal/identity"
	"github.com/ashureev/ttakmal/internal/result"
)

const (
	// DefaultMaxUserTurns is the turn ceiling after which analysis is assumed.
	DefaultMaxUserTurns = 20
	// DefaultNavigateDelay is the pause between confirmation and navigation.
	DefaultNavigateDelay = 2 * time.Second

	welcomeID = "welcome"

	// maxAnalysisRearms bounds how often a transport that settled without a
	// proposal is reopened during analysis.
	maxAnalysisRearms = 3
)

// Bot messages appended on failures.
const (
	ApologySend      = "죄송합니다. 서버에 일시적인 문제가 있습니다. 잠시 후 다시 시도해주세요."
	ApologyTransport = "죄송합니다. 응답을 받아오는 중 문제가 발생했습니다."
)

// Answers sent on behalf of the confirm and reject buttons.
const (
	AnswerYes = "예"
	AnswerNo  = "아니오"
	// QuitCommand is sent when the turn ceiling ends the conversation before
	// the backend has started its analysis.
	QuitCommand = "종료"
)

var (
	// ErrBusy is returned when a turn is already in flight.
	ErrBusy = errors.New("a message is already being processed")
	// ErrInputClosed is returned when the current phase does not take input.
	ErrInputClosed = errors.New("input is not accepted in this phase")
	// ErrNoProposal is returned by ConfirmQuote and RejectQuote without a candidate.
	ErrNoProposal = errors.New("no quote is awaiting confirmation")
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("chat session closed")
)

// Backend is the contract shared by the HTTP client and the offline simulator.
type Backend interface {
	SendMessage(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)
	PollStatus(ctx context.Context, userID, threadNum string,
		onUpdate func(*domain.ChatResponse), onError func(error)) domain.StopFunc
	CreateStreamingConnection(ctx context.Context, userID, threadNum string,
		onChunk func(domain.StreamChunk), onError func(error), onComplete func()) domain.StopFunc
}

// Navigator receives the result page URL once a quote is confirmed.
type Navigator interface {
	Navigate(url string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(url string)

// Navigate calls f(url).
func (f NavigatorFunc) Navigate(url string) { f(url) }

// Options configures a Session.
type Options struct {
	Backend         Backend
	Navigator       Navigator
	EnableStreaming bool
	Development     bool
	MaxUserTurns    int
	NavigateDelay   time.Duration
	// ResultBaseURL prefixes the result path; empty yields a relative URL.
	ResultBaseURL string
	UserID        string
	ThreadNum     string
	Now           func() time.Time
	Logger        *slog.Logger
	OnChange      func(State)
}

// Session is the conversation state machine. It is safe for concurrent use.
type Session struct {
	backend         Backend
	navigator       Navigator
	enableStreaming bool
	development     bool
	maxUserTurns    int
	navigateDelay   time.Duration
	resultBaseURL   string
	now             func() time.Time
	logger          *slog.Logger
	onChange        func(State)

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	userID          string
	threadNum       string
	messages        []domain.ChatMessage
	phase           Phase
	selected        *domain.Quote
	userTurns       int
	analysisStarted bool
	analysisRearms  int
	resultURL       string
	version         uint64
	closed          bool

	// gen identifies the current turn or transport; callbacks carrying an
	// older generation are dropped.
	gen      uint64
	stop     domain.StopFunc
	navTimer *time.Timer

	// streaming turn bookkeeping
	streamMsg   int
	streamQuote *domain.Quote

	notifyMu  sync.Mutex
	delivered uint64
}

// NewSession creates a session seeded with the welcome message.
func NewSession(opts Options) *Session {
	s := &Session{
		backend:         opts.Backend,
		navigator:       opts.Navigator,
		enableStreaming: opts.EnableStreaming,
		development:     opts.Development,
		maxUserTurns:    opts.MaxUserTurns,
		navigateDelay:   opts.NavigateDelay,
		resultBaseURL:   opts.ResultBaseURL,
		now:             opts.Now,
		logger:          opts.Logger,
		onChange:        opts.OnChange,
		userID:          opts.UserID,
		threadNum:       opts.ThreadNum,
	}
	if s.maxUserTurns <= 0 {
		s.maxUserTurns = DefaultMaxUserTurns
	}
	if s.navigateDelay <= 0 {
		s.navigateDelay = DefaultNavigateDelay
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.userID == "" {
		s.userID = identity.NewUserID()
	}
	if s.threadNum == "" {
		s.threadNum = identity.NewThreadNum()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.resetLocked()
	return s
}

// WelcomeMessage is the seed bot message. Development builds add a prompt
// with an example.
func WelcomeMessage(development bool) string {
	base := "안녕하세요!\n딱 맞는 말에 오신 것을 환영합니다.\n당신의 사연을 들려주시면 챗봇이 알맞은 명언을 출력해드려요."
	if !development {
		return base
	}
	return base + "\n\n🍀 당신의 현재 기분이나 생각, 혹은 짧은 일기를 작성해주세요.\n" +
		"예시: \"안녕, 오늘 인공지능 동아리 '프로메테우스'에 데모데이 체험을 하러 왔어.\""
}

// UserID returns the session's user identifier.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// ThreadNum returns the current conversation's thread identifier.
func (s *Session) ThreadNum() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadNum
}

// State returns a snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// SendMessage starts a user turn. It returns once the backend has answered
// the send; polling or streaming continues in the background. Backend
// failures are reported in the log as an apology, not as an error.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	return s.send(ctx, text, false)
}

// ConfirmQuote accepts the proposed candidate.
func (s *Session) ConfirmQuote(ctx context.Context) error {
	return s.send(ctx, AnswerYes, true)
}

// RejectQuote asks the backend for the next candidate.
func (s *Session) RejectQuote(ctx context.Context) error {
	return s.send(ctx, AnswerNo, true)
}

// ResetChat drops every transport and timer and starts a new conversation
// with a fresh thread identifier.
func (s *Session) ResetChat() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.threadNum = identity.NewThreadNum()
	s.resetLocked()
	threadNum := s.threadNum
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Debug("chat reset", "thread_num", threadNum)
	s.emit(st)
}

// Close tears the session down. Later calls return ErrClosed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.teardownLocked()
	s.cancel()
}

func (s *Session) send(ctx context.Context, text string, requireProposal bool) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.phase == PhaseAwaitingBackend:
		s.mu.Unlock()
		return ErrBusy
	case requireProposal && s.phase != PhaseQuoteProposed:
		s.mu.Unlock()
		return ErrNoProposal
	case s.phase == PhaseAnalyzing || s.phase == PhaseQuoteConfirmed:
		s.mu.Unlock()
		return ErrInputClosed
	}

	s.teardownLocked()
	gen := s.gen
	s.appendLocked(text, false)
	s.userTurns++
	s.phase = PhaseAwaitingBackend
	req := domain.ChatRequest{
		UserID:    s.userID,
		ThreadNum: s.threadNum,
		Content:   text,
		Timestamp: domain.Timestamp(s.now()),
	}
	st := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(st)

	resp, err := s.backend.SendMessage(ctx, req)

	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.logger.Warn("send message failed", "user_id", req.UserID, "thread_num", req.ThreadNum, "error", err)
		s.failLocked(ApologySend)
	} else {
		s.handleResponseLocked(resp, false)
	}
	st = s.snapshotLocked()
	s.mu.Unlock()
	s.emit(st)
	return nil
}

// handleResponseLocked reduces one backend response into the session.
// fromTransport is true for poll updates.
func (s *Session) handleResponseLocked(resp *domain.ChatResponse, fromTransport bool) {
	kind := resp.Classify()
	s.logger.Debug("backend response", "kind", kind, "status", resp.Status, "phase", s.phase)

	switch kind {
	case domain.KindFailed:
		s.logger.Warn("backend reported an error", "error", resp.Error)
		if fromTransport {
			s.failLocked(ApologyTransport)
		} else {
			s.failLocked(ApologySend)
		}

	case domain.KindPending:
		if fromTransport {
			if resp.Content != "" {
				s.appendLocked(resp.Content, true)
			}
			return
		}
		s.startTransportLocked()

	case domain.KindFinalQuote:
		s.appendContentLocked(resp.Content)
		s.confirmLocked(resp)

	case domain.KindProposedQuote:
		s.stopLocked()
		s.appendContentLocked(resp.Content)
		if resp.Quote != nil {
			q := *resp.Quote
			s.selected = &q
		}
		s.phase = PhaseQuoteProposed

	case domain.KindTurn:
		s.appendContentLocked(resp.Content)
		switch {
		case s.phase == PhaseAnalyzing && fromTransport:
			s.rearmAnalysisLocked()
		case s.phase == PhaseAnalyzing, resp.AnalysisStarted():
			s.enterAnalyzingLocked()
		case s.userTurns >= s.maxUserTurns:
			s.requestAnalysisLocked()
		default:
			s.phase = PhaseIdle
		}
	}
}

// enterAnalyzingLocked opens the transport that carries the analysis
// stages and the first proposal.
func (s *Session) enterAnalyzingLocked() {
	s.analysisStarted = true
	s.analysisRearms = 0
	s.phase = PhaseAnalyzing
	s.startTransportLocked()
}

// rearmAnalysisLocked reopens the transport after it settled without a
// proposal. After maxAnalysisRearms attempts the user gets an apology.
func (s *Session) rearmAnalysisLocked() {
	if s.analysisRearms >= maxAnalysisRearms {
		s.logger.Warn("analysis settled without a proposal",
			"user_id", s.userID, "thread_num", s.threadNum, "attempts", s.analysisRearms)
		s.failLocked(ApologyTransport)
		return
	}
	s.analysisRearms++
	s.startTransportLocked()
}

// requestAnalysisLocked handles the turn ceiling. The backend is still
// listening, so QuitCommand is sent on the user's behalf and its answer is
// reduced like any other send.
func (s *Session) requestAnalysisLocked() {
	s.stopLocked()
	s.gen++
	gen := s.gen
	s.analysisStarted = true
	s.phase = PhaseAnalyzing
	req := domain.ChatRequest{
		UserID:    s.userID,
		ThreadNum: s.threadNum,
		Content:   QuitCommand,
		Timestamp: domain.Timestamp(s.now()),
	}
	s.logger.Info("turn ceiling reached, requesting analysis",
		"user_id", s.userID, "thread_num", s.threadNum, "turns", s.userTurns)
	go s.sendQuit(gen, req)
}

func (s *Session) sendQuit(gen uint64, req domain.ChatRequest) {
	resp, err := s.backend.SendMessage(s.ctx, req)

	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.logger.Warn("analysis request failed", "user_id", req.UserID, "thread_num", req.ThreadNum, "error", err)
		s.failLocked(ApologySend)
	} else {
		s.handleResponseLocked(resp, false)
	}
	st := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(st)
}

func (s *Session) confirmLocked(resp *domain.ChatResponse) {
	s.stopLocked()
	q := *resp.Quote
	if q.Advice == "" {
		q.Advice = resp.Advice
	}
	if len(q.Keywords) == 0 {
		q.Keywords = resp.Keywords
	}
	s.selected = &q
	s.phase = PhaseQuoteConfirmed

	url := result.BuildURL(s.resultBaseURL, q, s.now())
	gen := s.gen
	s.navTimer = time.AfterFunc(s.navigateDelay, func() { s.navigate(gen, url) })
}

func (s *Session) navigate(gen uint64, url string) {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	s.navTimer = nil
	s.resultURL = url
	st := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("navigating to result", "url", url)
	if s.navigator != nil {
		s.navigator.Navigate(url)
	}
	s.emit(st)
}

// startTransportLocked cancels the previous transport, then opens a poll
// loop or a stream tagged with a new generation.
func (s *Session) startTransportLocked() {
	s.stopLocked()
	s.gen++
	gen := s.gen
	s.streamMsg = -1
	s.streamQuote = nil

	if s.enableStreaming {
		s.stop = s.backend.CreateStreamingConnection(s.ctx, s.userID, s.threadNum,
			func(c domain.StreamChunk) { s.onChunk(gen, c) },
			func(err error) { s.onTransportError(gen, err) },
			func() { s.onStreamComplete(gen) },
		)
		return
	}
	s.stop = s.backend.PollStatus(s.ctx, s.userID, s.threadNum,
		func(r *domain.ChatResponse) { s.onPollUpdate(gen, r) },
		func(err error) { s.onTransportError(gen, err) },
	)
}

func (s *Session) onPollUpdate(gen uint64, resp *domain.ChatResponse) {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	s.handleResponseLocked(resp, true)
	st := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(st)
}

func (s *Session) onChunk(gen uint64, chunk domain.StreamChunk) {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}

	switch chunk.Type {
	case domain.ChunkContent:
		if s.streamMsg < 0 {
			s.appendLocked(chunk.Data, true)
			s.streamMsg = len(s.messages) - 1
		} else {
			s.messages[s.streamMsg].Content += chunk.Data
		}
	case domain.ChunkQuote:
		var q domain.Quote
		if err := json.Unmarshal([]byte(chunk.Data), &q); err != nil {
			s.logger.Warn("dropping malformed quote chunk", "error", err)
			s.mu.Unlock()
			return
		}
		s.appendLocked(fmt.Sprintf("%s — %s", q.Text, q.Author), true)
		s.streamMsg = -1
		s.selected = &q
		s.streamQuote = &q
	default:
		s.mu.Unlock()
		return
	}

	st := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(st)
}

func (s *Session) onStreamComplete(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	s.stop = nil
	s.streamMsg = -1

	switch {
	case s.streamQuote != nil:
		s.phase = PhaseQuoteProposed
	case s.phase == PhaseAnalyzing:
		s.rearmAnalysisLocked()
	case s.userTurns >= s.maxUserTurns:
		s.requestAnalysisLocked()
	default:
		s.phase = PhaseIdle
	}
	st := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(st)
}

func (s *Session) onTransportError(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	s.logger.Warn("transport failed", "user_id", s.userID, "thread_num", s.threadNum, "error", err)
	s.failLocked(ApologyTransport)
	st := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(st)
}

// failLocked appends exactly one apology and returns control to the user.
// The generation is retired so further errors from the same transport are
// dropped.
func (s *Session) failLocked(apology string) {
	s.stopLocked()
	s.gen++
	s.appendLocked(apology, true)
	s.phase = PhaseError
}

// stopLocked cancels the active transport, if any.
func (s *Session) stopLocked() {
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
}

// teardownLocked cancels the transport and the navigation timer and retires
// the current generation.
func (s *Session) teardownLocked() {
	s.stopLocked()
	if s.navTimer != nil {
		s.navTimer.Stop()
		s.navTimer = nil
	}
	s.gen++
}

func (s *Session) resetLocked() {
	s.messages = []domain.ChatMessage{{
		ID:        welcomeID,
		Content:   WelcomeMessage(s.development),
		IsBot:     true,
		Timestamp: s.now(),
	}}
	s.phase = PhaseIdle
	s.selected = nil
	s.userTurns = 0
	s.analysisStarted = false
	s.analysisRearms = 0
	s.resultURL = ""
	s.streamMsg = -1
	s.streamQuote = nil
}

func (s *Session) appendContentLocked(content string) {
	if content != "" {
		s.appendLocked(content, true)
	}
}

func (s *Session) appendLocked(content string, isBot bool) {
	s.messages = append(s.messages, domain.ChatMessage{
		ID:        identity.NewMessageID(),
		Content:   content,
		IsBot:     isBot,
		Timestamp: s.now(),
	})
}

func (s *Session) snapshotLocked() State {
	s.version++
	st := State{
		Version:         s.version,
		Messages:        append([]domain.ChatMessage(nil), s.messages...),
		Phase:           s.phase,
		UserTurns:       s.userTurns,
		AnalysisStarted: s.analysisStarted,
		ResultURL:       s.resultURL,
	}
	if s.selected != nil {
		q := *s.selected
		st.SelectedQuote = &q
	}
	return st
}

// emit delivers snapshots to OnChange in version order, dropping any that
// arrive after a newer one.
func (s *Session) emit(st State) {
	if s.onChange == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if st.Version <= s.delivered {
		return
	}
	s.delivered = st.Version
	s.onChange(st)
}
