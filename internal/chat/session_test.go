package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/ttakmal/internal/domain"
	"github.com/ashureev/ttakmal/internal/offline"
	"github.com/ashureev/ttakmal/internal/quotebot"
	"github.com/ashureev/ttakmal/internal/result"
	"github.com/ashureev/ttakmal/internal/store"
)

// fakeTransport records the callbacks of one poll loop or stream so tests
// can drive them by hand.
type fakeTransport struct {
	onUpdate   func(*domain.ChatResponse)
	onChunk    func(domain.StreamChunk)
	onError    func(error)
	onComplete func()
	stopped    atomic.Bool
}

type fakeBackend struct {
	mu         sync.Mutex
	sendFn     func(domain.ChatRequest) (*domain.ChatResponse, error)
	sends      []domain.ChatRequest
	transports []*fakeTransport
	events     []string
}

func (f *fakeBackend) SendMessage(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	f.mu.Lock()
	f.sends = append(f.sends, req)
	fn := f.sendFn
	f.mu.Unlock()
	return fn(req)
}

func (f *fakeBackend) PollStatus(_ context.Context, _, _ string,
	onUpdate func(*domain.ChatResponse), onError func(error)) domain.StopFunc {
	return f.open(&fakeTransport{onUpdate: onUpdate, onError: onError}, "poll")
}

func (f *fakeBackend) CreateStreamingConnection(_ context.Context, _, _ string,
	onChunk func(domain.StreamChunk), onError func(error), onComplete func()) domain.StopFunc {
	return f.open(&fakeTransport{onChunk: onChunk, onError: onError, onComplete: onComplete}, "stream")
}

func (f *fakeBackend) open(t *fakeTransport, kind string) domain.StopFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transports = append(f.transports, t)
	f.events = append(f.events, "start "+kind)
	return func() {
		if t.stopped.CompareAndSwap(false, true) {
			f.mu.Lock()
			f.events = append(f.events, "stop "+kind)
			f.mu.Unlock()
		}
	}
}

func (f *fakeBackend) transport(t *testing.T, i int) *fakeTransport {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Greater(t, len(f.transports), i, "transport %d was never opened", i)
	return f.transports[i]
}

func (f *fakeBackend) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func respond(resp *domain.ChatResponse) func(domain.ChatRequest) (*domain.ChatResponse, error) {
	return func(domain.ChatRequest) (*domain.ChatResponse, error) { return resp, nil }
}

func pending() *domain.ChatResponse { return &domain.ChatResponse{Status: domain.StatusPending} }

func turn(content string) *domain.ChatResponse {
	return &domain.ChatResponse{Status: domain.StatusCompleted, Content: content}
}

type navRecorder struct {
	mu   sync.Mutex
	urls []string
}

func (n *navRecorder) Navigate(url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.urls = append(n.urls, url)
}

func (n *navRecorder) visited() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.urls...)
}

func newTestSession(backend *fakeBackend, streaming bool, opts ...func(*Options)) *Session {
	o := Options{
		Backend:         backend,
		EnableStreaming: streaming,
		UserID:          "user_1",
		ThreadNum:       "thread_1",
		NavigateDelay:   30 * time.Millisecond,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return NewSession(o)
}

func TestNewSessionSeedsWelcome(t *testing.T) {
	s := newTestSession(&fakeBackend{}, false)
	st := s.State()
	require.Len(t, st.Messages, 1)
	assert.Equal(t, "welcome", st.Messages[0].ID)
	assert.True(t, st.Messages[0].IsBot)
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.True(t, st.ShowInput())
	assert.False(t, st.IsLoading())

	dev := NewSession(Options{Backend: &fakeBackend{}, Development: true})
	assert.Contains(t, dev.State().Messages[0].Content, "🍀")
	assert.NotContains(t, st.Messages[0].Content, "🍀")
	assert.True(t, strings.HasPrefix(dev.UserID(), "user_"))
	assert.True(t, strings.HasPrefix(dev.ThreadNum(), "thread_"))
}

func TestPhaseFlags(t *testing.T) {
	tests := []struct {
		phase                                  Phase
		loading, input, buttons, overlay, done bool
	}{
		{PhaseIdle, false, true, false, false, false},
		{PhaseAwaitingBackend, true, false, false, false, false},
		{PhaseAnalyzing, false, false, false, true, false},
		{PhaseQuoteProposed, false, false, true, false, false},
		{PhaseQuoteConfirmed, false, false, false, true, true},
		{PhaseError, false, true, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.phase.String(), func(t *testing.T) {
			assert.Equal(t, tt.loading, tt.phase.IsLoading())
			assert.Equal(t, tt.input, tt.phase.ShowInput())
			assert.Equal(t, tt.buttons, tt.phase.ShowConfirmButtons())
			assert.Equal(t, tt.buttons, tt.phase.IsQuoteSelectionMode())
			assert.Equal(t, tt.overlay, tt.phase.ShowLoadingOverlay())
			assert.Equal(t, tt.done, tt.phase.IsQuoteCompleted())
		})
	}
}

func TestStreamingTurnAccumulatesInPlace(t *testing.T) {
	backend := &fakeBackend{sendFn: respond(pending())}
	s := newTestSession(backend, true)
	ctx := context.Background()

	require.NoError(t, s.SendMessage(ctx, "오늘 너무 힘들었어"))
	st := s.State()
	require.Len(t, st.Messages, 2)
	assert.Equal(t, "오늘 너무 힘들었어", st.Messages[1].Content)
	assert.False(t, st.Messages[1].IsBot)
	assert.True(t, st.IsLoading())

	before := st.Messages
	tr := backend.transport(t, 0)
	for _, data := range []string{"안녕하세요", "! ", "더 자세히..."} {
		tr.onChunk(domain.StreamChunk{Type: domain.ChunkContent, Data: data})
		assert.True(t, s.State().IsLoading(), "loading must last until the complete chunk")
	}

	st = s.State()
	require.Len(t, st.Messages, 3)
	assert.Equal(t, before, st.Messages[:2], "earlier messages are never mutated")
	assert.True(t, st.Messages[2].IsBot)
	assert.Equal(t, "안녕하세요! 더 자세히...", st.Messages[2].Content)

	tr.onChunk(domain.StreamChunk{Type: domain.ChunkComplete})
	tr.onComplete()
	st = s.State()
	assert.False(t, st.IsLoading())
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Len(t, st.Messages, 3)
}

func TestFinalQuoteNavigatesAfterDelay(t *testing.T) {
	nav := &navRecorder{}
	quote := &domain.Quote{
		ID: "1", Text: "가장 어두운 밤도 결국은 끝나고, 해는 떠오른다.", Author: "빅터 위고",
		Keywords: []string{"희망", "위로"}, Advice: "새벽은 와요.",
	}
	backend := &fakeBackend{sendFn: respond(&domain.ChatResponse{Status: domain.StatusCompleted, Quote: quote})}
	s := newTestSession(backend, false, func(o *Options) {
		o.Navigator = nav
		o.NavigateDelay = 80 * time.Millisecond
	})

	require.NoError(t, s.SendMessage(context.Background(), "예"))
	st := s.State()
	assert.Equal(t, PhaseQuoteConfirmed, st.Phase)
	assert.True(t, st.ShowLoadingOverlay())
	assert.False(t, st.ShowInput())
	assert.False(t, st.ShowConfirmButtons())
	assert.True(t, st.IsQuoteCompleted())
	require.NotNil(t, st.SelectedQuote)
	assert.Equal(t, "빅터 위고", st.SelectedQuote.Author)
	assert.Empty(t, nav.visited(), "navigation waits for the delay")

	require.Eventually(t, func() bool { return len(nav.visited()) == 1 }, 2*time.Second, 5*time.Millisecond)
	url := nav.visited()[0]
	assert.True(t, strings.HasPrefix(url, result.Path+"?"))
	assert.Contains(t, url, "author=%EB%B9%85%ED%84%B0+%EC%9C%84%EA%B3%A0")

	h, err := result.ParseURL(url)
	require.NoError(t, err)
	assert.Equal(t, quote.Text, h.Quote)
	assert.Equal(t, quote.Author, h.Author)
	assert.Equal(t, quote.Keywords, h.Keywords)
	assert.Equal(t, quote.Advice, h.Context)
	assert.Equal(t, url, s.State().ResultURL)
}

func TestProposedQuoteShowsButtons(t *testing.T) {
	quote := &domain.Quote{ID: "2", Text: "실패는 성공의 어머니다.", Author: "토마스 에디슨"}
	backend := &fakeBackend{sendFn: respond(&domain.ChatResponse{
		Status:         domain.StatusCompleted,
		Content:        "이 명언 어떠세요?",
		Quote:          quote,
		QuoteSelection: &domain.QuoteSelection{Active: true, TotalCount: 3},
	})}
	s := newTestSession(backend, false)

	require.NoError(t, s.SendMessage(context.Background(), "힘들어"))
	st := s.State()
	assert.Equal(t, "이 명언 어떠세요?", st.LastMessage().Content)
	assert.True(t, st.LastMessage().IsBot)
	assert.True(t, st.ShowConfirmButtons())
	assert.True(t, st.IsQuoteSelectionMode())
	assert.False(t, st.ShowInput())
	require.NotNil(t, st.SelectedQuote)
	assert.Equal(t, "2", st.SelectedQuote.ID)
}

func TestConnectionErrorAppendsOneApology(t *testing.T) {
	backend := &fakeBackend{sendFn: func(domain.ChatRequest) (*domain.ChatResponse, error) {
		return nil, errors.New("dial tcp: connection refused")
	}}
	s := newTestSession(backend, false)

	require.NoError(t, s.SendMessage(context.Background(), "안녕"))
	st := s.State()
	require.Len(t, st.Messages, 3)
	assert.Equal(t, ApologySend, st.Messages[2].Content)
	assert.False(t, st.IsLoading())
	assert.True(t, st.ShowInput())
	assert.Equal(t, PhaseError, st.Phase)

	// The user can try again.
	backend.sendFn = respond(turn("다시 오셨군요"))
	require.NoError(t, s.SendMessage(context.Background(), "다시"))
	assert.Equal(t, PhaseIdle, s.State().Phase)
}

func TestBackendErrorStatusAppendsApology(t *testing.T) {
	backend := &fakeBackend{sendFn: respond(&domain.ChatResponse{Status: domain.StatusError, Error: "boom"})}
	s := newTestSession(backend, false)

	require.NoError(t, s.SendMessage(context.Background(), "안녕"))
	assert.Equal(t, ApologySend, s.State().LastMessage().Content)
}

func TestSendWhileLoadingIsRejected(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeBackend{sendFn: func(domain.ChatRequest) (*domain.ChatResponse, error) {
		<-release
		return turn("응답"), nil
	}}
	s := newTestSession(backend, false)

	done := make(chan error, 1)
	go func() { done <- s.SendMessage(context.Background(), "첫 번째") }()
	require.Eventually(t, func() bool { return s.State().IsLoading() }, time.Second, time.Millisecond)

	err := s.SendMessage(context.Background(), "두 번째")
	assert.ErrorIs(t, err, ErrBusy)
	assert.Len(t, s.State().Messages, 2)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, backend.sendCount())
	assert.Len(t, s.State().Messages, 3)
}

func TestNewTurnCancelsPreviousTransport(t *testing.T) {
	backend := &fakeBackend{sendFn: respond(pending())}
	s := newTestSession(backend, false)
	ctx := context.Background()

	require.NoError(t, s.SendMessage(ctx, "첫 번째"))
	first := backend.transport(t, 0)
	first.onUpdate(turn("첫 답"))
	require.Equal(t, PhaseIdle, s.State().Phase)

	require.NoError(t, s.SendMessage(ctx, "두 번째"))
	assert.True(t, first.stopped.Load())
	backend.mu.Lock()
	assert.Equal(t, []string{"start poll", "stop poll", "start poll"}, backend.events)
	backend.mu.Unlock()

	// A late result of the superseded loop is ignored.
	n := len(s.State().Messages)
	first.onUpdate(turn("늦은 답"))
	first.onError(errors.New("late"))
	assert.Len(t, s.State().Messages, n)

	second := backend.transport(t, 1)
	second.onUpdate(turn("두 번째 답"))
	assert.Equal(t, "두 번째 답", s.State().LastMessage().Content)
}

func TestStreamErrorAppendsOneApology(t *testing.T) {
	backend := &fakeBackend{sendFn: respond(pending())}
	s := newTestSession(backend, true)

	require.NoError(t, s.SendMessage(context.Background(), "안녕"))
	tr := backend.transport(t, 0)
	tr.onChunk(domain.StreamChunk{Type: domain.ChunkContent, Data: "반쯤"})
	tr.onError(errors.New("stream closed before completion"))
	tr.onError(errors.New("again"))

	st := s.State()
	apologies := 0
	for _, m := range st.Messages {
		if m.Content == ApologyTransport {
			apologies++
		}
	}
	assert.Equal(t, 1, apologies)
	assert.False(t, st.IsLoading())
	assert.True(t, st.ShowInput())
	assert.True(t, tr.stopped.Load())
}

func TestStreamQuoteChunkProposesCandidate(t *testing.T) {
	backend := &fakeBackend{sendFn: respond(pending())}
	s := newTestSession(backend, true)

	require.NoError(t, s.SendMessage(context.Background(), "안녕"))
	tr := backend.transport(t, 0)
	tr.onChunk(domain.StreamChunk{Type: domain.ChunkContent, Data: "명언을"})
	tr.onChunk(domain.StreamChunk{Type: domain.ChunkQuote, Data: "{broken"})
	tr.onChunk(domain.StreamChunk{Type: domain.ChunkQuote, Data: `{"id":"2","text":"실패는 성공의 어머니다.","author":"토마스 에디슨"}`})
	tr.onComplete()

	st := s.State()
	require.Len(t, st.Messages, 4)
	assert.Equal(t, "명언을", st.Messages[2].Content)
	assert.Equal(t, "실패는 성공의 어머니다. — 토마스 에디슨", st.Messages[3].Content)
	assert.Equal(t, PhaseQuoteProposed, st.Phase)
	require.NotNil(t, st.SelectedQuote)
	assert.Equal(t, "토마스 에디슨", st.SelectedQuote.Author)
}

func TestResetFromAnyStateIsClean(t *testing.T) {
	backend := &fakeBackend{sendFn: respond(pending())}
	s := newTestSession(backend, true)

	require.NoError(t, s.SendMessage(context.Background(), "안녕"))
	tr := backend.transport(t, 0)
	tr.onChunk(domain.StreamChunk{Type: domain.ChunkQuote, Data: `{"id":"1","text":"t","author":"a"}`})
	oldThread := s.ThreadNum()

	s.ResetChat()
	s.ResetChat()

	st := s.State()
	require.Len(t, st.Messages, 1)
	assert.Equal(t, "welcome", st.Messages[0].ID)
	assert.False(t, st.IsLoading())
	assert.Nil(t, st.SelectedQuote)
	assert.Zero(t, st.UserTurns)
	assert.True(t, tr.stopped.Load())
	assert.NotEqual(t, oldThread, s.ThreadNum())
	assert.Equal(t, "user_1", s.UserID())

	tr.onChunk(domain.StreamChunk{Type: domain.ChunkContent, Data: "늦은"})
	tr.onComplete()
	assert.Len(t, s.State().Messages, 1)
}

func TestResetCancelsPendingNavigation(t *testing.T) {
	nav := &navRecorder{}
	backend := &fakeBackend{sendFn: respond(&domain.ChatResponse{
		Status: domain.StatusCompleted, Quote: &domain.Quote{Text: "t", Author: "a"},
	})}
	s := newTestSession(backend, false, func(o *Options) { o.Navigator = nav })

	require.NoError(t, s.SendMessage(context.Background(), "예"))
	s.ResetChat()
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, nav.visited())
}

func TestAnalysisAwaitsProposal(t *testing.T) {
	backend := &fakeBackend{sendFn: respond(&domain.ChatResponse{
		Status: domain.StatusCompleted, Content: "충분히 이해됩니다.",
		AnalysisComplete: true, Advice: "조언",
	})}
	s := newTestSession(backend, false)

	require.NoError(t, s.SendMessage(context.Background(), "종료"))
	st := s.State()
	assert.Equal(t, PhaseAnalyzing, st.Phase)
	assert.True(t, st.ShowLoadingOverlay())
	assert.False(t, st.ShowInput())
	assert.True(t, st.AnalysisStarted)

	tr := backend.transport(t, 0)
	tr.onUpdate(&domain.ChatResponse{Status: domain.StatusPending, Content: "🔍 분석 중"})
	tr.onUpdate(&domain.ChatResponse{Status: domain.StatusPending})
	assert.Equal(t, "🔍 분석 중", s.State().LastMessage().Content)
	assert.Equal(t, PhaseAnalyzing, s.State().Phase)

	assert.ErrorIs(t, s.SendMessage(context.Background(), "더"), ErrInputClosed)

	tr.onUpdate(&domain.ChatResponse{
		Status: domain.StatusCompleted, Content: "다음 명언은 어떠신가요?",
		Quote:          &domain.Quote{ID: "1", Text: "t", Author: "a"},
		QuoteSelection: &domain.QuoteSelection{Active: true},
		QuoteState:     domain.QuoteStateProposed,
	})
	assert.Equal(t, PhaseQuoteProposed, s.State().Phase)
}

func TestTurnCeilingStartsAnalysis(t *testing.T) {
	backend := &fakeBackend{sendFn: func(req domain.ChatRequest) (*domain.ChatResponse, error) {
		if req.Content == QuitCommand {
			return &domain.ChatResponse{Status: domain.StatusCompleted, AnalysisComplete: true, Advice: "조언"}, nil
		}
		return turn("계속 들려주세요"), nil
	}}
	s := newTestSession(backend, false, func(o *Options) { o.MaxUserTurns = 2 })
	ctx := context.Background()

	require.NoError(t, s.SendMessage(ctx, "하나"))
	assert.Equal(t, PhaseIdle, s.State().Phase)
	require.NoError(t, s.SendMessage(ctx, "둘"))
	assert.Equal(t, PhaseAnalyzing, s.State().Phase)
	assert.Equal(t, 2, s.State().UserTurns)

	// the backend is told to stop listening, then polled for the proposal
	require.Eventually(t, func() bool { return backend.sendCount() == 3 }, time.Second, 5*time.Millisecond)
	backend.mu.Lock()
	assert.Equal(t, QuitCommand, backend.sends[2].Content)
	backend.mu.Unlock()

	var tr *fakeTransport
	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		if len(backend.transports) == 0 {
			return false
		}
		tr = backend.transports[0]
		return true
	}, time.Second, 5*time.Millisecond)
	tr.onUpdate(&domain.ChatResponse{
		Status:         domain.StatusCompleted,
		Quote:          &domain.Quote{ID: "1", Text: "t", Author: "a"},
		QuoteSelection: &domain.QuoteSelection{Active: true},
	})

	st := s.State()
	assert.Equal(t, PhaseQuoteProposed, st.Phase)
	assert.Equal(t, 2, st.UserTurns, "the quit command is not a user turn")
}

func TestTurnCeilingReachesProposalOffline(t *testing.T) {
	for _, tt := range []struct {
		name      string
		streaming bool
	}{
		{"poll", false},
		{"stream", true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			fx, err := quotebot.DefaultFixtures()
			require.NoError(t, err)
			engine := quotebot.New(store.NewMemory(), fx, quotebot.WithTurnThreshold(4))
			backend := offline.New(engine, offline.Options{
				Delay:         -1,
				PollInterval:  5 * time.Millisecond,
				ChunkInterval: -1,
			})
			s := NewSession(Options{
				Backend:         backend,
				EnableStreaming: tt.streaming,
				MaxUserTurns:    2,
				UserID:          "user_1",
				ThreadNum:       "thread_1",
			})
			defer s.Close()
			ctx := context.Background()

			require.NoError(t, s.SendMessage(ctx, "오늘 너무 힘들었어"))
			require.Eventually(t, func() bool { return s.State().Phase == PhaseIdle }, 2*time.Second, 5*time.Millisecond)

			require.NoError(t, s.SendMessage(ctx, "시험을 망쳤어"))
			require.Eventually(t, func() bool { return s.State().Phase == PhaseQuoteProposed }, 2*time.Second, 5*time.Millisecond)

			st := s.State()
			require.NotNil(t, st.SelectedQuote)
			assert.True(t, st.AnalysisStarted)
			assert.Equal(t, 2, st.UserTurns)
			assert.True(t, st.ShowConfirmButtons())
		})
	}
}

func TestAnalysisRearmsSettledPoll(t *testing.T) {
	backend := &fakeBackend{sendFn: respond(&domain.ChatResponse{
		Status: domain.StatusCompleted, AnalysisComplete: true,
	})}
	s := newTestSession(backend, false)

	require.NoError(t, s.SendMessage(context.Background(), "종료"))
	for i := range maxAnalysisRearms {
		backend.transport(t, i).onUpdate(turn(""))
		assert.Equal(t, PhaseAnalyzing, s.State().Phase)
	}

	backend.transport(t, maxAnalysisRearms).onUpdate(turn(""))
	st := s.State()
	assert.Equal(t, PhaseError, st.Phase)
	assert.Equal(t, ApologyTransport, st.LastMessage().Content)
	assert.True(t, st.ShowInput())
}

func TestAnalysisRearmsStreamWithoutQuote(t *testing.T) {
	backend := &fakeBackend{sendFn: respond(&domain.ChatResponse{
		Status: domain.StatusCompleted, AnalysisComplete: true,
	})}
	s := newTestSession(backend, true)

	require.NoError(t, s.SendMessage(context.Background(), "종료"))
	tr := backend.transport(t, 0)
	tr.onChunk(domain.StreamChunk{Type: domain.ChunkContent, Data: "🔍 분석 중"})
	tr.onComplete()
	assert.Equal(t, PhaseAnalyzing, s.State().Phase)

	tr = backend.transport(t, 1)
	tr.onChunk(domain.StreamChunk{Type: domain.ChunkQuote, Data: `{"id":"1","text":"t","author":"a"}`})
	tr.onComplete()
	assert.Equal(t, PhaseQuoteProposed, s.State().Phase)
}

func TestConfirmAndRejectQuote(t *testing.T) {
	backend := &fakeBackend{}
	backend.sendFn = func(req domain.ChatRequest) (*domain.ChatResponse, error) {
		switch req.Content {
		case AnswerNo:
			return &domain.ChatResponse{
				Status: domain.StatusCompleted, Content: "다음 명언을 보여드릴게요!",
				Quote:          &domain.Quote{ID: "4", Text: "넘어지는 것은 실패가 아니다.", Author: "공자"},
				QuoteSelection: &domain.QuoteSelection{Active: true, CurrentIndex: 1, Changed: true},
			}, nil
		case AnswerYes:
			return &domain.ChatResponse{
				Status: domain.StatusCompleted, QuoteState: domain.QuoteStateFinal,
				Quote: &domain.Quote{ID: "4", Text: "넘어지는 것은 실패가 아니다.", Author: "공자"},
			}, nil
		default:
			return &domain.ChatResponse{
				Status:         domain.StatusCompleted,
				Quote:          &domain.Quote{ID: "1", Text: "t", Author: "빅터 위고"},
				QuoteSelection: &domain.QuoteSelection{Active: true},
			}, nil
		}
	}
	s := newTestSession(backend, false)
	ctx := context.Background()

	assert.ErrorIs(t, s.ConfirmQuote(ctx), ErrNoProposal)
	assert.ErrorIs(t, s.RejectQuote(ctx), ErrNoProposal)

	require.NoError(t, s.SendMessage(ctx, "안녕"))
	require.Equal(t, PhaseQuoteProposed, s.State().Phase)

	require.NoError(t, s.RejectQuote(ctx))
	st := s.State()
	assert.Equal(t, PhaseQuoteProposed, st.Phase)
	assert.Equal(t, "공자", st.SelectedQuote.Author)
	assert.Equal(t, AnswerNo, st.Messages[len(st.Messages)-2].Content)

	require.NoError(t, s.ConfirmQuote(ctx))
	assert.Equal(t, PhaseQuoteConfirmed, s.State().Phase)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.sends, 3)
	assert.Equal(t, AnswerYes, backend.sends[2].Content)
	assert.Equal(t, "user_1", backend.sends[2].UserID)
	assert.Equal(t, "thread_1", backend.sends[2].ThreadNum)
}

func TestCloseStopsEverything(t *testing.T) {
	nav := &navRecorder{}
	backend := &fakeBackend{sendFn: respond(pending())}
	s := newTestSession(backend, false, func(o *Options) { o.Navigator = nav })

	require.NoError(t, s.SendMessage(context.Background(), "안녕"))
	tr := backend.transport(t, 0)
	s.Close()
	s.Close()

	assert.True(t, tr.stopped.Load())
	tr.onUpdate(turn("늦은 답"))
	assert.Len(t, s.State().Messages, 2)
	assert.ErrorIs(t, s.SendMessage(context.Background(), "또"), ErrClosed)
}

func TestEmptyMessageRejected(t *testing.T) {
	backend := &fakeBackend{sendFn: respond(turn("x"))}
	s := newTestSession(backend, false)
	assert.ErrorIs(t, s.SendMessage(context.Background(), "   "), ErrEmptyMessage)
	assert.Zero(t, backend.sendCount())
}

func TestOnChangeDeliversIncreasingVersions(t *testing.T) {
	var (
		mu       sync.Mutex
		versions []uint64
	)
	backend := &fakeBackend{sendFn: respond(turn("답"))}
	s := newTestSession(backend, false, func(o *Options) {
		o.OnChange = func(st State) {
			mu.Lock()
			defer mu.Unlock()
			versions = append(versions, st.Version)
		}
	})

	require.NoError(t, s.SendMessage(context.Background(), "안녕"))
	s.ResetChat()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, versions, 3)
	assert.IsIncreasing(t, versions)
}
