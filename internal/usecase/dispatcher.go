package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cineai/internal/domain"
	"cineai/internal/domain/model"
	"cineai/internal/domain/ports/adapter"
	"cineai/internal/infra/logging"
	"cineai/internal/infra/metrics"
)

type DispatcherConfig struct {
	Breaker          BreakerConfig
	AttemptTimeout   time.Duration
	StreamTimeout    time.Duration
	HistoryLimit     int // messages of context sent with each chat call
	MaxContextTokens int // 0 disables token trimming
}

// ContextTrimmer drops the oldest messages until the prompt fits a token budget.
type ContextTrimmer interface {
	Trim(model string, msgs []adapter.Message, budget int) []adapter.Message
}

// ChatInput is the new user turn plus per-call options.
type ChatInput struct {
	Text        string
	System      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// DispatchRequest carries exactly one of Chat or Synthesis. ConversationID is optional for chat;
// without it nothing is read from or written to the ConversationStore.
type DispatchRequest struct {
	ConversationID string
	UserID         string
	Chat           *ChatInput
	Synthesis      *adapter.SynthesisRequest
}

// Result is the success side of a dispatch; failures are *domain.ExhaustedError.
type Result struct {
	Capability model.Capability
	ProviderID string
	Chat       *adapter.ChatResponse
	Submission *adapter.Submission
	Attempts   []domain.Attempt
}

// FallbackDispatcher tries the providers of a capability in configured order,
// skipping those whose circuit is open.
type FallbackDispatcher struct {
	registry *ProviderRegistry
	breakers *breakerSet
	convs    ConversationStore
	trimmer  ContextTrimmer
	cfg      DispatcherConfig
	log      *zerolog.Logger
	now      func() time.Time
}

func NewFallbackDispatcher(registry *ProviderRegistry, convs ConversationStore, trimmer ContextTrimmer, cfg DispatcherConfig, logger *zerolog.Logger) *FallbackDispatcher {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 5 * time.Minute
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "FallbackDispatcher").Logger()
	return &FallbackDispatcher{
		registry: registry,
		breakers: newBreakerSet(cfg.Breaker),
		convs:    convs,
		trimmer:  trimmer,
		cfg:      cfg,
		log:      &l,
		now:      time.Now,
	}
}

// WithClock replaces the time source used by the circuit breakers.
func (d *FallbackDispatcher) WithClock(now func() time.Time) *FallbackDispatcher {
	d.now = now
	return d
}

func (d *FallbackDispatcher) Dispatch(ctx context.Context, c model.Capability, req DispatchRequest) (*Result, error) {
	defer logging.TraceDuration(d.log, "FallbackDispatcher.Dispatch")()
	if err := checkRequest(c, req); err != nil {
		return nil, err
	}

	var chatReq adapter.ChatRequest
	if c == model.CapabilityChat {
		var err error
		if chatReq, err = d.prepareChat(ctx, req); err != nil {
			return nil, err
		}
	}

	res := &Result{Capability: c}
	call := func(actx context.Context, p adapter.Provider) error {
		if c == model.CapabilityChat {
			resp, err := p.(adapter.ChatProvider).Chat(actx, chatReq)
			if err != nil {
				return err
			}
			if strings.TrimSpace(resp.Content) == "" {
				return domain.NewProviderError(p.ID(), domain.ErrMalformedResponse, 0, "empty completion")
			}
			res.Chat = &resp
			return nil
		}
		sub, err := p.(adapter.SynthesisProvider).Start(actx, *req.Synthesis)
		if err != nil {
			return err
		}
		if sub.Handle == "" && sub.Asset == nil {
			return domain.NewProviderError(p.ID(), domain.ErrMalformedResponse, 0, "start returned neither handle nor asset")
		}
		res.Submission = &sub
		return nil
	}

	providerID, attempts, err := d.run(ctx, c, call)
	res.Attempts = attempts
	if err != nil {
		return nil, err
	}
	res.ProviderID = providerID

	if res.Chat != nil {
		metrics.ObserveChatUsage(providerID, res.Chat.Model, res.Chat.Usage.PromptTokens, res.Chat.Usage.CompletionTokens, res.Chat.Usage.TotalTokens)
		if err := d.recordTurn(ctx, req, providerID, res.Chat.Content, model.MessageOK); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Stream selects a provider like Dispatch but commits to it once the first chunk was emitted.
// A failure after that point, or a client disconnect, ends the request with ErrStreamInterrupted
// and records the partial assistant turn as failed.
func (d *FallbackDispatcher) Stream(ctx context.Context, c model.Capability, req DispatchRequest, emit func(adapter.StreamChunk) error) (*Result, error) {
	if c != model.CapabilityChat {
		return nil, fmt.Errorf("%w: %s does not stream", domain.ErrInvalidArgument, c)
	}
	if err := checkRequest(c, req); err != nil {
		return nil, err
	}
	chatReq, err := d.prepareChat(ctx, req)
	if err != nil {
		return nil, err
	}

	cands := d.registry.candidates(c)
	if len(cands) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfiguration, c)
	}
	attempts := make([]domain.Attempt, 0, len(cands))
	for _, cand := range cands {
		br, reason := d.admit(c, cand)
		if reason != "" {
			attempts = append(attempts, domain.Attempt{Provider: cand.id, Skipped: true, Err: reason})
			continue
		}

		var partial strings.Builder
		started := false
		var clientErr error
		sctx, cancel := context.WithTimeout(ctx, d.cfg.StreamTimeout)
		start := time.Now()
		resp, err := cand.provider.(adapter.ChatProvider).ChatStream(sctx, chatReq, func(ch adapter.StreamChunk) error {
			if ch.Delta == "" {
				return nil
			}
			started = true
			partial.WriteString(ch.Delta)
			if werr := emit(ch); werr != nil {
				clientErr = werr
				return werr
			}
			return nil
		})
		cancel()

		if clientErr != nil || ctx.Err() != nil {
			br.release()
			cause := clientErr
			if cause == nil {
				cause = ctx.Err()
			}
			d.log.Info().Str("provider", cand.id).Bool("started", started).Msg("stream abandoned by client")
			if rerr := d.recordTurn(ctx, req, cand.id, partial.String(), model.MessageFailed); rerr != nil {
				d.log.Error().Err(rerr).Msg("record abandoned stream turn")
			}
			return nil, fmt.Errorf("%w: client disconnected: %v", domain.ErrStreamInterrupted, cause)
		}

		if err == nil {
			content := resp.Content
			if content == "" {
				content = partial.String()
			}
			if strings.TrimSpace(content) == "" {
				err = domain.NewProviderError(cand.id, domain.ErrMalformedResponse, 0, "empty stream")
			} else {
				br.success()
				metrics.ObserveProviderCall(string(c), cand.id, time.Since(start).Milliseconds(), true)
				metrics.IncDispatchAttempt(string(c), cand.id, "success")
				metrics.ObserveChatUsage(cand.id, resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
				resp.Content = content
				if rerr := d.recordTurn(ctx, req, cand.id, content, model.MessageOK); rerr != nil {
					return nil, rerr
				}
				return &Result{Capability: c, ProviderID: cand.id, Chat: &resp, Attempts: attempts}, nil
			}
		}

		perr := classify(cand.id, err)
		br.failure(d.now(), perr.Trip)
		metrics.ObserveProviderCall(string(c), cand.id, time.Since(start).Milliseconds(), false)
		metrics.IncDispatchAttempt(string(c), cand.id, "failure")
		attempts = append(attempts, domain.Attempt{Provider: cand.id, Err: perr.Error()})

		if started {
			d.log.Warn().Err(perr).Str("provider", cand.id).Msg("stream failed after first chunk")
			if rerr := d.recordTurn(ctx, req, cand.id, partial.String(), model.MessageFailed); rerr != nil {
				d.log.Error().Err(rerr).Msg("record failed stream turn")
			}
			return nil, fmt.Errorf("%w: %w", domain.ErrStreamInterrupted, perr)
		}
		d.log.Warn().Err(perr).Str("provider", cand.id).Msg("stream attempt failed; falling back")
	}
	metrics.IncDispatchExhausted(string(c))
	return nil, &domain.ExhaustedError{Capability: string(c), Attempts: attempts}
}

// Providers reports every provider configured for a capability, in priority order.
func (d *FallbackDispatcher) Providers(c model.Capability) []model.ProviderStatus {
	now := d.now()
	cands := d.registry.candidates(c)
	out := make([]model.ProviderStatus, 0, len(cands))
	for _, cand := range cands {
		state, failures, openUntil := d.breakers.get(c, cand.id).snapshot(now)
		st := model.ProviderStatus{
			ProviderID: cand.id,
			Capability: c,
			Available:  cand.provider != nil && cand.provider.Available(),
			Enabled:    cand.enabled,
			State:      state,
			Failures:   failures,
		}
		st.Healthy = state != model.BreakerOpen
		if state == model.BreakerOpen {
			t := openUntil
			st.OpenUntil = &t
		}
		out = append(out, st)
	}
	return out
}

type attemptFunc func(ctx context.Context, p adapter.Provider) error

func (d *FallbackDispatcher) run(ctx context.Context, c model.Capability, call attemptFunc) (string, []domain.Attempt, error) {
	cands := d.registry.candidates(c)
	if len(cands) == 0 {
		return "", nil, fmt.Errorf("%w: %s", domain.ErrConfiguration, c)
	}
	attempts := make([]domain.Attempt, 0, len(cands))
	for _, cand := range cands {
		br, reason := d.admit(c, cand)
		if reason != "" {
			attempts = append(attempts, domain.Attempt{Provider: cand.id, Skipped: true, Err: reason})
			continue
		}

		start := time.Now()
		actx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
		err := call(actx, cand.provider)
		cancel()
		latency := time.Since(start).Milliseconds()

		if err == nil {
			br.success()
			metrics.ObserveProviderCall(string(c), cand.id, latency, true)
			metrics.IncDispatchAttempt(string(c), cand.id, "success")
			return cand.id, attempts, nil
		}
		if ctx.Err() != nil {
			// the caller gave up; the provider is not at fault
			br.release()
			return "", attempts, ctx.Err()
		}

		perr := classify(cand.id, err)
		br.failure(d.now(), perr.Trip)
		metrics.ObserveProviderCall(string(c), cand.id, latency, false)
		metrics.IncDispatchAttempt(string(c), cand.id, "failure")
		attempts = append(attempts, domain.Attempt{Provider: cand.id, Err: perr.Error()})
		d.log.Warn().Err(perr).Str("capability", string(c)).Str("provider", cand.id).Msg("provider attempt failed; falling back")
	}
	metrics.IncDispatchExhausted(string(c))
	d.log.Error().Str("capability", string(c)).Int("attempts", len(attempts)).Msg("all providers exhausted")
	return "", attempts, &domain.ExhaustedError{Capability: string(c), Attempts: attempts}
}

// admit returns the breaker for cand, or a reason to skip it.
func (d *FallbackDispatcher) admit(c model.Capability, cand candidate) (*circuitBreaker, string) {
	reason := ""
	switch {
	case !cand.enabled && cand.provider != nil:
		reason = "disabled"
	case cand.provider == nil:
		reason = "not configured"
	case !cand.provider.Available():
		reason = "credentials missing"
	}
	if reason != "" {
		metrics.IncDispatchAttempt(string(c), cand.id, "skipped")
		return nil, reason
	}
	br := d.breakers.get(c, cand.id)
	if !br.allow(d.now()) {
		metrics.IncDispatchAttempt(string(c), cand.id, "skipped")
		return nil, "circuit open"
	}
	return br, ""
}

func (d *FallbackDispatcher) prepareChat(ctx context.Context, req DispatchRequest) (adapter.ChatRequest, error) {
	in := req.Chat
	if strings.TrimSpace(in.Text) == "" {
		return adapter.ChatRequest{}, fmt.Errorf("%w: empty message", domain.ErrInvalidArgument)
	}
	var msgs []adapter.Message
	if req.ConversationID != "" {
		if _, err := d.convs.Open(ctx, req.ConversationID, req.UserID); err != nil {
			return adapter.ChatRequest{}, err
		}
		hist, err := d.convs.History(ctx, req.ConversationID, d.cfg.HistoryLimit)
		if err != nil {
			return adapter.ChatRequest{}, fmt.Errorf("load history: %w", err)
		}
		for _, m := range hist {
			if m.Status == model.MessageFailed {
				continue
			}
			msgs = append(msgs, adapter.Message{Role: string(m.Role), Content: m.Content})
		}
	}
	msgs = append(msgs, adapter.Message{Role: string(model.RoleUser), Content: in.Text})
	if d.trimmer != nil && d.cfg.MaxContextTokens > 0 {
		msgs = d.trimmer.Trim(in.Model, msgs, d.cfg.MaxContextTokens)
	}
	return adapter.ChatRequest{
		Model:       in.Model,
		System:      in.System,
		Messages:    msgs,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
	}, nil
}

// recordTurn appends the user message and the assistant reply in that order.
// It outlives a cancelled request so an abandoned stream still leaves its turn behind.
func (d *FallbackDispatcher) recordTurn(ctx context.Context, req DispatchRequest, providerID, reply string, status model.MessageStatus) error {
	if req.ConversationID == "" {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	err := d.convs.Append(ctx, req.ConversationID,
		model.Message{Role: model.RoleUser, Content: req.Chat.Text, Status: model.MessageOK},
		model.Message{Role: model.RoleAssistant, Content: reply, ProviderID: providerID, Status: status},
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func checkRequest(c model.Capability, req DispatchRequest) error {
	if c == model.CapabilityChat {
		if req.Chat == nil {
			return fmt.Errorf("%w: chat request missing", domain.ErrInvalidArgument)
		}
		if req.ConversationID != "" && req.UserID == "" {
			return fmt.Errorf("%w: conversation requires a user", domain.ErrInvalidArgument)
		}
		return nil
	}
	if req.Synthesis == nil {
		return fmt.Errorf("%w: synthesis request missing", domain.ErrInvalidArgument)
	}
	return nil
}

// classify folds any provider error into the taxonomy.
func classify(providerID string, err error) *domain.ProviderError {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewProviderError(providerID, domain.ErrTimeout, 0, "")
	}
	for _, kind := range []error{
		domain.ErrAuthentication, domain.ErrRateLimited, domain.ErrTimeout,
		domain.ErrMalformedResponse, domain.ErrProviderRejected,
	} {
		if errors.Is(err, kind) {
			return domain.NewProviderError(providerID, kind, 0, err.Error())
		}
	}
	return domain.NewProviderError(providerID, domain.ErrProviderFailure, 0, err.Error())
}
