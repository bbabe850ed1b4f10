package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Local — in-process шина. Обработчики вызываются синхронно,
// полезная нагрузка проходит через JSON так же, как через брокер.
type Local struct {
	mu       sync.RWMutex
	requests map[string]Handler
	events   map[string]EventHandler
	logger   *log.Entry
}

// NewLocal создаёт in-process шину.
func NewLocal(logger *log.Entry) *Local {
	if logger == nil {
		logger = log.New().WithField("component", "local-bus")
	}
	return &Local{
		requests: make(map[string]Handler),
		events:   make(map[string]EventHandler),
		logger:   logger,
	}
}

// HandleRequest регистрирует обработчик запроса.
func (b *Local) HandleRequest(pattern string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests[pattern] = handler
}

// HandleEvent регистрирует обработчик события.
func (b *Local) HandleEvent(pattern string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[pattern] = handler
}

// Request вызывает обработчик и декодирует ответ в reply.
func (b *Local) Request(ctx context.Context, pattern string, payload any, reply any) error {
	b.mu.RLock()
	handler, ok := b.requests[pattern]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, pattern)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request %s: %w", pattern, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	result, handlerErr := handler(ctx, body)
	raw, err := EncodeReply(result, handlerErr)
	if err != nil {
		return fmt.Errorf("encode reply %s: %w", pattern, err)
	}

	b.logger.WithField("pattern", pattern).Debug("local request handled")
	return DecodeReply(raw, reply)
}

// Emit вызывает обработчик события.
func (b *Local) Emit(ctx context.Context, pattern string, payload any) error {
	b.mu.RLock()
	handler, ok := b.events[pattern]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, pattern)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", pattern, err)
	}
	return handler(ctx, body)
}

var (
	_ Requester = (*Local)(nil)
	_ Router    = (*Local)(nil)
)
