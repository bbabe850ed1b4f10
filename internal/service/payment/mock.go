package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
	"github.com/vladislavdragonenkov/orders-ms/internal/messaging/bus"
)

// MockSession — сессия, которую выдаёт MockService.
type MockSession struct {
	ID         string `json:"id"`
	OrderID    string `json:"orderId"`
	URL        string `json:"url"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

// MockService — конфигурируемая заглушка платёжного сервиса.
type MockService struct {
	// BaseURL — адрес страницы оплаты.
	BaseURL string
	// Err, если задан, возвращается из каждого вызова.
	Err error

	mu       sync.Mutex
	Requests []domain.PaymentSessionRequest
}

// NewMockService возвращает mock с успешным сценарием по умолчанию.
func NewMockService() *MockService {
	return &MockService{BaseURL: "http://localhost:3003/payments"}
}

// CreatePaymentSession запоминает запрос и выдаёт фиктивную сессию.
func (m *MockService) CreatePaymentSession(ctx context.Context, req domain.PaymentSessionRequest) (domain.PaymentSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	err := m.Err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sessionID := "cs_" + uuid.NewString()
	session, err := json.Marshal(MockSession{
		ID:         sessionID,
		OrderID:    req.OrderID,
		URL:        fmt.Sprintf("%s/checkout/%s", m.BaseURL, sessionID),
		SuccessURL: m.BaseURL + "/success",
		CancelURL:  m.BaseURL + "/cancel",
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Calls возвращает число принятых запросов.
func (m *MockService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// Register подключает mock как обработчик create.payment.session.
func (m *MockService) Register(router bus.Router) {
	router.HandleRequest(bus.PatternCreatePaymentSession, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req domain.PaymentSessionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, domain.NewBadRequestError(domain.ErrorKindValidation, fmt.Sprintf("invalid payload: %v", err), err)
		}
		return m.CreatePaymentSession(ctx, req)
	})
}

var _ domain.PaymentService = (*MockService)(nil)
