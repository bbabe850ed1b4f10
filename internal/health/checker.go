package health

import (
	"context"
	"time"
)

// PingChecker сводит проверку к функции ping. При ошибке некритичный
// компонент получает degraded, критичный получает unhealthy.
type PingChecker struct {
	name     string
	ping     func(ctx context.Context) error
	critical bool
}

// NewPingChecker оборачивает ping в критичную проверку.
func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping, critical: true}
}

// NewOptionalChecker — для зависимостей, без которых сервис работает в урезанном режиме.
func NewOptionalChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

func (c *PingChecker) Check(ctx context.Context) Check {
	started := time.Now()
	err := c.ping(ctx)
	result := Check{Name: c.name, Status: StatusHealthy, DurationMs: time.Since(started).Milliseconds()}
	if err == nil {
		return result
	}

	result.Message = err.Error()
	result.Status = StatusDegraded
	if c.critical {
		result.Status = StatusUnhealthy
	}
	return result
}
