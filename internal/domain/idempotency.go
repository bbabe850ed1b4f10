package domain

import "time"

// IdempotencyStatus — стадия обработки запроса под ключом идемпотентности.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	IdempotencyStatusFailed     IdempotencyStatus = "failed"
)

// Valid сообщает, знает ли хранилище такой статус.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	}
	return false
}

// IdempotencyRecord — ключ дедупликации вместе с сохранённым ответом.
// Им пользуются gRPC-вызовы с idempotency-key и обработка повторных событий оплаты.
type IdempotencyRecord struct {
	Key         string
	RequestHash string
	// ResponseBody и ResponseStatus заполняются при MarkDone/MarkFailed.
	ResponseBody   []byte
	ResponseStatus int
	Status         IdempotencyStatus
	TTLAt          time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Expired сообщает, что ключ можно занять заново.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.After(now)
}

// Finished сообщает, что ответ уже сохранён.
func (r IdempotencyRecord) Finished() bool {
	return r.Status == IdempotencyStatusDone || r.Status == IdempotencyStatusFailed
}
