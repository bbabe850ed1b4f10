package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
)

const (
	idempotencyKeyHeader = "idempotency-key"
	idempotencyTTL       = 24 * time.Hour
	replayFailedMessage  = "previous request with the same idempotency key failed"
)

// storedFailure — ошибка, сохранённая под ключом, чтобы повтор вернул тот же статус.
type storedFailure struct {
	Code    uint32 `json:"code"`
	Message string `json:"message"`
}

// withIdempotency выполняет handler не больше одного раза на idempotency-key.
// Без ключа в метаданных или без репозитория handler вызывается как есть.
func withIdempotency[T any](
	s *OrderService,
	ctx context.Context,
	method string,
	req any,
	handler func(context.Context) (*T, error),
) (*T, error) {
	key := readIdempotencyKey(ctx)
	if s.idemRepo == nil || key == "" {
		return handler(ctx)
	}
	logger := s.logger.WithField("idempotency_key", key)

	hash, err := requestHash(method, req)
	if err != nil {
		logger.WithError(err).Warn("failed to hash idempotent request")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	record, err := s.idemRepo.CreateProcessing(key, hash, time.Now().UTC().Add(idempotencyTTL))
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return nil, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		return replay[T](record)
	default:
		logger.WithError(err).Warn("failed to create idempotency record")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	resp, runErr := handler(ctx)
	if runErr != nil {
		st := status.Convert(runErr)
		body, _ := json.Marshal(storedFailure{Code: uint32(st.Code()), Message: st.Message()})
		if err := s.idemRepo.MarkFailed(key, body, int(st.Code())); err != nil {
			logger.WithError(err).Warn("failed to store idempotent failure")
		}
		return nil, runErr
	}

	body, err := json.Marshal(resp)
	if err == nil {
		err = s.idemRepo.MarkDone(key, body, int(codes.OK))
	}
	if err != nil {
		logger.WithError(err).Warn("failed to store idempotent response")
	}
	return resp, nil
}

// replay возвращает сохранённый результат первого вызова.
func replay[T any](record domain.IdempotencyRecord) (*T, error) {
	if !record.Finished() {
		return nil, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
	}

	if record.Status == domain.IdempotencyStatusFailed {
		var failure storedFailure
		if err := json.Unmarshal(record.ResponseBody, &failure); err != nil || failure.Code == uint32(codes.OK) {
			return nil, status.Error(codes.Internal, replayFailedMessage)
		}
		if failure.Message == "" {
			failure.Message = replayFailedMessage
		}
		return nil, status.Error(codes.Code(failure.Code), failure.Message)
	}

	if len(record.ResponseBody) == 0 {
		return nil, status.Error(codes.Internal, "idempotency cache is empty")
	}
	resp := new(T)
	if err := json.Unmarshal(record.ResponseBody, resp); err != nil {
		return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
	}
	return resp, nil
}

func readIdempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(idempotencyKeyHeader); len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	return ""
}

// requestHash — sha256 от имени метода и JSON запроса.
func requestHash(method string, req any) (string, error) {
	if req == nil {
		return "", errors.New("request is nil")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{':'})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
