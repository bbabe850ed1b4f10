package grpcsvc

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"

	"github.com/vladislavdragonenkov/orders-ms/internal/domain"
)

// ServiceName — полное имя gRPC-сервиса.
const ServiceName = "orders.v1.OrderService"

const (
	methodCreateOrder       = "/" + ServiceName + "/CreateOrder"
	methodFindAllOrders     = "/" + ServiceName + "/FindAllOrders"
	methodFindOneOrder      = "/" + ServiceName + "/FindOneOrder"
	methodChangeOrderStatus = "/" + ServiceName + "/ChangeOrderStatus"
	methodGetOrderTimeline  = "/" + ServiceName + "/GetOrderTimeline"
)

// CreateOrderRequest — позиции нового заказа.
type CreateOrderRequest struct {
	Items []domain.ItemInput `json:"items"`
}

// CreateOrderResponse — созданный заказ и платёжная сессия для него.
type CreateOrderResponse struct {
	Order          domain.OrderWithNames `json:"order"`
	PaymentSession json.RawMessage       `json:"paymentSession"`
}

// FindAllOrdersRequest — номер и размер страницы, статус для фильтра (необязателен).
type FindAllOrdersRequest struct {
	Status string `json:"status,omitempty"`
	Page   int    `json:"page,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// FindOneOrderRequest идентифицирует заказ по uuid.
type FindOneOrderRequest struct {
	ID string `json:"id"`
}

// ChangeOrderStatusRequest задаёт новый статус; регистр не важен.
type ChangeOrderStatusRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// GetOrderTimelineRequest идентифицирует заказ, историю которого нужно вернуть.
type GetOrderTimelineRequest struct {
	ID string `json:"id"`
}

// TimelineEvent — событие истории заказа.
type TimelineEvent struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

// GetOrderTimelineResponse — история заказа в порядке появления.
type GetOrderTimelineResponse struct {
	OrderID string          `json:"orderId"`
	Events  []TimelineEvent `json:"events"`
}

// OrderServiceServer — серверная сторона orders.v1.OrderService.
type OrderServiceServer interface {
	CreateOrder(context.Context, *CreateOrderRequest) (*CreateOrderResponse, error)
	FindAllOrders(context.Context, *FindAllOrdersRequest) (*domain.OrderPage, error)
	FindOneOrder(context.Context, *FindOneOrderRequest) (*domain.OrderWithProducts, error)
	ChangeOrderStatus(context.Context, *ChangeOrderStatusRequest) (*domain.OrderWithProducts, error)
	GetOrderTimeline(context.Context, *GetOrderTimelineRequest) (*GetOrderTimelineResponse, error)
}

// RegisterOrderServiceServer регистрирует реализацию на gRPC-сервере.
func RegisterOrderServiceServer(registrar grpc.ServiceRegistrar, srv OrderServiceServer) {
	registrar.RegisterService(&OrderServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](
	method string,
	call func(OrderServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(OrderServiceServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(server, ctx, req.(*Req))
		})
	}
}

// OrderServiceDesc описывает orders.v1.OrderService для grpc.Server.
var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CreateOrder",
			Handler:    unaryHandler(methodCreateOrder, OrderServiceServer.CreateOrder),
		},
		{
			MethodName: "FindAllOrders",
			Handler:    unaryHandler(methodFindAllOrders, OrderServiceServer.FindAllOrders),
		},
		{
			MethodName: "FindOneOrder",
			Handler:    unaryHandler(methodFindOneOrder, OrderServiceServer.FindOneOrder),
		},
		{
			MethodName: "ChangeOrderStatus",
			Handler:    unaryHandler(methodChangeOrderStatus, OrderServiceServer.ChangeOrderStatus),
		},
		{
			MethodName: "GetOrderTimeline",
			Handler:    unaryHandler(methodGetOrderTimeline, OrderServiceServer.GetOrderTimeline),
		},
	},
	Metadata: "orders/v1/orders.json",
}

// OrderServiceClient — клиент orders.v1.OrderService с JSON-кодеком.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewOrderServiceClient создаёт клиент поверх соединения.
func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

func (c *OrderServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *OrderServiceClient) CreateOrder(ctx context.Context, in *CreateOrderRequest, opts ...grpc.CallOption) (*CreateOrderResponse, error) {
	out := new(CreateOrderResponse)
	if err := c.invoke(ctx, methodCreateOrder, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) FindAllOrders(ctx context.Context, in *FindAllOrdersRequest, opts ...grpc.CallOption) (*domain.OrderPage, error) {
	out := new(domain.OrderPage)
	if err := c.invoke(ctx, methodFindAllOrders, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) FindOneOrder(ctx context.Context, in *FindOneOrderRequest, opts ...grpc.CallOption) (*domain.OrderWithProducts, error) {
	out := new(domain.OrderWithProducts)
	if err := c.invoke(ctx, methodFindOneOrder, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) ChangeOrderStatus(ctx context.Context, in *ChangeOrderStatusRequest, opts ...grpc.CallOption) (*domain.OrderWithProducts, error) {
	out := new(domain.OrderWithProducts)
	if err := c.invoke(ctx, methodChangeOrderStatus, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) GetOrderTimeline(ctx context.Context, in *GetOrderTimelineRequest, opts ...grpc.CallOption) (*GetOrderTimelineResponse, error) {
	out := new(GetOrderTimelineResponse)
	if err := c.invoke(ctx, methodGetOrderTimeline, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
