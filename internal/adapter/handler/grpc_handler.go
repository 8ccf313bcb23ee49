package handler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rl1809/pharmacy-fulfillment/internal/core/domain"
	"github.com/rl1809/pharmacy-fulfillment/internal/core/service"
)

const FulfillmentServiceName = "pharmacy.fulfillment.v1.FulfillmentService"

// FulfillmentServer exchanges google.protobuf.Struct messages whose fields are
// the same JSON documents the HTTP API uses.
type FulfillmentServer interface {
	CreateOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TransitionOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAvailableStock(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetMovementHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReceiveStock(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WriteOffStock(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(FulfillmentServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(FulfillmentServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + FulfillmentServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(FulfillmentServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var FulfillmentServiceDesc = grpc.ServiceDesc{
	ServiceName: FulfillmentServiceName,
	HandlerType: (*FulfillmentServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("CreateOrder", FulfillmentServer.CreateOrder),
		unaryHandler("TransitionOrder", FulfillmentServer.TransitionOrder),
		unaryHandler("GetOrder", FulfillmentServer.GetOrder),
		unaryHandler("GetAvailableStock", FulfillmentServer.GetAvailableStock),
		unaryHandler("GetMovementHistory", FulfillmentServer.GetMovementHistory),
		unaryHandler("ReceiveStock", FulfillmentServer.ReceiveStock),
		unaryHandler("WriteOffStock", FulfillmentServer.WriteOffStock),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pharmacy/fulfillment/v1/fulfillment.proto",
}

type GRPCHandler struct {
	svc    *service.FulfillmentService
	logger *zap.Logger
}

func NewGRPCHandler(svc *service.FulfillmentService, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{svc: svc, logger: logger}
}

// Register adds the fulfillment and health services to s.
func (h *GRPCHandler) Register(s *grpc.Server) *health.Server {
	s.RegisterService(&FulfillmentServiceDesc, h)

	hs := health.NewServer()
	hs.SetServingStatus(FulfillmentServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return hs
}

type orderRef struct {
	OrderID string `json:"order_id"`
}

type productRef struct {
	ProductID string `json:"product_id"`
}

func (h *GRPCHandler) CreateOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req CreateOrderRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, grpcError(err)
	}
	order, err := h.svc.CreateOrder(ctx, req.toDomain())
	if err != nil {
		return nil, h.fail("CreateOrder", err)
	}
	return toStruct(newOrderResponse(order))
}

func (h *GRPCHandler) TransitionOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req TransitionRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, grpcError(err)
	}
	for _, check := range []error{
		requireField("order_id", req.OrderID),
		requireField("status", req.Status),
		requireField("actor", req.Actor),
	} {
		if check != nil {
			return nil, grpcError(check)
		}
	}
	order, err := h.svc.TransitionOrder(ctx, req.OrderID, domain.OrderStatus(req.Status), req.Actor, req.Note)
	if err != nil {
		return nil, h.fail("TransitionOrder", err)
	}
	return toStruct(newOrderResponse(order))
}

func (h *GRPCHandler) GetOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req orderRef
	if err := fromStruct(in, &req); err != nil {
		return nil, grpcError(err)
	}
	if err := requireField("order_id", req.OrderID); err != nil {
		return nil, grpcError(err)
	}
	order, err := h.svc.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, h.fail("GetOrder", err)
	}
	return toStruct(newOrderResponse(order))
}

func (h *GRPCHandler) GetAvailableStock(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req productRef
	if err := fromStruct(in, &req); err != nil {
		return nil, grpcError(err)
	}
	available, err := h.svc.GetAvailableStock(ctx, req.ProductID)
	if err != nil {
		return nil, h.fail("GetAvailableStock", err)
	}
	return toStruct(AvailabilityResponse{ProductID: req.ProductID, Available: available})
}

func (h *GRPCHandler) GetMovementHistory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req MovementQuery
	if err := fromStruct(in, &req); err != nil {
		return nil, grpcError(err)
	}
	filter, err := req.toFilter()
	if err != nil {
		return nil, grpcError(err)
	}
	movements, err := h.svc.GetMovementHistory(ctx, req.ProductID, filter)
	if err != nil {
		return nil, h.fail("GetMovementHistory", err)
	}
	return toStruct(newMovementsResponse(movements))
}

func (h *GRPCHandler) ReceiveStock(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req StockChangeRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, grpcError(err)
	}
	st, err := h.svc.ReceiveStock(ctx, req.toChange(req.ProductID))
	if err != nil {
		return nil, h.fail("ReceiveStock", err)
	}
	return toStruct(newStockResponse(req.ProductID, st))
}

func (h *GRPCHandler) WriteOffStock(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req StockChangeRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, grpcError(err)
	}
	st, err := h.svc.WriteOffStock(ctx, req.toChange(req.ProductID))
	if err != nil {
		return nil, h.fail("WriteOffStock", err)
	}
	return toStruct(newStockResponse(req.ProductID, st))
}

func (h *GRPCHandler) fail(method string, err error) error {
	if domain.KindOf(err).Class() == domain.ClassInternal {
		h.logger.Error("rpc failed", zap.String("method", method), zap.Error(err))
	}
	return grpcError(err)
}

func fromStruct(in *structpb.Struct, dst any) error {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return badBody(err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return badBody(err)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, grpcError(err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, grpcError(err)
	}
	return out, nil
}
