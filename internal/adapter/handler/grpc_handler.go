package handler

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/crop-exchange/internal/core/domain"
	"github.com/rl1809/crop-exchange/internal/core/service"
)

const (
	ServiceName = "cropexchange.v1.ExchangeService"

	// JSONCodecName is the content subtype clients select with
	// grpc.CallContentSubtype.
	JSONCodecName = "json"

	partyMetadataKey = "x-party-id"
)

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type OrderActionRequest struct {
	OrderID string `json:"order_id"`
}

type PartyQuery struct {
	PartyID string `json:"party_id"`
}

type BatchQuery struct {
	BatchID string `json:"batch_id"`
}

type OrderList struct {
	Orders []OrderResponse `json:"orders"`
}

type BatchList struct {
	Batches []BatchResponse `json:"batches"`
}

// ExchangeServer is the order-lifecycle surface exposed over gRPC.
type ExchangeServer interface {
	CreateOrder(context.Context, *CreateOrderRequest) (*OrderResponse, error)
	AcceptOrder(context.Context, *OrderActionRequest) (*OrderResponse, error)
	RejectOrder(context.Context, *OrderActionRequest) (*OrderResponse, error)
	MarkShipped(context.Context, *OrderActionRequest) (*OrderResponse, error)
	MarkDelivered(context.Context, *OrderActionRequest) (*OrderResponse, error)
	GetOrder(context.Context, *OrderActionRequest) (*OrderResponse, error)
	ListOrdersByParty(context.Context, *PartyQuery) (*OrderList, error)
	GetBatch(context.Context, *BatchQuery) (*BatchResponse, error)
	ListBatchesByOwner(context.Context, *PartyQuery) (*BatchList, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateOrder", ExchangeServer.CreateOrder),
		unary("AcceptOrder", ExchangeServer.AcceptOrder),
		unary("RejectOrder", ExchangeServer.RejectOrder),
		unary("MarkShipped", ExchangeServer.MarkShipped),
		unary("MarkDelivered", ExchangeServer.MarkDelivered),
		unary("GetOrder", ExchangeServer.GetOrder),
		unary("ListOrdersByParty", ExchangeServer.ListOrdersByParty),
		unary("GetBatch", ExchangeServer.GetBatch),
		unary("ListBatchesByOwner", ExchangeServer.ListBatchesByOwner),
	},
	Metadata: "cropexchange/v1/exchange.proto",
}

func RegisterExchangeServer(s grpc.ServiceRegistrar, srv ExchangeServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unary[Req, Resp any](name string, call func(ExchangeServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			invoke := func(ctx context.Context, req any) (any, error) {
				resp, err := call(srv.(ExchangeServer), ctx, req.(*Req))
				if err != nil {
					return nil, toStatus(err)
				}
				return resp, nil
			}
			if interceptor == nil {
				return invoke(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, invoke)
		},
	}
}

func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(classify(err).grpcCode, err.Error())
}

// LoggingInterceptor logs each call with its outcome code.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("latency", time.Since(start)),
		}
		if code == codes.Internal || code == codes.Unknown {
			logger.Error("RPC failed", append(fields, zap.Error(err))...)
		} else {
			logger.Debug("RPC handled", fields...)
		}
		return resp, err
	}
}

type GRPCHandler struct {
	orders  *service.OrderService
	batches *service.BatchService
}

func NewGRPCHandler(svc Services) *GRPCHandler {
	return &GRPCHandler{orders: svc.Orders, batches: svc.Batches}
}

func callerFromMetadata(ctx context.Context) (string, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	if ids := md.Get(partyMetadataKey); len(ids) > 0 && ids[0] != "" {
		return ids[0], nil
	}
	return "", status.Error(codes.Unauthenticated, "missing "+partyMetadataKey+" metadata")
}

func (h *GRPCHandler) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderResponse, error) {
	buyerID, err := callerFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if req.BuyerID != "" && req.BuyerID != buyerID {
		return nil, status.Error(codes.PermissionDenied, "buyer_id does not match caller")
	}
	order, err := h.orders.CreateOrder(ctx, service.CreateOrderRequest{
		RequestID: req.RequestID,
		BatchID:   req.BatchID,
		BuyerID:   buyerID,
		SellerID:  req.SellerID,
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
	})
	if err != nil {
		return nil, err
	}
	resp := toOrder(order)
	return &resp, nil
}

func (h *GRPCHandler) AcceptOrder(ctx context.Context, req *OrderActionRequest) (*OrderResponse, error) {
	sellerID, err := callerFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	return orderResult(h.orders.AcceptOrder(ctx, req.OrderID, sellerID))
}

func (h *GRPCHandler) RejectOrder(ctx context.Context, req *OrderActionRequest) (*OrderResponse, error) {
	sellerID, err := callerFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	return orderResult(h.orders.RejectOrder(ctx, req.OrderID, sellerID))
}

func (h *GRPCHandler) MarkShipped(ctx context.Context, req *OrderActionRequest) (*OrderResponse, error) {
	return orderResult(h.orders.MarkShipped(ctx, req.OrderID))
}

func (h *GRPCHandler) MarkDelivered(ctx context.Context, req *OrderActionRequest) (*OrderResponse, error) {
	return orderResult(h.orders.MarkDelivered(ctx, req.OrderID))
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *OrderActionRequest) (*OrderResponse, error) {
	return orderResult(h.orders.GetOrder(ctx, req.OrderID))
}

func (h *GRPCHandler) ListOrdersByParty(ctx context.Context, req *PartyQuery) (*OrderList, error) {
	orders, err := h.orders.ListOrdersByParty(ctx, req.PartyID)
	if err != nil {
		return nil, err
	}
	return &OrderList{Orders: toOrders(orders)}, nil
}

func (h *GRPCHandler) GetBatch(ctx context.Context, req *BatchQuery) (*BatchResponse, error) {
	batch, err := h.batches.GetBatch(ctx, req.BatchID)
	if err != nil {
		return nil, err
	}
	resp := toBatch(batch)
	return &resp, nil
}

func (h *GRPCHandler) ListBatchesByOwner(ctx context.Context, req *PartyQuery) (*BatchList, error) {
	batches, err := h.batches.ListBatchesByOwner(ctx, req.PartyID)
	if err != nil {
		return nil, err
	}
	return &BatchList{Batches: toBatches(batches)}, nil
}

func orderResult(order *domain.Order, err error) (*OrderResponse, error) {
	if err != nil {
		return nil, err
	}
	resp := toOrder(order)
	return &resp, nil
}
