package handler

import (
	"context"
	"errors"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ogurasousui/directory-sync/internal/core/reconcile"
)

// ServiceName は同期制御サービスの完全修飾名です。
const ServiceName = "directorysync.v1.Sync"

// Runner は同期の実行主体です。
type Runner interface {
	Run(ctx context.Context) (*reconcile.Summary, error)
	State() reconcile.State
}

// SyncServer は同期制御サービスのサーバー側インターフェースです。
type SyncServer interface {
	Trigger(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	Status(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

// SyncServiceDesc は SyncServer を grpc.Server に登録するための記述子です。
var SyncServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Trigger", Handler: unaryHandler("Trigger", SyncServer.Trigger)},
		{MethodName: "Status", Handler: unaryHandler("Status", SyncServer.Status)},
	},
	Streams: []grpc.StreamDesc{},
}

// SyncGrpcHandler は同期の手動実行と直近結果の参照を提供します。
type SyncGrpcHandler struct {
	runner   Runner
	onResult func(*reconcile.Summary, error)

	mu       sync.RWMutex
	last     *reconcile.Summary
	lastErr  error
	lastDone time.Time
}

// NewSyncGrpcHandler は SyncGrpcHandler を生成します。onResult は実行ごとに呼び出されます (nil 可)。
func NewSyncGrpcHandler(runner Runner, onResult func(*reconcile.Summary, error)) *SyncGrpcHandler {
	return &SyncGrpcHandler{runner: runner, onResult: onResult}
}

// RunOnce は同期を 1 回実行し結果を記録します。定期実行からも利用されます。
func (h *SyncGrpcHandler) RunOnce(ctx context.Context) (*reconcile.Summary, error) {
	summary, err := h.runner.Run(ctx)
	if !errors.Is(err, reconcile.ErrRunInProgress) {
		h.mu.Lock()
		h.last = summary
		h.lastErr = err
		h.lastDone = time.Now().UTC()
		h.mu.Unlock()
	}
	if h.onResult != nil {
		h.onResult(summary, err)
	}
	return summary, err
}

// Trigger は同期を即時実行し、その要約を返します。
func (h *SyncGrpcHandler) Trigger(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	summary, err := h.RunOnce(ctx)
	if err != nil {
		return nil, toStatusError(err)
	}
	return summaryStruct(summary)
}

// Status は現在の状態と直近の実行結果を返します。
func (h *SyncGrpcHandler) Status(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	h.mu.RLock()
	last, lastErr, lastDone := h.last, h.lastErr, h.lastDone
	h.mu.RUnlock()

	fields := map[string]any{"state": string(h.runner.State())}
	if !lastDone.IsZero() {
		fields["last_finished_at"] = lastDone.Format(time.RFC3339)
	}
	if lastErr != nil {
		fields["last_error"] = lastErr.Error()
	}
	if last != nil {
		s, err := summaryStruct(last)
		if err != nil {
			return nil, err
		}
		fields["last_summary"] = s.AsMap()
	}

	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func summaryStruct(s *reconcile.Summary) (*structpb.Struct, error) {
	c := s.Counters
	out, err := structpb.NewStruct(map[string]any{
		"run_id":                s.RunID,
		"dry_run":               s.DryRun,
		"source_count":          s.SourceCount,
		"target_count":          s.TargetCount,
		"created":               c.Created,
		"updated":               c.Updated,
		"unchanged":             c.Unchanged,
		"skipped":               c.Skipped,
		"manager_links_updated": c.ManagerLinksUpdated,
		"manager_unresolved":    c.ManagerUnresolved,
		"manager_link_failures": c.ManagerLinkFailures,
		"lookup_failures":       c.LookupFailures,
		"ambiguous":             c.Ambiguous,
		"started_at":            s.StartedAt.Format(time.RFC3339),
		"finished_at":           s.FinishedAt.Format(time.RFC3339),
		"duration_seconds":      s.Duration().Seconds(),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

type unaryMethod func(SyncServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)

func unaryHandler(name string, method unaryMethod) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(srv.(SyncServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return method(srv.(SyncServer), ctx, req.(*emptypb.Empty))
		})
	}
}
