package xgrpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// maxLoggedItems limits how many elements of a repeated field are logged.
const maxLoggedItems = 16

// ProtoLogValue is implemented by requests that provide their own log
// representation.
type ProtoLogValue interface {
	AsLogValue() any
}

// AccessLogInterceptor returns a gRPC unary server interceptor that logs
// requests and responses.
//
// The interceptor logs:
// - Debug: method entry with the request
// - Info: successful completion with duration and status
// - Error: failed calls with duration, status and error message
func AccessLogInterceptor(log *zap.SugaredLogger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		now := time.Now()

		fields := methodFields(info.FullMethod)
		if log.Level().Enabled(zap.DebugLevel) {
			log.Debugw("started gRPC execution", append(fields, requestField(req)...)...)
		}

		resp, err := handler(ctx, req)
		duration := time.Since(now)
		status, _ := status.FromError(err)

		fields = append(fields,
			zap.String("status", status.Code().String()),
			zap.Duration("duration", duration),
		)
		if err != nil {
			log.Errorw("failed to execute gRPC", append(fields, zap.Error(err))...)
		} else {
			log.Infow("completed gRPC execution", fields...)
		}

		return resp, err
	}
}

func methodFields(fullMethod string) []any {
	service, method, err := ParseFullMethod(fullMethod)
	if err != nil {
		return []any{zap.String("method", fullMethod)}
	}
	return []any{
		zap.String("service", service),
		zap.String("method", method),
	}
}

func requestField(req any) []any {
	switch req := req.(type) {
	case ProtoLogValue:
		return []any{zap.Any("request", req.AsLogValue())}
	case proto.Message:
		return []any{zap.Any("request", messageLogValue(req))}
	default:
		return nil
	}
}

// messageLogValue converts the proto message into a map suitable for
// structured logging.
//
// Long repeated fields are truncated to their first elements.
func messageLogValue(msg proto.Message) map[string]any {
	result := map[string]any{}

	msgReflect := msg.ProtoReflect()
	msgReflect.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		fieldName := string(fd.Name())

		switch {
		case fd.IsList():
			list := v.List()
			n := min(list.Len(), maxLoggedItems)
			items := make([]any, 0, n+1)
			for i := range n {
				items = append(items, fieldLogValue(fd, list.Get(i)))
			}
			if list.Len() > n {
				items = append(items, "...")
			}
			result[fieldName] = items
		case fd.IsMap():
			mapResult := map[string]any{}
			v.Map().Range(func(k protoreflect.MapKey, v protoreflect.Value) bool {
				mapResult[k.String()] = fieldLogValue(fd.MapValue(), v)
				return true
			})
			result[fieldName] = mapResult
		default:
			result[fieldName] = fieldLogValue(fd, v)
		}
		return true
	})

	return result
}

func fieldLogValue(fd protoreflect.FieldDescriptor, v protoreflect.Value) any {
	if fd.Kind() == protoreflect.MessageKind || fd.Kind() == protoreflect.GroupKind {
		return messageLogValue(v.Message().Interface())
	}
	return v.Interface()
}
