package gateway

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// LoggingService is a service that exposes logging configuration at runtime.
type LoggingService struct {
	atom *zap.AtomicLevel
	log  *zap.SugaredLogger
}

// NewLoggingService creates a new LoggingService.
func NewLoggingService(atom *zap.AtomicLevel, log *zap.SugaredLogger) *LoggingService {
	return &LoggingService{
		atom: atom,
		log:  log,
	}
}

// UpdateLevel updates the minimum logging level.
//
// The request carries the level name in the "level" field.
func (m *LoggingService) UpdateLevel(
	ctx context.Context,
	req *structpb.Struct,
) (*emptypb.Empty, error) {
	if m.atom == nil {
		return nil, status.Errorf(codes.Unimplemented, "service doesn't support setting log level dynamically")
	}

	level, err := convertLevel(req.GetFields()["level"].GetStringValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "failed to convert logging level: %v", err)
	}

	m.atom.SetLevel(level)
	m.log.Infof("updated log level to %q", level)

	return &emptypb.Empty{}, nil
}

func convertLevel(v string) (zapcore.Level, error) {
	switch v {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InvalidLevel, fmt.Errorf("unexpected value: %q", v)
	}
}
