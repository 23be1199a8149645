package log

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/mwantia/fabric/pkg/container"
)

// LoggerTagProcessor injects loggers into fields tagged `fabric:"logger"`
// (the registered LoggerService) or `fabric:"logger:<name>"` (the same
// service narrowed with Named).
type LoggerTagProcessor struct{}

func NewLoggerTagProcessor() *LoggerTagProcessor {
	return &LoggerTagProcessor{}
}

// GetPriority runs ahead of the default inject processor.
func (ltp *LoggerTagProcessor) GetPriority() int {
	return 50
}

func (ltp *LoggerTagProcessor) CanProcess(value string) bool {
	return strings.EqualFold(value, "logger") || strings.HasPrefix(strings.ToLower(value), "logger:")
}

func (ltp *LoggerTagProcessor) Process(ctx context.Context, sc *container.ServiceContainer, field reflect.StructField, value string) (any, error) {
	ok, resolved := sc.ResolveByType(ctx, reflect.TypeOf((*LoggerService)(nil)).Elem())
	if !ok {
		return nil, fmt.Errorf("failed to resolve LoggerService for field '%s': no logger service registered", field.Name)
	}

	base, ok := resolved.(LoggerService)
	if !ok {
		return nil, fmt.Errorf("resolved logger for field '%s' is %T, not a LoggerService", field.Name, resolved)
	}

	_, name, _ := strings.Cut(value, ":")
	if name = strings.TrimSpace(name); name != "" {
		return base.Named(name), nil
	}
	return base, nil
}
