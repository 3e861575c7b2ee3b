// Package log 提供 topicreg 统一日志接口
//
// 基于 Go 标准库 log/slog 封装，按组件输出结构化日志。
//
// 环境变量:
//
//	# 默认 info，updater 组件为 debug
//	TOPICREG_LOG_LEVEL=registry/updater=debug,info
//
//	# 使用 JSON 格式输出
//	TOPICREG_LOG_FORMAT=json
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// 日志级别常量（从 slog 导出，方便使用）
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

const (
	envLevel  = "TOPICREG_LOG_LEVEL"
	envFormat = "TOPICREG_LOG_FORMAT"
)

// envConfig 环境变量解析结果
type envConfig struct {
	defaultLevel    slog.Level
	componentLevels map[string]slog.Level
	json            bool
}

var (
	mu        sync.RWMutex
	output    io.Writer = os.Stderr
	envCfg    *envConfig
	loggers   = make(map[string]*slog.Logger)
	envLoaded sync.Once
)

// loadEnv 解析环境变量（只解析一次）
func loadEnv() *envConfig {
	envLoaded.Do(func() {
		envCfg = parseEnv(os.Getenv(envLevel), os.Getenv(envFormat))
	})
	return envCfg
}

// parseEnv 解析级别配置
//
// 格式: component=level,component=level,defaultLevel
func parseEnv(levelStr, formatStr string) *envConfig {
	cfg := &envConfig{
		defaultLevel:    slog.LevelInfo,
		componentLevels: make(map[string]slog.Level),
		json:            strings.EqualFold(strings.TrimSpace(formatStr), "json"),
	}

	for _, part := range strings.Split(levelStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if component, name, ok := strings.Cut(part, "="); ok {
			if level, ok := ParseLevel(name); ok {
				cfg.componentLevels[strings.TrimSpace(component)] = level
			}
			continue
		}
		if level, ok := ParseLevel(part); ok {
			cfg.defaultLevel = level
		}
	}
	return cfg
}

// ParseLevel 解析级别名称
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// levelFor 返回组件的日志级别
func (c *envConfig) levelFor(component string) slog.Level {
	if level, ok := c.componentLevels[component]; ok {
		return level
	}
	return c.defaultLevel
}

// build 为组件创建 slog.Logger（调用方持有写锁）
func build(component string) *slog.Logger {
	cfg := loadEnv()
	opts := &slog.HandlerOptions{Level: cfg.levelFor(component)}

	var h slog.Handler
	if cfg.json {
		h = slog.NewJSONHandler(output, opts)
	} else {
		h = slog.NewTextHandler(output, opts)
	}
	return slog.New(h).With("component", component)
}

// get 获取（必要时创建）组件 logger
func get(component string) *slog.Logger {
	mu.RLock()
	l, ok := loggers[component]
	mu.RUnlock()
	if ok {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[component]; ok {
		return l
	}
	l = build(component)
	loggers[component] = l
	return l
}

// SetOutput 设置日志输出目标
//
// 已创建的 LazyLogger 在下次调用时自动使用新的输出。
func SetOutput(w io.Writer) {
	mu.Lock()
	output = w
	loggers = make(map[string]*slog.Logger)
	mu.Unlock()
}

// SetLevel 设置组件日志级别，component 为空时设置默认级别
func SetLevel(component string, level slog.Level) {
	cfg := loadEnv()
	mu.Lock()
	if component == "" {
		cfg.defaultLevel = level
	} else {
		cfg.componentLevels[component] = level
	}
	loggers = make(map[string]*slog.Logger)
	mu.Unlock()
}

// ============================================================================
//                              LazyLogger
// ============================================================================

// LazyLogger 懒加载 logger
//
// 每次日志调用时按组件名获取当前的 slog.Logger，
// 支持在运行时切换输出目标和级别。
//
//	var logger = log.Logger("registry/updater")
//	logger.Info("订阅已更新", "subscriber", sub)
type LazyLogger struct {
	component string
}

// Logger 返回带组件名的 LazyLogger
func Logger(component string) *LazyLogger {
	return &LazyLogger{component: component}
}

// Component 返回组件名
func (l *LazyLogger) Component() string {
	return l.component
}

// Debug 输出 Debug 级别日志
func (l *LazyLogger) Debug(msg string, args ...any) {
	get(l.component).Debug(msg, args...)
}

// Info 输出 Info 级别日志
func (l *LazyLogger) Info(msg string, args ...any) {
	get(l.component).Info(msg, args...)
}

// Warn 输出 Warn 级别日志
func (l *LazyLogger) Warn(msg string, args ...any) {
	get(l.component).Warn(msg, args...)
}

// Error 输出 Error 级别日志
func (l *LazyLogger) Error(msg string, args ...any) {
	get(l.component).Error(msg, args...)
}

// DebugContext 带 context 的 Debug 日志
func (l *LazyLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	get(l.component).DebugContext(ctx, msg, args...)
}

// WarnContext 带 context 的 Warn 日志
func (l *LazyLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	get(l.component).WarnContext(ctx, msg, args...)
}

// With 添加额外的属性
func (l *LazyLogger) With(args ...any) *slog.Logger {
	return get(l.component).With(args...)
}

// Enabled 检查组件是否启用指定级别
func (l *LazyLogger) Enabled(level slog.Level) bool {
	return get(l.component).Enabled(context.Background(), level)
}

// TruncateID 安全截取 ID 用于日志显示
func TruncateID(id string, maxLen int) string {
	if len(id) <= maxLen {
		return id
	}
	return id[:maxLen]
}
