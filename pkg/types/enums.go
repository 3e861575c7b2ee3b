package types

import (
	"fmt"
	"strings"
)

// ============================================================================
//                              WriteConsistency - 写一致性
// ============================================================================

// WriteConsistency 复制写入的确认阈值
type WriteConsistency int

const (
	// WriteLocal 仅本地确认
	WriteLocal WriteConsistency = iota
	// WriteMajority 多数副本确认
	WriteMajority
	// WriteAll 全部副本确认
	WriteAll
)

// String 返回写一致性的字符串表示
func (wc WriteConsistency) String() string {
	switch wc {
	case WriteLocal:
		return "local"
	case WriteMajority:
		return "majority"
	case WriteAll:
		return "all"
	default:
		return "unknown"
	}
}

// ParseWriteConsistency 解析写一致性
func ParseWriteConsistency(s string) (WriteConsistency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local", "":
		return WriteLocal, nil
	case "majority":
		return WriteMajority, nil
	case "all":
		return WriteAll, nil
	default:
		return WriteLocal, fmt.Errorf("%w: %q", ErrInvalidWriteConsistency, s)
	}
}

// RequiredAcks 返回在 replicas 个副本（不含主副本）下需要的副本确认数
func (wc WriteConsistency) RequiredAcks(replicas int) int {
	if replicas <= 0 {
		return 0
	}
	switch wc {
	case WriteMajority:
		return (replicas + 1) / 2
	case WriteAll:
		return replicas
	default:
		return 0
	}
}

// ============================================================================
//                              BackoffKind - 退避策略
// ============================================================================

// BackoffKind 重试退避策略
type BackoffKind int

const (
	// BackoffFixed 固定延迟
	BackoffFixed BackoffKind = iota
	// BackoffExponential 指数退避
	BackoffExponential
)

// String 返回退避策略的字符串表示
func (b BackoffKind) String() string {
	switch b {
	case BackoffFixed:
		return "fixed"
	case BackoffExponential:
		return "exponential"
	default:
		return "unknown"
	}
}

// ParseBackoffKind 解析退避策略
func ParseBackoffKind(s string) (BackoffKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed":
		return BackoffFixed, nil
	case "exponential", "":
		return BackoffExponential, nil
	default:
		return BackoffFixed, fmt.Errorf("%w: %q", ErrInvalidBackoff, s)
	}
}
