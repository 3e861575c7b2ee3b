package topicreg

import "errors"

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// 生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNotStarted 注册表未启动
	ErrNotStarted = errors.New("registry not started")

	// ErrAlreadyStarted 注册表已启动
	ErrAlreadyStarted = errors.New("registry already started")

	// ErrRegistryClosed 注册表已关闭
	ErrRegistryClosed = errors.New("registry closed")

	// ErrExternallyManaged 注册表由外部 fx 应用管理生命周期
	ErrExternallyManaged = errors.New("registry lifecycle managed by host fx app")

	// ────────────────────────────────────────────────────────────────────────
	// 配置错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNilConfig 配置为空
	ErrNilConfig = errors.New("nil config")
)
