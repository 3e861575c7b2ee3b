// Package lib 包含基础设施工具库
//
//   - log: 按组件的 slog 日志封装
package lib
