// Package config 提供统一的配置管理
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Duration 配置文件中的时长
//
// JSON 与 TOML 接受同样的写法：带单位的字符串（"20ms"、"1m30s"）或纳秒整数，
// 输出总是带单位的字符串。负值被拒绝，零值由各配置段的 Validate 决定是否合法。
//
//	[registry]
//	flush_interval = "500ms"
type Duration time.Duration

// parseDuration JSON 与 TOML 共用的解析
func parseDuration(s string) (Duration, error) {
	var d time.Duration
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		d = time.Duration(n)
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid duration %q: negative", s)
	}
	return Duration(d), nil
}

// UnmarshalJSON 字符串或纳秒整数
func (d *Duration) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		raw = []byte(s)
	}
	v, err := parseDuration(string(raw))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// MarshalJSON 输出带单位的字符串
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalText 实现 encoding.TextUnmarshaler，供 TOML 使用
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// MarshalText 实现 encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Duration 返回底层的 time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
