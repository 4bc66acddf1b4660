// Package backend 提供各能力面后端共享的参数解码辅助函数。工具参数以
// map[string]any 形式到达，数值在 JSON 解码后可能是 float64、int 或
// json.Number，这里统一收口。
package backend

import (
	"encoding/json"
	"strings"
)

// StringArg 按键取出字符串参数并去除首尾空白，缺失或类型不符返回空串。
func StringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if value, ok := args[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

// IntArg 按键取出整数参数，缺失或类型不符返回 fallback。
func IntArg(args map[string]any, key string, fallback int) int {
	if args == nil {
		return fallback
	}
	switch value := args[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	case json.Number:
		if n, err := value.Int64(); err == nil {
			return int(n)
		}
	}
	return fallback
}

// FloatArg 按键取出浮点参数，缺失或类型不符返回 fallback。
func FloatArg(args map[string]any, key string, fallback float64) float64 {
	if args == nil {
		return fallback
	}
	switch value := args[key].(type) {
	case float64:
		return value
	case int:
		return float64(value)
	case int64:
		return float64(value)
	case json.Number:
		if f, err := value.Float64(); err == nil {
			return f
		}
	}
	return fallback
}

// StringsArg 按键取出字符串列表参数，容忍 []any 形式的 JSON 数组。
func StringsArg(args map[string]any, key string) []string {
	if args == nil {
		return nil
	}
	switch value := args[key].(type) {
	case []string:
		return value
	case []any:
		items := make([]string, 0, len(value))
		for _, item := range value {
			if s, ok := item.(string); ok {
				items = append(items, s)
			}
		}
		return items
	}
	return nil
}
