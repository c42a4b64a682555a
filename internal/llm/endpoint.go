// internal/llm/endpoint.go
package llm

import (
	"regexp"
	"strings"
)

// DefaultBaseURL 未配置地址时使用
const DefaultBaseURL = "https://chatapi.aisws.com"

// ChatCompletionsPath 固定追加的路径
const ChatCompletionsPath = "/v1/chat/completions"

var (
	trailingSlashes  = regexp.MustCompile(`/+$`)
	duplicateSlashes = regexp.MustCompile(`([^:]/)/+`)
)

// NormalizeBaseURL 去掉首尾空白、所有 @、协议之外的重复斜杠以及末尾斜杠。
// 常见输入是从聊天工具里复制出来的 "@https://host/"。
func NormalizeBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	base = strings.ReplaceAll(base, "@", "")
	base = trailingSlashes.ReplaceAllString(base, "")
	base = duplicateSlashes.ReplaceAllString(base, "$1")
	base = trailingSlashes.ReplaceAllString(base, "")

	if base == "" {
		return DefaultBaseURL
	}
	return base
}

// BuildChatEndpoint 生成完整的 chat completions 地址
func BuildChatEndpoint(raw string) string {
	return NormalizeBaseURL(raw) + ChatCompletionsPath
}
