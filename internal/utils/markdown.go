// internal/utils/markdown.go
package utils

import (
	"bytes"
	"html"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	policy   = bluemonday.UGCPolicy()
)

// RenderMarkdown 把模型返回的 markdown 转成安全的 HTML
func RenderMarkdown(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return policy.Sanitize(buf.String()), nil
}

// RenderAnalysisError 错误提示
func RenderAnalysisError(msg string) string {
	return `<div class="error">分析失败: ` + html.EscapeString(msg) + `</div>`
}

// RenderResult 渲染分析结果，渲染失败时退化为错误提示
func RenderResult(md string) string {
	out, err := RenderMarkdown(md)
	if err != nil {
		return RenderAnalysisError(err.Error())
	}
	return out
}
