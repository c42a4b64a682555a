// internal/messaging/schema.go
package messaging

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/Corphon/HoverLens/internal/errors"
	"github.com/Corphon/HoverLens/internal/models"
	"github.com/xeipuuv/gojsonschema"
)

// 客户端可以发送的消息
const inboundSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"type": "string", "enum": ["ANALYZE_IMAGE", "ping"]},
    "requestId": {"type": "string"},
    "contextId": {"type": "string"},
    "origin": {"type": "string", "enum": ["page", "popup"]},
    "imageUrl": {"type": "string"},
    "image": {"type": "string"},
    "prompt": {"type": "string"}
  },
  "anyOf": [
    {"properties": {"type": {"not": {"enum": ["ANALYZE_IMAGE"]}}}},
    {"required": ["imageUrl"], "properties": {"imageUrl": {"minLength": 1}}},
    {"required": ["image"], "properties": {"image": {"minLength": 1, "pattern": "^data:"}}}
  ]
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func inbound() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(inboundSchema))
	})
	return schema, schemaErr
}

// ValidateEnvelope 校验客户端消息并解码
func ValidateEnvelope(raw []byte) (models.Envelope, error) {
	var env models.Envelope

	s, err := inbound()
	if err != nil {
		return env, apperrors.NewProcessingError("加载消息 schema 失败", err)
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return env, apperrors.NewValidationError("消息不是合法的 JSON", err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return env, apperrors.NewValidationError(
			fmt.Sprintf("消息格式错误: %s", strings.Join(errs, "; ")), nil)
	}

	if err := json.Unmarshal(raw, &env); err != nil {
		return env, apperrors.NewValidationError("消息解码失败", err)
	}
	return env, nil
}
