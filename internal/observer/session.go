// internal/observer/session.go
package observer

import (
	"context"
	"errors"
	"sync"

	"github.com/Corphon/HoverLens/internal/models"
	"github.com/Corphon/HoverLens/internal/utils"
	"github.com/google/uuid"
)

// ErrNoTrigger 当前没有可点击的按钮
var ErrNoTrigger = errors.New("当前没有分析按钮")

// Sender 把消息发给协调器
type Sender interface {
	Send(ctx context.Context, env models.Envelope) error
}

// PromptSource 读取当前提示词文本
type PromptSource func(ctx context.Context) (string, error)

// RelatedTarget 鼠标移出后进入的元素
type RelatedTarget int

const (
	TargetElsewhere RelatedTarget = iota
	TargetTrigger
	TargetImage
)

// Trigger 悬停按钮
type Trigger struct {
	ImageSrc  string              `json:"imageSrc"`
	State     models.TriggerState `json:"state"`
	Visible   bool                `json:"visible"`
	Position  Position            `json:"position"`
	RequestID string              `json:"requestId,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// Label 按钮文字
func (t Trigger) Label() string {
	return t.State.Label()
}

// Option 会话选项
type Option func(*Session)

// WithButtonSize 设置按钮尺寸
func WithButtonSize(w, h float64) Option {
	return func(s *Session) { s.btnW, s.btnH = w, h }
}

// WithPromptSource 点击时读取当前提示词
func WithPromptSource(src PromptSource) Option {
	return func(s *Session) { s.prompt = src }
}

// WithOnChange 按钮状态变化回调，在会话锁内执行，回调里不能再调用 Session
func WithOnChange(fn func(Trigger, bool)) Option {
	return func(s *Session) { s.onChange = fn }
}

// WithEnabled 初始开关状态
func WithEnabled(enabled bool) Option {
	return func(s *Session) { s.enabled = enabled }
}

// WithLogger 设置日志
func WithLogger(l utils.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// Session 单个页面的观察者。每个页面一个实例，最多一个按钮。
type Session struct {
	contextID string
	sender    Sender
	prompt    PromptSource
	onChange  func(Trigger, bool)
	logger    utils.Logger

	mu      sync.Mutex
	enabled bool
	trigger *Trigger
	image   *Image
	btnW    float64
	btnH    float64
}

// NewSession 创建页面会话；contextID 形如 page:<id>
func NewSession(contextID string, sender Sender, opts ...Option) *Session {
	s := &Session{
		contextID: contextID,
		sender:    sender,
		enabled:   true,
		btnW:      DefaultButtonWidth,
		btnH:      DefaultButtonHeight,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = utils.GetLogger()
	}
	return s
}

// ContextID 会话标识
func (s *Session) ContextID() string {
	return s.contextID
}

// Enabled 悬停分析是否开启
func (s *Session) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Trigger 返回按钮快照
func (s *Session) Trigger() (Trigger, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trigger == nil {
		return Trigger{}, false
	}
	return *s.trigger, true
}

// notify 调用方必须持有锁
func (s *Session) notify() {
	if s.onChange == nil {
		return
	}
	if s.trigger == nil {
		s.onChange(Trigger{}, false)
		return
	}
	s.onChange(*s.trigger, true)
}

// MouseOver 指针进入图片
func (s *Session) MouseOver(img Image, vp Viewport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled || !img.LargeEnough() {
		return false
	}

	s.image = &img

	if s.trigger == nil || s.trigger.ImageSrc != img.Src {
		// 换图时替换按钮，位置只在创建时计算
		s.trigger = &Trigger{
			ImageSrc: img.Src,
			State:    models.TriggerIdle,
			Position: PlaceTrigger(img.Rect, vp, s.btnW, s.btnH),
		}
	}
	s.trigger.Visible = true
	s.notify()
	return true
}

// MouseOut 指针离开图片
func (s *Session) MouseOut(img Image, related RelatedTarget) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled || s.trigger == nil {
		return
	}
	if related == TargetTrigger || related == TargetImage {
		return
	}
	if s.trigger.State == models.TriggerAnalyzing {
		return
	}
	s.trigger.Visible = false
	s.notify()
}

// Scroll 滚动后按图片的新位置重新放置按钮
func (s *Session) Scroll(rect Rect, vp Viewport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled || s.trigger == nil || s.image == nil {
		return
	}
	s.image.Rect = rect
	s.trigger.Position = PlaceTrigger(rect, vp, s.btnW, s.btnH)
	s.notify()
}

// Click 点击按钮。分析中忽略；失败后第一次点击只复位。
func (s *Session) Click(ctx context.Context) error {
	s.mu.Lock()
	if s.trigger == nil {
		s.mu.Unlock()
		return ErrNoTrigger
	}

	switch s.trigger.State {
	case models.TriggerAnalyzing:
		s.mu.Unlock()
		s.logger.Debug("分析已在进行中，请等待", map[string]interface{}{"context_id": s.contextID})
		return nil
	case models.TriggerError:
		s.trigger.State = models.TriggerIdle
		s.trigger.Error = ""
		s.notify()
		s.mu.Unlock()
		return nil
	}

	requestID := uuid.NewString()
	s.trigger.State = models.TriggerAnalyzing
	s.trigger.RequestID = requestID
	s.trigger.Error = ""
	src := s.trigger.ImageSrc
	s.notify()
	s.mu.Unlock()

	prompt := ""
	if s.prompt != nil {
		text, err := s.prompt(ctx)
		if err != nil {
			s.logger.Warn("读取当前提示词失败", map[string]interface{}{"error": err})
		} else {
			prompt = text
		}
	}

	env := models.NewEnvelope(models.MsgAnalyzeImage)
	env.RequestID = requestID
	env.ContextID = s.contextID
	env.Origin = models.OriginPage
	env.ImageURL = src
	env.Prompt = prompt

	if err := s.sender.Send(ctx, env); err != nil {
		s.logger.Error("发送分析请求失败", map[string]interface{}{
			"error":      err,
			"request_id": requestID,
		})
		s.mu.Lock()
		if s.trigger != nil && s.trigger.RequestID == requestID {
			s.trigger.State = models.TriggerError
			s.trigger.Error = err.Error()
			s.notify()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// HandleMessage 处理协调器发来的消息
func (s *Session) HandleMessage(env models.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch env.Type {
	case models.MsgAnalysisComplete:
		if s.trigger == nil || s.trigger.State != models.TriggerAnalyzing {
			return
		}
		if env.RequestID != "" && env.RequestID != s.trigger.RequestID {
			return
		}
		if env.Success != nil && *env.Success {
			s.trigger.State = models.TriggerSuccess
			s.trigger.Error = ""
		} else {
			s.trigger.State = models.TriggerError
			s.trigger.Error = env.Error
			s.logger.Warn("分析错误", map[string]interface{}{"error": env.Error, "request_id": env.RequestID})
		}
		s.notify()

	case models.MsgFeatureStateChanged:
		if env.Enabled == nil {
			return
		}
		s.enabled = *env.Enabled
		if !s.enabled && s.trigger != nil {
			s.trigger = nil
			s.image = nil
			s.notify()
		}
	}
}

// Close 页面关闭时移除按钮
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trigger != nil {
		s.trigger = nil
		s.image = nil
		s.notify()
	}
}
