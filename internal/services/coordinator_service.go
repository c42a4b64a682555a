// internal/services/coordinator_service.go
package services

import (
	"context"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/HoverLens/internal/errors"
	"github.com/Corphon/HoverLens/internal/imaging"
	"github.com/Corphon/HoverLens/internal/messaging"
	"github.com/Corphon/HoverLens/internal/models"
	"github.com/Corphon/HoverLens/internal/utils"
	"github.com/google/uuid"
)

// CoordinatorService 后台协调器：唯一持有网络与存储访问的一方。
// 每个请求独立执行，不排队、不重试。
type CoordinatorService struct {
	settings  *SettingsService
	prompts   *PromptService
	session   *SessionService
	vision    *VisionService
	fetcher   *imaging.Fetcher
	publisher messaging.Publisher
	logger    utils.Logger
	timeout   time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc

	// mu 保护 closing 与 wg.Add，Shutdown 开始等待后不再接收新请求
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// CoordinatorDeps 协调器依赖
type CoordinatorDeps struct {
	Settings  *SettingsService
	Prompts   *PromptService
	Session   *SessionService
	Vision    *VisionService
	Fetcher   *imaging.Fetcher
	Publisher messaging.Publisher
	Logger    utils.Logger
	Timeout   time.Duration // Submit 发起的后台分析的上限
}

// NewCoordinatorService 创建协调器
func NewCoordinatorService(deps CoordinatorDeps) *CoordinatorService {
	if deps.Logger == nil {
		deps.Logger = utils.GetLogger()
	}
	if deps.Timeout <= 0 {
		deps.Timeout = 120 * time.Second
	}
	if deps.Fetcher == nil {
		deps.Fetcher = imaging.NewFetcher(0, 0)
	}
	if deps.Vision == nil {
		deps.Vision = NewVisionService(DefaultProviderName, deps.Timeout, deps.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &CoordinatorService{
		settings:  deps.Settings,
		prompts:   deps.Prompts,
		session:   deps.Session,
		vision:    deps.Vision,
		fetcher:   deps.Fetcher,
		publisher: deps.Publisher,
		logger:    deps.Logger,
		timeout:   deps.Timeout,
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

func (s *CoordinatorService) publish(env models.Envelope) {
	if s.publisher != nil {
		s.publisher.Publish(env)
	}
}

func prepareRequest(req models.AnalysisRequest) (models.AnalysisRequest, error) {
	req.ImageSource = strings.TrimSpace(req.ImageSource)
	if req.ImageSource == "" {
		return req, apperrors.NewValidationError("缺少图片地址", nil)
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if !req.Origin.Valid() {
		req.Origin = models.OriginPage
	}
	return req, nil
}

// resolvePrompt 请求自带 > 当前模板 > 内置默认
func (s *CoordinatorService) resolvePrompt(ctx context.Context, req models.AnalysisRequest) string {
	if req.PromptText != "" {
		return req.PromptText
	}
	if s.prompts == nil {
		return models.FallbackPromptText
	}
	text, err := s.prompts.Current(ctx)
	if err != nil {
		s.logger.Warn("读取当前提示词失败，使用默认提示词", map[string]interface{}{"error": err})
		return models.FallbackPromptText
	}
	return text
}

// Analyze 同步执行一次分析，并向所有上下文广播进度与结果
func (s *CoordinatorService) Analyze(ctx context.Context, req models.AnalysisRequest) (models.AnalysisResult, error) {
	req, err := prepareRequest(req)
	if err != nil {
		return models.AnalysisResult{Succeeded: false, ErrorMessage: apperrors.UserMessage(err), ErrorKind: string(apperrors.KindOf(err))}, err
	}

	log := s.logger.WithFields(map[string]interface{}{
		"request_id": req.RequestID,
		"origin":     string(req.Origin),
		"context_id": req.ContextID,
	})

	prompt := s.resolvePrompt(ctx, req)
	isPage := req.Origin == models.OriginPage

	if isPage {
		if err := s.session.MarkAnalyzing(ctx, req.RequestID, req.ImageSource); err != nil {
			log.Warn("保存分析状态失败", map[string]interface{}{"error": err})
		}
		claimed, err := s.session.ClaimPopup(ctx, req.RequestID, req.ImageSource)
		if err != nil {
			log.Warn("更新弹窗缓存失败", map[string]interface{}{"error": err})
		} else if !claimed {
			log.Debug("弹窗分析进行中，页面结果不写入弹窗缓存", nil)
		}
		start := models.NewEnvelope(models.MsgAnalysisStart)
		start.RequestID = req.RequestID
		start.ContextID = req.ContextID
		start.Origin = req.Origin
		start.ImageURL = req.ImageSource
		start.Prompt = prompt
		s.publish(start)
	}

	settings, settingsErr := s.settings.Get(ctx)
	mode := settings.EffectiveImageMode()
	if req.Origin == models.OriginPopup {
		mode = models.ImageModeBase64
	}

	timer := utils.StartAnalysis(string(req.Origin), string(mode))
	log.Info("开始分析图片", map[string]interface{}{
		"image_mode": string(mode),
		"model":      settings.EffectiveModel(),
	})

	content, modelName, err := s.run(ctx, req, settings, settingsErr, prompt, mode)

	stateURL := ""
	if isPage {
		stateURL = req.ImageSource
	}

	result := models.AnalysisResult{RequestID: req.RequestID, Model: modelName}
	if err == nil {
		result.Succeeded = true
		result.Content = content

		// 先落盘再广播，收到结果的弹窗重新打开时一定能恢复
		if perr := s.session.MarkCompleted(ctx, req.RequestID, stateURL, content, utils.RenderResult(content)); perr != nil {
			log.Warn("保存分析结果失败", map[string]interface{}{"error": perr})
		}

		env := models.NewEnvelope(models.MsgAnalysisResult)
		env.RequestID = req.RequestID
		env.ContextID = req.ContextID
		env.Origin = req.Origin
		env.Data = content
		s.publish(env)
		elapsed := timer.Finish("")
		log.Info("分析完成", map[string]interface{}{"duration_ms": elapsed.Milliseconds(), "model": modelName})
	} else {
		result.ErrorMessage = apperrors.UserMessage(err)
		result.ErrorKind = string(apperrors.KindOf(err))

		if perr := s.session.MarkFailed(ctx, req.RequestID, stateURL, result.ErrorMessage, utils.RenderAnalysisError(result.ErrorMessage)); perr != nil {
			log.Warn("保存分析错误失败", map[string]interface{}{"error": perr})
		}

		env := models.NewEnvelope(models.MsgAnalysisError)
		env.RequestID = req.RequestID
		env.ContextID = req.ContextID
		env.Origin = req.Origin
		env.Error = result.ErrorMessage
		s.publish(env)
		elapsed := timer.Finish(result.ErrorKind)
		log.Error("分析失败", map[string]interface{}{
			"error":       err,
			"kind":        result.ErrorKind,
			"duration_ms": elapsed.Milliseconds(),
		})
	}

	if isPage {
		complete := models.NewEnvelope(models.MsgAnalysisComplete)
		complete.RequestID = req.RequestID
		complete.ContextID = req.ContextID
		complete.Success = models.BoolPtr(result.Succeeded)
		complete.Error = result.ErrorMessage
		s.publish(complete)
	}

	return result, err
}

// run 检查密钥、准备图片、调用模型
func (s *CoordinatorService) run(ctx context.Context, req models.AnalysisRequest, settings models.Settings, settingsErr error, prompt string, mode models.ImageMode) (string, string, error) {
	if settingsErr != nil {
		return "", "", settingsErr
	}
	// 密钥缺失时不发起任何网络请求，包括下载图片
	if !settings.HasAPIKey() {
		return "", "", apperrors.NewConfigurationError(apperrors.MsgMissingAPIKey)
	}

	image, err := s.fetcher.Materialize(ctx, req.ImageSource, mode)
	if err != nil {
		return "", "", err
	}

	resp, err := s.vision.Analyze(ctx, settings, prompt, image)
	if err != nil {
		return "", "", err
	}
	return resp.Content, resp.ModelName, nil
}

// Submit 立即返回请求ID，分析在后台执行
func (s *CoordinatorService) Submit(ctx context.Context, req models.AnalysisRequest) (string, error) {
	req, err := prepareRequest(req)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return "", apperrors.NewConflictError("协调器正在关闭", nil)
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		runCtx, cancel := context.WithTimeout(s.baseCtx, s.timeout)
		defer cancel()
		_, _ = s.Analyze(runCtx, req)
	}()

	s.logger.Debug("分析请求已受理", map[string]interface{}{
		"request_id": req.RequestID,
		"origin":     string(req.Origin),
	})
	return req.RequestID, nil
}

// Shutdown 等待后台分析结束；超时后取消剩余分析
func (s *CoordinatorService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// Vision 暴露视觉服务状态
func (s *CoordinatorService) Vision() *VisionService {
	return s.vision
}
