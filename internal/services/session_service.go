// internal/services/session_service.go
package services

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "github.com/Corphon/HoverLens/internal/errors"
	"github.com/Corphon/HoverLens/internal/models"
	"github.com/Corphon/HoverLens/internal/storage"
	"github.com/Corphon/HoverLens/internal/utils"
)

// SessionService 会话缓存（local 区域）
type SessionService struct {
	store  storage.Store
	logger utils.Logger
	now    func() time.Time

	// popupMu 串行化弹窗缓存的读改写
	popupMu sync.Mutex
}

// NewSessionService 创建会话缓存服务
func NewSessionService(store storage.Store, logger utils.Logger) *SessionService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &SessionService{store: store, logger: logger, now: time.Now}
}

// MarkAnalyzing 记录正在分析的图片
func (s *SessionService) MarkAnalyzing(ctx context.Context, requestID, imageURL string) error {
	state := models.AnalysisState{
		Status:          models.StatusAnalyzing,
		RequestID:       requestID,
		CurrentImageURL: imageURL,
		UpdatedAt:       s.now(),
	}
	if err := s.store.Set(ctx, models.KeyAnalysisState, state); err != nil {
		return apperrors.WrapError(err, "保存分析状态失败", apperrors.ErrorTypeError)
	}
	return nil
}

// MarkCompleted 状态与结果一次写入；resultHTML 在弹窗缓存归属该请求时一并写入
func (s *SessionService) MarkCompleted(ctx context.Context, requestID, imageURL, content, resultHTML string) error {
	return s.finish(ctx, models.AnalysisState{
		Status:          models.StatusCompleted,
		RequestID:       requestID,
		CurrentImageURL: imageURL,
		LastResult:      content,
	}, resultHTML)
}

// MarkFailed 状态与错误一次写入
func (s *SessionService) MarkFailed(ctx context.Context, requestID, imageURL, message, resultHTML string) error {
	return s.finish(ctx, models.AnalysisState{
		Status:          models.StatusFailed,
		RequestID:       requestID,
		CurrentImageURL: imageURL,
		Error:           message,
	}, resultHTML)
}

// finish 状态记录与弹窗结果放在同一次 SetMany 中
func (s *SessionService) finish(ctx context.Context, state models.AnalysisState, resultHTML string) error {
	s.popupMu.Lock()
	defer s.popupMu.Unlock()

	state.UpdatedAt = s.now()
	values := map[string]interface{}{models.KeyAnalysisState: state}

	owner, err := s.popupOwner(ctx)
	if err != nil {
		return err
	}
	if owner != "" && owner == state.RequestID {
		values[models.KeyLastResult] = resultHTML
		values[models.KeyIsAnalyzing] = false
	}

	if err := s.store.SetMany(ctx, values); err != nil {
		return apperrors.WrapError(err, "保存分析状态失败", apperrors.ErrorTypeError)
	}
	return nil
}

func (s *SessionService) popupOwner(ctx context.Context) (string, error) {
	var owner string
	err := s.store.Get(ctx, models.KeyPopupRequest, &owner)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", apperrors.WrapError(err, "读取弹窗缓存失败", apperrors.ErrorTypeError)
	}
	return owner, nil
}

// ClaimPopup 页面发起的分析接管弹窗缓存；弹窗自己的分析未结束时不接管
func (s *SessionService) ClaimPopup(ctx context.Context, requestID, imageURL string) (bool, error) {
	s.popupMu.Lock()
	defer s.popupMu.Unlock()

	snap, err := s.snapshot(ctx)
	if err != nil {
		return false, err
	}
	if snap.IsAnalyzing && snap.RequestID != "" && snap.RequestID != requestID {
		return false, nil
	}

	empty := ""
	err = s.updatePopup(ctx, models.PopupPatch{
		LastImageData:      &imageURL,
		LastAnalysisResult: &empty,
		IsAnalyzing:        models.BoolPtr(true),
		RequestID:          &requestID,
	})
	return err == nil, err
}

// State 当前分析状态，没有记录时为 idle
func (s *SessionService) State(ctx context.Context) (models.AnalysisState, error) {
	var state models.AnalysisState
	err := s.store.Get(ctx, models.KeyAnalysisState, &state)
	if errors.Is(err, storage.ErrNotFound) {
		return models.AnalysisState{Status: models.StatusIdle}, nil
	}
	if err != nil {
		return state, apperrors.WrapError(err, "读取分析状态失败", apperrors.ErrorTypeError)
	}
	return state, nil
}

// UpdatePopup 写入弹窗缓存
func (s *SessionService) UpdatePopup(ctx context.Context, patch models.PopupPatch) error {
	s.popupMu.Lock()
	defer s.popupMu.Unlock()
	return s.updatePopup(ctx, patch)
}

func (s *SessionService) updatePopup(ctx context.Context, patch models.PopupPatch) error {
	values := make(map[string]interface{})
	var removed []string

	put := func(key string, v *string) {
		if v == nil {
			return
		}
		if *v == "" {
			removed = append(removed, key)
			return
		}
		values[key] = *v
	}
	put(models.KeyLastImageData, patch.LastImageData)
	put(models.KeyLastResult, patch.LastAnalysisResult)
	put(models.KeyPopupRequest, patch.RequestID)
	if patch.IsAnalyzing != nil {
		values[models.KeyIsAnalyzing] = *patch.IsAnalyzing
	}

	if len(removed) > 0 {
		if err := s.store.Delete(ctx, removed...); err != nil {
			return apperrors.WrapError(err, "清除弹窗缓存失败", apperrors.ErrorTypeError)
		}
	}
	if len(values) > 0 {
		if err := s.store.SetMany(ctx, values); err != nil {
			return apperrors.WrapError(err, "保存弹窗缓存失败", apperrors.ErrorTypeError)
		}
	}
	return nil
}

// SavePopupImage 保存预览图片
func (s *SessionService) SavePopupImage(ctx context.Context, dataURI string) error {
	return s.UpdatePopup(ctx, models.PopupPatch{LastImageData: &dataURI})
}

// SavePopupResult 保存渲染后的结果并结束分析
func (s *SessionService) SavePopupResult(ctx context.Context, html string) error {
	analyzing := false
	return s.UpdatePopup(ctx, models.PopupPatch{LastAnalysisResult: &html, IsAnalyzing: &analyzing})
}

// SetPopupAnalyzing 标记弹窗是否在等待结果
func (s *SessionService) SetPopupAnalyzing(ctx context.Context, analyzing bool) error {
	return s.UpdatePopup(ctx, models.PopupPatch{IsAnalyzing: &analyzing})
}

// PopupSnapshot 读取弹窗恢复数据，缺失的键视为空
func (s *SessionService) PopupSnapshot(ctx context.Context) (models.PopupSnapshot, error) {
	s.popupMu.Lock()
	defer s.popupMu.Unlock()
	return s.snapshot(ctx)
}

func (s *SessionService) snapshot(ctx context.Context) (models.PopupSnapshot, error) {
	var snap models.PopupSnapshot

	fields := []struct {
		key string
		dst interface{}
	}{
		{models.KeyLastImageData, &snap.LastImageData},
		{models.KeyLastResult, &snap.LastAnalysisResult},
		{models.KeyIsAnalyzing, &snap.IsAnalyzing},
		{models.KeyPopupRequest, &snap.RequestID},
	}
	for _, f := range fields {
		if err := s.store.Get(ctx, f.key, f.dst); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return snap, apperrors.WrapError(err, "读取弹窗缓存失败", apperrors.ErrorTypeError)
		}
	}
	return snap, nil
}

// ClearPopup 取消时清除全部弹窗缓存
func (s *SessionService) ClearPopup(ctx context.Context) error {
	s.popupMu.Lock()
	defer s.popupMu.Unlock()

	keys := []string{models.KeyLastImageData, models.KeyLastResult, models.KeyIsAnalyzing, models.KeyPopupRequest}
	if err := s.store.Delete(ctx, keys...); err != nil {
		return apperrors.WrapError(err, "清除弹窗缓存失败", apperrors.ErrorTypeError)
	}
	s.logger.Debug("弹窗缓存已清除", nil)
	return nil
}
