// internal/services/prompt_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Corphon/HoverLens/internal/errors"
	"github.com/Corphon/HoverLens/internal/models"
	"github.com/Corphon/HoverLens/internal/storage"
	"github.com/Corphon/HoverLens/internal/utils"
	"github.com/samber/lo"
)

// 提示词管理的用户提示
const (
	MsgKeepOnePrompt       = "至少需要保留一个提示词！"
	MsgDefaultPromptLocked = "默认提示词不能删除"
)

// PromptService 管理提示词模板（sync 区域中的一个有序集合）
type PromptService struct {
	store  storage.Store
	locks  *LockManager
	logger utils.Logger
	now    func() time.Time
}

// NewPromptService 创建提示词服务，locks 由调用方负责 Stop
func NewPromptService(store storage.Store, locks *LockManager, logger utils.Logger) *PromptService {
	if locks == nil {
		panic("services: NewPromptService 需要 LockManager")
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &PromptService{store: store, locks: locks, logger: logger, now: time.Now}
}

func defaultCatalog() models.PromptCatalog {
	templates := models.DefaultPrompts()
	return models.PromptCatalog{
		Templates:   templates,
		CurrentID:   models.DefaultPromptID,
		CurrentText: templates[0].Text,
	}
}

// EnsureDefaults 没有提示词集合时写入默认模板，只执行一次
func (s *PromptService) EnsureDefaults(ctx context.Context) (models.PromptCatalog, error) {
	var catalog models.PromptCatalog
	err := s.locks.ExecuteWithLock(models.KeyPromptCatalog, func() error {
		err := s.store.Get(ctx, models.KeyPromptCatalog, &catalog)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return apperrors.WrapError(err, "读取提示词失败", apperrors.ErrorTypeError)
		}

		catalog = defaultCatalog()
		s.logger.Info("写入默认提示词", map[string]interface{}{"count": len(catalog.Templates)})
		return s.save(ctx, catalog)
	})
	return catalog, err
}

func (s *PromptService) load(ctx context.Context) (models.PromptCatalog, error) {
	var catalog models.PromptCatalog
	err := s.store.Get(ctx, models.KeyPromptCatalog, &catalog)
	if errors.Is(err, storage.ErrNotFound) {
		return defaultCatalog(), nil
	}
	if err != nil {
		return catalog, apperrors.WrapError(err, "读取提示词失败", apperrors.ErrorTypeError)
	}
	return catalog, nil
}

func (s *PromptService) save(ctx context.Context, catalog models.PromptCatalog) error {
	if err := s.store.Set(ctx, models.KeyPromptCatalog, catalog); err != nil {
		return apperrors.WrapError(err, "保存提示词失败", apperrors.ErrorTypeError)
	}
	return nil
}

// mutate 在锁内读改写整个集合
func (s *PromptService) mutate(ctx context.Context, fn func(*models.PromptCatalog) error) (models.PromptCatalog, error) {
	var catalog models.PromptCatalog
	err := s.locks.ExecuteWithLock(models.KeyPromptCatalog, func() error {
		var err error
		catalog, err = s.load(ctx)
		if err != nil {
			return err
		}
		if err := fn(&catalog); err != nil {
			return err
		}
		return s.save(ctx, catalog)
	})
	return catalog, err
}

// List 返回全部模板和当前选择
func (s *PromptService) List(ctx context.Context) (models.PromptCatalog, error) {
	return s.load(ctx)
}

// Get 按ID查找模板
func (s *PromptService) Get(ctx context.Context, id string) (models.PromptTemplate, error) {
	catalog, err := s.load(ctx)
	if err != nil {
		return models.PromptTemplate{}, err
	}
	tpl, ok := lo.Find(catalog.Templates, func(t models.PromptTemplate) bool { return t.ID == id })
	if !ok {
		return models.PromptTemplate{}, apperrors.NewNotFoundError(fmt.Sprintf("提示词不存在: %s", id), nil)
	}
	return tpl, nil
}

// Current 返回当前提示词文本，缺失时回退到内置默认提示词
func (s *PromptService) Current(ctx context.Context) (string, error) {
	catalog, err := s.load(ctx)
	if err != nil {
		return models.FallbackPromptText, err
	}
	if text := strings.TrimSpace(catalog.CurrentText); text != "" {
		return catalog.CurrentText, nil
	}
	if tpl, ok := lo.Find(catalog.Templates, func(t models.PromptTemplate) bool { return t.ID == catalog.CurrentID }); ok {
		if strings.TrimSpace(tpl.Text) != "" {
			return tpl.Text, nil
		}
	}
	return models.FallbackPromptText, nil
}

// Create 新建自定义模板并设为当前
func (s *PromptService) Create(ctx context.Context, name, text string) (models.PromptTemplate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.PromptTemplate{}, apperrors.NewValidationError("提示词名称不能为空", nil)
	}

	var created models.PromptTemplate
	_, err := s.mutate(ctx, func(c *models.PromptCatalog) error {
		millis := s.now().UnixMilli()
		id := fmt.Sprintf("custom_%d", millis)
		for lo.ContainsBy(c.Templates, func(t models.PromptTemplate) bool { return t.ID == id }) {
			millis++
			id = fmt.Sprintf("custom_%d", millis)
		}

		created = models.PromptTemplate{ID: id, Name: name, Text: text}
		c.Templates = append(c.Templates, created)
		c.CurrentID = id
		c.CurrentText = text
		return nil
	})
	if err != nil {
		return models.PromptTemplate{}, err
	}

	s.logger.Info("新建提示词", map[string]interface{}{"prompt_id": created.ID, "name": name})
	return created, nil
}

// Update 修改模板文本，name 为空时保留原名
func (s *PromptService) Update(ctx context.Context, id, name, text string) (models.PromptTemplate, error) {
	var updated models.PromptTemplate
	_, err := s.mutate(ctx, func(c *models.PromptCatalog) error {
		_, idx, ok := lo.FindIndexOf(c.Templates, func(t models.PromptTemplate) bool { return t.ID == id })
		if !ok {
			return apperrors.NewNotFoundError(fmt.Sprintf("提示词不存在: %s", id), nil)
		}
		if n := strings.TrimSpace(name); n != "" {
			c.Templates[idx].Name = n
		}
		c.Templates[idx].Text = text
		if c.CurrentID == id {
			c.CurrentText = text
		}
		updated = c.Templates[idx]
		return nil
	})
	return updated, err
}

// Delete 删除模板。默认模板和最后一个模板不能删除；删除当前模板后选中第一个。
func (s *PromptService) Delete(ctx context.Context, id string) (models.PromptCatalog, error) {
	catalog, err := s.mutate(ctx, func(c *models.PromptCatalog) error {
		if !lo.ContainsBy(c.Templates, func(t models.PromptTemplate) bool { return t.ID == id }) {
			return apperrors.NewNotFoundError(fmt.Sprintf("提示词不存在: %s", id), nil)
		}
		if len(c.Templates) <= 1 {
			return apperrors.NewConflictError(MsgKeepOnePrompt, nil)
		}
		if id == models.DefaultPromptID {
			return apperrors.NewConflictError(MsgDefaultPromptLocked, nil)
		}

		c.Templates = lo.Reject(c.Templates, func(t models.PromptTemplate, _ int) bool { return t.ID == id })
		if c.CurrentID == id {
			c.CurrentID = c.Templates[0].ID
			c.CurrentText = c.Templates[0].Text
		}
		return nil
	})
	if err != nil {
		return catalog, err
	}

	s.logger.Info("删除提示词", map[string]interface{}{"prompt_id": id, "current": catalog.CurrentID})
	return catalog, nil
}

// Select 切换当前模板
func (s *PromptService) Select(ctx context.Context, id string) (models.PromptCatalog, error) {
	return s.mutate(ctx, func(c *models.PromptCatalog) error {
		tpl, ok := lo.Find(c.Templates, func(t models.PromptTemplate) bool { return t.ID == id })
		if !ok {
			return apperrors.NewNotFoundError(fmt.Sprintf("提示词不存在: %s", id), nil)
		}
		c.CurrentID = tpl.ID
		c.CurrentText = tpl.Text
		return nil
	})
}
