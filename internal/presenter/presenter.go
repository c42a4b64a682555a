// internal/presenter/presenter.go
package presenter

import (
	"context"
	"errors"
	"strings"
	"sync"

	apperrors "github.com/Corphon/HoverLens/internal/errors"
	"github.com/Corphon/HoverLens/internal/imaging"
	"github.com/Corphon/HoverLens/internal/models"
	"github.com/Corphon/HoverLens/internal/utils"
	"github.com/google/uuid"
)

// ContextID 弹窗在消息总线上的标识
const ContextID = "popup"

// 分析按钮文字
const (
	LabelAnalyze   = "开始分析"
	LabelAnalyzing = "分析中..."
)

var (
	ErrNoImage          = errors.New("请先选择或粘贴图片")
	ErrAlreadyAnalyzing = errors.New("分析已在进行中")
)

// Sender 把消息发给协调器
type Sender interface {
	Send(ctx context.Context, env models.Envelope) error
}

// PopupStore 弹窗恢复数据的读写
type PopupStore interface {
	UpdatePopup(ctx context.Context, patch models.PopupPatch) error
	PopupSnapshot(ctx context.Context) (models.PopupSnapshot, error)
	ClearPopup(ctx context.Context) error
}

// View 弹窗当前显示的内容
type View struct {
	ImageData      string `json:"imageData,omitempty"`
	Analyzing      bool   `json:"analyzing"`
	RequestID      string `json:"requestId,omitempty"`
	ResultHTML     string `json:"resultHtml,omitempty"`
	ResultMarkdown string `json:"resultMarkdown,omitempty"`
	Error          string `json:"error,omitempty"`
	AnalyzeLabel   string `json:"analyzeLabel"`
	CancelVisible  bool   `json:"cancelVisible"`
}

// Config 弹窗依赖
type Config struct {
	Sender   Sender
	Store    PopupStore
	Prompt   func(ctx context.Context) (string, error)
	OnChange func(View)
	Logger   utils.Logger
	MaxBytes int64
}

// Presenter 弹窗状态机
type Presenter struct {
	cfg Config

	mu   sync.Mutex
	view View
}

// New 创建弹窗
func New(cfg Config) *Presenter {
	if cfg.Logger == nil {
		cfg.Logger = utils.GetLogger()
	}
	p := &Presenter{cfg: cfg}
	p.view.AnalyzeLabel = LabelAnalyze
	return p
}

// View 返回当前快照
func (p *Presenter) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

// update 修改状态后回调；调用方不能持有锁
func (p *Presenter) update(fn func(v *View)) View {
	p.mu.Lock()
	fn(&p.view)
	if p.view.Analyzing {
		p.view.AnalyzeLabel = LabelAnalyzing
	} else {
		p.view.AnalyzeLabel = LabelAnalyze
	}
	p.view.CancelVisible = p.view.ImageData != "" && !p.view.Analyzing
	v := p.view
	p.mu.Unlock()

	if p.cfg.OnChange != nil {
		p.cfg.OnChange(v)
	}
	return v
}

func (p *Presenter) persist(ctx context.Context, patch models.PopupPatch) {
	if p.cfg.Store == nil {
		return
	}
	if err := p.cfg.Store.UpdatePopup(ctx, patch); err != nil {
		p.cfg.Logger.Warn("保存弹窗状态失败", map[string]interface{}{"error": err})
	}
}

// LoadFile 从本地文件读取图片
func (p *Presenter) LoadFile(ctx context.Context, path string) error {
	uri, err := imaging.ReadImageFile(path, p.cfg.MaxBytes)
	if err != nil {
		return err
	}
	return p.SetCurrentImage(ctx, uri, false)
}

// Paste 粘贴的图片数据；mime 为空时按内容识别
func (p *Presenter) Paste(ctx context.Context, data []byte, mime string) error {
	if mime != "" && !strings.HasPrefix(mime, "image/") {
		return apperrors.NewValidationError("剪贴板中没有图片", nil)
	}
	uri, err := imaging.EncodeImage(data)
	if err != nil {
		return err
	}
	return p.SetCurrentImage(ctx, uri, false)
}

// Drop 拖入文件，只取第一个
func (p *Presenter) Drop(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return apperrors.NewValidationError("没有拖入文件", nil)
	}
	return p.LoadFile(ctx, paths[0])
}

// SetCurrentImage 更新预览并保存；analyzing 表示恢复一个进行中的分析
func (p *Presenter) SetCurrentImage(ctx context.Context, image string, analyzing bool) error {
	if image == "" {
		return ErrNoImage
	}

	p.update(func(v *View) {
		v.ImageData = image
		if analyzing {
			v.Analyzing = true
		}
	})

	patch := models.PopupPatch{LastImageData: &image}
	if analyzing {
		patch.IsAnalyzing = models.BoolPtr(true)
	}
	p.persist(ctx, patch)
	return nil
}

// Analyze 提交当前图片，始终以 base64 形式发送
func (p *Presenter) Analyze(ctx context.Context) (string, error) {
	requestID := uuid.NewString()

	var image string
	var startErr error
	p.mu.Lock()
	switch {
	case p.view.ImageData == "":
		startErr = ErrNoImage
	case p.view.Analyzing:
		startErr = ErrAlreadyAnalyzing
	default:
		image = p.view.ImageData
	}
	p.mu.Unlock()
	if startErr != nil {
		return "", startErr
	}

	p.update(func(v *View) {
		v.Analyzing = true
		v.RequestID = requestID
		v.ResultHTML = ""
		v.ResultMarkdown = ""
		v.Error = ""
	})
	empty := ""
	p.persist(ctx, models.PopupPatch{
		LastAnalysisResult: &empty,
		IsAnalyzing:        models.BoolPtr(true),
		RequestID:          &requestID,
	})

	prompt := ""
	if p.cfg.Prompt != nil {
		text, err := p.cfg.Prompt(ctx)
		if err != nil {
			p.cfg.Logger.Warn("读取当前提示词失败", map[string]interface{}{"error": err})
		} else {
			prompt = text
		}
	}

	env := models.NewEnvelope(models.MsgAnalyzeImage)
	env.RequestID = requestID
	env.ContextID = ContextID
	env.Origin = models.OriginPopup
	env.Prompt = prompt
	if imaging.IsDataURI(image) {
		env.Image = image
	} else {
		// 从页面同步过来的远程图片由协调器下载后转成 base64
		env.ImageURL = image
	}

	if err := p.cfg.Sender.Send(ctx, env); err != nil {
		p.update(func(v *View) {
			v.Analyzing = false
			v.Error = err.Error()
		})
		p.persist(ctx, models.PopupPatch{IsAnalyzing: models.BoolPtr(false)})
		return "", err
	}
	return requestID, nil
}

// HandleMessage 处理协调器广播
func (p *Presenter) HandleMessage(ctx context.Context, env models.Envelope) {
	switch env.Type {
	case models.MsgAnalysisStart:
		// 页面发起的分析：同步预览并进入等待；弹窗自己的分析未结束时忽略。
		// 弹窗缓存由协调器写入
		if p.busyWithOther(env.RequestID) {
			p.cfg.Logger.Debug("弹窗分析进行中，忽略页面分析", map[string]interface{}{"request_id": env.RequestID})
			return
		}
		p.update(func(v *View) {
			v.RequestID = env.RequestID
			v.ResultHTML = ""
			v.ResultMarkdown = ""
			v.Error = ""
			if env.ImageURL != "" {
				v.ImageData = env.ImageURL
				v.Analyzing = true
			}
		})

	case models.MsgAnalysisResult, models.MsgAnalysisError:
		if !p.tracks(env.RequestID) {
			return
		}

		var resultHTML, md, errMsg string
		if env.Type == models.MsgAnalysisResult {
			md = env.Data
			resultHTML = utils.RenderResult(env.Data)
		} else {
			errMsg = env.Error
			resultHTML = utils.RenderAnalysisError(env.Error)
		}

		p.update(func(v *View) {
			v.Analyzing = false
			v.ResultHTML = resultHTML
			v.ResultMarkdown = md
			v.Error = errMsg
		})
		p.persist(ctx, models.PopupPatch{
			LastAnalysisResult: &resultHTML,
			IsAnalyzing:        models.BoolPtr(false),
		})
	}
}

// busyWithOther 正在等待另一个请求的结果
func (p *Presenter) busyWithOther(requestID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view.Analyzing && p.view.RequestID != "" && p.view.RequestID != requestID
}

// tracks 没有跟踪中的请求时接受任何结果
func (p *Presenter) tracks(requestID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return requestID == "" || p.view.RequestID == "" || p.view.RequestID == requestID
}

// Restore 打开弹窗时恢复上一次的图片和结果
func (p *Presenter) Restore(ctx context.Context) (View, error) {
	if p.cfg.Store == nil {
		return p.View(), nil
	}
	snap, err := p.cfg.Store.PopupSnapshot(ctx)
	if err != nil {
		return p.View(), err
	}

	if snap.LastImageData != "" {
		if err := p.SetCurrentImage(ctx, snap.LastImageData, snap.IsAnalyzing); err != nil {
			return p.View(), err
		}
	}
	v := p.update(func(v *View) {
		if snap.LastAnalysisResult != "" {
			v.ResultHTML = snap.LastAnalysisResult
		}
		if snap.RequestID != "" {
			v.RequestID = snap.RequestID
		}
	})
	return v, nil
}

// Cancel 清除图片、结果和已保存的数据
func (p *Presenter) Cancel(ctx context.Context) error {
	p.update(func(v *View) {
		*v = View{}
	})
	if p.cfg.Store == nil {
		return nil
	}
	return p.cfg.Store.ClearPopup(ctx)
}
