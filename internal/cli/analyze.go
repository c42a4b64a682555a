// internal/cli/analyze.go
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Corphon/HoverLens/internal/client"
	"github.com/Corphon/HoverLens/internal/models"
	"github.com/Corphon/HoverLens/internal/observer"
	"github.com/Corphon/HoverLens/internal/presenter"
	"github.com/Corphon/HoverLens/internal/utils"
	"github.com/google/uuid"
	"github.com/pkg/browser"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// Conn 一个上下文的消息连接
type Conn interface {
	Send(ctx context.Context, env models.Envelope) error
	Done() <-chan struct{}
	Close() error
}

// DialFunc 建立指定上下文的连接
type DialFunc func(ctx context.Context, contextID string, handler client.Handler) (Conn, error)

// PopupAPI 弹窗需要的协调器接口
type PopupAPI interface {
	presenter.PopupStore
	CurrentPrompt(ctx context.Context) (string, error)
	Settings(ctx context.Context) (models.Settings, error)
}

// AnalysisOutput analyze 与 hover 的 JSON 输出
type AnalysisOutput struct {
	RequestID string `json:"requestId"`
	Succeeded bool   `json:"succeeded"`
	Markdown  string `json:"markdown,omitempty"`
	HTML      string `json:"html,omitempty"`
	Error     string `json:"error,omitempty"`
}

// errAnalysisFailed 分析失败时命令返回非零
var errAnalysisFailed = errors.New("分析失败")

// lazySender 连接建立前创建会话，建立后再绑定
type lazySender struct {
	conn Conn
}

func (s *lazySender) Send(ctx context.Context, env models.Envelope) error {
	if s.conn == nil {
		return client.ErrSocketClosed
	}
	return s.conn.Send(ctx, env)
}

// AnalyzeCmd 弹窗路径与页面路径的分析
type AnalyzeCmd struct {
	api      PopupAPI
	dial     DialFunc
	in       io.Reader
	out      printer
	logger   utils.Logger
	maxBytes int64
	open     func(path string) error
}

// AnalyzeInput lens analyze 参数
type AnalyzeInput struct {
	File  string
	Paste bool
	Open  bool
}

// errNothingToRestore 没有上一次的弹窗记录
var errNothingToRestore = errors.New("没有可恢复的分析，请指定图片文件或使用 --paste")

// Popup 打开时先恢复上一次的弹窗；给出图片时提交新分析，否则等待或显示恢复的结果
func (c AnalyzeCmd) Popup(ctx context.Context, in AnalyzeInput) error {
	finished := make(chan presenter.View, 1)
	sender := &lazySender{}
	p := presenter.New(presenter.Config{
		Sender: sender,
		Store:  c.api,
		Prompt: c.api.CurrentPrompt,
		Logger: c.logger,
		OnChange: func(v presenter.View) {
			if v.Analyzing || (v.ResultHTML == "" && v.Error == "") {
				return
			}
			select {
			case finished <- v:
			default:
			}
		},
		MaxBytes: c.maxBytes,
	})

	rejected := make(chan models.Envelope, 1)
	conn, err := c.dial(ctx, presenter.ContextID, func(env models.Envelope) {
		if env.Type == models.MsgError {
			select {
			case rejected <- env:
			default:
			}
			return
		}
		p.HandleMessage(ctx, env)
	})
	if err != nil {
		return err
	}
	defer conn.Close()
	sender.conn = conn

	restored, err := p.Restore(ctx)
	if err != nil {
		return err
	}
	// 恢复时产生的旧结果不是本次要等的
	select {
	case <-finished:
	default:
	}

	fresh := in.Paste || in.File != ""
	if fresh && restored.Analyzing {
		return fmt.Errorf("%w，不带参数执行 lens analyze 等待结果，或 lens session clear 放弃", presenter.ErrAlreadyAnalyzing)
	}

	var requestID string
	switch {
	case in.Paste:
		data, err := io.ReadAll(c.in)
		if err != nil {
			return fmt.Errorf("读取标准输入失败: %w", err)
		}
		if err := p.Paste(ctx, data, ""); err != nil {
			return err
		}
	case in.File != "":
		if err := p.LoadFile(ctx, in.File); err != nil {
			return err
		}
	case restored.Analyzing:
		requestID = restored.RequestID
		if !c.out.json {
			c.out.Info("等待进行中的分析 %s", orDash(requestID))
		}
	case restored.ResultHTML != "":
		return c.finishPopup(p.View(), restored.RequestID, in)
	default:
		return errNothingToRestore
	}

	if fresh {
		requestID, err = p.Analyze(ctx)
		if err != nil {
			return err
		}
		if !c.out.json {
			c.out.Info("已提交分析 %s", requestID)
		}
	}

	for {
		select {
		case v := <-finished:
			if requestID != "" && v.RequestID != requestID {
				continue
			}
			return c.finishPopup(v, requestID, in)

		case env := <-rejected:
			if env.RequestID != "" && env.RequestID != requestID {
				continue
			}
			_ = p.Cancel(ctx)
			return fmt.Errorf("协调器拒绝请求: %s", env.Error)

		case <-conn.Done():
			return client.ErrSocketClosed

		case <-ctx.Done():
			return fmt.Errorf("等待分析结果超时: %w", ctx.Err())
		}
	}
}

// finishPopup 输出弹窗结果
func (c AnalyzeCmd) finishPopup(v presenter.View, requestID string, in AnalyzeInput) error {
	out := AnalysisOutput{
		RequestID: requestID,
		Succeeded: v.Error == "" && !strings.Contains(v.ResultHTML, `class="error"`),
		Markdown:  v.ResultMarkdown,
		HTML:      v.ResultHTML,
		Error:     v.Error,
	}
	if err := c.render(out); err != nil {
		return err
	}
	if in.Open {
		if err := c.openHTML(out); err != nil {
			return err
		}
	}
	if !out.Succeeded {
		return errAnalysisFailed
	}
	return nil
}

// HoverInput lens hover 参数
type HoverInput struct {
	URL    string
	Width  float64
	Height float64
}

// Hover 以页面身份悬停并点击一张远程图片
func (c AnalyzeCmd) Hover(ctx context.Context, in HoverInput) error {
	settings, err := c.api.Settings(ctx)
	if err != nil {
		return err
	}
	if !settings.FeatureEnabled {
		return fmt.Errorf("悬停分析已关闭，请先执行 lens feature on")
	}

	settled := make(chan observer.Trigger, 1)
	sender := &lazySender{}
	contextID := "page:" + uuid.NewString()
	sess := observer.NewSession(contextID, sender,
		observer.WithPromptSource(c.api.CurrentPrompt),
		observer.WithLogger(c.logger),
		observer.WithOnChange(func(t observer.Trigger, visible bool) {
			if t.State != models.TriggerSuccess && t.State != models.TriggerError {
				return
			}
			select {
			case settled <- t:
			default:
			}
		}),
	)
	defer sess.Close()

	var mu sync.Mutex
	contents := make(map[string]string)
	rejected := make(chan models.Envelope, 1)

	conn, err := c.dial(ctx, contextID, func(env models.Envelope) {
		switch env.Type {
		case models.MsgAnalysisResult:
			mu.Lock()
			contents[env.RequestID] = env.Data
			mu.Unlock()
		case models.MsgError:
			select {
			case rejected <- env:
			default:
			}
			return
		}
		sess.HandleMessage(env)
	})
	if err != nil {
		return err
	}
	defer conn.Close()
	sender.conn = conn

	img := observer.Image{
		Src:  in.URL,
		Rect: observer.Rect{Width: in.Width, Height: in.Height},
	}
	vp := observer.Viewport{Width: in.Width + 2*observer.Margin, Height: in.Height + 2*observer.Margin}
	if !sess.MouseOver(img, vp) {
		return fmt.Errorf("图片小于 %dx%d，不显示分析按钮", observer.MinImageSize, observer.MinImageSize)
	}
	if err := sess.Click(ctx); err != nil {
		return err
	}
	trigger, _ := sess.Trigger()
	if !c.out.json {
		c.out.Info("已提交分析 %s", trigger.RequestID)
	}

	for {
		select {
		case t := <-settled:
			mu.Lock()
			content := contents[t.RequestID]
			mu.Unlock()

			out := AnalysisOutput{
				RequestID: t.RequestID,
				Succeeded: t.State == models.TriggerSuccess,
				Markdown:  content,
				Error:     t.Error,
			}
			if err := c.render(out); err != nil {
				return err
			}
			if !out.Succeeded {
				return errAnalysisFailed
			}
			return nil

		case env := <-rejected:
			if env.RequestID != "" && env.RequestID != trigger.RequestID {
				continue
			}
			return fmt.Errorf("协调器拒绝请求: %s", env.Error)

		case <-conn.Done():
			return client.ErrSocketClosed

		case <-ctx.Done():
			return fmt.Errorf("等待分析结果超时: %w", ctx.Err())
		}
	}
}

func (c AnalyzeCmd) render(out AnalysisOutput) error {
	if c.out.json {
		return c.out.JSON(out)
	}
	if !out.Succeeded {
		c.out.Warning("分析失败: %s", out.Error)
		return nil
	}
	c.out.Success("分析完成 %s", orDash(out.RequestID))
	if out.Markdown != "" {
		c.out.Println(out.Markdown)
	} else {
		// 恢复的结果只有渲染后的 HTML
		c.out.Println(out.HTML)
	}
	return nil
}

// openHTML 把渲染后的结果写入临时文件并用浏览器打开
func (c AnalyzeCmd) openHTML(out AnalysisOutput) error {
	body := out.HTML
	if body == "" {
		return nil
	}
	doc := "<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>HoverLens " + out.RequestID + "</title></head><body>" + body + "</body></html>"

	path := filepath.Join(os.TempDir(), "hoverlens-"+out.RequestID+".html")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		return fmt.Errorf("写入结果文件失败: %w", err)
	}
	open := c.open
	if open == nil {
		open = browser.OpenFile
	}
	if err := open(path); err != nil {
		c.out.Warning("无法打开浏览器: %v，结果已保存到 %s", err, path)
	}
	return nil
}

func (rt *runtime) analyzeCmd() (AnalyzeCmd, error) {
	api, err := rt.rest()
	if err != nil {
		return AnalyzeCmd{}, err
	}
	dial, err := rt.dialer()
	if err != nil {
		return AnalyzeCmd{}, err
	}
	return AnalyzeCmd{
		api:    api,
		dial:   dial,
		in:     rt.io.In,
		out:    rt.printer(),
		logger: rt.io.Logger,
	}, nil
}

func newAnalyzeCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "分析本地图片 (弹窗方式)",
		Long:  "读取本地图片文件或 --paste 从标准输入读取图片，以 base64 提交并等待结果；不带参数时恢复上一次的弹窗",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := rt.analyzeCmd()
			if err != nil {
				return err
			}
			in := AnalyzeInput{}
			in.Paste, _ = cmd.Flags().GetBool("paste")
			in.Open, _ = cmd.Flags().GetBool("open")
			c.maxBytes, _ = cmd.Flags().GetInt64("max-bytes")
			if len(args) == 1 {
				in.File = args[0]
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), rt.opts.timeout)
			defer cancel()
			return c.Popup(ctx, in)
		},
	}
	cmd.Flags().Bool("paste", false, "从标准输入读取图片数据")
	cmd.Flags().Bool("open", false, "在浏览器中打开渲染后的结果")
	cmd.Flags().Int64("max-bytes", 0, "本地图片大小上限，0 使用默认值")
	return cmd
}

func newHoverCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hover <url>",
		Short: "分析远程图片 (页面悬停方式)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := rt.analyzeCmd()
			if err != nil {
				return err
			}
			in := HoverInput{URL: args[0]}
			in.Width, _ = cmd.Flags().GetFloat64("width")
			in.Height, _ = cmd.Flags().GetFloat64("height")

			ctx, cancel := context.WithTimeout(cmd.Context(), rt.opts.timeout)
			defer cancel()
			return c.Hover(ctx, in)
		},
	}
	cmd.Flags().Float64("width", 640, "图片显示宽度")
	cmd.Flags().Float64("height", 480, "图片显示高度")
	return cmd
}

// WatchCmd 打印某个上下文收到的所有消息
type WatchCmd struct {
	dial DialFunc
	out  printer
}

// Run 持续输出直到 ctx 结束或连接断开
func (c WatchCmd) Run(ctx context.Context, contextID string) error {
	var mu sync.Mutex
	conn, err := c.dial(ctx, contextID, func(env models.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		c.print(env)
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	if !c.out.json {
		c.out.Info("正在监听 %s，按 Ctrl+C 退出", contextID)
	}

	select {
	case <-ctx.Done():
		return nil
	case <-conn.Done():
		return client.ErrSocketClosed
	}
}

func (c WatchCmd) print(env models.Envelope) {
	if c.out.json {
		_ = c.out.JSON(env)
		return
	}
	detail := env.Data
	if env.Error != "" {
		detail = env.Error
	}
	if env.ImageURL != "" && detail == "" {
		detail = env.ImageURL
	}
	if env.Enabled != nil {
		detail = fmt.Sprintf("enabled=%t", *env.Enabled)
	}
	c.out.Println(fmt.Sprintf("%s  %-18s %-38s %s",
		env.Timestamp.Format("15:04:05"),
		pterm.Bold.Sprint(string(env.Type)),
		orDash(env.RequestID),
		truncate(detail, 80)))
}

func newWatchCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "实时查看协调器广播的消息",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dial, err := rt.dialer()
			if err != nil {
				return err
			}
			contextID, _ := cmd.Flags().GetString("context")
			return WatchCmd{dial: dial, out: rt.printer()}.Run(cmd.Context(), contextID)
		},
	}
	cmd.Flags().String("context", presenter.ContextID, "监听的上下文 (popup 或 page:<id>)")
	return cmd
}
