// internal/cli/root.go
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Corphon/HoverLens/internal/auth"
	"github.com/Corphon/HoverLens/internal/client"
	"github.com/Corphon/HoverLens/internal/utils"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

const (
	defaultServer = "http://localhost:8080"
	tokenSubject  = "lens"
)

// IO 命令的输入输出，测试时替换
type IO struct {
	In     io.Reader
	Out    io.Writer
	Logger utils.Logger
}

// globalOptions 所有子命令共享的参数
type globalOptions struct {
	server  string
	token   string
	secret  string
	output  string
	timeout time.Duration
}

// runtime 子命令运行时依赖
type runtime struct {
	opts *globalOptions
	io   IO
}

// NewRootCmd 构建 lens 命令树
func NewRootCmd(stdio IO) *cobra.Command {
	if stdio.In == nil {
		stdio.In = os.Stdin
	}
	if stdio.Out == nil {
		stdio.Out = os.Stdout
	}
	if stdio.Logger == nil {
		stdio.Logger = utils.GetLogger()
	}

	opts := &globalOptions{}
	rt := &runtime{opts: opts, io: stdio}

	root := &cobra.Command{
		Use:           "lens",
		Short:         "HoverLens 命令行客户端",
		Long:          "连接 HoverLens 协调器：分析图片、管理提示词与设置、查看会话状态",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdio.Out)
	root.SetIn(stdio.In)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("HOVERLENS_SERVER", defaultServer), "协调器地址")
	flags.StringVar(&opts.token, "token", os.Getenv("HOVERLENS_TOKEN"), "访问令牌")
	flags.StringVar(&opts.secret, "secret", os.Getenv("HOVERLENS_SECURITY_SECRET"), "共享口令，未提供令牌时用它签发")
	flags.StringVarP(&opts.output, "output", "o", "", "输出格式 (json)")
	flags.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "等待分析结果的超时时间")

	root.AddCommand(
		newAnalyzeCmd(rt),
		newHoverCmd(rt),
		newWatchCmd(rt),
		newSettingsCmd(rt),
		newFeatureCmd(rt),
		newPromptsCmd(rt),
		newSessionCmd(rt),
		newStatusCmd(rt),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// accessToken 显式令牌优先，否则用共享口令签发
func (rt *runtime) accessToken() (string, error) {
	if rt.opts.token != "" {
		return rt.opts.token, nil
	}
	if rt.opts.secret == "" {
		return "", nil
	}
	token, err := auth.GenerateToken(tokenSubject, auth.NewTokenConfig(rt.opts.secret, time.Hour))
	if err != nil {
		return "", fmt.Errorf("签发访问令牌失败: %w", err)
	}
	return token, nil
}

func (rt *runtime) rest() (*client.REST, error) {
	token, err := rt.accessToken()
	if err != nil {
		return nil, err
	}
	return client.NewREST(rt.opts.server, client.WithToken(token)), nil
}

// dialer 按上下文建立 WebSocket 连接
func (rt *runtime) dialer() (DialFunc, error) {
	token, err := rt.accessToken()
	if err != nil {
		return nil, err
	}
	server := rt.opts.server
	logger := rt.io.Logger
	return func(ctx context.Context, contextID string, handler client.Handler) (Conn, error) {
		sock, err := client.Dial(ctx, server, contextID, token, handler, logger)
		if err != nil {
			return nil, err
		}
		return sock, nil
	}, nil
}

func (rt *runtime) printer() printer {
	return printer{out: rt.io.Out, json: rt.opts.output == "json"}
}

// printer 文本输出走 pterm，--output json 时输出缩进 JSON
type printer struct {
	out  io.Writer
	json bool
}

func (p printer) JSON(v interface{}) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p printer) Table(rows pterm.TableData) {
	rendered, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
	if err != nil {
		fmt.Fprintln(p.out, err)
		return
	}
	fmt.Fprintln(p.out, rendered)
}

func (p printer) Success(format string, a ...interface{}) {
	fmt.Fprint(p.out, pterm.Success.Sprintfln(format, a...))
}

func (p printer) Info(format string, a ...interface{}) {
	fmt.Fprint(p.out, pterm.Info.Sprintfln(format, a...))
}

func (p printer) Warning(format string, a ...interface{}) {
	fmt.Fprint(p.out, pterm.Warning.Sprintfln(format, a...))
}

func (p printer) Println(a ...interface{}) {
	fmt.Fprintln(p.out, a...)
}

// orDash 空字符串显示为 -
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncate 按字符截断
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
