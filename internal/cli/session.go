// internal/cli/session.go
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/Corphon/HoverLens/internal/client"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// SessionAPI 会话相关的协调器接口
type SessionAPI interface {
	Session(ctx context.Context) (client.Session, error)
	ClearPopup(ctx context.Context) error
	Health(ctx context.Context) (client.Health, error)
}

// SessionCmd 查看分析状态与弹窗缓存
type SessionCmd struct {
	api SessionAPI
	out printer
}

// Show 显示分析状态
func (c SessionCmd) Show(ctx context.Context) error {
	s, err := c.api.Session(ctx)
	if err != nil {
		return err
	}
	if c.out.json {
		return c.out.JSON(s)
	}

	rows := pterm.TableData{{"字段", "值"}}
	rows = append(rows, []string{"状态", string(s.State.Status)})
	rows = append(rows, []string{"请求ID", orDash(s.State.RequestID)})
	rows = append(rows, []string{"图片", orDash(truncate(s.State.CurrentImageURL, 60))})
	rows = append(rows, []string{"结果", orDash(truncate(s.State.LastResult, 60))})
	rows = append(rows, []string{"错误", orDash(s.State.Error)})
	if !s.State.UpdatedAt.IsZero() {
		rows = append(rows, []string{"更新时间", s.State.UpdatedAt.Format(time.RFC3339)})
	}
	rows = append(rows, []string{"弹窗缓存图片", fmt.Sprintf("%t", s.Popup.LastImageData != "")})
	rows = append(rows, []string{"弹窗分析中", fmt.Sprintf("%t", s.Popup.IsAnalyzing)})
	c.out.Table(rows)
	return nil
}

// Clear 清除弹窗缓存
func (c SessionCmd) Clear(ctx context.Context) error {
	if err := c.api.ClearPopup(ctx); err != nil {
		return err
	}
	if c.out.json {
		return c.out.JSON(map[string]bool{"cleared": true})
	}
	c.out.Success("会话缓存已清除")
	return nil
}

// Status 协调器健康状态
func (c SessionCmd) Status(ctx context.Context) error {
	h, err := c.api.Health(ctx)
	if err != nil {
		return err
	}
	if c.out.json {
		return c.out.JSON(h)
	}

	rows := pterm.TableData{{"字段", "值"}}
	rows = append(rows, []string{"状态", h.Status})
	rows = append(rows, []string{"存储", h.Store})
	rows = append(rows, []string{"模型提供者", h.Provider})
	rows = append(rows, []string{"提供者就绪", fmt.Sprintf("%t", h.ProviderReady)})
	rows = append(rows, []string{"WebSocket 连接", fmt.Sprintf("%d", h.Connections)})
	c.out.Table(rows)
	return nil
}

func newSessionCmd(rt *runtime) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "查看或清除会话状态",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "显示分析状态与弹窗缓存",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := rt.rest()
			if err != nil {
				return err
			}
			return SessionCmd{api: api, out: rt.printer()}.Show(cmd.Context())
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "清除弹窗缓存",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := rt.rest()
			if err != nil {
				return err
			}
			return SessionCmd{api: api, out: rt.printer()}.Clear(cmd.Context())
		},
	}

	sessionCmd.AddCommand(showCmd, clearCmd)
	return sessionCmd
}

func newStatusCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "检查协调器状态",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := rt.rest()
			if err != nil {
				return err
			}
			return SessionCmd{api: api, out: rt.printer()}.Status(cmd.Context())
		},
	}
}
