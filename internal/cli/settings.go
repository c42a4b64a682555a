// internal/cli/settings.go
package cli

import (
	"context"
	"fmt"

	"github.com/Corphon/HoverLens/internal/models"
	"github.com/Corphon/HoverLens/internal/services"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// SettingsAPI 设置相关的协调器接口
type SettingsAPI interface {
	Settings(ctx context.Context) (models.Settings, error)
	UpdateSettings(ctx context.Context, patch services.SettingsPatch) (models.Settings, error)
	SetFeature(ctx context.Context, enabled bool) (bool, error)
	SettingsHistory(ctx context.Context, limit int) ([]services.SettingsChangeRecord, error)
}

// SettingsCmd 查看与修改设置
type SettingsCmd struct {
	api SettingsAPI
	out printer
}

// Get 显示当前设置（密钥已隐藏）
func (c SettingsCmd) Get(ctx context.Context) error {
	s, err := c.api.Settings(ctx)
	if err != nil {
		return err
	}
	return c.render(s)
}

// Set 只提交显式给出的字段
func (c SettingsCmd) Set(ctx context.Context, patch services.SettingsPatch) error {
	if patch == (services.SettingsPatch{}) {
		return fmt.Errorf("没有需要修改的字段")
	}
	s, err := c.api.UpdateSettings(ctx, patch)
	if err != nil {
		return err
	}
	if !c.out.json {
		c.out.Success("设置已保存")
	}
	return c.render(s)
}

// Feature 开关悬停分析
func (c SettingsCmd) Feature(ctx context.Context, enabled bool) error {
	got, err := c.api.SetFeature(ctx, enabled)
	if err != nil {
		return err
	}
	if c.out.json {
		return c.out.JSON(map[string]bool{"enabled": got})
	}
	if got {
		c.out.Success("悬停分析已开启")
	} else {
		c.out.Success("悬停分析已关闭")
	}
	return nil
}

// History 最近的配置变更，按时间先后排列
func (c SettingsCmd) History(ctx context.Context, limit int) error {
	records, err := c.api.SettingsHistory(ctx, limit)
	if err != nil {
		return err
	}
	if c.out.json {
		return c.out.JSON(records)
	}
	if len(records) == 0 {
		c.out.Info("本次协调器运行以来没有配置变更")
		return nil
	}
	rows := pterm.TableData{{"时间", "字段", "原值", "新值"}}
	for _, r := range records {
		rows = append(rows, []string{
			r.Timestamp.Local().Format("2006-01-02 15:04:05"),
			r.Field,
			historyValue(r.OldValue),
			historyValue(r.NewValue),
		})
	}
	c.out.Table(rows)
	return nil
}

func historyValue(v interface{}) string {
	if v == nil {
		return "-"
	}
	return orDash(fmt.Sprint(v))
}

func (c SettingsCmd) render(s models.Settings) error {
	if c.out.json {
		return c.out.JSON(s)
	}
	rows := pterm.TableData{{"字段", "值"}}
	rows = append(rows, []string{"API 地址", s.APIURL})
	rows = append(rows, []string{"API Key", orDash(s.APIKey)})
	rows = append(rows, []string{"模型", s.Model})
	rows = append(rows, []string{"自定义模型", orDash(s.CustomModel)})
	rows = append(rows, []string{"实际使用模型", s.EffectiveModel()})
	rows = append(rows, []string{"图片模式", string(s.EffectiveImageMode())})
	rows = append(rows, []string{"悬停分析", fmt.Sprintf("%t", s.FeatureEnabled)})
	c.out.Table(rows)
	return nil
}

func newSettingsCmd(rt *runtime) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "查看或修改 API 设置",
	}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "显示当前设置",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := rt.rest()
			if err != nil {
				return err
			}
			return SettingsCmd{api: api, out: rt.printer()}.Get(cmd.Context())
		},
	}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "修改设置，只提交给出的字段",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := rt.rest()
			if err != nil {
				return err
			}
			return SettingsCmd{api: api, out: rt.printer()}.Set(cmd.Context(), patchFromFlags(cmd))
		},
	}
	setCmd.Flags().String("api-url", "", "视觉模型接口地址")
	setCmd.Flags().String("api-key", "", "API Key")
	setCmd.Flags().String("model", "", "模型名称")
	setCmd.Flags().String("custom-model", "", "自定义模型名称，非空时优先使用")
	setCmd.Flags().String("image-mode", "", "图片发送方式 (url|base64)")

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "显示最近的配置变更（密钥只显示掩码）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := rt.rest()
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			return SettingsCmd{api: api, out: rt.printer()}.History(cmd.Context(), limit)
		},
	}
	historyCmd.Flags().Int("limit", 20, "最多显示的条数，0 表示全部")

	settingsCmd.AddCommand(getCmd, setCmd, historyCmd)
	return settingsCmd
}

// patchFromFlags 只收集用户显式设置过的参数
func patchFromFlags(cmd *cobra.Command) services.SettingsPatch {
	var patch services.SettingsPatch
	str := func(name string) *string {
		if !cmd.Flags().Changed(name) {
			return nil
		}
		v, _ := cmd.Flags().GetString(name)
		return &v
	}
	patch.APIURL = str("api-url")
	patch.APIKey = str("api-key")
	patch.Model = str("model")
	patch.CustomModel = str("custom-model")
	if mode := str("image-mode"); mode != nil {
		m := models.ImageMode(*mode)
		patch.ImageMode = &m
	}
	return patch
}

func newFeatureCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:       "feature <on|off>",
		Short:     "开启或关闭页面悬停分析",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := rt.rest()
			if err != nil {
				return err
			}
			return SettingsCmd{api: api, out: rt.printer()}.Feature(cmd.Context(), args[0] == "on")
		},
	}
}
