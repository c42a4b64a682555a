// internal/cli/prompts.go
package cli

import (
	"context"
	"fmt"

	"github.com/Corphon/HoverLens/internal/models"
	"github.com/pterm/pterm"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// PromptsAPI 提示词相关的协调器接口
type PromptsAPI interface {
	Prompts(ctx context.Context) (models.PromptCatalog, error)
	CreatePrompt(ctx context.Context, name, text string) (models.PromptTemplate, error)
	UpdatePrompt(ctx context.Context, id, name, text string) (models.PromptTemplate, error)
	DeletePrompt(ctx context.Context, id string) (models.PromptCatalog, error)
	SelectPrompt(ctx context.Context, id string) (models.PromptCatalog, error)
}

// PromptsCmd 管理提示词模板
type PromptsCmd struct {
	api PromptsAPI
	out printer
}

// EditPromptInput 未给出的字段保持不变
type EditPromptInput struct {
	ID   string
	Name string
	Text *string
}

// List 列出全部模板，当前模板以 * 标记
func (c PromptsCmd) List(ctx context.Context) error {
	catalog, err := c.api.Prompts(ctx)
	if err != nil {
		return err
	}
	return c.renderCatalog(catalog)
}

// Add 新建模板
func (c PromptsCmd) Add(ctx context.Context, name, text string) error {
	tpl, err := c.api.CreatePrompt(ctx, name, text)
	if err != nil {
		return err
	}
	if c.out.json {
		return c.out.JSON(tpl)
	}
	c.out.Success("已创建提示词 %s (%s)", tpl.Name, tpl.ID)
	return nil
}

// Edit 修改名称或文本
func (c PromptsCmd) Edit(ctx context.Context, in EditPromptInput) error {
	text := ""
	if in.Text != nil {
		text = *in.Text
	} else {
		catalog, err := c.api.Prompts(ctx)
		if err != nil {
			return err
		}
		tpl, ok := lo.Find(catalog.Templates, func(t models.PromptTemplate) bool { return t.ID == in.ID })
		if !ok {
			return fmt.Errorf("提示词不存在: %s", in.ID)
		}
		text = tpl.Text
	}

	tpl, err := c.api.UpdatePrompt(ctx, in.ID, in.Name, text)
	if err != nil {
		return err
	}
	if c.out.json {
		return c.out.JSON(tpl)
	}
	c.out.Success("已保存提示词 %s", tpl.Name)
	return nil
}

// Remove 删除模板
func (c PromptsCmd) Remove(ctx context.Context, id string) error {
	catalog, err := c.api.DeletePrompt(ctx, id)
	if err != nil {
		return err
	}
	if !c.out.json {
		c.out.Success("已删除提示词 %s", id)
	}
	return c.renderCatalog(catalog)
}

// Use 切换当前模板
func (c PromptsCmd) Use(ctx context.Context, id string) error {
	catalog, err := c.api.SelectPrompt(ctx, id)
	if err != nil {
		return err
	}
	if c.out.json {
		return c.out.JSON(catalog)
	}
	c.out.Success("当前提示词: %s", catalog.CurrentID)
	return nil
}

func (c PromptsCmd) renderCatalog(catalog models.PromptCatalog) error {
	if c.out.json {
		return c.out.JSON(catalog)
	}
	if len(catalog.Templates) == 0 {
		c.out.Info("没有提示词")
		return nil
	}

	rows := pterm.TableData{{"", "ID", "名称", "内容"}}
	for _, t := range catalog.Templates {
		mark := ""
		if t.ID == catalog.CurrentID {
			mark = "*"
		}
		rows = append(rows, []string{mark, t.ID, t.Name, truncate(t.Text, 40)})
	}
	c.out.Table(rows)
	return nil
}

func newPromptsCmd(rt *runtime) *cobra.Command {
	promptsCmd := &cobra.Command{
		Use:   "prompts",
		Short: "管理提示词模板",
	}

	build := func() (PromptsCmd, error) {
		api, err := rt.rest()
		if err != nil {
			return PromptsCmd{}, err
		}
		return PromptsCmd{api: api, out: rt.printer()}, nil
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "列出提示词",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := build()
			if err != nil {
				return err
			}
			return c.List(cmd.Context())
		},
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "新建提示词",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := build()
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			text, _ := cmd.Flags().GetString("text")
			return c.Add(cmd.Context(), name, text)
		},
	}
	addCmd.Flags().String("name", "", "名称")
	addCmd.Flags().String("text", "", "提示词文本 (必填)")
	_ = addCmd.MarkFlagRequired("text")

	editCmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "修改提示词",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := build()
			if err != nil {
				return err
			}
			in := EditPromptInput{ID: args[0]}
			in.Name, _ = cmd.Flags().GetString("name")
			if cmd.Flags().Changed("text") {
				text, _ := cmd.Flags().GetString("text")
				in.Text = &text
			}
			return c.Edit(cmd.Context(), in)
		},
	}
	editCmd.Flags().String("name", "", "新名称")
	editCmd.Flags().String("text", "", "新文本")

	rmCmd := &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "删除提示词",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := build()
			if err != nil {
				return err
			}
			return c.Remove(cmd.Context(), args[0])
		},
	}

	useCmd := &cobra.Command{
		Use:   "use <id>",
		Short: "切换当前提示词",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := build()
			if err != nil {
				return err
			}
			return c.Use(cmd.Context(), args[0])
		},
	}

	promptsCmd.AddCommand(listCmd, addCmd, editCmd, rmCmd, useCmd)
	return promptsCmd
}
