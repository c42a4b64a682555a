// cmd/lens/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Corphon/HoverLens/internal/cli"
	"github.com/Corphon/HoverLens/internal/utils"
	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
)

func main() {
	// 尝试加载.env文件（可选）
	_ = godotenv.Load()

	level := os.Getenv("HOVERLENS_LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	logger, err := utils.InitLogger(level, "console", "")
	if err != nil {
		pterm.Error.Printfln("初始化日志失败: %v", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCmd(cli.IO{Logger: logger})
	if err := root.ExecuteContext(ctx); err != nil {
		pterm.Error.Println(err)
		stop()
		os.Exit(1)
	}
}
