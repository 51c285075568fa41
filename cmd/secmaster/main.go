package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"secmaster/internal/app"
	"secmaster/internal/config"
	"secmaster/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgPath string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "secmaster",
	Short: "Cross-validate vendor prices into a consensus series",
	Long: `secmaster reconciles the prices reported by several data vendors.

For every period of every tsid it votes on open, high, low, close and volume
using the configured vendor weights and stores the winners under the
consensus vendor. Re-running replaces the previous consensus rows.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default $SECMASTER_CONFIG or configs/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log per-tsid timing and dissenting vendors")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if strings.TrimSpace(cfgPath) != "" {
		return cfgPath
	}
	if env := os.Getenv("SECMASTER_CONFIG"); env != "" {
		return env
	}
	if _, err := os.Stat("configs/config.yaml"); err == nil {
		return "configs/config.yaml"
	}
	return ""
}

// loadConfig 读取配置并初始化日志；返回的 closer 关闭日志文件。
func loadConfig() (*config.Config, func(), error) {
	path := resolveConfigPath()
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, nil, fmt.Errorf("读取配置失败: %w", err)
	}
	if verbose {
		cfg.Validator.Verbose = true
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志文件失败: %w", err)
	}
	closer := func() {
		if logFile != nil {
			_ = logFile.Close()
		}
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)
	if path == "" {
		path = "(defaults)"
	}
	logger.Infof("✓ 配置加载成功（环境=%s，配置=%s）", cfg.App.Env, path)
	return cfg, closer, nil
}

func newApp(cfg *config.Config) (*app.App, error) {
	a, err := app.NewApp(cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化应用失败: %w", err)
	}
	return a, nil
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
