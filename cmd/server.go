package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"waveloft/db"
	"waveloft/server"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "启动HTTP服务",
	Long:    `启动 Waveloft 的 HTTP API，包括入库、复习调度、上传、对象存储事件回调和 /ws/events 事件推送。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := db.AutoMigrate(a.gdb); err != nil {
		return err
	}
	if err := a.store.EnsureBucket(ctx); err != nil {
		return err
	}

	h := server.NewAPIHandler(server.Deps{
		Tracks:     a.tracks,
		Ingester:   a.orchestrator(),
		Reviewer:   a.scheduler(),
		Uploader:   a.uploads(),
		Presigner:  a.presign,
		Dispatcher: a.dispatcher(true),
		Events:     a.bus,
		Feed:       a.bus,
	}, cfg)

	return server.Run(ctx, ":"+cfg.Port, server.NewRouter(h))
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
