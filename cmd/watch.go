package cmd

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"waveloft/core/inbox"

	"github.com/spf13/cobra"
)

var watchDir string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "监听本地目录并自动上传音频",
	Long: `监听本地收件目录。新出现的音频文件会上传到存储桶，非无损文件随即入库；
无损文件交给 transcode 处理。处理完成的文件移入 .done，失败的移入 .failed。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := watchDir
		if dir == "" {
			dir = cfg.InboxDir
		}
		if dir == "" {
			return errors.New("未指定收件目录 (--dir 或 INBOX_DIR)")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		return inbox.NewWatcher(dir, a.uploads(), a.orchestrator()).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVarP(&watchDir, "dir", "d", "", "收件目录，默认取 INBOX_DIR")
}
