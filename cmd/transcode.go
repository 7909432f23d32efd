package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"waveloft/core/events"
	"waveloft/logger"

	"github.com/spf13/cobra"
)

var transcodePrefix string

var transcodeCmd = &cobra.Command{
	Use:   "transcode",
	Short: "监听存储桶事件并转码无损上传",
	Long: `订阅 MinIO 存储桶的 s3:ObjectCreated:* 通知。flac/*.flac 上传会被转码为 mp3/*.mp3
并更新对应曲目；meta/*.json 文档会被解析并写回曲目详情。多个实例可以同时运行，
同一对象通过 Redis 认领只处理一次。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		router := a.dispatcher(true)
		logger.Info("listening for bucket notifications",
			logger.String("bucket", a.store.Bucket()),
			logger.String("prefix", transcodePrefix))

		for info := range a.store.ListenCreated(ctx, transcodePrefix, "") {
			if info.Err != nil {
				logger.Error("bucket notification error", logger.ErrorField(info.Err))
				continue
			}
			records := events.FromNotification(info)
			if len(records) == 0 {
				continue
			}
			rep := router.Dispatch(ctx, records)
			logger.Info("bucket events dispatched",
				logger.Int("handled", rep.Handled),
				logger.Int("skipped", rep.Skipped),
				logger.Int("failed", rep.Failed))
		}
		logger.Info("notification stream closed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(transcodeCmd)

	transcodeCmd.Flags().StringVarP(&transcodePrefix, "prefix", "p", "", "只监听该前缀下的对象")
	transcodeCmd.Example = `  # 监听整个存储桶
  waveloft transcode

  # 只处理无损上传
  waveloft transcode -p flac/`
}
