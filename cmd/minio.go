package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"waveloft/storage"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	minioPrefix string
	minioDelete bool
	minioEnsure bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶管理",
	Long:  `按顶层前缀（flac/、mp3/、album_art/、meta/ ...）统计存储桶中的对象，或删除某个前缀下的全部对象。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		store, err := storage.NewMinioStore(cfg)
		if err != nil {
			return err
		}

		if minioEnsure {
			if err := store.EnsureBucket(ctx); err != nil {
				return err
			}
		}

		if minioDelete {
			if minioPrefix == "" {
				return errors.New("删除操作需要指定目录前缀")
			}
			n, err := store.RemovePrefix(ctx, minioPrefix)
			if err != nil {
				return fmt.Errorf("删除目录失败: %w", err)
			}
			fmt.Printf("已删除 %s 下的 %d 个对象\n", minioPrefix, n)
			return nil
		}

		report, err := store.Report(ctx, minioPrefix)
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	},
}

func printReport(report storage.BucketReport) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "前缀\t对象数\t大小\t最后修改\n")
	for _, p := range append(report.Prefixes, report.Total()) {
		modified := "-"
		if !p.LastModified.IsZero() {
			modified = humanize.Time(p.LastModified)
		}
		prefix := p.Prefix
		if prefix == "" {
			prefix = "(根目录)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", prefix, humanize.Comma(p.Objects), humanize.IBytes(uint64(p.TotalSize)), modified)
	}
	tw.Flush()
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤或指定要删除的目录")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除指定前缀下的所有对象")
	minioCmd.Flags().BoolVar(&minioEnsure, "ensure", false, "存储桶不存在时创建")

	minioCmd.Example = `  # 按前缀统计整个存储桶
  waveloft minio

  # 只统计 mp3/
  waveloft minio -p mp3/

  # 删除 meta/ 下的所有对象
  waveloft minio -d -p meta/`
}
