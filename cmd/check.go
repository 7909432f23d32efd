package cmd

import (
	"context"
	"fmt"
	"time"

	"waveloft/db"
	"waveloft/storage"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "检查 MySQL、Redis 和 MinIO 连接",
	Long:  `依次连接 MySQL、Redis 和 MinIO，并做一次基本读写，确认服务依赖可用。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		fmt.Printf("MySQL: %s:%s/%s\n", cfg.DBHost, cfg.DBPort, cfg.DBName)
		gdb, err := db.ConnectGormDB(cfg)
		if err != nil {
			return err
		}
		defer db.CloseGormDB()
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("MySQL 不可用: %w", err)
		}
		fmt.Println("MySQL连接成功！")

		fmt.Printf("Redis: %s, DB: %d\n", cfg.RedisAddr(), cfg.RedisDB)
		rdb, err := db.ConnectRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.CloseRedis()
		if err := db.CheckRedis(ctx, rdb); err != nil {
			return fmt.Errorf("Redis 读写测试失败: %w", err)
		}
		fmt.Println("Redis基本操作测试成功！")

		fmt.Printf("MinIO: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)
		store, err := storage.NewMinioStore(cfg)
		if err != nil {
			return err
		}
		ok, err := store.Client().BucketExists(ctx, store.Bucket())
		if err != nil {
			return fmt.Errorf("MinIO 不可用: %w", err)
		}
		if !ok {
			return fmt.Errorf("存储桶 %s 不存在", store.Bucket())
		}
		fmt.Println("MinIO连接成功！")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
