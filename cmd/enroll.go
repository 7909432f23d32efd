package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "为尚未加入复习的曲目补齐学习字段",
	Long:  `为缺少学习字段的曲目写入默认值（ease 2.5，reps 0，interval 0），使其立即出现在待复习列表中。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.scheduler().Enroll(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("已加入复习: %d 首曲目\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enrollCmd)
}
