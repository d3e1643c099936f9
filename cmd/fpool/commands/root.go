package commands

import (
	"context"
	"fmt"
	"os"

	"filepool/pkg/app"
	"filepool/pkg/config"
	"filepool/pkg/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// 全局应用实例，供子命令使用
	FP *app.App
)

var rootCmd = &cobra.Command{
	Use:           "fpool",
	Short:         "filepool: shared content-addressed file store maintenance",
	SilenceUsage:  true,
	// PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Current()
		if err != nil {
			return err
		}
		log := logging.Setup(settings.Log.Level, settings.Log.Console)

		FP, err = app.NewApp(cmd.Context(), settings,
			app.WithLogger(log),
			app.WithSweepOutput(cmd.OutOrStdout()),
		)
		if err != nil {
			return fmt.Errorf("failed to initialize filepool: %w", err)
		}
		return nil
	},
}

// Execute 是入口
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext 带取消信号的入口
// 子命令失败时 cobra 不会执行 PostRun，所以在这里统一释放 App
func ExecuteContext(ctx context.Context) error {
	defer closeApp()
	return rootCmd.ExecuteContext(ctx)
}

func closeApp() {
	if FP == nil {
		return
	}
	if err := FP.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "close error:", err)
	}
	FP = nil
}

func init() {
	// 在初始化时，加载配置
	cobra.OnInitialize(initConfig)

	// 1. 定义全局参数 --config
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.fpool/config.yaml)")

	// 2. 定义 storage.path 参数，并绑定到 Viper
	// 这样用户既可以在 yaml 里写，也可以用 --storage-path 覆盖
	rootCmd.PersistentFlags().String("storage-path", "", "filedir of the shared store")
	if err := viper.BindPFlag("storage.path", rootCmd.PersistentFlags().Lookup("storage-path")); err != nil {
		fmt.Println("Failed to bind flag:", err)
		os.Exit(1)
	}
}

// initConfig 读取配置文件和环境变量
func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		fmt.Fprintln(os.Stderr, "Config error:", err)
		os.Exit(1)
	}
}
