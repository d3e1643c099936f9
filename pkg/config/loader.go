package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	// 1. 设置默认值 (Defaults)
	setDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		// 如果用户指定了文件，直接使用
		viper.SetConfigFile(cfgFile)
	} else {
		// 否则按优先级搜索
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		// 搜索顺序：
		// 1. 当前目录
		viper.AddConfigPath(".")
		// 2. 当前目录下的 .fpool
		viper.AddConfigPath(".fpool")
		// 3. 用户主目录下的 .fpool
		viper.AddConfigPath(filepath.Join(home, ".fpool"))

		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量 (FPOOL_STORAGE_PATH 等)
	viper.SetEnvPrefix("FPOOL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件
	// 输出走 stderr：verify 等命令的 stdout 是给人和脚本读的结果
	if err := viper.ReadInConfig(); err != nil {
		// 如果只是没找到配置文件，但可能有环境变量，不一定算错
		// 但如果是配置文件格式错，那就是错
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Fprintln(os.Stderr, "⚠️  No config file found, using defaults/env vars")
		} else {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	} else {
		fmt.Fprintln(os.Stderr, "🔧 Using config file:", viper.ConfigFileUsed())
	}

	return nil
}

func setDefaults() {
	wd, _ := os.Getwd()
	base := filepath.Join(wd, ".fpool")

	// 存储默认值
	viper.SetDefault("storage.path", filepath.Join(base, "filedir"))
	viper.SetDefault("storage.trash_path", "")
	viper.SetDefault("storage.legacy_path", "")
	viper.SetDefault("storage.file_perm", "0666")
	viper.SetDefault("storage.dir_perm", "0777")

	// 本安装在 config.db 里的名字
	viper.SetDefault("instance.uniqid", "filepool")

	// 全量 sweep 默认关闭
	viper.SetDefault("tidy.enabled", false)
	viper.SetDefault("tidy.interval", "24h")
	viper.SetDefault("tidy.timeout", "1h")
	viper.SetDefault("tidy.dry_run", false)

	// 本系统自己的元数据库
	viper.SetDefault("peers.cache_url", "")
	viper.SetDefault("peers.cache_ttl", "5m")

	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.dsn", filepath.Join(base, "filepool.db"))
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")

	// 后台任务
	viper.SetDefault("jobs.backend", "sql")
	viper.SetDefault("jobs.redis_url", "")
	viper.SetDefault("jobs.max_attempts", 5)
	viper.SetDefault("jobs.poll_interval", "1s")

	viper.SetDefault("worker.grpc_addr", ":8080")
	viper.SetDefault("worker.metrics_addr", ":9090")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.console", true)
}
