package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"filepool/pkg/meta"
	"filepool/pkg/types"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Settings 是解析并校验后的完整配置
type Settings struct {
	Storage  StorageSettings  `mapstructure:"storage"`
	Instance InstanceSettings `mapstructure:"instance"`
	Tidy     TidySettings     `mapstructure:"tidy"`
	Systems  []SystemSettings `mapstructure:"systems" validate:"dive"`
	Peers    PeerSettings     `mapstructure:"peers"`
	Database DatabaseSettings `mapstructure:"database"`
	Jobs     JobsSettings     `mapstructure:"jobs"`
	Worker   WorkerSettings   `mapstructure:"worker"`
	Log      LogSettings      `mapstructure:"log"`
}

type StorageSettings struct {
	Path       string      `mapstructure:"path" validate:"required"`
	TrashPath  string      `mapstructure:"trash_path"`
	LegacyPath string      `mapstructure:"legacy_path"`
	FilePerm   os.FileMode `mapstructure:"file_perm"`
	DirPerm    os.FileMode `mapstructure:"dir_perm"`
}

type InstanceSettings struct {
	UniqID string `mapstructure:"uniqid" validate:"required,alphanum"`
}

type TidySettings struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gte=0"`
	DryRun   bool          `mapstructure:"dry_run"`
}

// SystemSettings 描述一个已接入系统的引用索引
// 用列表而不是 map：viper 会把 map 的 key 转成小写，而系统 ID 区分大小写
type SystemSettings struct {
	ID     string `mapstructure:"id" validate:"required,alphanum"`
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

// PeerSettings 控制对端引用查询的缓存，cache_url 为空时不缓存
type PeerSettings struct {
	CacheURL string        `mapstructure:"cache_url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
}

type DatabaseSettings struct {
	Driver   string `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type JobsSettings struct {
	Backend      string        `mapstructure:"backend" validate:"required,oneof=sql redis"`
	RedisURL     string        `mapstructure:"redis_url" validate:"required_if=Backend redis"`
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"gte=1"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type WorkerSettings struct {
	GRPCAddr    string `mapstructure:"grpc_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type LogSettings struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

// Descriptor 返回本系统元数据库的连接描述
// Postgres 没写 dsn 时用 host/port 等字段拼
func (d DatabaseSettings) Descriptor() meta.Descriptor {
	dsn := d.DSN
	if dsn == "" && d.Driver == meta.DriverPostgres {
		dsn = meta.Config{
			Host:     d.Host,
			Port:     d.Port,
			User:     d.User,
			Password: d.Password,
			DBName:   d.DBName,
			SSLMode:  d.SSLMode,
		}.DSN()
	}
	return meta.Descriptor{Driver: d.Driver, DSN: dsn}
}

// Descriptors 把已接入系统整理成 SystemID -> Descriptor
func (s *Settings) Descriptors() map[types.SystemID]meta.Descriptor {
	out := make(map[types.SystemID]meta.Descriptor, len(s.Systems))
	for _, sys := range s.Systems {
		out[types.SystemID(sys.ID).Normalize()] = meta.Descriptor{Driver: sys.Driver, DSN: sys.DSN}
	}
	return out
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Current 从全局 Viper 解析 Settings 并校验
func Current() (*Settings, error) {
	return FromViper(viper.GetViper())
}

// FromViper 从指定的 Viper 实例解析 Settings
func FromViper(v *viper.Viper) (*Settings, error) {
	var s Settings
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		fileModeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&s, hook); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validate.Struct(&s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("invalid config %s: failed on %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// fileModeHook 把 "0644" / "0o644" 这样的八进制字符串解析成 os.FileMode
func fileModeHook() mapstructure.DecodeHookFuncType {
	modeType := reflect.TypeOf(os.FileMode(0))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != modeType || from.Kind() != reflect.String {
			return data, nil
		}
		raw := strings.TrimPrefix(strings.TrimSpace(data.(string)), "0o")
		if raw == "" {
			return os.FileMode(0), nil
		}
		n, err := strconv.ParseUint(raw, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid permission %q: %w", data, err)
		}
		return os.FileMode(n) & os.ModePerm, nil
	}
}

// SetLegacyPath 持久化旧目录设置
// 没有正在使用的配置文件时写到 $HOME/.fpool/config.yaml
func SetLegacyPath(path string) (string, error) {
	viper.Set("storage.legacy_path", path)

	target := viper.ConfigFileUsed()
	if target == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		target = filepath.Join(home, ".fpool", "config.yaml")
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return "", err
		}
	}
	if err := viper.WriteConfigAs(target); err != nil {
		return "", fmt.Errorf("failed to persist legacy path: %w", err)
	}
	return target, nil
}
