// Package logging 配置全局 zerolog
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	gormlogger "gorm.io/gorm/logger"
)

// Setup 设置全局日志级别和输出
// 解析失败时退回 info；console 为 true 时输出人类可读格式
func Setup(level string, console bool) zerolog.Logger {
	return SetupWriter(os.Stderr, level, console)
}

// SetupWriter 和 Setup 一样，但可以指定输出
func SetupWriter(w io.Writer, level string, console bool) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return log.Logger
}

// GormLevel 把 zerolog 级别映射到 gorm 的 SQL 日志级别
// 只有 debug 时才打印 SQL
func GormLevel() gormlogger.LogLevel {
	switch zerolog.GlobalLevel() {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return gormlogger.Info
	case zerolog.InfoLevel, zerolog.WarnLevel:
		return gormlogger.Warn
	default:
		return gormlogger.Silent
	}
}
