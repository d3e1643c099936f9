package ignore

import (
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
)

const (
	// RegistryFile 是 filedir 根目录下的已接入系统列表
	RegistryFile = "config.db"
	// WarningFile 是 filedir 里提示运维不要手动改动的说明文件
	WarningFile = "warning.txt"
	// IgnoreFile 允许运维在 filedir 根目录追加自定义跳过规则
	IgnoreFile = ".fpoolignore"
)

// Matcher 封装了跳过逻辑
// 它负责判断 filedir 里的一个条目是不是保留文件 (不是内容文件)
type Matcher struct {
	ignorer *gitignore.GitIgnore
}

// DefaultRules 是强制生效的保留文件名
// 不带斜杠的规则在任意深度按文件名匹配
func DefaultRules() []string {
	return []string{
		RegistryFile,
		WarningFile,
		IgnoreFile,
		"temp-*", // 写入中的临时文件
		".DS_Store",
		"Thumbs.db",
	}
}

// NewMatcher 初始化匹配器
// rootPath: filedir 根目录（用于查找 .fpoolignore 文件）
func NewMatcher(rootPath string) (*Matcher, error) {
	defaultRules := DefaultRules()

	var ignorer *gitignore.GitIgnore
	var err error

	ignoreFilePath := filepath.Join(rootPath, IgnoreFile)
	if _, errStat := os.Stat(ignoreFilePath); errStat == nil {
		// 情况 A: 运维定义了 .fpoolignore，和默认规则合并编译
		ignorer, err = gitignore.CompileIgnoreFileAndLines(ignoreFilePath, defaultRules...)
	} else {
		// 情况 B: 仅编译默认规则
		ignorer = gitignore.CompileIgnoreLines(defaultRules...)
	}
	if err != nil {
		return nil, err
	}

	return &Matcher{ignorer: ignorer}, nil
}

// Matches 检查给定的路径是否是保留条目
// path: 相对于 filedir 根目录的路径 (例如 "aa/bb/config.db")
func (m *Matcher) Matches(path string) bool {
	if m == nil || m.ignorer == nil {
		return false
	}
	return m.ignorer.MatchesPath(filepath.ToSlash(path))
}
