package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_Defaults(t *testing.T) {
	// 1. 空的临时目录 (没有 .fpoolignore)
	tmpDir := t.TempDir()

	matcher, err := NewMatcher(tmpDir)
	require.NoError(t, err)

	tests := []struct {
		path     string
		shouldIg bool
	}{
		{"config.db", true},
		{"warning.txt", true},
		{"aa/bb/config.db", true}, // 任意深度都按文件名匹配
		{"aa/bb/temp-12345", true},
		{".DS_Store", true},
		{"aa/bb/aabb000000000000000000000000000000000000", false},
		{"aa/bb", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.shouldIg, matcher.Matches(tt.path), "Path: %s", tt.path)
		})
	}
}

func TestMatcher_WithUserFile(t *testing.T) {
	tmpDir := t.TempDir()

	ignoreContent := `
# 旧系统遗留的备份目录
backup
*.bak
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, IgnoreFile), []byte(ignoreContent), 0644))

	matcher, err := NewMatcher(tmpDir)
	require.NoError(t, err)

	assert.True(t, matcher.Matches("backup"))
	assert.True(t, matcher.Matches("aa/old.bak"))
	assert.True(t, matcher.Matches("config.db"), "默认规则仍然生效")
	assert.False(t, matcher.Matches("aa/bb/cc"))
}

func TestMatcher_Nil(t *testing.T) {
	var m *Matcher
	assert.False(t, m.Matches("config.db"))
}
