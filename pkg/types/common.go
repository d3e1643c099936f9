// pkg/types/common.go
package types

import "strings"

// HashLen 是 SHA-1 十六进制摘要的长度
const HashLen = 40

// Hash 代表文件内容的唯一标识符 (SHA-1 Hex String)
// 这是一个“值对象”，应当是不可变的。
type Hash string

func (h Hash) String() string { return string(h) }

func (h Hash) IsZero() bool { return h == "" }

// IsValid 要求恰好 40 个小写十六进制字符
func (h Hash) IsValid() bool {
	if len(h) != HashLen {
		return false
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// IsContentName 判断目录遍历时遇到的文件名是否是内容文件
// 必须是完整的 40 位 Hex：其它长度的文件 (marker、旧格式文件) 一律跳过
func IsContentName(name string) bool {
	return Hash(name).IsValid()
}

// SystemID 是接入同一个 filedir 的前端系统标识
type SystemID string

func (s SystemID) String() string { return string(s) }

// Normalize 去掉首尾空白
func (s SystemID) Normalize() SystemID {
	return SystemID(strings.TrimSpace(string(s)))
}
