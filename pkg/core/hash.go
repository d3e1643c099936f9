package core

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"filepool/pkg/types"

	"github.com/fxamacker/cbor/v2"
)

// 定义规范化 (Canonical) CBOR 编码选项
// 相同的结构体永远编码出相同的字节，方便多个实例比对 config.db
var encOptions = cbor.EncOptions{
	// 1. 强制 Map Key 排序 (Canonical)
	Sort: cbor.SortCanonical,

	// 2. 浮点数必须使用 64 位表示 (version: 1.0)
	ShortestFloat: cbor.ShortestFloatNone,

	// 3. 时间格式化为 Unix 整数
	Time:    cbor.TimeUnix,
	TimeTag: cbor.EncTagNone,

	// 4. 禁止不定长编码 (Indefinite Length)
	IndefLength: cbor.IndefLengthForbidden,
}

// 全局复用的编码模式
var em, _ = encOptions.EncMode()

// 定义解码选项
var decOptions = cbor.DecOptions{
	// --- 安全性配置 ---
	// config.db 是共享目录里的文件，任何实例都能写，限制尺寸防止损坏文件耗尽内存
	MaxArrayElements: 100000,
	MaxMapPairs:      1000,
	MaxNestedLevels:  16,

	IndefLength: cbor.IndefLengthForbidden,
	DupMapKey:   cbor.DupMapKeyEnforcedAPF,
}

var dm, _ = decOptions.DecMode()

// EncodeObject 用规范化 CBOR 编码任意结构
func EncodeObject(v any) ([]byte, error) {
	data, err := em.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal object: %w", err)
	}
	return data, nil
}

// DecodeObject 通用的解码函数 (供外部使用)
func DecodeObject(data []byte, v any) error {
	return dm.Unmarshal(data, v)
}

// CalculateBlobHash 计算内存中数据的 SHA-1
func CalculateBlobHash(data []byte) types.Hash {
	sum := sha1.Sum(data)
	return types.Hash(hex.EncodeToString(sum[:]))
}

// CalculateReaderHash 流式计算 SHA-1，返回 hash 和读取的字节数
func CalculateReaderHash(r io.Reader) (types.Hash, int64, error) {
	h := sha1.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return types.Hash(hex.EncodeToString(h.Sum(nil))), n, nil
}

// CalculateFileHash 计算磁盘文件的 SHA-1 (不会把整个文件读进内存)
func CalculateFileHash(path string) (types.Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash, _, err := CalculateReaderHash(f)
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hash, nil
}
