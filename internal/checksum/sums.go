package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	_ "crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Type 标识一种校验和算法。
type Type string

const (
	SHA1   Type = "sha1"
	MD5    Type = "md5"
	SHA256 Type = "sha256"
)

// All 返回按校验优先级排序的算法列表。
func All() []Type {
	return []Type{SHA1, MD5, SHA256}
}

// Ext 返回对应的校验文件后缀，例如 ".sha1"。
func (t Type) Ext() string {
	return "." + string(t)
}

// Header 返回上游响应中携带该校验和的头部名称。
func (t Type) Header() string {
	switch t {
	case SHA1:
		return "X-Checksum-Sha1"
	case MD5:
		return "X-Checksum-Md5"
	case SHA256:
		return "X-Checksum-Sha256"
	}
	return ""
}

// TypeOfPath 识别校验文件路径（如 foo.jar.sha1），返回算法与原始文件路径。
func TypeOfPath(p string) (Type, string, bool) {
	for _, t := range All() {
		if strings.HasSuffix(p, t.Ext()) {
			return t, strings.TrimSuffix(p, t.Ext()), true
		}
	}
	return "", p, false
}

// Sums 记录各算法的十六进制校验值。
type Sums map[Type]string

// Get 返回指定算法的值（已规范化为小写）。
func (s Sums) Get(t Type) string {
	if s == nil {
		return ""
	}
	return normalize(s[t])
}

// FromHeader 从响应头提取上游声明的校验和。
func FromHeader(header http.Header) Sums {
	sums := Sums{}
	for _, t := range All() {
		if v := normalize(header.Get(t.Header())); v != "" {
			sums[t] = v
		}
	}
	return sums
}

// ParseChecksumFile 解析 .sha1/.md5 文件内容：取第一个空白分隔的 token。
func ParseChecksumFile(content []byte) string {
	fields := strings.Fields(string(content))
	if len(fields) == 0 {
		return ""
	}
	return normalize(fields[0])
}

// Hasher 在一次写入中同时计算 sha1/md5/sha256。
type Hasher struct {
	sha1   hash.Hash
	md5    hash.Hash
	sha256 digest.Digester
	writer io.Writer
	size   int64
}

// NewHasher 创建 Hasher。sha256 通过 go-digest 的 Canonical 算法计算。
func NewHasher() *Hasher {
	h := &Hasher{
		sha1:   sha1.New(),
		md5:    md5.New(),
		sha256: digest.SHA256.Digester(),
	}
	h.writer = io.MultiWriter(h.sha1, h.md5, h.sha256.Hash())
	return h
}

func (h *Hasher) Write(p []byte) (int, error) {
	n, err := h.writer.Write(p)
	h.size += int64(n)
	return n, err
}

// Size 返回已写入的字节数。
func (h *Hasher) Size() int64 { return h.size }

// Sums 返回当前累计的校验和。
func (h *Hasher) Sums() Sums {
	return Sums{
		SHA1:   hex.EncodeToString(h.sha1.Sum(nil)),
		MD5:    hex.EncodeToString(h.md5.Sum(nil)),
		SHA256: h.sha256.Digest().Encoded(),
	}
}

// Compute 读取整个 reader 并返回校验和与字节数。
func Compute(r io.Reader) (Sums, int64, error) {
	h := NewHasher()
	if _, err := io.Copy(h, r); err != nil {
		return nil, h.Size(), err
	}
	return h.Sums(), h.Size(), nil
}

// MismatchError 描述声明值与实际值不一致。
type MismatchError struct {
	Type    Type
	Claimed string
	Actual  string
	Policy  string
}

func (e *MismatchError) Error() string {
	claimed := e.Claimed
	if claimed == "" {
		claimed = "<absent>"
	}
	return fmt.Sprintf("checksum mismatch (%s, policy %s): claimed %s, actual %s", e.Type, e.Policy, claimed, e.Actual)
}

// Result 是一次校验的结论：被接受的校验和，以及未导致拒绝的不一致项（告警）。
type Result struct {
	Accepted   Sums
	Mismatches []MismatchError
}

// Check 依据策略逐算法校验。Verify 失败时返回 *MismatchError；
// 策略放行但声明值确实不一致时记录到 Result.Mismatches。
// 完全没有声明值时由策略直接裁决：Strict 拒绝，GenerateIfAbsent 放行。
func Check(p Policy, claimed, actual Sums) (Result, error) {
	result := Result{Accepted: Sums{}}
	claimedAny := false
	for _, t := range All() {
		if claimed.Get(t) != "" {
			claimedAny = true
			break
		}
	}
	for _, t := range All() {
		a := actual.Get(t)
		if a == "" {
			continue
		}
		c := claimed.Get(t)
		// 已有其它算法的声明值时，缺失的算法直接生成。
		if c == "" && claimedAny {
			result.Accepted[t] = p.Accept(c, a)
			continue
		}
		if !p.Verify(c, a) {
			return Result{}, &MismatchError{Type: t, Claimed: c, Actual: a, Policy: p.Name()}
		}
		if c != "" && c != a {
			result.Mismatches = append(result.Mismatches, MismatchError{Type: t, Claimed: c, Actual: a, Policy: p.Name()})
		}
		result.Accepted[t] = p.Accept(c, a)
	}
	return result, nil
}
