package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/any-hub/any-repo/internal/checksum"
	"github.com/any-hub/any-repo/internal/pathkey"
)

var (
	// ErrNotFound 表示任何成员都无法提供该路径。属于正常结果，不应按错误级别记录。
	ErrNotFound = errors.New("not found")
	// ErrRemoteUnavailable 表示上游失败且没有可用的本地副本。
	ErrRemoteUnavailable = errors.New("remote unavailable")
	// ErrHardFailure 供 errors.Is 匹配 *HardFailureError。
	ErrHardFailure = errors.New("remote hard failure")
	// ErrRemoteOffline 表示远程仓库处于离线状态且本地没有副本。
	ErrRemoteOffline = errors.New("remote offline")
	// ErrReadOnly 表示目标仓库不接受部署（Remote 或 Virtual）。
	ErrReadOnly = errors.New("repository is read-only")
	// ErrUnknownRepository 表示请求的仓库键不存在。
	ErrUnknownRepository = errors.New("unknown repository")
	// ErrPathRejected 表示路径被 include/exclude 或默认排除规则拒绝。
	ErrPathRejected = errors.New("path rejected by repository filters")
	// ErrMalformedID 与 pathkey.ErrMalformedID 相同，便于调用方只依赖本包。
	ErrMalformedID = pathkey.ErrMalformedID
)

// ChecksumMismatchError 是校验失败时返回的错误类型。
type ChecksumMismatchError = checksum.MismatchError

// HardFailureError 表示 hardFail 远程仓库的上游错误，虚拟仓库解析遇到它会整体中止。
type HardFailureError struct {
	Remote string
	Err    error
}

func (e *HardFailureError) Error() string {
	return fmt.Sprintf("remote %s failed: %v", e.Remote, e.Err)
}

func (e *HardFailureError) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, ErrHardFailure) 成立。
func (e *HardFailureError) Is(target error) bool {
	return target == ErrHardFailure
}

// CyclicCompositionError 表示虚拟仓库组合中存在环，Path 为成环的仓库键序列。
type CyclicCompositionError struct {
	Path []string
}

func (e *CyclicCompositionError) Error() string {
	return "cyclic virtual repository composition: " + strings.Join(e.Path, " -> ")
}
