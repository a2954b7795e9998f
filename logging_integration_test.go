package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggingFallbackToStdout(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root 用户不受目录权限限制")
	}
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	logPath := filepath.Join(blocked, "sub", "any-repo.log")
	configPath := writeConfigFile(t, fmt.Sprintf(`
LogLevel = "info"
LogFilePath = "%s"
StoragePath = "%s"
ListenPort = 5000

[[Remote]]
Key = "central"
URL = "https://repo1.maven.org/maven2"
Layout = "maven"
`, logPath, filepath.Join(dir, "storage")))

	useBufferWriters(t)
	code := execute([]string{"check-config", "--config", configPath})
	if code != 0 {
		t.Fatalf("日志 fallback 不应导致失败，得到 %d", code)
	}
}

func TestLoggingWritesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "any-repo.log")
	configPath := writeConfigFile(t, fmt.Sprintf(`
LogFilePath = "%s"
StoragePath = "%s"

[[Local]]
Key = "libs"
`, logPath, filepath.Join(dir, "storage")))

	useBufferWriters(t)
	if code := execute([]string{"check-config", "--config", configPath}); code != 0 {
		t.Fatalf("check-config 应成功，得到 %d", code)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("应写入日志文件: %v", err)
	}
	if !strings.Contains(string(data), `"action":"check_config"`) {
		t.Fatalf("日志内容缺少 check_config: %s", string(data))
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}
