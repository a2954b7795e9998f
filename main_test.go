package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveConfigPathPriority(t *testing.T) {
	t.Setenv("ANY_REPO_CONFIG", "/tmp/env.toml")

	if got := resolveConfigPath(""); got != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", got)
	}
	if got := resolveConfigPath("/tmp/flag.toml"); got != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", got)
	}

	t.Setenv("ANY_REPO_CONFIG", "")
	if got := resolveConfigPath(""); got != "config.toml" {
		t.Fatalf("默认应为 config.toml，得到 %s", got)
	}
}

func TestCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := execute([]string{"check-config", "--config", configFixture(t, "valid.toml")})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d (stderr=%s)", code, stdErrBuffer().String())
	}
}

func TestCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := execute([]string{"check-config", "--config", configFixture(t, "missing.toml")})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if !strings.Contains(stdErrBuffer().String(), "加载配置失败") {
		t.Fatalf("应输出失败原因: %s", stdErrBuffer().String())
	}
}

func TestCheckConfigRejectsCycles(t *testing.T) {
	useBufferWriters(t)
	path := writeConfigFile(t, fmt.Sprintf(`
StoragePath = "%s"

[[Local]]
Key = "libs"

[[Virtual]]
Key = "a"
Members = ["libs", "b"]

[[Virtual]]
Key = "b"
Members = ["a"]
`, filepath.Join(t.TempDir(), "storage")))

	if code := execute([]string{"check-config", "--config", path}); code != 1 {
		t.Fatalf("循环组合应校验失败，得到 %d", code)
	}
	if !strings.Contains(stdErrBuffer().String(), "cyclic") {
		t.Fatalf("应指出循环组合: %s", stdErrBuffer().String())
	}
}

func TestVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := execute([]string{"version"})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "any-repo") {
		t.Fatalf("version 输出应包含 any-repo 标识")
	}
}

func TestUnknownCommandFails(t *testing.T) {
	useBufferWriters(t)
	if code := execute([]string{"frobnicate"}); code != 2 {
		t.Fatalf("未知子命令应返回 2，得到 %d", code)
	}
}

func TestResolveCommandPrintsJSON(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/org/acme/app/1.0/app-1.0.pom" {
			_, _ = w.Write([]byte("<project/>"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(upstream.Close)

	path := writeConfigFile(t, fmt.Sprintf(`
StoragePath = "%s"

[[Remote]]
Key = "central"
URL = "%s"
Layout = "maven"

[[Virtual]]
Key = "public"
Members = ["central"]
`, filepath.Join(t.TempDir(), "storage"), upstream.URL))

	useBufferWriters(t)
	code := execute([]string{
		"resolve", "--config", path,
		"public:org/acme/app/1.0/app-1.0.pom",
		"public:org/acme/app/1.0/missing.pom",
	})
	if code != 1 {
		t.Fatalf("存在未找到的路径时应返回 1，得到 %d", code)
	}

	var results []struct {
		ID       string         `json:"id"`
		Resource map[string]any `json:"resource"`
		Error    string         `json:"error"`
	}
	if err := json.Unmarshal(stdOutBuffer().Bytes(), &results); err != nil {
		t.Fatalf("输出应为 JSON: %v (%s)", err, stdOutBuffer().String())
	}
	if len(results) != 2 {
		t.Fatalf("应按输入顺序输出两条结果: %+v", results)
	}
	if results[0].Resource == nil || results[0].Resource["servedBy"] != "central" {
		t.Fatalf("第一条应由 central 提供: %+v", results[0])
	}
	if results[1].Error == "" || !strings.Contains(results[1].Error, "not found") {
		t.Fatalf("第二条应报告未找到: %+v", results[1])
	}
}

func TestResolveCommandRejectsMalformedID(t *testing.T) {
	useBufferWriters(t)
	path := writeConfigFile(t, fmt.Sprintf(`
StoragePath = "%s"

[[Local]]
Key = "libs"
`, filepath.Join(t.TempDir(), "storage")))

	if code := execute([]string{"resolve", "--config", path, "no-separator"}); code != 2 {
		t.Fatalf("缺少分隔符的 id 应返回 2，得到 %d", code)
	}
}
