package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath string
}

// exitError 携带非零退出码；错误信息已在命令内部输出。
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute 构建命令树并执行，返回退出码，方便测试。
func execute(args []string) int {
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdOut)
	root.SetErr(stdErr)

	if err := root.Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			return exit.code
		}
		fmt.Fprintln(stdErr, err.Error())
		return 2
	}
	return 0
}

func newRootCommand() *cobra.Command {
	var configFlag string
	root := &cobra.Command{
		Use:           "any-repo",
		Short:         "Artifact repository resolution and remote caching service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 ANY_REPO_CONFIG 覆盖）")

	options := func() cliOptions {
		return cliOptions{configPath: resolveConfigPath(configFlag)}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "启动 HTTP 服务",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return asExit(runServe(cmd.Context(), options()))
			},
		},
		&cobra.Command{
			Use:   "check-config",
			Short: "仅校验配置后退出",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				return asExit(runCheckConfig(options()))
			},
		},
		&cobra.Command{
			Use:   "resolve <repoKey:path>...",
			Short: "解析一个或多个路径并以 JSON 输出结果",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return asExit(runResolve(cmd.Context(), options(), args))
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "显示版本信息",
			Args:  cobra.NoArgs,
			Run: func(*cobra.Command, []string) {
				printVersion()
			},
		},
	)
	return root
}

// resolveConfigPath 结合 --config 与环境变量计算最终的配置路径。
func resolveConfigPath(flagValue string) string {
	path := strings.TrimSpace(os.Getenv("ANY_REPO_CONFIG"))
	if flagValue != "" {
		path = flagValue
	}
	if path == "" {
		path = "config.toml"
	}
	return path
}

func asExit(code int) error {
	if code == 0 {
		return nil
	}
	return exitError{code: code}
}
