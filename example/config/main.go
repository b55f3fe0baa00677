package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tokmz/qiuws"
	"github.com/tokmz/qiuws/pkg/config"
)

func main() {
	// ============ 1. 加载配置 ============
	fmt.Println("=== 加载配置 ===")

	fc, cfg, err := qiuws.LoadConfig("example/config/config.yaml",
		config.WithOnChange(func(c *config.Config) {
			fmt.Printf("配置已变更: server.port=%d\n", c.GetInt("server.port"))
		}),
		config.WithOnError(func(err error) {
			fmt.Printf("配置错误: %v\n", err)
		}),
	)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	defer cfg.Close()

	fmt.Printf("配置文件: %s\n", cfg.ConfigFileUsed())

	// ============ 2. 生效配置 ============
	fmt.Println("\n=== 生效配置 ===")

	out, err := fc.YAML()
	if err != nil {
		log.Fatalf("输出配置失败: %v", err)
	}
	fmt.Println(string(out))

	// ============ 3. 环境变量覆盖 ============
	fmt.Println("=== 环境变量覆盖 ===")
	fmt.Printf("设置 %s_SERVER_PORT=8080 后重新运行即可覆盖 server.port\n", qiuws.EnvPrefix)

	// ============ 4. 监听文件变化 ============
	fmt.Println("\n=== 监听文件变化（Ctrl+C 退出）===")
	cfg.StartWatch()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
