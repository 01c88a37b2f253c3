package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

// main 是 cryptonite 命令行客户端的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		log.Fatalf("cryptonite 运行失败: %v", err)
	}
}
