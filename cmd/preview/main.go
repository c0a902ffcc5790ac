package main

import (
	"flag"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	zerosvc "github.com/zeromicro/go-zero/core/service"
	"github.com/zeromicro/go-zero/core/threading"

	"send-preview-sol/internal/config"
	"send-preview-sol/internal/pkg/logger"
	"send-preview-sol/internal/pkg/metrics"
	"send-preview-sol/internal/service"
	"send-preview-sol/internal/svc"
)

var configFile = flag.String("f", "etc/preview.yaml", "the config file")

func main() {
	defer func() {
		if r := recover(); r != nil {
			logx.Errorf("panic: %+v\nstack: %s", r, debug.Stack())
		}
	}()

	flag.Parse()

	c := config.MustLoad(*configFile)
	if err := logger.Init(c.LogConf.ToLogOption()); err != nil {
		panic(err)
	}
	defer logger.Sync()

	serviceContext, err := svc.NewServiceContext(c)
	if err != nil {
		panic(err)
	}
	defer serviceContext.Close()

	sg := zerosvc.NewServiceGroup()

	// 价格只服务于法币输入，未配置间隔时不同步
	if c.Rpc.PriceIntervalS > 0 {
		sg.Add(service.NewPriceSyncService(
			c.Rpc.Endpoint,
			time.Duration(c.Rpc.PriceIntervalS)*time.Second,
			time.Duration(c.Rpc.TimeoutMs)*time.Millisecond,
			serviceContext.Prices,
		))
	}

	sg.Add(service.NewBalanceSyncService(
		serviceContext.AccountDir,
		serviceContext.Services.Assets,
		serviceContext.Fetcher,
		serviceContext.Balances,
		serviceContext.Metrics,
		service.BalanceSyncOption{
			Interval:    time.Duration(c.BalanceSync.IntervalS) * time.Second,
			Timeout:     time.Duration(c.Rpc.TimeoutMs) * time.Millisecond * 4,
			Concurrency: c.BalanceSync.Concurrency,
		},
	))

	if c.Metrics.Listen != "" {
		sg.Add(metrics.NewServer(c.Metrics.Listen))
	}

	reader := service.NewIntentReaderService(serviceContext.NewSession, os.Stdin, os.Stdout)
	sg.Add(reader)

	logger.Infof("Starting send preview service, network=%s", serviceContext.Network)

	// ServiceGroup.Start 会阻塞到所有服务退出
	threading.GoSafe(sg.Start)

	// 等待退出信号或输入结束
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-reader.Done():
	}

	logger.Infof("Shutting down services...")
	sg.Stop()
}
