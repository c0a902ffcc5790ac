package svc

import (
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/redis/go-redis/v9"

	"send-preview-sol/internal/cache"
	"send-preview-sol/internal/config"
	"send-preview-sol/internal/logic/builder"
	"send-preview-sol/internal/logic/domain"
	"send-preview-sol/internal/logic/events"
	"send-preview-sol/internal/logic/session"
	"send-preview-sol/internal/logic/solana"
	"send-preview-sol/internal/pkg/logger"
	"send-preview-sol/internal/pkg/metrics"
	"send-preview-sol/internal/pkg/mq"
	"send-preview-sol/internal/pkg/types"
)

// ServiceContext 进程级依赖，启动时组装一次，之后以显式参数传给会话与后台服务
type ServiceContext struct {
	Config   config.PreviewConfig
	Network  domain.Network
	RPC      solana.RPC
	Services builder.Services

	Balances   *cache.BalanceCache
	Prices     *cache.PriceCache
	Rent       *solana.RentOracle
	Fetcher    *solana.BalanceFetcher
	Metrics    *metrics.PreviewMetrics
	Redis      *redis.Client
	Mirror     session.BalanceMirror
	Producer   *kafka.Producer
	Publisher  session.Publisher
	AccountDir *cache.AccountCache
}

// NewServiceContext 创建服务上下文，Redis / Kafka 未配置时跳过
func NewServiceContext(c config.PreviewConfig) (*ServiceContext, error) {
	network := domain.Network(c.Send.Network)

	rpc, err := solana.NewRPC(c.Rpc.Endpoint)
	if err != nil {
		return nil, err
	}

	accounts := make([]domain.Account, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		accounts = append(accounts, domain.Account{ID: a.ID, Address: a.Address})
	}
	accountDir, err := cache.NewAccountCache(accounts)
	if err != nil {
		return nil, err
	}

	assets, err := buildAssetRegistry(network, c.Assets)
	if err != nil {
		return nil, err
	}

	blockhash := solana.NewBlockhashSource(rpc)
	ctx := &ServiceContext{
		Config:  c,
		Network: network,
		RPC:     rpc,
		Services: builder.Services{
			Accounts: accountDir,
			Native:   solana.NewNativeTransferBuilder(blockhash),
			Token:    solana.NewTokenTransferBuilder(blockhash),
			Fees:     solana.NewRPCFeeEstimator(rpc, network),
			Assets:   assets,
		},
		Balances:   cache.NewBalanceCache(),
		Prices:     cache.NewPriceCache(),
		Rent:       solana.NewRentOracle(rpc, c.Send.RentExemptionLamports),
		Fetcher:    solana.NewBalanceFetcher(rpc),
		Metrics:    metrics.Preview(),
		Publisher:  events.Nop{},
		AccountDir: accountDir,
	}

	if c.Redis.Addr != "" {
		ctx.Redis = redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		ctx.Mirror = cache.NewRedisBalanceStore(ctx.Redis, time.Duration(c.Redis.BalanceTTLS)*time.Second)
	}

	if c.KafkaProducerConf.Brokers != "" {
		producer, err := mq.NewKafkaProducer(c.KafkaProducerConf.ToKafkaOption())
		if err != nil {
			logger.Errorf("Kafka producer 初始化失败: %v", err)
			ctx.Close()
			return nil, err
		}
		ctx.Producer = producer
		ctx.Publisher = events.NewKafkaSink(producer, events.KafkaSinkOption{
			PreviewTopic:      c.KafkaProducerConf.Topics.Preview,
			PreviewPartitions: c.KafkaProducerConf.Partitions.Preview,
			BalanceTopic:      c.KafkaProducerConf.Topics.Balance,
			BalancePartitions: c.KafkaProducerConf.Partitions.Balance,
			SendTimeout:       time.Duration(c.KafkaProducerConf.SendTimeoutMs) * time.Millisecond,
		})
	}

	logger.Infof("服务上下文初始化完成: network=%s, accounts=%d", network, len(accounts))
	return ctx, nil
}

func buildAssetRegistry(network domain.Network, extra []config.AssetConfig) (*domain.AssetRegistry, error) {
	assets := domain.NewAssetRegistry(network)
	for _, a := range extra {
		mint, err := types.TryPubkeyFromBase58(a.Mint)
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", a.Symbol, err)
		}
		assets.Add(domain.Asset{
			ID:       network.TokenAssetID(mint),
			Symbol:   a.Symbol,
			Decimals: a.Decimals,
			Mint:     mint,
		})
	}
	return assets, nil
}

// NewSession 创建一个发送会话，共享进程级余额缓存
func (ctx *ServiceContext) NewSession(sink session.Sink) *session.Session {
	return session.New(session.Deps{
		Services:  ctx.Services,
		Balances:  ctx.Balances,
		Rent:      ctx.Rent,
		Prices:    ctx.Prices,
		Mirror:    ctx.Mirror,
		Publisher: ctx.Publisher,
		Metrics:   ctx.Metrics,
		Sink:      sink,
	}, session.Options{
		Network:            ctx.Network,
		Debounce:           ctx.Config.Send.Debounce(),
		DefaultFeeLamports: ctx.Config.Send.DefaultFeeLamports,
	})
}

// Close 关闭服务上下文中的资源
func (ctx *ServiceContext) Close() {
	if ctx.Producer != nil {
		ctx.Producer.Flush(3000)
		ctx.Producer.Close()
	}
	if ctx.Redis != nil {
		_ = ctx.Redis.Close()
	}
}
