package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"send-preview-sol/internal/cache"
	"send-preview-sol/internal/consts"
	"send-preview-sol/internal/logic/builder"
	"send-preview-sol/internal/logic/codec"
	"send-preview-sol/internal/logic/domain"
	"send-preview-sol/internal/logic/session"
)

const (
	fromAddress = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
	toAddress   = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
)

var (
	network = domain.Network(consts.NetworkMainnet)
	solID   = network.NativeAssetID()
	usdcID  = network.TokenAssetID(consts.USDCMint)
)

func pythAccount(exponent int32, price int64, conf uint64, status uint32, ts int64) []byte {
	data := make([]byte, 240)
	binary.LittleEndian.PutUint32(data[20:24], uint32(exponent))
	binary.LittleEndian.PutUint64(data[96:104], uint64(ts))
	binary.LittleEndian.PutUint64(data[208:216], uint64(price))
	binary.LittleEndian.PutUint64(data[216:224], conf)
	binary.LittleEndian.PutUint32(data[224:228], status)
	return data
}

func TestParsePythPriceAccount(t *testing.T) {
	now := time.Now().Unix()

	tests := []struct {
		name    string
		token   string
		data    []byte
		want    string
		wantErr bool
	}{
		{"sol ok", "sol", pythAccount(-8, 15_000_000_000, 10_000_000, 1, now), "150", false},
		{"usdc ok", "usdc", pythAccount(-8, 100_010_000, 10_000, 1, now-10), "1.0001", false},
		{"not trading", "sol", pythAccount(-8, 15_000_000_000, 10_000_000, 0, now), "", true},
		{"stale", "sol", pythAccount(-8, 15_000_000_000, 10_000_000, 1, now-maxPriceAgeS-1), "", true},
		{"confidence too wide", "usdc", pythAccount(-8, 100_000_000, 1_000_000, 1, now), "", true},
		{"non-positive", "sol", pythAccount(-8, -1, 0, 1, now), "", true},
		{"too short", "sol", make([]byte, 100), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := consts.WSOLMint
			if tt.token == "usdc" {
				token = consts.USDCMint
			}
			point, err := parsePythPriceAccount(token, tt.data, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(point.PriceUsd), "got %s", point.PriceUsd)
		})
	}
}

type fakeAccountReader struct {
	infos []client.AccountInfo
	err   error
}

func (r fakeAccountReader) GetMultipleAccounts(ctx context.Context, addrs []string) ([]client.AccountInfo, error) {
	return r.infos, r.err
}

func TestPriceSyncService_Update(t *testing.T) {
	now := time.Now().Unix()
	reader := fakeAccountReader{infos: []client.AccountInfo{
		{Data: pythAccount(-8, 15_000_000_000, 10_000_000, 1, now)},
		{},
		{Data: pythAccount(-6, 999_900, 100, 1, now)},
	}}
	prices := cache.NewPriceCache()
	s := newPriceSyncService(reader, time.Minute, time.Second, prices)

	require.NoError(t, s.update())

	sol, ok := prices.Latest(consts.WSOLMint)
	require.True(t, ok)
	assert.Equal(t, "150", sol.String())

	_, ok = prices.Latest(consts.USDCMint)
	assert.False(t, ok, "空账户跳过")

	usdt, ok := prices.Latest(consts.USDTMint)
	require.True(t, ok)
	assert.Equal(t, "0.9999", usdt.String())

	s = newPriceSyncService(fakeAccountReader{err: errors.New("rpc down")}, time.Minute, time.Second, prices)
	assert.Error(t, s.update())

	s = newPriceSyncService(fakeAccountReader{infos: reader.infos[:1]}, time.Minute, time.Second, prices)
	assert.Error(t, s.update())
}

type staticAccounts []domain.Account

func (a staticAccounts) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	return a, nil
}

func (a staticAccounts) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	for _, acc := range a {
		if acc.ID == id {
			return acc, nil
		}
	}
	return domain.Account{}, domain.ErrAccountNotFound
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	fail  map[string]bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, account domain.Account, assets []domain.Asset) (map[domain.AssetID]domain.Balance, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail[account.ID] {
		return nil, errors.New("rpc down")
	}
	out := make(map[domain.AssetID]domain.Balance)
	for _, a := range assets {
		out[a.ID] = domain.Balance{Amount: decimal.NewFromInt(7), Unit: a.Symbol}
	}
	return out, nil
}

func TestBalanceSyncService_Refresh(t *testing.T) {
	accounts := staticAccounts{
		{ID: "a", Address: fromAddress},
		{ID: "b", Address: toAddress},
		{ID: "c", Address: fromAddress},
	}
	fetcher := &fakeFetcher{fail: map[string]bool{"b": true}}
	balances := cache.NewBalanceCache()
	balances.ReplaceAccount("b", map[domain.AssetID]domain.Balance{solID: {Amount: decimal.NewFromInt(1), Unit: "SOL"}})

	s := NewBalanceSyncService(accounts, domain.NewAssetRegistry(network), fetcher, balances, nil, BalanceSyncOption{
		Interval:    time.Minute,
		Concurrency: 2,
	})

	err := s.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account b")
	assert.Equal(t, 3, fetcher.calls)

	snap := balances.Snapshot()
	assert.Equal(t, "7", snap["a"][usdcID].Amount.String())
	assert.Equal(t, "7", snap["c"][solID].Amount.String())
	// 失败的账户保留旧值
	assert.Equal(t, "1", snap["b"][solID].Amount.String())
}

func TestBalanceSyncService_StartStop(t *testing.T) {
	fetcher := &fakeFetcher{}
	s := NewBalanceSyncService(staticAccounts{{ID: "a", Address: fromAddress}}, domain.NewAssetRegistry(network),
		fetcher, cache.NewBalanceCache(), nil, BalanceSyncOption{Interval: time.Hour})

	go s.Start()
	assert.Eventually(t, func() bool {
		fetcher.mu.Lock()
		defer fetcher.mu.Unlock()
		return fetcher.calls == 1
	}, time.Second, 5*time.Millisecond)
	s.Stop()
}

type nativeBuilder struct{}

func (nativeBuilder) BuildMessage(ctx context.Context, p domain.TransferParams) ([]byte, error) {
	return []byte("msg:" + p.Amount.String()), nil
}

type flatFee struct{}

func (flatFee) EstimateFee(ctx context.Context, message []byte, n domain.Network) (uint64, error) {
	return 5000, nil
}

type fixedRent uint64

func (r fixedRent) MinimumBalance(ctx context.Context) uint64 { return uint64(r) }

func newReader(t *testing.T, input string) (*IntentReaderService, *bytes.Buffer) {
	accounts := staticAccounts{{ID: "main", Address: fromAddress}}
	balances := cache.NewBalanceCache()
	balances.ReplaceAccount("main", map[domain.AssetID]domain.Balance{
		solID: {Amount: decimal.NewFromInt(10), Unit: "SOL"},
	})
	factory := func(sink session.Sink) *session.Session {
		return session.New(session.Deps{
			Services: builder.Services{
				Accounts: accounts,
				Native:   nativeBuilder{},
				Token:    nativeBuilder{},
				Fees:     flatFee{},
				Assets:   domain.NewAssetRegistry(network),
			},
			Balances: balances,
			Rent:     fixedRent(consts.DefaultRentExemptionLamports),
			Sink:     sink,
		}, session.Options{Network: network})
	}
	out := &bytes.Buffer{}
	s := NewIntentReaderService(factory, strings.NewReader(input), out)
	t.Cleanup(s.Stop)
	return s, out
}

func commandLine(t *testing.T, cmd Command) string {
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	return string(data)
}

func readReplies(t *testing.T, out *bytes.Buffer) []Reply {
	var replies []Reply
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		var r Reply
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		replies = append(replies, r)
	}
	return replies
}

func TestIntentReaderService_Commands(t *testing.T) {
	lines := []string{
		commandLine(t, Command{Op: OpIntent, Intent: &intentWire{
			FromAccountID: "main",
			ToAddress:     toAddress,
			AssetID:       string(solID),
			Amount:        "1.5",
		}}),
		commandLine(t, Command{Op: OpMax}),
		commandLine(t, Command{Op: OpDecode, Data: base58.Encode(codec.EncodeTransfer(codec.OpcodeTransfer, 2_500_000))}),
		commandLine(t, Command{Op: OpDecode, Data: "0OIl"}),
		"",
		"{not json",
		commandLine(t, Command{Op: "launch"}),
	}
	s, out := newReader(t, strings.Join(lines, "\n"))

	s.Start()
	<-s.Done()

	replies := readReplies(t, out)
	require.Len(t, replies, 8)

	// 防抖窗口为 0：事件先于命令回执写出
	assert.Equal(t, "validation", replies[0].Event)
	assert.Empty(t, replies[0].Errors)
	assert.Equal(t, "preview", replies[1].Event)
	assert.Equal(t, uint64(1), replies[1].Version)
	assert.Equal(t, uint64(5000), replies[1].Fee)
	assert.Equal(t, OpIntent, replies[2].Op)
	assert.Equal(t, uint64(1), replies[2].Version)

	assert.Equal(t, "9.99910412", replies[3].Value)
	assert.Equal(t, "2.5", replies[4].Value)
	assert.Contains(t, replies[5].Error, "invalid base58")
	assert.Contains(t, replies[6].Error, "invalid command")
	assert.Contains(t, replies[7].Error, "unknown op")

	assert.Equal(t, replies[0].SessionID, replies[2].SessionID)
	assert.Empty(t, replies[6].SessionID)
}

func TestIntentReaderService_ResetAndReconcile(t *testing.T) {
	s, _ := newReader(t, "")
	first := s.current().ID()

	reply := s.Handle(context.Background(), Command{Op: OpReset})
	assert.Empty(t, reply.Error)
	assert.NotEqual(t, first, reply.SessionID)

	reply = s.Handle(context.Background(), Command{Op: OpReconcile, Transfer: &transferWire{
		Signature: "sig",
		From:      []legWire{{Address: fromAddress, Asset: string(solID), Amount: decimal.RequireFromString("2")}},
		Fees:      []feeWire{{Payer: fromAddress, Asset: string(solID), Amount: decimal.RequireFromString("0.000005")}},
	}})
	require.Empty(t, reply.Error)
	assert.Equal(t, "7.999995", reply.Balances["main|"+string(solID)])

	reply = s.Handle(context.Background(), Command{Op: OpReconcile})
	assert.Equal(t, "missing transfer", reply.Error)

	reply = s.Handle(context.Background(), Command{Op: OpFiat})
	assert.Equal(t, "price unavailable", reply.Error)

	reply = s.Handle(context.Background(), Command{Op: OpMirror})
	assert.Equal(t, "balance mirror not configured", reply.Error)
}
