package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"send-preview-sol/internal/cache"
	"send-preview-sol/internal/consts"
	"send-preview-sol/internal/logic/builder"
	"send-preview-sol/internal/logic/domain"
	"send-preview-sol/internal/logic/task"
	"send-preview-sol/internal/pkg/types"
)

var (
	network   = domain.Network(consts.NetworkMainnet)
	solID     = network.NativeAssetID()
	usdcID    = network.TokenAssetID(consts.USDCMint)
	mainAddr  = types.Pubkey{1}.String()
	otherAddr = types.Pubkey{2}.String()
	recipient = types.Pubkey{3}.String()
)

type accounts struct{}

func (accounts) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	return []domain.Account{{ID: "main", Address: mainAddr}, {ID: "other", Address: otherAddr}}, nil
}

func (a accounts) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	list, _ := a.ListAccounts(ctx)
	for _, acc := range list {
		if acc.ID == id {
			return acc, nil
		}
	}
	return domain.Account{}, domain.ErrAccountNotFound
}

// messageBuilder 可按金额阻塞，模拟乱序返回的网络调用
type messageBuilder struct {
	mu       sync.Mutex
	calls    []string
	networks []domain.Network
	block    map[string]chan struct{}
	failOn   string
}

func (b *messageBuilder) BuildMessage(ctx context.Context, p domain.TransferParams) ([]byte, error) {
	amount := p.Amount.String()
	b.mu.Lock()
	b.calls = append(b.calls, amount)
	b.networks = append(b.networks, p.Network)
	ch := b.block[amount]
	b.mu.Unlock()

	if ch != nil {
		<-ch // 不响应取消
	}
	if amount == b.failOn {
		return nil, errors.New("malformed address")
	}
	return []byte("msg:" + amount), nil
}

func (b *messageBuilder) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

type fees struct{ err error }

func (f fees) EstimateFee(ctx context.Context, message []byte, n domain.Network) (uint64, error) {
	return 5000, f.err
}

type recorder struct {
	mu          sync.Mutex
	previews    []domain.TransactionPreview
	validations []domain.ValidationResult
	resets      []error
}

func (r *recorder) OnPreview(p domain.TransactionPreview) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.previews = append(r.previews, p)
}

func (r *recorder) OnValidation(v domain.ValidationResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validations = append(r.validations, v)
}

func (r *recorder) OnReset(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets = append(r.resets, err)
}

func (r *recorder) Previews() []domain.TransactionPreview {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.TransactionPreview(nil), r.previews...)
}

type fixedRent uint64

func (r fixedRent) MinimumBalance(ctx context.Context) uint64 { return uint64(r) }

// gatedRent 第一次查询阻塞到 release 关闭，且不响应取消
type gatedRent struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedRent() *gatedRent {
	return &gatedRent{entered: make(chan struct{}), release: make(chan struct{})}
}

func (r *gatedRent) MinimumBalance(ctx context.Context) uint64 {
	first := false
	r.once.Do(func() { first = true })
	if first {
		close(r.entered)
		<-r.release
	}
	return consts.DefaultRentExemptionLamports
}

type prices map[domain.AssetID]decimal.Decimal

func (p prices) PriceUSD(asset domain.Asset) (decimal.Decimal, bool) {
	v, ok := p[asset.ID]
	return v, ok
}

type mirror struct {
	mu      sync.Mutex
	saved   []domain.BalanceSnapshot
	deleted []string
}

func (m *mirror) Save(ctx context.Context, sessionID string, snapshot domain.BalanceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, snapshot)
	return nil
}

func (m *mirror) Load(ctx context.Context, sessionID string) (domain.BalanceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return domain.BalanceSnapshot{}, nil
	}
	return m.saved[len(m.saved)-1], nil
}

func (m *mirror) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, sessionID)
	return nil
}

type fixture struct {
	native *messageBuilder
	token  *messageBuilder
	sink   *recorder
	mirror *mirror
	s      *Session
}

func newFixture(t *testing.T, debounce time.Duration, feeErr error) *fixture {
	f := &fixture{
		native: &messageBuilder{block: map[string]chan struct{}{}},
		token:  &messageBuilder{block: map[string]chan struct{}{}},
		sink:   &recorder{},
		mirror: &mirror{},
	}
	balances := cache.NewBalanceCache()
	balances.ReplaceAccount("main", map[domain.AssetID]domain.Balance{
		solID:  {Amount: decimal.NewFromInt(10), Unit: "SOL"},
		usdcID: {Amount: decimal.NewFromInt(50), Unit: "USDC"},
	})
	balances.ReplaceAccount("other", map[domain.AssetID]domain.Balance{
		solID:  {Amount: decimal.NewFromInt(1), Unit: "SOL"},
		usdcID: {Amount: decimal.Zero, Unit: "USDC"},
	})

	f.s = New(Deps{
		Services: builder.Services{
			Accounts: accounts{},
			Native:   f.native,
			Token:    f.token,
			Fees:     fees{err: feeErr},
			Assets:   domain.NewAssetRegistry(network),
		},
		Balances: balances,
		Rent:     fixedRent(consts.DefaultRentExemptionLamports),
		Prices:   prices{solID: decimal.NewFromInt(150)},
		Mirror:   f.mirror,
		Sink:     f.sink,
	}, Options{Network: network, Debounce: debounce})
	t.Cleanup(f.s.Close)
	return f
}

func intent(asset domain.AssetID, amount string) domain.TransferIntent {
	return domain.TransferIntent{
		Network:       network,
		FromAccountID: "main",
		ToAddress:     recipient,
		AssetID:       asset,
		Amount:        amount,
	}
}

func TestBuildTransactionPreview_Native(t *testing.T) {
	f := newFixture(t, 0, nil)
	in := intent(solID, "1")
	in.Version = 4

	out, err := f.s.BuildTransactionPreview(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, out.Preview)
	assert.Equal(t, uint64(4), out.Preview.BuiltFromIntentVersion)
	assert.Equal(t, uint64(5000), out.Preview.FeeLamports)
	assert.Equal(t, []string{"1"}, f.native.Calls())
	require.Len(t, f.sink.Previews(), 1)
}

func TestBuildTransactionPreview_SingleFlightOutOfOrder(t *testing.T) {
	f := newFixture(t, 0, nil)
	releaseA := make(chan struct{})
	f.native.block["1"] = releaseA

	resA := make(chan error, 1)
	go func() {
		in := intent(solID, "1")
		in.Version = 1
		_, err := f.s.BuildTransactionPreview(context.Background(), in)
		resA <- err
	}()
	require.Eventually(t, func() bool { return len(f.native.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	in := intent(solID, "1.5")
	in.Version = 2
	out, err := f.s.BuildTransactionPreview(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), out.Preview.BuiltFromIntentVersion)

	// A 的网络调用在 B 之后才返回
	close(releaseA)
	errA := <-resA
	assert.ErrorIs(t, errA, task.ErrSuperseded)

	previews := f.sink.Previews()
	require.Len(t, previews, 1)
	assert.Equal(t, uint64(2), previews[0].BuiltFromIntentVersion)
	assert.Equal(t, []byte("msg:1.5"), previews[0].MessageBytes)
}

func TestBuildTransactionPreview_SlowRentLookupSuperseded(t *testing.T) {
	f := newFixture(t, 0, nil)
	rent := newGatedRent()
	f.s.deps.Rent = rent

	resA := make(chan error, 1)
	go func() {
		in := intent(solID, "1")
		in.Version = 1
		_, err := f.s.BuildTransactionPreview(context.Background(), in)
		resA <- err
	}()
	<-rent.entered

	in := intent(solID, "1.5")
	in.Version = 2
	out, err := f.s.BuildTransactionPreview(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, out.Preview)

	// 旧版本在租金查询返回后也不能提交
	close(rent.release)
	assert.ErrorIs(t, <-resA, task.ErrSuperseded)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, []string{"1.5"}, f.native.Calls())
	previews := f.sink.Previews()
	require.Len(t, previews, 1)
	assert.Equal(t, uint64(2), previews[0].BuiltFromIntentVersion)
	assert.Equal(t, []byte("msg:1.5"), previews[0].MessageBytes)
}

func TestBuildTransactionPreview_StaleVersionRejected(t *testing.T) {
	f := newFixture(t, 0, nil)

	in := intent(solID, "2")
	in.Version = 5
	_, err := f.s.BuildTransactionPreview(context.Background(), in)
	require.NoError(t, err)

	// 晚到的旧版本直接丢弃，不触发构建
	stale := intent(solID, "1")
	stale.Version = 3
	out, err := f.s.BuildTransactionPreview(context.Background(), stale)
	assert.ErrorIs(t, err, task.ErrSuperseded)
	assert.Nil(t, out.Preview)

	assert.Equal(t, []string{"2"}, f.native.Calls())
	previews := f.sink.Previews()
	require.Len(t, previews, 1)
	assert.Equal(t, uint64(5), previews[0].BuiltFromIntentVersion)

	// 未指定版本的调用排在已见过的最大版本之后
	out, err = f.s.BuildTransactionPreview(context.Background(), intent(solID, "3"))
	require.NoError(t, err)
	require.NotNil(t, out.Preview)
	assert.Equal(t, uint64(6), out.Preview.BuiltFromIntentVersion)
}

func TestBuildTransactionPreview_StaleVersionKeepsInflight(t *testing.T) {
	f := newFixture(t, 0, nil)
	release := make(chan struct{})
	f.native.block["3"] = release

	resNew := make(chan error, 1)
	go func() {
		in := intent(solID, "3")
		in.Version = 3
		_, err := f.s.BuildTransactionPreview(context.Background(), in)
		resNew <- err
	}()
	require.Eventually(t, func() bool { return len(f.native.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	// 旧版本不会取代进行中的新版本
	stale := intent(solID, "2")
	stale.Version = 2
	_, err := f.s.BuildTransactionPreview(context.Background(), stale)
	assert.ErrorIs(t, err, task.ErrSuperseded)

	close(release)
	require.NoError(t, <-resNew)
	assert.Equal(t, []string{"3"}, f.native.Calls())
	previews := f.sink.Previews()
	require.Len(t, previews, 1)
	assert.Equal(t, uint64(3), previews[0].BuiltFromIntentVersion)
}

func TestBuildTransactionPreview_DefaultsNetwork(t *testing.T) {
	f := newFixture(t, 0, nil)
	in := intent(solID, "1")
	in.Network = ""

	out, err := f.s.BuildTransactionPreview(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, out.Preview)
	assert.Equal(t, []string{"1"}, f.native.Calls())
	assert.Empty(t, f.token.Calls())

	f.native.mu.Lock()
	defer f.native.mu.Unlock()
	assert.Equal(t, []domain.Network{network}, f.native.networks)
}

func TestOnIntentChanged_DebounceCoalesces(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond, nil)

	var last uint64
	for _, amount := range []string{"1", "1.2", "1.23", "1.234", "1.2345"} {
		last = f.s.OnIntentChanged(intent(solID, amount))
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, uint64(5), last)

	require.Eventually(t, func() bool { return len(f.sink.Previews()) == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"1.2345"}, f.native.Calls())
	previews := f.sink.Previews()
	require.Len(t, previews, 1)
	assert.Equal(t, uint64(5), previews[0].BuiltFromIntentVersion)
	assert.Equal(t, "1.2345", f.s.Intent().Amount)
}

func TestCancelPendingBuild(t *testing.T) {
	f := newFixture(t, time.Hour, nil)
	f.s.OnIntentChanged(intent(solID, "1"))
	f.s.CancelPendingBuild()
	f.s.Flush()
	assert.Empty(t, f.native.Calls())

	f.s.OnIntentChanged(intent(solID, "2"))
	f.s.Flush()
	assert.Equal(t, []string{"2"}, f.native.Calls())
}

func TestBuildTransactionPreview_ValidationOnly(t *testing.T) {
	f := newFixture(t, 0, nil)

	out, err := f.s.BuildTransactionPreview(context.Background(), intent(solID, "0"))
	require.NoError(t, err)
	assert.Nil(t, out.Preview)
	require.NotNil(t, out.Validation[domain.FieldAmount])
	assert.True(t, out.Validation[domain.FieldAmount].Silent())

	// token 余额不足
	in := intent(usdcID, "10")
	in.FromAccountID = "other"
	out, err = f.s.BuildTransactionPreview(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, out.Preview)
	assert.Equal(t, "Insufficient USDC balance", out.Validation[domain.FieldAmount].Message)

	assert.Empty(t, f.native.Calls())
	assert.Empty(t, f.token.Calls())
	assert.Empty(t, f.sink.Previews())
}

func TestBuildTransactionPreview_FailureResets(t *testing.T) {
	f := newFixture(t, 0, errors.New("rpc down"))

	_, err := f.s.BuildTransactionPreview(context.Background(), intent(solID, "1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSimulationFailed)

	var be *builder.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, builder.StageFee, be.Stage)

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	require.Len(t, f.sink.resets, 1)
	assert.Equal(t, domain.ErrSimulationFailed, f.sink.resets[0])
	assert.Empty(t, f.sink.previews)
}

func TestBuildTransactionPreview_Fiat(t *testing.T) {
	f := newFixture(t, 0, nil)
	in := intent(solID, "100")
	in.Currency = domain.CurrencyFiat

	out, err := f.s.BuildTransactionPreview(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, out.Preview)
	assert.Equal(t, []string{"0.666666666"}, f.native.Calls())

	// 无价格
	in = intent(usdcID, "10")
	in.Currency = domain.CurrencyFiat
	out, err = f.s.BuildTransactionPreview(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, out.Preview)
	assert.Equal(t, "Price unavailable", out.Validation[domain.FieldAmount].Message)

	value, ok := f.s.FiatValue(intent(solID, "2"))
	require.True(t, ok)
	assert.Equal(t, "300.00", value)
}

func TestReconcileBalances(t *testing.T) {
	f := newFixture(t, 0, nil)
	transfer := domain.CompletedTransfer{
		Signature: "sig",
		From:      []domain.TransferLeg{{Address: mainAddr, Asset: usdcID, Amount: decimal.NewFromInt(2), Fungible: true}},
		To:        []domain.TransferLeg{{Address: otherAddr, Asset: usdcID, Amount: decimal.NewFromInt(2), Fungible: true}},
		Fees:      []domain.FeeLeg{{Payer: mainAddr, Asset: solID, Amount: decimal.RequireFromString("0.01")}},
	}

	next, err := f.s.ReconcileBalances(context.Background(), transfer)
	require.NoError(t, err)
	assert.Equal(t, "48", next["main"][usdcID].Amount.String())
	assert.Equal(t, "2", next["other"][usdcID].Amount.String())
	assert.Equal(t, "9.99", next["main"][solID].Amount.String())
	assert.Equal(t, "1", next["other"][solID].Amount.String())

	// 缓存已替换，后续校验使用新余额
	maxAmt, err := f.s.MaxAmount(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnknownAsset) // 尚未输入资产
	assert.True(t, maxAmt.IsZero())

	f.s.OnIntentChanged(intent(usdcID, ""))
	maxAmt, err = f.s.MaxAmount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "48", maxAmt.String())

	f.mirror.mu.Lock()
	assert.Len(t, f.mirror.saved, 1)
	f.mirror.mu.Unlock()

	mirrored, err := f.s.MirroredBalances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "48", mirrored["main"][usdcID].Amount.String())

	f.s.Close()
	f.mirror.mu.Lock()
	assert.Equal(t, []string{f.s.ID()}, f.mirror.deleted[:1])
	f.mirror.mu.Unlock()
}

func TestDecodeTransferAmount(t *testing.T) {
	f := newFixture(t, 0, nil)
	got := f.s.DecodeTransferAmount([]byte{3, 0x40, 0x42, 0x0F, 0, 0, 0, 0, 0})
	assert.True(t, decimal.NewFromInt(1).Equal(got))
}
