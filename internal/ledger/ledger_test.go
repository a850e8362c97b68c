package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftbazaar/marketd/internal/bank"
	"github.com/nftbazaar/marketd/internal/crypto"
	"github.com/nftbazaar/marketd/internal/domain"
	"github.com/nftbazaar/marketd/internal/token"
)

// Well-known throwaway test keys.
const (
	sellerKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	buyerKeyHex  = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

var (
	custody       = common.HexToAddress("0x00000000000000000000000000000000000Ec80a")
	platformOwner = common.HexToAddress("0x000000000000000000000000000000000000F00d")
	contract      = common.HexToAddress("0xC0FFEE00000000000000000000000000C0FFEE00")
	testFee       = big.NewInt(1_000)
)

type fixture struct {
	ledger *Ledger
	bank   *bank.Bank
	tokens *token.Registry
	seller *crypto.Signer
	buyer  *crypto.Signer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	seller, err := crypto.NewSigner(sellerKeyHex)
	if err != nil {
		t.Fatalf("seller signer: %v", err)
	}
	buyer, err := crypto.NewSigner(buyerKeyHex)
	if err != nil {
		t.Fatalf("buyer signer: %v", err)
	}

	b := bank.New()
	reg := token.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	l, err := New(Config{
		ListingFee:    testFee,
		Custody:       custody,
		PlatformOwner: platformOwner,
	}, reg, b, crypto.NewRecoverAuthority(), logger)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	return &fixture{ledger: l, bank: b, tokens: reg, seller: seller, buyer: buyer}
}

// list mints tokenID to the seller, funds the fee, and creates a listing.
func (f *fixture) list(t *testing.T, tokenID uint64, price *big.Int) domain.Listing {
	t.Helper()
	ctx := context.Background()

	if _, err := f.tokens.OwnerOf(ctx, contract, tokenID); err != nil {
		if err := f.tokens.Mint(ctx, contract, tokenID, f.seller.Address()); err != nil {
			t.Fatalf("mint token %d: %v", tokenID, err)
		}
	}
	f.bank.Deposit(f.seller.Address(), testFee)

	sig, err := f.seller.SignMessage(ListMessage(contract, tokenID, price))
	if err != nil {
		t.Fatalf("sign list message: %v", err)
	}
	l, err := f.ledger.CreateListing(ctx, contract, tokenID, price, f.seller.Address(), sig, testFee)
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	return l
}

// buy funds the buyer and settles a sale of the given listing.
func (f *fixture) buy(t *testing.T, l domain.Listing) domain.Listing {
	t.Helper()
	ctx := context.Background()

	f.bank.Deposit(f.buyer.Address(), l.Price)
	sig, err := f.buyer.SignMessage(SaleMessage(l.TokenContract, l.ID, l.Price))
	if err != nil {
		t.Fatalf("sign sale message: %v", err)
	}
	sold, err := f.ledger.CreateSale(ctx, l.ID, f.buyer.Address(), sig, l.Price)
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	return sold
}

func (f *fixture) balance(t *testing.T, addr common.Address) *big.Int {
	t.Helper()
	bal, err := f.bank.BalanceOf(context.Background(), addr)
	if err != nil {
		t.Fatalf("balance of %s: %v", addr.Hex(), err)
	}
	return bal
}

func (f *fixture) owner(t *testing.T, tokenID uint64) common.Address {
	t.Helper()
	owner, err := f.tokens.OwnerOf(context.Background(), contract, tokenID)
	if err != nil {
		t.Fatalf("owner of token %d: %v", tokenID, err)
	}
	return owner
}

func TestCreateListing(t *testing.T) {
	f := newFixture(t)
	price := big.NewInt(500_000)

	l := f.list(t, 7, price)

	if l.ID != 1 {
		t.Errorf("ID = %d, want 1", l.ID)
	}
	if l.Seller != f.seller.Address() {
		t.Errorf("Seller = %s, want %s", l.Seller.Hex(), f.seller.Address().Hex())
	}
	if l.Creator != f.seller.Address() {
		t.Errorf("Creator = %s, want minting address", l.Creator.Hex())
	}
	if l.Owner != (common.Address{}) {
		t.Errorf("Owner = %s, want zero while active", l.Owner.Hex())
	}
	if l.Price.Cmp(price) != 0 {
		t.Errorf("Price = %s, want %s", l.Price, price)
	}
	if !l.Active() || l.Sold || l.Canceled {
		t.Errorf("listing not active: sold=%v canceled=%v", l.Sold, l.Canceled)
	}

	// Token escrowed, fee collected.
	if got := f.owner(t, 7); got != custody {
		t.Errorf("token owner = %s, want custody", got.Hex())
	}
	if got := f.balance(t, f.seller.Address()); got.Sign() != 0 {
		t.Errorf("seller balance = %s, want 0 after fee", got)
	}
	if got := f.balance(t, custody); got.Cmp(testFee) != 0 {
		t.Errorf("custody balance = %s, want %s", got, testFee)
	}

	stats := f.ledger.Stats()
	if stats.TotalListings != 1 || stats.FeePoolWei.Cmp(testFee) != 0 {
		t.Errorf("stats = %+v, want 1 listing and fee pool %s", stats, testFee)
	}
}

func TestCreateListingSequentialIDs(t *testing.T) {
	f := newFixture(t)

	for i := uint64(1); i <= 3; i++ {
		l := f.list(t, i, big.NewInt(100))
		if l.ID != i {
			t.Errorf("listing %d: ID = %d", i, l.ID)
		}
	}
}

func TestCreateListingInvalidPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.tokens.Mint(ctx, contract, 1, f.seller.Address()); err != nil {
		t.Fatal(err)
	}
	f.bank.Deposit(f.seller.Address(), testFee)

	// No signed message here: canonical messages require a usable price,
	// and the ledger rejects these before signature verification runs.
	for _, price := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5)} {
		_, err := f.ledger.CreateListing(ctx, contract, 1, price, f.seller.Address(), nil, testFee)
		if !errors.Is(err, domain.ErrInvalidPrice) {
			t.Errorf("price %v: err = %v, want ErrInvalidPrice", price, err)
		}
	}

	// Nothing moved.
	if got := f.balance(t, f.seller.Address()); got.Cmp(testFee) != 0 {
		t.Errorf("seller balance = %s, want untouched %s", got, testFee)
	}
	if got := f.owner(t, 1); got != f.seller.Address() {
		t.Errorf("token owner = %s, want seller", got.Hex())
	}
}

func TestCreateListingFeeMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	price := big.NewInt(100)

	if err := f.tokens.Mint(ctx, contract, 1, f.seller.Address()); err != nil {
		t.Fatal(err)
	}
	f.bank.Deposit(f.seller.Address(), testFee)
	sig, _ := f.seller.SignMessage(ListMessage(contract, 1, price))

	for _, paid := range []*big.Int{nil, big.NewInt(0), new(big.Int).Sub(testFee, big.NewInt(1)), new(big.Int).Add(testFee, big.NewInt(1))} {
		_, err := f.ledger.CreateListing(ctx, contract, 1, price, f.seller.Address(), sig, paid)
		if !errors.Is(err, domain.ErrFeeMismatch) {
			t.Errorf("paid %v: err = %v, want ErrFeeMismatch", paid, err)
		}
	}
}

func TestCreateListingBadSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	price := big.NewInt(100)

	if err := f.tokens.Mint(ctx, contract, 1, f.seller.Address()); err != nil {
		t.Fatal(err)
	}
	f.bank.Deposit(f.seller.Address(), testFee)

	// Signed by the buyer, submitted as the seller.
	sig, _ := f.buyer.SignMessage(ListMessage(contract, 1, price))
	_, err := f.ledger.CreateListing(ctx, contract, 1, price, f.seller.Address(), sig, testFee)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}

	// Garbage signature.
	_, err = f.ledger.CreateListing(ctx, contract, 1, price, f.seller.Address(), []byte("nonsense"), testFee)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("garbage sig: err = %v, want ErrUnauthorized", err)
	}

	if got := f.balance(t, f.seller.Address()); got.Cmp(testFee) != 0 {
		t.Errorf("seller balance = %s, want untouched", got)
	}
}

func TestCreateListingInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	price := big.NewInt(100)

	if err := f.tokens.Mint(ctx, contract, 1, f.seller.Address()); err != nil {
		t.Fatal(err)
	}
	// No deposit: the seller cannot cover the fee.
	sig, _ := f.seller.SignMessage(ListMessage(contract, 1, price))
	_, err := f.ledger.CreateListing(ctx, contract, 1, price, f.seller.Address(), sig, testFee)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("err = %v, want ErrInsufficientFunds", err)
	}
	if got := f.owner(t, 1); got != f.seller.Address() {
		t.Errorf("token owner = %s, want seller", got.Hex())
	}
}

func TestCreateListingEscrowRollbackRefundsFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	price := big.NewInt(100)

	// Token is owned by the buyer, so the escrow transfer from the seller
	// must fail after the fee has been collected.
	if err := f.tokens.Mint(ctx, contract, 1, f.buyer.Address()); err != nil {
		t.Fatal(err)
	}
	f.bank.Deposit(f.seller.Address(), testFee)

	sig, _ := f.seller.SignMessage(ListMessage(contract, 1, price))
	_, err := f.ledger.CreateListing(ctx, contract, 1, price, f.seller.Address(), sig, testFee)
	if !errors.Is(err, domain.ErrNotTokenHolder) {
		t.Fatalf("err = %v, want ErrNotTokenHolder", err)
	}

	if got := f.balance(t, f.seller.Address()); got.Cmp(testFee) != 0 {
		t.Errorf("seller balance = %s, want fee refunded", got)
	}
	if got := f.ledger.Stats(); got.TotalListings != 0 || got.FeePoolWei.Sign() != 0 {
		t.Errorf("stats = %+v, want empty ledger", got)
	}
}

func TestCancelListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.list(t, 1, big.NewInt(100))

	sig, _ := f.seller.SignMessage(CancelMessage(contract, l.ID))
	canceled, err := f.ledger.CancelListing(ctx, l.ID, f.seller.Address(), sig)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if !canceled.Canceled || canceled.Sold {
		t.Errorf("flags: sold=%v canceled=%v, want canceled only", canceled.Sold, canceled.Canceled)
	}
	if canceled.Owner != f.seller.Address() {
		t.Errorf("Owner = %s, want seller", canceled.Owner.Hex())
	}
	if canceled.ResolvedAt == nil {
		t.Error("ResolvedAt not set")
	}
	if got := f.owner(t, 1); got != f.seller.Address() {
		t.Errorf("token owner = %s, want returned to seller", got.Hex())
	}

	// The fee is not refunded on cancellation.
	stats := f.ledger.Stats()
	if stats.CanceledCount != 1 {
		t.Errorf("CanceledCount = %d, want 1", stats.CanceledCount)
	}
	if stats.FeePoolWei.Cmp(testFee) != 0 {
		t.Errorf("fee pool = %s, want retained %s", stats.FeePoolWei, testFee)
	}

	// Terminal states are absorbing.
	_, err = f.ledger.CancelListing(ctx, l.ID, f.seller.Address(), sig)
	if !errors.Is(err, domain.ErrListingClosed) {
		t.Errorf("second cancel: err = %v, want ErrListingClosed", err)
	}
}

func TestCancelListingNotSeller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.list(t, 1, big.NewInt(100))

	sig, _ := f.buyer.SignMessage(CancelMessage(contract, l.ID))
	_, err := f.ledger.CancelListing(ctx, l.ID, f.buyer.Address(), sig)
	if !errors.Is(err, domain.ErrNotSeller) {
		t.Fatalf("err = %v, want ErrNotSeller", err)
	}
	if got := f.owner(t, 1); got != custody {
		t.Errorf("token owner = %s, want still in custody", got.Hex())
	}
}

func TestCancelListingNotFound(t *testing.T) {
	f := newFixture(t)
	sig, _ := f.seller.SignMessage(CancelMessage(contract, 42))
	_, err := f.ledger.CancelListing(context.Background(), 42, f.seller.Address(), sig)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	price := big.NewInt(500_000)
	l := f.list(t, 1, price)

	sold := f.buy(t, l)

	if !sold.Sold || sold.Canceled {
		t.Errorf("flags: sold=%v canceled=%v, want sold only", sold.Sold, sold.Canceled)
	}
	if sold.Owner != f.buyer.Address() {
		t.Errorf("Owner = %s, want buyer", sold.Owner.Hex())
	}
	if sold.ResolvedAt == nil {
		t.Error("ResolvedAt not set")
	}

	// Fund routing: price to the seller, fee to the platform owner, token to
	// the buyer.
	if got := f.balance(t, f.seller.Address()); got.Cmp(price) != 0 {
		t.Errorf("seller balance = %s, want %s", got, price)
	}
	if got := f.balance(t, platformOwner); got.Cmp(testFee) != 0 {
		t.Errorf("platform owner balance = %s, want %s", got, testFee)
	}
	if got := f.balance(t, f.buyer.Address()); got.Sign() != 0 {
		t.Errorf("buyer balance = %s, want 0", got)
	}
	if got := f.owner(t, 1); got != f.buyer.Address() {
		t.Errorf("token owner = %s, want buyer", got.Hex())
	}

	stats := f.ledger.Stats()
	if stats.SoldCount != 1 || stats.FeePoolWei.Sign() != 0 {
		t.Errorf("stats = %+v, want 1 sold and empty fee pool", stats)
	}

	// A sold listing cannot be bought or canceled again.
	sig, _ := f.buyer.SignMessage(SaleMessage(contract, l.ID, price))
	_, err := f.ledger.CreateSale(ctx, l.ID, f.buyer.Address(), sig, price)
	if !errors.Is(err, domain.ErrListingClosed) {
		t.Errorf("second sale: err = %v, want ErrListingClosed", err)
	}
	cancelSig, _ := f.seller.SignMessage(CancelMessage(contract, l.ID))
	_, err = f.ledger.CancelListing(ctx, l.ID, f.seller.Address(), cancelSig)
	if !errors.Is(err, domain.ErrListingClosed) {
		t.Errorf("cancel after sale: err = %v, want ErrListingClosed", err)
	}
}

func TestCreateSalePriceMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	price := big.NewInt(100)
	l := f.list(t, 1, price)

	f.bank.Deposit(f.buyer.Address(), big.NewInt(1_000))
	sig, _ := f.buyer.SignMessage(SaleMessage(contract, l.ID, price))

	for _, paid := range []*big.Int{nil, big.NewInt(99), big.NewInt(101)} {
		_, err := f.ledger.CreateSale(ctx, l.ID, f.buyer.Address(), sig, paid)
		if !errors.Is(err, domain.ErrPriceMismatch) {
			t.Errorf("paid %v: err = %v, want ErrPriceMismatch", paid, err)
		}
	}
}

func TestCreateSaleNotFound(t *testing.T) {
	f := newFixture(t)
	sig, _ := f.buyer.SignMessage(SaleMessage(contract, 9, big.NewInt(1)))
	_, err := f.ledger.CreateSale(context.Background(), 9, f.buyer.Address(), sig, big.NewInt(1))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// failingBank delegates to a real bank but rejects transfers out of a chosen
// account, simulating a failure of one settlement leg.
type failingBank struct {
	*bank.Bank
	failFrom common.Address
}

func (b *failingBank) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if from == b.failFrom {
		return errors.New("transfer rejected")
	}
	return b.Bank.Transfer(ctx, from, to, amount)
}

func TestCreateSaleUnwindsOnFailedFeeRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	price := big.NewInt(100)
	l := f.list(t, 1, price)

	// Swap in a bank that fails the custody -> platform owner leg.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fb := &failingBank{Bank: f.bank, failFrom: custody}
	broken, err := New(Config{
		ListingFee:    testFee,
		Custody:       custody,
		PlatformOwner: platformOwner,
	}, f.tokens, fb, crypto.NewRecoverAuthority(), logger)
	if err != nil {
		t.Fatal(err)
	}
	if err := broken.Restore([]domain.Listing{l}); err != nil {
		t.Fatal(err)
	}

	f.bank.Deposit(f.buyer.Address(), price)
	sig, _ := f.buyer.SignMessage(SaleMessage(contract, l.ID, price))
	_, err = broken.CreateSale(ctx, l.ID, f.buyer.Address(), sig, price)
	if err == nil {
		t.Fatal("sale succeeded despite failing fee release")
	}

	// Earlier legs were compensated: buyer refunded, token back in custody,
	// listing still open.
	if got := f.balance(t, f.buyer.Address()); got.Cmp(price) != 0 {
		t.Errorf("buyer balance = %s, want refunded %s", got, price)
	}
	if got := f.balance(t, f.seller.Address()); got.Sign() != 0 {
		t.Errorf("seller balance = %s, want 0", got)
	}
	if got := f.owner(t, 1); got != custody {
		t.Errorf("token owner = %s, want custody", got.Hex())
	}
	restored, err := broken.Listing(l.ID)
	if err != nil || !restored.Active() {
		t.Errorf("listing active = %v (err %v), want still active", restored.Active(), err)
	}
	if got := broken.Stats(); got.SoldCount != 0 {
		t.Errorf("SoldCount = %d, want 0", got.SoldCount)
	}
}

// reentrantBank calls back into the ledger from inside a transfer, emulating
// a malicious settlement hook.
type reentrantBank struct {
	*bank.Bank
	ledger   *Ledger
	caller   common.Address
	sig      []byte
	innerErr error
	fired    bool
}

func (b *reentrantBank) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if !b.fired {
		b.fired = true
		_, b.innerErr = b.ledger.CancelListing(ctx, 1, b.caller, b.sig)
	}
	return b.Bank.Transfer(ctx, from, to, amount)
}

func TestReentrantCallRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	price := big.NewInt(100)

	if err := f.tokens.Mint(ctx, contract, 1, f.seller.Address()); err != nil {
		t.Fatal(err)
	}
	f.bank.Deposit(f.seller.Address(), testFee)

	rb := &reentrantBank{Bank: f.bank, caller: f.seller.Address()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l, err := New(Config{
		ListingFee:    testFee,
		Custody:       custody,
		PlatformOwner: platformOwner,
	}, f.tokens, rb, crypto.NewRecoverAuthority(), logger)
	if err != nil {
		t.Fatal(err)
	}
	rb.ledger = l
	rb.sig, _ = f.seller.SignMessage(CancelMessage(contract, 1))

	sig, _ := f.seller.SignMessage(ListMessage(contract, 1, price))
	created, err := l.CreateListing(ctx, contract, 1, price, f.seller.Address(), sig, testFee)
	if err != nil {
		t.Fatalf("outer create listing: %v", err)
	}
	if created.ID != 1 {
		t.Errorf("ID = %d, want 1", created.ID)
	}

	if !rb.fired {
		t.Fatal("reentrant callback never ran")
	}
	if !errors.Is(rb.innerErr, domain.ErrReentrantCall) {
		t.Errorf("inner err = %v, want ErrReentrantCall", rb.innerErr)
	}
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	l1 := f.list(t, 1, big.NewInt(100))
	l2 := f.list(t, 2, big.NewInt(200))
	f.buy(t, l2)

	snapshot := []domain.Listing{}
	for id := uint64(1); id <= 2; id++ {
		rec, err := f.ledger.Listing(id)
		if err != nil {
			t.Fatal(err)
		}
		snapshot = append(snapshot, rec)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fresh, err := New(Config{
		ListingFee:    testFee,
		Custody:       custody,
		PlatformOwner: platformOwner,
	}, f.tokens, f.bank, crypto.NewRecoverAuthority(), logger)
	if err != nil {
		t.Fatal(err)
	}
	if err := fresh.Restore(snapshot); err != nil {
		t.Fatalf("restore: %v", err)
	}

	stats := fresh.Stats()
	if stats.TotalListings != 2 || stats.SoldCount != 1 || stats.CanceledCount != 0 {
		t.Errorf("stats = %+v", stats)
	}
	// One unsold listing, so one fee remains pooled.
	if stats.FeePoolWei.Cmp(testFee) != 0 {
		t.Errorf("fee pool = %s, want %s", stats.FeePoolWei, testFee)
	}

	got, err := fresh.Listing(l1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TokenID != l1.TokenID || !got.Active() {
		t.Errorf("restored listing = %+v", got)
	}

	// Restoring again or with gapped IDs must fail.
	if err := fresh.Restore(snapshot); err == nil {
		t.Error("second restore succeeded")
	}
	gapped := []domain.Listing{snapshot[1]}
	empty, _ := New(Config{
		ListingFee:    testFee,
		Custody:       custody,
		PlatformOwner: platformOwner,
	}, f.tokens, f.bank, crypto.NewRecoverAuthority(), logger)
	if err := empty.Restore(gapped); err == nil {
		t.Error("restore with gapped IDs succeeded")
	}
}

func TestRelistAfterResale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	price := big.NewInt(100)

	l1 := f.list(t, 1, price)
	f.buy(t, l1)

	// The buyer relists the same token at a new price.
	f.bank.Deposit(f.buyer.Address(), testFee)
	newPrice := big.NewInt(250)
	sig, _ := f.buyer.SignMessage(ListMessage(contract, 1, newPrice))
	l2, err := f.ledger.CreateListing(ctx, contract, 1, newPrice, f.buyer.Address(), sig, testFee)
	if err != nil {
		t.Fatalf("relist: %v", err)
	}
	if l2.ID != 2 {
		t.Errorf("relisted ID = %d, want 2", l2.ID)
	}
	if l2.Seller != f.buyer.Address() {
		t.Errorf("relisted Seller = %s, want buyer", l2.Seller.Hex())
	}
	// Creator follows the mint, not the listing chain.
	if l2.Creator != f.seller.Address() {
		t.Errorf("relisted Creator = %s, want original minter", l2.Creator.Hex())
	}

	latest, ok := f.ledger.LatestListingByToken(1)
	if !ok || latest.ID != l2.ID {
		t.Errorf("latest for token 1 = %d (ok %v), want %d", latest.ID, ok, l2.ID)
	}
}
