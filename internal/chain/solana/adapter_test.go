package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dielemma/custody/internal/chain"
	"github.com/dielemma/custody/internal/custody"
	"github.com/dielemma/custody/internal/identity"
	"github.com/dielemma/custody/internal/pda"
	"github.com/dielemma/custody/internal/wire"
)

// fakeLedger serves getAccountInfo and getProgramAccounts from an in-memory
// account map.
type fakeLedger struct {
	mu       sync.Mutex
	accounts map[string]accountJSON
	scan     []map[string]any
	requests int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{accounts: make(map[string]accountJSON)}
}

func (f *fakeLedger) setAccount(addr identity.Identity, owner identity.Identity, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[addr.String()] = accountJSON{
		Owner:    owner.String(),
		Lamports: 1,
		Data:     []string{base64.StdEncoding.EncodeToString(data), "base64"},
	}
}

func (f *fakeLedger) setScanAccount(addr identity.Identity, owner identity.Identity, data []byte) {
	f.setAccount(addr, owner, data)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scan = append(f.scan, map[string]any{
		"pubkey": addr.String(),
		"account": map[string]any{
			"owner":    owner.String(),
			"lamports": 1,
			"data":     []string{base64.StdEncoding.EncodeToString(data), "base64"},
		},
	})
}

func (f *fakeLedger) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.requests++
		f.mu.Unlock()

		var result any
		switch req.Method {
		case "getAccountInfo":
			addr, _ := req.Params[0].(string)
			f.mu.Lock()
			acc, ok := f.accounts[addr]
			f.mu.Unlock()
			if ok {
				result = map[string]any{"value": acc}
			} else {
				result = map[string]any{"value": nil}
			}
		case "getProgramAccounts":
			f.mu.Lock()
			scan := f.scan
			f.mu.Unlock()
			if scan == nil {
				scan = []map[string]any{}
			}
			result = scan
		default:
			t.Errorf("unexpected rpc method %q", req.Method)
			http.Error(w, "unknown method", http.StatusBadRequest)
			return
		}

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encode rpc response: %v", err)
		}
	}
}

func newTestAdapter(t *testing.T, ledger *fakeLedger, now time.Time) *Adapter {
	t.Helper()

	srv := httptest.NewServer(ledger.handler(t))
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	a, err := NewAdapter(DevnetConfig(), client, nil, nil)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	a.now = func() time.Time { return now }
	return a
}

func fillIdentity(t *testing.T, b byte) identity.Identity {
	t.Helper()

	var raw [32]byte
	for i := range raw {
		raw[i] = b
	}
	id, err := identity.FromBytes(raw[:])
	if err != nil {
		t.Fatalf("identity from bytes: %v", err)
	}
	return id
}

func storedRecord(t *testing.T, depositor, receiver identity.Identity, seed []byte, lastProof int64, timeout uint64, closed bool) []byte {
	t.Helper()

	buf, err := wire.EncodeRecord(custody.Record{
		Depositor:      depositor,
		Receiver:       receiver,
		Asset:          wrappedNativeMint,
		Amount:         1_000_000,
		LastProofAt:    lastProof,
		TimeoutSeconds: timeout,
		Bump:           254,
		Closed:         closed,
		Seed:           seed,
	})
	if err != nil {
		t.Fatalf("encode record: %v", err)
	}
	return buf[:]
}

func TestCreateDeposit(t *testing.T) {
	t.Parallel()

	cfg := DevnetConfig()
	depositor := fillIdentity(t, 0x01)
	receiver := fillIdentity(t, 0x02)
	seed := []byte("savings")

	depositorToken, _, err := pda.Derive(ataProgram, depositor[:], tokenProgram[:], cfg.CustodyMint[:])
	if err != nil {
		t.Fatalf("derive token account: %v", err)
	}

	ledger := newFakeLedger()
	ledger.setAccount(depositorToken, tokenProgram, []byte{1})
	a := newTestAdapter(t, ledger, time.Unix(1_700_000_000, 0))

	plan, err := a.CreateDeposit(context.Background(), chain.DepositRequest{
		Depositor:      depositor,
		Receiver:       receiver,
		Seed:           seed,
		Amount:         1_000_000,
		TimeoutSeconds: 86_400,
	})
	if err != nil {
		t.Fatalf("create deposit: %v", err)
	}
	if plan.Chain != chain.ChainSolana || plan.Network != chain.NetworkDevnet {
		t.Fatalf("plan pair = %s/%s", plan.Chain, plan.Network)
	}
	if plan.To != cfg.ProgramID.String() {
		t.Fatalf("plan target = %s", plan.To)
	}
	if len(plan.Accounts) != 7 {
		t.Fatalf("account list has %d entries, want 7", len(plan.Accounts))
	}
	if !plan.Accounts[0].Signer || plan.Accounts[0].Address != depositor {
		t.Fatalf("first account is not the signing depositor: %+v", plan.Accounts[0])
	}

	ins, err := wire.DecodeInstruction(plan.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ins.Op != wire.OpDeposit || string(ins.Seed) != "savings" || ins.Receiver != receiver {
		t.Fatalf("payload = %+v", ins)
	}

	loc, ok := plan.Identifier.(custody.BySeed)
	if !ok || loc.Depositor != depositor || string(loc.Seed) != "savings" {
		t.Fatalf("identifier = %v", plan.Identifier)
	}
}

func TestCreateDepositAlreadyExists(t *testing.T) {
	t.Parallel()

	cfg := DevnetConfig()
	depositor := fillIdentity(t, 0x01)
	receiver := fillIdentity(t, 0x02)
	seed := []byte("savings")

	depositAddr, _, err := pda.DepositAddress(cfg.ProgramID, depositor, seed)
	if err != nil {
		t.Fatalf("derive deposit address: %v", err)
	}

	ledger := newFakeLedger()
	ledger.setAccount(depositAddr, cfg.ProgramID, storedRecord(t, depositor, receiver, seed, 1_700_000_000, 86_400, false))
	a := newTestAdapter(t, ledger, time.Unix(1_700_000_000, 0))

	_, err = a.CreateDeposit(context.Background(), chain.DepositRequest{
		Depositor:      depositor,
		Receiver:       receiver,
		Seed:           seed,
		Amount:         1_000_000,
		TimeoutSeconds: 86_400,
	})
	if !errors.Is(err, custody.ErrState) {
		t.Fatalf("duplicate deposit: got %v", err)
	}
}

func TestCreateDepositMissingTokenAccount(t *testing.T) {
	t.Parallel()

	depositor := fillIdentity(t, 0x01)
	receiver := fillIdentity(t, 0x02)

	a := newTestAdapter(t, newFakeLedger(), time.Unix(1_700_000_000, 0))
	_, err := a.CreateDeposit(context.Background(), chain.DepositRequest{
		Depositor:      depositor,
		Receiver:       receiver,
		Seed:           []byte("savings"),
		Amount:         1_000_000,
		TimeoutSeconds: 86_400,
	})
	if !errors.Is(err, custody.ErrValidation) {
		t.Fatalf("missing token account: got %v", err)
	}
}

func TestCreateProofOfLife(t *testing.T) {
	t.Parallel()

	cfg := DevnetConfig()
	depositor := fillIdentity(t, 0x01)
	receiver := fillIdentity(t, 0x02)
	seed := []byte("savings")

	depositAddr, _, err := pda.DepositAddress(cfg.ProgramID, depositor, seed)
	if err != nil {
		t.Fatalf("derive deposit address: %v", err)
	}

	ledger := newFakeLedger()
	ledger.setAccount(depositAddr, cfg.ProgramID, storedRecord(t, depositor, receiver, seed, 1_700_000_000, 86_400, false))
	a := newTestAdapter(t, ledger, time.Unix(1_700_000_100, 0))

	loc := custody.BySeed{Depositor: depositor, Seed: seed}
	plan, err := a.CreateProofOfLife(context.Background(), chain.MutationRequest{Deposit: loc, Caller: depositor})
	if err != nil {
		t.Fatalf("create proof of life: %v", err)
	}

	ins, err := wire.DecodeInstruction(plan.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ins.Op != wire.OpProofOfLife {
		t.Fatalf("op = %s", ins.Op)
	}
	// The life-proof mint must be writable: the ledger burns from it.
	foundMint := false
	for _, acc := range plan.Accounts {
		if acc.Address == cfg.LifeProofMint {
			foundMint = true
			if !acc.Writable {
				t.Fatalf("life-proof mint not writable")
			}
		}
	}
	if !foundMint {
		t.Fatalf("life-proof mint missing from account list")
	}

	// The receiver may not prove life.
	_, err = a.CreateProofOfLife(context.Background(), chain.MutationRequest{Deposit: loc, Caller: receiver})
	if !errors.Is(err, custody.ErrUnauthorized) {
		t.Fatalf("receiver proof of life: got %v", err)
	}
}

func TestCreateClaimExpiryBoundary(t *testing.T) {
	t.Parallel()

	cfg := DevnetConfig()
	depositor := fillIdentity(t, 0x01)
	receiver := fillIdentity(t, 0x02)
	seed := []byte("savings")
	createdAt := int64(1_700_000_000)

	depositAddr, _, err := pda.DepositAddress(cfg.ProgramID, depositor, seed)
	if err != nil {
		t.Fatalf("derive deposit address: %v", err)
	}

	ledger := newFakeLedger()
	ledger.setAccount(depositAddr, cfg.ProgramID, storedRecord(t, depositor, receiver, seed, createdAt, 86_400, false))

	loc := custody.BySeed{Depositor: depositor, Seed: seed}

	early := newTestAdapter(t, ledger, time.Unix(createdAt+86_399, 0))
	_, err = early.CreateClaim(context.Background(), chain.MutationRequest{Deposit: loc, Caller: receiver})
	if !errors.Is(err, custody.ErrNotExpired) {
		t.Fatalf("early claim: got %v", err)
	}

	due := newTestAdapter(t, ledger, time.Unix(createdAt+86_400, 0))
	plan, err := due.CreateClaim(context.Background(), chain.MutationRequest{Deposit: loc, Caller: receiver})
	if err != nil {
		t.Fatalf("claim at deadline: %v", err)
	}
	ins, err := wire.DecodeInstruction(plan.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ins.Op != wire.OpClaim {
		t.Fatalf("op = %s", ins.Op)
	}
}

func TestCreateCloseRequiresTerminalRecord(t *testing.T) {
	t.Parallel()

	cfg := DevnetConfig()
	depositor := fillIdentity(t, 0x01)
	receiver := fillIdentity(t, 0x02)
	seed := []byte("savings")

	depositAddr, _, err := pda.DepositAddress(cfg.ProgramID, depositor, seed)
	if err != nil {
		t.Fatalf("derive deposit address: %v", err)
	}

	ledger := newFakeLedger()
	ledger.setAccount(depositAddr, cfg.ProgramID, storedRecord(t, depositor, receiver, seed, 1_700_000_000, 86_400, false))
	a := newTestAdapter(t, ledger, time.Unix(1_700_000_100, 0))

	loc := custody.BySeed{Depositor: depositor, Seed: seed}
	_, err = a.CreateClose(context.Background(), chain.MutationRequest{Deposit: loc, Caller: depositor})
	if !errors.Is(err, custody.ErrState) {
		t.Fatalf("close on active record: got %v", err)
	}

	ledger.setAccount(depositAddr, cfg.ProgramID, storedRecord(t, depositor, receiver, seed, 1_700_000_000, 86_400, true))
	plan, err := a.CreateClose(context.Background(), chain.MutationRequest{Deposit: loc, Caller: depositor})
	if err != nil {
		t.Fatalf("close on terminal record: %v", err)
	}
	ins, err := wire.DecodeInstruction(plan.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ins.Op != wire.OpClose {
		t.Fatalf("op = %s", ins.Op)
	}
}

func TestGetDepositWrongOwner(t *testing.T) {
	t.Parallel()

	cfg := DevnetConfig()
	depositor := fillIdentity(t, 0x01)
	receiver := fillIdentity(t, 0x02)
	seed := []byte("savings")

	depositAddr, _, err := pda.DepositAddress(cfg.ProgramID, depositor, seed)
	if err != nil {
		t.Fatalf("derive deposit address: %v", err)
	}

	ledger := newFakeLedger()
	ledger.setAccount(depositAddr, tokenProgram, storedRecord(t, depositor, receiver, seed, 1_700_000_000, 86_400, false))
	a := newTestAdapter(t, ledger, time.Unix(1_700_000_000, 0))

	_, err = a.GetDeposit(context.Background(), custody.BySeed{Depositor: depositor, Seed: seed})
	if !errors.Is(err, custody.ErrEncoding) {
		t.Fatalf("foreign-owned account: got %v", err)
	}
}

func TestGetDepositNotFound(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, newFakeLedger(), time.Unix(1_700_000_000, 0))
	_, err := a.GetDeposit(context.Background(), custody.BySeed{
		Depositor: fillIdentity(t, 0x01),
		Seed:      []byte("savings"),
	})
	if !errors.Is(err, custody.ErrNotFound) {
		t.Fatalf("missing deposit: got %v", err)
	}
}

func TestScansAndCache(t *testing.T) {
	t.Parallel()

	cfg := DevnetConfig()
	depositor := fillIdentity(t, 0x01)
	receiver := fillIdentity(t, 0x02)
	other := fillIdentity(t, 0x03)

	ledger := newFakeLedger()
	addr1, _, err := pda.DepositAddress(cfg.ProgramID, depositor, []byte("a"))
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	addr2, _, err := pda.DepositAddress(cfg.ProgramID, other, []byte("b"))
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	ledger.setScanAccount(addr1, cfg.ProgramID, storedRecord(t, depositor, receiver, []byte("a"), 1_700_000_000, 86_400, false))
	ledger.setScanAccount(addr2, cfg.ProgramID, storedRecord(t, other, receiver, []byte("b"), 1_700_000_000, 86_400, true))

	a := newTestAdapter(t, ledger, time.Unix(1_700_000_000, 0))

	user, err := a.GetUserDeposits(context.Background(), depositor)
	if err != nil {
		t.Fatalf("user deposits: %v", err)
	}
	if len(user) != 1 || string(user[0].Seed) != "a" {
		t.Fatalf("user deposits = %+v", user)
	}

	claimable, err := a.GetClaimableDeposits(context.Background(), receiver)
	if err != nil {
		t.Fatalf("claimable: %v", err)
	}
	// The closed record names the receiver but is no longer claimable.
	if len(claimable) != 1 || string(claimable[0].Seed) != "a" {
		t.Fatalf("claimable = %+v", claimable)
	}

	located, err := a.ListDeposits(context.Background())
	if err != nil {
		t.Fatalf("list deposits: %v", err)
	}
	if len(located) != 2 {
		t.Fatalf("listed %d deposits, want 2", len(located))
	}
	if _, ok := located[0].Locator.(custody.BySeed); !ok {
		t.Fatalf("locator type %T", located[0].Locator)
	}

	// All three reads above must share one scan.
	ledger.mu.Lock()
	scans := ledger.requests
	ledger.mu.Unlock()
	if scans != 1 {
		t.Fatalf("backend saw %d scans, want 1", scans)
	}
}
