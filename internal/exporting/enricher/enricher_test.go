package enricher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/vietddude/txexport/internal/core/domain"
)

// fakeFees scripts GetFee per hash; errs are consumed one per call.
type fakeFees struct {
	mu    sync.Mutex
	fees  map[string]*domain.FeeData
	errs  map[string][]error
	calls map[string]int
}

func newFakeFees() *fakeFees {
	return &fakeFees{
		fees:  make(map[string]*domain.FeeData),
		errs:  make(map[string][]error),
		calls: make(map[string]int),
	}
}

func (f *fakeFees) GetFee(ctx context.Context, hash string) (*domain.FeeData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[hash]++
	if errs := f.errs[hash]; len(errs) > 0 {
		f.errs[hash] = errs[1:]
		return nil, errs[0]
	}
	return f.fees[hash], nil
}

func fee(gas, price int64) *domain.FeeData {
	return &domain.FeeData{GasUsed: big.NewInt(gas), EffectiveGasPrice: big.NewInt(price)}
}

func job(hashes ...string) domain.Job {
	j := domain.Job{ID: "TXS-0-50", Address: "0xabc"}
	for _, h := range hashes {
		j.Records = append(j.Records, domain.TransferRecord{Hash: h})
	}
	return j
}

func TestHandle_Fees(t *testing.T) {
	fees := newFakeFees()
	fees.fees["0x01"] = fee(21000, 1_000_000_000)
	fees.fees["0x02"] = fee(50000, 2_000_000_000)

	out, err := New(fees, 0).Handle(context.Background(), job("0x01", "0x02"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d records", len(out))
	}
	if out[0].Hash != "0x01" || out[0].GasFeeEth != "0.000021" {
		t.Errorf("first = %+v", out[0])
	}
	if out[1].Hash != "0x02" || out[1].GasFeeEth != "0.0001" {
		t.Errorf("second = %+v", out[1])
	}
}

func TestHandle_Fallbacks(t *testing.T) {
	boom := errors.New("timeout")

	tests := []struct {
		name      string
		setup     func(f *fakeFees)
		wantFee   string
		wantCalls int
	}{
		{
			name:      "fails twice",
			setup:     func(f *fakeFees) { f.errs["0x01"] = []error{boom, boom} },
			wantFee:   domain.FeeSentinel,
			wantCalls: 2,
		},
		{
			name: "retry succeeds",
			setup: func(f *fakeFees) {
				f.errs["0x01"] = []error{boom}
				f.fees["0x01"] = fee(21000, 1_000_000_000)
			},
			wantFee:   "0.000021",
			wantCalls: 2,
		},
		{
			name:      "missing receipt",
			setup:     func(f *fakeFees) {},
			wantFee:   domain.FeeSentinel,
			wantCalls: 1,
		},
		{
			name:      "missing price",
			setup:     func(f *fakeFees) { f.fees["0x01"] = &domain.FeeData{GasUsed: big.NewInt(21000)} },
			wantFee:   domain.FeeSentinel,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fees := newFakeFees()
			tt.setup(fees)

			out, err := New(fees, 0).Handle(context.Background(), job("0x01"))
			if err != nil {
				t.Fatalf("lookup failure must not fail the job: %v", err)
			}
			if out[0].GasFeeEth != tt.wantFee {
				t.Errorf("fee = %q, want %q", out[0].GasFeeEth, tt.wantFee)
			}
			if fees.calls["0x01"] != tt.wantCalls {
				t.Errorf("calls = %d, want %d", fees.calls["0x01"], tt.wantCalls)
			}
		})
	}
}

func TestHandle_PreservesOrder(t *testing.T) {
	fees := newFakeFees()
	hashes := make([]string, 50)
	for i := range hashes {
		hashes[i] = fmt.Sprintf("0x%02x", i)
		fees.fees[hashes[i]] = fee(int64(i+1), 1)
	}

	out, err := New(fees, 4).Handle(context.Background(), job(hashes...))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, tx := range out {
		if tx.Hash != hashes[i] {
			t.Fatalf("record %d out of order: %s", i, tx.Hash)
		}
	}
}

func TestHandle_InvalidJob(t *testing.T) {
	tests := []struct {
		name string
		job  domain.Job
	}{
		{"no address", domain.Job{ID: "x", Records: []domain.TransferRecord{{Hash: "0x01"}}}},
		{"no records", domain.Job{ID: "x", Address: "0xabc"}},
		{"no hash", domain.Job{ID: "x", Address: "0xabc", Records: []domain.TransferRecord{{}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(newFakeFees(), 0).Handle(context.Background(), tt.job)
			if !errors.Is(err, ErrInvalidJob) {
				t.Errorf("expected ErrInvalidJob, got %v", err)
			}
		})
	}
}
