package economy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"serotonyl.ru/stars-bot/internal/common"
)

type fakeReader struct {
	balance *Balance
	txs     []*Transaction
}

func (f *fakeReader) GetBalance(_ context.Context, userID int64) (*Balance, error) {
	if f.balance == nil || f.balance.UserID != userID {
		return nil, common.ErrUserNotFound
	}
	return f.balance, nil
}

func (f *fakeReader) GetTransactions(_ context.Context, _ int64, limit int) ([]*Transaction, error) {
	if len(f.txs) > limit {
		return f.txs[:limit], nil
	}
	return f.txs, nil
}

func TestStatement(t *testing.T) {
	pid := int64(12)
	svc := NewService(&fakeReader{
		balance: &Balance{UserID: 5, Balance: 650, TotalEarned: 650},
		txs: []*Transaction{
			{UserID: 5, Amount: 500, TransactionType: TxTypeTopUp, PaymentID: &pid, CreatedAt: time.Now()},
			{UserID: 5, Amount: 150, TransactionType: TxTypeTopUp, CreatedAt: time.Now()},
		},
	})

	out, err := svc.Statement(context.Background(), 5, 0)
	if err != nil {
		t.Fatalf("Statement: %v", err)
	}
	if !strings.Contains(out, "balance=650") || !strings.Contains(out, "payment 12") {
		t.Fatalf("unexpected statement:\n%s", out)
	}
	if strings.Count(out, "\n") != 3 {
		t.Fatalf("expected 3 lines:\n%s", out)
	}
}

func TestStatementUnknownUser(t *testing.T) {
	svc := NewService(&fakeReader{})
	if _, err := svc.Statement(context.Background(), 1, 5); !errors.Is(err, common.ErrUserNotFound) {
		t.Fatalf("err = %v", err)
	}
}
