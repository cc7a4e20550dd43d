// Package economy — service.go: чтение баланса и истории для оператора.
package economy

import (
	"context"
	"fmt"
	"strings"

	"serotonyl.ru/stars-bot/internal/common"
)

// Reader — чтение балансов.
type Reader interface {
	GetBalance(ctx context.Context, userID int64) (*Balance, error)
	GetTransactions(ctx context.Context, userID int64, limit int) ([]*Transaction, error)
}

// Service отдаёт баланс и историю в читаемом виде.
type Service struct {
	repo Reader
}

func NewService(repo Reader) *Service {
	return &Service{repo: repo}
}

// Statement — баланс и последние начисления одной строкой на запись.
func (s *Service) Statement(ctx context.Context, userID int64, limit int) (string, error) {
	if limit <= 0 {
		limit = 10
	}

	b, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return "", err
	}
	txs, err := s.repo.GetTransactions(ctx, userID, limit)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "user %d: balance=%d total_earned=%d\n", b.UserID, b.Balance, b.TotalEarned)
	for _, t := range txs {
		ref := "-"
		if t.PaymentID != nil {
			ref = fmt.Sprintf("payment %d", *t.PaymentID)
		}
		fmt.Fprintf(&sb, "  %s  %8s  %-14s %s  %s\n",
			common.FormatDateTime(t.CreatedAt, nil), common.FormatSigned(t.Amount), t.TransactionType, ref, t.Description)
	}
	return sb.String(), nil
}
