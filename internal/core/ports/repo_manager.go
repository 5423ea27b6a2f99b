package ports

import "github.com/generousbank/bankd/internal/core/domain"

type RepoManager interface {
	Ledger() domain.LedgerRepository
	Close()
}
