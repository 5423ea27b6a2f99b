package application

import "github.com/shopspring/decimal"

// Command is the closed set of operations a ledger actor accepts. Each
// variant maps to exactly one event kind; dispatch is a static type switch
// in Actor.Handle.
type Command interface {
	isCommand()
}

type CreateAccountCommand struct {
	AccountNumber string
	HolderName    string
}

type DepositCommand struct {
	AccountNumber string
	Amount        decimal.Decimal
}

type WithdrawCommand struct {
	AccountNumber string
	Amount        decimal.Decimal
}

type CreateSnapshotCommand struct{}

func (CreateAccountCommand) isCommand()  {}
func (DepositCommand) isCommand()        {}
func (WithdrawCommand) isCommand()       {}
func (CreateSnapshotCommand) isCommand() {}
