package wallet

import (
	"encoding/json"
	"fmt"

	"cryptobot/internal/market"
)

type TxType string

const (
	TxBuy          TxType = "buy"
	TxSell         TxType = "sell"
	TxAdminBalance TxType = "admin_balance_update"
	TxAdminHolding TxType = "admin_holding_update"
)

// Transaction is one entry of a user's recent activity.
type Transaction struct {
	ID           string           `json:"id,omitempty"`
	Type         TxType           `json:"type"`
	Currency     market.Currency  `json:"currency,omitempty"`
	Amount       float64          `json:"amount"`
	PricePerUnit float64          `json:"price_per_unit,omitempty"`
	TotalCost    float64          `json:"total_cost,omitempty"`
	TotalValue   float64          `json:"total_value,omitempty"`
	NewBalance   *float64         `json:"new_balance,omitempty"`
	Timestamp    market.Timestamp `json:"timestamp"`
}

// Wallet is a user's cash balance, currency holdings and recent transactions.
// On disk every holding is a top-level key next to "balance".
type Wallet struct {
	Balance      float64
	Holdings     map[market.Currency]float64
	Transactions []Transaction
}

const (
	balanceKey      = "balance"
	transactionsKey = "transactions"
)

func (w Wallet) Holding(c market.Currency) float64 {
	return w.Holdings[c]
}

// Value is the balance plus the holdings priced at prices.
func (w Wallet) Value(prices map[market.Currency]float64) float64 {
	total := w.Balance
	for c, amount := range w.Holdings {
		total += amount * prices[c]
	}
	return total
}

func (w Wallet) Clone() Wallet {
	out := Wallet{
		Balance:      w.Balance,
		Holdings:     make(map[market.Currency]float64, len(w.Holdings)),
		Transactions: append([]Transaction{}, w.Transactions...),
	}
	for c, v := range w.Holdings {
		out.Holdings[c] = v
	}
	return out
}

func (w Wallet) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(w.Holdings)+2)
	for c, v := range w.Holdings {
		doc[string(c)] = v
	}
	doc[balanceKey] = w.Balance

	txs := w.Transactions
	if txs == nil {
		txs = []Transaction{}
	}
	doc[transactionsKey] = txs

	return json.Marshal(doc)
}

func (w *Wallet) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := Wallet{Holdings: make(map[market.Currency]float64)}
	for key, value := range raw {
		switch key {
		case balanceKey:
			if err := json.Unmarshal(value, &out.Balance); err != nil {
				return fmt.Errorf("wallet balance: %w", err)
			}
		case transactionsKey:
			if err := json.Unmarshal(value, &out.Transactions); err != nil {
				return fmt.Errorf("wallet transactions: %w", err)
			}
		default:
			var amount float64
			if err := json.Unmarshal(value, &amount); err != nil {
				return fmt.Errorf("wallet holding %q: %w", key, err)
			}
			out.Holdings[market.Currency(key)] = amount
		}
	}
	if out.Transactions == nil {
		out.Transactions = []Transaction{}
	}

	*w = out
	return nil
}
