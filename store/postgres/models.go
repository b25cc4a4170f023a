package postgres

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/passledger/account"
	"github.com/xraph/passledger/id"
	"github.com/xraph/passledger/passtoken"
	"github.com/xraph/passledger/supply"
	"github.com/xraph/passledger/types"
)

// supplyRowID is the primary key of the single supply counter row.
const supplyRowID = 1

// ==================== Account models ====================

type accountModel struct {
	grove.BaseModel `grove:"table:passledger_accounts"`

	ID           string    `grove:"id,pk"`
	Balance      int64     `grove:"balance"`
	CheckpointNS int64     `grove:"checkpoint_ns"`
	LastCredit   int64     `grove:"last_credit"`
	CreatedAt    time.Time `grove:"created_at"`
	UpdatedAt    time.Time `grove:"updated_at"`
}

func toAccountModel(a *account.Account) *accountModel {
	return &accountModel{
		ID:           a.ID,
		Balance:      a.Balance.Units(),
		CheckpointNS: a.Checkpoint.UnixNano(),
		LastCredit:   a.LastCredit.Units(),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func fromAccountModel(m *accountModel) *account.Account {
	return &account.Account{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:         m.ID,
		Balance:    types.Amount(m.Balance),
		Checkpoint: time.Unix(0, m.CheckpointNS).UTC(),
		LastCredit: types.Amount(m.LastCredit),
	}
}

// ==================== Pass token models ====================

type passTokenModel struct {
	grove.BaseModel `grove:"table:passledger_pass_tokens"`

	ID         string     `grove:"id,pk"`
	Token      string     `grove:"token"`
	Issuer     string     `grove:"issuer"`
	Amount     int64      `grove:"amount"`
	Redeemer   string     `grove:"redeemer"`
	RedeemedAt *time.Time `grove:"redeemed_at"`
	CreatedAt  time.Time  `grove:"created_at"`
	UpdatedAt  time.Time  `grove:"updated_at"`
}

func fromPassTokenModel(m *passTokenModel) (*passtoken.Token, error) {
	tokenID, err := id.ParsePassTokenID(m.ID)
	if err != nil {
		return nil, err
	}

	var redeemedAt *time.Time
	if m.RedeemedAt != nil {
		at := m.RedeemedAt.UTC()
		redeemedAt = &at
	}

	return &passtoken.Token{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:         tokenID,
		Secret:     m.Token,
		Issuer:     m.Issuer,
		Amount:     types.Amount(m.Amount),
		Redeemer:   m.Redeemer,
		RedeemedAt: redeemedAt,
	}, nil
}

// ==================== Supply models ====================

type supplyModel struct {
	grove.BaseModel `grove:"table:passledger_supply"`

	ID        int       `grove:"id,pk"`
	Cap       int64     `grove:"cap"`
	Minted    int64     `grove:"minted"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func fromSupplyModel(m *supplyModel) *supply.Stats {
	return supply.NewStats(types.Amount(m.Cap), types.Amount(m.Minted))
}
