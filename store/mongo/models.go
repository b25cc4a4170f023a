package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/passledger/account"
	"github.com/xraph/passledger/id"
	"github.com/xraph/passledger/passtoken"
	"github.com/xraph/passledger/supply"
	"github.com/xraph/passledger/types"
)

// supplyDocID is the _id of the single supply counter document.
const supplyDocID = "global"

type accountModel struct {
	grove.BaseModel `grove:"table:passledger_accounts"`

	ID           string    `grove:"id,pk"         bson:"_id"`
	Balance      int64     `grove:"balance"       bson:"balance"`
	CheckpointNS int64     `grove:"checkpoint_ns" bson:"checkpoint_ns"`
	LastCredit   int64     `grove:"last_credit"   bson:"last_credit"`
	CreatedAt    time.Time `grove:"created_at"    bson:"created_at"`
	UpdatedAt    time.Time `grove:"updated_at"    bson:"updated_at"`
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

type passTokenModel struct {
	grove.BaseModel `grove:"table:passledger_pass_tokens"`

	ID         string     `grove:"id,pk"       bson:"_id"`
	Token      string     `grove:"token"       bson:"token"`
	Issuer     string     `grove:"issuer"      bson:"issuer"`
	Amount     int64      `grove:"amount"      bson:"amount"`
	Redeemer   string     `grove:"redeemer"    bson:"redeemer"`
	RedeemedAt *time.Time `grove:"redeemed_at" bson:"redeemed_at,omitempty"`
	CreatedAt  time.Time  `grove:"created_at"  bson:"created_at"`
	UpdatedAt  time.Time  `grove:"updated_at"  bson:"updated_at"`
}

func toPassTokenModel(t *passtoken.Token) *passTokenModel {
	return &passTokenModel{
		ID:         t.ID.String(),
		Token:      t.Secret,
		Issuer:     t.Issuer,
		Amount:     t.Amount.Units(),
		Redeemer:   t.Redeemer,
		RedeemedAt: t.RedeemedAt,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
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

type supplyModel struct {
	grove.BaseModel `grove:"table:passledger_supply"`

	ID        string    `grove:"id,pk"      bson:"_id"`
	Cap       int64     `grove:"cap"        bson:"cap"`
	Minted    int64     `grove:"minted"     bson:"minted"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
}

func fromSupplyModel(m *supplyModel) *supply.Stats {
	return supply.NewStats(types.Amount(m.Cap), types.Amount(m.Minted))
}
