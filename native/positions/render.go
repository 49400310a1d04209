package positions

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Descriptor holds everything the renderer shows about a position.
type Descriptor struct {
	ID                  uint64
	PoolID              common.Hash
	PoolName            string
	Symbol              string
	Rate                *big.Int
	NormalizedDeposited *big.Int
	Bonds               *big.Int
}

type metadataAttribute struct {
	Trait string `json:"trait_type"`
	Value string `json:"value"`
}

type metadata struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Attributes  []metadataAttribute `json:"attributes"`
}

var wadUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// formatWad renders a wad amount as a decimal string without trailing zeros.
func formatWad(v *big.Int) string {
	if v == nil {
		return "0"
	}
	sign := ""
	abs := new(big.Int).Set(v)
	if abs.Sign() < 0 {
		sign = "-"
		abs.Neg(abs)
	}
	whole, frac := new(big.Int).QuoRem(abs, wadUnit, new(big.Int))
	if frac.Sign() == 0 {
		return sign + whole.String()
	}
	digits := frac.String()
	digits = strings.Repeat("0", 18-len(digits)) + digits
	digits = strings.TrimRight(digits, "0")
	return sign + whole.String() + "." + digits
}

// formatRate renders a wad rate as a percentage.
func formatRate(rate *big.Int) string {
	if rate == nil {
		return "0%"
	}
	return formatWad(new(big.Int).Mul(rate, big.NewInt(100))) + "%"
}

// Render returns the data URI describing a position.
func Render(d Descriptor) (string, error) {
	label := strings.TrimSpace(d.PoolName)
	if label == "" {
		label = d.PoolID.Hex()
	}
	symbol := strings.TrimSpace(d.Symbol)
	if symbol == "" {
		symbol = "tokens"
	}
	doc := metadata{
		Name: fmt.Sprintf("Ratebook position #%d", d.ID),
		Description: fmt.Sprintf("Lending position in %s at %s holding %s %s and %s bonds.",
			label, formatRate(d.Rate), formatWad(d.NormalizedDeposited), symbol, formatWad(d.Bonds)),
		Attributes: []metadataAttribute{
			{Trait: "pool", Value: label},
			{Trait: "pool_id", Value: d.PoolID.Hex()},
			{Trait: "rate", Value: formatRate(d.Rate)},
			{Trait: "deposited", Value: formatWad(d.NormalizedDeposited)},
			{Trait: "bonds", Value: formatWad(d.Bonds)},
			{Trait: "symbol", Value: symbol},
		},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return "data:application/json;base64," + base64.StdEncoding.EncodeToString(raw), nil
}

// TokenURI renders the position id with its live repartition.
func (l *Ledger) TokenURI(id uint64, symbol string) (string, error) {
	pos, err := l.Position(id)
	if err != nil {
		return "", err
	}
	rep, err := l.PositionRepartition(id)
	if err != nil {
		return "", err
	}
	pool, err := l.engine.Pool(pos.PoolID)
	if err != nil {
		return "", err
	}
	return Render(Descriptor{
		ID:                  pos.ID,
		PoolID:              pos.PoolID,
		PoolName:            pool.Name,
		Symbol:              symbol,
		Rate:                pos.Rate,
		NormalizedDeposited: rep.NormalizedDeposited,
		Bonds:               rep.Bonds,
	})
}
