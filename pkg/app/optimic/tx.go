package optimic

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/optimic-protocol/optimic/pkg/app/core/types"
)

// TxType identifies a transaction payload.
type TxType string

const (
	TxDeposit            TxType = "deposit"
	TxWithdraw           TxType = "withdraw"
	TxPlaceOrder         TxType = "place_order"
	TxCancelOrder        TxType = "cancel_order"
	TxPostCollateral     TxType = "post_collateral"
	TxCreateOption       TxType = "create_option"
	TxOpenOptionPosition TxType = "open_option_position"
	TxExerciseOption     TxType = "exercise_option"
)

// Envelope is the wire form of every transaction: a type tag plus the
// type-specific payload.
type Envelope struct {
	Type    TxType          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type DepositTx struct {
	Address common.Address `json:"address"`
	Asset   string         `json:"asset"`
	Amount  int64          `json:"amount"`
}

type WithdrawTx struct {
	Address common.Address `json:"address"`
	Asset   string         `json:"asset"`
	Amount  int64          `json:"amount"`
}

type PlaceOrderTx struct {
	Trader    common.Address `json:"trader"`
	Market    string         `json:"market"`
	Side      string         `json:"side"`       // buy | sell
	OrderType string         `json:"order_type"` // market | limit | stop | stop_limit
	Qty       int64          `json:"quantity"`
	Price     int64          `json:"price,omitempty"`
	StopPrice int64          `json:"stop_price,omitempty"`
	TIF       string         `json:"time_in_force"` // GTC | IOC | FOK | GTD
	ExpireAt  int64          `json:"expire_at,omitempty"`
}

type CancelOrderTx struct {
	Trader  common.Address `json:"trader"`
	Market  string         `json:"market"`
	OrderID uint64         `json:"order_id"`
}

type PostCollateralTx struct {
	Address common.Address `json:"address"`
	Market  string         `json:"market"`
	Asset   string         `json:"asset"`
	Amount  int64          `json:"amount"`
}

type CreateOptionTx struct {
	Underlying string `json:"underlying_asset"`
	Strike     int64  `json:"strike_price"`
	Expiry     int64  `json:"expiry_date"`
	OptionType string `json:"option_type"` // call | put
	Style      string `json:"style"`       // european | american
	Settlement string `json:"settlement_type"`
}

type OpenOptionPositionTx struct {
	Buyer    common.Address `json:"buyer"`
	Seller   common.Address `json:"seller"`
	OptionID string         `json:"option_id"`
	Qty      int64          `json:"quantity"`
	Premium  int64          `json:"premium"` // per unit, quote ticks
}

type ExerciseOptionTx struct {
	Holder   common.Address `json:"holder"`
	OptionID string         `json:"option_id"`
	Qty      int64          `json:"quantity"`
}

// DecodeTx parses the envelope. The payload is decoded by the handler.
func DecodeTx(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed tx: %v", types.ErrValidation, err)
	}
	switch env.Type {
	case TxDeposit, TxWithdraw, TxPlaceOrder, TxCancelOrder, TxPostCollateral,
		TxCreateOption, TxOpenOptionPosition, TxExerciseOption:
		return &env, nil
	default:
		return nil, fmt.Errorf("%w: unknown tx type %q", types.ErrValidation, env.Type)
	}
}

// EncodeTx wraps a payload for submission.
func EncodeTx(t TxType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t, Payload: raw})
}

func decodePayload(env *Envelope, out any) error {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("%w: %s payload: %v", types.ErrValidation, env.Type, err)
	}
	return nil
}

func parseSide(s string) (types.Side, error) {
	switch s {
	case "buy":
		return types.Buy, nil
	case "sell":
		return types.Sell, nil
	default:
		return 0, fmt.Errorf("%w: side %q", types.ErrValidation, s)
	}
}

func parseOrderType(s string) (types.OrderType, error) {
	switch s {
	case "market":
		return types.MarketOrder, nil
	case "limit":
		return types.LimitOrder, nil
	case "stop":
		return types.StopOrder, nil
	case "stop_limit":
		return types.StopLimitOrder, nil
	default:
		return 0, fmt.Errorf("%w: order type %q", types.ErrValidation, s)
	}
}

func parseTIF(s string) (types.TimeInForce, error) {
	switch s {
	case "GTC", "":
		return types.GTC, nil
	case "IOC":
		return types.IOC, nil
	case "FOK":
		return types.FOK, nil
	case "GTD":
		return types.GTD, nil
	default:
		return 0, fmt.Errorf("%w: time in force %q", types.ErrValidation, s)
	}
}

func parseOptionType(s string) (types.OptionType, error) {
	switch s {
	case "call":
		return types.Call, nil
	case "put":
		return types.Put, nil
	default:
		return 0, fmt.Errorf("%w: option type %q", types.ErrValidation, s)
	}
}

func parseStyle(s string) (types.OptionStyle, error) {
	switch s {
	case "european", "":
		return types.European, nil
	case "american":
		return types.American, nil
	default:
		return 0, fmt.Errorf("%w: option style %q", types.ErrValidation, s)
	}
}

func parseSettlement(s string) (types.SettlementType, error) {
	switch s {
	case "cash", "":
		return types.CashSettled, nil
	case "physical":
		return types.PhysicalSettled, nil
	default:
		return 0, fmt.Errorf("%w: settlement type %q", types.ErrValidation, s)
	}
}

// checkTx performs the stateless part of validation: payloads must
// decode and carry sane fields. Anything touching state waits for
// delivery.
func checkTx(env *Envelope) error {
	switch env.Type {
	case TxDeposit:
		var tx DepositTx
		if err := decodePayload(env, &tx); err != nil {
			return err
		}
		return checkTransfer(tx.Asset, tx.Amount)
	case TxWithdraw:
		var tx WithdrawTx
		if err := decodePayload(env, &tx); err != nil {
			return err
		}
		return checkTransfer(tx.Asset, tx.Amount)
	case TxPlaceOrder:
		var tx PlaceOrderTx
		if err := decodePayload(env, &tx); err != nil {
			return err
		}
		if _, err := parseSide(tx.Side); err != nil {
			return err
		}
		if _, err := parseOrderType(tx.OrderType); err != nil {
			return err
		}
		if _, err := parseTIF(tx.TIF); err != nil {
			return err
		}
		if tx.Market == "" {
			return fmt.Errorf("%w: market required", types.ErrValidation)
		}
		if tx.Qty <= 0 {
			return fmt.Errorf("%w: quantity must be positive", types.ErrValidation)
		}
		return nil
	case TxCancelOrder:
		var tx CancelOrderTx
		if err := decodePayload(env, &tx); err != nil {
			return err
		}
		if tx.OrderID == 0 {
			return fmt.Errorf("%w: order id required", types.ErrValidation)
		}
		return nil
	case TxPostCollateral:
		var tx PostCollateralTx
		if err := decodePayload(env, &tx); err != nil {
			return err
		}
		return checkTransfer(tx.Asset, tx.Amount)
	case TxCreateOption:
		var tx CreateOptionTx
		if err := decodePayload(env, &tx); err != nil {
			return err
		}
		if _, err := parseOptionType(tx.OptionType); err != nil {
			return err
		}
		if _, err := parseStyle(tx.Style); err != nil {
			return err
		}
		if _, err := parseSettlement(tx.Settlement); err != nil {
			return err
		}
		if tx.Underlying == "" || tx.Strike <= 0 || tx.Expiry <= 0 {
			return fmt.Errorf("%w: underlying, strike, and expiry required", types.ErrValidation)
		}
		return nil
	case TxOpenOptionPosition:
		var tx OpenOptionPositionTx
		if err := decodePayload(env, &tx); err != nil {
			return err
		}
		if tx.OptionID == "" || tx.Qty <= 0 || tx.Premium < 0 {
			return fmt.Errorf("%w: option id, positive quantity, non-negative premium required", types.ErrValidation)
		}
		return nil
	case TxExerciseOption:
		var tx ExerciseOptionTx
		if err := decodePayload(env, &tx); err != nil {
			return err
		}
		if tx.OptionID == "" || tx.Qty <= 0 {
			return fmt.Errorf("%w: option id and positive quantity required", types.ErrValidation)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown tx type %q", types.ErrValidation, env.Type)
}

func checkTransfer(asset string, amount int64) error {
	if asset == "" {
		return fmt.Errorf("%w: asset required", types.ErrValidation)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", types.ErrValidation)
	}
	return nil
}
