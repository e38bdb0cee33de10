package chain

import (
	"fmt"

	"consensus-observer/internal/validator"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the cosmos-sdk staking/upgrade query messages.
const (
	// QueryValidatorsRequest
	fieldReqStatus     = 1
	fieldReqPagination = 2
	// PageRequest / PageResponse
	fieldPageKey     = 1
	fieldPageLimit   = 3
	fieldPageNextKey = 1
	// QueryValidatorsResponse
	fieldRespValidators = 1
	fieldRespPagination = 2
	// Validator
	fieldValOperator    = 1
	fieldValConsPubkey  = 2
	fieldValTokens      = 5
	fieldValDescription = 7
	// Any / PubKey / Description
	fieldAnyValue    = 2
	fieldPubKeyKey   = 1
	fieldDescMoniker = 1
	// QueryCurrentPlanResponse / Plan
	fieldPlan       = 1
	fieldPlanName   = 1
	fieldPlanHeight = 3
	fieldPlanInfo   = 4
)

func encodeValidatorsRequest(status string, key []byte, limit uint64) []byte {
	var page []byte
	if len(key) > 0 {
		page = protowire.AppendTag(page, fieldPageKey, protowire.BytesType)
		page = protowire.AppendBytes(page, key)
	}
	page = protowire.AppendTag(page, fieldPageLimit, protowire.VarintType)
	page = protowire.AppendVarint(page, limit)

	var b []byte
	b = protowire.AppendTag(b, fieldReqStatus, protowire.BytesType)
	b = protowire.AppendString(b, status)
	b = protowire.AppendTag(b, fieldReqPagination, protowire.BytesType)
	b = protowire.AppendBytes(b, page)
	return b
}

// walkFields calls fn for every field of a message. fn receives the raw
// bytes of length-delimited fields and the value of varint fields.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, raw []byte, v uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.BytesType:
			raw, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			if err := fn(num, typ, raw, 0); err != nil {
				return err
			}
			b = b[m:]
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			if err := fn(num, typ, nil, v); err != nil {
				return err
			}
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	return nil
}

func decodeValidatorsResponse(b []byte) ([]validator.RawValidator, []byte, error) {
	var (
		out     []validator.RawValidator
		nextKey []byte
	)
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, raw []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldRespValidators:
			v, err := decodeValidator(raw)
			if err != nil {
				return fmt.Errorf("validator: %w", err)
			}
			out = append(out, v)
		case fieldRespPagination:
			return walkFields(raw, func(num protowire.Number, typ protowire.Type, raw []byte, _ uint64) error {
				if num == fieldPageNextKey && typ == protowire.BytesType {
					nextKey = append([]byte(nil), raw...)
				}
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, nextKey, nil
}

func decodeValidator(b []byte) (validator.RawValidator, error) {
	var v validator.RawValidator
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, raw []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldValOperator:
			v.OperatorAddress = string(raw)
		case fieldValTokens:
			v.Tokens = string(raw)
		case fieldValConsPubkey:
			key, err := decodeAnyPubKey(raw)
			if err != nil {
				return err
			}
			v.PubKey = key
		case fieldValDescription:
			return walkFields(raw, func(num protowire.Number, typ protowire.Type, raw []byte, _ uint64) error {
				if num == fieldDescMoniker && typ == protowire.BytesType {
					v.Moniker = string(raw)
				}
				return nil
			})
		}
		return nil
	})
	return v, err
}

// decodeAnyPubKey unwraps google.protobuf.Any{value: PubKey{key}}.
func decodeAnyPubKey(b []byte) ([]byte, error) {
	var key []byte
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, raw []byte, _ uint64) error {
		if num != fieldAnyValue || typ != protowire.BytesType {
			return nil
		}
		return walkFields(raw, func(num protowire.Number, typ protowire.Type, raw []byte, _ uint64) error {
			if num == fieldPubKeyKey && typ == protowire.BytesType {
				key = append([]byte(nil), raw...)
			}
			return nil
		})
	})
	return key, err
}

func decodeCurrentPlanResponse(b []byte) (*UpgradePlan, error) {
	var plan *UpgradePlan
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, raw []byte, _ uint64) error {
		if num != fieldPlan || typ != protowire.BytesType {
			return nil
		}
		plan = &UpgradePlan{}
		return walkFields(raw, func(num protowire.Number, typ protowire.Type, raw []byte, v uint64) error {
			switch {
			case num == fieldPlanName && typ == protowire.BytesType:
				plan.Name = string(raw)
			case num == fieldPlanInfo && typ == protowire.BytesType:
				plan.Info = string(raw)
			case num == fieldPlanHeight && typ == protowire.VarintType:
				plan.Height = int64(v)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("decode current plan: %w", err)
	}
	return plan, nil
}
