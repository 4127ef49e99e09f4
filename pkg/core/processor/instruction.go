package processor

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire format: 1-byte opcode followed by a fixed little-endian payload.
// Decoding is exact: short, long or unknown payloads are all rejected.

type Opcode uint8

const (
	OpInitializeMarket Opcode = iota
	OpPlaceLimitOrder
	OpCancelOrder
)

func (op Opcode) String() string {
	switch op {
	case OpInitializeMarket:
		return "InitializeMarket"
	case OpPlaceLimitOrder:
		return "PlaceLimitOrder"
	case OpCancelOrder:
		return "CancelOrder"
	default:
		return fmt.Sprintf("Opcode(%d)", uint8(op))
	}
}

var ErrInvalidInstruction = errors.New("invalid instruction data")

const (
	initializeMarketLen = 1 + 8 + 8 + 2
	placeLimitOrderLen  = 1 + 1 + 8 + 8
	cancelOrderLen      = 1 + 8
)

type InitializeMarket struct {
	MinBaseOrderSize uint64
	TickSize         uint64
	FeeRateBps       uint16
}

type PlaceLimitOrder struct {
	IsBuy      bool
	LimitPrice uint64
	Quantity   uint64
}

type CancelOrder struct {
	OrderID uint64
}

// Instruction is the closed union of the three opcodes. Exactly one
// variant pointer is non-nil, matching Op.
type Instruction struct {
	Op     Opcode
	Init   *InitializeMarket
	Place  *PlaceLimitOrder
	Cancel *CancelOrder
}

func DecodeInstruction(data []byte) (*Instruction, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidInstruction)
	}

	op := Opcode(data[0])
	switch op {
	case OpInitializeMarket:
		if len(data) != initializeMarketLen {
			return nil, fmt.Errorf("%w: %s payload is %d bytes, want %d", ErrInvalidInstruction, op, len(data), initializeMarketLen)
		}
		return &Instruction{Op: op, Init: &InitializeMarket{
			MinBaseOrderSize: binary.LittleEndian.Uint64(data[1:9]),
			TickSize:         binary.LittleEndian.Uint64(data[9:17]),
			FeeRateBps:       binary.LittleEndian.Uint16(data[17:19]),
		}}, nil

	case OpPlaceLimitOrder:
		if len(data) != placeLimitOrderLen {
			return nil, fmt.Errorf("%w: %s payload is %d bytes, want %d", ErrInvalidInstruction, op, len(data), placeLimitOrderLen)
		}
		switch data[1] {
		case 0, 1:
		default:
			return nil, fmt.Errorf("%w: %s side byte 0x%02x", ErrInvalidInstruction, op, data[1])
		}
		return &Instruction{Op: op, Place: &PlaceLimitOrder{
			IsBuy:      data[1] == 1,
			LimitPrice: binary.LittleEndian.Uint64(data[2:10]),
			Quantity:   binary.LittleEndian.Uint64(data[10:18]),
		}}, nil

	case OpCancelOrder:
		if len(data) != cancelOrderLen {
			return nil, fmt.Errorf("%w: %s payload is %d bytes, want %d", ErrInvalidInstruction, op, len(data), cancelOrderLen)
		}
		return &Instruction{Op: op, Cancel: &CancelOrder{
			OrderID: binary.LittleEndian.Uint64(data[1:9]),
		}}, nil

	default:
		return nil, fmt.Errorf("%w: unknown opcode %d", ErrInvalidInstruction, data[0])
	}
}

func (ix *InitializeMarket) Encode() []byte {
	b := make([]byte, 1, initializeMarketLen)
	b[0] = byte(OpInitializeMarket)
	b = binary.LittleEndian.AppendUint64(b, ix.MinBaseOrderSize)
	b = binary.LittleEndian.AppendUint64(b, ix.TickSize)
	b = binary.LittleEndian.AppendUint16(b, ix.FeeRateBps)
	return b
}

func (ix *PlaceLimitOrder) Encode() []byte {
	b := make([]byte, 2, placeLimitOrderLen)
	b[0] = byte(OpPlaceLimitOrder)
	if ix.IsBuy {
		b[1] = 1
	}
	b = binary.LittleEndian.AppendUint64(b, ix.LimitPrice)
	b = binary.LittleEndian.AppendUint64(b, ix.Quantity)
	return b
}

func (ix *CancelOrder) Encode() []byte {
	b := make([]byte, 1, cancelOrderLen)
	b[0] = byte(OpCancelOrder)
	b = binary.LittleEndian.AppendUint64(b, ix.OrderID)
	return b
}
