package spibus

// Register selects one of the peripheral's 16-bit registers.
type Register uint8

const (
	RegCR1 Register = iota
	RegCR2
	RegSR
	RegDR
	RegCRCPR
)

func (r Register) String() string {
	switch r {
	case RegCR1:
		return "CR1"
	case RegCR2:
		return "CR2"
	case RegSR:
		return "SR"
	case RegDR:
		return "DR"
	case RegCRCPR:
		return "CRCPR"
	default:
		return "REG?"
	}
}

// CR1 bits.
const (
	CR1CPHA     = 1 << 0
	CR1CPOL     = 1 << 1
	CR1MSTR     = 1 << 2
	CR1BRPos    = 3
	CR1BRMask   = 0x7 << CR1BRPos
	CR1SPE      = 1 << 6
	CR1LSBFIRST = 1 << 7
	CR1SSI      = 1 << 8
	CR1SSM      = 1 << 9
	CR1RXONLY   = 1 << 10
	CR1DFF      = 1 << 11 // 16-bit frame on F10x, CRCL on F30x
	CR1CRCNEXT  = 1 << 12
	CR1CRCEN    = 1 << 13
	CR1BIDIOE   = 1 << 14
	CR1BIDIMODE = 1 << 15
)

// CR2 bits (F30x frame format).
const (
	CR2DSPos  = 8
	CR2DSMask = 0xF << CR2DSPos
	CR2FRXTH  = 1 << 12
)

// SR bits.
const (
	SRRXNE = 1 << 0
	SRTXE  = 1 << 1
	SRMODF = 1 << 5
	SROVR  = 1 << 6
	SRBSY  = 1 << 7
)

// Reset values.
const (
	ResetCR2   = 0x0000
	ResetSR    = SRTXE
	ResetCRCPR = 0x0007
)
