package bridge

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Mode is the operating configuration of a bridge deployment.
type Mode string

const (
	ModeNativeToErc Mode = "native-to-erc"
	ModeErcToErc    Mode = "erc-to-erc"
	ModeErcToNative Mode = "erc-to-native"
)

// Modes lists every recognized mode.
var Modes = []Mode{ModeNativeToErc, ModeErcToErc, ModeErcToNative}

// ModeHash returns the 4-byte identifier a bridge contract reports for mode,
// bytes4(keccak256("<mode>-core")).
func ModeHash(m Mode) [4]byte {
	var out [4]byte
	copy(out[:], crypto.Keccak256([]byte(string(m)+"-core"))[:4])
	return out
}

var modeByHash = func() map[[4]byte]Mode {
	out := make(map[[4]byte]Mode, len(Modes))
	for _, m := range Modes {
		out[ModeHash(m)] = m
	}
	return out
}()

// DecodeMode maps the getBridgeMode() return value to a Mode.
func DecodeMode(hash [4]byte) (Mode, error) {
	if m, ok := modeByHash[hash]; ok {
		return m, nil
	}
	return "", &ConfigurationError{
		Reason: fmt.Sprintf("unrecognized bridge mode hash 0x%s", hex.EncodeToString(hash[:])),
		Err:    ErrUnknownModeHash,
	}
}

// ParseMode accepts a mode name as written in config or on the command line.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", &ConfigurationError{
			Reason: fmt.Sprintf("unrecognized bridge mode %q", s),
			Err:    ErrUnsupportedMode,
		}
	}
	return m, nil
}

// Valid reports whether m is one of the recognized modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeNativeToErc, ModeErcToErc, ModeErcToNative:
		return true
	}
	return false
}

func (m Mode) String() string { return string(m) }
