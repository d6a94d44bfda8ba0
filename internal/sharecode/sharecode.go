// Package sharecode converts match share codes ("CSGO-xxxxx-xxxxx-xxxxx-xxxxx-xxxxx") to and
// from the coordinates the game coordinator needs to locate a single match.
package sharecode

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Alphabet is the 57 character dictionary used by share codes. It leaves out the visually
// ambiguous I, O, l, 0 and 1.
const Alphabet = "ABCDEFGHJKLMNOPQRSTUVWXYZabcdefhijkmnopqrstuvwxyz23456789"

// Length is the number of alphabet characters in a share code once the prefix and dashes are removed.
const Length = 25

const prefix = "CSGO-"

var (
	// ErrInvalidLength indicates the code does not contain exactly Length alphabet characters.
	ErrInvalidLength = errors.New("share code has invalid length")
	// ErrInvalidCharacter indicates the code contains a character outside Alphabet.
	ErrInvalidCharacter = errors.New("share code has invalid character")
	// ErrOutOfRange indicates a ShareCode cannot be represented in Length characters.
	ErrOutOfRange = errors.New("share code coordinates out of range")
)

var (
	base     = big.NewInt(int64(len(Alphabet)))
	mask64   = new(big.Int).SetUint64(^uint64(0))
	maxValue = new(big.Int).Exp(base, big.NewInt(Length), nil)
)

// ShareCode holds the decoded coordinates of one match.
type ShareCode struct {
	MatchID   uint64 `json:"matchId"`
	OutcomeID uint64 `json:"outcomeId"`
	Token     uint32 `json:"token"`
}

// Decode parses a share code with or without the CSGO- prefix and dashes.
func Decode(code string) (ShareCode, error) {
	raw, err := strip(code)
	if err != nil {
		return ShareCode{}, err
	}

	value := new(big.Int)
	for i, ch := range raw {
		idx := strings.IndexRune(Alphabet, ch)
		if idx < 0 {
			return ShareCode{}, fmt.Errorf("%w: %q at position %d", ErrInvalidCharacter, ch, i+1)
		}
		value.Mul(value, base)
		value.Add(value, big.NewInt(int64(idx)))
	}

	matchID := new(big.Int).And(value, mask64).Uint64()
	value.Rsh(value, 64)
	outcomeID := new(big.Int).And(value, mask64).Uint64()
	value.Rsh(value, 64)

	// 57^25 < 2^146, so the remaining high bits always fit.
	return ShareCode{
		MatchID:   matchID,
		OutcomeID: outcomeID,
		Token:     uint32(value.Uint64()),
	}, nil
}

// Encode renders the coordinates as a formatted share code.
func Encode(sc ShareCode) (string, error) {
	value := new(big.Int).SetUint64(uint64(sc.Token))
	value.Lsh(value, 64)
	value.Or(value, new(big.Int).SetUint64(sc.OutcomeID))
	value.Lsh(value, 64)
	value.Or(value, new(big.Int).SetUint64(sc.MatchID))

	if value.Cmp(maxValue) >= 0 {
		return "", fmt.Errorf("%w: token %d", ErrOutOfRange, sc.Token)
	}

	out := make([]byte, Length)
	rem := new(big.Int)
	for i := Length - 1; i >= 0; i-- {
		value.QuoRem(value, base, rem)
		out[i] = Alphabet[rem.Int64()]
	}

	return format(string(out)), nil
}

// Validate reports whether code is a well formed share code.
func Validate(code string) error {
	_, err := Decode(code)
	return err
}

// Format returns code in its canonical CSGO-xxxxx-xxxxx-xxxxx-xxxxx-xxxxx form. Whitespace is ignored.
func Format(code string) (string, error) {
	raw, err := strip(strings.Join(strings.Fields(code), ""))
	if err != nil {
		return "", err
	}
	return format(raw), nil
}

// Normalize is a lenient Format: codes that cannot be formatted are returned unchanged.
func Normalize(code string) string {
	formatted, err := Format(code)
	if err != nil {
		return code
	}
	return formatted
}

func strip(code string) (string, error) {
	raw := strings.TrimSpace(code)
	if len(raw) >= len(prefix) && strings.EqualFold(raw[:len(prefix)], prefix) {
		raw = raw[len(prefix):]
	}
	raw = strings.ReplaceAll(raw, "-", "")

	if n := len([]rune(raw)); n != Length {
		return "", fmt.Errorf("%w: got %d characters, want %d", ErrInvalidLength, n, Length)
	}
	return raw, nil
}

func format(raw string) string {
	runes := []rune(raw)
	groups := make([]string, 0, Length/5)
	for i := 0; i < len(runes); i += 5 {
		groups = append(groups, string(runes[i:min(i+5, len(runes))]))
	}
	return prefix + strings.Join(groups, "-")
}
