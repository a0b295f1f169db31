// Package decrypt provides the pointer decryption hook applied to the
// registry's object pointer before it is dereferenced. Builds that do not
// obfuscate the pointer use Identity.
package decrypt

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// ErrSyntax is returned by Parse for malformed expressions.
var ErrSyntax = errors.New("decrypt: invalid expression")

// Func maps a raw pointer to a usable one.
type Func func(ptr uint64) uint64

// Decryptor pairs a decryption function with a label used in diagnostics.
type Decryptor struct {
	Fn    Func
	Label string
}

// Identity leaves pointers untouched.
var Identity = Decryptor{
	Fn:    func(ptr uint64) uint64 { return ptr },
	Label: "none",
}

// Decrypt applies the hook. A zero Decryptor behaves like Identity.
func (d Decryptor) Decrypt(ptr uint64) uint64 {
	if d.Fn == nil {
		return ptr
	}
	return d.Fn(ptr)
}

func (d Decryptor) String() string {
	if d.Label == "" {
		return Identity.Label
	}
	return d.Label
}

// Parse builds a Decryptor from a pipeline of steps separated by "|".
// Each step is one of:
//
//	none
//	xor:<hex>   add:<hex>   sub:<hex>
//	rol:<bits>  ror:<bits>
//
// Steps apply left to right, e.g. "xor:0x5a5a5a5a5a5a5a5a|ror:13".
func Parse(expr string) (Decryptor, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == "none" {
		return Identity, nil
	}

	var steps []Func
	for _, raw := range strings.Split(expr, "|") {
		step, err := parseStep(strings.TrimSpace(raw))
		if err != nil {
			return Decryptor{}, err
		}
		steps = append(steps, step)
	}

	return Decryptor{
		Fn: func(ptr uint64) uint64 {
			for _, step := range steps {
				ptr = step(ptr)
			}
			return ptr
		},
		Label: expr,
	}, nil
}

func parseStep(s string) (Func, error) {
	if s == "none" {
		return Identity.Fn, nil
	}
	op, arg, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("%w: %q has no argument", ErrSyntax, s)
	}

	switch op {
	case "xor", "add", "sub":
		k, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(arg), "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrSyntax, s, err)
		}
		switch op {
		case "xor":
			return func(p uint64) uint64 { return p ^ k }, nil
		case "add":
			return func(p uint64) uint64 { return p + k }, nil
		default:
			return func(p uint64) uint64 { return p - k }, nil
		}
	case "rol", "ror":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 || n > 63 {
			return nil, fmt.Errorf("%w: %q: rotate count must be 0-63", ErrSyntax, s)
		}
		if op == "ror" {
			n = -n
		}
		return func(p uint64) uint64 { return bits.RotateLeft64(p, n) }, nil
	default:
		return nil, fmt.Errorf("%w: unknown step %q", ErrSyntax, op)
	}
}
