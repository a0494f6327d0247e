package evm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ParseABI parses a JSON ABI document.
func ParseABI(raw json.RawMessage) (abi.ABI, error) {
	if len(raw) == 0 {
		return abi.ABI{}, errors.New("empty ABI")
	}
	parsed, err := abi.JSON(strings.NewReader(string(raw)))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parsing ABI: %w", err)
	}
	return parsed, nil
}

// ConstructorTypes returns the solidity types of the constructor inputs.
func ConstructorTypes(raw json.RawMessage) ([]string, error) {
	parsed, err := ParseABI(raw)
	if err != nil {
		return nil, err
	}
	types := make([]string, len(parsed.Constructor.Inputs))
	for i, in := range parsed.Constructor.Inputs {
		types[i] = in.Type.String()
	}
	return types, nil
}

// EncodeConstructorArgs ABI-encodes string-formatted constructor arguments.
func EncodeConstructorArgs(raw json.RawMessage, args []string) ([]byte, error) {
	parsed, err := ParseABI(raw)
	if err != nil {
		return nil, err
	}
	inputs := parsed.Constructor.Inputs
	if len(inputs) != len(args) {
		return nil, fmt.Errorf("constructor takes %d arguments, got %d", len(inputs), len(args))
	}
	values, err := ConvertArgs(inputs, args)
	if err != nil {
		return nil, err
	}
	return inputs.Pack(values...)
}

// DecodeConstructorArgs decodes ABI-encoded constructor arguments to strings.
func DecodeConstructorArgs(raw json.RawMessage, data []byte) ([]string, error) {
	parsed, err := ParseABI(raw)
	if err != nil {
		return nil, err
	}
	values, err := parsed.Constructor.Inputs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("decoding constructor arguments: %w", err)
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = FormatValue(v)
	}
	return out, nil
}

// ConvertArgs converts string arguments to the Go values expected by the
// ABI packer for each input.
func ConvertArgs(inputs abi.Arguments, args []string) ([]any, error) {
	values := make([]any, len(args))
	for i, arg := range args {
		v, err := convertArg(inputs[i].Type, arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d (%s): %w", i, inputs[i].Type.String(), err)
		}
		values[i] = v
	}
	return values, nil
}

func convertArg(t abi.Type, s string) (any, error) {
	s = strings.TrimSpace(s)
	switch t.T {
	case abi.AddressTy:
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		return common.HexToAddress(s), nil
	case abi.BoolTy:
		return strconv.ParseBool(s)
	case abi.StringTy:
		return s, nil
	case abi.BytesTy:
		return hexutil.Decode(s)
	case abi.FixedBytesTy:
		b, err := hexutil.Decode(s)
		if err != nil {
			return nil, err
		}
		if len(b) != t.Size {
			return nil, fmt.Errorf("want %d bytes, got %d", t.Size, len(b))
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface(), nil
	case abi.UintTy, abi.IntTy:
		n, err := ParseInteger(s)
		if err != nil {
			return nil, err
		}
		return integerValue(t, n)
	default:
		return nil, fmt.Errorf("unsupported argument type %s", t.String())
	}
}

// ParseInteger parses decimal, 0x-hex and "<digits>e<exp>" integers, the
// last being the notation used for token supplies ("100000000e18").
func ParseInteger(s string) (*big.Int, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if mant, exp, ok := strings.Cut(strings.ToLower(s), "e"); ok && !strings.HasPrefix(s, "0x") {
		m, okM := new(big.Int).SetString(mant, 10)
		e, errE := strconv.ParseUint(exp, 10, 16)
		if !okM || errE != nil {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		return m.Mul(m, new(big.Int).Exp(big.NewInt(10), new(big.Int).SetUint64(e), nil)), nil
	}
	n, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

func integerValue(t abi.Type, n *big.Int) (any, error) {
	if t.T == abi.UintTy && n.Sign() < 0 {
		return nil, fmt.Errorf("negative value for %s", t.String())
	}
	if n.BitLen() > t.Size {
		return nil, fmt.Errorf("value overflows %s", t.String())
	}
	goType := t.GetType()
	if goType == reflect.TypeOf(&big.Int{}) {
		return n, nil
	}
	if t.T == abi.UintTy {
		return reflect.ValueOf(n.Uint64()).Convert(goType).Interface(), nil
	}
	return reflect.ValueOf(n.Int64()).Convert(goType).Interface(), nil
}

// FormatValue renders a decoded ABI value as a string.
func FormatValue(v any) string {
	switch x := v.(type) {
	case common.Address:
		return x.Hex()
	case *big.Int:
		return x.String()
	case []byte:
		return hexutil.Encode(x)
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		b := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(b), rv)
		return hexutil.Encode(b)
	}
	return fmt.Sprint(v)
}

type fragmentArg struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type fragment struct {
	Type            string        `json:"type"`
	Name            string        `json:"name"`
	Inputs          []fragmentArg `json:"inputs"`
	Outputs         []fragmentArg `json:"outputs"`
	StateMutability string        `json:"stateMutability"`
}

// FragmentFromSignature builds a one-function JSON ABI from a human
// readable signature such as
// "function balanceOf(address) view returns (uint256)". Tuple types are
// not supported.
func FragmentFromSignature(sig string) (json.RawMessage, error) {
	sig = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(sig), "function "))
	open := strings.Index(sig, "(")
	closeIdx := strings.Index(sig, ")")
	if open <= 0 || closeIdx < open {
		return nil, fmt.Errorf("invalid signature %q", sig)
	}
	f := fragment{
		Type:            "function",
		Name:            strings.TrimSpace(sig[:open]),
		Inputs:          parseParams(sig[open+1 : closeIdx]),
		Outputs:         []fragmentArg{},
		StateMutability: "view",
	}
	rest := sig[closeIdx+1:]
	if idx := strings.Index(rest, "returns"); idx != -1 {
		out := strings.TrimSpace(rest[idx+len("returns"):])
		out = strings.TrimSuffix(strings.TrimPrefix(out, "("), ")")
		f.Outputs = parseParams(out)
	}
	if strings.ContainsAny(f.Name, " ,") {
		return nil, fmt.Errorf("invalid function name %q", f.Name)
	}
	return json.Marshal([]fragment{f})
}

func parseParams(s string) []fragmentArg {
	args := []fragmentArg{}
	for _, p := range strings.Split(s, ",") {
		fields := strings.Fields(p)
		if len(fields) == 0 {
			continue
		}
		arg := fragmentArg{Type: fields[0]}
		if len(fields) > 1 {
			arg.Name = fields[len(fields)-1]
		}
		args = append(args, arg)
	}
	return args
}
