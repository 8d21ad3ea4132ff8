package calculator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Request is the body of POST /calculate as sent by the canvas frontend.
type Request struct {
	Image      string         `json:"image" validate:"required"`
	DictOfVars map[string]any `json:"dict_of_vars" validate:"max=256"`
}

// Answer is one expression read from the drawing. Assign marks variable
// assignments such as "x = 4", which the frontend feeds back via dict_of_vars.
type Answer struct {
	Expr   string `json:"expr" msgpack:"expr"`
	Result string `json:"result" msgpack:"result"`
	Assign bool   `json:"assign" msgpack:"assign"`
}

// UnmarshalJSON accepts results encoded as strings, numbers or booleans.
func (a *Answer) UnmarshalJSON(data []byte) error {
	var raw struct {
		Expr   string          `json:"expr"`
		Result json.RawMessage `json:"result"`
		Assign bool            `json:"assign"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result, err := stringifyResult(raw.Result)
	if err != nil {
		return err
	}
	*a = Answer{Expr: raw.Expr, Result: result, Assign: raw.Assign}
	return nil
}

func stringifyResult(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err == nil {
		return n.String(), nil
	}

	var b bool
	if err := json.Unmarshal(trimmed, &b); err == nil {
		return strconv.FormatBool(b), nil
	}

	return "", fmt.Errorf("unsupported result value %s", trimmed)
}

// Response is the body of a successful POST /calculate.
type Response struct {
	Message string   `json:"message"`
	Data    []Answer `json:"data"`
	Status  string   `json:"status"`
}

// Analyzer reads the expressions drawn on a canvas image. Implementations
// live outside this package; vars holds previously assigned variables.
type Analyzer interface {
	Analyze(ctx context.Context, img Image, vars map[string]any) ([]Answer, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, img Image, vars map[string]any) ([]Answer, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, img Image, vars map[string]any) ([]Answer, error) {
	return f(ctx, img, vars)
}
