package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeDispatchesRegisteredMethod(t *testing.T) {
	d := New()
	d.Register("echo", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &BadParamsError{Err: err}
		}
		return map[string]string{"text": p.Text}, nil
	})

	in := bytes.NewBufferString(`{"id":"1","method":"echo","params":{"text":"hi"}}` + "\n")
	var out bytes.Buffer
	require.NoError(t, d.Serve(context.Background(), in, &out))

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Nil(t, resp.Error)
	assert.Equal(t, `"1"`, string(resp.ID))
}

func TestServeReportsUnknownMethod(t *testing.T) {
	d := New()
	in := bytes.NewBufferString(`{"id":"1","method":"nope"}` + "\n")
	var out bytes.Buffer
	require.NoError(t, d.Serve(context.Background(), in, &out))

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestServeReportsBadParamsAsInvalidParamsCode(t *testing.T) {
	d := New()
	d.Register("needsNumber", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			N int `json:"n"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &BadParamsError{Err: err}
		}
		return p.N, nil
	})

	in := bytes.NewBufferString(`{"id":"1","method":"needsNumber","params":"not-an-object"}` + "\n")
	var out bytes.Buffer
	require.NoError(t, d.Serve(context.Background(), in, &out))

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestServeHandlesMultipleLinesInOrder(t *testing.T) {
	d := New()
	d.Register("inc", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct {
			N int `json:"n"`
		}
		_ = json.Unmarshal(params, &p)
		return p.N + 1, nil
	})

	in := bytes.NewBufferString(
		`{"id":"1","method":"inc","params":{"n":1}}` + "\n" +
			`{"id":"2","method":"inc","params":{"n":41}}` + "\n")
	var out bytes.Buffer
	require.NoError(t, d.Serve(context.Background(), in, &out))

	dec := json.NewDecoder(&out)
	var first, second Response
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	assert.Equal(t, float64(2), first.Result)
	assert.Equal(t, float64(42), second.Result)
}
