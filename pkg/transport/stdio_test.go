package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/richard-senior/podds/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRequestFraming(t *testing.T) {
	in := `{"jsonrpc":"2.0","id":1,"method":"ping"}{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"x","arguments":{"s":"a } { \" b"}}}

	  {"jsonrpc":"2.0","method":"notifications/initialized"}`
	tr := NewStreamTransport(strings.NewReader(in), io.Discard)

	req, err := tr.ReadRequest()
	require.NoError(t, err)
	assert.Equal(t, "ping", req.Method)
	assert.Equal(t, float64(1), req.ID)

	req, err = tr.ReadRequest()
	require.NoError(t, err, "Braces inside strings do not end the object")
	assert.Equal(t, "tools/call", req.Method)
	var params struct {
		Arguments map[string]string `json:"arguments"`
	}
	require.NoError(t, json.Unmarshal(req.Params, &params))
	assert.Equal(t, `a } { " b`, params.Arguments["s"])

	req, err = tr.ReadRequest()
	require.NoError(t, err)
	assert.Nil(t, req.ID)

	_, err = tr.ReadRequest()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestReadRequestParseError(t *testing.T) {
	in := `{"jsonrpc":"1.0","id":1,"method":"ping"}
{"jsonrpc":"2.0","id":2,"method":"ping"}`
	tr := NewStreamTransport(strings.NewReader(in), io.Discard)

	_, err := tr.ReadRequest()
	var rpcErr *protocol.JsonRpcError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, protocol.ErrParse, rpcErr.Code)

	req, err := tr.ReadRequest()
	require.NoError(t, err, "The stream recovers after a bad object")
	assert.Equal(t, float64(2), req.ID)
}

func TestWriteResponse(t *testing.T) {
	var out bytes.Buffer
	tr := NewStreamTransport(strings.NewReader(""), &out)

	resp, err := protocol.NewJsonRpcResponse(map[string]int{"n": 1}, 7)
	require.NoError(t, err)
	require.NoError(t, tr.WriteResponse(resp))
	require.NoError(t, tr.WriteResponse(protocol.NewJsonRpcErrorResponse(protocol.ErrMethodNotFound, "nope", nil, 8)))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2, "One response per line")
	first, err := protocol.ParseJsonRpcResponse([]byte(lines[0]))
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(first.Result))
	second, err := protocol.ParseJsonRpcResponse([]byte(lines[1]))
	require.NoError(t, err)
	require.NotNil(t, second.Error)
	assert.Equal(t, "nope", second.Error.Message)
}
