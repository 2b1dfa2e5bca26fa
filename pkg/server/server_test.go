package server

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/richard-senior/podds/pkg/podds"
	"github.com/richard-senior/podds/pkg/protocol"
	"github.com/richard-senior/podds/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(t *testing.T) *podds.Engine {
	t.Helper()
	c := podds.DefaultPoddsConfig()
	c.SetAssetsPath(t.TempDir())
	c.DbPath = ":memory:"
	c.MonteCarloSeed = 42
	c.MonteCarloTrials = 2000
	e, err := podds.NewEngine(c)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

// exchange feeds the requests to a server and returns its responses in order
func exchange(t *testing.T, requests ...string) []*protocol.JsonRpcResponse {
	t.Helper()
	var out bytes.Buffer
	s := NewServer(transport.NewStreamTransport(strings.NewReader(strings.Join(requests, "\n")), &out), testEngine(t))
	require.NoError(t, s.ProcessRequests(), "End of input is a clean stop")

	var responses []*protocol.JsonRpcResponse
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		resp, err := protocol.ParseJsonRpcResponse([]byte(line))
		require.NoError(t, err, line)
		responses = append(responses, resp)
	}
	return responses
}

func toolText(t *testing.T, resp *protocol.JsonRpcResponse) protocol.ToolCallResult {
	t.Helper()
	require.Nil(t, resp.Error)
	var result protocol.ToolCallResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Content, 1)
	assert.Equal(t, "text", result.Content[0].Type)
	return result
}

func TestLifecycle(t *testing.T) {
	responses := exchange(t,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26"}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"initialized"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":4,"method":"ping"}`,
	)
	require.Len(t, responses, 3, "Notifications and initialized get no reply")

	var init struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
	}
	require.NoError(t, json.Unmarshal(responses[0].Result, &init))
	assert.Equal(t, "2025-03-26", init.ProtocolVersion)
	assert.Equal(t, ServerName, init.ServerInfo.Name)

	var list protocol.ToolsResponse
	require.NoError(t, json.Unmarshal(responses[1].Result, &list))
	assert.Len(t, list.Tools, 6)
	assert.Equal(t, float64(3), responses[1].ID)

	assert.JSONEq(t, `{}`, string(responses[2].Result))
}

func TestToolCalls(t *testing.T) {
	responses := exchange(t,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"predict_match","arguments":{"fixture_id":"f1","features":{"home_team":"ars","away_team":"che"}}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"record_result","arguments":{"fixture_id":"f1","home_goals":1,"away_goals":1}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"performance_summary"}}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"validate_calibration","arguments":{"apply":false}}}`,
	)
	require.Len(t, responses, 4)

	var p podds.Prediction
	require.NoError(t, json.Unmarshal([]byte(toolText(t, responses[0]).Content[0].Text), &p))
	assert.Equal(t, "f1", p.FixtureID)
	assert.InDelta(t, 1.0, p.Probabilities.Sum(), 1e-6)

	var rec podds.ResultOutcome
	require.NoError(t, json.Unmarshal([]byte(toolText(t, responses[1]).Content[0].Text), &rec))
	assert.True(t, rec.Evaluated)
	assert.Equal(t, podds.ResultDraw, rec.Record.ActualResult)

	var summary podds.PerformanceSummary
	require.NoError(t, json.Unmarshal([]byte(toolText(t, responses[2]).Content[0].Text), &summary))
	assert.Equal(t, 1, summary.Overall.Total)

	cal := toolText(t, responses[3])
	assert.False(t, cal.IsError, "One evaluated prediction is enough to fit against")
}

func TestToolFailuresAreResults(t *testing.T) {
	responses := exchange(t,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"validate_calibration"}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"record_result","arguments":{"fixture_id":"nope","home_goals":1,"away_goals":0}}}`,
	)
	require.Len(t, responses, 2)
	for _, resp := range responses {
		result := toolText(t, resp)
		assert.True(t, result.IsError)
		assert.NotEmpty(t, result.Content[0].Text)
	}
}

func TestProtocolErrors(t *testing.T) {
	responses := exchange(t,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"no_such_tool"}}`,
		`{"jsonrpc":"2.0","id":2,"method":"resources/list"}`,
		`{"jsonrpc":"1.0","id":3,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":"predict_match"}`,
		`{"jsonrpc":"2.0","id":5,"method":"ping"}`,
	)
	require.Len(t, responses, 5)

	codes := []int{protocol.ErrMethodNotFound, protocol.ErrMethodNotFound, protocol.ErrParse, protocol.ErrInvalidParams}
	for i, code := range codes {
		require.NotNil(t, responses[i].Error, i)
		assert.Equal(t, code, responses[i].Error.Code, i)
	}
	assert.Nil(t, responses[2].ID, "A request that cannot be parsed has no id")
	assert.Nil(t, responses[4].Error, "The server keeps going after errors")
}

func TestRegisterTool(t *testing.T) {
	s := NewServer(transport.NewStreamTransport(strings.NewReader(""), &bytes.Buffer{}), nil)
	assert.Empty(t, s.GetTools())
	s.RegisterTool(protocol.Tool{Name: "echo"}, func(params any) (any, error) { return params, nil })
	tools := s.GetTools()
	require.Len(t, tools, 1)
	tools[0].Name = "changed"
	assert.Equal(t, "echo", s.GetTools()[0].Name, "GetTools returns a copy")
	assert.NotNil(t, s.toolHandler("echo"))
	assert.Nil(t, s.handler("echo"), "Tools are not protocol methods")
	assert.Nil(t, s.toolHandler(string(protocol.MethodPing)), "Protocol methods are not tools")
}

func TestToolsOnlyThroughToolsCall(t *testing.T) {
	responses := exchange(t,
		`{"jsonrpc":"2.0","id":1,"method":"record_result","params":{"fixture_id":"f1","home_goals":1,"away_goals":0,"home_team":"a","away_team":"b"}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"ping"}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"elo_ratings"}}`,
	)
	require.Len(t, responses, 3)
	for _, resp := range responses[:2] {
		require.NotNil(t, resp.Error)
		assert.Equal(t, protocol.ErrMethodNotFound, resp.Error.Code)
	}

	var table struct {
		Matches int `json:"matches"`
	}
	require.NoError(t, json.Unmarshal([]byte(toolText(t, responses[2]).Content[0].Text), &table))
	assert.Zero(t, table.Matches, "The direct record_result call changed nothing")
}
