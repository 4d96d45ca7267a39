package glkote

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUpdate(t *testing.T) {
	body := `{
		"sessionId": "1693766295",
		"label": "Colossal Cave",
		"timestamp": 1693766295123,
		"output": {
			"type": "update",
			"generation": 4,
			"windows": [
				{"id": 1, "type": "grid", "gridHeight": 2, "gridwidth": 80, "rock": 10},
				{"id": 2, "type": "buffer", "rock": 11}
			],
			"content": [
				{"id": 1, "lines": [{"line": 0, "content": ["normal", "Score: 0"]}]},
				{"id": 2, "text": [{"content": ["normal", "Welcome."]}]}
			],
			"input": [{"id": 2, "gen": 4, "type": "line"}]
		}
	}`

	u, err := ParseUpdate([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "1693766295", u.SessionID)
	assert.Equal(t, "Colossal Cave", u.Label)
	assert.Equal(t, float64(1693766295123), u.Timestamp)
	assert.Equal(t, 4, u.Output.Gen)
	require.True(t, u.Output.HasWindows())
	require.Len(t, u.Output.Windows, 2)
	assert.Equal(t, 1, u.Output.Windows[0].ID)
	assert.Equal(t, WindowGrid, u.Output.Windows[0].Type)
	assert.Equal(t, 2, u.Output.Windows[0].GridHeight)
	assert.Equal(t, WindowBuffer, u.Output.Windows[1].Type)
	require.Len(t, u.Output.Content, 2)
	require.Len(t, u.Output.Content[0].Lines, 1)
	assert.Equal(t, 0, u.Output.Content[0].Lines[0].Num)
	require.Len(t, u.Output.Content[1].Text, 1)
}

func TestParseUpdateMalformed(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not JSON", `{{`},
		{"missing sessionId", `{"label":"x","output":{"generation":1}}`},
		{"missing label", `{"sessionId":"1","output":{"generation":1}}`},
		{"missing output", `{"sessionId":"1","label":"x"}`},
		{"window without id", `{"sessionId":"1","label":"x","output":{"generation":1,"windows":[{"type":"grid"}]}}`},
		{"window with bad type", `{"sessionId":"1","label":"x","output":{"generation":1,"windows":[{"id":1,"type":"graphics"}]}}`},
		{"content entry without id", `{"sessionId":"1","label":"x","output":{"generation":1,"content":[{"text":[]}]}}`},
		{"line without number", `{"sessionId":"1","label":"x","output":{"generation":1,"content":[{"id":1,"lines":[{"content":[]}]}]}}`},
		{"negative line number", `{"sessionId":"1","label":"x","output":{"generation":1,"content":[{"id":1,"lines":[{"line":-1}]}]}}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ParseUpdate([]byte(c.body))
			require.ErrorIs(t, err, ErrMalformedUpdate)
		})
	}
}

func TestOutputViewStripsInput(t *testing.T) {
	body := `{
		"sessionId": "1",
		"label": "x",
		"output": {
			"type": "update",
			"generation": 7,
			"content": [{"id": 2, "text": ["hello"]}],
			"input": [{"id": 2, "gen": 7}],
			"timer": 500
		}
	}`
	u, err := ParseUpdate([]byte(body))
	require.NoError(t, err)

	view := u.Output.View()
	assert.NotContains(t, view, "input")
	// Uninterpreted output fields pass through to viewers untouched.
	assert.Contains(t, view, "timer")
	assert.Contains(t, view, "type")
	assert.JSONEq(t, `7`, string(view["generation"]))

	// The parsed update still carries its input.
	var again map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(mustMarshal(u.Output), &again))
	assert.Contains(t, again, "input")
}

func TestWindowRoundTrip(t *testing.T) {
	raw := `{"id":3,"type":"grid","gridHeight":4,"gridwidth":80,"left":0,"top":0}`
	var w Window
	require.NoError(t, json.Unmarshal([]byte(raw), &w))

	// Layout fields this package does not interpret survive re-encoding.
	out, err := json.Marshal(w)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestBlankLine(t *testing.T) {
	b, err := json.Marshal(BlankLine(5))
	require.NoError(t, err)
	assert.JSONEq(t, `{"line":5}`, string(b))
}
