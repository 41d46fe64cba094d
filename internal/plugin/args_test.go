package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	spawn := []Param{{Name: "item", Type: ParamStr}, {Name: "amount", Type: ParamInt, Default: 1}}
	toggle := []Param{{Name: "on", Type: ParamBool}}
	search := []Param{{Name: "query", Type: ParamStr}}

	cases := []struct {
		name    string
		params  []Param
		args    []string
		want    map[string]any
		wantErr string
	}{
		{"default fills", spawn, []string{"Copper"}, map[string]any{"item": "Copper", "amount": 1}, ""},
		{"positional", spawn, []string{"Copper", "5"}, map[string]any{"item": "Copper", "amount": 5}, ""},
		{"named", spawn, []string{"amount=3", "Iron"}, map[string]any{"item": "Iron", "amount": 3}, ""},
		{"bad int", spawn, []string{"Copper", "lots"}, nil, "invalid value for amount: lots"},
		{"too many", spawn, []string{"a", "1", "extra"}, nil, "too many arguments: extra"},
		{"missing", spawn, nil, nil, "missing required argument: item"},
		{"bool yes", toggle, []string{"yes"}, map[string]any{"on": true}, ""},
		{"bool off", toggle, []string{"OFF"}, map[string]any{"on": false}, ""},
		{"bool bad", toggle, []string{"maybe"}, nil, "invalid value for on: maybe"},
		{"single str joins", search, []string{"copper", "bar"}, map[string]any{"query": "copper bar"}, ""},
		{"single str quotes", search, []string{`"gold`, `ore"`}, map[string]any{"query": "gold ore"}, ""},
		{"single str missing", search, nil, nil, "missing required argument: query"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseArgs(tc.params, tc.args)
			if tc.wantErr != "" {
				require.EqualError(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"spawn_item.spawn", "Copper Bar", "5"}, Tokenize(`spawn_item.spawn "Copper Bar" 5`))
	assert.Equal(t, []string{"a", "it's"}, Tokenize(`a it\'s`))
	assert.Equal(t, []string{"x", ""}, Tokenize(`x ''`))
	assert.Empty(t, Tokenize("   "))
	assert.Equal(t, []string{"open ended"}, Tokenize(`"open ended`))
}
