package types

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDurationJSON(t *testing.T) {
	var holder struct {
		Wait Duration `json:"wait"`
		Secs Duration `json:"secs"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"wait":"1m30s","secs":5}`), &holder))
	assert.Equal(t, 90*time.Second, holder.Wait.Std())
	assert.Equal(t, 5*time.Second, holder.Secs.Std())

	out, err := json.Marshal(holder)
	require.NoError(t, err)
	assert.JSONEq(t, `{"wait":"1m30s","secs":"5s"}`, string(out))
}

func TestDurationYAML(t *testing.T) {
	var holder struct {
		Wait Duration `yaml:"wait"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("wait: 2h\n"), &holder))
	assert.Equal(t, 2*time.Hour, holder.Wait.Std())
}

func TestDurationInvalid(t *testing.T) {
	var d Duration
	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
}

func TestManualClock(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)
	clock.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute), clock.Now())
	clock.Set(start)
	assert.Equal(t, start, clock.Now())
}
