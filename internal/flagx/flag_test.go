package flagx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		allowedFlags []string
		want         []string
	}{
		{
			name:         "short flag with separate value",
			args:         []string{"-c", "conf.json", "-a", "localhost"},
			allowedFlags: []string{"-c", "-config"},
			want:         []string{"-c", "conf.json"},
		},
		{
			name:         "double dash with equals",
			args:         []string{"--config=alt.yaml", "-a", "localhost"},
			allowedFlags: []string{"-c", "-config"},
			want:         []string{"--config=alt.yaml"},
		},
		{
			name:         "double dash separate value",
			args:         []string{"--db", "/tmp/m.db", "-x"},
			allowedFlags: []string{"-db"},
			want:         []string{"--db", "/tmp/m.db"},
		},
		{
			name:         "unknown flags and positionals ignored",
			args:         []string{"serve", "-x", "1", "-y"},
			allowedFlags: []string{"-c"},
			want:         []string{},
		},
		{
			name:         "flag followed by another flag has no value",
			args:         []string{"-c", "-sync-interval=10s"},
			allowedFlags: []string{"-c", "-sync-interval"},
			want:         []string{"-c", "-sync-interval=10s"},
		},
		{
			name:         "repeated flag keeps order",
			args:         []string{"-c", "one.json", "-c", "two.json"},
			allowedFlags: []string{"-c"},
			want:         []string{"-c", "one.json", "-c", "two.json"},
		},
		{
			name:         "empty args",
			args:         nil,
			allowedFlags: []string{"-c"},
			want:         []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, tt.allowedFlags))
		})
	}
}

func TestConfigFileFlag(t *testing.T) {
	assert.Equal(t, "/etc/mm.json", ConfigFileFlag([]string{"-c", "/etc/mm.json"}))
	assert.Equal(t, "/etc/mm.yaml", ConfigFileFlag([]string{"-backend", "grpc", "-config", "/etc/mm.yaml"}))
	assert.Equal(t, "b.json", ConfigFileFlag([]string{"-c", "a.json", "-config=b.json"}))
	assert.Empty(t, ConfigFileFlag([]string{"-x", "1"}))
}
