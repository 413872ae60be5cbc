package sink

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testHeaders = []string{"Asset ID", "Asset Name", "Tags"}

func TestCSV_WriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "assets.csv")
	s, err := NewCSV(path)
	require.NoError(t, err)
	defer s.Close()

	err = s.Write(context.Background(), testHeaders, [][]string{
		{"1", "web-01", "Cloud Agent | [EXTERNAL]"},
		{"2", "db, primary", "Cloud Agent"},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"Asset ID,Asset Name,Tags\n"+
			"1,web-01,Cloud Agent | [EXTERNAL]\n"+
			"2,\"db, primary\",Cloud Agent\n",
		string(data))
}

func TestCSV_HeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	s := NewCSVWriter(&buf)

	require.NoError(t, s.Write(context.Background(), testHeaders, nil))
	assert.Equal(t, "Asset ID,Asset Name,Tags\n", buf.String())
}

func TestCSV_Truncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.csv")
	s, err := NewCSV(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Write(ctx, testHeaders, [][]string{{"1", "a", "b"}, {"2", "c", "d"}}))
	require.NoError(t, s.Write(ctx, testHeaders, [][]string{{"3", "e", "f"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Asset ID,Asset Name,Tags\n3,e,f\n", string(data))
}

func TestCSV_Validation(t *testing.T) {
	_, err := NewCSV(" ")
	assert.Error(t, err)

	s, err := NewCSV("-")
	require.NoError(t, err)
	assert.Empty(t, s.Path())
}

func TestCSV_CancelledContext(t *testing.T) {
	var buf bytes.Buffer
	s := NewCSVWriter(&buf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Write(ctx, testHeaders, nil), context.Canceled)
	assert.Zero(t, buf.Len())
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     Config
		want    any
		wantErr bool
	}{
		{"csv", Config{Format: FormatCSV, Path: filepath.Join(dir, "a.csv")}, &CSV{}, false},
		{"default csv", Config{Path: filepath.Join(dir, "b.csv")}, &CSV{}, false},
		{"sqlite", Config{Format: "SQLite", Path: filepath.Join(dir, "a.db")}, &SQLite{}, false},
		{"unknown", Config{Format: "xlsx", Path: "x"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer s.Close()
			assert.IsType(t, tt.want, s)
		})
	}
}
