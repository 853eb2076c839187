package provision

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	return path
}

func TestParseEnvFile(t *testing.T) {
	path := writeEnvFile(t, `
# database settings
DB_HOST=localhost
DB_PORT=5432

export API_KEY="secret value"
NAME='single quoted'
EMPTY=
SPACED = trimmed
`)
	vars, err := ParseEnvFile(path)
	if err != nil {
		t.Fatalf("ParseEnvFile() error: %v", err)
	}

	want := map[string]string{
		"DB_HOST": "localhost",
		"DB_PORT": "5432",
		"API_KEY": "secret value",
		"NAME":    "single quoted",
		"EMPTY":   "",
		"SPACED":  "trimmed",
	}
	if !reflect.DeepEqual(vars, want) {
		t.Fatalf("ParseEnvFile() = %v, want %v", vars, want)
	}
}

func TestParseEnvFile_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no equals", "JUSTAKEY\n"},
		{"empty key", "=value\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeEnvFile(t, tt.content)
			if _, err := ParseEnvFile(path); err == nil {
				t.Fatal("ParseEnvFile() should reject the line")
			}
		})
	}
}

func TestParseEnvFile_MissingIsEmpty(t *testing.T) {
	vars, err := ParseEnvFile(filepath.Join(t.TempDir(), "nope.env"))
	if err != nil {
		t.Fatalf("ParseEnvFile() error: %v", err)
	}
	if len(vars) != 0 {
		t.Fatalf("vars = %v, want empty", vars)
	}
}

func TestMergeEnv_ProjectWins(t *testing.T) {
	system := map[string]string{"A": "sys", "B": "sys"}
	project := map[string]string{"B": "proj", "C": "proj"}

	got := MergeEnv(system, project)
	want := map[string]string{"A": "sys", "B": "proj", "C": "proj"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("MergeEnv() = %v, want %v", got, want)
	}
	// Inputs stay untouched.
	if system["B"] != "sys" {
		t.Fatal("MergeEnv() mutated its input")
	}
}

func TestEnvSlice_Deterministic(t *testing.T) {
	vars := map[string]string{"Z": "1", "A": "2", "M": "3"}
	got := EnvSlice(vars)
	want := []string{"A=2", "M=3", "Z=1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("EnvSlice() = %v, want %v", got, want)
	}
}
