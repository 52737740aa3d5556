package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileMissingFileIsNoop(t *testing.T) {
	t.Parallel()
	if err := LoadFile(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadFile missing file: %v", err)
	}
}

func TestLoadFileFillsGapsOnly(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := `# local overrides
FRIDAY_TEST_FROM_FILE=loaded
FRIDAY_TEST_QUOTED="hello world"
export FRIDAY_TEST_EXPORTED=ok
FRIDAY_TEST_EXISTING=from_file
`
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("FRIDAY_TEST_EXISTING", "already_set")
	for _, k := range []string{"FRIDAY_TEST_FROM_FILE", "FRIDAY_TEST_QUOTED", "FRIDAY_TEST_EXPORTED"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	if err := LoadFile(envPath); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	for key, want := range map[string]string{
		"FRIDAY_TEST_FROM_FILE": "loaded",
		"FRIDAY_TEST_QUOTED":    "hello world",
		"FRIDAY_TEST_EXPORTED":  "ok",
		"FRIDAY_TEST_EXISTING":  "already_set",
	} {
		if got := os.Getenv(key); got != want {
			t.Fatalf("%s=%q, want %q", key, got, want)
		}
	}
}

func TestParseLine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in    string
		key   string
		value string
		ok    bool
	}{
		{"KEY=value", "KEY", "value", true},
		{"  KEY = spaced  ", "KEY", "spaced", true},
		{"export KEY=v", "KEY", "v", true},
		{`KEY="quoted value"`, "KEY", "quoted value", true},
		{"KEY='single'", "KEY", "single", true},
		{"KEY=", "KEY", "", true},
		{"# comment", "", "", false},
		{"", "", "", false},
		{"=nokey", "", "", false},
		{"no equals here", "", "", false},
	}
	for _, tc := range cases {
		key, value, ok := parseLine(tc.in)
		if key != tc.key || value != tc.value || ok != tc.ok {
			t.Fatalf("parseLine(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.in, key, value, ok, tc.key, tc.value, tc.ok)
		}
	}
}
