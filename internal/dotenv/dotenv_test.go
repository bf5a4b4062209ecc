package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	if err := Load(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("Load on missing file = %v, want nil", err)
	}
}

func TestLoadSetsAndPreserves(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\n" +
		"VOICELINK_TEST_A=from-file\n" +
		"export VOICELINK_TEST_B='quoted value'\n" +
		"VOICELINK_TEST_C=\"double quoted\"\n" +
		"not an assignment\n" +
		"=no-key\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing env file: %v", err)
	}

	t.Setenv("VOICELINK_TEST_A", "from-env")
	t.Setenv("VOICELINK_TEST_B", "")
	os.Unsetenv("VOICELINK_TEST_B")
	t.Setenv("VOICELINK_TEST_C", "")
	os.Unsetenv("VOICELINK_TEST_C")

	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := os.Getenv("VOICELINK_TEST_A"); got != "from-env" {
		t.Fatalf("existing variable overwritten: %q", got)
	}
	if got := os.Getenv("VOICELINK_TEST_B"); got != "quoted value" {
		t.Fatalf("VOICELINK_TEST_B = %q", got)
	}
	if got := os.Getenv("VOICELINK_TEST_C"); got != "double quoted" {
		t.Fatalf("VOICELINK_TEST_C = %q", got)
	}
}

func TestParseLine(t *testing.T) {
	cases := []struct {
		raw     string
		key     string
		val     string
		ok      bool
	}{
		{"A=1", "A", "1", true},
		{"  A = 1 ", "A", "1", true},
		{"export A=1", "A", "1", true},
		{`A="hola mundo"`, "A", "hola mundo", true},
		{"# A=1", "", "", false},
		{"", "", "", false},
		{"no assignment", "", "", false},
		{"=orphan", "", "", false},
	}
	for _, tc := range cases {
		key, val, ok := parseLine(tc.raw)
		if key != tc.key || val != tc.val || ok != tc.ok {
			t.Errorf("parseLine(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.raw, key, val, ok, tc.key, tc.val, tc.ok)
		}
	}
}
