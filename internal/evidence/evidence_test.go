package evidence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/LumiWave/schnabel-open-audit-sdk/internal/confusables"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/ingress"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/normalize"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/policy"
	"github.com/LumiWave/schnabel-open-audit-sdk/internal/signal"
)

func testInput(t *testing.T) *normalize.Input {
	t.Helper()
	tbl, err := confusables.Default()
	if err != nil {
		t.Fatalf("confusables.Default: %v", err)
	}
	return normalize.New(tbl).Normalize(&ingress.AuditRequest{
		RequestID:    "req-ev",
		Timestamp:    1700000000000,
		UserPrompt:   "hello there",
		ResponseText: "hi",
		HasResponse:  true,
	})
}

func testFindings() []signal.Finding {
	return []signal.Finding{
		{
			ID:       "abc123",
			Kind:     signal.KindDetect,
			Scanner:  "rule_pack",
			Score:    0.9,
			Risk:     signal.RiskHigh,
			Summary:  "s",
			Target:   signal.Target{Field: "prompt", View: "revealed"},
			Evidence: map[string]string{"ruleId": "r1"},
		},
	}
}

func buildTestPackage(t *testing.T) *Package {
	t.Helper()
	in := testInput(t)
	decision := policy.Evaluate(testFindings(), policy.Config{})
	return Build(in,
		[]ScannerInfo{{Name: "rule_pack", Kind: "detect"}},
		testFindings(), decision, []string{"2026.08.0"}, 1700000000123)
}

func TestBuild_Shape(t *testing.T) {
	pkg := buildTestPackage(t)
	if pkg.Schema != "schnabel-evidence-v0" {
		t.Errorf("schema = %q", pkg.Schema)
	}
	if pkg.Integrity.Algo != "sha256" {
		t.Errorf("algo = %q", pkg.Integrity.Algo)
	}
	if len(pkg.Integrity.Items) != 7 {
		t.Errorf("integrity items = %d, want 7", len(pkg.Integrity.Items))
	}
	if !regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(pkg.Integrity.RootHash) {
		t.Errorf("rootHash = %q, want lowercase hex sha256", pkg.Integrity.RootHash)
	}
	if _, ok := pkg.RawDigest["prompt"]; !ok {
		t.Error("rawDigest missing prompt")
	}
	if _, ok := pkg.RawDigest["response"]; !ok {
		t.Error("rawDigest missing response")
	}
}

func TestBuild_RootHashDeterministic(t *testing.T) {
	a := buildTestPackage(t)
	b := buildTestPackage(t)
	if a.Integrity.RootHash != b.Integrity.RootHash {
		t.Errorf("rootHash not deterministic: %s vs %s", a.Integrity.RootHash, b.Integrity.RootHash)
	}
}

func TestBuild_RootHashIndependentOfWallClock(t *testing.T) {
	in := testInput(t)
	decision := policy.Evaluate(testFindings(), policy.Config{})
	a := Build(in, nil, testFindings(), decision, nil, 1)
	b := Build(in, nil, testFindings(), decision, nil, 999999)
	if a.Integrity.RootHash != b.Integrity.RootHash {
		t.Error("rootHash depends on generatedAtMs")
	}
}

func TestBuild_RootHashSensitiveToContent(t *testing.T) {
	in := testInput(t)
	decision := policy.Evaluate(testFindings(), policy.Config{})
	a := Build(in, nil, testFindings(), decision, nil, 1)

	altered := testFindings()
	altered[0].Score = 0.1
	b := Build(in, nil, altered, decision, nil, 1)
	if a.Integrity.RootHash == b.Integrity.RootHash {
		t.Error("rootHash ignores finding changes")
	}
}

func TestBuild_CanonicalOutputParses(t *testing.T) {
	pkg := buildTestPackage(t)
	var parsed map[string]any
	if err := json.Unmarshal(pkg.Canonical(), &parsed); err != nil {
		t.Fatalf("canonical package does not parse: %v", err)
	}
	integrity, ok := parsed["integrity"].(map[string]any)
	if !ok {
		t.Fatal("integrity section missing")
	}
	if integrity["rootHash"] != pkg.Integrity.RootHash {
		t.Error("serialized rootHash differs")
	}
}

func TestDigest_PreviewClipped(t *testing.T) {
	long := strings.Repeat("x", 500)
	d := digest(long)
	if len([]rune(d.Preview)) != 80 {
		t.Errorf("preview length = %d, want 80", len([]rune(d.Preview)))
	}
	if d.Length != 500 {
		t.Errorf("length = %d, want 500", d.Length)
	}
}

func TestStore_SaveAndName(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	pkg := buildTestPackage(t)
	path, err := store.Save(pkg)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Base(path) != "req-ev.1700000000123.json" {
		t.Errorf("file name = %q", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading evidence: %v", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("saved evidence does not parse: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("permissions = %04o, want 0600", perm)
	}
}

func TestStore_SafeName(t *testing.T) {
	if got := safeName("a/b\\c:d"); got != "a_b_c_d" {
		t.Errorf("safeName = %q", got)
	}
}
