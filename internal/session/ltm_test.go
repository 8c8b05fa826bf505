package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLTM_AddDiscovery_Dedup(t *testing.T) {
	l, _ := OpenLTM(filepath.Join(t.TempDir(), "ltm.json"))

	l.AddDiscovery("build", "uses make", 0.6)
	l.AddDiscovery("build", "uses make with docker", 0.4) // lower confidence: insight kept
	l.AddDiscovery("build", "actually uses bazel", 0.9)   // higher: replaces

	if len(l.data.Discoveries) != 1 {
		t.Fatalf("discoveries = %d, want 1", len(l.data.Discoveries))
	}
	d := l.data.Discoveries[0]
	if d.Occurrences != 3 {
		t.Errorf("occurrences = %d, want 3", d.Occurrences)
	}
	if d.Confidence != 0.9 || d.Insight != "actually uses bazel" {
		t.Errorf("entry = %+v", d)
	}
}

func TestLTM_ProblemSolution_MergesExamples(t *testing.T) {
	l, _ := OpenLTM(filepath.Join(t.TempDir(), "ltm.json"))

	l.AddProblemSolution("flaky test", "add retry", "TestFoo", 0.5)
	l.AddProblemSolution("flaky test", "add retry", "TestBar", 0.5)
	l.AddProblemSolution("flaky test", "add retry", "TestFoo", 0.5) // duplicate example

	p := l.data.ProblemSolutions[0]
	if p.SolvedCount != 3 {
		t.Errorf("solved_count = %d, want 3", p.SolvedCount)
	}
	if len(p.Examples) != 2 {
		t.Errorf("examples = %v", p.Examples)
	}
}

func TestLTM_Workflow_SuccessRate(t *testing.T) {
	l, _ := OpenLTM(filepath.Join(t.TempDir(), "ltm.json"))

	l.AddWorkflow("deploy", []string{"build", "test", "push"}, true)
	l.AddWorkflow("deploy", nil, false)
	l.AddWorkflow("deploy", nil, true)
	l.AddWorkflow("deploy", nil, true)

	w := l.data.Workflows[0]
	if w.Attempts != 4 || w.Successes != 3 {
		t.Fatalf("workflow = %+v", w)
	}
	if w.SuccessRate != 0.75 {
		t.Errorf("success_rate = %v, want 0.75", w.SuccessRate)
	}
	if len(w.Steps) != 3 {
		t.Errorf("steps lost: %v", w.Steps)
	}
}

func TestLTM_ContextRules(t *testing.T) {
	l, _ := OpenLTM(filepath.Join(t.TempDir(), "ltm.json"))
	l.SetContextRule("internal/", "all packages here are private")
	l.SetContextRule("internal/api/", "do not break wire compatibility")

	rules := l.RulesFor("internal/api/handler.go")
	if len(rules) != 2 {
		t.Fatalf("rules = %v", rules)
	}
	if rules[0] != "do not break wire compatibility" {
		t.Errorf("longest prefix should come first: %v", rules)
	}
	if got := l.RulesFor("cmd/main.go"); len(got) != 0 {
		t.Errorf("unrelated path matched: %v", got)
	}
}

func TestLTM_Prune(t *testing.T) {
	l, _ := OpenLTM(filepath.Join(t.TempDir(), "ltm.json"))
	l.AddDiscovery("keep", "solid", 0.9)
	l.AddDiscovery("low-confidence", "meh", 0.1)
	l.AddDiscovery("old", "stale", 0.8)
	for i := range l.data.Discoveries {
		if l.data.Discoveries[i].Topic == "old" {
			l.data.Discoveries[i].UpdatedAt = time.Now().AddDate(0, 0, -120)
		}
	}

	l.Prune(PruneConfig{MaxAgeDays: 90, MinConfidence: 0.2, PerCategoryCap: 10})
	if len(l.data.Discoveries) != 1 || l.data.Discoveries[0].Topic != "keep" {
		t.Errorf("after prune: %+v", l.data.Discoveries)
	}
}

func TestLTM_Prune_CategoryCap(t *testing.T) {
	l, _ := OpenLTM(filepath.Join(t.TempDir(), "ltm.json"))
	confidences := []float64{0.5, 0.9, 0.7, 0.3, 0.8}
	for i, c := range confidences {
		l.AddDiscovery(string(rune('a'+i)), "x", c)
	}
	l.Prune(PruneConfig{PerCategoryCap: 2})
	if len(l.data.Discoveries) != 2 {
		t.Fatalf("kept = %d, want 2", len(l.data.Discoveries))
	}
	for _, d := range l.data.Discoveries {
		if d.Confidence < 0.8 {
			t.Errorf("low-confidence entry survived cap: %+v", d)
		}
	}
}

func TestLTM_SaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ltm.json")
	l, _ := OpenLTM(path)
	l.AddDiscovery("arch", "hexagonal", 0.7)
	l.SetContextRule("pkg/", "public API")
	if err := l.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := OpenLTM(path)
	if err != nil {
		t.Fatalf("OpenLTM: %v", err)
	}
	if len(reloaded.data.Discoveries) != 1 || reloaded.data.Discoveries[0].Topic != "arch" {
		t.Errorf("discoveries = %+v", reloaded.data.Discoveries)
	}
	if reloaded.data.ContextRules["pkg/"] != "public API" {
		t.Errorf("context rules = %v", reloaded.data.ContextRules)
	}
}

func TestLTM_ConcurrentSave_MergesBoth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ltm.json")

	// Two agents open the same (empty) file and write different entries.
	a, _ := OpenLTM(path)
	b, _ := OpenLTM(path)
	a.AddDiscovery("from-a", "alpha", 0.5)
	b.AddDiscovery("from-b", "beta", 0.5)

	if err := a.Save(); err != nil {
		t.Fatal(err)
	}
	if err := b.Save(); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var data ltmData
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("file is not valid JSON: %v", err)
	}
	topics := map[string]bool{}
	for _, d := range data.Discoveries {
		topics[d.Topic] = true
	}
	if !topics["from-a"] || !topics["from-b"] {
		t.Errorf("merge lost an entry: %v", topics)
	}
}

func TestLTM_CorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ltm.json")
	os.WriteFile(path, []byte("{broken"), 0o644)
	if _, err := OpenLTM(path); err == nil {
		t.Fatal("corrupt ltm should fail to open")
	}
}
