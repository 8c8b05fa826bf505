package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Discovery is a durable insight about the project.
type Discovery struct {
	Topic       string    `json:"topic"`
	Insight     string    `json:"insight"`
	Confidence  float64   `json:"confidence"`
	Occurrences int       `json:"occurrences"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProblemSolution records a problem the agent solved and how.
type ProblemSolution struct {
	Problem     string    `json:"problem"`
	Solution    string    `json:"solution"`
	Examples    []string  `json:"examples,omitempty"`
	SolvedCount int       `json:"solved_count"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CodePattern is a recurring code idiom observed in the project.
type CodePattern struct {
	Name        string    `json:"name"`
	Pattern     string    `json:"pattern"`
	Description string    `json:"description,omitempty"`
	Confidence  float64   `json:"confidence"`
	Occurrences int       `json:"occurrences"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Workflow tracks a multi-step procedure and its running success rate.
type Workflow struct {
	Name        string    `json:"name"`
	Steps       []string  `json:"steps"`
	Attempts    int       `json:"attempts"`
	Successes   int       `json:"successes"`
	SuccessRate float64   `json:"success_rate"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Failure records an approach that did not work, so it is not retried.
type Failure struct {
	Action      string    `json:"action"`
	Reason      string    `json:"reason"`
	Occurrences int       `json:"occurrences"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ltmData is the on-disk shape of ltm.json.
type ltmData struct {
	Discoveries      []Discovery       `json:"discoveries"`
	ProblemSolutions []ProblemSolution `json:"problem_solutions"`
	CodePatterns     []CodePattern     `json:"code_patterns"`
	Workflows        []Workflow        `json:"workflows"`
	Failures         []Failure         `json:"failures"`
	ContextRules     map[string]string `json:"context_rules"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// PruneConfig bounds LTM growth.
type PruneConfig struct {
	MaxAgeDays     int
	MinConfidence  float64
	PerCategoryCap int
}

// LTM is the per-project long-term memory, shared by all sessions in the
// project. Writes merge the latest on-disk state before the atomic rename
// so concurrent agents do not clobber each other.
type LTM struct {
	mu   sync.Mutex
	path string
	data ltmData
}

// OpenLTM loads (or initializes) the project memory at path.
func OpenLTM(path string) (*LTM, error) {
	l := &LTM{path: path, data: emptyLTMData()}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ltm: %w", err)
	}
	if err := json.Unmarshal(raw, &l.data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if l.data.ContextRules == nil {
		l.data.ContextRules = map[string]string{}
	}
	return l, nil
}

func emptyLTMData() ltmData {
	return ltmData{ContextRules: map[string]string{}}
}

// AddDiscovery records an insight; a re-discovered topic bumps its
// occurrence counter and keeps the higher confidence.
func (l *LTM) AddDiscovery(topic, insight string, confidence float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now().UTC()
	confidence = clamp01(confidence)
	for i := range l.data.Discoveries {
		if l.data.Discoveries[i].Topic == topic {
			d := &l.data.Discoveries[i]
			d.Occurrences++
			d.UpdatedAt = now
			if confidence > d.Confidence {
				d.Confidence = confidence
				d.Insight = insight
			}
			return
		}
	}
	l.data.Discoveries = append(l.data.Discoveries, Discovery{
		Topic: topic, Insight: insight, Confidence: confidence,
		Occurrences: 1, CreatedAt: now, UpdatedAt: now,
	})
}

// AddProblemSolution records a solved problem; re-occurrence increments
// solved_count and merges the example in.
func (l *LTM) AddProblemSolution(problem, solution, example string, confidence float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now().UTC()
	confidence = clamp01(confidence)
	for i := range l.data.ProblemSolutions {
		if l.data.ProblemSolutions[i].Problem == problem {
			p := &l.data.ProblemSolutions[i]
			p.SolvedCount++
			p.UpdatedAt = now
			if confidence > p.Confidence {
				p.Confidence = confidence
				p.Solution = solution
			}
			if example != "" && !contains(p.Examples, example) {
				p.Examples = append(p.Examples, example)
			}
			return
		}
	}
	ps := ProblemSolution{
		Problem: problem, Solution: solution, Confidence: confidence,
		SolvedCount: 1, CreatedAt: now, UpdatedAt: now,
	}
	if example != "" {
		ps.Examples = []string{example}
	}
	l.data.ProblemSolutions = append(l.data.ProblemSolutions, ps)
}

// AddCodePattern records an observed idiom.
func (l *LTM) AddCodePattern(name, pattern, description string, confidence float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now().UTC()
	confidence = clamp01(confidence)
	for i := range l.data.CodePatterns {
		if l.data.CodePatterns[i].Name == name {
			c := &l.data.CodePatterns[i]
			c.Occurrences++
			c.UpdatedAt = now
			if confidence > c.Confidence {
				c.Confidence = confidence
				c.Pattern = pattern
				c.Description = description
			}
			return
		}
	}
	l.data.CodePatterns = append(l.data.CodePatterns, CodePattern{
		Name: name, Pattern: pattern, Description: description,
		Confidence: confidence, Occurrences: 1, CreatedAt: now, UpdatedAt: now,
	})
}

// AddWorkflow records one attempt of a procedure and updates its running
// success rate.
func (l *LTM) AddWorkflow(name string, steps []string, success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now().UTC()
	for i := range l.data.Workflows {
		if l.data.Workflows[i].Name == name {
			w := &l.data.Workflows[i]
			w.Attempts++
			if success {
				w.Successes++
			}
			w.SuccessRate = float64(w.Successes) / float64(w.Attempts)
			w.Confidence = w.SuccessRate
			w.UpdatedAt = now
			if len(steps) > 0 {
				w.Steps = steps
			}
			return
		}
	}
	w := Workflow{
		Name: name, Steps: steps, Attempts: 1,
		CreatedAt: now, UpdatedAt: now,
	}
	if success {
		w.Successes = 1
		w.SuccessRate = 1
		w.Confidence = 1
	}
	l.data.Workflows = append(l.data.Workflows, w)
}

// AddFailure records an approach that failed.
func (l *LTM) AddFailure(action, reason string, confidence float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now().UTC()
	confidence = clamp01(confidence)
	for i := range l.data.Failures {
		if l.data.Failures[i].Action == action {
			f := &l.data.Failures[i]
			f.Occurrences++
			f.UpdatedAt = now
			if confidence > f.Confidence {
				f.Confidence = confidence
				f.Reason = reason
			}
			return
		}
	}
	l.data.Failures = append(l.data.Failures, Failure{
		Action: action, Reason: reason, Confidence: confidence,
		Occurrences: 1, CreatedAt: now, UpdatedAt: now,
	})
}

// SetContextRule attaches guidance to a path prefix.
func (l *LTM) SetContextRule(prefix, rule string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data.ContextRules[prefix] = rule
}

// RulesFor returns the context rules whose prefix covers path, longest
// prefix first.
func (l *LTM) RulesFor(path string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var prefixes []string
	for p := range l.data.ContextRules {
		if strings.HasPrefix(path, p) {
			prefixes = append(prefixes, p)
		}
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	rules := make([]string, len(prefixes))
	for i, p := range prefixes {
		rules[i] = l.data.ContextRules[p]
	}
	return rules
}

// Snapshot returns a rendered summary for system-prompt injection.
func (l *LTM) Snapshot() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var b strings.Builder
	if len(l.data.Discoveries) > 0 {
		b.WriteString("Project discoveries:\n")
		for _, d := range l.data.Discoveries {
			fmt.Fprintf(&b, "- %s: %s\n", d.Topic, d.Insight)
		}
	}
	if len(l.data.ProblemSolutions) > 0 {
		b.WriteString("Known solutions:\n")
		for _, p := range l.data.ProblemSolutions {
			fmt.Fprintf(&b, "- %s: %s\n", p.Problem, p.Solution)
		}
	}
	if len(l.data.Failures) > 0 {
		b.WriteString("Known failures:\n")
		for _, f := range l.data.Failures {
			fmt.Fprintf(&b, "- %s: %s\n", f.Action, f.Reason)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Prune trims by age, confidence, and per-category caps.
func (l *LTM) Prune(cfg PruneConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Time{}
	if cfg.MaxAgeDays > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -cfg.MaxAgeDays)
	}

	l.data.Discoveries = pruneSlice(l.data.Discoveries, cfg, cutoff,
		func(d Discovery) (float64, time.Time) { return d.Confidence, d.UpdatedAt })
	l.data.ProblemSolutions = pruneSlice(l.data.ProblemSolutions, cfg, cutoff,
		func(p ProblemSolution) (float64, time.Time) { return p.Confidence, p.UpdatedAt })
	l.data.CodePatterns = pruneSlice(l.data.CodePatterns, cfg, cutoff,
		func(c CodePattern) (float64, time.Time) { return c.Confidence, c.UpdatedAt })
	l.data.Workflows = pruneSlice(l.data.Workflows, cfg, cutoff,
		func(w Workflow) (float64, time.Time) { return w.Confidence, w.UpdatedAt })
	l.data.Failures = pruneSlice(l.data.Failures, cfg, cutoff,
		func(f Failure) (float64, time.Time) { return f.Confidence, f.UpdatedAt })
}

func pruneSlice[T any](items []T, cfg PruneConfig, cutoff time.Time, key func(T) (float64, time.Time)) []T {
	kept := items[:0:0]
	for _, it := range items {
		conf, updated := key(it)
		if conf < cfg.MinConfidence {
			continue
		}
		if !cutoff.IsZero() && updated.Before(cutoff) {
			continue
		}
		kept = append(kept, it)
	}
	if cfg.PerCategoryCap > 0 && len(kept) > cfg.PerCategoryCap {
		sort.SliceStable(kept, func(i, j int) bool {
			ci, _ := key(kept[i])
			cj, _ := key(kept[j])
			return ci > cj
		})
		kept = kept[:cfg.PerCategoryCap]
	}
	return kept
}

// Save merges the latest on-disk state and writes atomically via a
// pid-suffixed temp file, so two agents saving at once both land their
// entries and readers always see a complete file.
func (l *LTM) Save() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	merged := l.data
	if raw, err := os.ReadFile(l.path); err == nil {
		var onDisk ltmData
		if err := json.Unmarshal(raw, &onDisk); err == nil {
			merged = mergeLTM(onDisk, l.data)
		}
	}
	merged.UpdatedAt = time.Now().UTC()
	l.data = merged

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.%d.tmp", l.path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write ltm: %w", err)
	}
	return os.Rename(tmp, l.path)
}

// mergeLTM overlays ours onto theirs, keyed by each category's natural
// key; for shared keys the newer entry wins.
func mergeLTM(theirs, ours ltmData) ltmData {
	out := emptyLTMData()

	out.Discoveries = mergeByKey(theirs.Discoveries, ours.Discoveries,
		func(d Discovery) string { return d.Topic },
		func(d Discovery) time.Time { return d.UpdatedAt })
	out.ProblemSolutions = mergeByKey(theirs.ProblemSolutions, ours.ProblemSolutions,
		func(p ProblemSolution) string { return p.Problem },
		func(p ProblemSolution) time.Time { return p.UpdatedAt })
	out.CodePatterns = mergeByKey(theirs.CodePatterns, ours.CodePatterns,
		func(c CodePattern) string { return c.Name },
		func(c CodePattern) time.Time { return c.UpdatedAt })
	out.Workflows = mergeByKey(theirs.Workflows, ours.Workflows,
		func(w Workflow) string { return w.Name },
		func(w Workflow) time.Time { return w.UpdatedAt })
	out.Failures = mergeByKey(theirs.Failures, ours.Failures,
		func(f Failure) string { return f.Action },
		func(f Failure) time.Time { return f.UpdatedAt })

	for k, v := range theirs.ContextRules {
		out.ContextRules[k] = v
	}
	for k, v := range ours.ContextRules {
		out.ContextRules[k] = v
	}
	return out
}

func mergeByKey[T any](theirs, ours []T, key func(T) string, updated func(T) time.Time) []T {
	out := append([]T(nil), theirs...)
	index := make(map[string]int, len(theirs))
	for i, t := range theirs {
		index[key(t)] = i
	}
	for _, o := range ours {
		if i, ok := index[key(o)]; ok {
			if !updated(o).Before(updated(out[i])) {
				out[i] = o
			}
			continue
		}
		index[key(o)] = len(out)
		out = append(out, o)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
