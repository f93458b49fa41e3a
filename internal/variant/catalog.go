package variant

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	yaml "gopkg.in/yaml.v3"
)

//go:embed variants.yaml
var defaultFiles embed.FS

// Rule vocabulary understood by the phase machine.
const (
	ScoringArea = "area"
	ScoringNone = "none"

	WinCaptureTarget = "capture_target"
	WinFiveInRow     = "five_in_row"
	WinTurnLimit     = "turn_limit"
	WinLastToken     = "last_token"
	WinCurlingEnds   = "curling_ends"

	MixCapture = "capture"
	MixHidden  = "hidden"
	MixMissile = "missile"
	MixSpeed   = "speed"
)

var (
	knownSetup = map[string]bool{
		"nigiri": true, "komi_bid": true, "capture_bid": true, "base_placement": true,
		"hidden_placement": true, "dice_roll": true, "rps": true, "token_placement": true,
	}
	knownActions = map[string]bool{
		"move": true, "pass": true, "resign": true, "scan": true, "missile": true, "flick": true,
	}
	knownWins = map[string]bool{
		WinCaptureTarget: true, WinFiveInRow: true, WinTurnLimit: true, WinLastToken: true, WinCurlingEnds: true,
	}
)

type TimeDefaults struct {
	BaseSeconds      int `yaml:"base_seconds"`
	IncrementSeconds int `yaml:"increment_seconds"`
	ByoyomiSeconds   int `yaml:"byoyomi_seconds"`
	ByoyomiPeriods   int `yaml:"byoyomi_periods"`
}

type Defaults struct {
	BoardSize     int          `yaml:"board_size"`
	Komi          float64      `yaml:"komi"`
	CaptureTarget int          `yaml:"capture_target"`
	BaseStones    int          `yaml:"base_stones"`
	HiddenStones  int          `yaml:"hidden_stones"`
	ScanAllowance int          `yaml:"scan_allowance"`
	MissileCount  int          `yaml:"missile_count"`
	MixedRules    []string     `yaml:"mixed_rules"`
	TurnLimit     int          `yaml:"turn_limit"`
	TokenCount    int          `yaml:"token_count"`
	CurlingEnds   int          `yaml:"curling_ends"`
	CurlingStones int          `yaml:"curling_stones"`
	Time          TimeDefaults `yaml:"time"`
}

// Variant is one rule table entry.
type Variant struct {
	ID       string   `yaml:"-"`
	Name     string   `yaml:"name"`
	Setup    []string `yaml:"setup"`
	Actions  []string `yaml:"actions"`
	Captures bool     `yaml:"captures"`
	Win      []string `yaml:"win"`
	Scoring  string   `yaml:"scoring"`
	Mixable  bool     `yaml:"mixable"`
	Defaults Defaults `yaml:"defaults"`
}

func (v *Variant) HasWin(w string) bool {
	for _, x := range v.Win {
		if x == w {
			return true
		}
	}
	return false
}

func (v *Variant) Allows(action string) bool {
	for _, a := range v.Actions {
		if a == action {
			return true
		}
	}
	return false
}

func (v *Variant) clone() *Variant {
	c := *v
	c.Setup = append([]string(nil), v.Setup...)
	c.Actions = append([]string(nil), v.Actions...)
	c.Win = append([]string(nil), v.Win...)
	c.Defaults.MixedRules = append([]string(nil), v.Defaults.MixedRules...)
	return &c
}

type file struct {
	Variants map[string]*Variant `yaml:"variants"`
}

// Catalog holds the variant rule tables: embedded defaults plus optional
// per-id overrides loaded from a directory.
type Catalog struct {
	mu       sync.RWMutex
	variants map[string]*Variant
}

func New(overrideDir string) (*Catalog, error) {
	c := &Catalog{variants: make(map[string]*Variant)}
	raw, err := fs.ReadFile(defaultFiles, "variants.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded variants: %w", err)
	}
	parsed, err := parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse embedded variants: %w", err)
	}
	c.apply(parsed)
	if strings.TrimSpace(overrideDir) != "" {
		if err := c.applyDir(overrideDir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustDefault returns the embedded catalog. Tests and tools only.
func MustDefault() *Catalog {
	c, err := New("")
	if err != nil {
		panic(err)
	}
	return c
}

func parse(raw []byte) (map[string]*Variant, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	for id, v := range f.Variants {
		if v == nil {
			return nil, fmt.Errorf("variant %q is empty", id)
		}
		v.ID = id
		if err := validate(v); err != nil {
			return nil, err
		}
	}
	return f.Variants, nil
}

func validate(v *Variant) error {
	for _, s := range v.Setup {
		if !knownSetup[s] {
			return fmt.Errorf("variant %s: unknown setup phase %q", v.ID, s)
		}
	}
	if len(v.Actions) == 0 {
		return fmt.Errorf("variant %s: no main-play actions", v.ID)
	}
	for _, a := range v.Actions {
		if !knownActions[a] {
			return fmt.Errorf("variant %s: unknown action %q", v.ID, a)
		}
	}
	for _, w := range v.Win {
		if !knownWins[w] {
			return fmt.Errorf("variant %s: unknown win condition %q", v.ID, w)
		}
	}
	switch v.Scoring {
	case ScoringArea, ScoringNone:
	case "":
		v.Scoring = ScoringNone
	default:
		return fmt.Errorf("variant %s: unknown scoring %q", v.ID, v.Scoring)
	}
	return nil
}

func (c *Catalog) apply(vs map[string]*Variant) {
	c.mu.Lock()
	for id, v := range vs {
		c.variants[id] = v
	}
	c.mu.Unlock()
}

func (c *Catalog) applyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read variant dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	seen := make(map[string]string)
	for _, name := range files {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		vs, err := parse(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		for id := range vs {
			if prev, ok := seen[id]; ok {
				return fmt.Errorf("duplicate variant %q in %s and %s", id, prev, name)
			}
			seen[id] = name
		}
		c.apply(vs)
	}
	return nil
}

// Get returns a copy of the variant so callers cannot mutate the table.
func (c *Catalog) Get(id string) (*Variant, bool) {
	c.mu.RLock()
	v, ok := c.variants[strings.ToLower(strings.TrimSpace(id))]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return v.clone(), true
}

func (c *Catalog) IDs() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.variants))
	for id := range c.variants {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
