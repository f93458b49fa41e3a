package game

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/park285/goban-arena/internal/gameclock"
	"github.com/park285/goban-arena/internal/variant"
)

type TimeControl struct {
	BaseSeconds      int `json:"base_seconds" yaml:"base_seconds" validate:"min=0,max=10800"`
	IncrementSeconds int `json:"increment_seconds" yaml:"increment_seconds" validate:"min=0,max=600"`
	ByoyomiSeconds   int `json:"byoyomi_seconds" yaml:"byoyomi_seconds" validate:"min=0,max=600"`
	ByoyomiPeriods   int `json:"byoyomi_periods" yaml:"byoyomi_periods" validate:"min=0,max=10"`
}

func (t TimeControl) Control() gameclock.Control {
	return gameclock.Control{
		Base:           time.Duration(t.BaseSeconds) * time.Second,
		Increment:      time.Duration(t.IncrementSeconds) * time.Second,
		ByoyomiPeriod:  time.Duration(t.ByoyomiSeconds) * time.Second,
		ByoyomiPeriods: t.ByoyomiPeriods,
	}
}

func (t TimeControl) IsZero() bool { return t == TimeControl{} }

// RuleConfig is finalised before a session starts and copied into it; the
// session never mutates it afterwards.
type RuleConfig struct {
	Variant       string      `json:"variant" validate:"required,max=32"`
	BoardSize     int         `json:"board_size" validate:"oneof=9 13 15 19"`
	Time          TimeControl `json:"time"`
	Komi          float64     `json:"komi" validate:"min=-150,max=150"`
	CaptureTarget int         `json:"capture_target,omitempty" validate:"min=0,max=200"`
	BaseStones    int         `json:"base_stones,omitempty" validate:"min=0,max=20"`
	HiddenStones  int         `json:"hidden_stones,omitempty" validate:"min=0,max=10"`
	ScanAllowance int         `json:"scan_allowance,omitempty" validate:"min=0,max=10"`
	MissileCount  int         `json:"missile_count,omitempty" validate:"min=0,max=10"`
	MixedRules    []string    `json:"mixed_rules,omitempty" validate:"max=4,dive,oneof=capture hidden missile speed"`
	TurnLimit     int         `json:"turn_limit,omitempty" validate:"min=0,max=1000"`
	TokenCount    int         `json:"token_count,omitempty" validate:"min=0,max=10"`
	CurlingEnds   int         `json:"curling_ends,omitempty" validate:"min=0,max=10"`
	CurlingStones int         `json:"curling_stones,omitempty" validate:"min=0,max=8"`
	Ranked        bool        `json:"ranked"`
	Season        string      `json:"season,omitempty" validate:"max=32"`
}

func (c RuleConfig) HasMix(rule string) bool {
	for _, r := range c.MixedRules {
		if r == rule {
			return true
		}
	}
	return false
}

func (c RuleConfig) Clone() RuleConfig {
	c.MixedRules = append([]string(nil), c.MixedRules...)
	return c
}

// Mode is the rating bucket key for the config.
func (c RuleConfig) Mode() string { return fmt.Sprintf("%s-%d", c.Variant, c.BoardSize) }

var validate = validator.New()

// DefaultConfig builds the catalog default configuration for a variant.
func DefaultConfig(v *variant.Variant) RuleConfig {
	d := v.Defaults
	return RuleConfig{
		Variant:   v.ID,
		BoardSize: d.BoardSize,
		Time: TimeControl{
			BaseSeconds:      d.Time.BaseSeconds,
			IncrementSeconds: d.Time.IncrementSeconds,
			ByoyomiSeconds:   d.Time.ByoyomiSeconds,
			ByoyomiPeriods:   d.Time.ByoyomiPeriods,
		},
		Komi:          d.Komi,
		CaptureTarget: d.CaptureTarget,
		BaseStones:    d.BaseStones,
		HiddenStones:  d.HiddenStones,
		ScanAllowance: d.ScanAllowance,
		MissileCount:  d.MissileCount,
		MixedRules:    append([]string(nil), d.MixedRules...),
		TurnLimit:     d.TurnLimit,
		TokenCount:    d.TokenCount,
		CurlingEnds:   d.CurlingEnds,
		CurlingStones: d.CurlingStones,
	}
}

// WithDefaults fills zero-valued fields of cfg from the variant defaults.
func WithDefaults(cfg RuleConfig, v *variant.Variant) RuleConfig {
	def := DefaultConfig(v)
	cfg = cfg.Clone()
	cfg.Variant = v.ID
	if cfg.BoardSize == 0 {
		cfg.BoardSize = def.BoardSize
	}
	if cfg.Time.IsZero() {
		cfg.Time = def.Time
	}
	if cfg.Komi == 0 {
		cfg.Komi = def.Komi
	}
	fill := func(dst *int, src int) {
		if *dst == 0 {
			*dst = src
		}
	}
	fill(&cfg.CaptureTarget, def.CaptureTarget)
	fill(&cfg.BaseStones, def.BaseStones)
	fill(&cfg.HiddenStones, def.HiddenStones)
	fill(&cfg.ScanAllowance, def.ScanAllowance)
	fill(&cfg.MissileCount, def.MissileCount)
	fill(&cfg.TurnLimit, def.TurnLimit)
	fill(&cfg.TokenCount, def.TokenCount)
	fill(&cfg.CurlingEnds, def.CurlingEnds)
	fill(&cfg.CurlingStones, def.CurlingStones)
	if len(cfg.MixedRules) == 0 && v.Mixable {
		cfg.MixedRules = def.MixedRules
	}
	return cfg
}

// validateConfig checks struct constraints and the variant-specific
// requirements.
func validateConfig(cfg RuleConfig, v *variant.Variant) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return ErrInvalidConfig.Withf("%s failed %s%s", strings.ToLower(fe.Field()), fe.Tag(), paramSuffix(fe.Param()))
		}
		return ErrInvalidConfig.Wrap(err)
	}
	if len(cfg.MixedRules) > 0 && !v.Mixable {
		return ErrInvalidConfig.Withf("variant %s does not take mixed rules", v.ID)
	}
	needCapture := v.HasWin(variant.WinCaptureTarget) || (v.Mixable && cfg.HasMix(variant.MixCapture))
	switch {
	case needCapture && cfg.CaptureTarget <= 0:
		return ErrInvalidConfig.Withf("capture_target required for %s", v.ID)
	case v.HasWin(variant.WinTurnLimit) && cfg.TurnLimit <= 0:
		return ErrInvalidConfig.Withf("turn_limit required for %s", v.ID)
	case v.HasWin(variant.WinLastToken) && cfg.TokenCount <= 0:
		return ErrInvalidConfig.Withf("token_count required for %s", v.ID)
	case v.HasWin(variant.WinCurlingEnds) && (cfg.CurlingEnds <= 0 || cfg.CurlingStones <= 0):
		return ErrInvalidConfig.Withf("curling_ends and curling_stones required for %s", v.ID)
	}
	for _, s := range v.Setup {
		switch Phase(s) {
		case PhaseBasePlacement:
			if cfg.BaseStones <= 0 {
				return ErrInvalidConfig.Withf("base_stones required for %s", v.ID)
			}
		case PhaseHiddenPlacement:
			if cfg.HiddenStones <= 0 {
				return ErrInvalidConfig.Withf("hidden_stones required for %s", v.ID)
			}
		}
	}
	if v.Mixable && cfg.HasMix(variant.MixHidden) && cfg.HiddenStones <= 0 {
		return ErrInvalidConfig.Withf("hidden_stones required for hidden sub-rule")
	}
	if v.HasWin(variant.WinLastToken) && cfg.TokenCount > cfg.BoardSize/2*cfg.BoardSize {
		return ErrInvalidConfig.Withf("token_count does not fit on the board")
	}
	return nil
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}
