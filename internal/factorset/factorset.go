// Package factorset generates the Alpha158-style factor library: named
// formulas grouped into kbar, price, volume and rolling families, selected
// by a YAML configuration.
package factorset

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"factor-lab/internal/domain"
	"factor-lab/internal/expression"
)

// ErrDuplicateFactor is returned when two factors share a name.
var ErrDuplicateFactor = errors.New("duplicate factor name")

// Group names.
const (
	GroupKbar    = "kbar"
	GroupPrice   = "price"
	GroupVolume  = "volume"
	GroupRolling = "rolling"
	GroupCustom  = "custom"
)

// Config selects factor groups. A nil group is skipped; an empty group uses
// that group's defaults.
type Config struct {
	Kbar    *KbarConfig    `yaml:"kbar"`
	Price   *PriceConfig   `yaml:"price"`
	Volume  *VolumeConfig  `yaml:"volume"`
	Rolling *RollingConfig `yaml:"rolling"`
	Custom  []Spec         `yaml:"custom"`
}

type KbarConfig struct{}

type PriceConfig struct {
	Windows  []int    `yaml:"windows"` // default 0..4
	Features []string `yaml:"feature"` // default OPEN, HIGH, LOW, CLOSE, VWAP
}

type VolumeConfig struct {
	Windows []int `yaml:"windows"` // default 0..4
}

type RollingConfig struct {
	Windows []int    `yaml:"windows"` // default 5, 10, 20, 30, 60
	Include []string `yaml:"include"` // nil means every family
	Exclude []string `yaml:"exclude"`
}

// Spec is a named formula before parsing.
type Spec struct {
	Name    string `yaml:"name"`
	Formula string `yaml:"formula"`
	Group   string `yaml:"group"`
}

// Factor is a parsed Spec.
type Factor struct {
	Spec
	Expr *expression.Expr
}

// DefaultConfig is kbar, price (OPEN, HIGH, LOW, VWAP at lag 0) and every
// rolling family.
func DefaultConfig() Config {
	return Config{
		Kbar: &KbarConfig{},
		Price: &PriceConfig{
			Windows:  []int{0},
			Features: []string{"OPEN", "HIGH", "LOW", "VWAP"},
		},
		Rolling: &RollingConfig{},
	}
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read factor config: %w", err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse factor config: %w", err)
	}
	return cfg, nil
}

var kbarFactors = []Spec{
	{Name: "KMID", Formula: "($close-$open)/$open"},
	{Name: "KLEN", Formula: "($high-$low)/$open"},
	{Name: "KMID2", Formula: "($close-$open)/($high-$low+1e-12)"},
	{Name: "KUP", Formula: "($high-Greater($open, $close))/$open"},
	{Name: "KUP2", Formula: "($high-Greater($open, $close))/($high-$low+1e-12)"},
	{Name: "KLOW", Formula: "(Less($open, $close)-$low)/$open"},
	{Name: "KLOW2", Formula: "(Less($open, $close)-$low)/($high-$low+1e-12)"},
	{Name: "KSFT", Formula: "(2*$close-$high-$low)/$open"},
	{Name: "KSFT2", Formula: "(2*$close-$high-$low)/($high-$low+1e-12)"},
}

// rollingFamily is a formula template over a window d, written with
// indexed verbs so d may appear several times.
type rollingFamily struct {
	key      string // include/exclude key
	prefix   string // factor name prefix
	template string
}

var rollingFamilies = []rollingFamily{
	{"ROC", "ROC", "Ref($close, %[1]d)/$close"},
	{"MA", "MA", "Mean($close, %[1]d)/$close"},
	{"STD", "STD", "Std($close, %[1]d)/$close"},
	{"BETA", "BETA", "Slope($close, %[1]d)/$close"},
	{"RSQR", "RSQR", "Rsquare($close, %[1]d)"},
	{"RESI", "RESI", "Resi($close, %[1]d)/$close"},
	{"MAX", "MAX", "Max($high, %[1]d)/$close"},
	{"LOW", "MIN", "Min($low, %[1]d)/$close"},
	{"QTLU", "QTLU", "Quantile($close, %[1]d, 0.8)/$close"},
	{"QTLD", "QTLD", "Quantile($close, %[1]d, 0.2)/$close"},
	{"RANK", "RANK", "Rank($close, %[1]d)"},
	{"RSV", "RSV", "($close-Min($low, %[1]d))/(Max($high, %[1]d)-Min($low, %[1]d)+1e-12)"},
	{"IMAX", "IMAX", "IdxMax($high, %[1]d)/%[1]d"},
	{"IMIN", "IMIN", "IdxMin($low, %[1]d)/%[1]d"},
	{"IMXD", "IMXD", "(IdxMax($high, %[1]d)-IdxMin($low, %[1]d))/%[1]d"},
	{"CORR", "CORR", "Corr($close, Log($volume+1), %[1]d)"},
	{"CORD", "CORD", "Corr($close/Ref($close,1), Log($volume/Ref($volume, 1)+1), %[1]d)"},
	{"CNTP", "CNTP", "Mean($close>Ref($close, 1), %[1]d)"},
	{"CNTN", "CNTN", "Mean($close<Ref($close, 1), %[1]d)"},
	{"CNTD", "CNTD", "Mean($close>Ref($close, 1), %[1]d)-Mean($close<Ref($close, 1), %[1]d)"},
	{"SUMP", "SUMP", "Sum(Greater($close-Ref($close, 1), 0), %[1]d)/(Sum(Abs($close-Ref($close, 1)), %[1]d)+1e-12)"},
	{"SUMN", "SUMN", "Sum(Greater(Ref($close, 1)-$close, 0), %[1]d)/(Sum(Abs($close-Ref($close, 1)), %[1]d)+1e-12)"},
	{"SUMD", "SUMD", "(Sum(Greater($close-Ref($close, 1), 0), %[1]d)-Sum(Greater(Ref($close, 1)-$close, 0), %[1]d))" +
		"/(Sum(Abs($close-Ref($close, 1)), %[1]d)+1e-12)"},
	{"VMA", "VMA", "Mean($volume, %[1]d)/($volume+1e-12)"},
	{"VSTD", "VSTD", "Std($volume, %[1]d)/($volume+1e-12)"},
	{"WVMA", "WVMA", "Std(Abs($close/Ref($close, 1)-1)*$volume, %[1]d)/(Mean(Abs($close/Ref($close, 1)-1)*$volume, %[1]d)+1e-12)"},
	{"VSUMP", "VSUMP", "Sum(Greater($volume-Ref($volume, 1), 0), %[1]d)/(Sum(Abs($volume-Ref($volume, 1)), %[1]d)+1e-12)"},
	{"VSUMN", "VSUMN", "Sum(Greater(Ref($volume, 1)-$volume, 0), %[1]d)/(Sum(Abs($volume-Ref($volume, 1)), %[1]d)+1e-12)"},
	{"VSUMD", "VSUMD", "(Sum(Greater($volume-Ref($volume, 1), 0), %[1]d)-Sum(Greater(Ref($volume, 1)-$volume, 0), %[1]d))" +
		"/(Sum(Abs($volume-Ref($volume, 1)), %[1]d)+1e-12)"},
}

// Generate expands cfg into factor specs in group order: kbar, price,
// volume, rolling, custom.
func Generate(cfg Config) []Spec {
	var out []Spec

	if cfg.Kbar != nil {
		for _, s := range kbarFactors {
			s.Group = GroupKbar
			out = append(out, s)
		}
	}

	if cfg.Price != nil {
		windows := cfg.Price.Windows
		if windows == nil {
			windows = []int{0, 1, 2, 3, 4}
		}
		features := cfg.Price.Features
		if features == nil {
			features = []string{"OPEN", "HIGH", "LOW", "CLOSE", "VWAP"}
		}
		for _, f := range features {
			field := strings.ToLower(f)
			for _, d := range windows {
				formula := fmt.Sprintf("$%s/$close", field)
				if d != 0 {
					formula = fmt.Sprintf("Ref($%s, %d)/$close", field, d)
				}
				out = append(out, Spec{Name: fmt.Sprintf("%s%d", strings.ToUpper(field), d), Formula: formula, Group: GroupPrice})
			}
		}
	}

	if cfg.Volume != nil {
		windows := cfg.Volume.Windows
		if windows == nil {
			windows = []int{0, 1, 2, 3, 4}
		}
		for _, d := range windows {
			formula := "$volume/$volume"
			if d != 0 {
				formula = fmt.Sprintf("Ref($volume, %d)/$volume", d)
			}
			out = append(out, Spec{Name: fmt.Sprintf("VOLUME%d", d), Formula: formula, Group: GroupVolume})
		}
	}

	if cfg.Rolling != nil {
		windows := cfg.Rolling.Windows
		if windows == nil {
			windows = []int{5, 10, 20, 30, 60}
		}
		for _, fam := range rollingFamilies {
			if !cfg.Rolling.use(fam.key) {
				continue
			}
			for _, d := range windows {
				out = append(out, Spec{
					Name:    fmt.Sprintf("%s%d", fam.prefix, d),
					Formula: fmt.Sprintf(fam.template, d),
					Group:   GroupRolling,
				})
			}
		}
	}

	for _, s := range cfg.Custom {
		if s.Group == "" {
			s.Group = GroupCustom
		}
		out = append(out, s)
	}
	return out
}

func (c *RollingConfig) use(key string) bool {
	for _, e := range c.Exclude {
		if e == key {
			return false
		}
	}
	if c.Include == nil {
		return true
	}
	for _, i := range c.Include {
		if i == key {
			return true
		}
	}
	return false
}

// Compile parses every spec. Names must be unique.
func Compile(specs []Spec, p *expression.Parser) ([]Factor, error) {
	seen := make(map[string]bool, len(specs))
	out := make([]Factor, 0, len(specs))
	for _, s := range specs {
		if seen[s.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateFactor, s.Name)
		}
		seen[s.Name] = true
		e, err := p.Parse(s.Formula)
		if err != nil {
			return nil, fmt.Errorf("factor %s: %w", s.Name, err)
		}
		out = append(out, Factor{Spec: s, Expr: e})
	}
	return out, nil
}

// Load generates and compiles cfg with the default registry.
func Load(cfg Config) ([]Factor, error) {
	return Compile(Generate(cfg), expression.NewParser(expression.DefaultRegistry()))
}

// Definitions converts factors to storable definitions.
func Definitions(factors []Factor, createdAt int64) []*domain.FactorDefinition {
	out := make([]*domain.FactorDefinition, len(factors))
	for i, f := range factors {
		out[i] = &domain.FactorDefinition{
			Name:      f.Name,
			Formula:   f.Formula,
			Canonical: f.Expr.String(),
			Group:     f.Group,
			CreatedAt: createdAt,
		}
	}
	return out
}

// MaxLookback returns the largest finite lookback among factors, and
// whether any factor depends on the whole history.
func MaxLookback(factors []Factor) (n int, unbounded bool) {
	for _, f := range factors {
		lb := f.Expr.MaxLookback()
		if lb < 0 {
			unbounded = true
			continue
		}
		if lb > n {
			n = lb
		}
	}
	return n, unbounded
}
