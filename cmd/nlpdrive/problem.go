package main

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/longregen/nlpdrive/internal/config"
	"github.com/longregen/nlpdrive/internal/driver"
	"github.com/longregen/nlpdrive/internal/funcpipeline"
	"github.com/longregen/nlpdrive/internal/iospec"
	"github.com/longregen/nlpdrive/internal/process"
	"github.com/longregen/nlpdrive/internal/variable"
)

// sinkSpec names a Writer or Parser by a small discriminated JSON shape:
// "label" reads/writes a single delimited line after a fixed label,
// "table" reads a cell or a whole column of a whitespace table, or writes
// one field per row of one (see iospec.TableWriter).
type sinkSpec struct {
	Type  string `json:"type"`
	File  string `json:"file"`
	Label string `json:"label,omitempty"`
	Delim string `json:"delim,omitempty"`
	Row   int    `json:"row,omitempty"`
	Col   int    `json:"col,omitempty"`
}

func (s sinkSpec) writer() (iospec.Writer, error) {
	switch s.Type {
	case "label":
		if s.Delim == "" {
			return iospec.LabelReplacer{Label: s.Label}, nil
		}
		return iospec.ArrayLabelReplacer{Label: s.Label, Delim: s.Delim}, nil
	case "table":
		return iospec.TableWriter{StartRow: s.Row, EndRow: s.Row + 1, StartCol: s.Col, EndCol: s.Col + 1}, nil
	default:
		return nil, fmt.Errorf("unknown writer type %q", s.Type)
	}
}

func (s sinkSpec) parser() (iospec.Parser, error) {
	switch s.Type {
	case "label":
		return iospec.PreStringHandler{Label: s.Label, Delim: s.Delim}, nil
	case "table":
		row, col := -1, -1
		if s.Row != 0 {
			row = s.Row
		}
		if s.Col != 0 {
			col = s.Col
		}
		return iospec.TableReader{Row: row, Col: col, Delim: regexp.MustCompile(`\s+`)}, nil
	default:
		return nil, fmt.Errorf("unknown parser type %q", s.Type)
	}
}

type variableSpec struct {
	Name    string    `json:"name"`
	Initial []float64 `json:"initial"`
	Lower   []float64 `json:"lower"`
	Upper   []float64 `json:"upper"`
	Scale   []float64 `json:"scale,omitempty"`
	Writer  sinkSpec  `json:"writer"`
}

type constraintSpec struct {
	Name    string   `json:"name"`
	Scale   float64  `json:"scale"`
	Tol     float64  `json:"tol"`
	Target  float64  `json:"target,omitempty"` // equality: g == target
	Bound   float64  `json:"bound,omitempty"`  // upper/lower: g <= bound or g >= bound
	Bound1  float64  `json:"bound1,omitempty"` // range: bound1 <= g <= bound2
	Bound2  float64  `json:"bound2,omitempty"`
	Value   sinkSpec `json:"value"`
	GradSrc sinkSpec `json:"grad"`
}

type objectiveSpec struct {
	Name    string   `json:"name"`
	Sense   string   `json:"sense"`
	Scale   float64  `json:"scale"`
	Weight  float64  `json:"weight"`
	Value   sinkSpec `json:"value"`
	GradSrc sinkSpec `json:"grad"`
}

// problemSpec is the CLI's JSON problem description: one shared external
// command computes every objective/constraint's value, and an optional
// second shared command computes every gradient, matching the common case
// of a single external solver invocation that emits all outputs per run.
type problemSpec struct {
	Command     string           `json:"command"`
	GradCommand string           `json:"grad_command,omitempty"`
	Variables   []variableSpec   `json:"variables"`
	Objective   objectiveSpec    `json:"objective"`
	Equality    []constraintSpec `json:"equality,omitempty"`
	UpperBound  []constraintSpec `json:"upper,omitempty"`
	LowerBound  []constraintSpec `json:"lower,omitempty"`
	Range       []constraintSpec `json:"range,omitempty"`
}

func loadProblemSpec(path string) (*problemSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read problem file: %w", err)
	}
	var p problemSpec
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse problem file: %w", err)
	}
	if p.Command == "" {
		return nil, fmt.Errorf("problem file: command is required")
	}
	if len(p.Variables) == 0 {
		return nil, fmt.Errorf("problem file: at least one variable is required")
	}
	return &p, nil
}

// buildDriver turns a parsed problem file into a ready-to-evaluate
// ExteriorPenaltyDriver, wiring every variable, objective and constraint
// into a single shared value run (and, if configured, a shared gradient
// run) inside workDir.
func buildDriver(cfg *config.Config, p *problemSpec, workDir string) (*driver.ExteriorPenaltyDriver, error) {
	d := driver.NewExteriorPenaltyDriver()
	d.SetStorageMode(cfg.Storage.KeepDesigns, cfg.Storage.DirPrefix)
	d.SetPenaltyParams(cfg.Penalty.RIni, cfg.Penalty.RMax, cfg.Penalty.FactorUp, cfg.Penalty.FactorDown)
	d.SetUpdateFrequency(cfg.Penalty.Freq)
	d.SetUserPreProcessFun(cfg.Storage.UserPreFun)
	d.SetUserPreProcessGrad(cfg.Storage.UserPreGrad)
	if cfg.Storage.FailureMode == "SOFT" {
		if err := d.SetFailureMode(driver.SOFT); err != nil {
			return nil, err
		}
	}

	vars := make(map[string]*variable.InputVariable, len(p.Variables))
	for _, vs := range p.Variables {
		w, err := vs.Writer.writer()
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", vs.Name, err)
		}
		scale := vs.Scale
		if scale == nil {
			scale = make([]float64, len(vs.Initial))
			for i := range scale {
				scale[i] = 1
			}
		}
		v, err := variable.New(vs.Name, len(vs.Initial), vs.Initial, vs.Lower, vs.Upper, scale, w)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", vs.Name, err)
		}
		vars[vs.Name] = v
	}

	valueRun := process.New(workDir, p.Command)
	valueRun.SetMaxTries(cfg.Storage.MaxRunTries)
	var gradRun *process.ExternalRun
	if p.GradCommand != "" {
		gradRun = process.New(workDir, p.GradCommand)
		gradRun.SetMaxTries(cfg.Storage.MaxRunTries)
	}

	buildFunction := func(name string, val sinkSpec, grad sinkSpec) (*funcpipeline.Function, error) {
		outParser, err := val.parser()
		if err != nil {
			return nil, fmt.Errorf("function %q value: %w", name, err)
		}
		fn := funcpipeline.New(name, val.File, outParser)
		fn.AddValueEvalStep(valueRun)
		var gradParser iospec.Parser
		if gradRun != nil {
			fn.AddGradientEvalStep(gradRun)
			gradParser, err = grad.parser()
			if err != nil {
				return nil, fmt.Errorf("function %q gradient: %w", name, err)
			}
		}
		for _, vs := range p.Variables {
			fn.AddInputVariable(vars[vs.Name], grad.File, gradParser)
		}
		return fn, nil
	}

	objFn, err := buildFunction(p.Objective.Name, p.Objective.Value, p.Objective.GradSrc)
	if err != nil {
		return nil, err
	}
	sense := driver.Minimize
	if p.Objective.Sense == "max" {
		sense = driver.Maximize
	}
	if err := d.AddObjective(sense, objFn, p.Objective.Scale, p.Objective.Weight); err != nil {
		return nil, fmt.Errorf("objective %q: %w", p.Objective.Name, err)
	}

	addAll := func(specs []constraintSpec, add func(*funcpipeline.Function, constraintSpec) error) error {
		for _, cs := range specs {
			fn, err := buildFunction(cs.Name, cs.Value, cs.GradSrc)
			if err != nil {
				return err
			}
			if err := add(fn, cs); err != nil {
				return fmt.Errorf("constraint %q: %w", cs.Name, err)
			}
		}
		return nil
	}

	if err := addAll(p.Equality, func(fn *funcpipeline.Function, cs constraintSpec) error {
		return d.AddEqualityPenalized(fn, cs.Target, cs.Scale, cs.Tol)
	}); err != nil {
		return nil, err
	}
	if err := addAll(p.UpperBound, func(fn *funcpipeline.Function, cs constraintSpec) error {
		return d.AddUpperBoundPenalized(fn, cs.Bound, cs.Scale, cs.Tol)
	}); err != nil {
		return nil, err
	}
	if err := addAll(p.LowerBound, func(fn *funcpipeline.Function, cs constraintSpec) error {
		return d.AddLowerBoundPenalized(fn, cs.Bound, cs.Scale, cs.Tol)
	}); err != nil {
		return nil, err
	}
	for _, cs := range p.Range {
		fn, err := buildFunction(cs.Name, cs.Value, cs.GradSrc)
		if err != nil {
			return nil, err
		}
		if err := d.AddUpLowBoundPenalized(fn, cs.Bound1, cs.Bound2, cs.Tol); err != nil {
			return nil, fmt.Errorf("constraint %q: %w", cs.Name, err)
		}
	}

	if err := d.PreprocessVariables(); err != nil {
		return nil, fmt.Errorf("preprocess variables: %w", err)
	}
	return d, nil
}
