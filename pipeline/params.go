package pipeline

import (
	"fmt"

	"iscpipe/dplerr"
	"iscpipe/filter"
	"iscpipe/matcher"
	"iscpipe/param"
)

// Data processing module names accepted by the parameter calls.
const (
	matcherModule = "stereo_matching"
	filterModule  = "disparity_filter"
)

// matcherDefaults maps the compiled matcher defaults into parameter-file
// fields.
func matcherDefaults() []param.Field {
	p := matcher.DefaultParams()
	return []param.Field{
		{Category: "matching", Name: "window", Type: param.Int, Value: float64(p.Window), Description: "block size, odd, 3..31"},
		{Category: "matching", Name: "disparity_range", Type: param.Int, Value: float64(p.Range), Description: "search range D, candidates [0,D)"},
		{Category: "matching", Name: "metric", Type: param.Int, Value: float64(p.Metric), Description: "0=SAD 1=SSD"},
		{Category: "matching", Name: "max_cost", Type: param.Int, Value: float64(p.MaxCost), Description: "mean per-pixel cost ceiling (squared for SSD), 0 disables"},
		{Category: "matching", Name: "uniqueness_ratio", Type: param.Int, Value: float64(p.UniquenessRatio), Description: "percent margin over second best, 0 disables"},
		{Category: "consistency", Name: "lr_check", Type: param.Int, Value: boolToF(p.LRCheck), Description: "left-right consistency check"},
		{Category: "consistency", Name: "lr_max_diff", Type: param.Int, Value: float64(p.LRMaxDiff), Description: "tolerated LR disparity difference"},
		{Category: "subpixel", Name: "extended_matching", Type: param.Int, Value: boolToF(p.Subpixel), Description: "parabolic sub-pixel refinement"},
	}
}

// filterDefaults maps the compiled filter defaults into parameter-file
// fields.
func filterDefaults() []param.Field {
	p := filter.DefaultParams()
	return []param.Field{
		{Category: "speckle", Name: "enabled", Type: param.Int, Value: boolToF(p.SpeckleEnabled), Description: "connected-component speckle removal"},
		{Category: "speckle", Name: "min_component_area", Type: param.Int, Value: float64(p.MinComponentArea), Description: "discard components below this area"},
		{Category: "smoothing", Name: "enabled", Type: param.Int, Value: boolToF(p.SmoothEnabled), Description: "median smoothing"},
		{Category: "smoothing", Name: "filter_window", Type: param.Int, Value: float64(p.FilterWindow), Description: "median kernel, odd, 3..9"},
		{Category: "hole_fill", Name: "enabled", Type: param.Int, Value: boolToF(p.HoleFillEnabled), Description: "epipolar hole fill"},
		{Category: "hole_fill", Name: "max_gap", Type: param.Int, Value: float64(p.HoleFillMaxGap), Description: "largest gap filled, pixels"},
		{Category: "double_shutter", Name: "merge_low_threshold", Type: param.Int, Value: float64(p.MergeLowThreshold), Description: "luminance lower bound, default TBD"},
		{Category: "double_shutter", Name: "merge_high_threshold", Type: param.Int, Value: float64(p.MergeHighThreshold), Description: "luminance upper bound, default TBD"},
	}
}

func boolToF(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// GetDataProcModuleParameter returns the named module's parameter fields.
func (c *Controller) GetDataProcModuleParameter(module string) ([]param.Field, error) {
	set, err := c.paramSet(module)
	if err != nil {
		return nil, err
	}
	return set.Fields(), nil
}

// SetDataProcModuleParameter applies values to the named module. The
// whole update validates as one parameter set before anything takes
// effect; an out-of-domain value fails with ErrInvalidParameter and
// leaves the module unchanged. With persist the module's parameter file
// is rewritten so the next session loads the same values.
func (c *Controller) SetDataProcModuleParameter(module string, values []param.Field, persist bool) error {
	set, err := c.paramSet(module)
	if err != nil {
		return err
	}

	// Stage into a scratch copy so validation failures change nothing.
	staged := param.NewSet(module, set.Fields())
	for _, f := range values {
		if err := staged.SetValue(f.Category, f.Name, f.Value); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch module {
	case matcherModule:
		if err := applyMatcher(staged, c.match); err != nil {
			return err
		}
		c.matchParams = staged
	case filterModule:
		if err := applyFilter(staged, c.filt); err != nil {
			return err
		}
		c.filtParams = staged
	}
	if persist {
		if err := staged.Save(c.paramPath(module)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) paramSet(module string) (*param.Set, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enableProc || c.matchParams == nil {
		return nil, fmt.Errorf("pipeline: data processing modules not constructed: %w", dplerr.ErrInvalidState)
	}
	switch module {
	case matcherModule:
		return c.matchParams, nil
	case filterModule:
		return c.filtParams, nil
	}
	return nil, fmt.Errorf("pipeline: unknown module %q: %w", module, dplerr.ErrInvalidParameter)
}

// applyMatcherParams pushes the loaded parameter set into the matcher.
// Called with c.mu held or before the controller is shared.
func (c *Controller) applyMatcherParams() error {
	return applyMatcher(c.matchParams, c.match)
}

func (c *Controller) applyFilterParams() error {
	return applyFilter(c.filtParams, c.filt)
}

func applyMatcher(set *param.Set, m *matcher.Matcher) error {
	get := func(cat, name string) int {
		v, _ := set.Int(cat, name)
		return v
	}
	p := matcher.Params{
		Window:          get("matching", "window"),
		Range:           get("matching", "disparity_range"),
		Metric:          matcher.Metric(get("matching", "metric")),
		MaxCost:         get("matching", "max_cost"),
		UniquenessRatio: get("matching", "uniqueness_ratio"),
		LRCheck:         get("consistency", "lr_check") != 0,
		LRMaxDiff:       get("consistency", "lr_max_diff"),
		Subpixel:        get("subpixel", "extended_matching") != 0,
	}
	return m.SetParams(p)
}

func applyFilter(set *param.Set, f *filter.Filter) error {
	get := func(cat, name string) int {
		v, _ := set.Int(cat, name)
		return v
	}
	p := filter.Params{
		SpeckleEnabled:     get("speckle", "enabled") != 0,
		MinComponentArea:   get("speckle", "min_component_area"),
		SmoothEnabled:      get("smoothing", "enabled") != 0,
		FilterWindow:       get("smoothing", "filter_window"),
		HoleFillEnabled:    get("hole_fill", "enabled") != 0,
		HoleFillMaxGap:     get("hole_fill", "max_gap"),
		MergeLowThreshold:  get("double_shutter", "merge_low_threshold"),
		MergeHighThreshold: get("double_shutter", "merge_high_threshold"),
	}
	return f.SetParams(p)
}
