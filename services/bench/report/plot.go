// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/font"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/AleutianAI/parbench/services/bench/datatypes"
)

// ErrNoPoints is returned when a series has no defined point.
var ErrNoPoints = errors.New("no plottable points")

// goldenRatio sizes plots as width / height.
const goldenRatio = 1.618033988749895

// PlotStyle holds everything that affects how a plot looks. It is passed
// explicitly to every render call.
type PlotStyle struct {
	// Width of the figure. Height follows the golden ratio when zero.
	Width  vg.Length
	Height vg.Length

	// FontSize applies to title, labels, ticks and legend.
	FontSize vg.Length

	// Variant selects the typeface variant, e.g. "Serif" or "Sans".
	Variant string

	// LogX uses a base-2 friendly logarithmic worker axis.
	LogX bool
}

// DefaultPlotStyle matches a single LaTeX text column.
func DefaultPlotStyle() PlotStyle {
	return PlotStyle{
		Width:    398.33858 * vg.Points(1),
		FontSize: vg.Points(10),
		Variant:  "Serif",
	}
}

func (s PlotStyle) size() (vg.Length, vg.Length) {
	w := s.Width
	if w <= 0 {
		w = DefaultPlotStyle().Width
	}
	h := s.Height
	if h <= 0 {
		h = w / goldenRatio
	}
	return w, h
}

// Series is one line of a plot: mean with min/max error bars.
type Series struct {
	Name string
	X    []float64
	Mean []float64
	Min  []float64
	Max  []float64
}

// SeriesFrom builds one series per value of seriesAxis, with X taken from
// xAxis. Rows with an undefined mean or a non-numeric x are skipped.
func SeriesFrom(rows []datatypes.Row, xAxis, seriesAxis string) []Series {
	var out []Series
	index := map[string]int{}
	for _, r := range rows {
		xs, _ := r.Config.Get(xAxis)
		x, err := strconv.ParseFloat(xs, 64)
		if err != nil || !r.Mean.Valid {
			continue
		}
		name := ""
		if seriesAxis != "" {
			v, _ := r.Config.Get(seriesAxis)
			name = seriesAxis + "=" + v
		}
		i, ok := index[name]
		if !ok {
			i = len(out)
			index[name] = i
			out = append(out, Series{Name: name})
		}
		s := &out[i]
		s.X = append(s.X, x)
		s.Mean = append(s.Mean, r.Mean.Value)
		s.Min = append(s.Min, valueOr(r.Min, r.Mean.Value))
		s.Max = append(s.Max, valueOr(r.Max, r.Mean.Value))
	}
	return out
}

func valueOr(o datatypes.Optional, def float64) float64 {
	if o.Valid {
		return o.Value
	}
	return def
}

// errPoints pairs points with their vertical error bars.
type errPoints struct {
	plotter.XYs
	plotter.YErrors
}

// PlotSpec names the plot and its axes.
type PlotSpec struct {
	Title  string
	XLabel string
	YLabel string
}

// NewPlot builds an error-bar plot of the series.
func NewPlot(series []Series, spec PlotSpec, style PlotStyle) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = spec.Title
	p.X.Label.Text = spec.XLabel
	p.Y.Label.Text = spec.YLabel
	applyStyle(p, style)

	if style.LogX {
		p.X.Scale = plot.LogScale{}
		p.X.Tick.Marker = plot.LogTicks{Prec: -1}
	}

	added := 0
	for i, s := range series {
		pts := errPoints{XYs: make(plotter.XYs, 0, len(s.X)), YErrors: make(plotter.YErrors, 0, len(s.X))}
		for j := range s.X {
			if style.LogX && s.X[j] <= 0 {
				continue
			}
			pts.XYs = append(pts.XYs, plotter.XY{X: s.X[j], Y: s.Mean[j]})
			pts.YErrors = append(pts.YErrors, struct{ Low, High float64 }{
				Low:  math.Max(0, s.Mean[j]-s.Min[j]),
				High: math.Max(0, s.Max[j]-s.Mean[j]),
			})
		}
		if len(pts.XYs) == 0 {
			continue
		}

		line, points, err := plotter.NewLinePoints(pts.XYs)
		if err != nil {
			return nil, fmt.Errorf("series %q: %w", s.Name, err)
		}
		line.Color = plotutil.Color(i)
		points.Color = plotutil.Color(i)
		points.Shape = plotutil.Shape(i)

		bars, err := plotter.NewYErrorBars(pts)
		if err != nil {
			return nil, fmt.Errorf("series %q: %w", s.Name, err)
		}
		bars.Color = plotutil.Color(i)

		p.Add(line, points, bars)
		if s.Name != "" {
			p.Legend.Add(s.Name, line, points)
		}
		added++
	}
	if added == 0 {
		return nil, ErrNoPoints
	}
	p.Legend.Top = true
	return p, nil
}

func applyStyle(p *plot.Plot, style PlotStyle) {
	size := style.FontSize
	if size <= 0 {
		size = DefaultPlotStyle().FontSize
	}
	for _, ts := range []*vg.Length{
		&p.Title.TextStyle.Font.Size,
		&p.X.Label.TextStyle.Font.Size,
		&p.Y.Label.TextStyle.Font.Size,
		&p.X.Tick.Label.Font.Size,
		&p.Y.Tick.Label.Font.Size,
		&p.Legend.TextStyle.Font.Size,
	} {
		*ts = size
	}
	if style.Variant != "" {
		v := font.Variant(style.Variant)
		p.Title.TextStyle.Font.Variant = v
		p.X.Label.TextStyle.Font.Variant = v
		p.Y.Label.TextStyle.Font.Variant = v
		p.X.Tick.Label.Font.Variant = v
		p.Y.Tick.Label.Font.Variant = v
		p.Legend.TextStyle.Font.Variant = v
	}
}

// SavePlot renders series to path; the extension picks the format (pdf,
// png, svg, eps).
func SavePlot(path string, series []Series, spec PlotSpec, style PlotStyle) error {
	p, err := NewPlot(series, spec, style)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	w, h := style.size()
	if err := p.Save(w, h, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
