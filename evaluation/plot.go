package evaluation

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/YuminosukeSato/mlexplorer/metrics"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

const plotSize = 5 * vg.Inch

// SaveROCPlot renders the ROC curve of a binary evaluation. The image format
// follows the extension of path (.png, .svg, .pdf, ...).
func SaveROCPlot(res *Result, path string) error {
	if len(res.ROC) == 0 {
		return errors.NewValueError("SaveROCPlot", "result has no ROC curve; only binary classification produces one")
	}

	p := plot.New()
	p.Title.Text = "ROC curve: " + res.Model.Name
	if auc, ok := res.Metric(metrics.NameROCAUC); ok && !auc.NotApplicable {
		p.Title.Text += fmt.Sprintf(" (AUC = %.3f)", auc.Value)
	}
	p.X.Label.Text = "False positive rate"
	p.Y.Label.Text = "True positive rate"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1

	pts := make(plotter.XYs, len(res.ROC))
	for i, pt := range res.ROC {
		pts[i].X = pt.FPR
		pts[i].Y = pt.TPR
	}
	curve, err := plotter.NewLine(pts)
	if err != nil {
		return errors.Wrap(err, "SaveROCPlot")
	}
	curve.LineStyle.Width = vg.Points(2)

	chance, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}})
	if err != nil {
		return errors.Wrap(err, "SaveROCPlot")
	}
	chance.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	chance.LineStyle.Color = color.Gray{Y: 128}

	p.Add(plotter.NewGrid(), chance, curve)
	if err := p.Save(plotSize, plotSize, path); err != nil {
		return errors.Wrapf(err, "SaveROCPlot %s", path)
	}
	return nil
}

// SaveResidualPlot renders residuals against predictions for a regression
// evaluation, with the zero line for reference.
func SaveResidualPlot(res *Result, path string) error {
	if len(res.ActualVsPredicted) == 0 || len(res.Residuals) != len(res.ActualVsPredicted) {
		return errors.NewValueError("SaveResidualPlot", "result has no residuals; only regression produces them")
	}

	p := plot.New()
	p.Title.Text = "Residuals: " + res.Model.Name
	p.X.Label.Text = "Predicted"
	p.Y.Label.Text = "Actual - predicted"

	pts := make(plotter.XYs, len(res.Residuals))
	minX, maxX := res.ActualVsPredicted[0].Predicted, res.ActualVsPredicted[0].Predicted
	for i, pair := range res.ActualVsPredicted {
		pts[i].X = pair.Predicted
		pts[i].Y = res.Residuals[i]
		minX = min(minX, pair.Predicted)
		maxX = max(maxX, pair.Predicted)
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return errors.Wrap(err, "SaveResidualPlot")
	}
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	scatter.GlyphStyle.Radius = vg.Points(2)

	zero, err := plotter.NewLine(plotter.XYs{{X: minX, Y: 0}, {X: maxX, Y: 0}})
	if err != nil {
		return errors.Wrap(err, "SaveResidualPlot")
	}
	zero.LineStyle.Color = color.RGBA{R: 200, A: 255}

	p.Add(plotter.NewGrid(), zero, scatter)
	if err := p.Save(plotSize, plotSize, path); err != nil {
		return errors.Wrapf(err, "SaveResidualPlot %s", path)
	}
	return nil
}
