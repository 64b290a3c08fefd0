// Package render draws the loop's recent glucose history and forward
// prediction as a PNG chart for external dashboards.
package render

import (
	"bytes"
	"fmt"
	"image/png"
	"math"
	"os"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/mrcode/glucoloop/internal/models"
)

const (
	chartWidth  = 800
	chartHeight = 400
	margin      = 40.0
)

// Chart renders glucose history and prediction against the target band
type Chart struct {
	Targets models.TargetSchedule
}

// loadFont helper to load font safely
func (c *Chart) loadFont(dc *gg.Context, size float64) error {
	font, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return err
	}
	face := truetype.NewFace(font, &truetype.Options{Size: size})
	dc.SetFontFace(face)
	return nil
}

// PNG renders the chart and returns the encoded image
func (c *Chart) PNG(history []models.GlucoseSample, pred models.Prediction) ([]byte, error) {
	if len(history) == 0 && len(pred) == 0 {
		return nil, fmt.Errorf("nothing to render")
	}

	start, end := c.timeBounds(history, pred)
	minVal, maxVal := c.valueBounds(history, pred)

	dc := gg.NewContext(chartWidth, chartHeight)

	// Dark background
	dc.SetRGB255(27, 38, 54)
	dc.Clear()

	toX := func(at time.Time) float64 {
		span := end.Sub(start).Seconds()
		if span <= 0 {
			return margin
		}
		return margin + (float64(chartWidth)-2*margin)*at.Sub(start).Seconds()/span
	}
	toY := func(value float64) float64 {
		span := maxVal - minVal
		if span <= 0 {
			return chartHeight / 2
		}
		return float64(chartHeight) - margin - (float64(chartHeight)-2*margin)*(value-minVal)/span
	}

	// Target band
	if len(c.Targets) > 0 {
		lo, hi := c.Targets.At(start)
		dc.SetRGBA255(74, 222, 128, 60)
		dc.DrawRectangle(margin, toY(hi), float64(chartWidth)-2*margin, toY(lo)-toY(hi))
		dc.Fill()
	}

	// History as a solid line
	dc.SetRGB255(74, 222, 128)
	dc.SetLineWidth(2)
	for i := 1; i < len(history); i++ {
		dc.DrawLine(toX(history[i-1].Date), toY(history[i-1].Value), toX(history[i].Date), toY(history[i].Value))
	}
	dc.Stroke()

	// Prediction as dots
	dc.SetRGB255(250, 204, 21)
	for _, p := range pred {
		dc.DrawCircle(toX(p.Date), toY(p.Value), 2.5)
		dc.Fill()
	}

	// Axis labels
	dc.SetRGB255(255, 255, 255)
	if err := c.loadFont(dc, 13); err == nil {
		dc.DrawStringAnchored(fmt.Sprintf("%.0f", maxVal), margin/2, margin, 0.5, 0.5)
		dc.DrawStringAnchored(fmt.Sprintf("%.0f", minVal), margin/2, float64(chartHeight)-margin, 0.5, 0.5)
		dc.DrawStringAnchored(start.Format("15:04"), margin, float64(chartHeight)-margin/2, 0.5, 0.5)
		dc.DrawStringAnchored(end.Format("15:04"), float64(chartWidth)-margin, float64(chartHeight)-margin/2, 0.5, 0.5)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile renders the chart to a PNG file
func (c *Chart) WriteFile(path string, history []models.GlucoseSample, pred models.Prediction) error {
	data, err := c.PNG(history, pred)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Chart) timeBounds(history []models.GlucoseSample, pred models.Prediction) (start, end time.Time) {
	if len(history) > 0 {
		start = history[0].Date
		end = history[len(history)-1].Date
	} else {
		start = pred[0].Date
		end = pred[0].Date
	}
	if len(pred) > 0 && pred[len(pred)-1].Date.After(end) {
		end = pred[len(pred)-1].Date
	}
	return start, end
}

func (c *Chart) valueBounds(history []models.GlucoseSample, pred models.Prediction) (minVal, maxVal float64) {
	minVal, maxVal = math.Inf(1), math.Inf(-1)
	for _, s := range history {
		minVal = math.Min(minVal, s.Value)
		maxVal = math.Max(maxVal, s.Value)
	}
	for _, p := range pred {
		minVal = math.Min(minVal, p.Value)
		maxVal = math.Max(maxVal, p.Value)
	}

	// Dynamic scaling with buffer
	buffer := 20.0
	minVal = math.Max(0, minVal-buffer)
	maxVal += buffer
	return minVal, maxVal
}
