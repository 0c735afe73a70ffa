package analysis

import (
	"context"
	"fmt"
	"sort"

	"github.com/jengzang/fieldscan-backend-go/internal/models"
	"github.com/jengzang/fieldscan-backend-go/internal/raster"
)

// NDVI drop detector settings
const (
	ndviPriorLimit   = 5
	ndviBaselineSize = 3
	ndviDropDelta    = 0.20
)

// NDVIDrop compares the current NDVI mean against the mean of the three most
// recent prior NDVI means. prior must be ordered newest first. It reports
// fired when the baseline exceeds the current mean by at least 0.20.
func NDVIDrop(current models.IndexSet, prior []*models.Observation) (baseline, currentMean, delta float64, fired bool) {
	currentMean, ok := current.Mean("NDVI")
	if !ok {
		return 0, 0, 0, false
	}

	var means []float64
	for _, o := range prior {
		if v, ok := o.IndicesNative.Mean("NDVI"); ok {
			means = append(means, v)
		}
	}
	if len(means) < ndviBaselineSize {
		return 0, currentMean, 0, false
	}

	for _, v := range means[:ndviBaselineSize] {
		baseline += v
	}
	baseline /= ndviBaselineSize
	delta = baseline - currentMean
	return baseline, currentMean, delta, delta >= ndviDropDelta
}

func (r *run) checkNDVIDrop(ctx context.Context, obs *models.Observation) error {
	if _, ok := obs.IndicesNative.Mean("NDVI"); !ok {
		return nil
	}
	prior, err := r.db.Observations.Recent(ctx, r.parcel.ID, obs.ID, ndviPriorLimit)
	if err != nil {
		return err
	}
	baseline, current, delta, fired := NDVIDrop(obs.IndicesNative, prior)
	if !fired {
		return nil
	}
	r.logger.Info("NDVI drop detected", "baseline", baseline, "current", current, "delta", delta)
	return r.alert(ctx, models.AlertNDVIDrop,
		fmt.Sprintf("NDVI dropped by %.2f against recent baseline.", delta),
		map[string]interface{}{"baseline": baseline, "current": current, "delta": delta})
}

func keys(m map[string]*raster.Grid) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}
