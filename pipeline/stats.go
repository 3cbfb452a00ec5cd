package pipeline

import (
	"time"

	"rigflip/models"
)

// PipelineStats aggregates tracked deals. SuccessRate is the fraction of
// deals that sold; AvgROI is a percentage over sold deals with a positive
// cost basis.
type PipelineStats struct {
	TotalDeals    int                  `json:"total_deals"`
	ByStage       map[models.Stage]int `json:"by_stage"`
	TotalInvested float64              `json:"total_invested"`
	TotalRevenue  float64              `json:"total_revenue"`
	TotalProfit   float64              `json:"total_profit"`
	SuccessRate   float64              `json:"success_rate"`
	AvgTimeToSale time.Duration        `json:"avg_time_to_sale"`
	AvgROI        float64              `json:"avg_roi"`
}

// GetStats aggregates over every tracked deal.
func (p *Pipeline) GetStats() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return computeStats(p.deals)
}

func computeStats(deals map[string]*models.PipelineDeal) PipelineStats {
	st := PipelineStats{ByStage: make(map[models.Stage]int, len(models.Stages))}
	for _, stage := range models.Stages {
		st.ByStage[stage] = 0
	}

	var (
		sold     int
		saleTime time.Duration
		roiSum   float64
		roiDeals int
	)
	for _, d := range deals {
		st.TotalDeals++
		st.ByStage[d.Stage]++
		st.TotalInvested += d.Costs.Total
		st.TotalRevenue += d.Revenue.Total

		if !isSale(d) {
			continue
		}
		sold++
		saleTime += timeToSale(d)
		if d.Costs.Total > 0 {
			roiSum += (d.Revenue.Total - d.Costs.Total) / d.Costs.Total * 100
			roiDeals++
		}
	}

	st.TotalProfit = st.TotalRevenue - st.TotalInvested
	if st.TotalDeals > 0 {
		st.SuccessRate = float64(sold) / float64(st.TotalDeals)
	}
	if sold > 0 {
		st.AvgTimeToSale = saleTime / time.Duration(sold)
	}
	if roiDeals > 0 {
		st.AvgROI = roiSum / float64(roiDeals)
	}
	return st
}

func isSale(d *models.PipelineDeal) bool {
	return d.Stage == models.StageSold || (d.Stage == models.StageArchived && d.Revenue.SalePrice > 0)
}

// timeToSale measures from entering the pipeline to first entering sold,
// or to archiving when the sale was recorded without a sold stage.
func timeToSale(d *models.PipelineDeal) time.Duration {
	var archivedAt time.Time
	for _, e := range d.StageHistory {
		switch e.Stage {
		case models.StageSold:
			return e.EnteredAt.Sub(d.AddedToPipeline)
		case models.StageArchived:
			archivedAt = e.EnteredAt
		}
	}
	if archivedAt.IsZero() {
		return 0
	}
	return archivedAt.Sub(d.AddedToPipeline)
}
