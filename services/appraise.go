package services

import (
	"math"
	"strings"

	"rigflip/config"
	"rigflip/models"
)

const (
	redFlagPenalty    = 20
	lowballPenalty    = 25
	noLocationPenalty = 10
	lowballRatio      = 0.4
	excellentROI      = 50
	goodROI           = 25
	fairROI           = 10
)

// CompsAppraiser prices a listing from a table of used-market part values.
type CompsAppraiser struct {
	comps config.CompsConfig
	cpus  map[string]float64
	gpus  map[string]float64
}

func NewCompsAppraiser(comps config.CompsConfig) *CompsAppraiser {
	a := &CompsAppraiser{
		comps: comps,
		cpus:  make(map[string]float64, len(comps.CPUs)),
		gpus:  make(map[string]float64, len(comps.GPUs)),
	}
	for _, c := range comps.CPUs {
		a.cpus[modelKey(c.Model)] = c.Value
	}
	for _, g := range comps.GPUs {
		a.gpus[modelKey(g.Model)] = g.Value
	}
	return a
}

func modelKey(model string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.ToLower(model))
}

// Appraise fills in fair value, ROI, quality, urgency, bundle and
// legitimacy. A listing without a price or without any recognised part is
// rated unknown.
func (a *CompsAppraiser) Appraise(l *models.Listing) {
	text := strings.ToLower(l.Title + " " + l.Description + " " + strings.Join(l.Keywords, " "))
	l.Urgent = containsAny(text, a.comps.Urgent)
	l.Bundle = containsAny(text, a.comps.Bundle)

	cpu, cpuKnown := a.cpus[modelKey(l.CPUModel)]
	gpu, gpuKnown := a.gpus[modelKey(l.GPUModel)]
	if l.Price <= 0 || (!cpuKnown && !gpuKnown) {
		l.FairValue = 0
		l.ROI = 0
		l.DealQuality = models.QualityUnknown
		l.LegitimacyScore = nil
		return
	}

	l.FairValue = a.comps.BaseValue + cpu + gpu
	cost := l.Price + a.comps.ResaleCost
	l.ROI = math.Round((l.FairValue-cost)/cost*1000) / 10
	l.DealQuality = qualityFor(l.ROI)

	score := legitimacy(l, text, a.comps.RedFlags)
	l.LegitimacyScore = &score
}

func qualityFor(roi float64) models.DealQuality {
	switch {
	case roi >= excellentROI:
		return models.QualityExcellent
	case roi >= goodROI:
		return models.QualityGood
	case roi >= fairROI:
		return models.QualityFair
	default:
		return models.QualityPoor
	}
}

func legitimacy(l *models.Listing, text string, redFlags []string) int {
	score := 100
	for _, flag := range redFlags {
		if strings.Contains(text, strings.ToLower(flag)) {
			score -= redFlagPenalty
		}
	}
	if l.FairValue > 0 && l.Price < l.FairValue*lowballRatio {
		score -= lowballPenalty
	}
	if l.Location == "" {
		score -= noLocationPenalty
	}
	return max(0, min(100, score))
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if p != "" && strings.Contains(text, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
