package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rigflip/config"
	"rigflip/models"
)

func testComps() config.CompsConfig {
	return config.CompsConfig{
		BaseValue:  150,
		ResaleCost: 40,
		CPUs:       []config.CompEntry{{Model: "i7-9700K", Value: 140}, {Model: "Ryzen 5 3600", Value: 75}},
		GPUs:       []config.CompEntry{{Model: "RTX 2070", Value: 200}},
		Urgent:     []string{"must go", "moving"},
		Bundle:     []string{"monitor"},
		RedFlags:   []string{"no returns", "not working"},
	}
}

func rig(price float64) *models.Listing {
	return &models.Listing{
		Title:    "Gaming PC i7-9700K RTX 2070",
		Price:    price,
		Location: "Toronto",
		CPUModel: "i7-9700K",
		GPUModel: "RTX 2070",
	}
}

func TestAppraiseQualityBands(t *testing.T) {
	a := NewCompsAppraiser(testComps())

	tests := []struct {
		price   float64
		roi     float64
		quality models.DealQuality
	}{
		{200, 104.2, models.QualityExcellent},
		{300, 44.1, models.QualityGood},
		{380, 16.7, models.QualityFair},
		{500, -9.3, models.QualityPoor},
	}

	for _, tt := range tests {
		l := rig(tt.price)
		a.Appraise(l)
		assert.Equal(t, 490.0, l.FairValue)
		assert.InDelta(t, tt.roi, l.ROI, 0.01, "price %v", tt.price)
		assert.Equal(t, tt.quality, l.DealQuality, "price %v", tt.price)
	}
}

func TestAppraiseMatchesModelLoosely(t *testing.T) {
	a := NewCompsAppraiser(testComps())

	l := &models.Listing{Price: 100, CPUModel: "ryzen 5 3600", Location: "Ottawa"}
	a.Appraise(l)

	assert.Equal(t, 225.0, l.FairValue)
	assert.Equal(t, models.QualityExcellent, l.DealQuality)
}

func TestAppraiseUnknown(t *testing.T) {
	a := NewCompsAppraiser(testComps())

	noParts := &models.Listing{Title: "Old office PC", Price: 80, CPUModel: "i3-2100"}
	a.Appraise(noParts)
	assert.Equal(t, models.QualityUnknown, noParts.DealQuality)
	assert.Zero(t, noParts.FairValue)
	assert.Nil(t, noParts.LegitimacyScore)

	noPrice := rig(0)
	a.Appraise(noPrice)
	assert.Equal(t, models.QualityUnknown, noPrice.DealQuality)
}

func TestAppraiseLegitimacy(t *testing.T) {
	a := NewCompsAppraiser(testComps())

	clean := rig(300)
	a.Appraise(clean)
	require.NotNil(t, clean.LegitimacyScore)
	assert.Equal(t, 100, *clean.LegitimacyScore)

	flagged := rig(300)
	flagged.Description = "Not working, no returns"
	a.Appraise(flagged)
	assert.Equal(t, 60, *flagged.LegitimacyScore)

	lowball := rig(100)
	lowball.Location = ""
	a.Appraise(lowball)
	assert.Equal(t, 65, *lowball.LegitimacyScore)
}

func TestAppraiseUrgentAndBundle(t *testing.T) {
	a := NewCompsAppraiser(testComps())

	l := rig(300)
	l.Title += " MUST GO comes with monitor"
	a.Appraise(l)

	assert.True(t, l.Urgent)
	assert.True(t, l.Bundle)

	plain := rig(300)
	a.Appraise(plain)
	assert.False(t, plain.Urgent)
	assert.False(t, plain.Bundle)
}
