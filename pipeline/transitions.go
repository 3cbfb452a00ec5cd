package pipeline

import (
	"time"

	"github.com/google/uuid"

	"rigflip/models"
)

// Condition guards a transition. It sees the deal before the move.
type Condition func(d *models.PipelineDeal) bool

// Action runs once after the stage has changed and before stage tasks are
// generated.
type Action func(d *models.PipelineDeal, now time.Time)

type StageTransition struct {
	From      models.Stage
	To        models.Stage
	Condition Condition
	Action    Action
}

var transitions = []StageTransition{
	{From: models.StageScanner, To: models.StageAnalysis},
	{From: models.StageScanner, To: models.StageArchived},
	{From: models.StageAnalysis, To: models.StageContacted},
	{From: models.StageAnalysis, To: models.StageArchived},
	{From: models.StageContacted, To: models.StageNegotiating},
	{From: models.StageContacted, To: models.StageArchived},
	{From: models.StageNegotiating, To: models.StageScheduled},
	{From: models.StageNegotiating, To: models.StageArchived},
	{From: models.StageScheduled, To: models.StagePurchased, Condition: hasPurchaseCost, Action: recordPurchase},
	{From: models.StageScheduled, To: models.StageNegotiating},
	{From: models.StageScheduled, To: models.StageArchived},
	{From: models.StagePurchased, To: models.StageTesting},
	{From: models.StageTesting, To: models.StageRefurbing},
	{From: models.StageTesting, To: models.StageListed},
	{From: models.StageRefurbing, To: models.StageListed},
	{From: models.StageListed, To: models.StageListed, Action: relist},
	{From: models.StageListed, To: models.StageSold, Condition: hasSalePrice, Action: recordSale},
	{From: models.StageSold, To: models.StageArchived},
}

func findTransition(from, to models.Stage) (StageTransition, bool) {
	for _, t := range transitions {
		if t.From == from && t.To == to {
			return t, true
		}
	}
	return StageTransition{}, false
}

// NextStages lists the stages reachable from a stage, in table order.
func NextStages(from models.Stage) []models.Stage {
	var out []models.Stage
	for _, t := range transitions {
		if t.From == from {
			out = append(out, t.To)
		}
	}
	return out
}

func hasPurchaseCost(d *models.PipelineDeal) bool { return d.Costs.Purchase > 0 }

func hasSalePrice(d *models.PipelineDeal) bool { return d.Revenue.SalePrice > 0 }

// recordPurchase keeps the cost total consistent with its parts.
func recordPurchase(d *models.PipelineDeal, now time.Time) {
	c := &d.Costs
	c.Total = c.Purchase + c.Parts + c.Shipping + c.Fees + c.Other
}

func recordSale(d *models.PipelineDeal, now time.Time) {
	if d.Revenue.Total == 0 {
		d.Revenue.Total = d.Revenue.SalePrice + d.Revenue.Shipping
	}
}

func relist(d *models.PipelineDeal, now time.Time) {
	d.Actions = append(d.Actions, models.Action{
		ID:          uuid.NewString(),
		Type:        "relisted",
		Description: "Listing refreshed",
		At:          now,
	})
}
