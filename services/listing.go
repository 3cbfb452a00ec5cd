package services

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"rigflip/identity"
	"rigflip/models"
	"rigflip/pipeline"
)

var log = logrus.WithField("component", "listings")

// DealTracker is the part of the pipeline the listing service feeds.
type DealTracker interface {
	GetDealByListing(listingID string) *models.PipelineDeal
	AddToPipeline(ctx context.Context, listing models.Listing, stage models.Stage) (*models.PipelineDeal, error)
}

type Appraiser interface {
	Appraise(l *models.Listing)
}

// ListingService takes scan results, appraises listings the pipeline has
// not seen and adds them at the scanner stage.
type ListingService struct {
	deals     DealTracker
	appraiser Appraiser
}

func NewListingService(deals DealTracker, appraiser Appraiser) *ListingService {
	return &ListingService{deals: deals, appraiser: appraiser}
}

// HandleResults returns how many listings were new to the pipeline and how
// many of those rated good or better.
func (s *ListingService) HandleResults(ctx context.Context, job *models.ScanJob, listings []models.Listing) (newListings, goodDeals int) {
	seen := make(map[string]bool, len(listings))
	for _, l := range listings {
		listing := l.Clone()
		if listing.Site == "" {
			listing.Site = job.Site
		}
		if listing.ID == "" {
			listing.ID = identity.Fingerprint(&listing)
		}
		if seen[listing.ID] || s.deals.GetDealByListing(listing.ID) != nil {
			continue
		}
		seen[listing.ID] = true

		if s.appraiser != nil {
			s.appraiser.Appraise(&listing)
		}

		if _, err := s.deals.AddToPipeline(ctx, listing, models.StageScanner); err != nil {
			if !errors.Is(err, pipeline.ErrDealExists) {
				log.WithError(err).WithField("listing", listing.ID).Warn("Failed to add listing to pipeline")
			}
			continue
		}
		newListings++
		if listing.IsGoodDeal() {
			goodDeals++
		}
	}

	log.WithFields(logrus.Fields{
		"search":     job.SearchName,
		"results":    len(listings),
		"new":        newListings,
		"good_deals": goodDeals,
	}).Info("Processed scan results")
	return newListings, goodDeals
}
