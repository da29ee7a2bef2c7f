package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"kombuciao-api/common"
	"kombuciao-api/models"
)

// ReportRepository is the storage ReportService needs. *models.ReportRepo
// implements it.
type ReportRepository interface {
	Insert(ctx context.Context, rep *models.Report) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Report, error)
	Exists(ctx context.Context, id primitive.ObjectID) (bool, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
	Views(ctx context.Context, pipeline mongo.Pipeline) ([]models.ReportView, int64, error)
	PushVoteIfAbsent(ctx context.Context, id primitive.ObjectID, v models.Vote) (*models.Report, error)
	PullVote(ctx context.Context, id, voteID primitive.ObjectID, now time.Time) (*models.Report, error)
	DeleteIfSoleVote(ctx context.Context, id, voteID primitive.ObjectID) error
}

// StoreLookup answers whether a store exists.
type StoreLookup interface {
	Exists(ctx context.Context, id primitive.ObjectID) (bool, error)
}

var (
	_ ReportRepository = (*models.ReportRepo)(nil)
	_ StoreLookup      = (*models.StoreRepo)(nil)
)

// maxVoteRemovalAttempts bounds how often DeleteVote re-reads a report whose
// votes changed between the read and the guarded write.
const maxVoteRemovalAttempts = 3

// CreateReportInput is the body of a report submission.
type CreateReportInput struct {
	StoreID     string          `json:"storeId" validate:"required,objectid"`
	Flavors     []models.Flavor `json:"flavors" validate:"required,min=1,dive,flavor"`
	Description string          `json:"description"`
	VoterID     string          `json:"voterId"`
}

// ListReportsParams filters a report listing. Zero values mean no filter.
type ListReportsParams struct {
	StoreID string
	Since   time.Time
	Page    Page
}

// VoteRemoval is the outcome of DeleteVote. When the removed vote was the
// last one, the report is gone: ReportDeleted is set and Report is nil.
type VoteRemoval struct {
	ReportDeleted bool
	Report        *models.Report
}

// ReportService is the report ledger.
type ReportService struct {
	reports ReportRepository
	stores  StoreLookup
	now     func() time.Time
}

func NewReportService(reports ReportRepository, stores StoreLookup) *ReportService {
	return &ReportService{reports: reports, stores: stores, now: utcNow}
}

// Create stores a report on an existing store, seeded with the submitter's
// confirm vote.
func (s *ReportService) Create(ctx context.Context, in CreateReportInput) (*models.Report, error) {
	in.StoreID = strings.TrimSpace(in.StoreID)
	if err := models.Validate(in); err != nil {
		return nil, err
	}
	voterID := strings.TrimSpace(in.VoterID)
	if voterID == "" {
		return nil, common.NewValidationError("voterId is required")
	}

	storeID, err := parseID("storeId", in.StoreID)
	if err != nil {
		return nil, err
	}
	ok, err := s.stores.Exists(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.NewNotFoundError("store not found")
	}

	rep, err := models.NewReport(storeID, in.Flavors, strings.TrimSpace(in.Description), voterID, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.reports.Insert(ctx, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

// Get returns the report with its store summary.
func (s *ReportService) Get(ctx context.Context, id string) (*models.ReportView, error) {
	oid, err := parseID("report id", id)
	if err != nil {
		return nil, err
	}
	views, _, err := s.reports.Views(ctx, BuildReportViewPipeline(bson.D{{Key: "_id", Value: oid}}, Page{Number: 1, Size: 1}))
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, common.NewNotFoundError("report not found")
	}
	return &views[0], nil
}

// List returns one page of reports, most recently updated first, and the
// number of reports matching the filter.
func (s *ReportService) List(ctx context.Context, params ListReportsParams) ([]models.ReportView, int64, error) {
	if params.Page.Number == 0 && params.Page.Size == 0 {
		params.Page = Page{Number: DefaultPage, Size: DefaultPageSize}
	}
	page, err := NewPage(params.Page.Number, params.Page.Size)
	if err != nil {
		return nil, 0, err
	}

	filter := bson.D{}
	if params.StoreID != "" {
		storeID, err := parseID("storeId", params.StoreID)
		if err != nil {
			return nil, 0, err
		}
		filter = append(filter, bson.E{Key: "store", Value: storeID})
	}
	if !params.Since.IsZero() {
		filter = append(filter, bson.E{Key: "createdAt", Value: bson.D{{Key: "$gte", Value: params.Since}}})
	}
	return s.reports.Views(ctx, BuildReportViewPipeline(filter, page))
}

func (s *ReportService) Delete(ctx context.Context, id string) error {
	oid, err := parseID("report id", id)
	if err != nil {
		return err
	}
	return s.reports.Delete(ctx, oid)
}

// CreateVote records voterID's opinion on a report. A voter gets one vote
// per report, whatever its type.
func (s *ReportService) CreateVote(ctx context.Context, reportID, voterID string, t models.VoteType) (*models.Report, error) {
	voterID = strings.TrimSpace(voterID)
	if voterID == "" {
		return nil, common.NewAuthError("voter id is required")
	}
	oid, err := parseID("report id", reportID)
	if err != nil {
		return nil, err
	}
	vote := models.NewVote(voterID, t, s.now())
	if err := models.Validate(vote); err != nil {
		return nil, err
	}

	rep, err := s.reports.PushVoteIfAbsent(ctx, oid, vote)
	if err == nil {
		return rep, nil
	}
	if !errors.Is(err, models.ErrNoMatch) {
		return nil, err
	}

	exists, err := s.reports.Exists(ctx, oid)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, common.NewNotFoundError("report not found")
	}
	return nil, common.NewConflictError("you have already voted on this report")
}

// DeleteVote retracts voterID's own vote. Removing the last vote deletes
// the report, so a report never exists without votes.
func (s *ReportService) DeleteVote(ctx context.Context, reportID, voteID, voterID string) (VoteRemoval, error) {
	voterID = strings.TrimSpace(voterID)
	if voterID == "" {
		return VoteRemoval{}, common.NewValidationError("voter id is required")
	}
	rid, err := parseID("report id", reportID)
	if err != nil {
		return VoteRemoval{}, err
	}
	vid, err := parseID("vote id", voteID)
	if err != nil {
		return VoteRemoval{}, err
	}

	for attempt := 0; attempt < maxVoteRemovalAttempts; attempt++ {
		rep, err := s.reports.FindByID(ctx, rid)
		if err != nil {
			return VoteRemoval{}, err
		}
		vote := rep.FindVote(vid)
		if vote == nil {
			return VoteRemoval{}, common.NewNotFoundError("vote not found")
		}
		if vote.VoterID != voterID {
			return VoteRemoval{}, common.NewForbiddenError("unauthorized to delete this vote")
		}

		if len(rep.Votes) == 1 {
			err = s.reports.DeleteIfSoleVote(ctx, rid, vid)
			if err == nil {
				return VoteRemoval{ReportDeleted: true}, nil
			}
		} else {
			var updated *models.Report
			updated, err = s.reports.PullVote(ctx, rid, vid, s.now())
			if err == nil {
				return VoteRemoval{Report: updated}, nil
			}
		}
		if !errors.Is(err, models.ErrNoMatch) {
			return VoteRemoval{}, err
		}
		// The votes changed under us; look again.
	}
	return VoteRemoval{}, common.NewInternalError("services.ReportService.DeleteVote",
		fmt.Errorf("report %s kept changing after %d attempts", rid.Hex(), maxVoteRemovalAttempts))
}
