package models

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"kombuciao-api/common"
)

// Vote is one device's opinion on a report. It lives inside its report.
type Vote struct {
	ID        primitive.ObjectID `json:"_id" bson:"_id"`
	VoterID   string             `json:"voterId" bson:"voterId"`
	Type      VoteType           `json:"type" bson:"type" validate:"required,votetype"`
	CreatedAt time.Time          `json:"createdAt" bson:"createdAt"`
}

func NewVote(voterID string, t VoteType, now time.Time) Vote {
	return Vote{ID: primitive.NewObjectID(), VoterID: voterID, Type: t, CreatedAt: now}
}

// Report asserts that some flavors are available at a store. A report
// always holds at least one vote.
type Report struct {
	ID          primitive.ObjectID `json:"_id" bson:"_id"`
	Store       primitive.ObjectID `json:"store" bson:"store"`
	Flavors     []Flavor           `json:"flavors" bson:"flavors"`
	Description string             `json:"description" bson:"description"`
	Votes       []Vote             `json:"votes" bson:"votes"`
	CreatedAt   time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// NewReport builds a report seeded with its submitter's confirm vote.
func NewReport(store primitive.ObjectID, flavors []Flavor, description, voterID string, now time.Time) (*Report, error) {
	if store.IsZero() {
		return nil, common.NewValidationError("storeId is required")
	}
	if len(flavors) == 0 {
		return nil, common.NewValidationError("flavors must contain at least 1 item(s)")
	}
	if voterID == "" {
		return nil, common.NewValidationError("voterId is required")
	}
	return &Report{
		ID:          primitive.NewObjectID(),
		Store:       store,
		Flavors:     UniqueFlavors(flavors),
		Description: description,
		Votes:       []Vote{NewVote(voterID, VoteConfirm, now)},
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// FindVote returns the vote with the given id, or nil.
func (r *Report) FindVote(id primitive.ObjectID) *Vote {
	for i := range r.Votes {
		if r.Votes[i].ID == id {
			return &r.Votes[i]
		}
	}
	return nil
}

// HasVoter reports whether voterID already voted on r.
func (r *Report) HasVoter(voterID string) bool {
	for _, v := range r.Votes {
		if v.VoterID == voterID {
			return true
		}
	}
	return false
}

// ReportView is a report joined with a summary of its store. Store is nil
// when the store has since been deleted.
type ReportView struct {
	ID          primitive.ObjectID `json:"_id" bson:"_id"`
	StoreID     primitive.ObjectID `json:"storeId" bson:"storeId"`
	Store       *StoreSummary      `json:"store" bson:"store,omitempty"`
	Flavors     []Flavor           `json:"flavors" bson:"flavors"`
	Description string             `json:"description" bson:"description"`
	Votes       []Vote             `json:"votes" bson:"votes"`
	CreatedAt   time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// ReportRepo persists reports in MongoDB.
type ReportRepo struct {
	col *mongo.Collection
}

func NewReportRepo(col *mongo.Collection) *ReportRepo {
	return &ReportRepo{col: col}
}

func (r *ReportRepo) Insert(ctx context.Context, rep *Report) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.col.InsertOne(ctx, rep); err != nil {
		return common.ConvertMongoError("models.ReportRepo.Insert", err, "report not found")
	}
	return nil
}

func (r *ReportRepo) FindByID(ctx context.Context, id primitive.ObjectID) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var rep Report
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&rep); err != nil {
		return nil, common.ConvertMongoError("models.ReportRepo.FindByID", err, "report not found")
	}
	return &rep, nil
}

func (r *ReportRepo) Exists(ctx context.Context, id primitive.ObjectID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := r.col.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, common.ConvertMongoError("models.ReportRepo.Exists", err, "report not found")
	}
	return n > 0, nil
}

func (r *ReportRepo) Delete(ctx context.Context, id primitive.ObjectID) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return common.ConvertMongoError("models.ReportRepo.Delete", err, "report not found")
	}
	if res.DeletedCount == 0 {
		return common.NewNotFoundError("report not found")
	}
	return nil
}

type viewFacet struct {
	Results []ReportView `bson:"results"`
	Total   []struct {
		Value int64 `bson:"value"`
	} `bson:"total"`
}

// Views runs a pipeline ending in {$facet: {results, total}} over reports.
func (r *ReportRepo) Views(ctx context.Context, pipeline mongo.Pipeline) ([]ReportView, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cursor, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, 0, common.ConvertMongoError("models.ReportRepo.Views", err, "report not found")
	}
	defer cursor.Close(ctx)

	var facets []viewFacet
	if err := cursor.All(ctx, &facets); err != nil {
		return nil, 0, common.ConvertMongoError("models.ReportRepo.Views", err, "report not found")
	}

	views := []ReportView{}
	var total int64
	if len(facets) > 0 {
		if facets[0].Results != nil {
			views = facets[0].Results
		}
		if len(facets[0].Total) > 0 {
			total = facets[0].Total[0].Value
		}
	}
	return views, total, nil
}

// PushVoteIfAbsent appends v unless v.VoterID already voted on the report.
// The check and the append are one conditional update. ErrNoMatch means
// the report is missing or the voter already voted.
func (r *ReportRepo) PushVoteIfAbsent(ctx context.Context, id primitive.ObjectID, v Vote) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{"_id": id, "votes.voterId": bson.M{"$ne": v.VoterID}}
	update := bson.M{
		"$push": bson.M{"votes": v},
		"$set":  bson.M{"updatedAt": v.CreatedAt},
	}
	return r.findOneAndUpdate(ctx, "models.ReportRepo.PushVoteIfAbsent", filter, update)
}

// PullVote removes a vote only while the report holds at least two, so
// the vote list can never become empty. ErrNoMatch otherwise.
func (r *ReportRepo) PullVote(ctx context.Context, id, voteID primitive.ObjectID, now time.Time) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{
		"_id":       id,
		"votes._id": voteID,
		"votes.1":   bson.M{"$exists": true},
	}
	update := bson.M{
		"$pull": bson.M{"votes": bson.M{"_id": voteID}},
		"$set":  bson.M{"updatedAt": now},
	}
	return r.findOneAndUpdate(ctx, "models.ReportRepo.PullVote", filter, update)
}

// DeleteIfSoleVote deletes the report only while voteID is its single
// vote. ErrNoMatch otherwise.
func (r *ReportRepo) DeleteIfSoleVote(ctx context.Context, id, voteID primitive.ObjectID) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.col.DeleteOne(ctx, bson.M{
		"_id":       id,
		"votes":     bson.M{"$size": 1},
		"votes._id": voteID,
	})
	if err != nil {
		return common.ConvertMongoError("models.ReportRepo.DeleteIfSoleVote", err, "report not found")
	}
	if res.DeletedCount == 0 {
		return ErrNoMatch
	}
	return nil
}

func (r *ReportRepo) findOneAndUpdate(ctx context.Context, op string, filter, update bson.M) (*Report, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var rep Report
	err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&rep)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNoMatch
	}
	if err != nil {
		return nil, common.ConvertMongoError(op, err, "report not found")
	}
	return &rep, nil
}
