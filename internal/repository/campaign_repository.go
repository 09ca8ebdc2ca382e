package repository

import (
	"context"
	"log/slog"

	"github.com/maheshrc27/crosspost-scheduler/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const CampaignPostsCollection = "campaign_posts"

// CampaignRepository reads the campaigns application's posts. Drafts never
// reach a publishing platform and are excluded.
type CampaignRepository interface {
	ListForUser(ctx context.Context, f ForeignPostFilter) ([]*models.CampaignPost, error)
}

type campaignRepository struct {
	coll *mongo.Collection
}

func NewCampaignRepository(db *mongo.Database) CampaignRepository {
	return &campaignRepository{coll: db.Collection(CampaignPostsCollection)}
}

func (r *campaignRepository) ListForUser(ctx context.Context, f ForeignPostFilter) ([]*models.CampaignPost, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "send_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(f.Offset)).
		SetLimit(int64(f.Limit))

	cursor, err := r.coll.Find(ctx, campaignFilter(f), opts)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer cursor.Close(ctx)

	var posts []*models.CampaignPost
	if err := cursor.All(ctx, &posts); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return posts, nil
}

func campaignFilter(f ForeignPostFilter) bson.M {
	account := "channels." + f.Platform + ".account_id"
	owners := bson.A{bson.M{"user_id": f.UserID, account: bson.M{"$in": bson.A{nil, ""}}}}
	if len(f.TargetAccountIDs) > 0 {
		owners = append(owners, bson.M{account: bson.M{"$in": f.TargetAccountIDs}})
	}

	filter := bson.M{
		"channels." + f.Platform: bson.M{"$exists": true},
		"status":                 bson.M{"$ne": "draft"},
		"$or":                    owners,
	}
	if len(f.Statuses) > 0 {
		status := bson.M{"$trim": bson.M{"input": bson.M{"$toLower": "$status"}}}
		filter["$expr"] = bson.M{"$in": bson.A{status, f.Statuses}}
	}
	return filter
}
