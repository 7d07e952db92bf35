package records

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepository persists records as documents.
type MongoRepository struct {
	client     *mongo.Client
	students   *mongo.Collection
	attendance *mongo.Collection
	marks      *mongo.Collection
	events     *mongo.Collection
}

// NewMongoRepository binds the record collections of db.
func NewMongoRepository(client *mongo.Client, db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		client:     client,
		students:   db.Collection("students"),
		attendance: db.Collection("attendances"),
		marks:      db.Collection("marks"),
		events:     db.Collection("record_events"),
	}
}

// EnsureIndexes creates the unique indexes the write rules rely on.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	if _, err := r.students.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "rollNo", Value: 1}}, Options: unique,
	}); err != nil {
		return errors.Wrap(err, "students index")
	}
	if _, err := r.attendance.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "rollNo", Value: 1}, {Key: "day", Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: "rollNo", Value: 1}, {Key: "date", Value: 1}}},
	}); err != nil {
		return errors.Wrap(err, "attendance indexes")
	}
	if _, err := r.marks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "rollNo", Value: 1}}, Options: unique,
	}); err != nil {
		return errors.Wrap(err, "marks index")
	}
	if _, err := r.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "eventId", Value: 1}}, Options: unique,
	}); err != nil {
		return errors.Wrap(err, "events index")
	}
	return nil
}

func (r *MongoRepository) insert(ctx context.Context, coll *mongo.Collection, doc any, what string) error {
	if _, err := coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return errors.Wrap(err, "insert "+what)
	}
	return nil
}

func findOne[T any](ctx context.Context, coll *mongo.Collection, filter bson.M, what string) (*T, error) {
	var out T
	if err := coll.FindOne(ctx, filter).Decode(&out); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "find "+what)
	}
	return &out, nil
}

func (r *MongoRepository) InsertStudent(ctx context.Context, st Student) error {
	return r.insert(ctx, r.students, st, "student")
}

func (r *MongoRepository) FindStudent(ctx context.Context, rollNo string) (*Student, error) {
	return findOne[Student](ctx, r.students, bson.M{"rollNo": rollNo}, "student")
}

func (r *MongoRepository) InsertAttendance(ctx context.Context, e AttendanceEntry) error {
	return r.insert(ctx, r.attendance, e, "attendance")
}

func (r *MongoRepository) FindAttendanceSince(ctx context.Context, rollNo string, since time.Time) (*AttendanceEntry, error) {
	return findOne[AttendanceEntry](ctx, r.attendance, bson.M{"rollNo": rollNo, "date": bson.M{"$gte": since}}, "attendance")
}

// ListAttendance pages entries in _id order, which follows insertion.
func (r *MongoRepository) ListAttendance(ctx context.Context, q AttendanceQuery) ([]AttendanceEntry, int64, error) {
	filter := bson.M{"rollNo": q.RollNo}
	if q.HasRange() {
		filter["date"] = bson.M{"$gte": q.From, "$lte": q.To}
	}
	total, err := r.attendance.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, errors.Wrap(err, "count attendance")
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetSkip(int64(q.Skip))
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := r.attendance.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list attendance")
	}
	var res []AttendanceEntry
	if err := cur.All(ctx, &res); err != nil {
		return nil, 0, errors.Wrap(err, "decode attendance")
	}
	return res, total, nil
}

func (r *MongoRepository) InsertMarks(ctx context.Context, m MarksEntry) error {
	return r.insert(ctx, r.marks, m, "marks")
}

func (r *MongoRepository) FindMarks(ctx context.Context, rollNo string) (*MarksEntry, error) {
	return findOne[MarksEntry](ctx, r.marks, bson.M{"rollNo": rollNo}, "marks")
}

// AppendEvent stores an audit event. Redelivered events are ignored.
func (r *MongoRepository) AppendEvent(ctx context.Context, ev RecordEvent) error {
	if err := r.insert(ctx, r.events, ev, "event"); err != nil && !errors.Is(err, ErrDuplicate) {
		return err
	}
	return nil
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

func (r *MongoRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}
