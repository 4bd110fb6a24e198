package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore backs Store with go.mongodb.org/mongo-driver: typed bson.M
// filters, with an atomic status-guarded UpdateOne making the completion
// transition idempotent.
type MongoStore struct {
	users *mongo.Collection
	games *mongo.Collection
	moves *mongo.Collection
}

// NewMongoStore wraps the users, games, and moves collections.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		users: db.Collection("users"),
		games: db.Collection("games"),
		moves: db.Collection("moves"),
	}
}

// EnsureIndexes creates the unique indexes the schema relies on:
// users.username, users.email, and moves (game_id, ordinal). Call once at
// startup.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
	}); err != nil {
		return err
	}
	_, err := s.moves.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "game_id", Value: 1}, {Key: "ordinal", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (s *MongoStore) UpsertGame(ctx context.Context, g Game) error {
	_, err := s.games.ReplaceOne(ctx, bson.M{"_id": g.ID}, gameDoc(g), options.Replace().SetUpsert(true))
	return err
}

// InsertMove inserts the move row and folds the resulting position/clock
// fields onto the game row in the same call, idempotent on the
// (game_id, ordinal) unique index: a duplicate-key error from a retried
// delivery is swallowed rather than surfaced.
func (s *MongoStore) InsertMove(ctx context.Context, m Move, fen, pgn string, whiteRemainingMs, blackRemainingMs int64, activeColor string, timerStamp time.Time) error {
	_, err := s.moves.InsertOne(ctx, moveDoc(m))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return err
	}

	_, err = s.games.UpdateOne(ctx, bson.M{"_id": m.GameID}, bson.M{"$set": bson.M{
		"fen":                fen,
		"pgn":                pgn,
		"white_remaining_ms": whiteRemainingMs,
		"black_remaining_ms": blackRemainingMs,
		"active_color":       activeColor,
		"timer_last_stamp":   timerStamp,
	}})
	return err
}

// CompleteGame filters the game update on status != "completed" so a
// retried call after a successful prior write matches zero documents and
// applies no rating delta twice.
func (s *MongoStore) CompleteGame(ctx context.Context, gameID string, g Game, updates []RatingUpdate) error {
	res, err := s.games.UpdateOne(ctx,
		bson.M{"_id": gameID, "status": bson.M{"$ne": "completed"}},
		bson.M{"$set": bson.M{
			"status":       g.Status,
			"result":       g.Result,
			"winner_id":    g.WinnerID,
			"end_reason":   g.EndReason,
			"completed_at": g.CompletedAt,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return nil // already completed by a prior delivery
	}

	for _, u := range updates {
		delta := bson.M{
			"elo_rating":   u.Delta,
			"games_played": 1,
		}
		switch {
		case u.Won:
			delta["games_won"] = 1
		case u.Lost:
			delta["games_lost"] = 1
		case u.Drawn:
			delta["games_drawn"] = 1
		}
		if _, err := s.users.UpdateOne(ctx,
			bson.M{"_id": u.UserID},
			bson.M{"$inc": delta, "$set": bson.M{"updated_at": g.CompletedAt}},
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *MongoStore) GetGame(ctx context.Context, gameID string) (Game, error) {
	var doc gameBSON
	err := s.games.FindOne(ctx, bson.M{"_id": gameID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return Game{}, ErrNotFound
	}
	if err != nil {
		return Game{}, err
	}
	return doc.toGame(), nil
}

func (s *MongoStore) ListMoves(ctx context.Context, gameID string, limit, offset int) ([]Move, error) {
	opts := options.Find().SetSort(bson.D{{Key: "ordinal", Value: 1}})
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.moves.Find(ctx, bson.M{"game_id": gameID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []moveBSON
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]Move, len(docs))
	for i, d := range docs {
		out[i] = d.toMove()
	}
	return out, nil
}

func (s *MongoStore) GetUser(ctx context.Context, userID string) (User, error) {
	var doc userBSON
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return doc.toUser(), nil
}

// The *BSON types below give the collections a stable wire shape
// independent of the Store interface's Go field names.

type gameBSON struct {
	ID               string    `bson:"_id"`
	WhiteID          string    `bson:"white_id,omitempty"`
	BlackID          string    `bson:"black_id,omitempty"`
	GameMode         string    `bson:"game_mode"`
	TimeControlMs    int64     `bson:"time_control_ms"`
	IncrementMs      int64     `bson:"increment_ms"`
	DelayMs          int64     `bson:"delay_ms"`
	DelayMode        string    `bson:"delay_mode"`
	FEN              string    `bson:"fen"`
	PGN              string    `bson:"pgn"`
	WhiteRemainingMs int64     `bson:"white_remaining_ms"`
	BlackRemainingMs int64     `bson:"black_remaining_ms"`
	ActiveColor      string    `bson:"active_color"`
	TimerLastStamp   time.Time `bson:"timer_last_stamp"`
	Status           string    `bson:"status"`
	Result           string    `bson:"result,omitempty"`
	WinnerID         string    `bson:"winner_id,omitempty"`
	EndReason        string    `bson:"end_reason,omitempty"`
	StartedAt        time.Time `bson:"started_at,omitempty"`
	CompletedAt      time.Time `bson:"completed_at,omitempty"`
}

func gameDoc(g Game) gameBSON {
	return gameBSON{
		ID: g.ID, WhiteID: g.WhiteID, BlackID: g.BlackID, GameMode: g.GameMode,
		TimeControlMs: g.TimeControlMs, IncrementMs: g.IncrementMs, DelayMs: g.DelayMs,
		DelayMode: g.DelayMode, FEN: g.FEN, PGN: g.PGN,
		WhiteRemainingMs: g.WhiteRemainingMs, BlackRemainingMs: g.BlackRemainingMs,
		ActiveColor: g.ActiveColor, TimerLastStamp: g.TimerLastStamp, Status: g.Status,
		Result: g.Result, WinnerID: g.WinnerID, EndReason: g.EndReason,
		StartedAt: g.StartedAt, CompletedAt: g.CompletedAt,
	}
}

func (d gameBSON) toGame() Game {
	return Game{
		ID: d.ID, WhiteID: d.WhiteID, BlackID: d.BlackID, GameMode: d.GameMode,
		TimeControlMs: d.TimeControlMs, IncrementMs: d.IncrementMs, DelayMs: d.DelayMs,
		DelayMode: d.DelayMode, FEN: d.FEN, PGN: d.PGN,
		WhiteRemainingMs: d.WhiteRemainingMs, BlackRemainingMs: d.BlackRemainingMs,
		ActiveColor: d.ActiveColor, TimerLastStamp: d.TimerLastStamp, Status: d.Status,
		Result: d.Result, WinnerID: d.WinnerID, EndReason: d.EndReason,
		StartedAt: d.StartedAt, HasStartedAt: !d.StartedAt.IsZero(),
		CompletedAt: d.CompletedAt, HasCompletedAt: !d.CompletedAt.IsZero(),
	}
}

type moveBSON struct {
	ID          string    `bson:"_id"`
	GameID      string    `bson:"game_id"`
	Ordinal     int       `bson:"ordinal"`
	Color       string    `bson:"color"`
	From        string    `bson:"from"`
	To          string    `bson:"to"`
	SAN         string    `bson:"san"`
	Captured    string    `bson:"captured,omitempty"`
	IsCheck     bool      `bson:"is_check"`
	IsCheckmate bool      `bson:"is_checkmate"`
	IsCastle    bool      `bson:"is_castle"`
	IsEnPassant bool      `bson:"is_en_passant"`
	Promotion   string    `bson:"promotion,omitempty"`
	ElapsedMs   int64     `bson:"elapsed_ms"`
	Timestamp   time.Time `bson:"ts"`
}

func moveDoc(m Move) moveBSON {
	return moveBSON{
		ID: m.ID, GameID: m.GameID, Ordinal: m.Ordinal, Color: m.Color,
		From: m.From, To: m.To, SAN: m.SAN, Captured: m.Captured,
		IsCheck: m.IsCheck, IsCheckmate: m.IsCheckmate, IsCastle: m.IsCastle,
		IsEnPassant: m.IsEnPassant, Promotion: m.Promotion, ElapsedMs: m.ElapsedMs,
		Timestamp: m.Timestamp,
	}
}

func (d moveBSON) toMove() Move {
	return Move{
		ID: d.ID, GameID: d.GameID, Ordinal: d.Ordinal, Color: d.Color,
		From: d.From, To: d.To, SAN: d.SAN, Captured: d.Captured,
		IsCheck: d.IsCheck, IsCheckmate: d.IsCheckmate, IsCastle: d.IsCastle,
		IsEnPassant: d.IsEnPassant, Promotion: d.Promotion, ElapsedMs: d.ElapsedMs,
		Timestamp: d.Timestamp,
	}
}

type userBSON struct {
	ID           string    `bson:"_id"`
	Username     string    `bson:"username"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"password_hash"`
	EloRating    float64   `bson:"elo_rating"`
	GamesPlayed  int       `bson:"games_played"`
	GamesWon     int       `bson:"games_won"`
	GamesLost    int       `bson:"games_lost"`
	GamesDrawn   int       `bson:"games_drawn"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func (d userBSON) toUser() User {
	return User{
		ID: d.ID, Username: d.Username, Email: d.Email, PasswordHash: d.PasswordHash,
		EloRating: d.EloRating, GamesPlayed: d.GamesPlayed, GamesWon: d.GamesWon,
		GamesLost: d.GamesLost, GamesDrawn: d.GamesDrawn,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}
