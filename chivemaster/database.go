package chivemaster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
	dbOperationTimeout = 30 * time.Second
)

// DBI is the persistence gateway consumed by the reconcilers and command
// handlers. It holds no business logic - typed CRUD only, with
// save-or-replace semantics on each entity's primary key.
type DBI interface {
	DB() *gorm.DB

	VerificationRequests(ctx context.Context) ([]VerificationRequest, error)
	VerificationRequestByID(ctx context.Context, externalID int64) (*VerificationRequest, error)
	VerificationRequestsByUser(ctx context.Context, userID string) ([]VerificationRequest, error)
	VerificationRequestsLike(ctx context.Context, prefix string) ([]VerificationRequest, error)
	SaveVerificationRequest(ctx context.Context, v *VerificationRequest) error
	DeleteVerificationRequest(ctx context.Context, externalID int64) error

	Connections(ctx context.Context) ([]Connection, error)
	ConnectionByID(ctx context.Context, externalID int64) (*Connection, error)
	ConnectionsByUser(ctx context.Context, userID string) ([]Connection, error)
	ConnectedUserIDs(ctx context.Context) ([]string, error)
	ExternalIDs(ctx context.Context) ([]int64, error)
	SaveConnection(ctx context.Context, c *Connection) error
	DeleteConnection(ctx context.Context, externalID int64) error

	RoleThresholds(ctx context.Context) ([]RoleThreshold, error)
	SaveRoleThreshold(ctx context.Context, r *RoleThreshold) error
	DeleteRoleThreshold(ctx context.Context, roleID string) error

	AnnouncementChannels(ctx context.Context) ([]AnnouncementChannel, error)
	SaveAnnouncementChannel(ctx context.Context, c *AnnouncementChannel) error
	DeleteAnnouncementChannel(ctx context.Context, channelID string) error

	Candidates(ctx context.Context) ([]Candidate, error)
	CandidateByUser(ctx context.Context, userID string) (*Candidate, error)
	SaveCandidate(ctx context.Context, c *Candidate) error
	DeleteCandidate(ctx context.Context, userID string) error

	MatchByChannel(ctx context.Context, channelID string) (*Match, error)
	MatchByUser(ctx context.Context, userID string) (*Match, error)
	SaveMatch(ctx context.Context, m *Match) error
	DeleteMatch(ctx context.Context, channelID string) error
}

// CreateDB opens (creating if necessary) the sqlite database at the given
// path, applies connection pragmas and migrates the schema. A nil gormLogger
// leaves GORM's default logger in place.
func CreateDB(
	ctx context.Context,
	path string,
	gormLogger logger.Interface,
) (*gorm.DB, error) {
	gormConfig := &gorm.Config{}
	if gormLogger != nil {
		gormConfig.Logger = gormLogger
	}
	db, err := gorm.Open(sqlite.Open(path), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
	sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
	sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)

	for _, pragma := range sqliteExecPragma {
		if rv := db.WithContext(ctx).Exec(pragma); rv.Error != nil {
			return nil, fmt.Errorf("error executing %q: %w", pragma, rv.Error)
		}
	}

	if err = db.WithContext(ctx).AutoMigrate(
		&VerificationRequest{},
		&Connection{},
		&RoleThreshold{},
		&AnnouncementChannel{},
		&Candidate{},
		&Match{},
	); err != nil {
		return nil, fmt.Errorf("error migrating schema: %w", err)
	}

	return db, nil
}

// database wraps a GORM connection, serializing writes and bounding each
// operation with a timeout. It implements DBI.
type database struct {
	db     *gorm.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// NewDatabase initializes a new database instance backed by the given GORM
// connection.
func NewDatabase(db *gorm.DB, log *slog.Logger) DBI {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:     db,
		logger: log.With(loggerNameKey, "writedb"),
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

// ctxDB returns the connection bound to ctx, adding the default operation
// timeout when the caller didn't set a deadline. The returned cancel func
// must always be called.
func (d *database) ctxDB(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
		return d.db.WithContext(ctx), cancel
	}
	return d.db.WithContext(ctx), func() {}
}

func (d *database) save(ctx context.Context, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	db, cancel := d.ctxDB(ctx)
	defer cancel()
	return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(value).Error
}

func (d *database) VerificationRequests(ctx context.Context) (
	[]VerificationRequest,
	error,
) {
	db, cancel := d.ctxDB(ctx)
	defer cancel()
	var requests []VerificationRequest
	rv := db.Order("created_at asc, external_id asc").Find(&requests)
	return requests, rv.Error
}

func (d *database) VerificationRequestByID(
	ctx context.Context,
	externalID int64,
) (*VerificationRequest, error) {
	db, cancel := d.ctxDB(ctx)
	defer cancel()
	var request VerificationRequest
	if rv := db.Where(
		"external_id = ?",
		externalID,
	).Take(&request); rv.Error != nil {
		if errors.Is(rv.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, rv.Error
	}
	return &request, nil
}

func (d *database) VerificationRequestsByUser(
	ctx context.Context,
	userID string,
) ([]VerificationRequest, error) {
	db, cancel := d.ctxDB(ctx)
	defer cancel()
	var requests []VerificationRequest
	rv := db.Where("user_id = ?", userID).Order("created_at asc").Find(&requests)
	return requests, rv.Error
}

// VerificationRequestsLike matches pending requests whose external ID or
// display name starts with the given prefix, for admin autocomplete.
func (d *database) VerificationRequestsLike(
	ctx context.Context,
	prefix string,
) ([]VerificationRequest, error) {
	db, cancel := d.ctxDB(ctx)
	defer cancel()
	var requests []VerificationRequest
	pattern := prefix + "%"
	rv := db.Where(
		"CAST(external_id AS TEXT) LIKE ? OR display_name LIKE ?",
		pattern,
		pattern,
	).Limit(25).Find(&requests)
	return requests, rv.Error
}

func (d *database) SaveVerificationRequest(
	ctx context.Context,
	v *VerificationRequest,
) error {
	return d.save(ctx, v)
}

func (d *database) DeleteVerificationRequest(
	ctx context.Context,
	externalID int64,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	db, cancel := d.ctxDB(ctx)
	defer cancel()
	return db.Delete(&VerificationRequest{}, "external_id = ?", externalID).Error
}

func (d *database) Connections(ctx context.Context) ([]Connection, error) {
	db, cancel := d.ctxDB(ctx)
	defer cancel()
	var connections []Connection
	rv := db.Order("external_id asc").Find(&connections)
	return connections, rv.Error
}

func (d *database) ConnectionByID(ctx context.Context, externalID int64) (
	*Connection,
	error,
) {
	db, cancel := d.ctxDB(ctx)
	defer cancel()
	var connection Connection
	if rv := db.Where(
		"external_id = ?",
		externalID,
	).Take(&connection); rv.Error != nil {
		if errors.Is(rv.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, rv.Error
	}
	return &connection, nil
}

func (d *database) ConnectionsByUser(ctx context.Context, userID string) (
	[]Connection,
	error,
) {
	db, cancel := d.ctxDB(ctx)
	defer cancel()
	var connections []Connection
	rv := db.Where(
		"user_id = ?",
		userID,
	).Order("external_id asc").Find(&connections)
	return connections, rv.Error
}

// ConnectedUserIDs returns the distinct discord users holding at least one
// connection, in a stable order.
func (d *database) ConnectedUserIDs(ctx context.Context) ([]string, error) {
	db, cancel := d.ctxDB(ctx)
	defer cancel()
	var userIDs []string
	rv := db.Model(&Connection{}).Distinct("user_id").Order(
		"user_id asc",
	).Pluck("user_id", &userIDs)
	return userIDs, rv.Error
}

func (d *database) ExternalIDs(ctx context.Context) ([]int64, error) {
	db, cancel := d.ctxDB(ctx)
	defer cancel()
	var ids []int64
	rv := db.Model(&Connection{}).Order("external_id asc").Pluck(
		"external_id",
		&ids,
	)
	return ids, rv.Error
}

func (d *database) SaveConnection(ctx context.Context, c *Connection) error {
	return d.save(ctx, c)
}

func (d *database) DeleteConnection(
	ctx context.Context,
	externalID int64,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	db, cancel := d.ctxDB(ctx)
	defer cancel()
	return db.Delete(&Connection{}, "external_id = ?", externalID).Error
}

// RoleThresholds returns all configured thresholds ordered by descending
// minimum score, so the first qualifying exclusive row is the target tier.
func (d *database) RoleThresholds(ctx context.Context) (
	[]RoleThreshold,
	error,
) {
	db, cancel := d.ctxDB(ctx)
	defer cancel()
	var thresholds []RoleThreshold
	rv := db.Order("min_score desc, role_id desc").Find(&thresholds)
	return thresholds, rv.Error
}

func (d *database) SaveRoleThreshold(
	ctx context.Context,
	r *RoleThreshold,
) error {
	return d.save(ctx, r)
}

func (d *database) DeleteRoleThreshold(
	ctx context.Context,
	roleID string,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	db, cancel := d.ctxDB(ctx)
	defer cancel()
	return db.Delete(&RoleThreshold{}, "role_id = ?", roleID).Error
}

func (d *database) AnnouncementChannels(ctx context.Context) (
	[]AnnouncementChannel,
	error,
) {
	db, cancel := d.ctxDB(ctx)
	defer cancel()
	var channels []AnnouncementChannel
	rv := db.Order("channel_id asc").Find(&channels)
	return channels, rv.Error
}

func (d *database) SaveAnnouncementChannel(
	ctx context.Context,
	c *AnnouncementChannel,
) error {
	return d.save(ctx, c)
}

func (d *database) DeleteAnnouncementChannel(
	ctx context.Context,
	channelID string,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	db, cancel := d.ctxDB(ctx)
	defer cancel()
	return db.Delete(&AnnouncementChannel{}, "channel_id = ?", channelID).Error
}

// Candidates returns the matching queue in enqueue order.
func (d *database) Candidates(ctx context.Context) ([]Candidate, error) {
	db, cancel := d.ctxDB(ctx)
	defer cancel()
	var candidates []Candidate
	rv := db.Order("created_at asc, user_id asc").Find(&candidates)
	return candidates, rv.Error
}

func (d *database) CandidateByUser(ctx context.Context, userID string) (
	*Candidate,
	error,
) {
	db, cancel := d.ctxDB(ctx)
	defer cancel()
	var candidate Candidate
	if rv := db.Where("user_id = ?", userID).Take(&candidate); rv.Error != nil {
		if errors.Is(rv.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, rv.Error
	}
	return &candidate, nil
}

func (d *database) SaveCandidate(ctx context.Context, c *Candidate) error {
	return d.save(ctx, c)
}

func (d *database) DeleteCandidate(ctx context.Context, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	db, cancel := d.ctxDB(ctx)
	defer cancel()
	return db.Delete(&Candidate{}, "user_id = ?", userID).Error
}

func (d *database) MatchByChannel(ctx context.Context, channelID string) (
	*Match,
	error,
) {
	db, cancel := d.ctxDB(ctx)
	defer cancel()
	var match Match
	if rv := db.Where("channel_id = ?", channelID).Take(&match); rv.Error != nil {
		if errors.Is(rv.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, rv.Error
	}
	return &match, nil
}

func (d *database) MatchByUser(ctx context.Context, userID string) (
	*Match,
	error,
) {
	db, cancel := d.ctxDB(ctx)
	defer cancel()
	var match Match
	if rv := db.Where(
		"user_a = ? OR user_b = ?",
		userID,
		userID,
	).Take(&match); rv.Error != nil {
		if errors.Is(rv.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, rv.Error
	}
	return &match, nil
}

func (d *database) SaveMatch(ctx context.Context, m *Match) error {
	return d.save(ctx, m)
}

func (d *database) DeleteMatch(ctx context.Context, channelID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	db, cancel := d.ctxDB(ctx)
	defer cancel()
	return db.Delete(&Match{}, "channel_id = ?", channelID).Error
}
