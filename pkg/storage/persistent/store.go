package persistent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/husmancristian/qafastweb/pkg/models"
	"github.com/husmancristian/qafastweb/pkg/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Ensure Store implements storage.Store at compile time
var _ storage.Store = (*Store)(nil)

// ErrArtifactsDisabled is returned by StoreArtifact when MinIO is not configured.
var ErrArtifactsDisabled = errors.New("artifact storage is not configured")

// Store implements storage.Store using PostgreSQL and, optionally, MinIO.
type Store struct {
	db          *pgxpool.Pool // PostgreSQL connection pool
	minioClient *minio.Client // nil when artifact storage is disabled
	bucketName  string
	logger      *slog.Logger
}

// NewStore connects to PostgreSQL, applies the schema and, when
// minioEndpoint is set, prepares the artifact bucket.
func NewStore(pgDSN, minioEndpoint, minioAccessKey, minioSecretKey, bucketName string, useSSL bool, logger *slog.Logger) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// --- Connect to PostgreSQL ---
	dbpool, err := pgxpool.New(ctx, pgDSN)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	logger.Info("PostgreSQL connection pool established")

	if err := migrate(ctx, dbpool); err != nil {
		dbpool.Close()
		return nil, err
	}
	logger.Info("Database schema is up to date")

	s := &Store{db: dbpool, bucketName: bucketName, logger: logger}

	if minioEndpoint == "" {
		logger.Warn("MINIO_ENDPOINT not set, artifact upload disabled")
		return s, nil
	}

	// --- Connect to MinIO ---
	minioClient, err := minio.New(minioEndpoint, &minio.Options{Creds: credentials.NewStaticV4(minioAccessKey, minioSecretKey, ""), Secure: useSSL})
	if err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	logger.Info("MinIO client initialized", slog.String("endpoint", minioEndpoint))

	// --- Ensure MinIO Bucket Exists ---
	err = minioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
	if err != nil {
		exists, errBucketExists := minioClient.BucketExists(ctx, bucketName)
		if errBucketExists != nil || !exists {
			dbpool.Close()
			return nil, fmt.Errorf("failed to make/verify MinIO bucket '%s': %w", bucketName, err)
		}
		logger.Info("MinIO bucket already exists", slog.String("bucket", bucketName))
	} else {
		logger.Info("Successfully created MinIO bucket", slog.String("bucket", bucketName))
	}

	s.minioClient = minioClient
	return s, nil
}

func migrate(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	s.logger.Info("Closing persistent storage connections")
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// --- Test cases ---

func (s *Store) CreateCase(ctx context.Context, tc *models.TestCase) error {
	err := s.db.QueryRow(ctx, insertCaseSQL, tc.Name, tc.Description, tc.Steps, tc.ExpectedResult, tc.URL).
		Scan(&tc.ID, &tc.CreatedAt, &tc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert test case: %w", err)
	}
	return nil
}

func (s *Store) CreateCases(ctx context.Context, cases []models.TestCase) ([]models.TestCase, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op after commit

	out := make([]models.TestCase, len(cases))
	for i, tc := range cases {
		err := tx.QueryRow(ctx, insertCaseSQL, tc.Name, tc.Description, tc.Steps, tc.ExpectedResult, tc.URL).
			Scan(&tc.ID, &tc.CreatedAt, &tc.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert test case %q: %w", tc.Name, err)
		}
		out[i] = tc
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit test cases: %w", err)
	}
	s.logger.Info("Inserted test cases", slog.Int("count", len(out)))
	return out, nil
}

func (s *Store) GetCase(ctx context.Context, id int64) (*models.TestCase, error) {
	var tc models.TestCase
	err := s.db.QueryRow(ctx, getCaseSQL, id).
		Scan(&tc.ID, &tc.Name, &tc.Description, &tc.Steps, &tc.ExpectedResult, &tc.URL, &tc.CreatedAt, &tc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query test case %d: %w", id, err)
	}
	return &tc, nil
}

func (s *Store) ListCases(ctx context.Context) ([]models.TestCase, error) {
	rows, err := s.db.Query(ctx, listCasesSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query test cases: %w", err)
	}
	defer rows.Close()

	cases := []models.TestCase{}
	for rows.Next() {
		var tc models.TestCase
		if err := rows.Scan(&tc.ID, &tc.Name, &tc.Description, &tc.Steps, &tc.ExpectedResult, &tc.URL, &tc.CreatedAt, &tc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan test case row: %w", err)
		}
		cases = append(cases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating test case rows: %w", err)
	}
	return cases, nil
}

func (s *Store) DeleteCase(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, deleteCaseSQL, id)
	if err != nil {
		return fmt.Errorf("failed to delete test case %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	s.logger.Info("Deleted test case", slog.Int64("test_case_id", id))
	return nil
}

// --- Prompts ---

func (s *Store) CreatePrompt(ctx context.Context, p *models.Prompt) error {
	err := s.db.QueryRow(ctx, insertPromptSQL, p.TestCaseID, p.PromptText).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert prompt for test case %d: %w", p.TestCaseID, err)
	}
	return nil
}

func (s *Store) UpdateGeneratedCode(ctx context.Context, promptID int64, code string) error {
	tag, err := s.db.Exec(ctx, updatePromptCodeSQL, promptID, code)
	if err != nil {
		return fmt.Errorf("failed to update prompt %d: %w", promptID, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListPrompts(ctx context.Context, f storage.PromptFilter) ([]models.Prompt, error) {
	q := selectPromptsSQL
	var args []any
	if f.TestCaseID != 0 {
		args = append(args, f.TestCaseID)
		q += fmt.Sprintf(" WHERE test_case_id = $%d", len(args))
	}
	q += " ORDER BY id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query prompts: %w", err)
	}
	defer rows.Close()

	prompts := []models.Prompt{}
	for rows.Next() {
		var p models.Prompt
		if err := rows.Scan(&p.ID, &p.TestCaseID, &p.PromptText, &p.GeneratedCode, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan prompt row: %w", err)
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

func (s *Store) CountPrompts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, countPromptsSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count prompts: %w", err)
	}
	return n, nil
}

// --- Results ---

func (s *Store) CreateResult(ctx context.Context, r *models.TestResult) error {
	err := s.db.QueryRow(ctx, insertResultSQL,
		r.TestCaseID, r.Status, r.Logs, r.ScreenshotPath, r.ExecutionTime, r.ExecutedByAgent,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert result for test case %d: %w", r.TestCaseID, err)
	}
	s.logger.Info("Saved test result",
		slog.Int64("result_id", r.ID),
		slog.Int64("test_case_id", r.TestCaseID),
		slog.String("status", r.Status),
	)
	return nil
}

func (s *Store) GetResult(ctx context.Context, id int64) (*models.TestResult, error) {
	var r models.TestResult
	err := s.db.QueryRow(ctx, selectResultsSQL+" WHERE id = $1", id).
		Scan(&r.ID, &r.TestCaseID, &r.Status, &r.Logs, &r.ScreenshotPath, &r.ExecutionTime, &r.ExecutedByAgent, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query result %d: %w", id, err)
	}
	return &r, nil
}

func (s *Store) ListResults(ctx context.Context, f storage.ResultFilter) ([]models.TestResult, error) {
	var where []string
	var args []any
	if f.TestCaseID != 0 {
		args = append(args, f.TestCaseID)
		where = append(where, fmt.Sprintf("test_case_id = $%d", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	q := selectResultsSQL
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	results := []models.TestResult{}
	for rows.Next() {
		var r models.TestResult
		if err := rows.Scan(&r.ID, &r.TestCaseID, &r.Status, &r.Logs, &r.ScreenshotPath, &r.ExecutionTime, &r.ExecutedByAgent, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Artifacts ---

// StoreArtifact uploads data to the configured MinIO bucket.
func (s *Store) StoreArtifact(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	if s.minioClient == nil {
		return "", ErrArtifactsDisabled
	}
	uploadInfo, err := s.minioClient.PutObject(ctx, s.bucketName, objectName, reader, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact '%s': %w", objectName, err)
	}
	s.logger.Info("Stored artifact", slog.String("bucket", uploadInfo.Bucket), slog.String("key", uploadInfo.Key), slog.Int64("size", uploadInfo.Size))

	endpoint := s.minioClient.EndpointURL()
	artifactURL := url.URL{Scheme: endpoint.Scheme, Host: endpoint.Host, Path: path.Join(s.bucketName, objectName)}
	return artifactURL.String(), nil
}
