package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Store persists validation records to PostgreSQL
type Store struct {
	db *sql.DB
}

// NewStore opens a connection pool and verifies connectivity
func NewStore(connStr string) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// InitSchema creates the validations table if it does not exist. Production
// deployments run proper migrations; this backs local and test setups.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS validations (
		id UUID PRIMARY KEY,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),

		consumer VARCHAR(64),
		flow VARCHAR(64),

		decision VARCHAR(8) NOT NULL CHECK (decision IN ('allow', 'warn', 'block')),
		risk_score DOUBLE PRECISION NOT NULL,
		block_reason VARCHAR(64),
		valid SMALLINT NOT NULL,

		email_local_part VARCHAR(64),
		domain VARCHAR(255),
		tld VARCHAR(32),

		fingerprint_hash VARCHAR(64),

		pattern_family VARCHAR(128),
		pattern_confidence DOUBLE PRECISION,

		entropy DOUBLE PRECISION,
		bigram_entropy DOUBLE PRECISION,
		tld_risk DOUBLE PRECISION,
		domain_reputation DOUBLE PRECISION,
		disposable SMALLINT,

		h_legit_2 DOUBLE PRECISION,
		h_fraud_2 DOUBLE PRECISION,
		h_legit_3 DOUBLE PRECISION,
		h_fraud_3 DOUBLE PRECISION,
		ensemble_reason VARCHAR(32),

		min_entropy DOUBLE PRECISION,
		abnormality_score DOUBLE PRECISION,
		abnormality_risk DOUBLE PRECISION,
		ood_zone VARCHAR(8),

		calibration_version VARCHAR(64),
		model_version VARCHAR(64),

		experiment_id VARCHAR(64),
		experiment_variant VARCHAR(64),
		experiment_bucket INTEGER,

		client_ip VARCHAR(45),
		user_agent TEXT,
		asn INTEGER,
		country VARCHAR(2),
		region VARCHAR(64),
		city VARCHAR(64),
		colo VARCHAR(8),
		latitude NUMERIC(9,6),
		longitude NUMERIC(9,6),

		tls_ja4 VARCHAR(64),
		bot_score DOUBLE PRECISION,
		trust_score DOUBLE PRECISION,
		verified_bot SMALLINT,

		latency_ms DOUBLE PRECISION
	);

	CREATE INDEX IF NOT EXISTS idx_validations_created_at ON validations(created_at);
	CREATE INDEX IF NOT EXISTS idx_validations_decision ON validations(decision);
	CREATE INDEX IF NOT EXISTS idx_validations_fingerprint ON validations(fingerprint_hash);
	CREATE INDEX IF NOT EXISTS idx_validations_domain ON validations(domain);
	CREATE INDEX IF NOT EXISTS idx_validations_experiment ON validations(experiment_id);
	CREATE INDEX IF NOT EXISTS idx_validations_ood_zone ON validations(ood_zone);
	CREATE INDEX IF NOT EXISTS idx_validations_consumer_flow ON validations(consumer, flow);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Insert writes one validation row
func (s *Store) Insert(ctx context.Context, r *Record) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO validations (
			id, created_at, consumer, flow,
			decision, risk_score, block_reason, valid,
			email_local_part, domain, tld, fingerprint_hash,
			pattern_family, pattern_confidence,
			entropy, bigram_entropy, tld_risk, domain_reputation, disposable,
			h_legit_2, h_fraud_2, h_legit_3, h_fraud_3, ensemble_reason,
			min_entropy, abnormality_score, abnormality_risk, ood_zone,
			calibration_version, model_version,
			experiment_id, experiment_variant, experiment_bucket,
			client_ip, user_agent, asn, country, region, city, colo, latitude, longitude,
			tls_ja4, bot_score, trust_score, verified_bot,
			latency_ms
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14,
			$15, $16, $17, $18, $19,
			$20, $21, $22, $23, $24,
			$25, $26, $27, $28,
			$29, $30,
			$31, $32, $33,
			$34, $35, $36, $37, $38, $39, $40, $41, $42,
			$43, $44, $45, $46,
			$47
		)`,
		r.ID, r.CreatedAt, nullStr(r.Consumer), nullStr(r.Flow),
		r.Decision, r.RiskScore, nullStr(r.BlockReason), boolBit(&r.Valid),
		nullStr(r.EmailLocalPart), nullStr(r.Domain), nullStr(r.TLD), nullStr(r.FingerprintHash),
		nullStr(r.PatternFamily), nullFloat(r.PatternConfidence),
		nullFloat(r.Entropy), nullFloat(r.BigramEntropy), nullFloat(r.TLDRisk), nullFloat(r.DomainReputation), nullBit(r.Disposable),
		nullFloat(r.HLegit2), nullFloat(r.HFraud2), nullFloat(r.HLegit3), nullFloat(r.HFraud3), nullStr(r.EnsembleReason),
		nullFloat(r.MinEntropy), nullFloat(r.AbnormalityScore), nullFloat(r.AbnormalityRisk), nullStr(r.OODZone),
		nullStr(r.CalibrationVersion), nullStr(r.ModelVersion),
		nullStr(r.ExperimentID), nullStr(r.ExperimentVariant), nullInt(r.ExperimentBucket),
		nullStr(r.ClientIP), nullStr(r.UserAgent), nullInt(r.ASN), nullStr(r.Country), nullStr(r.Region), nullStr(r.City), nullStr(r.Colo), nullFloat(r.Latitude), nullFloat(r.Longitude),
		nullStr(r.TLSJA4), nullFloat(r.BotScore), nullFloat(r.TrustScore), nullBit(r.VerifiedBot),
		r.LatencyMs,
	)
	if err != nil {
		return fmt.Errorf("insert validation %s: %w", r.ID, err)
	}
	return nil
}

// CountSince reports rows newer than a cutoff, used by health checks and
// offline tooling.
func (s *Store) CountSince(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM validations WHERE created_at >= $1`, cutoff,
	).Scan(&count)
	return count, err
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

// boolBit maps a known boolean to its 0/1 column value
func boolBit(b *bool) int {
	if b != nil && *b {
		return 1
	}
	return 0
}

// nullBit maps an optional boolean to 0/1 or NULL
func nullBit(b *bool) sql.NullInt64 {
	if b == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(boolBit(b)), Valid: true}
}
