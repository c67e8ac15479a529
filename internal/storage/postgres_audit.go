package storage

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/safety-core/internal/models"
)

// AuditLog records dispatch outcomes and deviation alerts for later review.
// Writes are best-effort; callers log and continue on error.
type AuditLog interface {
	SaveDispatch(userID, message string, out models.DispatchOutcome) error
	SaveDeviation(userID string, a models.DeviationAlert) error
}

type PostgresAudit struct {
	db *sql.DB
}

func NewPostgresAudit(dsn string) (*PostgresAudit, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresAudit{db: db}, nil
}

func (p *PostgresAudit) SaveDispatch(userID, message string, out models.DispatchOutcome) error {
	_, err := p.db.Exec(`INSERT INTO dispatch_audit(user_id, message, call_initiated, sms_initiated, live_share_url, created_at) VALUES($1,$2,$3,$4,$5,$6)`,
		userID, message, out.CallInitiated, out.SMSInitiated, out.LiveShareURL, time.Now())
	return err
}

func (p *PostgresAudit) SaveDeviation(userID string, a models.DeviationAlert) error {
	_, err := p.db.Exec(`INSERT INTO deviation_audit(user_id, distance_m, escalated, occurred_at) VALUES($1,$2,$3,$4)`,
		userID, a.DistanceMeters, a.Escalated, a.At)
	return err
}

func (p *PostgresAudit) Close() error { return p.db.Close() }
