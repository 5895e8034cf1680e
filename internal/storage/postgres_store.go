package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/example/ambulance-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveRequest(ctx context.Context, r *models.AmbulanceRequest) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO ambulance_requests(id, patient_name, address, emergency_type, city, status, claimed_by, created_at, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,NULLIF($7,''),$8,$9)`,
		r.ID, r.PatientName, r.Address, r.EmergencyType, r.City, string(r.Status), r.ClaimedBy, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*models.AmbulanceRequest, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, patient_name, address, emergency_type, city, status, COALESCE(claimed_by,''), created_at, updated_at
		 FROM ambulance_requests WHERE id=$1`, id)
	var r models.AmbulanceRequest
	var status string
	err := row.Scan(&r.ID, &r.PatientName, &r.Address, &r.EmergencyType, &r.City, &status, &r.ClaimedBy, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Status = models.RequestStatus(status)
	return &r, nil
}

// ClaimRequest is the single atomic check-and-set the whole resolver hangs
// on: the WHERE clause guards the open status, so of N racing accepts only
// one UPDATE can report an affected row.
func (p *PostgresStore) ClaimRequest(ctx context.Context, id, driverID string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE ambulance_requests SET status='claimed', claimed_by=$1, updated_at=$2
		 WHERE id=$3 AND status='open'`,
		driverID, time.Now(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresStore) TransitionRequest(ctx context.Context, id string, from, to models.RequestStatus) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE ambulance_requests SET status=$1, updated_at=$2 WHERE id=$3 AND status=$4`,
		string(to), time.Now(), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresStore) UpsertDriver(ctx context.Context, d *models.Driver) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO drivers(id, city, license_number, online, active_request_ids, updated)
		 VALUES($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (id) DO UPDATE SET city=$2, license_number=$3, online=$4, updated=$6`,
		d.ID, d.City, d.LicenseNumber, d.Online, pq.Array(d.ActiveRequestIDs), time.Now())
	return err
}

func (p *PostgresStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, city, license_number, online, active_request_ids, updated FROM drivers WHERE id=$1`, id)
	var d models.Driver
	err := row.Scan(&d.ID, &d.City, &d.LicenseNumber, &d.Online, pq.Array(&d.ActiveRequestIDs), &d.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (p *PostgresStore) SetDriverOnline(ctx context.Context, id string, online bool) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE drivers SET online=$1, updated=$2 WHERE id=$3`, online, time.Now(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListOnlineByCity(ctx context.Context, city string) ([]models.Driver, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, city, license_number, online, active_request_ids, updated FROM drivers WHERE city=$1 AND online`, city)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Driver, 0)
	for rows.Next() {
		var d models.Driver
		if err := rows.Scan(&d.ID, &d.City, &d.LicenseNumber, &d.Online, pq.Array(&d.ActiveRequestIDs), &d.Updated); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) AddActiveRequest(ctx context.Context, driverID, requestID string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE drivers SET active_request_ids = array_append(active_request_ids, $1), updated=$2
		 WHERE id=$3 AND NOT ($1 = ANY(active_request_ids))`,
		requestID, time.Now(), driverID)
	return err
}
